// Package ingest reads external row-oriented sources for CREATE ... FROM
// FILE: a header row naming the fields, then one line per record. Field
// kinds are inferred from the data; a row that cannot be coerced to the
// inferred schema aborts the whole import so partial tables are never left
// behind.
package ingest

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	qerrors "github.com/quiverdb/quiver/internal/errors"
	"github.com/quiverdb/quiver/pkg/types"
)

// ReadCSV reads path and returns the header row and data rows. Every row
// must have the same number of fields as the header.
func ReadCSV(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, qerrors.NewStorageError(qerrors.CodeUnexpected,
			fmt.Sprintf("open source file %s", path), err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	all, err := r.ReadAll()
	if err != nil {
		return nil, nil, qerrors.NewStorageError(qerrors.CodeUnexpected,
			fmt.Sprintf("read source file %s", path), err)
	}
	if len(all) == 0 {
		return nil, nil, qerrors.NewSchemaError(qerrors.CodeInvalidSchema,
			fmt.Sprintf("source file %s has no header row", path))
	}
	header := all[0]
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	return header, all[1:], nil
}

func isInt(s string) bool {
	_, err := strconv.ParseInt(s, 10, 32)
	return err == nil
}

func isFloat(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func isDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

// isPoint recognizes "x;y" coordinate pairs.
func isPoint(s string) bool {
	parts := strings.Split(s, ";")
	if len(parts) != 2 {
		return false
	}
	return isFloat(strings.TrimSpace(parts[0])) && isFloat(strings.TrimSpace(parts[1]))
}

// InferSchema derives a field list from the header and data rows: a column
// where every value parses as an integer becomes INT, else FLOAT if numeric,
// DATE for "YYYY-MM-DD" values, a coordinate pair for "x;y" values, and
// VARCHAR sized to the longest value otherwise. keyField marks the KEY
// column and must name a header field.
func InferSchema(header []string, rows [][]string, keyField string) (types.Schema, error) {
	if len(header) == 0 {
		return types.Schema{}, qerrors.NewSchemaError(qerrors.CodeInvalidSchema, "empty header row")
	}
	fields := make([]types.Field, len(header))
	keySeen := false
	for col, name := range header {
		allInt, allFloat, allDate, allPoint := true, true, true, true
		maxLen := 1
		for _, row := range rows {
			if col >= len(row) {
				return types.Schema{}, qerrors.NewSchemaError(qerrors.CodeInvalidSchema,
					fmt.Sprintf("row has %d fields, header has %d", len(row), len(header)))
			}
			v := strings.TrimSpace(row[col])
			if !isInt(v) {
				allInt = false
			}
			if !isFloat(v) {
				allFloat = false
			}
			if !isDate(v) {
				allDate = false
			}
			if !isPoint(v) {
				allPoint = false
			}
			if len(v) > maxLen {
				maxLen = len(v)
			}
		}
		f := types.Field{Name: name}
		switch {
		case len(rows) == 0:
			f.Kind = types.KindVarchar
			f.Size = 32
		case allInt:
			f.Kind = types.KindInt
		case allFloat:
			f.Kind = types.KindFloat
		case allDate:
			f.Kind = types.KindDate
		case allPoint:
			f.Kind = types.KindPoint
		default:
			f.Kind = types.KindVarchar
			f.Size = maxLen
		}
		if strings.EqualFold(name, keyField) {
			f.Key = true
			keySeen = true
		}
		fields[col] = f
	}
	if !keySeen {
		return types.Schema{}, qerrors.NewSchemaError(qerrors.CodeMissingKey,
			fmt.Sprintf("key field %q not present in header", keyField))
	}
	return types.Schema{Fields: fields}, nil
}

// CoerceRow converts one raw row into typed values following the schema.
// Any value that does not parse as its field's kind is a type mismatch.
func CoerceRow(schema types.Schema, row []string) ([]types.Value, error) {
	if len(row) != len(schema.Fields) {
		return nil, qerrors.NewSchemaError(qerrors.CodeTypeMismatch,
			fmt.Sprintf("row has %d fields, schema has %d", len(row), len(schema.Fields)))
	}
	values := make([]types.Value, len(row))
	for i, f := range schema.Fields {
		raw := strings.TrimSpace(row[i])
		v, err := CoerceString(f, raw)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// CoerceString converts one raw string to a value of the field's kind.
func CoerceString(f types.Field, raw string) (types.Value, error) {
	switch f.Kind {
	case types.KindInt:
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return types.Value{}, qerrors.NewSchemaError(qerrors.CodeTypeMismatch,
				fmt.Sprintf("field %q: %q is not an INT", f.Name, raw))
		}
		return types.NewInt(int32(n)), nil
	case types.KindFloat:
		x, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return types.Value{}, qerrors.NewSchemaError(qerrors.CodeTypeMismatch,
				fmt.Sprintf("field %q: %q is not a FLOAT", f.Name, raw))
		}
		return types.NewFloat(x), nil
	case types.KindDate:
		v, err := types.ParseDate(raw)
		if err != nil {
			return types.Value{}, qerrors.NewSchemaError(qerrors.CodeTypeMismatch,
				fmt.Sprintf("field %q: %q is not a DATE", f.Name, raw))
		}
		return v, nil
	case types.KindPoint:
		parts := strings.Split(raw, ";")
		if len(parts) == 2 {
			x, errX := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
			y, errY := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
			if errX == nil && errY == nil {
				return types.NewPoint(x, y), nil
			}
		}
		return types.Value{}, qerrors.NewSchemaError(qerrors.CodeTypeMismatch,
			fmt.Sprintf("field %q: %q is not a coordinate pair", f.Name, raw))
	default:
		if len(raw) > f.Size {
			return types.Value{}, qerrors.NewSchemaError(qerrors.CodeTypeMismatch,
				fmt.Sprintf("field %q: value %q exceeds VARCHAR[%d]", f.Name, raw, f.Size))
		}
		return types.NewVarchar(raw), nil
	}
}
