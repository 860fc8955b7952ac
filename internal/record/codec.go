// Package record implements the fixed-layout binary codec for table records.
// A record packs one value per schema field at a precomputed offset, so every
// record of a table occupies exactly the same number of bytes.
package record

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	qerrors "github.com/quiverdb/quiver/internal/errors"
	"github.com/quiverdb/quiver/pkg/types"
)

// Codec encodes and decodes records for one schema.
type Codec struct {
	schema  types.Schema
	offsets []int
	size    int
}

// NewCodec builds a codec from a validated schema.
func NewCodec(schema types.Schema) (*Codec, error) {
	if err := schema.Validate(); err != nil {
		return nil, qerrors.NewSchemaError(qerrors.CodeInvalidSchema, err.Error())
	}
	c := &Codec{schema: schema, offsets: make([]int, len(schema.Fields))}
	off := 0
	for i, f := range schema.Fields {
		c.offsets[i] = off
		off += f.Width()
	}
	c.size = off
	return c, nil
}

// Schema returns the codec's schema.
func (c *Codec) Schema() types.Schema { return c.schema }

// Size returns the packed byte width of one record.
func (c *Codec) Size() int { return c.size }

// Encode packs values into a fresh buffer. The value slice must match the
// schema positionally in length and kind.
func (c *Codec) Encode(values []types.Value) ([]byte, error) {
	if len(values) != len(c.schema.Fields) {
		return nil, qerrors.NewSchemaError(qerrors.CodeTypeMismatch,
			fmt.Sprintf("expected %d values, got %d", len(c.schema.Fields), len(values)))
	}
	buf := make([]byte, c.size)
	for i, f := range c.schema.Fields {
		v := values[i]
		if v.Kind != f.Kind {
			return nil, qerrors.NewSchemaError(qerrors.CodeTypeMismatch,
				fmt.Sprintf("field %q expects %s, got %s", f.Name, f.Kind, v.Kind))
		}
		off := c.offsets[i]
		switch f.Kind {
		case types.KindInt, types.KindDate:
			binary.LittleEndian.PutUint32(buf[off:], uint32(v.Int))
		case types.KindFloat:
			binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(v.Float))
		case types.KindVarchar:
			if len(v.Str) > f.Size {
				return nil, qerrors.NewSchemaError(qerrors.CodeTypeMismatch,
					fmt.Sprintf("field %q: value %q exceeds VARCHAR[%d]", f.Name, v.Str, f.Size))
			}
			copy(buf[off:off+f.Size], v.Str)
		case types.KindPoint:
			binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(v.Point.X))
			binary.LittleEndian.PutUint64(buf[off+8:], math.Float64bits(v.Point.Y))
		}
	}
	return buf, nil
}

// Decode unpacks a record buffer produced by Encode.
func (c *Codec) Decode(buf []byte) ([]types.Value, error) {
	if len(buf) != c.size {
		return nil, qerrors.NewStorageError(qerrors.CodeCorruptImage,
			fmt.Sprintf("record buffer is %d bytes, want %d", len(buf), c.size), nil)
	}
	values := make([]types.Value, len(c.schema.Fields))
	for i, f := range c.schema.Fields {
		off := c.offsets[i]
		switch f.Kind {
		case types.KindInt:
			values[i] = types.NewInt(int32(binary.LittleEndian.Uint32(buf[off:])))
		case types.KindDate:
			values[i] = types.NewDate(int32(binary.LittleEndian.Uint32(buf[off:])))
		case types.KindFloat:
			values[i] = types.NewFloat(math.Float64frombits(binary.LittleEndian.Uint64(buf[off:])))
		case types.KindVarchar:
			raw := buf[off : off+f.Size]
			if n := bytes.IndexByte(raw, 0); n >= 0 {
				raw = raw[:n]
			}
			values[i] = types.NewVarchar(string(raw))
		case types.KindPoint:
			values[i] = types.NewPoint(
				math.Float64frombits(binary.LittleEndian.Uint64(buf[off:])),
				math.Float64frombits(binary.LittleEndian.Uint64(buf[off+8:])),
			)
		}
	}
	return values, nil
}

// Key extracts the key-field value from a decoded record.
func (c *Codec) Key(values []types.Value) types.Value {
	_, idx, _ := c.schema.KeyField()
	return values[idx]
}
