package executor

import (
	"fmt"
	"math"
	"sort"

	qerrors "github.com/quiverdb/quiver/internal/errors"
	"github.com/quiverdb/quiver/internal/query/parser"
	"github.com/quiverdb/quiver/pkg/types"
)

// resolvedPredicate is a WHERE clause bound to a schema: the field name is
// replaced by its position and literals are coerced to the field's kind.
type resolvedPredicate struct {
	kind     parser.PredicateKind
	fieldIdx int
	isKey    bool

	value  types.Value
	lo, hi types.Value

	center types.Point
	radius float64
}

// resolvedSet is one UPDATE assignment bound to a schema.
type resolvedSet struct {
	fieldIdx int
	value    types.Value
}

// match is one record satisfying a predicate.
type match struct {
	pos    int64
	values []types.Value
}

// resolvePredicate binds a parsed predicate to the table's schema.
func (t *table) resolvePredicate(p *parser.Predicate) (*resolvedPredicate, error) {
	fieldIdx := t.meta.Schema.FieldIndex(p.Field)
	if fieldIdx < 0 {
		return nil, qerrors.NewSchemaError(qerrors.CodeUnknownField,
			fmt.Sprintf("table %q has no field %q", t.meta.Name, p.Field))
	}
	field := t.meta.Schema.Fields[fieldIdx]
	_, keyIdx, _ := t.meta.Schema.KeyField()

	r := &resolvedPredicate{kind: p.Kind, fieldIdx: fieldIdx, isKey: fieldIdx == keyIdx}
	switch p.Kind {
	case parser.PredEquality:
		v, err := coerceValue(field, p.Value)
		if err != nil {
			return nil, err
		}
		r.value = v
	case parser.PredRange:
		lo, err := coerceValue(field, p.Lo)
		if err != nil {
			return nil, err
		}
		hi, err := coerceValue(field, p.Hi)
		if err != nil {
			return nil, err
		}
		r.lo, r.hi = lo, hi
	case parser.PredSpatial:
		_, spatialIdx, ok := t.meta.Schema.SpatialField()
		if !ok || spatialIdx != fieldIdx {
			return nil, qerrors.NewUnsupportedError(qerrors.CodeNoSpatialSupport,
				fmt.Sprintf("field %q has no spatial index", p.Field))
		}
		r.center, r.radius = p.Center, p.Radius
	}
	return r, nil
}

// matches reports whether a record satisfies the predicate.
func (p *resolvedPredicate) matches(values []types.Value) bool {
	v := values[p.fieldIdx]
	switch p.kind {
	case parser.PredEquality:
		return types.Equal(v, p.value)
	case parser.PredRange:
		return types.Compare(v, p.lo) >= 0 && types.Compare(v, p.hi) <= 0
	case parser.PredSpatial:
		return math.Hypot(v.Point.X-p.center.X, v.Point.Y-p.center.Y) <= p.radius
	}
	return false
}

// findMatches returns every record satisfying the predicate in position
// order, going through an index where one applies. The caller holds the
// table lock.
func (t *table) findMatches(p *resolvedPredicate) ([]match, error) {
	switch {
	case p.kind == parser.PredEquality && p.isKey:
		pos, err := t.primary.Search(p.value)
		if qerrors.IsNotFound(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		values, err := t.heap.Read(pos)
		if err != nil {
			return nil, err
		}
		return []match{{pos: pos, values: values}}, nil

	case p.kind == parser.PredSpatial:
		positions := t.spatial.RadiusSearch(p.center, p.radius)
		sort.Slice(positions, func(i, j int) bool { return positions[i] < positions[j] })
		out := make([]match, 0, len(positions))
		for _, pos := range positions {
			values, err := t.heap.Read(pos)
			if err != nil {
				return nil, err
			}
			out = append(out, match{pos: pos, values: values})
		}
		return out, nil

	default:
		var out []match
		err := t.heap.Scan(func(pos int64, values []types.Value) error {
			if p.matches(values) {
				out = append(out, match{pos: pos, values: values})
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	}
}

// scanAll returns every live record in position order.
func (t *table) scanAll() ([][]types.Value, error) {
	var records [][]types.Value
	err := t.heap.Scan(func(pos int64, values []types.Value) error {
		records = append(records, values)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
