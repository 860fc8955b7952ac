package types

import (
	"fmt"
	"strings"
)

// IndexKind names one of the interchangeable index structures.
type IndexKind string

const (
	IndexNone       IndexKind = ""
	IndexBTree      IndexKind = "BTREE"
	IndexHash       IndexKind = "HASH"
	IndexISAM       IndexKind = "ISAM"
	IndexSequential IndexKind = "SEQUENTIAL"
	IndexRTree      IndexKind = "RTREE"
)

// ParseIndexKind normalizes an index-kind spelling from SQL. A few synonyms
// are accepted for compatibility with existing scripts.
func ParseIndexKind(s string) (IndexKind, bool) {
	switch strings.ToUpper(s) {
	case "BTREE", "BPLUS", "B+TREE":
		return IndexBTree, true
	case "HASH", "EXTENDIBLE":
		return IndexHash, true
	case "ISAM":
		return IndexISAM, true
	case "SEQUENTIAL", "SEQ":
		return IndexSequential, true
	case "RTREE", "R-TREE":
		return IndexRTree, true
	default:
		return IndexNone, false
	}
}

// Ordered reports whether the kind supports range queries.
func (k IndexKind) Ordered() bool {
	switch k {
	case IndexBTree, IndexISAM, IndexSequential:
		return true
	default:
		return false
	}
}

// Field describes one column of a table.
type Field struct {
	// Name is the column name
	Name string `json:"name"`

	// Kind is the primitive type
	Kind Kind `json:"kind"`

	// Size is the declared width for VARCHAR fields
	Size int `json:"size,omitempty"`

	// Key marks the table's key field (at most one per schema)
	Key bool `json:"key,omitempty"`

	// Index is the index kind annotated on this field, if any
	Index IndexKind `json:"index,omitempty"`
}

// Width returns the field's byte width in the record layout.
func (f Field) Width() int { return f.Kind.Width(f.Size) }

// Schema is the ordered field list of a table. Field order is fixed at table
// creation and determines both the binary layout and the positional meaning
// of record values.
type Schema struct {
	Fields []Field `json:"fields"`
}

// KeyField returns the designated key field and its position.
func (s Schema) KeyField() (Field, int, bool) {
	for i, f := range s.Fields {
		if f.Key {
			return f, i, true
		}
	}
	return Field{}, -1, false
}

// FieldIndex returns the position of the named field, or -1.
func (s Schema) FieldIndex(name string) int {
	for i, f := range s.Fields {
		if strings.EqualFold(f.Name, name) {
			return i
		}
	}
	return -1
}

// RecordWidth returns the packed byte width of one record.
func (s Schema) RecordWidth() int {
	w := 0
	for _, f := range s.Fields {
		w += f.Width()
	}
	return w
}

// Validate checks structural soundness: at least one field, unique names,
// exactly one key field of a comparable kind, positive varchar sizes, and
// spatial indexes only on point fields.
func (s Schema) Validate() error {
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema has no fields")
	}
	seen := make(map[string]bool, len(s.Fields))
	keys := 0
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("field with empty name")
		}
		lower := strings.ToLower(f.Name)
		if seen[lower] {
			return fmt.Errorf("duplicate field name %q", f.Name)
		}
		seen[lower] = true
		if f.Kind == KindVarchar && f.Size <= 0 {
			return fmt.Errorf("field %q: VARCHAR requires a positive size", f.Name)
		}
		if f.Key {
			keys++
			if !f.Kind.Comparable() {
				return fmt.Errorf("field %q: key field must be a comparable kind, got %s", f.Name, f.Kind)
			}
			if f.Index == IndexRTree {
				return fmt.Errorf("field %q: RTREE cannot index the key field", f.Name)
			}
		}
		if f.Index == IndexRTree && f.Kind != KindPoint {
			return fmt.Errorf("field %q: RTREE index requires an ARRAY[FLOAT] field", f.Name)
		}
		if f.Index != IndexNone && f.Index != IndexRTree && !f.Key {
			return fmt.Errorf("field %q: only the key field may carry a %s index", f.Name, f.Index)
		}
	}
	if keys != 1 {
		return fmt.Errorf("schema requires exactly one KEY field, got %d", keys)
	}
	return nil
}

// SpatialField returns the field carrying an R-Tree annotation, if any.
func (s Schema) SpatialField() (Field, int, bool) {
	for i, f := range s.Fields {
		if f.Index == IndexRTree {
			return f, i, true
		}
	}
	return Field{}, -1, false
}
