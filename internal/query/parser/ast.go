package parser

import (
	"github.com/quiverdb/quiver/pkg/types"
)

// Statement is an execution plan node: pure data, produced by the parser and
// interpreted by the executor.
type Statement interface {
	stmt()
}

// FieldDef is one column declaration in CREATE TABLE.
type FieldDef struct {
	Name  string
	Kind  types.Kind
	Size  int // VARCHAR width
	Key   bool
	Index types.IndexKind
}

// CreateTableStatement declares a table with an inline field list.
type CreateTableStatement struct {
	Table  string
	Fields []FieldDef
}

// CreateTableFromFileStatement creates a table by importing an external
// tabular file, inferring the schema from its contents.
type CreateTableFromFileStatement struct {
	Table    string
	Path     string
	Index    types.IndexKind
	KeyField string
}

// PredicateKind classifies a WHERE clause shape.
type PredicateKind int

const (
	// PredEquality is `field = literal`.
	PredEquality PredicateKind = iota
	// PredRange is `field BETWEEN lo AND hi`.
	PredRange
	// PredSpatial is `field IN ((x, y), radius)`.
	PredSpatial
)

// Predicate is a parsed WHERE clause. Literals stay as parsed values; the
// executor coerces them to the target field's kind.
type Predicate struct {
	Kind  PredicateKind
	Field string

	// Equality
	Value types.Value

	// Range
	Lo, Hi types.Value

	// Spatial
	Center types.Point
	Radius float64
}

// SelectStatement reads records, optionally filtered by a predicate. A nil
// Where means a full scan.
type SelectStatement struct {
	Table string
	Where *Predicate
}

// InsertStatement adds one record with positional values.
type InsertStatement struct {
	Table  string
	Values []types.Value
}

// Assignment is one `field = literal` pair in UPDATE ... SET.
type Assignment struct {
	Field string
	Value types.Value
}

// UpdateStatement rewrites fields of the records matching the predicate.
type UpdateStatement struct {
	Table string
	Sets  []Assignment
	Where *Predicate
}

// DeleteStatement removes the records matching the predicate.
type DeleteStatement struct {
	Table string
	Where *Predicate
}

// DropTableStatement unregisters a table and removes its files.
type DropTableStatement struct {
	Table string
}

func (*CreateTableStatement) stmt()         {}
func (*CreateTableFromFileStatement) stmt() {}
func (*SelectStatement) stmt()              {}
func (*InsertStatement) stmt()              {}
func (*UpdateStatement) stmt()              {}
func (*DeleteStatement) stmt()              {}
func (*DropTableStatement) stmt()           {}
