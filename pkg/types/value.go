// Package types defines the field kinds, typed values, and schemas shared by
// the Quiver storage layer, parser, and executor.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies a field's primitive type. The kind fixes the field's width
// in the binary record layout.
type Kind uint8

const (
	KindInt     Kind = iota // 4-byte signed integer
	KindFloat               // 8-byte IEEE 754 double
	KindVarchar             // fixed-width byte string, NUL padded
	KindDate                // 4-byte days since the Unix epoch
	KindPoint               // two 8-byte doubles (spatial coordinate pair)
)

// String returns the SQL spelling of the kind.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "INT"
	case KindFloat:
		return "FLOAT"
	case KindVarchar:
		return "VARCHAR"
	case KindDate:
		return "DATE"
	case KindPoint:
		return "ARRAY[FLOAT]"
	default:
		return "UNKNOWN"
	}
}

// Comparable reports whether values of this kind have a total order usable
// as an index key.
func (k Kind) Comparable() bool {
	return k != KindPoint
}

// Width returns the number of bytes a value of this kind occupies in a
// record slot. Varchar width is the declared size, supplied by the caller.
func (k Kind) Width(size int) int {
	switch k {
	case KindInt, KindDate:
		return 4
	case KindFloat:
		return 8
	case KindVarchar:
		return size
	case KindPoint:
		return 16
	default:
		return 0
	}
}

// Point is a two-dimensional coordinate stored by spatial fields.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Value is a single typed field value. Exactly one of the payload fields is
// meaningful, selected by Kind; keeping them as plain struct fields lets
// values round-trip through JSON index images without type loss.
type Value struct {
	Kind  Kind    `json:"kind"`
	Int   int32   `json:"int,omitempty"`
	Float float64 `json:"float,omitempty"`
	Str   string  `json:"str,omitempty"`
	Point Point   `json:"point,omitempty"`
}

// NewInt returns an INT value.
func NewInt(v int32) Value { return Value{Kind: KindInt, Int: v} }

// NewFloat returns a FLOAT value.
func NewFloat(v float64) Value { return Value{Kind: KindFloat, Float: v} }

// NewVarchar returns a VARCHAR value.
func NewVarchar(s string) Value { return Value{Kind: KindVarchar, Str: s} }

// NewDate returns a DATE value from days since the Unix epoch.
func NewDate(days int32) Value { return Value{Kind: KindDate, Int: days} }

// NewPoint returns a spatial coordinate value.
func NewPoint(x, y float64) Value { return Value{Kind: KindPoint, Point: Point{X: x, Y: y}} }

// ParseDate parses a "YYYY-MM-DD" literal into a DATE value.
func ParseDate(s string) (Value, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Value{}, fmt.Errorf("invalid date literal %q: %w", s, err)
	}
	return NewDate(int32(t.Unix() / 86400)), nil
}

// Compare orders two values of the same comparable kind. Values of different
// kinds order by kind id so that sorting mixed slices stays deterministic,
// but callers are expected to compare homogeneous keys only.
func Compare(a, b Value) int {
	if a.Kind != b.Kind {
		if a.Kind < b.Kind {
			return -1
		}
		return 1
	}
	switch a.Kind {
	case KindInt, KindDate:
		switch {
		case a.Int < b.Int:
			return -1
		case a.Int > b.Int:
			return 1
		}
		return 0
	case KindFloat:
		switch {
		case a.Float < b.Float:
			return -1
		case a.Float > b.Float:
			return 1
		}
		return 0
	case KindVarchar:
		return strings.Compare(a.Str, b.Str)
	default:
		return 0
	}
}

// Less reports whether a orders before b.
func Less(a, b Value) bool { return Compare(a, b) < 0 }

// Equal reports whether a and b hold the same value.
func Equal(a, b Value) bool { return Compare(a, b) == 0 }

// String renders the value for display and error messages.
func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case KindVarchar:
		return v.Str
	case KindDate:
		return time.Unix(int64(v.Int)*86400, 0).UTC().Format("2006-01-02")
	case KindPoint:
		return fmt.Sprintf("(%g, %g)", v.Point.X, v.Point.Y)
	default:
		return "?"
	}
}
