package types

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestCompareOrdering(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want int
	}{
		{"int less", NewInt(1), NewInt(2), -1},
		{"int greater", NewInt(5), NewInt(-3), 1},
		{"int equal", NewInt(7), NewInt(7), 0},
		{"float less", NewFloat(1.5), NewFloat(1.6), -1},
		{"float equal", NewFloat(2.0), NewFloat(2.0), 0},
		{"varchar less", NewVarchar("ana"), NewVarchar("bruno"), -1},
		{"varchar equal", NewVarchar("x"), NewVarchar("x"), 0},
		{"date less", NewDate(100), NewDate(200), -1},
		{"mixed kinds order by kind", NewInt(9), NewFloat(0.1), -1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Compare(tc.a, tc.b); got != tc.want {
				t.Fatalf("Compare(%v, %v) = %d, want %d", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	v, err := ParseDate("1970-01-01")
	if err != nil || v.Int != 0 {
		t.Fatalf("epoch = %v, %v", v, err)
	}
	v, err = ParseDate("2000-01-02")
	if err != nil || v.Int != 10958 {
		t.Fatalf("2000-01-02 = %v, %v", v, err)
	}
	if v.String() != "2000-01-02" {
		t.Fatalf("round trip = %q", v.String())
	}
	if _, err := ParseDate("02/01/2000"); err == nil {
		t.Fatal("expected error for non-ISO date")
	}
	if _, err := ParseDate("2000-13-01"); err == nil {
		t.Fatal("expected error for impossible month")
	}
}

func TestValueString(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{NewInt(-42), "-42"},
		{NewFloat(2.5), "2.5"},
		{NewVarchar("ana"), "ana"},
		{NewPoint(1.5, -2), "(1.5, -2)"},
	}
	for _, tc := range tests {
		if got := tc.v.String(); got != tc.want {
			t.Fatalf("String(%v) = %q, want %q", tc.v, got, tc.want)
		}
	}
}

func TestKindWidth(t *testing.T) {
	if KindInt.Width(0) != 4 || KindDate.Width(0) != 4 {
		t.Fatal("4-byte kinds")
	}
	if KindFloat.Width(0) != 8 || KindPoint.Width(0) != 16 {
		t.Fatal("8- and 16-byte kinds")
	}
	if KindVarchar.Width(12) != 12 {
		t.Fatal("varchar width is the declared size")
	}
}

func TestCompareProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("int comparison is antisymmetric", prop.ForAll(
		func(a, b int32) bool {
			return Compare(NewInt(a), NewInt(b)) == -Compare(NewInt(b), NewInt(a))
		},
		gen.Int32(), gen.Int32(),
	))

	properties.Property("varchar comparison agrees with equality", prop.ForAll(
		func(a, b string) bool {
			eq := Equal(NewVarchar(a), NewVarchar(b))
			return eq == (a == b)
		},
		gen.AnyString(), gen.AnyString(),
	))

	properties.TestingRun(t)
}
