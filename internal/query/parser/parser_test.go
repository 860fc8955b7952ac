package parser

import (
	"testing"

	qerrors "github.com/quiverdb/quiver/internal/errors"
	"github.com/quiverdb/quiver/pkg/types"
)

func mustParse(t *testing.T, input string) Statement {
	t.Helper()
	stmt, err := Parse(input)
	if err != nil {
		t.Fatalf("parse %q: %v", input, err)
	}
	return stmt
}

func TestParseCreateTable(t *testing.T) {
	stmt := mustParse(t, `CREATE TABLE people (
		id INT KEY INDEX BTREE,
		name VARCHAR[20],
		score FLOAT,
		born DATE,
		loc ARRAY[FLOAT] INDEX RTREE
	)`)
	create, ok := stmt.(*CreateTableStatement)
	if !ok {
		t.Fatalf("got %T", stmt)
	}
	if create.Table != "people" || len(create.Fields) != 5 {
		t.Fatalf("table=%s fields=%d", create.Table, len(create.Fields))
	}
	id := create.Fields[0]
	if !id.Key || id.Kind != types.KindInt || id.Index != types.IndexBTree {
		t.Fatalf("id field = %+v", id)
	}
	if create.Fields[1].Kind != types.KindVarchar || create.Fields[1].Size != 20 {
		t.Fatalf("name field = %+v", create.Fields[1])
	}
	if create.Fields[4].Kind != types.KindPoint || create.Fields[4].Index != types.IndexRTree {
		t.Fatalf("loc field = %+v", create.Fields[4])
	}
}

func TestParseCreateFromFile(t *testing.T) {
	stmt := mustParse(t, `CREATE TABLE people FROM FILE "data/people.csv" USING INDEX hash("id")`)
	create, ok := stmt.(*CreateTableFromFileStatement)
	if !ok {
		t.Fatalf("got %T", stmt)
	}
	if create.Path != "data/people.csv" || create.Index != types.IndexHash || create.KeyField != "id" {
		t.Fatalf("create = %+v", create)
	}
}

func TestParseSelectShapes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(t *testing.T, sel *SelectStatement)
	}{
		{"full scan", "SELECT * FROM people", func(t *testing.T, sel *SelectStatement) {
			if sel.Where != nil {
				t.Fatalf("unexpected predicate %+v", sel.Where)
			}
		}},
		{"equality", "SELECT * FROM people WHERE id = 42", func(t *testing.T, sel *SelectStatement) {
			w := sel.Where
			if w.Kind != PredEquality || w.Field != "id" || w.Value.Int != 42 {
				t.Fatalf("predicate = %+v", w)
			}
		}},
		{"string equality", `SELECT * FROM people WHERE name = 'ana'`, func(t *testing.T, sel *SelectStatement) {
			if sel.Where.Value.Str != "ana" {
				t.Fatalf("predicate = %+v", sel.Where)
			}
		}},
		{"range", "SELECT * FROM people WHERE id BETWEEN 10 AND 20", func(t *testing.T, sel *SelectStatement) {
			w := sel.Where
			if w.Kind != PredRange || w.Lo.Int != 10 || w.Hi.Int != 20 {
				t.Fatalf("predicate = %+v", w)
			}
		}},
		{"spatial", "SELECT * FROM people WHERE loc IN ((1.5, -2), 10)", func(t *testing.T, sel *SelectStatement) {
			w := sel.Where
			if w.Kind != PredSpatial || w.Center.X != 1.5 || w.Center.Y != -2 || w.Radius != 10 {
				t.Fatalf("predicate = %+v", w)
			}
		}},
		{"negative literal", "SELECT * FROM people WHERE id = -7", func(t *testing.T, sel *SelectStatement) {
			if sel.Where.Value.Int != -7 {
				t.Fatalf("predicate = %+v", sel.Where)
			}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sel, ok := mustParse(t, tc.input).(*SelectStatement)
			if !ok {
				t.Fatal("not a SELECT")
			}
			tc.check(t, sel)
		})
	}
}

func TestParseInsert(t *testing.T) {
	stmt := mustParse(t, `INSERT INTO people VALUES (1, 'ana', 3.5, "2000-01-02", (1.0, 2.0))`)
	ins, ok := stmt.(*InsertStatement)
	if !ok {
		t.Fatalf("got %T", stmt)
	}
	if len(ins.Values) != 5 {
		t.Fatalf("values = %v", ins.Values)
	}
	if ins.Values[0].Int != 1 || ins.Values[2].Float != 3.5 {
		t.Fatalf("values = %v", ins.Values)
	}
	if ins.Values[4].Kind != types.KindPoint || ins.Values[4].Point.Y != 2 {
		t.Fatalf("point value = %v", ins.Values[4])
	}
}

func TestParseUpdate(t *testing.T) {
	stmt := mustParse(t, `UPDATE people SET name = 'maria', score = 4.0 WHERE id = 3`)
	upd, ok := stmt.(*UpdateStatement)
	if !ok {
		t.Fatalf("got %T", stmt)
	}
	if len(upd.Sets) != 2 || upd.Sets[0].Field != "name" || upd.Sets[1].Value.Float != 4.0 {
		t.Fatalf("sets = %+v", upd.Sets)
	}
	if upd.Where.Kind != PredEquality || upd.Where.Value.Int != 3 {
		t.Fatalf("where = %+v", upd.Where)
	}
}

func TestParseDeleteAndDrop(t *testing.T) {
	del, ok := mustParse(t, "DELETE FROM people WHERE id = 9").(*DeleteStatement)
	if !ok || del.Where.Value.Int != 9 {
		t.Fatalf("delete = %+v", del)
	}
	drop, ok := mustParse(t, "DROP TABLE people").(*DropTableStatement)
	if !ok || drop.Table != "people" {
		t.Fatalf("drop = %+v", drop)
	}
}

func TestParseScriptMultipleStatements(t *testing.T) {
	stmts, err := ParseScript(`
		-- create then load
		CREATE TABLE t (id INT KEY, name VARCHAR[8]);
		INSERT INTO t VALUES (1, 'ana');
		/* read it back */
		SELECT * FROM t WHERE id = 1;
	`)
	if err != nil {
		t.Fatalf("parse script: %v", err)
	}
	if len(stmts) != 3 {
		t.Fatalf("got %d statements, want 3", len(stmts))
	}
	if _, ok := stmts[0].(*CreateTableStatement); !ok {
		t.Fatalf("stmts[0] = %T", stmts[0])
	}
	if _, ok := stmts[2].(*SelectStatement); !ok {
		t.Fatalf("stmts[2] = %T", stmts[2])
	}
}

func TestSyntaxErrorCarriesPosition(t *testing.T) {
	_, err := Parse("SELECT * FROM\nWHERE id = 1")
	if err == nil {
		t.Fatal("expected syntax error")
	}
	var qe *qerrors.QuiverError
	if !asQuiverError(err, &qe) {
		t.Fatalf("error type %T", err)
	}
	if qe.Category != qerrors.ErrCategorySyntax {
		t.Fatalf("category = %s", qe.Category)
	}
	if qe.Line != 2 || qe.Column != 1 {
		t.Fatalf("position = %d:%d, want 2:1", qe.Line, qe.Column)
	}
}

func TestSyntaxErrors(t *testing.T) {
	tests := []string{
		"SELECT FROM people",
		"SELECT * people",
		"CREATE people (id INT KEY)",
		"CREATE TABLE people (id BIGINT KEY)",
		"CREATE TABLE people (name VARCHAR)",
		"INSERT people VALUES (1)",
		"INSERT INTO people VALUES 1",
		"DELETE FROM people",
		"UPDATE people SET x = 1",
		"SELECT * FROM people WHERE loc IN (1, 2)",
		"SELECT * FROM people WHERE id BETWEEN 1",
		"SELECT * FROM people WHERE name = 'unterminated",
		"SELECT * FROM t; garbage",
	}
	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			if _, err := Parse(input); !qerrors.IsCategory(err, qerrors.ErrCategorySyntax) {
				t.Fatalf("expected syntax error for %q, got %v", input, err)
			}
		})
	}
}

func asQuiverError(err error, target **qerrors.QuiverError) bool {
	qe, ok := err.(*qerrors.QuiverError)
	if ok {
		*target = qe
	}
	return ok
}
