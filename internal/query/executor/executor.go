// Package executor interprets execution plans against the catalog and the
// storage layer. It owns the open-table cache and the per-table locking
// discipline: statements that read take the table lock shared, statements
// that mutate take it exclusive.
package executor

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/quiverdb/quiver/internal/catalog"
	"github.com/quiverdb/quiver/internal/config"
	qerrors "github.com/quiverdb/quiver/internal/errors"
	"github.com/quiverdb/quiver/internal/index"
	"github.com/quiverdb/quiver/internal/ingest"
	"github.com/quiverdb/quiver/internal/query/parser"
	"github.com/quiverdb/quiver/pkg/types"
)

// Result is the outcome of one statement. Selects fill Schema and Records;
// mutations fill Affected.
type Result struct {
	Schema   types.Schema
	Records  [][]types.Value
	Affected int
}

// Executor runs statements. Safe for concurrent use.
type Executor struct {
	cfg *config.Config
	cat *catalog.Catalog

	mu     sync.Mutex // guards tables
	tables map[string]*table
}

// New creates an executor over an open catalog.
func New(cfg *config.Config, cat *catalog.Catalog) *Executor {
	return &Executor{cfg: cfg, cat: cat, tables: make(map[string]*table)}
}

// Close closes every cached table handle.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var first error
	for name, t := range e.tables {
		if err := t.close(); err != nil && first == nil {
			first = err
		}
		delete(e.tables, name)
	}
	return first
}

// Execute runs one statement and returns its result.
func (e *Executor) Execute(ctx context.Context, stmt parser.Statement) (*Result, error) {
	switch s := stmt.(type) {
	case *parser.CreateTableStatement:
		return e.createTable(ctx, s)
	case *parser.CreateTableFromFileStatement:
		return e.createTableFromFile(ctx, s)
	case *parser.SelectStatement:
		return e.selectFrom(ctx, s)
	case *parser.InsertStatement:
		return e.insert(ctx, s)
	case *parser.UpdateStatement:
		return e.update(ctx, s)
	case *parser.DeleteStatement:
		return e.deleteFrom(ctx, s)
	case *parser.DropTableStatement:
		return e.dropTable(ctx, s)
	default:
		return nil, qerrors.NewUnsupportedError(qerrors.CodeUnsupportedOp,
			fmt.Sprintf("statement %T is not executable", stmt))
	}
}

// handle returns the cached open table, opening it on first use. An unusable
// table is refused until it is rebuilt from source data.
func (e *Executor) handle(ctx context.Context, name string) (*table, error) {
	key := strings.ToLower(name)

	e.mu.Lock()
	if t, ok := e.tables[key]; ok {
		e.mu.Unlock()
		return t, nil
	}
	e.mu.Unlock()

	meta, err := e.cat.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if !meta.Usable {
		return nil, qerrors.New(qerrors.ErrCategoryStorage, qerrors.CodeTableUnusable,
			fmt.Sprintf("table %q is marked unusable after a storage failure", meta.Name))
	}

	t, err := openTable(e.cfg, meta)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.tables[key]; ok {
		t.close()
		return existing, nil
	}
	e.tables[key] = t
	return t, nil
}

// evict removes the cached handle and closes it, waiting for in-flight
// statements on the table to drain first. Files stay on disk.
func (e *Executor) evict(name string) {
	key := strings.ToLower(name)
	e.mu.Lock()
	t, ok := e.tables[key]
	delete(e.tables, key)
	e.mu.Unlock()
	if !ok {
		return
	}
	t.mu.Lock()
	t.closed = true
	t.close()
	t.mu.Unlock()
}

// quarantine marks the table unusable after a storage-integrity failure and
// evicts its handle, then returns the original error. Callers must not hold
// the table lock; eviction waits for it.
func (e *Executor) quarantine(ctx context.Context, name string, err error) error {
	if qerrors.IsCategory(err, qerrors.ErrCategoryStorage) {
		log.Printf("Marking table %q unusable: %v", name, err)
		e.cat.MarkUnusable(ctx, name)
		e.evict(name)
	}
	return err
}

func (e *Executor) createTable(ctx context.Context, stmt *parser.CreateTableStatement) (*Result, error) {
	fields := make([]types.Field, len(stmt.Fields))
	for i, fd := range stmt.Fields {
		fields[i] = types.Field{
			Name:  fd.Name,
			Kind:  fd.Kind,
			Size:  fd.Size,
			Key:   fd.Key,
			Index: fd.Index,
		}
	}
	schema := types.Schema{Fields: fields}
	if err := schema.Validate(); err != nil {
		return nil, qerrors.NewSchemaError(qerrors.CodeInvalidSchema, err.Error())
	}

	// The key field's annotation picks the primary structure; an
	// unannotated key defaults to a B+ tree.
	keyField, _, _ := schema.KeyField()
	kind := keyField.Index
	if kind == types.IndexNone {
		kind = types.IndexBTree
	}

	meta, err := e.cat.CreateTable(ctx, stmt.Table, schema, kind)
	if err != nil {
		return nil, err
	}

	// Materialize the files eagerly so a created table survives a restart
	// even before its first insert.
	t, err := openTable(e.cfg, meta)
	if err != nil {
		e.cat.Drop(ctx, stmt.Table)
		return nil, err
	}
	if err := t.flushIndexes(); err != nil {
		t.close()
		t.removeFiles(e.cfg.TableDir())
		e.cat.Drop(ctx, stmt.Table)
		return nil, err
	}

	e.mu.Lock()
	e.tables[strings.ToLower(stmt.Table)] = t
	e.mu.Unlock()

	return &Result{Affected: 1}, nil
}

func (e *Executor) createTableFromFile(ctx context.Context, stmt *parser.CreateTableFromFileStatement) (*Result, error) {
	header, rows, err := ingest.ReadCSV(stmt.Path)
	if err != nil {
		return nil, err
	}
	schema, err := ingest.InferSchema(header, rows, stmt.KeyField)
	if err != nil {
		return nil, err
	}

	// Annotate the inferred schema: the declared kind on the key field,
	// an R-tree on the first inferred coordinate column.
	for i := range schema.Fields {
		if schema.Fields[i].Key {
			schema.Fields[i].Index = stmt.Index
		}
	}
	for i := range schema.Fields {
		if schema.Fields[i].Kind == types.KindPoint && !schema.Fields[i].Key {
			schema.Fields[i].Index = types.IndexRTree
			break
		}
	}
	if err := schema.Validate(); err != nil {
		return nil, qerrors.NewSchemaError(qerrors.CodeInvalidSchema, err.Error())
	}

	meta, err := e.cat.CreateTable(ctx, stmt.Table, schema, stmt.Index)
	if err != nil {
		return nil, err
	}
	t, err := openTable(e.cfg, meta)
	if err != nil {
		e.cat.Drop(ctx, stmt.Table)
		return nil, err
	}

	// A row that cannot be loaded aborts the whole import so a partial
	// table is never left behind.
	abort := func(cause error) (*Result, error) {
		t.close()
		t.removeFiles(e.cfg.TableDir())
		e.cat.Drop(ctx, stmt.Table)
		return nil, cause
	}

	_, spatialIdx, hasSpatial := schema.SpatialField()
	for _, row := range rows {
		values, err := ingest.CoerceRow(schema, row)
		if err != nil {
			return abort(err)
		}
		key := t.codec.Key(values)
		if _, err := t.primary.Search(key); err == nil {
			return abort(qerrors.NewDuplicateKeyError(key.String()))
		} else if !qerrors.IsNotFound(err) {
			return abort(err)
		}
		pos, err := t.heap.Allocate(values)
		if err != nil {
			return abort(err)
		}
		if err := t.primary.Insert(key, pos); err != nil {
			return abort(err)
		}
		if hasSpatial {
			t.spatial.Insert(values[spatialIdx].Point, pos)
		}
	}
	if err := t.flushIndexes(); err != nil {
		return abort(err)
	}

	e.mu.Lock()
	e.tables[strings.ToLower(stmt.Table)] = t
	e.mu.Unlock()

	return &Result{Affected: len(rows)}, nil
}

func (e *Executor) selectFrom(ctx context.Context, stmt *parser.SelectStatement) (*Result, error) {
	t, err := e.handle(ctx, stmt.Table)
	if err != nil {
		return nil, err
	}
	res, err := t.runSelect(stmt)
	if err != nil {
		return nil, e.quarantine(ctx, stmt.Table, err)
	}
	return res, nil
}

// runSelect answers one SELECT under the shared table lock.
func (t *table) runSelect(stmt *parser.SelectStatement) (*Result, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.usable(); err != nil {
		return nil, err
	}

	if stmt.Where == nil {
		records, err := t.scanAll()
		if err != nil {
			return nil, err
		}
		return &Result{Schema: t.meta.Schema, Records: records}, nil
	}

	pred, err := t.resolvePredicate(stmt.Where)
	if err != nil {
		return nil, err
	}

	var records [][]types.Value
	switch {
	case pred.kind == parser.PredEquality && pred.isKey:
		pos, err := t.primary.Search(pred.value)
		if qerrors.IsNotFound(err) {
			break
		}
		if err != nil {
			return nil, err
		}
		values, err := t.heap.Read(pos)
		if err != nil {
			return nil, err
		}
		records = append(records, values)

	case pred.kind == parser.PredRange && pred.isKey:
		rs, ok := t.primary.(index.RangeSearcher)
		if !ok {
			return nil, qerrors.NewUnsupportedError(qerrors.CodeNoRangeSupport,
				fmt.Sprintf("%s index does not answer range queries", t.primary.Kind()))
		}
		entries, err := rs.RangeSearch(pred.lo, pred.hi)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			values, err := t.heap.Read(entry.Pos)
			if err != nil {
				return nil, err
			}
			records = append(records, values)
		}

	case pred.kind == parser.PredSpatial:
		positions := t.spatial.RadiusSearch(pred.center, pred.radius)
		sort.Slice(positions, func(i, j int) bool { return positions[i] < positions[j] })
		for _, pos := range positions {
			values, err := t.heap.Read(pos)
			if err != nil {
				return nil, err
			}
			records = append(records, values)
		}

	default:
		// Non-key equality and range fall back to a filtered scan.
		matches, err := t.findMatches(pred)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			records = append(records, m.values)
		}
	}

	return &Result{Schema: t.meta.Schema, Records: records}, nil
}

func (e *Executor) insert(ctx context.Context, stmt *parser.InsertStatement) (*Result, error) {
	t, err := e.handle(ctx, stmt.Table)
	if err != nil {
		return nil, err
	}
	values, err := coerceRecord(t.meta.Schema, stmt.Values)
	if err != nil {
		return nil, err
	}
	res, err := t.runInsert(values)
	if err != nil {
		return nil, e.quarantine(ctx, stmt.Table, err)
	}
	return res, nil
}

// runInsert adds one record under the exclusive table lock.
func (t *table) runInsert(values []types.Value) (*Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.usable(); err != nil {
		return nil, err
	}

	// Duplicate check precedes allocation so a rejected insert leaves the
	// data file byte-for-byte unchanged.
	key := t.codec.Key(values)
	if _, err := t.primary.Search(key); err == nil {
		return nil, qerrors.NewDuplicateKeyError(key.String())
	} else if !qerrors.IsNotFound(err) {
		return nil, err
	}

	pos, err := t.heap.Allocate(values)
	if err != nil {
		return nil, err
	}
	if err := t.primary.Insert(key, pos); err != nil {
		t.heap.Free(pos)
		return nil, err
	}
	if _, spatialIdx, ok := t.meta.Schema.SpatialField(); ok {
		t.spatial.Insert(values[spatialIdx].Point, pos)
	}
	if err := t.flushIndexes(); err != nil {
		return nil, err
	}
	return &Result{Affected: 1}, nil
}

func (e *Executor) update(ctx context.Context, stmt *parser.UpdateStatement) (*Result, error) {
	t, err := e.handle(ctx, stmt.Table)
	if err != nil {
		return nil, err
	}
	pred, err := t.resolvePredicate(stmt.Where)
	if err != nil {
		return nil, err
	}

	_, keyIdx, _ := t.meta.Schema.KeyField()
	sets := make([]resolvedSet, len(stmt.Sets))
	for i, a := range stmt.Sets {
		fieldIdx := t.meta.Schema.FieldIndex(a.Field)
		if fieldIdx < 0 {
			return nil, qerrors.NewSchemaError(qerrors.CodeUnknownField,
				fmt.Sprintf("table %q has no field %q", t.meta.Name, a.Field))
		}
		if fieldIdx == keyIdx {
			return nil, qerrors.NewUnsupportedError(qerrors.CodeUnsupportedOp,
				fmt.Sprintf("key field %q cannot be updated; delete and reinsert instead", a.Field))
		}
		value, err := coerceValue(t.meta.Schema.Fields[fieldIdx], a.Value)
		if err != nil {
			return nil, err
		}
		sets[i] = resolvedSet{fieldIdx: fieldIdx, value: value}
	}

	res, err := t.runUpdate(pred, sets)
	if err != nil {
		return nil, e.quarantine(ctx, stmt.Table, err)
	}
	return res, nil
}

// runUpdate rewrites matching records under the exclusive table lock.
func (t *table) runUpdate(pred *resolvedPredicate, sets []resolvedSet) (*Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.usable(); err != nil {
		return nil, err
	}

	matches, err := t.findMatches(pred)
	if err != nil {
		return nil, err
	}

	_, spatialIdx, hasSpatial := t.meta.Schema.SpatialField()
	for _, m := range matches {
		updated := make([]types.Value, len(m.values))
		copy(updated, m.values)
		for _, s := range sets {
			updated[s.fieldIdx] = s.value
		}
		if err := t.heap.Write(m.pos, updated); err != nil {
			return nil, err
		}
		if hasSpatial && m.values[spatialIdx].Point != updated[spatialIdx].Point {
			if err := t.spatial.Delete(m.values[spatialIdx].Point, m.pos); err != nil {
				return nil, err
			}
			t.spatial.Insert(updated[spatialIdx].Point, m.pos)
		}
	}
	if len(matches) > 0 {
		if err := t.flushIndexes(); err != nil {
			return nil, err
		}
	}
	return &Result{Affected: len(matches)}, nil
}

func (e *Executor) deleteFrom(ctx context.Context, stmt *parser.DeleteStatement) (*Result, error) {
	t, err := e.handle(ctx, stmt.Table)
	if err != nil {
		return nil, err
	}
	pred, err := t.resolvePredicate(stmt.Where)
	if err != nil {
		return nil, err
	}
	res, err := t.runDelete(pred)
	if err != nil {
		return nil, e.quarantine(ctx, stmt.Table, err)
	}
	return res, nil
}

// runDelete removes matching records under the exclusive table lock.
func (t *table) runDelete(pred *resolvedPredicate) (*Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.usable(); err != nil {
		return nil, err
	}

	matches, err := t.findMatches(pred)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 && pred.kind == parser.PredEquality && pred.isKey {
		return nil, qerrors.NewNotFoundError(pred.value.String())
	}

	_, spatialIdx, hasSpatial := t.meta.Schema.SpatialField()
	for _, m := range matches {
		// Index entries go first so a crash mid-delete leaves a dangling
		// record, not a dangling position.
		if err := t.primary.Delete(t.codec.Key(m.values)); err != nil {
			return nil, err
		}
		if hasSpatial {
			if err := t.spatial.Delete(m.values[spatialIdx].Point, m.pos); err != nil {
				return nil, err
			}
		}
		if err := t.heap.Free(m.pos); err != nil {
			return nil, err
		}
	}
	if len(matches) > 0 {
		if err := t.flushIndexes(); err != nil {
			return nil, err
		}
	}
	return &Result{Affected: len(matches)}, nil
}

func (e *Executor) dropTable(ctx context.Context, stmt *parser.DropTableStatement) (*Result, error) {
	meta, err := e.cat.Get(ctx, stmt.Table)
	if err != nil {
		return nil, err
	}

	key := strings.ToLower(stmt.Table)
	e.mu.Lock()
	t, cached := e.tables[key]
	delete(e.tables, key)
	e.mu.Unlock()

	if err := e.cat.Drop(ctx, stmt.Table); err != nil {
		if cached {
			t.mu.Lock()
			t.closed = true
			t.close()
			t.mu.Unlock()
		}
		return nil, err
	}

	dir := e.cfg.TableDir()
	if !cached {
		(&table{meta: meta}).removeFiles(dir)
		return &Result{Affected: 1}, nil
	}

	// Closing and unlinking wait for in-flight statements on the handle to
	// drain, so a concurrent SELECT never sees its heap vanish mid-read.
	t.mu.Lock()
	t.closed = true
	t.close()
	t.removeFiles(dir)
	t.mu.Unlock()
	return &Result{Affected: 1}, nil
}

// coerceRecord converts positional literals into schema-typed values.
func coerceRecord(schema types.Schema, literals []types.Value) ([]types.Value, error) {
	if len(literals) != len(schema.Fields) {
		return nil, qerrors.NewSchemaError(qerrors.CodeTypeMismatch,
			fmt.Sprintf("expected %d values, got %d", len(schema.Fields), len(literals)))
	}
	values := make([]types.Value, len(literals))
	for i, f := range schema.Fields {
		v, err := coerceValue(f, literals[i])
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// coerceValue adapts one parsed literal to the field's kind. Integer literals
// promote to FLOAT, quoted strings parse as DATE where the field asks for
// one; anything else must match exactly.
func coerceValue(f types.Field, v types.Value) (types.Value, error) {
	switch f.Kind {
	case types.KindInt:
		if v.Kind == types.KindInt {
			return v, nil
		}
	case types.KindFloat:
		if v.Kind == types.KindFloat {
			return v, nil
		}
		if v.Kind == types.KindInt {
			return types.NewFloat(float64(v.Int)), nil
		}
	case types.KindDate:
		if v.Kind == types.KindDate {
			return v, nil
		}
		if v.Kind == types.KindVarchar {
			d, err := types.ParseDate(v.Str)
			if err != nil {
				return types.Value{}, qerrors.NewSchemaError(qerrors.CodeTypeMismatch,
					fmt.Sprintf("field %q: %q is not a DATE", f.Name, v.Str))
			}
			return d, nil
		}
	case types.KindVarchar:
		if v.Kind == types.KindVarchar {
			if len(v.Str) > f.Size {
				return types.Value{}, qerrors.NewSchemaError(qerrors.CodeTypeMismatch,
					fmt.Sprintf("field %q: value %q exceeds VARCHAR[%d]", f.Name, v.Str, f.Size))
			}
			return v, nil
		}
	case types.KindPoint:
		if v.Kind == types.KindPoint {
			return v, nil
		}
	}
	return types.Value{}, qerrors.NewSchemaError(qerrors.CodeTypeMismatch,
		fmt.Sprintf("field %q expects %s, got %s", f.Name, f.Kind, v.Kind))
}
