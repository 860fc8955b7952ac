// Package catalog manages table metadata in catalog.db: table names, their
// schemas, the chosen index kind and a stable id that names the table's
// on-disk files. The schema is stored as JSON; everything the engine needs
// to reopen a table flows from this one row.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	qerrors "github.com/quiverdb/quiver/internal/errors"
	"github.com/quiverdb/quiver/pkg/types"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS tables (
	table_id    TEXT PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE COLLATE NOCASE,
	schema_json TEXT NOT NULL,
	index_kind  TEXT NOT NULL,
	usable      INTEGER NOT NULL DEFAULT 1,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tables_name ON tables(name);
`

// TableMeta is one catalog row.
type TableMeta struct {
	ID        string
	Name      string
	Schema    types.Schema
	IndexKind types.IndexKind
	Usable    bool
	CreatedAt time.Time
}

// DataPath returns the table's heap file path under tableDir.
func (m *TableMeta) DataPath(tableDir string) string {
	return filepath.Join(tableDir, m.ID+".dat")
}

// IndexPath returns the table's primary index image path under tableDir.
func (m *TableMeta) IndexPath(tableDir string) string {
	return filepath.Join(tableDir, fmt.Sprintf("%s.%s.idx", m.ID, strings.ToLower(string(m.IndexKind))))
}

// SpatialPath returns the table's R-tree image path under tableDir.
func (m *TableMeta) SpatialPath(tableDir string) string {
	return filepath.Join(tableDir, m.ID+".rtree.idx")
}

// Catalog is the SQLite-backed table registry.
type Catalog struct {
	db     *sql.DB // write connection, single writer
	readDB *sql.DB // read connection pool
	dbPath string
	mu     sync.Mutex // serializes writes

	insertStmt *sql.Stmt
	getStmt    *sql.Stmt
}

// Open opens or creates the catalog database at dbPath.
func Open(dbPath string) (*Catalog, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, qerrors.NewStorageError(qerrors.CodeUnexpected, "open catalog database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		db.Close()
		return nil, qerrors.NewStorageError(qerrors.CodeUnexpected, "open catalog read connection", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	c := &Catalog{db: db, readDB: readDB, dbPath: dbPath}

	if _, err := db.Exec(schemaSQL); err != nil {
		c.closeAll()
		return nil, qerrors.NewStorageError(qerrors.CodeUnexpected, "initialize catalog schema", err)
	}

	c.insertStmt, err = db.Prepare(`
		INSERT INTO tables (table_id, name, schema_json, index_kind, usable, created_at)
		VALUES (?, ?, ?, ?, 1, ?)`)
	if err != nil {
		c.closeAll()
		return nil, qerrors.NewStorageError(qerrors.CodeUnexpected, "prepare catalog insert", err)
	}
	c.getStmt, err = readDB.Prepare(`
		SELECT table_id, name, schema_json, index_kind, usable, created_at
		FROM tables WHERE name = ? COLLATE NOCASE`)
	if err != nil {
		c.closeAll()
		return nil, qerrors.NewStorageError(qerrors.CodeUnexpected, "prepare catalog lookup", err)
	}

	return c, nil
}

func (c *Catalog) closeAll() {
	if c.insertStmt != nil {
		c.insertStmt.Close()
	}
	if c.getStmt != nil {
		c.getStmt.Close()
	}
	c.readDB.Close()
	c.db.Close()
}

// CreateTable registers a new table. The schema must already be validated;
// an existing name is a schema error.
func (c *Catalog) CreateTable(ctx context.Context, name string, schema types.Schema, kind types.IndexKind) (*TableMeta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.lookup(ctx, name); err == nil {
		return nil, qerrors.NewSchemaError(qerrors.CodeTableExists,
			fmt.Sprintf("table %q already exists", name))
	} else if qerrors.GetCode(err) != qerrors.CodeUnknownTable {
		return nil, err
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, qerrors.NewInternalError("marshal table schema", err)
	}

	meta := &TableMeta{
		ID:        uuid.New().String(),
		Name:      name,
		Schema:    schema,
		IndexKind: kind,
		Usable:    true,
		CreatedAt: time.Now(),
	}
	_, err = c.insertStmt.ExecContext(ctx,
		meta.ID, meta.Name, string(schemaJSON), string(kind), meta.CreatedAt.Unix())
	if err != nil {
		return nil, qerrors.NewStorageError(qerrors.CodeUnexpected, "insert catalog row", err)
	}
	return meta, nil
}

func (c *Catalog) lookup(ctx context.Context, name string) (*TableMeta, error) {
	row := c.getStmt.QueryRowContext(ctx, name)
	return scanMeta(row.Scan, name)
}

type scanFunc func(dest ...any) error

func scanMeta(scan scanFunc, name string) (*TableMeta, error) {
	var meta TableMeta
	var schemaJSON, kind string
	var usable int
	var createdAtUnix int64

	err := scan(&meta.ID, &meta.Name, &schemaJSON, &kind, &usable, &createdAtUnix)
	if err == sql.ErrNoRows {
		return nil, qerrors.NewSchemaError(qerrors.CodeUnknownTable,
			fmt.Sprintf("unknown table %q", name))
	}
	if err != nil {
		return nil, qerrors.NewStorageError(qerrors.CodeUnexpected, "scan catalog row", err)
	}
	if err := json.Unmarshal([]byte(schemaJSON), &meta.Schema); err != nil {
		return nil, qerrors.NewStorageError(qerrors.CodeCorruptImage,
			fmt.Sprintf("decode schema for table %q", meta.Name), err)
	}
	meta.IndexKind = types.IndexKind(kind)
	meta.Usable = usable != 0
	meta.CreatedAt = time.Unix(createdAtUnix, 0)
	return &meta, nil
}

// Get returns the metadata for a table by name, case-insensitively.
func (c *Catalog) Get(ctx context.Context, name string) (*TableMeta, error) {
	return c.lookup(ctx, name)
}

// List returns every registered table in name order.
func (c *Catalog) List(ctx context.Context) ([]*TableMeta, error) {
	rows, err := c.readDB.QueryContext(ctx, `
		SELECT table_id, name, schema_json, index_kind, usable, created_at
		FROM tables ORDER BY name`)
	if err != nil {
		return nil, qerrors.NewStorageError(qerrors.CodeUnexpected, "query catalog", err)
	}
	defer rows.Close()

	var metas []*TableMeta
	for rows.Next() {
		meta, err := scanMeta(rows.Scan, "")
		if err != nil {
			return nil, err
		}
		metas = append(metas, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, qerrors.NewStorageError(qerrors.CodeUnexpected, "iterate catalog rows", err)
	}
	return metas, nil
}

// Drop removes a table's catalog row. The caller removes the files.
func (c *Catalog) Drop(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	result, err := c.db.ExecContext(ctx, "DELETE FROM tables WHERE name = ? COLLATE NOCASE", name)
	if err != nil {
		return qerrors.NewStorageError(qerrors.CodeUnexpected, "delete catalog row", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return qerrors.NewSchemaError(qerrors.CodeUnknownTable,
			fmt.Sprintf("unknown table %q", name))
	}
	return nil
}

// MarkUnusable flags a table after a storage-integrity failure. The table
// stays registered so the operator can see it, but the executor refuses to
// touch it until it is rebuilt from source data.
func (c *Catalog) MarkUnusable(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	result, err := c.db.ExecContext(ctx,
		"UPDATE tables SET usable = 0 WHERE name = ? COLLATE NOCASE", name)
	if err != nil {
		return qerrors.NewStorageError(qerrors.CodeUnexpected, "update catalog row", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return qerrors.NewSchemaError(qerrors.CodeUnknownTable,
			fmt.Sprintf("unknown table %q", name))
	}
	return nil
}

// Close closes both database connections.
func (c *Catalog) Close() error {
	if c.insertStmt != nil {
		c.insertStmt.Close()
	}
	if c.getStmt != nil {
		c.getStmt.Close()
	}
	if err := c.readDB.Close(); err != nil {
		c.db.Close()
		return err
	}
	return c.db.Close()
}
