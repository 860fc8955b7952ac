// Package engine wires the front-end and the storage layer into one
// embeddable database handle: SQL text in, records out.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/quiverdb/quiver/internal/catalog"
	"github.com/quiverdb/quiver/internal/config"
	"github.com/quiverdb/quiver/internal/observability"
	"github.com/quiverdb/quiver/internal/query/executor"
	"github.com/quiverdb/quiver/internal/query/parser"
	"github.com/quiverdb/quiver/pkg/types"
)

// statsWindow bounds how long an idle predicate entry is kept.
const statsWindow = time.Hour

// Engine is the embeddable database: catalog, executor and statistics behind
// a single handle. Safe for concurrent use.
type Engine struct {
	cfg   *config.Config
	cat   *catalog.Catalog
	exec  *executor.Executor
	stats *observability.QueryStats
}

// TableInfo summarizes one registered table for listings.
type TableInfo struct {
	Name      string
	IndexKind types.IndexKind
	Fields    []types.Field
	KeyField  string
	Usable    bool
}

// Open validates the configuration, creates the data directories and opens
// the catalog.
func Open(cfg *config.Config) (*Engine, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	cat, err := catalog.Open(cfg.CatalogPath())
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:   cfg,
		cat:   cat,
		exec:  executor.New(cfg, cat),
		stats: observability.NewQueryStats(statsWindow),
	}, nil
}

// Compile parses a script into statements without executing anything.
func (e *Engine) Compile(text string) ([]parser.Statement, error) {
	return parser.ParseScript(text)
}

// Execute runs one statement.
func (e *Engine) Execute(ctx context.Context, stmt parser.Statement) (*executor.Result, error) {
	start := time.Now()
	res, err := e.exec.Execute(ctx, stmt)
	rows := 0
	if res != nil {
		rows = len(res.Records)
	}
	e.record(stmt, time.Since(start), rows)
	return res, err
}

// ExecuteScript compiles and runs a script, stopping at the first failing
// statement. Results for the statements that ran are returned either way.
func (e *Engine) ExecuteScript(ctx context.Context, text string) ([]*executor.Result, error) {
	stmts, err := e.Compile(text)
	if err != nil {
		return nil, err
	}
	results := make([]*executor.Result, 0, len(stmts))
	for _, stmt := range stmts {
		res, err := e.Execute(ctx, stmt)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// ListTables returns a summary of every registered table in name order.
func (e *Engine) ListTables(ctx context.Context) ([]TableInfo, error) {
	metas, err := e.cat.List(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]TableInfo, 0, len(metas))
	for _, m := range metas {
		info := TableInfo{
			Name:      m.Name,
			IndexKind: m.IndexKind,
			Fields:    m.Schema.Fields,
			Usable:    m.Usable,
		}
		if kf, _, ok := m.Schema.KeyField(); ok {
			info.KeyField = kf.Name
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Stats returns per-statement execution counters, most frequent first.
func (e *Engine) Stats() []observability.StatementStats {
	return e.stats.Snapshot()
}

// TopPredicates returns the most frequently filtered fields.
func (e *Engine) TopPredicates(n int) []observability.PredicateStats {
	return e.stats.TopPredicates(n)
}

// Close closes the executor's table handles and the catalog.
func (e *Engine) Close() error {
	execErr := e.exec.Close()
	catErr := e.cat.Close()
	if execErr != nil {
		return execErr
	}
	return catErr
}

func (e *Engine) record(stmt parser.Statement, d time.Duration, rows int) {
	e.stats.RecordStatement(statementKind(stmt), d, rows)
	if where := statementPredicate(stmt); where != nil {
		e.stats.RecordPredicate(where.Field, predicateShape(where.Kind))
	}
}

func statementKind(stmt parser.Statement) string {
	switch stmt.(type) {
	case *parser.CreateTableStatement, *parser.CreateTableFromFileStatement:
		return "CREATE"
	case *parser.SelectStatement:
		return "SELECT"
	case *parser.InsertStatement:
		return "INSERT"
	case *parser.UpdateStatement:
		return "UPDATE"
	case *parser.DeleteStatement:
		return "DELETE"
	case *parser.DropTableStatement:
		return "DROP"
	default:
		return "OTHER"
	}
}

func statementPredicate(stmt parser.Statement) *parser.Predicate {
	switch s := stmt.(type) {
	case *parser.SelectStatement:
		return s.Where
	case *parser.UpdateStatement:
		return s.Where
	case *parser.DeleteStatement:
		return s.Where
	default:
		return nil
	}
}

func predicateShape(kind parser.PredicateKind) string {
	switch kind {
	case parser.PredRange:
		return "BETWEEN"
	case parser.PredSpatial:
		return "IN"
	default:
		return "="
	}
}
