// Package observability tracks per-statement execution statistics and
// predicate frequency, used to report engine activity and to advise which
// index structure fits a workload.
package observability

import (
	"sort"
	"sync"
	"time"
)

// StatementStats aggregates executions of one statement kind.
type StatementStats struct {
	Kind          string
	Count         int64
	Rows          int64
	TotalDuration time.Duration
	MinDuration   time.Duration
	MaxDuration   time.Duration
	LastSeen      time.Time
}

// PredicateStats holds access frequency for one field.
type PredicateStats struct {
	Field     string
	Frequency int64
	LastSeen  time.Time
	Shapes    map[string]int // predicate shape → count (e.g. "=" → 5, "BETWEEN" → 2)
}

// QueryStats tracks statement and predicate frequency. All methods are
// thread-safe.
type QueryStats struct {
	mu         sync.RWMutex
	statements map[string]*StatementStats
	predicates map[string]*PredicateStats
	window     time.Duration
}

// NewQueryStats creates a tracker. window bounds how long an idle predicate
// entry survives Prune.
func NewQueryStats(window time.Duration) *QueryStats {
	return &QueryStats{
		statements: make(map[string]*StatementStats),
		predicates: make(map[string]*PredicateStats),
		window:     window,
	}
}

// RecordStatement records one execution of a statement kind.
func (q *QueryStats) RecordStatement(kind string, d time.Duration, rows int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats, ok := q.statements[kind]
	if !ok {
		stats = &StatementStats{Kind: kind, MinDuration: d, MaxDuration: d}
		q.statements[kind] = stats
	}
	stats.Count++
	stats.Rows += int64(rows)
	stats.TotalDuration += d
	if d < stats.MinDuration {
		stats.MinDuration = d
	}
	if d > stats.MaxDuration {
		stats.MaxDuration = d
	}
	stats.LastSeen = time.Now()
}

// RecordPredicate records a WHERE clause touching a field. shape is the
// predicate form: "=", "BETWEEN" or "IN".
func (q *QueryStats) RecordPredicate(field, shape string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats, ok := q.predicates[field]
	if !ok {
		stats = &PredicateStats{Field: field, Shapes: make(map[string]int)}
		q.predicates[field] = stats
	}
	stats.Frequency++
	stats.LastSeen = time.Now()
	stats.Shapes[shape]++
}

// Snapshot returns a copy of every statement entry, most frequent first.
func (q *QueryStats) Snapshot() []StatementStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]StatementStats, 0, len(q.statements))
	for _, s := range q.statements {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// TopPredicates returns the n most frequently filtered fields. Entries are
// deep copies so callers cannot disturb the live counters.
func (q *QueryStats) TopPredicates(n int) []PredicateStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if n <= 0 || len(q.predicates) == 0 {
		return []PredicateStats{}
	}
	out := make([]PredicateStats, 0, len(q.predicates))
	for _, s := range q.predicates {
		cp := PredicateStats{
			Field:     s.Field,
			Frequency: s.Frequency,
			LastSeen:  s.LastSeen,
			Shapes:    make(map[string]int, len(s.Shapes)),
		}
		for shape, count := range s.Shapes {
			cp.Shapes[shape] = count
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].Field < out[j].Field
	})
	if n > len(out) {
		n = len(out)
	}
	return out[:n]
}

// Prune removes predicate entries idle for longer than the window.
func (q *QueryStats) Prune() {
	q.mu.Lock()
	defer q.mu.Unlock()

	threshold := time.Now().Add(-q.window)
	for field, stats := range q.predicates {
		if stats.LastSeen.Before(threshold) {
			delete(q.predicates, field)
		}
	}
}
