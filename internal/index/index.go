// Package index defines the capability interfaces shared by the five index
// structures and the persistence helper for their on-disk images.
//
// The kinds form a closed set dispatched by table metadata: every kind maps
// key values to record positions, ordered kinds additionally answer range
// queries, and the R-tree answers spatial queries. Capability mismatches are
// routed to explicit unsupported-operation errors by the executor, never
// discovered via reflection.
package index

import (
	"github.com/quiverdb/quiver/pkg/types"
)

// Entry is one key-to-position mapping.
type Entry struct {
	Key types.Value `json:"key"`
	Pos int64       `json:"pos"`
}

// Index is the operation set every primary index kind supports.
type Index interface {
	// Kind names the structure.
	Kind() types.IndexKind

	// Insert adds a key/position pair. Inserting an existing key fails
	// with a duplicate-key error and leaves the structure unchanged.
	Insert(key types.Value, pos int64) error

	// Search returns the position for key, or a not-found error.
	Search(key types.Value) (int64, error)

	// Update relocates the position for an existing key, or fails with a
	// not-found error. Records are fixed-width and rewritten in place, so
	// statement execution never moves one; Update is the contract for any
	// caller that does relocate a record between slots.
	Update(key types.Value, pos int64) error

	// Delete removes the entry for key, or fails with a not-found error.
	Delete(key types.Value) error

	// Len returns the number of live entries.
	Len() int

	// Flush persists the structure's image to disk.
	Flush() error
}

// RangeSearcher is implemented by the ordered kinds (B+ tree, ISAM,
// sequential file).
type RangeSearcher interface {
	// RangeSearch returns every live entry with lo <= key <= hi in
	// ascending key order.
	RangeSearch(lo, hi types.Value) ([]Entry, error)
}

// Loader rebuilds an index from a snapshot of the data file, used when the
// persisted image is missing or unreadable.
type Loader interface {
	// Bulk replaces the structure's contents with the given entries.
	Bulk(entries []Entry) error
}
