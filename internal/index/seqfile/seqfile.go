// Package seqfile implements the sequential file index: a key-sorted primary
// area with a sparse auxiliary index (one key per K entries) for binary block
// location, plus a single shared overflow area for new inserts. When the
// overflow area outgrows the configured fraction of the primary area the two
// are sort-merged into a fresh primary area and the sparse index regenerated.
package seqfile

import (
	"os"
	"sort"

	qerrors "github.com/quiverdb/quiver/internal/errors"
	"github.com/quiverdb/quiver/internal/index"
	"github.com/quiverdb/quiver/pkg/types"
)

type slot struct {
	Key  types.Value `json:"key"`
	Pos  int64       `json:"pos"`
	Dead bool        `json:"dead,omitempty"`
}

type image struct {
	SparseInterval int           `json:"sparse_interval"`
	ReorgFraction  float64       `json:"reorg_fraction"`
	Primary        []slot        `json:"primary"`
	Overflow       []slot        `json:"overflow"`
	Sparse         []types.Value `json:"sparse"`
}

// Seq is a sequential file index over one table's key field.
type Seq struct {
	path           string
	sparseInterval int
	reorgFraction  float64

	primary  []slot // sorted by key, tombstones in place
	overflow []slot // unsorted append area shared by all blocks
	sparse   []types.Value
}

// New creates an empty index.
func New(path string, sparseInterval int, reorgFraction float64) *Seq {
	return &Seq{path: path, sparseInterval: sparseInterval, reorgFraction: reorgFraction}
}

// Open loads the index image at path, or returns a fresh empty index when no
// image exists.
func Open(path string, sparseInterval int, reorgFraction float64) (*Seq, error) {
	var img image
	if err := index.LoadImage(path, &img); err != nil {
		if os.IsNotExist(err) {
			return New(path, sparseInterval, reorgFraction), nil
		}
		return nil, err
	}
	return &Seq{
		path:           path,
		sparseInterval: img.SparseInterval,
		reorgFraction:  img.ReorgFraction,
		primary:        img.Primary,
		overflow:       img.Overflow,
		sparse:         img.Sparse,
	}, nil
}

// Kind names the structure.
func (s *Seq) Kind() types.IndexKind { return types.IndexSequential }

// Flush persists the primary area, overflow area and sparse index.
func (s *Seq) Flush() error {
	return index.SaveImage(s.path, image{
		SparseInterval: s.sparseInterval,
		ReorgFraction:  s.reorgFraction,
		Primary:        s.primary,
		Overflow:       s.overflow,
		Sparse:         s.sparse,
	})
}

// blockBounds binary-searches the sparse index for the primary block that
// could hold key.
func (s *Seq) blockBounds(key types.Value) (int, int) {
	if len(s.sparse) == 0 {
		return 0, len(s.primary)
	}
	i := sort.Search(len(s.sparse), func(i int) bool {
		return types.Compare(s.sparse[i], key) > 0
	})
	if i > 0 {
		i--
	}
	start := i * s.sparseInterval
	end := start + s.sparseInterval
	if end > len(s.primary) {
		end = len(s.primary)
	}
	return start, end
}

func (s *Seq) findLive(key types.Value) ([]slot, int) {
	start, end := s.blockBounds(key)
	for i := start; i < end; i++ {
		if !s.primary[i].Dead && types.Equal(s.primary[i].Key, key) {
			return s.primary, i
		}
	}
	for i, e := range s.overflow {
		if !e.Dead && types.Equal(e.Key, key) {
			return s.overflow, i
		}
	}
	return nil, -1
}

// Search returns the position for key: a sparse-index block scan first, then
// a linear pass over the overflow area.
func (s *Seq) Search(key types.Value) (int64, error) {
	if area, i := s.findLive(key); area != nil {
		return area[i].Pos, nil
	}
	return 0, qerrors.NewNotFoundError(key.String())
}

// Insert appends key -> pos to the overflow area, reorganizing afterward if
// the overflow outgrew its configured fraction of the primary area.
func (s *Seq) Insert(key types.Value, pos int64) error {
	if area, _ := s.findLive(key); area != nil {
		return qerrors.NewDuplicateKeyError(key.String())
	}
	s.overflow = append(s.overflow, slot{Key: key, Pos: pos})
	s.maybeReorganize()
	return nil
}

// Update relocates the position for an existing key.
func (s *Seq) Update(key types.Value, pos int64) error {
	if area, i := s.findLive(key); area != nil {
		area[i].Pos = pos
		return nil
	}
	return qerrors.NewNotFoundError(key.String())
}

// Delete tombstones the entry for key; the next reorganization purges it.
func (s *Seq) Delete(key types.Value) error {
	if area, i := s.findLive(key); area != nil {
		area[i].Dead = true
		return nil
	}
	return qerrors.NewNotFoundError(key.String())
}

// Len returns the number of live entries.
func (s *Seq) Len() int {
	n := 0
	for _, e := range s.primary {
		if !e.Dead {
			n++
		}
	}
	for _, e := range s.overflow {
		if !e.Dead {
			n++
		}
	}
	return n
}

// RangeSearch scans the primary area from the block containing lo plus the
// whole overflow area, merged in ascending key order.
func (s *Seq) RangeSearch(lo, hi types.Value) ([]index.Entry, error) {
	if types.Compare(lo, hi) > 0 {
		return nil, nil
	}
	var fromPrimary []index.Entry
	start, _ := s.blockBounds(lo)
	for i := start; i < len(s.primary); i++ {
		e := s.primary[i]
		if types.Compare(e.Key, hi) > 0 {
			break
		}
		if e.Dead || types.Compare(e.Key, lo) < 0 {
			continue
		}
		fromPrimary = append(fromPrimary, index.Entry{Key: e.Key, Pos: e.Pos})
	}
	var fromOverflow []index.Entry
	for _, e := range s.overflow {
		if e.Dead || types.Compare(e.Key, lo) < 0 || types.Compare(e.Key, hi) > 0 {
			continue
		}
		fromOverflow = append(fromOverflow, index.Entry{Key: e.Key, Pos: e.Pos})
	}
	sort.Slice(fromOverflow, func(i, j int) bool {
		return types.Less(fromOverflow[i].Key, fromOverflow[j].Key)
	})

	out := make([]index.Entry, 0, len(fromPrimary)+len(fromOverflow))
	i, j := 0, 0
	for i < len(fromPrimary) && j < len(fromOverflow) {
		if types.Less(fromPrimary[i].Key, fromOverflow[j].Key) {
			out = append(out, fromPrimary[i])
			i++
		} else {
			out = append(out, fromOverflow[j])
			j++
		}
	}
	out = append(out, fromPrimary[i:]...)
	out = append(out, fromOverflow[j:]...)
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// maybeReorganize merges overflow into the primary area once the overflow
// live count exceeds the configured fraction of the primary live count. An
// empty primary area reorganizes after one sparse interval's worth of
// entries.
func (s *Seq) maybeReorganize() {
	primaryLive, overflowLive := 0, 0
	for _, e := range s.primary {
		if !e.Dead {
			primaryLive++
		}
	}
	for _, e := range s.overflow {
		if !e.Dead {
			overflowLive++
		}
	}
	if primaryLive == 0 {
		if overflowLive >= s.sparseInterval {
			s.reorganize()
		}
		return
	}
	if float64(overflowLive) > s.reorgFraction*float64(primaryLive) {
		s.reorganize()
	}
}

// reorganize sort-merges live entries into a fresh primary area, clears the
// overflow area and regenerates the sparse index.
func (s *Seq) reorganize() {
	var entries []index.Entry
	for _, e := range s.primary {
		if !e.Dead {
			entries = append(entries, index.Entry{Key: e.Key, Pos: e.Pos})
		}
	}
	for _, e := range s.overflow {
		if !e.Dead {
			entries = append(entries, index.Entry{Key: e.Key, Pos: e.Pos})
		}
	}
	s.load(entries)
}

func (s *Seq) load(entries []index.Entry) {
	sort.Slice(entries, func(i, j int) bool { return types.Less(entries[i].Key, entries[j].Key) })
	s.primary = make([]slot, len(entries))
	for i, e := range entries {
		s.primary[i] = slot{Key: e.Key, Pos: e.Pos}
	}
	s.overflow = nil
	s.sparse = nil
	for i := 0; i < len(s.primary); i += s.sparseInterval {
		s.sparse = append(s.sparse, s.primary[i].Key)
	}
}

// Bulk replaces the index contents, used at table creation and for
// rebuild-from-data-file.
func (s *Seq) Bulk(entries []index.Entry) error {
	s.load(append([]index.Entry(nil), entries...))
	return nil
}
