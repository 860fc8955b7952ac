// Package isam implements the indexed-sequential index: a static sorted
// primary area split into fixed-size blocks, addressed through two index
// levels (a single top page over pages of first-block keys). The index levels
// are never restructured online; inserts land on a per-block overflow chain
// and deletes tombstone their entry. When a table's overflow grows past the
// configured ratio of the primary area the whole structure is rebuilt from
// the live-entry snapshot.
package isam

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
	BlockFactor  int           `json:"block_factor"`
	RebuildRatio float64       `json:"rebuild_ratio"`
	Primary      []slot        `json:"primary"`
	Overflow     [][]slot      `json:"overflow"`
	Level1       []types.Value `json:"level1"`
	Level2       []types.Value `json:"level2"`
}

// Isam is an ISAM index over one table's key field.
type Isam struct {
	path         string
	blockFactor  int
	rebuildRatio float64

	primary  []slot   // sorted by key, tombstones in place
	overflow [][]slot // one chain per primary block
	level1   []types.Value
	level2   []types.Value
}

// New creates an empty index with a single empty block.
func New(path string, blockFactor int, rebuildRatio float64) *Isam {
	return &Isam{
		path:         path,
		blockFactor:  blockFactor,
		rebuildRatio: rebuildRatio,
		overflow:     make([][]slot, 1),
	}
}

// Open loads the index image at path, or returns a fresh empty index when no
// image exists.
func Open(path string, blockFactor int, rebuildRatio float64) (*Isam, error) {
	var img image
	if err := index.LoadImage(path, &img); err != nil {
		if os.IsNotExist(err) {
			return New(path, blockFactor, rebuildRatio), nil
		}
		return nil, err
	}
	s := &Isam{
		path:         path,
		blockFactor:  img.BlockFactor,
		rebuildRatio: img.RebuildRatio,
		primary:      img.Primary,
		overflow:     img.Overflow,
		level1:       img.Level1,
		level2:       img.Level2,
	}
	if len(s.overflow) == 0 {
		s.overflow = make([][]slot, 1)
	}
	return s, nil
}

// Kind names the structure.
func (s *Isam) Kind() types.IndexKind { return types.IndexISAM }

// Flush persists the index levels, primary area and overflow chains.
func (s *Isam) Flush() error {
	return index.SaveImage(s.path, image{
		BlockFactor:  s.blockFactor,
		RebuildRatio: s.rebuildRatio,
		Primary:      s.primary,
		Overflow:     s.overflow,
		Level1:       s.level1,
		Level2:       s.level2,
	})
}

// lastLE returns the index of the last key <= target, or 0 when every key is
// greater (keys below the first block still route to block zero).
func lastLE(keys []types.Value, target types.Value) int {
	i := sort.Search(len(keys), func(i int) bool {
		return types.Compare(keys[i], target) > 0
	})
	if i == 0 {
		return 0
	}
	return i - 1
}

// blockOf descends the two index levels to the primary block for key.
func (s *Isam) blockOf(key types.Value) int {
	if len(s.level2) == 0 {
		return 0
	}
	page := lastLE(s.level1, key)
	start := page * s.blockFactor
	end := start + s.blockFactor
	if end > len(s.level2) {
		end = len(s.level2)
	}
	return start + lastLE(s.level2[start:end], key)
}

func (s *Isam) blockBounds(b int) (int, int) {
	start := b * s.blockFactor
	end := start + s.blockFactor
	if end > len(s.primary) {
		end = len(s.primary)
	}
	return start, end
}

// findLive locates the live entry for key in its block or overflow chain.
// The returned slice is the one holding the entry.
func (s *Isam) findLive(key types.Value) ([]slot, int) {
	b := s.blockOf(key)
	start, end := s.blockBounds(b)
	for i := start; i < end; i++ {
		if !s.primary[i].Dead && types.Equal(s.primary[i].Key, key) {
			return s.primary, i
		}
	}
	if b < len(s.overflow) {
		for i, e := range s.overflow[b] {
			if !e.Dead && types.Equal(e.Key, key) {
				return s.overflow[b], i
			}
		}
	}
	return nil, -1
}

// Search returns the position for key.
func (s *Isam) Search(key types.Value) (int64, error) {
	if chain, i := s.findLive(key); chain != nil {
		return chain[i].Pos, nil
	}
	return 0, qerrors.NewNotFoundError(key.String())
}

// Insert appends key -> pos to the target block's overflow chain; the static
// index levels are never touched. A rebuild runs afterward when the overflow
// ratio crosses the configured threshold.
func (s *Isam) Insert(key types.Value, pos int64) error {
	if chain, _ := s.findLive(key); chain != nil {
		return qerrors.NewDuplicateKeyError(key.String())
	}
	b := s.blockOf(key)
	s.overflow[b] = append(s.overflow[b], slot{Key: key, Pos: pos})
	s.maybeRebuild()
	return nil
}

// Update relocates the position for an existing key.
func (s *Isam) Update(key types.Value, pos int64) error {
	if chain, i := s.findLive(key); chain != nil {
		chain[i].Pos = pos
		return nil
	}
	return qerrors.NewNotFoundError(key.String())
}

// Delete tombstones the entry for key. Physical removal happens at the next
// rebuild.
func (s *Isam) Delete(key types.Value) error {
	if chain, i := s.findLive(key); chain != nil {
		chain[i].Dead = true
		return nil
	}
	return qerrors.NewNotFoundError(key.String())
}

// Len returns the number of live entries.
func (s *Isam) Len() int {
	n := 0
	for _, e := range s.primary {
		if !e.Dead {
			n++
		}
	}
	for _, chain := range s.overflow {
		for _, e := range chain {
			if !e.Dead {
				n++
			}
		}
	}
	return n
}

// RangeSearch walks primary blocks in key order from the block containing lo,
// merging each block with its overflow chain.
func (s *Isam) RangeSearch(lo, hi types.Value) ([]index.Entry, error) {
	if types.Compare(lo, hi) > 0 {
		return nil, nil
	}
	var out []index.Entry
	first := s.blockOf(lo)
	last := s.blockOf(hi)
	if last >= len(s.overflow) {
		last = len(s.overflow) - 1
	}
	for b := first; b <= last; b++ {
		start, end := s.blockBounds(b)
		var block []index.Entry
		for i := start; i < end; i++ {
			e := s.primary[i]
			if e.Dead || types.Compare(e.Key, lo) < 0 || types.Compare(e.Key, hi) > 0 {
				continue
			}
			block = append(block, index.Entry{Key: e.Key, Pos: e.Pos})
		}
		var chain []index.Entry
		for _, e := range s.overflow[b] {
			if e.Dead || types.Compare(e.Key, lo) < 0 || types.Compare(e.Key, hi) > 0 {
				continue
			}
			chain = append(chain, index.Entry{Key: e.Key, Pos: e.Pos})
		}
		sort.Slice(chain, func(i, j int) bool { return types.Less(chain[i].Key, chain[j].Key) })
		out = append(out, mergeSorted(block, chain)...)
	}
	return out, nil
}

func mergeSorted(a, b []index.Entry) []index.Entry {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	out := make([]index.Entry, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if types.Less(a[i].Key, b[j].Key) {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// maybeRebuild rebuilds from the live snapshot when overflow outweighs the
// primary area by the configured ratio. An empty primary area rebuilds once
// a block's worth of entries has accumulated.
func (s *Isam) maybeRebuild() {
	primaryLive, overflowLive := 0, 0
	for _, e := range s.primary {
		if !e.Dead {
			primaryLive++
		}
	}
	for _, chain := range s.overflow {
		for _, e := range chain {
			if !e.Dead {
				overflowLive++
			}
		}
	}
	if primaryLive == 0 {
		if overflowLive >= s.blockFactor {
			s.rebuild()
		}
		return
	}
	if float64(overflowLive)/float64(primaryLive) > s.rebuildRatio {
		s.rebuild()
	}
}

func (s *Isam) rebuild() {
	entries := s.liveEntries()
	s.load(entries)
}

func (s *Isam) liveEntries() []index.Entry {
	var entries []index.Entry
	for _, e := range s.primary {
		if !e.Dead {
			entries = append(entries, index.Entry{Key: e.Key, Pos: e.Pos})
		}
	}
	for _, chain := range s.overflow {
		for _, e := range chain {
			if !e.Dead {
				entries = append(entries, index.Entry{Key: e.Key, Pos: e.Pos})
			}
		}
	}
	return entries
}

// load sorts entries into a fresh primary area and regenerates both index
// levels.
func (s *Isam) load(entries []index.Entry) {
	sort.Slice(entries, func(i, j int) bool { return types.Less(entries[i].Key, entries[j].Key) })

	s.primary = make([]slot, len(entries))
	for i, e := range entries {
		s.primary[i] = slot{Key: e.Key, Pos: e.Pos}
	}

	blocks := (len(entries) + s.blockFactor - 1) / s.blockFactor
	if blocks == 0 {
		blocks = 1
	}
	s.overflow = make([][]slot, blocks)

	s.level2 = nil
	for b := 0; b*s.blockFactor < len(entries); b++ {
		s.level2 = append(s.level2, entries[b*s.blockFactor].Key)
	}
	s.level1 = nil
	for p := 0; p*s.blockFactor < len(s.level2); p++ {
		s.level1 = append(s.level1, s.level2[p*s.blockFactor])
	}
}

// Bulk replaces the index with a freshly built structure over entries. This
// is both the build-from-sorted-snapshot path at table creation and the
// rebuild-from-data-file path.
func (s *Isam) Bulk(entries []index.Entry) error {
	s.load(append([]index.Entry(nil), entries...))
	return nil
}
