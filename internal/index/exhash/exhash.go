// Package exhash implements the extendible hashing index: a directory of 2^d
// slots addressed by the low-order d bits of the key hash, each pointing into
// a bucket arena. Buckets split when full; when a full bucket's local depth
// already equals the global depth the directory doubles first. Equality
// lookups only; the directory never shrinks.
package exhash

import (
	"encoding/binary"
	"math"
	"os"

	"github.com/spaolacci/murmur3"

	qerrors "github.com/quiverdb/quiver/internal/errors"
	"github.com/quiverdb/quiver/internal/index"
	"github.com/quiverdb/quiver/pkg/types"
)

type bucket struct {
	Depth   int           `json:"depth"`
	Entries []index.Entry `json:"entries"`
}

type image struct {
	Capacity    int      `json:"capacity"`
	MaxDepth    int      `json:"max_depth"`
	GlobalDepth int      `json:"global_depth"`
	Dir         []int32  `json:"dir"`
	Buckets     []bucket `json:"buckets"`
}

// Hash is an extendible hashing index over one table's key field.
type Hash struct {
	path        string
	capacity    int // max entries per bucket before a split
	maxDepth    int // global depth ceiling; at the ceiling buckets overflow in place
	globalDepth int
	dir         []int32
	buckets     []bucket
}

// New creates an empty index with a two-bucket directory.
func New(path string, capacity, maxDepth int) *Hash {
	return &Hash{
		path:        path,
		capacity:    capacity,
		maxDepth:    maxDepth,
		globalDepth: 1,
		dir:         []int32{0, 1},
		buckets:     []bucket{{Depth: 1}, {Depth: 1}},
	}
}

// Open loads the index image at path, or returns a fresh empty index when no
// image exists.
func Open(path string, capacity, maxDepth int) (*Hash, error) {
	var img image
	if err := index.LoadImage(path, &img); err != nil {
		if os.IsNotExist(err) {
			return New(path, capacity, maxDepth), nil
		}
		return nil, err
	}
	return &Hash{
		path:        path,
		capacity:    img.Capacity,
		maxDepth:    img.MaxDepth,
		globalDepth: img.GlobalDepth,
		dir:         img.Dir,
		buckets:     img.Buckets,
	}, nil
}

// Kind names the structure.
func (h *Hash) Kind() types.IndexKind { return types.IndexHash }

// Flush persists the directory and bucket arena.
func (h *Hash) Flush() error {
	return index.SaveImage(h.path, image{
		Capacity:    h.capacity,
		MaxDepth:    h.maxDepth,
		GlobalDepth: h.globalDepth,
		Dir:         h.dir,
		Buckets:     h.buckets,
	})
}

// GlobalDepth returns the current directory bit-length.
func (h *Hash) GlobalDepth() int { return h.globalDepth }

// DirSize returns the directory slot count, always a power of two.
func (h *Hash) DirSize() int { return len(h.dir) }

// hashKey folds the key into its canonical byte form and hashes it. The byte
// form mirrors the record codec so equal values always collide.
func hashKey(key types.Value) uint64 {
	var buf [8]byte
	switch key.Kind {
	case types.KindInt, types.KindDate:
		binary.LittleEndian.PutUint32(buf[:4], uint32(key.Int))
		return murmur3.Sum64(buf[:4])
	case types.KindFloat:
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(key.Float))
		return murmur3.Sum64(buf[:])
	default:
		return murmur3.Sum64([]byte(key.Str))
	}
}

func (h *Hash) dirIndex(hash uint64) int {
	return int(hash & uint64(len(h.dir)-1))
}

func (h *Hash) find(b *bucket, key types.Value) int {
	for i, e := range b.Entries {
		if types.Equal(e.Key, key) {
			return i
		}
	}
	return -1
}

// Search returns the position for key.
func (h *Hash) Search(key types.Value) (int64, error) {
	b := &h.buckets[h.dir[h.dirIndex(hashKey(key))]]
	if i := h.find(b, key); i >= 0 {
		return b.Entries[i].Pos, nil
	}
	return 0, qerrors.NewNotFoundError(key.String())
}

// Insert adds key -> pos, splitting buckets and doubling the directory as
// needed. Duplicates are rejected.
func (h *Hash) Insert(key types.Value, pos int64) error {
	hash := hashKey(key)
	for {
		id := h.dir[h.dirIndex(hash)]
		b := &h.buckets[id]
		if h.find(b, key) >= 0 {
			return qerrors.NewDuplicateKeyError(key.String())
		}
		if len(b.Entries) < h.capacity {
			b.Entries = append(b.Entries, index.Entry{Key: key, Pos: pos})
			return nil
		}
		if b.Depth == h.globalDepth {
			if h.globalDepth >= h.maxDepth {
				// Directory at its ceiling: let the bucket run over
				// capacity rather than fail the insert.
				b.Entries = append(b.Entries, index.Entry{Key: key, Pos: pos})
				return nil
			}
			h.double()
		}
		h.split(id)
	}
}

// double duplicates every directory slot, leaving all pointers intact.
func (h *Hash) double() {
	h.dir = append(h.dir, h.dir...)
	h.globalDepth++
}

// split deepens bucket id by one bit, moving entries whose new bit is set
// into a fresh bucket and redirecting the matching directory slots.
func (h *Hash) split(id int32) {
	newLocal := h.buckets[id].Depth + 1
	newID := int32(len(h.buckets))
	h.buckets = append(h.buckets, bucket{Depth: newLocal})
	old := &h.buckets[id]
	old.Depth = newLocal

	for i := range h.dir {
		if h.dir[i] == id && (i>>(newLocal-1))&1 == 1 {
			h.dir[i] = newID
		}
	}

	kept := old.Entries[:0]
	for _, e := range old.Entries {
		if (hashKey(e.Key)>>(newLocal-1))&1 == 1 {
			h.buckets[newID].Entries = append(h.buckets[newID].Entries, e)
		} else {
			kept = append(kept, e)
		}
	}
	old.Entries = kept
}

// Update relocates the position for an existing key.
func (h *Hash) Update(key types.Value, pos int64) error {
	b := &h.buckets[h.dir[h.dirIndex(hashKey(key))]]
	if i := h.find(b, key); i >= 0 {
		b.Entries[i].Pos = pos
		return nil
	}
	return qerrors.NewNotFoundError(key.String())
}

// Delete removes the entry for key. Buckets are never merged back and the
// directory never shrinks.
func (h *Hash) Delete(key types.Value) error {
	b := &h.buckets[h.dir[h.dirIndex(hashKey(key))]]
	if i := h.find(b, key); i >= 0 {
		b.Entries = append(b.Entries[:i], b.Entries[i+1:]...)
		return nil
	}
	return qerrors.NewNotFoundError(key.String())
}

// Len returns the number of entries across all buckets.
func (h *Hash) Len() int {
	n := 0
	for i := range h.buckets {
		n += len(h.buckets[i].Entries)
	}
	return n
}

// Bulk resets the index and loads entries, used for rebuild-from-data-file.
func (h *Hash) Bulk(entries []index.Entry) error {
	h.globalDepth = 1
	h.dir = []int32{0, 1}
	h.buckets = []bucket{{Depth: 1}, {Depth: 1}}
	for _, e := range entries {
		if err := h.Insert(e.Key, e.Pos); err != nil {
			return err
		}
	}
	return nil
}
