// Package heap implements the file manager: a data file of fixed-size record
// slots with a reusable free-slot list. Deleting a record pushes its slot onto
// the free list instead of shifting bytes, so positions held by indexes stay
// valid for the life of the table.
package heap

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/dgraph-io/ristretto/v2"

	qerrors "github.com/quiverdb/quiver/internal/errors"
	"github.com/quiverdb/quiver/internal/record"
	"github.com/quiverdb/quiver/pkg/types"
)

const (
	magic      = 0x51565244 // "QVRD"
	version    = 1
	headerSize = 40

	// Per-slot prefix: 1-byte live flag + 8-byte free-list link.
	slotPrefix = 9

	flagFree byte = 0
	flagLive byte = 1

	// nilSlot terminates the free list.
	nilSlot int64 = -1
)

// File is a slotted heap data file for one table.
type File struct {
	f     *os.File
	codec *record.Codec
	path  string

	slotSize  int64
	slotCount int64
	liveCount int64
	freeHead  int64

	cache *ristretto.Cache[int64, []types.Value]
}

// Open opens or creates the heap file at path. cacheEntries sizes the read
// cache; zero disables it.
func Open(path string, codec *record.Codec, cacheEntries int64) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, qerrors.NewStorageError(qerrors.CodeUnexpected, "open data file", err)
	}

	h := &File{
		f:        f,
		codec:    codec,
		path:     path,
		slotSize: int64(slotPrefix + codec.Size()),
		freeHead: nilSlot,
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, qerrors.NewStorageError(qerrors.CodeUnexpected, "stat data file", err)
	}
	if info.Size() == 0 {
		if err := h.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
	} else if err := h.readHeader(); err != nil {
		f.Close()
		return nil, err
	}

	if cacheEntries > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config[int64, []types.Value]{
			NumCounters: cacheEntries * 10,
			MaxCost:     cacheEntries,
			BufferItems: 64,
		})
		if err != nil {
			f.Close()
			return nil, qerrors.NewInternalError("init record cache", err)
		}
		h.cache = cache
	}

	return h, nil
}

func (h *File) writeHeader() error {
	var buf [headerSize]byte
	binary.LittleEndian.PutUint32(buf[0:], magic)
	binary.LittleEndian.PutUint16(buf[4:], version)
	binary.LittleEndian.PutUint32(buf[6:], uint32(h.slotSize))
	binary.LittleEndian.PutUint64(buf[10:], uint64(h.slotCount))
	binary.LittleEndian.PutUint64(buf[18:], uint64(h.liveCount))
	// Free head is signed; -1 terminates the list.
	binary.LittleEndian.PutUint64(buf[26:], uint64(h.freeHead))
	if _, err := h.f.WriteAt(buf[:], 0); err != nil {
		return qerrors.NewStorageError(qerrors.CodeUnexpected, "write header", err)
	}
	return nil
}

func (h *File) readHeader() error {
	var buf [headerSize]byte
	if _, err := io.ReadFull(io.NewSectionReader(h.f, 0, headerSize), buf[:]); err != nil {
		return qerrors.NewStorageError(qerrors.CodeCorruptImage, "read header", err)
	}
	if binary.LittleEndian.Uint32(buf[0:]) != magic {
		return qerrors.NewStorageError(qerrors.CodeCorruptImage, "bad magic in data file header", nil)
	}
	slotSize := int64(binary.LittleEndian.Uint32(buf[6:]))
	if slotSize != h.slotSize {
		return qerrors.NewStorageError(qerrors.CodeCorruptImage,
			fmt.Sprintf("slot size %d does not match schema layout %d", slotSize, h.slotSize), nil)
	}
	h.slotCount = int64(binary.LittleEndian.Uint64(buf[10:]))
	h.liveCount = int64(binary.LittleEndian.Uint64(buf[18:]))
	h.freeHead = int64(binary.LittleEndian.Uint64(buf[26:]))
	return nil
}

func (h *File) slotOffset(pos int64) int64 {
	return headerSize + pos*h.slotSize
}

func (h *File) readSlot(pos int64) (flag byte, next int64, payload []byte, err error) {
	buf := make([]byte, h.slotSize)
	if _, err := h.f.ReadAt(buf, h.slotOffset(pos)); err != nil {
		return 0, 0, nil, qerrors.NewStorageError(qerrors.CodeUnexpected,
			fmt.Sprintf("read slot %d", pos), err)
	}
	return buf[0], int64(binary.LittleEndian.Uint64(buf[1:])), buf[slotPrefix:], nil
}

func (h *File) writeSlot(pos int64, flag byte, next int64, payload []byte) error {
	buf := make([]byte, h.slotSize)
	buf[0] = flag
	binary.LittleEndian.PutUint64(buf[1:], uint64(next))
	copy(buf[slotPrefix:], payload)
	if _, err := h.f.WriteAt(buf, h.slotOffset(pos)); err != nil {
		return qerrors.NewStorageError(qerrors.CodeUnexpected,
			fmt.Sprintf("write slot %d", pos), err)
	}
	return nil
}

// Allocate writes a record into a reused free slot if one exists, otherwise
// appends a new slot, and returns the slot position.
func (h *File) Allocate(values []types.Value) (int64, error) {
	payload, err := h.codec.Encode(values)
	if err != nil {
		return 0, err
	}

	var pos int64
	if h.freeHead != nilSlot {
		pos = h.freeHead
		flag, next, _, err := h.readSlot(pos)
		if err != nil {
			return 0, err
		}
		if flag != flagFree {
			return 0, qerrors.NewStorageError(qerrors.CodeCorruptImage,
				fmt.Sprintf("free-list head %d is not marked free", pos), nil)
		}
		h.freeHead = next
	} else {
		pos = h.slotCount
		h.slotCount++
	}

	if err := h.writeSlot(pos, flagLive, nilSlot, payload); err != nil {
		return 0, err
	}
	h.liveCount++
	if err := h.writeHeader(); err != nil {
		return 0, err
	}
	if h.cache != nil {
		h.cache.Del(pos)
	}
	return pos, nil
}

// Read returns the record at pos. Reading beyond the file extent or from a
// freed slot is a storage-integrity error, never garbage.
func (h *File) Read(pos int64) ([]types.Value, error) {
	if pos < 0 || pos >= h.slotCount {
		return nil, qerrors.NewStorageError(qerrors.CodeOutOfRange,
			fmt.Sprintf("slot %d beyond file extent %d", pos, h.slotCount), nil)
	}
	if h.cache != nil {
		if values, ok := h.cache.Get(pos); ok {
			return values, nil
		}
	}
	flag, _, payload, err := h.readSlot(pos)
	if err != nil {
		return nil, err
	}
	if flag != flagLive {
		return nil, qerrors.NewStorageError(qerrors.CodeFreedSlot,
			fmt.Sprintf("slot %d is free", pos), nil)
	}
	values, err := h.codec.Decode(payload)
	if err != nil {
		return nil, err
	}
	if h.cache != nil {
		h.cache.Set(pos, values, 1)
	}
	return values, nil
}

// Write overwrites the live record at pos in place.
func (h *File) Write(pos int64, values []types.Value) error {
	if pos < 0 || pos >= h.slotCount {
		return qerrors.NewStorageError(qerrors.CodeOutOfRange,
			fmt.Sprintf("slot %d beyond file extent %d", pos, h.slotCount), nil)
	}
	flag, _, _, err := h.readSlot(pos)
	if err != nil {
		return err
	}
	if flag != flagLive {
		return qerrors.NewStorageError(qerrors.CodeFreedSlot,
			fmt.Sprintf("slot %d is free", pos), nil)
	}
	payload, err := h.codec.Encode(values)
	if err != nil {
		return err
	}
	if err := h.writeSlot(pos, flagLive, nilSlot, payload); err != nil {
		return err
	}
	if h.cache != nil {
		h.cache.Del(pos)
	}
	return nil
}

// Free pushes the slot at pos onto the free list. The bytes stay where they
// are so other positions remain valid.
func (h *File) Free(pos int64) error {
	if pos < 0 || pos >= h.slotCount {
		return qerrors.NewStorageError(qerrors.CodeOutOfRange,
			fmt.Sprintf("slot %d beyond file extent %d", pos, h.slotCount), nil)
	}
	flag, _, payload, err := h.readSlot(pos)
	if err != nil {
		return err
	}
	if flag != flagLive {
		return qerrors.NewStorageError(qerrors.CodeFreedSlot,
			fmt.Sprintf("slot %d is already free", pos), nil)
	}
	if err := h.writeSlot(pos, flagFree, h.freeHead, payload); err != nil {
		return err
	}
	h.freeHead = pos
	h.liveCount--
	if err := h.writeHeader(); err != nil {
		return err
	}
	if h.cache != nil {
		h.cache.Del(pos)
	}
	return nil
}

// Scan visits every live record in position order.
func (h *File) Scan(fn func(pos int64, values []types.Value) error) error {
	for pos := int64(0); pos < h.slotCount; pos++ {
		flag, _, payload, err := h.readSlot(pos)
		if err != nil {
			return err
		}
		if flag != flagLive {
			continue
		}
		values, err := h.codec.Decode(payload)
		if err != nil {
			return err
		}
		if err := fn(pos, values); err != nil {
			return err
		}
	}
	return nil
}

// LiveCount returns the number of live records.
func (h *File) LiveCount() int64 { return h.liveCount }

// SlotCount returns the total number of allocated slots, live or free.
func (h *File) SlotCount() int64 { return h.slotCount }

// FreeListLen walks the free list and returns its length.
func (h *File) FreeListLen() (int, error) {
	n := 0
	for pos := h.freeHead; pos != nilSlot; {
		flag, next, _, err := h.readSlot(pos)
		if err != nil {
			return 0, err
		}
		if flag != flagFree {
			return 0, qerrors.NewStorageError(qerrors.CodeCorruptImage,
				fmt.Sprintf("free-list entry %d is not marked free", pos), nil)
		}
		n++
		if n > int(h.slotCount) {
			return 0, qerrors.NewStorageError(qerrors.CodeCorruptImage, "free list contains a cycle", nil)
		}
		pos = next
	}
	return n, nil
}

// Close flushes the header and closes the file.
func (h *File) Close() error {
	if h.cache != nil {
		h.cache.Close()
	}
	if err := h.writeHeader(); err != nil {
		h.f.Close()
		return err
	}
	return h.f.Close()
}
