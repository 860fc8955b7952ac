package seqfile

import (
	"path/filepath"
	"testing"

	qerrors "github.com/quiverdb/quiver/internal/errors"
	"github.com/quiverdb/quiver/internal/index"
	"github.com/quiverdb/quiver/pkg/types"
)

func buildFrom(t *testing.T, interval int, fraction float64, keys ...int32) *Seq {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "t.seq.idx"), interval, fraction)
	entries := make([]index.Entry, len(keys))
	for i, k := range keys {
		entries[i] = index.Entry{Key: types.NewInt(k), Pos: int64(k) * 10}
	}
	if err := s.Bulk(entries); err != nil {
		t.Fatalf("bulk: %v", err)
	}
	return s
}

func TestSearchViaSparseIndex(t *testing.T) {
	var keys []int32
	for k := int32(0); k < 100; k += 2 {
		keys = append(keys, k)
	}
	s := buildFrom(t, 8, 0.5, keys...)
	for _, k := range keys {
		pos, err := s.Search(types.NewInt(k))
		if err != nil {
			t.Fatalf("search %d: %v", k, err)
		}
		if pos != int64(k)*10 {
			t.Fatalf("search %d: got pos %d, want %d", k, pos, int64(k)*10)
		}
	}
	if _, err := s.Search(types.NewInt(13)); !qerrors.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
	if _, err := s.Search(types.NewInt(-5)); !qerrors.IsNotFound(err) {
		t.Fatalf("key below first sparse entry: %v", err)
	}
}

func TestInsertGoesToOverflow(t *testing.T) {
	s := buildFrom(t, 4, 0.5, 10, 20, 30, 40, 50, 60, 70, 80)
	if err := s.Insert(types.NewInt(35), 350); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if len(s.overflow) != 1 {
		t.Fatalf("overflow has %d entries, want 1", len(s.overflow))
	}
	pos, err := s.Search(types.NewInt(35))
	if err != nil || pos != 350 {
		t.Fatalf("search overflow entry: pos=%d err=%v", pos, err)
	}
}

func TestDuplicateInsertRejected(t *testing.T) {
	s := buildFrom(t, 4, 0.5, 10, 20, 30)
	if err := s.Insert(types.NewInt(20), 999); !qerrors.IsDuplicateKey(err) {
		t.Fatalf("duplicate against primary area: %v", err)
	}
	if err := s.Insert(types.NewInt(15), 150); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Insert(types.NewInt(15), 151); !qerrors.IsDuplicateKey(err) {
		t.Fatalf("duplicate against overflow area: %v", err)
	}
}

func TestDeleteThenReinsert(t *testing.T) {
	s := buildFrom(t, 4, 0.5, 1, 2, 3, 4, 5, 6, 7, 8)
	if err := s.Delete(types.NewInt(3)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Search(types.NewInt(3)); !qerrors.IsNotFound(err) {
		t.Fatalf("deleted key still found: %v", err)
	}
	if s.Len() != 7 {
		t.Fatalf("Len = %d, want 7", s.Len())
	}
	if err := s.Insert(types.NewInt(3), 333); err != nil {
		t.Fatalf("re-insert: %v", err)
	}
	pos, err := s.Search(types.NewInt(3))
	if err != nil || pos != 333 {
		t.Fatalf("search re-inserted key: pos=%d err=%v", pos, err)
	}
	if err := s.Delete(types.NewInt(99)); !qerrors.IsNotFound(err) {
		t.Fatalf("delete missing key: %v", err)
	}
}

func TestUpdate(t *testing.T) {
	s := buildFrom(t, 4, 0.5, 1, 2, 3)
	if err := s.Update(types.NewInt(2), 555); err != nil {
		t.Fatalf("update: %v", err)
	}
	pos, err := s.Search(types.NewInt(2))
	if err != nil || pos != 555 {
		t.Fatalf("search after update: pos=%d err=%v", pos, err)
	}
	if err := s.Update(types.NewInt(42), 1); !qerrors.IsNotFound(err) {
		t.Fatalf("update missing key: %v", err)
	}
}

func TestRangeSearchMergesOverflow(t *testing.T) {
	s := buildFrom(t, 4, 0.9, 10, 20, 30, 40, 50, 60, 70, 80)
	for _, k := range []int32{25, 65, 15} {
		if err := s.Insert(types.NewInt(k), int64(k)*10); err != nil {
			t.Fatalf("insert %d: %v", k, err)
		}
	}
	got, err := s.RangeSearch(types.NewInt(15), types.NewInt(65))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	want := []int32{15, 20, 25, 30, 40, 50, 60, 65}
	if len(got) != len(want) {
		t.Fatalf("range: got %d entries, want %d", len(got), len(want))
	}
	for i, e := range got {
		if e.Key.Int != want[i] {
			t.Fatalf("range entry %d: got %d, want %d", i, e.Key.Int, want[i])
		}
	}
}

func TestReorganizeAbsorbsOverflowAndPurgesTombstones(t *testing.T) {
	s := buildFrom(t, 4, 0.5, 10, 20, 30, 40)
	if err := s.Delete(types.NewInt(40)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// 3 live in primary; fraction 0.5 means the second live overflow entry
	// (2 > 1.5) triggers reorganization.
	if err := s.Insert(types.NewInt(15), 150); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Insert(types.NewInt(25), 250); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if len(s.overflow) != 0 {
		t.Fatalf("overflow not cleared: %d entries remain", len(s.overflow))
	}
	if len(s.primary) != 5 {
		t.Fatalf("primary has %d entries after reorganize, want 5", len(s.primary))
	}
	if _, err := s.Search(types.NewInt(40)); !qerrors.IsNotFound(err) {
		t.Fatal("tombstoned key survived reorganization")
	}
	for _, k := range []int32{10, 15, 20, 25, 30} {
		if _, err := s.Search(types.NewInt(k)); err != nil {
			t.Fatalf("search %d after reorganize: %v", k, err)
		}
	}
}

func TestEmptyStartAccumulatesThenBuilds(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "t.seq.idx"), 3, 0.5)
	for _, k := range []int32{9, 1, 5} {
		if err := s.Insert(types.NewInt(k), int64(k)); err != nil {
			t.Fatalf("insert %d: %v", k, err)
		}
	}
	if len(s.primary) != 3 {
		t.Fatalf("primary has %d entries, want 3", len(s.primary))
	}
	got, err := s.RangeSearch(types.NewInt(1), types.NewInt(9))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	want := []int32{1, 5, 9}
	for i, e := range got {
		if e.Key.Int != want[i] {
			t.Fatalf("range entry %d: got %d, want %d", i, e.Key.Int, want[i])
		}
	}
}

func TestPersistRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.seq.idx")
	s := New(path, 4, 0.9)
	var entries []index.Entry
	for k := int32(0); k < 30; k++ {
		entries = append(entries, index.Entry{Key: types.NewInt(k), Pos: int64(k)})
	}
	if err := s.Bulk(entries); err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if err := s.Insert(types.NewInt(100), 100); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	reopened, err := Open(path, 99, 0.1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if reopened.Len() != 31 {
		t.Fatalf("Len after reopen = %d, want 31", reopened.Len())
	}
	pos, err := reopened.Search(types.NewInt(100))
	if err != nil || pos != 100 {
		t.Fatalf("search overflow entry after reopen: pos=%d err=%v", pos, err)
	}
}
