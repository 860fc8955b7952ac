package btree

import (
	"math/rand"
	"path/filepath"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	qerrors "github.com/quiverdb/quiver/internal/errors"
	"github.com/quiverdb/quiver/internal/index"
	"github.com/quiverdb/quiver/pkg/types"
)

func newTestTree(t *testing.T, order int) *Tree {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "t.btree.idx"), order)
}

func mustInsert(t *testing.T, tr *Tree, keys ...int32) {
	t.Helper()
	for _, k := range keys {
		if err := tr.Insert(types.NewInt(k), int64(k)*10); err != nil {
			t.Fatalf("insert %d: %v", k, err)
		}
	}
}

func assertAscending(t *testing.T, tr *Tree) {
	t.Helper()
	keys := tr.LeafKeys()
	for i := 1; i < len(keys); i++ {
		if types.Compare(keys[i-1], keys[i]) >= 0 {
			t.Fatalf("leaf chain out of order at %d: %s >= %s", i, keys[i-1], keys[i])
		}
	}
}

func TestInsertAndSearch(t *testing.T) {
	tr := newTestTree(t, 4)
	mustInsert(t, tr, 5, 3, 8, 1, 9, 7, 2, 6, 4, 10)

	for k := int32(1); k <= 10; k++ {
		pos, err := tr.Search(types.NewInt(k))
		if err != nil {
			t.Fatalf("search %d: %v", k, err)
		}
		if pos != int64(k)*10 {
			t.Fatalf("search %d: got pos %d, want %d", k, pos, int64(k)*10)
		}
	}
	if tr.Len() != 10 {
		t.Fatalf("Len = %d, want 10", tr.Len())
	}
	assertAscending(t, tr)
}

func TestSearchMissing(t *testing.T) {
	tr := newTestTree(t, 4)
	mustInsert(t, tr, 1, 2, 3)

	_, err := tr.Search(types.NewInt(42))
	if !qerrors.IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestDuplicateInsertRejected(t *testing.T) {
	tr := newTestTree(t, 4)
	mustInsert(t, tr, 1, 2, 3, 4, 5)

	err := tr.Insert(types.NewInt(3), 999)
	if !qerrors.IsDuplicateKey(err) {
		t.Fatalf("expected duplicate-key error, got %v", err)
	}
	// Original position must survive the rejected insert.
	pos, err := tr.Search(types.NewInt(3))
	if err != nil || pos != 30 {
		t.Fatalf("search after rejected insert: pos=%d err=%v", pos, err)
	}
	if tr.Len() != 5 {
		t.Fatalf("Len changed after rejected insert: %d", tr.Len())
	}
}

func TestUpdateRelocatesPosition(t *testing.T) {
	tr := newTestTree(t, 4)
	mustInsert(t, tr, 1, 2, 3)

	if err := tr.Update(types.NewInt(2), 777); err != nil {
		t.Fatalf("update: %v", err)
	}
	pos, err := tr.Search(types.NewInt(2))
	if err != nil || pos != 777 {
		t.Fatalf("search after update: pos=%d err=%v", pos, err)
	}
	if err := tr.Update(types.NewInt(99), 1); !qerrors.IsNotFound(err) {
		t.Fatalf("update missing key: %v", err)
	}
}

func TestDeleteWithRebalance(t *testing.T) {
	tr := newTestTree(t, 4)
	var keys []int32
	for k := int32(1); k <= 64; k++ {
		keys = append(keys, k)
	}
	rand.New(rand.NewSource(7)).Shuffle(len(keys), func(i, j int) {
		keys[i], keys[j] = keys[j], keys[i]
	})
	mustInsert(t, tr, keys...)

	// Delete in a different order than inserted, checking structure as we go.
	for i, k := range keys {
		if err := tr.Delete(types.NewInt(k)); err != nil {
			t.Fatalf("delete %d: %v", k, err)
		}
		if got, want := tr.Len(), len(keys)-i-1; got != want {
			t.Fatalf("after deleting %d: Len = %d, want %d", k, got, want)
		}
		assertAscending(t, tr)
		if _, err := tr.Search(types.NewInt(k)); !qerrors.IsNotFound(err) {
			t.Fatalf("deleted key %d still found", k)
		}
	}
	if err := tr.Delete(types.NewInt(1)); !qerrors.IsNotFound(err) {
		t.Fatalf("delete from empty tree: %v", err)
	}
}

func TestRangeSearch(t *testing.T) {
	tr := newTestTree(t, 4)
	for k := int32(0); k < 50; k += 2 {
		mustInsert(t, tr, k)
	}

	tests := []struct {
		name   string
		lo, hi int32
		want   []int32
	}{
		{"interior", 10, 20, []int32{10, 12, 14, 16, 18, 20}},
		{"bounds between keys", 11, 19, []int32{12, 14, 16, 18}},
		{"single key", 6, 6, []int32{6}},
		{"empty band", 7, 7, nil},
		{"below all", -10, -1, nil},
		{"above all", 100, 200, nil},
		{"inverted", 20, 10, nil},
		{"full span", 0, 48, func() []int32 {
			var all []int32
			for k := int32(0); k < 50; k += 2 {
				all = append(all, k)
			}
			return all
		}()},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tr.RangeSearch(types.NewInt(tc.lo), types.NewInt(tc.hi))
			if err != nil {
				t.Fatalf("range [%d,%d]: %v", tc.lo, tc.hi, err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("range [%d,%d]: got %d entries, want %d", tc.lo, tc.hi, len(got), len(tc.want))
			}
			for i, e := range got {
				if e.Key.Int != tc.want[i] {
					t.Fatalf("range [%d,%d] entry %d: got %d, want %d", tc.lo, tc.hi, i, e.Key.Int, tc.want[i])
				}
			}
		})
	}
}

func TestPersistRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.btree.idx")
	tr := New(path, 4)
	for k := int32(1); k <= 30; k++ {
		if err := tr.Insert(types.NewInt(k), int64(k)); err != nil {
			t.Fatalf("insert %d: %v", k, err)
		}
	}
	if err := tr.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	reopened, err := Open(path, 99) // stored order wins over the hint
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if reopened.Order() != 4 {
		t.Fatalf("Order after reopen = %d, want 4", reopened.Order())
	}
	if reopened.Len() != 30 {
		t.Fatalf("Len after reopen = %d, want 30", reopened.Len())
	}
	for k := int32(1); k <= 30; k++ {
		pos, err := reopened.Search(types.NewInt(k))
		if err != nil || pos != int64(k) {
			t.Fatalf("search %d after reopen: pos=%d err=%v", k, pos, err)
		}
	}
}

func TestOpenMissingFileReturnsEmptyTree(t *testing.T) {
	tr, err := Open(filepath.Join(t.TempDir(), "absent.idx"), 8)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if tr.Len() != 0 {
		t.Fatalf("Len = %d, want 0", tr.Len())
	}
}

func TestBulkRebuild(t *testing.T) {
	tr := newTestTree(t, 4)
	mustInsert(t, tr, 100, 200)

	entries := []index.Entry{
		{Key: types.NewInt(3), Pos: 30},
		{Key: types.NewInt(1), Pos: 10},
		{Key: types.NewInt(2), Pos: 20},
	}
	if err := tr.Bulk(entries); err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if tr.Len() != 3 {
		t.Fatalf("Len after bulk = %d, want 3", tr.Len())
	}
	if _, err := tr.Search(types.NewInt(100)); !qerrors.IsNotFound(err) {
		t.Fatal("pre-bulk key survived rebuild")
	}
	pos, err := tr.Search(types.NewInt(2))
	if err != nil || pos != 20 {
		t.Fatalf("search after bulk: pos=%d err=%v", pos, err)
	}
}

func TestVarcharKeys(t *testing.T) {
	tr := newTestTree(t, 4)
	words := []string{"pear", "apple", "fig", "mango", "banana", "cherry", "kiwi"}
	for i, w := range words {
		if err := tr.Insert(types.NewVarchar(w), int64(i)); err != nil {
			t.Fatalf("insert %q: %v", w, err)
		}
	}
	got, err := tr.RangeSearch(types.NewVarchar("banana"), types.NewVarchar("kiwi"))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	want := []string{"banana", "cherry", "fig", "kiwi"}
	if len(got) != len(want) {
		t.Fatalf("range: got %d entries, want %d", len(got), len(want))
	}
	for i, e := range got {
		if e.Key.Str != want[i] {
			t.Fatalf("range entry %d: got %q, want %q", i, e.Key.Str, want[i])
		}
	}
}

// TestProperty_TreeOrderInvariants drives random workloads through the tree
// and checks the leaf chain stays sorted and range results match a model.
func TestProperty_TreeOrderInvariants(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("leaf chain is sorted and complete after random inserts", prop.ForAll(
		func(raw []int32, order int) bool {
			tr := New("unused", order)
			model := map[int32]bool{}
			for _, k := range raw {
				err := tr.Insert(types.NewInt(k), int64(k))
				if model[k] {
					if !qerrors.IsDuplicateKey(err) {
						return false
					}
					continue
				}
				if err != nil {
					return false
				}
				model[k] = true
			}
			keys := tr.LeafKeys()
			if len(keys) != len(model) {
				return false
			}
			for i := 1; i < len(keys); i++ {
				if types.Compare(keys[i-1], keys[i]) >= 0 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Int32Range(0, 500)),
		gen.IntRange(3, 12),
	))

	properties.Property("range search matches a sorted-slice model", prop.ForAll(
		func(raw []int32, lo, hi int32) bool {
			tr := New("unused", 5)
			model := map[int32]bool{}
			for _, k := range raw {
				if model[k] {
					continue
				}
				if err := tr.Insert(types.NewInt(k), int64(k)); err != nil {
					return false
				}
				model[k] = true
			}
			var want []int32
			for k := range model {
				if k >= lo && k <= hi {
					want = append(want, k)
				}
			}
			sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

			got, err := tr.RangeSearch(types.NewInt(lo), types.NewInt(hi))
			if err != nil {
				return false
			}
			if len(got) != len(want) {
				return false
			}
			for i, e := range got {
				if e.Key.Int != want[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Int32Range(0, 300)),
		gen.Int32Range(0, 300),
		gen.Int32Range(0, 300),
	))

	properties.TestingRun(t)
}
