// Package btree implements the order-m B+ tree index. Leaves hold sorted
// (key, position) pairs and chain to the next leaf for range scans; internal
// nodes hold separator keys and child links. Nodes live in an arena addressed
// by stable integer ids, so the persisted image is just the arena.
package btree

import (
	"os"
	"sort"

	qerrors "github.com/quiverdb/quiver/internal/errors"
	"github.com/quiverdb/quiver/internal/index"
	"github.com/quiverdb/quiver/pkg/types"
)

const nilNode int32 = -1

type node struct {
	Leaf     bool          `json:"leaf"`
	Keys     []types.Value `json:"keys"`
	Children []int32       `json:"children,omitempty"`
	Pos      []int64       `json:"pos,omitempty"`
	Next     int32         `json:"next"`
}

type image struct {
	Order int     `json:"order"`
	Root  int32   `json:"root"`
	Nodes []node  `json:"nodes"`
	Free  []int32 `json:"free,omitempty"`
}

// Tree is a B+ tree index over one table's key field.
type Tree struct {
	path  string
	order int // max children per internal node; nodes hold at most order-1 keys
	root  int32
	nodes []node
	free  []int32
}

// New creates an empty tree of the given order, persisted at path.
func New(path string, order int) *Tree {
	t := &Tree{path: path, order: order, root: 0}
	t.nodes = []node{{Leaf: true, Next: nilNode}}
	return t
}

// Open loads the tree image at path, or returns a fresh empty tree when no
// image exists. An unreadable image is a storage error; the caller rebuilds
// from the data file in that case.
func Open(path string, order int) (*Tree, error) {
	var img image
	if err := index.LoadImage(path, &img); err != nil {
		if os.IsNotExist(err) {
			return New(path, order), nil
		}
		return nil, err
	}
	return &Tree{path: path, order: img.Order, root: img.Root, nodes: img.Nodes, free: img.Free}, nil
}

// Kind names the structure.
func (t *Tree) Kind() types.IndexKind { return types.IndexBTree }

// Flush persists the node arena.
func (t *Tree) Flush() error {
	return index.SaveImage(t.path, image{Order: t.order, Root: t.root, Nodes: t.nodes, Free: t.free})
}

// Order returns the tree's order.
func (t *Tree) Order() int { return t.order }

func (t *Tree) maxKeys() int { return t.order - 1 }

// minKeys is the underflow threshold ceil((order-1)/2).
func (t *Tree) minKeys() int { return t.order / 2 }

func (t *Tree) alloc(n node) int32 {
	if len(t.free) > 0 {
		id := t.free[len(t.free)-1]
		t.free = t.free[:len(t.free)-1]
		t.nodes[id] = n
		return id
	}
	t.nodes = append(t.nodes, n)
	return int32(len(t.nodes) - 1)
}

func (t *Tree) release(id int32) {
	t.nodes[id] = node{Next: nilNode}
	t.free = append(t.free, id)
}

// childIdx returns the child to descend into for key: the first separator
// greater than key, keys equal to a separator route right.
func childIdx(keys []types.Value, key types.Value) int {
	return sort.Search(len(keys), func(i int) bool {
		return types.Compare(key, keys[i]) < 0
	})
}

// leafIdx returns the insertion point for key within a leaf.
func leafIdx(keys []types.Value, key types.Value) int {
	return sort.Search(len(keys), func(i int) bool {
		return types.Compare(keys[i], key) >= 0
	})
}

// Search returns the position stored for key.
func (t *Tree) Search(key types.Value) (int64, error) {
	id := t.root
	for !t.nodes[id].Leaf {
		n := &t.nodes[id]
		id = n.Children[childIdx(n.Keys, key)]
	}
	n := &t.nodes[id]
	i := leafIdx(n.Keys, key)
	if i < len(n.Keys) && types.Equal(n.Keys[i], key) {
		return n.Pos[i], nil
	}
	return 0, qerrors.NewNotFoundError(key.String())
}

type splitResult struct {
	promoted types.Value
	right    int32
}

// Insert adds key -> pos, rejecting duplicates.
func (t *Tree) Insert(key types.Value, pos int64) error {
	res, err := t.insertRec(t.root, key, pos)
	if err != nil {
		return err
	}
	if res != nil {
		newRoot := t.alloc(node{
			Leaf:     false,
			Keys:     []types.Value{res.promoted},
			Children: []int32{t.root, res.right},
			Next:     nilNode,
		})
		t.root = newRoot
	}
	return nil
}

func (t *Tree) insertRec(id int32, key types.Value, pos int64) (*splitResult, error) {
	if t.nodes[id].Leaf {
		n := &t.nodes[id]
		i := leafIdx(n.Keys, key)
		if i < len(n.Keys) && types.Equal(n.Keys[i], key) {
			return nil, qerrors.NewDuplicateKeyError(key.String())
		}
		n.Keys = append(n.Keys, types.Value{})
		copy(n.Keys[i+1:], n.Keys[i:])
		n.Keys[i] = key
		n.Pos = append(n.Pos, 0)
		copy(n.Pos[i+1:], n.Pos[i:])
		n.Pos[i] = pos
		if len(n.Keys) > t.maxKeys() {
			return t.splitLeaf(id), nil
		}
		return nil, nil
	}

	i := childIdx(t.nodes[id].Keys, key)
	res, err := t.insertRec(t.nodes[id].Children[i], key, pos)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	n := &t.nodes[id]
	n.Keys = append(n.Keys, types.Value{})
	copy(n.Keys[i+1:], n.Keys[i:])
	n.Keys[i] = res.promoted
	n.Children = append(n.Children, 0)
	copy(n.Children[i+2:], n.Children[i+1:])
	n.Children[i+1] = res.right
	if len(n.Keys) > t.maxKeys() {
		return t.splitInternal(id), nil
	}
	return nil, nil
}

func (t *Tree) splitLeaf(id int32) *splitResult {
	mid := len(t.nodes[id].Keys) / 2
	left := &t.nodes[id]
	right := node{
		Leaf: true,
		Keys: append([]types.Value(nil), left.Keys[mid:]...),
		Pos:  append([]int64(nil), left.Pos[mid:]...),
		Next: left.Next,
	}
	rightID := t.alloc(right)
	left = &t.nodes[id] // alloc may have grown the arena
	left.Keys = left.Keys[:mid]
	left.Pos = left.Pos[:mid]
	left.Next = rightID
	return &splitResult{promoted: t.nodes[rightID].Keys[0], right: rightID}
}

func (t *Tree) splitInternal(id int32) *splitResult {
	mid := len(t.nodes[id].Keys) / 2
	left := &t.nodes[id]
	promoted := left.Keys[mid]
	right := node{
		Leaf:     false,
		Keys:     append([]types.Value(nil), left.Keys[mid+1:]...),
		Children: append([]int32(nil), left.Children[mid+1:]...),
		Next:     nilNode,
	}
	rightID := t.alloc(right)
	left = &t.nodes[id]
	left.Keys = left.Keys[:mid]
	left.Children = left.Children[:mid+1]
	return &splitResult{promoted: promoted, right: rightID}
}

// Update relocates the position for an existing key in place.
func (t *Tree) Update(key types.Value, pos int64) error {
	id := t.root
	for !t.nodes[id].Leaf {
		n := &t.nodes[id]
		id = n.Children[childIdx(n.Keys, key)]
	}
	n := &t.nodes[id]
	i := leafIdx(n.Keys, key)
	if i < len(n.Keys) && types.Equal(n.Keys[i], key) {
		n.Pos[i] = pos
		return nil
	}
	return qerrors.NewNotFoundError(key.String())
}

// Delete removes the entry for key, rebalancing by borrow-else-merge and
// collapsing a single-child root.
func (t *Tree) Delete(key types.Value) error {
	if err := t.deleteRec(t.root, key); err != nil {
		return err
	}
	if !t.nodes[t.root].Leaf && len(t.nodes[t.root].Keys) == 0 {
		old := t.root
		t.root = t.nodes[old].Children[0]
		t.release(old)
	}
	return nil
}

func (t *Tree) deleteRec(id int32, key types.Value) error {
	if t.nodes[id].Leaf {
		n := &t.nodes[id]
		i := leafIdx(n.Keys, key)
		if i >= len(n.Keys) || !types.Equal(n.Keys[i], key) {
			return qerrors.NewNotFoundError(key.String())
		}
		n.Keys = append(n.Keys[:i], n.Keys[i+1:]...)
		n.Pos = append(n.Pos[:i], n.Pos[i+1:]...)
		return nil
	}

	i := childIdx(t.nodes[id].Keys, key)
	child := t.nodes[id].Children[i]
	if err := t.deleteRec(child, key); err != nil {
		return err
	}
	if t.entryCount(child) < t.minKeys() {
		t.rebalance(id, i)
	}
	return nil
}

func (t *Tree) entryCount(id int32) int {
	return len(t.nodes[id].Keys)
}

func (t *Tree) rebalance(parentID int32, idx int) {
	parent := &t.nodes[parentID]

	if idx > 0 && t.entryCount(parent.Children[idx-1]) > t.minKeys() {
		t.borrowFromLeft(parentID, idx)
		return
	}
	if idx < len(parent.Children)-1 && t.entryCount(parent.Children[idx+1]) > t.minKeys() {
		t.borrowFromRight(parentID, idx)
		return
	}
	if idx > 0 {
		t.merge(parentID, idx-1)
	} else {
		t.merge(parentID, idx)
	}
}

func (t *Tree) borrowFromLeft(parentID int32, idx int) {
	parent := &t.nodes[parentID]
	left := &t.nodes[parent.Children[idx-1]]
	child := &t.nodes[parent.Children[idx]]

	if child.Leaf {
		last := len(left.Keys) - 1
		child.Keys = append([]types.Value{left.Keys[last]}, child.Keys...)
		child.Pos = append([]int64{left.Pos[last]}, child.Pos...)
		left.Keys = left.Keys[:last]
		left.Pos = left.Pos[:last]
		parent.Keys[idx-1] = child.Keys[0]
	} else {
		last := len(left.Keys) - 1
		child.Keys = append([]types.Value{parent.Keys[idx-1]}, child.Keys...)
		parent.Keys[idx-1] = left.Keys[last]
		child.Children = append([]int32{left.Children[len(left.Children)-1]}, child.Children...)
		left.Keys = left.Keys[:last]
		left.Children = left.Children[:len(left.Children)-1]
	}
}

func (t *Tree) borrowFromRight(parentID int32, idx int) {
	parent := &t.nodes[parentID]
	right := &t.nodes[parent.Children[idx+1]]
	child := &t.nodes[parent.Children[idx]]

	if child.Leaf {
		child.Keys = append(child.Keys, right.Keys[0])
		child.Pos = append(child.Pos, right.Pos[0])
		right.Keys = right.Keys[1:]
		right.Pos = right.Pos[1:]
		parent.Keys[idx] = right.Keys[0]
	} else {
		child.Keys = append(child.Keys, parent.Keys[idx])
		parent.Keys[idx] = right.Keys[0]
		child.Children = append(child.Children, right.Children[0])
		right.Keys = right.Keys[1:]
		right.Children = right.Children[1:]
	}
}

// merge folds children idx+1 into idx and drops the separator.
func (t *Tree) merge(parentID int32, idx int) {
	parent := &t.nodes[parentID]
	leftID := parent.Children[idx]
	rightID := parent.Children[idx+1]
	left := &t.nodes[leftID]
	right := &t.nodes[rightID]

	if left.Leaf {
		left.Keys = append(left.Keys, right.Keys...)
		left.Pos = append(left.Pos, right.Pos...)
		left.Next = right.Next
	} else {
		left.Keys = append(left.Keys, parent.Keys[idx])
		left.Keys = append(left.Keys, right.Keys...)
		left.Children = append(left.Children, right.Children...)
	}

	parent.Keys = append(parent.Keys[:idx], parent.Keys[idx+1:]...)
	parent.Children = append(parent.Children[:idx+1], parent.Children[idx+2:]...)
	t.release(rightID)
}

// RangeSearch returns every entry with lo <= key <= hi in ascending order,
// scanning forward through the leaf chain.
func (t *Tree) RangeSearch(lo, hi types.Value) ([]index.Entry, error) {
	if types.Compare(lo, hi) > 0 {
		return nil, nil
	}
	id := t.root
	for !t.nodes[id].Leaf {
		n := &t.nodes[id]
		id = n.Children[childIdx(n.Keys, lo)]
	}
	var out []index.Entry
	for id != nilNode {
		n := &t.nodes[id]
		for i, k := range n.Keys {
			if types.Compare(k, lo) < 0 {
				continue
			}
			if types.Compare(k, hi) > 0 {
				return out, nil
			}
			out = append(out, index.Entry{Key: k, Pos: n.Pos[i]})
		}
		id = n.Next
	}
	return out, nil
}

// Len returns the number of entries.
func (t *Tree) Len() int {
	n := 0
	for id := t.leftmostLeaf(); id != nilNode; id = t.nodes[id].Next {
		n += len(t.nodes[id].Keys)
	}
	return n
}

func (t *Tree) leftmostLeaf() int32 {
	id := t.root
	for !t.nodes[id].Leaf {
		id = t.nodes[id].Children[0]
	}
	return id
}

// LeafKeys returns every key in leaf-chain order. Used by integrity checks
// and tests: the result must always be strictly ascending.
func (t *Tree) LeafKeys() []types.Value {
	var keys []types.Value
	for id := t.leftmostLeaf(); id != nilNode; id = t.nodes[id].Next {
		keys = append(keys, t.nodes[id].Keys...)
	}
	return keys
}

// Bulk resets the tree and loads entries, used for rebuild-from-data-file.
func (t *Tree) Bulk(entries []index.Entry) error {
	t.nodes = []node{{Leaf: true, Next: nilNode}}
	t.root = 0
	t.free = nil
	for _, e := range entries {
		if err := t.Insert(e.Key, e.Pos); err != nil {
			return err
		}
	}
	return nil
}
