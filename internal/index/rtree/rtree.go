// Package rtree implements the spatial index over a table's POINT field.
// Nodes hold (bounding rectangle, child-or-position) entries with fan-out in
// [m, M]; inserts descend by least area enlargement and full nodes split with
// the quadratic seed heuristic. Queries prune subtrees whose rectangle cannot
// intersect the query region and test the precise predicate at the leaves.
// Unlike the key indexes the R-tree is secondary: many records may share a
// point, so entries are addressed by (point, position) pairs.
package rtree

import (
	"math"
	"os"

	qerrors "github.com/quiverdb/quiver/internal/errors"
	"github.com/quiverdb/quiver/internal/index"
	"github.com/quiverdb/quiver/pkg/types"
)

const nilNode int32 = -1

// Rect is an axis-aligned bounding rectangle.
type Rect struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

func pointRect(p types.Point) Rect {
	return Rect{MinX: p.X, MinY: p.Y, MaxX: p.X, MaxY: p.Y}
}

func (r Rect) area() float64 {
	return (r.MaxX - r.MinX) * (r.MaxY - r.MinY)
}

func (r Rect) union(o Rect) Rect {
	return Rect{
		MinX: math.Min(r.MinX, o.MinX),
		MinY: math.Min(r.MinY, o.MinY),
		MaxX: math.Max(r.MaxX, o.MaxX),
		MaxY: math.Max(r.MaxY, o.MaxY),
	}
}

// enlargement is the area growth needed for r to absorb o.
func (r Rect) enlargement(o Rect) float64 {
	return r.union(o).area() - r.area()
}

func (r Rect) intersects(o Rect) bool {
	return r.MinX <= o.MaxX && o.MinX <= r.MaxX && r.MinY <= o.MaxY && o.MinY <= r.MaxY
}

func (r Rect) contains(o Rect) bool {
	return r.MinX <= o.MinX && o.MaxX <= r.MaxX && r.MinY <= o.MinY && o.MaxY <= r.MaxY
}

// minDist is the distance from p to the nearest point of r, zero inside.
func (r Rect) minDist(p types.Point) float64 {
	dx := math.Max(0, math.Max(r.MinX-p.X, p.X-r.MaxX))
	dy := math.Max(0, math.Max(r.MinY-p.Y, p.Y-r.MaxY))
	return math.Hypot(dx, dy)
}

// Item is one spatial entry: a stored point and its record position.
type Item struct {
	Point types.Point `json:"point"`
	Pos   int64       `json:"pos"`
}

type entry struct {
	Rect  Rect  `json:"rect"`
	Child int32 `json:"child"` // nilNode on leaf entries
	Pos   int64 `json:"pos,omitempty"`
}

type node struct {
	Leaf    bool    `json:"leaf"`
	Entries []entry `json:"entries"`
}

type image struct {
	Max   int     `json:"max"`
	Root  int32   `json:"root"`
	Nodes []node  `json:"nodes"`
	Free  []int32 `json:"free,omitempty"`
}

// Tree is an R-tree with fan-out in [max/2, max].
type Tree struct {
	path  string
	max   int
	min   int
	root  int32
	nodes []node
	free  []int32
}

// New creates an empty tree with the given maximum fan-out, persisted at path.
func New(path string, maxEntries int) *Tree {
	return &Tree{
		path:  path,
		max:   maxEntries,
		min:   maxEntries / 2,
		root:  0,
		nodes: []node{{Leaf: true}},
	}
}

// Open loads the tree image at path, or returns a fresh empty tree when no
// image exists.
func Open(path string, maxEntries int) (*Tree, error) {
	var img image
	if err := index.LoadImage(path, &img); err != nil {
		if os.IsNotExist(err) {
			return New(path, maxEntries), nil
		}
		return nil, err
	}
	return &Tree{path: path, max: img.Max, min: img.Max / 2, root: img.Root, nodes: img.Nodes, free: img.Free}, nil
}

// Flush persists the node arena.
func (t *Tree) Flush() error {
	return index.SaveImage(t.path, image{Max: t.max, Root: t.root, Nodes: t.nodes, Free: t.free})
}

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
	t.nodes[id] = node{}
	t.free = append(t.free, id)
}

func (t *Tree) nodeRect(id int32) Rect {
	n := &t.nodes[id]
	r := n.Entries[0].Rect
	for _, e := range n.Entries[1:] {
		r = r.union(e.Rect)
	}
	return r
}

// Insert adds a point at the given record position.
func (t *Tree) Insert(p types.Point, pos int64) {
	split := t.insertRec(t.root, entry{Rect: pointRect(p), Child: nilNode, Pos: pos})
	if split != nilNode {
		oldRoot, newNode := t.root, split
		t.root = t.alloc(node{
			Leaf: false,
			Entries: []entry{
				{Rect: t.nodeRect(oldRoot), Child: oldRoot},
				{Rect: t.nodeRect(newNode), Child: newNode},
			},
		})
	}
}

func (t *Tree) insertRec(id int32, e entry) int32 {
	if t.nodes[id].Leaf {
		n := &t.nodes[id]
		n.Entries = append(n.Entries, e)
		if len(n.Entries) > t.max {
			return t.splitNode(id)
		}
		return nilNode
	}

	i := t.chooseSubtree(id, e.Rect)
	child := t.nodes[id].Entries[i].Child
	split := t.insertRec(child, e)
	n := &t.nodes[id]
	n.Entries[i].Rect = t.nodeRect(child)
	if split != nilNode {
		n.Entries = append(n.Entries, entry{Rect: t.nodeRect(split), Child: split})
		if len(n.Entries) > t.max {
			return t.splitNode(id)
		}
	}
	return nilNode
}

// chooseSubtree picks the child needing the least area enlargement, ties
// broken by smaller area then by fewer entries.
func (t *Tree) chooseSubtree(id int32, r Rect) int {
	n := &t.nodes[id]
	best := 0
	bestEnl := math.Inf(1)
	bestArea := math.Inf(1)
	bestCount := math.MaxInt
	for i, e := range n.Entries {
		enl := e.Rect.enlargement(r)
		area := e.Rect.area()
		count := len(t.nodes[e.Child].Entries)
		if enl < bestEnl ||
			(enl == bestEnl && area < bestArea) ||
			(enl == bestEnl && area == bestArea && count < bestCount) {
			best, bestEnl, bestArea, bestCount = i, enl, area, count
		}
	}
	return best
}

// splitNode redistributes an overfull node with the quadratic heuristic:
// seed the two groups with the pair wasting the most area together, then
// assign remaining entries by least enlargement, forcing assignment when a
// group needs every leftover to reach minimum fill.
func (t *Tree) splitNode(id int32) int32 {
	entries := t.nodes[id].Entries
	leaf := t.nodes[id].Leaf

	s1, s2 := pickSeeds(entries)
	g1 := []entry{entries[s1]}
	g2 := []entry{entries[s2]}
	r1, r2 := entries[s1].Rect, entries[s2].Rect

	rest := make([]entry, 0, len(entries)-2)
	for i, e := range entries {
		if i != s1 && i != s2 {
			rest = append(rest, e)
		}
	}

	for len(rest) > 0 {
		if len(g1)+len(rest) == t.min {
			g1 = append(g1, rest...)
			for _, e := range rest {
				r1 = r1.union(e.Rect)
			}
			break
		}
		if len(g2)+len(rest) == t.min {
			g2 = append(g2, rest...)
			for _, e := range rest {
				r2 = r2.union(e.Rect)
			}
			break
		}

		i := pickNext(rest, r1, r2)
		e := rest[i]
		rest = append(rest[:i], rest[i+1:]...)

		d1, d2 := r1.enlargement(e.Rect), r2.enlargement(e.Rect)
		toFirst := d1 < d2
		if d1 == d2 {
			if a1, a2 := r1.area(), r2.area(); a1 != a2 {
				toFirst = a1 < a2
			} else {
				toFirst = len(g1) <= len(g2)
			}
		}
		if toFirst {
			g1 = append(g1, e)
			r1 = r1.union(e.Rect)
		} else {
			g2 = append(g2, e)
			r2 = r2.union(e.Rect)
		}
	}

	t.nodes[id].Entries = g1
	return t.alloc(node{Leaf: leaf, Entries: g2})
}

// pickSeeds returns the pair whose combined rectangle wastes the most area.
func pickSeeds(entries []entry) (int, int) {
	s1, s2 := 0, 1
	worst := math.Inf(-1)
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			d := entries[i].Rect.union(entries[j].Rect).area() -
				entries[i].Rect.area() - entries[j].Rect.area()
			if d > worst {
				worst, s1, s2 = d, i, j
			}
		}
	}
	return s1, s2
}

// pickNext returns the entry with the strongest preference between groups.
func pickNext(rest []entry, r1, r2 Rect) int {
	best := 0
	worst := math.Inf(-1)
	for i, e := range rest {
		d := math.Abs(r1.enlargement(e.Rect) - r2.enlargement(e.Rect))
		if d > worst {
			worst, best = d, i
		}
	}
	return best
}

// RadiusSearch returns the positions of every stored point within radius of
// center, pruning subtrees whose rectangle lies farther than the radius.
func (t *Tree) RadiusSearch(center types.Point, radius float64) []int64 {
	var out []int64
	t.radiusRec(t.root, center, radius, &out)
	return out
}

func (t *Tree) radiusRec(id int32, center types.Point, radius float64, out *[]int64) {
	n := &t.nodes[id]
	for _, e := range n.Entries {
		if e.Rect.minDist(center) > radius {
			continue
		}
		if n.Leaf {
			// Leaf rectangles are degenerate points, so minDist is the
			// exact point distance.
			*out = append(*out, e.Pos)
		} else {
			t.radiusRec(e.Child, center, radius, out)
		}
	}
}

// SearchRect returns the positions of every stored point inside rect.
func (t *Tree) SearchRect(rect Rect) []int64 {
	var out []int64
	t.rectRec(t.root, rect, &out)
	return out
}

func (t *Tree) rectRec(id int32, rect Rect, out *[]int64) {
	n := &t.nodes[id]
	for _, e := range n.Entries {
		if !rect.intersects(e.Rect) {
			continue
		}
		if n.Leaf {
			if rect.contains(e.Rect) {
				*out = append(*out, e.Pos)
			}
		} else {
			t.rectRec(e.Child, rect, out)
		}
	}
}

type pathElem struct {
	parent int32
	idx    int // entry index within parent leading to the child below
}

// Delete removes the entry for (p, pos). Under-filled nodes are removed and
// their surviving points reinserted from the root; ancestor rectangles are
// tightened on the way up.
func (t *Tree) Delete(p types.Point, pos int64) error {
	var path []pathElem
	leaf, idx, ok := t.findLeaf(t.root, pointRect(p), pos, &path)
	if !ok {
		return qerrors.NewNotFoundError(types.NewPoint(p.X, p.Y).String())
	}

	n := &t.nodes[leaf]
	n.Entries = append(n.Entries[:idx], n.Entries[idx+1:]...)

	var orphans []Item
	// Condense bottom-up: drop under-filled nodes, collecting their live
	// points, and tighten surviving ancestors.
	for i := len(path) - 1; i >= 0; i-- {
		parent, entryIdx := path[i].parent, path[i].idx
		child := t.nodes[parent].Entries[entryIdx].Child
		if len(t.nodes[child].Entries) < t.min {
			t.collectItems(child, &orphans)
			t.releaseSubtree(child)
			pn := &t.nodes[parent]
			pn.Entries = append(pn.Entries[:entryIdx], pn.Entries[entryIdx+1:]...)
		} else if len(t.nodes[parent].Entries) > 0 {
			t.nodes[parent].Entries[entryIdx].Rect = t.nodeRect(child)
		}
	}

	root := &t.nodes[t.root]
	if !root.Leaf {
		switch len(root.Entries) {
		case 0:
			root.Leaf = true
		case 1:
			old := t.root
			t.root = root.Entries[0].Child
			t.release(old)
		}
	}

	for _, it := range orphans {
		t.Insert(it.Point, it.Pos)
	}
	return nil
}

func (t *Tree) findLeaf(id int32, r Rect, pos int64, path *[]pathElem) (int32, int, bool) {
	n := &t.nodes[id]
	if n.Leaf {
		for i, e := range n.Entries {
			if e.Pos == pos && e.Rect == r {
				return id, i, true
			}
		}
		return nilNode, 0, false
	}
	for i, e := range n.Entries {
		if !e.Rect.contains(r) {
			continue
		}
		*path = append(*path, pathElem{parent: id, idx: i})
		if leaf, idx, ok := t.findLeaf(e.Child, r, pos, path); ok {
			return leaf, idx, ok
		}
		*path = (*path)[:len(*path)-1]
	}
	return nilNode, 0, false
}

func (t *Tree) collectItems(id int32, out *[]Item) {
	n := &t.nodes[id]
	for _, e := range n.Entries {
		if n.Leaf {
			*out = append(*out, Item{Point: types.Point{X: e.Rect.MinX, Y: e.Rect.MinY}, Pos: e.Pos})
		} else {
			t.collectItems(e.Child, out)
		}
	}
}

func (t *Tree) releaseSubtree(id int32) {
	n := t.nodes[id]
	if !n.Leaf {
		for _, e := range n.Entries {
			t.releaseSubtree(e.Child)
		}
	}
	t.release(id)
}

// Len returns the number of stored points.
func (t *Tree) Len() int {
	return t.countLeaves(t.root)
}

func (t *Tree) countLeaves(id int32) int {
	n := &t.nodes[id]
	if n.Leaf {
		return len(n.Entries)
	}
	total := 0
	for _, e := range n.Entries {
		total += t.countLeaves(e.Child)
	}
	return total
}

// Bulk resets the tree and loads items, used for rebuild-from-data-file.
func (t *Tree) Bulk(items []Item) error {
	t.nodes = []node{{Leaf: true}}
	t.root = 0
	t.free = nil
	for _, it := range items {
		t.Insert(it.Point, it.Pos)
	}
	return nil
}
