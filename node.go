package pkdtree

// Split dimensions. dimNone marks a node that performed no split: a
// leaf, or a skeleton placeholder awaiting completion.
const (
	XDim = 0
	YDim = 1
	ZDim = 2

	dimNone = 3
)

// nilNode is the arena index meaning "no child".
const nilNode = int32(-1)

// Bounds is an axis-aligned box as (xmin, xmax, ymin, ymax, zmin, zmax).
type Bounds [6]float64

// sentinelBounds marks a skeleton node whose contents have not been
// reconciled yet.
var sentinelBounds = Bounds{-1, -1, -1, -1, -1, -1}

// Min returns the lower corner of the box.
func (b Bounds) Min() [3]float64 { return [3]float64{b[0], b[2], b[4]} }

// Max returns the upper corner of the box.
func (b Bounds) Max() [3]float64 { return [3]float64{b[1], b[3], b[5]} }

// Extent returns the box width along dim.
func (b Bounds) Extent(dim int) float64 { return b[2*dim+1] - b[2*dim] }

// Contains reports whether (x, y, z) lies inside the box, boundary
// included.
func (b Bounds) Contains(x, y, z float64) bool {
	return x >= b[0] && x <= b[1] &&
		y >= b[2] && y <= b[3] &&
		z >= b[4] && z <= b[5]
}

// contains reports whether inner lies entirely within b.
func (b Bounds) contains(inner Bounds) bool {
	for d := 0; d < 3; d++ {
		if inner[2*d] < b[2*d] || inner[2*d+1] > b[2*d+1] {
			return false
		}
	}
	return true
}

// KdNode is one region node of the tree. Nodes live in the Tree's
// arena; Left and Right are arena indices (nilNode for leaves).
// Internal nodes carry the dimension they split along; leaves carry
// dimNone and a region id. DataBounds is the tight box around the
// points inside the region, always contained in Bounds.
type KdNode struct {
	Dim        int
	NumPoints  int
	Bounds     Bounds
	DataBounds Bounds
	Left       int32
	Right      int32
	Region     int32
}

// newNode appends a node to the arena and returns its index.
func (t *Tree) newNode() int32 {
	t.nodes = append(t.nodes, KdNode{
		Dim:    dimNone,
		Left:   nilNode,
		Right:  nilNode,
		Region: -1,
	})
	return int32(len(t.nodes) - 1)
}

// node returns a pointer into the arena. The pointer is invalidated by
// the next newNode call; do not hold it across one.
func (t *Tree) node(i int32) *KdNode { return &t.nodes[i] }

// addChildren attaches two fresh nodes under parent and returns their
// indices.
func (t *Tree) addChildren(parent int32) (int32, int32) {
	left := t.newNode()
	right := t.newNode()
	t.nodes[parent].Left = left
	t.nodes[parent].Right = right
	return left, right
}

// deleteDescendants prunes the subtrees under i, turning it back into
// a leaf. Orphaned arena entries are reclaimed by canonicalize.
func (t *Tree) deleteDescendants(i int32) {
	t.nodes[i].Left = nilNode
	t.nodes[i].Right = nilNode
}

// depth returns the number of edges on the longest downward path.
func (t *Tree) depth(i int32) int {
	n := t.node(i)
	if n.Left == nilNode && n.Right == nilNode {
		return 0
	}
	leftDepth, rightDepth := 0, 0
	if n.Left != nilNode {
		leftDepth = t.depth(n.Left)
	}
	if n.Right != nilNode {
		rightDepth = t.depth(n.Right)
	}
	if leftDepth > rightDepth {
		return leftDepth + 1
	}
	return rightDepth + 1
}

// regionsAtLevel collects, left to right, the nodes at the given level
// below i. A leaf shallower than the level stands in for its missing
// subtree.
func (t *Tree) regionsAtLevel(i int32, level int, out []int32) []int32 {
	n := t.node(i)
	if level == 0 || n.Left == nilNode {
		return append(out, i)
	}
	out = t.regionsAtLevel(n.Left, level-1, out)
	return t.regionsAtLevel(n.Right, level-1, out)
}

// leafIDsUnder collects the region ids of the leaves below i, left to
// right.
func (t *Tree) leafIDsUnder(i int32, out []int) []int {
	n := t.node(i)
	if n.Left == nilNode {
		return append(out, int(n.Region))
	}
	out = t.leafIDsUnder(n.Left, out)
	return t.leafIDsUnder(n.Right, out)
}

// numberRegions walks the completed tree in preorder, assigning leaf
// region ids left to right and recording the leaf arena index for each
// region.
func (t *Tree) numberRegions() {
	t.regionNode = t.regionNode[:0]
	var walk func(i int32)
	walk = func(i int32) {
		n := t.node(i)
		if n.Left == nilNode {
			n.Region = int32(len(t.regionNode))
			t.regionNode = append(t.regionNode, i)
			return
		}
		n.Region = -1
		walk(n.Left)
		walk(n.Right)
	}
	walk(t.root)
	t.numRegions = len(t.regionNode)
}

// canonicalize rebuilds the arena in preorder so that after completion
// every process stores the identical tree in the identical layout,
// reclaiming entries orphaned by deleteDescendants along the way.
func (t *Tree) canonicalize() {
	out := make([]KdNode, 0, len(t.nodes))
	var walk func(i int32) int32
	walk = func(i int32) int32 {
		at := int32(len(out))
		out = append(out, t.nodes[i])
		if t.nodes[i].Left != nilNode {
			left := walk(t.nodes[i].Left)
			right := walk(t.nodes[i].Right)
			out[at].Left = left
			out[at].Right = right
		}
		return at
	}
	walk(t.root)
	t.nodes = out
	t.root = 0
}
