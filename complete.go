package pkdtree

// Tree completion. Each internal node was created only by the
// contiguous sub-group of processes owning its index range, so after
// the breadth-first divide every process holds a partial tree.
// Completion makes the tree identical everywhere: equalize the shape
// with sentinel nodes, reduce node contents to rank 0, reconcile
// boundaries there, and broadcast the result. Reconciling on rank 0
// before broadcasting is what makes the trees bit-identical; having
// each node's first owner broadcast directly would accumulate
// different floating-point drift on different processes' ancestors.

// packedNodeLen is the size of one node's reduction payload: the split
// dimension, both children's point counts, and both children's region
// and data bounds.
const packedNodeLen = 27

// packNode serializes an internal node for the reduction.
func (t *Tree) packNode(i int32) [packedNodeLen]float64 {
	var data [packedNodeLen]float64

	n := t.nodes[i]
	left := t.nodes[n.Left]
	right := t.nodes[n.Right]

	data[0] = float64(n.Dim)
	data[1] = float64(left.NumPoints)
	data[2] = float64(right.NumPoints)

	v := 3
	for d := 0; d < 3; d++ {
		data[v] = left.Bounds[2*d]
		data[v+1] = left.Bounds[2*d+1]
		data[v+2] = left.DataBounds[2*d]
		data[v+3] = left.DataBounds[2*d+1]
		data[v+4] = right.Bounds[2*d]
		data[v+5] = right.Bounds[2*d+1]
		data[v+6] = right.DataBounds[2*d]
		data[v+7] = right.DataBounds[2*d+1]
		v += 8
	}
	return data
}

// unpackNode applies a reduction payload to a node and its children.
func (t *Tree) unpackNode(i int32, data [packedNodeLen]float64) {
	n := &t.nodes[i]
	n.Dim = int(data[0])

	left := &t.nodes[n.Left]
	right := &t.nodes[n.Right]
	left.NumPoints = int(data[1])
	right.NumPoints = int(data[2])

	v := 3
	for d := 0; d < 3; d++ {
		left.Bounds[2*d] = data[v]
		left.Bounds[2*d+1] = data[v+1]
		left.DataBounds[2*d] = data[v+2]
		left.DataBounds[2*d+1] = data[v+3]
		right.Bounds[2*d] = data[v+4]
		right.Bounds[2*d+1] = data[v+5]
		right.DataBounds[2*d] = data[v+6]
		right.DataBounds[2*d+1] = data[v+7]
		v += 8
	}
}

// completeTree runs the completion phase over the world sub-group.
func (t *Tree) completeTree(sub *SubGroup) error {
	done := t.tm.scope("CompleteTree")
	defer done()

	depth := []int{0}
	if err := sub.ReduceMaxInts([]int{t.depth(t.root)}, depth, 0); err != nil {
		return err
	}
	if err := sub.BroadcastInts(depth, 0); err != nil {
		return err
	}

	t.fillOutTree(t.root, depth[0])

	sources := make([]int, t.nprocs)
	if err := t.reduceData(t.root, sub, sources); err != nil {
		return err
	}

	if t.myID == 0 {
		t.checkFixRegionBoundaries(t.root)
	}

	return t.broadcastData(t.root, sub)
}

// fillOutTree extends the local tree down to the global depth by
// attaching sentinel children wherever a subtree is missing, so the
// tree shape is identical on every process and only node contents
// differ.
func (t *Tree) fillOutTree(i int32, level int) {
	if level == 0 {
		return
	}
	if t.nodes[i].Left == nilNode {
		left, right := t.addChildren(i)
		for _, c := range []int32{left, right} {
			t.nodes[c].Bounds = sentinelBounds
			t.nodes[c].DataBounds = sentinelBounds
			t.nodes[c].NumPoints = -1
		}
	}
	t.fillOutTree(t.nodes[i].Left, level-1)
	t.fillOutTree(t.nodes[i].Right, level-1)
}

// reduceData walks the skeleton in preorder. At each internal node the
// group learns which processes performed the split (dim < 3 means a
// real split happened locally); the first owner sends the packed node
// to rank 0 if rank 0 doesn't already have it. A node nobody owns is
// a leaf where the stop tests ended the divide, padded with sentinel
// children by fillOutTree: its descendants are pruned on every process.
func (t *Tree) reduceData(i int32, sub *SubGroup, sources []int) error {
	if t.nodes[i].Left == nilNode {
		return nil
	}

	ihave := 0
	if t.nodes[i].Dim < dimNone {
		ihave = 1
	}
	if err := sub.GatherInts([]int{ihave}, sources, 0); err != nil {
		return err
	}
	if err := sub.BroadcastInts(sources, 0); err != nil {
		return err
	}

	if sources[0] == 0 {
		owner := -1
		for p := 1; p < t.nprocs; p++ {
			if sources[p] != 0 {
				owner = p
				break
			}
		}
		if owner == -1 {
			t.deleteDescendants(i)
			return nil
		}

		if owner == t.myID {
			data := t.packNode(i)
			if err := t.comm.Send(data[:], 0, tagReduceNode); err != nil {
				return err
			}
		} else if t.myID == 0 {
			var data [packedNodeLen]float64
			if err := t.comm.Receive(data[:], owner, tagReduceNode); err != nil {
				return err
			}
			t.unpackNode(i, data)
		}
	}

	if err := t.reduceData(t.nodes[i].Left, sub, sources); err != nil {
		return err
	}
	return t.reduceData(t.nodes[i].Right, sub, sources)
}

// broadcastData pushes rank 0's reconciled node contents down the tree
// in preorder.
func (t *Tree) broadcastData(i int32, sub *SubGroup) error {
	if t.nodes[i].Left == nilNode {
		return nil
	}

	var data [packedNodeLen]float64
	if t.myID == 0 {
		data = t.packNode(i)
	}
	if err := sub.BroadcastFloat64s(data[:], 0); err != nil {
		return err
	}
	if t.myID > 0 {
		t.unpackNode(i, data)
	}

	if err := t.broadcastData(t.nodes[i].Left, sub); err != nil {
		return err
	}
	return t.broadcastData(t.nodes[i].Right, sub)
}

// checkFixRegionBoundaries rewrites child bounds on rank 0 so sibling
// regions meet exactly on the split plane and match the parent along
// the other dimensions. Small floating-point drift accumulates here
// otherwise, and different processes would disagree in the last bits.
func (t *Tree) checkFixRegionBoundaries(i int32) {
	n := t.nodes[i]
	if n.Left == nilNode {
		return
	}

	splitDim := n.Dim
	left := &t.nodes[n.Left]
	right := &t.nodes[n.Right]

	for d := 0; d < 3; d++ {
		if left.Bounds[2*d] != n.Bounds[2*d] {
			left.Bounds[2*d] = n.Bounds[2*d]
		}
		if right.Bounds[2*d+1] != n.Bounds[2*d+1] {
			right.Bounds[2*d+1] = n.Bounds[2*d+1]
		}

		if d != splitDim {
			// The dimension this node did not divide along.
			if left.Bounds[2*d+1] != n.Bounds[2*d+1] {
				left.Bounds[2*d+1] = n.Bounds[2*d+1]
			}
			if right.Bounds[2*d] != n.Bounds[2*d] {
				right.Bounds[2*d] = n.Bounds[2*d]
			}
		} else if left.Bounds[2*d+1] != right.Bounds[2*d] {
			left.Bounds[2*d+1] = right.Bounds[2*d]
		}
	}

	t.checkFixRegionBoundaries(n.Left)
	t.checkFixRegionBoundaries(n.Right)
}
