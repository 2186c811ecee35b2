package pkdtree

// Read-only queries against the completed tree. Every query returns a
// sentinel (-1, false, nil) rather than failing when no tree has been
// built or the arguments are out of range, so callers can probe
// freely.

// RegionBounds returns region r's rectangular extent as
// (xmin, xmax, ymin, ymax, zmin, zmax).
func (t *Tree) RegionBounds(r int) (Bounds, bool) {
	if t.root == nilNode || r < 0 || r >= t.numRegions {
		return Bounds{}, false
	}
	return t.nodes[t.regionNode[r]].Bounds, true
}

// RegionDataBounds returns the tight bounding box of the points inside
// region r.
func (t *Tree) RegionDataBounds(r int) (Bounds, bool) {
	if t.root == nilNode || r < 0 || r >= t.numRegions {
		return Bounds{}, false
	}
	return t.nodes[t.regionNode[r]].DataBounds, true
}

// RegionNumPoints returns the number of points the build placed in
// region r, or -1.
func (t *Tree) RegionNumPoints(r int) int {
	if t.root == nilNode || r < 0 || r >= t.numRegions {
		return -1
	}
	return t.nodes[t.regionNode[r]].NumPoints
}

// RegionOf returns the id of the leaf region containing (x, y, z), or
// -1 if the point lies outside the root bounds. A point exactly on a
// cut plane belongs to the right-hand region.
func (t *Tree) RegionOf(x, y, z float64) int {
	if t.root == nilNode {
		return -1
	}
	if !t.nodes[t.root].Bounds.Contains(x, y, z) {
		return -1
	}
	v := [3]float64{x, y, z}
	i := t.root
	for t.nodes[i].Left != nilNode {
		d := t.nodes[i].Dim
		cut := t.nodes[t.nodes[i].Left].Bounds[2*d+1]
		if v[d] < cut {
			i = t.nodes[i].Left
		} else {
			i = t.nodes[i].Right
		}
	}
	return int(t.nodes[i].Region)
}

// ProcessOfRegion returns the process assigned to region r, or -1.
func (t *Tree) ProcessOfRegion(r int) int {
	if len(t.regionToProc) == 0 || r < 0 || r >= t.numRegions {
		return -1
	}
	return t.regionToProc[r]
}

// RegionsOfProcess returns the sorted region ids assigned to process
// p, or nil. The returned slice is shared; callers must not modify it.
func (t *Tree) RegionsOfProcess(p int) []int {
	if len(t.procToRegions) == 0 || p < 0 || p >= t.nprocs {
		return nil
	}
	return t.procToRegions[p]
}

// NumRegionsAssigned returns how many regions are assigned to process
// p, or 0.
func (t *Tree) NumRegionsAssigned(p int) int {
	if len(t.numRegionsAssigned) == 0 || p < 0 || p >= t.nprocs {
		return 0
	}
	return t.numRegionsAssigned[p]
}

// HasData reports whether process p holds any data points inside
// region r.
func (t *Tree) HasData(p, r int) bool {
	if len(t.dataLocation) == 0 || p < 0 || p >= t.nprocs || r < 0 || r >= t.numRegions {
		return false
	}
	return t.dataLocation[p*t.numRegions+r] != 0
}

// CellCount returns the number of data points process p holds inside
// region r, or 0.
func (t *Tree) CellCount(p, r int) int {
	if len(t.cellCountList) == 0 || p < 0 || p >= t.nprocs || r < 0 || r >= t.numRegions {
		return 0
	}
	for i, proc := range t.processList[r] {
		if proc == p {
			return t.cellCountList[r][i]
		}
	}
	return 0
}

// NumProcessesInRegion returns how many processes hold data for
// region r.
func (t *Tree) NumProcessesInRegion(r int) int {
	if len(t.numProcsInRegion) == 0 || r < 0 || r >= t.numRegions {
		return 0
	}
	return t.numProcsInRegion[r]
}

// ProcessesWithData returns the processes holding data for region r,
// in ascending rank order. The slice is shared; do not modify.
func (t *Tree) ProcessesWithData(r int) []int {
	if len(t.processList) == 0 || r < 0 || r >= t.numRegions {
		return nil
	}
	return t.processList[r]
}

// RegionsWithDataOfProcess returns the regions process p holds data
// for, in ascending region order. The slice is shared; do not modify.
func (t *Tree) RegionsWithDataOfProcess(p int) []int {
	if len(t.parallelRegionList) == 0 || p < 0 || p >= t.nprocs {
		return nil
	}
	return t.parallelRegionList[p]
}

// ViewOrderRegionsInDirection returns all region ids front to back for
// a viewer looking along the given direction of projection.
func (t *Tree) ViewOrderRegionsInDirection(dir [3]float64) []int {
	if t.root == nilNode {
		return nil
	}
	out := make([]int, 0, t.numRegions)
	var walk func(i int32)
	walk = func(i int32) {
		n := t.nodes[i]
		if n.Left == nilNode {
			out = append(out, int(n.Region))
			return
		}
		// Looking toward +d, the low-coordinate child is nearer.
		if dir[n.Dim] >= 0 {
			walk(n.Left)
			walk(n.Right)
		} else {
			walk(n.Right)
			walk(n.Left)
		}
	}
	walk(t.root)
	return out
}

// ViewOrderRegionsFromPosition returns all region ids front to back as
// seen from a camera position.
func (t *Tree) ViewOrderRegionsFromPosition(pos [3]float64) []int {
	if t.root == nilNode {
		return nil
	}
	out := make([]int, 0, t.numRegions)
	var walk func(i int32)
	walk = func(i int32) {
		n := t.nodes[i]
		if n.Left == nilNode {
			out = append(out, int(n.Region))
			return
		}
		cut := t.nodes[n.Left].Bounds[2*n.Dim+1]
		if pos[n.Dim] < cut {
			walk(n.Left)
			walk(n.Right)
		} else {
			walk(n.Right)
			walk(n.Left)
		}
	}
	walk(t.root)
	return out
}

// ViewOrderProcessesInDirection returns the processes owning regions,
// front to back along a direction of projection. Each process appears
// once, at the position of its front-most region, so the order is
// correct for any assignment policy.
func (t *Tree) ViewOrderProcessesInDirection(dir [3]float64) []int {
	return t.processOrder(t.ViewOrderRegionsInDirection(dir))
}

// ViewOrderProcessesFromPosition returns the processes owning regions,
// front to back from a camera position.
func (t *Tree) ViewOrderProcessesFromPosition(pos [3]float64) []int {
	return t.processOrder(t.ViewOrderRegionsFromPosition(pos))
}

func (t *Tree) processOrder(regions []int) []int {
	if len(regions) == 0 || len(t.regionToProc) == 0 {
		return nil
	}
	seen := make([]bool, t.nprocs)
	out := make([]int, 0, t.nprocs)
	for _, r := range regions {
		p := t.regionToProc[r]
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
