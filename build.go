package pkdtree

import (
	"fmt"
	"math"

	"go.uber.org/zap"
)

// Build constructs the tree from this process's local points, a flat
// array of 3*n float32 (x, y, z per point). It is a collective call:
// every rank must invoke it, and it returns only when the build has
// finished (or failed) everywhere. The caller's slice is read, never
// permuted; it must not be mutated until Build returns.
//
// The root volume is the global bounding box of the points. When the
// points are centroids of cells that occupy more space than their
// centers, use BuildWithVolume so coincident centroids inside a real
// volume still build.
func (t *Tree) Build(points []float32) error {
	return t.build(points, nil)
}

// BuildWithVolume is Build with this process's dataset bounding box
// supplied explicitly. The global volume is the reduction of every
// process's box and must contain all input points; a box tighter than
// the data would be clipped against during boundary reconciliation.
func (t *Tree) BuildWithVolume(points []float32, datasetBounds Bounds) error {
	return t.build(points, &datasetBounds)
}

func (t *Tree) build(points []float32, datasetBounds *Bounds) error {
	done := t.tm.scope("Build")
	defer done()

	t.invalidate()

	world := NewSubGroup(t.comm, 0, t.nprocs-1, tagSetup)

	localBad := 0
	if len(points)%3 != 0 {
		localBad = 1
	}
	if fail, err := t.allCheckForFailure(world, localBad, "Build", "invalid point array"); err != nil {
		return err
	} else if fail {
		return fmt.Errorf("pkdtree: point array length %d is not a multiple of 3", len(points))
	}

	if err := t.allCheckParameters(world); err != nil {
		return err
	}

	dir, err := buildIndexDirectory(world, len(points)/3)
	if err != nil {
		return err
	}
	t.dir = dir
	t.totalNumCells = dir.totalCells

	if dir.totalCells == 0 {
		t.releaseBuildState()
		return ErrDegenerateVolume
	}

	// The degenerate-volume decision below is made from globally
	// reduced values, so every rank returns the same error.
	volBounds, err := t.volumeBounds(world, points, datasetBounds)
	if err != nil {
		t.releaseBuildState()
		return err
	}

	t.localPoints = points
	t.buf = newPointBuffer(t.comm, dir, points)

	if err := t.breadthFirstDivide(volBounds); err != nil {
		t.releaseBuildState()
		return err
	}

	// Barrier: nobody proceeds to completion until every rank has
	// finished dividing.
	postDivide := NewSubGroup(t.comm, 0, t.nprocs-1, tagPostDivide)
	if fail, err := t.allCheckForFailure(postDivide, 0, "BreadthFirstDivide", "build error"); err != nil {
		t.releaseBuildState()
		return err
	} else if fail {
		t.releaseBuildState()
		return fmt.Errorf("pkdtree: breadth-first divide failed")
	}

	completion := NewSubGroup(t.comm, 0, t.nprocs-1, tagCompletion)
	if err := t.completeTree(completion); err != nil {
		t.releaseBuildState()
		return err
	}

	t.canonicalize()
	t.numberRegions()
	t.actualLevel = t.depth(t.root)

	// The double buffer was only needed for the divide.
	t.buf = nil

	if err := t.updateRegionAssignment(t.cfg.RegionAssignment, t.cfg.UserAssignmentMap); err != nil {
		t.releaseBuildState()
		return err
	}

	tables := NewSubGroup(t.comm, 0, t.nprocs-1, tagTables)
	if err := t.createProcessCellCountData(tables); err != nil {
		t.releaseBuildState()
		return err
	}

	t.dir = nil
	t.localPoints = nil
	return nil
}

// invalidate discards the tree and every table derived from it.
func (t *Tree) invalidate() {
	t.nodes = nil
	t.root = nilNode
	t.regionNode = nil
	t.numRegions = 0
	t.actualLevel = 0
	t.totalNumCells = 0

	t.regionToProc = nil
	t.procToRegions = nil
	t.numRegionsAssigned = nil

	t.freeProcessDataTables()
}

// releaseBuildState drops everything a failed build left behind: no
// partial tree survives.
func (t *Tree) releaseBuildState() {
	t.invalidate()
	t.buf = nil
	t.dir = nil
	t.localPoints = nil
}

func (t *Tree) freeProcessDataTables() {
	t.dataLocation = nil
	t.numProcsInRegion = nil
	t.processList = nil
	t.cellCountList = nil
	t.numRegionsInProcess = nil
	t.parallelRegionList = nil
}

// allCheckForFailure turns one process's local failure into a global
// one: a reduce-sum of the flags followed by a broadcast of the vote.
// Every rank learns whether any rank failed, so all can abort the
// phase together.
func (t *Tree) allCheckForFailure(sub *SubGroup, rc int, where, how string) (bool, error) {
	vote := rc
	if t.nprocs > 1 {
		out := []int{0}
		if err := sub.ReduceSumInts([]int{rc}, out, 0); err != nil {
			return false, err
		}
		if err := sub.BroadcastInts(out, 0); err != nil {
			return false, err
		}
		vote = out[0]
	}
	if vote == 0 {
		return false, nil
	}
	if rc != 0 {
		t.warnf("%s on my process (%s)", how, where)
	} else {
		t.warnf("%s on a remote process (%s)", how, where)
	}
	return true, nil
}

// allCheckParameters reconciles the tunables that shape the build.
// There is no point dividing unless they match everywhere, so rank 0's
// values win and any overridden rank logs a warning.
func (t *Tree) allCheckParameters(sub *SubGroup) error {
	done := t.tm.scope("AllCheckParameters")
	defer done()

	param := []int{
		t.cfg.ValidDirections,
		t.cfg.MinCells,
		t.cfg.MaxLevel,
		t.cfg.NumberOfRegionsOrLess,
		t.cfg.NumberOfRegionsOrMore,
		int(t.cfg.RegionAssignment),
	}

	if t.myID == 0 {
		return sub.BroadcastInts(param, 0)
	}

	param0 := make([]int, len(param))
	if err := sub.BroadcastInts(param0, 0); err != nil {
		return err
	}

	diff := false
	for i := range param {
		if param[i] != param0[i] {
			diff = true
			break
		}
	}
	if diff {
		t.warnf("changing my runtime parameters to match process 0")
		t.cfg.ValidDirections = param0[0]
		t.cfg.MinCells = param0[1]
		t.cfg.MaxLevel = param0[2]
		t.cfg.NumberOfRegionsOrLess = param0[3]
		t.cfg.NumberOfRegionsOrMore = param0[4]
		t.cfg.RegionAssignment = AssignmentPolicy(param0[5])
	}
	return nil
}

// volumeBounds computes the global bounding box of the input, expanded
// a little so no point sits exactly on the hull. A single ReduceMin
// over (min, -max) gets both extremes in one collective. When a
// dataset box is supplied it stands in for the local point bounds.
func (t *Tree) volumeBounds(sub *SubGroup, points []float32, datasetBounds *Bounds) (Bounds, error) {
	done := t.tm.scope("VolumeBounds")
	defer done()

	localMin := [3]float64{math.Inf(1), math.Inf(1), math.Inf(1)}
	localMax := [3]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	if datasetBounds != nil {
		for d := 0; d < 3; d++ {
			localMin[d] = datasetBounds[2*d]
			localMax[d] = datasetBounds[2*d+1]
		}
	} else {
		for i := 0; i+2 < len(points); i += 3 {
			for d := 0; d < 3; d++ {
				v := float64(points[i+d])
				if v < localMin[d] {
					localMin[d] = v
				}
				if v > localMax[d] {
					localMax[d] = v
				}
			}
		}
	}

	reduceVec := []float64{
		localMin[0], localMin[1], localMin[2],
		-localMax[0], -localMax[1], -localMax[2],
	}
	global := make([]float64, 6)
	if err := sub.ReduceMinFloat64s(reduceVec, global, 0); err != nil {
		return Bounds{}, err
	}
	if err := sub.BroadcastFloat64s(global, 0); err != nil {
		return Bounds{}, err
	}

	var vol Bounds
	var diff [3]float64
	aLittle := 0.0
	for d := 0; d < 3; d++ {
		vol[2*d] = global[d]
		vol[2*d+1] = -global[d+3]
		diff[d] = vol[2*d+1] - vol[2*d]
		if diff[d] > aLittle {
			aLittle = diff[d]
		}
	}

	aLittle /= 100.0
	if aLittle <= 0.0 {
		t.warnf("degenerate volume: input spans no extent in any direction")
		return Bounds{}, ErrDegenerateVolume
	}

	// Push flat dimensions out by a visible amount and every
	// dimension out by a small fudge so boundary points are interior.
	fudge := aLittle * 10e-4
	for d := 0; d < 3; d++ {
		if diff[d] <= 0 {
			vol[2*d] -= aLittle
			vol[2*d+1] += aLittle
		} else {
			vol[2*d] -= fudge
			vol[2*d+1] += fudge
		}
	}
	return vol, nil
}

// nodeInfo is one pending entry of the breadth-first divide queue.
type nodeInfo struct {
	node  int32
	L     int
	level int
	tag   int
}

// breadthFirstDivide constructs this process's part of the tree: a
// FIFO of pending regions, each divided by the sub-group of ranks
// owning its global index range. Child sub-groups inherit the parent's
// tag shifted left, so concurrently active disjoint groups never share
// a tag.
func (t *Tree) breadthFirstDivide(volBounds Bounds) error {
	done := t.tm.scope("BreadthFirstDivide")
	defer done()

	t.root = t.newNode()
	root := t.node(t.root)
	root.Bounds = volBounds
	root.DataBounds = volBounds
	root.NumPoints = t.totalNumCells

	var queue []nodeInfo

	midpt, err := t.divideRegion(t.root, 0, 0, 0x00000001)
	if err != nil {
		return err
	}
	if midpt >= 0 {
		queue = append(queue,
			nodeInfo{node: t.nodes[t.root].Left, L: 0, level: 1, tag: 0x00000002},
			nodeInfo{node: t.nodes[t.root].Right, L: midpt, level: 1, tag: 0x00000003},
		)
	}

	for len(queue) > 0 {
		info := queue[0]
		queue = queue[1:]

		midpt, err = t.divideRegion(info.node, info.L, info.level, info.tag)
		if err != nil {
			return err
		}
		if midpt >= 0 {
			queue = append(queue,
				nodeInfo{node: t.nodes[info.node].Left, L: info.L, level: info.level + 1, tag: info.tag << 1},
				nodeInfo{node: t.nodes[info.node].Right, L: midpt, level: info.level + 1, tag: info.tag<<1 | 1},
			)
		}
	}
	return nil
}

// divideTest decides whether a region of the given size at the given
// level is divided further.
func (t *Tree) divideTest(numberOfPoints, level int) bool {
	if level >= t.cfg.MaxLevel {
		return false
	}
	if t.cfg.MinCells > 0 && t.cfg.MinCells > numberOfPoints/2 {
		return false
	}
	nRegionsNow := 1 << level
	nRegionsNext := nRegionsNow << 1
	if t.cfg.NumberOfRegionsOrLess > 0 && nRegionsNext > t.cfg.NumberOfRegionsOrLess {
		return false
	}
	if t.cfg.NumberOfRegionsOrMore > 0 && nRegionsNow >= t.cfg.NumberOfRegionsOrMore {
		return false
	}
	return true
}

// selectCutDirection picks the permitted dimension with the largest
// data-bounds extent.
func (t *Tree) selectCutDirection(node int32) int {
	db := t.nodes[node].DataBounds
	best, bestExtent := -1, math.Inf(-1)
	for d := 0; d < 3; d++ {
		if t.cfg.ValidDirections&(1<<d) == 0 {
			continue
		}
		if e := db.Extent(d); e > bestExtent {
			best, bestExtent = d, e
		}
	}
	return best
}

// divideRegion splits one region in two, or returns -1 when the region
// stays a leaf (stop test hit, or this rank owns none of its range).
// Ranks owning any of [L, R] run the selection as a sub-group scoped
// by tag.
func (t *Tree) divideRegion(node int32, L, level, tag int) (int, error) {
	numPoints := t.nodes[node].NumPoints
	if !t.divideTest(numPoints, level) {
		return -1, nil
	}

	R := L + numPoints - 1

	if numPoints < 2 {
		// Not enough points for a collective selection: the owner of
		// the range builds both children locally and keeps ownership
		// of the whole subtree. The single point, if any, goes left.
		if t.dir.owner(L) != t.myID {
			return -1, nil
		}

		maxdim := t.selectCutDirection(node)
		t.nodes[node].Dim = maxdim
		left, right := t.addChildren(node)
		bounds := t.nodes[node].Bounds

		var coord float64
		val := t.buf.val(L)
		if numPoints > 0 && val != nil {
			coord = float64(val[maxdim])
		} else {
			val = nil
			coord = (bounds[2*maxdim] + bounds[2*maxdim+1]) * 0.5
		}

		lb := bounds
		lb[2*maxdim+1] = coord
		rb := bounds
		rb[2*maxdim] = coord

		t.nodes[left].Bounds = lb
		t.nodes[left].NumPoints = numPoints
		t.nodes[right].Bounds = rb
		t.nodes[right].NumPoints = 0

		if val != nil {
			db := Bounds{
				float64(val[0]), float64(val[0]),
				float64(val[1]), float64(val[1]),
				float64(val[2]), float64(val[2]),
			}
			t.nodes[left].DataBounds = db
			t.nodes[right].DataBounds = db
		} else {
			t.nodes[left].DataBounds = lb
			t.nodes[right].DataBounds = rb
		}
		return L, nil
	}

	p1 := t.dir.owner(L)
	p2 := t.dir.owner(R)
	if t.myID < p1 || t.myID > p2 {
		return -1, nil
	}

	sub := NewSubGroup(t.comm, p1, p2, tag)

	maxdim := t.selectCutDirection(node)
	t.nodes[node].Dim = maxdim

	midpt, err := t.selectMedian(maxdim, L, R, sub)
	if err != nil {
		return 0, err
	}

	if midpt < L+1 {
		// Couldn't divide along maxdim: every value equal. Try the
		// remaining permitted dimensions in order; if all are
		// exhausted the points are coincident, so split the index
		// range down the middle and keep going.
		t.log.Debug("could not divide",
			zap.Int("dim", maxdim), zap.Int("L", L), zap.Int("R", R))

		newdim := XDim - 1
		fellBack := false
	retry:
		for midpt < L+1 {
			for {
				newdim++
				if newdim > ZDim {
					t.log.Debug("coincident points",
						zap.Int("L", L), zap.Int("R", R))
					t.nodes[node].Dim = maxdim
					// One point always ends up on the left.
					midpt = (L+R)/2 + 1
					fellBack = true
					break retry
				}
				if newdim != maxdim && t.cfg.ValidDirections&(1<<newdim) != 0 {
					break
				}
			}
			t.nodes[node].Dim = newdim
			midpt, err = t.selectMedian(newdim, L, R, sub)
			if err != nil {
				return 0, err
			}
		}
		if !fellBack {
			maxdim = newdim
		}
	}

	dataBounds, err := t.getDataBounds(L, midpt, R, sub)
	if err != nil {
		return 0, err
	}

	left, right := t.addChildren(node)

	// Cut halfway between the left side's data maximum and the right
	// side's data minimum: the empty slab between them puts any point
	// exactly on the cut deterministically on one side.
	coord := (float64(dataBounds[2*maxdim+1]) + float64(dataBounds[6+2*maxdim])) * 0.5

	bounds := t.nodes[node].Bounds
	lb := bounds
	lb[2*maxdim+1] = coord
	rb := bounds
	rb[2*maxdim] = coord

	t.nodes[left].Bounds = lb
	t.nodes[left].NumPoints = midpt - L
	t.nodes[right].Bounds = rb
	t.nodes[right].NumPoints = R - midpt + 1

	for d := 0; d < 6; d++ {
		t.nodes[left].DataBounds[d] = float64(dataBounds[d])
		t.nodes[right].DataBounds[d] = float64(dataBounds[6+d])
	}

	return midpt, nil
}

// getLocalMinMax computes this process's min/max over its part of
// [L, R]. A process holding none of the range contributes inverted
// extremes taken from the root bounds, which reduce away.
func (t *Tree) getLocalMinMax(L, R int) (minv, maxv [3]float32) {
	from := t.dir.start(t.myID)
	to := t.dir.end(t.myID)
	if L > from {
		from = L
	}
	if R < to {
		to = R
	}

	if from > to {
		rootBounds := t.nodes[t.root].Bounds
		for d := 0; d < 3; d++ {
			minv[d] = float32(rootBounds[2*d+1])
			maxv[d] = float32(rootBounds[2*d])
		}
		return minv, maxv
	}

	v := t.buf.val(from)
	for d := 0; d < 3; d++ {
		minv[d] = v[d]
		maxv[d] = v[d]
	}
	for g := from + 1; g <= to; g++ {
		v = t.buf.val(g)
		for d := 0; d < 3; d++ {
			if v[d] < minv[d] {
				minv[d] = v[d]
			} else if v[d] > maxv[d] {
				maxv[d] = v[d]
			}
		}
	}
	return minv, maxv
}

// getDataBounds computes the tight bounding boxes of the two child
// ranges [L, K-1] and [K, R] over the sub-group. Layout of the result:
// left box in [0:6], right box in [6:12], each as
// (xmin, xmax, ymin, ymax, zmin, zmax).
func (t *Tree) getDataBounds(L, K, R int, sub *SubGroup) ([12]float32, error) {
	var out [12]float32

	minLeft, maxLeft := t.getLocalMinMax(L, K-1)
	minRight, maxRight := t.getLocalMinMax(K, R)

	var gMinLeft, gMaxLeft, gMinRight, gMaxRight [3]float32
	steps := []struct {
		in     []float32
		out    []float32
		reduce func(in, out []float32, root int) error
	}{
		{minLeft[:], gMinLeft[:], sub.ReduceMinFloat32s},
		{maxLeft[:], gMaxLeft[:], sub.ReduceMaxFloat32s},
		{minRight[:], gMinRight[:], sub.ReduceMinFloat32s},
		{maxRight[:], gMaxRight[:], sub.ReduceMaxFloat32s},
	}
	for _, st := range steps {
		if err := st.reduce(st.in, st.out, 0); err != nil {
			return out, err
		}
		if err := sub.BroadcastFloat32s(st.out, 0); err != nil {
			return out, err
		}
	}

	for d := 0; d < 3; d++ {
		out[2*d] = gMinLeft[d]
		out[2*d+1] = gMaxLeft[d]
		out[6+2*d] = gMinRight[d]
		out[6+2*d+1] = gMaxRight[d]
	}
	return out, nil
}
