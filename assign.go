package pkdtree

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Region-to-process assignment and the derived lookup tables. The
// assignment maps are deterministic functions of the completed tree,
// so every process computes them locally with no communication; only
// the data-location tables need collectives.

// updateRegionAssignment applies the configured policy after a build.
func (t *Tree) updateRegionAssignment(policy AssignmentPolicy, userMap []int) error {
	done := t.tm.scope("UpdateRegionAssignment")
	defer done()

	switch policy {
	case ContiguousAssignment:
		return t.assignRegionsContiguous()
	case RoundRobinAssignment:
		return t.assignRegionsRoundRobin()
	case UserDefinedAssignment:
		return t.AssignRegions(userMap)
	case NoRegionAssignment:
		t.assignment = NoRegionAssignment
		t.regionToProc = nil
		t.procToRegions = nil
		t.numRegionsAssigned = nil
		return nil
	}
	return fmt.Errorf("pkdtree: invalid assignment policy %d", policy)
}

// SetRegionAssignment reassigns the regions of a built tree under a
// different policy. The tree itself is untouched; only the
// region-to-process maps change. For UserDefinedAssignment use
// AssignRegions instead.
func (t *Tree) SetRegionAssignment(policy AssignmentPolicy) error {
	if policy == UserDefinedAssignment {
		return errors.New("pkdtree: use AssignRegions for a user-defined map")
	}
	return t.updateRegionAssignment(policy, nil)
}

// AssignRegions installs a caller-supplied region→process map.
func (t *Tree) AssignRegions(regionMap []int) error {
	if t.root == nilNode {
		return errors.New("pkdtree: no tree built")
	}
	if len(regionMap) != t.numRegions {
		return fmt.Errorf("pkdtree: assignment map has %d entries for %d regions", len(regionMap), t.numRegions)
	}

	t.allocateAssignmentLists()
	t.assignment = UserDefinedAssignment

	for r, p := range regionMap {
		if p < 0 || p >= t.nprocs {
			t.regionToProc = nil
			t.procToRegions = nil
			t.numRegionsAssigned = nil
			return fmt.Errorf("pkdtree: assignment map names invalid process %d", p)
		}
		t.regionToProc[r] = p
		t.numRegionsAssigned[p]++
	}

	t.buildRegionListsForProcesses()
	return nil
}

func (t *Tree) allocateAssignmentLists() {
	t.regionToProc = make([]int, t.numRegions)
	t.numRegionsAssigned = make([]int, t.nprocs)
	t.procToRegions = nil
}

// assignRegionsRoundRobin maps region r to process r mod P.
func (t *Tree) assignRegionsRoundRobin() error {
	t.assignment = RoundRobinAssignment
	if t.root == nilNode {
		return nil
	}

	t.allocateAssignmentLists()

	proc := 0
	for r := 0; r < t.numRegions; r++ {
		t.regionToProc[r] = proc
		t.numRegionsAssigned[proc]++
		proc++
		if proc == t.nprocs {
			proc = 0
		}
	}

	t.buildRegionListsForProcesses()
	return nil
}

// assignRegionsContiguous walks the subtrees at the deepest level with
// at most P nodes and hands out whole subtrees, splitting the tail so
// every process gets a contiguous interval of region ids. Spatially
// adjacent regions land on numerically adjacent processes.
func (t *Tree) assignRegionsContiguous() error {
	t.assignment = ContiguousAssignment
	if t.root == nilNode {
		return nil
	}

	if t.numRegions <= t.nprocs {
		if err := t.assignRegionsRoundRobin(); err != nil {
			return err
		}
		t.assignment = ContiguousAssignment
		return nil
	}

	t.allocateAssignmentLists()

	floorLogP := 0
	for t.nprocs>>floorLogP > 0 {
		floorLogP++
	}
	floorLogP--

	p2 := 1 << floorLogP
	ceilLogP := floorLogP
	if t.nprocs != p2 {
		ceilLogP = floorLogP + 1
	}

	subtrees := t.regionsAtLevel(t.root, floorLogP, nil)

	if floorLogP == ceilLogP {
		for p := 0; p < t.nprocs; p++ {
			t.addProcessRegions(p, subtrees[p])
		}
	} else {
		nodesLeft := 1 << ceilLogP
		procsLeft := t.nprocs
		procID := 0

		for i := 0; i < p2; i++ {
			if nodesLeft > procsLeft || t.nodes[subtrees[i]].Left == nilNode {
				t.addProcessRegions(procID, subtrees[i])
				procsLeft--
				procID++
			} else {
				t.addProcessRegions(procID, t.nodes[subtrees[i]].Left)
				t.addProcessRegions(procID+1, t.nodes[subtrees[i]].Right)
				procsLeft -= 2
				procID += 2
			}
			nodesLeft -= 2
		}
	}

	t.buildRegionListsForProcesses()
	return nil
}

// addProcessRegions assigns every leaf region under node to procID.
func (t *Tree) addProcessRegions(procID int, node int32) {
	for _, r := range t.leafIDsUnder(node, nil) {
		t.regionToProc[r] = procID
		t.numRegionsAssigned[procID]++
	}
}

// buildRegionListsForProcesses derives the per-process region lists
// from regionToProc by counting sort, so each list comes out in
// ascending region order.
func (t *Tree) buildRegionListsForProcesses() {
	t.procToRegions = make([][]int, t.nprocs)
	count := make([]int, t.nprocs)
	for p := 0; p < t.nprocs; p++ {
		t.procToRegions[p] = make([]int, t.numRegionsAssigned[p])
	}
	for r, p := range t.regionToProc {
		t.procToRegions[p][count[p]] = r
		count[p]++
	}
}

// createProcessCellCountData builds the tables saying which processes
// hold data for which regions and how many points each holds. Each
// process locates its own points in the completed tree, then a
// gather+broadcast shares the tallies.
func (t *Tree) createProcessCellCountData(sub *SubGroup) error {
	done := t.tm.scope("CreateProcessCellCountData")
	defer done()

	nRegions := t.numRegions

	cellCounts := make([]int, nRegions)
	bad := 0
	for i := 0; i+2 < len(t.localPoints); i += 3 {
		r := t.RegionOf(
			float64(t.localPoints[i]),
			float64(t.localPoints[i+1]),
			float64(t.localPoints[i+2]),
		)
		if r < 0 || r >= nRegions {
			bad = 1
			break
		}
		cellCounts[r]++
	}

	if fail, err := t.allCheckForFailure(sub, bad, "CreateProcessCellCountData", "corrupt data"); err != nil {
		return err
	} else if fail {
		t.freeProcessDataTables()
		return errors.New("pkdtree: point outside every region")
	}

	myData := make([]int, nRegions)
	for r, c := range cellCounts {
		if c > 0 {
			myData[r] = 1
		}
	}

	t.dataLocation = make([]int, t.nprocs*nRegions)
	if t.nprocs > 1 {
		if err := sub.GatherInts(myData, t.dataLocation, 0); err != nil {
			return err
		}
		if err := sub.BroadcastInts(t.dataLocation, 0); err != nil {
			return err
		}
	} else {
		copy(t.dataLocation, myData)
	}

	t.numProcsInRegion = make([]int, nRegions)
	t.numRegionsInProcess = make([]int, t.nprocs)
	for p := 0; p < t.nprocs; p++ {
		for r := 0; r < nRegions; r++ {
			if t.dataLocation[p*nRegions+r] != 0 {
				t.numProcsInRegion[r]++
				t.numRegionsInProcess[p]++
			}
		}
	}

	t.processList = make([][]int, nRegions)
	t.parallelRegionList = make([][]int, t.nprocs)
	for p := 0; p < t.nprocs; p++ {
		for r := 0; r < nRegions; r++ {
			if t.dataLocation[p*nRegions+r] != 0 {
				t.processList[r] = append(t.processList[r], p)
				t.parallelRegionList[p] = append(t.parallelRegionList[p], r)
			}
		}
	}

	// Cell counts per process per region, parallel to processList.
	all := cellCounts
	if t.nprocs > 1 {
		all = make([]int, t.nprocs*nRegions)
		if err := sub.GatherInts(cellCounts, all, 0); err != nil {
			return err
		}
		if err := sub.BroadcastInts(all, 0); err != nil {
			return err
		}
	}

	t.cellCountList = make([][]int, nRegions)
	for p := 0; p < t.nprocs; p++ {
		procCount := all[p*nRegions : (p+1)*nRegions]
		for r := 0; r < nRegions; r++ {
			if procCount[r] > 0 {
				t.cellCountList[r] = append(t.cellCountList[r], procCount[r])
			}
		}
	}

	t.logTables()
	return nil
}

// logTables dumps the assignment and data-location tables at debug
// level.
func (t *Tree) logTables() {
	if !t.log.Core().Enabled(zapcore.DebugLevel) {
		return
	}
	t.log.Debug("distributed cell totals",
		zap.Int("totalCells", t.totalNumCells),
		zap.Int("averagePerProcess", t.totalNumCells/t.nprocs))
	if len(t.regionToProc) > 0 {
		t.log.Debug("region assignments", zap.Ints("regionToProcess", t.regionToProc))
	}
	for r := 0; r < t.numRegions; r++ {
		if t.numProcsInRegion[r] == 0 {
			continue
		}
		t.log.Debug("processes holding data for region",
			zap.Int("region", r),
			zap.Ints("processes", t.processList[r]),
			zap.Ints("cells", t.cellCountList[r]))
	}
	for p := 0; p < t.nprocs; p++ {
		if t.numRegionsInProcess[p] == 0 {
			continue
		}
		t.log.Debug("regions held by process",
			zap.Int("process", p),
			zap.Ints("regions", t.parallelRegionList[p]))
	}
}
