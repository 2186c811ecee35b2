package pkdtree

import "testing"

// buildSixteenRegions builds a 16-region tree over 4 processes: 64
// line points, 4 per leaf.
func buildSixteenRegions(t *testing.T, policy AssignmentPolicy) []*Tree {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MinCells = 2
	cfg.NumberOfRegionsOrLess = 16
	cfg.RegionAssignment = policy
	trees := buildAll(t, 4, cfg, splitAcross(linePoints(64), 4))
	if trees[0].NumRegions() != 16 {
		t.Fatalf("NumRegions = %d, want 16", trees[0].NumRegions())
	}
	return trees
}

func TestAssign_RoundRobinVsContiguous(t *testing.T) {
	// Scenario: P=4, R=16. Round-robin deals regions out mod 4;
	// contiguous gives each process a block of 4.
	rr := buildSixteenRegions(t, RoundRobinAssignment)[0]
	for r := 0; r < 16; r++ {
		if got := rr.ProcessOfRegion(r); got != r%4 {
			t.Errorf("round robin: region %d -> %d, want %d", r, got, r%4)
		}
	}
	wantRR := []int{2, 6, 10, 14}
	gotRR := rr.RegionsOfProcess(2)
	if len(gotRR) != len(wantRR) {
		t.Fatalf("RegionsOfProcess(2) = %v, want %v", gotRR, wantRR)
	}
	for i := range wantRR {
		if gotRR[i] != wantRR[i] {
			t.Errorf("RegionsOfProcess(2) = %v, want %v", gotRR, wantRR)
		}
	}

	cont := buildSixteenRegions(t, ContiguousAssignment)[0]
	for r := 0; r < 16; r++ {
		if got := cont.ProcessOfRegion(r); got != r/4 {
			t.Errorf("contiguous: region %d -> %d, want %d", r, got, r/4)
		}
	}
	wantC := []int{8, 9, 10, 11}
	gotC := cont.RegionsOfProcess(2)
	for i := range wantC {
		if gotC[i] != wantC[i] {
			t.Errorf("RegionsOfProcess(2) = %v, want %v", gotC, wantC)
		}
	}
}

func TestAssign_SwappingPoliciesLeavesTreeUnchanged(t *testing.T) {
	tree := buildSixteenRegions(t, ContiguousAssignment)[0]
	before := tree.Checksum()

	if err := tree.SetRegionAssignment(RoundRobinAssignment); err != nil {
		t.Fatal(err)
	}
	if tree.ProcessOfRegion(5) != 1 {
		t.Errorf("after swap to round robin, region 5 -> %d, want 1", tree.ProcessOfRegion(5))
	}
	if err := tree.SetRegionAssignment(ContiguousAssignment); err != nil {
		t.Fatal(err)
	}
	if tree.ProcessOfRegion(5) != 1 {
		t.Errorf("after swap back, region 5 -> %d, want 1", tree.ProcessOfRegion(5))
	}

	if tree.Checksum() != before {
		t.Error("swapping assignment policies changed the tree")
	}
}

func TestAssign_RegionProcessRoundTrip(t *testing.T) {
	// process_of_region over regions_of_process(p) is constantly p.
	for _, policy := range []AssignmentPolicy{ContiguousAssignment, RoundRobinAssignment} {
		tree := buildSixteenRegions(t, policy)[0]
		for p := 0; p < tree.NumProcesses(); p++ {
			for _, r := range tree.RegionsOfProcess(p) {
				if got := tree.ProcessOfRegion(r); got != p {
					t.Errorf("policy %d: ProcessOfRegion(%d) = %d, want %d", policy, r, got, p)
				}
			}
			if tree.NumRegionsAssigned(p) != len(tree.RegionsOfProcess(p)) {
				t.Errorf("policy %d: NumRegionsAssigned(%d) inconsistent", policy, p)
			}
		}
	}
}

func TestAssign_UserDefined(t *testing.T) {
	tree := buildSixteenRegions(t, ContiguousAssignment)[0]

	userMap := make([]int, 16)
	for r := range userMap {
		userMap[r] = 3 - r%4
	}
	if err := tree.AssignRegions(userMap); err != nil {
		t.Fatal(err)
	}
	for r := range userMap {
		if got := tree.ProcessOfRegion(r); got != userMap[r] {
			t.Errorf("region %d -> %d, want %d", r, got, userMap[r])
		}
	}

	if err := tree.AssignRegions([]int{0, 1}); err == nil {
		t.Error("short map accepted")
	}
	badMap := make([]int, 16)
	badMap[3] = 99
	if err := tree.AssignRegions(badMap); err == nil {
		t.Error("out-of-range process accepted")
	}
}

func TestAssign_NonePolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinCells = 4
	cfg.RegionAssignment = NoRegionAssignment

	trees := buildAll(t, 2, cfg, splitAcross(linePoints(32), 2))
	tree := trees[0]

	if got := tree.ProcessOfRegion(0); got != -1 {
		t.Errorf("ProcessOfRegion with no assignment = %d, want -1", got)
	}
	if got := tree.RegionsOfProcess(0); got != nil {
		t.Errorf("RegionsOfProcess with no assignment = %v, want nil", got)
	}

	// The data tables are independent of the assignment policy.
	if !tree.HasData(0, 0) {
		t.Error("HasData(0, 0) = false; rank 0 owns the low regions' points")
	}
}

func TestAssign_ContiguousWithFewRegions(t *testing.T) {
	// R <= P degenerates to one region per process, round-robin style.
	cfg := DefaultConfig()
	cfg.MinCells = 8
	cfg.NumberOfRegionsOrLess = 4

	trees := buildAll(t, 4, cfg, splitAcross(linePoints(32), 4))
	tree := trees[0]

	if tree.NumRegions() != 4 {
		t.Fatalf("NumRegions = %d, want 4", tree.NumRegions())
	}
	for r := 0; r < 4; r++ {
		if got := tree.ProcessOfRegion(r); got != r {
			t.Errorf("region %d -> %d, want %d", r, got, r)
		}
	}
}

func TestAssign_ContiguousNonPowerOfTwoProcesses(t *testing.T) {
	// P=3 sits between 2 and 4: the first subtree goes whole to one
	// process, the second is split between two. Each process still
	// gets a contiguous interval of region ids.
	cfg := DefaultConfig()
	cfg.MinCells = 2
	cfg.NumberOfRegionsOrLess = 8

	trees := buildAll(t, 3, cfg, splitAcross(linePoints(48), 3))
	tree := trees[0]

	if tree.NumRegions() != 8 {
		t.Fatalf("NumRegions = %d, want 8", tree.NumRegions())
	}

	total := 0
	prevEnd := -1
	for p := 0; p < 3; p++ {
		regions := tree.RegionsOfProcess(p)
		if len(regions) == 0 {
			t.Fatalf("process %d got no regions", p)
		}
		total += len(regions)
		for i := 1; i < len(regions); i++ {
			if regions[i] != regions[i-1]+1 {
				t.Errorf("process %d regions %v not contiguous", p, regions)
			}
		}
		if regions[0] != prevEnd+1 {
			t.Errorf("process %d starts at %d, want %d", p, regions[0], prevEnd+1)
		}
		prevEnd = regions[len(regions)-1]
	}
	if total != 8 {
		t.Errorf("assigned %d regions, want 8", total)
	}
}
