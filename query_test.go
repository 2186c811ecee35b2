package pkdtree

import (
	"testing"
)

func TestQuery_RegionOfMatchesLeafBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinCells = 3

	all := randomTriples(200, 616, -20, 20)
	trees := buildAll(t, 3, cfg, splitAcross(all, 3))
	tree := trees[0]

	// Every input point lands in exactly the region whose bounds
	// contain it.
	for i := 0; i < 200; i++ {
		x := float64(all[3*i])
		y := float64(all[3*i+1])
		z := float64(all[3*i+2])
		r := tree.RegionOf(x, y, z)
		if r < 0 {
			t.Fatalf("point %d (%v, %v, %v) outside every region", i, x, y, z)
		}
		b, ok := tree.RegionBounds(r)
		if !ok || !b.Contains(x, y, z) {
			t.Errorf("point %d: region %d bounds %v do not contain it", i, r, b)
		}

		// No other region contains it strictly inside.
		for other := 0; other < tree.NumRegions(); other++ {
			if other == r {
				continue
			}
			ob, _ := tree.RegionBounds(other)
			inside := true
			for d := 0; d < 3; d++ {
				v := [3]float64{x, y, z}[d]
				if v <= ob[2*d] || v >= ob[2*d+1] {
					inside = false
					break
				}
			}
			if inside {
				t.Errorf("point %d strictly inside regions %d and %d", i, r, other)
			}
		}
	}

	if r := tree.RegionOf(1e9, 0, 0); r != -1 {
		t.Errorf("RegionOf far outside = %d, want -1", r)
	}
}

func TestQuery_DataLocationTables(t *testing.T) {
	// 4 ranks own contiguous quarters of a line: rank p's points fall
	// exactly in regions 2p and 2p+1.
	cfg := DefaultConfig()
	cfg.MinCells = 4

	trees := buildAll(t, 4, cfg, splitAcross(linePoints(32), 4))
	tree := trees[0]
	if tree.NumRegions() != 8 {
		t.Fatalf("NumRegions = %d, want 8", tree.NumRegions())
	}

	for p := 0; p < 4; p++ {
		for r := 0; r < 8; r++ {
			want := r/2 == p
			if got := tree.HasData(p, r); got != want {
				t.Errorf("HasData(%d, %d) = %v, want %v", p, r, got, want)
			}
			wantCount := 0
			if want {
				wantCount = 4
			}
			if got := tree.CellCount(p, r); got != wantCount {
				t.Errorf("CellCount(%d, %d) = %d, want %d", p, r, got, wantCount)
			}
		}

		regions := tree.RegionsWithDataOfProcess(p)
		if len(regions) != 2 || regions[0] != 2*p || regions[1] != 2*p+1 {
			t.Errorf("RegionsWithDataOfProcess(%d) = %v, want [%d %d]", p, regions, 2*p, 2*p+1)
		}
	}

	for r := 0; r < 8; r++ {
		if n := tree.NumProcessesInRegion(r); n != 1 {
			t.Errorf("NumProcessesInRegion(%d) = %d, want 1", r, n)
		}
		procs := tree.ProcessesWithData(r)
		if len(procs) != 1 || procs[0] != r/2 {
			t.Errorf("ProcessesWithData(%d) = %v, want [%d]", r, procs, r/2)
		}
	}
}

func TestQuery_DataTablesWithInterleavedOwnership(t *testing.T) {
	// Both ranks hold points on both sides of the cut, so both appear
	// in both regions' process lists, with the right counts.
	cfg := DefaultConfig()
	cfg.MinCells = 2
	cfg.NumberOfRegionsOrLess = 2

	// 6 points: low half at x = 0, 1, 2; high half at x = 10, 11, 12.
	locals := [][]float32{
		{0, 0, 0, 10, 0, 0, 1, 0, 0},  // 2 low, 1 high
		{11, 0, 0, 2, 0, 0, 12, 0, 0}, // 1 low, 2 high
	}
	trees := buildAll(t, 2, cfg, locals)
	tree := trees[0]

	if tree.NumRegions() != 2 {
		t.Fatalf("NumRegions = %d, want 2", tree.NumRegions())
	}

	wantCounts := [2][2]int{
		{2, 1}, // rank 0: 2 points in region 0, 1 in region 1
		{1, 2},
	}
	for p := 0; p < 2; p++ {
		for r := 0; r < 2; r++ {
			if !tree.HasData(p, r) {
				t.Errorf("HasData(%d, %d) = false", p, r)
			}
			if got := tree.CellCount(p, r); got != wantCounts[p][r] {
				t.Errorf("CellCount(%d, %d) = %d, want %d", p, r, got, wantCounts[p][r])
			}
		}
	}
	for r := 0; r < 2; r++ {
		if n := tree.NumProcessesInRegion(r); n != 2 {
			t.Errorf("NumProcessesInRegion(%d) = %d, want 2", r, n)
		}
	}
}

func TestQuery_ViewOrderRegions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinCells = 4

	trees := buildAll(t, 2, cfg, splitAcross(linePoints(32), 2))
	tree := trees[0]
	n := tree.NumRegions()

	// Looking along +X: regions come back in ascending X order, which
	// for a line build is ascending region id.
	got := tree.ViewOrderRegionsInDirection([3]float64{1, 0, 0})
	if len(got) != n {
		t.Fatalf("view order has %d regions, want %d", len(got), n)
	}
	for i := range got {
		if got[i] != i {
			t.Errorf("view order +X = %v, want ascending ids", got)
			break
		}
	}

	// Looking along -X reverses it.
	got = tree.ViewOrderRegionsInDirection([3]float64{-1, 0, 0})
	for i := range got {
		if got[i] != n-1-i {
			t.Errorf("view order -X = %v, want descending ids", got)
			break
		}
	}

	// From a position near the high-X end, high regions come first.
	got = tree.ViewOrderRegionsFromPosition([3]float64{100, 0, 0})
	if got[0] != n-1 {
		t.Errorf("view order from +X position starts at region %d, want %d", got[0], n-1)
	}
	// The front-most region is the one containing the viewpoint when
	// it is inside the volume.
	p := [3]float64{0.5, 0, 0}
	got = tree.ViewOrderRegionsFromPosition(p)
	if want := tree.RegionOf(p[0], p[1], p[2]); got[0] != want {
		t.Errorf("view order from inside starts at %d, want %d", got[0], want)
	}
}

func TestQuery_ViewOrderProcesses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinCells = 2
	cfg.NumberOfRegionsOrLess = 16
	trees := buildAll(t, 4, cfg, splitAcross(linePoints(64), 4))
	tree := trees[0]

	// Contiguous assignment along +X: processes in ascending order.
	got := tree.ViewOrderProcessesInDirection([3]float64{1, 0, 0})
	want := []int{0, 1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("process view order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("process view order = %v, want %v", got, want)
		}
	}

	// Round-robin interleaves regions, but each process still appears
	// exactly once, front-most region first.
	if err := tree.SetRegionAssignment(RoundRobinAssignment); err != nil {
		t.Fatal(err)
	}
	got = tree.ViewOrderProcessesInDirection([3]float64{1, 0, 0})
	if len(got) != 4 {
		t.Fatalf("round robin process view order = %v, want 4 entries", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("round robin process view order = %v, want %v", got, want)
		}
	}

	got = tree.ViewOrderProcessesFromPosition([3]float64{1000, 0, 0})
	if got[0] != 3 {
		t.Errorf("from +X position, first process = %d, want 3", got[0])
	}
}
