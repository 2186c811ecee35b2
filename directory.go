package pkdtree

import "fmt"

// indexDirectory maps a global point index to the process that owns it.
// Process p owns the contiguous range [startVal[p], endVal[p]] of
// length numCells[p]; the ranges tile [0, totalCells).
type indexDirectory struct {
	startVal   []int
	endVal     []int
	numCells   []int
	totalCells int
}

// buildIndexDirectory gathers every process's local count to the group
// root, broadcasts the vector, and derives the start/end offsets.
func buildIndexDirectory(sub *SubGroup, localCount int) (*indexDirectory, error) {
	n := sub.Size()
	counts := make([]int, n)

	if err := sub.GatherInts([]int{localCount}, counts, 0); err != nil {
		return nil, fmt.Errorf("pkdtree: gather local counts: %w", err)
	}
	if err := sub.BroadcastInts(counts, 0); err != nil {
		return nil, fmt.Errorf("pkdtree: broadcast counts: %w", err)
	}

	d := &indexDirectory{
		startVal: make([]int, n),
		endVal:   make([]int, n),
		numCells: counts,
	}

	d.startVal[0] = 0
	d.endVal[0] = counts[0] - 1
	d.totalCells = counts[0]
	for i := 1; i < n; i++ {
		d.startVal[i] = d.endVal[i-1] + 1
		d.endVal[i] = d.endVal[i-1] + counts[i]
		d.totalCells += counts[i]
	}

	return d, nil
}

// owner returns the rank holding global index g, or -1 if g is out of
// range. O(log P) bisection on startVal.
func (d *indexDirectory) owner(g int) int {
	if g < 0 || g >= d.totalCells {
		return -1
	}
	lo, hi := 0, len(d.startVal)-1
	for lo < hi {
		mid := (lo + hi) >> 1
		switch {
		case g < d.startVal[mid]:
			hi = mid - 1
		case g < d.startVal[mid+1]:
			return mid
		default:
			lo = mid + 1
		}
	}
	return lo
}

// local converts a global index to an offset into rank p's chunk.
func (d *indexDirectory) local(p, g int) int { return g - d.startVal[p] }

func (d *indexDirectory) start(p int) int { return d.startVal[p] }
func (d *indexDirectory) end(p int) int   { return d.endVal[p] }
func (d *indexDirectory) count(p int) int { return d.numCells[p] }
