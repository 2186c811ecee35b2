package pkdtree

import "math"

// Distributed selection, Floyd and Rivest (1975), adapted to an array
// spread across the contiguous ranks of a sub-group. After
// selectMedian(dim, L, R, sub) the element at the returned global
// index holds the target order statistic along dim, every smaller
// value lies to its left and every larger value to its right, on every
// participating process.

// frThreshold is the index span R-L above which the selector first
// recurses on a sampled interval to obtain a good pivot estimate.
const frThreshold = 600

func sign(x int) int {
	if x < 0 {
		return -1
	}
	return 1
}

// doSelect permutes the global array so that X[K] holds the
// (K-L+1)-th smallest value of X[L..R] along dim, with smaller values
// to its left and larger to its right.
func (t *Tree) doSelect(L, R, K, dim int, sub *SubGroup) error {
	for R > L {
		if R-L > frThreshold {
			// Recurse on a sample interval around K so the pivot
			// lands near the target, biased so the target is
			// expected to fall in the smaller side after the
			// partition.
			n := R - L + 1
			i := K - L + 1
			z := math.Log(float64(n))
			s := int(0.5 * math.Exp(2*z/3))
			sd := int(0.5*math.Sqrt(z*float64(s)*float64(n-s)/float64(n))) * sign(i-n/2)

			ll := K - int(float64(i)*float64(s)/float64(n)) + sd
			if ll < L {
				ll = L
			}
			rr := K + int(float64(n-i)*float64(s)/float64(n)) + sd
			if rr > R {
				rr = R
			}
			if err := t.doSelect(ll, rr, K, dim, sub); err != nil {
				return err
			}
		}

		p1 := t.dir.owner(L)
		p2 := t.dir.owner(R)

		// Rearrange [L, R] into values less than, equal to and
		// greater than the value at K, then shrink to the interval
		// that still contains K. Partitioning three ways avoids the
		// severe worst case when the pivot value repeats many times.
		I, J, err := t.partitionSubArray(L, R, K, dim, p1, p2, sub)
		if err != nil {
			return err
		}

		switch {
		case K >= J:
			L = J
		case K >= I:
			L = R // K is inside the interval of pivot-equal values
		default:
			R = I - 1
		}
	}
	return nil
}

// selectMedian runs the distributed selection for the median of
// [L, R] along dim and returns the split index the tree builder should
// use. The returned index is rolled leftward over any run of values
// equal to the value at K, so every point is unambiguously on one side
// of the cut.
func (t *Tree) selectMedian(dim, L, R int, sub *SubGroup) (int, error) {
	K := (R+L)/2 + 1

	if err := t.doSelect(L, R, K, dim, sub); err != nil {
		return 0, err
	}
	if K == L {
		return K, nil
	}

	me := t.myID

	hasK := t.dir.owner(K)
	hasKRank := sub.LocalRank(hasK)
	hasKLeft := t.dir.owner(K - 1)
	hasKLeftRank := sub.LocalRank(hasKLeft)

	kval := make([]float32, 1)
	if hasK == me {
		kval[0] = t.buf.at(K, dim)
	}
	if err := sub.BroadcastFloat32s(kval, hasKRank); err != nil {
		return 0, err
	}

	kleftval := make([]float32, 1)
	if hasKLeft == me {
		kleftval[0] = t.buf.at(K-1, dim)
	}
	if err := sub.BroadcastFloat32s(kleftval, hasKLeftRank); err != nil {
		return 0, err
	}

	if kleftval[0] != kval[0] {
		return K, nil
	}

	// The run of pivot-equal values extends left of K. Each process
	// whose chunk reaches into [0, K-1] scans backward for the first
	// strictly smaller value; the reduce-min of the first pivot-equal
	// indices is the rolled-back split.
	firstKval := t.totalNumCells // greater than any valid index

	if me <= hasKLeft && t.dir.count(me) > 0 {
		start := t.dir.end(me)
		if start > K-1 {
			start = K - 1
		}
		if t.buf.at(start, dim) == kval[0] {
			firstKval = start
			for idx := start - 1; idx >= t.dir.start(me); idx-- {
				if t.buf.at(idx, dim) < kval[0] {
					break
				}
				firstKval--
			}
		}
	}

	in := []int{firstKval}
	out := []int{0}
	if err := sub.ReduceMinInts(in, out, hasKRank); err != nil {
		return 0, err
	}
	if err := sub.BroadcastInts(out, hasKRank); err != nil {
		return 0, err
	}
	return out[0], nil
}
