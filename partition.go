package pkdtree

// Three-way partition of the global subarray [L, R] around a pivot
// value T along one dimension. Afterward the subarray is a block of
// values < T, a block of values = T, and a block of values > T, in
// contiguous global-index order across the participating processes.
// The two split points returned are the global index of the first
// pivot-equal value and the global index of the first greater value
// (R+1 when nothing is greater; equal when nothing equals T).

// partitionAboutMyValue partitions the owned range [L, R] around the
// value at K, which this process holds, so the pivot is known to be
// present. Returns the local (I, J) split points.
func (t *Tree) partitionAboutMyValue(L, R, K, dim int) (int, int) {
	buf := t.buf
	at := func(g int) float32 { return buf.at(g, dim) }

	// Arrange the endpoints so that after the first exchange in the
	// loop either X[L] = T and X[R] >= T, or X[L] < T and X[R] = T.
	T := at(K)
	buf.swapLocal(L, K)

	manyT := false
	if at(R) >= T {
		if at(R) == T {
			manyT = true
		} else {
			buf.swapLocal(R, L)
		}
	}

	I, J := L, R
	for I < J {
		buf.swapLocal(I, J)

		for {
			J--
			if J <= I {
				break
			}
			v := at(J)
			if v < T {
				break
			}
			if !manyT && J > L && v == T {
				manyT = true
			}
		}
		if I == J {
			break
		}
		for {
			I++
			if I >= J {
				break
			}
			v := at(I)
			if v >= T {
				if !manyT && v == T {
					manyT = true
				}
				break
			}
		}
	}

	// I and J are at the rightmost value < T, or at L if every value
	// is >= T.
	if at(L) == T {
		buf.swapLocal(L, J)
	} else {
		J++
		buf.swapLocal(J, R)
	}

	// J is now at the leftmost value >= T, and it is a T.
	first, second := J, J+1

	if manyT {
		// Sweep the remaining T's into the center interval.
		I = J
		J = R + 1
		for I < J {
			for {
				I++
				if I >= J {
					break
				}
				if at(I) != T {
					break
				}
			}
			if I == J {
				break
			}
			for {
				J--
				if J <= I {
					break
				}
				if at(J) == T {
					break
				}
			}
			if I < J {
				buf.swapLocal(I, J)
			}
		}
		second = I
	}

	return first, second
}

// partitionAboutOtherValue partitions the owned range [L, R] around an
// externally supplied pivot T, which may not be present locally.
// Returns the local (I, J) split points.
func (t *Tree) partitionAboutOtherValue(L, R int, T float32, dim int) (int, int) {
	buf := t.buf
	at := func(g int) float32 { return buf.at(g, dim) }

	total := R - L + 1
	if total < 1 {
		// This process has no values in the range.
		return L, L
	}
	if total == 1 {
		switch v := at(L); {
		case v < T:
			return R + 1, R + 1
		case v == T:
			return L, R + 1
		default:
			return L, L
		}
	}

	numT, numGreater, numLess := 0, 0, 0
	tally := func(v float32) {
		switch {
		case v == T:
			numT++
		case v > T:
			numGreater++
		default:
			numLess++
		}
	}

	Lval := at(L)
	tally(Lval)
	Rval := at(R)
	tally(Rval)

	I, J := L, R

	switch {
	case Lval >= T && Rval >= T:
		for {
			J--
			if J <= I {
				break
			}
			v := at(J)
			if v < T {
				break
			}
			if v == T {
				numT++
			} else {
				numGreater++
			}
		}

	case Lval < T && Rval < T:
		for {
			I++
			if I >= J {
				break
			}
			v := at(I)
			if v >= T {
				if v == T {
					numT++
				}
				break
			}
			numLess++
		}

	case Lval < T && Rval >= T:
		buf.swapLocal(I, J)

	default:
		// X[L] >= T and X[R] < T: the first loop will fix this.
	}

	switch {
	case numLess == total:
		return R + 1, R + 1
	case numT == total:
		return L, R + 1
	case numGreater == total:
		return L, L
	}

	for I < J {
		// Value at I is >= T and value at J is < T, hence the exchange.
		buf.swapLocal(I, J)

		for {
			I++
			if I >= J {
				break
			}
			v := at(I)
			if v >= T {
				if v == T {
					numT++
				}
				break
			}
		}
		if I == J {
			break
		}
		for {
			J--
			if J <= I {
				break
			}
			v := at(J)
			if v < T {
				break
			}
			if v == T {
				numT++
			}
		}
	}

	// I and J are at the first value >= T.
	if numT == 0 {
		return I, I
	}

	// Sweep the T's into the center interval.
	first := I
	I--
	J = R + 1
	for I < J {
		for {
			I++
			if I >= J {
				break
			}
			if at(I) != T {
				break
			}
		}
		if I == J {
			break
		}
		for {
			J--
			if J <= I {
				break
			}
			if at(J) == T {
				break
			}
		}
		if I < J {
			buf.swapLocal(I, J)
		}
	}

	return first, I
}

// doTransfer moves count triples from the donor's current buffer to
// the receiver's next buffer. Donor and receiver iterate an identical
// schedule, so the paired send/receive cannot deadlock.
func (t *Tree) doTransfer(from, to, fromIndex, toIndex, count, tag int) error {
	n := count * 3
	me := t.myID

	switch {
	case from == me && to == me:
		src := t.buf.current[3*t.dir.local(me, fromIndex):][:n]
		dst := t.buf.next[3*t.dir.local(me, toIndex):][:n]
		copy(dst, src)

	case from == me:
		src := t.buf.current[3*t.dir.local(me, fromIndex):][:n]
		return t.comm.Send(src, to, tag)

	case to == me:
		dst := t.buf.next[3*t.dir.local(me, toIndex):][:n]
		return t.comm.Receive(dst, from, tag)
	}
	return nil
}

// partitionSubArray rearranges the global subarray [L, R], owned by
// the contiguous ranks [p1, p2], into <T, =T, >T blocks, where T is
// the value at global index K. Every member of sub takes part: ranks
// outside [p1, p2] only join the final broadcast of the split points.
func (t *Tree) partitionSubArray(L, R, K, dim, p1, p2 int, sub *SubGroup) (int, int, error) {
	me := t.myID
	rootrank := sub.LocalRank(p1)
	idx := make([]int, 2)

	if me < p1 || me > p2 {
		if err := sub.BroadcastInts(idx, rootrank); err != nil {
			return 0, 0, err
		}
		return idx[0], idx[1], nil
	}

	if p1 == p2 {
		idx[0], idx[1] = t.partitionAboutMyValue(L, R, K, dim)
		if err := sub.BroadcastInts(idx, rootrank); err != nil {
			return 0, 0, err
		}
		return idx[0], idx[1], nil
	}

	// Each participant rearranges its own slice of [L, R] into local
	// <T, =T, >T runs.
	tag := sub.Tag()
	sg := NewSubGroup(t.comm, p1, p2, tag)
	nprocs := sg.Size()

	hasK := t.dir.owner(K)
	kRank := sg.LocalRank(hasK)

	myL := t.dir.start(me)
	myR := t.dir.end(me)
	if myL < L {
		myL = L
	}
	if myR > R {
		myR = R
	}

	Tval := make([]float32, 1)
	if hasK == me {
		Tval[0] = t.buf.at(K, dim)
	}
	if err := sg.BroadcastFloat32s(Tval, kRank); err != nil {
		return 0, 0, err
	}

	var myI, myJ int
	if hasK == me {
		myI, myJ = t.partitionAboutMyValue(myL, myR, K, dim)
	} else {
		myI, myJ = t.partitionAboutOtherValue(myL, myR, Tval[0], dim)
	}

	// All-gather each participant's slice endpoints and split points.
	left := make([]int, nprocs)
	right := make([]int, nprocs)
	Ival := make([]int, nprocs)
	Jval := make([]int, nprocs)

	for _, v := range []struct {
		mine int
		all  []int
	}{
		{myL, left}, {myR, right}, {myI, Ival}, {myJ, Jval},
	} {
		if err := sg.GatherInts([]int{v.mine}, v.all, 0); err != nil {
			return 0, 0, err
		}
		if err := sg.BroadcastInts(v.all, 0); err != nil {
			return 0, 0, err
		}
	}

	// How many <T, =T, >T values each participant holds now, and the
	// prefix sums that say where each block starts globally.
	leftArray := make([]int, nprocs)
	leftUsed := make([]int, nprocs)
	centerArray := make([]int, nprocs)
	centerUsed := make([]int, nprocs)
	rightArray := make([]int, nprocs)
	rightUsed := make([]int, nprocs)

	leftRemaining, centerRemaining := 0, 0
	for p := 0; p < nprocs; p++ {
		leftArray[p] = Ival[p] - left[p]
		centerArray[p] = Jval[p] - Ival[p]
		rightArray[p] = right[p] - Jval[p] + 1
		leftRemaining += leftArray[p]
		centerRemaining += centerArray[p]
	}

	firstCenter := left[0] + leftRemaining
	firstRight := firstCenter + centerRemaining

	// Slots outside [myL, myR] are not rewritten by the transfers, so
	// carry them over before redistributing.
	if myL > t.dir.start(me) || myR < t.dir.end(me) {
		copy(t.buf.next, t.buf.current)
	}

	// Deterministic pairwise transfers: walk receivers in rank order,
	// draining <T supply from donors in rank order, then =T, then >T.
	nextLeftProc, nextCenterProc, nextRightProc := 0, 0, 0

	for recvr := 0; recvr < nprocs; recvr++ {
		need := leftArray[recvr] + centerArray[recvr] + rightArray[recvr]
		have := 0

		sndr := nextLeftProc
		for ; sndr < nprocs; sndr++ {
			take := leftArray[sndr] - leftUsed[sndr]
			if take == 0 {
				continue
			}
			if take > need {
				take = need
			}
			err := t.doTransfer(sndr+p1, recvr+p1,
				left[sndr]+leftUsed[sndr], left[recvr]+have, take, tag)
			if err != nil {
				return 0, 0, err
			}
			have += take
			need -= take
			leftRemaining -= take
			leftUsed[sndr] += take
			if need == 0 {
				break
			}
		}
		if sndr >= nprocs {
			nextLeftProc = nprocs
		} else if leftUsed[sndr] == leftArray[sndr] {
			nextLeftProc = sndr + 1
		} else {
			nextLeftProc = sndr
		}
		if need == 0 {
			continue
		}

		sndr = nextCenterProc
		for ; sndr < nprocs; sndr++ {
			take := centerArray[sndr] - centerUsed[sndr]
			if take == 0 {
				continue
			}
			if take > need {
				take = need
			}
			err := t.doTransfer(sndr+p1, recvr+p1,
				left[sndr]+leftArray[sndr]+centerUsed[sndr], left[recvr]+have, take, tag)
			if err != nil {
				return 0, 0, err
			}
			have += take
			need -= take
			centerRemaining -= take
			centerUsed[sndr] += take
			if need == 0 {
				break
			}
		}
		if sndr >= nprocs {
			nextCenterProc = nprocs
		} else if centerUsed[sndr] == centerArray[sndr] {
			nextCenterProc = sndr + 1
		} else {
			nextCenterProc = sndr
		}
		if need == 0 {
			continue
		}

		sndr = nextRightProc
		for ; sndr < nprocs; sndr++ {
			take := rightArray[sndr] - rightUsed[sndr]
			if take == 0 {
				continue
			}
			if take > need {
				take = need
			}
			err := t.doTransfer(sndr+p1, recvr+p1,
				left[sndr]+leftArray[sndr]+centerArray[sndr]+rightUsed[sndr], left[recvr]+have, take, tag)
			if err != nil {
				return 0, 0, err
			}
			have += take
			need -= take
			rightUsed[sndr] += take
			if need == 0 {
				break
			}
		}
		if sndr >= nprocs {
			nextRightProc = nprocs
		} else if rightUsed[sndr] == rightArray[sndr] {
			nextRightProc = sndr + 1
		} else {
			nextRightProc = sndr
		}
	}

	t.buf.swap()

	idx[0] = firstCenter
	idx[1] = firstRight

	if err := sub.BroadcastInts(idx, rootrank); err != nil {
		return 0, 0, err
	}
	return idx[0], idx[1], nil
}
