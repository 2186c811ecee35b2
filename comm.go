package pkdtree

import "fmt"

// Communicator is the minimal transport surface the tree build depends
// on. Size and Rank describe the global process group; Send and Receive
// are blocking point-to-point operations matched by (src, dst, tag).
//
// buf must be a []int, []float32 or []float64. Receive fills buf in
// place and requires the incoming message to have the same element type
// and length.
type Communicator interface {
	Size() int
	Rank() int
	Send(buf any, dst, tag int) error
	Receive(buf any, src, tag int) error
}

// scalar is the set of element types that travel through a Communicator.
type scalar interface {
	int | float32 | float64
}

// SubGroup scopes collective operations to a contiguous range of ranks
// [lo, hi]. All collectives take the root as a rank local to the group
// (world rank minus lo). Every member of the group must call each
// collective in the same order; ranks outside the group must not call
// them at all. The tag scopes the group's traffic: two groups whose
// member sets overlap must not share a tag.
type SubGroup struct {
	comm Communicator
	lo   int
	hi   int
	tag  int
	me   int // local rank of this process
	n    int
}

// NewSubGroup creates a collective scope over world ranks [lo, hi].
func NewSubGroup(comm Communicator, lo, hi, tag int) *SubGroup {
	return &SubGroup{
		comm: comm,
		lo:   lo,
		hi:   hi,
		tag:  tag,
		me:   comm.Rank() - lo,
		n:    hi - lo + 1,
	}
}

// LocalRank converts a world rank to a rank local to this group.
func (s *SubGroup) LocalRank(worldRank int) int { return worldRank - s.lo }

// Size returns the number of participants.
func (s *SubGroup) Size() int { return s.n }

// Tag returns the tag scoping this group's traffic.
func (s *SubGroup) Tag() int { return s.tag }

// broadcast sends root's buf to every member; on non-roots buf is
// overwritten. Linear fan-out: the root sends to members in rank order
// while each non-root blocks in a single receive.
func broadcast[T scalar](s *SubGroup, buf []T, root int) error {
	if s.n == 1 {
		return nil
	}
	if s.me == root {
		for p := 0; p < s.n; p++ {
			if p == root {
				continue
			}
			if err := s.comm.Send(buf, s.lo+p, s.tag); err != nil {
				return fmt.Errorf("pkdtree: broadcast to %d: %w", s.lo+p, err)
			}
		}
		return nil
	}
	if err := s.comm.Receive(buf, s.lo+root, s.tag); err != nil {
		return fmt.Errorf("pkdtree: broadcast receive: %w", err)
	}
	return nil
}

// gather collects every member's in into out at the root, in rank
// order. out must have length len(in)*Size() on the root; it is unused
// elsewhere.
func gather[T scalar](s *SubGroup, in, out []T, root int) error {
	if s.me != root {
		return s.comm.Send(in, s.lo+root, s.tag)
	}
	if len(out) < len(in)*s.n {
		return fmt.Errorf("pkdtree: gather output %d too small for %d x %d", len(out), s.n, len(in))
	}
	for p := 0; p < s.n; p++ {
		slot := out[p*len(in) : (p+1)*len(in)]
		if p == root {
			copy(slot, in)
			continue
		}
		if err := s.comm.Receive(slot, s.lo+p, s.tag); err != nil {
			return fmt.Errorf("pkdtree: gather from %d: %w", s.lo+p, err)
		}
	}
	return nil
}

// reduce combines every member's in element-wise with op, leaving the
// result in out at the root. out on other ranks is left untouched.
// in and out may alias.
func reduce[T scalar](s *SubGroup, in, out []T, root int, op func(a, b T) T) error {
	if s.me != root {
		return s.comm.Send(in, s.lo+root, s.tag)
	}
	acc := make([]T, len(in))
	copy(acc, in)
	scratch := make([]T, len(in))
	for p := 0; p < s.n; p++ {
		if p == root {
			continue
		}
		if err := s.comm.Receive(scratch, s.lo+p, s.tag); err != nil {
			return fmt.Errorf("pkdtree: reduce from %d: %w", s.lo+p, err)
		}
		for i := range acc {
			acc[i] = op(acc[i], scratch[i])
		}
	}
	copy(out, acc)
	return nil
}

func minOf[T scalar](a, b T) T {
	if b < a {
		return b
	}
	return a
}

func maxOf[T scalar](a, b T) T {
	if b > a {
		return b
	}
	return a
}

func sumOf[T scalar](a, b T) T { return a + b }

// BroadcastInts sends root's buf to all members of the group.
func (s *SubGroup) BroadcastInts(buf []int, root int) error {
	return broadcast(s, buf, root)
}

// BroadcastFloat32s sends root's buf to all members of the group.
func (s *SubGroup) BroadcastFloat32s(buf []float32, root int) error {
	return broadcast(s, buf, root)
}

// BroadcastFloat64s sends root's buf to all members of the group.
func (s *SubGroup) BroadcastFloat64s(buf []float64, root int) error {
	return broadcast(s, buf, root)
}

// GatherInts collects each member's in into out at the root in rank order.
func (s *SubGroup) GatherInts(in, out []int, root int) error {
	return gather(s, in, out, root)
}

// ReduceMinInts leaves the element-wise minimum in out at the root.
func (s *SubGroup) ReduceMinInts(in, out []int, root int) error {
	return reduce(s, in, out, root, minOf[int])
}

// ReduceMaxInts leaves the element-wise maximum in out at the root.
func (s *SubGroup) ReduceMaxInts(in, out []int, root int) error {
	return reduce(s, in, out, root, maxOf[int])
}

// ReduceSumInts leaves the element-wise sum in out at the root.
func (s *SubGroup) ReduceSumInts(in, out []int, root int) error {
	return reduce(s, in, out, root, sumOf[int])
}

// ReduceMinFloat32s leaves the element-wise minimum in out at the root.
func (s *SubGroup) ReduceMinFloat32s(in, out []float32, root int) error {
	return reduce(s, in, out, root, minOf[float32])
}

// ReduceMaxFloat32s leaves the element-wise maximum in out at the root.
func (s *SubGroup) ReduceMaxFloat32s(in, out []float32, root int) error {
	return reduce(s, in, out, root, maxOf[float32])
}

// ReduceMinFloat64s leaves the element-wise minimum in out at the root.
func (s *SubGroup) ReduceMinFloat64s(in, out []float64, root int) error {
	return reduce(s, in, out, root, minOf[float64])
}

// ReduceMaxFloat64s leaves the element-wise maximum in out at the root.
func (s *SubGroup) ReduceMaxFloat64s(in, out []float64, root int) error {
	return reduce(s, in, out, root, maxOf[float64])
}
