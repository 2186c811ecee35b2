package pkdtree

import "fmt"

// pointBuffer is the per-process double buffer of 3-D float32 points.
// current holds this process's chunk of the global array in its present
// permuted order; next is the staging area for one partition's
// redistribution. swap exchanges the two designations without copying.
type pointBuffer struct {
	comm    Communicator
	dir     *indexDirectory
	me      int
	current []float32
	next    []float32
}

// newPointBuffer allocates both buffers and fills current with the
// local points (copied; the caller's slice is never permuted).
func newPointBuffer(comm Communicator, dir *indexDirectory, points []float32) *pointBuffer {
	b := &pointBuffer{
		comm:    comm,
		dir:     dir,
		me:      comm.Rank(),
		current: make([]float32, len(points)),
		next:    make([]float32, len(points)),
	}
	copy(b.current, points)
	return b
}

// val returns the triple at global index g as a slice into the current
// buffer, or nil if g is not owned by this process.
func (b *pointBuffer) val(g int) []float32 {
	if g < b.dir.start(b.me) || g > b.dir.end(b.me) {
		return nil
	}
	off := 3 * b.dir.local(b.me, g)
	return b.current[off : off+3]
}

// setVal overwrites the triple at global index g iff owned.
func (b *pointBuffer) setVal(g int, v []float32) {
	if dst := b.val(g); dst != nil {
		copy(dst, v)
	}
}

// at returns one coordinate of an owned triple.
func (b *pointBuffer) at(g, dim int) float32 {
	off := 3 * b.dir.local(b.me, g)
	return b.current[off+dim]
}

// exchangeLocal swaps two owned triples in the current buffer.
func (b *pointBuffer) exchangeLocal(g1, g2 int) error {
	if b.val(g1) == nil || b.val(g2) == nil {
		return fmt.Errorf("pkdtree: exchange of unowned index (%d, %d)", g1, g2)
	}
	b.swapLocal(g1, g2)
	return nil
}

// swapLocal swaps two owned triples without ownership checks; the
// partition loops guarantee both indices are local.
func (b *pointBuffer) swapLocal(g1, g2 int) {
	o1 := 3 * b.dir.local(b.me, g1)
	o2 := 3 * b.dir.local(b.me, g2)
	for k := 0; k < 3; k++ {
		b.current[o1+k], b.current[o2+k] = b.current[o2+k], b.current[o1+k]
	}
}

// exchange swaps the triples at two global indices, which may live on
// different processes. The owner of g1 sends before receiving, the
// owner of g2 receives before sending; non-owners do nothing.
func (b *pointBuffer) exchange(g1, g2, tag int) error {
	p1 := b.dir.owner(g1)
	p2 := b.dir.owner(g2)

	switch {
	case p1 == b.me && p2 == b.me:
		return b.exchangeLocal(g1, g2)

	case p1 == b.me:
		mine := b.val(g1)
		var other [3]float32
		if err := b.comm.Send(mine, p2, tag); err != nil {
			return err
		}
		if err := b.comm.Receive(other[:], p2, tag); err != nil {
			return err
		}
		b.setVal(g1, other[:])

	case p2 == b.me:
		mine := append([]float32(nil), b.val(g2)...)
		var other [3]float32
		if err := b.comm.Receive(other[:], p1, tag); err != nil {
			return err
		}
		if err := b.comm.Send(mine, p1, tag); err != nil {
			return err
		}
		b.setVal(g2, other[:])
	}
	return nil
}

// swap flips the current/next designations.
func (b *pointBuffer) swap() {
	b.current, b.next = b.next, b.current
}
