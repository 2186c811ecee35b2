package pkdtree

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
)

// LocalCluster is an in-memory Communicator fabric: a fixed number of
// ranks joined by buffered channels, one channel per (src, dst, tag)
// triple. It is the transport used by the tests and by single-machine
// callers that run one goroutine per rank.
//
// Message order is preserved per (src, dst, tag); payloads are copied
// on send, so the sender may reuse its buffer immediately.
type LocalCluster struct {
	n    int
	mu   sync.Mutex
	mail map[mailKey]chan any
}

type mailKey struct {
	src, dst, tag int
}

// mailDepth bounds how far a sender may run ahead of its receiver on
// one (src, dst, tag) channel. The build's schedules are identical on
// every rank, so any positive depth is deadlock-free.
const mailDepth = 8

// NewLocalCluster creates a fabric for n ranks.
func NewLocalCluster(n int) *LocalCluster {
	if n < 1 {
		n = 1
	}
	return &LocalCluster{
		n:    n,
		mail: make(map[mailKey]chan any),
	}
}

// Size returns the number of ranks in the cluster.
func (lc *LocalCluster) Size() int { return lc.n }

// Comm returns the Communicator endpoint for one rank.
func (lc *LocalCluster) Comm(rank int) *LocalComm {
	if rank < 0 || rank >= lc.n {
		return nil
	}
	return &LocalComm{cluster: lc, rank: rank}
}

func (lc *LocalCluster) channel(key mailKey) chan any {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	ch, ok := lc.mail[key]
	if !ok {
		ch = make(chan any, mailDepth)
		lc.mail[key] = ch
	}
	return ch
}

// LocalComm is one rank's endpoint into a LocalCluster.
type LocalComm struct {
	cluster *LocalCluster
	rank    int
}

func (c *LocalComm) Size() int { return c.cluster.n }
func (c *LocalComm) Rank() int { return c.rank }

// Send copies buf and delivers it to dst. buf must be a []int,
// []float32 or []float64.
func (c *LocalComm) Send(buf any, dst, tag int) error {
	if dst < 0 || dst >= c.cluster.n {
		return fmt.Errorf("pkdtree: send to invalid rank %d", dst)
	}
	var msg any
	switch v := buf.(type) {
	case []int:
		msg = append([]int(nil), v...)
	case []float32:
		msg = append([]float32(nil), v...)
	case []float64:
		msg = append([]float64(nil), v...)
	default:
		return fmt.Errorf("pkdtree: send of unsupported type %T", buf)
	}
	c.cluster.channel(mailKey{src: c.rank, dst: dst, tag: tag}) <- msg
	return nil
}

// Receive blocks until a message from src with the given tag arrives,
// then copies it into buf. The message must match buf's element type
// and length exactly.
func (c *LocalComm) Receive(buf any, src, tag int) error {
	if src < 0 || src >= c.cluster.n {
		return fmt.Errorf("pkdtree: receive from invalid rank %d", src)
	}
	msg := <-c.cluster.channel(mailKey{src: src, dst: c.rank, tag: tag})
	switch dst := buf.(type) {
	case []int:
		v, ok := msg.([]int)
		if !ok || len(v) != len(dst) {
			return fmt.Errorf("pkdtree: receive type/length mismatch from %d tag %#x", src, tag)
		}
		copy(dst, v)
	case []float32:
		v, ok := msg.([]float32)
		if !ok || len(v) != len(dst) {
			return fmt.Errorf("pkdtree: receive type/length mismatch from %d tag %#x", src, tag)
		}
		copy(dst, v)
	case []float64:
		v, ok := msg.([]float64)
		if !ok || len(v) != len(dst) {
			return fmt.Errorf("pkdtree: receive type/length mismatch from %d tag %#x", src, tag)
		}
		copy(dst, v)
	default:
		return fmt.Errorf("pkdtree: receive into unsupported type %T", buf)
	}
	return nil
}

// RunLocal runs fn once per rank, each on its own goroutine, over a
// fresh LocalCluster. It blocks until every rank returns and combines
// their errors. This is the driver for collective operations like
// Tree.Build when the "processes" are goroutines in one address space.
func RunLocal(nprocs int, fn func(rank int, comm Communicator) error) error {
	if nprocs < 1 {
		return fmt.Errorf("pkdtree: RunLocal needs at least 1 process, got %d", nprocs)
	}
	lc := NewLocalCluster(nprocs)
	errs := make([]error, nprocs)

	var wg sync.WaitGroup
	for p := 0; p < nprocs; p++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			errs[rank] = fn(rank, lc.Comm(rank))
		}(p)
	}
	wg.Wait()

	return multierr.Combine(errs...)
}
