package pkdtree

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"math"

	"go.uber.org/zap"
)

// ErrDegenerateVolume is returned by Build when the input points span
// no volume at all (no points, or every point coincident in all three
// axes).
var ErrDegenerateVolume = errors.New("pkdtree: degenerate volume")

// Tags scoping the collective phases of a build. Sub-groups created
// for individual tree nodes use the node's breadth-first path tag
// instead (root 1, children tag<<1 and tag<<1|1), so the phases and
// the divides never collide on overlapping participant sets.
const (
	tagSetup      = 0x00001000
	tagPostDivide = 0x00002000
	tagCompletion = 0x00003000
	tagTables     = 0x0000f000

	tagReduceNode = 0x1111
)

// Tree is the parallel k-d tree. Create one per process with New, then
// call Build collectively. After Build returns successfully the tree,
// the region assignment and the lookup tables are identical on every
// process and safe for concurrent readers.
type Tree struct {
	comm Communicator
	cfg  Config
	log  *zap.Logger
	tm   timeLog

	nprocs int
	myID   int

	// Build state. dir and buf live only for the duration of a build;
	// localPoints aliases the caller's input for table derivation.
	dir           *indexDirectory
	buf           *pointBuffer
	localPoints   []float32
	totalNumCells int

	// The completed tree.
	nodes       []KdNode
	root        int32
	regionNode  []int32
	numRegions  int
	actualLevel int

	// Region assignment.
	assignment         AssignmentPolicy
	regionToProc       []int
	procToRegions      [][]int
	numRegionsAssigned []int

	// Process data tables.
	dataLocation        []int // nprocs * numRegions, row-major by process
	numProcsInRegion    []int
	processList         [][]int
	cellCountList       [][]int
	numRegionsInProcess []int
	parallelRegionList  [][]int
}

// New creates a Tree bound to one process's communicator endpoint.
func New(comm Communicator, cfg Config) (*Tree, error) {
	if comm == nil {
		return nil, errors.New("pkdtree: nil communicator")
	}
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	if cfg.RegionAssignment == UserDefinedAssignment && len(cfg.UserAssignmentMap) == 0 {
		return nil, errors.New("pkdtree: UserDefinedAssignment requires UserAssignmentMap")
	}

	return &Tree{
		comm:   comm,
		cfg:    cfg,
		log:    cfg.Logger,
		tm:     timeLog{log: cfg.Logger, enabled: cfg.Timing},
		nprocs: comm.Size(),
		myID:   comm.Rank(),
		root:   nilNode,
	}, nil
}

// NumProcesses returns the size of the process group.
func (t *Tree) NumProcesses() int { return t.nprocs }

// Rank returns this process's rank.
func (t *Tree) Rank() int { return t.myID }

// TotalNumCells returns the global point count of the last build, or 0.
func (t *Tree) TotalNumCells() int { return t.totalNumCells }

// NumRegions returns the number of leaf regions, or 0 before a build.
func (t *Tree) NumRegions() int {
	if t.root == nilNode {
		return 0
	}
	return t.numRegions
}

// Level returns the depth of the completed tree, or -1 before a build.
func (t *Tree) Level() int {
	if t.root == nilNode {
		return -1
	}
	return t.actualLevel
}

// Checksum hashes the packed preorder node sequence of the completed
// tree. Two processes hold the same tree iff their checksums match;
// returns 0 before a build.
func (t *Tree) Checksum() uint64 {
	if t.root == nilNode {
		return 0
	}
	h := fnv.New64a()
	var scratch [8]byte
	word := func(v uint64) {
		binary.LittleEndian.PutUint64(scratch[:], v)
		h.Write(scratch[:])
	}
	var walk func(i int32)
	walk = func(i int32) {
		n := t.node(i)
		word(uint64(n.Dim))
		word(uint64(int64(n.NumPoints)))
		for _, b := range n.Bounds {
			word(math.Float64bits(b))
		}
		for _, b := range n.DataBounds {
			word(math.Float64bits(b))
		}
		if n.Left == nilNode {
			word(0)
			return
		}
		word(1)
		walk(n.Left)
		walk(n.Right)
	}
	walk(t.root)
	return h.Sum64()
}

// warnf logs a per-process warning the way the build reports
// recoverable conditions.
func (t *Tree) warnf(format string, args ...any) {
	t.log.Warn(fmt.Sprintf(format, args...), zap.Int("process", t.myID))
}
