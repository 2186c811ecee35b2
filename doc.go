// Package pkdtree builds a k-d tree decomposition of a 3-D point set
// that is distributed across a group of cooperating processes.
//
// Each process owns a contiguous chunk of a globally indexed sequence
// of points (in practice, cell centroids of one or more datasets). A
// collective Build partitions space into axis-aligned regions using a
// distributed Floyd-Rivest median selection, redistributing points
// between processes as it recurses. After Build returns, every process
// holds a bitwise-identical tree and an identical assignment of
// regions to processes.
//
// Basic usage, with the in-memory cluster running one goroutine per
// process rank:
//
//	err := pkdtree.RunLocal(4, func(rank int, comm pkdtree.Communicator) error {
//		cfg := pkdtree.DefaultConfig()
//		cfg.MinCells = 4
//		tree, err := pkdtree.New(comm, cfg)
//		if err != nil {
//			return err
//		}
//		if err := tree.Build(localPoints(rank)); err != nil {
//			return err
//		}
//		// tree.RegionOf, tree.ProcessOfRegion, ... are now valid
//		// and identical on every rank.
//		return nil
//	})
//
// Build is a collective operation: every rank in the communicator must
// call it, and all ranks must pass the same configuration. The tree and
// the derived lookup tables are immutable after Build and safe for
// concurrent readers.
//
// The Communicator interface is the seam for real transports (MPI and
// the like); LocalCluster is the in-memory implementation used by the
// tests and by single-machine callers.
package pkdtree
