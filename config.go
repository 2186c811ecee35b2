package pkdtree

import (
	"fmt"

	"go.uber.org/zap"
)

// AssignmentPolicy selects how regions are mapped onto processes after
// a build.
type AssignmentPolicy int

const (
	// NoRegionAssignment skips assignment; region-to-process queries
	// return sentinels.
	NoRegionAssignment AssignmentPolicy = iota
	// ContiguousAssignment gives each process a contiguous interval of
	// region ids, keeping spatially adjacent regions on numerically
	// adjacent processes. The default.
	ContiguousAssignment
	// UserDefinedAssignment uses the map supplied in
	// Config.UserAssignmentMap (or via Tree.AssignRegions).
	UserDefinedAssignment
	// RoundRobinAssignment maps region r to process r mod P.
	RoundRobinAssignment
)

// Directions eligible for splitting, for Config.ValidDirections.
const (
	XDirection = 1 << XDim
	YDirection = 1 << YDim
	ZDirection = 1 << ZDim

	allDirections = XDirection | YDirection | ZDirection
)

// Config controls how the tree is built.
// Start with [DefaultConfig] and override the fields you need. Every
// process must pass the same values; if they differ, rank 0's values
// win and the others log a warning.
type Config struct {
	// ValidDirections is the bitmask of dimensions eligible for
	// splitting (XDirection | YDirection | ZDirection).
	// Default: all three.
	ValidDirections int

	// MinCells is the point count each half of a split must reach for
	// a region to be divided: a region is split only while
	// MinCells <= num_points/2 (integer division).
	// 0 disables the bound entirely, allowing even one-point regions
	// to divide when the region-count tunables call for it.
	// DefaultConfig uses 100.
	MinCells int

	// MaxLevel bounds the tree depth. Default: 20.
	MaxLevel int

	// NumberOfRegionsOrLess stops dividing once one more level would
	// exceed this region count. 0 means no bound.
	NumberOfRegionsOrLess int

	// NumberOfRegionsOrMore stops dividing once a level already holds
	// at least this many regions. It does not override the other stop
	// tests, so a build can end with fewer regions. 0 means no bound.
	NumberOfRegionsOrMore int

	// RegionAssignment selects the region-to-process policy applied
	// after the build. Default: ContiguousAssignment.
	RegionAssignment AssignmentPolicy

	// UserAssignmentMap supplies region→process for
	// UserDefinedAssignment. Must have one entry per region.
	UserAssignmentMap []int

	// Timing turns on event marking: build phases are logged with
	// durations through Logger.
	Timing bool

	// Logger receives warnings, debug output and timing events.
	// Default: zap.NewNop().
	Logger *zap.Logger
}

// DefaultConfig returns a Config with the defaults described above.
func DefaultConfig() Config {
	return Config{
		ValidDirections:  allDirections,
		MinCells:         100,
		MaxLevel:         20,
		RegionAssignment: ContiguousAssignment,
	}
}

// applyDefaults fills a zero ValidDirections, MaxLevel and Logger with
// their defaults. A zero MinCells (no bound) and a zero
// RegionAssignment (NoRegionAssignment) are kept as given.
func applyDefaults(cfg *Config) {
	if cfg.ValidDirections == 0 {
		cfg.ValidDirections = allDirections
	}
	if cfg.MaxLevel == 0 {
		cfg.MaxLevel = 20
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
}

// validateConfig checks that cfg fields are valid and returns a
// descriptive error if not.
func validateConfig(cfg *Config) error {
	if cfg.ValidDirections & ^allDirections != 0 {
		return fmt.Errorf("pkdtree: ValidDirections %#x has bits outside X|Y|Z", cfg.ValidDirections)
	}
	if cfg.ValidDirections&allDirections == 0 {
		return fmt.Errorf("pkdtree: ValidDirections must permit at least one dimension")
	}
	if cfg.MinCells < 0 {
		return fmt.Errorf("pkdtree: MinCells must be >= 0 (0 means no bound), got %d", cfg.MinCells)
	}
	if cfg.MaxLevel < 1 {
		return fmt.Errorf("pkdtree: MaxLevel must be >= 1, got %d", cfg.MaxLevel)
	}
	if cfg.NumberOfRegionsOrLess < 0 {
		return fmt.Errorf("pkdtree: NumberOfRegionsOrLess must be >= 0, got %d", cfg.NumberOfRegionsOrLess)
	}
	if cfg.NumberOfRegionsOrMore < 0 {
		return fmt.Errorf("pkdtree: NumberOfRegionsOrMore must be >= 0, got %d", cfg.NumberOfRegionsOrMore)
	}
	switch cfg.RegionAssignment {
	case NoRegionAssignment, ContiguousAssignment, UserDefinedAssignment, RoundRobinAssignment:
		// valid
	default:
		return fmt.Errorf("pkdtree: invalid RegionAssignment %d", cfg.RegionAssignment)
	}
	return nil
}
