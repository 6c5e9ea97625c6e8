// Package sizeclass maps allocation sizes to slab size classes.
//
// A size class is a bucket of same-sized allocations sharing one per-CPU
// stack. The table uses linear increments for small sizes and logarithmic
// growth above, which keeps the class count low while bounding internal
// fragmentation.
package sizeclass

import (
	"fmt"
	"math"
)

// Config defines the size class strategy.
// Different configurations can be benchmarked to find the right
// granularity/footprint tradeoff for a workload.
type Config struct {
	// Name for this configuration (for benchmarking and logging)
	Name string

	// Small allocation settings (linear increments)
	SmallMin       int // Minimum allocation size (typically 8)
	SmallMax       int // Max for linear increments (typically 256-512)
	SmallIncrement int // Increment size for small allocations (8, 16, or 32)

	// Medium allocation settings (logarithmic growth)
	MediumMax    int     // Largest size served from per-CPU slabs
	GrowthFactor float64 // Exponential growth factor (1.5, 2.0, etc.)
}

// Predefined configurations.
var (
	// FineGrained: many small buckets, good for varied workloads.
	ConfigFineGrained = Config{
		Name:           "FineGrained",
		SmallMin:       8,
		SmallMax:       256,
		SmallIncrement: 8,
		MediumMax:      16384,
		GrowthFactor:   1.5,
	}

	// Balanced: good balance between slab footprint and granularity.
	ConfigBalanced = Config{
		Name:           "Balanced",
		SmallMin:       8,
		SmallMax:       512,
		SmallIncrement: 16,
		MediumMax:      16384,
		GrowthFactor:   1.5,
	}

	// Coarse: fewer buckets, shallower region, more internal fragmentation.
	ConfigCoarse = Config{
		Name:           "Coarse",
		SmallMin:       8,
		SmallMax:       512,
		SmallIncrement: 32,
		MediumMax:      16384,
		GrowthFactor:   2.0,
	}

	// DefaultConfig is used when the caller does not pick one.
	DefaultConfig = ConfigBalanced
)

// Table holds the computed size class boundaries.
type Table struct {
	config     Config
	boundaries []int // upper bound (inclusive) for each size class
	numClasses int
}

// NewTable computes size class boundaries from config.
//
// Returns an error for configurations that cannot produce a monotonic
// boundary table (non-positive increments or growth <= 1 with a medium
// range to cover).
func NewTable(config Config) (*Table, error) {
	if config.SmallMin <= 0 || config.SmallIncrement <= 0 {
		return nil, fmt.Errorf("sizeclass: config %q: SmallMin and SmallIncrement must be positive", config.Name)
	}
	if config.SmallMax < config.SmallMin {
		return nil, fmt.Errorf("sizeclass: config %q: SmallMax %d below SmallMin %d",
			config.Name, config.SmallMax, config.SmallMin)
	}

	t := &Table{
		config:     config,
		boundaries: make([]int, 0, 64),
	}

	// Phase 1: small allocations (linear increments).
	for size := config.SmallMin; size < config.SmallMax; size += config.SmallIncrement {
		t.boundaries = append(t.boundaries, size+config.SmallIncrement-1)
	}

	// Phase 2: medium allocations (logarithmic growth).
	if config.SmallMax < config.MediumMax {
		size := config.SmallMax
		for size < config.MediumMax {
			nextSize := int(math.Ceil(float64(size) * config.GrowthFactor))
			if nextSize <= size {
				nextSize = size + 1 // Ensure progress.
			}
			boundary := nextSize - 1
			if nextSize >= config.MediumMax {
				// Final step: the largest class serves exactly up to
				// MediumMax, never beyond it.
				boundary = config.MediumMax
			}
			t.boundaries = append(t.boundaries, boundary)
			size = nextSize
		}
	}

	t.numClasses = len(t.boundaries)
	if t.numClasses == 0 {
		return nil, fmt.Errorf("sizeclass: config %q produced no classes", config.Name)
	}
	return t, nil
}

// ClassFor returns the size class index for a given allocation size.
// Returns NumClasses() for sizes beyond MediumMax (caller must use a
// large-object path; the per-CPU slabs never serve those).
func (t *Table) ClassFor(size int) int {
	// Binary search for the smallest boundary that fits.
	lo, hi := 0, t.numClasses-1

	for lo <= hi {
		mid := (lo + hi) / 2
		if size <= t.boundaries[mid] {
			if mid == 0 || size > t.boundaries[mid-1] {
				return mid
			}
			hi = mid - 1
		} else {
			lo = mid + 1
		}
	}

	// Size is larger than all boundaries.
	return t.numClasses
}

// ClassSize returns the allocation size served by class c (its inclusive
// upper boundary). Every pointer on class c's stacks refers to a block of
// at least this many bytes.
func (t *Table) ClassSize(c int) int {
	return t.boundaries[c]
}

// NumClasses returns the number of size classes.
func (t *Table) NumClasses() int {
	return t.numClasses
}

// Capacities returns the per-class slab stack depth for a given base depth.
//
// Small classes get the full depth; capacity decays for larger classes so
// that a CPU block's total slot count stays bounded (the region layout
// requires every offset to fit 16 bits). Minimum depth is 8 slots so the
// batch fast path stays useful for every class.
func (t *Table) Capacities(baseDepth int) []uint16 {
	caps := make([]uint16, t.numClasses)
	for c := 0; c < t.numClasses; c++ {
		depth := baseDepth
		// Halve the depth each time the class size quadruples relative
		// to the smallest class.
		for size := t.boundaries[c]; size > t.boundaries[0]*4 && depth > 8; size /= 4 {
			depth /= 2
		}
		if depth < 8 {
			depth = 8
		}
		if depth > 0xFFFF {
			depth = 0xFFFF
		}
		//nolint:gosec // G115: depth clamped to uint16 range above.
		caps[c] = uint16(depth)
	}
	return caps
}

// String returns a human-readable description of the size class table.
func (t *Table) String() string {
	return t.config.Name
}
