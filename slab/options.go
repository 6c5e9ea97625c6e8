package slab

import (
	"log/slog"

	"github.com/kolkov/cpuslab/internal/slab/restart"
	"github.com/kolkov/cpuslab/internal/slab/sizeclass"
)

const (
	// DefaultSlotsPerClass is the stack depth of the smallest size class;
	// larger classes get progressively shallower stacks.
	DefaultSlotsPerClass = 64

	// DefaultChunkBytes is the arena growth increment.
	DefaultChunkBytes = 1 << 20 // 1MB
)

// config carries the assembled cache settings.
type config struct {
	classes       sizeclass.Config
	slotsPerClass int
	chunkBytes    int
	logger        *slog.Logger
	executor      *restart.Executor
}

// Option configures a Cache. Options follow the functional pattern:
//
//	cache, err := slab.New(
//		slab.WithSizeClasses(slab.SizeClassesFineGrained),
//		slab.WithLogger(logger),
//	)
type Option func(*config)

// SizeClassConfig defines a size class strategy for WithSizeClasses.
// Callers can build their own or pick one of the predefined strategies.
type SizeClassConfig = sizeclass.Config

// Size class strategies, re-exported for WithSizeClasses.
var (
	SizeClassesFineGrained = sizeclass.ConfigFineGrained
	SizeClassesBalanced    = sizeclass.ConfigBalanced
	SizeClassesCoarse      = sizeclass.ConfigCoarse
)

// WithSizeClasses selects the size class strategy. Default is Balanced.
func WithSizeClasses(classes SizeClassConfig) Option {
	return func(c *config) {
		c.classes = classes
	}
}

// WithSlotsPerClass sets the per-CPU stack depth of the smallest size
// class. Larger classes scale down from it. Default is
// DefaultSlotsPerClass.
func WithSlotsPerClass(n int) Option {
	return func(c *config) {
		c.slotsPerClass = n
	}
}

// WithChunkSize sets the arena growth increment in bytes. It must exceed
// the largest slab-served size; New rejects anything smaller. Default is
// DefaultChunkBytes.
func WithChunkSize(n int) Option {
	return func(c *config) {
		c.chunkBytes = n
	}
}

// WithLogger injects an operational logger. The cache logs setup, mode
// selection, and arena growth; the hot paths never log. Default discards.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// withExecutor injects a prebuilt executor. Test seam: production caches
// always take the platform executor from restart.New.
func withExecutor(e *restart.Executor) Option {
	return func(c *config) {
		c.executor = e
	}
}

func defaultConfig() config {
	return config{
		classes:       sizeclass.DefaultConfig,
		slotsPerClass: DefaultSlotsPerClass,
		chunkBytes:    DefaultChunkBytes,
	}
}
