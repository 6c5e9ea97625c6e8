package slab

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"unsafe"

	"github.com/kolkov/cpuslab/internal/slab/central"
	"github.com/kolkov/cpuslab/internal/slab/percpu"
	"github.com/kolkov/cpuslab/internal/slab/region"
	"github.com/kolkov/cpuslab/internal/slab/restart"
	"github.com/kolkov/cpuslab/internal/slab/sizeclass"
)

// Predefined errors for better error handling.
var (
	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = errors.New("cpuslab: cache closed")

	// ErrInvalidSize is returned for non-positive allocation sizes.
	ErrInvalidSize = errors.New("cpuslab: invalid allocation size")

	// ErrChunkTooSmall rejects arena chunks that cannot hold the largest
	// slab-served size class.
	ErrChunkTooSmall = errors.New("cpuslab: arena chunk smaller than largest size class")

	// ErrExhausted is returned when a refill produces nothing. With the
	// built-in arena this indicates a broken grow hook, not memory
	// pressure.
	ErrExhausted = errors.New("cpuslab: central store exhausted")
)

// ValueMismatch is the Cmpxchg sentinel for "CPUs matched but the word did
// not hold the expected value". Distinct from every valid CPU id.
const ValueMismatch = percpu.ValueMismatch

// Cache is a per-CPU slab cache: one small LIFO stack of free pointers per
// (logical CPU, size class), accessed without locks by whichever thread
// currently runs on that CPU, with a mutex-guarded central store and bump
// arena behind it.
//
// All methods except Close are safe to call from any goroutine at any
// time. Close must not run concurrently with other operations.
type Cache struct {
	closed atomic.Bool

	table *sizeclass.Table
	exec  *restart.Executor
	reg   *region.Region
	slabs *percpu.Slabs
	store *central.Store
	mem   *arena

	logger *slog.Logger

	// active holds one activation word per logical CPU, flipped 0->1 by a
	// Cmpxchg on the CPU's own slow path (first touch).
	active []uintptr

	// refill is the per-class transfer batch size between the per-CPU
	// stacks and the central store (half the stack depth).
	refill []int

	stats cacheStats
}

type cacheStats struct {
	fastAllocs  atomic.Uint64
	fastFrees   atomic.Uint64
	refills     atomic.Uint64
	flushes     atomic.Uint64
	largeAllocs atomic.Uint64
}

// Stats is a point-in-time snapshot of cache activity.
type Stats struct {
	// FastAllocs counts allocations served from a per-CPU stack.
	FastAllocs uint64

	// FastFrees counts frees absorbed by a per-CPU stack.
	FastFrees uint64

	// Refills counts alloc slow paths (empty stack, central refill).
	Refills uint64

	// Flushes counts free slow paths (full stack, central flush).
	Flushes uint64

	// LargeAllocs counts allocations beyond the largest size class,
	// served straight from the arena.
	LargeAllocs uint64

	// Restarts counts discarded restartable-section attempts.
	Restarts uint64

	// ActiveCPUs counts logical CPUs whose slabs have been touched.
	ActiveCPUs int

	// CentralGrown counts pointers carved from the arena so far.
	CentralGrown uint64

	// ArenaBytes is the total arena footprint.
	ArenaBytes int
}

// New creates a cache.
//
// The execution mode is chosen per platform (see the probe subcommand of
// cmd/cpuslab): OS CPU ids with claim words on qualifying Linux kernels,
// scheduler P ids with pinning everywhere else.
func New(opts ...Option) (*Cache, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	table, err := sizeclass.NewTable(cfg.classes)
	if err != nil {
		return nil, fmt.Errorf("cpuslab: %w", err)
	}
	// Compare the aligned size: that is what the arena actually cuts.
	if cfg.chunkBytes <= alignBlock(table.ClassSize(table.NumClasses()-1)) {
		return nil, ErrChunkTooSmall
	}

	exec := cfg.executor
	if exec == nil {
		exec = restart.New()
	}

	caps := table.Capacities(cfg.slotsPerClass)
	layout, err := region.NewLayout(exec.NumSlots(), caps)
	if err != nil {
		return nil, fmt.Errorf("cpuslab: %w", err)
	}
	reg, err := region.Map(layout)
	if err != nil {
		return nil, fmt.Errorf("cpuslab: %w", err)
	}

	mem := newArena(cfg.chunkBytes, logger)
	store := central.NewStore(table.NumClasses(), func(class, n int) []uintptr {
		return mem.carve(table.ClassSize(class), n)
	})

	refill := make([]int, table.NumClasses())
	for c := range refill {
		refill[c] = int(caps[c]) / 2
		if refill[c] < 1 {
			refill[c] = 1
		}
	}

	cache := &Cache{
		table:  table,
		exec:   exec,
		reg:    reg,
		slabs:  percpu.New(reg, exec),
		store:  store,
		mem:    mem,
		logger: logger,
		active: make([]uintptr, exec.NumSlots()),
		refill: refill,
	}

	logger.Info("cpu slab cache ready",
		"mode", exec.Mode().String(),
		"cpus", exec.NumSlots(),
		"classes", table.NumClasses(),
		"region_bytes", layout.Size())

	return cache, nil
}

// Alloc returns a block of at least size bytes.
//
// Fast path: one PopBatch from the current CPU's stack. Slow path: refill
// from the central store (growing the arena if needed) and seed the stack
// for subsequent calls. Sizes beyond the largest class bypass the slabs.
func (c *Cache) Alloc(size int) (unsafe.Pointer, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	if c.closed.Load() {
		return nil, ErrClosed
	}

	class := c.table.ClassFor(size)
	if class >= c.table.NumClasses() {
		c.stats.largeAllocs.Add(1)
		return c.mem.alloc(size), nil
	}

	var buf [1]uintptr
	if c.slabs.PopBatch(class, buf[:]) == 1 {
		c.stats.fastAllocs.Add(1)
		//nolint:gosec // G103: slab pointers originate in the cache's arena.
		return unsafe.Pointer(buf[0]), nil
	}
	return c.allocSlow(class)
}

// allocSlow refills the current CPU's stack from the central store and
// returns one of the refilled blocks.
func (c *Cache) allocSlow(class int) (unsafe.Pointer, error) {
	c.stats.refills.Add(1)
	c.activate()

	batch := make([]uintptr, c.refill[class])
	n := c.store.Refill(class, batch)
	if n == 0 {
		return nil, ErrExhausted
	}

	// Keep the last block for the caller; seed the stack with the rest.
	p := batch[n-1]
	rest := batch[:n-1]
	if len(rest) > 0 {
		pushed := c.slabs.PushBatch(class, rest)
		// PushBatch consumes from the tail; whatever it left (another
		// thread filled this CPU's stack meanwhile, or we migrated onto
		// a fuller CPU) goes back to the central list.
		if left := rest[:len(rest)-pushed]; len(left) > 0 {
			c.store.Flush(class, left)
		}
	}

	//nolint:gosec // G103: slab pointers originate in the cache's arena.
	return unsafe.Pointer(p), nil
}

// Free returns a block obtained from Alloc with the same size.
//
// Fast path: one PushBatch onto the current CPU's stack. Slow path: drain
// half the stack to the central store first. Large blocks are arena-backed
// and not recycled.
func (c *Cache) Free(p unsafe.Pointer, size int) {
	if p == nil || c.closed.Load() {
		return
	}

	class := c.table.ClassFor(size)
	if class >= c.table.NumClasses() {
		return
	}

	buf := [1]uintptr{uintptr(p)}
	if c.slabs.PushBatch(class, buf[:]) == 1 {
		c.stats.fastFrees.Add(1)
		return
	}
	c.freeSlow(class, uintptr(p))
}

// freeSlow makes room by flushing half the current CPU's stack, then
// retries the push once.
func (c *Cache) freeSlow(class int, p uintptr) {
	c.stats.flushes.Add(1)

	drain := make([]uintptr, c.refill[class])
	if n := c.slabs.PopBatch(class, drain); n > 0 {
		c.store.Flush(class, drain[:n])
	}

	buf := [1]uintptr{p}
	if c.slabs.PushBatch(class, buf[:]) == 0 {
		// Migrated onto another full CPU between drain and push; the
		// block goes straight to the central list.
		c.store.Flush(class, buf[:])
	}
}

// activate publishes first-touch of the current CPU's slabs through the
// gated compare-and-swap, so the transition is attributed to the right
// CPU even if the thread migrates mid-call.
func (c *Cache) activate() {
	cpu := c.exec.CurrentCPU()
	if cpu < 0 || cpu >= len(c.active) {
		// Advisory read failed or raced ahead of the table; a later call
		// attributes the activation.
		return
	}
	if atomic.LoadUintptr(&c.active[cpu]) != 0 {
		return
	}
	if c.slabs.Cmpxchg(cpu, &c.active[cpu], 0, 1) == cpu {
		c.logger.Debug("cpu slab activated", "cpu", cpu)
	}
	// A CPU-mismatch or value-mismatch outcome means someone else (or a
	// later call) activates it; nothing to do.
}

// PushBatch exposes the batch push primitive: it transfers pointers from
// the tail of batch onto the current CPU's stack for sizeClass and returns
// the count moved (0 when the stack is full). See the package
// documentation for the exact ordering contract.
func (c *Cache) PushBatch(sizeClass int, batch []uintptr) int {
	return c.slabs.PushBatch(sizeClass, batch)
}

// PopBatch exposes the batch pop primitive: it fills out from the top of
// the current CPU's stack for sizeClass, most recently pushed first, and
// returns the count moved (0 when the stack is empty).
func (c *Cache) PopBatch(sizeClass int, out []uintptr) int {
	return c.slabs.PopBatch(sizeClass, out)
}

// Cmpxchg exposes the CPU-gated compare-and-swap. It returns targetCPU on
// success, the actual CPU id (nothing written) when the caller's cached id
// was stale, or ValueMismatch (nothing written) when *addr differed from
// old.
func (c *Cache) Cmpxchg(targetCPU int, addr *uintptr, old, newVal uintptr) int {
	return c.slabs.Cmpxchg(targetCPU, addr, old, newVal)
}

// Thread is a per-goroutine registration handle carrying the cached
// logical-CPU id with bounded staleness. Register at goroutine start,
// Unregister at exit; a handle must not be shared or used afterwards.
type Thread struct {
	t *restart.Thread
}

// Register creates a thread handle for fast CPU-id reads (the usual
// source of Cmpxchg targets).
func (c *Cache) Register() *Thread {
	return &Thread{t: c.exec.Register()}
}

// CPU returns the handle's cached logical CPU id.
func (t *Thread) CPU() int {
	return t.t.CPU()
}

// Unregister releases the handle.
func (t *Thread) Unregister() {
	t.t.Unregister()
}

// ClassFor returns the size class index serving size, or NumClasses() for
// sizes the slabs do not serve.
func (c *Cache) ClassFor(size int) int {
	return c.table.ClassFor(size)
}

// NumClasses returns the number of size classes.
func (c *Cache) NumClasses() int {
	return c.table.NumClasses()
}

// NumCPUs returns the number of logical CPUs the cache is replicated over.
func (c *Cache) NumCPUs() int {
	return c.exec.NumSlots()
}

// Mode returns the execution mode name ("claim" or "pinned").
func (c *Cache) Mode() string {
	return c.exec.Mode().String()
}

// Stats returns a snapshot of cache activity.
func (c *Cache) Stats() Stats {
	active := 0
	for i := range c.active {
		if atomic.LoadUintptr(&c.active[i]) != 0 {
			active++
		}
	}
	return Stats{
		FastAllocs:   c.stats.fastAllocs.Load(),
		FastFrees:    c.stats.fastFrees.Load(),
		Refills:      c.stats.refills.Load(),
		Flushes:      c.stats.flushes.Load(),
		LargeAllocs:  c.stats.largeAllocs.Load(),
		Restarts:     c.exec.Restarts(),
		ActiveCPUs:   active,
		CentralGrown: c.store.Grown(),
		ArenaBytes:   c.mem.footprint(),
	}
}

// Close releases the slab region. Idempotent, but must not run
// concurrently with other cache operations.
func (c *Cache) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	s := c.Stats()
	c.logger.Info("cpu slab cache closed",
		"fast_allocs", s.FastAllocs,
		"fast_frees", s.FastFrees,
		"refills", s.Refills,
		"flushes", s.Flushes,
		"restarts", s.Restarts)

	return c.reg.Close()
}
