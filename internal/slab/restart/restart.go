// Package restart provides restartable critical sections over per-CPU state.
//
// An Executor runs short sections of code under the following contract: the
// section observes a validated logical-CPU id, it stages all of its memory
// effects, and it publishes them through a single terminal store. If the
// executing thread is found to have left that logical CPU before the section
// was validated, the attempt is discarded and the section re-enters from the
// top with a freshly fetched id. Restarts are unbounded and carry no backoff;
// liveness relies on the scheduler eventually leaving the thread undisturbed
// for the section's (microsecond-scale) duration.
//
// Two execution modes implement the contract:
//
//   - ModePinned (portable default): the logical CPU is the goroutine's P id,
//     held via runtime procPin for the section's duration. Pinning excludes
//     migration entirely, so a validated section never restarts.
//   - ModeClaim (linux, kernel-gated): the logical CPU is the OS CPU id from
//     getcpu(2). The thread may migrate mid-section, so single-writer
//     ownership is held through a per-CPU claim word instead; a CPU id that
//     changes between fetch and post-claim revalidation aborts the attempt.
//     This trades one CPU-local atomic per section for real OS CPU ids and
//     is only enabled on kernels new enough to carry restartable-sequence
//     support (see ClaimSupported).
//
// The claim-word CAS touches only the section's own CPU slot, so it is
// uncontended except across the migration windows it exists to close.
package restart

import (
	"sync/atomic"
)

// Execution modes. See the package comment for the contract each provides.
type Mode int

const (
	// ModePinned identifies logical CPUs with scheduler P ids and excludes
	// migration by pinning. Works on every platform.
	ModePinned Mode = iota

	// ModeClaim identifies logical CPUs with OS CPU ids and closes the
	// migration window with a per-CPU claim word. Linux only.
	ModeClaim
)

// String returns the mode name for logs and the CLI probe.
func (m Mode) String() string {
	switch m {
	case ModePinned:
		return "pinned"
	case ModeClaim:
		return "claim"
	default:
		return "unknown"
	}
}

const (
	// maxCPUs bounds the claim table. 4096 slots of one cache line each is
	// 256KB, negligible against the slab region itself.
	maxCPUs = 4096

	// cpuCacheInterval is how many Thread.CPU reads may reuse a cached id
	// before it is re-fetched. Staleness is harmless: every primitive
	// re-validates the id inside its restartable section.
	cpuCacheInterval = 64
)

// claimSlot is the single-writer ownership word for one logical CPU.
// Padded to a cache line to prevent false sharing between adjacent CPUs.
type claimSlot struct {
	owner atomic.Uint32

	_ [60]byte
}

// Executor provides restartable critical sections.
//
// An Executor is created once at cache setup and shared by every thread;
// all methods are safe for concurrent use. The zero value is not usable;
// the primitives treat a nil or zero Executor as a programming-contract
// violation and panic.
type Executor struct {
	mode   Mode
	nslots int

	// cpufn fetches the current logical CPU id. Only set in ModeClaim;
	// ModePinned derives the id from procPin directly.
	cpufn func() int

	// claims holds the per-CPU ownership words (ModeClaim only).
	claims []claimSlot

	// restarts counts discarded section attempts. Diagnostics only.
	restarts atomic.Uint64
}

// New creates an Executor in the best mode the platform supports:
// ModeClaim where the kernel qualifies (see ClaimSupported), ModePinned
// everywhere else.
func New() *Executor {
	if ClaimSupported() {
		return newClaim(nativeCPU, nativeCPUCount())
	}
	return NewPinned()
}

// NewPinned creates a portable pinned-mode Executor. Logical CPU ids are
// P ids in [0, GOMAXPROCS).
func NewPinned() *Executor {
	return &Executor{
		mode:   ModePinned,
		nslots: gomaxprocs(),
	}
}

// NewWithCPUFunc creates a claim-mode Executor with an injected CPU-id
// source. This is the seam for tests (deterministic migration injection)
// and for ports whose CPU-id facility lives outside this package. fn must
// return ids in [0, nslots).
func NewWithCPUFunc(fn func() int, nslots int) *Executor {
	return newClaim(fn, nslots)
}

func newClaim(fn func() int, nslots int) *Executor {
	if nslots <= 0 || nslots > maxCPUs {
		panic("cpuslab/restart: cpu slot count out of range")
	}
	return &Executor{
		mode:   ModeClaim,
		nslots: nslots,
		cpufn:  fn,
		claims: make([]claimSlot, nslots),
	}
}

// Mode returns the executor's execution mode.
func (e *Executor) Mode() Mode {
	return e.mode
}

// NumSlots returns the number of distinct logical CPU ids the executor can
// produce. Per-CPU structures (the slab region above all) must be sized to
// at least this many slots.
func (e *Executor) NumSlots() int {
	return e.nslots
}

// Restarts returns the number of section attempts discarded so far.
// Always zero in ModePinned.
func (e *Executor) Restarts() uint64 {
	return e.restarts.Load()
}

// Run executes body as a restartable critical section.
//
// body receives the validated logical CPU id and holds single-writer
// ownership of that CPU's per-CPU state until it returns. body must stage
// every memory effect and make the mutation visible through one final
// store; effects staged by an attempt that Run discards land only in
// memory nothing else observes.
//
// Run never blocks, sleeps, or yields. It panics if the executor is nil
// (primitives invoked without an established execution context) or if the
// fetched CPU id falls outside the slot range.
func (e *Executor) Run(body func(cpu int)) {
	if e == nil {
		panic("cpuslab/restart: Run on nil Executor")
	}

	if e.mode == ModePinned {
		pid := runtimeProcPin()
		if pid >= e.nslots {
			runtimeProcUnpin()
			panic("cpuslab/restart: GOMAXPROCS raised beyond executor capacity")
		}
		body(pid)
		runtimeProcUnpin()
		return
	}

	for {
		cpu := e.cpufn()
		if cpu < 0 || cpu >= e.nslots {
			panic("cpuslab/restart: cpu id out of range")
		}

		slot := &e.claims[cpu]
		if !slot.owner.CompareAndSwap(0, 1) {
			// A thread that migrated away mid-section still owns this
			// CPU's slabs. Discard and re-enter; the owner finishes in
			// microseconds.
			e.restarts.Add(1)
			continue
		}

		// Revalidate after claiming: the fetch above may be stale.
		if e.cpufn() != cpu {
			slot.owner.Store(0)
			e.restarts.Add(1)
			continue
		}

		body(cpu)
		slot.owner.Store(0)
		return
	}
}

// CurrentCPU fetches the current logical CPU id without entering a section.
//
// The result is advisory: the thread may have moved by the time the caller
// acts on it. That is safe because every primitive re-validates inside its
// own section; callers use this only to pick a target CPU (Cmpxchg) or to
// prefill the Thread cache.
func (e *Executor) CurrentCPU() int {
	if e.mode == ModePinned {
		pid := runtimeProcPin()
		runtimeProcUnpin()
		return pid
	}
	return e.cpufn()
}

// Thread is a per-goroutine registration handle for the executor.
//
// It carries the cached CPU id with bounded staleness: CPU returns the
// cached value for up to cpuCacheInterval reads before re-fetching. The
// lifecycle is register at thread start, unregister at thread exit; using
// a handle after Unregister is a contract violation and panics.
//
// A Thread is owned by one goroutine and must not be shared.
type Thread struct {
	e     *Executor
	cpu   int
	reads uint32
}

// Register creates a thread handle bound to this executor.
func (e *Executor) Register() *Thread {
	if e == nil {
		panic("cpuslab/restart: Register on nil Executor")
	}
	return &Thread{e: e, cpu: e.CurrentCPU()}
}

// CPU returns the thread's logical CPU id, re-fetching the cached value
// every cpuCacheInterval reads.
func (t *Thread) CPU() int {
	if t.e == nil {
		panic("cpuslab/restart: Thread used after Unregister")
	}
	t.reads++
	if t.reads >= cpuCacheInterval {
		t.reads = 0
		t.cpu = t.e.CurrentCPU()
	}
	return t.cpu
}

// Refresh forces the next CPU call to re-fetch.
func (t *Thread) Refresh() {
	t.reads = cpuCacheInterval
}

// Unregister releases the handle. The handle must not be used afterwards.
func (t *Thread) Unregister() {
	t.e = nil
}
