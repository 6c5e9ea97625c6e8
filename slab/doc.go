// Package slab provides a lock-free per-CPU slab cache for fixed-size
// memory blocks.
//
// The cache keeps one small LIFO stack of free pointers per (logical CPU,
// size class) pair in a single contiguous memory region. A thread only
// ever touches the stacks of the CPU it is currently running on, so the
// hot paths need no locks and no cross-CPU atomic contention: in the
// common case an allocation is one header read, one slot read, and one
// header write, all to lines owned by the local CPU.
//
// # Quick Start
//
//	cache, err := slab.New()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer cache.Close()
//
//	p, err := cache.Alloc(128)
//	if err != nil {
//		log.Fatal(err)
//	}
//	// ... use the 128-byte block at p ...
//	cache.Free(p, 128)
//
// # API Overview
//
// The package provides:
//   - Cache lifecycle: [New], [Cache.Close]
//   - Allocation: [Cache.Alloc], [Cache.Free]
//   - Raw per-CPU primitives: [Cache.PushBatch], [Cache.PopBatch],
//     [Cache.Cmpxchg]
//   - Thread registration: [Cache.Register], [Thread]
//   - Observability: [Cache.Stats], [GetInfo], [Version]
//
// # How It Works
//
// Each per-CPU stack is described by a single 64-bit header word packing
// the stack's begin, current, and end slot offsets. Operations read the
// header, stage their slot writes in the dead zone the header does not
// cover, and publish everything with one atomic store of the new header.
// An operation that loses its CPU before that store leaves no observable
// trace and simply runs again on the new CPU.
//
// How "runs on this CPU" is enforced depends on the platform:
//
//   - claim mode (Linux 4.18+): logical CPUs are OS CPU ids from
//     getcpu(2). Each CPU has a claim word; an operation claims it with a
//     compare-and-swap, revalidates its CPU id, runs, and releases. A
//     failed claim or revalidation discards the attempt and restarts.
//   - pinned mode (everywhere else): logical CPUs are scheduler P ids.
//     The operation pins the goroutine to its P for the duration, so no
//     migration (and no restart) can occur.
//
// Mode selection is automatic; see the probe subcommand of cmd/cpuslab
// for what a given host selects and why.
//
// When a per-CPU stack runs empty or full, the cache falls back to a
// mutex-guarded central store shared by all CPUs, transferring half a
// stack's worth of pointers per trip. The central store in turn grows
// from a chunked bump arena. Blocks larger than the largest size class
// bypass the per-CPU layer entirely.
//
// # Ordering Contract
//
// The stacks are LIFO and the batch primitives preserve that law
// end-to-end: PushBatch consumes from the tail of its batch, PopBatch
// fills its output most recently pushed first. Pushing [a, b, c] and
// popping three yields [c, b, a].
//
// # Performance Characteristics
//
//	Fast path:      no locks, no contended cache lines, no allocation
//	Slow path:      one mutex acquisition per half-stack transfer
//	Memory:         one mapped region, ~(stack depth × 8B) per CPU per class
//	Scalability:    per-CPU replication; threads on different CPUs never
//	                touch the same stack
//
// # Compatibility
//
//   - Operating systems: Linux, macOS (claim mode requires Linux 4.18+)
//   - Go version: 1.24 or later
//   - CGO requirement: None
//
// # Links
//
// Project repository:
// https://github.com/kolkov/cpuslab
//
// Documentation:
// https://pkg.go.dev/github.com/kolkov/cpuslab/slab
package slab
