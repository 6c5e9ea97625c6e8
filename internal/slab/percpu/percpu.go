// Copyright 2025 The cpuslab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package percpu

import (
	"sync/atomic"

	"github.com/kolkov/cpuslab/internal/slab/header"
	"github.com/kolkov/cpuslab/internal/slab/region"
	"github.com/kolkov/cpuslab/internal/slab/restart"
)

// ValueMismatch is the Cmpxchg sentinel for "CPUs matched but the word did
// not hold the expected value". It is distinct from every valid CPU id.
const ValueMismatch = -1

// Slabs binds the per-CPU region to the restartable executor and exposes
// the three primitives over it.
//
// All methods are safe to call from any goroutine at any time; the
// executor, not Slabs, provides the mutual exclusion.
type Slabs struct {
	region *region.Region
	exec   *restart.Executor
}

// New creates the primitive layer over a mapped region.
//
// The region must have at least as many CPU blocks as the executor can
// produce ids; anything else is a programming-contract violation and
// panics, as does a nil region or executor (primitives invoked without an
// established execution context).
func New(r *region.Region, e *restart.Executor) *Slabs {
	if r == nil || e == nil {
		panic("cpuslab/percpu: nil region or executor")
	}
	if r.Layout().NumCPU < e.NumSlots() {
		panic("cpuslab/percpu: region has fewer CPU blocks than executor slots")
	}
	return &Slabs{region: r, exec: e}
}

// Region returns the underlying region (stats and initialization only).
func (s *Slabs) Region() *region.Region {
	return s.region
}

// Executor returns the underlying executor.
func (s *Slabs) Executor() *restart.Executor {
	return s.exec
}

// Cmpxchg performs a single-word compare-and-swap gated on "am I still on
// targetCPU".
//
// Three outcomes, distinguished by the return value:
//   - targetCPU: the section ran on targetCPU and *addr held old; newVal
//     was stored as the section's single commit action.
//   - another valid CPU id: the section ran elsewhere; nothing was written.
//     The caller's cached CPU id is stale and the returned id replaces it.
//   - ValueMismatch: CPUs matched but *addr != old; nothing was written.
//
// addr must point to a word owned by targetCPU's per-CPU state; the store,
// when it happens, is the sole and final effect of the section, so no torn
// value is ever observable.
func (s *Slabs) Cmpxchg(targetCPU int, addr *uintptr, old, newVal uintptr) int {
	result := ValueMismatch
	s.exec.Run(func(cpu int) {
		if cpu != targetCPU {
			// Wrong CPU: abandon the logical operation, report where we
			// actually are.
			result = cpu
			return
		}
		if atomic.LoadUintptr(addr) != old {
			result = ValueMismatch
			return
		}
		// Commit store.
		atomic.StoreUintptr(addr, newVal)
		result = targetCPU
	})
	return result
}

// PushBatch transfers pointers from the tail of batch onto the current
// CPU's stack for class.
//
// n = min(len(batch), free slots) elements are taken from batch[len-n:]
// and placed at slots [current, current+n) preserving array order, then
// current += n is published as the single commit store. Returns n; 0 means
// the stack is full (capacity exhaustion, not failure).
//
// Consuming from the tail leaves batch[:len-n] untouched, so the caller
// can treat its own batch as a stack too and reroute a partial push
// without reshuffling.
func (s *Slabs) PushBatch(class int, batch []uintptr) int {
	s.checkClass(class)
	if len(batch) == 0 {
		return 0
	}

	n := 0
	s.exec.Run(func(cpu int) {
		w := s.region.LoadHeader(cpu, class)
		free := int(w.Free())
		if free == 0 {
			n = 0
			return
		}
		n = len(batch)
		if n > free {
			n = free
		}

		// Stage: the slots at and above current are dead until the header
		// publishes them, so these writes are not observable effects.
		cur := w.Current()
		base := len(batch) - n
		for i := 0; i < n; i++ {
			//nolint:gosec // G115: i < n <= free <= 16-bit span width.
			*s.region.Slot(cpu, cur+uint16(i)) = batch[base+i]
		}

		// Commit store.
		//nolint:gosec // G115: n bounded by the 16-bit span width.
		s.region.StoreHeader(cpu, class, w.WithCurrent(cur+uint16(n)))
	})
	return n
}

// PopBatch transfers pointers from the top of the current CPU's stack for
// class into out.
//
// n = min(len(out), occupied slots) elements are copied highest slot first
// into out[0:n], most recently pushed first (LIFO), then current -= n is
// published as the single commit store. Returns n; 0 means the stack is
// empty and the caller must refill from its central store.
//
// Popped slots become dead zone again; their contents are left in place
// and simply overwritten by a later push.
func (s *Slabs) PopBatch(class int, out []uintptr) int {
	s.checkClass(class)
	if len(out) == 0 {
		return 0
	}

	n := 0
	s.exec.Run(func(cpu int) {
		w := s.region.LoadHeader(cpu, class)
		avail := int(w.Avail())
		if avail == 0 {
			n = 0
			return
		}
		n = len(out)
		if n > avail {
			n = avail
		}

		// Stage: out is caller-owned and carries no invariant, so filling
		// it before the commit is fine even if this attempt is discarded.
		cur := w.Current()
		for i := 0; i < n; i++ {
			//nolint:gosec // G115: i < n <= avail <= 16-bit span width.
			out[i] = *s.region.Slot(cpu, cur-1-uint16(i))
		}

		// Commit store.
		//nolint:gosec // G115: n bounded by avail.
		s.region.StoreHeader(cpu, class, w.WithCurrent(cur-uint16(n)))
	})
	return n
}

// Length returns a snapshot of the number of pointers on (cpu, class)'s
// stack. Advisory: the owning CPU may move it concurrently.
func (s *Slabs) Length(cpu, class int) int {
	s.checkClass(class)
	return int(s.region.LoadHeader(cpu, class).Avail())
}

// Capacity returns the fixed stack capacity of (cpu, class).
func (s *Slabs) Capacity(cpu, class int) int {
	s.checkClass(class)
	w := s.region.LoadHeader(cpu, class)
	return int(w.End() - w.Begin())
}

// Snapshot returns the raw header word for tests and stats.
func (s *Slabs) Snapshot(cpu, class int) header.Word {
	s.checkClass(class)
	return s.region.LoadHeader(cpu, class)
}

// checkClass rejects out-of-range class indexes before any addressing.
//
//go:nosplit
func (s *Slabs) checkClass(class int) {
	if class < 0 || class >= s.region.Layout().NumClasses {
		panic("cpuslab/percpu: size class out of range")
	}
}
