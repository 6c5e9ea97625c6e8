// Copyright 2025 The cpuslab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package percpu

import (
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/kolkov/cpuslab/internal/slab/region"
	"github.com/kolkov/cpuslab/internal/slab/restart"
)

// newTestSlabs builds a slab layer over numCPU blocks with the given
// per-class capacities and a deterministic CPU-id source.
func newTestSlabs(t testing.TB, numCPU int, caps []uint16, cpufn func() int) *Slabs {
	t.Helper()

	layout, err := region.NewLayout(numCPU, caps)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	r, err := region.Map(layout)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	t.Cleanup(func() {
		if err := r.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})

	return New(r, restart.NewWithCPUFunc(cpufn, numCPU))
}

// onCPU returns a CPU-id source that never migrates.
func onCPU(cpu int) func() int {
	return func() int { return cpu }
}

// TestPushPopRoundTrip tests the LIFO round-trip law: pushing sequence S
// then popping |S| items yields reverse(S).
func TestPushPopRoundTrip(t *testing.T) {
	s := newTestSlabs(t, 1, []uint16{8}, onCPU(0))

	batch := []uintptr{0xA, 0xB, 0xC}
	if got := s.PushBatch(0, batch); got != 3 {
		t.Fatalf("PushBatch = %d, want 3", got)
	}

	out := make([]uintptr, 3)
	if got := s.PopBatch(0, out); got != 3 {
		t.Fatalf("PopBatch = %d, want 3", got)
	}

	want := []uintptr{0xC, 0xB, 0xA}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %#x, want %#x", i, out[i], want[i])
		}
	}

	if got := s.Length(0, 0); got != 0 {
		t.Errorf("Length after round trip = %d, want 0", got)
	}
	if w := s.Snapshot(0, 0); !w.Valid() {
		t.Errorf("header invalid after round trip: %s", w)
	}
}

// TestPushBounds tests the exact and partial push counts.
func TestPushBounds(t *testing.T) {
	tests := []struct {
		name     string
		capacity uint16
		prefill  int
		pushLen  int
		want     int
	}{
		{name: "free covers len", capacity: 8, prefill: 0, pushLen: 5, want: 5},
		{name: "free equals len", capacity: 8, prefill: 3, pushLen: 5, want: 5},
		{name: "partial", capacity: 8, prefill: 6, pushLen: 5, want: 2},
		{name: "full stack", capacity: 8, prefill: 8, pushLen: 5, want: 0},
		{name: "empty batch", capacity: 8, prefill: 0, pushLen: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSlabs(t, 1, []uint16{tt.capacity}, onCPU(0))

			for i := 0; i < tt.prefill; i++ {
				if got := s.PushBatch(0, []uintptr{uintptr(0x100 + i)}); got != 1 {
					t.Fatalf("prefill push %d = %d, want 1", i, got)
				}
			}

			batch := make([]uintptr, tt.pushLen)
			for i := range batch {
				batch[i] = uintptr(0x200 + i)
			}

			before := s.Snapshot(0, 0)
			got := s.PushBatch(0, batch)
			after := s.Snapshot(0, 0)

			if got != tt.want {
				t.Errorf("PushBatch = %d, want %d", got, tt.want)
			}
			//nolint:gosec // G115: test counts fit uint16.
			if diff := after.Current() - before.Current(); diff != uint16(tt.want) {
				t.Errorf("current moved by %d, want %d", diff, tt.want)
			}
			if tt.prefill+tt.want == int(tt.capacity) && after.Current() != after.End() {
				t.Errorf("current = %d, want end %d after filling", after.Current(), after.End())
			}
			if !after.Valid() {
				t.Errorf("header invalid: %s", after)
			}
		})
	}
}

// TestPopBounds tests that pop is the bounded mirror of push.
func TestPopBounds(t *testing.T) {
	tests := []struct {
		name     string
		capacity uint16
		prefill  int
		popLen   int
		want     int
	}{
		{name: "avail covers len", capacity: 8, prefill: 6, popLen: 4, want: 4},
		{name: "avail equals len", capacity: 8, prefill: 4, popLen: 4, want: 4},
		{name: "partial", capacity: 8, prefill: 2, popLen: 4, want: 2},
		{name: "empty stack", capacity: 8, prefill: 0, popLen: 4, want: 0},
		{name: "empty out", capacity: 8, prefill: 4, popLen: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSlabs(t, 1, []uint16{tt.capacity}, onCPU(0))

			batch := make([]uintptr, tt.prefill)
			for i := range batch {
				batch[i] = uintptr(0x300 + i)
			}
			if tt.prefill > 0 {
				if got := s.PushBatch(0, batch); got != tt.prefill {
					t.Fatalf("prefill = %d, want %d", got, tt.prefill)
				}
			}

			out := make([]uintptr, tt.popLen)
			before := s.Snapshot(0, 0)
			got := s.PopBatch(0, out)
			after := s.Snapshot(0, 0)

			if got != tt.want {
				t.Errorf("PopBatch = %d, want %d", got, tt.want)
			}
			//nolint:gosec // G115: test counts fit uint16.
			if diff := before.Current() - after.Current(); diff != uint16(tt.want) {
				t.Errorf("current moved by %d, want %d", diff, tt.want)
			}
			if tt.prefill == tt.want && after.Current() != after.Begin() {
				t.Errorf("current = %d, want begin %d after draining", after.Current(), after.Begin())
			}
			if !after.Valid() {
				t.Errorf("header invalid: %s", after)
			}

			// Pop order: most recently pushed first.
			for i := 0; i < got; i++ {
				want := uintptr(0x300 + tt.prefill - 1 - i)
				if out[i] != want {
					t.Errorf("out[%d] = %#x, want %#x", i, out[i], want)
				}
			}
		})
	}
}

// TestPushConsumesTail tests that a partial push takes the LAST n batch
// elements and leaves the prefix for the caller.
func TestPushConsumesTail(t *testing.T) {
	// Capacity 4, prefilled with 2: exactly the worked scenario
	// {begin=0, current=2, end=4} up to the block-relative header offset.
	s := newTestSlabs(t, 1, []uint16{4}, onCPU(0))

	if got := s.PushBatch(0, []uintptr{0x51, 0x52}); got != 2 {
		t.Fatalf("prefill = %d, want 2", got)
	}

	p1, p2, p3 := uintptr(0x61), uintptr(0x62), uintptr(0x63)
	batch := []uintptr{p1, p2, p3}

	got := s.PushBatch(0, batch)
	if got != 2 {
		t.Fatalf("PushBatch = %d, want 2", got)
	}

	w := s.Snapshot(0, 0)
	if w.Current() != w.End() {
		t.Errorf("current = %d, want end %d", w.Current(), w.End())
	}

	// The two newly used slots hold the batch TAIL in array order:
	// slot current-2 = p2, slot current-1 = p3.
	if v := *s.Region().Slot(0, w.Current()-2); v != p2 {
		t.Errorf("slot current-2 = %#x, want p2 %#x", v, p2)
	}
	if v := *s.Region().Slot(0, w.Current()-1); v != p3 {
		t.Errorf("slot current-1 = %#x, want p3 %#x", v, p3)
	}

	// The unconsumed prefix is still the caller's.
	if batch[0] != p1 {
		t.Errorf("batch[0] = %#x, want untouched p1 %#x", batch[0], p1)
	}

	// Second half of the worked scenario: popping 2 yields [p3, p2].
	out := make([]uintptr, 2)
	if got := s.PopBatch(0, out); got != 2 {
		t.Fatalf("PopBatch = %d, want 2", got)
	}
	if out[0] != p3 || out[1] != p2 {
		t.Errorf("pop = [%#x %#x], want [p3 p2] = [%#x %#x]", out[0], out[1], p3, p2)
	}
	if w := s.Snapshot(0, 0); w.Avail() != 2 {
		t.Errorf("Avail after scenario = %d, want 2", w.Avail())
	}
}

// TestCmpxchgOutcomes tests the three cmpxchg outcomes and their no-write
// guarantees.
func TestCmpxchgOutcomes(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		s := newTestSlabs(t, 2, []uint16{4}, onCPU(0))
		word := uintptr(10)

		if got := s.Cmpxchg(0, &word, 10, 20); got != 0 {
			t.Errorf("Cmpxchg = %d, want targetCPU 0", got)
		}
		if word != 20 {
			t.Errorf("word = %d, want 20", word)
		}
	})

	t.Run("value mismatch", func(t *testing.T) {
		s := newTestSlabs(t, 2, []uint16{4}, onCPU(0))
		word := uintptr(11)

		if got := s.Cmpxchg(0, &word, 10, 20); got != ValueMismatch {
			t.Errorf("Cmpxchg = %d, want ValueMismatch", got)
		}
		if word != 11 {
			t.Errorf("word = %d, want unchanged 11", word)
		}
	})

	t.Run("cpu mismatch", func(t *testing.T) {
		// The thread runs on CPU 0 but targets CPU 1.
		s := newTestSlabs(t, 2, []uint16{4}, onCPU(0))
		word := uintptr(10)

		if got := s.Cmpxchg(1, &word, 10, 20); got != 0 {
			t.Errorf("Cmpxchg = %d, want actual CPU 0", got)
		}
		if word != 10 {
			t.Errorf("word = %d, want unchanged 10", word)
		}
	})
}

// TestRestartReentersFresh tests that a section whose CPU validation fails
// is discarded and the rerun behaves as a fresh call on the new CPU.
func TestRestartReentersFresh(t *testing.T) {
	// Migration injection: the first fetch sees CPU 0, the revalidation
	// sees CPU 1, and the thread stays on CPU 1 from then on.
	reads := 0
	fn := func() int {
		reads++
		if reads == 1 {
			return 0
		}
		return 1
	}

	s := newTestSlabs(t, 2, []uint16{4}, fn)

	if got := s.PushBatch(0, []uintptr{0x71, 0x72}); got != 2 {
		t.Fatalf("PushBatch = %d, want 2", got)
	}

	if got := s.Executor().Restarts(); got != 1 {
		t.Errorf("Restarts = %d, want 1", got)
	}

	// The discarded CPU-0 attempt left no observable state: CPU 0's stack
	// is still empty, the push landed wholly on CPU 1.
	if got := s.Length(0, 0); got != 0 {
		t.Errorf("cpu 0 Length = %d, want 0 (discarded attempt leaked)", got)
	}
	if got := s.Length(1, 0); got != 2 {
		t.Errorf("cpu 1 Length = %d, want 2", got)
	}
}

// TestAbortBeforeCommitInvisible tests the deferred-effects rule directly:
// staged slot writes without the header commit store are not observable,
// and a subsequent fresh call behaves normally.
func TestAbortBeforeCommitInvisible(t *testing.T) {
	s := newTestSlabs(t, 1, []uint16{4}, onCPU(0))

	before := s.Snapshot(0, 0)

	// Simulate an aborted push attempt: partial local computation wrote
	// into the dead zone above current, then the section was discarded
	// before its commit store.
	*s.Region().Slot(0, before.Current()) = 0xDEAD
	*s.Region().Slot(0, before.Current()+1) = 0xBEEF

	if after := s.Snapshot(0, 0); after != before {
		t.Fatalf("header changed without commit: %s -> %s", before, after)
	}
	out := make([]uintptr, 4)
	if got := s.PopBatch(0, out); got != 0 {
		t.Fatalf("PopBatch observed %d staged items, want 0", got)
	}

	// Re-running from the start behaves as a fresh call and overwrites
	// the stale staging.
	if got := s.PushBatch(0, []uintptr{0x81, 0x82}); got != 2 {
		t.Fatalf("fresh PushBatch = %d, want 2", got)
	}
	if got := s.PopBatch(0, out[:2]); got != 2 {
		t.Fatalf("PopBatch = %d, want 2", got)
	}
	if out[0] != 0x82 || out[1] != 0x81 {
		t.Errorf("pop = [%#x %#x], want [0x82 0x81]", out[0], out[1])
	}
}

// TestInvariantUnderRandomOps tests begin <= current <= end across a long
// random push/pop interleaving on several classes.
func TestInvariantUnderRandomOps(t *testing.T) {
	caps := []uint16{16, 8, 4}
	s := newTestSlabs(t, 1, caps, onCPU(0))

	rng := rand.New(rand.NewSource(1))
	depth := make([]int, len(caps))

	for op := 0; op < 5000; op++ {
		class := rng.Intn(len(caps))
		n := rng.Intn(6) + 1
		buf := make([]uintptr, n)

		if rng.Intn(2) == 0 {
			for i := range buf {
				buf[i] = uintptr(0x1000 + op + i)
			}
			got := s.PushBatch(class, buf)
			want := int(caps[class]) - depth[class]
			if want > n {
				want = n
			}
			if got != want {
				t.Fatalf("op %d: PushBatch(%d, len %d) = %d, want %d", op, class, n, got, want)
			}
			depth[class] += got
		} else {
			got := s.PopBatch(class, buf)
			want := depth[class]
			if want > n {
				want = n
			}
			if got != want {
				t.Fatalf("op %d: PopBatch(%d, len %d) = %d, want %d", op, class, n, got, want)
			}
			depth[class] -= got
		}

		for c := range caps {
			w := s.Snapshot(0, c)
			if !w.Valid() {
				t.Fatalf("op %d: class %d header invalid: %s", op, c, w)
			}
			if int(w.Avail()) != depth[c] {
				t.Fatalf("op %d: class %d Avail = %d, want %d", op, c, w.Avail(), depth[c])
			}
		}
	}
}

// TestClassOutOfRange tests the contract-violation panic.
func TestClassOutOfRange(t *testing.T) {
	s := newTestSlabs(t, 1, []uint16{4}, onCPU(0))

	defer func() {
		if recover() == nil {
			t.Error("PushBatch with bad class did not panic")
		}
	}()
	s.PushBatch(7, []uintptr{0x1})
}

// TestRealExecutor smoke-tests the primitives over the platform executor
// (whatever mode New picks) under concurrency.
func TestRealExecutor(t *testing.T) {
	e := restart.New()

	layout, err := region.NewLayout(e.NumSlots(), []uint16{32})
	if err != nil {
		t.Fatal(err)
	}
	r, err := region.Map(layout)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	s := New(r, e)

	// Items pushed on one CPU may be popped by any later occupant of that
	// CPU, so per-goroutine counts do not balance; the conserved quantity
	// is pushes minus pops across all goroutines versus what is left on
	// the stacks once everything quiesces.
	var pushedTotal, poppedTotal atomic.Int64
	done := make(chan struct{})
	for g := 0; g < 4; g++ {
		go func() {
			defer func() { done <- struct{}{} }()
			buf := make([]uintptr, 8)
			for i := range buf {
				buf[i] = uintptr(0x9000 + i)
			}
			out := make([]uintptr, 8)
			for i := 0; i < 1000; i++ {
				pushedTotal.Add(int64(s.PushBatch(0, buf)))
				poppedTotal.Add(int64(s.PopBatch(0, out)))
			}
		}()
	}
	for g := 0; g < 4; g++ {
		<-done
	}

	remaining := int64(0)
	for cpu := 0; cpu < e.NumSlots(); cpu++ {
		w := s.Snapshot(cpu, 0)
		if !w.Valid() {
			t.Errorf("cpu %d header invalid: %s", cpu, w)
		}
		remaining += int64(w.Avail())
	}
	if diff := pushedTotal.Load() - poppedTotal.Load(); diff != remaining {
		t.Errorf("pushed-popped = %d, but stacks hold %d", diff, remaining)
	}
}

// BenchmarkPushPopBatch measures a push/pop pair with a 32-element batch.
func BenchmarkPushPopBatch(b *testing.B) {
	s := newTestSlabs(b, 1, []uint16{64}, onCPU(0))

	batch := make([]uintptr, 32)
	for i := range batch {
		batch[i] = uintptr(0x1000 + i)
	}
	out := make([]uintptr, 32)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.PushBatch(0, batch)
		s.PopBatch(0, out)
	}
}

// BenchmarkCmpxchg measures the gated single-word CAS.
func BenchmarkCmpxchg(b *testing.B) {
	s := newTestSlabs(b, 1, []uint16{4}, onCPU(0))

	word := uintptr(0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Cmpxchg(0, &word, uintptr(i), uintptr(i+1))
	}
}
