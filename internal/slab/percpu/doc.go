// Copyright 2025 The cpuslab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package percpu implements the three per-CPU slab primitives: conditional
// compare-and-swap, batch push, and batch pop.
//
// These are the CRITICAL HOT PATHS of the allocator fast path. Each runs as
// a restartable critical section (internal/slab/restart): it fetches and
// validates the current logical CPU as its first action, stages its work,
// and publishes everything through one terminal store: the 64-bit header
// word for push/pop, the target word itself for cmpxchg. An attempt the
// executor discards leaves no observable trace, so a restarted primitive
// behaves exactly like a fresh call.
//
// There are no locks, no cross-core CAS loops, and no blocking: safety
// comes from the single-writer-per-logical-CPU property the executor
// enforces. Zero-transfer results (full stack on push, empty on pop, value
// mismatch on cmpxchg) are normal outcomes the caller routes to its slow
// path, never errors.
//
// Together, push and pop realize one LIFO stack per (CPU, size class):
// pushing [a, b, c] and popping three yields [c, b, a].
package percpu
