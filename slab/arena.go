package slab

import (
	"log/slog"
	"sync"
	"unsafe"
)

// arena is the chunked bump allocator backing every pointer the cache
// hands out. Chunks are never freed individually; the arena keeps them
// referenced for the cache's lifetime, so the uintptr values parked on the
// per-CPU stacks and central lists always point into live memory.
type arena struct {
	mu         sync.Mutex
	chunks     [][]byte // bump chunks; the last one is the active chunk
	large      [][]byte // dedicated chunks for oversized blocks
	off        int      // bump offset into the active chunk
	chunkBytes int
	logger     *slog.Logger
}

// blockAlign is the alignment of every block the arena hands out.
const blockAlign = 8

// alignBlock rounds size up to the arena's block alignment. Sizing checks
// against the arena must compare aligned sizes, never raw ones.
func alignBlock(size int) int {
	return (size + blockAlign - 1) &^ (blockAlign - 1)
}

func newArena(chunkBytes int, logger *slog.Logger) *arena {
	return &arena{
		chunkBytes: chunkBytes,
		logger:     logger,
	}
}

// carve cuts n blocks of size bytes (block-aligned) and returns their
// addresses. Blocks never span a chunk boundary: a block whose aligned
// size exceeds the bump chunk gets a dedicated chunk instead. This is the
// central store's grow hook, the true slow path of the whole cache.
func (a *arena) carve(size, n int) []uintptr {
	size = alignBlock(size)

	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]uintptr, 0, n)
	for i := 0; i < n; i++ {
		if size > a.chunkBytes {
			chunk := make([]byte, size)
			a.large = append(a.large, chunk)
			out = append(out, uintptr(unsafe.Pointer(&chunk[0])))
			continue
		}
		if len(a.chunks) == 0 || a.off+size > a.chunkBytes {
			a.growLocked()
		}
		cur := a.chunks[len(a.chunks)-1]
		out = append(out, uintptr(unsafe.Pointer(&cur[a.off])))
		a.off += size
	}
	return out
}

// alloc cuts one block of arbitrary size (the large-object path, bypassing
// the per-CPU stacks entirely).
func (a *arena) alloc(size int) unsafe.Pointer {
	size = alignBlock(size)

	a.mu.Lock()
	defer a.mu.Unlock()

	if size >= a.chunkBytes {
		chunk := make([]byte, size)
		a.large = append(a.large, chunk)
		return unsafe.Pointer(&chunk[0])
	}

	if len(a.chunks) == 0 || a.off+size > a.chunkBytes {
		a.growLocked()
	}
	cur := a.chunks[len(a.chunks)-1]
	p := unsafe.Pointer(&cur[a.off])
	a.off += size
	return p
}

func (a *arena) growLocked() {
	a.chunks = append(a.chunks, make([]byte, a.chunkBytes))
	a.off = 0
	a.logger.Debug("arena chunk added",
		"chunks", len(a.chunks),
		"chunk_bytes", a.chunkBytes)
}

// footprint returns the total arena size in bytes.
func (a *arena) footprint() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := 0
	for _, c := range a.chunks {
		total += len(c)
	}
	for _, c := range a.large {
		total += len(c)
	}
	return total
}
