// Package central implements the central free store behind the per-CPU
// slabs.
//
// Every zero-return from the per-CPU primitives routes here: an empty
// per-CPU stack refills from the central lists, a full one flushes into
// them. This is the slow path, so a plain mutex per store is fine; the
// whole point of the per-CPU layer is that this lock is taken rarely.
package central

import "sync"

// GrowFunc supplies fresh pointers for a class when its central list runs
// dry. It returns up to n pointers (fewer, or nil, when the backing source
// is exhausted). Called with the store's lock released.
type GrowFunc func(class, n int) []uintptr

// Store holds the per-class central free lists.
type Store struct {
	mu    sync.Mutex
	lists [][]uintptr

	// grow refills an empty class list. Nil means refills beyond the
	// flushed inventory simply return short counts.
	grow GrowFunc

	// grown counts pointers obtained through grow, for stats.
	grown uint64
}

// NewStore creates a central store for numClasses classes.
func NewStore(numClasses int, grow GrowFunc) *Store {
	if numClasses <= 0 {
		panic("cpuslab/central: no size classes")
	}
	return &Store{
		lists: make([][]uintptr, numClasses),
		grow:  grow,
	}
}

// Refill moves up to len(out) pointers of class into out and returns the
// count moved. It drains the central list first and falls back to the grow
// hook for the remainder. A short (or zero) count means the backing source
// is exhausted too; the caller decides whether that is fatal.
func (s *Store) Refill(class int, out []uintptr) int {
	if len(out) == 0 {
		return 0
	}

	s.mu.Lock()
	list := s.lists[class]
	n := len(out)
	if n > len(list) {
		n = len(list)
	}
	if n > 0 {
		// Take from the tail: the list is a stack, most recently flushed
		// pointers go back out first (they are the cache-warmest).
		copy(out[:n], list[len(list)-n:])
		s.lists[class] = list[:len(list)-n]
	}
	grow := s.grow
	s.mu.Unlock()

	if n == len(out) || grow == nil {
		return n
	}

	fresh := grow(class, len(out)-n)
	if len(fresh) > 0 {
		copy(out[n:], fresh)
		s.mu.Lock()
		s.grown += uint64(len(fresh))
		s.mu.Unlock()
		n += len(fresh)
	}
	return n
}

// Flush returns a batch of class pointers to the central list.
func (s *Store) Flush(class int, batch []uintptr) {
	if len(batch) == 0 {
		return
	}

	s.mu.Lock()
	s.lists[class] = append(s.lists[class], batch...)
	s.mu.Unlock()
}

// Len returns the current central inventory for a class.
func (s *Store) Len(class int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lists[class])
}

// Grown returns the total number of pointers obtained through the grow
// hook.
func (s *Store) Grown() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grown
}
