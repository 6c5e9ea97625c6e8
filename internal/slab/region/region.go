// Package region implements the per-CPU slab backing store.
//
// The region is one contiguous mapping indexed as base + cpu<<shift. Each
// per-CPU block starts with the header array (one packed header.Word per
// size class) followed by the pointer-sized slot storage, statically
// partitioned among the classes. The partition (each class's begin/end slot
// offsets) is fixed when the layout is built; only the current field of each
// header moves afterwards, and only inside restartable critical sections.
//
// Ownership of a block is purely positional: whichever thread is executing
// on that logical CPU at a given instant is its sole mutator. The region
// itself therefore needs no locks and no reference counting; it is mapped
// once at cache setup and unmapped at Close.
package region

import (
	"math/bits"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/kolkov/cpuslab/internal/slab/header"
)

// slotBytes is the size of one slot (one free pointer).
const slotBytes = int(unsafe.Sizeof(uintptr(0)))

// headerBytes is the size of one packed class header.
const headerBytes = int(unsafe.Sizeof(uint64(0)))

// Span is one class's fixed partition of a CPU block, in slot offsets from
// the block base.
type Span struct {
	Begin uint16
	End   uint16
}

// Layout describes the static partition of the region. It is computed once
// and immutable thereafter; every primitive addresses memory purely through
// it.
type Layout struct {
	NumCPU     int
	NumClasses int

	// Spans holds each class's slot partition within a CPU block. The
	// header array occupies the slots below Spans[0].Begin.
	Spans []Span

	// BlockSlots is the number of slots a CPU block spans (headers
	// included), before rounding the stride up to a power of two.
	BlockSlots int

	// Shift is the per-CPU stride exponent: block stride = 1<<Shift bytes.
	Shift uint
}

// NewLayout partitions a CPU block for the given per-class stack depths.
//
// The header array comes first, then one contiguous span of capacity
// capacities[c] slots per class c. Every offset must fit the 16-bit header
// fields; layouts that would overflow are rejected here rather than
// discovered as corruption later.
func NewLayout(numCPU int, capacities []uint16) (Layout, error) {
	if numCPU <= 0 {
		return Layout{}, errors.Errorf("region: numCPU %d out of range", numCPU)
	}
	if len(capacities) == 0 {
		return Layout{}, errors.New("region: no size classes")
	}

	numClasses := len(capacities)

	// Header array, rounded up to whole slots.
	headerSlots := (numClasses*headerBytes + slotBytes - 1) / slotBytes

	spans := make([]Span, numClasses)
	next := headerSlots
	for c, capSlots := range capacities {
		begin := next
		end := begin + int(capSlots)
		if end > header.MaxSlots {
			return Layout{}, errors.Errorf(
				"region: class %d span [%d, %d) exceeds 16-bit slot offsets; lower the stack depths",
				c, begin, end)
		}
		//nolint:gosec // G115: bounds checked against header.MaxSlots above.
		spans[c] = Span{Begin: uint16(begin), End: uint16(end)}
		next = end
	}

	// Round the block stride up to a power of two so cpu<<shift addressing
	// works without multiplication.
	blockBytes := next * slotBytes
	shift := uint(bits.Len(uint(blockBytes - 1)))

	return Layout{
		NumCPU:     numCPU,
		NumClasses: numClasses,
		Spans:      spans,
		BlockSlots: next,
		Shift:      shift,
	}, nil
}

// Size returns the total mapping size in bytes.
func (l Layout) Size() int {
	return l.NumCPU << l.Shift
}

// Region is the mapped per-CPU slab store.
type Region struct {
	layout Layout
	data   []byte
	base   unsafe.Pointer
	mapped bool
}

// Map allocates the region's backing memory and initializes every header
// to its empty state (current == begin).
//
// On unix platforms the backing is an anonymous private mapping, so the
// slot storage never mixes with the Go heap: the uintptr values parked in
// slots are invisible to the garbage collector, which is only sound
// because the cache stores pointers into its own arena, never heap
// pointers.
func Map(layout Layout) (*Region, error) {
	data, mapped, err := mapMemory(layout.Size())
	if err != nil {
		return nil, errors.Wrapf(err, "region: map %d bytes", layout.Size())
	}

	r := &Region{
		layout: layout,
		data:   data,
		base:   unsafe.Pointer(&data[0]),
		mapped: mapped,
	}
	r.Reset()
	return r, nil
}

// Close releases the backing memory. The region must not be used afterwards.
func (r *Region) Close() error {
	if r.data == nil {
		return nil
	}
	data, mapped := r.data, r.mapped
	r.data = nil
	r.base = nil
	if !mapped {
		return nil
	}
	if err := unmapMemory(data); err != nil {
		return errors.Wrap(err, "region: unmap")
	}
	return nil
}

// Reset reinitializes every header to empty (current = begin). This is the
// external initialization step of the slab lifecycle; it must never run
// concurrently with the primitives.
func (r *Region) Reset() {
	for cpu := 0; cpu < r.layout.NumCPU; cpu++ {
		for c, span := range r.layout.Spans {
			r.StoreHeader(cpu, c, header.Pack(span.Begin, span.Begin, span.End))
		}
	}
}

// Layout returns the region's immutable layout.
func (r *Region) Layout() Layout {
	return r.layout
}

// blockBase returns the base address of a CPU's block.
//
//go:nosplit
func (r *Region) blockBase(cpu int) uintptr {
	return uintptr(r.base) + uintptr(cpu)<<r.layout.Shift
}

// HeaderPtr returns the address of the packed header for (cpu, class).
//
// The word must be accessed atomically: the owning section publishes
// through it and other CPUs may snapshot it for stats.
//
//go:nosplit
func (r *Region) HeaderPtr(cpu, class int) *uint64 {
	//nolint:gosec // G103: positional addressing into the mapped block.
	return (*uint64)(unsafe.Pointer(r.blockBase(cpu) + uintptr(class*headerBytes)))
}

// LoadHeader atomically snapshots the header for (cpu, class).
//
//go:nosplit
func (r *Region) LoadHeader(cpu, class int) header.Word {
	return header.Word(atomic.LoadUint64(r.HeaderPtr(cpu, class)))
}

// StoreHeader atomically publishes a header word. This is the commit store
// of the restartable sections (and the initialization store of Reset).
//
//go:nosplit
func (r *Region) StoreHeader(cpu, class int, w header.Word) {
	atomic.StoreUint64(r.HeaderPtr(cpu, class), uint64(w))
}

// Slot returns the address of one pointer slot in a CPU's block.
//
// Writes through this pointer are only ever performed by the block's
// current single writer, into the dead zone its header does not yet (or no
// longer) publishes.
//
//go:nosplit
func (r *Region) Slot(cpu int, slot uint16) *uintptr {
	//nolint:gosec // G103: positional addressing into the mapped block.
	return (*uintptr)(unsafe.Pointer(r.blockBase(cpu) + uintptr(int(slot)*slotBytes)))
}
