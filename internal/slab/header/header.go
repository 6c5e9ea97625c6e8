// Package header implements the packed per-(CPU, size class) slab header word.
//
// A header describes one per-CPU LIFO stack of free pointers as three 16-bit
// slot offsets packed into a single 64-bit word:
//   - Bits 0-15:  current (the only field mutated after initialization)
//   - Bits 16-31: begin (fixed lower bound of the class partition)
//   - Bits 32-47: end (fixed upper bound of the class partition)
//   - Bits 48-63: reserved
//
// Offsets are measured in pointer-sized slots from the owning CPU's block
// base. The packing serves two purposes: several class headers share one
// cache line, and a whole-header update is a single aligned 64-bit store,
// which is what the restartable critical sections use as their commit store.
//
// Invariant: begin <= current <= end before and after every operation.
package header

// Word is a packed slab header. Layout: [reserved:16][end:16][begin:16][current:16].
//
// Example: 0x0000_0040_0010_0028 represents end=64, begin=16, current=40.
type Word uint64

const (
	// FieldBits is the width of each packed offset field.
	FieldBits = 16

	// FieldMask extracts one 16-bit offset field (0xFFFF).
	FieldMask = (1 << FieldBits) - 1

	// MaxSlots is the largest representable slot offset. Region layouts
	// must keep every per-CPU partition below this bound.
	MaxSlots = FieldMask
)

// Pack builds a header word from its three offsets.
//
// Pack does not validate begin <= current <= end; the region layout is
// responsible for producing valid partitions and the primitives only move
// current within [begin, end]. Use Valid to check.
//
//go:nosplit
func Pack(begin, current, end uint16) Word {
	return Word(uint64(current) | uint64(begin)<<FieldBits | uint64(end)<<(2*FieldBits))
}

// Current returns the mutable stack offset.
//
//go:nosplit
func (w Word) Current() uint16 {
	return uint16(w & FieldMask)
}

// Begin returns the fixed lower bound of the partition.
//
//go:nosplit
func (w Word) Begin() uint16 {
	return uint16((w >> FieldBits) & FieldMask)
}

// End returns the fixed upper bound of the partition.
//
//go:nosplit
func (w Word) End() uint16 {
	return uint16((w >> (2 * FieldBits)) & FieldMask)
}

// Free returns the number of unused slots (end - current).
//
// This is the push capacity check on the hot path, so it must stay an
// inline candidate with no branches.
//
//go:nosplit
func (w Word) Free() uint16 {
	return w.End() - w.Current()
}

// Avail returns the number of occupied slots (current - begin).
//
// This is the pop availability check on the hot path.
//
//go:nosplit
func (w Word) Avail() uint16 {
	return w.Current() - w.Begin()
}

// WithCurrent returns a copy of the header with current replaced.
//
// The begin/end fields are carried over untouched. The returned word is
// what the primitives publish with their single commit store.
//
//go:nosplit
func (w Word) WithCurrent(current uint16) Word {
	return (w &^ FieldMask) | Word(current)
}

// Valid reports whether the header satisfies begin <= current <= end.
//
// Every header must be valid at all times; the primitives preserve this by
// construction and tests assert it after every transition.
//
//go:nosplit
func (w Word) Valid() bool {
	return w.Begin() <= w.Current() && w.Current() <= w.End()
}

// String returns a human-readable representation of the header.
//
// Format: "[begin current end]" (e.g., "[16 40 64]"). Debug and test output
// only, never on the hot path.
func (w Word) String() string {
	return "[" + itoa(uint32(w.Begin())) + " " + itoa(uint32(w.Current())) + " " + itoa(uint32(w.End())) + "]"
}

// itoa converts an integer to string without fmt import.
// Simple implementation for debugging output only.
func itoa(n uint32) string {
	if n == 0 {
		return "0"
	}

	tmp := n
	digits := 0
	for tmp > 0 {
		digits++
		tmp /= 10
	}

	buf := make([]byte, digits)
	for i := digits - 1; i >= 0; i-- {
		buf[i] = byte('0' + n%10)
		n /= 10
	}

	return string(buf)
}
