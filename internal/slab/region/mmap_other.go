//go:build !(linux || darwin)

package region

// mapMemory falls back to a heap slice where mmap is unavailable. Go heap
// allocations of this size are 8-byte aligned, which is all the header and
// slot accessors require.
func mapMemory(size int) ([]byte, bool, error) {
	return make([]byte, size), false, nil
}

// unmapMemory is a no-op for heap-backed regions; never called because
// mapMemory reports mapped=false.
func unmapMemory([]byte) error {
	return nil
}
