//go:build linux || darwin

package region

import "golang.org/x/sys/unix"

// mapMemory maps size bytes of zeroed, page-aligned anonymous memory.
func mapMemory(size int) ([]byte, bool, error) {
	data, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// unmapMemory releases a mapping produced by mapMemory.
func unmapMemory(data []byte) error {
	return unix.Munmap(data)
}
