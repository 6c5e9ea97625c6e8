//go:build !linux

package restart

import "github.com/pkg/errors"

// Platforms without getcpu(2) always run pinned. The claim-mode entry
// points exist so New and the CLI probe compile everywhere; they simply
// report the facility as absent.

// nativeCPU is never called off-linux; it exists to satisfy New.
func nativeCPU() int {
	return -1
}

// nativeCPUCount is never called off-linux; it exists to satisfy New.
func nativeCPUCount() int {
	return 0
}

// KernelRelease is unavailable off-linux.
func KernelRelease() (string, error) {
	return "", errors.New("kernel release probe not supported on this platform")
}

// ClaimSupported reports false: no native CPU-id facility here.
func ClaimSupported() bool {
	return false
}
