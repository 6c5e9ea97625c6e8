//go:build linux

package restart

import (
	"os"
	"strconv"
	"strings"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/mod/semver"
	"golang.org/x/sys/unix"
)

// minKernelRelease is the oldest kernel the claim mode accepts. 4.18 is
// when the kernel gained restartable sequences; on anything older we treat
// the whole cpu-local fast path ecosystem as absent and stay pinned.
const minKernelRelease = "v4.18"

// possibleCPUPath lists every CPU id the kernel can ever online. Fixed at
// boot, so it bounds getcpu results even under sparse affinity masks and
// hotplug.
const possibleCPUPath = "/sys/devices/system/cpu/possible"

// nativeCPU fetches the OS CPU id via the raw getcpu(2) syscall.
// Errors report -1.
func nativeCPU() int {
	var cpu uint32
	//nolint:gosec // G103: the kernel writes one uint32 through this pointer.
	_, _, errno := unix.Syscall(unix.SYS_GETCPU, uintptr(unsafe.Pointer(&cpu)), 0, 0)
	if errno != 0 {
		return -1
	}
	return int(cpu)
}

// nativeCPUCount returns the claim table size for native CPU ids: one slot
// per possible CPU, so every id getcpu can ever return indexes in range.
// Returns 0 when the possible mask cannot be determined; callers must then
// stay pinned.
func nativeCPUCount() int {
	data, err := os.ReadFile(possibleCPUPath)
	if err != nil {
		return 0
	}
	n := parseMaxCPU(strings.TrimSpace(string(data)))
	if n <= 0 || n > maxCPUs {
		return 0
	}
	return n
}

// parseMaxCPU parses a kernel cpu list ("0-31", "0", "0-3,8-11") and
// returns the highest id plus one. Returns 0 for anything unparseable.
func parseMaxCPU(list string) int {
	highest := -1
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if i := strings.IndexByte(part, '-'); i >= 0 {
			part = part[i+1:]
		}
		id, err := strconv.Atoi(part)
		if err != nil || id < 0 {
			return 0
		}
		if id > highest {
			highest = id
		}
	}
	return highest + 1
}

// KernelRelease returns the running kernel's release string (uname -r).
func KernelRelease() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", errors.Wrap(err, "uname")
	}
	return unix.ByteSliceToString(uts.Release[:]), nil
}

// kernelSemver converts a kernel release string like "6.18.44-fc-v21" to
// a canonical semver tag ("v6.18.44"). Returns "" if the release does not
// start with a parseable version.
func kernelSemver(release string) string {
	// Strip the local-version suffix ("-generic", "+", ...).
	if i := strings.IndexAny(release, "-+"); i >= 0 {
		release = release[:i]
	}
	v := "v" + release
	if !semver.IsValid(v) {
		return ""
	}
	return v
}

// ClaimSupported reports whether the claim mode can be used here: a kernel
// at least minKernelRelease, a determinable possible-CPU mask to size the
// claim table by, and a working getcpu path producing an in-range id.
func ClaimSupported() bool {
	release, err := KernelRelease()
	if err != nil {
		return false
	}
	v := kernelSemver(release)
	if v == "" || semver.Compare(v, minKernelRelease) < 0 {
		return false
	}
	n := nativeCPUCount()
	if n == 0 {
		return false
	}
	cpu := nativeCPU()
	return cpu >= 0 && cpu < n
}
