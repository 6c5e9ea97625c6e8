package restart

import (
	"runtime"
	_ "unsafe" // for go:linkname
)

// The pinned mode piggybacks on the runtime's procPin, the same facility
// sync.Pool uses for its per-P caches. While pinned, the goroutine cannot
// be migrated off its P and no other goroutine can run on it, which is
// exactly the single-writer window the restart contract needs.

//go:linkname runtimeProcPin sync.runtime_procPin
//go:nosplit
func runtimeProcPin() int

//go:linkname runtimeProcUnpin sync.runtime_procUnpin
//go:nosplit
func runtimeProcUnpin()

// gomaxprocs returns the pinned-mode slot count, capped at maxCPUs.
func gomaxprocs() int {
	n := runtime.GOMAXPROCS(0)
	if n > maxCPUs {
		n = maxCPUs
	}
	return n
}
