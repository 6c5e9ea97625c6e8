// probe.go implements the 'cpuslab probe' command.
package main

import (
	"fmt"
	"runtime"

	"k8s.io/klog/v2"

	"github.com/kolkov/cpuslab/internal/slab/restart"
	"github.com/kolkov/cpuslab/slab"
)

// probeCommand implements the 'cpuslab probe' command.
//
// It reports what the cache will select on this host and the facts that
// selection is based on:
//   - the kernel release (claim mode needs getcpu(2) semantics from 4.18+)
//   - whether the claim mode prerequisites hold
//   - the execution mode an executor actually picks
//   - the logical CPU count the slabs would be replicated over
//
// Example:
//
//	$ cpuslab probe
//	cpuslab 0.1.0
//	Design:        per-CPU restartable slab stacks
//	OS/Arch:       linux/amd64
//	Kernel:        6.8.0-45-generic
//	Claim capable: true
//	Mode:          claim
//	Logical CPUs:  16
func probeCommand(_ []string) {
	defer klog.Flush()

	info := slab.GetInfo()
	fmt.Printf("cpuslab %s\n", info.Version)
	fmt.Printf("Design:        %s\n", info.Design)
	fmt.Printf("OS/Arch:       %s/%s\n", runtime.GOOS, runtime.GOARCH)

	release, err := restart.KernelRelease()
	if err != nil {
		klog.V(1).Infof("kernel release probe: %v", err)
		fmt.Printf("Kernel:        unknown (%s)\n", runtime.GOOS)
	} else {
		fmt.Printf("Kernel:        %s\n", release)
	}

	fmt.Printf("Claim capable: %v\n", info.ClaimCapable)

	exec := restart.New()
	fmt.Printf("Mode:          %s\n", exec.Mode())
	fmt.Printf("Logical CPUs:  %d\n", exec.NumSlots())
}
