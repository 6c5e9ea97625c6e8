package slab

import "github.com/kolkov/cpuslab/internal/slab/restart"

// Version information for the per-CPU slab cache.
const (
	// Version is the current version of the cache runtime.
	Version = "0.1.0"

	// VersionMajor is the major version number.
	VersionMajor = 0

	// VersionMinor is the minor version number.
	VersionMinor = 1

	// VersionPatch is the patch version number.
	VersionPatch = 0
)

// Info provides runtime information about the slab cache.
type Info struct {
	// Version is the runtime version string.
	Version string

	// Design is the caching design used.
	Design string

	// ClaimCapable indicates whether this platform supports the claim
	// execution mode (OS CPU ids with per-CPU claim words). When false,
	// caches run in pinned mode on scheduler P ids.
	ClaimCapable bool
}

// GetInfo returns information about the slab cache runtime.
//
// Example:
//
//	info := slab.GetInfo()
//	fmt.Printf("cpuslab %s (%s)\n", info.Version, info.Design)
func GetInfo() Info {
	return Info{
		Version:      Version,
		Design:       "per-CPU restartable slab stacks",
		ClaimCapable: restart.ClaimSupported(),
	}
}
