// layout.go implements the 'cpuslab layout' command.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/pkg/errors"

	"github.com/kolkov/cpuslab/internal/slab/region"
	"github.com/kolkov/cpuslab/internal/slab/sizeclass"
	"github.com/kolkov/cpuslab/slab"
)

// layoutCommand implements the 'cpuslab layout' command.
//
// It computes the slab region layout a cache would map on this host for a
// given size class strategy and prints it class by class: the served
// size, the per-CPU stack depth, and the slot span inside a CPU block.
//
// Example:
//
//	cpuslab layout            # Balanced strategy (the default)
//	cpuslab layout fine       # FineGrained strategy
//	cpuslab layout coarse     # Coarse strategy
func layoutCommand(args []string) {
	strategy := "balanced"
	if len(args) > 0 {
		strategy = args[0]
	}

	cfg, err := parseStrategy(strategy)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := printLayout(os.Stdout, cfg, runtime.NumCPU()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseStrategy maps a strategy name to its size class configuration.
func parseStrategy(name string) (sizeclass.Config, error) {
	switch name {
	case "fine", "finegrained":
		return sizeclass.ConfigFineGrained, nil
	case "balanced", "default":
		return sizeclass.ConfigBalanced, nil
	case "coarse":
		return sizeclass.ConfigCoarse, nil
	default:
		return sizeclass.Config{}, errors.Errorf("unknown strategy %q (want fine, balanced, or coarse)", name)
	}
}

// printLayout computes and prints the region layout for cfg over numCPU
// logical CPUs.
func printLayout(w *os.File, cfg sizeclass.Config, numCPU int) error {
	table, err := sizeclass.NewTable(cfg)
	if err != nil {
		return errors.Wrap(err, "size class table")
	}

	caps := table.Capacities(slab.DefaultSlotsPerClass)
	layout, err := region.NewLayout(numCPU, caps)
	if err != nil {
		return errors.Wrap(err, "region layout")
	}

	fmt.Fprintf(w, "Strategy:     %s\n", cfg.Name)
	fmt.Fprintf(w, "Logical CPUs: %d\n", layout.NumCPU)
	fmt.Fprintf(w, "Size classes: %d\n", layout.NumClasses)
	fmt.Fprintf(w, "Block slots:  %d (shift %d, %d bytes per CPU)\n",
		layout.BlockSlots, layout.Shift, 1<<layout.Shift)
	fmt.Fprintf(w, "Region size:  %d bytes\n\n", layout.Size())

	fmt.Fprintf(w, "%6s %10s %7s %15s\n", "class", "size", "depth", "slots")
	for c, span := range layout.Spans {
		fmt.Fprintf(w, "%6d %10d %7d [%5d, %5d)\n",
			c, table.ClassSize(c), span.End-span.Begin, span.Begin, span.End)
	}
	return nil
}
