//go:build ignore
// +build ignore

// This tool calculates slab region footprints across CPU counts, for
// sizing the per-CPU block shift before deploying a strategy.
// Run with: go run tools/calc_slab_layout.go
package main

import (
	"fmt"
	"os"

	"github.com/kolkov/cpuslab/internal/slab/region"
	"github.com/kolkov/cpuslab/internal/slab/sizeclass"
)

const baseDepth = 64

func main() {
	strategies := []sizeclass.Config{
		sizeclass.ConfigFineGrained,
		sizeclass.ConfigBalanced,
		sizeclass.ConfigCoarse,
	}

	for _, cfg := range strategies {
		table, err := sizeclass.NewTable(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", cfg.Name, err)
			os.Exit(1)
		}
		caps := table.Capacities(baseDepth)

		fmt.Printf("%s: %d classes\n", cfg.Name, table.NumClasses())
		fmt.Printf("%8s %12s %14s %14s\n", "cpus", "block bytes", "region bytes", "region MiB")
		for _, numCPU := range []int{1, 4, 16, 64, 256, 1024} {
			layout, err := region.NewLayout(numCPU, caps)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s at %d CPUs: %v\n", cfg.Name, numCPU, err)
				os.Exit(1)
			}
			fmt.Printf("%8d %12d %14d %14.2f\n",
				numCPU, 1<<layout.Shift, layout.Size(),
				float64(layout.Size())/(1<<20))
		}
		fmt.Println()
	}
}
