// bench.go implements the 'cpuslab bench' command.
package main

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/kolkov/cpuslab/slab"
)

const defaultBenchRounds = 1_000_000

// benchCommand implements the 'cpuslab bench' command.
//
// It times the alloc/free fast path: every worker goroutine allocates and
// immediately frees one 64-byte block per round, which after warmup stays
// entirely on the worker's per-CPU stack. One worker per logical CPU.
//
// Example:
//
//	cpuslab bench                 # 1M rounds per worker
//	cpuslab bench -n 10000000     # 10M rounds per worker
func benchCommand(args []string) {
	defer klog.Flush()

	rounds, err := parseBenchArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cache, err := slab.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer cache.Close()

	workers := runtime.NumCPU()
	klog.V(1).Infof("bench: %d workers, %d rounds each, mode %s", workers, rounds, cache.Mode())

	const size = 64
	var wg sync.WaitGroup
	start := time.Now()
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				p, err := cache.Alloc(size)
				if err != nil {
					klog.Errorf("alloc: %v", err)
					return
				}
				cache.Free(p, size)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	total := workers * rounds
	stats := cache.Stats()

	fmt.Printf("Mode:          %s\n", cache.Mode())
	fmt.Printf("Workers:       %d\n", workers)
	fmt.Printf("Rounds:        %d total\n", total)
	fmt.Printf("Elapsed:       %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Per op:        %.1f ns (alloc+free)\n", float64(elapsed.Nanoseconds())/float64(total))
	fmt.Printf("Fast allocs:   %d (%.2f%%)\n", stats.FastAllocs,
		100*float64(stats.FastAllocs)/float64(total))
	fmt.Printf("Refills:       %d\n", stats.Refills)
	fmt.Printf("Flushes:       %d\n", stats.Flushes)
	fmt.Printf("Restarts:      %d\n", stats.Restarts)
	fmt.Printf("Active CPUs:   %d\n", stats.ActiveCPUs)
	fmt.Printf("Arena:         %d bytes\n", stats.ArenaBytes)
}

// parseBenchArgs parses the bench command arguments (-n count).
func parseBenchArgs(args []string) (int, error) {
	rounds := defaultBenchRounds
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-n":
			if i+1 >= len(args) {
				return 0, errors.New("-n flag requires an argument")
			}
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n <= 0 {
				return 0, errors.Errorf("invalid round count %q", args[i])
			}
			rounds = n
		default:
			return 0, errors.Errorf("unknown argument %q", args[i])
		}
	}
	return rounds, nil
}
