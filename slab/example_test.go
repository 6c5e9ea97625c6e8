package slab_test

import (
	"fmt"
	"log"

	"github.com/kolkov/cpuslab/slab"
)

// Example demonstrates basic allocation through the per-CPU cache.
func Example() {
	cache, err := slab.New()
	if err != nil {
		log.Fatal(err)
	}
	defer cache.Close()

	p, err := cache.Alloc(128)
	if err != nil {
		log.Fatal(err)
	}
	cache.Free(p, 128)

	fmt.Println(p != nil)

	// Output:
	// true
}

// Example_batchPrimitives demonstrates the raw per-CPU stack primitives
// and their LIFO ordering contract.
func Example_batchPrimitives() {
	cache, err := slab.New()
	if err != nil {
		log.Fatal(err)
	}
	defer cache.Close()

	// Carve three blocks, park them on the current CPU's stack, and take
	// them back. Pushing [a, b, c] pops as [c, b, a].
	batch := make([]uintptr, 3)
	for i := range batch {
		p, err := cache.Alloc(64)
		if err != nil {
			log.Fatal(err)
		}
		batch[i] = uintptr(p)
	}
	a, b, c := batch[0], batch[1], batch[2]

	pushed := cache.PushBatch(cache.ClassFor(64), batch)

	out := make([]uintptr, pushed)
	popped := cache.PopBatch(cache.ClassFor(64), out)

	fmt.Println(popped == pushed)
	fmt.Println(out[0] == c && out[1] == b && out[2] == a)

	// Output:
	// true
	// true
}

// Example_stats demonstrates activity snapshots.
func Example_stats() {
	cache, err := slab.New()
	if err != nil {
		log.Fatal(err)
	}
	defer cache.Close()

	p, err := cache.Alloc(64)
	if err != nil {
		log.Fatal(err)
	}
	cache.Free(p, 64)

	stats := cache.Stats()
	fmt.Println(stats.Refills >= 1)
	fmt.Println(stats.FastFrees >= 1)

	// Output:
	// true
	// true
}
