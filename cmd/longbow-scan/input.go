package main

import (
	"fmt"
	"math/rand"
)

// generate builds n input values following pattern.
func generate(pattern string, n int, seed int64) ([]uint32, error) {
	if n < 0 {
		return nil, fmt.Errorf("element count %d is negative", n)
	}
	rng := rand.New(rand.NewSource(seed))
	values := make([]uint32, n)

	switch pattern {
	case "ones":
		for i := range values {
			values[i] = 1
		}
	case "random":
		for i := range values {
			values[i] = rng.Uint32()
		}
	case "flags":
		for i := range values {
			values[i] = uint32(rng.Intn(2))
		}
	case "overflow":
		// Large values so the running sum wraps every few elements.
		for i := range values {
			values[i] = 0xF0000000 + uint32(rng.Intn(1<<16))
		}
	default:
		return nil, fmt.Errorf("unknown pattern: %s", pattern)
	}
	return values, nil
}
