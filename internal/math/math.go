// Copyright (c) Microsoft Corporation.
// Licensed under the Apache License, Version 2.0.
package math

import (
	"math/rand"
	"slices"
	"time"
)

// Percentiles returns the latency at each of the given percentiles of ds, which is left unmodified.
// Percentiles outside [0, 1] are clamped.
func Percentiles(ds []time.Duration, ps ...float64) []time.Duration {
	if len(ds) == 0 {
		return nil
	}

	sorted := slices.Clone(ds)
	slices.Sort(sorted)

	results := make([]time.Duration, 0, len(ps))
	for _, p := range ps {
		p = max(0, min(p, 1))
		i := int(float64(len(sorted)-1) * p)
		results = append(results, sorted[i])
	}

	return results
}

// Batches shuffles s in place and splits it into batches of at most n elements.
func Batches(s []string, n int) [][]string {
	if n <= 0 || len(s) == 0 {
		return nil
	}

	rand.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })

	batches := make([][]string, 0, (len(s)+n-1)/n)
	for start := 0; start < len(s); start += n {
		end := min(start+n, len(s))
		batches = append(batches, s[start:end])
	}

	return batches
}
