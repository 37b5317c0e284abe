// Copyright (c) Microsoft Corporation.
// Licensed under the Apache License, Version 2.0.
package math

import (
	"sort"
	"testing"
	"time"
)

func TestBatches(t *testing.T) {
	s := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	got := Batches(s, 3)

	if len(got) != 3 {
		t.Fatalf("expected: %v, got: %v", 3, len(got))
	}

	sizes := []int{len(got[0]), len(got[1]), len(got[2])}
	if sizes[0] != 3 || sizes[1] != 3 || sizes[2] != 2 {
		t.Errorf("expected sizes [3 3 2], got: %v", sizes)
	}

	var all []string
	for _, batch := range got {
		all = append(all, batch...)
	}
	sort.Strings(all)
	for i, want := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		if all[i] != want {
			t.Errorf("expected: %v, got: %v", want, all[i])
		}
	}

	if Batches(s, 0) != nil {
		t.Errorf("expected no batches for n = 0")
	}
	if Batches(nil, 2) != nil {
		t.Errorf("expected no batches for an empty slice")
	}
}

func TestPercentiles(t *testing.T) {
	ds := []time.Duration{5 * time.Millisecond, 2 * time.Millisecond, 1 * time.Millisecond, 3 * time.Millisecond, 4 * time.Millisecond}

	got := Percentiles(ds, 0.5, 0.9, 1.0, 2, -1)
	want := []time.Duration{3 * time.Millisecond, 4 * time.Millisecond, 5 * time.Millisecond, 5 * time.Millisecond, 1 * time.Millisecond}

	if len(got) != len(want) {
		t.Fatalf("expected length: %v, got: %v", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("percentile %d: expected %v, got %v", i, want[i], got[i])
		}
	}

	if ds[0] != 5*time.Millisecond {
		t.Errorf("expected input to be left unmodified")
	}

	if Percentiles(nil, 0.5) != nil {
		t.Errorf("expected nil for no samples")
	}
}
