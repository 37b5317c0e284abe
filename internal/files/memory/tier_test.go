// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package memory

import (
	"context"
	"fmt"
	"image"
	"math/rand"
	"testing"

	"github.com/azure/webimage/internal/imaging"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// newArtifact creates an artifact whose cost is w*h.
func newArtifact(w, h int) *imaging.Artifact {
	return &imaging.Artifact{Image: image.NewRGBA(image.Rect(0, 0, w, h)), Scale: 1}
}

func newTestTier(t *testing.T, maxEntries int, maxCost int64) *Tier {
	t.Helper()
	tier, err := New(context.Background(), maxEntries, maxCost)
	require.NoError(t, err)
	t.Cleanup(tier.Close)
	return tier
}

func TestPutAndGet(t *testing.T) {
	tier := newTestTier(t, 0, 0)
	a := newArtifact(10, 10)

	tier.Put("a", a)

	got, ok := tier.Get("a")
	require.True(t, ok)
	require.Same(t, a, got)
	require.Equal(t, 1, tier.Len())
	require.Equal(t, int64(100), tier.Cost())

	_, ok = tier.Get("b")
	require.False(t, ok)
}

func TestPutIgnoresEmpty(t *testing.T) {
	tier := newTestTier(t, 0, 0)

	tier.Put("nil", nil)
	tier.Put("no-image", &imaging.Artifact{})
	tier.Put("zero-area", newArtifact(0, 10))

	require.Equal(t, 0, tier.Len())
	require.Equal(t, int64(0), tier.Cost())
}

func TestPutIgnoresTooLarge(t *testing.T) {
	tier := newTestTier(t, 10, 50)

	tier.Put("a", newArtifact(10, 10))

	_, ok := tier.Get("a")
	require.False(t, ok)
	require.Equal(t, 0, tier.Len())
}

func TestRejectedReplacementDropsPrevious(t *testing.T) {
	tier := newTestTier(t, 10, 50)

	tier.Put("a", newArtifact(5, 5))
	tier.Put("a", newArtifact(10, 10))

	_, ok := tier.Get("a")
	require.False(t, ok)
	require.Equal(t, 0, tier.Len())
	require.Equal(t, int64(0), tier.Cost())

	tier.Put("b", newArtifact(5, 5))
	tier.Put("b", nil)

	_, ok = tier.Get("b")
	require.False(t, ok)
	require.Equal(t, int64(0), tier.Cost())
}

func TestReplaceUpdatesCost(t *testing.T) {
	tier := newTestTier(t, 10, 1000)

	tier.Put("a", newArtifact(10, 10))
	replacement := newArtifact(20, 10)
	tier.Put("a", replacement)

	got, ok := tier.Get("a")
	require.True(t, ok)
	require.Same(t, replacement, got)
	require.Equal(t, 1, tier.Len())
	require.Equal(t, int64(200), tier.Cost())
}

func TestCountLimit(t *testing.T) {
	tier := newTestTier(t, 10, 0)

	for i := 0; i < 50; i++ {
		tier.Put(fmt.Sprint(i), newArtifact(1, 1))
		require.LessOrEqual(t, tier.Len(), 10)
	}

	for i := 0; i < 40; i++ {
		if _, ok := tier.Get(fmt.Sprint(i)); ok {
			t.Errorf("expected %v to be evicted", i)
		}
	}
	for i := 40; i < 50; i++ {
		if _, ok := tier.Get(fmt.Sprint(i)); !ok {
			t.Errorf("expected %v to be cached", i)
		}
	}
}

func TestCostLimit(t *testing.T) {
	tier := newTestTier(t, 100, 1000)

	for i := 0; i < 5; i++ {
		tier.Put(fmt.Sprint(i), newArtifact(10, 30)) // cost 300
		require.LessOrEqual(t, tier.Cost(), int64(1000))
	}

	require.Equal(t, 3, tier.Len())
	require.Equal(t, int64(900), tier.Cost())
	for _, k := range []string{"2", "3", "4"} {
		_, ok := tier.Get(k)
		require.True(t, ok, k)
	}
}

func TestLeastRecentlyUsedEvicted(t *testing.T) {
	tier := newTestTier(t, 3, 0)

	tier.Put("a", newArtifact(1, 1))
	tier.Put("b", newArtifact(1, 1))
	tier.Put("c", newArtifact(1, 1))

	_, ok := tier.Get("a")
	require.True(t, ok)

	tier.Put("d", newArtifact(1, 1))

	_, ok = tier.Get("b")
	require.False(t, ok, "b is the least recently used")
	for _, k := range []string{"a", "c", "d"} {
		_, ok := tier.Get(k)
		require.True(t, ok, k)
	}
}

func TestDeleteAndClear(t *testing.T) {
	tier := newTestTier(t, 10, 0)
	tier.Put("a", newArtifact(2, 2))
	tier.Put("b", newArtifact(2, 2))

	tier.Delete("a")
	_, ok := tier.Get("a")
	require.False(t, ok)
	require.Equal(t, int64(4), tier.Cost())

	tier.Clear()
	require.Equal(t, 0, tier.Len())
	require.Equal(t, int64(0), tier.Cost())
	_, ok = tier.Get("b")
	require.False(t, ok)
}

func TestLimitsHoldUnderConcurrency(t *testing.T) {
	const maxEntries, maxCost = 20, 5000
	tier := newTestTier(t, maxEntries, maxCost)
	var eg errgroup.Group

	for i := 0; i < 500; i++ {
		key := fmt.Sprint(rand.Intn(100))
		w, h := 1+rand.Intn(40), 1+rand.Intn(40)
		eg.Go(func() error {
			tier.Put(key, newArtifact(w, h))
			tier.Get(key)
			if l := tier.Len(); l > maxEntries {
				return fmt.Errorf("count limit exceeded: %v", l)
			}
			if c := tier.Cost(); c > maxCost {
				return fmt.Errorf("cost limit exceeded: %v", c)
			}
			return nil
		})
	}

	require.NoError(t, eg.Wait())
}
