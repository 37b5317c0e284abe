// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/azure/webimage/internal/imaging"
	"github.com/dgraph-io/ristretto"
	"github.com/hashicorp/golang-lru/simplelru"
	"github.com/rs/zerolog"
)

var (
	// DefaultMaxEntries is the default maximum number of artifacts held in memory.
	DefaultMaxEntries = 1000

	// DefaultMaxCost is the default capacity of the memory tier in cost units (pixels * scale^2).
	DefaultMaxCost int64 = 1 * 1024 * 1024 * 1024 // 1 Gib
)

// Tier is an in-memory cache of decoded artifacts bounded by entry count and total cost.
//
// Artifacts live in a ristretto cache. A least-recently-used ledger of keys and costs enforces
// both limits: when either is exceeded the oldest keys are dropped from the ledger and the cache.
// An artifact is only served while its key is in the ledger.
type Tier struct {
	store *ristretto.Cache

	lock    sync.Mutex
	ledger  *simplelru.LRU
	cost    int64
	maxCost int64

	log zerolog.Logger
}

// Get returns the artifact for key.
func (t *Tier) Get(key string) (*imaging.Artifact, bool) {
	val, found := t.store.Get(key)
	if !found {
		return nil, false
	}

	t.lock.Lock()
	_, ok := t.ledger.Get(key)
	t.lock.Unlock()
	if !ok {
		return nil, false
	}

	return val.(*imaging.Artifact), true
}

// Put adds or replaces the artifact for key. Nil or empty artifacts, and artifacts that
// cannot fit in the tier at all, are not stored and drop any previous artifact for key.
func (t *Tier) Put(key string, a *imaging.Artifact) {
	if a.Empty() {
		t.Delete(key)
		return
	}

	cost := a.Cost()
	if cost > t.maxCost {
		t.log.Debug().Str("key", key).Int64("cost", cost).Msg("artifact too large for memory tier")
		t.Delete(key)
		return
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	if prev, ok := t.ledger.Peek(key); ok {
		t.cost -= prev.(int64)
	}
	t.ledger.Add(key, cost) // evicts the oldest key when the entry limit is reached
	t.cost += cost

	for t.cost > t.maxCost {
		if _, _, ok := t.ledger.RemoveOldest(); !ok {
			break
		}
	}

	if ok := t.store.Set(key, a, cost); !ok {
		// The set was dropped by the cache buffers.
		t.ledger.Remove(key)
		return
	}

	// Wait for the value to pass through buffers so that it is visible to Get.
	t.store.Wait()
}

// Delete removes the artifact for key.
func (t *Tier) Delete(key string) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if !t.ledger.Remove(key) {
		t.store.Del(key)
	}
}

// Clear removes all artifacts.
func (t *Tier) Clear() {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.ledger.Purge()
}

// Len returns the number of artifacts.
func (t *Tier) Len() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.ledger.Len()
}

// Cost returns the total cost of all artifacts.
func (t *Tier) Cost() int64 {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.cost
}

// Close stops the underlying cache.
func (t *Tier) Close() {
	t.store.Close()
}

// onDrop is called with the lock held whenever a key leaves the ledger.
func (t *Tier) onDrop(key, value interface{}) {
	t.cost -= value.(int64)
	t.store.Del(key)
}

// New creates a new memory tier. Non-positive limits use the defaults.
func New(ctx context.Context, maxEntries int, maxCost int64) (*Tier, error) {
	log := zerolog.Ctx(ctx).With().Str("component", "memory").Logger()

	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if maxCost <= 0 {
		maxCost = DefaultMaxCost
	}

	t := &Tier{maxCost: maxCost, log: log}

	var err error
	if t.ledger, err = simplelru.NewLRU(maxEntries, t.onDrop); err != nil {
		return nil, fmt.Errorf("failed to initialize memory ledger: %w", err)
	}

	if t.store, err = ristretto.NewCache(&ristretto.Config{
		NumCounters:        int64(maxEntries) * 10,
		MaxCost:            maxCost,
		BufferItems:        64,
		IgnoreInternalCost: true,

		OnEvict: func(item *ristretto.Item) {
			log.Debug().Int64("cost", item.Cost).Msg("memory cache evict")
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize memory cache: %w", err)
	}

	return t, nil
}
