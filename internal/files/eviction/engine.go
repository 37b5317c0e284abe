// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package eviction

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/azure/webimage/internal/metadata"
	"github.com/azure/webimage/internal/metrics"
	"github.com/rs/zerolog"
)

// Snapshotter provides a consistent copy of the metadata table and the current state of single entries.
type Snapshotter interface {
	Snapshot() []metadata.Entry
	Get(key string) (metadata.Entry, bool)
}

// Remover deletes a cached file and its metadata, unless the file was rewritten since modifiedAt.
// Metadata is removed even if the file delete fails.
type Remover interface {
	RemoveIfUnmodified(ctx context.Context, key string, modifiedAt time.Time) (bool, error)
}

// Options configures the eviction engine.
type Options struct {
	// MaxAge is the maximum time since an entry was last written. Zero disables age eviction.
	MaxAge time.Duration

	// MaxSize is the maximum total size in bytes of all entries. Zero disables size eviction.
	MaxSize int64

	// Interval is the period of automatic sweeps. Zero disables the timer.
	Interval time.Duration

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time

	Metrics metrics.Metrics
}

// Result describes the outcome of a sweep.
type Result struct {
	Expired    []string
	Evicted    []string
	FreedBytes int64
	Failures   int
}

// Engine enforces the age and size budgets of the disk tier.
type Engine struct {
	opts    Options
	meta    Snapshotter
	disk    Remover
	trigger chan struct{}

	// sweepLock serializes sweeps.
	sweepLock sync.Mutex

	log zerolog.Logger
}

// Enabled reports whether any budget is configured.
func (e *Engine) Enabled() bool {
	return e.opts.MaxAge > 0 || e.opts.MaxSize > 0
}

// Sweep runs one eviction pass. Failures to delete individual files are counted but never abort the sweep.
func (e *Engine) Sweep(ctx context.Context) Result {
	var res Result
	if !e.Enabled() {
		return res
	}

	e.sweepLock.Lock()
	defer e.sweepLock.Unlock()

	start := e.opts.Now()
	entries := e.meta.Snapshot()

	if e.opts.MaxAge > 0 {
		remaining := entries[:0]
		for _, entry := range entries {
			if start.Sub(entry.ModifiedAt) <= e.opts.MaxAge {
				remaining = append(remaining, entry)
				continue
			}
			if e.remove(ctx, entry, &res) {
				res.Expired = append(res.Expired, entry.Key)
			} else if cur, ok := e.meta.Get(entry.Key); ok {
				remaining = append(remaining, cur)
			}
		}
		entries = remaining
	}

	if e.opts.MaxSize > 0 {
		var total int64
		for _, entry := range entries {
			total += entry.Size
		}

		if total > e.opts.MaxSize {
			sort.Slice(entries, func(i, j int) bool {
				return lessRecentlyVisited(entries[i], entries[j])
			})

			for _, entry := range entries {
				if total <= e.opts.MaxSize || ctx.Err() != nil {
					break
				}
				if e.remove(ctx, entry, &res) {
					res.Evicted = append(res.Evicted, entry.Key)
					total -= entry.Size
					continue
				}
				// Kept: count its current size instead of the snapshot's.
				total -= entry.Size
				if cur, ok := e.meta.Get(entry.Key); ok {
					total += cur.Size
				}
			}
		}
	}

	if len(res.Expired) > 0 {
		e.opts.Metrics.RecordEviction(metrics.EvictionExpired, len(res.Expired))
	}
	if len(res.Evicted) > 0 {
		e.opts.Metrics.RecordEviction(metrics.EvictionOverSize, len(res.Evicted))
	}

	e.log.Info().
		Int("expired", len(res.Expired)).
		Int("evicted", len(res.Evicted)).
		Int64("freed", res.FreedBytes).
		Int("failures", res.Failures).
		Dur("duration", e.opts.Now().Sub(start)).
		Msg("sweep complete")

	return res
}

// remove deletes entry and reports whether its metadata is gone.
func (e *Engine) remove(ctx context.Context, entry metadata.Entry, res *Result) bool {
	removed, err := e.disk.RemoveIfUnmodified(ctx, entry.Key, entry.ModifiedAt)
	if err != nil {
		e.log.Warn().Err(err).Str("key", entry.Key).Msg("failed to delete file, metadata dropped")
		res.Failures++
	} else if !removed {
		// Rewritten or removed since the snapshot.
		return false
	} else {
		res.FreedBytes += entry.Size
	}
	return true
}

// lessRecentlyVisited orders entries by visit time, then modification time, then key.
func lessRecentlyVisited(a, b metadata.Entry) bool {
	if !a.VisitedAt.Equal(b.VisitedAt) {
		return a.VisitedAt.Before(b.VisitedAt)
	}
	if !a.ModifiedAt.Equal(b.ModifiedAt) {
		return a.ModifiedAt.Before(b.ModifiedAt)
	}
	return a.Key < b.Key
}

// Trigger requests an out-of-band sweep from Run. It never blocks.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Run sweeps once, then on every tick of the interval and on every Trigger until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	if !e.Enabled() {
		e.log.Info().Msg("eviction disabled")
		return
	}

	e.Sweep(ctx)

	var tick <-chan time.Time
	if e.opts.Interval > 0 {
		ticker := time.NewTicker(e.opts.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			e.Sweep(ctx)
		case <-e.trigger:
			e.Sweep(ctx)
		}
	}
}

// New creates an eviction engine over the given metadata and disk tier.
func New(ctx context.Context, meta Snapshotter, disk Remover, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop
	}

	return &Engine{
		opts:    opts,
		meta:    meta,
		disk:    disk,
		trigger: make(chan struct{}, 1),
		log:     zerolog.Ctx(ctx).With().Str("component", "eviction").Logger(),
	}
}
