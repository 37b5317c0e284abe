// Copyright (c) Microsoft Corporation.
// Licensed under the Apache License, Version 2.0.
package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/azure/webimage/internal/files/disk"
	"github.com/azure/webimage/internal/files/memory"
	"github.com/azure/webimage/internal/imaging"
	"github.com/azure/webimage/internal/metadata"
	"github.com/azure/webimage/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

var errNoData = errors.New("artifact has no encoded data")

// Options configures the tiered cache.
type Options struct {
	// Fs is the filesystem of the disk tier. Defaults to the OS filesystem.
	Fs afero.Fs

	// Dir is the cache directory. Defaults to DefaultDir.
	Dir string

	// MemoryMaxEntries and MemoryMaxCost bound the memory tier. Zero selects the memory tier defaults.
	MemoryMaxEntries int
	MemoryMaxCost    int64

	// Decoder decodes bytes read from disk. Defaults to imaging.Default.
	Decoder imaging.Decoder

	Metrics metrics.Metrics
}

// Tiered composes the memory and disk tiers with read-through semantics.
type Tiered struct {
	memory  *memory.Tier
	disk    *disk.Tier
	meta    *metadata.Store
	decoder imaging.Decoder
	metrics metrics.Metrics
	log     zerolog.Logger
}

var _ Cache = &Tiered{}

// Get returns the artifact for key.
func (c *Tiered) Get(ctx context.Context, key string) (*imaging.Artifact, bool) {
	if a, ok := c.memory.Get(key); ok {
		c.metrics.RecordCacheLookup(metrics.TierMemory, true)
		return a, true
	}
	c.metrics.RecordCacheLookup(metrics.TierMemory, false)

	b, err := c.disk.Read(ctx, key)
	if err != nil {
		if !errors.Is(err, disk.ErrNotFound) {
			c.log.Warn().Err(err).Str("key", key).Msg("disk read failed, treating as miss")
		}
		c.metrics.RecordCacheLookup(metrics.TierDisk, false)
		return nil, false
	}

	a, err := c.decoder.Decode(b)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cached file could not be decoded, treating as miss")
		c.metrics.RecordCacheLookup(metrics.TierDisk, false)
		return nil, false
	}
	c.metrics.RecordCacheLookup(metrics.TierDisk, true)

	c.memory.Put(key, a)
	return a, true
}

// Put decodes b and stores it in both tiers.
func (c *Tiered) Put(ctx context.Context, key string, b []byte) error {
	a, err := c.decoder.Decode(b)
	if err != nil {
		return err
	}
	return c.Store(ctx, key, a)
}

// Store writes a.Data to disk, then keeps a in memory.
func (c *Tiered) Store(ctx context.Context, key string, a *imaging.Artifact) error {
	if a == nil || len(a.Data) == 0 {
		return fmt.Errorf("store %v: %w", key, errNoData)
	}

	if err := c.disk.Write(ctx, key, a.Data); err != nil {
		return err
	}

	c.memory.Put(key, a)
	c.log.Debug().Str("key", key).Int64("cost", a.Cost()).Msg("stored")
	return nil
}

// Remove removes key from both tiers.
func (c *Tiered) Remove(ctx context.Context, key string) error {
	c.memory.Delete(key)
	return c.disk.Remove(ctx, key)
}

// Metadata returns the metadata store of the disk tier.
func (c *Tiered) Metadata() *metadata.Store {
	return c.meta
}

// Disk returns the disk tier.
func (c *Tiered) Disk() *disk.Tier {
	return c.disk
}

// Memory returns the memory tier.
func (c *Tiered) Memory() *memory.Tier {
	return c.memory
}

// Close flushes the metadata and releases the memory tier.
func (c *Tiered) Close() {
	if err := c.meta.Flush(); err != nil {
		c.log.Error().Err(err).Msg("failed to flush metadata on close")
	}
	c.memory.Close()
}

// New creates a tiered cache. Persisted metadata is loaded and reconciled with the files on disk.
func New(ctx context.Context, opts Options) (*Tiered, error) {
	log := zerolog.Ctx(ctx).With().Str("component", "cache").Logger()

	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Dir == "" {
		opts.Dir = DefaultDir
	}
	if opts.Decoder == nil {
		opts.Decoder = imaging.Default
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop
	}
	if opts.MemoryMaxEntries <= 0 {
		opts.MemoryMaxEntries = memory.DefaultMaxEntries
	}
	if opts.MemoryMaxCost <= 0 {
		opts.MemoryMaxCost = memory.DefaultMaxCost
	}

	meta := metadata.New(ctx, opts.Fs, opts.Dir)
	if !meta.Load() {
		log.Info().Str("dir", opts.Dir).Msg("starting with empty metadata")
	}

	d, err := disk.New(ctx, opts.Fs, opts.Dir, meta)
	if err != nil {
		return nil, err
	}

	if _, err := d.Reconcile(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to reconcile metadata with disk")
	}

	m, err := memory.New(ctx, opts.MemoryMaxEntries, opts.MemoryMaxCost)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize memory tier: %w", err)
	}

	return &Tiered{
		memory:  m,
		disk:    d,
		meta:    meta,
		decoder: opts.Decoder,
		metrics: opts.Metrics,
		log:     log,
	}, nil
}
