// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package cache

import (
	"context"

	"github.com/azure/webimage/internal/imaging"
)

// Cache describes the tiered cache of images.
type Cache interface {
	// Get returns the artifact for key from memory, or from disk after decoding it.
	// Disk and decoding failures are reported as a miss.
	Get(ctx context.Context, key string) (*imaging.Artifact, bool)

	// Put decodes b and stores it in both tiers.
	Put(ctx context.Context, key string, b []byte) error

	// Store stores an already decoded artifact. The disk tier receives the artifact's encoded bytes.
	Store(ctx context.Context, key string, a *imaging.Artifact) error

	// Remove removes key from both tiers.
	Remove(ctx context.Context, key string) error
}

var (
	// DefaultDir is the default cache directory.
	DefaultDir = "/tmp/webimage/cache"
)
