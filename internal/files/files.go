// Copyright (c) Microsoft Corporation.
// Licensed under the Apache License, Version 2.0.
package files

import (
	"context"
	"time"

	"github.com/azure/webimage/internal/remote"
	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog"
)

// KeyLength is the length of every cache key.
const KeyLength = 64

// Key returns the cache key for the given resource locator.
// The key is the hex encoded sha256 of the locator and is safe to use as a file name.
func Key(locator string) string {
	return digest.FromString(locator).Encoded()
}

// ValidKey reports whether k looks like a key produced by Key.
func ValidKey(k string) bool {
	return digest.NewDigestFromEncoded(digest.SHA256, k).Validate() == nil
}

// FetchFile gets the content of the resource at locator using the given transport.
func FetchFile(ctx context.Context, t remote.Transport, locator string) ([]byte, error) {
	l := zerolog.Ctx(ctx).With().Str("locator", locator).Logger()
	l.Debug().Msg("fetch file start")
	s := time.Now()

	b, err := t.Fetch(ctx, locator)
	if err != nil {
		l.Debug().Err(err).Msg("fetch file error")
		return nil, err
	}

	l.Debug().Int("bytes", len(b)).Dur("duration", time.Since(s)).Msg("fetch file stop")
	return b, nil
}
