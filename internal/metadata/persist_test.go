// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package metadata

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestLoadMissing(t *testing.T) {
	s := newTestStore()
	require.False(t, s.Load())
	require.Equal(t, 0, s.Len())
}

func TestLoadCorrupt(t *testing.T) {
	tcs := []struct {
		name     string
		contents string
	}{
		{name: "garbage", contents: "this is { not toml"},
		{name: "wrong-type", contents: "[[entry]]\nkey = 'a'\nsize = 'big'\n"},
		{name: "missing-key", contents: "[[entry]]\nsize = 1\n"},
		{name: "negative-size", contents: "[[entry]]\nkey = 'a'\nsize = -1\n"},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, filepath.Join("/cache", FileName), []byte(tc.contents), 0644))

			s := New(context.Background(), fs, "/cache")
			s.SetSize("stale", 1)

			require.False(t, s.Load())
			require.Equal(t, 0, s.Len())

			_, err := s.read()
			require.True(t, errors.Is(err, ErrCorrupt), "expected ErrCorrupt, got %v", err)
		})
	}
}

func TestFlushAndLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := New(context.Background(), fs, "/cache")

	modified := time.Date(2024, 3, 1, 10, 0, 0, 123456789, time.UTC)
	visited := modified.Add(time.Hour)
	s.Update("a", func(e *Entry) {
		e.Size = 100
		e.ModifiedAt = modified
		e.VisitedAt = visited
	})
	s.SetSize("b", 200)

	require.True(t, s.Dirty())
	require.NoError(t, s.Flush())
	require.False(t, s.Dirty())

	loaded := New(context.Background(), fs, "/cache")
	require.True(t, loaded.Load())
	require.Equal(t, 2, loaded.Len())

	a, ok := loaded.Get("a")
	require.True(t, ok)
	require.Equal(t, int64(100), a.Size)
	require.True(t, a.ModifiedAt.Equal(modified), "expected %v, got %v", modified, a.ModifiedAt)
	require.True(t, a.VisitedAt.Equal(visited), "expected %v, got %v", visited, a.VisitedAt)

	b, ok := loaded.Get("b")
	require.True(t, ok)
	require.Equal(t, int64(200), b.Size)
}

func TestFlushEmpty(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := New(context.Background(), fs, "/cache")
	s.SetSize("a", 1)
	s.Remove("a")

	require.NoError(t, s.Flush())

	loaded := New(context.Background(), fs, "/cache")
	require.True(t, loaded.Load())
	require.Equal(t, 0, loaded.Len())
}

func TestFlushNotDirty(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := New(context.Background(), fs, "/cache")

	require.NoError(t, s.Flush())

	ok, err := afero.Exists(fs, filepath.Join("/cache", FileName))
	require.NoError(t, err)
	require.False(t, ok, "a clean store should not write a file")
}

func TestFlushFailureKeepsDirty(t *testing.T) {
	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
	s := New(context.Background(), fs, "/cache")
	s.SetSize("a", 1)

	require.Error(t, s.Flush())
	require.True(t, s.Dirty())
	require.Equal(t, 1, s.Len())
}
