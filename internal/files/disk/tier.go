// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package disk

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/azure/webimage/internal/metadata"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

const tempPrefix = ".cache-"

var (
	// ErrNotFound is returned when a key has no file.
	ErrNotFound = errors.New("cache file not found")

	errInvalidKey = errors.New("invalid cache key")
)

// Tier stores raw bytes in one file per key and records every write and read in the metadata store.
// Writes to the same key are serialized; reads and writes to different keys proceed concurrently.
type Tier struct {
	fs    afero.Fs
	root  string
	meta  *metadata.Store
	locks *keyLocks
	now   func() time.Time
	log   zerolog.Logger
}

// Write stores b as the content of key, then updates the size, modification and visit times of key.
func (t *Tier) Write(ctx context.Context, key string, b []byte) error {
	p, err := t.path(key)
	if err != nil {
		return err
	}

	unlock := t.locks.lock(key)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := t.writeAtomically(p, b); err != nil {
		t.log.Error().Err(err).Str("key", key).Msg("failed to write file")
		return fmt.Errorf("write %v: %w", key, err)
	}

	now := t.now()
	t.meta.SetSize(key, int64(len(b)))
	t.meta.SetModifiedAt(key, now)
	t.meta.SetVisitedAt(key, now)

	t.log.Debug().Str("key", key).Int("bytes", len(b)).Msg("file written")
	return nil
}

// Read returns the content of key and updates its visit time.
// A failed read never creates or repairs metadata.
func (t *Tier) Read(ctx context.Context, key string) ([]byte, error) {
	p, err := t.path(key)
	if err != nil {
		return nil, err
	}

	unlock := t.locks.rlock(key)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := afero.ReadFile(t.fs, p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		t.log.Error().Err(err).Str("key", key).Msg("failed to read file")
		return nil, fmt.Errorf("read %v: %w", key, err)
	}

	now := t.now()
	t.meta.Update(key, func(e *metadata.Entry) {
		if e.ModifiedAt.IsZero() {
			// The file was not tracked yet.
			e.Size = int64(len(b))
			e.ModifiedAt = now
		}
		e.VisitedAt = now
	})

	return b, nil
}

// Exists reports whether key has a file.
func (t *Tier) Exists(key string) bool {
	p, err := t.path(key)
	if err != nil {
		return false
	}
	info, err := t.fs.Stat(p)
	return err == nil && !info.IsDir()
}

// Remove deletes the file of key and its metadata.
// The metadata is removed even if the file cannot be deleted.
func (t *Tier) Remove(ctx context.Context, key string) error {
	unlock := t.locks.lock(key)
	defer unlock()
	return t.remove(key)
}

// RemoveIfUnmodified removes key only if its modification time still equals modifiedAt.
// It returns false if key was rewritten or removed in the meantime.
func (t *Tier) RemoveIfUnmodified(ctx context.Context, key string, modifiedAt time.Time) (bool, error) {
	unlock := t.locks.lock(key)
	defer unlock()

	e, ok := t.meta.Get(key)
	if !ok || !e.ModifiedAt.Equal(modifiedAt) {
		return false, nil
	}
	return true, t.remove(key)
}

// remove deletes key. The caller holds the write lock of key.
func (t *Tier) remove(key string) error {
	defer t.meta.Remove(key)

	p, err := t.path(key)
	if err != nil {
		return err
	}

	if err := t.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		t.log.Error().Err(err).Str("key", key).Msg("failed to remove file")
		return fmt.Errorf("remove %v: %w", key, err)
	}
	return nil
}

// ReconcileResult describes the repairs made by Reconcile.
type ReconcileResult struct {
	Adopted     int
	Dropped     int
	TempRemoved int
}

// Reconcile makes the metadata store match the files on disk: untracked files are adopted
// using their size and modification time, entries without a file are dropped, and leftover
// temporary files are removed.
func (t *Tier) Reconcile(ctx context.Context) (ReconcileResult, error) {
	var res ReconcileResult
	seen := map[string]bool{}

	err := afero.Walk(t.fs, t.root, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		name := info.Name()
		if strings.HasPrefix(name, tempPrefix) {
			if err := t.fs.Remove(p); err == nil {
				res.TempRemoved++
			}
			return nil
		}

		expected, err := t.path(name)
		if err != nil || expected != p {
			return nil
		}

		seen[name] = true
		if _, ok := t.meta.Get(name); !ok {
			t.meta.Update(name, func(e *metadata.Entry) {
				e.Size = info.Size()
				e.ModifiedAt = info.ModTime()
				e.VisitedAt = info.ModTime()
			})
			res.Adopted++
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	for _, e := range t.meta.Snapshot() {
		if !seen[e.Key] {
			t.meta.Remove(e.Key)
			res.Dropped++
		}
	}

	t.log.Info().Int("adopted", res.Adopted).Int("dropped", res.Dropped).Int("temp", res.TempRemoved).Msg("disk reconciled")
	return res, nil
}

// path returns the file path of key. Files are sharded by the first two characters of the key.
func (t *Tier) path(key string) (string, error) {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("%w: %q", errInvalidKey, key)
	}
	if len(key) <= 2 {
		return filepath.Join(t.root, key), nil
	}
	return filepath.Join(t.root, key[:2], key), nil
}

// writeAtomically writes b to a temporary file next to p and renames it to p.
func (t *Tier) writeAtomically(p string, b []byte) error {
	dir := filepath.Dir(p)
	if err := t.fs.MkdirAll(dir, 0755); err != nil {
		return err
	}

	f, err := afero.TempFile(t.fs, dir, tempPrefix+"*")
	if err != nil {
		return err
	}
	name := f.Name()

	_, err = f.Write(b)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = t.fs.Rename(name, p)
	}
	if err != nil {
		_ = t.fs.Remove(name)
		return err
	}
	return nil
}

// New creates a disk tier rooted at root on fs.
func New(ctx context.Context, fs afero.Fs, root string, meta *metadata.Store) (*Tier, error) {
	if root == "" {
		return nil, errors.New("cache root required")
	}
	if ok, _ := afero.DirExists(fs, root); !ok {
		if err := fs.MkdirAll(root, 0755); err != nil {
			return nil, fmt.Errorf("create cache root: %w", err)
		}
	}

	return &Tier{
		fs:    fs,
		root:  filepath.Clean(root),
		meta:  meta,
		locks: newKeyLocks(),
		now:   time.Now,
		log:   zerolog.Ctx(ctx).With().Str("component", "disk").Logger(),
	}, nil
}
