// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package metadata

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// FileName is the name of the persisted metadata file inside the cache directory.
const FileName = "metadata.toml"

// Entry describes a cached file.
type Entry struct {
	Key        string    `toml:"key"`
	Size       int64     `toml:"size"`
	ModifiedAt time.Time `toml:"modified_at"`
	VisitedAt  time.Time `toml:"visited_at"`
}

// Store is a table of entries with synchronized access support.
// All mutations are read-modify-write operations under a single lock.
type Store struct {
	entries map[string]*Entry
	lock    sync.RWMutex

	// gen counts mutations; flushedGen is the generation last written to disk.
	gen        uint64
	flushedGen uint64

	// flushLock serializes flushes.
	flushLock sync.Mutex

	fs   afero.Fs
	path string
	log  zerolog.Logger
}

// Get returns a copy of the entry for key.
func (s *Store) Get(key string) (Entry, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Update applies fn to the entry for key, creating the entry if it does not exist.
// fn must not call back into the store.
func (s *Store) Update(key string, fn func(e *Entry)) {
	s.lock.Lock()
	defer s.lock.Unlock()

	e, ok := s.entries[key]
	if !ok {
		e = &Entry{Key: key}
		s.entries[key] = e
	}
	fn(e)
	e.Key = key
	s.gen++
}

// SetSize sets the size of the entry for key.
func (s *Store) SetSize(key string, size int64) {
	s.Update(key, func(e *Entry) { e.Size = size })
}

// SetModifiedAt sets the last modification time of the entry for key.
func (s *Store) SetModifiedAt(key string, t time.Time) {
	s.Update(key, func(e *Entry) { e.ModifiedAt = t })
}

// SetVisitedAt sets the last visit time of the entry for key.
func (s *Store) SetVisitedAt(key string, t time.Time) {
	s.Update(key, func(e *Entry) { e.VisitedAt = t })
}

// Remove removes the entry for key. If the key does not exist, this method does nothing.
func (s *Store) Remove(key string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.entries[key]; ok {
		delete(s.entries, key)
		s.gen++
	}
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.entries)
}

// Snapshot returns a copy of all entries ordered by key.
func (s *Store) Snapshot() []Entry {
	s.lock.RLock()
	entries := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, *e)
	}
	s.lock.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}

// Dirty reports whether the store has changes that have not been flushed.
func (s *Store) Dirty() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.gen != s.flushedGen
}

// FlushPeriodically flushes the store every interval while it is dirty, and once more when ctx is done.
func (s *Store) FlushPeriodically(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := s.Flush(); err != nil {
				s.log.Error().Err(err).Msg("final metadata flush failed")
			}
			return
		case <-ticker.C:
			if !s.Dirty() {
				continue
			}
			if err := s.Flush(); err != nil {
				s.log.Warn().Err(err).Msg("metadata flush failed")
			}
		}
	}
}

// New creates an empty store persisted at dir/FileName on fs. Call Load to read persisted entries.
func New(ctx context.Context, fs afero.Fs, dir string) *Store {
	return &Store{
		entries: map[string]*Entry{},
		fs:      fs,
		path:    filepath.Join(dir, FileName),
		log:     zerolog.Ctx(ctx).With().Str("component", "metadata").Logger(),
	}
}
