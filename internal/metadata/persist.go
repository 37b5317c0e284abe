// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package metadata

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
)

// ErrCorrupt indicates that the persisted metadata could not be read.
var ErrCorrupt = errors.New("metadata corrupt")

// document is the persisted form of the store.
type document struct {
	Entries []Entry `toml:"entry"`
}

// Load replaces the contents of the store with the persisted entries.
// It returns false if the file is missing or corrupt, in which case the store is left empty.
func (s *Store) Load() bool {
	entries, err := s.read()

	s.lock.Lock()
	defer s.lock.Unlock()
	s.entries = map[string]*Entry{}
	s.gen, s.flushedGen = 0, 0

	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.log.Debug().Str("path", s.path).Msg("no persisted metadata")
		} else {
			s.log.Warn().Err(err).Str("path", s.path).Msg("discarding persisted metadata")
		}
		return false
	}

	for i := range entries {
		e := entries[i]
		s.entries[e.Key] = &e
	}

	s.log.Debug().Int("entries", len(s.entries)).Msg("metadata loaded")
	return true
}

// read decodes the persisted entries.
func (s *Store) read() ([]Entry, error) {
	b, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return nil, err
	}

	var doc document
	if err := toml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	for _, e := range doc.Entries {
		if e.Key == "" || e.Size < 0 {
			return nil, fmt.Errorf("%w: invalid entry %q", ErrCorrupt, e.Key)
		}
	}

	return doc.Entries, nil
}

// Flush writes the store to disk if it has changed since the last flush.
// The file is replaced atomically so a failed flush leaves the previous contents intact.
func (s *Store) Flush() error {
	s.flushLock.Lock()
	defer s.flushLock.Unlock()

	s.lock.RLock()
	gen := s.gen
	dirty := gen != s.flushedGen
	s.lock.RUnlock()

	if !dirty {
		return nil
	}

	b, err := toml.Marshal(document{Entries: s.Snapshot()})
	if err != nil {
		return err
	}

	if err := s.writeAtomically(b); err != nil {
		return err
	}

	s.lock.Lock()
	if gen > s.flushedGen {
		s.flushedGen = gen
	}
	s.lock.Unlock()

	s.log.Debug().Str("path", s.path).Int("bytes", len(b)).Msg("metadata flushed")
	return nil
}

// writeAtomically writes b to a temporary file and renames it over the metadata file.
func (s *Store) writeAtomically(b []byte) error {
	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return err
	}

	f, err := afero.TempFile(s.fs, dir, ".metadata-*")
	if err != nil {
		return err
	}
	name := f.Name()

	_, err = f.Write(b)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = s.fs.Remove(name)
		return err
	}

	if err := s.fs.Rename(name, s.path); err != nil {
		_ = s.fs.Remove(name)
		return err
	}
	return nil
}
