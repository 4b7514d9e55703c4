// Package kv implements the small durable key-value store that backs the
// fast-path onboarding checks. It is read on cold start before any network
// access and is authoritative for the "is onboarding done?" gate.
package kv

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// Store is a file-backed key-value store. The whole map is held in memory
// and flushed with an atomic write (temp file + rename) on every mutation.
type Store struct {
	mu   sync.RWMutex
	path string
	data map[string]string
}

// NewStore opens or creates the store file at path.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path: path,
		data: map[string]string{},
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "failed to read kv store %s", path)
		}
		return s, nil
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s.data); err != nil {
			return nil, errors.Wrapf(err, "failed to parse kv store %s", path)
		}
	}
	return s, nil
}

// Get returns the value for key and whether it was present.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	return v, ok
}

// Set stores a value and flushes to disk.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = value
	return s.flushLocked()
}

// DeleteKeys removes the given keys and flushes to disk.
func (s *Store) DeleteKeys(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.data, key)
	}
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal kv store")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp kv file")
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "failed to write temp kv file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "failed to close temp kv file")
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(err, "failed to replace kv store %s", s.path)
	}
	return nil
}
