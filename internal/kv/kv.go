// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package kv is the string store behind getkey and setkey, optionally
// persisted as a CBOR map
package kv

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/afero"
)

// Store holds keys for the daemon's lifetime. With a path it is loaded on
// open and rewritten after every Set.
type Store struct {
	mu   sync.RWMutex
	data map[string]string
	fs   afero.Fs
	path string
}

// Open creates a store. An empty path keeps it in memory; a missing file
// starts empty.
func Open(fsys afero.Fs, path string) (*Store, error) {
	s := &Store{data: map[string]string{}, fs: fsys, path: path}
	if path == "" {
		return s, nil
	}

	raw, err := afero.ReadFile(fsys, path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read kv store: %w", err)
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := cbor.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("failed to decode kv store %s: %w", path, err)
	}
	return s, nil
}

// Get returns the value of key
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Set stores value under key and persists the store
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return s.save()
}

// Len returns the number of keys
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *Store) save() error {
	if s.path == "" {
		return nil
	}
	raw, err := cbor.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("failed to encode kv store: %w", err)
	}
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create kv store directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, raw, 0o640); err != nil {
		return fmt.Errorf("failed to write kv store: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace kv store: %w", err)
	}
	return nil
}
