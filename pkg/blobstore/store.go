// Copyright (c) 2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

// Package blobstore is a content-addressed cache for channel
// descriptions. The server announces long descriptions by their
// DescriptionHash instead of the full text, to every client whatever its
// version; no RequestBlob handler serves the stored body back.
package blobstore

import (
	"errors"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// ErrNotFound is returned by Get when no blob is stored under hash.
var ErrNotFound = errors.New("blobstore: not found")

// Store maps blake2b digests to the blob bytes they were computed over.
// All state is in memory; nothing here is persisted across restarts.
type Store struct {
	mu   sync.RWMutex
	blob map[[blake2b.Size256]byte][]byte
}

// New returns an empty Store.
func New() *Store {
	return &Store{blob: make(map[[blake2b.Size256]byte][]byte)}
}

// Put hashes data, stores it under that hash, and returns the digest.
func (s *Store) Put(data []byte) []byte {
	h := blake2b.Sum256(data)

	s.mu.Lock()
	if _, ok := s.blob[h]; !ok {
		cp := make([]byte, len(data))
		copy(cp, data)
		s.blob[h] = cp
	}
	s.mu.Unlock()

	return h[:]
}

// Get returns the bytes stored under hash, or ErrNotFound.
func (s *Store) Get(hash []byte) ([]byte, error) {
	var key [blake2b.Size256]byte
	copy(key[:], hash)

	s.mu.RLock()
	data, ok := s.blob[key]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Has reports whether a blob is stored under hash.
func (s *Store) Has(hash []byte) bool {
	var key [blake2b.Size256]byte
	copy(key[:], hash)

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blob[key]
	return ok
}
