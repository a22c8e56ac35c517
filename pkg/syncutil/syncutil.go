// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

// Package syncutil provides the bounded-wait lock shared by the
// server's entities and the crypt channel: acquisition either succeeds
// within LockTimeout or fails with ErrLockTimeout, never hangs.
package syncutil

import (
	"errors"
	"sync"
	"time"
)

// LockTimeout bounds how long callers wait to acquire a lock before
// giving up.
const LockTimeout = 100 * time.Millisecond

// ErrLockTimeout is returned by TimedRWMutex when a lock can't be
// acquired within LockTimeout. It is always surfaced to the caller, not
// silently retried.
var ErrLockTimeout = errors.New("syncutil: lock acquisition timed out")

// TimedRWMutex wraps a sync.RWMutex with a bounded-wait acquisition,
// since the shared entities (server state, clients, channels, crypt
// state) cross goroutines and a stuck lock must fail loudly rather than
// wedge a run loop forever.
type TimedRWMutex struct {
	mu sync.RWMutex
}

// Lock acquires the write lock, or returns ErrLockTimeout.
func (t *TimedRWMutex) Lock() error {
	return acquire(t.mu.TryLock)
}

// Unlock releases the write lock.
func (t *TimedRWMutex) Unlock() { t.mu.Unlock() }

// RLock acquires the read lock, or returns ErrLockTimeout.
func (t *TimedRWMutex) RLock() error {
	return acquire(t.mu.TryRLock)
}

// RUnlock releases the read lock.
func (t *TimedRWMutex) RUnlock() { t.mu.RUnlock() }

// acquire polls try at a short backoff until it succeeds or LockTimeout
// elapses.
func acquire(try func() bool) error {
	deadline := time.Now().Add(LockTimeout)
	backoff := time.Millisecond
	for {
		if try() {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		time.Sleep(backoff)
		if backoff < 10*time.Millisecond {
			backoff *= 2
		}
	}
}
