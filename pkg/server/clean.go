// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

package server

import (
	"context"
	"time"
)

// cleanInterval is how often the cleanup loop sweeps for timed-out
// clients.
const cleanInterval = 5 * time.Second

// pingTimeout is how long a client may go without a Ping before it's
// disconnected.
const pingTimeout = 60 * time.Second

// RunCleanupLoop periodically disconnects clients that haven't sent a
// Ping recently, until ctx is cancelled. Disconnection itself happens on
// the client's own run loop (via RequestDisconnect), which removes it
// from shared state and broadcasts UserRemove.
func (s *State) RunCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepIdleClients()
		}
	}
}

func (s *State) sweepIdleClients() {
	now := time.Now()
	for _, c := range s.AllClients() {
		if now.Sub(c.LastPing()) > pingTimeout {
			c.RequestDisconnect()
		}
	}
}
