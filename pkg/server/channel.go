// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

package server

import (
	"github.com/sozsub/zumble/pkg/mumbleproto"
	"github.com/sozsub/zumble/pkg/syncutil"
)

// RootChannelID is the id of the channel every server starts with.
const RootChannelID = 0

// Channel is a node in the channel tree. Listeners holds sessions that
// asked to hear this channel's talk without joining it (UserState's
// listening_channel_add/remove); ordinary membership is tracked on the
// Client side via ChannelID, not here.
type Channel struct {
	mu syncutil.TimedRWMutex

	ID              uint32
	ParentID        uint32
	Name            string
	Description     string
	DescriptionHash []byte
	Temporary       bool

	Listeners map[uint32]struct{}
}

func newChannel(id, parent uint32, name string, temporary bool) *Channel {
	return &Channel{
		ID:        id,
		ParentID:  parent,
		Name:      name,
		Temporary: temporary,
		Listeners: make(map[uint32]struct{}),
	}
}

// State snapshots the channel into its wire representation.
func (c *Channel) State() (*mumbleproto.ChannelState, error) {
	if err := c.mu.RLock(); err != nil {
		return nil, err
	}
	defer c.mu.RUnlock()

	cs := &mumbleproto.ChannelState{
		ChannelID: c.ID,
		Name:      c.Name,
		Temporary: c.Temporary,
	}
	if c.ID != RootChannelID {
		p := c.ParentID
		cs.Parent = &p
	}
	if len(c.DescriptionHash) > 0 {
		cs.DescriptionHash = c.DescriptionHash
	} else {
		cs.Description = c.Description
	}
	return cs, nil
}

// AddListener records session as explicitly listening to this channel.
func (c *Channel) AddListener(session uint32) error {
	if err := c.mu.Lock(); err != nil {
		return err
	}
	defer c.mu.Unlock()
	c.Listeners[session] = struct{}{}
	return nil
}

// RemoveListener drops session from this channel's listener set.
func (c *Channel) RemoveListener(session uint32) error {
	if err := c.mu.Lock(); err != nil {
		return err
	}
	defer c.mu.Unlock()
	delete(c.Listeners, session)
	return nil
}

// HasListener reports whether session is an explicit listener.
func (c *Channel) HasListener(session uint32) bool {
	if err := c.mu.RLock(); err != nil {
		return false
	}
	defer c.mu.RUnlock()
	_, ok := c.Listeners[session]
	return ok
}
