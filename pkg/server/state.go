// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

package server

import (
	"log"
	"net"
	"sync"

	"github.com/sozsub/zumble/pkg/blobstore"
	"github.com/sozsub/zumble/pkg/metrics"
	"github.com/sozsub/zumble/pkg/mumbleproto"
	"github.com/sozsub/zumble/pkg/syncutil"
)

// CodecState tracks the server-wide preferred codec versions, derived
// from a majority vote across connected clients each time one completes
// the handshake; leaving clients do not trigger a new vote.
type CodecState struct {
	Alpha       int32
	Beta        int32
	PreferAlpha bool
	Opus        bool
}

// Version returns the CodecVersion message for the current state.
func (c CodecState) Version() *mumbleproto.CodecVersion {
	return &mumbleproto.CodecVersion{
		Alpha:       c.Alpha,
		Beta:        c.Beta,
		PreferAlpha: c.PreferAlpha,
		Opus:        c.Opus,
	}
}

// State is the server's shared, in-memory world: connected clients, the
// channel tree, and the codec vote. Every field here is behind the
// ServerState's own lock for structural changes (insert/remove from the
// three maps, or codec-state updates); per-entity mutation goes through
// the entity's own TimedRWMutex.
type State struct {
	mu syncutil.TimedRWMutex

	Clients         map[uint32]*Client
	ClientsBySocket map[string]*Client
	Channels        map[uint32]*Channel
	Codec           CodecState
	Blobs           *blobstore.Store

	Log *log.Logger

	nextChannel uint32

	udpConnMu sync.RWMutex
	udpConn   *net.UDPConn

	eventMu sync.RWMutex
	onEvent func(Event)
}

// New builds a fresh server state with a single root channel.
func New(logger *log.Logger) *State {
	s := &State{
		Clients:         make(map[uint32]*Client),
		ClientsBySocket: make(map[string]*Client),
		Channels:        make(map[uint32]*Channel),
		Codec:           CodecState{Opus: true},
		Blobs:           blobstore.New(),
		Log:             logger,
		nextChannel:     1,
	}
	s.Channels[RootChannelID] = newChannel(RootChannelID, RootChannelID, "Root", false)
	return s
}

// AddClient assigns c a free session id and inserts it into Clients.
func (s *State) AddClient(c *Client) error {
	if err := s.mu.Lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	c.SessionID = s.freeSessionIDLocked()
	s.Clients[c.SessionID] = c
	metrics.ClientsTotal.Set(float64(len(s.Clients)))
	s.emit(Event{Type: EventJoin, Session: c.SessionID, Username: c.Username})
	return nil
}

// AddChannel assigns ch a free channel id and inserts it into Channels.
func (s *State) AddChannel(ch *Channel) error {
	if err := s.mu.Lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	ch.ID = s.freeChannelIDLocked()
	s.Channels[ch.ID] = ch
	return nil
}

func (s *State) freeSessionIDLocked() uint32 {
	for id := uint32(1); ; id++ {
		if _, ok := s.Clients[id]; !ok {
			return id
		}
	}
}

func (s *State) freeChannelIDLocked() uint32 {
	for {
		id := s.nextChannel
		s.nextChannel++
		if _, ok := s.Channels[id]; !ok {
			return id
		}
	}
}

// GetClient returns the client for session, if any.
func (s *State) GetClient(session uint32) (*Client, bool) {
	if err := s.mu.RLock(); err != nil {
		return nil, false
	}
	defer s.mu.RUnlock()
	c, ok := s.Clients[session]
	return c, ok
}

// GetClientByName finds a connected client by username.
func (s *State) GetClientByName(name string) (*Client, bool) {
	if err := s.mu.RLock(); err != nil {
		return nil, false
	}
	defer s.mu.RUnlock()
	for _, c := range s.Clients {
		if c.Username == name {
			return c, true
		}
	}
	return nil, false
}

// GetChannel returns the channel for id, if any.
func (s *State) GetChannel(id uint32) (*Channel, bool) {
	if err := s.mu.RLock(); err != nil {
		return nil, false
	}
	defer s.mu.RUnlock()
	ch, ok := s.Channels[id]
	return ch, ok
}

// GetChannelByName finds a channel by name.
func (s *State) GetChannelByName(name string) (*Channel, bool) {
	if err := s.mu.RLock(); err != nil {
		return nil, false
	}
	defer s.mu.RUnlock()
	for _, ch := range s.Channels {
		if ch.Name == name {
			return ch, true
		}
	}
	return nil, false
}

// AllClients returns a snapshot slice of every connected client.
func (s *State) AllClients() []*Client {
	if err := s.mu.RLock(); err != nil {
		return nil
	}
	defer s.mu.RUnlock()
	out := make([]*Client, 0, len(s.Clients))
	for _, c := range s.Clients {
		out = append(out, c)
	}
	return out
}

// AllChannels returns a snapshot slice of every channel.
func (s *State) AllChannels() []*Channel {
	if err := s.mu.RLock(); err != nil {
		return nil
	}
	defer s.mu.RUnlock()
	out := make([]*Channel, 0, len(s.Channels))
	for _, ch := range s.Channels {
		out = append(out, ch)
	}
	return out
}

// BroadcastMessage sends msg to every connected client's outbound queue.
func (s *State) BroadcastMessage(msg mumbleproto.Message) {
	for _, c := range s.AllClients() {
		c.Send(msg)
	}
}

// SetClientSocket rebinds c's UDP peer address, removing any previous
// socket mapping first.
func (s *State) SetClientSocket(c *Client, addr *net.UDPAddr) error {
	if err := s.mu.Lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	c.udpMu.Lock()
	if c.UDPPeer != nil {
		delete(s.ClientsBySocket, c.UDPPeer.String())
	}
	c.UDPPeer = addr
	c.udpMu.Unlock()

	if addr != nil {
		s.ClientsBySocket[addr.String()] = c
	}
	return nil
}

// ClearClientSocket unbinds c's UDP peer, if any.
func (s *State) ClearClientSocket(c *Client) error {
	return s.SetClientSocket(c, nil)
}

// GetClientBySocket resolves a UDP peer address to its bound client.
func (s *State) GetClientBySocket(addr *net.UDPAddr) (*Client, bool) {
	if err := s.mu.RLock(); err != nil {
		return nil, false
	}
	defer s.mu.RUnlock()
	c, ok := s.ClientsBySocket[addr.String()]
	return c, ok
}

// CheckLeaveChannel removes channelID if it's temporary, empty of
// members, and has no child channel referencing it as a parent.
func (s *State) CheckLeaveChannel(channelID uint32) {
	ch, ok := s.GetChannel(channelID)
	if !ok || channelID == RootChannelID {
		return
	}

	for _, c := range s.AllClients() {
		if c.ChannelID() == channelID {
			return
		}
	}
	for _, other := range s.AllChannels() {
		if other.ID != channelID && other.ParentID == channelID {
			return
		}
	}

	if !ch.Temporary {
		return
	}

	if err := s.mu.Lock(); err == nil {
		delete(s.Channels, channelID)
		s.mu.Unlock()
	}
	s.BroadcastMessage(&mumbleproto.ChannelRemove{ChannelID: channelID})
}

// SetClientChannel moves c into channelID, broadcasts its updated
// UserState, and evaluates the channel it left for cleanup. Moving a
// client into the channel it already occupies is a no-op.
func (s *State) SetClientChannel(c *Client, channelID uint32) {
	old := c.setChannelID(channelID)
	if old == channelID {
		return
	}

	s.BroadcastMessage(&mumbleproto.UserState{
		Session:   c.SessionID,
		ChannelID: mumbleproto.Uint32Ptr(channelID),
	})

	s.emit(Event{Type: EventMove, Session: c.SessionID, Username: c.Username, ChannelID: channelID})

	s.CheckLeaveChannel(old)
}

// SetClientMute sets c's server-enforced mute flag, announces the change
// to every client, and notifies the admin event stream. Used by the HTTP
// admin surface.
func (s *State) SetClientMute(c *Client, v bool) {
	c.SetMute(v)
	s.BroadcastMessage(&mumbleproto.UserState{
		Session: c.SessionID,
		Mute:    mumbleproto.BoolPtr(v),
	})
	s.emit(Event{Type: EventMute, Session: c.SessionID, Username: c.Username, Mute: c.Mute(), Deaf: c.Deaf()})
}

// SetClientDeaf is SetClientMute's deafen counterpart.
func (s *State) SetClientDeaf(c *Client, v bool) {
	c.SetDeaf(v)
	s.BroadcastMessage(&mumbleproto.UserState{
		Session: c.SessionID,
		Deaf:    mumbleproto.BoolPtr(v),
	})
	s.emit(Event{Type: EventMute, Session: c.SessionID, Username: c.Username, Mute: c.Mute(), Deaf: c.Deaf()})
}

// Disconnect removes c from every piece of shared state and broadcasts
// its departure.
func (s *State) Disconnect(c *Client, reason string) {
	if err := s.mu.Lock(); err == nil {
		delete(s.Clients, c.SessionID)
		c.udpMu.RLock()
		if c.UDPPeer != nil {
			delete(s.ClientsBySocket, c.UDPPeer.String())
		}
		c.udpMu.RUnlock()
		metrics.ClientsTotal.Set(float64(len(s.Clients)))
		s.mu.Unlock()
	}

	for _, ch := range s.AllChannels() {
		_ = ch.RemoveListener(c.SessionID)
	}
	for _, other := range s.AllClients() {
		other.removeTargetSession(c.SessionID)
	}

	s.BroadcastMessage(&mumbleproto.UserRemove{
		Session: c.SessionID,
		Reason:  reason,
	})
	s.emit(Event{Type: EventLeave, Session: c.SessionID, Username: c.Username})

	s.CheckLeaveChannel(c.ChannelID())
}

// CheckCodec recomputes the majority CELT version across every
// connected client. When the winner differs from the currently
// preferred version, prefer_alpha flips, the winner lands in whichever
// slot just became preferred, and the new CodecVersion is broadcast.
func (s *State) CheckCodec() {
	counts := make(map[int32]int)
	for _, c := range s.AllClients() {
		for _, v := range c.Codecs() {
			counts[v]++
		}
	}

	if err := s.mu.Lock(); err != nil {
		return
	}
	current := s.Codec.Beta
	if s.Codec.PreferAlpha {
		current = s.Codec.Alpha
	}

	best, max := current, 0
	for v, n := range counts {
		if n > max {
			best, max = v, n
		}
	}
	if best == current {
		s.mu.Unlock()
		return
	}

	s.Codec.PreferAlpha = !s.Codec.PreferAlpha
	if s.Codec.PreferAlpha {
		s.Codec.Alpha = best
	} else {
		s.Codec.Beta = best
	}
	version := s.Codec.Version()
	s.mu.Unlock()

	s.BroadcastMessage(version)
}
