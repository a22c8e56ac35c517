// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

package server

import (
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/sozsub/zumble/pkg/cryptstate"
	"github.com/sozsub/zumble/pkg/mumbleproto"
	"github.com/sozsub/zumble/pkg/voice"
)

// outboundCapacity bounds each client's outbound queue; a slow client
// drops messages rather than stalling the server.
const outboundCapacity = 128

// ClientMessageKind distinguishes the payload carried on a client's
// outbound queue.
type ClientMessageKind int

const (
	KindRouteVoice ClientMessageKind = iota
	KindSendVoice
	KindSendControl
	KindDisconnect
)

// ClientMessage is the unit of work a Client's run loop consumes from
// its outbound queue.
type ClientMessage struct {
	Kind    ClientMessageKind
	Voice   *voice.Packet
	Control mumbleproto.Message
}

// Client is one connected Mumble session: its TCP control channel, its
// voice plane state, and everything the protocol lets other clients see
// about it.
type Client struct {
	*log.Logger

	server *State
	conn   net.Conn

	SessionID uint32
	Version   mumbleproto.Version
	Username  string
	Tokens    []string

	Crypt *cryptstate.State

	fieldsMu   sync.RWMutex
	channelID  uint32
	mute       bool
	deaf       bool
	selfMute   bool
	selfDeaf   bool
	codecs     []int32
	useOpus    bool
	lastPing   time.Time
	lastResync time.Time

	targetsMu sync.RWMutex
	targets   [NumVoiceTargets]VoiceTarget

	udpMu   sync.RWMutex
	UDPPeer *net.UDPAddr

	Outbound chan ClientMessage

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient wraps conn in a Client bound to server, ready for the TLS
// handshake. The session id is assigned later by State.AddClient.
func NewClient(server *State, conn net.Conn) *Client {
	c := &Client{
		server:   server,
		conn:     conn,
		targets:  newVoiceTargets(),
		Outbound: make(chan ClientMessage, outboundCapacity),
		done:     make(chan struct{}),
		lastPing: time.Now(),
	}
	prefix := fmt.Sprintf("[%s] ", conn.RemoteAddr())
	c.Logger = log.New(os.Stderr, prefix, log.LstdFlags)
	return c
}

// ChannelID returns the channel the client currently occupies.
func (c *Client) ChannelID() uint32 {
	c.fieldsMu.RLock()
	defer c.fieldsMu.RUnlock()
	return c.channelID
}

// setChannelID swaps in a new channel and returns the previous one.
func (c *Client) setChannelID(id uint32) uint32 {
	c.fieldsMu.Lock()
	defer c.fieldsMu.Unlock()
	old := c.channelID
	c.channelID = id
	return old
}

// Mute reports whether the client is server- or self-muted.
func (c *Client) Mute() bool {
	c.fieldsMu.RLock()
	defer c.fieldsMu.RUnlock()
	return c.mute || c.selfMute
}

// Deaf reports whether the client is server- or self-deafened.
func (c *Client) Deaf() bool {
	c.fieldsMu.RLock()
	defer c.fieldsMu.RUnlock()
	return c.deaf || c.selfDeaf
}

// SetMute sets the server-enforced mute flag, independent of the
// client's own self-mute toggle.
func (c *Client) SetMute(v bool) {
	c.fieldsMu.Lock()
	c.mute = v
	c.fieldsMu.Unlock()
}

// SetDeaf sets the server-enforced deaf flag, independent of the
// client's own self-deaf toggle.
func (c *Client) SetDeaf(v bool) {
	c.fieldsMu.Lock()
	c.deaf = v
	c.fieldsMu.Unlock()
}

// ApplyUserState updates the mute/deaf/self-mute/self-deaf flags present
// in us, leaving absent fields untouched.
func (c *Client) ApplyUserState(us *mumbleproto.UserState) {
	c.fieldsMu.Lock()
	defer c.fieldsMu.Unlock()
	if us.Mute != nil {
		c.mute = *us.Mute
	}
	if us.Deaf != nil {
		c.deaf = *us.Deaf
	}
	if us.SelfMute != nil {
		c.selfMute = *us.SelfMute
	}
	if us.SelfDeaf != nil {
		c.selfDeaf = *us.SelfDeaf
	}
}

// Codecs returns the client's advertised CELT codec versions.
func (c *Client) Codecs() []int32 {
	c.fieldsMu.RLock()
	defer c.fieldsMu.RUnlock()
	return append([]int32(nil), c.codecs...)
}

// UseOpus reports whether the client advertised Opus support.
func (c *Client) UseOpus() bool {
	c.fieldsMu.RLock()
	defer c.fieldsMu.RUnlock()
	return c.useOpus
}

// SetAuthenticate records the handshake's codec preferences.
func (c *Client) SetAuthenticate(a *mumbleproto.Authenticate) {
	c.fieldsMu.Lock()
	c.codecs = a.CeltVersions
	c.useOpus = a.Opus
	c.fieldsMu.Unlock()
	c.Username = a.Username
	c.Tokens = a.Tokens
}

// SetTokens replaces the client's token list (Authenticate re-sends).
func (c *Client) SetTokens(tokens []string) {
	c.Tokens = tokens
}

// Touch records that a Ping was just received from the client.
func (c *Client) Touch() {
	c.fieldsMu.Lock()
	c.lastPing = time.Now()
	c.fieldsMu.Unlock()
}

// LastPing returns the time of the most recent inbound Ping.
func (c *Client) LastPing() time.Time {
	c.fieldsMu.RLock()
	defer c.fieldsMu.RUnlock()
	return c.lastPing
}

// Target returns the voice-target slot at index id-1 (wire ids 1-30).
func (c *Client) Target(id uint32) (VoiceTarget, bool) {
	if id < 1 || id > NumVoiceTargets {
		return VoiceTarget{}, false
	}
	c.targetsMu.RLock()
	defer c.targetsMu.RUnlock()
	return c.targets[id-1], true
}

// SetTarget replaces the voice-target slot at index id-1.
func (c *Client) SetTarget(id uint32, sessions, channels map[uint32]struct{}) bool {
	if id < 1 || id > NumVoiceTargets {
		return false
	}
	c.targetsMu.Lock()
	defer c.targetsMu.Unlock()
	c.targets[id-1].Replace(sessions, channels)
	return true
}

// removeTargetSession drops session from every one of the client's
// voice-target slots, used when that session disconnects.
func (c *Client) removeTargetSession(session uint32) {
	c.targetsMu.Lock()
	defer c.targetsMu.Unlock()
	for i := range c.targets {
		delete(c.targets[i].Sessions, session)
	}
}

// cryptResyncInterval bounds how often a single client's crypt channel
// may be reset; a flapping link keeps failing to decrypt long after the
// first CryptSetup went out, and re-resyncing on every bad datagram
// would discard the exchange that is still in flight.
const cryptResyncInterval = 5 * time.Second

// maybeCryptResync resets the client's crypt channel (the key is kept)
// and re-sends CryptSetup, rate-limited to one resync per interval.
// Reports whether a resync was actually performed.
func (c *Client) maybeCryptResync() bool {
	c.fieldsMu.Lock()
	if time.Since(c.lastResync) < cryptResyncInterval {
		c.fieldsMu.Unlock()
		return false
	}
	c.lastResync = time.Now()
	c.fieldsMu.Unlock()

	if err := c.Crypt.Reset(); err != nil {
		c.Printf("crypt reset: %v", err)
		return false
	}
	encNonce, err := c.Crypt.EncryptNonce()
	if err != nil {
		c.Printf("crypt reset: %v", err)
		return false
	}
	decNonce, err := c.Crypt.DecryptNonce()
	if err != nil {
		c.Printf("crypt reset: %v", err)
		return false
	}
	c.Send(&mumbleproto.CryptSetup{
		Key:         c.Crypt.Key[:],
		ClientNonce: decNonce[:],
		ServerNonce: encNonce[:],
	})
	return true
}

// Send enqueues a control message for the client's run loop, dropping
// it if the queue is full rather than blocking the caller.
func (c *Client) Send(msg mumbleproto.Message) {
	select {
	case c.Outbound <- ClientMessage{Kind: KindSendControl, Control: msg}:
	default:
		c.Printf("outbound queue full, dropping %s", msg.Kind())
	}
}

// SendVoice enqueues a pre-built client-bound voice packet to be
// delivered to this client (over UDP if bound, else tunneled over TCP).
func (c *Client) SendVoice(pkt *voice.Packet) {
	select {
	case c.Outbound <- ClientMessage{Kind: KindSendVoice, Voice: pkt}:
	default:
	}
}

// RouteVoice hands a freshly-decrypted server-bound packet to this
// client's run loop, so routing happens in the sender's context instead
// of on the UDP receive loop.
func (c *Client) RouteVoice(pkt *voice.Packet) {
	select {
	case c.Outbound <- ClientMessage{Kind: KindRouteVoice, Voice: pkt}:
	default:
	}
}

// RequestDisconnect asks the client's run loop to tear itself down.
func (c *Client) RequestDisconnect() {
	select {
	case c.Outbound <- ClientMessage{Kind: KindDisconnect}:
	default:
	}
}

// ForceDisconnect closes the client's done channel directly, stopping the
// run loop without going through the outbound queue (used when a control
// write fails).
func (c *Client) ForceDisconnect() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Done returns a channel closed once the client should stop running.
func (c *Client) Done() <-chan struct{} { return c.done }
