// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

package server

import (
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sozsub/zumble/pkg/cryptstate"
	"github.com/sozsub/zumble/pkg/metrics"
	"github.com/sozsub/zumble/pkg/syncutil"
	"github.com/sozsub/zumble/pkg/voice"
)

const (
	lateResetThreshold = 100
	deadPeerTTL        = 20 * time.Second
	probeResyncAfter   = 5 * time.Second
	anonymousPingLen   = 12
	maxUsers           = 250
	maxBandwidth       = 72000
)

func (s *State) udpSocket() (*net.UDPConn, bool) {
	s.udpConnMu.RLock()
	defer s.udpConnMu.RUnlock()
	return s.udpConn, s.udpConn != nil
}

// deadPeers remembers addresses that matched no client recently, so
// repeated probing of every client's crypt state doesn't happen for
// every datagram from a spammy unknown source.
type deadPeers struct {
	mu     sync.Mutex
	seenAt map[string]time.Time
}

func newDeadPeers() *deadPeers {
	return &deadPeers{seenAt: make(map[string]time.Time)}
}

func (d *deadPeers) recent(addr string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.seenAt[addr]
	if !ok {
		return false
	}
	if time.Since(t) > deadPeerTTL {
		delete(d.seenAt, addr)
		return false
	}
	return true
}

func (d *deadPeers) mark(addr string) {
	d.mu.Lock()
	d.seenAt[addr] = time.Now()
	d.mu.Unlock()
}

// ServeUDP reads voice datagrams from conn until it errors, dispatching
// anonymous pings, known-client decrypt, and unknown-peer probing.
func (s *State) ServeUDP(conn *net.UDPConn) error {
	s.udpConnMu.Lock()
	s.udpConn = conn
	s.udpConnMu.Unlock()

	dead := newDeadPeers()
	buf := make([]byte, 1024)

	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}
		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		s.handleUDPDatagram(conn, addr, datagram, dead)
	}
}

func (s *State) handleUDPDatagram(conn *net.UDPConn, addr *net.UDPAddr, datagram []byte, dead *deadPeers) {
	if len(datagram) == anonymousPingLen && isZero(datagram[:4]) {
		metrics.Bump("udp", "input", "PingAnonymous", len(datagram))
		s.replyAnonymousPing(conn, addr, datagram)
		return
	}

	if c, ok := s.GetClientBySocket(addr); ok {
		plain, err := c.Crypt.Decrypt(datagram)
		if err == nil {
			s.handleDecryptedVoice(c, addr, plain)
			return
		}
		metrics.Bump("udp", "input", "VoicePacket", len(datagram))
		if errors.Is(err, cryptstate.ErrRepeat) {
			return
		}
		if errors.Is(err, syncutil.ErrLockTimeout) {
			c.Printf("udp decrypt: %v", err)
			return
		}
		if errors.Is(err, cryptstate.ErrLate) {
			if stats, serr := c.Crypt.Stats(); serr == nil && stats.Late <= lateResetThreshold {
				return
			}
		}
		c.Printf("udp decrypt error: %v, resetting crypt setup", err)
		s.resyncClient(c)
		return
	}

	if dead.recent(addr.String()) {
		return
	}

	matched := false
	for _, c := range s.AllClients() {
		if matched {
			if cryptStale(c) {
				s.resyncClient(c)
			}
			continue
		}

		probe := make([]byte, len(datagram))
		copy(probe, datagram)
		plain, err := c.Crypt.Decrypt(probe)
		if err == nil {
			_ = s.SetClientSocket(c, addr)
			c.Printf("UDP connected on %s", addr)
			s.handleDecryptedVoice(c, addr, plain)
			matched = true
			continue
		}
		if cryptStale(c) {
			s.resyncClient(c)
		}
	}

	if !matched {
		metrics.Bump("udp", "input", "VoicePacket", len(datagram))
		dead.mark(addr.String())
	}
}

// cryptStale reports whether the client's crypt channel hasn't decoded
// anything recently enough to trust its nonce state.
func cryptStale(c *Client) bool {
	stats, err := c.Crypt.Stats()
	return err == nil && time.Since(stats.LastGood) > probeResyncAfter
}

// resyncClient resets the client's crypt channel (keeping its key),
// re-sends CryptSetup, and unbinds the UDP peer so the next datagram
// from the client goes back through the probe path. The resync itself
// is rate-limited on the client side.
func (s *State) resyncClient(c *Client) {
	if c.maybeCryptResync() {
		_ = s.ClearClientSocket(c)
	}
}

func (s *State) handleDecryptedVoice(c *Client, addr *net.UDPAddr, plain []byte) {
	pkt, err := voice.Decode(plain, false)
	if err != nil {
		return
	}
	if pkt.IsPing {
		metrics.Bump("udp", "input", "VoicePing", len(plain))
		reply := voice.Encode(pkt, false)
		enc, err := c.Crypt.Encrypt(reply)
		if err != nil {
			c.Printf("encrypt ping reply: %v", err)
			return
		}
		if udpConn, ok := s.udpSocket(); ok {
			if _, err := udpConn.WriteToUDP(enc, addr); err == nil {
				metrics.Bump("udp", "output", "VoicePing", len(enc))
			}
		}
		return
	}

	metrics.Bump("udp", "input", "VoicePacket", len(plain))
	c.RouteVoice(pkt)
}

func (s *State) replyAnonymousPing(conn *net.UDPConn, addr *net.UDPAddr, datagram []byte) {
	ts := binary.LittleEndian.Uint64(datagram[4:12])

	reply := make([]byte, 24)
	binary.BigEndian.PutUint32(reply[0:4], uint32(ProtocolVersion))
	binary.LittleEndian.PutUint64(reply[4:12], ts)
	binary.BigEndian.PutUint32(reply[12:16], 0)
	binary.BigEndian.PutUint32(reply[16:20], maxUsers)
	binary.BigEndian.PutUint32(reply[20:24], maxBandwidth)

	if _, err := conn.WriteToUDP(reply, addr); err == nil {
		metrics.Bump("udp", "output", "PingAnonymous", len(reply))
	}
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
