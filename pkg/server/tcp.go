// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

package server

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/sozsub/zumble/pkg/cryptstate"
	"github.com/sozsub/zumble/pkg/metrics"
	"github.com/sozsub/zumble/pkg/mumbleproto"
	"github.com/sozsub/zumble/pkg/voice"
)

// ProtocolVersion is advertised in the server's Version handshake reply.
const ProtocolVersion = 1<<16 | 2<<8 | 4

// ServeTLS accepts connections on ln until it returns an error (e.g. the
// listener was closed), running the handshake and then the per-client
// loop for each one in its own goroutine.
func (s *State) ServeTLS(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *State) handleConn(conn net.Conn) {
	c := NewClient(s, conn)

	if err := s.handshake(c); err != nil {
		c.Printf("handshake failed: %v", err)
		conn.Close()
		return
	}

	c.Run()
}

func readMessage(r io.Reader, wantKind mumbleproto.Kind, m mumbleproto.Message) error {
	kind, length, err := mumbleproto.ReadHeader(r)
	if err != nil {
		return err
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	if kind != wantKind {
		return newMumbleError(ErrUnexpectedMessageKind, fmt.Errorf("got %s, want %s", kind, wantKind))
	}
	return m.Unmarshal(body)
}

func (s *State) handshake(c *Client) error {
	var clientVersion mumbleproto.Version
	if err := readMessage(c.conn, mumbleproto.KindVersion, &clientVersion); err != nil {
		return err
	}
	c.Version = clientVersion

	if _, err := mumbleproto.WriteMessage(c.conn, &mumbleproto.Version{Proto: ProtocolVersion}); err != nil {
		return err
	}

	var auth mumbleproto.Authenticate
	if err := readMessage(c.conn, mumbleproto.KindAuthenticate, &auth); err != nil {
		return err
	}
	if auth.Username == "" {
		_, _ = mumbleproto.WriteMessage(c.conn, &mumbleproto.Reject{
			Type:   mumbleproto.RejectInvalidUsername,
			Reason: "username required",
		})
		return fmt.Errorf("authenticate rejected: empty username")
	}
	c.SetAuthenticate(&auth)

	crypt, err := cryptstate.New()
	if err != nil {
		return err
	}
	c.Crypt = crypt

	if err := s.AddClient(c); err != nil {
		return err
	}

	encNonce, err := crypt.EncryptNonce()
	if err != nil {
		return err
	}
	decNonce, err := crypt.DecryptNonce()
	if err != nil {
		return err
	}
	c.Send(&mumbleproto.CryptSetup{
		Key:         crypt.Key[:],
		ClientNonce: decNonce[:],
		ServerNonce: encNonce[:],
	})

	s.CheckCodec()
	s.syncClient(c)

	s.BroadcastMessage(&mumbleproto.UserState{
		Session:   c.SessionID,
		Name:      c.Username,
		ChannelID: mumbleproto.Uint32Ptr(c.ChannelID()),
	})

	return nil
}

func (s *State) syncClient(c *Client) {
	for _, ch := range s.AllChannels() {
		if cs, err := ch.State(); err == nil {
			c.Send(cs)
		}
	}
	for _, other := range s.AllClients() {
		if other.SessionID == c.SessionID {
			continue
		}
		c.Send(&mumbleproto.UserState{
			Session:   other.SessionID,
			Name:      other.Username,
			ChannelID: mumbleproto.Uint32Ptr(other.ChannelID()),
		})
	}
	c.Send(&mumbleproto.UserState{
		Session:   c.SessionID,
		Name:      c.Username,
		ChannelID: mumbleproto.Uint32Ptr(c.ChannelID()),
	})

	c.Send(&mumbleproto.ServerSync{
		Session:      c.SessionID,
		MaxBandwidth: 144000,
		WelcomeText:  "Welcome",
	})
	c.Send(&mumbleproto.ServerConfig{
		AllowHTML:          true,
		MessageLength:      512,
		ImageMessageLength: 0,
	})
}

type incomingMessage struct {
	kind mumbleproto.Kind
	body []byte
}

// Run is the client's event loop: it reads control/voice messages off
// the TLS connection on a background goroutine and multiplexes them
// against the outbound queue and a force-disconnect signal in a single
// select.
func (c *Client) Run() {
	incoming := make(chan incomingMessage, 8)
	readErr := make(chan error, 1)
	go c.readLoop(incoming, readErr)

	for {
		select {
		case <-c.Done():
			c.teardown()
			return

		case err := <-readErr:
			if err != nil && !errors.Is(err, io.EOF) {
				c.Printf("read error: %v", err)
			}
			c.teardown()
			return

		case msg := <-incoming:
			c.handleIncoming(msg)

		case out := <-c.Outbound:
			if out.Kind == KindDisconnect {
				c.teardown()
				return
			}
			c.handleOutbound(out)
		}
	}
}

func (c *Client) readLoop(out chan<- incomingMessage, errc chan<- error) {
	for {
		kind, length, err := mumbleproto.ReadHeader(c.conn)
		if err != nil {
			errc <- err
			return
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(c.conn, body); err != nil {
			errc <- err
			return
		}
		metrics.Bump("tcp", "input", kind.String(), len(body)+6)
		out <- incomingMessage{kind: kind, body: body}
	}
}

func (c *Client) handleIncoming(msg incomingMessage) {
	if msg.kind == mumbleproto.KindUDPTunnel {
		pkt, err := voice.Decode(msg.body, false)
		if err != nil {
			c.Printf("decode tunneled voice packet: %v", err)
			return
		}
		if pkt.IsPing {
			return
		}
		c.server.RouteVoicePacket(c, pkt)
		return
	}

	if err := HandleMessage(c.server, c, msg.kind, msg.body); err != nil {
		c.Printf("handle %s: %v", msg.kind, err)
	}
}

func (c *Client) handleOutbound(out ClientMessage) {
	switch out.Kind {
	case KindSendControl:
		n, err := mumbleproto.WriteMessage(c.conn, out.Control)
		if err != nil {
			c.Printf("write %s: %v", out.Control.Kind(), err)
			c.ForceDisconnect()
			return
		}
		metrics.Bump("tcp", "output", out.Control.Kind().String(), n)

	case KindRouteVoice:
		c.server.RouteVoicePacket(c, out.Voice)

	case KindSendVoice:
		c.deliverVoice(out.Voice)
	}
}

// deliverVoice sends pkt to this client over UDP if its peer is bound,
// or tunneled over the TCP control channel otherwise.
func (c *Client) deliverVoice(pkt *voice.Packet) {
	buf := voice.Encode(pkt, true)

	c.udpMu.RLock()
	peer := c.UDPPeer
	c.udpMu.RUnlock()

	if peer != nil {
		if udpConn, ok := c.server.udpSocket(); ok {
			enc, err := c.Crypt.Encrypt(buf)
			if err != nil {
				c.Printf("encrypt voice packet: %v", err)
				return
			}
			if _, err := udpConn.WriteToUDP(enc, peer); err != nil {
				c.Printf("udp write: %v", err)
			} else {
				metrics.Bump("udp", "output", "VoicePacket", len(enc))
			}
			return
		}
	}

	var hdr [6]byte
	hdr[0] = byte(mumbleproto.KindUDPTunnel >> 8)
	hdr[1] = byte(mumbleproto.KindUDPTunnel)
	hdr[2] = byte(len(buf) >> 24)
	hdr[3] = byte(len(buf) >> 16)
	hdr[4] = byte(len(buf) >> 8)
	hdr[5] = byte(len(buf))
	if _, err := c.conn.Write(hdr[:]); err != nil {
		c.Printf("tunnel write: %v", err)
		return
	}
	if _, err := c.conn.Write(buf); err != nil {
		c.Printf("tunnel write: %v", err)
		return
	}
	metrics.Bump("tcp", "output", "UDPTunnel", len(buf)+6)
}

func (c *Client) teardown() {
	c.server.Disconnect(c, "disconnected")
	c.conn.Close()
}
