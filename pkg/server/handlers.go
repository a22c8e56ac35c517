// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

package server

import (
	"fmt"

	"github.com/sozsub/zumble/pkg/mumbleproto"
)

// Permission bits, matching Mumble's ACL permission mask layout.
const (
	permTraverse       = 0x2
	permEnter          = 0x4
	permSpeak          = 0x8
	permMuteDeafen     = 0x10
	permMove           = 0x20
	permWhisper        = 0x100
	permTextMessage    = 0x200
	permMakeTempChan   = 0x400
	permListen         = 0x800
	permKick           = 0x10000
	permBan            = 0x20000

	// AdminMask is returned for every PermissionQuery: this server
	// doesn't evaluate ACLs, so every connected client is handed the
	// full admin mask.
	AdminMask = permTraverse | permEnter | permSpeak | permMuteDeafen | permMove |
		permWhisper | permTextMessage | permMakeTempChan | permListen | permKick | permBan
)

// shortDescriptionLimit is the longest channel description sent inline;
// anything longer is content-addressed through the blob store.
const shortDescriptionLimit = 128

// HandleMessage dispatches a decoded control message body to the
// handler for its kind. UDPTunnel is not dispatched here: it is unwrapped
// into a voice.Packet by the caller. Version is accepted as a no-op,
// since it is only meaningful during the handshake.
func HandleMessage(s *State, c *Client, kind mumbleproto.Kind, body []byte) error {
	switch kind {
	case mumbleproto.KindVersion:
		return nil
	case mumbleproto.KindAuthenticate:
		return handleAuthenticate(s, c, body)
	case mumbleproto.KindPing:
		return handlePing(s, c, body)
	case mumbleproto.KindCryptSetup:
		return handleCryptSetup(s, c, body)
	case mumbleproto.KindPermissionQuery:
		return handlePermissionQuery(s, c, body)
	case mumbleproto.KindUserState:
		return handleUserState(s, c, body)
	case mumbleproto.KindVoiceTarget:
		return handleVoiceTarget(s, c, body)
	case mumbleproto.KindChannelState:
		return handleChannelState(s, c, body)
	default:
		return newMumbleError(ErrUnexpectedMessageKind, fmt.Errorf("unsupported kind %s", kind))
	}
}

func handleAuthenticate(s *State, c *Client, body []byte) error {
	var a mumbleproto.Authenticate
	if err := a.Unmarshal(body); err != nil {
		return err
	}
	c.SetTokens(a.Tokens)
	return nil
}

func handlePing(s *State, c *Client, body []byte) error {
	var p mumbleproto.Ping
	if err := p.Unmarshal(body); err != nil {
		return err
	}
	c.Touch()
	stats, err := c.Crypt.Stats()
	if err != nil {
		return err
	}
	c.Send(&mumbleproto.Ping{
		Timestamp: p.Timestamp,
		Good:      stats.Good,
		Late:      stats.Late,
		Lost:      stats.Lost,
		Resync:    stats.Resync,
	})
	return nil
}

func handleCryptSetup(s *State, c *Client, body []byte) error {
	var cs mumbleproto.CryptSetup
	if err := cs.Unmarshal(body); err != nil {
		return err
	}
	if len(cs.ClientNonce) == 16 {
		var nonce [16]byte
		copy(nonce[:], cs.ClientNonce)
		return c.Crypt.SetDecryptNonce(nonce)
	}
	encryptNonce, err := c.Crypt.EncryptNonce()
	if err != nil {
		return err
	}
	decryptNonce, err := c.Crypt.DecryptNonce()
	if err != nil {
		return err
	}
	c.Send(&mumbleproto.CryptSetup{
		ClientNonce: decryptNonce[:],
		ServerNonce: encryptNonce[:],
	})
	return nil
}

func handlePermissionQuery(s *State, c *Client, body []byte) error {
	var pq mumbleproto.PermissionQuery
	if err := pq.Unmarshal(body); err != nil {
		return err
	}
	c.Send(&mumbleproto.PermissionQuery{
		ChannelID:   pq.ChannelID,
		Permissions: AdminMask,
	})
	return nil
}

func handleUserState(s *State, c *Client, body []byte) error {
	var us mumbleproto.UserState
	if err := us.Unmarshal(body); err != nil {
		return err
	}
	if us.Session != c.SessionID {
		return nil
	}

	c.ApplyUserState(&us)

	if us.ChannelID != nil {
		if _, ok := s.GetChannel(*us.ChannelID); ok {
			s.SetClientChannel(c, *us.ChannelID)
		}
	} else {
		s.BroadcastMessage(&mumbleproto.UserState{
			Session:  c.SessionID,
			Mute:     us.Mute,
			Deaf:     us.Deaf,
			SelfMute: us.SelfMute,
			SelfDeaf: us.SelfDeaf,
		})
		if us.Mute != nil || us.Deaf != nil {
			s.emit(Event{Type: EventMute, Session: c.SessionID, Username: c.Username, Mute: c.Mute(), Deaf: c.Deaf()})
		}
	}

	for _, chID := range us.ListeningChannelAdd {
		if ch, ok := s.GetChannel(chID); ok {
			_ = ch.AddListener(c.SessionID)
		}
	}
	for _, chID := range us.ListeningChannelRemove {
		if ch, ok := s.GetChannel(chID); ok {
			_ = ch.RemoveListener(c.SessionID)
		}
	}

	return nil
}

func handleVoiceTarget(s *State, c *Client, body []byte) error {
	var vt mumbleproto.VoiceTarget
	if err := vt.Unmarshal(body); err != nil {
		return err
	}
	if vt.ID < 1 || vt.ID > NumVoiceTargets {
		return nil
	}

	sessions := make(map[uint32]struct{})
	channels := make(map[uint32]struct{})
	for _, entry := range vt.Targets {
		for _, sess := range entry.Sessions {
			sessions[sess] = struct{}{}
		}
		if entry.ChannelID != nil {
			channels[*entry.ChannelID] = struct{}{}
		}
	}

	c.SetTarget(vt.ID, sessions, channels)
	return nil
}

func handleChannelState(s *State, c *Client, body []byte) error {
	var req mumbleproto.ChannelState
	if err := req.Unmarshal(body); err != nil {
		return err
	}
	if req.Parent == nil || req.Name == "" || !req.Temporary {
		return nil
	}
	if _, ok := s.GetChannel(*req.Parent); !ok {
		return nil
	}

	if existing, ok := s.GetChannelByName(req.Name); ok {
		cs, err := existing.State()
		if err == nil {
			c.Send(cs)
		}
		return nil
	}

	ch := newChannel(0, *req.Parent, req.Name, true)
	if req.Description != "" {
		ch.Description = req.Description
		// Long descriptions go out as a content hash instead of the
		// full text.
		if len(req.Description) > shortDescriptionLimit {
			ch.DescriptionHash = s.Blobs.Put([]byte(req.Description))
		}
	}
	if err := s.AddChannel(ch); err != nil {
		return err
	}

	cs, err := ch.State()
	if err != nil {
		return err
	}
	s.BroadcastMessage(cs)
	s.SetClientChannel(c, ch.ID)
	return nil
}
