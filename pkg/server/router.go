// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

package server

import "github.com/sozsub/zumble/pkg/voice"

// RouteVoicePacket fans a decoded, client-bound voice packet out to its
// recipients per the wire target: 0 talks to the sender's channel, 1-30
// whisper to the sender's voice-target slot, 31 loops back to the
// sender alone. A muted sender's audio is dropped, except for loopback,
// which lets a muted client hear its own echo.
func (s *State) RouteVoicePacket(from *Client, pkt *voice.Packet) {
	if pkt.Target == voice.TargetLoopback {
		from.SendVoice(pkt.WithSessionID(from.SessionID))
		return
	}
	if from.Mute() {
		return
	}

	switch {
	case pkt.Target == voice.TargetChannel:
		s.routeToChannel(from, pkt, from.ChannelID())
	case pkt.Target >= 1 && pkt.Target <= NumVoiceTargets:
		s.routeToTarget(from, pkt)
	default:
		from.Printf("invalid voice target: %d", pkt.Target)
	}
}

func (s *State) routeToChannel(from *Client, pkt *voice.Packet, channelID uint32) {
	recipients := make(map[uint32]struct{})
	for _, c := range s.AllClients() {
		if c.ChannelID() == channelID {
			recipients[c.SessionID] = struct{}{}
		}
	}
	if ch, ok := s.GetChannel(channelID); ok {
		for session := range ch.Listeners {
			recipients[session] = struct{}{}
		}
	}
	s.deliver(from, pkt, recipients)
}

func (s *State) routeToTarget(from *Client, pkt *voice.Packet) {
	target, ok := from.Target(uint32(pkt.Target))
	if !ok {
		return
	}

	recipients := make(map[uint32]struct{})
	for session := range target.Sessions {
		recipients[session] = struct{}{}
	}
	for channelID := range target.Channels {
		for _, c := range s.AllClients() {
			if c.ChannelID() == channelID {
				recipients[c.SessionID] = struct{}{}
			}
		}
		if ch, ok := s.GetChannel(channelID); ok {
			for session := range ch.Listeners {
				recipients[session] = struct{}{}
			}
		}
	}

	s.deliver(from, pkt, recipients)
}

func (s *State) deliver(from *Client, pkt *voice.Packet, recipients map[uint32]struct{}) {
	delete(recipients, from.SessionID)

	for session := range recipients {
		c, ok := s.GetClient(session)
		if !ok || c.Deaf() {
			continue
		}
		c.SendVoice(pkt.WithSessionID(from.SessionID))
	}
}
