package server

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sozsub/zumble/pkg/mumbleproto"
	"github.com/sozsub/zumble/pkg/voice"
)

func TestRouteChannelTalkReachesChannelPeersOnly(t *testing.T) {
	s := newTestServer()
	a := newTestClient(t, s, "a")
	b := newTestClient(t, s, "b")
	c := newTestClient(t, s, "c")

	// All three start in Root (channel 0) by default.
	_ = c

	pkt := &voice.Packet{Target: voice.TargetChannel, Codec: voice.CodecOpus, SeqNum: 1, Frames: [][]byte{{1}}}
	s.RouteVoicePacket(a, pkt)

	require.Len(t, b.Outbound, 1)
	require.Len(t, c.Outbound, 1)
	require.Len(t, a.Outbound, 0, "sender does not receive its own channel talk")
}

func TestRouteWhisperTargetOnlyReachesTargetedSessions(t *testing.T) {
	s := newTestServer()
	a := newTestClient(t, s, "a")
	b := newTestClient(t, s, "b")
	c := newTestClient(t, s, "c")

	a.SetTarget(1, map[uint32]struct{}{b.SessionID: {}}, nil)

	pkt := &voice.Packet{Target: 1, Codec: voice.CodecOpus, SeqNum: 1, Frames: [][]byte{{1}}}
	s.RouteVoicePacket(a, pkt)

	require.Len(t, b.Outbound, 1)
	require.Len(t, c.Outbound, 0)
}

func TestRouteLoopbackOnlyReachesSender(t *testing.T) {
	s := newTestServer()
	a := newTestClient(t, s, "a")
	b := newTestClient(t, s, "b")

	pkt := &voice.Packet{Target: voice.TargetLoopback, Codec: voice.CodecOpus, SeqNum: 1, Frames: [][]byte{{1}}}
	s.RouteVoicePacket(a, pkt)

	require.Len(t, a.Outbound, 1)
	require.Len(t, b.Outbound, 0)
}

func TestRouteSkipsDeafRecipients(t *testing.T) {
	s := newTestServer()
	a := newTestClient(t, s, "a")
	b := newTestClient(t, s, "b")
	deaf := true
	b.ApplyUserState(&mumbleproto.UserState{Session: b.SessionID, Deaf: &deaf})

	pkt := &voice.Packet{Target: voice.TargetChannel, Codec: voice.CodecOpus, SeqNum: 1, Frames: [][]byte{{1}}}
	s.RouteVoicePacket(a, pkt)

	require.Len(t, b.Outbound, 0)
}

func TestRouteDropsMutedSenderExceptLoopback(t *testing.T) {
	s := newTestServer()
	a := newTestClient(t, s, "a")
	b := newTestClient(t, s, "b")
	a.SetMute(true)

	pkt := &voice.Packet{Target: voice.TargetChannel, Codec: voice.CodecOpus, SeqNum: 1, Frames: [][]byte{{1}}}
	s.RouteVoicePacket(a, pkt)
	require.Len(t, b.Outbound, 0, "a muted sender's channel talk is dropped")

	loop := &voice.Packet{Target: voice.TargetLoopback, Codec: voice.CodecOpus, SeqNum: 2, Frames: [][]byte{{1}}}
	s.RouteVoicePacket(a, loop)
	require.Len(t, a.Outbound, 1, "loopback bypasses the sender's mute")
}

func TestRouteStampsSenderSessionID(t *testing.T) {
	s := newTestServer()
	a := newTestClient(t, s, "a")
	b := newTestClient(t, s, "b")

	pkt := &voice.Packet{Target: voice.TargetChannel, Codec: voice.CodecOpus, SeqNum: 7, Frames: [][]byte{{1, 2}}}
	s.RouteVoicePacket(a, pkt)

	msg := <-b.Outbound
	require.Equal(t, KindSendVoice, msg.Kind)
	require.Equal(t, a.SessionID, msg.Voice.SessionID)
}

func TestRouteChannelTalkIncludesExplicitListeners(t *testing.T) {
	s := newTestServer()
	a := newTestClient(t, s, "a")
	listener := newTestClient(t, s, "listener")
	s.SetClientChannel(listener, mustNewChannel(t, s, "Elsewhere").ID)

	root, _ := s.GetChannel(RootChannelID)
	require.NoError(t, root.AddListener(listener.SessionID))

	// drain the UserState broadcast from the listener's own move
	for len(listener.Outbound) > 0 {
		<-listener.Outbound
	}

	pkt := &voice.Packet{Target: voice.TargetChannel, Codec: voice.CodecOpus, SeqNum: 1, Frames: [][]byte{{1}}}
	s.RouteVoicePacket(a, pkt)

	require.Len(t, listener.Outbound, 1)
}

func mustNewChannel(t *testing.T, s *State, name string) *Channel {
	t.Helper()
	ch := newChannel(0, RootChannelID, name, true)
	require.NoError(t, s.AddChannel(ch))
	return ch
}
