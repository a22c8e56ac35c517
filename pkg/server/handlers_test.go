package server

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sozsub/zumble/pkg/mumbleproto"
)

func TestHandleUserStateIgnoresForeignSession(t *testing.T) {
	s := newTestServer()
	a := newTestClient(t, s, "a")
	b := newTestClient(t, s, "b")

	mute := true
	body := (&mumbleproto.UserState{Session: b.SessionID, Mute: &mute}).Marshal()
	require.NoError(t, HandleMessage(s, a, mumbleproto.KindUserState, body))

	require.False(t, b.Mute(), "a must not be able to mute b via a UserState naming b's session")
}

func TestHandleUserStateAppliesOwnMuteAndMovesChannel(t *testing.T) {
	s := newTestServer()
	a := newTestClient(t, s, "a")
	ch := newChannel(0, RootChannelID, "Other", true)
	require.NoError(t, s.AddChannel(ch))

	mute := true
	body := (&mumbleproto.UserState{Session: a.SessionID, Mute: &mute, ChannelID: &ch.ID}).Marshal()
	require.NoError(t, HandleMessage(s, a, mumbleproto.KindUserState, body))

	require.True(t, a.Mute())
	require.Equal(t, ch.ID, a.ChannelID())
}

func TestHandleVoiceTargetReplacesSlotWholesale(t *testing.T) {
	s := newTestServer()
	a := newTestClient(t, s, "a")
	b := newTestClient(t, s, "b")
	c := newTestClient(t, s, "c")

	body := (&mumbleproto.VoiceTarget{
		ID: 1,
		Targets: []mumbleproto.VoiceTargetEntry{
			{Sessions: []uint32{b.SessionID}},
		},
	}).Marshal()
	require.NoError(t, HandleMessage(s, a, mumbleproto.KindVoiceTarget, body))

	target, ok := a.Target(1)
	require.True(t, ok)
	_, hasB := target.Sessions[b.SessionID]
	require.True(t, hasB)

	// A second VoiceTarget for the same slot replaces, not merges.
	body2 := (&mumbleproto.VoiceTarget{
		ID: 1,
		Targets: []mumbleproto.VoiceTargetEntry{
			{Sessions: []uint32{c.SessionID}},
		},
	}).Marshal()
	require.NoError(t, HandleMessage(s, a, mumbleproto.KindVoiceTarget, body2))

	target, _ = a.Target(1)
	_, hasB = target.Sessions[b.SessionID]
	_, hasC := target.Sessions[c.SessionID]
	require.False(t, hasB)
	require.True(t, hasC)
}

func TestHandleChannelStateCreatesTemporaryChannel(t *testing.T) {
	s := newTestServer()
	a := newTestClient(t, s, "a")

	root := uint32(RootChannelID)
	body := (&mumbleproto.ChannelState{Parent: &root, Name: "NewRoom", Temporary: true}).Marshal()
	require.NoError(t, HandleMessage(s, a, mumbleproto.KindChannelState, body))

	ch, ok := s.GetChannelByName("NewRoom")
	require.True(t, ok)
	require.Equal(t, ch.ID, a.ChannelID(), "creator is moved into the new channel")
}

func TestHandleChannelStateDuplicateNameReturnsExistingInsteadOfCreating(t *testing.T) {
	s := newTestServer()
	a := newTestClient(t, s, "a")
	root := uint32(RootChannelID)

	existing := newChannel(0, RootChannelID, "Taken", true)
	require.NoError(t, s.AddChannel(existing))

	body := (&mumbleproto.ChannelState{Parent: &root, Name: "Taken", Temporary: true}).Marshal()
	require.NoError(t, HandleMessage(s, a, mumbleproto.KindChannelState, body))

	require.Len(t, s.AllChannels(), 2, "no new channel should have been created")
	require.Len(t, a.Outbound, 1, "requester is sent the existing channel's state instead")
}

func TestHandleChannelStateHashesLongDescription(t *testing.T) {
	s := newTestServer()
	a := newTestClient(t, s, "a")
	root := uint32(RootChannelID)
	long := strings.Repeat("x", shortDescriptionLimit+1)

	body := (&mumbleproto.ChannelState{Parent: &root, Name: "Docs", Temporary: true, Description: long}).Marshal()
	require.NoError(t, HandleMessage(s, a, mumbleproto.KindChannelState, body))

	ch, ok := s.GetChannelByName("Docs")
	require.True(t, ok)
	require.NotEmpty(t, ch.DescriptionHash)

	blob, err := s.Blobs.Get(ch.DescriptionHash)
	require.NoError(t, err)
	require.Equal(t, []byte(long), blob)

	cs, err := ch.State()
	require.NoError(t, err)
	require.Empty(t, cs.Description, "long descriptions go out by hash")
	require.Equal(t, ch.DescriptionHash, cs.DescriptionHash)
}

func TestHandleChannelStateRejectsNonTemporaryCreation(t *testing.T) {
	s := newTestServer()
	a := newTestClient(t, s, "a")
	root := uint32(RootChannelID)

	body := (&mumbleproto.ChannelState{Parent: &root, Name: "Perm", Temporary: false}).Marshal()
	require.NoError(t, HandleMessage(s, a, mumbleproto.KindChannelState, body))

	_, ok := s.GetChannelByName("Perm")
	require.False(t, ok)
}

func TestHandleChannelStateRejectsMissingParent(t *testing.T) {
	s := newTestServer()
	a := newTestClient(t, s, "a")
	missing := uint32(999)

	body := (&mumbleproto.ChannelState{Parent: &missing, Name: "Orphan", Temporary: true}).Marshal()
	require.NoError(t, HandleMessage(s, a, mumbleproto.KindChannelState, body))

	_, ok := s.GetChannelByName("Orphan")
	require.False(t, ok)
}

func TestHandlePingRepliesWithCryptCounters(t *testing.T) {
	s := newTestServer()
	a := newTestClient(t, s, "a")

	body := (&mumbleproto.Ping{Timestamp: 42}).Marshal()
	require.NoError(t, HandleMessage(s, a, mumbleproto.KindPing, body))

	require.Len(t, a.Outbound, 1)
	msg := <-a.Outbound
	pong, ok := msg.Control.(*mumbleproto.Ping)
	require.True(t, ok)
	require.Equal(t, uint64(42), pong.Timestamp)
}

func TestHandlePermissionQueryReturnsAdminMask(t *testing.T) {
	s := newTestServer()
	a := newTestClient(t, s, "a")

	body := (&mumbleproto.PermissionQuery{ChannelID: RootChannelID}).Marshal()
	require.NoError(t, HandleMessage(s, a, mumbleproto.KindPermissionQuery, body))

	msg := <-a.Outbound
	pq, ok := msg.Control.(*mumbleproto.PermissionQuery)
	require.True(t, ok)
	require.Equal(t, uint32(AdminMask), pq.Permissions)
}
