// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

package server

import (
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sozsub/zumble/pkg/cryptstate"
	"github.com/sozsub/zumble/pkg/mumbleproto"
)

func TestHandshakeRegistersClientAndSyncs(t *testing.T) {
	s := newTestServer()
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	c := NewClient(s, serverSide)
	done := make(chan error, 1)
	go func() { done <- s.handshake(c) }()

	_, err := mumbleproto.WriteMessage(clientSide, &mumbleproto.Version{Proto: ProtocolVersion})
	require.NoError(t, err)

	kind, length, err := mumbleproto.ReadHeader(clientSide)
	require.NoError(t, err)
	require.Equal(t, mumbleproto.KindVersion, kind)
	body := make([]byte, length)
	_, err = io.ReadFull(clientSide, body)
	require.NoError(t, err)
	var serverVersion mumbleproto.Version
	require.NoError(t, serverVersion.Unmarshal(body))
	require.Equal(t, uint32(ProtocolVersion), serverVersion.Proto)

	_, err = mumbleproto.WriteMessage(clientSide, &mumbleproto.Authenticate{Username: "alice", Opus: true})
	require.NoError(t, err)

	require.NoError(t, <-done)
	require.NotZero(t, c.SessionID)
	require.Equal(t, "alice", c.Username)
	require.NotNil(t, c.Crypt)

	// The outbound queue carries the registration sequence: CryptSetup,
	// the channel tree, the client's own UserState, ServerSync,
	// ServerConfig, and finally the join broadcast.
	msg := <-c.Outbound
	setup, ok := msg.Control.(*mumbleproto.CryptSetup)
	require.True(t, ok)
	require.Len(t, setup.Key, cryptstate.KeySize)
	require.Len(t, setup.ClientNonce, 16)
	require.Len(t, setup.ServerNonce, 16)

	msg = <-c.Outbound
	root, ok := msg.Control.(*mumbleproto.ChannelState)
	require.True(t, ok)
	require.Equal(t, uint32(RootChannelID), root.ChannelID)

	msg = <-c.Outbound
	own, ok := msg.Control.(*mumbleproto.UserState)
	require.True(t, ok)
	require.Equal(t, c.SessionID, own.Session)
	require.Equal(t, "alice", own.Name)

	msg = <-c.Outbound
	sync, ok := msg.Control.(*mumbleproto.ServerSync)
	require.True(t, ok)
	require.Equal(t, c.SessionID, sync.Session)
	require.Equal(t, uint32(144000), sync.MaxBandwidth)

	msg = <-c.Outbound
	config, ok := msg.Control.(*mumbleproto.ServerConfig)
	require.True(t, ok)
	require.True(t, config.AllowHTML)
	require.Equal(t, uint32(512), config.MessageLength)
}

func TestHandshakeRejectsEmptyUsername(t *testing.T) {
	s := newTestServer()
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	c := NewClient(s, serverSide)
	done := make(chan error, 1)
	go func() { done <- s.handshake(c) }()

	_, err := mumbleproto.WriteMessage(clientSide, &mumbleproto.Version{Proto: ProtocolVersion})
	require.NoError(t, err)

	kind, length, err := mumbleproto.ReadHeader(clientSide)
	require.NoError(t, err)
	require.Equal(t, mumbleproto.KindVersion, kind)
	_, err = io.CopyN(io.Discard, clientSide, int64(length))
	require.NoError(t, err)

	_, err = mumbleproto.WriteMessage(clientSide, &mumbleproto.Authenticate{})
	require.NoError(t, err)

	kind, length, err = mumbleproto.ReadHeader(clientSide)
	require.NoError(t, err)
	require.Equal(t, mumbleproto.KindReject, kind)
	body := make([]byte, length)
	_, err = io.ReadFull(clientSide, body)
	require.NoError(t, err)
	var reject mumbleproto.Reject
	require.NoError(t, reject.Unmarshal(body))
	require.Equal(t, mumbleproto.RejectInvalidUsername, reject.Type)

	require.Error(t, <-done)
	require.Empty(t, s.AllClients())
}

func TestHandshakeRejectsNonVersionFirstMessage(t *testing.T) {
	s := newTestServer()
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	c := NewClient(s, serverSide)
	done := make(chan error, 1)
	go func() { done <- s.handshake(c) }()

	_, err := mumbleproto.WriteMessage(clientSide, &mumbleproto.Ping{Timestamp: 1})
	require.NoError(t, err)

	err = <-done
	require.Error(t, err)
	var me *MumbleError
	require.ErrorAs(t, err, &me)
	require.Equal(t, ErrUnexpectedMessageKind, me.Kind)
}
