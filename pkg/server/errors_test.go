package server

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMumbleErrorIsMatchesByKind(t *testing.T) {
	err := newMumbleError(ErrParse, errors.New("bad varint"))
	require.True(t, errors.Is(err, &MumbleError{Kind: ErrParse}))
	require.False(t, errors.Is(err, &MumbleError{Kind: ErrIO}))
}

func TestMumbleErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("bad varint")
	err := newMumbleError(ErrParse, cause)
	require.ErrorIs(t, err, cause)
}

func TestHandleMessageRejectsUnsupportedKind(t *testing.T) {
	s := newTestServer()
	c := newTestClient(t, s, "a")

	err := HandleMessage(s, c, 0xFFFF, nil)
	require.Error(t, err)
	var me *MumbleError
	require.ErrorAs(t, err, &me)
	require.Equal(t, ErrUnexpectedMessageKind, me.Kind)
}
