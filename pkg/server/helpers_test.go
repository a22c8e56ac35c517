package server

import (
	"io"
	"log"
	"net"

	"github.com/sozsub/zumble/pkg/cryptstate"
)

func newTestServer() *State {
	return New(log.New(io.Discard, "", 0))
}

func newTestClient(t interface{ Helper() }, s *State, username string) *Client {
	t.Helper()
	a, _ := net.Pipe()
	c := NewClient(s, a)
	crypt, err := cryptstate.New()
	if err != nil {
		panic(err)
	}
	c.Crypt = crypt
	c.Username = username
	if err := s.AddClient(c); err != nil {
		panic(err)
	}
	return c
}
