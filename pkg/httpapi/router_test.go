package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sozsub/zumble/pkg/cryptstate"
	"github.com/sozsub/zumble/pkg/server"
)

func newTestState(t *testing.T) *server.State {
	t.Helper()
	return server.New(log.New(io.Discard, "", 0))
}

func addClient(t *testing.T, s *server.State, username string) {
	t.Helper()
	a, _ := net.Pipe()
	c := server.NewClient(s, a)
	crypt, err := cryptstate.New()
	require.NoError(t, err)
	c.Crypt = crypt
	c.Username = username
	require.NoError(t, s.AddClient(c))
}

func TestMuteGetAndPostRoundTrip(t *testing.T) {
	s := newTestState(t)
	addClient(t, s, "alice")
	hub := NewHub(s)
	r := NewRouter(s, hub, Config{User: "admin", Password: "secret"})
	ts := httptest.NewServer(r)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/mute/alice", nil)
	req.SetBasicAuth("admin", "secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got muteRequest
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.False(t, got.Mute)

	body, _ := json.Marshal(muteRequest{User: "alice", Mute: true})
	req2, _ := http.NewRequest(http.MethodPost, ts.URL+"/mute", bytes.NewReader(body))
	req2.SetBasicAuth("admin", "secret")
	resp2, err := http.DefaultClient.Do(req2)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	c, ok := s.GetClientByName("alice")
	require.True(t, ok)
	require.True(t, c.Mute())
}

func TestMuteRejectsBadCredentials(t *testing.T) {
	s := newTestState(t)
	addClient(t, s, "alice")
	hub := NewHub(s)
	r := NewRouter(s, hub, Config{User: "admin", Password: "secret"})
	ts := httptest.NewServer(r)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/mute/alice", nil)
	req.SetBasicAuth("admin", "wrong")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMuteMissingUserReturns404(t *testing.T) {
	s := newTestState(t)
	hub := NewHub(s)
	r := NewRouter(s, hub, Config{User: "admin", Password: "secret"})
	ts := httptest.NewServer(r)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/mute/ghost", nil)
	req.SetBasicAuth("admin", "secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusReportsConnectedClients(t *testing.T) {
	s := newTestState(t)
	addClient(t, s, "alice")
	hub := NewHub(s)
	r := NewRouter(s, hub, Config{User: "admin", Password: "secret"})
	ts := httptest.NewServer(r)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/status", nil)
	req.SetBasicAuth("admin", "secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got map[string]clientStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 1)
}

func TestMetricsEndpointIsUnauthenticated(t *testing.T) {
	s := newTestState(t)
	hub := NewHub(s)
	r := NewRouter(s, hub, Config{User: "admin", Password: "secret"})
	ts := httptest.NewServer(r)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
