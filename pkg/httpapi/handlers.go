package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/sozsub/zumble/pkg/server"
)

type muteRequest struct {
	User string `json:"user"`
	Mute bool   `json:"mute"`
}

type deafRequest struct {
	User string `json:"user"`
	Deaf bool   `json:"deaf"`
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func handleGetMute(s *server.State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username := chi.URLParam(r, "user")
		c, ok := s.GetClientByName(username)
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, muteRequest{User: username, Mute: c.Mute()})
	}
}

func handlePostMute(s *server.State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req muteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c, ok := s.GetClientByName(req.User)
		if !ok {
			http.NotFound(w, r)
			return
		}
		s.SetClientMute(c, req.Mute)
		writeJSON(w, req)
	}
}

func handleGetDeaf(s *server.State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username := chi.URLParam(r, "user")
		c, ok := s.GetClientByName(username)
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, deafRequest{User: username, Deaf: c.Deaf()})
	}
}

func handlePostDeaf(s *server.State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req deafRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c, ok := s.GetClientByName(req.User)
		if !ok {
			http.NotFound(w, r)
			return
		}
		s.SetClientDeaf(c, req.Deaf)
		writeJSON(w, req)
	}
}

type targetStatus struct {
	Sessions []uint32 `json:"sessions"`
	Channels []uint32 `json:"channels"`
}

type clientStatus struct {
	Name            string         `json:"name"`
	SessionID       uint32         `json:"session_id"`
	Channel         uint32         `json:"channel"`
	Mute            bool           `json:"mute"`
	Good            uint32         `json:"good"`
	Late            uint32         `json:"late"`
	Lost            uint32         `json:"lost"`
	Resync          uint32         `json:"resync"`
	LastGoodMillis  int64          `json:"last_good_duration"`
	Targets         []targetStatus `json:"targets"`
}

func handleStatus(s *server.State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		out := make(map[uint32]clientStatus)
		for _, c := range s.AllClients() {
			targets := make([]targetStatus, server.NumVoiceTargets)
			for i := uint32(1); i <= server.NumVoiceTargets; i++ {
				t, _ := c.Target(i)
				targets[i-1] = targetStatus{
					Sessions: keysOf(t.Sessions),
					Channels: keysOf(t.Channels),
				}
			}
			stats, err := c.Crypt.Stats()
			if err != nil {
				continue
			}
			out[c.SessionID] = clientStatus{
				Name:           c.Username,
				SessionID:      c.SessionID,
				Channel:        c.ChannelID(),
				Mute:           c.Mute(),
				Good:           stats.Good,
				Late:           stats.Late,
				Lost:           stats.Lost,
				Resync:         stats.Resync,
				LastGoodMillis: now.Sub(stats.LastGood).Milliseconds(),
				Targets:        targets,
			}
		}
		writeJSON(w, out)
	}
}

func keysOf(m map[uint32]struct{}) []uint32 {
	out := make([]uint32, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleEvents upgrades to a websocket and streams join/leave/move/mute
// notifications until the client disconnects.
func handleEvents(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		events, unsubscribe := hub.Subscribe()
		defer unsubscribe()

		for ev := range events {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
