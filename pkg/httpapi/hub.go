// Package httpapi exposes the server's small JSON admin surface: mute,
// deaf, status, Prometheus metrics, and a live event stream for
// dashboards, kept as thin readers/writers over the core server state.
package httpapi

import (
	"sync"

	"github.com/sozsub/zumble/pkg/server"
)

// Hub fans server.Event notifications out to every subscribed websocket
// connection. It registers itself as the State's single event sink.
type Hub struct {
	mu   sync.Mutex
	subs map[chan server.Event]struct{}
}

// NewHub builds a Hub and wires it up as s's event sink.
func NewHub(s *server.State) *Hub {
	h := &Hub{subs: make(map[chan server.Event]struct{})}
	s.SetEventSink(h.broadcast)
	return h
}

// Subscribe registers a new listener, returning a channel of events and
// an unsubscribe func. The channel is buffered; a slow consumer has
// events dropped rather than blocking the server.
func (h *Hub) Subscribe() (<-chan server.Event, func()) {
	ch := make(chan server.Event, 32)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
		close(ch)
	}
}

func (h *Hub) broadcast(ev server.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
