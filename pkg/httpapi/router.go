package httpapi

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sozsub/zumble/pkg/server"
)

// Config controls the admin HTTP surface's credentials and logging.
type Config struct {
	User     string
	Password string
	// RequestLog enables per-request access logging via chi's logger
	// middleware. Off in the zero Config; the --http-log flag defaults
	// to on.
	RequestLog bool
}

// NewRouter builds the admin HTTP mux: basic-auth-protected mute/deaf/
// status/events endpoints plus an unauthenticated Prometheus /metrics.
func NewRouter(s *server.State, hub *Hub, cfg Config) http.Handler {
	r := chi.NewRouter()
	if cfg.RequestLog {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(basicAuth(cfg))
		r.Get("/mute/{user}", handleGetMute(s))
		r.Post("/mute", handlePostMute(s))
		r.Get("/deaf/{user}", handleGetDeaf(s))
		r.Post("/deaf", handlePostDeaf(s))
		r.Get("/status", handleStatus(s))
		r.Get("/events", handleEvents(hub))
	})

	return r
}

func basicAuth(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte(cfg.User)) != 1 ||
				subtle.ConstantTimeCompare([]byte(pass), []byte(cfg.Password)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="zumble"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
