// Package httpserver exposes the OpenGovFood REST API.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opengovfood/opengovfood/internal/obs"
	"github.com/opengovfood/opengovfood/internal/service"
	"go.uber.org/zap"
)

// Pinger reports storage reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options tunes the transport.
type Options struct {
	Name           string
	Version        string
	MaxBodyBytes   int64
	RatePerSecond  float64
	RateBurst      int
	TrustForwarded bool
}

// Server wires services into HTTP handlers.
type Server struct {
	auth     service.AuthService
	items    service.ItemService
	db       Pinger
	log      *zap.Logger
	metrics  *obs.Metrics
	opts     Options
	throttle *Throttle
}

// New constructs the transport. metrics and log may be nil.
func New(auth service.AuthService, items service.ItemService, db Pinger, log *zap.Logger, metrics *obs.Metrics, opts Options) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Name == "" {
		opts.Name = "OpenGovFood"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	s := &Server{auth: auth, items: items, db: db, log: log, metrics: metrics, opts: opts}
	s.throttle = NewThrottle(opts.RatePerSecond, opts.RateBurst, s.clientIP)
	return s
}

func (s *Server) clientIP(r *http.Request) string { return ClientIP(r, s.opts.TrustForwarded) }

// Janitor drops idle throttle buckets until ctx is done.
func (s *Server) Janitor(ctx context.Context) { s.throttle.Janitor(ctx, time.Minute) }

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(Recover(s.log))
	r.Use(Logging(s.log))
	r.Use(s.metrics.Instrument)
	r.Use(s.throttle.Middleware)
	r.Use(MaxBodyBytes(s.opts.MaxBodyBytes))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/login/access-token", s.handleLogin)
		r.Post("/users/open", s.handleRegister)

		r.Group(func(r chi.Router) {
			r.Use(RequireBearer)
			r.Get("/users/me", s.handleMe)
			r.Put("/users/me/password", s.handleChangePassword)

			r.Route("/items", func(r chi.Router) {
				r.Get("/", s.handleListItems)
				r.Post("/", s.handleCreateItem)
				r.Get("/{id}", s.handleGetItem)
				r.Put("/{id}", s.handleUpdateItem)
				r.Delete("/{id}", s.handleDeleteItem)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeDetail(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeDetail(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"name": s.opts.Name, "version": s.opts.Version})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			s.log.Warn("health: database unreachable", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
