package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/manager"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// Config holds HTTP API settings
type Config struct {
	Addr string

	// PublishRate is the sustained publish requests per second allowed per
	// app. Zero disables rate limiting.
	PublishRate  float64
	PublishBurst int

	// DeleteUserOnDisconnect deletes a user once its event stream ends.
	DeleteUserOnDisconnect bool
	HeartbeatInterval      time.Duration

	// CORSOrigins enables CORS for the listed origins when non-empty.
	CORSOrigins []string
}

// Server serves the bus over HTTP
type Server struct {
	manager *manager.Manager
	config  Config
	limiter *appLimiter
	router  chi.Router
	http    *http.Server

	// closing is closed by Shutdown so open event streams return.
	closing   chan struct{}
	closeOnce sync.Once

	logger zerolog.Logger
}

// NewServer creates an HTTP API server for mgr
func NewServer(mgr *manager.Manager, cfg Config) *Server {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}

	s := &Server{
		manager: mgr,
		config:  cfg,
		limiter: newAppLimiter(cfg.PublishRate, cfg.PublishBurst),
		closing: make(chan struct{}),
		logger:  log.WithComponent("api"),
	}
	s.router = s.routes()
	// No write timeout: event streams stay open indefinitely.
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	if len(s.config.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.config.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "Last-Event-ID", "X-Request-Id"},
			ExposedHeaders: []string{"Retry-After", "X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", metrics.HealthHandler())
	r.Get("/ready", metrics.ReadyHandler())
	r.Handle("/metrics", metrics.Handler())

	r.Get("/apps", s.listApps)
	r.Route("/apps/{app}", func(r chi.Router) {
		r.Put("/", s.createApp)
		r.Delete("/", s.deleteApp)
		r.Get("/channels", s.listChannels)

		r.Route("/channels/{channel}", func(r chi.Router) {
			r.Put("/", s.createChannel)
			r.Delete("/", s.deleteChannel)

			r.With(s.limiter.middleware).Post("/events", s.publishEvents)
			r.Get("/events", s.getEvents)

			r.Put("/subscriptions", s.subscribe)
			r.Delete("/subscriptions/{name}", s.unsubscribe)
		})
	})

	r.Put("/users", s.createUser)
	r.Route("/users/{name}", func(r chi.Router) {
		r.Delete("/", s.deleteUser)
		r.Get("/subscriptions", s.listSubscriptions)
		r.Get("/stream", s.stream)
	})

	return r
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until Shutdown.
// It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentHTTP, false, err.Error())
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve accepts connections on lis
func (s *Server) Serve(lis net.Listener) error {
	metrics.UpdateComponent(metrics.ComponentHTTP, true, "serving on "+lis.Addr().String())
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("HTTP API listening")

	if err := s.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		metrics.UpdateComponent(metrics.ComponentHTTP, false, err.Error())
		return err
	}
	return nil
}

// Shutdown ends open event streams, stops accepting requests and waits for
// in-flight handlers to return.
func (s *Server) Shutdown(ctx context.Context) error {
	metrics.UpdateComponent(metrics.ComponentHTTP, false, "shutting down")
	s.closeOnce.Do(func() { close(s.closing) })
	return s.http.Shutdown(ctx)
}
