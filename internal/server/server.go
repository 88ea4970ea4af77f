// Package server assembles the relay: hub, registry, session boundary,
// metrics and HTTP routes, and manages their lifecycle.
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Tyrowin/roomrelay/internal/metrics"
	"github.com/Tyrowin/roomrelay/internal/registry"
	"github.com/Tyrowin/roomrelay/internal/session"
)

// Server owns one relay instance. Nothing is shared between instances.
type Server struct {
	cfg      Config
	log      *slog.Logger
	hub      *Hub
	auth     session.Authenticator
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	origins  *originPolicy
	upgrader websocket.Upgrader
	http     *http.Server
}

// Option customizes a Server.
type Option func(*options)

type options struct {
	logger *slog.Logger
	auth   session.Authenticator
	reg    *prometheus.Registry
}

// WithLogger sets the logger used by the server, hub and clients.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithAuthenticator overrides the session boundary chosen from the config.
func WithAuthenticator(a session.Authenticator) Option {
	return func(o *options) { o.auth = a }
}

// WithMetricsRegistry registers the relay metrics on reg and serves it from
// /metrics.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.reg = reg }
}

// NewServer builds a relay from cfg. Without WithAuthenticator, a non-empty
// cfg.JWTSecret enables token admission; otherwise connections are admitted
// anonymously.
func NewServer(cfg *Config, opts ...Option) *Server {
	if cfg == nil {
		cfg = NewConfig()
	}
	c := cfg.Sanitize()

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = discardLogger()
	}
	if o.auth == nil {
		if c.JWTSecret != "" {
			o.auth = session.NewJWT(c.JWTSecret)
		} else {
			o.auth = session.Anonymous{}
		}
	}
	if o.reg == nil {
		o.reg = prometheus.NewRegistry()
	}

	m := metrics.New(o.reg)
	origins := newOriginPolicy(c.AllowedOrigins, o.logger)

	s := &Server{
		cfg:      c,
		log:      o.logger,
		hub:      NewHub(registry.New(), o.logger, m),
		auth:     o.auth,
		metrics:  m,
		gatherer: o.reg,
		origins:  origins,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
	}
	s.http = CreateServer(c.Port, s.Routes())
	return s
}

// Hub returns the server's hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config {
	return s.cfg
}

// StartHub starts the hub's event loop in a separate goroutine. It must be
// called before connections are accepted.
func (s *Server) StartHub() {
	go s.hub.Run()
	s.log.Info("hub started and ready to manage websocket connections")
}

// ListenAndServe starts the hub and serves HTTP until Shutdown.
func (s *Server) ListenAndServe() error {
	s.StartHub()
	return StartServer(s.http, s.log)
}

// Shutdown stops accepting HTTP requests, then closes every WebSocket
// connection through the hub. Both phases share timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	httpErr := ShutdownServer(s.http, timeout, s.log)
	hubErr := s.hub.Shutdown(timeout)
	return errors.Join(httpErr, hubErr)
}
