package http

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 10 * time.Second

// Server is the inbound HTTP adapter serving the governance API, the
// admin surface, health probes, and Prometheus metrics.
type Server struct {
	handler      *GovernanceHandler
	server       *http.Server
	addr         string
	certFile     string
	keyFile      string
	logger       *slog.Logger
	adminHandler http.Handler
	health       *HealthChecker
	registry     *prometheus.Registry
	metrics      *Metrics
}

// Option is a functional option for configuring the Server.
type Option func(*Server)

// WithAddr sets the listen address. Default is "127.0.0.1:8080"
// (localhost only).
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithTLS enables TLS with the provided certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) {
		s.certFile = certFile
		s.keyFile = keyFile
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithAdminHandler mounts the escalation review surface under /admin/.
func WithAdminHandler(h http.Handler) Option {
	return func(s *Server) { s.adminHandler = h }
}

// WithHealthChecker sets the health checker for /healthz and /readyz.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(s *Server) { s.health = hc }
}

// WithRegistry sets the Prometheus registry. A fresh registry with Go and
// process collectors is created when unset.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// WithMetrics sets pre-built metrics. Use when the governance handler
// needs the same metrics instance before the server exists.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates the HTTP server wrapping the governance handler.
func NewServer(handler *GovernanceHandler, opts ...Option) *Server {
	s := &Server{
		handler: handler,
		addr:    "127.0.0.1:8080",
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return s
}

// SetHandler sets the governance handler. Must be called before Start
// when the handler was not available at construction (it may need the
// server's metrics).
func (s *Server) SetHandler(h *GovernanceHandler) {
	s.handler = h
}

// Registry returns the server's Prometheus registry for registering
// additional collectors.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Metrics returns the server's metrics, creating them on first use.
func (s *Server) Metrics() *Metrics {
	if s.metrics == nil {
		s.metrics = NewMetrics(s.registry)
	}
	return s.metrics
}

// Start begins accepting connections. It blocks until the context is
// cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	metrics := s.Metrics()

	mux := http.NewServeMux()
	s.handler.Register(mux)

	if s.adminHandler != nil {
		mux.Handle("/admin/api/", s.adminHandler)
	}
	if s.health != nil {
		mux.Handle("GET /healthz", s.health.LivenessHandler())
		mux.Handle("GET /readyz", s.health.ReadinessHandler())
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		Registry: s.registry,
	}))

	// Metrics wraps the mux directly so it observes r.Pattern, which the
	// mux sets on the request it receives.
	var handler http.Handler = mux
	handler = MetricsMiddleware(metrics)(handler)
	handler = RequestIDMiddleware(s.logger)(handler)

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if s.certFile != "" && s.keyFile != "" {
		s.server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.certFile != "" && s.keyFile != "" {
			s.logger.Info("starting HTTPS server", "addr", s.addr)
			err = s.server.ListenAndServeTLS(s.certFile, s.keyFile)
		} else {
			s.logger.Info("starting HTTP server", "addr", s.addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down HTTP server")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown performs graceful shutdown.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}
	s.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	return s.shutdown()
}
