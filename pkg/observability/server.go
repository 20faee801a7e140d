package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// Server serves the health and metrics endpoints on their own listener so
// they stay reachable when the API port is not exposed.
type Server struct {
	httpServer *http.Server
}

// NewServer creates a server on addr (for example ":9090").
func NewServer(addr string, metrics *Metrics, health *HealthChecker) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           NewMux(metrics, health),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

// NewMux routes /health, /health/live, /health/ready and /metrics.
func NewMux(metrics *Metrics, health *HealthChecker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", LivenessHandler())
	if health != nil {
		mux.HandleFunc("/health", health.HealthHandler())
		mux.HandleFunc("/health/ready", health.ReadinessHandler())
	}
	if metrics != nil {
		mux.Handle("/metrics", metrics.Handler())
	}
	return mux
}

// Start listens until Shutdown is called. A clean shutdown returns nil.
func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Serve serves on an existing listener.
func (s *Server) Serve(l net.Listener) error {
	err := s.httpServer.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }
