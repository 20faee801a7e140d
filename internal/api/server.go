// Package api exposes the copilot and the security rule administration over
// HTTP.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/aixgo-dev/flightagent/pkg/security"
)

// Version is reported by the root endpoint.
const Version = "1.0.0"

// Recorder receives one observation per request.
type Recorder interface {
	RecordHTTPRequest(method, path string, status int, duration time.Duration)
}

// Config configures the HTTP boundary.
type Config struct {
	// Debug adds redacted error detail to error responses.
	Debug       bool
	CORSOrigins []string
	// AdminToken protects the rule administration routes. Empty leaves them
	// open.
	AdminToken string
}

// Server routes HTTP requests to the session registry and the rule set.
type Server struct {
	echo     *echo.Echo
	cfg      Config
	sessions *Sessions
	rules    *security.RuleSet
	limiter  *security.RateLimiter
	auth     *security.TokenAuthenticator
	recorder Recorder
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithRateLimiter limits answer requests per client address.
func WithRateLimiter(l *security.RateLimiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithRecorder records request metrics.
func WithRecorder(r Recorder) Option {
	return func(s *Server) { s.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer builds the router.
func NewServer(cfg Config, sessions *Sessions, rules *security.RuleSet, opts ...Option) *Server {
	s := &Server{
		echo:     echo.New(),
		cfg:      cfg,
		sessions: sessions,
		rules:    rules,
		auth:     security.NewTokenAuthenticator(),
		logger:   slog.Default(),
	}
	s.auth.AddToken(cfg.AdminToken, &security.Principal{ID: "admin", Name: "Administrator"})
	for _, opt := range opts {
		opt(s)
	}

	e := s.echo
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())
	e.Use(s.observe)
	if len(cfg.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.CORSOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		}))
	}

	e.GET("/", s.root)

	v1 := e.Group("/api/v1")
	v1.POST("/answer", s.answer, s.rateLimit)
	v1.GET("/sessions/:session/threads/:thread/messages", s.listMessages)
	v1.DELETE("/sessions/:session/threads/:thread", s.clearThread)

	admin := v1.Group("/admin", s.requireAdmin)
	admin.GET("/rules", s.getRules)
	admin.POST("/injection-patterns", s.addInjectionPattern)
	admin.POST("/sensitive-keywords", s.addSensitiveKeyword)
	admin.PUT("/max-input-length", s.setMaxInputLength)

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Sessions returns the session registry.
func (s *Server) Sessions() *Sessions { return s.sessions }

// Sweep drops copilots and client rate limiters idle for longer than idle.
func (s *Server) Sweep(idle time.Duration) (sessions, clients int) {
	sessions = s.sessions.Sweep(idle)
	if s.limiter != nil {
		clients = s.limiter.Sweep()
	}
	return sessions, clients
}
