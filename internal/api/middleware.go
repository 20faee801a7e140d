package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/aixgo-dev/flightagent/pkg/apperror"
	"github.com/aixgo-dev/flightagent/pkg/security"
)

const (
	statusKey    = "flightagent.status"
	principalKey = "flightagent.principal"
)

// statusCoder is implemented by the router's own errors.
type statusCoder interface {
	StatusCode() int
}

// reply writes a JSON body and remembers the status for the request log.
func reply(c *echo.Context, code int, body any) error {
	c.Set(statusKey, code)
	if body == nil {
		return c.NoContent(code)
	}
	return c.JSON(code, body)
}

// errorResponse maps err onto a status and body. Router errors keep their
// status; everything else goes through the application error mapping.
func (s *Server) errorResponse(err error) (int, apperror.Response) {
	var sc statusCoder
	if _, ok := apperror.As(err); !ok && errors.As(err, &sc) {
		code := sc.StatusCode()
		resp := apperror.Response{
			Error:   strings.ReplaceAll(http.StatusText(code), " ", ""),
			Message: http.StatusText(code),
		}
		if s.cfg.Debug {
			resp.Detail = security.SanitizeErrorMessage(err.Error())
		}
		return code, resp
	}
	return apperror.ToResponse(err, s.cfg.Debug, security.SanitizeErrorMessage)
}

func (s *Server) handleError(c *echo.Context, err error) {
	code, resp := s.errorResponse(err)
	if code >= http.StatusInternalServerError {
		s.logger.ErrorContext(c.Request().Context(), "request failed",
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"error", err,
		)
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, resp)
}

// observe logs and records every request.
func (s *Server) observe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		start := time.Now()
		err := next(c)
		duration := time.Since(start)

		status := http.StatusOK
		if err != nil {
			status, _ = s.errorResponse(err)
		} else if code, ok := c.Get(statusKey).(int); ok {
			status = code
		}

		path := c.Path()
		if path == "" {
			path = "unmatched"
		}
		req := c.Request()
		s.logger.InfoContext(req.Context(), "http request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"duration", duration,
		)
		if s.recorder != nil {
			s.recorder.RecordHTTPRequest(req.Method, path, status, duration)
		}
		return err
	}
}

// rateLimit rejects clients above the configured rate.
func (s *Server) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		if s.limiter != nil && !s.limiter.Allow(c.RealIP()) {
			return apperror.New(apperror.KindRateLimit, "")
		}
		return next(c)
	}
}

// requireAdmin authenticates administration requests by bearer token. The
// routes are open when no token is configured.
func (s *Server) requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		if !s.auth.Enabled() {
			return next(c)
		}
		token, _ := security.BearerToken(c.Request().Header.Get("Authorization"))
		principal, err := s.auth.Authenticate(c.Request().Context(), token)
		if err != nil {
			s.logger.WarnContext(c.Request().Context(), "administration request rejected",
				"remote_ip", c.RealIP(), "reason", err)
			c.Set(statusKey, http.StatusUnauthorized)
			return c.JSON(http.StatusUnauthorized, apperror.Response{
				Error:   "Unauthorized",
				Message: "Missing or invalid administration token",
			})
		}
		c.Set(principalKey, principal)
		return next(c)
	}
}

// adminID names the authenticated administrator for the log.
func adminID(c *echo.Context) string {
	if p, ok := c.Get(principalKey).(*security.Principal); ok {
		return p.ID
	}
	return "anonymous"
}
