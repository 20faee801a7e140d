package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v5"

	"github.com/aixgo-dev/flightagent/agents"
	"github.com/aixgo-dev/flightagent/pkg/apperror"
	"github.com/aixgo-dev/flightagent/pkg/history"
)

type rootResponse struct {
	Message string `json:"message"`
	Docs    string `json:"docs"`
	Version string `json:"version"`
}

type answerRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
	ThreadID  string `json:"thread_id"`
}

type answerResponse struct {
	Answer    string `json:"answer"`
	SessionID string `json:"session_id"`
	ThreadID  string `json:"thread_id"`
}

type messagesResponse struct {
	SessionID string            `json:"session_id"`
	ThreadID  string            `json:"thread_id"`
	Messages  []history.Message `json:"messages"`
}

type rulesResponse struct {
	MaxInputLength    int      `json:"max_input_length"`
	InjectionPatterns []string `json:"injection_patterns"`
	SensitiveKeywords []string `json:"sensitive_keywords"`
}

type patternRequest struct {
	Pattern string `json:"pattern"`
}

type keywordRequest struct {
	Keyword string `json:"keyword"`
}

type maxInputLengthRequest struct {
	MaxInputLength int `json:"max_input_length"`
}

type ruleChangeResponse struct {
	Added bool          `json:"added"`
	Rules rulesResponse `json:"rules"`
}

func (s *Server) root(c *echo.Context) error {
	return reply(c, http.StatusOK, rootResponse{
		Message: "Flight Agent API",
		Docs:    "/docs",
		Version: Version,
	})
}

func (s *Server) answer(c *echo.Context) error {
	var req answerRequest
	if err := c.Bind(&req); err != nil {
		return apperror.Wrap(apperror.KindValidation, err, "Invalid request body")
	}
	if strings.TrimSpace(req.Query) == "" {
		return apperror.Validation("Query cannot be empty")
	}

	sessionID, threadID, err := Resolve(req.SessionID, req.ThreadID)
	if err != nil {
		return err
	}

	var answer string
	err = s.sessions.Do(sessionID, threadID, func(copilot *agents.Copilot) error {
		var err error
		answer, err = copilot.Answer(c.Request().Context(), req.Query)
		return err
	})
	if err != nil {
		return err
	}

	return reply(c, http.StatusOK, answerResponse{
		Answer:    answer,
		SessionID: sessionID,
		ThreadID:  threadID,
	})
}

func (s *Server) threadIDs(c *echo.Context) (string, string, error) {
	sessionID, threadID := c.Param("session"), c.Param("thread")
	if err := ValidateID("session", sessionID); err != nil {
		return "", "", err
	}
	if err := ValidateID("thread", threadID); err != nil {
		return "", "", err
	}
	return sessionID, threadID, nil
}

func (s *Server) listMessages(c *echo.Context) error {
	sessionID, threadID, err := s.threadIDs(c)
	if err != nil {
		return err
	}

	var msgs []history.Message
	err = s.sessions.Do(sessionID, threadID, func(copilot *agents.Copilot) error {
		var err error
		msgs, err = copilot.History().ListMessages(c.Request().Context())
		return err
	})
	if err != nil {
		return err
	}

	return reply(c, http.StatusOK, messagesResponse{
		SessionID: sessionID,
		ThreadID:  threadID,
		Messages:  msgs,
	})
}

func (s *Server) clearThread(c *echo.Context) error {
	sessionID, threadID, err := s.threadIDs(c)
	if err != nil {
		return err
	}

	err = s.sessions.Do(sessionID, threadID, func(copilot *agents.Copilot) error {
		return copilot.History().Clear(c.Request().Context())
	})
	if err != nil {
		return err
	}
	s.sessions.Forget(sessionID, threadID)
	return reply(c, http.StatusNoContent, nil)
}

func (s *Server) rulesSnapshot() rulesResponse {
	return rulesResponse{
		MaxInputLength:    s.rules.MaxInputLength(),
		InjectionPatterns: s.rules.InjectionPatterns(),
		SensitiveKeywords: s.rules.SensitiveKeywords(),
	}
}

func (s *Server) getRules(c *echo.Context) error {
	return reply(c, http.StatusOK, s.rulesSnapshot())
}

func (s *Server) addInjectionPattern(c *echo.Context) error {
	var req patternRequest
	if err := c.Bind(&req); err != nil {
		return apperror.Wrap(apperror.KindValidation, err, "Invalid request body")
	}
	if strings.TrimSpace(req.Pattern) == "" {
		return apperror.Validation("Pattern cannot be empty")
	}

	added, err := s.rules.AddInjectionPattern(req.Pattern)
	if err != nil {
		return apperror.Wrap(apperror.KindValidation, err, "Invalid injection pattern")
	}
	s.logger.InfoContext(c.Request().Context(), "injection pattern added", "admin", adminID(c), "pattern", req.Pattern, "added", added)
	return reply(c, changeStatus(added), ruleChangeResponse{Added: added, Rules: s.rulesSnapshot()})
}

func (s *Server) addSensitiveKeyword(c *echo.Context) error {
	var req keywordRequest
	if err := c.Bind(&req); err != nil {
		return apperror.Wrap(apperror.KindValidation, err, "Invalid request body")
	}
	if strings.TrimSpace(req.Keyword) == "" {
		return apperror.Validation("Keyword cannot be empty")
	}

	added := s.rules.AddSensitiveKeyword(req.Keyword)
	s.logger.InfoContext(c.Request().Context(), "sensitive keyword added", "admin", adminID(c), "added", added)
	return reply(c, changeStatus(added), ruleChangeResponse{Added: added, Rules: s.rulesSnapshot()})
}

func (s *Server) setMaxInputLength(c *echo.Context) error {
	var req maxInputLengthRequest
	if err := c.Bind(&req); err != nil {
		return apperror.Wrap(apperror.KindValidation, err, "Invalid request body")
	}
	if err := s.rules.SetMaxInputLength(req.MaxInputLength); err != nil {
		return apperror.Wrap(apperror.KindValidation, err, "max_input_length must be positive")
	}
	s.logger.InfoContext(c.Request().Context(), "max input length changed", "admin", adminID(c), "max_input_length", req.MaxInputLength)
	return reply(c, http.StatusOK, s.rulesSnapshot())
}

func changeStatus(added bool) int {
	if added {
		return http.StatusCreated
	}
	return http.StatusOK
}
