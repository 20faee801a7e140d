// Package apperror defines the error kinds surfaced to callers of the flight
// agent and their mapping onto HTTP responses.
package apperror

import (
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

// Kind classifies an application error.
type Kind string

const (
	KindSecurity      Kind = "SecurityError"
	KindValidation    Kind = "ValidationError"
	KindConfiguration Kind = "ConfigurationError"
	KindTool          Kind = "ToolError"
	KindWorkflow      Kind = "WorkflowError"
	KindAgent         Kind = "AgentError"
	KindRateLimit     Kind = "RateLimitError"
	KindInternal      Kind = "InternalError"
)

// InternalMessage is what callers see for errors that carry no kind.
const InternalMessage = "Internal server error, please try again later"

var defaultMessages = map[Kind]string{
	KindSecurity:      "Input rejected by security policy",
	KindValidation:    "Invalid request",
	KindConfiguration: "Configuration error",
	KindTool:          "Tool execution failed",
	KindWorkflow:      "Workflow execution failed",
	KindAgent:         "Agent execution failed",
	KindRateLimit:     "Too many requests, please slow down",
	KindInternal:      InternalMessage,
}

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case KindSecurity, KindValidation:
		return http.StatusBadRequest
	case KindRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is an application error with a user-safe message.
type Error struct {
	Kind    Kind
	Message string
	// Err is the underlying cause, if any. It is never shown to end users
	// outside debug mode.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Format prints the recorded stack for %+v.
func (e *Error) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') && e.Err != nil {
		_, _ = fmt.Fprintf(s, "%s: %s\n%+v", e.Kind, e.Message, e.Err)
		return
	}
	_, _ = io.WriteString(s, e.Error())
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status code for the error.
func (e *Error) Status() int { return e.Kind.Status() }

// New creates an error of the given kind. An empty message selects the
// kind's default message.
func New(kind Kind, message string) *Error {
	if message == "" {
		message = defaultMessages[kind]
	}
	return &Error{Kind: kind, Message: message, Err: errors.New(message)}
}

// Wrap creates an error of the given kind around cause. The stack is captured
// at the wrap site so debug logs can print it with %+v.
func Wrap(kind Kind, cause error, message string) *Error {
	if message == "" {
		message = defaultMessages[kind]
	}
	return &Error{Kind: kind, Message: message, Err: errors.WithStack(cause)}
}

// Security returns a SecurityError with a user-safe message.
func Security(message string) *Error { return New(KindSecurity, message) }

// Validation returns a ValidationError.
func Validation(message string) *Error { return New(KindValidation, message) }

// Configuration returns a ConfigurationError.
func Configuration(message string) *Error { return New(KindConfiguration, message) }

// Tool returns a ToolError.
func Tool(message string) *Error { return New(KindTool, message) }

// Workflow returns a WorkflowError.
func Workflow(message string) *Error { return New(KindWorkflow, message) }

// Agent returns an AgentError.
func Agent(message string) *Error { return New(KindAgent, message) }

// As reports whether err carries an *Error and returns it.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsKind reports whether err carries an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	appErr, ok := As(err)
	return ok && appErr.Kind == kind
}

// Response is the JSON body returned for failed requests.
type Response struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// ToResponse converts err into a status code and response body. Errors that
// are not *Error map to a generic internal failure. Detail is filled only in
// debug mode, after passing through redact.
func ToResponse(err error, debug bool, redact func(string) string) (int, Response) {
	appErr, ok := As(err)
	if !ok {
		appErr = &Error{Kind: KindInternal, Message: InternalMessage, Err: err}
	}

	resp := Response{
		Error:   string(appErr.Kind),
		Message: appErr.Message,
	}
	if debug {
		detail := err.Error()
		if redact != nil {
			detail = redact(detail)
		}
		resp.Detail = detail
	}
	return appErr.Status(), resp
}
