// Package gate applies the security filter at the two points where untrusted
// text enters the agent: user turns and tool-call arguments.
package gate

import (
	"context"

	"github.com/aixgo-dev/flightagent/pkg/apperror"
	"github.com/aixgo-dev/flightagent/pkg/security"
)

// Gate blocks turns and tool calls that the filter rejects.
type Gate struct {
	filter *security.Filter
}

// New creates a gate over filter. A nil filter uses the default rules.
func New(filter *security.Filter) *Gate {
	if filter == nil {
		filter = security.NewFilter(nil)
	}
	return &Gate{filter: filter}
}

// Filter returns the underlying filter.
func (g *Gate) Filter() *security.Filter { return g.filter }

// CheckTurn classifies the latest message of a turn. Earlier messages were
// checked when they arrived. An empty turn, or a latest message without
// text, proceeds.
func (g *Gate) CheckTurn(ctx context.Context, messages []any) error {
	if len(messages) == 0 {
		return nil
	}
	text, ok := ExtractText(messages[len(messages)-1])
	if !ok {
		return nil
	}
	if v := g.filter.ClassifyText(ctx, text); v.Blocked() {
		return apperror.Security(v.Reason)
	}
	return nil
}

// CheckToolCall classifies the string arguments of a tool call before the
// tool runs.
func (g *Gate) CheckToolCall(ctx context.Context, function string, args map[string]any) error {
	if len(args) == 0 {
		return nil
	}
	if v := g.filter.ClassifyArguments(ctx, function, args); v.Blocked() {
		return apperror.Security(v.Reason)
	}
	return nil
}
