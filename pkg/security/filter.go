package security

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// Source identifies the call site that supplied classified text. The two
// sources share rule evaluation but word their block reasons differently.
type Source string

const (
	SourceConversation Source = "conversation"
	SourceToolArgument Source = "tool_argument"
)

// Rule names the check that blocked an input.
type Rule string

const (
	RuleLength    Rule = "length"
	RuleInjection Rule = "injection"
)

// Block reasons shown to end users.
const (
	ReasonInterference = "Your input contains content that may interfere with the system. Please rephrase your request."
	ReasonSuspicious   = "suspicious content"
)

const excerptLength = 80

// Verdict is the outcome of classifying untrusted text.
type Verdict struct {
	Allowed bool
	// Reason is a user-safe explanation, set when the input is blocked.
	Reason string
	Rule   Rule
	// Pattern is the injection expression that matched, if any.
	Pattern string
	// Function and Argument identify the offending tool argument.
	Function string
	Argument string
	// Sensitive lists sensitive keywords found in allowed text.
	Sensitive []string
}

// Blocked reports whether the verdict rejects the input.
func (v Verdict) Blocked() bool { return !v.Allowed }

// Observer receives classification outcomes, typically to update metrics.
type Observer interface {
	ObserveBlocked(source string, rule string)
	ObserveSensitive(source string)
}

// Filter classifies untrusted text against a RuleSet.
type Filter struct {
	rules    *RuleSet
	audit    AuditLogger
	logger   *slog.Logger
	observer Observer
}

// FilterOption configures a Filter.
type FilterOption func(*Filter)

// WithAuditLogger sets the audit logger. The default discards events.
func WithAuditLogger(l AuditLogger) FilterOption {
	return func(f *Filter) {
		if l != nil {
			f.audit = l
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) FilterOption {
	return func(f *Filter) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithObserver sets the classification observer.
func WithObserver(o Observer) FilterOption {
	return func(f *Filter) { f.observer = o }
}

// NewFilter creates a filter that reads rules on every call, so changes to
// the RuleSet take effect immediately. A nil rule set selects the defaults.
func NewFilter(rules *RuleSet, opts ...FilterOption) *Filter {
	if rules == nil {
		rules = NewRuleSet()
	}
	f := &Filter{
		rules:  rules,
		audit:  NewNoOpAuditLogger(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Rules returns the shared rule set.
func (f *Filter) Rules() *RuleSet { return f.rules }

// ClassifyText classifies conversational input.
func (f *Filter) ClassifyText(ctx context.Context, text string) Verdict {
	v := f.classify(ctx, text, SourceConversation)
	if v.Blocked() {
		f.report(ctx, &v, SourceConversation, text)
	}
	return v
}

// ClassifyArguments classifies every string-valued argument of a tool call.
// Non-string values are skipped. The first blocked argument, in key order,
// blocks the whole call.
func (f *Filter) ClassifyArguments(ctx context.Context, function string, args map[string]any) Verdict {
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	var sensitive []string
	for _, name := range names {
		s, ok := args[name].(string)
		if !ok {
			continue
		}

		v := f.classify(ctx, s, SourceToolArgument)
		v.Function = function
		v.Argument = name
		if v.Blocked() {
			switch v.Rule {
			case RuleLength:
				v.Reason = fmt.Sprintf("Argument %q of %s exceeds maximum length of %d characters", name, function, f.rules.MaxInputLength())
			default:
				v.Reason = fmt.Sprintf("Arguments of %s contain %s", function, ReasonSuspicious)
			}
			f.report(ctx, &v, SourceToolArgument, s)
			return v
		}
		sensitive = append(sensitive, v.Sensitive...)
	}

	return Verdict{Allowed: true, Function: function, Sensitive: sensitive}
}

func (f *Filter) classify(ctx context.Context, text string, source Source) Verdict {
	limit := f.rules.MaxInputLength()
	if utf8.RuneCountInString(text) > limit {
		return Verdict{
			Reason: fmt.Sprintf("Input exceeds maximum length of %d characters", limit),
			Rule:   RuleLength,
		}
	}

	if strings.TrimSpace(text) == "" {
		return Verdict{Allowed: true}
	}

	normalized := normalizeInput(text)
	if expr, ok := f.rules.matchInjection(normalized); ok {
		return Verdict{
			Reason:  ReasonInterference,
			Rule:    RuleInjection,
			Pattern: expr,
		}
	}

	matched := f.rules.matchSensitive(normalized)
	if len(matched) > 0 {
		f.logger.WarnContext(ctx, "sensitive keywords detected in input",
			"source", source,
			"keywords", matched,
		)
		f.audit.Log(ctx, &AuditEvent{
			Timestamp: time.Now().UTC(),
			EventType: EventSensitiveContent,
			Source:    source,
			Matched:   matched,
			Excerpt:   Excerpt(text, excerptLength),
		})
		if f.observer != nil {
			f.observer.ObserveSensitive(string(source))
		}
	}

	return Verdict{Allowed: true, Sensitive: matched}
}

func (f *Filter) report(ctx context.Context, v *Verdict, source Source, text string) {
	f.logger.WarnContext(ctx, "input blocked by security filter",
		"source", source,
		"rule", v.Rule,
		"pattern", v.Pattern,
		"function", v.Function,
		"argument", v.Argument,
	)

	event := &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventInputBlocked,
		Source:    source,
		Function:  v.Function,
		Argument:  v.Argument,
		Rule:      v.Rule,
		Excerpt:   Excerpt(text, excerptLength),
	}
	if v.Pattern != "" {
		event.Matched = []string{v.Pattern}
	}
	f.audit.Log(ctx, event)

	if f.observer != nil {
		f.observer.ObserveBlocked(string(source), string(v.Rule))
	}
}
