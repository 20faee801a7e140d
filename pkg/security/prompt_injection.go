// Package security guards the flight agent against prompt injection and
// oversized input, and audits mentions of sensitive data.
package security

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// DefaultMaxInputLength is the default bound on classified text, in runes.
const DefaultMaxInputLength = 10000

// DefaultInjectionPatterns are phrase-level expressions matched
// case-insensitively. Words are separated by \s+ so irregular spacing does
// not defeat them, while ordinary uses of a single word ("don't ignore my
// request") do not match.
var DefaultInjectionPatterns = []string{
	`ignore\s+(all\s+)?(previous|above|prior)?\s*(instructions|prompts|rules)`,
	`system\s+prompt`,
	`jailbreak`,
	`act\s+as\s+if`,
	`pretend\s+(you\s+are|to\s+be)`,
	`role\s*:\s*system`,
	`override\s+(instructions|system|rules|settings)`,
	`disregard\s+(all\s+)?(previous|above|prior)`,
	`you\s+are\s+now`,
	`forget\s+(everything|all\s+previous)`,
}

// DefaultSensitiveKeywords are terms whose presence is audited but never
// blocked.
var DefaultSensitiveKeywords = []string{
	"password",
	"credit card",
	"ssn",
	"social security",
	"api key",
	"secret",
	"token",
	"private key",
}

// ErrInvalidMaxInputLength is returned when a non-positive bound is set.
var ErrInvalidMaxInputLength = errors.New("max input length must be positive")

// InjectionPattern is a compiled injection rule.
type InjectionPattern struct {
	// Expr is the expression as added, used for deduplication.
	Expr  string
	regex *regexp.Regexp
}

// RuleSet holds the injection patterns, sensitive keywords and length bound
// shared by every Filter built on it. It is safe for concurrent use; readers
// may observe the previous value of a rule while it is being replaced.
type RuleSet struct {
	mu             sync.RWMutex
	patterns       []InjectionPattern
	keywords       []string
	maxInputLength int
}

// NewRuleSet returns a rule set initialized with the built-in defaults.
func NewRuleSet() *RuleSet {
	r := NewEmptyRuleSet(DefaultMaxInputLength)
	for _, expr := range DefaultInjectionPatterns {
		// Defaults are known to compile.
		_, _ = r.AddInjectionPattern(expr)
	}
	for _, kw := range DefaultSensitiveKeywords {
		r.AddSensitiveKeyword(kw)
	}
	return r
}

// NewEmptyRuleSet returns a rule set with no patterns or keywords.
func NewEmptyRuleSet(maxInputLength int) *RuleSet {
	if maxInputLength <= 0 {
		maxInputLength = DefaultMaxInputLength
	}
	return &RuleSet{maxInputLength: maxInputLength}
}

// AddInjectionPattern appends expr unless an identical expression is already
// present. It reports whether the pattern was added. Matching is always
// case-insensitive.
func (r *RuleSet) AddInjectionPattern(expr string) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return false, errors.New("injection pattern cannot be empty")
	}

	re, err := regexp.Compile(`(?i)` + expr)
	if err != nil {
		return false, fmt.Errorf("compile injection pattern %q: %w", expr, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.patterns {
		if p.Expr == expr {
			return false, nil
		}
	}
	r.patterns = append(r.patterns, InjectionPattern{Expr: expr, regex: re})
	return true, nil
}

// AddSensitiveKeyword appends word unless it is already present under
// case-insensitive comparison. It reports whether the keyword was added.
func (r *RuleSet) AddSensitiveKeyword(word string) bool {
	word = strings.TrimSpace(word)
	if word == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, kw := range r.keywords {
		if strings.EqualFold(kw, word) {
			return false
		}
	}
	r.keywords = append(r.keywords, word)
	return true
}

// SetMaxInputLength replaces the length bound.
func (r *RuleSet) SetMaxInputLength(n int) error {
	if n <= 0 {
		return ErrInvalidMaxInputLength
	}
	r.mu.Lock()
	r.maxInputLength = n
	r.mu.Unlock()
	return nil
}

// MaxInputLength returns the current length bound.
func (r *RuleSet) MaxInputLength() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.maxInputLength
}

// InjectionPatterns returns a copy of the pattern expressions in order.
func (r *RuleSet) InjectionPatterns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.patterns))
	for i, p := range r.patterns {
		out[i] = p.Expr
	}
	return out
}

// SensitiveKeywords returns a copy of the keywords in order.
func (r *RuleSet) SensitiveKeywords() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.keywords...)
}

// matchInjection returns the first pattern that matches text.
func (r *RuleSet) matchInjection(text string) (string, bool) {
	r.mu.RLock()
	patterns := r.patterns
	r.mu.RUnlock()

	for _, p := range patterns {
		if p.regex.MatchString(text) {
			return p.Expr, true
		}
	}
	return "", false
}

// matchSensitive returns every keyword contained in text.
func (r *RuleSet) matchSensitive(text string) []string {
	r.mu.RLock()
	keywords := r.keywords
	r.mu.RUnlock()

	lower := strings.ToLower(text)
	var matched []string
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			matched = append(matched, kw)
		}
	}
	return matched
}

// normalizeInput strips invisible characters that would otherwise split a
// phrase without showing up as whitespace.
func normalizeInput(input string) string {
	if !strings.ContainsFunc(input, isZeroWidth) {
		return input
	}
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if isZeroWidth(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isZeroWidth(r rune) bool {
	switch r {
	case '\u200B', '\u200C', '\u200D', '\uFEFF', '\u00AD', '\u2060':
		return true
	}
	return false
}
