package security

import (
	"errors"
	"fmt"
	"os"
)

// RuleFile is the on-disk form of additional security rules.
//
//	max_input_length: 8000
//	injection_patterns:
//	  - 'reveal\s+your\s+instructions'
//	sensitive_keywords:
//	  - passport number
type RuleFile struct {
	MaxInputLength    int      `yaml:"max_input_length"`
	InjectionPatterns []string `yaml:"injection_patterns"`
	SensitiveKeywords []string `yaml:"sensitive_keywords"`
}

// LoadRuleFile reads a rule file. A missing file yields an empty RuleFile so
// deployments without one keep the built-in defaults.
func LoadRuleFile(path string) (*RuleFile, error) {
	rf := &RuleFile{}
	if path == "" {
		return rf, nil
	}

	f, err := os.Open(path) // #nosec G304 - operator-supplied configuration path
	if errors.Is(err, os.ErrNotExist) {
		return rf, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open rule file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := NewSafeYAMLParser(DefaultYAMLLimits()).UnmarshalYAMLFromReader(f, rf); err != nil {
		return nil, fmt.Errorf("parse rule file %s: %w", path, err)
	}
	return rf, nil
}

// Apply merges the file into rules. Patterns and keywords go through the
// normal deduplicating mutators; the length bound is replaced when set.
func (rf *RuleFile) Apply(rules *RuleSet) error {
	if rf.MaxInputLength > 0 {
		if err := rules.SetMaxInputLength(rf.MaxInputLength); err != nil {
			return err
		}
	}
	for _, expr := range rf.InjectionPatterns {
		if _, err := rules.AddInjectionPattern(expr); err != nil {
			return err
		}
	}
	for _, kw := range rf.SensitiveKeywords {
		rules.AddSensitiveKeyword(kw)
	}
	return nil
}
