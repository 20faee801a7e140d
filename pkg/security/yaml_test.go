package security

import (
	"fmt"
	"strings"
	"testing"
)

func TestSafeYAMLParser_BasicParsing(t *testing.T) {
	parser := NewSafeYAMLParser(DefaultYAMLLimits())

	var out struct {
		Server struct {
			Address string `yaml:"address"`
			Debug   bool   `yaml:"debug"`
		} `yaml:"server"`
		Patterns []string `yaml:"patterns"`
	}

	data := []byte(`
server:
  address: ":8000"
  debug: true
patterns:
  - 'jailbreak'
  - 'act\s+as\s+if'
`)
	if err := parser.UnmarshalYAML(data, &out); err != nil {
		t.Fatalf("UnmarshalYAML() error = %v", err)
	}
	if out.Server.Address != ":8000" || !out.Server.Debug {
		t.Errorf("server = %+v", out.Server)
	}
	if len(out.Patterns) != 2 || out.Patterns[1] != `act\s+as\s+if` {
		t.Errorf("patterns = %v", out.Patterns)
	}
}

func TestSafeYAMLParser_Empty(t *testing.T) {
	parser := NewSafeYAMLParser(DefaultYAMLLimits())
	var out map[string]any
	if err := parser.UnmarshalYAML(nil, &out); err != nil {
		t.Errorf("UnmarshalYAML(nil) error = %v", err)
	}
}

func TestSafeYAMLParser_Limits(t *testing.T) {
	tests := []struct {
		name   string
		limits func(*YAMLLimits)
		data   string
	}{
		{
			name:   "file size",
			limits: func(l *YAMLLimits) { l.MaxFileSize = 10 },
			data:   "key: this value is long enough",
		},
		{
			name:   "depth",
			limits: func(l *YAMLLimits) { l.MaxDepth = 2 },
			data:   "a:\n  b:\n    c:\n      d: 1\n",
		},
		{
			name:   "node count",
			limits: func(l *YAMLLimits) { l.MaxNodes = 5 },
			data:   "items: [1, 2, 3, 4, 5, 6]",
		},
		{
			name:   "key length",
			limits: func(l *YAMLLimits) { l.MaxKeyLength = 4 },
			data:   "verylongkey: 1",
		},
		{
			name:   "value size",
			limits: func(l *YAMLLimits) { l.MaxValueSize = 4 },
			data:   "k: abcdefgh",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limits := DefaultYAMLLimits()
			tt.limits(&limits)
			var out any
			if err := NewSafeYAMLParser(limits).UnmarshalYAML([]byte(tt.data), &out); err == nil {
				t.Errorf("UnmarshalYAML(%q) should fail", tt.data)
			}
		})
	}
}

func TestSafeYAMLParser_AliasBomb(t *testing.T) {
	var b strings.Builder
	b.WriteString("a: &a [x, x, x, x, x, x, x, x, x, x]\n")
	prev := "a"
	for i := 0; i < 8; i++ {
		name := fmt.Sprintf("l%d", i)
		fmt.Fprintf(&b, "%s: &%s [*%s, *%s, *%s, *%s, *%s, *%s, *%s, *%s, *%s, *%s]\n", name, name, prev, prev, prev, prev, prev, prev, prev, prev, prev, prev)
		prev = name
	}

	var out any
	if err := NewSafeYAMLParser(DefaultYAMLLimits()).UnmarshalYAML([]byte(b.String()), &out); err == nil {
		t.Error("alias expansion should exceed the node limit")
	}
}

func TestSafeYAMLParser_FromReader(t *testing.T) {
	limits := DefaultYAMLLimits()
	limits.MaxFileSize = 16

	var out any
	err := NewSafeYAMLParser(limits).UnmarshalYAMLFromReader(strings.NewReader(strings.Repeat("k: v\n", 10)), &out)
	if err == nil {
		t.Error("oversized reader input should fail")
	}

	err = NewSafeYAMLParser(DefaultYAMLLimits()).UnmarshalYAMLFromReader(strings.NewReader("k: v\n"), &out)
	if err != nil {
		t.Errorf("UnmarshalYAMLFromReader() error = %v", err)
	}
}
