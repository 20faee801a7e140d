package security

import (
	"strings"
	"testing"
)

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		absent  []string
		present []string
	}{
		{
			name:    "ip address",
			input:   "dial tcp 10.1.2.3:6379: connection refused",
			absent:  []string{"10.1.2.3"},
			present: []string{"[IP_ADDRESS]", "connection refused"},
		},
		{
			name:    "api key",
			input:   "openai: invalid key sk-abcdefghijklmnop1234",
			absent:  []string{"sk-abcdefghijklmnop1234"},
			present: []string{"[REDACTED]"},
		},
		{
			name:    "file path and line",
			input:   "open /home/dev/app/config.yaml: failed at main.go:42",
			absent:  []string{"/home/dev", "main.go:42"},
			present: []string{"[PATH]/", "[FILE:LINE]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeErrorMessage(tt.input)
			for _, s := range tt.absent {
				if strings.Contains(got, s) {
					t.Errorf("SanitizeErrorMessage(%q) = %q, should not contain %q", tt.input, got, s)
				}
			}
			for _, s := range tt.present {
				if !strings.Contains(got, s) {
					t.Errorf("SanitizeErrorMessage(%q) = %q, should contain %q", tt.input, got, s)
				}
			}
		})
	}
}

func TestExcerpt(t *testing.T) {
	if got := Excerpt("  short  ", 10); got != "short" {
		t.Errorf("Excerpt() = %q, want %q", got, "short")
	}
	if got := Excerpt("東京から北京まで", 4); got != "東京から..." {
		t.Errorf("Excerpt() = %q", got)
	}
	if got := Excerpt("my password=hunter2 please", 80); strings.Contains(got, "hunter2") {
		t.Errorf("Excerpt() leaked secret: %q", got)
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"short", "****"},
		{"sk-1234567890abcdef", "sk-1****cdef"},
	}
	for _, tt := range tests {
		if got := MaskSecret(tt.in); got != tt.want {
			t.Errorf("MaskSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
