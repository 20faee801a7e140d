package security

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	goroutinePattern = regexp.MustCompile(`goroutine \d+ \[[^\]]+\]:[\s\S]*?(?:\n\n|\z)`)
	fileLinePattern  = regexp.MustCompile(`\S+\.go:\d+`)
	addrPattern      = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	ipv4Pattern      = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	secretPattern    = regexp.MustCompile(`(?i)(sk-[A-Za-z0-9_\-]{8,}|(?:api[_-]?key|token|password|secret)\s*[=:]\s*\S+|bearer\s+[A-Za-z0-9._\-]{8,})`)
)

// SanitizeErrorMessage removes file paths, addresses, secrets and stack
// traces from an error message before it is shown to a client.
func SanitizeErrorMessage(msg string) string {
	msg = removeStackTraces(msg)
	msg = removeFilePaths(msg)
	msg = ipv4Pattern.ReplaceAllString(msg, "[IP_ADDRESS]")
	msg = RedactSecrets(msg)
	return msg
}

// RedactSecrets replaces values that look like API keys, tokens or
// credentials with [REDACTED].
func RedactSecrets(msg string) string {
	return secretPattern.ReplaceAllString(msg, "[REDACTED]")
}

// MaskSecret masks a secret for logging purposes
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****" + secret[len(secret)-4:]
}

// Excerpt returns at most n runes of text with secrets redacted, suitable for
// audit records.
func Excerpt(text string, n int) string {
	text = RedactSecrets(strings.TrimSpace(text))
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return string(runes[:n]) + "..."
}

func removeFilePaths(msg string) string {
	for _, prefix := range []string{"/Users/", "/home/", "/var/", "/etc/", "/opt/", "/tmp/", "/root/"} {
		msg = strings.ReplaceAll(msg, prefix, "[PATH]/")
	}
	return msg
}

func removeStackTraces(msg string) string {
	msg = goroutinePattern.ReplaceAllString(msg, "[STACK_TRACE_REMOVED]")
	msg = fileLinePattern.ReplaceAllString(msg, "[FILE:LINE]")
	msg = addrPattern.ReplaceAllString(msg, "[ADDR]")
	return msg
}
