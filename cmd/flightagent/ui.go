package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/aixgo-dev/flightagent/pkg/apperror"
	"github.com/aixgo-dev/flightagent/pkg/history"
	"github.com/aixgo-dev/flightagent/pkg/security"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))

	answerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981"))

	roleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3B82F6"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)
)

func printWelcome(w io.Writer, sessionID, threadID string) {
	fmt.Fprintln(w, titleStyle.Render("✈ flightagent "+Version))
	fmt.Fprintln(w, hintStyle.Render(fmt.Sprintf("session %s  thread %s", sessionID, threadID)))
	fmt.Fprintln(w, hintStyle.Render("/new starts a thread, /history lists it, /clear empties it, /exit quits"))
}

// printError shows the user-facing message of err. Detail is redacted and
// only shown in debug mode.
func printError(w io.Writer, err error, debug bool) {
	_, resp := apperror.ToResponse(err, debug, security.SanitizeErrorMessage)
	line := resp.Error + ": " + resp.Message
	if resp.Detail != "" {
		line += " (" + resp.Detail + ")"
	}
	fmt.Fprintln(w, errorStyle.Render(line))
}

func printMessages(w io.Writer, msgs []history.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, hintStyle.Render("(no messages)"))
		return
	}
	for _, m := range msgs {
		text, ok := m.Text()
		if !ok {
			text = fmt.Sprint(m.Content)
		}
		role := string(m.Role)
		if m.Name != "" {
			role += "/" + m.Name
		}
		fmt.Fprintf(w, "%s %s\n", roleStyle.Render(role+":"), text)
	}
}
