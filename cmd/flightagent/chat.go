package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/aixgo-dev/flightagent/agents"
	"github.com/aixgo-dev/flightagent/internal/api"
	"github.com/aixgo-dev/flightagent/pkg/history"
)

const chatPrompt = "you> "

// prompter reads one line of input. *liner.State satisfies it.
type prompter interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

func newChatCmd(c *cli) *cobra.Command {
	var sessionID, threadID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the copilot in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			app, _, err := c.newApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close(context.WithoutCancel(ctx)) }()

			line := liner.NewLiner()
			defer func() { _ = line.Close() }()
			line.SetCtrlCAborts(true)

			session := &chatSession{
				newCopilot: app.NewCopilot,
				sessionID:  sessionID,
				threadID:   threadID,
				debug:      app.Config().Server.Debug,
			}
			return session.run(ctx, line, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Resume a session (default: new)")
	cmd.Flags().StringVar(&threadID, "thread", "", "Resume a thread (default: new)")
	return cmd
}

// chatSession is the state of one terminal conversation.
type chatSession struct {
	newCopilot func(sessionID, threadID string) *agents.Copilot
	sessionID  string
	threadID   string
	debug      bool

	copilot *agents.Copilot
}

func (s *chatSession) run(ctx context.Context, p prompter, out io.Writer) error {
	var err error
	s.sessionID, s.threadID, err = api.Resolve(s.sessionID, s.threadID)
	if err != nil {
		return err
	}
	s.copilot = s.newCopilot(s.sessionID, s.threadID)
	printWelcome(out, s.sessionID, s.threadID)

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		input, err := p.Prompt(chatPrompt)
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		p.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if quit := s.command(ctx, input, out); quit {
				return nil
			}
			continue
		}

		answer, err := s.copilot.Answer(ctx, input)
		if err != nil {
			printError(out, err, s.debug)
			continue
		}
		fmt.Fprintln(out, answerStyle.Render(answer))
	}
}

// command handles a slash command and reports whether the chat should end.
func (s *chatSession) command(ctx context.Context, input string, out io.Writer) bool {
	switch strings.ToLower(input) {
	case "/exit", "/quit":
		return true
	case "/new":
		s.threadID = history.NewThreadID()
		s.copilot = s.newCopilot(s.sessionID, s.threadID)
		fmt.Fprintln(out, hintStyle.Render("thread "+s.threadID))
	case "/history":
		msgs, err := s.copilot.History().ListMessages(ctx)
		if err != nil {
			printError(out, err, s.debug)
			return false
		}
		printMessages(out, msgs)
	case "/clear":
		if err := s.copilot.History().Clear(ctx); err != nil {
			printError(out, err, s.debug)
			return false
		}
		fmt.Fprintln(out, hintStyle.Render("thread cleared"))
	default:
		fmt.Fprintln(out, errorStyle.Render("unknown command "+input))
	}
	return false
}

func newAskCmd(c *cli) *cobra.Command {
	var sessionID, threadID string

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask one question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, _, err := c.newApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close(context.WithoutCancel(ctx)) }()

			sessionID, threadID, err = api.Resolve(sessionID, threadID)
			if err != nil {
				return err
			}
			answer, err := app.NewCopilot(sessionID, threadID).Answer(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), answer)
			return err
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session to continue (default: new)")
	cmd.Flags().StringVar(&threadID, "thread", "", "Thread to continue (default: new)")
	return cmd
}
