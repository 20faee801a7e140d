package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const defaultSweepSchedule = "@every 1m"

// sweeper is the part of the API server the sweep job needs.
type sweeper interface {
	Sweep(idle time.Duration) (sessions, clients int)
}

// startSweeper schedules the idle-state sweep. Runs never overlap; a run
// still in progress skips the next tick. Stop the returned scheduler on
// shutdown.
func startSweeper(schedule string, idle time.Duration, s sweeper, logger *slog.Logger) (*cron.Cron, error) {
	cl := cronLogger{logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	_, err := c.AddFunc(schedule, func() {
		if sessions, clients := s.Sweep(idle); sessions+clients > 0 {
			logger.Debug("swept idle state", "sessions", sessions, "clients", clients)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	c.Start()
	return c, nil
}

// cronLogger routes scheduler logs to slog. Scheduler chatter goes to debug.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
