package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(c *cli) *cobra.Command {
	var (
		addr          string
		metricsAddr   string
		idle          time.Duration
		sweepSchedule string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and the metrics endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			app, logger, err := c.newApp(ctx)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()
				if err := app.Close(closeCtx); err != nil {
					logger.Error("shutdown", "error", err)
				}
			}()

			cfg := app.Config()
			if addr != "" {
				cfg.Server.Address = addr
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.Observability.MetricsAddress = metricsAddr
			}

			api := app.APIServer()
			apiServer := &http.Server{
				Addr:              cfg.Server.Address,
				Handler:           api.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				// Answers wait on two model stages and the chart server.
				WriteTimeout: cfg.Model.Timeout + 30*time.Second,
				IdleTimeout:  120 * time.Second,
			}

			sweep, err := startSweeper(sweepSchedule, idle, api, logger)
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.Info("starting API server", "address", apiServer.Addr, "version", Version)
				if err := apiServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})

			if cfg.Observability.MetricsAddress != "" {
				metricsServer := app.MetricsServer()
				g.Go(func() error {
					logger.Info("starting metrics server", "address", cfg.Observability.MetricsAddress)
					return metricsServer.Start()
				})
				g.Go(func() error {
					<-gctx.Done()
					return shutdown(ctx, metricsServer.Shutdown)
				})
			}

			g.Go(func() error {
				<-gctx.Done()
				<-sweep.Stop().Done()
				return nil
			})

			g.Go(func() error {
				<-gctx.Done()
				logger.Info("shutting down")
				return shutdown(ctx, apiServer.Shutdown)
			})

			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "API listen address (overrides server.address)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Metrics listen address; empty disables it")
	cmd.Flags().DurationVar(&idle, "session-idle", 30*time.Minute, "Drop copilots idle for longer than this")
	cmd.Flags().StringVar(&sweepSchedule, "sweep-schedule", defaultSweepSchedule, "Cron schedule of the idle sweep")
	return cmd
}

func shutdown(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return fn(ctx)
}
