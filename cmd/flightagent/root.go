package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aixgo-dev/flightagent"
	"github.com/aixgo-dev/flightagent/pkg/config"
)

// cli carries the state shared by all commands.
type cli struct {
	configPath string
	logLevel   string

	in     io.Reader
	out    io.Writer
	errOut io.Writer

	// appOptions are passed to flightagent.New after the logger.
	appOptions []flightagent.Option
}

func newCLI() *cli {
	return &cli{
		configPath: os.Getenv("FLIGHTAGENT_CONFIG"),
		in:         os.Stdin,
		out:        os.Stdout,
		errOut:     os.Stderr,
	}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "flightagent",
		Short: "Flight price and chart copilot",
		Long: `flightagent answers flight price questions. A copilot routes each question
through a guarded two-stage pipeline: a price agent extracts structured flight
data and a chart agent renders it through an MCP chart server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	root.SetIn(c.in)
	root.SetOut(c.out)
	root.SetErr(c.errOut)

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", c.configPath, "Path to YAML configuration file")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Override the configured log level")

	root.AddCommand(
		newServeCmd(c),
		newChatCmd(c),
		newAskCmd(c),
		newRulesCmd(c),
		newConfigCmd(c),
	)
	return root
}

func (c *cli) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	return cfg, nil
}

func (c *cli) logger(cfg *config.Config) *slog.Logger {
	return flightagent.NewLogger(cfg.Log, c.errOut)
}

// newApp loads the configuration and builds the app.
func (c *cli) newApp(ctx context.Context) (*flightagent.App, *slog.Logger, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := c.logger(cfg)
	opts := append([]flightagent.Option{flightagent.WithLogger(logger)}, c.appOptions...)
	app, err := flightagent.New(ctx, cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	return app, logger, nil
}

func newRulesCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "Print the effective security rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			rules, err := flightagent.NewRuleSet(cfg.Security)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(rulesView{
				MaxInputLength:    rules.MaxInputLength(),
				InjectionPatterns: rules.InjectionPatterns(),
				SensitiveKeywords: rules.SensitiveKeywords(),
			})
			if err != nil {
				return fmt.Errorf("failed to marshal rules: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

type rulesView struct {
	MaxInputLength    int      `yaml:"max_input_length"`
	InjectionPatterns []string `yaml:"injection_patterns"`
	SensitiveKeywords []string `yaml:"sensitive_keywords"`
}

func newConfigCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			data, err := cfg.Redacted().Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and security rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if _, err := flightagent.NewRuleSet(cfg.Security); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("configuration is valid"))
			return nil
		},
	})
	return cmd
}
