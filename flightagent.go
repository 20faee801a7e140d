// Package flightagent wires the configured components of the flight agent:
// the security rules and gate, the history backend, the model client, the
// chart tools, the two-stage pipeline and the per-thread copilots.
package flightagent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aixgo-dev/flightagent/agents"
	"github.com/aixgo-dev/flightagent/internal/api"
	"github.com/aixgo-dev/flightagent/internal/gate"
	"github.com/aixgo-dev/flightagent/internal/llm"
	"github.com/aixgo-dev/flightagent/internal/observability"
	"github.com/aixgo-dev/flightagent/internal/workflow"
	"github.com/aixgo-dev/flightagent/pkg/config"
	"github.com/aixgo-dev/flightagent/pkg/history"
	metrics "github.com/aixgo-dev/flightagent/pkg/observability"
	"github.com/aixgo-dev/flightagent/pkg/security"
)

// Version is the release reported by the API and health endpoints.
const Version = api.Version

// ChartToolbox is the tool source of the chart agent. The MCP toolbox
// satisfies it.
type ChartToolbox interface {
	llm.Toolbox
	io.Closer
}

// App holds the components built from one configuration.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	rules   *security.RuleSet
	audit   security.AuditLogger
	gate    *gate.Gate
	metrics *metrics.Metrics
	health  *metrics.HealthChecker

	backend    history.Backend
	client     llm.ChatClient
	chartTools ChartToolbox
	pipeline   *workflow.Pipeline

	tracing bool
}

// Option replaces a component built from configuration, mostly for tests
// and for commands that need only part of the app.
type Option func(*App)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithChatClient uses client instead of an OpenAI client.
func WithChatClient(client llm.ChatClient) Option {
	return func(a *App) { a.client = client }
}

// WithChartTools uses tools instead of starting the chart MCP server.
func WithChartTools(tools ChartToolbox) Option {
	return func(a *App) { a.chartTools = tools }
}

// WithBackend uses backend instead of the configured history backend.
func WithBackend(b history.Backend) Option {
	return func(a *App) { a.backend = b }
}

// New validates cfg and builds the app. Components are released by Close,
// also when New fails part way.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (app *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	if err := observability.Init(ctx, cfg.Observability.Config); err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.tracing = true

	a.metrics = metrics.NewMetrics()
	a.health = metrics.NewHealthChecker(Version)

	a.rules, err = NewRuleSet(cfg.Security)
	if err != nil {
		return nil, err
	}
	a.audit = security.NewNoOpAuditLogger()
	if cfg.Security.Audit {
		a.audit = security.NewSlogAuditLogger(a.logger)
	}
	a.gate = gate.New(security.NewFilter(a.rules,
		security.WithAuditLogger(a.audit),
		security.WithLogger(a.logger),
		security.WithObserver(a.metrics),
	))

	if a.backend == nil {
		a.backend, err = history.NewBackend(ctx, cfg.Store.BackendConfig)
		if err != nil {
			return nil, err
		}
	}
	a.health.RegisterCheck(metrics.StoreCheck(a.backend.Ping))

	if a.client == nil {
		client, err := llm.NewOpenAIClient(llm.Config{
			APIKey:  cfg.Model.APIKey,
			BaseURL: cfg.Model.BaseURL,
			Timeout: cfg.Model.Timeout,
		})
		if err != nil {
			return nil, err
		}
		a.client = client
	}

	if a.chartTools == nil {
		tools, err := llm.StartMCPToolbox(ctx, llm.MCPConfig{
			Command: cfg.Chart.Command,
			Args:    cfg.Chart.Args,
			Env:     cfg.Chart.Env,
		})
		if err != nil {
			return nil, err
		}
		a.chartTools = tools
	}
	if p, ok := a.chartTools.(interface{ Ping(context.Context) error }); ok {
		a.health.RegisterCheck(metrics.ExternalServiceCheck("chart_server", p.Ping))
	}

	extractor := llm.NewPriceExtractor(a.client, cfg.Model.Model, llm.LocalTools{agents.FlightPriceTool()},
		llm.WithExtractorGate(a.gate),
		llm.WithExtractorLogger(a.logger),
		llm.WithExtractorMaxIterations(cfg.Model.MaxIterations),
	)
	chart := llm.NewChartAgent(a.client, cfg.ChartModel(), a.chartTools,
		llm.WithChartGate(a.gate),
		llm.WithChartLogger(a.logger),
		llm.WithChartMaxIterations(cfg.Model.MaxIterations),
	)
	a.pipeline = workflow.New(extractor, chart,
		workflow.WithLogger(a.logger),
		workflow.WithObserver(a.metrics),
	)

	a.logger.InfoContext(ctx, "flight agent ready",
		"model", cfg.Model.Model,
		"chart_model", cfg.ChartModel(),
		"store", cfg.Store.Type,
		"injection_patterns", len(a.rules.InjectionPatterns()),
	)
	return a, nil
}

// NewRuleSet builds the security rules: the built-in defaults, then the
// inline configuration, then the rules file.
func NewRuleSet(cfg config.SecurityConfig) (*security.RuleSet, error) {
	rules := security.NewRuleSet()
	if err := cfg.RuleFile.Apply(rules); err != nil {
		return nil, fmt.Errorf("apply security config: %w", err)
	}
	rf, err := security.LoadRuleFile(cfg.RulesFile)
	if err != nil {
		return nil, err
	}
	if err := rf.Apply(rules); err != nil {
		return nil, fmt.Errorf("apply rules file %s: %w", cfg.RulesFile, err)
	}
	return rules, nil
}

// Config returns the configuration the app was built from.
func (a *App) Config() *config.Config { return a.cfg }

// Rules returns the shared security rules.
func (a *App) Rules() *security.RuleSet { return a.rules }

// Metrics returns the Prometheus metrics.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Health returns the health checker.
func (a *App) Health() *metrics.HealthChecker { return a.health }

// Pipeline returns the flight workflow.
func (a *App) Pipeline() *workflow.Pipeline { return a.pipeline }

// NewCopilot builds the copilot of one thread. Its history lives in the
// shared backend.
func (a *App) NewCopilot(sessionID, threadID string) *agents.Copilot {
	store := history.NewStore(a.backend, a.cfg.HistoryConfig(sessionID, threadID),
		history.WithLogger(a.logger),
		history.WithObserver(a.metrics),
	)
	return agents.NewCopilot(a.client, store, a.gate, llm.LocalTools{agents.WorkflowTool(a.pipeline)},
		agents.WithModel(a.cfg.Model.Model),
		agents.WithMaxIterations(a.cfg.Model.MaxIterations),
		agents.WithLogger(a.logger),
		agents.WithObserver(a.metrics),
	)
}

// APIServer builds the HTTP boundary.
func (a *App) APIServer() *api.Server {
	opts := []api.Option{
		api.WithRecorder(a.metrics),
		api.WithLogger(a.logger),
	}
	if a.cfg.Server.RateLimitRPS > 0 {
		opts = append(opts, api.WithRateLimiter(security.NewRateLimiter(a.cfg.Server.RateLimitRPS, a.cfg.Server.RateLimitBurst)))
	}
	if a.cfg.Server.AdminToken == "" {
		a.logger.Warn("rule administration routes are not protected; set server.admin_token")
	}
	return api.NewServer(api.Config{
		Debug:       a.cfg.Server.Debug,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		AdminToken:  a.cfg.Server.AdminToken,
	}, api.NewSessions(a.NewCopilot), a.rules, opts...)
}

// MetricsServer builds the health and metrics listener.
func (a *App) MetricsServer() *metrics.Server {
	return metrics.NewServer(a.cfg.Observability.MetricsAddress, a.metrics, a.health)
}

// Close releases the chart server, the backend and the tracer provider.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.chartTools != nil {
		errs = append(errs, a.chartTools.Close())
	}
	if a.backend != nil {
		errs = append(errs, a.backend.Close())
	}
	if a.audit != nil {
		errs = append(errs, a.audit.Close())
	}
	if a.tracing {
		errs = append(errs, observability.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// NewLogger builds the process logger. Unknown levels fall back to info.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
