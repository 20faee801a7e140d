package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/aixgo-dev/flightagent/internal/observability"
	"github.com/aixgo-dev/flightagent/pkg/apperror"
	"github.com/aixgo-dev/flightagent/pkg/history"
	"github.com/aixgo-dev/flightagent/pkg/security"
)

// Defaults applied before the file and environment are read.
const (
	DefaultAddress        = ":8000"
	DefaultMetricsAddress = ":9090"
	DefaultModel          = "gpt-4o-mini"
	DefaultMaxIterations  = 5
	DefaultModelTimeout   = 120 * time.Second
	DefaultRateLimitRPS   = 5
	DefaultRateLimitBurst = 10
	DefaultChartCommand   = "npx"
	DefaultEnvFile        = ".env"
)

// DefaultChartArgs start the chart MCP server through npx.
var DefaultChartArgs = []string{"-y", "@antv/mcp-server-chart"}

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Model         ModelConfig         `yaml:"model"`
	Chart         ChartConfig         `yaml:"chart"`
	Store         StoreConfig         `yaml:"store"`
	Security      SecurityConfig      `yaml:"security"`
	Observability ObservabilityConfig `yaml:"observability"`
	Log           LogConfig           `yaml:"log"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Address string `yaml:"address"`
	// Debug exposes error detail in API responses.
	Debug          bool     `yaml:"debug"`
	CORSOrigins    []string `yaml:"cors_origins"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
	// AdminToken protects the rule administration routes.
	AdminToken string `yaml:"admin_token"`
}

// ModelConfig configures the OpenAI-compatible endpoint.
type ModelConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	// ChartModel drives the chart agent. Empty uses Model.
	ChartModel    string        `yaml:"chart_model"`
	MaxIterations int           `yaml:"max_iterations"`
	Timeout       time.Duration `yaml:"timeout"`
}

// ChartConfig starts the chart MCP server.
type ChartConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env"`
}

// StoreConfig selects the history backend and names the container.
type StoreConfig struct {
	history.BackendConfig `yaml:",inline"`

	ContainerName string `yaml:"container_name"`
	DatabaseName  string `yaml:"database_name"`
	MaxMessages   *int   `yaml:"max_messages"`
}

// SecurityConfig extends the built-in rules. Inline rules are applied before
// the rules file.
type SecurityConfig struct {
	security.RuleFile `yaml:",inline"`

	RulesFile string `yaml:"rules_file"`
	// Audit sends security events to the structured log.
	Audit bool `yaml:"audit"`
}

// ObservabilityConfig configures tracing and the metrics listener.
type ObservabilityConfig struct {
	observability.Config `yaml:",inline"`

	// MetricsAddress serves /metrics and /health. Empty disables it.
	MetricsAddress string `yaml:"metrics_address"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:        DefaultAddress,
			Debug:          true,
			CORSOrigins:    []string{"*"},
			RateLimitRPS:   DefaultRateLimitRPS,
			RateLimitBurst: DefaultRateLimitBurst,
		},
		Model: ModelConfig{
			Model:         DefaultModel,
			MaxIterations: DefaultMaxIterations,
			Timeout:       DefaultModelTimeout,
		},
		Chart: ChartConfig{
			Command: DefaultChartCommand,
			Args:    append([]string(nil), DefaultChartArgs...),
		},
		Store: StoreConfig{
			BackendConfig: history.BackendConfig{Type: history.BackendMemory},
			ContainerName: history.DefaultContainerName,
			DatabaseName:  history.DefaultDatabaseName,
		},
		Security: SecurityConfig{Audit: true},
		Observability: ObservabilityConfig{
			Config: observability.Config{
				ServiceName: observability.DefaultServiceName,
				Exporter:    observability.ExporterNone,
			},
			MetricsAddress: DefaultMetricsAddress,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration: a .env file in the working directory is
// loaded into the environment (existing variables win), defaults are applied,
// the YAML file at path is decoded over them, and environment variables
// override the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	if err := LoadEnvFile(DefaultEnvFile); err != nil {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv(os.LookupEnv)
	return cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from file into the process environment
// without replacing variables that are already set. A missing file is not an
// error.
func LoadEnvFile(file string) error {
	err := godotenv.Load(file)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", file, err)
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path) // #nosec G304 - operator-supplied configuration path
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	limits := security.DefaultYAMLLimits()
	if info.Size() > limits.MaxFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), limits.MaxFileSize)
	}

	if err := security.NewSafeYAMLParser(limits).UnmarshalYAMLFromReader(f, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// applyEnv overrides fields from set, non-empty environment variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	str("OPENAI_API_KEY", &c.Model.APIKey)
	str("OPENAI_BASE_URL", &c.Model.BaseURL)
	str("OPENAI_MODEL", &c.Model.Model)
	str("FLIGHTAGENT_ADDR", &c.Server.Address)
	str("FLIGHTAGENT_ADMIN_TOKEN", &c.Server.AdminToken)
	str("FLIGHTAGENT_STORE_BACKEND", &c.Store.Type)
	str("REDIS_ADDR", &c.Store.Redis.Addr)
	str("REDIS_PASSWORD", &c.Store.Redis.Password)
	str("FIRESTORE_PROJECT_ID", &c.Store.Firestore.ProjectID)
	str("GOOGLE_APPLICATION_CREDENTIALS", &c.Store.Firestore.CredentialsFile)
	str("OTEL_EXPORTER", &c.Observability.Exporter)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Observability.OTLPEndpoint)

	if v, ok := lookup("DEBUG"); ok && strings.TrimSpace(v) != "" {
		debug, err := strconv.ParseBool(strings.TrimSpace(v))
		c.Server.Debug = err == nil && debug
	}
}

// Validate reports missing or inconsistent settings as configuration errors.
// The model API key is checked when the client is built, so commands that
// never call the model run without one.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case "", history.BackendMemory, history.BackendFile:
	case history.BackendRedis:
		if c.Store.Redis.Addr == "" {
			return apperror.Configuration("Redis address is not configured")
		}
	case history.BackendFirestore:
		if c.Store.Firestore.ProjectID == "" {
			return apperror.Configuration("Firestore project ID is not configured")
		}
	default:
		return apperror.Configuration(fmt.Sprintf("unknown history backend %q", c.Store.Type))
	}

	if c.Store.MaxMessages != nil && *c.Store.MaxMessages < 0 {
		return apperror.Configuration("store.max_messages must not be negative")
	}
	if c.Model.Model == "" {
		return apperror.Configuration("model.model is required")
	}
	if c.Model.MaxIterations <= 0 {
		return apperror.Configuration("model.max_iterations must be positive")
	}
	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		return apperror.Configuration("server rate limits must not be negative")
	}
	if c.Security.MaxInputLength < 0 {
		return apperror.Configuration("security.max_input_length must not be negative")
	}

	switch c.Observability.Exporter {
	case "", observability.ExporterNone, observability.ExporterStdout, observability.ExporterOTLP:
	default:
		return apperror.Configuration(fmt.Sprintf("unknown tracing exporter %q", c.Observability.Exporter))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return apperror.Configuration(fmt.Sprintf("unknown log format %q", c.Log.Format))
	}
	return nil
}

// ChartModel returns the model used by the chart agent.
func (c *Config) ChartModel() string {
	if c.Model.ChartModel != "" {
		return c.Model.ChartModel
	}
	return c.Model.Model
}

// HistoryConfig returns the store identity for one thread.
func (c *Config) HistoryConfig(sessionID, threadID string) history.StoreConfig {
	return history.StoreConfig{
		SessionID:     sessionID,
		ThreadID:      threadID,
		ContainerName: c.Store.ContainerName,
		DatabaseName:  c.Store.DatabaseName,
		MaxMessages:   c.Store.MaxMessages,
	}
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.Model.APIKey = security.MaskSecret(c.Model.APIKey)
	out.Server.AdminToken = security.MaskSecret(c.Server.AdminToken)
	out.Store.Redis.Password = security.MaskSecret(c.Store.Redis.Password)
	out.Observability.OTLPHeaders = security.MaskSecret(c.Observability.OTLPHeaders)
	return &out
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}
