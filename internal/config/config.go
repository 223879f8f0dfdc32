// Package config loads the tripgraph application configuration from a YAML
// file and TRIPGRAPH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendMySQL  = "mysql"
	BackendRedis  = "redis"
)

// Model providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// Config is the application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Model    ModelConfig    `yaml:"model"`
	Engine   EngineConfig   `yaml:"engine"`
	Services ServicesConfig `yaml:"services"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`

	// Keys are read from the environment only.
	Keys Keys `yaml:"-"`
}

// StoreConfig selects the checkpoint store.
type StoreConfig struct {
	Backend  string        `yaml:"backend"`
	Path     string        `yaml:"path"`
	DSN      string        `yaml:"dsn"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

// ModelConfig selects the chat model.
type ModelConfig struct {
	Provider string `yaml:"provider"`
	Name     string `yaml:"name"`
}

// EngineConfig tunes the graph engine.
type EngineConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent"`
	NodeTimeout   time.Duration `yaml:"node_timeout"`
}

// ServicesConfig points the planner at its external services. Empty URLs
// use the public endpoints.
type ServicesConfig struct {
	GeocodeURL  string        `yaml:"geocode_url"`
	ForecastURL string        `yaml:"forecast_url"`
	SearchURL   string        `yaml:"search_url"`
	UserAgent   string        `yaml:"user_agent"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Listen
// disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Keys holds third-party API keys.
type Keys struct {
	OpenAI      string
	Anthropic   string
	Google      string
	OpenWeather string
	Tavily      string
}

// ModelKey returns the API key of the configured model provider.
func (c *Config) ModelKey() string {
	switch c.Model.Provider {
	case ProviderAnthropic:
		return c.Keys.Anthropic
	case ProviderGoogle:
		return c.Keys.Google
	default:
		return c.Keys.OpenAI
	}
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Store:  StoreConfig{Backend: BackendSQLite, Path: "tripgraph.db", LockTTL: 30 * time.Second},
		Model:  ModelConfig{Provider: ProviderOpenAI},
		Engine: EngineConfig{MaxConcurrent: 8},
		Services: ServicesConfig{
			UserAgent:   "tripgraph",
			HTTPTimeout: 10 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// ValidationError reports an invalid configuration value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Load reads path (when non-empty) over the defaults, applies environment
// overrides from getenv and validates the result. A nil getenv uses
// os.Getenv.
func Load(path string, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %q: %w", path, err)
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	strs := map[string]*string{
		"TRIPGRAPH_STORE_BACKEND":  &c.Store.Backend,
		"TRIPGRAPH_STORE_PATH":     &c.Store.Path,
		"TRIPGRAPH_STORE_DSN":      &c.Store.DSN,
		"TRIPGRAPH_STORE_ADDR":     &c.Store.Addr,
		"TRIPGRAPH_STORE_PASSWORD": &c.Store.Password,
		"TRIPGRAPH_MODEL_PROVIDER": &c.Model.Provider,
		"TRIPGRAPH_MODEL_NAME":     &c.Model.Name,
		"TRIPGRAPH_LOG_LEVEL":      &c.Log.Level,
		"TRIPGRAPH_LOG_FORMAT":     &c.Log.Format,
		"TRIPGRAPH_METRICS_LISTEN": &c.Metrics.Listen,
		"TRIPGRAPH_GEOCODE_URL":    &c.Services.GeocodeURL,
		"TRIPGRAPH_FORECAST_URL":   &c.Services.ForecastURL,
		"TRIPGRAPH_SEARCH_URL":     &c.Services.SearchURL,
		"OPENAI_API_KEY":           &c.Keys.OpenAI,
		"ANTHROPIC_API_KEY":        &c.Keys.Anthropic,
		"GOOGLE_API_KEY":           &c.Keys.Google,
		"OPENWEATHER_API_KEY":      &c.Keys.OpenWeather,
		"TAVILY_API_KEY":           &c.Keys.Tavily,
	}
	for name, dst := range strs {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*dst = v
		}
	}

	if v := getenv("TRIPGRAPH_MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &ValidationError{Field: "TRIPGRAPH_MAX_CONCURRENT", Reason: fmt.Sprintf("not an integer: %q", v)}
		}
		c.Engine.MaxConcurrent = n
	}
	if v := getenv("TRIPGRAPH_NODE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return &ValidationError{Field: "TRIPGRAPH_NODE_TIMEOUT", Reason: fmt.Sprintf("not a duration: %q", v)}
		}
		c.Engine.NodeTimeout = d
	}
	return nil
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Store.Path == "" {
			add("store.path", "required for the sqlite backend")
		}
	case BackendMySQL:
		if c.Store.DSN == "" {
			add("store.dsn", "required for the mysql backend")
		}
	case BackendRedis:
		if c.Store.Addr == "" {
			add("store.addr", "required for the redis backend")
		}
	default:
		add("store.backend", "unknown backend %q", c.Store.Backend)
	}

	switch c.Model.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderGoogle:
	default:
		add("model.provider", "unknown provider %q", c.Model.Provider)
	}

	if c.Engine.MaxConcurrent < 1 {
		add("engine.max_concurrent", "must be at least 1, got %d", c.Engine.MaxConcurrent)
	}
	if c.Engine.NodeTimeout < 0 {
		add("engine.node_timeout", "must not be negative")
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		add("log.format", "unknown format %q", c.Log.Format)
	}

	return errors.Join(errs...)
}
