// Package config provides configuration management for the research aggregation service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/helixir/research-aggregation-service/internal/domain"
	"github.com/helixir/research-aggregation-service/internal/observability"
)

// Config holds all configuration for the research aggregation service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Aggregator contains search fan-out settings.
	Aggregator AggregatorConfig `mapstructure:"aggregator"`
	// Sources contains the per-backend settings.
	Sources SourcesConfig `mapstructure:"sources"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace"`
}

// AggregatorConfig holds search aggregation settings.
type AggregatorConfig struct {
	// DefaultMaxPerSource is used when a request does not set max_per_source.
	DefaultMaxPerSource int `mapstructure:"default_max_per_source"`
	// AdapterTimeout bounds each source's fetch. Zero disables the bound.
	AdapterTimeout time.Duration `mapstructure:"adapter_timeout"`
	// DefaultSources are searched when a request names none.
	DefaultSources DefaultSourcesConfig `mapstructure:"default_sources"`
}

// DefaultSourcesConfig selects the source tags searched by default.
type DefaultSourcesConfig struct {
	Literature bool `mapstructure:"literature"`
	Preprint   bool `mapstructure:"preprint"`
	Web        bool `mapstructure:"web"`
}

// Enabled converts the selection into the domain type.
func (d DefaultSourcesConfig) Enabled() domain.EnabledSources {
	return domain.EnabledSources{
		Literature: d.Literature,
		Preprint:   d.Preprint,
		Web:        d.Web,
	}
}

// SourcesConfig holds configuration for every search backend.
type SourcesConfig struct {
	// PubMed backs the literature tag.
	PubMed SourceConfig `mapstructure:"pubmed"`
	// ArXiv backs the preprint tag.
	ArXiv SourceConfig `mapstructure:"arxiv"`
	// Tavily backs the web tag.
	Tavily SourceConfig `mapstructure:"tavily"`
}

// SourceConfig holds configuration for a single backend and its request queue.
type SourceConfig struct {
	// Enabled controls whether this source is used.
	Enabled bool `mapstructure:"enabled"`
	// APIKey is loaded from the environment only (RESEARCH_SOURCES_<NAME>_API_KEY).
	APIKey string `mapstructure:"-"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the timeout for a single API call.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the request ceiling per RateWindow without an API key.
	RateLimit int `mapstructure:"rate_limit"`
	// ElevatedRateLimit replaces RateLimit when an API key is set. Zero keeps RateLimit.
	ElevatedRateLimit int `mapstructure:"elevated_rate_limit"`
	// RateWindow is the length of the rate-limit window.
	RateWindow time.Duration `mapstructure:"rate_window"`
	// RequestDelay is the minimum spacing between requests. Negative disables it.
	RequestDelay time.Duration `mapstructure:"request_delay"`
	// MaxResults is the default maximum results per query.
	MaxResults int `mapstructure:"max_results"`
	// MaxRetries is the retry budget for transient failures.
	MaxRetries int `mapstructure:"max_retries"`
	// BoostRecent narrows literature searches to recent English articles (PubMed only).
	BoostRecent bool `mapstructure:"boost_recent"`
}

// EffectiveRateLimit returns the request ceiling for the configured credentials.
func (c SourceConfig) EffectiveRateLimit() int {
	if c.APIKey != "" && c.ElevatedRateLimit > 0 {
		return c.ElevatedRateLimit
	}
	return c.RateLimit
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Observability converts the logging section for observability.NewLogger.
func (c LoggingConfig) Observability() observability.LoggingConfig {
	return observability.LoggingConfig{
		Level:      c.Level,
		Format:     c.Format,
		Output:     c.Output,
		AddSource:  c.AddSource,
		TimeFormat: c.TimeFormat,
	}
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("RESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if present
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/research-aggregation-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Secrets use mapstructure:"-" and never come from config files.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
func loadSecrets(cfg *Config) {
	cfg.Sources.PubMed.APIKey = os.Getenv("RESEARCH_SOURCES_PUBMED_API_KEY")
	cfg.Sources.Tavily.APIKey = os.Getenv("RESEARCH_SOURCES_TAVILY_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "90s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "research_aggregation")

	// Aggregator defaults
	v.SetDefault("aggregator.default_max_per_source", 5)
	v.SetDefault("aggregator.adapter_timeout", "30s")
	v.SetDefault("aggregator.default_sources.literature", true)
	v.SetDefault("aggregator.default_sources.preprint", true)
	v.SetDefault("aggregator.default_sources.web", false)

	// PubMed: NCBI allows 3 req/sec, 10 with an API key.
	v.SetDefault("sources.pubmed.enabled", true)
	v.SetDefault("sources.pubmed.base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils")
	v.SetDefault("sources.pubmed.timeout", "30s")
	v.SetDefault("sources.pubmed.rate_limit", 3)
	v.SetDefault("sources.pubmed.elevated_rate_limit", 10)
	v.SetDefault("sources.pubmed.rate_window", "1s")
	v.SetDefault("sources.pubmed.request_delay", "100ms")
	v.SetDefault("sources.pubmed.max_results", 20)
	v.SetDefault("sources.pubmed.max_retries", 3)
	v.SetDefault("sources.pubmed.boost_recent", false)

	// arXiv asks for one request every three seconds.
	v.SetDefault("sources.arxiv.enabled", true)
	v.SetDefault("sources.arxiv.base_url", "https://export.arxiv.org/api")
	v.SetDefault("sources.arxiv.timeout", "30s")
	v.SetDefault("sources.arxiv.rate_limit", 1)
	v.SetDefault("sources.arxiv.elevated_rate_limit", 0)
	v.SetDefault("sources.arxiv.rate_window", "3s")
	v.SetDefault("sources.arxiv.request_delay", "100ms")
	v.SetDefault("sources.arxiv.max_results", 20)
	v.SetDefault("sources.arxiv.max_retries", 3)

	// Tavily is skipped at search time when no API key is set.
	v.SetDefault("sources.tavily.enabled", true)
	v.SetDefault("sources.tavily.base_url", "https://api.tavily.com")
	v.SetDefault("sources.tavily.timeout", "30s")
	v.SetDefault("sources.tavily.rate_limit", 3)
	v.SetDefault("sources.tavily.elevated_rate_limit", 0)
	v.SetDefault("sources.tavily.rate_window", "1s")
	v.SetDefault("sources.tavily.request_delay", "100ms")
	v.SetDefault("sources.tavily.max_results", 5)
	v.SetDefault("sources.tavily.max_retries", 3)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate server ports
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Metrics.Enabled {
		if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
			return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
		}
		if c.Server.MetricsPort == c.Server.HTTPPort {
			return fmt.Errorf("metrics port must differ from HTTP port: %d", c.Server.MetricsPort)
		}
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	// Validate aggregator config
	if c.Aggregator.DefaultMaxPerSource <= 0 {
		return fmt.Errorf("invalid aggregator default_max_per_source: %d", c.Aggregator.DefaultMaxPerSource)
	}
	if c.Aggregator.AdapterTimeout < 0 {
		return fmt.Errorf("invalid aggregator adapter_timeout: %s", c.Aggregator.AdapterTimeout)
	}
	if !c.Aggregator.DefaultSources.Enabled().Any() {
		return fmt.Errorf("at least one default source must be enabled")
	}

	// Validate source queues
	sources := []struct {
		name string
		cfg  SourceConfig
	}{
		{"pubmed", c.Sources.PubMed},
		{"arxiv", c.Sources.ArXiv},
		{"tavily", c.Sources.Tavily},
	}
	for _, s := range sources {
		if !s.cfg.Enabled {
			continue
		}
		if s.cfg.RateLimit <= 0 {
			return fmt.Errorf("invalid %s rate_limit: %d", s.name, s.cfg.RateLimit)
		}
		if s.cfg.ElevatedRateLimit < 0 {
			return fmt.Errorf("invalid %s elevated_rate_limit: %d", s.name, s.cfg.ElevatedRateLimit)
		}
		if s.cfg.RateWindow <= 0 {
			return fmt.Errorf("invalid %s rate_window: %s", s.name, s.cfg.RateWindow)
		}
		if s.cfg.Timeout <= 0 {
			return fmt.Errorf("invalid %s timeout: %s", s.name, s.cfg.Timeout)
		}
		if s.cfg.MaxResults <= 0 {
			return fmt.Errorf("invalid %s max_results: %d", s.name, s.cfg.MaxResults)
		}
	}

	return nil
}
