// Package config loads mosmo service and CLI configuration.
//
// Config file locations (priority order):
//  1. $MOSMO_CONFIG
//  2. ./mosmo.yaml
//
// Environment variables override file values: LOG_LEVEL, LOG_FORMAT,
// MOSMO_METRICS_ADDR, MOSMO_GRPC_ADDR, MOSMO_TRACING_ENABLED,
// MOSMO_TRACING_EXPORTER, MOSMO_TRACING_SERVICE_NAME,
// MOSMO_TRACING_SAMPLE_RATIO and MOSMO_OTLP_ENDPOINT.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/mosmo/internal/logging"
	"github.com/signalsfoundry/mosmo/internal/observability"
	"github.com/signalsfoundry/mosmo/kb"
)

const (
	EnvPath     = "MOSMO_CONFIG"
	DefaultPath = "mosmo.yaml"
)

type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Engine   EngineConfig   `yaml:"engine"`
	Scenario ScenarioConfig `yaml:"scenario"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

type MetricsConfig struct {
	// Addr is the listen address of the /metrics endpoint; empty disables it.
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

type GRPCConfig struct {
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter" validate:"oneof=stdout otlp otlpgrpc"`
	ServiceName string  `yaml:"service_name" validate:"required"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

type CatalogConfig struct {
	// Files are YAML/JSON catalog files loaded into memory.
	Files []string `yaml:"files" validate:"dive,required"`
	// SQLite is an optional SQL catalog consulted after the files.
	SQLite  string        `yaml:"sqlite"`
	Breaker BreakerConfig `yaml:"breaker"`
}

type BreakerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	Timeout             time.Duration `yaml:"timeout" validate:"gte=0"`
}

type EngineConfig struct {
	// Workers bounds parallel flux scans and ensembles; zero is unbounded.
	Workers int `yaml:"workers" validate:"gte=0"`
}

type ScenarioConfig struct {
	Path     string        `yaml:"path"`
	Watch    bool          `yaml:"watch"`
	Debounce time.Duration `yaml:"debounce" validate:"gte=0"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "stdout"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "mosmo"
	}
	if c.Tracing.SampleRatio == 0 {
		c.Tracing.SampleRatio = 1
	}
	if c.Catalog.Breaker.ConsecutiveFailures == 0 {
		c.Catalog.Breaker.ConsecutiveFailures = 5
	}
	if c.Catalog.Breaker.Timeout == 0 {
		c.Catalog.Breaker.Timeout = 30 * time.Second
	}
	if c.Scenario.Debounce == 0 {
		c.Scenario.Debounce = 250 * time.Millisecond
	}
}

// FindConfigPath returns the first existing config file, or "".
func FindConfigPath() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	if _, err := os.Stat(DefaultPath); err == nil {
		return DefaultPath
	}
	return ""
}

// Load finds and loads the config file, applies environment overrides and
// validates the result. Without a file it starts from defaults. The returned
// path is the file that was read, if any.
func Load() (*Config, string, error) {
	path := FindConfigPath()
	if path == "" {
		cfg := DefaultConfig()
		if err := cfg.finish(); err != nil {
			return nil, "", err
		}
		return cfg, "", nil
	}
	cfg, err := LoadFromPath(path)
	return cfg, path, err
}

// LoadFromPath loads config from a specific path.
func LoadFromPath(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses YAML config, then applies defaults, environment overrides
// and validation. Unknown keys are rejected.
func Decode(r io.Reader) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) finish() error {
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return err
	}
	return c.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("MOSMO_METRICS_ADDR", &c.Metrics.Addr)
	str("MOSMO_GRPC_ADDR", &c.GRPC.Addr)
	str("MOSMO_TRACING_SERVICE_NAME", &c.Tracing.ServiceName)
	str("MOSMO_OTLP_ENDPOINT", &c.Tracing.Endpoint)
	if v, ok := lookup("MOSMO_TRACING_EXPORTER"); ok && v != "" {
		c.Tracing.Exporter = strings.ToLower(v)
	}
	if v, ok := lookup("MOSMO_TRACING_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MOSMO_TRACING_ENABLED: %w", err)
		}
		c.Tracing.Enabled = b
	}
	if v, ok := lookup("MOSMO_TRACING_SAMPLE_RATIO"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("MOSMO_TRACING_SAMPLE_RATIO: %w", err)
		}
		c.Tracing.SampleRatio = f
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Format = strings.ToLower(c.Logging.Format)
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Logger builds the configured logger.
func (c *Config) Logger(out io.Writer) logging.Logger {
	return logging.New(logging.Config{
		Level:     c.Logging.Level,
		Format:    c.Logging.Format,
		AddSource: true,
		Output:    out,
	})
}

// TracingSettings converts to the observability tracing config.
func (c *Config) TracingSettings() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     c.Tracing.Enabled,
		ServiceName: c.Tracing.ServiceName,
		Exporter:    c.Tracing.Exporter,
		Endpoint:    c.Tracing.Endpoint,
		SampleRatio: c.Tracing.SampleRatio,
	}
}

// BreakerSettings converts to kb breaker settings named after the catalog.
func (c *Config) BreakerSettings(name string) kb.BreakerSettings {
	return kb.BreakerSettings{
		Name:                name,
		Timeout:             c.Catalog.Breaker.Timeout,
		ConsecutiveFailures: c.Catalog.Breaker.ConsecutiveFailures,
	}
}
