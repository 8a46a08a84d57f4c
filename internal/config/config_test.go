package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LOG_LEVEL", "LOG_FORMAT", "MOSMO_METRICS_ADDR", "MOSMO_GRPC_ADDR",
		"MOSMO_TRACING_ENABLED", "MOSMO_TRACING_EXPORTER", "MOSMO_TRACING_SERVICE_NAME",
		"MOSMO_TRACING_SAMPLE_RATIO", "MOSMO_OTLP_ENDPOINT", EnvPath,
	} {
		t.Setenv(key, "")
	}
}

func TestDecodeAppliesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "stdout", cfg.Tracing.Exporter)
	assert.Equal(t, "mosmo", cfg.Tracing.ServiceName)
	assert.Equal(t, 1.0, cfg.Tracing.SampleRatio)
	assert.Equal(t, uint32(5), cfg.Catalog.Breaker.ConsecutiveFailures)
	assert.Equal(t, 250*time.Millisecond, cfg.Scenario.Debounce)
}

func TestDecodeReadsFile(t *testing.T) {
	clearEnv(t)

	cfg, err := Decode(strings.NewReader(`
logging: {level: DEBUG, format: json}
metrics: {addr: ":9090"}
catalog:
  files: [kb/core.yaml]
  sqlite: kb/catalog.db
  breaker: {enabled: true, timeout: 5s}
engine: {workers: 4}
scenario: {path: toy.yaml, watch: true, debounce: 1s}
`))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, []string{"kb/core.yaml"}, cfg.Catalog.Files)
	assert.Equal(t, 5*time.Second, cfg.Catalog.Breaker.Timeout)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.True(t, cfg.Scenario.Watch)
	assert.Equal(t, time.Second, cfg.Scenario.Debounce)

	bs := cfg.BreakerSettings("sqlite")
	assert.Equal(t, "sqlite", bs.Name)
	assert.Equal(t, 5*time.Second, bs.Timeout)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("MOSMO_METRICS_ADDR", "127.0.0.1:9100")
	t.Setenv("MOSMO_TRACING_ENABLED", "true")
	t.Setenv("MOSMO_TRACING_SAMPLE_RATIO", "0.25")

	cfg, err := Decode(strings.NewReader("metrics: {addr: \":9090\"}\n"))
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Addr)

	tc := cfg.TracingSettings()
	assert.True(t, tc.Enabled)
	assert.Equal(t, 0.25, tc.SampleRatio)
}

func TestDecodeRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"level":       "logging: {level: loud}\n",
		"ratio":       "tracing: {sample_ratio: 3}\n",
		"workers":     "engine: {workers: -1}\n",
		"addr":        "metrics: {addr: nowhere}\n",
		"unknown key": "colour: blue\n",
		"empty file":  "catalog: {files: [\"\"]}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			_, err := Decode(strings.NewReader(doc))
			require.Error(t, err)
		})
	}
}

func TestEnvRejectsMalformedBool(t *testing.T) {
	clearEnv(t)
	t.Setenv("MOSMO_TRACING_ENABLED", "sometimes")
	_, err := Decode(strings.NewReader(""))
	require.ErrorContains(t, err, "MOSMO_TRACING_ENABLED")
}

func TestLoadUsesEnvPath(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine: {workers: 2}\n"), 0o644))
	t.Setenv(EnvPath, path)

	cfg, got, err := Load()
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.Equal(t, 2, cfg.Engine.Workers)
}

func TestLoadWithoutFileReturnsDefaults(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	cfg, got, err := Load()
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, "info", cfg.Logging.Level)
}
