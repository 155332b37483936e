package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// No config.yaml in the temp dir.
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "record-gate.db", cfg.Store.DatabaseURL)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 8, cfg.Pipeline.Concurrency)
	assert.False(t, cfg.Pipeline.RequireSourceVerification)
	assert.InDelta(t, 0.8, cfg.Pipeline.PageMatchPass, 0.001)
	assert.InDelta(t, 0.5, cfg.Pipeline.PageMatchUncertain, 0.001)
	assert.Equal(t, []string{"canonical_url"}, cfg.Dedupe.KeyFields)
	assert.True(t, cfg.Dedupe.Fuzzy)
	assert.InDelta(t, 0.85, cfg.Dedupe.FuzzyThreshold, 0.001)
	assert.Equal(t, 20*time.Second, cfg.Fetch.Timeout())
	assert.Equal(t, 3, cfg.Fetch.Retries)
	assert.Equal(t, int64(2<<20), cfg.Fetch.MaxBodyBytes)
	assert.Empty(t, cfg.Enrich.Providers)
	assert.Empty(t, cfg.Monitoring.WebhookURL)
	assert.InDelta(t, 20.0, cfg.Monitoring.MinPassRate, 0.001)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)

	assert.NoError(t, cfg.Validate("validate"))
	assert.NoError(t, cfg.Validate("serve"))
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/gate
log:
  level: debug
  format: console
server:
  port: 9090
pipeline:
  require_source_verification: true
enrich:
  providers:
    - name: crm
      url: https://crm.internal/lookup
      fields: [email, phone]
      requests_per_second: 5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Pipeline.RequireSourceVerification)
	require.Len(t, cfg.Enrich.Providers, 1)
	assert.Equal(t, "crm", cfg.Enrich.Providers[0].Name)
	assert.Equal(t, []string{"email", "phone"}, cfg.Enrich.Providers[0].Fields)
	assert.InDelta(t, 5.0, cfg.Enrich.Providers[0].RequestsPerSecond, 0.001)
	// Defaults still apply for unset values
	assert.Equal(t, 8, cfg.Pipeline.Concurrency)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("RECORDGATE_STORE_DRIVER", "none")
	t.Setenv("RECORDGATE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "none", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("RECORDGATE_SERVER_PORT", "3000")
	t.Setenv("RECORDGATE_PIPELINE_PAGE_MATCH_PASS", "0.9")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.InDelta(t, 0.9, cfg.Pipeline.PageMatchPass, 0.001)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	assert.ErrorContains(t, err, "config: read file")
}

func TestLoadFile(t *testing.T) {
	chdirTemp(t)
	path := filepath.Join(t.TempDir(), "gate.yml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9191\nmonitoring:\n  webhook_url: https://hooks.example.com/x\n"), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "https://hooks.example.com/x", cfg.Monitoring.WebhookURL)
	assert.Equal(t, "sqlite", cfg.Store.Driver, "defaults still apply")

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "config: read file", "an explicit path must exist")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "gate.db"
	cfg.Server.Port = 8080
	cfg.Pipeline.Concurrency = 8
	cfg.Pipeline.PageMatchPass = 0.8
	cfg.Pipeline.PageMatchUncertain = 0.5
	cfg.Dedupe.FuzzyThreshold = 0.85
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mode   string
		mutate func(*Config)
		want   string
	}{
		{name: "valid validate", mode: "validate", mutate: func(*Config) {}},
		{name: "valid serve", mode: "serve", mutate: func(*Config) {}},
		{name: "no store", mode: "validate", mutate: func(c *Config) { c.Store = StoreConfig{Driver: "none"} }},
		{name: "missing url", mode: "validate", mutate: func(c *Config) { c.Store.DatabaseURL = "" }, want: "store.database_url is required"},
		{name: "bad driver", mode: "validate", mutate: func(c *Config) { c.Store.Driver = "mysql" }, want: "store.driver must be"},
		{name: "bad port", mode: "serve", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port must be > 0"},
		{name: "port ignored outside serve", mode: "validate", mutate: func(c *Config) { c.Server.Port = 0 }},
		{name: "concurrency", mode: "validate", mutate: func(c *Config) { c.Pipeline.Concurrency = 0 }, want: "pipeline.concurrency must be between 1 and 64"},
		{name: "threshold range", mode: "validate", mutate: func(c *Config) { c.Pipeline.PageMatchPass = 1.5 }, want: "page_match thresholds"},
		{name: "threshold order", mode: "validate", mutate: func(c *Config) { c.Pipeline.PageMatchUncertain = 0.9 }, want: "page_match_uncertain must not exceed"},
		{name: "fuzzy threshold", mode: "validate", mutate: func(c *Config) { c.Dedupe.FuzzyThreshold = -0.1 }, want: "dedupe.fuzzy_threshold"},
		{name: "pass rate percent", mode: "validate", mutate: func(c *Config) { c.Monitoring.MinPassRate = 150 }, want: "monitoring.min_pass_rate"},
		{name: "monitoring threshold", mode: "validate", mutate: func(c *Config) { c.Monitoring.FailureRateThreshold = 2 }, want: "monitoring thresholds"},
		{name: "unknown mode", mode: "unknown", mutate: func(*Config) {}, want: "unknown mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate(tt.mode)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateProviders(t *testing.T) {
	cfg := validDefaults()
	cfg.Enrich.Providers = []ProviderConfig{
		{Name: "crm", URL: "https://crm", Fields: []string{"email"}},
		{Name: "crm"},
	}
	err := cfg.Validate("validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `enrich.providers[1]: duplicate name "crm"`)
	assert.Contains(t, err.Error(), "enrich.providers[1].url is required")
	assert.Contains(t, err.Error(), "enrich.providers[1].fields is required")
	assert.NotContains(t, err.Error(), "providers[0]")
}
