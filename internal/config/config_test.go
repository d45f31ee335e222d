package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/market-cli/internal/model"
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
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "market-cache.db", cfg.Store.DatabaseURL)
	assert.Equal(t, 4096, cfg.Store.MemoryEntries)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)

	ask := cfg.Sources.Ask
	assert.True(t, ask.Enabled)
	assert.Equal(t, 30*time.Minute, ask.TTL())
	assert.Equal(t, 5, ask.BatchSize)
	assert.Equal(t, 5, ask.Concurrency)
	assert.Equal(t, 500*time.Millisecond, ask.Interval())
	assert.Equal(t, time.Second, ask.MaxInterval())

	assert.Equal(t, 6*time.Hour, cfg.Sources.Reputation.TTL())
	assert.NotEmpty(t, cfg.Lotus.PrimaryURL)
	assert.NotEmpty(t, cfg.Lotus.FallbackURL)
	assert.Equal(t, 10, cfg.Lotus.TimeoutSecs)
	assert.Equal(t, 5, cfg.Resilience.BreakerThreshold)
	assert.Equal(t, 0.5, cfg.Monitoring.FailureRateThreshold)
	assert.Contains(t, cfg.Seed.AnnotationsURL, "annotations")
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/market
log:
  level: debug
  format: console
server:
  port: 9090
sources:
  ask:
    ttl_mins: 10
    concurrency: 2
  index:
    enabled: false
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10*time.Minute, cfg.Sources.Ask.TTL())
	assert.Equal(t, 2, cfg.Sources.Ask.Concurrency)
	assert.False(t, cfg.Sources.Index.Enabled)
	// Defaults still apply for unset values
	assert.Equal(t, 5, cfg.Sources.Ask.BatchSize)
	assert.True(t, cfg.Sources.Power.Enabled)
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

	t.Setenv("MARKET_STORE_DRIVER", "postgres")
	t.Setenv("MARKET_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("MARKET_SERVER_PORT", "3000")
	t.Setenv("MARKET_SOURCES_POWER_BATCH_SIZE", "20")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 20, cfg.Sources.Power.BatchSize)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadFileExplicitPath(t *testing.T) {
	chdirTemp(t)
	other := filepath.Join(t.TempDir(), "market.yaml")
	require.NoError(t, os.WriteFile(other, []byte("server:\n  port: 9123\n"), 0644))

	cfg, err := LoadFile(other)
	require.NoError(t, err)
	assert.Equal(t, 9123, cfg.Server.Port)
}

func TestLoadFileMissingPath(t *testing.T) {
	chdirTemp(t)

	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestSourcesFor(t *testing.T) {
	s := SourcesConfig{
		Ask:        RefreshConfig{TTLMins: 1},
		Power:      RefreshConfig{TTLMins: 2},
		Reputation: RefreshConfig{TTLMins: 3},
		Index:      RefreshConfig{TTLMins: 4},
	}
	assert.Equal(t, 1, s.For(model.SourceAsk).TTLMins)
	assert.Equal(t, 2, s.For(model.SourcePower).TTLMins)
	assert.Equal(t, 3, s.For(model.SourceReputation).TTLMins)
	assert.Equal(t, 4, s.For(model.SourceIndex).TTLMins)
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

func validDefaults(t *testing.T) *Config {
	t.Helper()
	chdirTemp(t)
	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func TestValidateDefaults(t *testing.T) {
	cfg := validDefaults(t)
	for _, mode := range []string{"serve", "select", "cache"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults(t)
	err := cfg.Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateStore(t *testing.T) {
	cfg := validDefaults(t)
	cfg.Store.Driver = "mysql"
	err := cfg.Validate("cache")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `store.driver "mysql" is not supported`)

	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = ""
	err = cfg.Validate("cache")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateServe(t *testing.T) {
	cfg := validDefaults(t)
	cfg.Server.Port = 0
	cfg.Monitoring.FailureRateThreshold = 1.5

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
	assert.Contains(t, err.Error(), "failure_rate_threshold")
}

func TestValidateSources(t *testing.T) {
	cfg := validDefaults(t)
	cfg.Sources.Ask.Concurrency = 0
	cfg.Sources.Power.TTLMins = 0

	err := cfg.Validate("select")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sources.ask.concurrency must be between 1 and 100")
	assert.Contains(t, err.Error(), "sources.power.ttl_mins must be > 0")

	// Disabled sources are not checked.
	cfg.Sources.Ask.Enabled = false
	cfg.Sources.Power.Enabled = false
	assert.NoError(t, cfg.Validate("select"))
}
