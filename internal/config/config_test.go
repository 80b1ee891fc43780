package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/oilwatch/priceintel/internal/model"
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

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 3, cfg.Store.ConnectRetries)
	assert.Equal(t, 3, cfg.Health.CooldownThreshold)
	assert.Equal(t, 10, cfg.Health.DisableThreshold)
	assert.Equal(t, time.Hour, cfg.Health.CooldownBase())
	assert.Equal(t, 24*time.Hour, cfg.Health.CooldownMax())
	assert.InDelta(t, 2.0, cfg.Health.Multiplier, 0.001)
	assert.Equal(t, "2.000", cfg.Observation.MinPrice)
	assert.Equal(t, "5.000", cfg.Observation.MaxPrice)
	assert.Equal(t, 24*time.Hour, cfg.Observation.TTL(model.SourceScraped))
	assert.Equal(t, 48*time.Hour, cfg.Observation.TTL(model.SourceSupplierVerified))
	assert.Equal(t, 72, cfg.Observation.TrustWindowHours)
	assert.Equal(t, 8, cfg.Aggregate.Workers)
	assert.Equal(t, 6, cfg.Aggregate.TrendWeeks)
	assert.Equal(t, 104, cfg.Aggregate.HistoryWeeks)
	assert.Zero(t, cfg.Ingest.RatePerSecond)
	assert.Equal(t, []string{"heating_oil"}, cfg.Aggregate.FuelTypes)
	assert.InDelta(t, 0.45, cfg.Aggregate.QualityWeights.Volume, 0.001)
	assert.InDelta(t, 0.20, cfg.Aggregate.QualityWeights.Consistency, 0.001)
	assert.Equal(t, "priceintel", cfg.Metrics.Job)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
  format: console
health:
  cooldown_threshold: 2
aggregate:
  workers: 4
  fuel_types: [heating_oil, kerosene]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 2, cfg.Health.CooldownThreshold)
	assert.Equal(t, 4, cfg.Aggregate.Workers)
	assert.Equal(t, []string{"heating_oil", "kerosene"}, cfg.Aggregate.FuelTypes)
	// Defaults still apply for unset values
	assert.Equal(t, 10, cfg.Health.DisableThreshold)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))
	t.Setenv("PRICEINTEL_LOG_LEVEL", "warn")
	t.Setenv("PRICEINTEL_STORE_DATABASE_URL", "postgres://localhost/prices")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "postgres://localhost/prices", cfg.Store.DatabaseURL)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PRICEINTEL_AGGREGATE_WORKERS=2\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("PRICEINTEL_AGGREGATE_WORKERS") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Aggregate.Workers)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
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

func TestValidate_Defaults(t *testing.T) {
	cfg := validDefaults(t)
	assert.NoError(t, cfg.Validate("offline"))

	err := cfg.Validate("db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/prices"
	assert.NoError(t, cfg.Validate("db"))
}

func TestValidate_UnknownMode(t *testing.T) {
	cfg := validDefaults(t)
	assert.Error(t, cfg.Validate("serve"))
}

func TestValidate_Thresholds(t *testing.T) {
	cfg := validDefaults(t)
	cfg.Health.DisableThreshold = 3

	err := cfg.Validate("offline")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disable_threshold must exceed")
}

func TestValidate_PriceBounds(t *testing.T) {
	cfg := validDefaults(t)
	cfg.Observation.MinPrice = "5.000"
	cfg.Observation.MaxPrice = "2.000"
	err := cfg.Validate("offline")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_price must be below")

	cfg.Observation.MinPrice = "two"
	err = cfg.Validate("offline")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "observation.min_price")
}

func TestValidate_UnknownFuelAndSource(t *testing.T) {
	cfg := validDefaults(t)
	cfg.Aggregate.FuelTypes = []string{"propane"}
	cfg.Observation.TTLHours["rumour"] = 4

	err := cfg.Validate("offline")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown fuel "propane"`)
	assert.Contains(t, err.Error(), `unknown source "rumour"`)
}

func TestValidate_NegativeWeights(t *testing.T) {
	cfg := validDefaults(t)
	cfg.Aggregate.QualityWeights.History = -1
	err := cfg.Validate("offline")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quality_weights")
}

func TestValidate_HistoryShorterThanTrend(t *testing.T) {
	cfg := validDefaults(t)
	cfg.Aggregate.HistoryWeeks = 4
	err := cfg.Validate("offline")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history_weeks")
}
