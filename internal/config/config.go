package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/oilwatch/priceintel/internal/model"
	"github.com/oilwatch/priceintel/internal/stats"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
	Health      HealthConfig      `yaml:"health" mapstructure:"health"`
	Observation ObservationConfig `yaml:"observation" mapstructure:"observation"`
	Aggregate   AggregateConfig   `yaml:"aggregate" mapstructure:"aggregate"`
	Ingest      IngestConfig      `yaml:"ingest" mapstructure:"ingest"`
	Metrics     MetricsConfig     `yaml:"metrics" mapstructure:"metrics"`
}

// StoreConfig configures the Postgres backend.
type StoreConfig struct {
	DatabaseURL    string `yaml:"database_url" mapstructure:"database_url"`
	ConnectRetries int    `yaml:"connect_retries" mapstructure:"connect_retries"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// HealthConfig configures the scrape health state machine.
type HealthConfig struct {
	CooldownThreshold int     `yaml:"cooldown_threshold" mapstructure:"cooldown_threshold"`
	DisableThreshold  int     `yaml:"disable_threshold" mapstructure:"disable_threshold"`
	BaseBackoffMins   int     `yaml:"base_backoff_mins" mapstructure:"base_backoff_mins"`
	MaxBackoffHours   int     `yaml:"max_backoff_hours" mapstructure:"max_backoff_hours"`
	Multiplier        float64 `yaml:"multiplier" mapstructure:"multiplier"`
}

// ObservationConfig configures price validation and expiry.
type ObservationConfig struct {
	MinPrice string `yaml:"min_price" mapstructure:"min_price"`
	MaxPrice string `yaml:"max_price" mapstructure:"max_price"`
	// TTLHours maps a source type to its default time-to-live.
	TTLHours         map[string]int `yaml:"ttl_hours" mapstructure:"ttl_hours"`
	TrustWindowHours int            `yaml:"trust_window_hours" mapstructure:"trust_window_hours"`
	ExtensionHours   int            `yaml:"extension_hours" mapstructure:"extension_hours"`
	RetentionDays    int            `yaml:"retention_days" mapstructure:"retention_days"`
}

// AggregateConfig configures the ZIP and county aggregators.
type AggregateConfig struct {
	Workers        int                  `yaml:"workers" mapstructure:"workers"`
	TrendWeeks     int                  `yaml:"trend_weeks" mapstructure:"trend_weeks"`
	HistoryWeeks   int                  `yaml:"history_weeks" mapstructure:"history_weeks"`
	FuelTypes      []string             `yaml:"fuel_types" mapstructure:"fuel_types"`
	Tolerance      string               `yaml:"tolerance" mapstructure:"tolerance"`
	QualityWeights stats.QualityWeights `yaml:"quality_weights" mapstructure:"quality_weights"`
}

// IngestConfig configures fetch-result ingestion.
type IngestConfig struct {
	// RatePerSecond caps records processed per second; 0 is unlimited.
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
}

// MetricsConfig configures the Prometheus Pushgateway used by batch jobs.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url" mapstructure:"pushgateway_url"`
	Job            string `yaml:"job" mapstructure:"job"`
}

// CooldownBase returns the first cooldown interval.
func (h HealthConfig) CooldownBase() time.Duration {
	return time.Duration(h.BaseBackoffMins) * time.Minute
}

// CooldownMax returns the cooldown cap.
func (h HealthConfig) CooldownMax() time.Duration {
	return time.Duration(h.MaxBackoffHours) * time.Hour
}

// TTL returns the default lifetime for observations from the given source.
func (o ObservationConfig) TTL(source model.SourceType) time.Duration {
	if h, ok := o.TTLHours[string(source)]; ok && h > 0 {
		return time.Duration(h) * time.Hour
	}
	return 24 * time.Hour
}

// Load reads configuration from file and environment. A .env file in the
// working directory, when present, is loaded into the environment first.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PRICEINTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.connect_retries", 3)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("health.cooldown_threshold", 3)
	v.SetDefault("health.disable_threshold", 10)
	v.SetDefault("health.base_backoff_mins", 60)
	v.SetDefault("health.max_backoff_hours", 24)
	v.SetDefault("health.multiplier", 2.0)
	v.SetDefault("observation.min_price", "2.000")
	v.SetDefault("observation.max_price", "5.000")
	v.SetDefault("observation.ttl_hours", map[string]int{
		string(model.SourceScraped):          24,
		string(model.SourceUserReported):     24,
		string(model.SourceAggregatorSignal): 24,
		string(model.SourceManual):           48,
		string(model.SourceSupplierVerified): 48,
	})
	v.SetDefault("observation.trust_window_hours", 72)
	v.SetDefault("observation.extension_hours", 24)
	v.SetDefault("observation.retention_days", 400)
	v.SetDefault("aggregate.workers", 8)
	v.SetDefault("aggregate.trend_weeks", 6)
	v.SetDefault("aggregate.history_weeks", 104)
	v.SetDefault("aggregate.fuel_types", []string{string(model.FuelHeatingOil)})
	v.SetDefault("aggregate.tolerance", "0.001")
	v.SetDefault("aggregate.quality_weights.volume", 0.45)
	v.SetDefault("aggregate.quality_weights.history", 0.25)
	v.SetDefault("aggregate.quality_weights.density", 0.10)
	v.SetDefault("aggregate.quality_weights.consistency", 0.20)
	v.SetDefault("ingest.rate_per_second", 0.0)
	v.SetDefault("metrics.job", "priceintel")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the configuration for the given command mode. Mode "db"
// additionally requires a database URL.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "db":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required (PRICEINTEL_STORE_DATABASE_URL)")
		}
	case "offline":
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	h := c.Health
	if h.CooldownThreshold < 1 {
		problems = append(problems, "health.cooldown_threshold must be >= 1")
	}
	if h.DisableThreshold <= h.CooldownThreshold {
		problems = append(problems, "health.disable_threshold must exceed health.cooldown_threshold")
	}
	if h.BaseBackoffMins < 1 || h.MaxBackoffHours < 1 {
		problems = append(problems, "health backoff durations must be positive")
	}
	if h.Multiplier < 1 {
		problems = append(problems, "health.multiplier must be >= 1")
	}

	lo, hi, err := c.Observation.PriceBounds()
	if err != nil {
		problems = append(problems, err.Error())
	} else if !lo.LessThan(hi) {
		problems = append(problems, "observation.min_price must be below observation.max_price")
	}
	if c.Observation.TrustWindowHours < 1 || c.Observation.ExtensionHours < 1 {
		problems = append(problems, "observation trust window and extension must be positive")
	}
	for src := range c.Observation.TTLHours {
		if !model.SourceType(src).Valid() {
			problems = append(problems, fmt.Sprintf("observation.ttl_hours: unknown source %q", src))
		}
	}

	if c.Aggregate.Workers < 1 {
		problems = append(problems, "aggregate.workers must be >= 1")
	}
	if c.Aggregate.TrendWeeks < 1 {
		problems = append(problems, "aggregate.trend_weeks must be >= 1")
	}
	for _, f := range c.Aggregate.FuelTypes {
		if !model.FuelType(f).Valid() {
			problems = append(problems, fmt.Sprintf("aggregate.fuel_types: unknown fuel %q", f))
		}
	}
	if c.Aggregate.HistoryWeeks < c.Aggregate.TrendWeeks {
		problems = append(problems, "aggregate.history_weeks must be >= aggregate.trend_weeks")
	}
	if c.Ingest.RatePerSecond < 0 {
		problems = append(problems, "ingest.rate_per_second must be >= 0")
	}
	w := c.Aggregate.QualityWeights
	if w.Volume < 0 || w.History < 0 || w.Density < 0 || w.Consistency < 0 {
		problems = append(problems, "aggregate.quality_weights must be non-negative")
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
