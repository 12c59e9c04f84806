// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/geoinforme/parcelreport/internal/report"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Registry RegistryConfig `mapstructure:"registry"`
	Weather  WeatherConfig  `mapstructure:"weather"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Render   RenderConfig   `mapstructure:"render"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Plans    PlansConfig    `mapstructure:"plans"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// RegistryConfig points at the cadastral registry endpoints.
type RegistryConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	SedeURL       string `mapstructure:"sede_url"`
	OrthophotoURL string `mapstructure:"orthophoto_url"`
	UserAgent     string `mapstructure:"user_agent"`
	MapSizePx     int    `mapstructure:"map_size_px"`
	BufferMeters  float64 `mapstructure:"buffer_meters"`
}

// WeatherConfig points at the meteorological open data API.
type WeatherConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// FetchConfig governs retry behavior for external sources.
type FetchConfig struct {
	MaxAttempts           int `mapstructure:"max_attempts"`
	BackoffInitialMs      int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs          int `mapstructure:"backoff_max_ms"`
	AttemptTimeoutSeconds int `mapstructure:"attempt_timeout_seconds"`
}

// RenderConfig configures the headless PDF rendering subsystem.
type RenderConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	MaxParallel    int  `mapstructure:"max_parallel"`
	TimeoutSeconds int  `mapstructure:"timeout_seconds"`
}

// StorageConfig selects where published archives land.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	WorkDir   string `mapstructure:"work_dir"`
}

// DBConfig controls access to the relational database. An empty DSN
// selects the in-memory stores, for development only.
type DBConfig struct {
	DSN                string `mapstructure:"dsn"`
	MaxConns           int32  `mapstructure:"max_conns"`
	MinConns           int32  `mapstructure:"min_conns"`
	ConnLifetimeSeconds int   `mapstructure:"conn_lifetime_seconds"`
}

// PubSubConfig holds metadata for completion event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// PlansConfig defines the quota shape of the known tiers.
type PlansConfig struct {
	FreeQuota      int `mapstructure:"free_quota"`
	ProQuota       int `mapstructure:"pro_quota"`
	PeriodDays     int `mapstructure:"period_days"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PARCELREPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 180)
	v.SetDefault("logging.development", true)
	v.SetDefault("registry.user_agent", "parcelreport/0.1")
	v.SetDefault("registry.map_size_px", 1600)
	v.SetDefault("registry.buffer_meters", 200)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.backoff_initial_ms", 250)
	v.SetDefault("fetch.backoff_max_ms", 5000)
	v.SetDefault("fetch.attempt_timeout_seconds", 30)
	v.SetDefault("render.enabled", false)
	v.SetDefault("render.max_parallel", 1)
	v.SetDefault("render.timeout_seconds", 45)
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.local_dir", "./archives")
	v.SetDefault("plans.free_quota", 10)
	v.SetDefault("plans.pro_quota", 500)
	v.SetDefault("plans.period_days", 30)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be > 0")
	}
	if c.Fetch.AttemptTimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.attempt_timeout_seconds must be > 0")
	}
	if c.Render.Enabled && c.Render.MaxParallel <= 0 {
		return fmt.Errorf("render.max_parallel must be > 0 when rendering is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Provider {
	case "local", "memory":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs provider")
		}
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	if c.Plans.FreeQuota < 0 || c.Plans.ProQuota < 0 {
		return fmt.Errorf("plan quotas must be >= 0")
	}
	if c.Plans.PeriodDays <= 0 {
		return fmt.Errorf("plans.period_days must be > 0")
	}
	return nil
}

// AttemptTimeout converts the per-attempt fetch budget into a duration.
func (c Config) AttemptTimeout() time.Duration {
	return time.Duration(c.Fetch.AttemptTimeoutSeconds) * time.Second
}

// PlanFor maps a tier name to its quota configuration. Unknown tiers get
// the free plan.
func (c Config) PlanFor(tier string) report.Plan {
	period := time.Duration(c.Plans.PeriodDays) * 24 * time.Hour
	switch report.PlanTier(tier) {
	case report.PlanEnterprise:
		return report.Plan{Tier: report.PlanEnterprise, Quota: report.UnlimitedQuota, Period: period}
	case report.PlanPro:
		return report.Plan{Tier: report.PlanPro, Quota: c.Plans.ProQuota, Period: period}
	default:
		return report.Plan{Tier: report.PlanFree, Quota: c.Plans.FreeQuota, Period: period}
	}
}
