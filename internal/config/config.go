package config

import (
	"fmt"
	"strings"
	"time"
	// Embedded zone database so REPORT_TIMEZONE resolves in minimal images.
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

type Config struct {
	Port               string   `mapstructure:"PORT"`
	Env                string   `mapstructure:"ENV"`
	DatabaseURL        string   `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32    `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer         string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL        string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience       string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey     string   `mapstructure:"AUTH_SIGNING_KEY"`
	DefaultTenant      string   `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins        []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS       float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int      `mapstructure:"RATE_LIMIT_BURST"`
	WeekStartDay       string   `mapstructure:"WEEK_START"`
	TrendWeeks         int      `mapstructure:"TREND_WEEKS"`
	CategoryWindowDays int      `mapstructure:"CATEGORY_WINDOW_DAYS"`
	SeriesCount        int      `mapstructure:"SERIES_COUNT"`
	ReportTimezone     string   `mapstructure:"REPORT_TIMEZONE"`
	SnapshotCron       string   `mapstructure:"SNAPSHOT_CRON"`
	MetricsEnabled     bool     `mapstructure:"METRICS_ENABLED"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"DEFAULT_TENANT", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"WEEK_START", "TREND_WEEKS", "CATEGORY_WINDOW_DAYS", "SERIES_COUNT",
	"REPORT_TIMEZONE", "SNAPSHOT_CRON", "METRICS_ENABLED",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("WEEK_START", "monday")
	v.SetDefault("TREND_WEEKS", 4)
	v.SetDefault("CATEGORY_WINDOW_DAYS", 30)
	v.SetDefault("SERIES_COUNT", 12)
	v.SetDefault("REPORT_TIMEZONE", "UTC")
	v.SetDefault("SNAPSHOT_CRON", "")
	v.SetDefault("METRICS_ENABLED", true)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// WeekStart returns the configured first day of the reporting week. Validate
// rejects anything other than monday or sunday; an unset value is Monday.
func (c *Config) WeekStart() time.Weekday {
	if strings.EqualFold(strings.TrimSpace(c.WeekStartDay), "sunday") {
		return time.Sunday
	}
	return time.Monday
}

// Location returns the zone in which "today" is determined, UTC if the
// configured zone cannot be loaded.
func (c *Config) Location() *time.Location {
	if c.ReportTimezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.ReportTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate checks that the configuration is safe to run. Outside development
// a token issuer or a signing key must be configured so that requests are
// authenticated.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_ISSUER or AUTH_SIGNING_KEY must be set when ENV=%q; "+
			"refusing to start without authentication configuration", c.Env)
	}
	if c.AuthIssuer != "" && c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf("AUTH_JWKS_URL is required when AUTH_ISSUER is set without AUTH_SIGNING_KEY")
	}

	switch strings.ToLower(strings.TrimSpace(c.WeekStartDay)) {
	case "", "monday", "sunday":
	default:
		return fmt.Errorf("WEEK_START must be \"monday\" or \"sunday\", got %q", c.WeekStartDay)
	}
	if c.TrendWeeks < 1 || c.TrendWeeks > 52 {
		return fmt.Errorf("TREND_WEEKS must be between 1 and 52, got %d", c.TrendWeeks)
	}
	if c.CategoryWindowDays < 1 || c.CategoryWindowDays > 366 {
		return fmt.Errorf("CATEGORY_WINDOW_DAYS must be between 1 and 366, got %d", c.CategoryWindowDays)
	}
	if c.SeriesCount < 1 || c.SeriesCount > 520 {
		return fmt.Errorf("SERIES_COUNT must be between 1 and 520, got %d", c.SeriesCount)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if _, err := time.LoadLocation(c.ReportTimezone); err != nil {
		return fmt.Errorf("REPORT_TIMEZONE %q: %w", c.ReportTimezone, err)
	}
	if c.SnapshotCron != "" {
		if _, err := cron.ParseStandard(c.SnapshotCron); err != nil {
			return fmt.Errorf("SNAPSHOT_CRON %q: %w", c.SnapshotCron, err)
		}
	}
	return nil
}
