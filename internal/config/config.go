package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"somwatcher/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Source    SourceConfig    `mapstructure:"source"`
	Banks     BanksConfig     `mapstructure:"banks"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	SmartX    SmartXConfig    `mapstructure:"smartx"`
	Digest    DigestConfig    `mapstructure:"digest"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	API       APIConfig       `mapstructure:"api"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string  `mapstructure:"name"`
	Environment string  `mapstructure:"environment"`
	Timezone    string  `mapstructure:"timezone"`
	AdminIDs    []int64 `mapstructure:"admin_ids"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs job cadences.
type SchedulerConfig struct {
	UpdateInterval  time.Duration `mapstructure:"update_interval"`
	HistoryInterval time.Duration `mapstructure:"history_interval"`
	RetentionDays   int           `mapstructure:"retention_days"`
	CleanupTime     string        `mapstructure:"cleanup_time"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// SourceConfig points at the official rate feed.
type SourceConfig struct {
	URL            string        `mapstructure:"url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	ScraperURL     string        `mapstructure:"scraper_url"`
}

// SpreadConfig is a per-bank buy/sell offset from the official rate, in percent.
type SpreadConfig struct {
	Buy  float64 `mapstructure:"buy"`
	Sell float64 `mapstructure:"sell"`
}

// BanksConfig overrides the built-in spread table.
type BanksConfig struct {
	Spreads map[string]SpreadConfig `mapstructure:"spreads"`
}

// AlertingConfig defines evaluation parameters.
type AlertingConfig struct {
	BigChangeThresholdPct float64  `mapstructure:"big_change_threshold_pct"`
	PopularCurrencies     []string `mapstructure:"popular_currencies"`
}

// SmartXConfig tunes the smart-exchange tracker.
type SmartXConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// DigestConfig tunes daily and weekly digest delivery.
type DigestConfig struct {
	WeeklyDay  string `mapstructure:"weekly_day"`
	WeeklyTime string `mapstructure:"weekly_time"`
	TopN       int    `mapstructure:"top_n"`
}

// TelegramConfig describes the delivery transport.
type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BotToken       string        `mapstructure:"bot_token"`
	APIBase        string        `mapstructure:"api_base"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// APIConfig describes the thin HTTP surface.
type APIConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	SharedKey  string `mapstructure:"shared_key"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SOMWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "somwatcher")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.timezone", "Asia/Tashkent")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.update_interval", "60s")
	v.SetDefault("scheduler.history_interval", "15m")
	v.SetDefault("scheduler.retention_days", 90)
	v.SetDefault("scheduler.cleanup_time", "03:30")
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("source.url", "https://cbu.uz/uz/arkhiv-kursov-valyut/json/")
	v.SetDefault("source.request_timeout", "30s")
	v.SetDefault("source.user_agent", "somwatcher/1.0")

	v.SetDefault("alerting.big_change_threshold_pct", 1.0)
	v.SetDefault("alerting.popular_currencies", []string{
		"USD", "EUR", "RUB", "GBP", "CHF", "JPY", "CNY", "KRW", "TRY", "KZT",
	})

	v.SetDefault("smartx.interval", "5m")
	v.SetDefault("smartx.cooldown", "5m")

	v.SetDefault("digest.weekly_day", "monday")
	v.SetDefault("digest.weekly_time", "10:00")
	v.SetDefault("digest.top_n", 5)

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.api_base", "https://api.telegram.org")
	v.SetDefault("telegram.request_timeout", "10s")

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.listen_addr", ":8080")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.UpdateInterval <= 0 {
		return fmt.Errorf("scheduler.update_interval must be greater than zero")
	}
	if c.Scheduler.HistoryInterval <= 0 {
		return fmt.Errorf("scheduler.history_interval must be greater than zero")
	}
	if c.Scheduler.RetentionDays <= 0 {
		return fmt.Errorf("scheduler.retention_days must be greater than zero")
	}
	if _, _, err := ParseClock(c.Scheduler.CleanupTime); err != nil {
		return fmt.Errorf("scheduler.cleanup_time: %w", err)
	}
	if c.Source.URL == "" {
		return fmt.Errorf("source.url is required")
	}
	if c.Alerting.BigChangeThresholdPct < 0 {
		return fmt.Errorf("alerting.big_change_threshold_pct cannot be negative")
	}
	if c.SmartX.Interval <= 0 || c.SmartX.Cooldown <= 0 {
		return fmt.Errorf("smartx.interval and smartx.cooldown must be greater than zero")
	}
	if _, err := ParseWeekday(c.Digest.WeeklyDay); err != nil {
		return fmt.Errorf("digest.weekly_day: %w", err)
	}
	if _, _, err := ParseClock(c.Digest.WeeklyTime); err != nil {
		return fmt.Errorf("digest.weekly_time: %w", err)
	}
	if c.Digest.TopN <= 0 {
		return fmt.Errorf("digest.top_n must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
	}
	if c.API.Enabled && c.API.SharedKey == "" {
		return fmt.Errorf("api.shared_key is required when the api is enabled")
	}
	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		return fmt.Errorf("app.timezone: %w", err)
	}
	return nil
}

// Location resolves the configured timezone. Validate guarantees it parses.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// ParseClock splits an "HH:MM" string into hour and minute.
func ParseClock(s string) (int, int, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid HH:MM value %q", s)
	}
	return parsed.Hour(), parsed.Minute(), nil
}

// ParseWeekday maps a lowercase English day name to a time.Weekday.
func ParseWeekday(s string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sunday":
		return time.Sunday, nil
	case "monday":
		return time.Monday, nil
	case "tuesday":
		return time.Tuesday, nil
	case "wednesday":
		return time.Wednesday, nil
	case "thursday":
		return time.Thursday, nil
	case "friday":
		return time.Friday, nil
	case "saturday":
		return time.Saturday, nil
	}
	return 0, fmt.Errorf("invalid weekday %q", s)
}
