package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"spotwatcher/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Market      MarketConfig      `mapstructure:"market"`
	Fetch       FetchConfig       `mapstructure:"fetch"`
	Fallback    FallbackConfig    `mapstructure:"fallback"`
	HealthCheck HealthCheckConfig `mapstructure:"healthcheck"`
	Rates       RatesConfig       `mapstructure:"rates"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Export      ExportConfig      `mapstructure:"export"`
	Sources     []SourceConfig    `mapstructure:"sources"`
	Areas       []AreaConfig      `mapstructure:"areas"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for snapshot
// persistence. An empty DSN runs memory-only.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs the orchestrator tick cadence.
type SchedulerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
}

// MarketConfig describes the normalisation target.
type MarketConfig struct {
	Currency        string  `mapstructure:"currency"`
	InCents         bool    `mapstructure:"in_cents"`
	Unit            string  `mapstructure:"unit"`
	VATRate         float64 `mapstructure:"vat_rate"`
	IntervalMinutes int     `mapstructure:"interval_minutes"`
}

// Interval returns the configured granularity as a duration.
func (m MarketConfig) Interval() time.Duration {
	return time.Duration(m.IntervalMinutes) * time.Minute
}

// HourWindow is a [start, end) wall-clock hour range.
type HourWindow struct {
	StartHour int `mapstructure:"start_hour"`
	EndHour   int `mapstructure:"end_hour"`
}

// Contains reports whether t's hour falls inside the window. A window may
// wrap midnight.
func (w HourWindow) Contains(t time.Time) bool {
	if w.StartHour == w.EndHour {
		return false
	}
	h := t.Hour()
	if w.StartHour < w.EndHour {
		return h >= w.StartHour && h < w.EndHour
	}
	return h >= w.StartHour || h < w.EndHour
}

// FetchConfig governs the fetch/skip decision.
type FetchConfig struct {
	MinInterval        time.Duration `mapstructure:"min_interval"`
	SafetyBufferHours  float64       `mapstructure:"safety_buffer_hours"`
	GracePeriod        time.Duration `mapstructure:"grace_period"`
	PublicationWindows []HourWindow  `mapstructure:"publication_windows"`
}

// FallbackConfig tunes per-source retry behaviour.
type FallbackConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	FailureTTL        time.Duration `mapstructure:"failure_ttl"`
}

// HealthCheckConfig schedules the daily all-source validation.
type HealthCheckConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Window        HourWindow    `mapstructure:"window"`
	MaxStartDelay time.Duration `mapstructure:"max_start_delay"`
}

// RatesConfig covers the exchange-rate collaborator.
type RatesConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	Enabled           bool           `mapstructure:"enabled"`
	MinHoursRemaining float64        `mapstructure:"min_hours_remaining"`
	Cooldown          time.Duration  `mapstructure:"cooldown"`
	Channels          []string       `mapstructure:"channels"`
	Telegram          TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// SourceConfig declares one external price source endpoint.
type SourceConfig struct {
	Name            string        `mapstructure:"name"`
	URL             string        `mapstructure:"url"`
	Timezone        string        `mapstructure:"timezone"`
	Currency        string        `mapstructure:"currency"`
	Unit            string        `mapstructure:"unit"`
	IntervalMinutes int           `mapstructure:"interval_minutes"`
	VATIncluded     bool          `mapstructure:"vat_included"`
	Kind            string        `mapstructure:"kind"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// AreaConfig declares one tracked bidding area with its ordered source
// priority list.
type AreaConfig struct {
	Name     string   `mapstructure:"name"`
	Timezone string   `mapstructure:"timezone"`
	Sources  []string `mapstructure:"sources"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SPOTWATCHER")
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
	v.SetDefault("app.name", "spotwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "1m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("market.currency", "EUR")
	v.SetDefault("market.in_cents", true)
	v.SetDefault("market.unit", "kWh")
	v.SetDefault("market.vat_rate", 0.0)
	v.SetDefault("market.interval_minutes", 15)

	v.SetDefault("fetch.min_interval", "15m")
	v.SetDefault("fetch.safety_buffer_hours", 2.0)
	v.SetDefault("fetch.grace_period", "5m")

	v.SetDefault("fallback.max_attempts", 3)
	v.SetDefault("fallback.backoff_base", "2s")
	v.SetDefault("fallback.backoff_multiplier", 3.0)
	v.SetDefault("fallback.failure_ttl", "24h")

	v.SetDefault("healthcheck.enabled", true)
	v.SetDefault("healthcheck.window.start_hour", 3)
	v.SetDefault("healthcheck.window.end_hour", 6)
	v.SetDefault("healthcheck.max_start_delay", "1h")

	v.SetDefault("rates.request_timeout", "10s")
	v.SetDefault("rates.user_agent", "spotwatcher/1.0")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.min_hours_remaining", 1.0)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

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
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Market.IntervalMinutes <= 0 || 60%c.Market.IntervalMinutes != 0 {
		return fmt.Errorf("market.interval_minutes must divide an hour evenly")
	}
	if c.Market.VATRate < 0 {
		return fmt.Errorf("market.vat_rate cannot be negative")
	}
	if c.Fetch.MinInterval <= 0 {
		return fmt.Errorf("fetch.min_interval must be greater than zero")
	}
	if c.Fetch.SafetyBufferHours < 0 {
		return fmt.Errorf("fetch.safety_buffer_hours cannot be negative")
	}
	if c.Fallback.MaxAttempts <= 0 {
		return fmt.Errorf("fallback.max_attempts must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}

	windows := append([]HourWindow{c.HealthCheck.Window}, c.Fetch.PublicationWindows...)
	for _, w := range windows {
		if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < 0 || w.EndHour > 24 {
			return fmt.Errorf("hour window %d-%d out of range", w.StartHour, w.EndHour)
		}
	}

	known := make(map[string]struct{}, len(c.Sources))
	for _, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("sources[].name 必须配置")
		}
		known[src.Name] = struct{}{}
	}
	for _, area := range c.Areas {
		if area.Name == "" {
			return fmt.Errorf("areas[].name 必须配置")
		}
		if area.Timezone == "" {
			return fmt.Errorf("area %s: timezone 必须配置", area.Name)
		}
		if len(area.Sources) == 0 {
			return fmt.Errorf("area %s: at least one source required", area.Name)
		}
		for _, name := range area.Sources {
			if _, ok := known[name]; !ok {
				return fmt.Errorf("area %s references unknown source %q", area.Name, name)
			}
		}
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// SourceByName looks up a source declaration.
func (c *Config) SourceByName(name string) (SourceConfig, bool) {
	for _, src := range c.Sources {
		if src.Name == name {
			return src, true
		}
	}
	return SourceConfig{}, false
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
