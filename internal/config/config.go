package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Cache       CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Graphing    GraphingConfig    `yaml:"graphing" mapstructure:"graphing"`
	Lists       ListsConfig       `yaml:"lists" mapstructure:"lists"`
	Prices      PricesConfig      `yaml:"prices" mapstructure:"prices"`
	Submissions SubmissionsConfig `yaml:"submissions" mapstructure:"submissions"`
	Monitoring  MonitoringConfig  `yaml:"monitoring" mapstructure:"monitoring"`
	Retry       RetryConfig       `yaml:"retry" mapstructure:"retry"`
	Breaker     BreakerConfig     `yaml:"breaker" mapstructure:"breaker"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the JSON API server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// CacheConfig configures the in-memory item cache.
type CacheConfig struct {
	WarmConcurrency     int `yaml:"warm_concurrency" mapstructure:"warm_concurrency"`
	RefreshIntervalSecs int `yaml:"refresh_interval_secs" mapstructure:"refresh_interval_secs"`
}

// RefreshInterval returns the average refresh period.
func (c CacheConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSecs) * time.Second
}

// GraphingConfig sizes the item report chart window.
type GraphingConfig struct {
	Days       int `yaml:"days" mapstructure:"days"`
	DataPoints int `yaml:"data_points" mapstructure:"data_points"`
}

// ListsConfig caps list sizes.
type ListsConfig struct {
	WatchLimit  int `yaml:"watch_limit" mapstructure:"watch_limit"`
	SearchLimit int `yaml:"search_limit" mapstructure:"search_limit"`
	QueryLimit  int `yaml:"query_limit" mapstructure:"query_limit"`
}

// PricesConfig configures price moderation.
type PricesConfig struct {
	DeleteWindowSecs int `yaml:"delete_window_secs" mapstructure:"delete_window_secs"`
}

// DeleteWindow returns how long a submitter may delete their own price.
func (c PricesConfig) DeleteWindow() time.Duration {
	return time.Duration(c.DeleteWindowSecs) * time.Second
}

// SubmissionsConfig rate-limits price submissions per user.
type SubmissionsConfig struct {
	PerMinute float64 `yaml:"per_minute" mapstructure:"per_minute"`
	Burst     int     `yaml:"burst" mapstructure:"burst"`
}

// MonitoringConfig configures the health checker.
type MonitoringConfig struct {
	CheckIntervalSecs      int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	FlagBacklogThreshold   int     `yaml:"flag_backlog_threshold" mapstructure:"flag_backlog_threshold"`
	StaleAfterHours        int     `yaml:"stale_after_hours" mapstructure:"stale_after_hours"`
	StaleFractionThreshold float64 `yaml:"stale_fraction_threshold" mapstructure:"stale_fraction_threshold"`
	AlertRepeatMins        int     `yaml:"alert_repeat_mins" mapstructure:"alert_repeat_mins"`
	WebhookURL             string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// RetryConfig configures store read retries.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// BreakerConfig configures the refresher circuit breaker.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MARKET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("cache.warm_concurrency", 8)
	v.SetDefault("cache.refresh_interval_secs", 900)
	v.SetDefault("graphing.days", 7)
	v.SetDefault("graphing.data_points", 168)
	v.SetDefault("lists.watch_limit", 50)
	v.SetDefault("lists.search_limit", 50)
	v.SetDefault("lists.query_limit", 25)
	v.SetDefault("prices.delete_window_secs", 600)
	v.SetDefault("submissions.per_minute", 30)
	v.SetDefault("submissions.burst", 10)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.flag_backlog_threshold", 50)
	v.SetDefault("monitoring.stale_after_hours", 72)
	v.SetDefault("monitoring.stale_fraction_threshold", 0.5)
	v.SetDefault("monitoring.alert_repeat_mins", 60)
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.initial_backoff_ms", 200)
	v.SetDefault("retry.max_backoff_ms", 5000)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.reset_timeout_secs", 60)
}

// Validate checks the settings a command mode depends on. Modes: serve,
// migrate, import, export.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve", "migrate", "import", "export":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required (sqlite file path)")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver))
	}

	if mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		if c.Cache.WarmConcurrency < 1 || c.Cache.WarmConcurrency > 64 {
			errs = append(errs, "cache.warm_concurrency must be between 1 and 64")
		}
		if c.Graphing.Days < 1 || c.Graphing.DataPoints < 2 {
			errs = append(errs, "graphing.days must be >= 1 and graphing.data_points >= 2")
		} else if (c.Graphing.Days*86400)%c.Graphing.DataPoints != 0 {
			errs = append(errs, "graphing.data_points must evenly divide graphing.days")
		}
		if c.Lists.WatchLimit < 1 {
			errs = append(errs, "lists.watch_limit must be >= 1")
		}
		if c.Submissions.PerMinute < 0 || c.Submissions.Burst < 0 {
			errs = append(errs, "submissions.per_minute and submissions.burst must be >= 0")
		}
		if c.Prices.DeleteWindowSecs < 0 {
			errs = append(errs, "prices.delete_window_secs must be >= 0")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
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
