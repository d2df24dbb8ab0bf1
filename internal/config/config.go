package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/prospect-engine/internal/cache"
	"github.com/sells-group/prospect-engine/internal/ledger"
	"github.com/sells-group/prospect-engine/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Provider   ProviderConfig   `yaml:"provider" mapstructure:"provider"`
	Credits    ledger.Config    `yaml:"credits" mapstructure:"credits"`
	Reconcile  ReconcileConfig  `yaml:"reconcile" mapstructure:"reconcile"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// CacheConfig selects the search result cache.
type CacheConfig struct {
	// Driver is redis, store (the database's search_cache table) or none.
	Driver  string            `yaml:"driver" mapstructure:"driver"`
	TTLSecs int               `yaml:"ttl_secs" mapstructure:"ttl_secs"`
	Redis   cache.RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// TTL is the cache entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSecs) * time.Second
}

// ProviderConfig holds people-search API settings.
type ProviderConfig struct {
	Key           string  `yaml:"key" mapstructure:"key"`
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	PageLimit     int     `yaml:"page_limit" mapstructure:"page_limit"`
	RatePerSec    float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	RateBurst     int     `yaml:"rate_burst" mapstructure:"rate_burst"`
	RetryAttempts int     `yaml:"retry_attempts" mapstructure:"retry_attempts"`
}

// ReconcileConfig controls retries of settlements that failed after the
// leads were saved.
type ReconcileConfig struct {
	MaxRetries    int `yaml:"max_retries" mapstructure:"max_retries"`
	BaseDelaySecs int `yaml:"base_delay_secs" mapstructure:"base_delay_secs"`
	MaxDelaySecs  int `yaml:"max_delay_secs" mapstructure:"max_delay_secs"`
	Workers       int `yaml:"workers" mapstructure:"workers"`
	Batch         int `yaml:"batch" mapstructure:"batch"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures the background settlement checker.
type MonitoringConfig struct {
	// CheckIntervalSecs of 0 disables the checker.
	CheckIntervalSecs int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	WebhookURL        string `yaml:"webhook_url" mapstructure:"webhook_url"`
	BacklogThreshold  int    `yaml:"backlog_threshold" mapstructure:"backlog_threshold"`
	PurgeCache        bool   `yaml:"purge_cache" mapstructure:"purge_cache"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PROSPECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "prospect.db")
	v.SetDefault("cache.driver", "store")
	v.SetDefault("cache.ttl_secs", 3600)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.key_prefix", "prospect:")
	v.SetDefault("provider.base_url", "https://api.apollo.io/api/v1")
	v.SetDefault("provider.key", "")
	v.SetDefault("provider.timeout_secs", 30)
	v.SetDefault("provider.page_limit", 100)
	v.SetDefault("provider.rate_per_sec", 5)
	v.SetDefault("provider.rate_burst", 5)
	v.SetDefault("provider.retry_attempts", 3)
	v.SetDefault("credits.free_tier_limit", 5)
	v.SetDefault("credits.unit_price", 1)
	v.SetDefault("reconcile.max_retries", 5)
	v.SetDefault("reconcile.base_delay_secs", 30)
	v.SetDefault("reconcile.max_delay_secs", 1800)
	v.SetDefault("reconcile.workers", 4)
	v.SetDefault("reconcile.batch", 100)
	v.SetDefault("monitoring.check_interval_secs", 0)
	v.SetDefault("monitoring.backlog_threshold", 50)
	v.SetDefault("monitoring.purge_cache", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)

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

// Validate checks the settings a command mode depends on. Every problem is
// reported, not just the first.
func (c *Config) Validate(mode string) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	storeChecks := func() {
		switch c.Store.Driver {
		case "sqlite", "postgres":
		default:
			add("store.driver must be sqlite or postgres, got %q", c.Store.Driver)
		}
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required")
		}
	}
	cacheChecks := func() {
		switch c.Cache.Driver {
		case "store", "none":
		case "redis":
			if c.Cache.Redis.Addr == "" {
				add("cache.redis.addr is required when cache.driver is redis")
			}
		default:
			add("cache.driver must be redis, store or none, got %q", c.Cache.Driver)
		}
	}
	acquireChecks := func() {
		storeChecks()
		cacheChecks()
		if c.Provider.Key == "" {
			add("provider.key is required")
		}
		if c.Provider.PageLimit < 0 {
			add("provider.page_limit must be >= 0")
		}
		if c.Credits.FreeTierLimit < 0 {
			add("credits.free_tier_limit must be >= 0")
		}
		if c.Credits.UnitPrice <= 0 {
			add("credits.unit_price must be > 0")
		}
	}

	switch mode {
	case "serve":
		acquireChecks()
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server.port must be > 0 and <= 65535")
		}
		if c.Monitoring.CheckIntervalSecs < 0 {
			add("monitoring.check_interval_secs must be >= 0")
		}
		if c.Monitoring.CheckIntervalSecs > 0 && c.Reconcile.Workers <= 0 {
			add("reconcile.workers must be > 0")
		}
	case "acquire":
		acquireChecks()
	case "credits", "migrate":
		storeChecks()
	case "reconcile":
		storeChecks()
		if c.Reconcile.Workers <= 0 {
			add("reconcile.workers must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
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
