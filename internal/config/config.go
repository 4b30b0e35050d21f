package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dgnsrekt/refreshd/internal/errors"
	"github.com/dgnsrekt/refreshd/internal/refresh"
	"github.com/dgnsrekt/refreshd/internal/transform"
)

type Config struct {
	Engine     EngineConfig      `mapstructure:"engine"`
	API        APIConfig         `mapstructure:"api"`
	Cache      CacheConfig       `mapstructure:"cache"`
	Push       PushConfig        `mapstructure:"push"`
	Server     ServerConfig      `mapstructure:"server"`
	Notify     NotifyConfig      `mapstructure:"notify"`
	Logging    LoggingConfig     `mapstructure:"logging"`
	Transforms []TransformConfig `mapstructure:"transforms"`
	Watches    []WatchConfig     `mapstructure:"watches"`
}

type EngineConfig struct {
	EnableOptimisticUpdates    bool                     `mapstructure:"enable_optimistic_updates"`
	EnableConflictResolution   bool                     `mapstructure:"enable_conflict_resolution"`
	RefreshInterval            time.Duration            `mapstructure:"refresh_interval"`
	MaxRetries                 int                      `mapstructure:"max_retries"`
	BatchSize                  int                      `mapstructure:"batch_size"`
	ConflictResolutionStrategy string                   `mapstructure:"conflict_resolution_strategy"`
	FetchTimeout               time.Duration            `mapstructure:"fetch_timeout"`
	QueueTick                  time.Duration            `mapstructure:"queue_tick"`
	OptimisticTimeout          time.Duration            `mapstructure:"optimistic_timeout"`
	Intervals                  map[string]time.Duration `mapstructure:"intervals"`
}

type APIConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond int           `mapstructure:"rate_per_second"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type NotifyConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("engine.enable_optimistic_updates", true)
	v.SetDefault("engine.enable_conflict_resolution", true)
	v.SetDefault("engine.refresh_interval", "30s")
	v.SetDefault("engine.max_retries", 3)
	v.SetDefault("engine.batch_size", 10)
	v.SetDefault("engine.conflict_resolution_strategy", string(refresh.StrategyServerWins))
	v.SetDefault("engine.fetch_timeout", "10s")
	v.SetDefault("engine.queue_tick", "1s")
	v.SetDefault("engine.optimistic_timeout", "30s")
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("api.rate_per_second", 10)
	v.SetDefault("api.retry_delay", "1s")
	v.SetDefault("cache.ttl", "15s")
	v.SetDefault("push.enabled", false)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_header_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("notify.failure_threshold", 3)
	v.SetDefault("logging.enabled", false)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")

	// Environment variable support
	v.SetEnvPrefix("REFRESHD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Explicitly bind nested keys to env vars
	_ = v.BindEnv("api.api_key", "REFRESHD_API_KEY")
	_ = v.BindEnv("api.base_url", "REFRESHD_API_BASE_URL")
	_ = v.BindEnv("push.url", "REFRESHD_PUSH_URL")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "reading config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshaling config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}

	return &cfg, nil
}

// EngineOptions converts the engine, cache and notify sections into engine
// options. Call it on a validated config.
func (c *Config) EngineOptions() refresh.Config {
	intervals := make(map[refresh.Priority]time.Duration, len(c.Engine.Intervals))
	for name, d := range c.Engine.Intervals {
		intervals[refresh.Priority(strings.ToLower(name))] = d
	}

	return refresh.Config{
		EnableOptimisticUpdates:  c.Engine.EnableOptimisticUpdates,
		EnableConflictResolution: c.Engine.EnableConflictResolution,
		RefreshInterval:          c.Engine.RefreshInterval,
		BatchSize:                c.Engine.BatchSize,
		Strategy:                 refresh.Strategy(c.Engine.ConflictResolutionStrategy),
		FetchTimeout:             c.Engine.FetchTimeout,
		QueueTick:                c.Engine.QueueTick,
		CacheTTL:                 c.Cache.TTL,
		OptimisticTimeout:        c.Engine.OptimisticTimeout,
		Intervals:                intervals,
		FailureThreshold:         c.Notify.FailureThreshold,
	}
}

// TransformDefinitions converts the declared transforms into pipeline rule
// definitions.
func (c *Config) TransformDefinitions() []transform.Definition {
	defs := make([]transform.Definition, 0, len(c.Transforms))
	for _, t := range c.Transforms {
		defs = append(defs, transform.Definition{
			Name:   t.Name,
			Rename: t.Rename,
			Pick:   t.Pick,
			Omit:   t.Omit,
		})
	}
	return defs
}
