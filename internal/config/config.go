package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Consumer ConsumerConfig `mapstructure:"consumer"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// RedisConfig defines the Redis connection and key layout settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	Stream       string `mapstructure:"stream"` // event log stream key
}

// ConsumerConfig defines the poll-loop cadence and batch sizing
type ConsumerConfig struct {
	PollInterval    string `mapstructure:"poll_interval"`  // sleep after a busy cycle
	IdleInterval    string `mapstructure:"idle_interval"`  // sleep after an empty read
	RetryInterval   string `mapstructure:"retry_interval"` // backoff after a store failure
	BatchCount      int64  `mapstructure:"batch_count"`
	ReplayCacheSize int    `mapstructure:"replay_cache_size"`
}

// MetricsConfig defines the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Port        int    `mapstructure:"port"`
	BindAddress string `mapstructure:"bind_address"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	if configPath != "" {
		v.SetConfigFile(configPath)
	}
	v.SetEnvPrefix("ACTIVITYD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// Config file not found, use defaults and environment variables
		}
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Redis defaults
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.stream", "activity:events")

	// Consumer defaults: short sleep after a busy cycle, longer when idle
	v.SetDefault("consumer.poll_interval", "5s")
	v.SetDefault("consumer.idle_interval", "15s")
	v.SetDefault("consumer.retry_interval", "10s")
	v.SetDefault("consumer.batch_count", 100)
	v.SetDefault("consumer.replay_cache_size", 1024)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9184)
	v.SetDefault("metrics.bind_address", "0.0.0.0")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}
	if cfg.Redis.Port < 0 || cfg.Redis.Port > 65535 {
		return fmt.Errorf("invalid redis port: %d", cfg.Redis.Port)
	}
	if cfg.Redis.Stream == "" {
		return fmt.Errorf("redis stream key is required")
	}

	if cfg.Consumer.BatchCount <= 0 {
		return fmt.Errorf("invalid batch_count: %d", cfg.Consumer.BatchCount)
	}

	for name, value := range map[string]string{
		"poll_interval":  cfg.Consumer.PollInterval,
		"idle_interval":  cfg.Consumer.IdleInterval,
		"retry_interval": cfg.Consumer.RetryInterval,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	if cfg.Metrics.Enabled && (cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", cfg.Metrics.Port)
	}

	return nil
}
