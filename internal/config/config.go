package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration knobs for the scheduler.
type Config struct {
	HTTP struct {
		Addr         string        `mapstructure:"addr"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"http"`
	Push struct {
		BaseURL        string        `mapstructure:"base_url"`
		Token          string        `mapstructure:"token"`
		RequestTimeout time.Duration `mapstructure:"request_timeout"`
		RatePerSec     float64       `mapstructure:"rate_per_sec"`
		Concurrency    int           `mapstructure:"concurrency"`
		Breaker        struct {
			MaxRequests  uint32        `mapstructure:"max_requests"`
			Interval     time.Duration `mapstructure:"interval"`
			Timeout      time.Duration `mapstructure:"timeout"`
			FailureRatio float64       `mapstructure:"failure_ratio"`
			MinRequests  uint32        `mapstructure:"min_requests"`
		} `mapstructure:"breaker"`
	} `mapstructure:"push"`
	Storage struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"storage"`
	Scheduler struct {
		Enabled    bool          `mapstructure:"enabled"`
		Interval   time.Duration `mapstructure:"interval"`
		Workers    int           `mapstructure:"workers"`
		BatchLimit int           `mapstructure:"batch_limit"`
		ClaimTTL   time.Duration `mapstructure:"claim_ttl"`
		Timezone   string        `mapstructure:"timezone"`
	} `mapstructure:"scheduler"`
	Redis struct {
		URL       string `mapstructure:"url"`
		KeyPrefix string `mapstructure:"key_prefix"`
	} `mapstructure:"redis"`
	RabbitMQ struct {
		URL        string `mapstructure:"url"`
		Exchange   string `mapstructure:"exchange"`
		RoutingKey string `mapstructure:"routing_key"`
	} `mapstructure:"rabbitmq"`
	Log  Log  `mapstructure:"log"`
	Auth Auth `mapstructure:"auth"`
}

// Auth guards the admin API.
type Auth struct {
	Enabled   bool          `mapstructure:"enabled"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// Log configures the process logger.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Location resolves scheduler.timezone, falling back to UTC.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Scheduler.Timezone)
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC, fmt.Errorf("scheduler.timezone %q: %w", tz, err)
	}
	return loc, nil
}

// Load reads the configuration from disk/environment using Viper.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("push_scheduler")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// a missing file is fine; env and defaults still apply
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !isNotExist(err) {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8090")
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "30s")

	v.SetDefault("push.base_url", "http://127.0.0.1:8080")
	v.SetDefault("push.token", "")
	v.SetDefault("push.request_timeout", "5s")
	v.SetDefault("push.rate_per_sec", 20)
	v.SetDefault("push.concurrency", 4)
	v.SetDefault("push.breaker.max_requests", 3)
	v.SetDefault("push.breaker.interval", "1m")
	v.SetDefault("push.breaker.timeout", "60s")
	v.SetDefault("push.breaker.failure_ratio", 0.6)
	v.SetDefault("push.breaker.min_requests", 3)

	v.SetDefault("storage.path", "./data/push-scheduler.db")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "60s")
	v.SetDefault("scheduler.workers", 1)
	v.SetDefault("scheduler.batch_limit", 0)
	v.SetDefault("scheduler.claim_ttl", "10m")
	v.SetDefault("scheduler.timezone", "UTC")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.key_prefix", "push-scheduler:")

	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.exchange", "notifications")
	v.SetDefault("rabbitmq.routing_key", "notification.completed")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.username", "admin")
	v.SetDefault("auth.password", "admin123")
	v.SetDefault("auth.jwt_secret", "change-me-secret")
	v.SetDefault("auth.token_ttl", "12h")
}
