// Package config loads desklet settings from defaults, an optional YAML file
// and DESKLET_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const envPrefix = "DESKLET"

const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

type Config struct {
	Port   string `yaml:"port" envconfig:"PORT"`
	DBPath string `yaml:"db_path" envconfig:"DB_PATH"`
	// Store selects the persistence backend: sqlite, redis or memory.
	Store       string `yaml:"store" envconfig:"STORE"`
	RedisURL    string `yaml:"redis_url" envconfig:"REDIS_URL"`
	RedisPrefix string `yaml:"redis_prefix" envconfig:"REDIS_PREFIX"`

	LogLevel      string `yaml:"log_level" envconfig:"LOG_LEVEL"`
	LogFile       string `yaml:"log_file" envconfig:"LOG_FILE"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb" envconfig:"LOG_MAX_SIZE_MB"`
	LogMaxBackups int    `yaml:"log_max_backups" envconfig:"LOG_MAX_BACKUPS"`

	VAPIDPublicKey  string `yaml:"vapid_public_key" envconfig:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `yaml:"vapid_private_key" envconfig:"VAPID_PRIVATE_KEY"`
	VAPIDSubscriber string `yaml:"vapid_subscriber" envconfig:"VAPID_SUBSCRIBER"`

	MaxRetained         int           `yaml:"max_retained" envconfig:"MAX_RETAINED"`
	InteractionThrottle time.Duration `yaml:"interaction_throttle" envconfig:"INTERACTION_THROTTLE"`
	IdleThreshold       time.Duration `yaml:"idle_threshold" envconfig:"IDLE_THRESHOLD"`
	RolloverPeriod      time.Duration `yaml:"rollover_period" envconfig:"ROLLOVER_PERIOD"`
	StreakThreshold     time.Duration `yaml:"streak_threshold" envconfig:"STREAK_THRESHOLD"`
	NudgeCooldown       time.Duration `yaml:"nudge_cooldown" envconfig:"NUDGE_COOLDOWN"`
	InsightInterval     time.Duration `yaml:"insight_interval" envconfig:"INSIGHT_INTERVAL"`

	// Per-IP request rate for the HTTP API.
	RateLimit     float64       `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	RateBurst     int           `yaml:"rate_burst" envconfig:"RATE_BURST"`
	FocusCacheTTL time.Duration `yaml:"focus_cache_ttl" envconfig:"FOCUS_CACHE_TTL"`
}

func Default() Config {
	return Config{
		Port:          "8080",
		DBPath:        "desklet.db",
		Store:         StoreSQLite,
		RedisURL:      "redis://localhost:6379/0",
		RedisPrefix:   "desklet:",
		LogLevel:      "info",
		LogMaxSizeMB:  10,
		LogMaxBackups: 3,

		MaxRetained:         50,
		InteractionThrottle: time.Second,
		IdleThreshold:       60 * time.Second,
		RolloverPeriod:      5 * time.Minute,
		StreakThreshold:     40 * time.Minute,
		NudgeCooldown:       10 * time.Minute,
		InsightInterval:     30 * time.Minute,

		RateLimit:     20,
		RateBurst:     40,
		FocusCacheTTL: 2 * time.Second,
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Store {
	case StoreSQLite, StoreRedis, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("store must be sqlite, redis or memory, got %q", c.Store))
	}
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if c.Store == StoreSQLite && c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required for the sqlite store"))
	}
	if c.Store == StoreRedis && c.RedisURL == "" {
		errs = append(errs, errors.New("redis_url is required for the redis store"))
	}
	if c.MaxRetained < 1 {
		errs = append(errs, errors.New("max_retained must be at least 1"))
	}
	durations := map[string]time.Duration{
		"interaction_throttle": c.InteractionThrottle,
		"idle_threshold":       c.IdleThreshold,
		"rollover_period":      c.RolloverPeriod,
		"streak_threshold":     c.StreakThreshold,
		"insight_interval":     c.InsightInterval,
	}
	for name, d := range durations {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.NudgeCooldown < 0 {
		errs = append(errs, errors.New("nudge_cooldown must not be negative"))
	}
	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		errs = append(errs, errors.New("vapid_public_key and vapid_private_key must be set together"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
