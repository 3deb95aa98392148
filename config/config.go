package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "OTTERLANE"

type Config struct {
	Version string `mapstructure:"-"`

	// Logging
	LogLevel string `mapstructure:"log_level"`

	// Persistence
	DataDir               string `mapstructure:"data_dir"`
	PersistenceType       string `mapstructure:"persistence_type"` // json, sqlite, redis, memory, none
	RedisAddr             string `mapstructure:"redis_addr"`
	RedisPassword         string `mapstructure:"redis_password"`
	RedisDB               int    `mapstructure:"redis_db"`
	SqliteCompressMinSize int    `mapstructure:"sqlite_compress_min_size"`

	// Extensions
	EnableDLX bool `mapstructure:"enable_dlx"`
	EnableTTL bool `mapstructure:"enable_ttl"`
	EnableQLL bool `mapstructure:"enable_qll"`

	// Dead lettering and redelivery
	DeadLetterAddress   string        `mapstructure:"dead_letter_address"`
	DLQDeliveryCount    string        `mapstructure:"dlq_delivery_count"` // reset or preserve
	MaxDeliveryAttempts uint32        `mapstructure:"max_delivery_attempts"`
	ExpiryScanPeriod    time.Duration `mapstructure:"expiry_scan_period"`
	AutoCreateQueues    bool          `mapstructure:"auto_create_queues"`

	// Web
	EnableWebAPI bool          `mapstructure:"enable_web_api"`
	WebPort      string        `mapstructure:"web_port"`
	ApiPrefix    string        `mapstructure:"api_prefix"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	JwtSecret    string        `mapstructure:"jwt_secret"` // empty disables API authentication
	JwtTTL       time.Duration `mapstructure:"jwt_ttl"`

	// Metrics
	EnableMetrics    bool   `mapstructure:"enable_metrics"`
	MetricsNamespace string `mapstructure:"metrics_namespace"`
}

var defaults = map[string]any{
	"log_level":                "info",
	"data_dir":                 "data",
	"persistence_type":         "json",
	"redis_addr":               "localhost:6379",
	"redis_password":           "",
	"redis_db":                 0,
	"sqlite_compress_min_size": 1024,
	"enable_dlx":               true,
	"enable_ttl":               true,
	"enable_qll":               true,
	"dead_letter_address":      "DLQ",
	"dlq_delivery_count":       "reset",
	"max_delivery_attempts":    0,
	"expiry_scan_period":       time.Second,
	"auto_create_queues":       true,
	"enable_web_api":           true,
	"web_port":                 "3000",
	"api_prefix":               "/api",
	"username":                 "guest",
	"password":                 "guest",
	"jwt_secret":               "",
	"jwt_ttl":                  24 * time.Hour,
	"enable_metrics":           true,
	"metrics_namespace":        "otterlane",
}

// LoadConfig loads configuration from a .env file, OTTERLANE_* environment
// variables, an optional config file and defaults.
// Priority: environment variables > .env file > config file > default values
func LoadConfig(version, configFile string) (*Config, error) {
	// A missing .env file is fine.
	_ = godotenv.Load()

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Version = version

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.PersistenceType {
	case "json", "sqlite", "redis", "memory", "none":
	default:
		return fmt.Errorf("invalid persistence type: %q", c.PersistenceType)
	}
	switch c.DLQDeliveryCount {
	case "reset", "preserve":
	default:
		return fmt.Errorf("invalid dlq delivery count policy: %q", c.DLQDeliveryCount)
	}
	if c.ExpiryScanPeriod <= 0 {
		return fmt.Errorf("expiry scan period must be positive, got %s", c.ExpiryScanPeriod)
	}
	if c.EnableDLX && c.DeadLetterAddress == "" {
		return errors.New("dead letter address must not be empty when DLX is enabled")
	}
	return nil
}
