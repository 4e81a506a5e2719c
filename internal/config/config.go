// Package config loads application configuration from a YAML file and
// environment variables, with env vars taking precedence.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"optout-sentry-go/internal/mail"
	"optout-sentry-go/internal/orchestrator"
	"optout-sentry-go/internal/ratelimit"
	"optout-sentry-go/internal/scanner"
)

// Config holds all configuration for the application.
type Config struct {
	Server       ServerConfig          `mapstructure:"server"`
	Database     DatabaseConfig        `mapstructure:"database"`
	Redis        ratelimit.RedisConfig `mapstructure:"redis"`
	Gmail        mail.GmailConfig      `mapstructure:"gmail"`
	IMAP         mail.IMAPConfig       `mapstructure:"imap"`
	UseIMAP      bool                  `mapstructure:"use_imap"`
	Scanner      scanner.Config        `mapstructure:"scanner"`
	Orchestrator orchestrator.Config   `mapstructure:"orchestrator"`
	Lifecycle    LifecycleConfig       `mapstructure:"lifecycle"`
	RateLimit    RateLimitConfig       `mapstructure:"rate_limit"`
	Brokers      BrokersConfig         `mapstructure:"brokers"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// LifecycleConfig holds deletion-request lifecycle tunables.
type LifecycleConfig struct {
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
}

// RateLimitConfig holds the per-action rate limit windows.
type RateLimitConfig struct {
	ScanLimit         int `mapstructure:"scan_limit"`
	ScanWindowSeconds int `mapstructure:"scan_window_seconds"`
	SendLimit         int `mapstructure:"send_limit"`
	SendWindowSeconds int `mapstructure:"send_window_seconds"`
}

// BrokersConfig holds the optional seed file for the broker directory.
type BrokersConfig struct {
	SeedFile string `mapstructure:"seed_file"`
}

// LoadConfig loads configuration from environment variables and config file.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	viper.AutomaticEnv()
	bindEnvVars()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("use_imap", false)
	viper.SetDefault("imap.host", "imap.gmail.com")
	viper.SetDefault("imap.port", 993)
	viper.SetDefault("imap.lookback_days", 7)

	viper.SetDefault("scanner.days_back", 7)
	viper.SetDefault("scanner.max_messages", 50)

	viper.SetDefault("orchestrator.fanout_schedule", "0 0 3 * * *")

	viper.SetDefault("lifecycle.confidence_threshold", 0.6)

	viper.SetDefault("rate_limit.scan_limit", 10)
	viper.SetDefault("rate_limit.scan_window_seconds", 3600)
	viper.SetDefault("rate_limit.send_limit", 50)
	viper.SetDefault("rate_limit.send_window_seconds", 86400)
}

// bindEnvVars binds environment variables to configuration keys.
func bindEnvVars() {
	// Server
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	// Database
	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.dbname", "DB_NAME")

	// Redis
	viper.BindEnv("redis.addr", "REDIS_ADDR")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	// Gmail
	viper.BindEnv("gmail.client_id", "GMAIL_CLIENT_ID")
	viper.BindEnv("gmail.client_secret", "GMAIL_CLIENT_SECRET")

	// IMAP
	viper.BindEnv("use_imap", "USE_IMAP")
	viper.BindEnv("imap.host", "IMAP_HOST")
	viper.BindEnv("imap.port", "IMAP_PORT")
	viper.BindEnv("imap.user", "IMAP_USER")
	viper.BindEnv("imap.password", "IMAP_PASSWORD")
	viper.BindEnv("imap.lookback_days", "IMAP_LOOKBACK_DAYS")

	// Scanner
	viper.BindEnv("scanner.days_back", "SCANNER_DAYS_BACK")
	viper.BindEnv("scanner.max_messages", "SCANNER_MAX_MESSAGES")

	// Orchestrator
	viper.BindEnv("orchestrator.fanout_schedule", "ORCHESTRATOR_FANOUT_SCHEDULE")

	// Lifecycle
	viper.BindEnv("lifecycle.confidence_threshold", "LIFECYCLE_CONFIDENCE_THRESHOLD")

	// Rate limits
	viper.BindEnv("rate_limit.scan_limit", "RATE_LIMIT_SCAN_LIMIT")
	viper.BindEnv("rate_limit.scan_window_seconds", "RATE_LIMIT_SCAN_WINDOW_SECONDS")
	viper.BindEnv("rate_limit.send_limit", "RATE_LIMIT_SEND_LIMIT")
	viper.BindEnv("rate_limit.send_window_seconds", "RATE_LIMIT_SEND_WINDOW_SECONDS")

	// Brokers
	viper.BindEnv("brokers.seed_file", "BROKERS_SEED_FILE")
}

// GetDSN returns the database connection string.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host, user, and dbname are required")
	}

	if c.UseIMAP {
		if c.IMAP.User == "" || c.IMAP.Password == "" {
			return fmt.Errorf("IMAP credentials are required when using IMAP")
		}
	} else {
		if c.Gmail.ClientID == "" || c.Gmail.ClientSecret == "" {
			return fmt.Errorf("Gmail OAuth2 credentials are required when not using IMAP")
		}
	}

	if c.Lifecycle.ConfidenceThreshold < 0 || c.Lifecycle.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be between 0 and 1")
	}

	if c.RateLimit.ScanLimit <= 0 || c.RateLimit.SendLimit <= 0 {
		return fmt.Errorf("rate limits must be greater than 0")
	}

	return nil
}
