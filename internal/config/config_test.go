package config

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"optout-sentry-go/internal/mail"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080"},
		Database: DatabaseConfig{
			Host:   "localhost",
			User:   "test",
			DBName: "test",
		},
		Gmail: mail.GmailConfig{
			ClientID:     "id",
			ClientSecret: "secret",
		},
		Lifecycle: LifecycleConfig{ConfidenceThreshold: 0.6},
		RateLimit: RateLimitConfig{
			ScanLimit:         10,
			ScanWindowSeconds: 3600,
			SendLimit:         50,
			SendWindowSeconds: 86400,
		},
	}
}

func TestConfigValidation(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	missingPort := validConfig()
	missingPort.Server.Port = ""
	assert.Error(t, missingPort.Validate())

	missingDB := validConfig()
	missingDB.Database.User = ""
	assert.Error(t, missingDB.Validate())

	missingGmail := validConfig()
	missingGmail.Gmail.ClientID = ""
	assert.Error(t, missingGmail.Validate())

	badThreshold := validConfig()
	badThreshold.Lifecycle.ConfidenceThreshold = 1.5
	assert.Error(t, badThreshold.Validate())

	badLimit := validConfig()
	badLimit.RateLimit.ScanLimit = 0
	assert.Error(t, badLimit.Validate())
}

func TestConfigValidationIMAPMode(t *testing.T) {
	cfg := validConfig()
	cfg.UseIMAP = true
	cfg.Gmail.ClientID = ""
	cfg.Gmail.ClientSecret = ""
	assert.Error(t, cfg.Validate())

	cfg.IMAP.User = "scanner@example.com"
	cfg.IMAP.Password = "secret"
	assert.NoError(t, cfg.Validate())
}

func TestDatabaseDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     3306,
		User:     "testuser",
		Password: "testpass",
		DBName:   "testdb",
	}

	dsn := cfg.GetDSN()
	expected := "testuser:testpass@tcp(localhost:3306)/testdb?charset=utf8mb4&parseTime=True&loc=Local"
	assert.Equal(t, expected, dsn)
}
