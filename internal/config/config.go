// Package config loads runtime configuration from the environment,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Postgres  PostgresConfig
	Scheduler SchedulerConfig
	Gateway   GatewayConfig
	// EncryptionKey seals store refresh tokens; must be 32 bytes.
	EncryptionKey string
	LogLevel      string
}

type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	SSLMode  string
}

// DSN renders the connection string for the postgres driver.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		c.Host, c.Username, c.Password, c.Database, c.Port, c.SSLMode)
}

type SchedulerConfig struct {
	Enabled  bool
	Interval time.Duration
}

type GatewayConfig struct {
	// BaseURL of the marketplace gateway. Empty selects the mock
	// client (demo mode).
	BaseURL        string
	RequestsPerSec float64
	Burst          int
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	pgPort, err := strconv.Atoi(getEnv("POSTGRES_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid POSTGRES_PORT: %w", err)
	}
	intervalMin, err := strconv.Atoi(getEnv("REPRICER_INTERVAL_MINUTES", "10"))
	if err != nil || intervalMin <= 0 {
		return nil, fmt.Errorf("invalid REPRICER_INTERVAL_MINUTES: %q", os.Getenv("REPRICER_INTERVAL_MINUTES"))
	}
	rps, err := strconv.ParseFloat(getEnv("GATEWAY_REQUESTS_PER_SEC", "5"), 64)
	if err != nil || rps <= 0 {
		return nil, fmt.Errorf("invalid GATEWAY_REQUESTS_PER_SEC: %q", os.Getenv("GATEWAY_REQUESTS_PER_SEC"))
	}
	burst, err := strconv.Atoi(getEnv("GATEWAY_BURST", "5"))
	if err != nil || burst <= 0 {
		return nil, fmt.Errorf("invalid GATEWAY_BURST: %q", os.Getenv("GATEWAY_BURST"))
	}

	cfg := &Config{
		Postgres: PostgresConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     pgPort,
			Database: getEnv("POSTGRES_DATABASE", "repricer"),
			Username: getEnv("POSTGRES_USERNAME", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		Scheduler: SchedulerConfig{
			Enabled:  getEnv("REPRICER_ENABLED", "true") == "true",
			Interval: time.Duration(intervalMin) * time.Minute,
		},
		Gateway: GatewayConfig{
			BaseURL:        getEnv("GATEWAY_BASE_URL", ""),
			RequestsPerSec: rps,
			Burst:          burst,
		},
		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}

	if len(cfg.EncryptionKey) != 0 && len(cfg.EncryptionKey) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(cfg.EncryptionKey))
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
