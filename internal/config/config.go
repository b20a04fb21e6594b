// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir             string // Base directory for all databases (always absolute)
	Port                int
	LogLevel            string
	DevMode             bool
	SentimentServiceURL string // FinBERT sentiment microservice
	MarketDataURL       string // REST candle history endpoint
	MarketFeedURL       string // Websocket quote feed endpoint
	WatchSymbols        []string

	// Task queue processor
	QueueMaxConcurrent int           // Max tasks executed per batch
	QueuePollInterval  time.Duration // How often the processor polls for pending tasks

	// Task history archiving (S3-compatible storage)
	Archive *ArchiveConfig
}

// ArchiveConfig holds object-storage settings for task history exports
type ArchiveConfig struct {
	Enabled         bool
	Endpoint        string // S3-compatible endpoint URL
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	RetentionDays   int // Terminal tasks older than this are archived then purged
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("FULCRUM_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:             absDataDir,
		Port:                getEnvAsInt("FULCRUM_PORT", 8001),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		DevMode:             getEnvAsBool("DEV_MODE", false),
		SentimentServiceURL: getEnv("SENTIMENT_SERVICE_URL", "http://localhost:9000"),
		MarketDataURL:       getEnv("MARKET_DATA_URL", "http://localhost:9100"),
		MarketFeedURL:       getEnv("MARKET_FEED_URL", ""),
		WatchSymbols:        getEnvAsList("WATCH_SYMBOLS", nil),
		QueueMaxConcurrent:  getEnvAsInt("QUEUE_MAX_CONCURRENT", 4),
		QueuePollInterval:   time.Duration(getEnvAsInt("QUEUE_POLL_SECONDS", 10)) * time.Second,
		Archive:             loadArchiveConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.QueueMaxConcurrent < 1 {
		return fmt.Errorf("QUEUE_MAX_CONCURRENT must be at least 1, got %d", c.QueueMaxConcurrent)
	}
	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			return fmt.Errorf("ARCHIVE_BUCKET is required when archiving is enabled")
		}
		if c.Archive.AccessKeyID == "" || c.Archive.SecretAccessKey == "" {
			return fmt.Errorf("archive credentials are required when archiving is enabled")
		}
	}
	return nil
}

// loadArchiveConfig loads object-storage archive configuration
func loadArchiveConfig() *ArchiveConfig {
	return &ArchiveConfig{
		Enabled:         getEnvAsBool("ARCHIVE_ENABLED", false),
		Endpoint:        getEnv("ARCHIVE_ENDPOINT", ""),
		Bucket:          getEnv("ARCHIVE_BUCKET", ""),
		AccessKeyID:     getEnv("ARCHIVE_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("ARCHIVE_SECRET_ACCESS_KEY", ""),
		RetentionDays:   getEnvAsInt("ARCHIVE_RETENTION_DAYS", 90),
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
