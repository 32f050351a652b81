package config

import (
	"fmt"
	"os"

	"github.com/mellonhead/billrun/internal/logger"
)

type Config struct {
	// Notion Configuration (client registry + time ledger)
	NotionToken     string
	NotionClientsDB string
	NotionTimeDB    string

	// QuickBooks Configuration (invoicing service)
	IntuitAccessToken string
	IntuitRealmID     string

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

func Load() (*Config, error) {
	config := &Config{
		NotionToken:       getEnv("NOTION_TOKEN", ""),
		NotionClientsDB:   getEnv("NOTION_COMPANIES_DB", ""),
		NotionTimeDB:      getEnv("NOTION_CLIENT_HOURS_DB", ""),
		IntuitAccessToken: getEnv("INTUIT_ACCESS_TOKEN", ""),
		IntuitRealmID:     getEnv("INTUIT_REALM_ID", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:     getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:         getEnv("LOG_OUTPUT", "stderr"),
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.NotionToken == "" {
		return fmt.Errorf("NOTION_TOKEN is required")
	}
	if c.NotionClientsDB == "" {
		return fmt.Errorf("NOTION_COMPANIES_DB is required")
	}
	if c.NotionTimeDB == "" {
		return fmt.Errorf("NOTION_CLIENT_HOURS_DB is required")
	}
	if c.IntuitAccessToken == "" {
		return fmt.Errorf("INTUIT_ACCESS_TOKEN is required")
	}
	if c.IntuitRealmID == "" {
		return fmt.Errorf("INTUIT_REALM_ID is required")
	}
	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
