package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/mellonhead/billrun/cmd"
	"github.com/mellonhead/billrun/internal/logger"
)

func main() {
	// Load environment variables. CREDENTIALS_FILE allows pointing at a
	// shared key=value credentials file instead of a local .env.
	envFile := os.Getenv("CREDENTIALS_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Printf("Warning: Could not load %s: %v", envFile, err)
	}

	logCfg := logger.DefaultConfig()
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		logCfg.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		logCfg.Format = format
	}
	if output := os.Getenv("LOG_OUTPUT"); output != "" {
		logCfg.Output = output
	}
	if err := logger.Setup(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	cmd.Execute()
}
