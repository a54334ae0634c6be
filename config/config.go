// Package config loads server configuration from the environment,
// with .env support for local development.
package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

type Config struct {
	ServerPort string
	DBPath     string
	SpoolDir   string // where uploaded spreadsheets are kept until processed
	LogLevel   string
}

// Load reads configuration, preferring real environment variables over .env.
func Load(logger zerolog.Logger) *Config {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{
		ServerPort: getEnv("SERVER_PORT", "8080"),
		DBPath:     getEnv("DB_PATH", "commission.db"),
		SpoolDir:   getEnv("SPOOL_DIR", "uploads"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
	}

	logger.Info().
		Str("server_port", cfg.ServerPort).
		Str("db_path", cfg.DBPath).
		Str("spool_dir", cfg.SpoolDir).
		Str("log_level", cfg.LogLevel).
		Msg("configuration loaded")
	return cfg
}

// Level parses the configured log level, defaulting to info.
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
