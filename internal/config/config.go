package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Config holds the settings of the dsuctl command.
type Config struct {
	Server   string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
	// Archive is the SQLite file retrieved messages are kept in.
	Archive  string
	Env      string
	LogLevel string
}

// Load reads configuration from environment variables, after loading a .env
// file from the working directory if one exists. Variables already set in
// the environment take precedence over the file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server:   getEnv("DSU_SERVER", "localhost"),
		Username: os.Getenv("DSU_USERNAME"),
		Password: os.Getenv("DSU_PASSWORD"),
		Archive:  getEnv("DSU_ARCHIVE", defaultArchivePath()),
		Env:      getEnv("DSU_ENV", "development"),
		LogLevel: getEnv("DSU_LOG_LEVEL", "info"),
	}

	port, err := strconv.Atoi(getEnv("DSU_PORT", "3001"))
	if err != nil || port <= 0 || port > 65535 {
		return nil, errors.Errorf("invalid DSU_PORT %q", os.Getenv("DSU_PORT"))
	}
	cfg.Port = port

	timeout, err := time.ParseDuration(getEnv("DSU_TIMEOUT", "10s"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid DSU_TIMEOUT")
	}
	if timeout <= 0 {
		return nil, errors.Errorf("invalid DSU_TIMEOUT %q: must be positive", timeout)
	}
	cfg.Timeout = timeout

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func defaultArchivePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "dsu.db"
	}
	return filepath.Join(dir, "dsu", "archive.db")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
