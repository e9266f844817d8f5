package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all application configuration
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	// Database; when DB_HOST is empty the service runs on the in-memory
	// store.
	DBHost     string `env:"DB_HOST" envDefault:""`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD" envDefault:""`
	DBName     string `env:"DB_NAME" envDefault:"predictions"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`

	// Provider endpoints
	WingoBaseURL    string `env:"WINGO_BASE_URL" envDefault:"https://draw.ar-lottery01.com"`
	MzplayURL       string `env:"MZPLAY_URL" envDefault:"https://mzplayapi.com/api/webapi/GetNoaverageEmerdList"`
	MzplayRandom    string `env:"MZPLAY_RANDOM" envDefault:"-"`
	MzplaySignature string `env:"MZPLAY_SIGNATURE" envDefault:"-"`
	MzplayPageSize  int    `env:"MZPLAY_PAGE_SIZE" envDefault:"10"`

	RequestTimeout int `env:"REQUEST_TIMEOUT" envDefault:"30"` // seconds
	RequestsPerSec int `env:"REQUESTS_PER_SEC" envDefault:"5"`

	SweepInterval int `env:"SWEEP_INTERVAL" envDefault:"120"` // seconds
	SweepPageSize int `env:"SWEEP_PAGE_SIZE" envDefault:"100"`
}

// Load initializes configuration from environment variables
func Load() (*Config, error) {
	// Load environment variables from .env file if present
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg(".env file not found, relying on actual environment variables")
	}

	var cfg Config

	cfg.LogLevel = getEnvWithDefault("LOG_LEVEL", "info")
	cfg.HTTPAddr = getEnvWithDefault("HTTP_ADDR", ":8080")

	cfg.DBHost = os.Getenv("DB_HOST")
	cfg.DBPort = getEnvWithDefault("DB_PORT", "5432")
	cfg.DBUser = getEnvWithDefault("DB_USER", "postgres")
	cfg.DBPassword = os.Getenv("DB_PASSWORD")
	cfg.DBName = getEnvWithDefault("DB_NAME", "predictions")
	cfg.DBSSLMode = getEnvWithDefault("DB_SSLMODE", "disable")

	cfg.WingoBaseURL = getEnvWithDefault("WINGO_BASE_URL", "https://draw.ar-lottery01.com")
	cfg.MzplayURL = getEnvWithDefault("MZPLAY_URL", "https://mzplayapi.com/api/webapi/GetNoaverageEmerdList")
	cfg.MzplayRandom = os.Getenv("MZPLAY_RANDOM")
	cfg.MzplaySignature = os.Getenv("MZPLAY_SIGNATURE")
	cfg.MzplayPageSize = getEnvIntWithDefault("MZPLAY_PAGE_SIZE", 10)

	cfg.RequestTimeout = getEnvIntWithDefault("REQUEST_TIMEOUT", 30)
	cfg.RequestsPerSec = getEnvIntWithDefault("REQUESTS_PER_SEC", 5)

	cfg.SweepInterval = getEnvIntWithDefault("SWEEP_INTERVAL", 120)
	cfg.SweepPageSize = getEnvIntWithDefault("SWEEP_PAGE_SIZE", 100)

	return &cfg, nil
}

// UseDatabase reports whether a PostgreSQL connection is configured.
func (c *Config) UseDatabase() bool {
	return c.DBHost != ""
}

// Helper functions for environment variable handling
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
