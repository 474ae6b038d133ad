package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"cms-backend/internal/notify"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds everything the binaries need from the environment.
type Config struct {
	Port         string
	DatabaseDSN  string
	JWTSecret    string
	TokenTTL     time.Duration
	CookieSecure bool

	CORSOrigins []string

	SMTP notify.SMTPConfig

	// SweepInterval is how often the deadline monitor scans active change
	// requests.
	SweepInterval time.Duration
}

// Load reads configs/.env when present and assembles the configuration from
// the environment with development defaults.
func Load() Config {
	if err := godotenv.Load("configs/.env"); err != nil {
		logrus.Info("no configs/.env file found, using environment")
	}

	cfg := Config{
		Port:          getEnv("PORT", "8080"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		TokenTTL:      getDuration("TOKEN_TTL", 24*time.Hour),
		CookieSecure:  os.Getenv("GIN_MODE") == "release",
		SweepInterval: getDuration("SWEEP_INTERVAL", 10*time.Minute),
		CORSOrigins:   []string{getEnv("CORS_ORIGIN", "http://localhost:5173")},
		SMTP: notify.SMTPConfig{
			Host:      os.Getenv("SMTP_HOST"),
			Port:      getInt("SMTP_PORT", 587),
			Username:  os.Getenv("SMTP_USERNAME"),
			Password:  os.Getenv("SMTP_PASSWORD"),
			FromEmail: getEnv("SMTP_FROM_EMAIL", "cms@localhost"),
			FromName:  getEnv("SMTP_FROM_NAME", "Change Management System"),
		},
	}

	if cfg.JWTSecret == "" {
		if cfg.CookieSecure {
			logrus.Fatal("JWT_SECRET environment variable is required in release mode")
		}
		cfg.JWTSecret = "default_super_secret_key" // development fallback only
	}

	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "postgres")
	password := getEnv("DB_PASSWORD", "postgres")
	name := getEnv("DB_NAME", "cms")
	sslMode := getEnv("DB_SSLMODE", "disable")
	cfg.DatabaseDSN = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, name, sslMode)

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		logrus.WithField("key", key).Warn("invalid integer in environment, using default")
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		logrus.WithField("key", key).Warn("invalid duration in environment, using default")
		return fallback
	}
	return v
}
