package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type appConfig struct {
	Addr        string
	DBPath      string
	TokenTTL    time.Duration
	AuthTimeout time.Duration
}

func loadConfig() appConfig {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file, using environment", "error", err)
	}

	return appConfig{
		Addr:        ":" + envOrDefault("PORT", "8080"),
		DBPath:      envOrDefault("DB_PATH", "issuecast.db"),
		TokenTTL:    envDuration("TOKEN_TTL", 12*time.Hour),
		AuthTimeout: envDuration("AUTH_TIMEOUT", defaultAuthTimeout),
	}
}

func envOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		slog.Warn("invalid duration, using default", "key", key, "value", val)
		return fallback
	}
	return d
}
