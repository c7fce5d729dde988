package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port   string
	DBUrl  string
	AppEnv string

	JWTSecret string

	PushGatewayURL       string
	PushDispatchInterval time.Duration
}

// Load reads configuration from the environment, with .env as a convenience
// for local development. DB_URL and JWT_SECRET have no sane defaults and are
// required.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbURL := os.Getenv("DB_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DB_URL is required")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		DBUrl:                dbURL,
		AppEnv:               normalizeEnv(getEnv("APP_ENV", "development")),
		JWTSecret:            jwtSecret,
		PushGatewayURL:       getEnv("PUSH_GATEWAY_URL", "https://exp.host"),
		PushDispatchInterval: time.Duration(getEnvInt("PUSH_DISPATCH_INTERVAL_SECONDS", 15)) * time.Second,
	}

	return cfg, nil
}

func normalizeEnv(env string) string {
	switch env {
	case "development", "test", "production":
		return env
	default:
		return "development"
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
