package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port             string
	DBPath           string
	LogLevel         string
	LogFormat        string
	BaseURL          string
	JWTSecret        string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	InviteTTL        time.Duration
	RedisAddr        string
	RedisPassword    string
	PostmarkToken    string
	PostmarkFrom     string
	InviteSweepEvery time.Duration
}

// Load reads configuration from the environment, with an optional .env file
// layered underneath. Missing .env is not an error.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:             getEnv("LARDER_PORT", "8080"),
		DBPath:           getEnv("LARDER_DB_PATH", "larder.db"),
		LogLevel:         getEnv("LARDER_LOG_LEVEL", "info"),
		LogFormat:        getEnv("LARDER_LOG_FORMAT", "text"),
		BaseURL:          getEnv("LARDER_BASE_URL", "http://localhost:8080"),
		JWTSecret:        os.Getenv("LARDER_JWT_SECRET"),
		AccessTokenTTL:   time.Duration(getEnvAsInt("LARDER_ACCESS_TOKEN_MINUTES", 15)) * time.Minute,
		RefreshTokenTTL:  time.Duration(getEnvAsInt("LARDER_REFRESH_TOKEN_DAYS", 30)) * 24 * time.Hour,
		InviteTTL:        time.Duration(getEnvAsInt("LARDER_INVITE_DAYS", 7)) * 24 * time.Hour,
		RedisAddr:        os.Getenv("LARDER_REDIS_ADDR"),
		RedisPassword:    os.Getenv("LARDER_REDIS_PASSWORD"),
		PostmarkToken:    os.Getenv("LARDER_POSTMARK_TOKEN"),
		PostmarkFrom:     getEnv("LARDER_POSTMARK_FROM", "noreply@larder.local"),
		InviteSweepEvery: time.Duration(getEnvAsInt("LARDER_INVITE_SWEEP_HOURS", 0)) * time.Hour,
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("LARDER_JWT_SECRET is required")
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}
