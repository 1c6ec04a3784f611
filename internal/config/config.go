// Package config loads the relay's runtime configuration from the
// environment, with an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr string

	BitrixWebhookBase string

	ShopifyDomain        string
	ShopifyAccessToken   string
	ShopifyWebhookSecret string
	ShopifyAPIVersion    string

	EduvemAPIURL   string
	EduvemAPIToken string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MappingFile string

	UserCacheTTL    time.Duration
	EnumCacheTTL    time.Duration
	CallTimeout     time.Duration
	TaskTimeout     time.Duration
	RateLimitMax    int64
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
}

// Load reads the environment. Only the CRM webhook base is required; every
// optional integration degrades gracefully when its variables are absent.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Addr:                 stringEnv("RELAY_ADDR", ":8080"),
		BitrixWebhookBase:    strings.TrimSpace(os.Getenv("BITRIX_WEBHOOK_BASE")),
		ShopifyDomain:        strings.TrimSpace(os.Getenv("SHOPIFY_DOMAIN")),
		ShopifyAccessToken:   strings.TrimSpace(os.Getenv("SHOPIFY_ACCESS_TOKEN")),
		ShopifyWebhookSecret: strings.TrimSpace(os.Getenv("SHOPIFY_WEBHOOK_SECRET")),
		ShopifyAPIVersion:    strings.TrimSpace(os.Getenv("SHOPIFY_API_VERSION")),
		EduvemAPIURL:         strings.TrimSpace(os.Getenv("EDUVEM_API_URL")),
		EduvemAPIToken:       strings.TrimSpace(os.Getenv("EDUVEM_API_TOKEN")),
		DatabaseURL:          strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisAddr:            strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              intEnv("REDIS_DB", 0),
		MappingFile:          strings.TrimSpace(os.Getenv("RELAY_MAPPING_FILE")),
		UserCacheTTL:         durationEnv("RELAY_USER_CACHE_TTL", 120*time.Minute),
		EnumCacheTTL:         durationEnv("RELAY_ENUM_CACHE_TTL", time.Hour),
		CallTimeout:          durationEnv("RELAY_CALL_TIMEOUT", 30*time.Second),
		TaskTimeout:          durationEnv("RELAY_TASK_TIMEOUT", 2*time.Minute),
		RateLimitMax:         int64Env("RELAY_RATE_LIMIT_MAX", 0),
		RateLimitWindow:      durationEnv("RELAY_RATE_LIMIT_WINDOW", time.Minute),
		MaxBodyBytes:         int64Env("RELAY_MAX_BODY_BYTES", 1<<20),
	}
	if cfg.BitrixWebhookBase == "" {
		return Config{}, fmt.Errorf("BITRIX_WEBHOOK_BASE is required")
	}
	return cfg, nil
}

func stringEnv(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

func intEnv(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func int64Env(name string, fallback int64) int64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return v
}
