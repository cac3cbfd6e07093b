package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Inference
	GeminiAPIKey string

	// Ledger store
	DatabaseURL string

	// Auth
	ServiceKey string // empty means open access

	// Billing
	FreeQuotaPerMonth int     // free images per tenant per month
	PricePerImage     float64 // charged per billable image

	// Cache / rate limiting (optional, enabled when RedisAddr is set)
	RedisAddr       string
	RateLimitPerMin int64
	CacheTTLSeconds int

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		GeminiAPIKey:         os.Getenv("GEMINI_API_KEY"),
		DatabaseURL:          os.Getenv("OCR_DATABASE_URL"),
		ServiceKey:           os.Getenv("OCR_SERVICE_KEY"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	quota, err := strconv.Atoi(getEnv("OCR_FREE_QUOTA", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid OCR_FREE_QUOTA: %w", err)
	}
	cfg.FreeQuotaPerMonth = quota

	price, err := strconv.ParseFloat(getEnv("OCR_PRICE_PER_IMAGE", "20"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid OCR_PRICE_PER_IMAGE: %w", err)
	}
	cfg.PricePerImage = price

	rpm, err := strconv.ParseInt(getEnv("OCR_RATE_LIMIT_PER_MIN", "60"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid OCR_RATE_LIMIT_PER_MIN: %w", err)
	}
	cfg.RateLimitPerMin = rpm

	ttl, err := strconv.Atoi(getEnv("OCR_CACHE_TTL_SECONDS", "600"))
	if err != nil {
		return nil, fmt.Errorf("invalid OCR_CACHE_TTL_SECONDS: %w", err)
	}
	cfg.CacheTTLSeconds = ttl

	if cfg.FreeQuotaPerMonth < 0 {
		return nil, fmt.Errorf("OCR_FREE_QUOTA must not be negative")
	}
	if cfg.PricePerImage < 0 {
		return nil, fmt.Errorf("OCR_PRICE_PER_IMAGE must not be negative")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
