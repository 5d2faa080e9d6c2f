package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"

	PricingLive     = "live"
	PricingSnapshot = "snapshot"
)

type Config struct {
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	AppPort    string
	AppEnv     string
	Storage    string

	TaxPercent          decimal.Decimal
	LinePricing         string
	GatewaySuccessCodes []string

	PaymentCallbackToken string
	JWTSecret            string
	InternalServiceKey   string

	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Enable it only behind a proxy that overwrites those headers.
	TrustProxy bool

	RedisURL     string
	NotifyQueue  string
	NotifyBuffer int
}

// Load reads the environment (and an optional .env file) into a Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:               os.Getenv("DB_HOST"),
		DBUser:               os.Getenv("DB_USER"),
		DBPassword:           os.Getenv("DB_PASSWORD"),
		DBName:               os.Getenv("DB_NAME"),
		DBPort:               os.Getenv("DB_PORT"),
		AppPort:              getenvDefault("APP_PORT", "8080"),
		AppEnv:               os.Getenv("APP_ENV"),
		Storage:              strings.ToLower(getenvDefault("STORAGE", StoragePostgres)),
		LinePricing:          strings.ToLower(getenvDefault("LINE_PRICING", PricingLive)),
		GatewaySuccessCodes:  splitList(getenvDefault("GATEWAY_SUCCESS_CODES", "Success,COMPLETED,PAID,SUCCEEDED")),
		PaymentCallbackToken: os.Getenv("PAYMENT_CALLBACK_TOKEN"),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		InternalServiceKey:   os.Getenv("INTERNAL_SERVICE_KEY"),
		RedisURL:             os.Getenv("REDIS_URL"),
		NotifyQueue:          getenvDefault("NOTIFY_QUEUE", "storefront:notifications"),
	}

	tax, err := decimal.NewFromString(getenvDefault("TAX_PERCENT", "2"))
	if err != nil {
		return nil, fmt.Errorf("invalid TAX_PERCENT: %w", err)
	}
	if tax.IsNegative() {
		return nil, fmt.Errorf("invalid TAX_PERCENT: must not be negative")
	}
	cfg.TaxPercent = tax

	buf, err := strconv.Atoi(getenvDefault("NOTIFY_BUFFER", "256"))
	if err != nil || buf <= 0 {
		return nil, fmt.Errorf("invalid NOTIFY_BUFFER: %q", os.Getenv("NOTIFY_BUFFER"))
	}
	cfg.NotifyBuffer = buf

	trust, err := strconv.ParseBool(getenvDefault("TRUST_PROXY", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid TRUST_PROXY: %w", err)
	}
	cfg.TrustProxy = trust

	switch cfg.Storage {
	case StoragePostgres:
		if cfg.DBHost == "" {
			return nil, fmt.Errorf("DB_HOST is required for %s storage", StoragePostgres)
		}
	case StorageMemory:
	default:
		return nil, fmt.Errorf("unknown STORAGE: %s", cfg.Storage)
	}

	if cfg.LinePricing != PricingLive && cfg.LinePricing != PricingSnapshot {
		return nil, fmt.Errorf("unknown LINE_PRICING: %s", cfg.LinePricing)
	}

	return cfg, nil
}

// LoadConfig is Load for main packages: a bad environment stops the process.
func LoadConfig() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("Environment variables not loaded properly: %v", err)
	}
	return cfg
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
