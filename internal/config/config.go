package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI    string `validate:"required,startswith=mongodb"`
	MongoDBName string `validate:"required"`

	RedisAddr     string        `validate:"required,hostname_port"`
	RedisPassword string
	CacheTTL      time.Duration `validate:"gt=0"`

	BreakerFailures uint32        `validate:"gt=0"`
	BreakerTimeout  time.Duration `validate:"gt=0"`

	// KafkaBrokers is empty when the checkout consumer is disabled.
	KafkaBrokers  []string `validate:"dive,hostname_port"`
	CheckoutTopic string   `validate:"required"`
	CheckoutGroup string   `validate:"required"`

	// CartExpiry is how long a cart may sit untouched before the sweeper
	// returns its units and deletes it.
	CartExpiry    time.Duration `validate:"gt=0"`
	SweepInterval time.Duration `validate:"gt=0"`

	LogLevel string `validate:"oneof=trace debug info warn warning error fatal panic"`
}

// Load reads the environment, after applying an optional .env file, and
// validates the result.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	cacheTTL, err := time.ParseDuration(getEnv("CACHE_TTL", "15m"))
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_TTL: %w", err)
	}
	breakerTimeout, err := time.ParseDuration(getEnv("CACHE_BREAKER_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_BREAKER_TIMEOUT: %w", err)
	}
	breakerFailures, err := strconv.ParseUint(getEnv("CACHE_BREAKER_FAILURES", "5"), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_BREAKER_FAILURES: %w", err)
	}

	cartExpiry, err := time.ParseDuration(getEnv("CART_EXPIRY", "2160h"))
	if err != nil {
		return nil, fmt.Errorf("invalid CART_EXPIRY: %w", err)
	}
	sweepInterval, err := time.ParseDuration(getEnv("CART_SWEEP_INTERVAL", "1h"))
	if err != nil {
		return nil, fmt.Errorf("invalid CART_SWEEP_INTERVAL: %w", err)
	}

	cfg := &Config{
		MongoURI:        getEnv("MONGO_URI", "mongodb://localhost:27017/?replicaSet=rs0"),
		MongoDBName:     getEnv("MONGO_DB_NAME", "cartdb"),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		CacheTTL:        cacheTTL,
		BreakerFailures: uint32(breakerFailures),
		BreakerTimeout:  breakerTimeout,
		KafkaBrokers:    splitList(getEnv("KAFKA_BROKERS", "")),
		CheckoutTopic:   getEnv("CHECKOUT_TOPIC", "checkout-outbox"),
		CheckoutGroup:   getEnv("CHECKOUT_GROUP", "cart-service-consumer"),
		CartExpiry:      cartExpiry,
		SweepInterval:   sweepInterval,
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
