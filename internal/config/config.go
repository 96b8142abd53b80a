package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds everything the process reads from the environment.
type Config struct {
	// HTTP
	ListenAddr string

	// Database and cache
	DatabaseURL string
	RedisURL    string

	// Auth
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Risk
	InitialBalance decimal.Decimal

	// Execution engine
	MaxRetries      int
	SubmitTimeout   time.Duration
	MonitorInterval time.Duration

	// Feedback loop
	FeedbackInterval time.Duration
	FeedbackWindow   time.Duration

	// Simulation broker
	SimSlippagePips     decimal.Decimal
	SimCommissionPerLot decimal.Decimal
	SimLatency          time.Duration
	SimFillProbability  float64

	// Market data
	FeedSymbols  []string
	FeedInterval string

	Debug bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		DatabaseURL: getEnv("DATABASE_URL", "data/guardrail.db"),
		RedisURL:    os.Getenv("REDIS_URL"),

		JWTSecret:       os.Getenv("JWT_SECRET"),
		AccessTokenTTL:  getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL: getEnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),

		InitialBalance: getEnvDecimal("INITIAL_BALANCE", decimal.NewFromInt(10000)),

		MaxRetries:      getEnvInt("EXEC_MAX_RETRIES", 3),
		SubmitTimeout:   getEnvDuration("EXEC_SUBMIT_TIMEOUT", 30*time.Second),
		MonitorInterval: getEnvDuration("EXEC_MONITOR_INTERVAL", 5*time.Second),

		FeedbackInterval: getEnvDuration("FEEDBACK_INTERVAL", time.Hour),
		FeedbackWindow:   getEnvDuration("FEEDBACK_WINDOW", 7*24*time.Hour),

		SimSlippagePips:     getEnvDecimal("SIM_SLIPPAGE_PIPS", decimal.NewFromFloat(0.0002)),
		SimCommissionPerLot: getEnvDecimal("SIM_COMMISSION_PER_LOT", decimal.NewFromInt(7)),
		SimLatency:          getEnvDuration("SIM_LATENCY", 50*time.Millisecond),
		SimFillProbability:  getEnvFloat("SIM_FILL_PROBABILITY", 0.98),

		FeedSymbols:  splitCSV(getEnv("FEED_SYMBOLS", "BTCUSDT")),
		FeedInterval: getEnv("FEED_INTERVAL", "1m"),

		Debug: getEnvBool("DEBUG", false),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.SimFillProbability <= 0 || cfg.SimFillProbability > 1 {
		return nil, fmt.Errorf("SIM_FILL_PROBABILITY must be in (0, 1]")
	}

	return cfg, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
