package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the paper trading core.
type Config struct {
	Port string

	// Database
	DBPath string

	// Auth
	JWTSecret string

	// Localization
	Language string // "en" or "zh"

	// Logging
	LogLevel  string // debug, info, warn, error
	LogFormat string // json or console

	// Simulated market
	MarketConfigPath string
	TickInterval     time.Duration
	PriceVolatility  float64 // max fractional move per tick

	// Order processing
	SweepInterval   time.Duration
	SweepWorkers    int
	CommissionRate  float64 // decimal (0.0001 = 1 bp)
	FillProbability float64
	PartialMin      float64
	PartialMax      float64
	SlippageMin     float64
	SlippageMax     float64
	ConflictRetries int

	// Portfolios
	DefaultInitialCapital float64
	SummaryCacheTTL       time.Duration
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	// Database path: prefer DB_PATH, then DATABASE_PATH for backward compatibility.
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/paper.db")
	}

	return &Config{
		Port:                  getEnv("PORT", "8080"),
		DBPath:                dbPath,
		JWTSecret:             getEnv("JWT_SECRET", "dev-secret"),
		Language:              strings.ToLower(getEnv("LANGUAGE", "en")),
		LogLevel:              strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:             strings.ToLower(getEnv("LOG_FORMAT", "console")),
		MarketConfigPath:      getEnv("MARKET_CONFIG", ""),
		TickInterval:          getEnvDuration("TICK_INTERVAL", time.Second),
		PriceVolatility:       getEnvFloat("PRICE_VOLATILITY", 0.002),
		SweepInterval:         getEnvDuration("ORDER_SWEEP_INTERVAL", time.Second),
		SweepWorkers:          getEnvInt("SWEEP_WORKERS", 8),
		CommissionRate:        getEnvFloat("COMMISSION_RATE", 0.0001),
		FillProbability:       getEnvFloat("FILL_PROBABILITY", 0.8),
		PartialMin:            getEnvFloat("PARTIAL_MIN", 0.3),
		PartialMax:            getEnvFloat("PARTIAL_MAX", 0.7),
		SlippageMin:           getEnvFloat("SLIPPAGE_MIN", 0.001),
		SlippageMax:           getEnvFloat("SLIPPAGE_MAX", 0.005),
		ConflictRetries:       getEnvInt("CONFLICT_RETRIES", 5),
		DefaultInitialCapital: getEnvFloat("DEFAULT_INITIAL_CAPITAL", 100000),
		SummaryCacheTTL:       getEnvDuration("SUMMARY_CACHE_TTL", 2*time.Second),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("500ms") or bare milliseconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}
