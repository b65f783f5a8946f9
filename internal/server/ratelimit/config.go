package ratelimit

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EndpointConfig is the limit applied to requests matching Pattern and Method.
// Pattern segments written as "*" match any single path segment, and a trailing
// "/" matches any suffix.
type EndpointConfig struct {
	Pattern string
	Method  string
	Limit   int           // requests per window; zero or less means unlimited
	Window  time.Duration // refill window
	Burst   int           // bucket capacity, defaults to Limit
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	DefaultLimit    int
	DefaultWindow   time.Duration
	CleanupInterval time.Duration
	IdleTTL         time.Duration
	Whitelist       map[string]bool
	Blacklist       map[string]bool
	EndpointConfigs []EndpointConfig
}

// Defaults
const (
	DefaultLimit           = 600
	DefaultWindow          = time.Minute
	DefaultCleanupInterval = 5 * time.Minute
	DefaultIdleTTL         = time.Hour
	DefaultSubmitPerHour   = 20
	DefaultSubmitBurst     = 5
)

// LoadConfig reads RATE_LIMIT_* environment variables.
func LoadConfig() *Config {
	if !getEnvBool("RATE_LIMIT_ENABLED", true) {
		return &Config{Enabled: false}
	}

	submitLimit := getEnvInt("RATE_LIMIT_SUBMIT_PER_HOUR", DefaultSubmitPerHour)
	submitBurst := getEnvInt("RATE_LIMIT_SUBMIT_BURST", DefaultSubmitBurst)

	return &Config{
		Enabled:         true,
		DefaultLimit:    getEnvInt("RATE_LIMIT_DEFAULT_LIMIT", DefaultLimit),
		DefaultWindow:   getEnvDuration("RATE_LIMIT_DEFAULT_WINDOW", DefaultWindow),
		CleanupInterval: getEnvDuration("RATE_LIMIT_CLEANUP_INTERVAL", DefaultCleanupInterval),
		IdleTTL:         DefaultIdleTTL,
		Whitelist:       parseIPList(os.Getenv("RATE_LIMIT_WHITELIST")),
		Blacklist:       parseIPList(os.Getenv("RATE_LIMIT_BLACKLIST")),
		EndpointConfigs: DefaultEndpointConfigs(submitLimit, submitBurst),
	}
}

// DefaultEndpointConfigs returns the per-route limits. Job submission is the only
// expensive call: every accepted job spends provider and LLM budget.
func DefaultEndpointConfigs(submitPerHour, submitBurst int) []EndpointConfig {
	return []EndpointConfig{
		{Pattern: "/jobs", Method: "POST", Limit: submitPerHour, Window: time.Hour, Burst: submitBurst},
		{Pattern: "/jobs/*/stream", Method: "GET", Limit: 30, Window: time.Minute, Burst: 10},
		{Pattern: "/jobs/*/ws", Method: "GET", Limit: 30, Window: time.Minute, Burst: 10},
		{Pattern: "/health", Method: "GET", Limit: 0},
	}
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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

// parseIPList parses a comma-separated list of IP addresses into a set.
func parseIPList(list string) map[string]bool {
	result := make(map[string]bool)
	for _, ip := range strings.Split(list, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			result[ip] = true
		}
	}
	return result
}
