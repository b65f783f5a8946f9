// Package config provides configuration loading and validation for the research agent.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/connectors"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/llm"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// Defaults
const (
	DefaultGLEIFBaseURL        = "https://api.gleif.org/api/v1"
	DefaultGLEIFTimeoutSeconds = 20
	DefaultGLEIFMaxResults     = 3
	DefaultConnectorTimeout    = 45
	DefaultExecutorMaxInFlight = 6
	DefaultJobTimeout          = 600
	DefaultWriterMaxRetries    = 3
	DefaultLLMMaxConcurrency   = 4
	DefaultWebSearchPerCallUSD = 0.01
	DefaultWorkers             = 2
	DefaultPort                = 8080
	DefaultJWTExpirationHours  = 24
	DefaultLogFile             = "research_agent.log"
	DefaultLLMModel            = "gpt-5.1"
)

// Config holds all configuration values. It is read from the environment by Load and
// may be overridden by a JSON file (LoadFile) and CLI flags.
type Config struct {
	// Providers
	ExaAPIKey              string `json:"exa_api_key,omitempty"`
	ExaBaseURL             string `json:"exa_base_url,omitempty"`
	GLEIFEnabled           bool   `json:"gleif_enabled,omitempty"`
	GLEIFBaseURL           string `json:"gleif_base_url,omitempty"`
	GLEIFTimeoutSeconds    int    `json:"gleif_timeout_seconds,omitempty"`
	GLEIFMaxResults        int    `json:"gleif_max_results,omitempty"`
	PDLAPIKey              string `json:"pdl_api_key,omitempty"`
	PDLBaseURL             string `json:"pdl_base_url,omitempty"`
	ApolloAPIKey           string `json:"apollo_api_key,omitempty"`
	CompaniesHouseAPIKey   string `json:"companies_house_api_key,omitempty"`
	OpenCorporatesAPIToken string `json:"open_corporates_api_token,omitempty"`
	PitchBookAPIKey        string `json:"pitchbook_api_key,omitempty"`
	PitchBookBaseURL       string `json:"pitchbook_base_url,omitempty"`
	SiteFetchEnabled       bool   `json:"site_fetch_enabled,omitempty"`
	SiteFetchUseBrowser    bool   `json:"site_fetch_use_browser,omitempty"`

	// LLM
	LLMProvider         string  `json:"llm_provider,omitempty"`
	LLMModel            string  `json:"llm_model,omitempty"`
	OpenAIAPIKey        string  `json:"openai_api_key,omitempty"`
	GeminiAPIKey        string  `json:"gemini_api_key,omitempty"`
	LLMMaxConcurrency   int     `json:"llm_max_concurrency,omitempty"`
	WebSearchPerCallUSD float64 `json:"web_search_per_call_usd,omitempty"`

	// Pipeline
	ConnectorTimeoutSeconds int `json:"connector_timeout_seconds,omitempty"`
	ExecutorMaxInFlight     int `json:"executor_max_in_flight,omitempty"`
	JobTimeoutSeconds       int `json:"job_timeout_seconds,omitempty"`
	WriterMaxRetries        int `json:"writer_max_retries,omitempty"`
	Workers                 int `json:"workers,omitempty"`

	// Store and server
	DatabaseURL        string `json:"database_url,omitempty"`
	Port               int    `json:"port,omitempty"`
	JWTSecret          string `json:"jwt_secret,omitempty"`
	JWTExpirationHours int    `json:"jwt_expiration_hours,omitempty"`

	// Logging
	LogLevel string `json:"log_level,omitempty"`
	LogFile  string `json:"log_file,omitempty"`
	Verbose  bool   `json:"verbose,omitempty"`
}

// Load reads configuration from environment variables, applying defaults.
func Load() Config {
	return Config{
		ExaAPIKey:              os.Getenv("EXA_API_KEY"),
		ExaBaseURL:             os.Getenv("EXA_BASE_URL"),
		GLEIFEnabled:           getEnvBool("GLEIF_ENABLED", true),
		GLEIFBaseURL:           getEnv("GLEIF_BASE_URL", DefaultGLEIFBaseURL),
		GLEIFTimeoutSeconds:    getEnvInt("GLEIF_TIMEOUT_SECONDS", DefaultGLEIFTimeoutSeconds),
		GLEIFMaxResults:        getEnvInt("GLEIF_MAX_RESULTS", DefaultGLEIFMaxResults),
		PDLAPIKey:              os.Getenv("PDL_API_KEY"),
		PDLBaseURL:             os.Getenv("PDL_BASE_URL"),
		ApolloAPIKey:           os.Getenv("APOLLO_API_KEY"),
		CompaniesHouseAPIKey:   os.Getenv("COMPANIES_HOUSE_API_KEY"),
		OpenCorporatesAPIToken: os.Getenv("OPENCORPORATES_API_TOKEN"),
		PitchBookAPIKey:        os.Getenv("PITCHBOOK_API_KEY"),
		PitchBookBaseURL:       os.Getenv("PITCHBOOK_BASE_URL"),
		SiteFetchEnabled:       getEnvBool("SITE_FETCH_ENABLED", false),
		SiteFetchUseBrowser:    getEnvBool("SITE_FETCH_USE_BROWSER", false),

		LLMProvider:         getEnv("LLM_PROVIDER", string(llm.ProviderOpenAI)),
		LLMModel:            getEnv("LLM_MODEL", DefaultLLMModel),
		OpenAIAPIKey:        os.Getenv("OPENAI_API_KEY"),
		GeminiAPIKey:        os.Getenv("GEMINI_API_KEY"),
		LLMMaxConcurrency:   getEnvInt("LLM_MAX_CONCURRENCY", DefaultLLMMaxConcurrency),
		WebSearchPerCallUSD: getEnvFloat("WEB_SEARCH_PER_CALL_USD", DefaultWebSearchPerCallUSD),

		ConnectorTimeoutSeconds: getEnvInt("CONNECTOR_TIMEOUT_SECONDS", DefaultConnectorTimeout),
		ExecutorMaxInFlight:     getEnvInt("EXECUTOR_MAX_IN_FLIGHT", DefaultExecutorMaxInFlight),
		JobTimeoutSeconds:       getEnvInt("JOB_TIMEOUT_SECONDS", DefaultJobTimeout),
		WriterMaxRetries:        getEnvInt("WRITER_MAX_RETRIES", DefaultWriterMaxRetries),
		Workers:                 getEnvInt("WORKER_COUNT", DefaultWorkers),

		DatabaseURL:        os.Getenv("DATABASE_URL"),
		Port:               getEnvInt("PORT", DefaultPort),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		JWTExpirationHours: getEnvInt("JWT_EXPIRATION_HOURS", DefaultJWTExpirationHours),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", DefaultLogFile),
	}
}

// LoadFile loads configuration overrides from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration has usable values.
func (c *Config) Validate() error {
	if _, err := llm.ParseProvider(c.LLMProvider); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	positive := []struct {
		name  string
		value int
	}{
		{"connector_timeout_seconds", c.ConnectorTimeoutSeconds},
		{"executor_max_in_flight", c.ExecutorMaxInFlight},
		{"job_timeout_seconds", c.JobTimeoutSeconds},
		{"writer_max_retries", c.WriterMaxRetries},
		{"llm_max_concurrency", c.LLMMaxConcurrency},
		{"workers", c.Workers},
	}
	for _, p := range positive {
		if p.value < 1 {
			return fmt.Errorf("config error: '%s' must be at least 1, got %d", p.name, p.value)
		}
	}
	if c.GLEIFMaxResults < 0 || c.GLEIFTimeoutSeconds < 0 {
		return fmt.Errorf("config error: GLEIF limits must be non-negative")
	}
	if c.WebSearchPerCallUSD < 0 {
		return fmt.Errorf("config error: 'web_search_per_call_usd' must be non-negative")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config error: invalid port %d", c.Port)
	}
	return nil
}

// MergeWithDefaults returns a new Config with empty fields filled from defaults.
// Config file values are merged over the environment this way.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	strs := []struct{ dst *string; def string }{
		{&result.ExaAPIKey, defaults.ExaAPIKey},
		{&result.ExaBaseURL, defaults.ExaBaseURL},
		{&result.GLEIFBaseURL, defaults.GLEIFBaseURL},
		{&result.PDLAPIKey, defaults.PDLAPIKey},
		{&result.PDLBaseURL, defaults.PDLBaseURL},
		{&result.ApolloAPIKey, defaults.ApolloAPIKey},
		{&result.CompaniesHouseAPIKey, defaults.CompaniesHouseAPIKey},
		{&result.OpenCorporatesAPIToken, defaults.OpenCorporatesAPIToken},
		{&result.PitchBookAPIKey, defaults.PitchBookAPIKey},
		{&result.PitchBookBaseURL, defaults.PitchBookBaseURL},
		{&result.LLMProvider, defaults.LLMProvider},
		{&result.LLMModel, defaults.LLMModel},
		{&result.OpenAIAPIKey, defaults.OpenAIAPIKey},
		{&result.GeminiAPIKey, defaults.GeminiAPIKey},
		{&result.DatabaseURL, defaults.DatabaseURL},
		{&result.JWTSecret, defaults.JWTSecret},
		{&result.LogLevel, defaults.LogLevel},
		{&result.LogFile, defaults.LogFile},
	}
	for _, s := range strs {
		if *s.dst == "" {
			*s.dst = s.def
		}
	}

	ints := []struct{ dst *int; def int }{
		{&result.GLEIFTimeoutSeconds, defaults.GLEIFTimeoutSeconds},
		{&result.GLEIFMaxResults, defaults.GLEIFMaxResults},
		{&result.LLMMaxConcurrency, defaults.LLMMaxConcurrency},
		{&result.ConnectorTimeoutSeconds, defaults.ConnectorTimeoutSeconds},
		{&result.ExecutorMaxInFlight, defaults.ExecutorMaxInFlight},
		{&result.JobTimeoutSeconds, defaults.JobTimeoutSeconds},
		{&result.WriterMaxRetries, defaults.WriterMaxRetries},
		{&result.Workers, defaults.Workers},
		{&result.Port, defaults.Port},
		{&result.JWTExpirationHours, defaults.JWTExpirationHours},
	}
	for _, i := range ints {
		if *i.dst == 0 {
			*i.dst = i.def
		}
	}

	if result.WebSearchPerCallUSD == 0 {
		result.WebSearchPerCallUSD = defaults.WebSearchPerCallUSD
	}

	// Bool fields cannot distinguish unset from false, so either source may enable them.
	result.GLEIFEnabled = result.GLEIFEnabled || defaults.GLEIFEnabled
	result.SiteFetchEnabled = result.SiteFetchEnabled || defaults.SiteFetchEnabled
	result.SiteFetchUseBrowser = result.SiteFetchUseBrowser || defaults.SiteFetchUseBrowser
	result.Verbose = result.Verbose || defaults.Verbose

	return result
}

// ConnectorSettings returns the provider credentials and endpoints for connectors.Build.
func (c *Config) ConnectorSettings() connectors.Settings {
	return connectors.Settings{
		ExaAPIKey:              c.ExaAPIKey,
		ExaBaseURL:             c.ExaBaseURL,
		GLEIFEnabled:           c.GLEIFEnabled,
		GLEIFBaseURL:           c.GLEIFBaseURL,
		GLEIFTimeout:           seconds(c.GLEIFTimeoutSeconds),
		GLEIFMaxResults:        c.GLEIFMaxResults,
		PDLAPIKey:              c.PDLAPIKey,
		PDLBaseURL:             c.PDLBaseURL,
		ApolloAPIKey:           c.ApolloAPIKey,
		CompaniesHouseAPIKey:   c.CompaniesHouseAPIKey,
		OpenCorporatesAPIToken: c.OpenCorporatesAPIToken,
		PitchBookAPIKey:        c.PitchBookAPIKey,
		PitchBookBaseURL:       c.PitchBookBaseURL,
		SiteFetchEnabled:       c.SiteFetchEnabled,
		SiteFetchUseBrowser:    c.SiteFetchUseBrowser,
		HTTPTimeout:            seconds(c.ConnectorTimeoutSeconds),
	}
}

// Capabilities derives the enabled connector table from credential presence.
// The OpenAI web agent is enabled by OPENAI_API_KEY.
func (c *Config) Capabilities() types.Capabilities {
	return c.ConnectorSettings().Capabilities(c.OpenAIAPIKey != "")
}

// LLMConfig returns the model configuration for the selected provider.
func (c *Config) LLMConfig() (*llm.Config, error) {
	provider, err := llm.ParseProvider(c.LLMProvider)
	if err != nil {
		return nil, err
	}
	model := c.LLMModel
	// The default model name belongs to OpenAI; Gemini keeps its own defaults.
	if provider == llm.ProviderGemini && model == DefaultLLMModel {
		model = ""
	}
	return llm.ConfigFor(provider, model), nil
}

// LLMAPIKey returns the credential of the selected provider.
func (c *Config) LLMAPIKey() string {
	provider, _ := llm.ParseProvider(c.LLMProvider)
	if provider == llm.ProviderGemini {
		return c.GeminiAPIKey
	}
	return c.OpenAIAPIKey
}

// JobTimeout is the global wall-clock budget of one job.
func (c *Config) JobTimeout() time.Duration {
	return seconds(c.JobTimeoutSeconds)
}

// ConnectorTimeout is the per-step timeout of the executor.
func (c *Config) ConnectorTimeout() time.Duration {
	return seconds(c.ConnectorTimeoutSeconds)
}

// SlogLevel parses LogLevel, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	return ParseLogLevel(c.LogLevel)
}

// ParseLogLevel maps debug|info|warn|error to a slog level; anything else is info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil {
		return n
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if f, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64); err == nil {
		return f
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key))); err == nil {
		return b
	}
	return defaultVal
}
