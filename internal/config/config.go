package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreMemory    = "memory"
	StoreMongo     = "mongo"
	StorePostgres  = "postgres"
	StoreFirestore = "firestore"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Persistence
	StoreType          string
	MongoURI           string
	MongoDatabase      string
	PostgresDSN        string
	FirestoreProjectID string

	// Redis (optional, enables the distributed negotiation lock)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockTTL       time.Duration

	// LLM backends
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	OpenAIModel        string
	AnthropicAPIKey    string
	AnthropicBaseURL   string
	AnthropicModel     string
	DefaultLLMProvider string
	LLMTimeout         time.Duration
	LLMMaxRetries      int
	LLMRatePerSecond   float64
	LLMBurst           int

	// Notifications
	NotifyWebhookURL string
	EventBuffer      int

	StrategiesFile  string
	LicenseValidity time.Duration

	// Per-client API rate limit; 0 disables it
	RateLimitPerMinute int
	RateLimitBurst     int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

func Load() Config {
	env := getenv("ENVIRONMENT", "development")
	logLevel := getenv("LOG_LEVEL", "info")
	if env == "development" && strings.TrimSpace(os.Getenv("LOG_LEVEL")) == "" {
		logLevel = "debug"
	}
	return Config{
		Port:        getenv("PORT", "8080"),
		Environment: env,
		LogLevel:    logLevel,

		StoreType:          strings.ToLower(getenv("STORE_TYPE", StoreMemory)),
		MongoURI:           strings.TrimSpace(os.Getenv("MONGO_URI")),
		MongoDatabase:      getenv("MONGO_DB", "aex"),
		PostgresDSN:        strings.TrimSpace(os.Getenv("POSTGRES_DSN")),
		FirestoreProjectID: strings.TrimSpace(os.Getenv("FIRESTORE_PROJECT_ID")),

		RedisAddr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getenvInt("REDIS_DB", 0),
		LockTTL:       getenvDuration("LOCK_TTL", 2*time.Minute),

		OpenAIAPIKey:       strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:      strings.TrimRight(getenv("OPENAI_BASE_URL", "https://api.openai.com/v1"), "/"),
		OpenAIModel:        getenv("OPENAI_MODEL", "gpt-4o-mini"),
		AnthropicAPIKey:    strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")),
		AnthropicBaseURL:   strings.TrimRight(getenv("ANTHROPIC_BASE_URL", "https://api.anthropic.com"), "/"),
		AnthropicModel:     getenv("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
		DefaultLLMProvider: getenv("LLM_DEFAULT_PROVIDER", "openai"),
		LLMTimeout:         getenvDuration("LLM_TIMEOUT", 30*time.Second),
		LLMMaxRetries:      getenvInt("LLM_MAX_RETRIES", 1),
		LLMRatePerSecond:   getenvFloat("LLM_RATE_PER_SECOND", 5),
		LLMBurst:           getenvInt("LLM_BURST", 5),

		NotifyWebhookURL: strings.TrimSpace(os.Getenv("NOTIFY_WEBHOOK_URL")),
		EventBuffer:      getenvInt("EVENT_BUFFER", 256),

		StrategiesFile:  strings.TrimSpace(os.Getenv("STRATEGIES_FILE")),
		LicenseValidity: getenvDuration("LICENSE_VALIDITY", 0),

		RateLimitPerMinute: getenvInt("RATE_LIMIT_PER_MINUTE", 0),
		RateLimitBurst:     getenvInt("RATE_LIMIT_BURST", 10),

		ReadTimeout:     getenvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    getenvDuration("HTTP_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:     getenvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getenvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	if n, err := strconv.Atoi(getenv(k, "")); err == nil {
		return n
	}
	return def
}

func getenvFloat(k string, def float64) float64 {
	if f, err := strconv.ParseFloat(getenv(k, ""), 64); err == nil {
		return f
	}
	return def
}

// getenvDuration accepts Go durations ("45s") or plain seconds ("45").
func getenvDuration(k string, def time.Duration) time.Duration {
	v := getenv(k, "")
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}
