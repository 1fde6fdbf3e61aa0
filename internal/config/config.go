// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Classifier providers.
const (
	ProviderOpenAI = "openai"
	ProviderGrpc   = "grpc"
)

// Config holds all application configuration.
type Config struct {
	Port               string
	FrontendURL        string
	DBPath             string
	SessionIdleTimeout time.Duration
	MediaMaxBytes      int
	LogLevel           string
	OperatorToken      string
	Classifier         ClassifierConfig
	Redis              RedisConfig
	Bridge             BridgeConfig
	RateLimit          RateLimitConfig
	ConversationLog    ConversationLogConfig
}

// ClassifierConfig selects and configures the department classifier.
type ClassifierConfig struct {
	Provider        string
	OpenAIAPIKey    string
	OpenAIModel     string
	GrpcAddr        string
	Timeout         time.Duration
	DepartmentsFile string
}

// RedisConfig configures the complaint outbox. An empty URL disables it.
type RedisConfig struct {
	URL    string
	Stream string
}

// BridgeConfig configures the messaging gateway transport. MediaHosts are
// extra hosts media_url may point at, besides the host of SendURL.
type BridgeConfig struct {
	SendURL    string
	Secret     string
	MediaHosts []string
}

// RateLimitConfig bounds inbound messages per identity.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		FrontendURL:        getEnv("FRONTEND_URL", ""),
		DBPath:             getEnv("DB_PATH", "./data/resolveja.db"),
		SessionIdleTimeout: getEnvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		MediaMaxBytes:      getEnvInt("MEDIA_MAX_BYTES", 10<<20),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		OperatorToken:      getEnv("OPERATOR_TOKEN", ""),
		Classifier: ClassifierConfig{
			Provider:        strings.ToLower(getEnv("CLASSIFIER_PROVIDER", ProviderOpenAI)),
			OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
			OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			GrpcAddr:        getEnv("CLASSIFIER_GRPC_ADDR", "localhost:50051"),
			Timeout:         getEnvDuration("CLASSIFIER_TIMEOUT", 20*time.Second),
			DepartmentsFile: getEnv("DEPARTMENTS_FILE", ""),
		},
		Redis: RedisConfig{
			URL:    getEnv("REDIS_URL", ""),
			Stream: getEnv("REDIS_STREAM", "resolveja:complaints"),
		},
		Bridge: BridgeConfig{
			SendURL:    getEnv("BRIDGE_SEND_URL", ""),
			Secret:     getEnv("BRIDGE_SECRET", ""),
			MediaHosts: splitList(getEnv("BRIDGE_MEDIA_HOSTS", "")),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:   getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:       getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			QueueSize: queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.SessionIdleTimeout <= 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT must be > 0")
	}
	if c.MediaMaxBytes <= 0 {
		return fmt.Errorf("MEDIA_MAX_BYTES must be > 0")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.Classifier.Provider {
	case ProviderOpenAI:
		if c.Classifier.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when CLASSIFIER_PROVIDER=%s", ProviderOpenAI)
		}
	case ProviderGrpc:
		if c.Classifier.GrpcAddr == "" {
			return fmt.Errorf("CLASSIFIER_GRPC_ADDR is required when CLASSIFIER_PROVIDER=%s", ProviderGrpc)
		}
	default:
		return fmt.Errorf("CLASSIFIER_PROVIDER must be %q or %q, got %q", ProviderOpenAI, ProviderGrpc, c.Classifier.Provider)
	}
	if c.Classifier.Timeout <= 0 {
		return fmt.Errorf("CLASSIFIER_TIMEOUT must be > 0")
	}
	if c.Redis.URL != "" && c.Redis.Stream == "" {
		return fmt.Errorf("REDIS_STREAM cannot be empty when REDIS_URL is set")
	}
	if c.Bridge.SendURL != "" && c.Bridge.Secret == "" && !c.IsDevelopment() {
		return fmt.Errorf("BRIDGE_SECRET is required when BRIDGE_SEND_URL is set outside development")
	}
	if c.RateLimit.Requests <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the browser origins accepted by CORS and the
// WebSocket upgrade. FRONTEND_URL may hold a comma-separated list.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return splitList(c.FrontendURL)
}

// ParseLevel maps a LOG_LEVEL value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("90s", "30m") or a bare number of
// seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func splitList(value string) []string {
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
