// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Docstore backends.
const (
	DocstoreLocal = "local"
	DocstoreHTTP  = "http"
)

// Config holds all application configuration.
type Config struct {
	Port                 string
	GRPCHealthPort       string
	FrontendURL          string
	DBPath               string
	SessionTTL           time.Duration
	SessionSweepInterval time.Duration
	Docstore             DocstoreConfig
	// IntentRulesPath overrides the embedded rule file when set.
	IntentRulesPath string
	// AllowedUserIDs is the bot allowlist; empty allows everyone.
	AllowedUserIDs       []int64
	AllowedOrigins       []string
	RateLimitPerMinute   int
	RecentFuzzyThreshold float64
	RemoteFuzzyThreshold float64
	ConversationLog      ConversationLogConfig
}

// DocstoreConfig selects and tunes the document-store backend.
type DocstoreConfig struct {
	Mode        string
	URL         string
	Token       string
	Timeout     time.Duration
	RPS         float64
	MaxAttempts int
	BaseDelay   time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	allowed, err := getEnvInt64List("ALLOWED_USER_IDS")
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		GRPCHealthPort:       getEnv("GRPC_HEALTH_PORT", "9090"),
		FrontendURL:          getEnv("FRONTEND_URL", ""),
		DBPath:               getEnv("DB_PATH", "./data/chatdesk.db"),
		SessionTTL:           getEnvDuration("SESSION_TTL", 30*time.Minute),
		SessionSweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		Docstore: DocstoreConfig{
			Mode:        strings.ToLower(getEnv("DOCSTORE_MODE", DocstoreLocal)),
			URL:         getEnv("DOCSTORE_URL", ""),
			Token:       getEnv("DOCSTORE_TOKEN", ""),
			Timeout:     getEnvDuration("DOCSTORE_TIMEOUT", 10*time.Second),
			RPS:         getEnvFloat("DOCSTORE_RPS", 3),
			MaxAttempts: getEnvInt("DOCSTORE_MAX_ATTEMPTS", 3),
			BaseDelay:   getEnvDuration("DOCSTORE_BASE_DELAY", 200*time.Millisecond),
		},
		IntentRulesPath:      getEnv("INTENT_RULES_PATH", ""),
		AllowedUserIDs:       allowed,
		AllowedOrigins:       getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		RateLimitPerMinute:   getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		RecentFuzzyThreshold: getEnvFloat("RECENT_FUZZY_THRESHOLD", 0.85),
		RemoteFuzzyThreshold: getEnvFloat("REMOTE_FUZZY_THRESHOLD", 0.80),
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
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
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	switch c.Docstore.Mode {
	case DocstoreLocal:
	case DocstoreHTTP:
		if c.Docstore.URL == "" {
			return fmt.Errorf("DOCSTORE_URL is required when DOCSTORE_MODE=http")
		}
	default:
		return fmt.Errorf("DOCSTORE_MODE must be %q or %q, got %q", DocstoreLocal, DocstoreHTTP, c.Docstore.Mode)
	}
	if c.Docstore.MaxAttempts < 1 {
		return fmt.Errorf("DOCSTORE_MAX_ATTEMPTS must be >= 1")
	}
	for name, v := range map[string]float64{
		"RECENT_FUZZY_THRESHOLD": c.RecentFuzzyThreshold,
		"REMOTE_FUZZY_THRESHOLD": c.RemoteFuzzyThreshold,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("%s must be in (0, 1], got %v", name, v)
		}
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
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

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("90").
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

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvInt64List parses a comma-separated id list. Unlike the scalar
// getters it reports malformed input, since a typo in an allowlist must
// not silently open the bot.
func getEnvInt64List(key string) ([]int64, error) {
	var ids []int64
	for _, part := range getEnvList(key, nil) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a user id", key, part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
