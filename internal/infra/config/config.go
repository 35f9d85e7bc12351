package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"chatsync/internal/domain/chat"
)

// Config aggregates application configuration values loaded from environment variables.
type Config struct {
	Env      string
	HTTPAddr string
	LogLevel string

	UserID          string
	APIBaseURL      string
	APIToken        string
	APITimeout      time.Duration
	PushURL         string
	PageSize        int
	MessagePageSize int
	Filters         []chat.FilterKey

	ReconnectAttempts int
	ReconnectDelay    time.Duration
	UnreadDebounce    time.Duration
	ShutdownTimeout   time.Duration

	MongoURI string
	MongoDB  string

	KafkaBrokers     []string
	KafkaTopicPrefix string
	KafkaGroupID     string

	S3Endpoint   string
	S3AccessKey  string
	S3SecretKey  string
	S3Bucket     string
	S3UseSSL     bool
	S3Region     string
	S3PresignTTL time.Duration

	CORSOrigins []string
}

// Load parses configuration from the current environment.
func Load() (Config, error) {
	cfg := Config{
		Env:              getEnv("APP_ENV", "dev"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8090"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		UserID:           strings.TrimSpace(os.Getenv("CHAT_USER_ID")),
		APIBaseURL:       strings.TrimRight(os.Getenv("CHAT_API_BASE_URL"), "/"),
		APIToken:         os.Getenv("CHAT_API_TOKEN"),
		PushURL:          os.Getenv("CHAT_PUSH_URL"),
		Filters:          chat.ParseFilters(getEnv("CHAT_FILTERS", "")),
		MongoURI:         os.Getenv("MONGO_URI"),
		MongoDB:          getEnv("MONGO_DB", "rentme_chat"),
		KafkaTopicPrefix: getEnv("KAFKA_TOPIC_PREFIX", ""),
		KafkaGroupID:     getEnv("KAFKA_GROUP_ID", "chatsync"),
		S3Endpoint:       os.Getenv("S3_ENDPOINT"),
		S3AccessKey:      getEnv("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:      getEnv("S3_SECRET_KEY", "minioadmin"),
		S3Bucket:         getEnv("S3_BUCKET", "rentme-photos"),
		S3Region:         getEnv("S3_REGION", "us-east-1"),
	}
	if len(cfg.Filters) == 0 {
		cfg.Filters = chat.DefaultFilters()
	}
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		cfg.KafkaBrokers = splitList(brokers)
	}
	cfg.CORSOrigins = splitList(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173"))

	var err error
	if cfg.APITimeout, err = parseDurationEnv("CHAT_API_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ReconnectDelay, err = parseDurationEnv("CHAT_RECONNECT_DELAY", 3*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.UnreadDebounce, err = parseDurationEnv("CHAT_UNREAD_DEBOUNCE", 300*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownTimeout, err = parseDurationEnv("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.S3PresignTTL, err = parseDurationEnv("S3_PRESIGN_TTL", time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.PageSize, err = parseIntEnv("CHAT_PAGE_SIZE", 20); err != nil {
		return Config{}, err
	}
	if cfg.MessagePageSize, err = parseIntEnv("CHAT_MESSAGE_PAGE_SIZE", 30); err != nil {
		return Config{}, err
	}
	if cfg.ReconnectAttempts, err = parseIntEnv("CHAT_RECONNECT_ATTEMPTS", 5); err != nil {
		return Config{}, err
	}
	if cfg.S3UseSSL, err = parseBoolEnv("S3_USE_SSL", false); err != nil {
		return Config{}, err
	}

	if cfg.UserID == "" {
		return Config{}, fmt.Errorf("CHAT_USER_ID is required")
	}
	if cfg.APIBaseURL == "" {
		return Config{}, fmt.Errorf("CHAT_API_BASE_URL is required")
	}
	if cfg.PushURL == "" {
		return Config{}, fmt.Errorf("CHAT_PUSH_URL is required")
	}
	if cfg.PageSize <= 0 || cfg.MessagePageSize <= 0 {
		return Config{}, fmt.Errorf("page sizes must be positive")
	}
	return cfg, nil
}

// Topic prefixes name with KafkaTopicPrefix.
func (c Config) Topic(name string) string {
	return c.KafkaTopicPrefix + name
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	return d, nil
}

func parseIntEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s integer: %w", key, err)
	}
	return n, nil
}

func parseBoolEnv(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "t", "true", "yes", "y", "on":
		return true, nil
	case "0", "f", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid %s boolean: %q", key, raw)
	}
}
