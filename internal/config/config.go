// Package config は環境変数によるアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Valkey
	ValkeyAddr     string
	ValkeyPassword string
	ValkeyDB       int

	// Queue
	QueueName      string
	DequeueTimeout time.Duration
	BatchSize      int

	// Processor
	MaxConcurrentTasks int
	PollInterval       time.Duration
	DrainGracePeriod   time.Duration
	HealthCheckTimeout time.Duration

	// Retry
	RetryMaxAttempts     int
	RetryBaseDelay       time.Duration
	RetryMaxDelay        time.Duration
	RetryExponentialBase float64

	// Webhook
	MaxBodySize     int64
	RateLimitPerMin int
	RateLimitBurst  int

	// Hub
	HubURL      string
	CallbackURL string
	HubTimeout  time.Duration
	ChannelIDs  []string

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.ValkeyAddr = os.Getenv("VALKEY_ADDR")
	if cfg.ValkeyAddr == "" {
		missing = append(missing, "VALKEY_ADDR")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ValkeyPassword = getEnvString("VALKEY_PASSWORD", "")
	cfg.ValkeyDB = getEnvInt("VALKEY_DB", 0)

	cfg.QueueName = getEnvString("QUEUE_NAME", "notifications")
	cfg.DequeueTimeout = getEnvDuration("DEQUEUE_TIMEOUT", 1*time.Second)
	cfg.BatchSize = getEnvInt("BATCH_SIZE", 10)

	cfg.MaxConcurrentTasks = getEnvInt("MAX_CONCURRENT_TASKS", 10)
	cfg.PollInterval = getEnvDuration("POLL_INTERVAL", 500*time.Millisecond)
	cfg.DrainGracePeriod = getEnvDuration("DRAIN_GRACE_PERIOD", 30*time.Second)
	cfg.HealthCheckTimeout = getEnvDuration("HEALTH_CHECK_TIMEOUT", 3*time.Second)

	cfg.RetryMaxAttempts = getEnvInt("RETRY_MAX_ATTEMPTS", 3)
	cfg.RetryBaseDelay = getEnvDuration("RETRY_BASE_DELAY", 1*time.Second)
	cfg.RetryMaxDelay = getEnvDuration("RETRY_MAX_DELAY", 30*time.Second)
	cfg.RetryExponentialBase = getEnvFloat("RETRY_EXPONENTIAL_BASE", 2.0)

	cfg.MaxBodySize = getEnvInt64("MAX_BODY_SIZE", 1048576)
	cfg.RateLimitPerMin = getEnvInt("RATE_LIMIT_WEBHOOK", 30)
	cfg.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 30)

	cfg.HubURL = getEnvString("HUB_URL", "https://pubsubhubbub.appspot.com/subscribe")
	cfg.CallbackURL = getEnvString("CALLBACK_URL", "")
	cfg.HubTimeout = getEnvDuration("HUB_TIMEOUT", 10*time.Second)
	cfg.ChannelIDs = splitChannelIDs(os.Getenv("CHANNEL_IDS"))

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	return cfg, nil
}

// splitChannelIDs はカンマ区切りのチャンネルID一覧をスライスに変換する。
// 空要素と前後の空白は除去する。
func splitChannelIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		id := strings.TrimSpace(part)
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
