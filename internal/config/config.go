// Package config loads sync core configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the tunables of the sync core. Every value has a default so
// the core runs with an empty environment.
type Config struct {
	// DataDir is where the durable action queue database lives.
	DataDir string

	// StreamURL is the base URL of the remote change stream (ws:// or wss://).
	StreamURL string

	// APIURL is the base URL of the remote mutation endpoint.
	APIURL string

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// Action queue retry policy.
	QueueMaxRetries int
	QueueMaxSize    int
	BackoffBase     time.Duration
	BackoffMax      time.Duration

	// Stream reconnect policy, kept separate from the queue's so stream
	// retries and action retries never starve each other.
	ReconnectBase        time.Duration
	ReconnectMax         time.Duration
	ReconnectMaxAttempts int
}

// Load reads configuration from the environment. A .env file is honored when
// present but never required.
func Load() *Config {
	godotenv.Load()

	return &Config{
		DataDir:              getEnv("SAFEBEACON_DATA_DIR", "./data"),
		StreamURL:            getEnv("SAFEBEACON_STREAM_URL", "ws://localhost:8090"),
		APIURL:               getEnv("SAFEBEACON_API_URL", "http://localhost:8090"),
		LogLevel:             getEnv("SAFEBEACON_LOG_LEVEL", "info"),
		QueueMaxRetries:      getEnvInt("SAFEBEACON_QUEUE_MAX_RETRIES", 5),
		QueueMaxSize:         getEnvInt("SAFEBEACON_QUEUE_MAX_SIZE", 1000),
		BackoffBase:          getEnvDuration("SAFEBEACON_BACKOFF_BASE", 2*time.Second),
		BackoffMax:           getEnvDuration("SAFEBEACON_BACKOFF_MAX", 5*time.Minute),
		ReconnectBase:        getEnvDuration("SAFEBEACON_RECONNECT_BASE", time.Second),
		ReconnectMax:         getEnvDuration("SAFEBEACON_RECONNECT_MAX", 30*time.Second),
		ReconnectMaxAttempts: getEnvInt("SAFEBEACON_RECONNECT_MAX_ATTEMPTS", 10),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
