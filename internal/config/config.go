// Package config loads core configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	MinQueueSize = 10
	MaxQueueSize = 10000
)

// Config holds every tunable of the sync core. The composition root loads it
// once and passes it down; packages never read the environment themselves.
type Config struct {
	DataDir            string
	RemoteBaseURL      string
	RemoteAPIKey       string
	LogLevel           string
	ListenAddr         string
	QueueMaxSize       int
	MaxRetries         int
	RemoteTimeout      time.Duration
	ForegroundInterval time.Duration
	BackgroundInterval time.Duration
	ReconnectDebounce  time.Duration
}

// Load reads configuration from the environment, with an optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	queueSize := getEnvInt("SYNC_QUEUE_MAX_SIZE", 1000)
	if queueSize > MaxQueueSize {
		queueSize = MaxQueueSize
	} else if queueSize < MinQueueSize {
		queueSize = MinQueueSize
	}

	return &Config{
		DataDir:            getEnv("DELILOG_DATA_DIR", defaultDataDir()),
		RemoteBaseURL:      getEnv("DELILOG_REMOTE_URL", "http://localhost:8080"),
		RemoteAPIKey:       getEnv("DELILOG_REMOTE_API_KEY", ""),
		LogLevel:           getEnv("LOG_LEVEL", "INFO"),
		ListenAddr:         getEnv("DELILOG_LISTEN_ADDR", "localhost:8790"),
		QueueMaxSize:       queueSize,
		MaxRetries:         getEnvInt("SYNC_MAX_RETRIES", 3),
		RemoteTimeout:      time.Duration(getEnvInt("SYNC_REMOTE_TIMEOUT_SEC", 8)) * time.Second,
		ForegroundInterval: time.Duration(getEnvInt("SYNC_FOREGROUND_INTERVAL_SEC", 30)) * time.Second,
		BackgroundInterval: time.Duration(getEnvInt("SYNC_BACKGROUND_INTERVAL_SEC", 300)) * time.Second,
		ReconnectDebounce:  time.Duration(getEnvInt("SYNC_RECONNECT_DEBOUNCE_MS", 1000)) * time.Millisecond,
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".delilog"
	}
	return home + "/.delilog"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}
