package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the chat client.
type Config struct {
	App       AppConfig
	API       APIConfig
	Transport TransportConfig
	Download  DownloadConfig
	Logger    LoggerConfig
}

// AppConfig identifies the client instance.
type AppConfig struct {
	Name    string
	Env     string
	Version string
}

// APIConfig holds the REST collaborator connection values.
type APIConfig struct {
	BaseURL               string
	HistoryPageSize       int
	RequestTimeoutSeconds int
}

// TransportConfig holds the live transport connection values. Reconnect
// delay and heartbeat interval are passed to the transport as-is; the
// session controller does not implement its own retry schedule.
type TransportConfig struct {
	URL                     string
	TopicPrefix             string
	ReconnectDelayMillis    int
	HeartbeatMillis         int
	HandshakeTimeoutSeconds int
}

// DownloadConfig controls where fetched attachments are materialized.
type DownloadConfig struct {
	Dir string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	pageSize := getEnvAsInt("CHAT_HISTORY_PAGE_SIZE", 1000)
	if pageSize <= 0 {
		return nil, fmt.Errorf("invalid CHAT_HISTORY_PAGE_SIZE: %d", pageSize)
	}

	cfg := &Config{
		App: AppConfig{
			Name:    getEnv("APP_NAME", "ticket-chat-client"),
			Env:     getEnv("APP_ENV", "development"),
			Version: getEnv("APP_VERSION", "dev"),
		},
		API: APIConfig{
			BaseURL:               getEnv("CHAT_API_BASE_URL", "http://localhost:8080/api"),
			HistoryPageSize:       pageSize,
			RequestTimeoutSeconds: getEnvAsInt("CHAT_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Transport: TransportConfig{
			URL:                     getEnv("CHAT_WS_URL", "ws://localhost:8080/ws"),
			TopicPrefix:             getEnv("CHAT_TOPIC_PREFIX", "/ticket/chat/"),
			ReconnectDelayMillis:    getEnvAsInt("CHAT_RECONNECT_DELAY_MS", 5000),
			HeartbeatMillis:         getEnvAsInt("CHAT_HEARTBEAT_MS", 4000),
			HandshakeTimeoutSeconds: getEnvAsInt("CHAT_HANDSHAKE_TIMEOUT_SECONDS", 10),
		},
		Download: DownloadConfig{
			Dir: getEnv("CHAT_DOWNLOAD_DIR", "."),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	return cfg, nil
}

// RequestTimeout returns the configured HTTP request timeout duration.
func (a APIConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// ReconnectDelay returns the fixed delay between reconnect attempts.
func (t TransportConfig) ReconnectDelay() time.Duration {
	if t.ReconnectDelayMillis <= 0 {
		return 5 * time.Second
	}
	return time.Duration(t.ReconnectDelayMillis) * time.Millisecond
}

// Heartbeat returns the outgoing heartbeat interval; zero disables heartbeats.
func (t TransportConfig) Heartbeat() time.Duration {
	if t.HeartbeatMillis <= 0 {
		return 0
	}
	return time.Duration(t.HeartbeatMillis) * time.Millisecond
}

// HandshakeTimeout returns the WebSocket handshake timeout.
func (t TransportConfig) HandshakeTimeout() time.Duration {
	if t.HandshakeTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(t.HandshakeTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}
