// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the relay.
package server

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort            = ":8080"
	defaultMaxMessageSize  = 32 << 20
	defaultSendBufferSize  = 256
	defaultSendBufferBytes = 64 << 20
	defaultBurst           = 5
	defaultRefillInterval  = time.Second
	defaultLogLevel        = "info"
	defaultLogFormat       = "text"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls.
//
// MaxMessageSize bounds a single inbound frame. It must stay above the base64
// size of the largest accepted attachment or oversized uploads close the
// connection instead of being rejected by the envelope builder.
//
// A send queue is full when it holds SendBufferSize frames or SendBufferBytes
// bytes, whichever comes first.
type Config struct {
	Port            string
	AllowedOrigins  []string
	MaxMessageSize  int64
	SendBufferSize  int
	SendBufferBytes int64
	RateLimit       RateLimitConfig
	LogLevel        string
	LogFormat       string
}

func defaultConfig() Config {
	return Config{
		Port: defaultPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize:  defaultMaxMessageSize,
		SendBufferSize:  defaultSendBufferSize,
		SendBufferBytes: defaultSendBufferBytes,
		RateLimit: RateLimitConfig{
			Burst:          defaultBurst,
			RefillInterval: defaultRefillInterval,
		},
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}

// sanitize returns a copy of cfg with unset or invalid values replaced by defaults.
func (cfg Config) sanitize() Config {
	cfg.Port = normalizePort(cfg.Port)
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}

	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = defaultSendBufferSize
	}

	if cfg.SendBufferBytes <= 0 {
		cfg.SendBufferBytes = defaultSendBufferBytes
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultBurst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaultRefillInterval
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}

	if cfg.LogFormat == "" {
		cfg.LogFormat = defaultLogFormat
	}

	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	// SERVER_PORT wins over the shorter PORT used by most hosting platforms
	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = normalizePort(port)
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = normalizePort(port)
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if buffer := os.Getenv("SEND_BUFFER_SIZE"); buffer != "" {
		cfg.SendBufferSize = parseIntValue(buffer, cfg.SendBufferSize)
	}

	if budget := os.Getenv("SEND_BUFFER_BYTES"); budget != "" {
		cfg.SendBufferBytes = parseMaxMessageSize(budget, cfg.SendBufferBytes)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseRefillInterval(interval, cfg.RateLimit.RefillInterval)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(level))
	}

	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = strings.ToLower(strings.TrimSpace(format))
	}

	return &cfg
}

// normalizePort turns a bare port number such as "3000" into a listen address.
func normalizePort(port string) string {
	port = strings.TrimSpace(port)
	if port == "" {
		return defaultPort
	}
	if !strings.Contains(port, ":") {
		return ":" + port
	}
	return port
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
