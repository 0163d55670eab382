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
	// DefaultListenAddr is the fixed address the relay listens on.
	DefaultListenAddr = ":4443"

	// MaxMessageSize bounds the payload taken from a single channel read.
	MaxMessageSize = 1024
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
// A negative Burst disables limiting, which is the default.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings.
type Config struct {
	ListenAddr       string
	CertFile         string
	KeyFile          string
	Capacity         int
	MaxMessageSize   int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ShutdownTimeout  time.Duration
	RateLimit        RateLimitConfig

	// GatewayAddr enables the WebSocket gateway when non-empty.
	GatewayAddr    string
	AllowedOrigins []string
}

func defaultConfig() Config {
	return Config{
		ListenAddr:       DefaultListenAddr,
		CertFile:         "server-cert.pem",
		KeyFile:          "server-key.pem",
		Capacity:         DefaultCapacity,
		MaxMessageSize:   MaxMessageSize,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ShutdownTimeout:  5 * time.Second,
		RateLimit: RateLimitConfig{
			Burst:          -1,
			RefillInterval: time.Second,
		},
		AllowedOrigins: []string{
			"https://localhost:8443",
		},
	}
}

func sanitizeConfig(cfg Config) Config {
	defaults := defaultConfig()

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaults.ListenAddr
	}

	if cfg.Capacity <= 0 {
		cfg.Capacity = defaults.Capacity
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}

	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaults.HandshakeTimeout
	}

	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}

	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = defaults.RateLimit.Burst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaults.RateLimit.RefillInterval
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set. The
// listen address and table capacity are fixed and not read from the
// environment.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if certFile := os.Getenv("CHAT_CERT_FILE"); certFile != "" {
		cfg.CertFile = certFile
	}

	if keyFile := os.Getenv("CHAT_KEY_FILE"); keyFile != "" {
		cfg.KeyFile = keyFile
	}

	if maxSize := os.Getenv("CHAT_MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseIntValue(maxSize, cfg.MaxMessageSize)
	}

	if timeout := os.Getenv("CHAT_HANDSHAKE_TIMEOUT"); timeout != "" {
		cfg.HandshakeTimeout = parseSeconds(timeout, cfg.HandshakeTimeout)
	}

	if timeout := os.Getenv("CHAT_WRITE_TIMEOUT"); timeout != "" {
		cfg.WriteTimeout = parseSeconds(timeout, cfg.WriteTimeout)
	}

	if burst := os.Getenv("CHAT_RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseBurst(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("CHAT_RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}

	if addr := os.Getenv("CHAT_GATEWAY_ADDR"); addr != "" {
		cfg.GatewayAddr = addr
	}

	if origins := os.Getenv("CHAT_ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	return &cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseBurst accepts -1 to keep rate limiting off.
func parseBurst(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && (parsed > 0 || parsed == -1) {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
