// Package relay provides the configuration surface for the relay service:
// defaults, an optional YAML file layer, environment overrides, and startup
// validation that fails hard on out-of-range values.
package relay

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for all configuration fields.
const (
	DefaultListenAddr      = ":8080"
	DefaultMaxMessageSize  = 4096
	DefaultMaxCodeSize     = 64 * 1024
	DefaultRateLimitMax    = 30
	DefaultRateLimitWindow = 10 * time.Second
	DefaultMaxConnsPerRoom = 8
	DefaultMaxConnsTotal   = 256
	DefaultRoomIDMinLength = 6
	DefaultRoomIDMaxLength = 20
	DefaultShutdownGrace   = 10 * time.Second
)

// RateLimitConfig defines the fixed-window message budget applied per peer
// per room.
type RateLimitConfig struct {
	MaxMessages int
	Window      time.Duration
}

// Config holds the validated service configuration. The relay core consumes
// it as a value object; how it was assembled (file, env, defaults) is
// invisible past startup.
type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	MaxMessageSize  int64
	MaxCodeSize     int
	RateLimit       RateLimitConfig
	MaxConnsPerRoom int
	MaxConnsTotal   int
	RoomIDMinLength int
	RoomIDMaxLength int
	ShutdownGrace   time.Duration
}

// NewConfig returns a Config populated with defaults for every field.
func NewConfig() *Config {
	return &Config{
		ListenAddr:     DefaultListenAddr,
		AllowedOrigins: []string{"http://localhost:8080"},
		MaxMessageSize: DefaultMaxMessageSize,
		MaxCodeSize:    DefaultMaxCodeSize,
		RateLimit: RateLimitConfig{
			MaxMessages: DefaultRateLimitMax,
			Window:      DefaultRateLimitWindow,
		},
		MaxConnsPerRoom: DefaultMaxConnsPerRoom,
		MaxConnsTotal:   DefaultMaxConnsTotal,
		RoomIDMinLength: DefaultRoomIDMinLength,
		RoomIDMaxLength: DefaultRoomIDMaxLength,
		ShutdownGrace:   DefaultShutdownGrace,
	}
}

// LoadConfig assembles the effective configuration: defaults, then the YAML
// file named by RELAY_CONFIG_FILE (if set), then environment variables, then
// validation. Any violated bound aborts startup.
func LoadConfig() (*Config, error) {
	cfg := NewConfig()

	if path := os.Getenv("RELAY_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// fileConfig mirrors Config for YAML decoding. Durations are strings so the
// file can carry values like "10s"; absent keys leave defaults untouched.
type fileConfig struct {
	ListenAddr     string   `yaml:"listen_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxMessageSize int64    `yaml:"max_message_size"`
	MaxCodeSize    int      `yaml:"max_code_size"`
	RateLimit      struct {
		MaxMessages int    `yaml:"max_messages"`
		Window      string `yaml:"window"`
	} `yaml:"rate_limit"`
	MaxConnsPerRoom int    `yaml:"max_connections_per_room"`
	MaxConnsTotal   int    `yaml:"max_connections_total"`
	RoomIDMinLength int    `yaml:"room_id_min_length"`
	RoomIDMaxLength int    `yaml:"room_id_max_length"`
	ShutdownGrace   string `yaml:"shutdown_grace"`
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	// Expand ${VAR} environment variables before decoding.
	expanded := os.ExpandEnv(string(data))

	var fc fileConfig
	if err := yaml.Unmarshal([]byte(expanded), &fc); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if fc.ListenAddr != "" {
		c.ListenAddr = fc.ListenAddr
	}
	if len(fc.AllowedOrigins) > 0 {
		c.AllowedOrigins = fc.AllowedOrigins
	}
	if fc.MaxMessageSize > 0 {
		c.MaxMessageSize = fc.MaxMessageSize
	}
	if fc.MaxCodeSize > 0 {
		c.MaxCodeSize = fc.MaxCodeSize
	}
	if fc.RateLimit.MaxMessages > 0 {
		c.RateLimit.MaxMessages = fc.RateLimit.MaxMessages
	}
	if fc.RateLimit.Window != "" {
		window, err := time.ParseDuration(fc.RateLimit.Window)
		if err != nil {
			return fmt.Errorf("parse rate_limit.window: %w", err)
		}
		c.RateLimit.Window = window
	}
	if fc.MaxConnsPerRoom > 0 {
		c.MaxConnsPerRoom = fc.MaxConnsPerRoom
	}
	if fc.MaxConnsTotal > 0 {
		c.MaxConnsTotal = fc.MaxConnsTotal
	}
	if fc.RoomIDMinLength > 0 {
		c.RoomIDMinLength = fc.RoomIDMinLength
	}
	if fc.RoomIDMaxLength > 0 {
		c.RoomIDMaxLength = fc.RoomIDMaxLength
	}
	if fc.ShutdownGrace != "" {
		grace, err := time.ParseDuration(fc.ShutdownGrace)
		if err != nil {
			return fmt.Errorf("parse shutdown_grace: %w", err)
		}
		c.ShutdownGrace = grace
	}
	return nil
}

func (c *Config) applyEnv() {
	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		c.ListenAddr = addr
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = parseOrigins(origins)
	}
	if size := os.Getenv("MAX_MESSAGE_SIZE"); size != "" {
		c.MaxMessageSize = parseInt64Value(size, c.MaxMessageSize)
	}
	if size := os.Getenv("MAX_CODE_SIZE"); size != "" {
		c.MaxCodeSize = parseIntValue(size, c.MaxCodeSize)
	}
	if count := os.Getenv("RATE_LIMIT_MAX_MESSAGES"); count != "" {
		c.RateLimit.MaxMessages = parseIntValue(count, c.RateLimit.MaxMessages)
	}
	if window := os.Getenv("RATE_LIMIT_WINDOW"); window != "" {
		c.RateLimit.Window = parseDurationValue(window, c.RateLimit.Window)
	}
	if count := os.Getenv("MAX_CONNECTIONS_PER_ROOM"); count != "" {
		c.MaxConnsPerRoom = parseIntValue(count, c.MaxConnsPerRoom)
	}
	if count := os.Getenv("MAX_CONNECTIONS_TOTAL"); count != "" {
		c.MaxConnsTotal = parseIntValue(count, c.MaxConnsTotal)
	}
	if length := os.Getenv("ROOM_ID_MIN_LENGTH"); length != "" {
		c.RoomIDMinLength = parseIntValue(length, c.RoomIDMinLength)
	}
	if length := os.Getenv("ROOM_ID_MAX_LENGTH"); length != "" {
		c.RoomIDMaxLength = parseIntValue(length, c.RoomIDMaxLength)
	}
	if grace := os.Getenv("SHUTDOWN_GRACE"); grace != "" {
		c.ShutdownGrace = parseDurationValue(grace, c.ShutdownGrace)
	}
}

// Validate checks every bound against its documented sane range. The first
// violation is returned and the process must not come up.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.MaxMessageSize < 64 || c.MaxMessageSize > 1<<20 {
		return fmt.Errorf("max_message_size must be between 64 and %d, got %d", 1<<20, c.MaxMessageSize)
	}
	if c.MaxCodeSize < 1 || c.MaxCodeSize > 1<<20 {
		return fmt.Errorf("max_code_size must be between 1 and %d, got %d", 1<<20, c.MaxCodeSize)
	}
	if c.RateLimit.MaxMessages < 1 || c.RateLimit.MaxMessages > 10000 {
		return fmt.Errorf("rate_limit.max_messages must be between 1 and 10000, got %d", c.RateLimit.MaxMessages)
	}
	if c.RateLimit.Window < 100*time.Millisecond || c.RateLimit.Window > 10*time.Minute {
		return fmt.Errorf("rate_limit.window must be between 100ms and 10m, got %s", c.RateLimit.Window)
	}
	if c.MaxConnsPerRoom < 1 || c.MaxConnsPerRoom > 1024 {
		return fmt.Errorf("max_connections_per_room must be between 1 and 1024, got %d", c.MaxConnsPerRoom)
	}
	if c.MaxConnsTotal < 1 || c.MaxConnsTotal > 65536 {
		return fmt.Errorf("max_connections_total must be between 1 and 65536, got %d", c.MaxConnsTotal)
	}
	if c.MaxConnsTotal < c.MaxConnsPerRoom {
		return fmt.Errorf("max_connections_total (%d) cannot be below max_connections_per_room (%d)",
			c.MaxConnsTotal, c.MaxConnsPerRoom)
	}
	if c.RoomIDMinLength < 1 || c.RoomIDMinLength > 64 {
		return fmt.Errorf("room_id_min_length must be between 1 and 64, got %d", c.RoomIDMinLength)
	}
	if c.RoomIDMaxLength < c.RoomIDMinLength || c.RoomIDMaxLength > 128 {
		return fmt.Errorf("room_id_max_length must be between %d and 128, got %d", c.RoomIDMinLength, c.RoomIDMaxLength)
	}
	if c.ShutdownGrace < time.Second || c.ShutdownGrace > 5*time.Minute {
		return fmt.Errorf("shutdown_grace must be between 1s and 5m, got %s", c.ShutdownGrace)
	}
	return nil
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

func parseInt64Value(value string, defaultValue int64) int64 {
	if parsed, err := strconv.ParseInt(value, 10, 64); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseDurationValue(value string, defaultValue time.Duration) time.Duration {
	if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}
