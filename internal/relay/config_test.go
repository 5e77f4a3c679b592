package relay

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := NewConfig().Validate(); err != nil {
		t.Errorf("Default configuration should validate, got %v", err)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("ALLOWED_ORIGINS", "https://pad.example.com, https://staging.example.com")
	t.Setenv("MAX_MESSAGE_SIZE", "2048")
	t.Setenv("MAX_CODE_SIZE", "1024")
	t.Setenv("RATE_LIMIT_MAX_MESSAGES", "5")
	t.Setenv("RATE_LIMIT_WINDOW", "2s")
	t.Setenv("MAX_CONNECTIONS_PER_ROOM", "3")
	t.Setenv("MAX_CONNECTIONS_TOTAL", "50")
	t.Setenv("ROOM_ID_MIN_LENGTH", "4")
	t.Setenv("ROOM_ID_MAX_LENGTH", "32")
	t.Setenv("SHUTDOWN_GRACE", "3s")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.ListenAddr != ":9090" {
		t.Errorf("Expected listen addr :9090, got %s", cfg.ListenAddr)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://staging.example.com" {
		t.Errorf("Unexpected origins %v", cfg.AllowedOrigins)
	}
	if cfg.MaxMessageSize != 2048 {
		t.Errorf("Expected max message size 2048, got %d", cfg.MaxMessageSize)
	}
	if cfg.MaxCodeSize != 1024 {
		t.Errorf("Expected max code size 1024, got %d", cfg.MaxCodeSize)
	}
	if cfg.RateLimit.MaxMessages != 5 || cfg.RateLimit.Window != 2*time.Second {
		t.Errorf("Unexpected rate limit %+v", cfg.RateLimit)
	}
	if cfg.MaxConnsPerRoom != 3 || cfg.MaxConnsTotal != 50 {
		t.Errorf("Unexpected connection caps %d/%d", cfg.MaxConnsPerRoom, cfg.MaxConnsTotal)
	}
	if cfg.RoomIDMinLength != 4 || cfg.RoomIDMaxLength != 32 {
		t.Errorf("Unexpected room id bounds %d/%d", cfg.RoomIDMinLength, cfg.RoomIDMaxLength)
	}
	if cfg.ShutdownGrace != 3*time.Second {
		t.Errorf("Expected shutdown grace 3s, got %s", cfg.ShutdownGrace)
	}
}

func TestUnparseableEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("MAX_MESSAGE_SIZE", "not-a-number")
	t.Setenv("RATE_LIMIT_WINDOW", "-5s")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.MaxMessageSize != DefaultMaxMessageSize {
		t.Errorf("Expected default max message size, got %d", cfg.MaxMessageSize)
	}
	if cfg.RateLimit.Window != DefaultRateLimitWindow {
		t.Errorf("Expected default window, got %s", cfg.RateLimit.Window)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	t.Setenv("RELAY_PORT", "7070")

	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	contents := `
listen_addr: ":${RELAY_PORT}"
allowed_origins:
  - "https://pad.example.com"
max_code_size: 2048
rate_limit:
  max_messages: 10
  window: 5s
shutdown_grace: 2s
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	t.Setenv("RELAY_CONFIG_FILE", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.ListenAddr != ":7070" {
		t.Errorf("Expected env expansion to yield :7070, got %s", cfg.ListenAddr)
	}
	if cfg.MaxCodeSize != 2048 {
		t.Errorf("Expected max code size 2048, got %d", cfg.MaxCodeSize)
	}
	if cfg.RateLimit.MaxMessages != 10 || cfg.RateLimit.Window != 5*time.Second {
		t.Errorf("Unexpected rate limit %+v", cfg.RateLimit)
	}
	if cfg.ShutdownGrace != 2*time.Second {
		t.Errorf("Expected shutdown grace 2s, got %s", cfg.ShutdownGrace)
	}
	// Keys absent from the file keep their defaults.
	if cfg.MaxMessageSize != DefaultMaxMessageSize {
		t.Errorf("Expected default max message size, got %d", cfg.MaxMessageSize)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: \":7070\"\n"), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	t.Setenv("RELAY_CONFIG_FILE", path)
	t.Setenv("LISTEN_ADDR", ":9091")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.ListenAddr != ":9091" {
		t.Errorf("Environment must override the file, got %s", cfg.ListenAddr)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv("RELAY_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := LoadConfig(); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestValidateRejectsOutOfRangeValues(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(cfg *Config)
	}{
		{"empty listen addr", func(cfg *Config) { cfg.ListenAddr = "" }},
		{"message size too small", func(cfg *Config) { cfg.MaxMessageSize = 32 }},
		{"message size too large", func(cfg *Config) { cfg.MaxMessageSize = 2 << 20 }},
		{"code size zero", func(cfg *Config) { cfg.MaxCodeSize = 0 }},
		{"rate messages zero", func(cfg *Config) { cfg.RateLimit.MaxMessages = 0 }},
		{"rate messages huge", func(cfg *Config) { cfg.RateLimit.MaxMessages = 20000 }},
		{"window too short", func(cfg *Config) { cfg.RateLimit.Window = time.Millisecond }},
		{"window too long", func(cfg *Config) { cfg.RateLimit.Window = time.Hour }},
		{"per-room zero", func(cfg *Config) { cfg.MaxConnsPerRoom = 0 }},
		{"total below per-room", func(cfg *Config) { cfg.MaxConnsTotal = 2; cfg.MaxConnsPerRoom = 8 }},
		{"room id min zero", func(cfg *Config) { cfg.RoomIDMinLength = 0 }},
		{"room id max below min", func(cfg *Config) { cfg.RoomIDMaxLength = 3 }},
		{"grace too short", func(cfg *Config) { cfg.ShutdownGrace = 100 * time.Millisecond }},
		{"grace too long", func(cfg *Config) { cfg.ShutdownGrace = time.Hour }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
