package bridge

import (
	"testing"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/rs/zerolog"
)

func loadDefaults(t *testing.T) Config {
	t.Helper()

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFiles: true,
		SkipEnv:   true,
		SkipFlags: true,
	})
	if err := loader.Load(); err != nil {
		t.Fatalf("failed to load defaults: %v", err)
	}

	return cfg
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := loadDefaults(t)

	if cfg.BaudRate != 115200 {
		t.Errorf("expected baud rate 115200, got %d", cfg.BaudRate)
	}
	if cfg.SettleDelay != 3*time.Second {
		t.Errorf("expected settle delay 3s, got %s", cfg.SettleDelay)
	}
	if cfg.ReadTimeout != 10*time.Second {
		t.Errorf("expected read timeout 10s, got %s", cfg.ReadTimeout)
	}
	if cfg.Handshake.Attempts != 10 {
		t.Errorf("expected 10 handshake attempts, got %d", cfg.Handshake.Attempts)
	}
	if cfg.Port != "" {
		t.Errorf("expected discovery by default, got port %q", cfg.Port)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cfg := loadDefaults(t)
	cfg.BaudRate = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for baud rate 0")
	}

	cfg = loadDefaults(t)
	cfg.Handshake.Attempts = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for 0 handshake attempts")
	}

	cfg = loadDefaults(t)
	cfg.Log.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for an unknown log level")
	}
}

func TestConfigLogLevel(t *testing.T) {
	t.Parallel()

	cfg := loadDefaults(t)
	if cfg.LogLevel() != zerolog.InfoLevel {
		t.Errorf("expected info, got %s", cfg.LogLevel())
	}

	cfg.Log.Level = "warning"
	if cfg.LogLevel() != zerolog.WarnLevel {
		t.Errorf("expected warn, got %s", cfg.LogLevel())
	}
}
