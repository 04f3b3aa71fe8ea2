package config

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.HTTPAddress != "0.0.0.0:8080" {
		t.Fatalf("unexpected http address %q", cfg.HTTPAddress)
	}
	if cfg.RateLimit != 15 {
		t.Fatalf("expected rate limit 15, got %d", cfg.RateLimit)
	}
	if cfg.RateWindow != time.Minute {
		t.Fatalf("expected 60s window, got %s", cfg.RateWindow)
	}
	if cfg.FlushGrace != 500*time.Millisecond {
		t.Fatalf("expected 500ms grace, got %s", cfg.FlushGrace)
	}
}

func TestLoadRejectsEmptyDatabasePath(t *testing.T) {
	configViper := NewViper()
	configViper.Set("database.path", "")
	if _, err := Load(configViper); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadRejectsNonPositiveLimit(t *testing.T) {
	configViper := NewViper()
	configViper.Set("limit.connections", 0)
	if _, err := Load(configViper); err == nil {
		t.Fatal("expected validation error")
	}
}
