package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Addr != ":4000" {
		t.Fatalf("unexpected default addr: %q", cfg.Addr)
	}
	if cfg.ResetTokenTTL != 24*time.Hour {
		t.Fatalf("unexpected default reset ttl: %v", cfg.ResetTokenTTL)
	}
	if cfg.StoreTimeout != 3*time.Second {
		t.Fatalf("unexpected default store timeout: %v", cfg.StoreTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9999")
	t.Setenv("RESET_TOKEN_TTL_HOURS", "1")
	cfg := Load()
	if cfg.Addr != ":9999" {
		t.Fatalf("override not applied: %q", cfg.Addr)
	}
	if cfg.ResetTokenTTL != time.Hour {
		t.Fatalf("override not applied: %v", cfg.ResetTokenTTL)
	}
}

func TestGetIntInvalidFallsBack(t *testing.T) {
	t.Setenv("SOME_INT", "not-a-number")
	if got := GetInt("SOME_INT", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}

func TestGetBool(t *testing.T) {
	t.Setenv("SOME_BOOL", "true")
	if !GetBool("SOME_BOOL", false) {
		t.Fatalf("expected true")
	}
	if GetBool("UNSET_BOOL", false) {
		t.Fatalf("expected fallback false")
	}
}
