package config

import (
	"testing"
	"time"
)

func TestParseAppliesDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite://file::memory:")
	t.Setenv("GAME_SERVICE_TOKEN", "secret")
	t.Setenv("JWT_SECRET", "jwt-secret")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cfg.ListenAddr != ":5200" {
		t.Fatalf("expected default listen addr, got %q", cfg.ListenAddr)
	}
	if cfg.StaleMatchAfter != 6*time.Hour {
		t.Fatalf("expected default stale cut-off, got %s", cfg.StaleMatchAfter)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://b.test" {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
	if cfg.Archive.Enabled() {
		t.Fatalf("archive should be disabled without R2 settings")
	}
}

func TestParseRequiresVerifier(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite://file::memory:")
	t.Setenv("GAME_SERVICE_TOKEN", "secret")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("AUTH_SERVICE_URL", "")

	if _, err := Parse(); err == nil {
		t.Fatalf("expected an error when no token verifier is configured")
	}
}
