package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("addr: %s", cfg.HTTPAddr)
	}
	if cfg.RelayBackend != "local" || cfg.AuthMode != "jwt" {
		t.Fatalf("backend=%s auth=%s", cfg.RelayBackend, cfg.AuthMode)
	}
	if cfg.SessionIdleTTL != 6*time.Hour || cfg.RoomRetention != 24*time.Hour {
		t.Fatalf("ttl defaults: %v %v", cfg.SessionIdleTTL, cfg.RoomRetention)
	}
	if !cfg.AutoMigrate || cfg.LegalityCheck {
		t.Fatalf("flags: migrate=%v legality=%v", cfg.AutoMigrate, cfg.LegalityCheck)
	}
}

func TestLoadRequiresSecretForJWT(t *testing.T) {
	t.Setenv("AUTH_MODE", "jwt")
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without JWT_SECRET")
	}
}

func TestLoadRelayBackendNeedsURL(t *testing.T) {
	t.Setenv("AUTH_MODE", "header")
	t.Setenv("RELAY_BACKEND", "redis")
	t.Setenv("REDIS_URL", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for redis relay without REDIS_URL")
	}
}

func TestLoadDurations(t *testing.T) {
	t.Setenv("AUTH_MODE", "header")
	t.Setenv("SESSION_IDLE_TTL", "90")
	t.Setenv("ROOM_RETENTION", "2h")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SessionIdleTTL != 90*time.Second {
		t.Fatalf("idle ttl: %v", cfg.SessionIdleTTL)
	}
	if cfg.RoomRetention != 2*time.Hour {
		t.Fatalf("retention: %v", cfg.RoomRetention)
	}

	t.Setenv("ROOM_RETENTION", "-5m")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for negative duration")
	}
}

func TestLoadYAMLFileUnderEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "matchd.yaml")
	body := "HTTP_ADDR: \":9090\"\nauth_mode: header\nPERSIST_CONCURRENCY: 3\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("AUTH_MODE", "")
	t.Setenv("PERSIST_CONCURRENCY", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Fatalf("file value not applied: %s", cfg.HTTPAddr)
	}
	if cfg.AuthMode != "header" {
		t.Fatalf("lower-case key not normalized: %s", cfg.AuthMode)
	}
	if cfg.PersistConcurrency != 5 {
		t.Fatalf("env must win over file: %d", cfg.PersistConcurrency)
	}
}

func TestLoadWSOrigins(t *testing.T) {
	t.Setenv("AUTH_MODE", "header")
	t.Setenv("WS_ORIGINS", " play.example.com, *.example.org ,,")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.WSOrigins) != 2 || cfg.WSOrigins[0] != "play.example.com" || cfg.WSOrigins[1] != "*.example.org" {
		t.Fatalf("origins: %q", cfg.WSOrigins)
	}
}
