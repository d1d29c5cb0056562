package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  listen: \":9000\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Listen != ":9000" {
		t.Fatalf("expected listen :9000, got %q", cfg.Server.Listen)
	}
	if cfg.Presence.Heartbeat != 30*time.Second {
		t.Fatalf("expected default heartbeat 30s, got %s", cfg.Presence.Heartbeat)
	}
	if cfg.Notify.Backend != "outbox" {
		t.Fatalf("expected default notify backend outbox, got %q", cfg.Notify.Backend)
	}
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, "presence:\n  heartbeat: 10s\n  member_ttl: 25s\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Presence.Heartbeat != 10*time.Second || cfg.Presence.MemberTTL != 25*time.Second {
		t.Fatalf("unexpected presence timings: %+v", cfg.Presence)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "paths:\n  database: ./from-file.db\n")
	t.Setenv("TWILIGHT_DATABASE", "/tmp/from-env.db")
	t.Setenv("TWILIGHT_MAX_SESSIONS", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Paths.Database != "/tmp/from-env.db" {
		t.Fatalf("expected env database path, got %q", cfg.Paths.Database)
	}
	if cfg.Server.MaxSessions != 7 {
		t.Fatalf("expected max sessions 7, got %d", cfg.Server.MaxSessions)
	}
}

func TestValidateRejectsRedisWithoutURL(t *testing.T) {
	path := writeConfig(t, "presence:\n  backend: redis\n")

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for redis presence without url")
	}
}

func TestValidateRejectsShortTTL(t *testing.T) {
	cfg := Default()
	cfg.Presence.MemberTTL = time.Second

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error when member ttl is shorter than heartbeat")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := Default()
	cfg.Server.MaxSessions = 12
	cfg.Presence.Heartbeat = 15 * time.Second
	cfg.Presence.MemberTTL = 40 * time.Second

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Server.MaxSessions != 12 || got.Presence.Heartbeat != 15*time.Second {
		t.Fatalf("expected saved values back, got %+v %+v", got.Server, got.Presence)
	}
}

func TestSaveRejectsInvalid(t *testing.T) {
	cfg := Default()
	cfg.Server.MaxSessions = 0
	if err := cfg.Save(filepath.Join(t.TempDir(), "config.yaml")); err == nil {
		t.Fatalf("expected validation error")
	}
}
