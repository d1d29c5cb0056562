package ui

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/notepid/twilight_chat/internal/admin/app"
	"github.com/notepid/twilight_chat/internal/config"
)

func newTestSettings(t *testing.T) (*settingsModel, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	return newSettingsModel(&app.App{ConfigPath: path, Config: config.Default()}), path
}

func TestSettingsApplyReportsBadField(t *testing.T) {
	cases := []struct {
		field string
		edit  func(m *settingsModel)
	}{
		{"max sessions", func(m *settingsModel) { m.maxSessions = "many" }},
		{"page size", func(m *settingsModel) { m.pageSize = "" }},
		{"heartbeat", func(m *settingsModel) { m.heartbeat = "soon" }},
	}
	for _, tc := range cases {
		m, path := newTestSettings(t)
		before := m.app.Config.Server.MaxSessions
		tc.edit(m)

		err := m.apply()
		if err == nil || !strings.HasPrefix(err.Error(), tc.field+":") {
			t.Fatalf("expected %s error, got %v", tc.field, err)
		}
		if m.app.Config.Server.MaxSessions != before || m.app.Config.Log.Level != "info" {
			t.Fatalf("expected config untouched after a %s error", tc.field)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Fatalf("expected no file written after a %s error", tc.field)
		}
	}
}

func TestSettingsApplySaves(t *testing.T) {
	m, path := newTestSettings(t)
	m.maxSessions = " 12 "
	m.pageSize = "25"
	m.heartbeat = "20s"
	m.logLevel = "debug"

	if err := m.apply(); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if m.app.Config.Server.MaxSessions != 12 || m.app.Config.Chat.PageSize != 25 {
		t.Fatalf("expected in-memory config updated, got %+v %+v", m.app.Config.Server, m.app.Config.Chat)
	}

	got, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Presence.Heartbeat != 20*time.Second || got.Log.Level != "debug" {
		t.Fatalf("expected saved values back, got %+v %+v", got.Presence, got.Log)
	}
}
