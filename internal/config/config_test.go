package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadSessionConfig(t *testing.T) {
	path := writeTempConfig(t, `
version: 1
session:
  id: egd-demo
  name: Demo
patient:
  archetype: elderly
  seed: 7
timing:
  tick_interval_ms: 250
  monitor_interval_ms: 2000
  alert_cooldown_sec: 30
network:
  api_port: 9090
  mqtt_url: tcp://broker:1883
storage:
  postgres: true
`)

	cfg, err := LoadSessionConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Session.ID != "egd-demo" {
		t.Errorf("session id = %s", cfg.Session.ID)
	}
	if cfg.PatientArchetype() != "elderly" || cfg.Patient.Seed != 7 {
		t.Errorf("patient = %+v", cfg.Patient)
	}
	if cfg.TickInterval() != 250*time.Millisecond {
		t.Errorf("tick interval = %v", cfg.TickInterval())
	}
	if cfg.MonitorInterval() != 2*time.Second {
		t.Errorf("monitor interval = %v", cfg.MonitorInterval())
	}
	if cfg.AlertCooldown() != 30*time.Second {
		t.Errorf("alert cooldown = %v", cfg.AlertCooldown())
	}
	if cfg.APIPort() != 9090 {
		t.Errorf("api port = %d", cfg.APIPort())
	}
	if !cfg.Storage.Postgres || cfg.Network.MQTTURL != "tcp://broker:1883" {
		t.Errorf("network/storage = %+v %+v", cfg.Network, cfg.Storage)
	}
}

func TestDefaultsApplyWhenOmitted(t *testing.T) {
	path := writeTempConfig(t, `
version: 1
session:
  id: minimal
`)
	cfg, err := LoadSessionConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.TickInterval() != time.Second {
		t.Errorf("default tick interval = %v, want 1s", cfg.TickInterval())
	}
	if cfg.MonitorInterval() != 5*time.Second {
		t.Errorf("default monitor interval = %v, want 5s", cfg.MonitorInterval())
	}
	if cfg.AlertCooldown() != 60*time.Second {
		t.Errorf("default alert cooldown = %v, want 60s", cfg.AlertCooldown())
	}
	if cfg.APIPort() != 8080 {
		t.Errorf("default api port = %d, want 8080", cfg.APIPort())
	}
	if cfg.PatientArchetype() != "healthy_adult" {
		t.Errorf("default archetype = %s", cfg.PatientArchetype())
	}
}

func TestLoadRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"wrong version", "version: 2\nsession:\n  id: x\n"},
		{"missing session id", "version: 1\nsession:\n  name: unnamed\n"},
		{"not yaml", "{{{{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTempConfig(t, tt.content)
			if _, err := LoadSessionConfig(path); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := LoadSessionConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestLoadExampleConfig(t *testing.T) {
	cfg, err := LoadSessionConfig("../../examples/session.yaml")
	if err != nil {
		t.Fatalf("example config should load: %v", err)
	}
	if cfg.Session.ID != "demo-session" {
		t.Errorf("session id = %s", cfg.Session.ID)
	}
}
