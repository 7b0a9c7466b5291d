// Package config loads the YAML session configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SessionConfig describes one training session.
type SessionConfig struct {
	Version int `yaml:"version"`
	Session struct {
		ID          string `yaml:"id"`
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
	} `yaml:"session"`
	Patient struct {
		Archetype string `yaml:"archetype"`
		Seed      int64  `yaml:"seed"`
	} `yaml:"patient"`
	Timing struct {
		TickIntervalMS    int `yaml:"tick_interval_ms"`
		MonitorIntervalMS int `yaml:"monitor_interval_ms"`
		AlertCooldownSec  int `yaml:"alert_cooldown_sec"`
	} `yaml:"timing"`
	Network struct {
		APIPort int    `yaml:"api_port"`
		MQTTURL string `yaml:"mqtt_url"`
	} `yaml:"network"`
	Storage struct {
		Postgres bool `yaml:"postgres"`
	} `yaml:"storage"`
}

// APIPort returns the configured API port, defaulting to 8080 if not set.
func (c *SessionConfig) APIPort() int {
	if c.Network.APIPort == 0 {
		return 8080
	}
	return c.Network.APIPort
}

// TickInterval returns the scenario tick period, defaulting to 1s. One tick
// is always one simulated second; shrinking the interval fast-forwards.
func (c *SessionConfig) TickInterval() time.Duration {
	if c.Timing.TickIntervalMS <= 0 {
		return time.Second
	}
	return time.Duration(c.Timing.TickIntervalMS) * time.Millisecond
}

// MonitorInterval returns the watchdog scan period, defaulting to 5s.
func (c *SessionConfig) MonitorInterval() time.Duration {
	if c.Timing.MonitorIntervalMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Timing.MonitorIntervalMS) * time.Millisecond
}

// AlertCooldown returns the per-(parameter, direction) alert spacing,
// defaulting to 60s.
func (c *SessionConfig) AlertCooldown() time.Duration {
	if c.Timing.AlertCooldownSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Timing.AlertCooldownSec) * time.Second
}

// PatientArchetype returns the configured archetype key or the default.
func (c *SessionConfig) PatientArchetype() string {
	if c.Patient.Archetype == "" {
		return "healthy_adult"
	}
	return c.Patient.Archetype
}

// LoadSessionConfig reads and validates a session.yaml.
func LoadSessionConfig(path string) (*SessionConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg SessionConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}

	if cfg.Version != 1 {
		return nil, fmt.Errorf("unsupported session.yaml version: %d", cfg.Version)
	}
	if cfg.Session.ID == "" {
		return nil, fmt.Errorf("session.yaml: session.id is required")
	}

	return &cfg, nil
}
