package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/quantumlife/cadence/internal/core"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 8086 {
		t.Errorf("Server.Port = %d, want 8086", cfg.Server.Port)
	}
	if cfg.Sync.SyncIntervalMinutes != 15 {
		t.Errorf("SyncIntervalMinutes = %d, want 15", cfg.Sync.SyncIntervalMinutes)
	}
	if cfg.Sync.Interval() != 15*time.Minute {
		t.Errorf("Interval = %v, want 15m", cfg.Sync.Interval())
	}
	if cfg.Sync.SignificanceThreshold != 3 {
		t.Errorf("SignificanceThreshold = %d, want 3", cfg.Sync.SignificanceThreshold)
	}
	if cfg.Google.CalendarID != "primary" {
		t.Errorf("CalendarID = %q, want primary", cfg.Google.CalendarID)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sync.SyncIntervalMinutes != 15 {
		t.Errorf("SyncIntervalMinutes = %d, want default 15", cfg.Sync.SyncIntervalMinutes)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := Default()
	cfg.Sync.SyncIntervalMinutes = 30
	cfg.Sync.LookaheadDays = 14
	cfg.Planner.MinGapMinutes = 10
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Sync.SyncIntervalMinutes != 30 {
		t.Errorf("SyncIntervalMinutes = %d, want 30", loaded.Sync.SyncIntervalMinutes)
	}
	if loaded.Sync.LookaheadDays != 14 {
		t.Errorf("LookaheadDays = %d, want 14", loaded.Sync.LookaheadDays)
	}
	if loaded.Planner.MinGapMinutes != 10 {
		t.Errorf("MinGapMinutes = %d, want 10", loaded.Planner.MinGapMinutes)
	}
}

func TestSave_NeverPersistsSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := Default()
	cfg.Google.ClientSecret = "super-secret"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config file: %v", err)
	}
	if strings.Contains(string(data), "super-secret") {
		t.Error("client secret written to the config file")
	}
}

func TestLoad_SecretFromEnvironment(t *testing.T) {
	t.Setenv("GOOGLE_CLIENT_SECRET", "env-secret")
	t.Setenv("GOOGLE_CLIENT_ID", "env-id")

	path := filepath.Join(t.TempDir(), "config.json")
	if err := Default().Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Google.ClientSecret != "env-secret" {
		t.Errorf("ClientSecret = %q, want env-secret", cfg.Google.ClientSecret)
	}
	if cfg.Google.ClientID != "env-id" {
		t.Errorf("ClientID = %q, want env-id", cfg.Google.ClientID)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults valid", func(c *Config) {}, true},
		{"zero interval", func(c *Config) { c.Sync.SyncIntervalMinutes = 0 }, false},
		{"negative lookahead", func(c *Config) { c.Sync.LookaheadDays = -1 }, false},
		{"zero threshold", func(c *Config) { c.Sync.SignificanceThreshold = 0 }, false},
		{"negative min gap", func(c *Config) { c.Planner.MinGapMinutes = -1 }, false},
		{"negative buffer", func(c *Config) { c.Planner.Buffer.BeforeMinutes = -1 }, false},
		{"garbage clock range", func(c *Config) { c.Planner.WakingHours = core.ClockRange{Start: "7am", End: "22:00"} }, false},
		{"inverted clock range", func(c *Config) { c.Planner.EnergyWindows = []core.ClockRange{{Start: "12:00", End: "09:00"}} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate = %v, want nil", err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatal("Validate = nil, want error")
				}
				if !errors.Is(err, core.ErrInvalidConfig) {
					t.Errorf("Validate = %v, want ErrInvalidConfig", err)
				}
			}
		})
	}
}
