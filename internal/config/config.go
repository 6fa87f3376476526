// Package config handles Cadence configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/quantumlife/cadence/internal/core"
)

// Config holds all configuration
type Config struct {
	// Paths
	DataDir string `json:"data_dir"`

	// Server
	Server ServerConfig `json:"server"`

	// Sync engine
	Sync SyncConfig `json:"sync"`

	// Planner
	Planner PlannerConfig `json:"planner"`

	// Provider
	Google GoogleConfig `json:"google"`
}

// ServerConfig for the HTTP status server
type ServerConfig struct {
	Port int    `json:"port"`
	Host string `json:"host"`
}

// SyncConfig tunes the sync controller
type SyncConfig struct {
	AutoSync               bool `json:"auto_sync"`
	SyncIntervalMinutes    int  `json:"sync_interval_minutes"`
	LookaheadDays          int  `json:"lookahead_days"` // today + N-1
	SignificanceThreshold  int  `json:"significance_threshold"`
	MaxConsecutiveFailures int  `json:"max_consecutive_failures"`
	RequestTimeoutSeconds  int  `json:"request_timeout_seconds"`
}

// Interval returns the polling cadence.
func (s SyncConfig) Interval() time.Duration {
	return time.Duration(s.SyncIntervalMinutes) * time.Minute
}

// RequestTimeout bounds each provider call so a stuck fetch cannot
// outlive the poll tick that issued it.
func (s SyncConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

// BufferPolicy shrinks candidates away from gap boundaries.
type BufferPolicy struct {
	BeforeMinutes int `json:"before_minutes"`
	AfterMinutes  int `json:"after_minutes"`
}

// PlannerConfig tunes gap analysis and plan generation
type PlannerConfig struct {
	MinGapMinutes    int              `json:"min_gap_minutes"`
	ToleranceMinutes int              `json:"tolerance_minutes"` // idempotence match tolerance
	Buffer           BufferPolicy     `json:"buffer"`
	EnergyWindows    []core.ClockRange `json:"energy_windows"`
	MealWindows      []core.ClockRange `json:"meal_windows"`
	WakingHours      core.ClockRange   `json:"waking_hours"` // daily analysis window
}

// GoogleConfig for the Google Calendar provider
type GoogleConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"-"` // env only, never persisted
	RedirectURL  string `json:"redirect_url"`
	CalendarID   string `json:"calendar_id"`
}

// Default returns default configuration
func Default() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		DataDir: filepath.Join(home, ".cadence"),
		Server: ServerConfig{
			Port: 8086,
			Host: "localhost",
		},
		Sync: SyncConfig{
			AutoSync:               true,
			SyncIntervalMinutes:    15,
			LookaheadDays:          7,
			SignificanceThreshold:  3,
			MaxConsecutiveFailures: 3,
			RequestTimeoutSeconds:  60,
		},
		Planner: PlannerConfig{
			MinGapMinutes:    5,
			ToleranceMinutes: 1,
			Buffer:           BufferPolicy{BeforeMinutes: 2, AfterMinutes: 2},
			EnergyWindows: []core.ClockRange{
				{Start: "09:00", End: "12:00"},
			},
			MealWindows: []core.ClockRange{
				{Start: "12:00", End: "14:00"},
				{Start: "18:00", End: "20:00"},
			},
			WakingHours: core.ClockRange{Start: "07:00", End: "22:00"},
		},
		Google: GoogleConfig{
			ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
			RedirectURL:  "http://localhost:8765/callback",
			CalendarID:   "primary",
		},
	}
}

// Load loads config from file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.json")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Use defaults
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Secrets come from the environment, never the file
	cfg.Google.ClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	if id := os.Getenv("GOOGLE_CLIENT_ID"); id != "" {
		cfg.Google.ClientID = id
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves config to file
func (c *Config) Save(path string) error {
	if path == "" {
		path = filepath.Join(c.DataDir, "config.json")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Sync.SyncIntervalMinutes <= 0 {
		return fmt.Errorf("%w: sync_interval_minutes must be positive", core.ErrInvalidConfig)
	}
	if c.Sync.LookaheadDays <= 0 {
		return fmt.Errorf("%w: lookahead_days must be positive", core.ErrInvalidConfig)
	}
	if c.Sync.SignificanceThreshold <= 0 {
		return fmt.Errorf("%w: significance_threshold must be positive", core.ErrInvalidConfig)
	}
	if c.Planner.MinGapMinutes < 0 || c.Planner.ToleranceMinutes < 0 {
		return fmt.Errorf("%w: planner minutes must be non-negative", core.ErrInvalidConfig)
	}
	if c.Planner.Buffer.BeforeMinutes < 0 || c.Planner.Buffer.AfterMinutes < 0 {
		return fmt.Errorf("%w: buffer minutes must be non-negative", core.ErrInvalidConfig)
	}
	now := time.Now()
	for _, w := range append(append([]core.ClockRange{c.Planner.WakingHours}, c.Planner.EnergyWindows...), c.Planner.MealWindows...) {
		if _, err := w.On(now); err != nil {
			return fmt.Errorf("%w: %v", core.ErrInvalidConfig, err)
		}
	}
	return nil
}
