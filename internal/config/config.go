// Package config loads and validates the camwall YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Directory DirectoryConfig `yaml:"directory"`
	Wall      WallConfig      `yaml:"wall"`
	LiveSync  LiveSyncConfig  `yaml:"live_sync"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// APIConfig configures the HTTP control surface.
type APIConfig struct {
	Address string `yaml:"address"`
}

// DirectoryConfig configures the camera directory feed.
type DirectoryConfig struct {
	// FeedURL is the camera metadata feed. Empty disables remote refresh;
	// the directory then only holds cameras listed inline.
	FeedURL         string `yaml:"feed_url"`
	RefreshInterval int    `yaml:"refresh_interval"` // seconds
	// NavigationOrder is the cyclic camera order for next/prev traversal.
	NavigationOrder []string `yaml:"navigation_order"`
	// Cameras optionally seeds the directory without a feed.
	Cameras []CameraConfig `yaml:"cameras"`
}

// CameraConfig is one inline directory entry.
type CameraConfig struct {
	ID        string  `yaml:"id"`
	Title     string  `yaml:"title"`
	Lat       float64 `yaml:"lat"`
	Lng       float64 `yaml:"lng"`
	StreamURL string  `yaml:"stream_url"`
}

// WallConfig configures session lifecycle and handoff timing.
type WallConfig struct {
	WarmCapacity   int `yaml:"warm_capacity"`
	EscalationMs   int `yaml:"escalation_ms"`
	HardFinalizeMs int `yaml:"hard_finalize_ms"`
	ErrorGraceMs   int `yaml:"error_grace_ms"`
	SeekCooldownMs int `yaml:"seek_cooldown_ms"`
}

// LiveSyncConfig configures the drift monitor.
type LiveSyncConfig struct {
	PollIntervalMs       int     `yaml:"poll_interval_ms"`
	MaxLagSeconds        float64 `yaml:"max_lag_seconds"`
	SafetyMarginSeconds  float64 `yaml:"safety_margin_seconds"`
	CorrectionIntervalMs int     `yaml:"correction_interval_ms"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		API: APIConfig{Address: ":8080"},
		Directory: DirectoryConfig{
			RefreshInterval: 300,
		},
		Wall: WallConfig{
			WarmCapacity:   8,
			EscalationMs:   2200,
			HardFinalizeMs: 4000,
			ErrorGraceMs:   2000,
			SeekCooldownMs: 600,
		},
		LiveSync: LiveSyncConfig{
			PollIntervalMs:       800,
			MaxLagSeconds:        1.5,
			SafetyMarginSeconds:  0.5,
			CorrectionIntervalMs: 800,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads and parses the configuration file. An empty path returns the
// defaults. File values overlay the defaults, so partial files are fine.
func Load(path string) (*Config, error) {
	config := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api config: %w", err)
	}
	if err := c.Directory.Validate(); err != nil {
		return fmt.Errorf("directory config: %w", err)
	}
	if err := c.Wall.Validate(); err != nil {
		return fmt.Errorf("wall config: %w", err)
	}
	if err := c.LiveSync.Validate(); err != nil {
		return fmt.Errorf("live_sync config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate validates the API section.
func (a *APIConfig) Validate() error {
	if a.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	return nil
}

// Validate validates the directory section.
func (d *DirectoryConfig) Validate() error {
	if d.FeedURL != "" && d.RefreshInterval < 1 {
		return fmt.Errorf("refresh_interval must be at least 1 second, got %d", d.RefreshInterval)
	}
	seen := make(map[string]bool, len(d.NavigationOrder))
	for _, id := range d.NavigationOrder {
		if id == "" {
			return fmt.Errorf("navigation_order cannot contain empty ids")
		}
		if seen[id] {
			return fmt.Errorf("navigation_order repeats camera %q", id)
		}
		seen[id] = true
	}
	for i, cam := range d.Cameras {
		if cam.ID == "" {
			return fmt.Errorf("cameras[%d] has no id", i)
		}
	}
	return nil
}

// Validate validates the wall section.
func (w *WallConfig) Validate() error {
	if w.WarmCapacity < 1 {
		return fmt.Errorf("warm_capacity must be at least 1, got %d", w.WarmCapacity)
	}
	if w.EscalationMs < 1 {
		return fmt.Errorf("escalation_ms must be positive, got %d", w.EscalationMs)
	}
	if w.HardFinalizeMs <= w.EscalationMs {
		return fmt.Errorf("hard_finalize_ms (%d) must exceed escalation_ms (%d)", w.HardFinalizeMs, w.EscalationMs)
	}
	if w.ErrorGraceMs < 1 {
		return fmt.Errorf("error_grace_ms must be positive, got %d", w.ErrorGraceMs)
	}
	if w.SeekCooldownMs < 1 {
		return fmt.Errorf("seek_cooldown_ms must be positive, got %d", w.SeekCooldownMs)
	}
	return nil
}

// Validate validates the live-sync section.
func (l *LiveSyncConfig) Validate() error {
	if l.PollIntervalMs < 1 {
		return fmt.Errorf("poll_interval_ms must be positive, got %d", l.PollIntervalMs)
	}
	if l.MaxLagSeconds <= 0 {
		return fmt.Errorf("max_lag_seconds must be positive, got %f", l.MaxLagSeconds)
	}
	if l.SafetyMarginSeconds < 0 {
		return fmt.Errorf("safety_margin_seconds cannot be negative, got %f", l.SafetyMarginSeconds)
	}
	if l.CorrectionIntervalMs < 1 {
		return fmt.Errorf("correction_interval_ms must be positive, got %d", l.CorrectionIntervalMs)
	}
	return nil
}

// Validate validates the logging section.
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got %q", l.Format)
	}
	return nil
}

// RefreshIntervalDuration returns the feed refresh interval as a Duration.
func (d *DirectoryConfig) RefreshIntervalDuration() time.Duration {
	return time.Duration(d.RefreshInterval) * time.Second
}

// EscalationDuration returns the handoff escalation deadline.
func (w *WallConfig) EscalationDuration() time.Duration {
	return time.Duration(w.EscalationMs) * time.Millisecond
}

// HardFinalizeDuration returns the handoff hard deadline.
func (w *WallConfig) HardFinalizeDuration() time.Duration {
	return time.Duration(w.HardFinalizeMs) * time.Millisecond
}

// ErrorGraceDuration returns the stream error grace window.
func (w *WallConfig) ErrorGraceDuration() time.Duration {
	return time.Duration(w.ErrorGraceMs) * time.Millisecond
}

// SeekCooldownDuration returns the post-correction seek cooldown.
func (w *WallConfig) SeekCooldownDuration() time.Duration {
	return time.Duration(w.SeekCooldownMs) * time.Millisecond
}

// PollIntervalDuration returns the live-sync poll interval.
func (l *LiveSyncConfig) PollIntervalDuration() time.Duration {
	return time.Duration(l.PollIntervalMs) * time.Millisecond
}

// CorrectionIntervalDuration returns the minimum gap between corrections.
func (l *LiveSyncConfig) CorrectionIntervalDuration() time.Duration {
	return time.Duration(l.CorrectionIntervalMs) * time.Millisecond
}
