// Package config handles configuration loading, validation, and hot reload
// for gazecollect.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete collector configuration.
type Config struct {
	Version int `toml:"version" json:"version" yaml:"version"`

	Caret   CaretConfig   `toml:"caret" json:"caret" yaml:"caret"`
	Capture CaptureConfig `toml:"capture" json:"capture" yaml:"capture"`
	Camera  CameraConfig  `toml:"camera" json:"camera" yaml:"camera"`
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`
}

// CaretConfig tunes the caret resolver.
type CaretConfig struct {
	// ThrottleMs is how long a resolved caret position is reused.
	ThrottleMs int `toml:"throttle_ms" json:"throttle_ms" yaml:"throttle_ms"`

	// Anchor is "top" (rectangle top-left) or "middle" (left edge at half height).
	Anchor string `toml:"anchor" json:"anchor" yaml:"anchor"`

	// Strategies is the active lookup chain. Order does not matter; the
	// chain always runs gui-thread, caret-pos, cursor.
	Strategies []string `toml:"strategies" json:"strategies" yaml:"strategies"`

	// CapabilityCacheSize bounds how many windows are remembered.
	CapabilityCacheSize int `toml:"capability_cache_size" json:"capability_cache_size" yaml:"capability_cache_size"`
}

// CaptureConfig controls where and how frames are stored.
type CaptureConfig struct {
	OutputDir   string `toml:"output_dir" json:"output_dir" yaml:"output_dir"`
	MouseDir    string `toml:"mouse_dir" json:"mouse_dir" yaml:"mouse_dir"`
	KeyboardDir string `toml:"keyboard_dir" json:"keyboard_dir" yaml:"keyboard_dir"`
	JPEGQuality int    `toml:"jpeg_quality" json:"jpeg_quality" yaml:"jpeg_quality"`

	// MaxWidth downsizes frames wider than this. 0 keeps the camera size.
	MaxWidth int `toml:"max_width" json:"max_width" yaml:"max_width"`

	// RecordKeys stores and prints the typed character. Off by default.
	RecordKeys bool `toml:"record_keys" json:"record_keys" yaml:"record_keys"`

	Clicks bool `toml:"clicks" json:"clicks" yaml:"clicks"`
	Keys   bool `toml:"keys" json:"keys" yaml:"keys"`
}

// CameraConfig selects the imaging device.
type CameraConfig struct {
	Device int `toml:"device" json:"device" yaml:"device"`

	// Required aborts startup when the device cannot be opened. Otherwise
	// the collector runs degraded and records every capture as failed.
	Required bool `toml:"required" json:"required" yaml:"required"`
}

// StorageConfig holds the capture index settings.
type StorageConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Path    string `toml:"path" json:"path" yaml:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `toml:"level" json:"level" yaml:"level"`
	Format     string `toml:"format" json:"format" yaml:"format"`
	Output     string `toml:"output" json:"output" yaml:"output"`
	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	Compress   bool   `toml:"compress" json:"compress" yaml:"compress"`
	CrashDir   string `toml:"crash_dir" json:"crash_dir" yaml:"crash_dir"`
}

// MetricsConfig controls the metrics and health HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Listen  string `toml:"listen" json:"listen" yaml:"listen"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Caret: CaretConfig{
			ThrottleMs:          100,
			Anchor:              "top",
			Strategies:          []string{"gui-thread", "caret-pos", "cursor"},
			CapabilityCacheSize: 1024,
		},
		Capture: CaptureConfig{
			OutputDir:   ".",
			MouseDir:    "mouse_data",
			KeyboardDir: "keyboard_data",
			JPEGQuality: 90,
			Clicks:      true,
			Keys:        true,
		},
		Camera: CameraConfig{
			Device: 0,
		},
		Storage: StorageConfig{
			Enabled: true,
			Path:    filepath.Join(PlatformDataDir(), "captures.db"),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(PlatformLogDir(), "gazecollect.log"),
			MaxSizeMB:  50,
			MaxAgeDays: 14,
			MaxBackups: 5,
			Compress:   true,
			CrashDir:   filepath.Join(PlatformLogDir(), "crashes"),
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9464",
		},
	}
}

// Throttle returns the caret throttle as a duration.
func (c *Config) Throttle() time.Duration {
	return time.Duration(c.Caret.ThrottleMs) * time.Millisecond
}

// ConfigPath returns the default config file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads a config file (or defaults if it does not exist), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	return NewLoader(path).Load()
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the configuration points at.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Capture.OutputDir}
	if c.Storage.Enabled && c.Storage.Path != "" {
		dirs = append(dirs, filepath.Dir(c.Storage.Path))
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(expandPath(dir), 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies GAZECOLLECT_* environment variables.
// Malformed numeric or boolean values are ignored.
func (c *Config) ApplyEnvOverrides() {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	flag := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	num("GAZECOLLECT_THROTTLE_MS", &c.Caret.ThrottleMs)
	str("GAZECOLLECT_ANCHOR", &c.Caret.Anchor)
	if v := os.Getenv("GAZECOLLECT_STRATEGIES"); v != "" {
		c.Caret.Strategies = splitList(v)
	}
	str("GAZECOLLECT_OUTPUT_DIR", &c.Capture.OutputDir)
	flag("GAZECOLLECT_RECORD_KEYS", &c.Capture.RecordKeys)
	num("GAZECOLLECT_CAMERA_DEVICE", &c.Camera.Device)
	flag("GAZECOLLECT_CAMERA_REQUIRED", &c.Camera.Required)
	str("GAZECOLLECT_DB_PATH", &c.Storage.Path)
	str("GAZECOLLECT_LOG_LEVEL", &c.Logging.Level)
	str("GAZECOLLECT_LOG_PATH", &c.Logging.FilePath)
	str("GAZECOLLECT_METRICS_LISTEN", &c.Metrics.Listen)
	flag("GAZECOLLECT_METRICS_ENABLED", &c.Metrics.Enabled)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Caret.Strategies = append([]string(nil), c.Caret.Strategies...)
	return &clone
}

// Encode writes the configuration in the format implied by ext
// (".toml", ".json", ".yaml" or ".yml").
func (c *Config) Encode(ext string) ([]byte, error) {
	switch strings.ToLower(ext) {
	case ".json":
		return json.MarshalIndent(c, "", "  ")
	case ".yaml", ".yml":
		return yaml.Marshal(c)
	default:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return nil, fmt.Errorf("encode TOML: %w", err)
		}
		return buf.Bytes(), nil
	}
}

// Save writes the configuration to path, creating its directory.
func Save(c *Config, path string) error {
	data, err := c.Encode(filepath.Ext(path))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
