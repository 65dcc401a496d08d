package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CameraConfig selects and tunes the camera backend.
type CameraConfig struct {
	Backend          string `yaml:"backend"`            // rpicam, v4l2, gocv, synthetic
	Device           string `yaml:"device"`             // /dev/video0, camera index, ...
	Encoding         string `yaml:"encoding"`           // default video encoding: h264 or mjpeg
	WarmupMs         int    `yaml:"warmup_ms"`          // sensor settling time before capture
	AcquireTimeoutMs int    `yaml:"acquire_timeout_ms"` // 0 = wait forever
}

// NetworkConfig holds the outbound connection settings.
type NetworkConfig struct {
	ConnectTimeoutMs int `yaml:"connect_timeout_ms"` // 0 = OS default
}

// IndicatorConfig describes the optional "recording" LED.
type IndicatorConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Driver    string `yaml:"driver"` // mock, rpio, cdev
	Chip      string `yaml:"chip"`   // cdev only, e.g. gpiochip0
	Pin       int    `yaml:"pin"`    // BCM numbering
	ActiveLow bool   `yaml:"active_low"`
}

// DefaultsConfig contains capture defaults for the web form and schedules.
type DefaultsConfig struct {
	DebugLevel int `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	Width      int `yaml:"width"`
	Height     int `yaml:"height"`
	Framerate  int `yaml:"framerate"`
}

// TelemetryConfig points at an OTLP/gRPC collector. Empty endpoint disables export.
type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// ScheduleEntry is one cron-triggered capture.
type ScheduleEntry struct {
	Spec        string `yaml:"spec"` // cron expression, e.g. "0 */15 * * * *"
	Mode        string `yaml:"mode"` // still or video
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	Framerate   int    `yaml:"framerate"`
	DurationSec int    `yaml:"duration_sec"`
}

// AnnounceConfig registers `picast serve` with a central server.
type AnnounceConfig struct {
	URL          string `yaml:"url"`           // base URL; empty disables announcing
	Name         string `yaml:"name"`          // camera name; empty = hostname
	Advertise    string `yaml:"advertise"`     // control address sent to the server; empty = listen address
	HeartbeatSec int    `yaml:"heartbeat_sec"` // heartbeat interval
}

// ServerConfig configures `picast serve`.
type ServerConfig struct {
	Listen   string          `yaml:"listen"`
	Schedule []ScheduleEntry `yaml:"schedule"`
	Announce AnnounceConfig  `yaml:"announce"`
}

// Config aggregates all application configuration.
type Config struct {
	Camera    CameraConfig    `yaml:"camera"`
	Network   NetworkConfig   `yaml:"network"`
	Indicator IndicatorConfig `yaml:"indicator"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Server    ServerConfig    `yaml:"server"`
}

// MaxConfigFileBytes caps the size of a config file.
const MaxConfigFileBytes = 1 << 20

var knownBackends = map[string]bool{"rpicam": true, "v4l2": true, "gocv": true, "synthetic": true}
var knownDrivers = map[string]bool{"mock": true, "rpio": true, "cdev": true}

// ValidateConfigPath accepts only .yaml files that live in a configs/ directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must end in .yaml", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config file %q must be inside a configs/ directory", path)
	}
	return nil
}

// Default returns the configuration used when no file overrides a field.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Camera.Backend == "" {
		c.Camera.Backend = "rpicam"
	}
	if c.Camera.Encoding == "" {
		c.Camera.Encoding = "h264"
	}
	if c.Camera.WarmupMs <= 0 {
		c.Camera.WarmupMs = 2000 // sensor needs ~2s to settle exposure
	}
	if c.Indicator.Driver == "" {
		c.Indicator.Driver = "mock"
	}
	if c.Defaults.Width <= 0 {
		c.Defaults.Width = 1280
	}
	if c.Defaults.Height <= 0 {
		c.Defaults.Height = 720
	}
	if c.Defaults.Framerate <= 0 {
		c.Defaults.Framerate = 30
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.Announce.HeartbeatSec <= 0 {
		c.Server.Announce.HeartbeatSec = 60
	}
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file is %d bytes, limit is %d", info.Size(), MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	cfg.applyDefaults()

	if !knownBackends[cfg.Camera.Backend] {
		return nil, fmt.Errorf("camera.backend %q is not one of rpicam, v4l2, gocv, synthetic", cfg.Camera.Backend)
	}
	if cfg.Camera.Encoding != "h264" && cfg.Camera.Encoding != "mjpeg" {
		return nil, fmt.Errorf("camera.encoding must be h264 or mjpeg, got %q", cfg.Camera.Encoding)
	}
	if cfg.Camera.AcquireTimeoutMs < 0 || cfg.Network.ConnectTimeoutMs < 0 {
		return nil, errors.New("timeouts must not be negative")
	}
	if cfg.Defaults.DebugLevel < 0 || cfg.Defaults.DebugLevel > 4 {
		return nil, fmt.Errorf("debug_level must be between 0 and 4, got %d", cfg.Defaults.DebugLevel)
	}
	if cfg.Indicator.Enabled {
		if !knownDrivers[cfg.Indicator.Driver] {
			return nil, fmt.Errorf("indicator.driver %q is not one of mock, rpio, cdev", cfg.Indicator.Driver)
		}
		if cfg.Indicator.Pin <= 0 {
			return nil, fmt.Errorf("indicator.pin must be > 0 when the indicator is enabled")
		}
	}
	for i, e := range cfg.Server.Schedule {
		if e.Spec == "" {
			return nil, fmt.Errorf("server.schedule[%d]: spec is required", i)
		}
		if e.Port <= 0 || e.Port > 65535 {
			return nil, fmt.Errorf("server.schedule[%d]: port must be 1-65535, got %d", i, e.Port)
		}
		if e.Host == "" {
			return nil, fmt.Errorf("server.schedule[%d]: host is required", i)
		}
	}

	if a := cfg.Server.Announce; a.URL != "" {
		u, err := url.Parse(a.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("server.announce.url %q must be an http(s) URL", a.URL)
		}
	}

	return &cfg, nil
}

// Warmup returns the camera warm-up duration.
func (c *Config) Warmup() time.Duration {
	return time.Duration(c.Camera.WarmupMs) * time.Millisecond
}

// AcquireTimeout bounds opening the camera. 0 means no bound.
func (c *Config) AcquireTimeout() time.Duration {
	return time.Duration(c.Camera.AcquireTimeoutMs) * time.Millisecond
}

// ConnectTimeout bounds the TCP connect. 0 means no bound.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Network.ConnectTimeoutMs) * time.Millisecond
}

// Heartbeat returns the announce heartbeat interval.
func (a AnnounceConfig) Heartbeat() time.Duration {
	return time.Duration(a.HeartbeatSec) * time.Second
}

// Duration returns the clip length of a scheduled video capture.
func (e ScheduleEntry) Duration() time.Duration {
	return time.Duration(e.DurationSec) * time.Second
}
