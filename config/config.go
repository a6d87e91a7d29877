// Package config handles appgraph configuration from a YAML file with
// environment-friendly defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML duration strings
// ("2.5s", "30s") as well as plain nanosecond integers.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: invalid duration: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Config is the top-level appgraph configuration.
type Config struct {
	Listen     string           `yaml:"listen"`
	BaseURL    string           `yaml:"base_url"`
	DataDir    string           `yaml:"data_dir"`
	DBPath     string           `yaml:"db_path"`
	Screenshot ScreenshotConfig `yaml:"screenshots"`
	Device     DeviceConfig     `yaml:"device"`
	Vision     VisionConfig     `yaml:"vision"`
	Traffic    TrafficConfig    `yaml:"traffic"`
	LogLevel   string           `yaml:"log_level"`
}

// ScreenshotConfig locates the captured image directories.
type ScreenshotConfig struct {
	Dir          string `yaml:"dir"`
	AnnotatedDir string `yaml:"annotated_dir"`
}

// DeviceConfig controls the adb transport and the connectivity monitor.
type DeviceConfig struct {
	ADBPath      string   `yaml:"adb_path"`
	PollInterval Duration `yaml:"poll_interval"`
	// Fallback screen size when `wm size` is unavailable mid-capture.
	ScreenWidth  int `yaml:"screen_width"`
	ScreenHeight int `yaml:"screen_height"`
}

// VisionConfig points at the inference collaborator. An empty endpoint
// selects the mock engine.
type VisionConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// TrafficConfig points at the intercepting-proxy REST API.
type TrafficConfig struct {
	ProxyURL     string   `yaml:"proxy_url"`
	PollInterval Duration `yaml:"poll_interval"`
}

// LoadFile reads a YAML configuration file and applies defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8000"
	}
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:8000"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.DBPath == "" {
		c.DBPath = c.DataDir + "/appgraph.db"
	}
	if c.Screenshot.Dir == "" {
		c.Screenshot.Dir = c.DataDir + "/screenshots"
	}
	if c.Screenshot.AnnotatedDir == "" {
		c.Screenshot.AnnotatedDir = c.DataDir + "/annotated_screenshots"
	}
	if c.Device.ADBPath == "" {
		c.Device.ADBPath = "adb"
	}
	if c.Device.PollInterval <= 0 {
		c.Device.PollInterval = Duration(2500 * time.Millisecond)
	}
	if c.Device.ScreenWidth <= 0 {
		c.Device.ScreenWidth = 1080
	}
	if c.Device.ScreenHeight <= 0 {
		c.Device.ScreenHeight = 2340
	}
	if c.Traffic.ProxyURL == "" {
		c.Traffic.ProxyURL = "http://127.0.0.1:8090"
	}
	if c.Traffic.PollInterval <= 0 {
		c.Traffic.PollInterval = Duration(30 * time.Second)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
