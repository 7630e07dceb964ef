package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wellness-at-work/blinkd/internal/blink"
	"github.com/wellness-at-work/blinkd/internal/remote"
	"github.com/wellness-at-work/blinkd/internal/session"
)

type Config struct {
	Server   ServerConfig             `yaml:"server"`
	Detector blink.Config             `yaml:"detector"`
	Wellness session.AggregatorConfig `yaml:"wellness"`
	Storage  StorageConfig            `yaml:"storage"`
	Backend  remote.Config            `yaml:"backend"`
	Sysmon   SysmonConfig             `yaml:"sysmon"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
	// BroadcastThrottle batches per-frame telemetry into one websocket
	// write per interval.
	BroadcastThrottle time.Duration `yaml:"broadcast_throttle"`
	SnapshotInterval  time.Duration `yaml:"snapshot_interval"`
}

type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

type SysmonConfig struct {
	Interval time.Duration `yaml:"interval"`
	DiskPath string        `yaml:"disk_path"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              8080,
			Host:              "127.0.0.1",
			BroadcastThrottle: 100 * time.Millisecond,
			SnapshotInterval:  5 * time.Second,
		},
		Detector: blink.DefaultConfig(),
		Wellness: session.DefaultAggregatorConfig(),
		Storage: StorageConfig{
			DBPath: "sessions.db",
		},
		Backend: remote.Config{
			SyncInterval: time.Minute,
			Timeout:      10 * time.Second,
		},
		Sysmon: SysmonConfig{
			Interval: time.Second,
			DiskPath: "/",
		},
	}
}

// LoadOrDefault loads path if it exists and falls back to the defaults when
// it doesn't. Any other error is still returned.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
}

// Load reads a YAML config file over the defaults, so a partial file only
// overrides the keys it names.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
