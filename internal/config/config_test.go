package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
server:
  port: 9090
  host: "0.0.0.0"
detector:
  ear_threshold: 0.25
  min_closed_frames: 3
wellness:
  min_blinks_per_minute: 12
backend:
  url: "https://wellness.example.com/api"
  token: "secret"
storage:
  db_path: "/var/lib/blinkd/sessions.db"
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Detector.EARThreshold != 0.25 {
		t.Errorf("Detector.EARThreshold = %v, want 0.25", cfg.Detector.EARThreshold)
	}
	if cfg.Detector.MinClosedFrames != 3 {
		t.Errorf("Detector.MinClosedFrames = %d, want 3", cfg.Detector.MinClosedFrames)
	}
	if cfg.Wellness.MinBlinksPerMinute != 12 {
		t.Errorf("Wellness.MinBlinksPerMinute = %v, want 12", cfg.Wellness.MinBlinksPerMinute)
	}
	if cfg.Backend.URL != "https://wellness.example.com/api" {
		t.Errorf("Backend.URL = %q", cfg.Backend.URL)
	}
	if cfg.Storage.DBPath != "/var/lib/blinkd/sessions.db" {
		t.Errorf("Storage.DBPath = %q", cfg.Storage.DBPath)
	}

	// Defaults should still be applied for unspecified fields.
	if cfg.Wellness.Window != time.Minute {
		t.Errorf("Wellness.Window = %v, want default 1m", cfg.Wellness.Window)
	}
	if cfg.Detector.MaxBlinkFrames != 7 {
		t.Errorf("Detector.MaxBlinkFrames = %d, want default 7", cfg.Detector.MaxBlinkFrames)
	}
	if cfg.Server.BroadcastThrottle != 100*time.Millisecond {
		t.Errorf("Server.BroadcastThrottle = %v, want default 100ms", cfg.Server.BroadcastThrottle)
	}
	if cfg.Backend.SyncInterval != time.Minute {
		t.Errorf("Backend.SyncInterval = %v, want default 1m", cfg.Backend.SyncInterval)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() on missing file should return error")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default 8080", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want default %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Detector.EARThreshold != 0.21 {
		t.Errorf("Detector.EARThreshold = %v, want default 0.21", cfg.Detector.EARThreshold)
	}
	if cfg.Wellness.MinBlinksPerMinute != 10 {
		t.Errorf("Wellness.MinBlinksPerMinute = %v, want default 10", cfg.Wellness.MinBlinksPerMinute)
	}
	if cfg.Backend.URL != "" {
		t.Errorf("Backend.URL = %q, want empty (upload disabled)", cfg.Backend.URL)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(cfgPath, []byte(":::not valid yaml"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(cfgPath)
	if err == nil {
		t.Fatal("Load() with invalid YAML should return error")
	}
}
