package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	type nested struct {
		Port     string  `yaml:"port"`
		Interval float64 `yaml:"interval_sec"`
	}
	type cfg struct {
		Server nested `yaml:"server"`
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := "server:\n  port: \"8000\"\n  interval_sec: 1.5\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	got, err := LoadConfig[cfg](path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Server.Port != "8000" {
		t.Errorf("port = %q, want %q", got.Server.Port, "8000")
	}
	if got.Server.Interval != 1.5 {
		t.Errorf("interval = %v, want 1.5", got.Server.Interval)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	type cfg struct{}
	if _, err := LoadConfig[cfg]("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadConfigBadYAML(t *testing.T) {
	type cfg struct {
		N int `yaml:"n"`
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("n: [unclosed"), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	if _, err := LoadConfig[cfg](path); err == nil {
		t.Fatal("expected unmarshal error")
	}
}
