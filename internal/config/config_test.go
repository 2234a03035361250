package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8000 {
		t.Errorf("Port = %d, want 8000", cfg.Port)
	}
	if cfg.MaxFileSizeBytes != 500*1024*1024 {
		t.Errorf("MaxFileSizeBytes = %d, want 500MB", cfg.MaxFileSizeBytes)
	}
	if cfg.ReloadAfterN != 5 {
		t.Errorf("ReloadAfterN = %d, want 5", cfg.ReloadAfterN)
	}
}

func TestLoad_YAMLOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := "port: 9001\nmodel-device: host\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9001 {
		t.Errorf("Port = %d, want 9001", cfg.Port)
	}
	if cfg.ModelDevice != "host" {
		t.Errorf("ModelDevice = %q, want host", cfg.ModelDevice)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("port: 9001\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "9500")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9500 {
		t.Errorf("Port = %d, want 9500 (env should win)", cfg.Port)
	}
}

func TestValidate_RejectsBadDevice(t *testing.T) {
	cfg := Default()
	cfg.ModelDevice = "quantum"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for bad model device")
	}
}

func TestValidate_RejectsZeroMaxFileSize(t *testing.T) {
	cfg := Default()
	cfg.MaxFileSizeBytes = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for zero max file size")
	}
}
