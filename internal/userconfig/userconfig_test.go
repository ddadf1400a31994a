package userconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromPath_Missing(t *testing.T) {
	cfg, err := loadFromPath(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("loadFromPath() error: %v", err)
	}
	if !cfg.Telemetry {
		t.Error("expected telemetry enabled by default")
	}
	if cfg.MinConfidence != 0.6 {
		t.Errorf("MinConfidence = %v, want 0.6", cfg.MinConfidence)
	}
}

func TestLoadFromPath_Values(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := "telemetry = false\nplanners = [\"gemini\", \"claude\"]\nmin_confidence = 0.8\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("loadFromPath() error: %v", err)
	}
	if cfg.Telemetry {
		t.Error("expected telemetry disabled")
	}
	if len(cfg.Planners) != 2 || cfg.Planners[0] != "gemini" {
		t.Errorf("Planners = %v", cfg.Planners)
	}
	if cfg.MinConfidence != 0.8 {
		t.Errorf("MinConfidence = %v, want 0.8", cfg.MinConfidence)
	}
}

func TestLoadFromPath_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("telemetry = {"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := loadFromPath(path); err == nil {
		t.Error("expected parse error for malformed config")
	}
}

func TestGetSet(t *testing.T) {
	cfg := DefaultConfig()

	if v, ok := cfg.Get("telemetry"); !ok || v != "true" {
		t.Errorf("Get(telemetry) = %q, %v", v, ok)
	}
	if _, ok := cfg.Get("nonsense"); ok {
		t.Error("Get(nonsense) should report unknown key")
	}

	if err := cfg.Set("telemetry", "false"); err != nil {
		t.Fatalf("Set(telemetry) error: %v", err)
	}
	if cfg.Telemetry {
		t.Error("telemetry still enabled after Set false")
	}

	if err := cfg.Set("planners", "gemini, claude ,"); err != nil {
		t.Fatalf("Set(planners) error: %v", err)
	}
	if len(cfg.Planners) != 2 || cfg.Planners[0] != "gemini" || cfg.Planners[1] != "claude" {
		t.Errorf("Planners = %v", cfg.Planners)
	}

	if err := cfg.Set("min_confidence", "0.75"); err != nil {
		t.Fatalf("Set(min_confidence) error: %v", err)
	}
	if cfg.MinConfidence != 0.75 {
		t.Errorf("MinConfidence = %v, want 0.75", cfg.MinConfidence)
	}

	for _, bad := range []struct{ key, value string }{
		{"telemetry", "maybe"},
		{"min_confidence", "1.5"},
		{"min_confidence", "abc"},
		{"nonsense", "x"},
	} {
		if err := cfg.Set(bad.key, bad.value); err == nil {
			t.Errorf("Set(%s, %s) should fail", bad.key, bad.value)
		}
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")

	cfg := DefaultConfig()
	cfg.Telemetry = false
	cfg.Planners = []string{"claude"}
	if err := cfg.saveToPath(path); err != nil {
		t.Fatalf("saveToPath() error: %v", err)
	}

	loaded, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("loadFromPath() error: %v", err)
	}
	if loaded.Telemetry != cfg.Telemetry {
		t.Error("telemetry not round-tripped")
	}
	if len(loaded.Planners) != 1 || loaded.Planners[0] != "claude" {
		t.Errorf("Planners = %v", loaded.Planners)
	}
}
