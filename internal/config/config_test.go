package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesEnvVarOverrides(t *testing.T) {
	t.Setenv("MSE__CATALOG__API_BASE_URL", "https://custom.example.com/v3")
	t.Setenv("MSE__SIGNALS__VOLUME_SPIKE_MULTIPLIER", "4.5")
	t.Setenv("MSE__NOTIFY__ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Catalog.APIBaseURL != "https://custom.example.com/v3" {
		t.Fatalf("expected env override for api base url, got %q", cfg.Catalog.APIBaseURL)
	}
	if cfg.Signals.VolumeSpikeMultiplier != 4.5 {
		t.Fatalf("expected env override for volume spike multiplier, got %v", cfg.Signals.VolumeSpikeMultiplier)
	}
	if !cfg.Notify.Enabled {
		t.Fatal("expected notify.enabled to be true from env override")
	}
}

func TestLoadFallsBackToDefaultsWithoutEnv(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MinVolumeThreshold != 1000 {
		t.Fatalf("expected default min volume threshold 1000, got %v", cfg.MinVolumeThreshold)
	}
	if cfg.Dedup.MinConfidence != 0.5 {
		t.Fatalf("expected default min confidence 0.5, got %v", cfg.Dedup.MinConfidence)
	}
}

func TestApplyTOMLFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "default.toml")
	contents := `
[catalog]
api_base_url = "https://toml.example.com"

[signals]
volume_spike_multiplier = 3.0

[dedup]
min_confidence = 0.75
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write toml fixture: %v", err)
	}

	cfg := &Config{}
	cfg.Catalog.APIBaseURL = "https://default.example.com"
	cfg.Signals.VolumeSpikeMultiplier = 2.5
	cfg.Dedup.MinConfidence = 0.5

	if err := applyTOMLFile(cfg, path); err != nil {
		t.Fatalf("applyTOMLFile: %v", err)
	}
	if cfg.Catalog.APIBaseURL != "https://toml.example.com" {
		t.Fatalf("expected toml override for api base url, got %q", cfg.Catalog.APIBaseURL)
	}
	if cfg.Signals.VolumeSpikeMultiplier != 3.0 {
		t.Fatalf("expected toml override for volume spike multiplier, got %v", cfg.Signals.VolumeSpikeMultiplier)
	}
	if cfg.Dedup.MinConfidence != 0.75 {
		t.Fatalf("expected toml override for min confidence, got %v", cfg.Dedup.MinConfidence)
	}
}

func TestApplyTOMLFileIsNonFatalWhenMissing(t *testing.T) {
	cfg := &Config{}
	cfg.Catalog.APIBaseURL = "https://default.example.com"
	if err := applyTOMLFile(cfg, filepath.Join(t.TempDir(), "does-not-exist.toml")); err != nil {
		t.Fatalf("expected missing toml file to be non-fatal, got %v", err)
	}
	if cfg.Catalog.APIBaseURL != "https://default.example.com" {
		t.Fatal("expected config to remain unchanged when toml file is absent")
	}
}

func TestWatcherReloadNotifiesSubscribers(t *testing.T) {
	initial := &Config{}
	initial.MinVolumeThreshold = 1000
	w := NewWatcher(initial)

	ch := make(chan *Config, 1)
	w.Subscribe(ch)

	t.Setenv("MSE__MIN_VOLUME_THRESHOLD", "2500")
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	select {
	case next := <-ch:
		if next.MinVolumeThreshold != 2500 {
			t.Fatalf("expected reloaded threshold 2500, got %v", next.MinVolumeThreshold)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reload notification")
	}

	if w.Current().MinVolumeThreshold != 2500 {
		t.Fatalf("expected Current() to reflect reloaded config, got %v", w.Current().MinVolumeThreshold)
	}
}

func TestWatcherReloadDoesNotBlockOnSlowSubscriber(t *testing.T) {
	w := NewWatcher(&Config{})
	unbuffered := make(chan *Config)
	w.Subscribe(unbuffered)

	done := make(chan struct{})
	go func() {
		if err := w.Reload(); err != nil {
			t.Errorf("Reload: %v", err)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Reload blocked on a subscriber with no receiver")
	}
}
