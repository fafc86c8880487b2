package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaultsWhenMissing(t *testing.T) {
	cfg, _, exists, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing config file")
	}
	if cfg.Scheduler.VideoMaxConcurrent != defaultVideoMaxConcurrent {
		t.Fatalf("expected default video concurrency %d, got %d", defaultVideoMaxConcurrent, cfg.Scheduler.VideoMaxConcurrent)
	}
	if cfg.Encoder.TargetVideoFamily != "av1" {
		t.Fatalf("expected default target family av1, got %q", cfg.Encoder.TargetVideoFamily)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
[scheduler]
video_max_concurrent = 4
audio_max_concurrent = 12

[encoder]
video_encoder = "libaom-av1"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists=true")
	}
	if resolved != path {
		t.Fatalf("expected resolved path %q, got %q", path, resolved)
	}
	if cfg.Scheduler.VideoMaxConcurrent != 4 || cfg.Scheduler.AudioMaxConcurrent != 12 {
		t.Fatalf("overrides not applied: %+v", cfg.Scheduler)
	}
	if cfg.Encoder.VideoEncoder != "libaom-av1" {
		t.Fatalf("expected encoder override, got %q", cfg.Encoder.VideoEncoder)
	}
}

func TestValidateRejectsOutOfBoundsLimits(t *testing.T) {
	cfg := Default()
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	cfg.Scheduler.VideoMaxConcurrent = MaxVideoConcurrent + 1
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for video concurrency above bound")
	}
	if !strings.Contains(err.Error(), "video_max_concurrent") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsInvertedQualityRange(t *testing.T) {
	cfg := Default()
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	cfg.QualitySearch.MinQuality = 40
	cfg.QualitySearch.MaxQuality = 30
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for inverted quality range")
	}
}

func TestNormalizeFillsContainerAndCodecs(t *testing.T) {
	cfg := Default()
	cfg.Encoder.Container = ".MKV"
	cfg.Encoder.AudioAcceptableCodecs = []string{" Opus ", ""}
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if cfg.Encoder.Container != "mkv" {
		t.Fatalf("expected container mkv, got %q", cfg.Encoder.Container)
	}
	if len(cfg.Encoder.AudioAcceptableCodecs) != 1 || cfg.Encoder.AudioAcceptableCodecs[0] != "opus" {
		t.Fatalf("expected normalized codec list, got %v", cfg.Encoder.AudioAcceptableCodecs)
	}
}

func TestSampleConfigParses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.toml")
	if err := os.WriteFile(path, []byte(SampleConfig()), 0o644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	cfg, _, _, err := Load(path)
	if err != nil {
		t.Fatalf("sample config failed to load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sample config failed validation: %v", err)
	}
}
