package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	OutputDir  string `toml:"output_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
	LockFile   string `toml:"lock_file"`
}

// Encoder contains the external encoder invocation settings.
type Encoder struct {
	FFmpegBinary  string `toml:"ffmpeg_binary"`
	FFprobeBinary string `toml:"ffprobe_binary"`

	// TargetVideoFamily is the codec family sources are normalized to.
	// Video tracks already in this family are skipped.
	TargetVideoFamily string `toml:"target_video_family"`
	VideoEncoder      string `toml:"video_encoder"`
	VideoPreset       string `toml:"video_preset"`
	DefaultQuality    int    `toml:"default_quality"`

	AudioEncoder string `toml:"audio_encoder"`
	// AudioAcceptableCodecs lists codecs that do not need re-encoding when the
	// track bitrate is at or below AudioBitrateCeilingKbps.
	AudioAcceptableCodecs   []string `toml:"audio_acceptable_codecs"`
	AudioBitrateCeilingKbps int      `toml:"audio_bitrate_ceiling_kbps"`
	AudioBitrateKbps        int      `toml:"audio_bitrate_kbps"`

	Container string `toml:"container"`
}

// Scheduler contains queue processing limits and intervals.
type Scheduler struct {
	MaxConcurrent      int `toml:"max_concurrent"`
	VideoMaxConcurrent int `toml:"video_max_concurrent"`
	AudioMaxConcurrent int `toml:"audio_max_concurrent"`
	PollIntervalMS     int `toml:"poll_interval_ms"`
	ErrorRetryMS       int `toml:"error_retry_ms"`
}

// QualitySearch contains the adaptive quality pre-pass settings.
type QualitySearch struct {
	Enabled               bool    `toml:"enabled"`
	TargetScore           float64 `toml:"target_score"`
	Tolerance             float64 `toml:"tolerance"`
	SampleCount           int     `toml:"sample_count"`
	SampleDurationSeconds float64 `toml:"sample_duration_seconds"`
	// SkipHeadFraction excludes the leading part of the source from sampling
	// so openings and studio cards do not skew the metric.
	SkipHeadFraction float64 `toml:"skip_head_fraction"`
	MinQuality       int     `toml:"min_quality"`
	MaxQuality       int     `toml:"max_quality"`
	MaxIterations    int     `toml:"max_iterations"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Queue          bool   `toml:"queue"`
	Batch          bool   `toml:"batch"`
	Errors         bool   `toml:"errors"`
}

// History contains configuration for the terminal-item journal.
type History struct {
	Enabled       bool   `toml:"enabled"`
	Path          string `toml:"path"`
	RetentionDays int    `toml:"retention_days"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for telecine.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Encoder       Encoder       `toml:"encoder"`
	Scheduler     Scheduler     `toml:"scheduler"`
	QualitySearch QualitySearch `toml:"quality_search"`
	Notifications Notifications `toml:"notifications"`
	History       History       `toml:"history"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/telecine/config.toml")
}

// SampleConfig returns the embedded sample configuration document.
func SampleConfig() string {
	return sampleConfig
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("telecine.toml")
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.OutputDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.History.Enabled && strings.TrimSpace(c.History.Path) != "" {
		if err := os.MkdirAll(filepath.Dir(c.History.Path), 0o755); err != nil {
			return fmt.Errorf("create history directory: %w", err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}
