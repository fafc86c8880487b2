package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeEncoder()
	c.normalizeScheduler()
	c.normalizeQualitySearch()
	c.normalizeLogging()
	return c.normalizeHistory()
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.LockFile, err = expandPath(c.Paths.LockFile); err != nil {
		return fmt.Errorf("paths.lock_file: %w", err)
	}
	return nil
}

func (c *Config) normalizeEncoder() {
	if strings.TrimSpace(c.Encoder.FFmpegBinary) == "" {
		c.Encoder.FFmpegBinary = defaultFFmpegBinary
	}
	if strings.TrimSpace(c.Encoder.FFprobeBinary) == "" {
		c.Encoder.FFprobeBinary = defaultFFprobeBinary
	}
	c.Encoder.TargetVideoFamily = strings.ToLower(strings.TrimSpace(c.Encoder.TargetVideoFamily))
	if c.Encoder.TargetVideoFamily == "" {
		c.Encoder.TargetVideoFamily = defaultTargetVideoFamily
	}
	normalized := make([]string, 0, len(c.Encoder.AudioAcceptableCodecs))
	for _, codec := range c.Encoder.AudioAcceptableCodecs {
		codec = strings.ToLower(strings.TrimSpace(codec))
		if codec != "" {
			normalized = append(normalized, codec)
		}
	}
	c.Encoder.AudioAcceptableCodecs = normalized
	c.Encoder.Container = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(c.Encoder.Container, ".")))
	if c.Encoder.Container == "" {
		c.Encoder.Container = defaultContainer
	}
}

func (c *Config) normalizeScheduler() {
	if c.Scheduler.MaxConcurrent <= 0 {
		c.Scheduler.MaxConcurrent = defaultMaxConcurrent
	}
	if c.Scheduler.VideoMaxConcurrent <= 0 {
		c.Scheduler.VideoMaxConcurrent = defaultVideoMaxConcurrent
	}
	if c.Scheduler.AudioMaxConcurrent <= 0 {
		c.Scheduler.AudioMaxConcurrent = defaultAudioMaxConcurrent
	}
	if c.Scheduler.PollIntervalMS <= 0 {
		c.Scheduler.PollIntervalMS = defaultPollIntervalMS
	}
	if c.Scheduler.ErrorRetryMS <= 0 {
		c.Scheduler.ErrorRetryMS = defaultErrorRetryMS
	}
}

func (c *Config) normalizeQualitySearch() {
	qs := &c.QualitySearch
	if qs.TargetScore <= 0 {
		qs.TargetScore = defaultTargetScore
	}
	if qs.Tolerance <= 0 {
		qs.Tolerance = defaultScoreTolerance
	}
	if qs.SampleCount <= 0 {
		qs.SampleCount = defaultSampleCount
	}
	if qs.SampleDurationSeconds <= 0 {
		qs.SampleDurationSeconds = defaultSampleDuration
	}
	if qs.SkipHeadFraction < 0 || qs.SkipHeadFraction >= 1 {
		qs.SkipHeadFraction = defaultSkipHeadFraction
	}
	if qs.MinQuality <= 0 {
		qs.MinQuality = defaultMinQuality
	}
	if qs.MaxQuality <= 0 {
		qs.MaxQuality = defaultMaxQuality
	}
	if qs.MaxIterations <= 0 {
		qs.MaxIterations = defaultMaxIterations
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeHistory() error {
	if strings.TrimSpace(c.History.Path) == "" {
		c.History.Path = defaultHistoryPath
	}
	var err error
	if c.History.Path, err = expandPath(c.History.Path); err != nil {
		return fmt.Errorf("history.path: %w", err)
	}
	if c.History.RetentionDays <= 0 {
		c.History.RetentionDays = defaultHistoryRetentionDays
	}
	return nil
}
