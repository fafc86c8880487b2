package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateEncoder(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validateQualitySearch(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateEncoder() error {
	if strings.TrimSpace(c.Encoder.VideoEncoder) == "" {
		return errors.New("encoder.video_encoder must be set")
	}
	if strings.TrimSpace(c.Encoder.AudioEncoder) == "" {
		return errors.New("encoder.audio_encoder must be set")
	}
	if c.Encoder.AudioBitrateCeilingKbps <= 0 {
		return errors.New("encoder.audio_bitrate_ceiling_kbps must be positive")
	}
	if c.Encoder.AudioBitrateKbps <= 0 {
		return errors.New("encoder.audio_bitrate_kbps must be positive")
	}
	return nil
}

func (c *Config) validateScheduler() error {
	s := c.Scheduler
	if s.VideoMaxConcurrent < MinVideoConcurrent || s.VideoMaxConcurrent > MaxVideoConcurrent {
		return fmt.Errorf("scheduler.video_max_concurrent must be between %d and %d", MinVideoConcurrent, MaxVideoConcurrent)
	}
	if s.AudioMaxConcurrent < MinAudioConcurrent || s.AudioMaxConcurrent > MaxAudioConcurrent {
		return fmt.Errorf("scheduler.audio_max_concurrent must be between %d and %d", MinAudioConcurrent, MaxAudioConcurrent)
	}
	if s.MaxConcurrent < 1 || s.MaxConcurrent > MaxAudioConcurrent {
		return fmt.Errorf("scheduler.max_concurrent must be between 1 and %d", MaxAudioConcurrent)
	}
	return nil
}

func (c *Config) validateQualitySearch() error {
	qs := c.QualitySearch
	if qs.TargetScore <= 0 || qs.TargetScore > 100 {
		return errors.New("quality_search.target_score must be in (0, 100]")
	}
	if qs.MinQuality >= qs.MaxQuality {
		return errors.New("quality_search.min_quality must be below max_quality")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}
