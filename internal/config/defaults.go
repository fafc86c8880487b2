package config

const (
	defaultStagingDir = "~/.local/share/telecine/staging"
	defaultOutputDir  = "~/videos/encoded"
	defaultLogDir     = "~/.local/share/telecine/logs"
	defaultAPIBind    = "127.0.0.1:7517"
	defaultLockFile   = "~/.local/share/telecine/telecine.lock"

	defaultFFmpegBinary      = "ffmpeg"
	defaultFFprobeBinary     = "ffprobe"
	defaultTargetVideoFamily = "av1"
	defaultVideoEncoder      = "libsvtav1"
	defaultVideoPreset       = "6"
	defaultVideoQuality      = 27
	defaultAudioEncoder      = "libopus"
	defaultAudioCeilingKbps  = 320
	defaultAudioBitrateKbps  = 192
	defaultContainer         = "mkv"

	defaultMaxConcurrent      = 2
	defaultVideoMaxConcurrent = 2
	defaultAudioMaxConcurrent = 6
	defaultPollIntervalMS     = 500
	defaultErrorRetryMS       = 2000

	// Concurrency limit bounds enforced by SetMaxConcurrent.
	MinVideoConcurrent = 1
	MaxVideoConcurrent = 16
	MinAudioConcurrent = 1
	MaxAudioConcurrent = 24

	defaultTargetScore      = 95.0
	defaultScoreTolerance   = 0.5
	defaultSampleCount      = 3
	defaultSampleDuration   = 10.0
	defaultSkipHeadFraction = 0.15
	defaultMinQuality       = 18
	defaultMaxQuality       = 45
	defaultMaxIterations    = 8

	defaultHistoryPath          = "~/.local/share/telecine/history.db"
	defaultHistoryRetentionDays = 90

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			OutputDir:  defaultOutputDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
			LockFile:   defaultLockFile,
		},
		Encoder: Encoder{
			FFmpegBinary:            defaultFFmpegBinary,
			FFprobeBinary:           defaultFFprobeBinary,
			TargetVideoFamily:       defaultTargetVideoFamily,
			VideoEncoder:            defaultVideoEncoder,
			VideoPreset:             defaultVideoPreset,
			DefaultQuality:          defaultVideoQuality,
			AudioEncoder:            defaultAudioEncoder,
			AudioAcceptableCodecs:   []string{"opus", "aac"},
			AudioBitrateCeilingKbps: defaultAudioCeilingKbps,
			AudioBitrateKbps:        defaultAudioBitrateKbps,
			Container:               defaultContainer,
		},
		Scheduler: Scheduler{
			MaxConcurrent:      defaultMaxConcurrent,
			VideoMaxConcurrent: defaultVideoMaxConcurrent,
			AudioMaxConcurrent: defaultAudioMaxConcurrent,
			PollIntervalMS:     defaultPollIntervalMS,
			ErrorRetryMS:       defaultErrorRetryMS,
		},
		QualitySearch: QualitySearch{
			TargetScore:           defaultTargetScore,
			Tolerance:             defaultScoreTolerance,
			SampleCount:           defaultSampleCount,
			SampleDurationSeconds: defaultSampleDuration,
			SkipHeadFraction:      defaultSkipHeadFraction,
			MinQuality:            defaultMinQuality,
			MaxQuality:            defaultMaxQuality,
			MaxIterations:         defaultMaxIterations,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
			Queue:          true,
			Batch:          true,
			Errors:         true,
		},
		History: History{
			Enabled:       true,
			Path:          defaultHistoryPath,
			RetentionDays: defaultHistoryRetentionDays,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
