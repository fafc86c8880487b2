// Package encoder drives the external ffmpeg-style encoder: it builds
// argument lists for video and audio jobs and runs them through the process
// controller, streaming parsed progress back to the caller. Output is
// written to a partial path and renamed into place only on success.
package encoder

import (
	"fmt"
	"strings"

	"telecine/internal/errkind"
)

// Kind distinguishes the two job shapes the dual pools schedule.
type Kind string

const (
	// KindFull transcodes the whole file: every stream mapped, video and
	// audio re-encoded, subtitles copied.
	KindFull  Kind = "full"
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// Job describes one encode invocation. Audio jobs address a single stream
// of the input; video jobs always take the first video stream.
type Job struct {
	Kind            Kind
	InputPath       string
	OutputPath      string
	DurationSeconds float64

	VideoEncoder string
	Preset       string
	Quality      int

	AudioEncoder     string
	AudioBitrateKbps int
	AudioStream      int // zero-based audio stream index within the input

	// StreamCopy remuxes without re-encoding. Used when the recommendation
	// engine decided the track is fine but must still land in the output
	// container.
	StreamCopy bool

	Container string
}

// muxers maps container names to explicit muxer names. The partial-output
// suffix hides the real extension, so the format is always passed explicitly.
var muxers = map[string]string{
	"mkv":  "matroska",
	"mp4":  "mp4",
	"webm": "webm",
	"opus": "opus",
	"ogg":  "ogg",
	"m4a":  "ipod",
}

// BuildArgs assembles the encoder command line writing to writePath. The
// job's OutputPath is where the file ends up after the final rename;
// writePath is the in-progress partial location.
func BuildArgs(job Job, writePath string) ([]string, error) {
	if strings.TrimSpace(job.InputPath) == "" {
		return nil, errkind.Wrap(errkind.ErrValidation, "encoder", "build args", "input path is required", nil)
	}
	if strings.TrimSpace(writePath) == "" {
		return nil, errkind.Wrap(errkind.ErrValidation, "encoder", "build args", "output path is required", nil)
	}
	muxer, ok := muxers[strings.ToLower(strings.TrimSpace(job.Container))]
	if !ok {
		return nil, errkind.Wrap(errkind.ErrValidation, "encoder", "build args",
			fmt.Sprintf("unsupported container %q", job.Container), nil)
	}

	args := []string{"-y", "-hide_banner", "-nostdin", "-i", job.InputPath}
	switch job.Kind {
	case KindFull:
		if strings.TrimSpace(job.VideoEncoder) == "" {
			return nil, errkind.Wrap(errkind.ErrValidation, "encoder", "build args", "video encoder is required", nil)
		}
		args = append(args, "-map", "0",
			"-c:v", job.VideoEncoder, "-crf", fmt.Sprintf("%d", job.Quality))
		if job.Preset != "" {
			args = append(args, "-preset", job.Preset)
		}
		if strings.TrimSpace(job.AudioEncoder) != "" {
			args = append(args, "-c:a", job.AudioEncoder)
			if job.AudioBitrateKbps > 0 {
				args = append(args, "-b:a", fmt.Sprintf("%dk", job.AudioBitrateKbps))
			}
		} else {
			args = append(args, "-c:a", "copy")
		}
		args = append(args, "-c:s", "copy")
	case KindVideo:
		args = append(args, "-map", "0:v:0", "-an", "-sn")
		if job.StreamCopy {
			args = append(args, "-c:v", "copy")
		} else {
			if strings.TrimSpace(job.VideoEncoder) == "" {
				return nil, errkind.Wrap(errkind.ErrValidation, "encoder", "build args", "video encoder is required", nil)
			}
			args = append(args, "-c:v", job.VideoEncoder, "-crf", fmt.Sprintf("%d", job.Quality))
			if job.Preset != "" {
				args = append(args, "-preset", job.Preset)
			}
		}
	case KindAudio:
		args = append(args, "-map", fmt.Sprintf("0:a:%d", job.AudioStream), "-vn", "-sn")
		if job.StreamCopy {
			args = append(args, "-c:a", "copy")
		} else {
			if strings.TrimSpace(job.AudioEncoder) == "" {
				return nil, errkind.Wrap(errkind.ErrValidation, "encoder", "build args", "audio encoder is required", nil)
			}
			args = append(args, "-c:a", job.AudioEncoder)
			if job.AudioBitrateKbps > 0 {
				args = append(args, "-b:a", fmt.Sprintf("%dk", job.AudioBitrateKbps))
			}
		}
	default:
		return nil, errkind.Wrap(errkind.ErrValidation, "encoder", "build args",
			fmt.Sprintf("unknown job kind %q", job.Kind), nil)
	}

	args = append(args, "-f", muxer, writePath)
	return args, nil
}
