// Package media probes source files with ffprobe and exposes the track
// metadata the recommendation engine and schedulers operate on.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"telecine/internal/errkind"
)

var commandContext = exec.CommandContext

// TrackType distinguishes probed stream kinds.
type TrackType string

const (
	TrackVideo    TrackType = "video"
	TrackAudio    TrackType = "audio"
	TrackSubtitle TrackType = "subtitle"
	TrackOther    TrackType = "other"
)

// Track describes one stream of the source container.
type Track struct {
	Index         int       `json:"index"`
	Type          TrackType `json:"type"`
	Codec         string    `json:"codec"`
	BitrateKbps   int       `json:"bitrate_kbps,omitempty"`
	Channels      int       `json:"channels,omitempty"`
	ChannelLayout string    `json:"channel_layout,omitempty"`
	Language      string    `json:"language,omitempty"`
	Width         int       `json:"width,omitempty"`
	Height        int       `json:"height,omitempty"`
}

// Result holds the probed metadata for one source file.
type Result struct {
	Path            string  `json:"path"`
	Container       string  `json:"container"`
	DurationSeconds float64 `json:"duration_seconds"`
	Tracks          []Track `json:"tracks"`
}

// VideoTrack returns the first video track, if any.
func (r *Result) VideoTrack() (Track, bool) {
	for _, track := range r.Tracks {
		if track.Type == TrackVideo {
			return track, true
		}
	}
	return Track{}, false
}

// AudioTracks returns all audio tracks in stream order.
func (r *Result) AudioTracks() []Track {
	var out []Track
	for _, track := range r.Tracks {
		if track.Type == TrackAudio {
			out = append(out, track)
		}
	}
	return out
}

type ffprobeStream struct {
	Index         int               `json:"index"`
	CodecName     string            `json:"codec_name"`
	CodecType     string            `json:"codec_type"`
	BitRate       string            `json:"bit_rate"`
	Channels      int               `json:"channels"`
	ChannelLayout string            `json:"channel_layout"`
	Width         int               `json:"width"`
	Height        int               `json:"height"`
	Tags          map[string]string `json:"tags"`
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

// Probe analyzes a media file with ffprobe.
func Probe(ctx context.Context, binary, sourcePath string) (*Result, error) {
	if strings.TrimSpace(sourcePath) == "" {
		return nil, errkind.Wrap(errkind.ErrValidation, "media", "probe", "source path required", nil)
	}
	if strings.TrimSpace(binary) == "" {
		binary = "ffprobe"
	}

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		sourcePath,
	}
	cmd := commandContext(ctx, binary, args...)
	output, err := cmd.Output()
	if err != nil {
		return nil, errkind.Wrap(errkind.ErrExternalTool, "media", "probe", fmt.Sprintf("ffprobe failed for %s", sourcePath), err)
	}

	var raw ffprobeOutput
	if err := json.Unmarshal(output, &raw); err != nil {
		return nil, errkind.Wrap(errkind.ErrExternalTool, "media", "probe", "parse ffprobe output", err)
	}
	return convert(sourcePath, raw), nil
}

func convert(sourcePath string, raw ffprobeOutput) *Result {
	result := &Result{
		Path:      sourcePath,
		Container: strings.TrimSpace(raw.Format.FormatName),
	}
	if duration, err := strconv.ParseFloat(strings.TrimSpace(raw.Format.Duration), 64); err == nil && duration > 0 {
		result.DurationSeconds = duration
	}
	for _, stream := range raw.Streams {
		track := Track{
			Index:         stream.Index,
			Codec:         strings.ToLower(strings.TrimSpace(stream.CodecName)),
			Channels:      stream.Channels,
			ChannelLayout: stream.ChannelLayout,
			Width:         stream.Width,
			Height:        stream.Height,
		}
		switch stream.CodecType {
		case "video":
			track.Type = TrackVideo
		case "audio":
			track.Type = TrackAudio
		case "subtitle":
			track.Type = TrackSubtitle
		default:
			track.Type = TrackOther
		}
		if rate, err := strconv.Atoi(strings.TrimSpace(stream.BitRate)); err == nil && rate > 0 {
			track.BitrateKbps = rate / 1000
		}
		if stream.Tags != nil {
			track.Language = strings.ToLower(strings.TrimSpace(stream.Tags["language"]))
		}
		result.Tracks = append(result.Tracks, track)
	}
	return result
}
