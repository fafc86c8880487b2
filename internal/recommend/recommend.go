// Package recommend decides per source track whether it needs re-encoding,
// a plain stream copy, or nothing at all. The rule set is deterministic and
// ordered; the first matching rule wins. Reason strings are presentation
// metadata only and never drive control flow.
package recommend

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"telecine/internal/media"
)

// Action is the decision for one track.
type Action string

const (
	ActionSkip      Action = "skip"
	ActionCopy      Action = "copy"
	ActionTranscode Action = "transcode"
)

// Recommendation pairs the decision with a human-readable reason.
type Recommendation struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`
}

// Result holds the per-track recommendations for one probed source.
type Result struct {
	HasVideo bool                   `json:"has_video"`
	Video    Recommendation         `json:"video"`
	Audio    map[int]Recommendation `json:"audio"`
}

// Options carries the codec policy the rules evaluate against.
type Options struct {
	TargetVideoFamily       string
	AudioAcceptableCodecs   []string
	AudioBitrateCeilingKbps int
}

// codec family aliases: probed codec names that belong to the same family.
var codecFamilies = map[string]string{
	"av1":        "av1",
	"hevc":       "hevc",
	"h265":       "hevc",
	"h264":       "h264",
	"avc":        "h264",
	"vp9":        "vp9",
	"mpeg2video": "mpeg2",
}

// Recommend applies the rule set to a probed source.
func Recommend(probe *media.Result, opts Options) Result {
	result := Result{Audio: make(map[int]Recommendation)}
	if probe == nil {
		return result
	}

	if video, ok := probe.VideoTrack(); ok {
		result.HasVideo = true
		result.Video = recommendVideo(video, opts)
	}
	for _, track := range probe.AudioTracks() {
		result.Audio[track.Index] = recommendAudio(track, opts)
	}
	return result
}

func recommendVideo(track media.Track, opts Options) Recommendation {
	target := strings.ToLower(strings.TrimSpace(opts.TargetVideoFamily))
	if target != "" && familyOf(track.Codec) == target {
		return Recommendation{
			Action: ActionSkip,
			Reason: fmt.Sprintf("video already %s (%s), no re-encode needed", target, track.Codec),
		}
	}
	return Recommendation{
		Action: ActionTranscode,
		Reason: fmt.Sprintf("video is %s, target family is %s", orUnknown(track.Codec), orUnknown(target)),
	}
}

func recommendAudio(track media.Track, opts Options) Recommendation {
	label := trackLabel(track)
	acceptable := false
	for _, codec := range opts.AudioAcceptableCodecs {
		if track.Codec == strings.ToLower(strings.TrimSpace(codec)) {
			acceptable = true
			break
		}
	}

	switch {
	case acceptable && track.BitrateKbps > 0 && track.BitrateKbps <= opts.AudioBitrateCeilingKbps:
		return Recommendation{
			Action: ActionSkip,
			Reason: fmt.Sprintf("%s: %s %d kb/s within %d kb/s ceiling", label, track.Codec, track.BitrateKbps, opts.AudioBitrateCeilingKbps),
		}
	case acceptable && track.BitrateKbps == 0:
		// Acceptable codec but the container does not report a bitrate;
		// remux the track untouched rather than re-encode blind.
		return Recommendation{
			Action: ActionCopy,
			Reason: fmt.Sprintf("%s: %s bitrate unknown, stream-copying", label, track.Codec),
		}
	case acceptable:
		return Recommendation{
			Action: ActionTranscode,
			Reason: fmt.Sprintf("%s: %s %d kb/s exceeds %d kb/s ceiling", label, track.Codec, track.BitrateKbps, opts.AudioBitrateCeilingKbps),
		}
	default:
		return Recommendation{
			Action: ActionTranscode,
			Reason: fmt.Sprintf("%s: codec %s not in accepted set", label, orUnknown(track.Codec)),
		}
	}
}

func familyOf(codec string) string {
	codec = strings.ToLower(strings.TrimSpace(codec))
	if family, ok := codecFamilies[codec]; ok {
		return family
	}
	return codec
}

// trackLabel renders "Japanese (jpn) track 2" style labels using canonical
// language display names where the tag parses.
func trackLabel(track media.Track) string {
	lang := strings.TrimSpace(track.Language)
	if lang == "" || lang == "und" {
		return fmt.Sprintf("track %d", track.Index)
	}
	if tag, err := language.Parse(lang); err == nil {
		if name := display.English.Languages().Name(tag); name != "" {
			return fmt.Sprintf("%s (%s) track %d", name, lang, track.Index)
		}
	}
	return fmt.Sprintf("%s track %d", lang, track.Index)
}

func orUnknown(value string) string {
	if strings.TrimSpace(value) == "" {
		return "unknown"
	}
	return value
}
