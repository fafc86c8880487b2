// Package progress parses the streaming diagnostic output of the external
// encoder into structured records and derives percent/ETA projections.
package progress

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Partial holds the fields recovered from a single encoder output line.
// Zero values mean "not present on this line".
type Partial struct {
	CurrentTime     float64 // seconds into the output
	CurrentFrame    int64
	FPS             float64
	Speed           float64 // realtime multiplier, e.g. 2.5 for "2.5x"
	Bitrate         string  // raw encoder text, e.g. "512kbit/s"
	OutputSizeBytes int64
}

// Record is the derived progress projection attached to a queue item.
// It is recomputed on every parsed line, never accumulated.
type Record struct {
	Percent         float64   `json:"percent"`
	CurrentTime     float64   `json:"current_time"`
	TotalDuration   float64   `json:"total_duration"`
	ETASeconds      float64   `json:"eta_seconds,omitempty"`
	HasETA          bool      `json:"has_eta"`
	FPS             float64   `json:"fps,omitempty"`
	Speed           float64   `json:"speed,omitempty"`
	Bitrate         string    `json:"bitrate,omitempty"`
	OutputSizeBytes int64     `json:"output_size_bytes,omitempty"`
	CurrentFrame    int64     `json:"current_frame,omitempty"`
	TotalFrames     int64     `json:"total_frames,omitempty"`
	ElapsedMS       int64     `json:"elapsed_ms"`
	StartedAt       time.Time `json:"started_at"`
}

var (
	frameRe   = regexp.MustCompile(`(?:^|\s)frame=\s*(\d+)`)
	fpsRe     = regexp.MustCompile(`(?:^|\s)fps=\s*([0-9.]+)`)
	timeRe    = regexp.MustCompile(`(?:^|\s)time=\s*(\d+:\d{2}:\d{2}(?:\.\d+)?)`)
	bitrateRe = regexp.MustCompile(`(?:^|\s)bitrate=\s*([0-9.]+\s*k?bits?/s)`)
	sizeRe    = regexp.MustCompile(`(?:^|\s)(?:L?size|total_size)=\s*([0-9]+)\s*((?i:[kmg]i?B)?)`)
	speedRe   = regexp.MustCompile(`(?:^|\s)speed=\s*([0-9.]+)x?`)
)

// IsProgressLine is a cheap syntactic pre-filter applied before Parse.
// Encoder diagnostic noise (headers, stream maps, warnings) fails it.
func IsProgressLine(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	return strings.Contains(line, "time=") && (strings.Contains(line, "frame=") || strings.Contains(line, "size=") || strings.Contains(line, "bitrate="))
}

// Parse extracts the progress fields present on one output line. It is pure
// and never fails: fields that cannot be parsed are left at their zero value.
func Parse(line string) Partial {
	var p Partial
	if m := frameRe.FindStringSubmatch(line); len(m) > 1 {
		if frame, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			p.CurrentFrame = frame
		}
	}
	if m := fpsRe.FindStringSubmatch(line); len(m) > 1 {
		if fps, err := strconv.ParseFloat(m[1], 64); err == nil {
			p.FPS = fps
		}
	}
	if m := timeRe.FindStringSubmatch(line); len(m) > 1 {
		p.CurrentTime = timestampSeconds(m[1])
	}
	if m := bitrateRe.FindStringSubmatch(line); len(m) > 1 {
		p.Bitrate = strings.ReplaceAll(m[1], " ", "")
	}
	if m := sizeRe.FindStringSubmatch(line); len(m) > 2 {
		if value, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			p.OutputSizeBytes = value * unitMultiplier(m[2])
		}
	}
	if m := speedRe.FindStringSubmatch(line); len(m) > 1 {
		if speed, err := strconv.ParseFloat(m[1], 64); err == nil {
			p.Speed = speed
		}
	}
	return p
}

// CalculateETA derives the remaining wall-clock time. It returns (0, false)
// whenever speed is absent or non-positive, and is never negative.
func CalculateETA(p Partial, totalDuration float64) (time.Duration, bool) {
	if p.Speed <= 0 || totalDuration <= 0 {
		return 0, false
	}
	remaining := totalDuration - p.CurrentTime
	if remaining < 0 {
		remaining = 0
	}
	return time.Duration(remaining / p.Speed * float64(time.Second)), true
}

// BuildRecord combines a parsed line with the known total duration into the
// projection stored on the queue item.
func BuildRecord(p Partial, totalDuration float64, startedAt time.Time, now time.Time) Record {
	rec := Record{
		CurrentTime:     p.CurrentTime,
		TotalDuration:   totalDuration,
		FPS:             p.FPS,
		Speed:           p.Speed,
		Bitrate:         p.Bitrate,
		OutputSizeBytes: p.OutputSizeBytes,
		CurrentFrame:    p.CurrentFrame,
		StartedAt:       startedAt,
	}
	if !startedAt.IsZero() && now.After(startedAt) {
		rec.ElapsedMS = now.Sub(startedAt).Milliseconds()
	}
	if totalDuration > 0 {
		rec.Percent = clampPercent(p.CurrentTime / totalDuration * 100)
	}
	if eta, ok := CalculateETA(p, totalDuration); ok {
		rec.ETASeconds = eta.Seconds()
		rec.HasETA = true
	}
	return rec
}

func clampPercent(pct float64) float64 {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

func timestampSeconds(value string) float64 {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0
	}
	hours, err1 := strconv.ParseFloat(parts[0], 64)
	minutes, err2 := strconv.ParseFloat(parts[1], 64)
	seconds, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0
	}
	return hours*3600 + minutes*60 + seconds
}

func unitMultiplier(unit string) int64 {
	switch strings.ReplaceAll(strings.ToLower(unit), "i", "") {
	case "kb":
		return 1024
	case "mb":
		return 1024 * 1024
	case "gb":
		return 1024 * 1024 * 1024
	default:
		return 1
	}
}
