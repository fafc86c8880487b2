package queue

import (
	"strings"
	"time"

	"telecine/internal/progress"
)

// Status represents the lifecycle of a queue item.
type Status string

const (
	StatusPending     Status = "pending"
	StatusAnalyzing   Status = "analyzing"
	StatusReady       Status = "ready"
	StatusTranscoding Status = "transcoding"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
	StatusCancelled   Status = "cancelled"
	StatusSkipped     Status = "skipped"
)

var allStatuses = []Status{
	StatusPending,
	StatusAnalyzing,
	StatusReady,
	StatusTranscoding,
	StatusPaused,
	StatusCompleted,
	StatusError,
	StatusCancelled,
	StatusSkipped,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// allowedTransitions is the forward edge set of the lifecycle. Cancellation
// from any non-terminal status is handled in CanTransition rather than
// enumerated here.
var allowedTransitions = map[Status][]Status{
	StatusPending:     {StatusAnalyzing, StatusReady, StatusSkipped},
	StatusAnalyzing:   {StatusReady, StatusSkipped, StatusError},
	StatusReady:       {StatusTranscoding, StatusSkipped},
	StatusTranscoding: {StatusPaused, StatusCompleted, StatusError},
	StatusPaused:      {StatusTranscoding},
	// error -> pending exists only through Store.Retry.
	StatusError: {StatusPending},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status ends the item's lifecycle.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCancelled, StatusSkipped:
		return true
	default:
		return false
	}
}

// IsActive reports whether the status holds a live encoder process.
func (s Status) IsActive() bool {
	return s == StatusTranscoding || s == StatusPaused
}

// CanTransition reports whether the lifecycle permits moving from one status
// to another. Any non-terminal status may move to cancelled.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	if to == StatusCancelled {
		return !from.IsTerminal()
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Settings carries the per-item encode parameters. The scheduler treats them
// as opaque and hands them to the encoder unchanged.
type Settings struct {
	VideoEncoder     string `json:"video_encoder,omitempty"`
	Preset           string `json:"preset,omitempty"`
	Quality          int    `json:"quality,omitempty"`
	AudioEncoder     string `json:"audio_encoder,omitempty"`
	AudioBitrateKbps int    `json:"audio_bitrate_kbps,omitempty"`
	Container        string `json:"container,omitempty"`
	// SkipTranscode marks items that only need a recommendation pass; the
	// scheduler moves them straight to skipped.
	SkipTranscode bool `json:"skip_transcode,omitempty"`
}

// Item represents one entry in the in-memory queue.
type Item struct {
	ID         string   `json:"id"`
	InputPath  string   `json:"input_path"`
	OutputPath string   `json:"output_path"`
	Status     Status   `json:"status"`
	Priority   int      `json:"priority"`
	Settings   Settings `json:"settings"`

	// DurationSeconds is learned during the analyzing stage and feeds
	// percent/ETA projection while transcoding.
	DurationSeconds float64 `json:"duration_seconds,omitempty"`

	Progress     *progress.Record `json:"progress,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`

	AddedAt    time.Time `json:"added_at"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// IsTerminal reports whether the item reached a terminal status.
func (i *Item) IsTerminal() bool {
	return i.Status.IsTerminal()
}

// Clone returns a deep copy. Snapshots handed out of the store are clones so
// callers can never mutate scheduler state.
func (i *Item) Clone() *Item {
	cp := *i
	if i.Progress != nil {
		rec := *i.Progress
		cp.Progress = &rec
	}
	return &cp
}
