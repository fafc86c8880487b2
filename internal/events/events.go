// Package events provides the typed publish/subscribe surface between the
// schedulers and their consumers. The bus is constructed once at process
// start and passed by reference; there is no global instance.
package events

import (
	"time"

	"telecine/internal/progress"
)

// Kind identifies the event category.
type Kind string

const (
	KindStateChanged          Kind = "state_changed"
	KindItemStatus            Kind = "item_status"
	KindItemProgress          Kind = "item_progress"
	KindAggregatedProgress    Kind = "aggregated_progress"
	KindVideoCompleted        Kind = "video_completed"
	KindAudioTrackCompleted   Kind = "audio_track_completed"
	KindItemCompleted         Kind = "item_completed"
	KindItemError             Kind = "item_error"
	KindTaskError             Kind = "task_error"
	KindPaused                Kind = "paused"
	KindResumed               Kind = "resumed"
	KindBatchCompleted        Kind = "batch_completed"
	KindProcessingCompleted   Kind = "processing_completed"
	KindQualitySearchProgress Kind = "quality_search_progress"
)

// PoolSnapshot reports one pool's occupancy for aggregated views.
type PoolSnapshot struct {
	Name          string  `json:"name"`
	Active        int     `json:"active"`
	MaxConcurrent int     `json:"max_concurrent"`
	Percent       float64 `json:"percent"`
}

// Aggregated is the read-only combined projection across pools.
type Aggregated struct {
	CountsByStatus map[string]int `json:"counts_by_status"`
	OverallPercent float64        `json:"overall_percent"`
	Video          PoolSnapshot   `json:"video"`
	Audio          PoolSnapshot   `json:"audio"`
}

// QualitySearchStep reports incremental adaptive-search progress.
type QualitySearchStep struct {
	Sample       int     `json:"sample"`
	TotalSamples int     `json:"total_samples"`
	Iteration    int     `json:"iteration"`
	Quality      int     `json:"quality"`
	Score        float64 `json:"score,omitempty"`
}

// Event is a single scheduler notification. Only the fields relevant to the
// Kind are populated.
type Event struct {
	Kind      Kind      `json:"kind"`
	Sequence  uint64    `json:"seq"`
	Timestamp time.Time `json:"ts"`

	ItemID  string `json:"item_id,omitempty"`
	TaskID  string `json:"task_id,omitempty"`
	BatchID string `json:"batch_id,omitempty"`
	Pool    string `json:"pool,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
	Success bool   `json:"success,omitempty"`
	Count   int    `json:"count,omitempty"`

	Progress   *progress.Record   `json:"progress,omitempty"`
	Aggregated *Aggregated        `json:"aggregated,omitempty"`
	Search     *QualitySearchStep `json:"search,omitempty"`
}
