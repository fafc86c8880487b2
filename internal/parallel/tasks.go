package parallel

import (
	"telecine/internal/encoder"
	"telecine/internal/progress"
	"telecine/internal/queue"
)

// PoolVideo and PoolAudio name the two task pools.
const (
	PoolVideo = "video"
	PoolAudio = "audio"
)

// AudioInput describes one audio track of a batch item.
type AudioInput struct {
	InputPath   string `json:"input_path"`
	OutputPath  string `json:"output_path"`
	Stream      int    `json:"stream"`
	Encoder     string `json:"encoder,omitempty"`
	BitrateKbps int    `json:"bitrate_kbps,omitempty"`
	StreamCopy  bool   `json:"stream_copy,omitempty"`
}

// BatchImportItem is one logical item: a video encode plus its audio track
// encodes, completed together under a single item ID.
type BatchImportItem struct {
	ID              string         `json:"id,omitempty"`
	VideoInput      string         `json:"video_input"`
	VideoOutput     string         `json:"video_output"`
	DurationSeconds float64        `json:"duration_seconds,omitempty"`
	Settings        queue.Settings `json:"settings"`
	Audio           []AudioInput   `json:"audio,omitempty"`
}

// task is one schedulable unit inside a pool.
type task struct {
	id      string
	itemID  string
	batchID string
	pool    string
	job     encoder.Job

	status   queue.Status
	progress *progress.Record
	errMsg   string
}

func (t *task) terminal() bool {
	return t.status.IsTerminal()
}

func (t *task) succeeded() bool {
	return t.status == queue.StatusCompleted
}

// percent reports the task's contribution to aggregated progress. Terminal
// tasks count as fully done regardless of how they ended so the overall
// number keeps moving.
func (t *task) percent() float64 {
	if t.terminal() {
		return 100
	}
	if t.progress != nil {
		return t.progress.Percent
	}
	return 0
}

// itemState groups the tasks decomposed from one BatchImportItem.
type itemState struct {
	id      string
	batchID string
	tasks   []*task
	settled bool
}

func (it *itemState) terminal() bool {
	for _, t := range it.tasks {
		if !t.terminal() {
			return false
		}
	}
	return len(it.tasks) > 0
}

// success is the AND across all task outcomes.
func (it *itemState) success() bool {
	for _, t := range it.tasks {
		if !t.succeeded() {
			return false
		}
	}
	return len(it.tasks) > 0
}

// TaskSnapshot is the read-side view of one task.
type TaskSnapshot struct {
	ID       string           `json:"id"`
	ItemID   string           `json:"item_id"`
	BatchID  string           `json:"batch_id,omitempty"`
	Pool     string           `json:"pool"`
	Status   queue.Status     `json:"status"`
	Progress *progress.Record `json:"progress,omitempty"`
	Error    string           `json:"error,omitempty"`
	Output   string           `json:"output"`
}

// ItemSnapshot is the read-side view of one batch item.
type ItemSnapshot struct {
	ID      string         `json:"id"`
	BatchID string         `json:"batch_id,omitempty"`
	Done    bool           `json:"done"`
	Success bool           `json:"success"`
	Tasks   []TaskSnapshot `json:"tasks"`
}

func (it *itemState) snapshot() ItemSnapshot {
	snap := ItemSnapshot{
		ID:      it.id,
		BatchID: it.batchID,
		Done:    it.terminal(),
		Success: it.terminal() && it.success(),
	}
	for _, t := range it.tasks {
		ts := TaskSnapshot{
			ID:      t.id,
			ItemID:  t.itemID,
			BatchID: t.batchID,
			Pool:    t.pool,
			Status:  t.status,
			Error:   t.errMsg,
			Output:  t.job.OutputPath,
		}
		if t.progress != nil {
			rec := *t.progress
			ts.Progress = &rec
		}
		snap.Tasks = append(snap.Tasks, ts)
	}
	return snap
}
