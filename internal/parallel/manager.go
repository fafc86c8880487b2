// Package parallel schedules decomposed video and audio encode tasks across
// two independently limited pools. Video encodes are CPU-heavy so their pool
// stays small; audio encodes are cheap and run wide. Both pools share one
// event bus and one item completion protocol: an item settles exactly once,
// when its last task reaches a terminal status.
package parallel

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"telecine/internal/config"
	"telecine/internal/encoder"
	"telecine/internal/errkind"
	"telecine/internal/events"
	"telecine/internal/logging"
	"telecine/internal/queue"
	"telecine/internal/scheduler"
)

// Options wires a Manager's collaborators.
type Options struct {
	Logger     *slog.Logger
	Bus        *events.Bus
	Controller scheduler.ProcessController
	Runner     scheduler.Runner
	Encoder    config.Encoder
	Scheduler  config.Scheduler
}

type runningTask struct {
	enc    scheduler.Encode
	cancel context.CancelFunc
}

type pool struct {
	name   string
	limit  int
	active map[string]*runningTask // task ID -> process
}

func (p *pool) snapshot() events.PoolSnapshot {
	snap := events.PoolSnapshot{Name: p.name, Active: len(p.active), MaxConcurrent: p.limit}
	if p.limit > 0 {
		snap.Percent = float64(len(p.active)) / float64(p.limit) * 100
	}
	return snap
}

// Manager owns the dual pools and their poll loop.
type Manager struct {
	logger *slog.Logger
	bus    *events.Bus
	ctl    scheduler.ProcessController
	runner scheduler.Runner
	encCfg config.Encoder

	pollInterval time.Duration

	mu       sync.Mutex
	items    map[string]*itemState
	order    []string
	batches  map[string][]string // batch ID -> item IDs
	settled  map[string]struct{} // batch IDs already announced
	video    pool
	audio    pool
	claimed  map[string]struct{} // single-flight guard: task IDs picked up
	paused   bool
	loopStop chan struct{}
	loopDone chan struct{}
	taskWG   sync.WaitGroup
}

// New constructs a Manager.
func New(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus()
	}
	videoLimit := clamp(opts.Scheduler.VideoMaxConcurrent, config.MinVideoConcurrent, config.MaxVideoConcurrent)
	audioLimit := clamp(opts.Scheduler.AudioMaxConcurrent, config.MinAudioConcurrent, config.MaxAudioConcurrent)
	pollInterval := time.Duration(opts.Scheduler.PollIntervalMS) * time.Millisecond
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Manager{
		logger:       logging.WithComponent(logger, "parallel"),
		bus:          bus,
		ctl:          opts.Controller,
		runner:       opts.Runner,
		encCfg:       opts.Encoder,
		pollInterval: pollInterval,
		items:        make(map[string]*itemState),
		batches:      make(map[string][]string),
		settled:      make(map[string]struct{}),
		video:        pool{name: PoolVideo, limit: videoLimit, active: make(map[string]*runningTask)},
		audio:        pool{name: PoolAudio, limit: audioLimit, active: make(map[string]*runningTask)},
		claimed:      make(map[string]struct{}),
	}
}

// Bus exposes the event bus the manager publishes on.
func (m *Manager) Bus() *events.Bus {
	return m.bus
}

// AddBatch appends items under a fresh batch ID and returns it with the
// item IDs.
func (m *Manager) AddBatch(items []BatchImportItem) (string, []string, error) {
	return m.addBatch(uuid.NewString(), items)
}

// AddBatchWithID appends items under a caller-chosen batch ID. A blank ID
// gets a generated one; the effective ID is returned with the item IDs.
func (m *Manager) AddBatchWithID(batchID string, items []BatchImportItem) (string, []string, error) {
	return m.addBatch(batchID, items)
}

// StartNewBatch hard-resets the manager before accepting the batch: running
// tasks are cancelled and every previous item is dropped.
func (m *Manager) StartNewBatch(batchID string, items []BatchImportItem) (string, []string, error) {
	m.CancelAll()
	m.mu.Lock()
	m.items = make(map[string]*itemState)
	m.order = nil
	m.batches = make(map[string][]string)
	m.settled = make(map[string]struct{})
	m.claimed = make(map[string]struct{})
	m.mu.Unlock()
	return m.addBatch(batchID, items)
}

func (m *Manager) addBatch(batchID string, items []BatchImportItem) (string, []string, error) {
	if strings.TrimSpace(batchID) == "" {
		batchID = uuid.NewString()
	}
	if len(items) == 0 {
		return "", nil, errkind.Wrap(errkind.ErrValidation, "parallel", "add batch", "batch has no items", nil)
	}
	states := make([]*itemState, 0, len(items))
	ids := make([]string, 0, len(items))
	for _, in := range items {
		state, err := m.decompose(batchID, in)
		if err != nil {
			return "", nil, err
		}
		states = append(states, state)
		ids = append(ids, state.id)
	}

	m.mu.Lock()
	for _, state := range states {
		m.items[state.id] = state
		m.order = append(m.order, state.id)
		m.batches[batchID] = append(m.batches[batchID], state.id)
	}
	m.mu.Unlock()

	for _, state := range states {
		m.logger.Info("batch item added",
			logging.ItemID(state.id),
			logging.BatchID(batchID),
			logging.Int("tasks", len(state.tasks)))
	}
	return batchID, ids, nil
}

// decompose splits one import item into a video task plus one task per
// audio track.
func (m *Manager) decompose(batchID string, in BatchImportItem) (*itemState, error) {
	if strings.TrimSpace(in.VideoInput) == "" {
		return nil, errkind.Wrap(errkind.ErrValidation, "parallel", "add batch", "item has no video input", nil)
	}
	itemID := in.ID
	if strings.TrimSpace(itemID) == "" {
		itemID = uuid.NewString()
	}
	state := &itemState{id: itemID, batchID: batchID}

	s := in.Settings
	container := firstNonEmpty(s.Container, m.encCfg.Container, "mkv")
	videoJob := encoder.Job{
		Kind:            encoder.KindVideo,
		InputPath:       in.VideoInput,
		OutputPath:      in.VideoOutput,
		DurationSeconds: in.DurationSeconds,
		VideoEncoder:    firstNonEmpty(s.VideoEncoder, m.encCfg.VideoEncoder),
		Preset:          firstNonEmpty(s.Preset, m.encCfg.VideoPreset),
		Quality:         s.Quality,
		Container:       container,
	}
	if videoJob.Quality <= 0 {
		videoJob.Quality = m.encCfg.DefaultQuality
	}
	state.tasks = append(state.tasks, &task{
		id:      uuid.NewString(),
		itemID:  itemID,
		batchID: batchID,
		pool:    PoolVideo,
		job:     videoJob,
		status:  queue.StatusPending,
	})

	for _, audio := range in.Audio {
		job := encoder.Job{
			Kind:             encoder.KindAudio,
			InputPath:        firstNonEmpty(audio.InputPath, in.VideoInput),
			OutputPath:       audio.OutputPath,
			DurationSeconds:  in.DurationSeconds,
			AudioEncoder:     firstNonEmpty(audio.Encoder, m.encCfg.AudioEncoder),
			AudioBitrateKbps: audio.BitrateKbps,
			AudioStream:      audio.Stream,
			StreamCopy:       audio.StreamCopy,
			Container:        container,
		}
		if job.AudioBitrateKbps <= 0 {
			job.AudioBitrateKbps = m.encCfg.AudioBitrateKbps
		}
		state.tasks = append(state.tasks, &task{
			id:      uuid.NewString(),
			itemID:  itemID,
			batchID: batchID,
			pool:    PoolAudio,
			job:     job,
			status:  queue.StatusPending,
		})
	}
	return state, nil
}

// Items returns snapshots in insertion order.
func (m *Manager) Items() []ItemSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ItemSnapshot, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.items[id].snapshot())
	}
	return out
}

// Item returns one item snapshot.
func (m *Manager) Item(id string) (ItemSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.items[id]
	if !ok {
		return ItemSnapshot{}, false
	}
	return state.snapshot(), true
}

// SetVideoLimit adjusts the video pool limit at runtime. Running tasks are
// never interrupted when the limit drops.
func (m *Manager) SetVideoLimit(limit int) int {
	limit = clamp(limit, config.MinVideoConcurrent, config.MaxVideoConcurrent)
	m.mu.Lock()
	m.video.limit = limit
	m.mu.Unlock()
	return limit
}

// SetAudioLimit adjusts the audio pool limit at runtime.
func (m *Manager) SetAudioLimit(limit int) int {
	limit = clamp(limit, config.MinAudioConcurrent, config.MaxAudioConcurrent)
	m.mu.Lock()
	m.audio.limit = limit
	m.mu.Unlock()
	return limit
}

// Limits returns the current pool limits.
func (m *Manager) Limits() (video, audio int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.video.limit, m.audio.limit
}

// PauseAll suspends every running task in both pools and sets the global
// pause flag. Task statuses flip only where the suspend succeeded.
func (m *Manager) PauseAll() {
	m.mu.Lock()
	m.paused = true
	running := m.runningTasks()
	m.mu.Unlock()

	for taskID, rt := range running {
		m.suspendTask(taskID, rt)
	}
	m.bus.Publish(events.Event{Kind: events.KindPaused})
}

// ResumeAll resumes suspended tasks and clears the pause flag.
func (m *Manager) ResumeAll() {
	m.mu.Lock()
	m.paused = false
	running := m.runningTasks()
	m.mu.Unlock()

	for taskID, rt := range running {
		m.resumeTask(taskID, rt)
	}
	m.bus.Publish(events.Event{Kind: events.KindResumed})
}

// CancelItem cancels every task of one item. Running processes are
// force-terminated; pending tasks move straight to cancelled.
func (m *Manager) CancelItem(itemID string) error {
	m.mu.Lock()
	state, ok := m.items[itemID]
	if !ok {
		m.mu.Unlock()
		return errkind.Wrap(errkind.ErrNotFound, "parallel", "cancel item", "no such item", nil)
	}
	var kill []*runningTask
	for _, t := range state.tasks {
		if t.terminal() {
			continue
		}
		if rt := m.activeTask(t.id); rt != nil {
			t.status = queue.StatusCancelled
			kill = append(kill, rt)
			continue
		}
		t.status = queue.StatusCancelled
	}
	m.mu.Unlock()

	for _, rt := range kill {
		rt.cancel()
		if m.ctl != nil {
			m.ctl.Terminate(rt.enc.Handle(), true)
		}
	}
	m.logger.Info("item cancelled", logging.ItemID(itemID))
	// Items with no running tasks settle immediately; otherwise the task
	// waiters settle the item once the processes exit.
	if len(kill) == 0 {
		m.settleItem(itemID)
	}
	return nil
}

// CancelAll cancels every item.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	ids := make([]string, len(m.order))
	copy(ids, m.order)
	m.mu.Unlock()
	for _, id := range ids {
		_ = m.CancelItem(id)
	}
}

func (m *Manager) runningTasks() map[string]*runningTask {
	out := make(map[string]*runningTask, len(m.video.active)+len(m.audio.active))
	for id, rt := range m.video.active {
		out[id] = rt
	}
	for id, rt := range m.audio.active {
		out[id] = rt
	}
	return out
}

func (m *Manager) activeTask(taskID string) *runningTask {
	if rt, ok := m.video.active[taskID]; ok {
		return rt
	}
	if rt, ok := m.audio.active[taskID]; ok {
		return rt
	}
	return nil
}

func (m *Manager) suspendTask(taskID string, rt *runningTask) bool {
	if m.ctl == nil || !m.ctl.Suspend(rt.enc.Handle()) {
		m.logger.Warn("suspend failed, task keeps running", logging.TaskID(taskID))
		return false
	}
	m.mu.Lock()
	t := m.findTask(taskID)
	if t != nil && t.status == queue.StatusTranscoding {
		t.status = queue.StatusPaused
	}
	m.mu.Unlock()
	return true
}

func (m *Manager) resumeTask(taskID string, rt *runningTask) bool {
	m.mu.Lock()
	t := m.findTask(taskID)
	isPaused := t != nil && t.status == queue.StatusPaused
	m.mu.Unlock()
	if !isPaused {
		return false
	}
	if m.ctl == nil || !m.ctl.Resume(rt.enc.Handle()) {
		m.logger.Warn("resume failed, task stays paused", logging.TaskID(taskID))
		return false
	}
	m.mu.Lock()
	if t.status == queue.StatusPaused {
		t.status = queue.StatusTranscoding
	}
	m.mu.Unlock()
	return true
}

func (m *Manager) findTask(taskID string) *task {
	for _, id := range m.order {
		for _, t := range m.items[id].tasks {
			if t.id == taskID {
				return t
			}
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
