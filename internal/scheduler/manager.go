// Package scheduler runs the single-queue transcoding state machine: a poll
// loop that analyzes pending items, starts encodes up to the concurrency
// limit, and applies the pause/resume/cancel operations against the live
// encoder processes.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"telecine/internal/cleanup"
	"telecine/internal/config"
	"telecine/internal/errkind"
	"telecine/internal/events"
	"telecine/internal/logging"
	"telecine/internal/processctl"
	"telecine/internal/queue"
)

// Options wires a Manager's collaborators. Logger, Bus, and Store may be nil
// and default to a nop logger, a fresh bus, and an empty store.
type Options struct {
	Logger     *slog.Logger
	Bus        *events.Bus
	Store      *queue.Store
	Controller ProcessController
	Runner     Runner
	Prober     Prober
	Quality    QualityPlanner
	Encoder    config.Encoder
	Scheduler  config.Scheduler
	QualityCfg config.QualitySearch
}

type runningTask struct {
	enc    Encode
	cancel context.CancelFunc
}

// Manager owns the queue and its poll loop. All mutation of scheduling
// state happens under mu; the store has its own finer lock for snapshots.
type Manager struct {
	logger     *slog.Logger
	bus        *events.Bus
	store      *queue.Store
	ctl        ProcessController
	runner     Runner
	prober     Prober
	quality    QualityPlanner
	encCfg     config.Encoder
	qualityCfg config.QualitySearch

	pollInterval time.Duration
	errorRetry   time.Duration

	mu            sync.Mutex
	maxConcurrent int
	paused        bool
	analyzeBusy   bool
	running       map[string]*runningTask
	loopStop      chan struct{}
	loopDone      chan struct{}
	taskWG        sync.WaitGroup
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
	store := opts.Store
	if store == nil {
		store = queue.NewStore()
	}
	maxConcurrent := opts.Scheduler.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	pollInterval := time.Duration(opts.Scheduler.PollIntervalMS) * time.Millisecond
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	errorRetry := time.Duration(opts.Scheduler.ErrorRetryMS) * time.Millisecond
	if errorRetry <= 0 {
		errorRetry = 2 * time.Second
	}
	return &Manager{
		logger:        logging.WithComponent(logger, "scheduler"),
		bus:           bus,
		store:         store,
		ctl:           opts.Controller,
		runner:        opts.Runner,
		prober:        opts.Prober,
		quality:       opts.Quality,
		encCfg:        opts.Encoder,
		qualityCfg:    opts.QualityCfg,
		pollInterval:  pollInterval,
		errorRetry:    errorRetry,
		maxConcurrent: maxConcurrent,
		running:       make(map[string]*runningTask),
	}
}

// Store exposes the underlying queue store for read-side consumers.
func (m *Manager) Store() *queue.Store {
	return m.store
}

// Bus exposes the event bus the manager publishes on.
func (m *Manager) Bus() *events.Bus {
	return m.bus
}

// Capabilities reports whether pause is available on this platform.
func (m *Manager) Capabilities() processctl.Capabilities {
	if m.ctl == nil {
		return processctl.Capabilities{Available: false, Method: processctl.MethodNone}
	}
	return m.ctl.Capabilities()
}

// Add enqueues a new item at the end of the queue. An empty output path is
// derived from the input and the configured container.
func (m *Manager) Add(inputPath, outputPath string, settings queue.Settings) (*queue.Item, error) {
	if strings.TrimSpace(outputPath) == "" {
		outputPath = deriveOutputPath(inputPath, m.containerFor(settings))
	}
	item, err := m.store.Add(inputPath, outputPath, settings)
	if err != nil {
		return nil, err
	}
	m.logger.Info("item queued",
		logging.ItemID(item.ID),
		logging.String("input", item.InputPath))
	m.publishStatus(item)
	return item, nil
}

// Queue returns a snapshot of all items in priority order.
func (m *Manager) Queue() []*queue.Item {
	return m.store.Items()
}

// Item returns a snapshot of one item.
func (m *Manager) Item(id string) (*queue.Item, bool) {
	return m.store.Get(id)
}

// StartProcessing launches the poll loop. Encoder processes are parented to
// ctx, so cancelling it terminates all running work.
func (m *Manager) StartProcessing(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loopDone != nil {
		select {
		case <-m.loopDone:
		default:
			return errkind.Wrap(errkind.ErrInvalidOperation, "scheduler", "start", "processing already running", nil)
		}
	}
	m.loopStop = make(chan struct{})
	m.loopDone = make(chan struct{})
	go m.run(ctx, m.loopStop, m.loopDone)
	m.bus.Publish(events.Event{Kind: events.KindStateChanged, Message: "processing started"})
	return nil
}

// StopProcessing halts the poll loop. Running encodes continue to
// completion; only new pickups stop.
func (m *Manager) StopProcessing() {
	m.mu.Lock()
	stop, done := m.loopStop, m.loopDone
	m.mu.Unlock()
	if stop == nil {
		return
	}
	select {
	case <-stop:
	default:
		close(stop)
	}
	<-done
	m.bus.Publish(events.Event{Kind: events.KindStateChanged, Message: "processing stopped"})
}

// IsProcessing reports whether the poll loop is alive.
func (m *Manager) IsProcessing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loopDone == nil {
		return false
	}
	select {
	case <-m.loopDone:
		return false
	default:
		return true
	}
}

// Wait blocks until every in-flight task goroutine has finished. Intended
// for shutdown after the parent context is cancelled.
func (m *Manager) Wait() {
	m.taskWG.Wait()
}

// SetMaxConcurrent adjusts the concurrency limit at runtime. Lowering the
// limit never interrupts running items; they finish naturally.
func (m *Manager) SetMaxConcurrent(limit int) int {
	if limit < config.MinVideoConcurrent {
		limit = config.MinVideoConcurrent
	}
	if limit > config.MaxVideoConcurrent {
		limit = config.MaxVideoConcurrent
	}
	m.mu.Lock()
	m.maxConcurrent = limit
	m.mu.Unlock()
	return limit
}

// MaxConcurrent returns the current limit.
func (m *Manager) MaxConcurrent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxConcurrent
}

// PauseAll sets the global pause flag and suspends every running encoder
// process. Items whose process could not be suspended keep their status.
func (m *Manager) PauseAll() {
	m.mu.Lock()
	m.paused = true
	tasks := m.runningSnapshot()
	m.mu.Unlock()

	for id, task := range tasks {
		m.suspendItem(id, task)
	}
	m.bus.Publish(events.Event{Kind: events.KindPaused})
}

// ResumeAll clears the global pause flag and resumes suspended processes.
func (m *Manager) ResumeAll() {
	m.mu.Lock()
	m.paused = false
	tasks := m.runningSnapshot()
	m.mu.Unlock()

	for id, task := range tasks {
		m.resumeItem(id, task)
	}
	m.bus.Publish(events.Event{Kind: events.KindResumed})
}

// IsPaused reports the global pause flag.
func (m *Manager) IsPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// PauseItem suspends one item's encoder process. The status flips to paused
// only when the whole process tree suspended successfully.
func (m *Manager) PauseItem(id string) error {
	m.mu.Lock()
	task, ok := m.running[id]
	m.mu.Unlock()
	if !ok {
		return errkind.Wrap(errkind.ErrInvalidOperation, "scheduler", "pause item", "item is not transcoding", nil)
	}
	if !m.suspendItem(id, task) {
		return errkind.Wrap(errkind.ErrInvalidOperation, "scheduler", "pause item", "process could not be suspended", nil)
	}
	return nil
}

// ResumeItem continues one item's suspended process.
func (m *Manager) ResumeItem(id string) error {
	m.mu.Lock()
	task, ok := m.running[id]
	m.mu.Unlock()
	if !ok {
		return errkind.Wrap(errkind.ErrInvalidOperation, "scheduler", "resume item", "item is not paused", nil)
	}
	if !m.resumeItem(id, task) {
		return errkind.Wrap(errkind.ErrInvalidOperation, "scheduler", "resume item", "process could not be resumed", nil)
	}
	return nil
}

// CancelItem cancels an item from any non-terminal status. A running
// encoder is force-terminated; the status becomes cancelled regardless of
// how the process exits.
func (m *Manager) CancelItem(id string) error {
	item, err := m.store.Cancel(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	task, wasRunning := m.running[id]
	m.mu.Unlock()

	if wasRunning {
		task.cancel()
		if m.ctl != nil {
			m.ctl.Terminate(task.enc.Handle(), true)
		}
		// The waiter goroutine sees the cancelled status after the process
		// exits and removes the partial output there.
	} else {
		report := cleanup.RemovePartials(item.OutputPath)
		if len(report.Deleted) > 0 || len(report.Failed) > 0 {
			m.logger.Info("removed partial output",
				logging.ItemID(id),
				logging.Int("deleted", len(report.Deleted)),
				logging.Int("failed", len(report.Failed)))
		}
	}
	m.logger.Info("item cancelled", logging.ItemID(id))
	m.publishStatus(item)
	return nil
}

// RemoveItem deletes a non-active item from the queue.
func (m *Manager) RemoveItem(id string) error {
	return m.store.Remove(id)
}

// RetryItem moves an errored item back to pending.
func (m *Manager) RetryItem(id string) error {
	item, err := m.store.Retry(id)
	if err != nil {
		return err
	}
	m.publishStatus(item)
	return nil
}

// Reorder rearranges the queue and renumbers priorities.
func (m *Manager) Reorder(ids []string) error {
	return m.store.Reorder(ids)
}

// UpdateSettings replaces an item's encode settings while it is still
// pending or ready.
func (m *Manager) UpdateSettings(id string, settings queue.Settings) error {
	item, err := m.store.UpdateSettings(id, settings)
	if err != nil {
		return err
	}
	m.publishStatus(item)
	return nil
}

// ClearCompleted drops all terminal items.
func (m *Manager) ClearCompleted() []*queue.Item {
	return m.store.ClearCompleted()
}

func (m *Manager) runningSnapshot() map[string]*runningTask {
	tasks := make(map[string]*runningTask, len(m.running))
	for id, task := range m.running {
		tasks[id] = task
	}
	return tasks
}

func (m *Manager) suspendItem(id string, task *runningTask) bool {
	item, ok := m.store.Get(id)
	if !ok || item.Status != queue.StatusTranscoding {
		return false
	}
	if m.ctl == nil || !m.ctl.Suspend(task.enc.Handle()) {
		m.logger.Warn("suspend failed, item keeps running", logging.ItemID(id))
		return false
	}
	updated, err := m.store.SetStatus(id, queue.StatusPaused)
	if err != nil {
		// Terminal race: the process finished while we were suspending.
		if m.ctl != nil {
			m.ctl.Resume(task.enc.Handle())
		}
		return false
	}
	m.publishStatus(updated)
	return true
}

func (m *Manager) resumeItem(id string, task *runningTask) bool {
	item, ok := m.store.Get(id)
	if !ok || item.Status != queue.StatusPaused {
		return false
	}
	if m.ctl == nil || !m.ctl.Resume(task.enc.Handle()) {
		m.logger.Warn("resume failed, item stays paused", logging.ItemID(id))
		return false
	}
	updated, err := m.store.SetStatus(id, queue.StatusTranscoding)
	if err != nil {
		return false
	}
	m.publishStatus(updated)
	return true
}

func (m *Manager) publishStatus(item *queue.Item) {
	m.bus.Publish(events.Event{
		Kind:    events.KindItemStatus,
		ItemID:  item.ID,
		Status:  string(item.Status),
		Message: item.ErrorMessage,
	})
}

func (m *Manager) containerFor(settings queue.Settings) string {
	if settings.Container != "" {
		return settings.Container
	}
	if m.encCfg.Container != "" {
		return m.encCfg.Container
	}
	return "mkv"
}

func deriveOutputPath(inputPath, container string) string {
	dir := filepath.Dir(inputPath)
	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	return filepath.Join(dir, fmt.Sprintf("%s.telecine.%s", base, container))
}
