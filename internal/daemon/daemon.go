// Package daemon assembles the long-running telecine process: config,
// logging, the event bus, the queue scheduler, the history journal,
// notifications, the single-instance lock, and the JSON API.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"telecine/internal/config"
	"telecine/internal/encoder"
	"telecine/internal/errkind"
	"telecine/internal/events"
	"telecine/internal/history"
	"telecine/internal/logging"
	"telecine/internal/notifications"
	"telecine/internal/parallel"
	"telecine/internal/processctl"
	"telecine/internal/qualitysearch"
	"telecine/internal/queue"
	"telecine/internal/scheduler"
)

// manualFileExtensions lists the container formats accepted for enqueueing.
var manualFileExtensions = map[string]struct{}{
	".mkv":  {},
	".mp4":  {},
	".avi":  {},
	".mov":  {},
	".webm": {},
	".ts":   {},
}

// Daemon coordinates background processing and enforces single-instance
// execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	bus      *events.Bus
	manager  *scheduler.Manager
	batch    *parallel.Manager
	journal  *history.Journal
	notifier notifications.Service

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	listenerDone chan struct{}
	startedAt    time.Time
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool                     `json:"running"`
	PID           int                      `json:"pid"`
	Paused        bool                     `json:"paused"`
	Processing    bool                     `json:"processing"`
	MaxConcurrent int                      `json:"max_concurrent"`
	Capabilities  processctl.Capabilities  `json:"pause_capabilities"`
	Counts        map[queue.Status]int     `json:"counts"`
	LockFilePath  string                   `json:"lock_file_path"`
	UptimeSeconds float64                  `json:"uptime_seconds"`
}

// New assembles a daemon from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires configuration")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	bus := events.NewBus()
	ctl := processctl.New(logger)
	runner := encoder.NewRunner(logger, ctl, cfg.Encoder.FFmpegBinary)

	var planner scheduler.QualityPlanner
	if cfg.QualitySearch.Enabled {
		tooling := qualitysearch.NewFFmpegTooling(
			cfg.Encoder.FFmpegBinary,
			cfg.Encoder.VideoEncoder,
			cfg.Encoder.VideoPreset,
			cfg.Paths.StagingDir,
		)
		planner = qualitysearch.New(logger, bus, tooling, tooling)
	}

	manager := scheduler.New(scheduler.Options{
		Logger:     logger,
		Bus:        bus,
		Controller: ctl,
		Runner:     scheduler.NewEncoderRunner(runner),
		Prober:     scheduler.NewFFprobeProber(cfg.Encoder.FFprobeBinary),
		Quality:    planner,
		Encoder:    cfg.Encoder,
		Scheduler:  cfg.Scheduler,
		QualityCfg: cfg.QualitySearch,
	})
	batch := parallel.New(parallel.Options{
		Logger:     logger,
		Bus:        bus,
		Controller: ctl,
		Runner:     scheduler.NewEncoderRunner(runner),
		Encoder:    cfg.Encoder,
		Scheduler:  cfg.Scheduler,
	})

	var journal *history.Journal
	if cfg.History.Enabled && strings.TrimSpace(cfg.History.Path) != "" {
		var err error
		journal, err = history.Open(cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("open history journal: %w", err)
		}
	}

	lockPath := strings.TrimSpace(cfg.Paths.LockFile)
	if lockPath == "" {
		lockPath = filepath.Join(cfg.Paths.LogDir, "telecined.lock")
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.WithComponent(logger, "daemon"),
		bus:      bus,
		manager:  manager,
		batch:    batch,
		journal:  journal,
		notifier: notifications.NewService(cfg.Notifications),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, starts the event listener and API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another telecine daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.listenerDone = make(chan struct{})
	// Subscribe before the goroutine starts so events published right after
	// Start returns are never missed.
	sub := d.bus.Subscribe(256)
	go d.consumeEvents(d.ctx, sub, d.listenerDone)

	if d.api != nil {
		if err := d.api.start(d.ctx); err != nil {
			_ = d.lock.Unlock()
			d.cancel()
			return err
		}
	}

	d.startedAt = time.Now()
	d.running.Store(true)
	d.logger.Info("telecine daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.manager.StopProcessing()
	d.batch.StopProcessing()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.manager.Wait()
	d.batch.Wait()
	if d.api != nil {
		d.api.stop()
	}
	if d.listenerDone != nil {
		<-d.listenerDone
		d.listenerDone = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("telecine daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	d.bus.Close()
	if d.journal != nil {
		return d.journal.Close()
	}
	return nil
}

// Manager exposes the queue scheduler.
func (d *Daemon) Manager() *scheduler.Manager {
	return d.manager
}

// Batch exposes the dual-pool batch scheduler.
func (d *Daemon) Batch() *parallel.Manager {
	return d.batch
}

// PauseAll pauses both schedulers and suspends their running processes.
func (d *Daemon) PauseAll() {
	d.manager.PauseAll()
	d.batch.PauseAll()
}

// ResumeAll resumes both schedulers.
func (d *Daemon) ResumeAll() {
	d.manager.ResumeAll()
	d.batch.ResumeAll()
}

// APIAddr returns the address the API server is bound to, empty when the
// API is disabled or not started.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// Journal exposes the history journal; nil when disabled.
func (d *Daemon) Journal() *history.Journal {
	return d.journal
}

// AddFile enqueues a file for transcoding and makes sure the poll loop is
// running.
func (d *Daemon) AddFile(sourcePath, outputPath string, settings queue.Settings) (*queue.Item, error) {
	trimmed := strings.TrimSpace(sourcePath)
	if trimmed == "" {
		return nil, errkind.Wrap(errkind.ErrValidation, "daemon", "add", "source path is required", nil)
	}
	absPath, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, errkind.Wrap(errkind.ErrValidation, "daemon", "add", "resolve source path", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, errkind.Wrap(errkind.ErrValidation, "daemon", "add", fmt.Sprintf("source file %s not readable", absPath), err)
	}
	if info.IsDir() {
		return nil, errkind.Wrap(errkind.ErrValidation, "daemon", "add", fmt.Sprintf("source path %s is a directory", absPath), nil)
	}
	ext := strings.ToLower(filepath.Ext(info.Name()))
	if _, ok := manualFileExtensions[ext]; !ok {
		return nil, errkind.Wrap(errkind.ErrValidation, "daemon", "add", fmt.Sprintf("unsupported file extension %q", ext), nil)
	}

	item, err := d.manager.Add(absPath, outputPath, settings)
	if err != nil {
		return nil, err
	}
	d.ensureProcessing()
	return item, nil
}

// ensureProcessing restarts the poll loop after it drained.
func (d *Daemon) ensureProcessing() {
	if !d.running.Load() || d.ctx == nil {
		return
	}
	if d.manager.IsProcessing() {
		return
	}
	if err := d.manager.StartProcessing(d.ctx); err != nil {
		d.logger.Warn("could not start processing", logging.Error(err))
	}
}

// ensureBatchProcessing restarts the dual-pool loop after it drained.
func (d *Daemon) ensureBatchProcessing() {
	if !d.running.Load() || d.ctx == nil {
		return
	}
	if d.batch.IsProcessing() {
		return
	}
	if err := d.batch.StartProcessing(d.ctx); err != nil {
		d.logger.Warn("could not start batch processing", logging.Error(err))
	}
}

// TestNotification triggers a test notification with the current settings.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	return Status{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		Paused:        d.manager.IsPaused(),
		Processing:    d.manager.IsProcessing(),
		MaxConcurrent: d.manager.MaxConcurrent(),
		Capabilities:  d.manager.Capabilities(),
		Counts:        d.manager.Store().Counts(),
		LockFilePath:  d.lockPath,
		UptimeSeconds: uptime(d.startedAt),
	}
}

func uptime(startedAt time.Time) float64 {
	if startedAt.IsZero() {
		return 0
	}
	return time.Since(startedAt).Seconds()
}

// consumeEvents journals terminal items and forwards milestones to the
// notification service. Both are observability surfaces: failures are
// logged, never propagated to the scheduler. The subscription is opened by
// the caller so no event can slip past before the goroutine is running.
func (d *Daemon) consumeEvents(ctx context.Context, sub *events.Subscription, done chan<- struct{}) {
	defer close(done)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			d.handleEvent(ctx, evt)
		}
	}
}

func (d *Daemon) handleEvent(ctx context.Context, evt events.Event) {
	switch evt.Kind {
	case events.KindItemStatus:
		status, ok := queue.ParseStatus(evt.Status)
		if !ok || !status.IsTerminal() {
			return
		}
		item, found := d.manager.Item(evt.ItemID)
		if !found {
			return
		}
		d.journalItem(ctx, item)
		name := filepath.Base(item.InputPath)
		switch status {
		case queue.StatusCompleted:
			if err := d.notifier.NotifyItemCompleted(ctx, name); err != nil {
				d.logger.Warn("completion notification failed", logging.Error(err))
			}
		case queue.StatusError:
			if err := d.notifier.NotifyItemFailed(ctx, name, item.ErrorMessage); err != nil {
				d.logger.Warn("failure notification failed", logging.Error(err))
			}
		}
	case events.KindProcessingCompleted:
		counts := d.manager.Store().Counts()
		processed := counts[queue.StatusCompleted] + counts[queue.StatusSkipped]
		failed := counts[queue.StatusError]
		if err := d.notifier.NotifyQueueCompleted(ctx, processed, failed, time.Since(d.startedAt)); err != nil {
			d.logger.Warn("queue notification failed", logging.Error(err))
		}
	case events.KindBatchCompleted:
		if err := d.notifier.NotifyBatchCompleted(ctx, evt.BatchID, evt.Count, evt.Success); err != nil {
			d.logger.Warn("batch notification failed", logging.Error(err))
		}
	}
}

func (d *Daemon) journalItem(ctx context.Context, item *queue.Item) {
	if d.journal == nil {
		return
	}
	if err := d.journal.Append(ctx, item); err != nil {
		d.logger.Warn("history append failed", logging.ItemID(item.ID), logging.Error(err))
	}
}
