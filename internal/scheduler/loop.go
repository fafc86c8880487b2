package scheduler

import (
	"context"
	"time"

	"telecine/internal/cleanup"
	"telecine/internal/encoder"
	"telecine/internal/errkind"
	"telecine/internal/events"
	"telecine/internal/logging"
	"telecine/internal/progress"
	"telecine/internal/queue"
	"telecine/internal/recommend"
)

// run is the poll loop. Each tick it claims pending work for analysis and
// starts encodes while slots are free. It exits when the queue has no
// startable work left and nothing is running, or when stopped.
func (m *Manager) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
		}

		if m.IsPaused() {
			// Global pause: running processes stay suspended, no new pickups.
			continue
		}

		m.startAnalysis(ctx)
		m.startEncodes(ctx)

		if m.drained() {
			m.logger.Info("queue drained, processing complete")
			m.bus.Publish(events.Event{Kind: events.KindProcessingCompleted})
			return
		}
	}
}

// drained reports whether nothing can start and nothing is in flight.
func (m *Manager) drained() bool {
	m.mu.Lock()
	inFlight := len(m.running) > 0 || m.analyzeBusy
	m.mu.Unlock()
	if inFlight {
		return false
	}
	return !m.store.HasStartableWork()
}

// startAnalysis claims at most one pending item per tick and probes it in
// the background.
func (m *Manager) startAnalysis(ctx context.Context) {
	m.mu.Lock()
	if m.analyzeBusy {
		m.mu.Unlock()
		return
	}
	item, ok := m.store.ClaimNext(queue.StatusAnalyzing, queue.StatusPending)
	if !ok {
		m.mu.Unlock()
		return
	}
	m.analyzeBusy = true
	m.mu.Unlock()

	m.publishStatus(item)
	m.taskWG.Add(1)
	go func() {
		defer m.taskWG.Done()
		defer func() {
			m.mu.Lock()
			m.analyzeBusy = false
			m.mu.Unlock()
		}()
		m.analyze(ctx, item)
	}()
}

func (m *Manager) analyze(ctx context.Context, item *queue.Item) {
	if m.prober == nil {
		m.finishAnalysis(item.ID, queue.StatusReady)
		return
	}
	probe, err := m.prober.Probe(ctx, item.InputPath)
	if err != nil {
		m.failItem(item.ID, errkind.DisplayMessage(err), err)
		return
	}
	m.store.SetDuration(item.ID, probe.DurationSeconds)

	if item.Settings.SkipTranscode {
		m.finishAnalysis(item.ID, queue.StatusSkipped)
		return
	}
	rec := recommend.Recommend(probe, recommend.Options{
		TargetVideoFamily:       m.encCfg.TargetVideoFamily,
		AudioAcceptableCodecs:   m.encCfg.AudioAcceptableCodecs,
		AudioBitrateCeilingKbps: m.encCfg.AudioBitrateCeilingKbps,
	})
	if rec.HasVideo && rec.Video.Action == recommend.ActionSkip {
		m.logger.Info("item skipped", logging.ItemID(item.ID), logging.String("reason", rec.Video.Reason))
		m.finishAnalysis(item.ID, queue.StatusSkipped)
		return
	}

	// An explicit per-item quality wins over the adaptive pre-pass.
	if m.quality != nil && m.qualityCfg.Enabled && item.Settings.Quality <= 0 {
		found, err := m.quality.FindOptimalQuality(ctx, item.InputPath, probe.DurationSeconds, m.qualityCfg)
		if err != nil {
			m.failItem(item.ID, errkind.DisplayMessage(err), err)
			return
		}
		m.store.SetQuality(item.ID, found.Quality)
		m.logger.Info("quality search settled encode quality",
			logging.ItemID(item.ID),
			logging.Int("quality", found.Quality),
			logging.Bool("target_met", found.TargetMet))
	}
	m.finishAnalysis(item.ID, queue.StatusReady)
}

func (m *Manager) finishAnalysis(id string, to queue.Status) {
	updated, err := m.store.SetStatus(id, to)
	if err != nil {
		// Cancelled while analyzing; the cancel path already published.
		return
	}
	m.publishStatus(updated)
}

// startEncodes fills free slots with ready items in priority order. Paused
// items keep their slot; their process still holds memory and an open file.
func (m *Manager) startEncodes(ctx context.Context) {
	for {
		m.mu.Lock()
		limit := m.maxConcurrent
		m.mu.Unlock()
		if m.store.CountByStatus(queue.StatusTranscoding, queue.StatusPaused) >= limit {
			return
		}
		item, ok := m.store.ClaimNext(queue.StatusTranscoding, queue.StatusReady)
		if !ok {
			return
		}
		m.publishStatus(item)
		if err := m.launch(ctx, item); err != nil {
			m.failItem(item.ID, errkind.DisplayMessage(err), err)
		}
	}
}

func (m *Manager) launch(ctx context.Context, item *queue.Item) error {
	encodeCtx, cancel := context.WithCancel(ctx)
	onProgress := func(rec progress.Record) {
		if _, ok := m.store.SetProgress(item.ID, rec); ok {
			m.bus.Publish(events.Event{
				Kind:     events.KindItemProgress,
				ItemID:   item.ID,
				Status:   string(queue.StatusTranscoding),
				Progress: &rec,
			})
		}
	}
	enc, err := m.runner.Start(encodeCtx, m.jobFor(item), onProgress)
	if err != nil {
		cancel()
		return err
	}
	m.logger.Info("transcode started", logging.ItemID(item.ID))

	m.mu.Lock()
	m.running[item.ID] = &runningTask{enc: enc, cancel: cancel}
	m.mu.Unlock()

	m.taskWG.Add(1)
	go func() {
		defer m.taskWG.Done()
		defer cancel()
		m.awaitEncode(item.ID, enc)
	}()
	return nil
}

// awaitEncode settles the item when its process exits. Cancellation takes
// precedence over exit-code classification: an item already cancelled stays
// cancelled no matter how the encoder died.
func (m *Manager) awaitEncode(id string, enc Encode) {
	waitErr := enc.Wait()

	m.mu.Lock()
	delete(m.running, id)
	m.mu.Unlock()

	item, ok := m.store.Get(id)
	if !ok {
		return
	}
	switch {
	case item.Status == queue.StatusCancelled:
		report := cleanup.RemovePartials(item.OutputPath)
		m.logger.Info("cancelled encode cleaned up",
			logging.ItemID(id),
			logging.Int("deleted", len(report.Deleted)),
			logging.Int("failed", len(report.Failed)))
	case waitErr == nil:
		updated, err := m.store.SetStatus(id, queue.StatusCompleted)
		if err != nil {
			return
		}
		m.logger.Info("transcode completed", logging.ItemID(id))
		m.publishStatus(updated)
		m.bus.Publish(events.Event{
			Kind:    events.KindItemCompleted,
			ItemID:  id,
			Success: true,
		})
	default:
		m.failItem(id, errkind.DisplayMessage(waitErr), waitErr)
		cleanup.RemovePartials(item.OutputPath)
	}
}

func (m *Manager) failItem(id, message string, cause error) {
	updated, err := m.store.MarkError(id, message)
	if err != nil {
		// Lost a race with cancellation; cancelled wins.
		return
	}
	m.logger.Error("item failed", logging.ItemID(id), logging.Error(cause))
	m.publishStatus(updated)
	m.bus.Publish(events.Event{
		Kind:    events.KindItemError,
		ItemID:  id,
		Message: message,
	})
}

func (m *Manager) jobFor(item *queue.Item) encoder.Job {
	s := item.Settings
	job := encoder.Job{
		Kind:             encoder.KindFull,
		InputPath:        item.InputPath,
		OutputPath:       item.OutputPath,
		DurationSeconds:  item.DurationSeconds,
		VideoEncoder:     firstNonEmpty(s.VideoEncoder, m.encCfg.VideoEncoder),
		Preset:           firstNonEmpty(s.Preset, m.encCfg.VideoPreset),
		Quality:          s.Quality,
		AudioEncoder:     firstNonEmpty(s.AudioEncoder, m.encCfg.AudioEncoder),
		AudioBitrateKbps: s.AudioBitrateKbps,
		Container:        m.containerFor(s),
	}
	if job.Quality <= 0 {
		job.Quality = m.encCfg.DefaultQuality
	}
	if job.AudioBitrateKbps <= 0 {
		job.AudioBitrateKbps = m.encCfg.AudioBitrateKbps
	}
	return job
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
