package parallel

import (
	"context"
	"time"

	"telecine/internal/cleanup"
	"telecine/internal/errkind"
	"telecine/internal/events"
	"telecine/internal/logging"
	"telecine/internal/progress"
	"telecine/internal/queue"
)

// StartProcessing launches the dual-pool poll loop. Encoder processes are
// parented to ctx.
func (m *Manager) StartProcessing(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loopDone != nil {
		select {
		case <-m.loopDone:
		default:
			return errkind.Wrap(errkind.ErrInvalidOperation, "parallel", "start", "processing already running", nil)
		}
	}
	m.loopStop = make(chan struct{})
	m.loopDone = make(chan struct{})
	go m.run(ctx, m.loopStop, m.loopDone)
	m.bus.Publish(events.Event{Kind: events.KindStateChanged, Message: "processing started"})
	return nil
}

// StopProcessing halts the loop; running tasks continue.
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

// IsProcessing reports whether the loop is alive.
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

// Wait blocks until all task goroutines are finished.
func (m *Manager) Wait() {
	m.taskWG.Wait()
}

// IsPaused reports the global pause flag.
func (m *Manager) IsPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

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
			continue
		}

		m.fillPools(ctx)

		if m.drained() {
			m.logger.Info("all batch items settled, processing complete")
			m.bus.Publish(events.Event{Kind: events.KindProcessingCompleted})
			return
		}
	}
}

func (m *Manager) drained() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.video.active) > 0 || len(m.audio.active) > 0 {
		return false
	}
	if len(m.order) == 0 {
		return false
	}
	for _, id := range m.order {
		if !m.items[id].terminal() {
			return false
		}
	}
	return true
}

// fillPools claims pending tasks for both pools. The claim marks the task
// transcoding and records it in the single-flight set under the lock, so a
// task can never be launched twice even across ticks.
func (m *Manager) fillPools(ctx context.Context) {
	for _, p := range []*pool{&m.video, &m.audio} {
		for {
			m.mu.Lock()
			if len(p.active) >= p.limit {
				m.mu.Unlock()
				break
			}
			t := m.nextPending(p.name)
			if t == nil {
				m.mu.Unlock()
				break
			}
			m.claimed[t.id] = struct{}{}
			t.status = queue.StatusTranscoding
			m.mu.Unlock()

			m.publishTaskStatus(t)
			m.launch(ctx, p, t)
		}
	}
}

func (m *Manager) nextPending(poolName string) *task {
	for _, id := range m.order {
		for _, t := range m.items[id].tasks {
			if t.pool != poolName || t.status != queue.StatusPending {
				continue
			}
			if _, dup := m.claimed[t.id]; dup {
				continue
			}
			return t
		}
	}
	return nil
}

func (m *Manager) launch(ctx context.Context, p *pool, t *task) {
	taskCtx, cancel := context.WithCancel(ctx)
	onProgress := func(rec progress.Record) {
		m.mu.Lock()
		if t.status != queue.StatusTranscoding {
			m.mu.Unlock()
			return
		}
		t.progress = &rec
		m.mu.Unlock()
		m.bus.Publish(events.Event{
			Kind:     events.KindItemProgress,
			ItemID:   t.itemID,
			TaskID:   t.id,
			BatchID:  t.batchID,
			Pool:     t.pool,
			Progress: &rec,
		})
		m.publishAggregated()
	}

	enc, err := m.runner.Start(taskCtx, t.job, onProgress)
	if err != nil {
		cancel()
		m.failTask(t, errkind.DisplayMessage(err), err)
		m.settleItem(t.itemID)
		return
	}
	m.logger.Info("task started",
		logging.TaskID(t.id),
		logging.ItemID(t.itemID),
		logging.Pool(t.pool))

	rt := &runningTask{enc: enc, cancel: cancel}
	m.mu.Lock()
	p.active[t.id] = rt
	m.mu.Unlock()

	m.taskWG.Add(1)
	go func() {
		defer m.taskWG.Done()
		defer cancel()
		m.awaitTask(p, t, rt)
	}()
}

// awaitTask settles one task when its process exits. A task already marked
// cancelled stays cancelled regardless of the exit error.
func (m *Manager) awaitTask(p *pool, t *task, rt *runningTask) {
	waitErr := rt.enc.Wait()

	m.mu.Lock()
	delete(p.active, t.id)
	status := t.status
	m.mu.Unlock()

	switch {
	case status == queue.StatusCancelled:
		cleanup.RemovePartials(t.job.OutputPath)
	case waitErr == nil:
		m.mu.Lock()
		t.status = queue.StatusCompleted
		m.mu.Unlock()
		kind := events.KindVideoCompleted
		if t.pool == PoolAudio {
			kind = events.KindAudioTrackCompleted
		}
		m.logger.Info("task completed", logging.TaskID(t.id), logging.Pool(t.pool))
		m.bus.Publish(events.Event{
			Kind:    kind,
			ItemID:  t.itemID,
			TaskID:  t.id,
			BatchID: t.batchID,
			Pool:    t.pool,
			Success: true,
		})
	default:
		m.failTask(t, errkind.DisplayMessage(waitErr), waitErr)
		cleanup.RemovePartials(t.job.OutputPath)
	}

	m.settleItem(t.itemID)
	m.publishAggregated()
}

func (m *Manager) failTask(t *task, message string, cause error) {
	m.mu.Lock()
	if t.status.IsTerminal() {
		m.mu.Unlock()
		return
	}
	t.status = queue.StatusError
	t.errMsg = message
	m.mu.Unlock()
	m.logger.Error("task failed",
		logging.TaskID(t.id),
		logging.ItemID(t.itemID),
		logging.Pool(t.pool),
		logging.Error(cause))
	m.bus.Publish(events.Event{
		Kind:    events.KindTaskError,
		ItemID:  t.itemID,
		TaskID:  t.id,
		BatchID: t.batchID,
		Pool:    t.pool,
		Message: message,
	})
}

// settleItem emits the item completion exactly once, after every decomposed
// task reached a terminal status. Success is the AND across tasks.
func (m *Manager) settleItem(itemID string) {
	m.mu.Lock()
	state, ok := m.items[itemID]
	if !ok || state.settled || !state.terminal() {
		m.mu.Unlock()
		return
	}
	state.settled = true
	success := state.success()
	batchID := state.batchID
	m.mu.Unlock()

	m.logger.Info("item settled", logging.ItemID(itemID), logging.Bool("success", success))
	m.bus.Publish(events.Event{
		Kind:    events.KindItemCompleted,
		ItemID:  itemID,
		BatchID: batchID,
		Success: success,
	})
	if !success {
		m.bus.Publish(events.Event{
			Kind:    events.KindItemError,
			ItemID:  itemID,
			BatchID: batchID,
			Message: "one or more tasks failed",
		})
	}
	m.settleBatch(batchID)
}

// settleBatch emits the batch completion once every item under it settled.
func (m *Manager) settleBatch(batchID string) {
	m.mu.Lock()
	if _, done := m.settled[batchID]; done {
		m.mu.Unlock()
		return
	}
	ids := m.batches[batchID]
	if len(ids) == 0 {
		m.mu.Unlock()
		return
	}
	success := true
	for _, id := range ids {
		state, ok := m.items[id]
		if !ok || !state.terminal() {
			m.mu.Unlock()
			return
		}
		if !state.success() {
			success = false
		}
	}
	m.settled[batchID] = struct{}{}
	m.mu.Unlock()

	m.bus.Publish(events.Event{
		Kind:    events.KindBatchCompleted,
		BatchID: batchID,
		Success: success,
		Count:   len(ids),
	})
}

func (m *Manager) publishTaskStatus(t *task) {
	m.mu.Lock()
	status := t.status
	m.mu.Unlock()
	m.bus.Publish(events.Event{
		Kind:    events.KindItemStatus,
		ItemID:  t.itemID,
		TaskID:  t.id,
		BatchID: t.batchID,
		Pool:    t.pool,
		Status:  string(status),
	})
}

// videoWeight reflects that a video encode dominates an item's wall clock;
// audio tasks barely move the needle.
const (
	videoWeight = 4.0
	audioWeight = 1.0
)

// AggregatedProgress computes the combined projection across both pools.
func (m *Manager) AggregatedProgress() events.Aggregated {
	m.mu.Lock()
	defer m.mu.Unlock()

	agg := events.Aggregated{
		CountsByStatus: make(map[string]int),
		Video:          m.video.snapshot(),
		Audio:          m.audio.snapshot(),
	}
	var weightSum, earned float64
	for _, id := range m.order {
		for _, t := range m.items[id].tasks {
			agg.CountsByStatus[string(t.status)]++
			weight := audioWeight
			if t.pool == PoolVideo {
				weight = videoWeight
			}
			weightSum += weight
			earned += weight * t.percent()
		}
	}
	if weightSum > 0 {
		agg.OverallPercent = earned / weightSum
	}
	return agg
}

func (m *Manager) publishAggregated() {
	agg := m.AggregatedProgress()
	m.bus.Publish(events.Event{Kind: events.KindAggregatedProgress, Aggregated: &agg})
}
