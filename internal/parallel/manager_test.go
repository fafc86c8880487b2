package parallel

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"telecine/internal/config"
	"telecine/internal/encoder"
	"telecine/internal/events"
	"telecine/internal/processctl"
	"telecine/internal/progress"
	"telecine/internal/queue"
	"telecine/internal/scheduler"
)

type fakeEncode struct {
	ctx    context.Context
	result chan error
}

func (e *fakeEncode) Handle() *processctl.Handle { return nil }
func (e *fakeEncode) PartialPath() string        { return "" }

func (e *fakeEncode) Wait() error {
	select {
	case err := <-e.result:
		return err
	case <-e.ctx.Done():
		return e.ctx.Err()
	}
}

type startedTask struct {
	job        encoder.Job
	enc        *fakeEncode
	onProgress encoder.ProgressFunc
}

type fakeRunner struct {
	mu      sync.Mutex
	started []startedTask
}

func (r *fakeRunner) Start(ctx context.Context, job encoder.Job, onProgress encoder.ProgressFunc) (scheduler.Encode, error) {
	enc := &fakeEncode{ctx: ctx, result: make(chan error, 1)}
	r.mu.Lock()
	r.started = append(r.started, startedTask{job: job, enc: enc, onProgress: onProgress})
	r.mu.Unlock()
	return enc, nil
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.started)
}

func (r *fakeRunner) countKind(kind encoder.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.started {
		if s.job.Kind == kind {
			n++
		}
	}
	return n
}

func (r *fakeRunner) at(i int) startedTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started[i]
}

func (r *fakeRunner) finishKind(kind encoder.Kind, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.started {
		if s.job.Kind == kind {
			select {
			case s.enc.result <- err:
			default:
			}
		}
	}
}

type fakeController struct {
	mu       sync.Mutex
	suspends int
	resumes  int
}

func (c *fakeController) Suspend(h *processctl.Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suspends++
	return true
}

func (c *fakeController) Resume(h *processctl.Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resumes++
	return true
}

func (c *fakeController) Terminate(h *processctl.Handle, force bool) {}

func (c *fakeController) Capabilities() processctl.Capabilities {
	return processctl.Capabilities{Available: true, Method: processctl.MethodSignal}
}

type fixture struct {
	manager *Manager
	runner  *fakeRunner
	ctl     *fakeController
	bus     *events.Bus
	dir     string
}

func newFixture(t *testing.T, videoLimit, audioLimit int) *fixture {
	t.Helper()
	f := &fixture{
		runner: &fakeRunner{},
		ctl:    &fakeController{},
		bus:    events.NewBus(),
		dir:    t.TempDir(),
	}
	f.manager = New(Options{
		Bus:        f.bus,
		Controller: f.ctl,
		Runner:     f.runner,
		Encoder: config.Encoder{
			VideoEncoder:     "libsvtav1",
			VideoPreset:      "6",
			DefaultQuality:   27,
			AudioEncoder:     "libopus",
			AudioBitrateKbps: 192,
			Container:        "mkv",
		},
		Scheduler: config.Scheduler{
			VideoMaxConcurrent: videoLimit,
			AudioMaxConcurrent: audioLimit,
			PollIntervalMS:     5,
		},
	})
	t.Cleanup(f.bus.Close)
	return f
}

func (f *fixture) batchItem(name string, audioTracks int) BatchImportItem {
	item := BatchImportItem{
		VideoInput:      filepath.Join(f.dir, name),
		VideoOutput:     filepath.Join(f.dir, name+".video.mkv"),
		DurationSeconds: 40,
	}
	for i := 0; i < audioTracks; i++ {
		item.Audio = append(item.Audio, AudioInput{
			OutputPath: filepath.Join(f.dir, name+".audio"+string(rune('0'+i))+".mkv"),
			Stream:     i,
		})
	}
	return item
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		f.manager.StopProcessing()
		f.manager.Wait()
	})
	if err := f.manager.StartProcessing(ctx); err != nil {
		t.Fatalf("StartProcessing: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBatchDecomposition(t *testing.T) {
	f := newFixture(t, 1, 4)
	_, ids, err := f.manager.AddBatch([]BatchImportItem{f.batchItem("movie.mkv", 2)})
	if err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected 1 item id, got %v", ids)
	}
	snap, ok := f.manager.Item(ids[0])
	if !ok {
		t.Fatal("item missing")
	}
	if len(snap.Tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(snap.Tasks))
	}
	pools := map[string]int{}
	for _, task := range snap.Tasks {
		pools[task.Pool]++
		if task.Status != queue.StatusPending {
			t.Fatalf("new task status = %s", task.Status)
		}
	}
	if pools[PoolVideo] != 1 || pools[PoolAudio] != 2 {
		t.Fatalf("pools = %v", pools)
	}
}

func TestDualPoolLimitsIndependent(t *testing.T) {
	f := newFixture(t, 1, 2)
	_, _, err := f.manager.AddBatch([]BatchImportItem{
		f.batchItem("a.mkv", 2),
		f.batchItem("b.mkv", 2),
	})
	if err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	f.start(t)

	waitFor(t, "pools to fill", func() bool {
		return f.runner.countKind(encoder.KindVideo) == 1 && f.runner.countKind(encoder.KindAudio) == 2
	})
	time.Sleep(50 * time.Millisecond)
	if f.runner.countKind(encoder.KindVideo) != 1 {
		t.Fatalf("video pool overcommitted: %d", f.runner.countKind(encoder.KindVideo))
	}
	if f.runner.countKind(encoder.KindAudio) != 2 {
		t.Fatalf("audio pool overcommitted: %d", f.runner.countKind(encoder.KindAudio))
	}
}

func TestItemCompletedExactlyOnceWithANDSuccess(t *testing.T) {
	f := newFixture(t, 2, 4)
	sub := f.bus.Subscribe(256)
	defer sub.Close()

	_, ids, err := f.manager.AddBatch([]BatchImportItem{f.batchItem("movie.mkv", 1)})
	if err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	f.start(t)
	waitFor(t, "both tasks started", func() bool { return f.runner.count() == 2 })

	f.runner.finishKind(encoder.KindVideo, nil)
	f.runner.finishKind(encoder.KindAudio, errors.New("encoder exited with code 1"))

	waitFor(t, "item settled", func() bool {
		snap, _ := f.manager.Item(ids[0])
		return snap.Done
	})

	completions := 0
	deadline := time.After(2 * time.Second)
	for completions == 0 {
		select {
		case evt := <-sub.C:
			if evt.Kind == events.KindItemCompleted && evt.ItemID == ids[0] {
				completions++
				if evt.Success {
					t.Fatal("one failed task must make item success false")
				}
			}
		case <-deadline:
			t.Fatal("no item completion event")
		}
	}

	// Drain whatever is left; no second completion may appear.
	drain := time.After(100 * time.Millisecond)
	for {
		select {
		case evt := <-sub.C:
			if evt.Kind == events.KindItemCompleted && evt.ItemID == ids[0] {
				t.Fatal("item completion fired twice")
			}
		case <-drain:
			return
		}
	}
}

func TestStartNewBatchHardResets(t *testing.T) {
	f := newFixture(t, 2, 4)
	_, oldIDs, err := f.manager.AddBatch([]BatchImportItem{f.batchItem("old.mkv", 0)})
	if err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	f.start(t)
	waitFor(t, "old video started", func() bool { return f.runner.count() == 1 })

	batchID, newIDs, err := f.manager.StartNewBatch("fresh", []BatchImportItem{f.batchItem("new.mkv", 0)})
	if err != nil {
		t.Fatalf("StartNewBatch: %v", err)
	}
	if batchID != "fresh" {
		t.Fatalf("batch id = %q, want fresh", batchID)
	}
	items := f.manager.Items()
	if len(items) != 1 || items[0].ID != newIDs[0] {
		t.Fatalf("expected only the new item, got %+v", items)
	}
	if _, ok := f.manager.Item(oldIDs[0]); ok {
		t.Fatal("old items must be dropped by a hard reset")
	}
}

func TestAddBatchAppends(t *testing.T) {
	f := newFixture(t, 1, 2)
	if _, _, err := f.manager.AddBatch([]BatchImportItem{f.batchItem("a.mkv", 0)}); err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	if _, _, err := f.manager.AddBatchWithID("second", []BatchImportItem{f.batchItem("b.mkv", 0)}); err != nil {
		t.Fatalf("AddBatchWithID: %v", err)
	}
	if got := len(f.manager.Items()); got != 2 {
		t.Fatalf("items = %d, want 2", got)
	}
}

func TestAggregatedProgressWeighting(t *testing.T) {
	f := newFixture(t, 1, 1)
	_, _, err := f.manager.AddBatch([]BatchImportItem{f.batchItem("movie.mkv", 1)})
	if err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	f.start(t)
	waitFor(t, "both tasks started", func() bool { return f.runner.count() == 2 })

	for i := 0; i < f.runner.count(); i++ {
		started := f.runner.at(i)
		if started.job.Kind == encoder.KindVideo {
			started.onProgress(progress.Record{Percent: 50})
		}
	}

	waitFor(t, "weighted aggregate", func() bool {
		agg := f.manager.AggregatedProgress()
		// video weight 4 at 50%, audio weight 1 at 0%.
		return agg.OverallPercent == 40
	})
	agg := f.manager.AggregatedProgress()
	if agg.Video.Active != 1 || agg.Audio.Active != 1 {
		t.Fatalf("pool snapshots = %+v", agg)
	}
	if agg.CountsByStatus[string(queue.StatusTranscoding)] != 2 {
		t.Fatalf("counts = %v", agg.CountsByStatus)
	}
}

func TestLoweredLimitLetsRunningFinish(t *testing.T) {
	f := newFixture(t, 2, 1)
	_, _, err := f.manager.AddBatch([]BatchImportItem{
		f.batchItem("a.mkv", 0),
		f.batchItem("b.mkv", 0),
		f.batchItem("c.mkv", 0),
	})
	if err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	f.start(t)
	waitFor(t, "two video tasks running", func() bool { return f.runner.countKind(encoder.KindVideo) == 2 })

	f.manager.SetVideoLimit(1)
	time.Sleep(50 * time.Millisecond)
	if f.runner.countKind(encoder.KindVideo) != 2 {
		t.Fatal("lowering the limit must not interrupt running tasks")
	}

	// Finish both running tasks; with limit 1 only one new task may start.
	f.runner.at(0).enc.result <- nil
	f.runner.at(1).enc.result <- nil
	waitFor(t, "third task starts", func() bool { return f.runner.countKind(encoder.KindVideo) == 3 })
	time.Sleep(50 * time.Millisecond)
	if f.runner.countKind(encoder.KindVideo) != 3 {
		t.Fatalf("video starts = %d, want 3", f.runner.countKind(encoder.KindVideo))
	}
}

func TestPauseAllSuspendsBothPools(t *testing.T) {
	f := newFixture(t, 1, 1)
	_, ids, err := f.manager.AddBatch([]BatchImportItem{f.batchItem("movie.mkv", 1)})
	if err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	f.start(t)
	waitFor(t, "both tasks started", func() bool { return f.runner.count() == 2 })

	f.manager.PauseAll()
	if !f.manager.IsPaused() {
		t.Fatal("pause flag must be set")
	}
	snap, _ := f.manager.Item(ids[0])
	for _, task := range snap.Tasks {
		if task.Status != queue.StatusPaused {
			t.Fatalf("task %s status = %s, want paused", task.ID, task.Status)
		}
	}

	f.manager.ResumeAll()
	snap, _ = f.manager.Item(ids[0])
	for _, task := range snap.Tasks {
		if task.Status != queue.StatusTranscoding {
			t.Fatalf("task %s status = %s, want transcoding", task.ID, task.Status)
		}
	}
}

func TestCancelItemSettlesWithoutSuccess(t *testing.T) {
	f := newFixture(t, 1, 1)
	sub := f.bus.Subscribe(256)
	defer sub.Close()

	_, ids, err := f.manager.AddBatch([]BatchImportItem{f.batchItem("movie.mkv", 1)})
	if err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	f.start(t)
	waitFor(t, "tasks started", func() bool { return f.runner.count() == 2 })

	if err := f.manager.CancelItem(ids[0]); err != nil {
		t.Fatalf("CancelItem: %v", err)
	}
	waitFor(t, "item settled", func() bool {
		snap, _ := f.manager.Item(ids[0])
		return snap.Done && !snap.Success
	})
	waitFor(t, "loop exits once drained", func() bool { return !f.manager.IsProcessing() })
}

func TestBatchCompletedEvent(t *testing.T) {
	f := newFixture(t, 2, 2)
	sub := f.bus.Subscribe(256)
	defer sub.Close()

	batchID, _, err := f.manager.AddBatch([]BatchImportItem{
		f.batchItem("a.mkv", 0),
		f.batchItem("b.mkv", 0),
	})
	if err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	f.start(t)
	waitFor(t, "both videos running", func() bool { return f.runner.countKind(encoder.KindVideo) == 2 })
	f.runner.finishKind(encoder.KindVideo, nil)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case evt := <-sub.C:
			if evt.Kind == events.KindBatchCompleted {
				if evt.BatchID != batchID || !evt.Success {
					t.Fatalf("unexpected batch completion: %+v", evt)
				}
				if evt.Count != 2 {
					t.Fatalf("batch completion count = %d, want 2", evt.Count)
				}
				return
			}
		case <-deadline:
			t.Fatal("batch completion never fired")
		}
	}
}
