package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"telecine/internal/config"
	"telecine/internal/events"
	"telecine/internal/logging"
	"telecine/internal/queue"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StagingDir = filepath.Join(root, "staging")
	cfg.Paths.OutputDir = filepath.Join(root, "out")
	cfg.Paths.LogDir = filepath.Join(root, "logs")
	cfg.Paths.LockFile = filepath.Join(root, "telecined.lock")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Scheduler.PollIntervalMS = 5
	cfg.History.Enabled = true
	cfg.History.Path = filepath.Join(root, "history.db")
	return &cfg
}

func newTestDaemon(t *testing.T, cfg *config.Config) *Daemon {
	t.Helper()
	d, err := New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func writeSource(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("not a real video"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func waitFor(t *testing.T, cond func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(message)
}

func TestSecondInstanceRefused(t *testing.T) {
	cfg := testConfig(t)
	d := newTestDaemon(t, cfg)

	second, err := New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("second instance acquired the lock")
	}

	d.Stop()
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("lock not released after Stop: %v", err)
	}
	second.Close()
}

func TestAddFileValidation(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))

	if _, err := d.AddFile("", "", queue.Settings{}); err == nil {
		t.Fatal("empty path accepted")
	}
	if _, err := d.AddFile(filepath.Join(t.TempDir(), "missing.mkv"), "", queue.Settings{}); err == nil {
		t.Fatal("missing file accepted")
	}
	if _, err := d.AddFile(t.TempDir(), "", queue.Settings{}); err == nil {
		t.Fatal("directory accepted")
	}
	if _, err := d.AddFile(writeSource(t, "notes.txt"), "", queue.Settings{}); err == nil {
		t.Fatal("unsupported extension accepted")
	}
}

func TestAddFileEnqueuesAndDerivesOutput(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))
	d.Manager().PauseAll()

	source := writeSource(t, "movie.mkv")
	item, err := d.AddFile(source, "", queue.Settings{})
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if item.OutputPath == "" || item.OutputPath == source {
		t.Fatalf("output path not derived: %q", item.OutputPath)
	}
	if item.Status != queue.StatusPending {
		t.Fatalf("status = %s, want pending", item.Status)
	}
	if !d.Manager().IsProcessing() {
		t.Fatal("processing loop not started")
	}
}

func TestStatusReflectsDaemonState(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))

	status := d.Status()
	if !status.Running {
		t.Fatal("status.Running = false")
	}
	if status.PID != os.Getpid() {
		t.Fatalf("status.PID = %d", status.PID)
	}
	if status.LockFilePath != d.lockPath {
		t.Fatalf("lock path = %q", status.LockFilePath)
	}

	d.Manager().PauseAll()
	if !d.Status().Paused {
		t.Fatal("pause flag not reflected")
	}
}

func TestTerminalItemsAreJournaled(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))
	d.Manager().PauseAll()

	item, err := d.AddFile(writeSource(t, "movie.mkv"), "", queue.Settings{})
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := d.Manager().CancelItem(item.ID); err != nil {
		t.Fatalf("CancelItem: %v", err)
	}

	waitFor(t, func() bool {
		entries, err := d.Journal().List(context.Background(), 10)
		if err != nil {
			return false
		}
		for _, e := range entries {
			if e.ItemID == item.ID && e.Status == queue.StatusCancelled {
				return true
			}
		}
		return false
	}, "cancelled item never reached the journal")
}

func TestEventsRightAfterStartAreConsumed(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))
	d.PauseAll()

	item, err := d.AddFile(writeSource(t, "movie.mkv"), "", queue.Settings{})
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	// The listener must already be subscribed when Start returns; a terminal
	// status published immediately afterwards may not be dropped.
	d.bus.Publish(events.Event{
		Kind:   events.KindItemStatus,
		ItemID: item.ID,
		Status: string(queue.StatusCancelled),
	})
	waitFor(t, func() bool {
		entries, err := d.Journal().List(context.Background(), 10)
		return err == nil && len(entries) == 1
	}, "event published right after start was dropped")
}

func TestPauseAllCoversBothSchedulers(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))

	d.PauseAll()
	if !d.Manager().IsPaused() || !d.Batch().IsPaused() {
		t.Fatal("global pause must cover both schedulers")
	}
	d.ResumeAll()
	if d.Manager().IsPaused() || d.Batch().IsPaused() {
		t.Fatal("global resume must cover both schedulers")
	}
}

func TestTestNotificationWithoutTopic(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))
	ok, _, err := d.TestNotification(context.Background())
	if err != nil {
		t.Fatalf("TestNotification: %v", err)
	}
	if ok {
		t.Fatal("notification reported sent without a configured topic")
	}
}
