package main

import (
	"strings"
	"testing"

	"telecine/internal/queue"
)

func TestStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "running")
	requireContains(t, out, "Queue is empty")
}

func TestAddAndQueueList(t *testing.T) {
	env := setupCLITestEnv(t)
	env.daemon.Manager().PauseAll()
	source := writeSource(t, "movie.mkv")

	out, _, err := runCLI(t, env, "add", source, "--quality", "30")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	requireContains(t, out, "Queued")

	items := env.daemon.Manager().Queue()
	if len(items) != 1 {
		t.Fatalf("queue length = %d", len(items))
	}
	if items[0].Settings.Quality != 30 {
		t.Fatalf("quality = %d, want 30", items[0].Settings.Quality)
	}

	out, _, err = runCLI(t, env, "queue", "list")
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	requireContains(t, out, "movie.mkv")
	requireContains(t, out, "pending")
}

func TestAddRejectsMissingFile(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, env, "add", "/no/such/file.mkv")
	if err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestCancelByIDPrefix(t *testing.T) {
	env := setupCLITestEnv(t)
	env.daemon.Manager().PauseAll()
	source := writeSource(t, "movie.mkv")

	item, err := env.daemon.AddFile(source, "", queue.Settings{})
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	out, _, err := runCLI(t, env, "cancel", item.ID[:8])
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	requireContains(t, out, "Cancelled")

	updated, ok := env.daemon.Manager().Item(item.ID)
	if !ok || updated.Status != queue.StatusCancelled {
		t.Fatalf("item after cancel = %+v", updated)
	}
}

func TestPauseAndResumeQueue(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "pause")
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	requireContains(t, out, "Queue paused")
	if !env.daemon.Manager().IsPaused() {
		t.Fatal("daemon not paused")
	}

	out, _, err = runCLI(t, env, "resume")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	requireContains(t, out, "Queue resumed")
	if env.daemon.Manager().IsPaused() {
		t.Fatal("daemon still paused")
	}
}

func TestLimitCommandReportsClamp(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "limit", "999")
	if err != nil {
		t.Fatalf("limit: %v", err)
	}
	requireContains(t, out, "clamped")

	out, _, err = runCLI(t, env, "limit", "3")
	if err != nil {
		t.Fatalf("limit: %v", err)
	}
	requireContains(t, out, "set to 3")
	if env.daemon.Manager().MaxConcurrent() != 3 {
		t.Fatalf("limit = %d, want 3", env.daemon.Manager().MaxConcurrent())
	}
}

func TestLimitCommandTargetsBatchPools(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "limit", "2", "--pool", "audio")
	if err != nil {
		t.Fatalf("limit: %v", err)
	}
	requireContains(t, out, "set to 2")
	if _, audio := env.daemon.Batch().Limits(); audio != 2 {
		t.Fatalf("audio limit = %d, want 2", audio)
	}

	out, _, err = runCLI(t, env, "limit", "999", "--pool", "video")
	if err != nil {
		t.Fatalf("limit: %v", err)
	}
	requireContains(t, out, "clamped")

	if _, _, err := runCLI(t, env, "limit", "2", "--pool", "gpu"); err == nil {
		t.Fatal("unknown pool accepted")
	}
}

func TestQueueShowJSON(t *testing.T) {
	env := setupCLITestEnv(t)
	env.daemon.Manager().PauseAll()

	item, err := env.daemon.AddFile(writeSource(t, "movie.mkv"), "", queue.Settings{})
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	out, _, err := runCLI(t, env, "queue", "show", item.ID, "--json")
	if err != nil {
		t.Fatalf("queue show: %v", err)
	}
	requireContains(t, out, item.ID)
	requireContains(t, out, `"status": "pending"`)
}

func TestHistoryCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	env.daemon.Manager().PauseAll()

	item, err := env.daemon.AddFile(writeSource(t, "movie.mkv"), "", queue.Settings{})
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := env.daemon.Manager().CancelItem(item.ID); err != nil {
		t.Fatalf("CancelItem: %v", err)
	}

	waitFor(t, func() bool {
		out, _, err := runCLI(t, env, "history")
		return err == nil && strings.Contains(out, "movie.mkv")
	}, "cancelled item never showed up in history output")
}

func TestTestNotifyWithoutTopic(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "test-notify")
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "ntfy topic not configured")
}
