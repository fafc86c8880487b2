package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"telecine/internal/queue"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	journal, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { journal.Close() })
	return journal
}

func terminalItem(id string, status queue.Status) *queue.Item {
	now := time.Now().UTC()
	return &queue.Item{
		ID:         id,
		InputPath:  "/media/" + id + ".mkv",
		OutputPath: "/out/" + id + ".mkv",
		Status:     status,
		Settings:   queue.Settings{Quality: 27},
		AddedAt:    now.Add(-time.Hour),
		StartedAt:  now.Add(-30 * time.Minute),
		FinishedAt: now,
	}
}

func TestAppendAndList(t *testing.T) {
	journal := openJournal(t)
	ctx := context.Background()

	if err := journal.Append(ctx, terminalItem("a", queue.StatusCompleted)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := journal.Append(ctx, terminalItem("b", queue.StatusError)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err := journal.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	byID := map[string]Entry{}
	for _, e := range entries {
		byID[e.ItemID] = e
	}
	if byID["a"].Status != queue.StatusCompleted || byID["b"].Status != queue.StatusError {
		t.Fatalf("statuses wrong: %+v", byID)
	}
	if byID["a"].Quality != 27 {
		t.Fatalf("quality not journaled: %+v", byID["a"])
	}
}

func TestAppendRejectsNonTerminal(t *testing.T) {
	journal := openJournal(t)
	item := terminalItem("a", queue.StatusTranscoding)
	if err := journal.Append(context.Background(), item); err == nil {
		t.Fatal("non-terminal items must be rejected")
	}
}

func TestListLimit(t *testing.T) {
	journal := openJournal(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := journal.Append(ctx, terminalItem(id, queue.StatusCompleted)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	entries, err := journal.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
}

func TestPrune(t *testing.T) {
	journal := openJournal(t)
	ctx := context.Background()
	if err := journal.Append(ctx, terminalItem("old", queue.StatusCancelled)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Nothing is older than an hour yet.
	deleted, err := journal.Prune(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("deleted = %d, want 0", deleted)
	}

	// A zero retention prunes everything recorded before now.
	deleted, err = journal.Prune(ctx, -time.Second)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
}
