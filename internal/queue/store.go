// Package queue holds the in-memory item store and its status lifecycle.
// The store is the single source of scheduling truth: it validates every
// status transition and only ever hands out deep copies, so callers observe
// consistent snapshots while the managers mutate under their own locks.
package queue

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"telecine/internal/errkind"
	"telecine/internal/progress"
)

// Store is the in-memory queue. Items live in a dense slice kept in priority
// order with a side index from ID to slot, so snapshot reads are a straight
// copy and removal is a single shift.
type Store struct {
	mu    sync.RWMutex
	items []*Item
	index map[string]int
}

// NewStore returns an empty queue store.
func NewStore() *Store {
	return &Store{index: make(map[string]int)}
}

// Add appends a new item at the lowest priority (end of the queue) and
// returns a snapshot of it. The ID is generated here.
func (s *Store) Add(inputPath, outputPath string, settings Settings) (*Item, error) {
	inputPath = strings.TrimSpace(inputPath)
	if inputPath == "" {
		return nil, errkind.Wrap(errkind.ErrValidation, "queue", "add", "input path is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item := &Item{
		ID:         uuid.NewString(),
		InputPath:  inputPath,
		OutputPath: strings.TrimSpace(outputPath),
		Status:     StatusPending,
		Priority:   len(s.items),
		Settings:   settings,
		AddedAt:    time.Now(),
	}
	s.index[item.ID] = len(s.items)
	s.items = append(s.items, item)
	return item.Clone(), nil
}

// Get returns a snapshot of one item.
func (s *Store) Get(id string) (*Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.items[slot].Clone(), true
}

// Items returns snapshots of all items in priority order.
func (s *Store) Items() []*Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Item, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item.Clone())
	}
	return out
}

// Len returns the current queue size.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Counts returns the number of items per status.
func (s *Store) Counts() map[Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[Status]int, len(allStatuses))
	for _, item := range s.items {
		counts[item.Status]++
	}
	return counts
}

// CountByStatus returns how many items currently hold any of the given
// statuses.
func (s *Store) CountByStatus(statuses ...Status) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, item := range s.items {
		for _, status := range statuses {
			if item.Status == status {
				count++
				break
			}
		}
	}
	return count
}

// ClaimNext atomically selects the lowest-priority item holding one of the
// eligible statuses and moves it to claimStatus. The pick-and-mark is a
// single critical section so concurrent pollers can never claim the same
// item twice.
func (s *Store) ClaimNext(claimStatus Status, eligible ...Status) (*Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		for _, status := range eligible {
			if item.Status != status {
				continue
			}
			if !CanTransition(item.Status, claimStatus) {
				continue
			}
			item.Status = claimStatus
			if claimStatus == StatusTranscoding && item.StartedAt.IsZero() {
				item.StartedAt = time.Now()
			}
			return item.Clone(), true
		}
	}
	return nil, false
}

// SetStatus moves an item through the lifecycle, validating the transition.
func (s *Store) SetStatus(id string, to Status) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, err := s.lookup(id, "set status")
	if err != nil {
		return nil, err
	}
	if !CanTransition(item.Status, to) {
		return nil, errkind.Wrap(errkind.ErrInvalidOperation, "queue", "set status",
			fmt.Sprintf("cannot move item from %s to %s", item.Status, to), nil)
	}
	s.applyStatus(item, to)
	return item.Clone(), nil
}

// MarkError moves an item to error with a display message. The encoder's raw
// diagnostics belong in logs, not here.
func (s *Store) MarkError(id, message string) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, err := s.lookup(id, "mark error")
	if err != nil {
		return nil, err
	}
	if !CanTransition(item.Status, StatusError) {
		return nil, errkind.Wrap(errkind.ErrInvalidOperation, "queue", "mark error",
			fmt.Sprintf("cannot fail item in status %s", item.Status), nil)
	}
	item.ErrorMessage = message
	s.applyStatus(item, StatusError)
	return item.Clone(), nil
}

// Cancel moves an item to cancelled. It succeeds from any non-terminal
// status; cancelling a terminal item is an invalid operation.
func (s *Store) Cancel(id string) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, err := s.lookup(id, "cancel")
	if err != nil {
		return nil, err
	}
	if item.Status.IsTerminal() {
		return nil, errkind.Wrap(errkind.ErrInvalidOperation, "queue", "cancel",
			fmt.Sprintf("item already %s", item.Status), nil)
	}
	s.applyStatus(item, StatusCancelled)
	return item.Clone(), nil
}

// Retry moves an errored item back to pending. This is the only path out of
// a terminal status; progress and the error message are cleared.
func (s *Store) Retry(id string) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, err := s.lookup(id, "retry")
	if err != nil {
		return nil, err
	}
	if item.Status != StatusError {
		return nil, errkind.Wrap(errkind.ErrInvalidOperation, "queue", "retry",
			fmt.Sprintf("only errored items can be retried, item is %s", item.Status), nil)
	}
	item.Status = StatusPending
	item.ErrorMessage = ""
	item.Progress = nil
	item.StartedAt = time.Time{}
	item.FinishedAt = time.Time{}
	return item.Clone(), nil
}

// SetProgress attaches the latest progress record to a transcoding item.
// Records arriving after the item left transcoding are dropped.
func (s *Store) SetProgress(id string, rec progress.Record) (*Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.index[id]
	if !ok {
		return nil, false
	}
	item := s.items[slot]
	if item.Status != StatusTranscoding {
		return nil, false
	}
	item.Progress = &rec
	return item.Clone(), true
}

// SetDuration records the probed total duration learned while analyzing.
func (s *Store) SetDuration(id string, seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot, ok := s.index[id]; ok {
		s.items[slot].DurationSeconds = seconds
	}
}

// SetQuality records the encode quality settled while analyzing.
func (s *Store) SetQuality(id string, quality int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot, ok := s.index[id]; ok {
		s.items[slot].Settings.Quality = quality
	}
}

// UpdateSettings replaces an item's encode settings. Only items that have
// not started work (pending or ready) accept changes.
func (s *Store) UpdateSettings(id string, settings Settings) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, err := s.lookup(id, "update settings")
	if err != nil {
		return nil, err
	}
	if item.Status != StatusPending && item.Status != StatusReady {
		return nil, errkind.Wrap(errkind.ErrInvalidOperation, "queue", "update settings",
			fmt.Sprintf("settings are frozen once work starts, item is %s", item.Status), nil)
	}
	item.Settings = settings
	return item.Clone(), nil
}

// Remove deletes an item. Items holding a live process (transcoding or
// paused) must be cancelled first.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, err := s.lookup(id, "remove")
	if err != nil {
		return err
	}
	if item.Status.IsActive() {
		return errkind.Wrap(errkind.ErrInvalidOperation, "queue", "remove",
			"cancel the item before removing it", nil)
	}
	s.removeSlot(s.index[id])
	return nil
}

// ClearCompleted drops every terminal item and returns the removed
// snapshots in their former priority order.
func (s *Store) ClearCompleted() []*Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []*Item
	kept := s.items[:0]
	for _, item := range s.items {
		if item.Status.IsTerminal() {
			removed = append(removed, item)
			delete(s.index, item.ID)
			continue
		}
		kept = append(kept, item)
	}
	for i := len(kept); i < len(s.items); i++ {
		s.items[i] = nil
	}
	s.items = kept
	s.reindex()
	return removed
}

// Reorder rearranges the queue to match the given ID order and renumbers
// priorities densely from zero. IDs missing from the list keep their
// relative order after the listed ones; unknown IDs are rejected.
func (s *Store) Reorder(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(ids))
	ordered := make([]*Item, 0, len(s.items))
	for _, id := range ids {
		slot, ok := s.index[id]
		if !ok {
			return errkind.Wrap(errkind.ErrNotFound, "queue", "reorder",
				fmt.Sprintf("unknown item %s", id), nil)
		}
		if _, dup := seen[id]; dup {
			return errkind.Wrap(errkind.ErrValidation, "queue", "reorder",
				fmt.Sprintf("item %s listed twice", id), nil)
		}
		seen[id] = struct{}{}
		ordered = append(ordered, s.items[slot])
	}
	for _, item := range s.items {
		if _, ok := seen[item.ID]; !ok {
			ordered = append(ordered, item)
		}
	}
	s.items = ordered
	s.reindex()
	return nil
}

// ActiveIDs returns the IDs of items holding a live process, in priority
// order.
func (s *Store) ActiveIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for _, item := range s.items {
		if item.Status.IsActive() {
			ids = append(ids, item.ID)
		}
	}
	return ids
}

// HasStartableWork reports whether any item could still be picked up.
func (s *Store) HasStartableWork() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.items {
		if !item.Status.IsTerminal() {
			return true
		}
	}
	return false
}

func (s *Store) lookup(id string, operation string) (*Item, error) {
	slot, ok := s.index[id]
	if !ok {
		return nil, errkind.Wrap(errkind.ErrNotFound, "queue", operation,
			fmt.Sprintf("no item with id %s", id), nil)
	}
	return s.items[slot], nil
}

func (s *Store) applyStatus(item *Item, to Status) {
	item.Status = to
	switch to {
	case StatusTranscoding:
		if item.StartedAt.IsZero() {
			item.StartedAt = time.Now()
		}
	case StatusCompleted, StatusError, StatusCancelled, StatusSkipped:
		item.FinishedAt = time.Now()
	}
}

func (s *Store) removeSlot(slot int) {
	delete(s.index, s.items[slot].ID)
	s.items = append(s.items[:slot], s.items[slot+1:]...)
	s.reindex()
}

// reindex rebuilds the ID index and renumbers priorities to match slice
// order. Priorities stay dense so reorder semantics survive removals.
func (s *Store) reindex() {
	for slot, item := range s.items {
		item.Priority = slot
		s.index[item.ID] = slot
	}
}

// SortSnapshotsByPriority orders item snapshots the way the queue holds
// them. Useful for callers that merged snapshots from multiple reads.
func SortSnapshotsByPriority(items []*Item) {
	sort.SliceStable(items, func(a, b int) bool {
		return items[a].Priority < items[b].Priority
	})
}
