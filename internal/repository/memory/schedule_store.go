package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"trainingportal/internal/model"
)

// ScheduleStore is an in-memory schedule queue.
type ScheduleStore struct {
	mu      sync.Mutex
	entries map[string]*model.ScheduleEntry
	claimed map[string]time.Time
}

func NewScheduleStore() *ScheduleStore {
	return &ScheduleStore{
		entries: make(map[string]*model.ScheduleEntry),
		claimed: make(map[string]time.Time),
	}
}

func (s *ScheduleStore) Create(_ context.Context, entry *model.ScheduleEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if _, exists := s.entries[entry.ID]; exists {
		return fmt.Errorf("%w: duplicate schedule entry %s", model.ErrPersistence, entry.ID)
	}
	if entry.MaxRetries <= 0 {
		entry.MaxRetries = model.DefaultMaxRetries
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.Status = model.SchedulePending
	entry.RetryCount = 0

	stored := cloneEntry(entry)
	s.entries[entry.ID] = stored
	return nil
}

func (s *ScheduleStore) Get(_ context.Context, id string) (*model.ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: schedule entry %s", model.ErrNotFound, id)
	}
	return cloneEntry(entry), nil
}

func (s *ScheduleStore) ListDue(_ context.Context, now time.Time, limit int) ([]model.ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []model.ScheduleEntry
	for _, entry := range s.entries {
		if entry.Due(now) {
			due = append(due, *cloneEntry(entry))
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].TriggerTime.Before(due[j].TriggerTime)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *ScheduleStore) MarkProcessing(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return false, nil
	}
	if entry.Status != model.SchedulePending && !(entry.Status == model.ScheduleFailed && entry.Due(now)) {
		return false, nil
	}
	entry.Status = model.ScheduleProcessing
	s.claimed[id] = now
	return true, nil
}

func (s *ScheduleStore) ReclaimStale(_ context.Context, claimedBefore, _ time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, at := range s.claimed {
		entry := s.entries[id]
		if entry.Status != model.ScheduleProcessing || !at.Before(claimedBefore) {
			continue
		}
		entry.Status = model.SchedulePending
		entry.LastError = "processing claim expired"
		delete(s.claimed, id)
		n++
	}
	return n, nil
}

func (s *ScheduleStore) MarkCompleted(_ context.Context, id string, now time.Time) error {
	return s.finish(id, func(entry *model.ScheduleEntry) {
		entry.Status = model.ScheduleCompleted
		entry.LastRun = &now
		entry.NextRun = nil
		entry.LastError = ""
	})
}

func (s *ScheduleStore) MarkFailed(_ context.Context, id string, now time.Time, message string, retryCount int, nextRun *time.Time) error {
	return s.finish(id, func(entry *model.ScheduleEntry) {
		entry.Status = model.ScheduleFailed
		entry.LastRun = &now
		entry.LastError = message
		entry.RetryCount = retryCount
		entry.NextRun = nextRun
	})
}

func (s *ScheduleStore) finish(id string, apply func(*model.ScheduleEntry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok || entry.Status != model.ScheduleProcessing {
		return fmt.Errorf("%w: schedule entry %s is not processing", model.ErrPersistence, id)
	}
	apply(entry)
	delete(s.claimed, id)
	return nil
}

func cloneEntry(e *model.ScheduleEntry) *model.ScheduleEntry {
	out := *e
	if e.Payload != nil {
		out.Payload = e.Payload.Clone()
	}
	if e.LastRun != nil {
		t := *e.LastRun
		out.LastRun = &t
	}
	if e.NextRun != nil {
		t := *e.NextRun
		out.NextRun = &t
	}
	return &out
}
