// Package memory holds in-process stores used by tests and the memory storage driver.
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

// LogStore is an in-memory notification log.
type LogStore struct {
	mu   sync.RWMutex
	rows map[string]*model.NotificationLog
	now  func() time.Time
}

func NewLogStore() *LogStore {
	return &LogStore{
		rows: make(map[string]*model.NotificationLog),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the creation timestamp source.
func (s *LogStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *LogStore) Create(_ context.Context, entry *model.NotificationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if _, exists := s.rows[entry.ID]; exists {
		return fmt.Errorf("%w: duplicate notification log %s", model.ErrPersistence, entry.ID)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	entry.Status = model.LogPending

	row := *entry
	s.rows[row.ID] = &row
	return nil
}

func (s *LogStore) MarkSent(_ context.Context, id string, sentAt time.Time) error {
	return s.transition(id, func(row *model.NotificationLog) {
		row.Status = model.LogSent
		row.SentAt = &sentAt
	})
}

func (s *LogStore) MarkFailed(_ context.Context, id string, message string) error {
	return s.transition(id, func(row *model.NotificationLog) {
		row.Status = model.LogFailed
		row.ErrorMessage = message
	})
}

func (s *LogStore) transition(id string, apply func(*model.NotificationLog)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok || row.Status != model.LogPending {
		return fmt.Errorf("%w: notification log %s is not pending", model.ErrPersistence, id)
	}
	apply(row)
	return nil
}

// HasRecent ignores failed rows so a failed tick does not suppress the next one.
func (s *LogStore) HasRecent(_ context.Context, kind model.Kind, target model.Target, since time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, row := range s.rows {
		if row.Status == model.LogFailed {
			continue
		}
		if row.Kind == kind && row.Target() == target && !row.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (s *LogStore) ListRecent(_ context.Context, limit int) ([]model.NotificationLog, error) {
	rows := s.All()
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})
	if limit >= 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (s *LogStore) Stats(_ context.Context, since time.Time) (*model.LogStats, error) {
	stats := &model.LogStats{
		Since:    since,
		ByStatus: make(map[model.LogStatus]int),
		ByKind:   make(map[model.Kind]int),
	}
	for _, row := range s.All() {
		if row.CreatedAt.Before(since) {
			continue
		}
		stats.Total++
		stats.ByStatus[row.Status]++
		stats.ByKind[row.Kind]++
	}
	return stats, nil
}

func (s *LogStore) GetByID(_ context.Context, id string) (*model.NotificationLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: notification log %s", model.ErrNotFound, id)
	}
	out := *row
	return &out, nil
}

// All returns a copy of every row in unspecified order.
func (s *LogStore) All() []model.NotificationLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.NotificationLog, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, *row)
	}
	return out
}

// Ping always succeeds.
func (s *LogStore) Ping(context.Context) error { return nil }
