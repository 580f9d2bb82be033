package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"trainingportal/internal/model"
)

// DeadlineSource serves deadline records of one target type.
type DeadlineSource struct {
	mu         sync.RWMutex
	targetType model.TargetType
	records    []model.DeadlineRecord
	err        error
}

func NewDeadlineSource(targetType model.TargetType, records ...model.DeadlineRecord) *DeadlineSource {
	for i := range records {
		records[i].Type = targetType
	}
	return &DeadlineSource{targetType: targetType, records: records}
}

// Add appends a record.
func (s *DeadlineSource) Add(rec model.DeadlineRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Type = s.targetType
	s.records = append(s.records, rec)
}

// SetError makes subsequent queries fail with err.
func (s *DeadlineSource) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *DeadlineSource) ListInWindow(_ context.Context, window model.TimeRange) ([]model.DeadlineRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.err != nil {
		return nil, fmt.Errorf("%w: %s: %v", model.ErrQuery, s.targetType, s.err)
	}
	var out []model.DeadlineRecord
	for _, rec := range s.records {
		if window.Contains(rec.Deadline) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Deadline.Before(out[j].Deadline)
	})
	return out, nil
}

func (s *DeadlineSource) Get(_ context.Context, id int64) (*model.DeadlineRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.records {
		if rec.ID == id {
			out := rec
			return &out, nil
		}
	}
	return nil, fmt.Errorf("%w: %s %d", model.ErrNotFound, s.targetType, id)
}
