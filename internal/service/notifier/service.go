// Package notifier is the entry point portal code calls: immediate
// notifications, scheduling, manual job runs, and log reads.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trainingportal/internal/model"
	"trainingportal/internal/service/delivery"
	"trainingportal/internal/service/reminder"
	"trainingportal/internal/service/schedule"
	"trainingportal/pkg/logger"
)

const (
	DefaultLogLimit = 50
	MaxLogLimit     = 500
	StatsWindow     = 30 * 24 * time.Hour
)

type Pipeline interface {
	Deliver(ctx context.Context, kind model.Kind, target model.Target, payload model.Payload) (*delivery.Report, error)
	DeliverTo(ctx context.Context, kind model.Kind, target model.Target, payload model.Payload, recipient model.Recipient) (*delivery.Outcome, error)
}

type RecipientLookup interface {
	GetRecipient(ctx context.Context, id int64) (*model.Recipient, error)
}

type EntityLookup interface {
	Get(ctx context.Context, id int64) (*model.DeadlineRecord, error)
}

type ScheduleQueue interface {
	Schedule(ctx context.Context, req schedule.Request) (*model.ScheduleEntry, error)
	Get(ctx context.Context, id string) (*model.ScheduleEntry, error)
}

type Jobs interface {
	Start()
	Stop(ctx context.Context) error
	RunDeadlineReminders(ctx context.Context) (*reminder.Summary, error)
	RunOverdue(ctx context.Context) (*reminder.Summary, error)
	RunScheduleQueue(ctx context.Context) (*schedule.Summary, error)
}

type LogReader interface {
	ListRecent(ctx context.Context, limit int) ([]model.NotificationLog, error)
	Stats(ctx context.Context, since time.Time) (*model.LogStats, error)
	GetByID(ctx context.Context, id string) (*model.NotificationLog, error)
}

// Deps are the collaborators of a Service.
type Deps struct {
	Pipeline   Pipeline
	Recipients RecipientLookup
	Entities   map[model.TargetType]EntityLookup
	Schedule   ScheduleQueue
	Jobs       Jobs
	Logs       LogReader
}

type Service struct {
	deps   Deps
	logger *zap.Logger
	now    func() time.Time

	tasks    sync.WaitGroup
	mu       sync.Mutex
	stopping bool
}

func New(deps Deps, logger *zap.Logger) *Service {
	return &Service{
		deps:   deps,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ErrShuttingDown is returned for new broadcasts and job runs after Stop has begun.
var ErrShuttingDown = model.ErrShuttingDown

// Start starts the periodic jobs.
func (s *Service) Start() {
	if s.deps.Jobs != nil {
		s.deps.Jobs.Start()
	}
}

// Stop stops new broadcasts, stops the periodic jobs, and waits for all
// in-flight work, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	var jobsErr error
	if s.deps.Jobs != nil {
		jobsErr = s.deps.Jobs.Stop(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(jobsErr, fmt.Errorf("waiting for broadcast tasks: %w", ctx.Err()))
	}
	return jobsErr
}

// NotifyNew broadcasts that the entity targetID of the type kind announces
// was published.
func (s *Service) NotifyNew(ctx context.Context, kind model.Kind, targetID int64) (*Task, error) {
	targetType, ok := kind.PublishedTargetType()
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a publish kind", model.ErrInvalidKind, kind)
	}
	target := model.Target{ID: targetID, Type: targetType}

	rec, err := s.lookupEntity(ctx, target)
	if err != nil {
		return nil, err
	}
	payload := entityPayload(rec)

	return s.spawn(ctx, func(ctx context.Context) (*delivery.Report, error) {
		return s.deps.Pipeline.Deliver(ctx, kind, target, payload)
	})
}

// NotifyUpdate broadcasts the changed fields of an entity.
func (s *Service) NotifyUpdate(ctx context.Context, target model.Target, changes map[string]any) (*Task, error) {
	if _, err := model.ParseTargetType(string(target.Type)); err != nil {
		return nil, err
	}

	rec, err := s.lookupEntity(ctx, target)
	if err != nil {
		return nil, err
	}
	payload := entityPayload(rec)
	payload["changes"] = changes

	return s.spawn(ctx, func(ctx context.Context) (*delivery.Report, error) {
		return s.deps.Pipeline.Deliver(ctx, model.KindUpdate, target, payload)
	})
}

// NotifyCompletion tells one user they completed a workstream.
func (s *Service) NotifyCompletion(ctx context.Context, userID, workstreamID int64) (*delivery.Outcome, error) {
	recipient, err := s.deps.Recipients.GetRecipient(ctx, userID)
	if err != nil {
		return nil, err
	}
	target := model.Target{ID: workstreamID, Type: model.TargetWorkstream}
	rec, err := s.lookupEntity(ctx, target)
	if err != nil {
		return nil, err
	}
	return s.deps.Pipeline.DeliverTo(ctx, model.KindCompletion, target, entityPayload(rec), *recipient)
}

func (s *Service) Schedule(ctx context.Context, req schedule.Request) (*model.ScheduleEntry, error) {
	return s.deps.Schedule.Schedule(ctx, req)
}

func (s *Service) GetSchedule(ctx context.Context, id string) (*model.ScheduleEntry, error) {
	return s.deps.Schedule.Get(ctx, id)
}

func (s *Service) CheckDeadlineReminders(ctx context.Context) (*reminder.Summary, error) {
	return s.deps.Jobs.RunDeadlineReminders(ctx)
}

func (s *Service) CheckOverdue(ctx context.Context) (*reminder.Summary, error) {
	return s.deps.Jobs.RunOverdue(ctx)
}

func (s *Service) ProcessScheduleQueue(ctx context.Context) (*schedule.Summary, error) {
	return s.deps.Jobs.RunScheduleQueue(ctx)
}

// ListRecent returns the newest log rows. limit is clamped to [1, MaxLogLimit];
// zero or negative means DefaultLogLimit.
func (s *Service) ListRecent(ctx context.Context, limit int) ([]model.NotificationLog, error) {
	switch {
	case limit <= 0:
		limit = DefaultLogLimit
	case limit > MaxLogLimit:
		limit = MaxLogLimit
	}
	return s.deps.Logs.ListRecent(ctx, limit)
}

// Stats aggregates log rows over the trailing StatsWindow. The window start
// is truncated to the minute.
func (s *Service) Stats(ctx context.Context) (*model.LogStats, error) {
	since := s.now().Truncate(time.Minute).Add(-StatsWindow)
	return s.deps.Logs.Stats(ctx, since)
}

// GetLog returns one log row.
func (s *Service) GetLog(ctx context.Context, id string) (*model.NotificationLog, error) {
	return s.deps.Logs.GetByID(ctx, id)
}

func (s *Service) lookupEntity(ctx context.Context, target model.Target) (*model.DeadlineRecord, error) {
	lookup, ok := s.deps.Entities[target.Type]
	if !ok {
		return nil, fmt.Errorf("%w: no source for %s", model.ErrInvalidTarget, target.Type)
	}
	return lookup.Get(ctx, target.ID)
}

func (s *Service) spawn(ctx context.Context, fn func(context.Context) (*delivery.Report, error)) (*Task, error) {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}
	s.tasks.Add(1)
	s.mu.Unlock()

	task := newTask(uuid.NewString())
	log := logger.WithTrace(ctx, s.logger).With(zap.String("task_id", task.ID))
	// the broadcast outlives the request that started it
	taskCtx := context.WithoutCancel(ctx)

	go func() {
		defer s.tasks.Done()
		report, err := fn(taskCtx)
		if err != nil {
			log.Error("Broadcast task failed", zap.Error(err))
		} else {
			log.Info("Broadcast task finished", zap.Int("sent", report.Sent), zap.Int("failed", report.Failed))
		}
		task.finish(report, err)
	}()
	return task, nil
}

func entityPayload(rec *model.DeadlineRecord) model.Payload {
	p := model.Payload{
		"id":          rec.ID,
		"title":       rec.Title,
		"entity_type": rec.Type.String(),
	}
	if !rec.Deadline.IsZero() {
		p["deadline"] = rec.Deadline
	}
	return p
}
