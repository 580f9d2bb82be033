// Package scheduler drives the reminder and schedule-queue jobs on cron
// triggers and guards every job with its own lock.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"trainingportal/internal/model"
	"trainingportal/internal/service/reminder"
	"trainingportal/internal/service/schedule"
	"trainingportal/pkg/metrics"
	"trainingportal/pkg/otel"
)

const (
	JobDeadlineReminders = "deadline_reminders"
	JobOverdue           = "overdue"
	JobScheduleQueue     = "schedule_queue"
)

type ReminderRunner interface {
	EvaluateDeadlineWindows(ctx context.Context) *reminder.Summary
	EvaluateOverdue(ctx context.Context) *reminder.Summary
}

type QueueRunner interface {
	ProcessDue(ctx context.Context) (*schedule.Summary, error)
}

type Config struct {
	ReminderSpec string // daily trigger
	QueueSpec    string // hourly trigger
	RunOnStart   bool
}

type Scheduler struct {
	cron      *cron.Cron
	reminders ReminderRunner
	queue     QueueRunner
	cfg       Config
	locks     map[string]*sync.Mutex
	logger    *zap.Logger

	mu       sync.Mutex
	stopping bool
	inflight sync.WaitGroup
}

func New(cfg Config, reminders ReminderRunner, queue QueueRunner, logger *zap.Logger) (*Scheduler, error) {
	if cfg.ReminderSpec == "" {
		cfg.ReminderSpec = "@daily"
	}
	if cfg.QueueSpec == "" {
		cfg.QueueSpec = "@hourly"
	}

	cl := cronLogger{logger: logger.Sugar()}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		reminders: reminders,
		queue:     queue,
		cfg:       cfg,
		locks: map[string]*sync.Mutex{
			JobDeadlineReminders: {},
			JobOverdue:           {},
			JobScheduleQueue:     {},
		},
		logger: logger,
	}

	if _, err := s.cron.AddFunc(cfg.ReminderSpec, s.reminderTick); err != nil {
		return nil, fmt.Errorf("invalid reminder spec %q: %w", cfg.ReminderSpec, err)
	}
	if _, err := s.cron.AddFunc(cfg.QueueSpec, s.queueTick); err != nil {
		return nil, fmt.Errorf("invalid queue spec %q: %w", cfg.QueueSpec, err)
	}
	return s, nil
}

// Start begins both triggers.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started",
		zap.String("reminder_spec", s.cfg.ReminderSpec),
		zap.String("queue_spec", s.cfg.QueueSpec),
	)

	if s.cfg.RunOnStart {
		s.mu.Lock()
		s.inflight.Add(1)
		s.mu.Unlock()
		go func() {
			defer s.inflight.Done()
			s.reminderTick()
			s.queueTick()
		}()
	}
}

// Stop cancels both triggers, rejects new manual runs and waits for
// in-flight runs, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	cronDone := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out with jobs still running")
		return ctx.Err()
	}
}

// reminderTick runs the daily jobs. A job still running from an earlier
// tick is skipped, not queued.
func (s *Scheduler) reminderTick() {
	ctx := context.Background()
	if _, err := s.RunDeadlineReminders(ctx); err != nil {
		s.logger.Warn("Periodic job not run", zap.String("job", JobDeadlineReminders), zap.Error(err))
	}
	if _, err := s.RunOverdue(ctx); err != nil {
		s.logger.Warn("Periodic job not run", zap.String("job", JobOverdue), zap.Error(err))
	}
}

func (s *Scheduler) queueTick() {
	if _, err := s.RunScheduleQueue(context.Background()); err != nil {
		s.logger.Error("Periodic job failed", zap.String("job", JobScheduleQueue), zap.Error(err))
	}
}

// RunDeadlineReminders runs the week and day windows now. It returns
// model.ErrJobRunning when the job is already running.
func (s *Scheduler) RunDeadlineReminders(ctx context.Context) (*reminder.Summary, error) {
	return runJob(s, ctx, JobDeadlineReminders, func(ctx context.Context) (*reminder.Summary, error) {
		return s.reminders.EvaluateDeadlineWindows(ctx), nil
	})
}

func (s *Scheduler) RunOverdue(ctx context.Context) (*reminder.Summary, error) {
	return runJob(s, ctx, JobOverdue, func(ctx context.Context) (*reminder.Summary, error) {
		return s.reminders.EvaluateOverdue(ctx), nil
	})
}

func (s *Scheduler) RunScheduleQueue(ctx context.Context) (*schedule.Summary, error) {
	return runJob(s, ctx, JobScheduleQueue, s.queue.ProcessDue)
}

type partialResult interface {
	Err() error
}

func runJob[T partialResult](s *Scheduler, ctx context.Context, job string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return zero, fmt.Errorf("%w: %s", model.ErrShuttingDown, job)
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	lock := s.locks[job]
	if !lock.TryLock() {
		metrics.RecordJobRun(job, "skipped", 0)
		return zero, fmt.Errorf("%w: %s", model.ErrJobRunning, job)
	}
	defer lock.Unlock()

	ctx, span := otel.StartSpan(ctx, "job."+job)
	defer span.End()

	start := time.Now()
	s.logger.Info("Job started", zap.String("job", job))

	res, err := fn(ctx)
	duration := time.Since(start)

	result := "success"
	switch {
	case err != nil:
		result = "error"
		span.RecordError(err)
	case res.Err() != nil:
		result = "partial"
	}
	metrics.RecordJobRun(job, result, duration)

	s.logger.Info("Job finished",
		zap.String("job", job),
		zap.String("result", result),
		zap.Duration("duration", duration),
	)
	return res, err
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
