// Package schedule runs the one-shot, future-dated notification queue.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"trainingportal/internal/model"
	"trainingportal/internal/service/delivery"
	"trainingportal/pkg/metrics"
	"trainingportal/pkg/otel"
)

type Store interface {
	Create(ctx context.Context, entry *model.ScheduleEntry) error
	Get(ctx context.Context, id string) (*model.ScheduleEntry, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]model.ScheduleEntry, error)
	MarkProcessing(ctx context.Context, id string, now time.Time) (bool, error)
	MarkCompleted(ctx context.Context, id string, now time.Time) error
	MarkFailed(ctx context.Context, id string, now time.Time, message string, retryCount int, nextRun *time.Time) error
	ReclaimStale(ctx context.Context, claimedBefore, now time.Time) (int, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, kind model.Kind, target model.Target, payload model.Payload) (*delivery.Report, error)
}

// RetryMode decides what a failed run does to retry_count and next_run.
type RetryMode string

const (
	// RetryNone records the failure and leaves the entry failed for good.
	RetryNone RetryMode = "none"
	// RetryBackoff re-arms the entry with linear backoff until max_retries
	// retries have run, so an entry gets at most 1+max_retries attempts.
	RetryBackoff RetryMode = "backoff"
)

type Config struct {
	BatchSize   int
	MaxRetries  int
	RetryMode   RetryMode
	BackoffBase time.Duration

	// ClaimTimeout is how long an entry may stay processing before a later
	// run takes it back.
	ClaimTimeout time.Duration
}

// Request is a schedule call.
type Request struct {
	Kind        model.Kind    `json:"kind"`
	Target      model.Target  `json:"target"`
	TriggerTime time.Time     `json:"trigger_time"`
	Payload     model.Payload `json:"payload"`
	MaxRetries  int           `json:"max_retries,omitempty"`
}

type EntryError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// Summary is the outcome of one ProcessDue run.
type Summary struct {
	StartedAt time.Time    `json:"started_at"`
	Selected  int          `json:"selected"`
	Completed int          `json:"completed"`
	Failed    int          `json:"failed"`
	Rearmed   int          `json:"rearmed"`
	Skipped   int          `json:"skipped"`
	Reclaimed int          `json:"reclaimed"`
	Errors    []EntryError `json:"errors"`
}

// Err joins the recorded entry errors.
func (s *Summary) Err() error {
	if len(s.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(s.Errors))
	for i, e := range s.Errors {
		errs[i] = fmt.Errorf("schedule entry %s: %s", e.ID, e.Error)
	}
	return errors.Join(errs...)
}

type Processor struct {
	store     Store
	deliverer Deliverer
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

func NewProcessor(cfg Config, store Store, deliverer Deliverer, logger *zap.Logger) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = model.DefaultMaxRetries
	}
	if cfg.RetryMode == "" {
		cfg.RetryMode = RetryBackoff
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 15 * time.Minute
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = 30 * time.Minute
	}
	return &Processor{
		store:     store,
		deliverer: deliverer,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (p *Processor) SetClock(now func() time.Time) {
	p.now = now
}

// Schedule stores a pending entry and returns it with its id.
func (p *Processor) Schedule(ctx context.Context, req Request) (*model.ScheduleEntry, error) {
	if !req.Kind.Schedulable() {
		return nil, fmt.Errorf("%w: %q cannot be scheduled", model.ErrInvalidKind, req.Kind)
	}
	if _, err := model.ParseTargetType(string(req.Target.Type)); err != nil {
		return nil, err
	}
	if req.Target.ID <= 0 {
		return nil, fmt.Errorf("%w: target_id must be positive", model.ErrInvalidTarget)
	}
	if req.TriggerTime.IsZero() {
		return nil, fmt.Errorf("%w: trigger_time is required", model.ErrInvalidSchedule)
	}
	if req.MaxRetries < 0 {
		return nil, fmt.Errorf("%w: max_retries must not be negative", model.ErrInvalidSchedule)
	}

	maxRetries := req.MaxRetries
	if maxRetries == 0 {
		maxRetries = p.cfg.MaxRetries
	}
	entry := &model.ScheduleEntry{
		NotificationType: req.Kind,
		TargetID:         req.Target.ID,
		TargetType:       req.Target.Type,
		TriggerTime:      req.TriggerTime.UTC(),
		MaxRetries:       maxRetries,
		Payload:          req.Payload,
	}
	if err := p.store.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Get returns one entry.
func (p *Processor) Get(ctx context.Context, id string) (*model.ScheduleEntry, error) {
	return p.store.Get(ctx, id)
}

// ProcessDue delivers up to one batch of due entries, oldest trigger first.
// Entries are independent: a failure is recorded on the entry and the batch
// continues. Only a failure to list the batch is returned as an error.
func (p *Processor) ProcessDue(ctx context.Context) (*Summary, error) {
	ctx, span := otel.StartSpan(ctx, "schedule.process_due")
	defer span.End()

	now := p.now()
	summary := &Summary{StartedAt: now, Errors: []EntryError{}}

	// entries left processing by a crashed run or a failed status write
	reclaimed, err := p.store.ReclaimStale(ctx, now.Add(-p.cfg.ClaimTimeout), now)
	if err != nil {
		p.logger.Error("Failed to reclaim stale schedule entries", zap.Error(err))
		summary.Errors = append(summary.Errors, EntryError{Error: err.Error()})
	} else if reclaimed > 0 {
		summary.Reclaimed = reclaimed
		p.logger.Warn("Reclaimed stale schedule entries", zap.Int("count", reclaimed))
	}

	entries, err := p.store.ListDue(ctx, now, p.cfg.BatchSize)
	if err != nil {
		span.RecordError(err)
		p.logger.Error("Failed to list due schedule entries", zap.Error(err))
		return nil, err
	}
	summary.Selected = len(entries)

	for i := range entries {
		p.processOne(ctx, &entries[i], summary)
	}

	span.SetAttributes(
		attribute.Int("schedule.selected", summary.Selected),
		attribute.Int("schedule.completed", summary.Completed),
		attribute.Int("schedule.failed", summary.Failed),
	)
	p.logger.Info("Schedule queue processed",
		zap.String("job", "schedule_queue"),
		zap.Int("selected", summary.Selected),
		zap.Int("completed", summary.Completed),
		zap.Int("failed", summary.Failed),
		zap.Int("rearmed", summary.Rearmed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("reclaimed", summary.Reclaimed),
	)
	return summary, nil
}

func (p *Processor) processOne(ctx context.Context, entry *model.ScheduleEntry, summary *Summary) {
	log := p.logger.With(
		zap.String("schedule_id", entry.ID),
		zap.String("notification_type", entry.NotificationType.String()),
		zap.String("target", entry.Target().String()),
	)

	claimed, err := p.store.MarkProcessing(ctx, entry.ID, p.now())
	if err != nil {
		log.Error("Failed to claim schedule entry", zap.Error(err))
		summary.Errors = append(summary.Errors, EntryError{ID: entry.ID, Error: err.Error()})
		return
	}
	if !claimed {
		summary.Skipped++
		return
	}

	report, deliverErr := p.deliverer.Deliver(ctx, entry.NotificationType, entry.Target(), entry.Payload)
	finishedAt := p.now()

	if deliverErr == nil && !report.AllFailed() {
		if err := p.store.MarkCompleted(ctx, entry.ID, finishedAt); err != nil {
			log.Error("Failed to complete schedule entry", zap.Error(err))
			summary.Errors = append(summary.Errors, EntryError{ID: entry.ID, Error: err.Error()})
			return
		}
		summary.Completed++
		metrics.IncrementScheduleProcessed("completed")
		log.Info("Schedule entry completed", zap.Int("sent", report.Sent))
		return
	}

	message := failureMessage(report, deliverErr)
	retryCount, nextRun := p.nextAttempt(entry, finishedAt)

	if err := p.store.MarkFailed(ctx, entry.ID, finishedAt, message, retryCount, nextRun); err != nil {
		log.Error("Failed to record schedule entry failure", zap.Error(err))
		summary.Errors = append(summary.Errors, EntryError{ID: entry.ID, Error: err.Error()})
		return
	}

	summary.Failed++
	summary.Errors = append(summary.Errors, EntryError{ID: entry.ID, Error: message})
	result := "failed"
	if nextRun != nil {
		summary.Rearmed++
		result = "rearmed"
	}
	metrics.IncrementScheduleProcessed(result)
	log.Warn("Schedule entry failed",
		zap.String("error", message),
		zap.Int("retry_count", retryCount),
		zap.Int("max_retries", entry.MaxRetries),
		zap.Bool("rearmed", nextRun != nil),
	)
}

// nextAttempt returns the retry_count to store and next_run, nil when the
// entry is not re-armed. retry_count counts the retries scheduled so far.
func (p *Processor) nextAttempt(entry *model.ScheduleEntry, now time.Time) (int, *time.Time) {
	if p.cfg.RetryMode != RetryBackoff || entry.RetryCount >= entry.MaxRetries {
		return entry.RetryCount, nil
	}
	retryCount := entry.RetryCount + 1
	next := now.Add(time.Duration(retryCount) * p.cfg.BackoffBase)
	return retryCount, &next
}

func failureMessage(report *delivery.Report, err error) string {
	if err != nil {
		return err.Error()
	}
	if len(report.Failures) > 0 {
		return fmt.Sprintf("all %d recipients failed: %s", report.Failed, report.Failures[0].Error)
	}
	return "delivery failed"
}
