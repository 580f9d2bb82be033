// Package reminder finds entities whose deadlines fall into fixed windows
// relative to now and hands each one to the delivery pipeline.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"trainingportal/internal/model"
	"trainingportal/internal/service/delivery"
	"trainingportal/pkg/otel"
)

const day = 24 * time.Hour

type DeadlineSource interface {
	ListInWindow(ctx context.Context, window model.TimeRange) ([]model.DeadlineRecord, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, kind model.Kind, target model.Target, payload model.Payload) (*delivery.Report, error)
}

// RecentLog answers the log-backed dedupe check.
type RecentLog interface {
	HasRecent(ctx context.Context, kind model.Kind, target model.Target, since time.Time) (bool, error)
}

// Claimer answers the redis-backed dedupe check. Release gives a claim back
// when the delivery it guarded reached nobody.
type Claimer interface {
	AcquireOnce(ctx context.Context, scope, id string, ttl time.Duration) bool
	Release(ctx context.Context, scope, id string)
}

// DedupeMode controls renotification of an entity that stays in a window
// across ticks.
type DedupeMode string

const (
	// DedupeNone notifies on every tick the entity is in the window.
	DedupeNone DedupeMode = "none"
	// DedupeLog skips entities with a log row of the same kind inside the lookback.
	DedupeLog DedupeMode = "log"
	// DedupeRedis skips entities whose claim key has not expired. The claim is
	// released when the delivery errors or sends nothing.
	DedupeRedis DedupeMode = "redis"
)

// Config tunes the evaluator.
type Config struct {
	Dedupe     DedupeMode
	OverdueCap time.Duration
}

// window is one reminder rule.
type window struct {
	kind     model.Kind
	rangeAt  func(now time.Time) model.TimeRange
	lookback time.Duration
}

func deadlineWindows() []window {
	return []window{
		{
			kind: model.KindDeadlineReminderWeek,
			rangeAt: func(now time.Time) model.TimeRange {
				return model.TimeRange{From: now.Add(6 * day), To: now.Add(8 * day)}
			},
			lookback: 2 * day,
		},
		{
			kind: model.KindDeadlineReminderDay,
			rangeAt: func(now time.Time) model.TimeRange {
				return model.TimeRange{From: now, To: now.Add(2 * day)}
			},
			lookback: 2 * day,
		},
	}
}

func overdueWindow(maxAge time.Duration) window {
	return window{
		kind: model.KindOverdue,
		rangeAt: func(now time.Time) model.TimeRange {
			return model.TimeRange{From: now.Add(-maxAge), To: now}
		},
		// under a day so the next daily tick still notifies
		lookback: day - time.Hour,
	}
}

// ItemError records one isolated failure.
type ItemError struct {
	Kind       model.Kind       `json:"kind"`
	TargetType model.TargetType `json:"target_type"`
	TargetID   int64            `json:"target_id,omitempty"`
	Error      string           `json:"error"`
}

// Summary is the outcome of one evaluation run.
type Summary struct {
	StartedAt time.Time   `json:"started_at"`
	Matched   int         `json:"matched"`
	Notified  int         `json:"notified"`
	Skipped   int         `json:"skipped"`
	Sent      int         `json:"sent"`
	Failed    int         `json:"failed"`
	Errors    []ItemError `json:"errors"`
}

// Err joins the recorded item errors.
func (s *Summary) Err() error {
	if len(s.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(s.Errors))
	for i, e := range s.Errors {
		errs[i] = fmt.Errorf("%s %s:%d: %s", e.Kind, e.TargetType, e.TargetID, e.Error)
	}
	return errors.Join(errs...)
}

type Evaluator struct {
	sources   map[model.TargetType]DeadlineSource
	deliverer Deliverer
	recent    RecentLog
	claimer   Claimer
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

// NewEvaluator wires the evaluator. recent is required for DedupeLog and
// claimer for DedupeRedis; either may be nil otherwise.
func NewEvaluator(cfg Config, sources map[model.TargetType]DeadlineSource, deliverer Deliverer, recent RecentLog, claimer Claimer, logger *zap.Logger) *Evaluator {
	if cfg.OverdueCap <= 0 {
		cfg.OverdueCap = 30 * day
	}
	if cfg.Dedupe == "" {
		cfg.Dedupe = DedupeLog
	}
	return &Evaluator{
		sources:   sources,
		deliverer: deliverer,
		recent:    recent,
		claimer:   claimer,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (e *Evaluator) SetClock(now func() time.Time) {
	e.now = now
}

// EvaluateDeadlineWindows runs the week and day windows.
func (e *Evaluator) EvaluateDeadlineWindows(ctx context.Context) *Summary {
	return e.run(ctx, "reminder.deadline_windows", deadlineWindows())
}

// EvaluateOverdue notifies entities past their deadline and no older than the cap.
func (e *Evaluator) EvaluateOverdue(ctx context.Context) *Summary {
	return e.run(ctx, "reminder.overdue", []window{overdueWindow(e.cfg.OverdueCap)})
}

func (e *Evaluator) run(ctx context.Context, name string, windows []window) *Summary {
	ctx, span := otel.StartSpan(ctx, name)
	defer span.End()

	now := e.now()
	summary := &Summary{StartedAt: now, Errors: []ItemError{}}

	for _, w := range windows {
		r := w.rangeAt(now)
		for _, targetType := range model.AllTargetTypes {
			source, ok := e.sources[targetType]
			if !ok {
				continue
			}
			e.evaluateSource(ctx, now, w, r, targetType, source, summary)
		}
	}

	span.SetAttributes(
		attribute.Int("reminder.matched", summary.Matched),
		attribute.Int("reminder.notified", summary.Notified),
		attribute.Int("reminder.errors", len(summary.Errors)),
	)
	e.logger.Info("Reminder evaluation finished",
		zap.String("job", name),
		zap.Int("matched", summary.Matched),
		zap.Int("notified", summary.Notified),
		zap.Int("skipped", summary.Skipped),
		zap.Int("sent", summary.Sent),
		zap.Int("failed", summary.Failed),
		zap.Int("errors", len(summary.Errors)),
	)
	return summary
}

// evaluateSource handles one window against one entity type. A query failure
// only aborts this pair.
func (e *Evaluator) evaluateSource(ctx context.Context, now time.Time, w window, r model.TimeRange, targetType model.TargetType, source DeadlineSource, summary *Summary) {
	records, err := source.ListInWindow(ctx, r)
	if err != nil {
		if !errors.Is(err, model.ErrQuery) {
			err = fmt.Errorf("%w: %v", model.ErrQuery, err)
		}
		e.logger.Error("Deadline query failed",
			zap.String("kind", w.kind.String()),
			zap.String("target_type", targetType.String()),
			zap.Error(err),
		)
		summary.Errors = append(summary.Errors, ItemError{Kind: w.kind, TargetType: targetType, Error: err.Error()})
		return
	}

	for _, rec := range records {
		// sources are trusted but the window is half-open
		if !r.Contains(rec.Deadline) {
			continue
		}
		summary.Matched++
		target := rec.Target()

		fresh, err := e.claim(ctx, now, w, target)
		if err != nil {
			e.logger.Error("Dedupe check failed", zap.String("target", target.String()), zap.Error(err))
			summary.Errors = append(summary.Errors, ItemError{Kind: w.kind, TargetType: targetType, TargetID: rec.ID, Error: err.Error()})
			continue
		}
		if !fresh {
			summary.Skipped++
			continue
		}

		summary.Notified++
		report, err := e.deliverer.Deliver(ctx, w.kind, target, payloadFor(w.kind, rec, now))
		if report != nil {
			summary.Sent += report.Sent
			summary.Failed += report.Failed
		}
		if err != nil {
			e.logger.Error("Reminder delivery failed",
				zap.String("kind", w.kind.String()),
				zap.String("target", target.String()),
				zap.Error(err),
			)
			summary.Errors = append(summary.Errors, ItemError{Kind: w.kind, TargetType: targetType, TargetID: rec.ID, Error: err.Error()})
		}
		if err != nil || report == nil || report.Sent == 0 {
			e.release(ctx, w, target)
		}
	}
}

func (e *Evaluator) release(ctx context.Context, w window, target model.Target) {
	if e.cfg.Dedupe != DedupeRedis || e.claimer == nil {
		return
	}
	e.claimer.Release(ctx, claimScope(w), target.String())
}

func claimScope(w window) string {
	return "reminder:" + w.kind.String()
}

// claim reports whether target should be notified for w at now.
func (e *Evaluator) claim(ctx context.Context, now time.Time, w window, target model.Target) (bool, error) {
	switch e.cfg.Dedupe {
	case DedupeLog:
		if e.recent == nil {
			return true, nil
		}
		seen, err := e.recent.HasRecent(ctx, w.kind, target, now.Add(-w.lookback))
		if err != nil {
			return false, err
		}
		return !seen, nil
	case DedupeRedis:
		if e.claimer == nil {
			return true, nil
		}
		return e.claimer.AcquireOnce(ctx, claimScope(w), target.String(), w.lookback), nil
	default:
		return true, nil
	}
}

func payloadFor(kind model.Kind, rec model.DeadlineRecord, now time.Time) model.Payload {
	p := model.Payload{
		"id":          rec.ID,
		"title":       rec.Title,
		"deadline":    rec.Deadline,
		"entity_type": rec.Type.String(),
	}
	if kind == model.KindOverdue {
		p["days_overdue"] = int(now.Sub(rec.Deadline) / day)
	}
	return p
}
