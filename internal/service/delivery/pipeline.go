// Package delivery renders a notification and fans it out to recipients,
// recording one log row per attempted recipient.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"trainingportal/internal/model"
	"trainingportal/internal/render"
	"trainingportal/pkg/logger"
	"trainingportal/pkg/metrics"
	"trainingportal/pkg/otel"
)

type Directory interface {
	ListRecipients(ctx context.Context) ([]model.Recipient, error)
}

type LogStore interface {
	Create(ctx context.Context, entry *model.NotificationLog) error
	MarkSent(ctx context.Context, id string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id string, message string) error
}

type Renderer interface {
	Render(kind model.Kind, target model.Target, payload model.Payload, recipient model.Recipient) (render.Message, error)
}

type Transport interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// Config tunes fan-out.
type Config struct {
	SendTimeout   time.Duration
	Concurrency   int
	RatePerSecond float64 // <= 0 means unlimited
	Burst         int
}

// Outcome is the result for one recipient.
type Outcome struct {
	LogID          string          `json:"log_id,omitempty"`
	RecipientEmail string          `json:"recipient_email"`
	Status         model.LogStatus `json:"status"`
	Error          string          `json:"error,omitempty"`
}

type Failure struct {
	RecipientEmail string `json:"recipient_email"`
	Error          string `json:"error"`
}

// Report aggregates one delivery across all recipients.
type Report struct {
	Kind     model.Kind   `json:"kind"`
	Target   model.Target `json:"target"`
	Sent     int          `json:"sent"`
	Failed   int          `json:"failed"`
	Failures []Failure    `json:"failures"`
	Outcomes []Outcome    `json:"outcomes"`
}

// AllFailed reports whether there were recipients and none succeeded.
func (r *Report) AllFailed() bool {
	return r.Failed > 0 && r.Sent == 0
}

type Pipeline struct {
	directory Directory
	logs      LogStore
	renderer  Renderer
	transport Transport
	limiter   *rate.Limiter
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

func NewPipeline(cfg Config, directory Directory, logs LogStore, renderer Renderer, transport Transport, logger *zap.Logger) *Pipeline {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 6 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	limit := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond <= 0 {
		limit = rate.Inf
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	return &Pipeline{
		directory: directory,
		logs:      logs,
		renderer:  renderer,
		transport: transport,
		limiter:   rate.NewLimiter(limit, cfg.Burst),
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the sent_at source.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// Deliver broadcasts kind to every directory recipient. It fails before
// writing any row when the directory is unavailable or rendering fails.
// A non-nil report may accompany a persistence error.
func (p *Pipeline) Deliver(ctx context.Context, kind model.Kind, target model.Target, payload model.Payload) (*Report, error) {
	if kind.Audience() == model.AudienceDirect {
		return nil, fmt.Errorf("%w: %s", model.ErrRecipientRequired, kind)
	}

	ctx, span := p.startSpan(ctx, "delivery.deliver", kind, target)
	defer span.End()

	recipients, err := p.directory.ListRecipients(ctx)
	if err != nil {
		if !errors.Is(err, model.ErrDirectoryUnavailable) {
			err = fmt.Errorf("%w: %v", model.ErrDirectoryUnavailable, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "directory unavailable")
		return nil, err
	}

	report, err := p.fanOut(ctx, kind, target, payload, recipients)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return report, err
}

// DeliverTo sends kind to one explicit recipient.
func (p *Pipeline) DeliverTo(ctx context.Context, kind model.Kind, target model.Target, payload model.Payload, recipient model.Recipient) (*Outcome, error) {
	ctx, span := p.startSpan(ctx, "delivery.deliver_to", kind, target)
	defer span.End()

	report, err := p.fanOut(ctx, kind, target, payload, []model.Recipient{recipient})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if report == nil {
		return nil, err
	}
	return &report.Outcomes[0], err
}

func (p *Pipeline) fanOut(ctx context.Context, kind model.Kind, target model.Target, payload model.Payload, recipients []model.Recipient) (*Report, error) {
	log := logger.WithTrace(ctx, p.logger).With(
		zap.String("kind", kind.String()),
		zap.String("target", target.String()),
	)

	// Render everything first so a template error leaves no rows behind.
	messages := make([]render.Message, len(recipients))
	for i, r := range recipients {
		msg, err := p.renderer.Render(kind, target, payload, r)
		if err != nil {
			if !errors.Is(err, model.ErrTemplateRender) {
				err = fmt.Errorf("%w: %v", model.ErrTemplateRender, err)
			}
			log.Error("Render failed, delivery aborted", zap.String("recipient", r.Email), zap.Error(err))
			return nil, err
		}
		messages[i] = msg
	}

	// In-flight sends are bounded by SendTimeout, not by caller cancellation.
	sendCtx := context.WithoutCancel(ctx)

	outcomes := make([]Outcome, len(recipients))
	persistErrs := make([]error, len(recipients))

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for i := range recipients {
		g.Go(func() error {
			outcomes[i], persistErrs[i] = p.deliverOne(sendCtx, kind, target, recipients[i], messages[i])
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{
		Kind:     kind,
		Target:   target,
		Failures: []Failure{},
		Outcomes: outcomes,
	}
	for _, o := range outcomes {
		if o.Status == model.LogSent {
			report.Sent++
			continue
		}
		report.Failed++
		report.Failures = append(report.Failures, Failure{RecipientEmail: o.RecipientEmail, Error: o.Error})
	}

	log.Info("Delivery finished",
		zap.Int("recipients", len(recipients)),
		zap.Int("sent", report.Sent),
		zap.Int("failed", report.Failed),
	)

	if err := errors.Join(persistErrs...); err != nil {
		log.Error("Delivery log writes failed", zap.Error(err))
		return report, err
	}
	return report, nil
}

func (p *Pipeline) deliverOne(ctx context.Context, kind model.Kind, target model.Target, recipient model.Recipient, msg render.Message) (Outcome, error) {
	outcome := Outcome{RecipientEmail: recipient.Email}

	entry := &model.NotificationLog{
		Kind:           kind,
		TargetID:       target.ID,
		TargetType:     target.Type,
		RecipientEmail: recipient.Email,
		Subject:        msg.Subject,
	}
	if err := p.logs.Create(ctx, entry); err != nil {
		// no row, so no send
		outcome.Status = model.LogFailed
		outcome.Error = err.Error()
		metrics.RecordDelivery(kind.String(), "persistence_error")
		return outcome, err
	}
	outcome.LogID = entry.ID

	if err := p.send(ctx, recipient.Email, msg); err != nil {
		outcome.Status = model.LogFailed
		outcome.Error = err.Error()
		metrics.RecordDelivery(kind.String(), string(model.LogFailed))
		p.logger.Warn("Send failed",
			zap.String("kind", kind.String()),
			zap.String("recipient", recipient.Email),
			zap.Error(err),
		)
		return outcome, p.logs.MarkFailed(ctx, entry.ID, outcome.Error)
	}

	outcome.Status = model.LogSent
	metrics.RecordDelivery(kind.String(), string(model.LogSent))
	return outcome, p.logs.MarkSent(ctx, entry.ID, p.now())
}

func (p *Pipeline) send(ctx context.Context, to string, msg render.Message) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", model.ErrTransport, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.SendTimeout)
	defer cancel()

	if err := p.transport.Send(ctx, to, msg.Subject, msg.HTMLBody); err != nil {
		return fmt.Errorf("%w: %v", model.ErrTransport, err)
	}
	return nil
}

func (p *Pipeline) startSpan(ctx context.Context, name string, kind model.Kind, target model.Target) (context.Context, trace.Span) {
	return otel.StartSpan(ctx, name, trace.WithAttributes(
		attribute.String("notification.kind", kind.String()),
		attribute.String("notification.target_type", target.Type.String()),
		attribute.Int64("notification.target_id", target.ID),
	))
}
