package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	contractsmq "trainingportal/contracts/mq"
	"trainingportal/internal/model"
	"trainingportal/internal/service/delivery"
	"trainingportal/internal/service/notifier"
	"trainingportal/internal/service/schedule"
	"trainingportal/pkg/logger"
	"trainingportal/pkg/util"
)

// Notifier is the subset of the notification service driven by queue messages.
type Notifier interface {
	NotifyNew(ctx context.Context, kind model.Kind, targetID int64) (*notifier.Task, error)
	NotifyUpdate(ctx context.Context, target model.Target, changes map[string]any) (*notifier.Task, error)
	NotifyCompletion(ctx context.Context, userID, workstreamID int64) (*delivery.Outcome, error)
	Schedule(ctx context.Context, req schedule.Request) (*model.ScheduleEntry, error)
}

type NotificationRequestedHandler struct {
	svc    Notifier
	logger *zap.Logger
}

func NewNotificationRequestedHandler(svc Notifier, logger *zap.Logger) *NotificationRequestedHandler {
	return &NotificationRequestedHandler{
		svc:    svc,
		logger: logger,
	}
}

// Handle runs one notification.requested message. Broadcasts are waited on so
// the message is settled only after delivery finished.
func (h *NotificationRequestedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	var p contractsmq.NotificationRequestedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Error("Failed to unmarshal notification request", zap.Error(err))
		return util.Permanent(err, "json_decode_error")
	}
	log = log.With(zap.String("op", p.Op), zap.Int64("target_id", p.TargetID))

	var err error
	switch p.Op {
	case contractsmq.OpNotifyNew:
		err = h.notifyNew(ctx, log, p)
	case contractsmq.OpNotifyUpdate:
		err = h.notifyUpdate(ctx, log, p)
	case contractsmq.OpNotifyCompletion:
		err = h.notifyCompletion(ctx, log, p)
	case contractsmq.OpSchedule:
		err = h.schedule(ctx, log, p)
	default:
		err = util.Permanent(fmt.Errorf("unknown op %q", p.Op), "invalid_request")
	}
	if err != nil {
		return classify(err)
	}
	return nil
}

func (h *NotificationRequestedHandler) notifyNew(ctx context.Context, log *zap.Logger, p contractsmq.NotificationRequestedPayload) error {
	kind, err := model.ParseKind(p.Kind)
	if err != nil {
		return err
	}
	task, err := h.svc.NotifyNew(ctx, kind, p.TargetID)
	if err != nil {
		return err
	}
	return wait(ctx, log, task)
}

func (h *NotificationRequestedHandler) notifyUpdate(ctx context.Context, log *zap.Logger, p contractsmq.NotificationRequestedPayload) error {
	targetType, err := model.ParseTargetType(p.TargetType)
	if err != nil {
		return err
	}
	task, err := h.svc.NotifyUpdate(ctx, model.Target{ID: p.TargetID, Type: targetType}, p.Changes)
	if err != nil {
		return err
	}
	return wait(ctx, log, task)
}

func (h *NotificationRequestedHandler) notifyCompletion(ctx context.Context, log *zap.Logger, p contractsmq.NotificationRequestedPayload) error {
	outcome, err := h.svc.NotifyCompletion(ctx, p.UserID, p.WorkstreamID)
	if err != nil {
		return err
	}
	log.Info("Completion notification processed",
		zap.Int64("user_id", p.UserID),
		zap.String("status", string(outcome.Status)),
	)
	return nil
}

func (h *NotificationRequestedHandler) schedule(ctx context.Context, log *zap.Logger, p contractsmq.NotificationRequestedPayload) error {
	kind, err := model.ParseKind(p.Kind)
	if err != nil {
		return err
	}
	targetType, err := model.ParseTargetType(p.TargetType)
	if err != nil {
		return err
	}
	req := schedule.Request{
		Kind:   kind,
		Target: model.Target{ID: p.TargetID, Type: targetType},
	}
	if p.TriggerTime != nil {
		req.TriggerTime = *p.TriggerTime
	}
	if len(p.Payload) > 0 {
		if err := json.Unmarshal(p.Payload, &req.Payload); err != nil {
			return util.Permanent(fmt.Errorf("decode schedule payload: %w", err), "json_decode_error")
		}
	}

	entry, err := h.svc.Schedule(ctx, req)
	if err != nil {
		return err
	}
	log.Info("Schedule entry queued from message",
		zap.String("schedule_id", entry.ID),
		zap.Time("trigger_time", entry.TriggerTime),
	)
	return nil
}

func wait(ctx context.Context, log *zap.Logger, task *notifier.Task) error {
	report, err := task.Wait(ctx)
	if err != nil {
		return err
	}
	log.Info("Broadcast processed",
		zap.String("task_id", task.ID),
		zap.Int("sent", report.Sent),
		zap.Int("failed", report.Failed),
	)
	return nil
}

// classify decides whether the consumer requeues the message or moves it to
// the DLQ. Anything that may have reached recipients is not retried.
func classify(err error) error {
	var classified *util.ClassifiedError
	switch {
	case errors.As(err, &classified):
		return err
	case errors.Is(err, model.ErrDirectoryUnavailable):
		return util.Retryable(err, "directory_unavailable")
	case errors.Is(err, notifier.ErrShuttingDown):
		return util.Retryable(err, "shutting_down")
	case errors.Is(err, model.ErrNotFound):
		return util.Permanent(err, "not_found")
	case errors.Is(err, model.ErrInvalidKind),
		errors.Is(err, model.ErrInvalidTarget),
		errors.Is(err, model.ErrInvalidSchedule),
		errors.Is(err, model.ErrRecipientRequired):
		return util.Permanent(err, "invalid_request")
	case errors.Is(err, model.ErrTemplateRender):
		return util.Permanent(err, "template_render_error")
	case errors.Is(err, model.ErrPersistence):
		return util.Permanent(err, "persistence_failure")
	default:
		return err
	}
}
