package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trainingportal/internal/model"
	"trainingportal/internal/service/delivery"
	"trainingportal/internal/service/notifier"
	"trainingportal/internal/service/reminder"
	"trainingportal/internal/service/schedule"
	"trainingportal/pkg/logger"
)

// Notifier is what the HTTP surface needs from the notification service.
type Notifier interface {
	NotifyNew(ctx context.Context, kind model.Kind, targetID int64) (*notifier.Task, error)
	NotifyUpdate(ctx context.Context, target model.Target, changes map[string]any) (*notifier.Task, error)
	NotifyCompletion(ctx context.Context, userID, workstreamID int64) (*delivery.Outcome, error)
	Schedule(ctx context.Context, req schedule.Request) (*model.ScheduleEntry, error)
	GetSchedule(ctx context.Context, id string) (*model.ScheduleEntry, error)
	CheckDeadlineReminders(ctx context.Context) (*reminder.Summary, error)
	CheckOverdue(ctx context.Context) (*reminder.Summary, error)
	ProcessScheduleQueue(ctx context.Context) (*schedule.Summary, error)
	ListRecent(ctx context.Context, limit int) ([]model.NotificationLog, error)
	Stats(ctx context.Context) (*model.LogStats, error)
	GetLog(ctx context.Context, id string) (*model.NotificationLog, error)
}

type NotificationHandler struct {
	svc       Notifier
	asyncWait time.Duration
	logger    *zap.Logger
}

// NewNotificationHandler builds the handler. Broadcast requests wait up to
// asyncWait for the delivery report before answering 202.
func NewNotificationHandler(svc Notifier, asyncWait time.Duration, logger *zap.Logger) *NotificationHandler {
	if asyncWait <= 0 {
		asyncWait = 5 * time.Second
	}
	return &NotificationHandler{svc: svc, asyncWait: asyncWait, logger: logger}
}

// NotifyNew handles POST /notifications/new
func (h *NotificationHandler) NotifyNew(c *gin.Context) {
	var req struct {
		Kind     string `json:"kind" binding:"required"`
		TargetID int64  `json:"target_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	kind, err := model.ParseKind(req.Kind)
	if err != nil {
		writeError(c, err)
		return
	}

	task, err := h.svc.NotifyNew(c.Request.Context(), kind, req.TargetID)
	if err != nil {
		writeError(c, err)
		return
	}
	h.respondTask(c, task)
}

// NotifyUpdate handles POST /notifications/update
func (h *NotificationHandler) NotifyUpdate(c *gin.Context) {
	var req struct {
		TargetID   int64          `json:"target_id" binding:"required"`
		TargetType string         `json:"target_type" binding:"required"`
		Changes    map[string]any `json:"changes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	targetType, err := model.ParseTargetType(req.TargetType)
	if err != nil {
		writeError(c, err)
		return
	}

	task, err := h.svc.NotifyUpdate(c.Request.Context(), model.Target{ID: req.TargetID, Type: targetType}, req.Changes)
	if err != nil {
		writeError(c, err)
		return
	}
	h.respondTask(c, task)
}

// NotifyCompletion handles POST /notifications/completion
func (h *NotificationHandler) NotifyCompletion(c *gin.Context) {
	var req struct {
		UserID       int64 `json:"user_id" binding:"required"`
		WorkstreamID int64 `json:"workstream_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	outcome, err := h.svc.NotifyCompletion(c.Request.Context(), req.UserID, req.WorkstreamID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}

// respondTask waits for the broadcast up to asyncWait. When the bound
// elapses the delivery keeps running and the caller gets the task id.
func (h *NotificationHandler) respondTask(c *gin.Context, task *notifier.Task) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.asyncWait)
	defer cancel()

	report, err := task.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		select {
		case <-task.Done():
			report, err = task.Wait(context.Background())
		default:
			logger.WithTrace(c.Request.Context(), h.logger).Info("Broadcast still running, answering accepted",
				zap.String("task_id", task.ID),
			)
			c.JSON(http.StatusAccepted, gin.H{"task_id": task.ID, "status": "in_progress"})
			return
		}
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": task.ID, "status": "completed", "report": report})
}

// CreateSchedule handles POST /schedules
func (h *NotificationHandler) CreateSchedule(c *gin.Context) {
	var req struct {
		Kind        string         `json:"kind" binding:"required"`
		TargetID    int64          `json:"target_id" binding:"required"`
		TargetType  string         `json:"target_type" binding:"required"`
		TriggerTime time.Time      `json:"trigger_time" binding:"required"`
		Payload     map[string]any `json:"payload"`
		MaxRetries  int            `json:"max_retries"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	kind, err := model.ParseKind(req.Kind)
	if err != nil {
		writeError(c, err)
		return
	}
	targetType, err := model.ParseTargetType(req.TargetType)
	if err != nil {
		writeError(c, err)
		return
	}

	entry, err := h.svc.Schedule(c.Request.Context(), schedule.Request{
		Kind:        kind,
		Target:      model.Target{ID: req.TargetID, Type: targetType},
		TriggerTime: req.TriggerTime,
		Payload:     model.Payload(req.Payload),
		MaxRetries:  req.MaxRetries,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": entry.ID, "schedule": entry})
}

// GetSchedule handles GET /schedules/:id
func (h *NotificationHandler) GetSchedule(c *gin.Context) {
	entry, err := h.svc.GetSchedule(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// RunDeadlineReminders handles POST /jobs/deadline-reminders
func (h *NotificationHandler) RunDeadlineReminders(c *gin.Context) {
	summary, err := h.svc.CheckDeadlineReminders(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// RunOverdue handles POST /jobs/overdue
func (h *NotificationHandler) RunOverdue(c *gin.Context) {
	summary, err := h.svc.CheckOverdue(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// RunScheduleQueue handles POST /jobs/schedule-queue
func (h *NotificationHandler) RunScheduleQueue(c *gin.Context) {
	summary, err := h.svc.ProcessScheduleQueue(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// ListLogs handles GET /notifications/logs?limit=N
func (h *NotificationHandler) ListLogs(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	logs, err := h.svc.ListRecent(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "count": len(logs)})
}

// GetLog handles GET /notifications/logs/:id
func (h *NotificationHandler) GetLog(c *gin.Context) {
	entry, err := h.svc.GetLog(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// Stats handles GET /notifications/stats
func (h *NotificationHandler) Stats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
