package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"trainingportal/internal/handler"
	"trainingportal/pkg/otel"
)

// Pinger reports whether the storage backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(notifications *handler.NotificationHandler, storage Pinger, logger *zap.Logger) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), otel.GinMiddleware(), RequestLogger(logger))

	health := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	r.GET("/healthz", health)
	r.HEAD("/healthz", health)
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()
		if err := storage.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "storage_not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	n := r.Group("/notifications")
	{
		n.POST("/new", notifications.NotifyNew)
		n.POST("/update", notifications.NotifyUpdate)
		n.POST("/completion", notifications.NotifyCompletion)
		n.GET("/logs", notifications.ListLogs)
		n.GET("/logs/:id", notifications.GetLog)
		n.GET("/stats", notifications.Stats)
	}

	s := r.Group("/schedules")
	{
		s.POST("", notifications.CreateSchedule)
		s.GET("/:id", notifications.GetSchedule)
	}

	jobs := r.Group("/jobs")
	{
		jobs.POST("/deadline-reminders", notifications.RunDeadlineReminders)
		jobs.POST("/overdue", notifications.RunOverdue)
		jobs.POST("/schedule-queue", notifications.RunScheduleQueue)
	}

	return &Router{Engine: r}
}

func (r *Router) Run(port string) error {
	return r.Engine.Run(port)
}
