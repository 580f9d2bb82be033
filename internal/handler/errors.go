package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"trainingportal/internal/model"
	"trainingportal/internal/service/notifier"
)

// statusFor maps a service error to an HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrInvalidKind):
		return http.StatusBadRequest, "invalid_kind"
	case errors.Is(err, model.ErrInvalidTarget):
		return http.StatusBadRequest, "invalid_target"
	case errors.Is(err, model.ErrInvalidSchedule):
		return http.StatusBadRequest, "invalid_schedule"
	case errors.Is(err, model.ErrRecipientRequired):
		return http.StatusBadRequest, "recipient_required"
	case errors.Is(err, model.ErrJobRunning):
		return http.StatusConflict, "job_running"
	case errors.Is(err, model.ErrDirectoryUnavailable):
		return http.StatusServiceUnavailable, "directory_unavailable"
	case errors.Is(err, model.ErrPersistence):
		return http.StatusServiceUnavailable, "persistence_failure"
	case errors.Is(err, model.ErrQuery):
		return http.StatusServiceUnavailable, "query_failure"
	case errors.Is(err, notifier.ErrShuttingDown):
		return http.StatusServiceUnavailable, "shutting_down"
	case errors.Is(err, model.ErrTemplateRender):
		return http.StatusInternalServerError, "template_render_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeError(c *gin.Context, err error) {
	status, code := statusFor(err)
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": "invalid_request"})
}
