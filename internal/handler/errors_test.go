package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"trainingportal/internal/model"
	"trainingportal/internal/service/notifier"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
		code string
	}{
		{fmt.Errorf("%w: user 9", model.ErrNotFound), http.StatusNotFound, "not_found"},
		{model.ErrInvalidKind, http.StatusBadRequest, "invalid_kind"},
		{model.ErrInvalidTarget, http.StatusBadRequest, "invalid_target"},
		{model.ErrInvalidSchedule, http.StatusBadRequest, "invalid_schedule"},
		{model.ErrRecipientRequired, http.StatusBadRequest, "recipient_required"},
		{fmt.Errorf("%w: overdue", model.ErrJobRunning), http.StatusConflict, "job_running"},
		{model.ErrDirectoryUnavailable, http.StatusServiceUnavailable, "directory_unavailable"},
		{errors.Join(errors.New("a"), model.ErrPersistence), http.StatusServiceUnavailable, "persistence_failure"},
		{notifier.ErrShuttingDown, http.StatusServiceUnavailable, "shutting_down"},
		{model.ErrTemplateRender, http.StatusInternalServerError, "template_render_error"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		status, code := statusFor(tt.err)
		if status != tt.want || code != tt.code {
			t.Errorf("statusFor(%v) = %d %q, want %d %q", tt.err, status, code, tt.want, tt.code)
		}
	}
}
