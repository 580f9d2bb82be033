package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trainingportal/internal/handler"
	"trainingportal/internal/model"
	"trainingportal/internal/render"
	"trainingportal/internal/repository/memory"
	"trainingportal/internal/scheduler"
	"trainingportal/internal/service/delivery"
	"trainingportal/internal/service/notifier"
	"trainingportal/internal/service/reminder"
	"trainingportal/internal/service/schedule"
	"trainingportal/pkg/trace"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubTransport struct {
	gate chan struct{}
	fail string
}

func (s *stubTransport) Send(_ context.Context, to, _, _ string) error {
	if s.gate != nil {
		<-s.gate
	}
	if to == s.fail {
		return errors.New("mailbox unavailable")
	}
	return nil
}

type testServer struct {
	router    *Router
	logs      *memory.LogStore
	schedules *memory.ScheduleStore
	dir       *memory.Directory
}

func setupTestServer(t *testing.T, tr delivery.Transport, asyncWait time.Duration) *testServer {
	t.Helper()
	log := zap.NewNop()

	ts := &testServer{
		logs:      memory.NewLogStore(),
		schedules: memory.NewScheduleStore(),
		dir: memory.NewDirectory(
			model.Recipient{ID: 10, Email: "a@example.com", DisplayName: "Ada"},
			model.Recipient{ID: 11, Email: "b@example.com"},
		),
	}
	workstreams := memory.NewDeadlineSource(model.TargetWorkstream, model.DeadlineRecord{ID: 1, Title: "Onboarding"})
	chapters := memory.NewDeadlineSource(model.TargetChapter, model.DeadlineRecord{ID: 2, Title: "Basics"})
	assessments := memory.NewDeadlineSource(model.TargetAssessment, model.DeadlineRecord{ID: 3, Title: "Quiz"})

	r, err := render.New("https://portal.example.com")
	if err != nil {
		t.Fatal(err)
	}
	pipeline := delivery.NewPipeline(delivery.Config{Concurrency: 2}, ts.dir, ts.logs, r, tr, log)
	evaluator := reminder.NewEvaluator(reminder.Config{Dedupe: reminder.DedupeLog}, map[model.TargetType]reminder.DeadlineSource{
		model.TargetWorkstream: workstreams,
		model.TargetChapter:    chapters,
		model.TargetAssessment: assessments,
	}, pipeline, ts.logs, nil, log)
	processor := schedule.NewProcessor(schedule.Config{}, ts.schedules, pipeline, log)
	jobs, err := scheduler.New(scheduler.Config{}, evaluator, processor, log)
	if err != nil {
		t.Fatal(err)
	}

	svc := notifier.New(notifier.Deps{
		Pipeline:   pipeline,
		Recipients: ts.dir,
		Entities: map[model.TargetType]notifier.EntityLookup{
			model.TargetWorkstream: workstreams,
			model.TargetChapter:    chapters,
			model.TargetAssessment: assessments,
		},
		Schedule: processor,
		Jobs:     jobs,
		Logs:     ts.logs,
	}, log)

	h := handler.NewNotificationHandler(svc, asyncWait, log)
	ts.router = NewRouter(h, ts.logs, log)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.router.Engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts := setupTestServer(t, &stubTransport{}, time.Second)

	for _, path := range []string{"/healthz", "/readyz"} {
		if w := ts.do(t, http.MethodGet, path, ""); w.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, w.Code)
		}
	}
	if w := ts.do(t, http.MethodHead, "/healthz", ""); w.Code != http.StatusOK {
		t.Errorf("HEAD /healthz = %d, want 200", w.Code)
	}
	if w := ts.do(t, http.MethodGet, "/metrics", ""); w.Code != http.StatusOK {
		t.Errorf("GET /metrics = %d, want 200", w.Code)
	}
}

func TestTraceIDEchoed(t *testing.T) {
	ts := setupTestServer(t, &stubTransport{}, time.Second)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(trace.HeaderName, "abc123")
	w := httptest.NewRecorder()
	ts.router.Engine.ServeHTTP(w, req)
	if got := w.Header().Get(trace.HeaderName); got != "abc123" {
		t.Errorf("trace header = %q, want abc123", got)
	}

	w = ts.do(t, http.MethodGet, "/healthz", "")
	if got := w.Header().Get(trace.HeaderName); len(got) != 32 {
		t.Errorf("generated trace header = %q, want 32 hex chars", got)
	}
}

func TestNotifyNewCompletes(t *testing.T) {
	ts := setupTestServer(t, &stubTransport{fail: "b@example.com"}, 2*time.Second)

	w := ts.do(t, http.MethodPost, "/notifications/new", `{"kind":"new_chapter","target_id":2}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		TaskID string           `json:"task_id"`
		Status string           `json:"status"`
		Report *delivery.Report `json:"report"`
	}
	decode(t, w, &resp)
	if resp.Status != "completed" || resp.TaskID == "" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Report == nil || resp.Report.Sent != 1 || resp.Report.Failed != 1 {
		t.Errorf("report = %+v, want sent 1 failed 1", resp.Report)
	}
}

func TestNotifyNewAccepted(t *testing.T) {
	gate := make(chan struct{})
	ts := setupTestServer(t, &stubTransport{gate: gate}, 20*time.Millisecond)
	defer close(gate)

	w := ts.do(t, http.MethodPost, "/notifications/new", `{"kind":"new_workstream","target_id":1}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body = %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	decode(t, w, &resp)
	if resp["status"] != "in_progress" || resp["task_id"] == "" {
		t.Errorf("response = %v", resp)
	}
}

func TestNotifyNewErrors(t *testing.T) {
	ts := setupTestServer(t, &stubTransport{}, time.Second)

	tests := []struct {
		name string
		body string
		want int
		code string
	}{
		{"malformed json", `{"kind":`, http.StatusBadRequest, "invalid_request"},
		{"missing target", `{"kind":"new_chapter"}`, http.StatusBadRequest, "invalid_request"},
		{"unknown kind", `{"kind":"bogus","target_id":1}`, http.StatusBadRequest, "invalid_kind"},
		{"not a publish kind", `{"kind":"reminder","target_id":1}`, http.StatusBadRequest, "invalid_kind"},
		{"unknown entity", `{"kind":"new_chapter","target_id":99}`, http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/notifications/new", tt.body)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d, body = %s", w.Code, tt.want, w.Body.String())
			}
			var resp map[string]string
			decode(t, w, &resp)
			if resp["code"] != tt.code {
				t.Errorf("code = %q, want %q", resp["code"], tt.code)
			}
		})
	}
}

func TestNotifyNewDirectoryUnavailable(t *testing.T) {
	ts := setupTestServer(t, &stubTransport{}, time.Second)
	ts.dir.SetError(errors.New("connection refused"))

	w := ts.do(t, http.MethodPost, "/notifications/new", `{"kind":"new_chapter","target_id":2}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503, body = %s", w.Code, w.Body.String())
	}
	if rows := ts.logs.All(); len(rows) != 0 {
		t.Errorf("rows = %d, want 0", len(rows))
	}
}

func TestNotifyUpdate(t *testing.T) {
	ts := setupTestServer(t, &stubTransport{}, 2*time.Second)

	w := ts.do(t, http.MethodPost, "/notifications/update",
		`{"target_id":3,"target_type":"assessment","changes":{"deadline":"2026-11-01"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	rows := ts.logs.All()
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	for _, row := range rows {
		if row.Kind != model.KindUpdate || row.TargetType != model.TargetAssessment {
			t.Errorf("row = %+v", row)
		}
	}

	w = ts.do(t, http.MethodPost, "/notifications/update", `{"target_id":3,"target_type":"course"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad target type status = %d, want 400", w.Code)
	}
}

func TestNotifyCompletion(t *testing.T) {
	ts := setupTestServer(t, &stubTransport{}, time.Second)

	w := ts.do(t, http.MethodPost, "/notifications/completion", `{"user_id":10,"workstream_id":1}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Outcome delivery.Outcome `json:"outcome"`
	}
	decode(t, w, &resp)
	if resp.Outcome.RecipientEmail != "a@example.com" || resp.Outcome.Status != model.LogSent {
		t.Errorf("outcome = %+v", resp.Outcome)
	}
	if rows := ts.logs.All(); len(rows) != 1 {
		t.Errorf("rows = %d, want 1", len(rows))
	}

	if w := ts.do(t, http.MethodPost, "/notifications/completion", `{"user_id":99,"workstream_id":1}`); w.Code != http.StatusNotFound {
		t.Errorf("unknown user status = %d, want 404", w.Code)
	}
}

func TestScheduleLifecycle(t *testing.T) {
	ts := setupTestServer(t, &stubTransport{}, time.Second)

	past := time.Now().UTC().Add(-time.Minute).Format(time.RFC3339)
	w := ts.do(t, http.MethodPost, "/schedules",
		`{"kind":"reminder","target_id":1,"target_type":"workstream","trigger_time":"`+past+`"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var created struct {
		ID string `json:"id"`
	}
	decode(t, w, &created)
	if created.ID == "" {
		t.Fatal("empty schedule id")
	}

	w = ts.do(t, http.MethodGet, "/schedules/"+created.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var entry model.ScheduleEntry
	decode(t, w, &entry)
	if entry.Status != model.SchedulePending || entry.MaxRetries != model.DefaultMaxRetries {
		t.Errorf("entry = %+v", entry)
	}

	w = ts.do(t, http.MethodPost, "/jobs/schedule-queue", "")
	if w.Code != http.StatusOK {
		t.Fatalf("queue status = %d, body = %s", w.Code, w.Body.String())
	}
	var summary schedule.Summary
	decode(t, w, &summary)
	if summary.Completed != 1 {
		t.Errorf("summary = %+v, want 1 completed", summary)
	}

	w = ts.do(t, http.MethodGet, "/schedules/"+created.ID, "")
	decode(t, w, &entry)
	if entry.Status != model.ScheduleCompleted {
		t.Errorf("status after run = %s, want completed", entry.Status)
	}
}

func TestScheduleErrors(t *testing.T) {
	ts := setupTestServer(t, &stubTransport{}, time.Second)
	future := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing trigger", `{"kind":"reminder","target_id":1,"target_type":"workstream"}`, http.StatusBadRequest},
		{"completion not schedulable", `{"kind":"completion","target_id":1,"target_type":"workstream","trigger_time":"` + future + `"}`, http.StatusBadRequest},
		{"negative retries", `{"kind":"reminder","target_id":1,"target_type":"workstream","trigger_time":"` + future + `","max_retries":-1}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := ts.do(t, http.MethodPost, "/schedules", tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d, body = %s", w.Code, tt.want, w.Body.String())
			}
		})
	}

	if w := ts.do(t, http.MethodGet, "/schedules/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing schedule status = %d, want 404", w.Code)
	}
}

func TestJobEndpoints(t *testing.T) {
	ts := setupTestServer(t, &stubTransport{}, time.Second)

	for _, path := range []string{"/jobs/deadline-reminders", "/jobs/overdue"} {
		w := ts.do(t, http.MethodPost, path, "")
		if w.Code != http.StatusOK {
			t.Fatalf("POST %s = %d, body = %s", path, w.Code, w.Body.String())
		}
		var summary reminder.Summary
		decode(t, w, &summary)
		if summary.Matched != 0 {
			t.Errorf("%s matched = %d, want 0 with no deadlines", path, summary.Matched)
		}
	}
}

func TestReadEndpointsIdempotent(t *testing.T) {
	ts := setupTestServer(t, &stubTransport{fail: "b@example.com"}, 2*time.Second)
	if w := ts.do(t, http.MethodPost, "/notifications/new", `{"kind":"new_chapter","target_id":2}`); w.Code != http.StatusOK {
		t.Fatalf("seed status = %d", w.Code)
	}

	first := ts.do(t, http.MethodGet, "/notifications/logs", "")
	second := ts.do(t, http.MethodGet, "/notifications/logs", "")
	if first.Code != http.StatusOK || first.Body.String() != second.Body.String() {
		t.Errorf("logs not idempotent:\n%s\n%s", first.Body.String(), second.Body.String())
	}
	var logs struct {
		Logs  []model.NotificationLog `json:"logs"`
		Count int                     `json:"count"`
	}
	decode(t, first, &logs)
	if logs.Count != 2 || len(logs.Logs) != 2 {
		t.Errorf("logs = %+v, want 2 rows", logs)
	}

	first = ts.do(t, http.MethodGet, "/notifications/stats", "")
	second = ts.do(t, http.MethodGet, "/notifications/stats", "")
	if first.Code != http.StatusOK || first.Body.String() != second.Body.String() {
		t.Errorf("stats not idempotent:\n%s\n%s", first.Body.String(), second.Body.String())
	}
	var stats model.LogStats
	decode(t, first, &stats)
	if stats.Total != 2 || stats.ByStatus[model.LogSent] != 1 || stats.ByStatus[model.LogFailed] != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if rows := ts.logs.All(); len(rows) != 2 {
		t.Errorf("reads changed the log: %d rows", len(rows))
	}
}

func TestListLogsLimit(t *testing.T) {
	ts := setupTestServer(t, &stubTransport{}, 2*time.Second)
	if w := ts.do(t, http.MethodPost, "/notifications/new", `{"kind":"new_chapter","target_id":2}`); w.Code != http.StatusOK {
		t.Fatalf("seed status = %d", w.Code)
	}

	w := ts.do(t, http.MethodGet, "/notifications/logs?limit=1", "")
	var logs struct {
		Count int `json:"count"`
	}
	decode(t, w, &logs)
	if logs.Count != 1 {
		t.Errorf("count = %d, want 1", logs.Count)
	}

	w = ts.do(t, http.MethodGet, "/notifications/logs?limit=abc", "")
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "limit") {
		t.Errorf("bad limit status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestGetLog(t *testing.T) {
	ts := setupTestServer(t, &stubTransport{}, 2*time.Second)
	if w := ts.do(t, http.MethodPost, "/notifications/new", `{"kind":"new_chapter","target_id":2}`); w.Code != http.StatusOK {
		t.Fatalf("seed status = %d", w.Code)
	}
	rows := ts.logs.All()
	if len(rows) == 0 {
		t.Fatal("no log rows")
	}

	w := ts.do(t, http.MethodGet, "/notifications/logs/"+rows[0].ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var got model.NotificationLog
	decode(t, w, &got)
	if got.ID != rows[0].ID || got.RecipientEmail != rows[0].RecipientEmail || got.Status != model.LogSent {
		t.Errorf("log = %+v, want %+v", got, rows[0])
	}

	w = ts.do(t, http.MethodGet, "/notifications/logs/missing", "")
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), "not_found") {
		t.Errorf("missing log status = %d, body = %s", w.Code, w.Body.String())
	}
}
