package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	contractsmq "trainingportal/contracts/mq"
	"trainingportal/internal/model"
	"trainingportal/internal/render"
	"trainingportal/internal/repository/memory"
	"trainingportal/internal/service/delivery"
	"trainingportal/internal/service/notifier"
	"trainingportal/internal/service/schedule"
	"trainingportal/pkg/util"
)

type okTransport struct{}

func (okTransport) Send(context.Context, string, string, string) error { return nil }

type fixture struct {
	handler   *NotificationRequestedHandler
	logs      *memory.LogStore
	schedules *memory.ScheduleStore
	dir       *memory.Directory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)

	f := &fixture{
		logs:      memory.NewLogStore(),
		schedules: memory.NewScheduleStore(),
		dir:       memory.NewDirectory(model.Recipient{ID: 10, Email: "a@example.com"}),
	}
	workstreams := memory.NewDeadlineSource(model.TargetWorkstream, model.DeadlineRecord{ID: 1, Title: "Onboarding"})
	chapters := memory.NewDeadlineSource(model.TargetChapter, model.DeadlineRecord{ID: 2, Title: "Basics"})

	r, err := render.New("")
	if err != nil {
		t.Fatal(err)
	}
	pipeline := delivery.NewPipeline(delivery.Config{}, f.dir, f.logs, r, okTransport{}, log)
	svc := notifier.New(notifier.Deps{
		Pipeline:   pipeline,
		Recipients: f.dir,
		Entities: map[model.TargetType]notifier.EntityLookup{
			model.TargetWorkstream: workstreams,
			model.TargetChapter:    chapters,
		},
		Schedule: schedule.NewProcessor(schedule.Config{}, f.schedules, pipeline, log),
		Logs:     f.logs,
	}, log)
	t.Cleanup(func() { _ = svc.Stop(context.Background()) })

	f.handler = NewNotificationRequestedHandler(svc, log)
	return f
}

func message(t *testing.T, p contractsmq.NotificationRequestedPayload) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestHandleNotifyNew(t *testing.T) {
	f := newFixture(t)

	err := f.handler.Handle(context.Background(), message(t, contractsmq.NotificationRequestedPayload{
		Op:       contractsmq.OpNotifyNew,
		Kind:     string(model.KindNewChapter),
		TargetID: 2,
	}))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	rows := f.logs.All()
	if len(rows) != 1 || rows[0].Status != model.LogSent || rows[0].Kind != model.KindNewChapter {
		t.Errorf("rows = %+v", rows)
	}
}

func TestHandleNotifyUpdateAndCompletion(t *testing.T) {
	f := newFixture(t)

	if err := f.handler.Handle(context.Background(), message(t, contractsmq.NotificationRequestedPayload{
		Op:         contractsmq.OpNotifyUpdate,
		TargetID:   1,
		TargetType: string(model.TargetWorkstream),
		Changes:    map[string]any{"title": "Onboarding v2"},
	})); err != nil {
		t.Fatalf("update Handle() error = %v", err)
	}
	if err := f.handler.Handle(context.Background(), message(t, contractsmq.NotificationRequestedPayload{
		Op:           contractsmq.OpNotifyCompletion,
		UserID:       10,
		WorkstreamID: 1,
	})); err != nil {
		t.Fatalf("completion Handle() error = %v", err)
	}
	if rows := f.logs.All(); len(rows) != 2 {
		t.Errorf("rows = %d, want 2", len(rows))
	}
}

func TestHandleSchedule(t *testing.T) {
	f := newFixture(t)
	trigger := time.Date(2026, 11, 1, 9, 0, 0, 0, time.UTC)

	err := f.handler.Handle(context.Background(), message(t, contractsmq.NotificationRequestedPayload{
		Op:          contractsmq.OpSchedule,
		Kind:        string(model.KindReminder),
		TargetID:    1,
		TargetType:  string(model.TargetWorkstream),
		TriggerTime: &trigger,
		Payload:     json.RawMessage(`{"note":"bring laptop"}`),
	}))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	due, err := f.schedules.ListDue(context.Background(), trigger, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].Payload["note"] != "bring laptop" {
		t.Errorf("due = %+v", due)
	}
}

func TestHandleClassifiesErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name      string
		raw       json.RawMessage
		retryable bool
		errorType string
	}{
		{"malformed", json.RawMessage(`{"op":`), false, "json_decode_error"},
		{"unknown op", json.RawMessage(`{"op":"explode"}`), false, "invalid_request"},
		{"bad kind", message(t, contractsmq.NotificationRequestedPayload{Op: contractsmq.OpNotifyNew, Kind: "nope", TargetID: 1}), false, "invalid_request"},
		{"missing entity", message(t, contractsmq.NotificationRequestedPayload{Op: contractsmq.OpNotifyNew, Kind: string(model.KindNewChapter), TargetID: 99}), false, "not_found"},
		{"schedule without trigger", message(t, contractsmq.NotificationRequestedPayload{Op: contractsmq.OpSchedule, Kind: string(model.KindReminder), TargetID: 1, TargetType: "workstream"}), false, "invalid_request"},
		{"bad schedule payload", json.RawMessage(`{"op":"schedule","kind":"reminder","target_id":1,"target_type":"workstream","trigger_time":"2026-11-01T09:00:00Z","payload":[1]}`), false, "json_decode_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.handler.Handle(context.Background(), tt.raw)
			if err == nil {
				t.Fatal("Handle() error = nil")
			}
			retryable, errorType := util.IsRetryableError(err)
			if retryable != tt.retryable || errorType != tt.errorType {
				t.Errorf("classified = %v %q, want %v %q", retryable, errorType, tt.retryable, tt.errorType)
			}
		})
	}
}

func TestHandleDirectoryUnavailableIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.dir.SetError(errors.New("connection refused"))

	err := f.handler.Handle(context.Background(), message(t, contractsmq.NotificationRequestedPayload{
		Op:       contractsmq.OpNotifyNew,
		Kind:     string(model.KindNewChapter),
		TargetID: 2,
	}))
	retryable, errorType := util.IsRetryableError(err)
	if !retryable || errorType != "directory_unavailable" {
		t.Errorf("classified = %v %q, want retryable directory_unavailable", retryable, errorType)
	}
}
