package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"trainingportal/internal/model"
	"trainingportal/internal/render"
	"trainingportal/internal/repository/memory"
	"trainingportal/internal/service/delivery"
)

// switchTransport fails every send while down is set.
type switchTransport struct {
	mu   sync.Mutex
	down bool
}

func (t *switchTransport) Send(context.Context, string, string, string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.down {
		return errors.New("relay down")
	}
	return nil
}

func (t *switchTransport) setDown(down bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.down = down
}

type fixture struct {
	logs        *memory.LogStore
	dir         *memory.Directory
	transport   *switchTransport
	workstreams *memory.DeadlineSource
	chapters    *memory.DeadlineSource
	assessments *memory.DeadlineSource
	evaluator   *Evaluator
	now         time.Time
	current     time.Time
}

func (f *fixture) advance(d time.Duration) {
	f.current = f.current.Add(d)
}

func newFixture(t *testing.T, mode DedupeMode, claimer Claimer) *fixture {
	t.Helper()
	now := time.Now().UTC()
	f := &fixture{
		logs:        memory.NewLogStore(),
		workstreams: memory.NewDeadlineSource(model.TargetWorkstream),
		chapters:    memory.NewDeadlineSource(model.TargetChapter),
		assessments: memory.NewDeadlineSource(model.TargetAssessment),
		transport:   &switchTransport{},
		now:         now,
		current:     now,
	}

	r, err := render.New("")
	if err != nil {
		t.Fatal(err)
	}
	f.dir = memory.NewDirectory(
		model.Recipient{ID: 1, Email: "a@example.com"},
		model.Recipient{ID: 2, Email: "b@example.com"},
		model.Recipient{ID: 3, Email: "c@example.com"},
	)
	pipeline := delivery.NewPipeline(delivery.Config{Concurrency: 2}, f.dir, f.logs, r, f.transport, zap.NewNop())

	sources := map[model.TargetType]DeadlineSource{
		model.TargetWorkstream: f.workstreams,
		model.TargetChapter:    f.chapters,
		model.TargetAssessment: f.assessments,
	}
	f.evaluator = NewEvaluator(Config{Dedupe: mode}, sources, pipeline, f.logs, claimer, zaptest.NewLogger(t))
	f.evaluator.SetClock(func() time.Time { return f.current })
	return f
}

func (f *fixture) rowsOf(kind model.Kind) []model.NotificationLog {
	var out []model.NotificationLog
	for _, row := range f.logs.All() {
		if row.Kind == kind {
			out = append(out, row)
		}
	}
	return out
}

func TestWeekReminderEndToEnd(t *testing.T) {
	f := newFixture(t, DedupeNone, nil)
	f.workstreams.Add(model.DeadlineRecord{ID: 42, Title: "Onboarding", Deadline: f.now.Add(7 * day)})

	summary := f.evaluator.EvaluateDeadlineWindows(context.Background())
	if summary.Notified != 1 || summary.Sent != 3 || len(summary.Errors) != 0 {
		t.Fatalf("summary = %+v", summary)
	}

	rows := f.rowsOf(model.KindDeadlineReminderWeek)
	if len(rows) != 3 {
		t.Fatalf("week rows = %d, want 3", len(rows))
	}
	for _, row := range rows {
		if row.Status != model.LogSent || row.TargetID != 42 || row.TargetType != model.TargetWorkstream {
			t.Errorf("row = %+v", row)
		}
	}
	if dayRows := f.rowsOf(model.KindDeadlineReminderDay); len(dayRows) != 0 {
		t.Errorf("day rows = %d, want 0", len(dayRows))
	}
}

func TestDeadlineWindowBoundaries(t *testing.T) {
	f := newFixture(t, DedupeNone, nil)
	f.assessments.Add(model.DeadlineRecord{ID: 1, Title: "at now", Deadline: f.now})
	f.assessments.Add(model.DeadlineRecord{ID: 2, Title: "day end", Deadline: f.now.Add(2 * day)})
	f.assessments.Add(model.DeadlineRecord{ID: 3, Title: "week start", Deadline: f.now.Add(6 * day)})
	f.assessments.Add(model.DeadlineRecord{ID: 4, Title: "week end", Deadline: f.now.Add(8 * day)})
	f.assessments.Add(model.DeadlineRecord{ID: 5, Title: "gap", Deadline: f.now.Add(4 * day)})

	f.evaluator.EvaluateDeadlineWindows(context.Background())

	targets := func(kind model.Kind) map[int64]bool {
		out := map[int64]bool{}
		for _, row := range f.rowsOf(kind) {
			out[row.TargetID] = true
		}
		return out
	}
	if got := targets(model.KindDeadlineReminderDay); len(got) != 1 || !got[1] {
		t.Errorf("day window targets = %v, want {1}", got)
	}
	if got := targets(model.KindDeadlineReminderWeek); len(got) != 1 || !got[3] {
		t.Errorf("week window targets = %v, want {3}", got)
	}
}

func TestOverdueCap(t *testing.T) {
	f := newFixture(t, DedupeNone, nil)
	f.chapters.Add(model.DeadlineRecord{ID: 10, Title: "recent", Deadline: f.now.Add(-5 * day)})
	f.chapters.Add(model.DeadlineRecord{ID: 11, Title: "exactly cap", Deadline: f.now.Add(-30 * day)})
	f.chapters.Add(model.DeadlineRecord{ID: 12, Title: "stale", Deadline: f.now.Add(-31 * day)})
	f.chapters.Add(model.DeadlineRecord{ID: 13, Title: "future", Deadline: f.now.Add(time.Hour)})

	summary := f.evaluator.EvaluateOverdue(context.Background())
	if summary.Matched != 2 {
		t.Errorf("matched = %d, want 2", summary.Matched)
	}

	seen := map[int64]int{}
	for _, row := range f.rowsOf(model.KindOverdue) {
		seen[row.TargetID]++
	}
	if seen[10] != 3 || seen[11] != 3 {
		t.Errorf("overdue rows per target = %v, want 3 for 10 and 11", seen)
	}
	if seen[12] != 0 || seen[13] != 0 {
		t.Errorf("stale or future entities notified: %v", seen)
	}
}

func TestQueryFailureIsIsolated(t *testing.T) {
	f := newFixture(t, DedupeNone, nil)
	f.chapters.SetError(errors.New("relation chapters does not exist"))
	f.workstreams.Add(model.DeadlineRecord{ID: 1, Title: "ws", Deadline: f.now.Add(7 * day)})
	f.assessments.Add(model.DeadlineRecord{ID: 2, Title: "as", Deadline: f.now.Add(day)})

	summary := f.evaluator.EvaluateDeadlineWindows(context.Background())

	// chapters fail once per window
	if len(summary.Errors) != 2 {
		t.Fatalf("errors = %+v, want 2", summary.Errors)
	}
	for _, e := range summary.Errors {
		if e.TargetType != model.TargetChapter {
			t.Errorf("error for %s, want chapter", e.TargetType)
		}
	}
	if summary.Err() == nil {
		t.Error("Err() = nil, want joined error")
	}
	if summary.Notified != 2 {
		t.Errorf("notified = %d, want 2", summary.Notified)
	}
}

func TestDedupeModes(t *testing.T) {
	tests := []struct {
		name     string
		mode     DedupeMode
		claimer  Claimer
		wantRows int
		wantSkip int
	}{
		{"none renotifies", DedupeNone, nil, 6, 0},
		{"log suppresses", DedupeLog, nil, 3, 1},
		{"redis suppresses", DedupeRedis, newFakeClaimer(), 3, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.mode, tt.claimer)
			f.workstreams.Add(model.DeadlineRecord{ID: 42, Title: "Onboarding", Deadline: f.now.Add(day)})

			f.evaluator.EvaluateDeadlineWindows(context.Background())
			second := f.evaluator.EvaluateDeadlineWindows(context.Background())

			if got := len(f.rowsOf(model.KindDeadlineReminderDay)); got != tt.wantRows {
				t.Errorf("rows = %d, want %d", got, tt.wantRows)
			}
			if second.Skipped != tt.wantSkip {
				t.Errorf("second run skipped = %d, want %d", second.Skipped, tt.wantSkip)
			}
		})
	}
}

type fakeClaimer struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newFakeClaimer() *fakeClaimer {
	return &fakeClaimer{keys: map[string]bool{}}
}

func (c *fakeClaimer) AcquireOnce(_ context.Context, scope, id string, _ time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := scope + ":" + id
	if c.keys[key] {
		return false
	}
	c.keys[key] = true
	return true
}

func (c *fakeClaimer) Release(_ context.Context, scope, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, scope+":"+id)
}

func (c *fakeClaimer) held(scope, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keys[scope+":"+id]
}

func sentRows(rows []model.NotificationLog) int {
	n := 0
	for _, row := range rows {
		if row.Status == model.LogSent {
			n++
		}
	}
	return n
}

func TestRedisClaimReleasedAfterDirectoryOutage(t *testing.T) {
	claimer := newFakeClaimer()
	f := newFixture(t, DedupeRedis, claimer)
	f.chapters.Add(model.DeadlineRecord{ID: 5, Title: "Fire safety", Deadline: f.now.Add(36 * time.Hour)})
	target := model.Target{ID: 5, Type: model.TargetChapter}
	ctx := context.Background()

	f.dir.SetError(errors.New("connection refused"))
	first := f.evaluator.EvaluateDeadlineWindows(ctx)
	if len(first.Errors) != 1 || first.Notified != 1 {
		t.Fatalf("first tick = %+v, want one delivery error", first)
	}
	if claimer.held("reminder:"+model.KindDeadlineReminderDay.String(), target.String()) {
		t.Fatal("claim still held after failed delivery")
	}

	f.dir.SetError(nil)
	f.advance(day)
	second := f.evaluator.EvaluateDeadlineWindows(ctx)
	if second.Notified != 1 || second.Skipped != 0 || second.Sent != 3 {
		t.Fatalf("second tick = %+v, want the reminder delivered", second)
	}

	f.advance(time.Hour)
	if third := f.evaluator.EvaluateDeadlineWindows(ctx); third.Skipped != 1 {
		t.Errorf("third tick skipped = %d, want 1 once delivered", third.Skipped)
	}
}

func TestTotalSendFailureDoesNotSuppressNextTick(t *testing.T) {
	tests := []struct {
		name    string
		mode    DedupeMode
		claimer Claimer
	}{
		{"log", DedupeLog, nil},
		{"redis", DedupeRedis, newFakeClaimer()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.mode, tt.claimer)
			f.assessments.Add(model.DeadlineRecord{ID: 8, Title: "Quiz", Deadline: f.now.Add(36 * time.Hour)})
			ctx := context.Background()

			f.transport.setDown(true)
			first := f.evaluator.EvaluateDeadlineWindows(ctx)
			if first.Sent != 0 || first.Failed != 3 {
				t.Fatalf("first tick = %+v, want every send failed", first)
			}

			f.transport.setDown(false)
			f.advance(day)
			second := f.evaluator.EvaluateDeadlineWindows(ctx)
			if second.Skipped != 0 || second.Sent != 3 {
				t.Fatalf("second tick = %+v, want the reminder delivered", second)
			}
			if got := sentRows(f.rowsOf(model.KindDeadlineReminderDay)); got != 3 {
				t.Errorf("sent rows = %d, want 3", got)
			}
		})
	}
}

func TestOverduePayloadCarriesAge(t *testing.T) {
	rec := model.DeadlineRecord{ID: 1, Type: model.TargetAssessment, Title: "x", Deadline: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	p := payloadFor(model.KindOverdue, rec, rec.Deadline.Add(3*day+time.Hour))
	if p["days_overdue"] != 3 || p["entity_type"] != "assessment" || p["title"] != "x" {
		t.Errorf("payload = %v", p)
	}
	if _, ok := payloadFor(model.KindDeadlineReminderDay, rec, rec.Deadline)["days_overdue"]; ok {
		t.Error("day reminder payload should not carry days_overdue")
	}
}
