package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"trainingportal/internal/model"
)

func init() {
	color.NoColor = true
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	seed := `
recipients:
  - id: 1
    email: ada@example.com
assessments:
  - id: 30
    title: Final quiz
    due_in: -50h
`
	seedPath := filepath.Join(dir, "seed.yaml")
	base := "storage:\n  driver: memory\n  seed_file: " + seedPath + "\ntransport:\n  driver: log\n"
	for name, content := range map[string]string{"seed.yaml": seed, "base.yaml": base} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := RootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRunOverdue(t *testing.T) {
	dir := writeConfig(t)

	out, err := execute(t, "--env", "test", "--config-dir", dir, "--log-level", "error", "run", "overdue")
	if err != nil {
		t.Fatalf("run overdue error = %v, output = %s", err, out)
	}
	if !strings.Contains(out, "overdue: matched 1, notified 1, skipped 0, sent 1, failed 0") {
		t.Errorf("output = %q", out)
	}
}

func TestLogsEmpty(t *testing.T) {
	dir := writeConfig(t)

	out, err := execute(t, "--env", "test", "--config-dir", dir, "--log-level", "error", "logs", "--limit", "5")
	if err != nil {
		t.Fatalf("logs error = %v", err)
	}
	if !strings.Contains(out, "No notifications logged.") {
		t.Errorf("output = %q", out)
	}
}

func TestScheduleCommand(t *testing.T) {
	dir := writeConfig(t)

	out, err := execute(t, "--env", "test", "--config-dir", dir, "--log-level", "error",
		"schedule", "--target-type", "assessment", "--target-id", "30", "--in", "1h")
	if err != nil {
		t.Fatalf("schedule error = %v, output = %s", err, out)
	}
	if !strings.Contains(out, "Scheduled") || !strings.Contains(out, "reminder assessment:30") {
		t.Errorf("output = %q", out)
	}
}

func TestBuildScheduleRequest(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	req, err := buildScheduleRequest("overdue", "chapter", 5, "", 2*time.Hour, `{"note":"x"}`, now)
	if err != nil {
		t.Fatalf("buildScheduleRequest() error = %v", err)
	}
	if req.Kind != model.KindOverdue || req.Target.Type != model.TargetChapter || !req.TriggerTime.Equal(now.Add(2*time.Hour)) {
		t.Errorf("req = %+v", req)
	}
	if req.Payload["note"] != "x" {
		t.Errorf("payload = %v", req.Payload)
	}

	tests := []struct {
		name       string
		kind, tt   string
		at         string
		in         time.Duration
		payload    string
		wantSubstr string
	}{
		{"bad kind", "bogus", "chapter", "", time.Hour, "", "invalid notification kind"},
		{"bad target", "reminder", "course", "", time.Hour, "", "invalid target"},
		{"no trigger", "reminder", "chapter", "", 0, "", "required"},
		{"both triggers", "reminder", "chapter", "2026-10-02T00:00:00Z", time.Hour, "", "not both"},
		{"bad at", "reminder", "chapter", "tomorrow", 0, "", "invalid --at"},
		{"bad payload", "reminder", "chapter", "", time.Hour, "[", "invalid --payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildScheduleRequest(tt.kind, tt.tt, 1, tt.at, tt.in, tt.payload, now)
			if err == nil || !strings.Contains(err.Error(), tt.wantSubstr) {
				t.Errorf("error = %v, want %q", err, tt.wantSubstr)
			}
		})
	}
}
