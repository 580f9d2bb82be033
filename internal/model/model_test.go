package model

import (
	"errors"
	"testing"
	"time"
)

func TestParseKind(t *testing.T) {
	for _, k := range AllKinds {
		got, err := ParseKind(string(k))
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %q, %v", k, got, err)
		}
	}
	if _, err := ParseKind("bogus"); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("ParseKind(bogus) error = %v, want ErrInvalidKind", err)
	}
}

func TestParseTargetType(t *testing.T) {
	if got, err := ParseTargetType("chapter"); err != nil || got != TargetChapter {
		t.Errorf("ParseTargetType(chapter) = %q, %v", got, err)
	}
	if _, err := ParseTargetType("course"); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("ParseTargetType(course) error = %v, want ErrInvalidTarget", err)
	}
}

func TestKindAudience(t *testing.T) {
	tests := []struct {
		kind Kind
		want Audience
	}{
		{KindNewWorkstream, AudienceBroadcast},
		{KindUpdate, AudienceBroadcast},
		{KindDeadlineReminderDay, AudienceBroadcast},
		{KindOverdue, AudienceBroadcast},
		{KindCompletion, AudienceDirect},
		{KindReassignment, AudienceDirect},
	}
	for _, tt := range tests {
		if got := tt.kind.Audience(); got != tt.want {
			t.Errorf("%s.Audience() = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestTimeRangeContains(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	r := TimeRange{From: base, To: base.Add(48 * time.Hour)}

	if !r.Contains(base) {
		t.Error("range should include From")
	}
	if r.Contains(base.Add(48 * time.Hour)) {
		t.Error("range should exclude To")
	}
	if r.Contains(base.Add(-time.Second)) {
		t.Error("range should exclude instants before From")
	}
}

func TestScheduleEntryDue(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name  string
		entry ScheduleEntry
		want  bool
	}{
		{"pending due", ScheduleEntry{Status: SchedulePending, TriggerTime: past}, true},
		{"pending at trigger", ScheduleEntry{Status: SchedulePending, TriggerTime: now}, true},
		{"pending future", ScheduleEntry{Status: SchedulePending, TriggerTime: future}, false},
		{"completed", ScheduleEntry{Status: ScheduleCompleted, TriggerTime: past}, false},
		{"processing", ScheduleEntry{Status: ScheduleProcessing, TriggerTime: past}, false},
		{"failed rearmed", ScheduleEntry{Status: ScheduleFailed, TriggerTime: past, RetryCount: 1, MaxRetries: 3, NextRun: &past}, true},
		{"failed not yet", ScheduleEntry{Status: ScheduleFailed, TriggerTime: past, RetryCount: 1, MaxRetries: 3, NextRun: &future}, false},
		{"failed last retry", ScheduleEntry{Status: ScheduleFailed, TriggerTime: past, RetryCount: 3, MaxRetries: 3, NextRun: &past}, true},
		{"failed exhausted", ScheduleEntry{Status: ScheduleFailed, TriggerTime: past, RetryCount: 3, MaxRetries: 3}, false},
		{"failed over budget", ScheduleEntry{Status: ScheduleFailed, TriggerTime: past, RetryCount: 4, MaxRetries: 3, NextRun: &past}, false},
		{"failed not rearmed", ScheduleEntry{Status: ScheduleFailed, TriggerTime: past, MaxRetries: 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.Due(now); got != tt.want {
				t.Errorf("Due() = %v, want %v", got, tt.want)
			}
		})
	}
}
