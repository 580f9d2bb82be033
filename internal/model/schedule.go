package model

import "time"

// ScheduleStatus is the lifecycle of a schedule entry.
type ScheduleStatus string

const (
	SchedulePending    ScheduleStatus = "pending"
	ScheduleProcessing ScheduleStatus = "processing"
	ScheduleCompleted  ScheduleStatus = "completed"
	ScheduleFailed     ScheduleStatus = "failed"
)

// DefaultMaxRetries applies when a schedule request does not set one.
const DefaultMaxRetries = 3

// ScheduleEntry is a durable one-shot notification request.
type ScheduleEntry struct {
	ID               string         `json:"id"`
	NotificationType Kind           `json:"notification_type"`
	TargetID         int64          `json:"target_id"`
	TargetType       TargetType     `json:"target_type"`
	TriggerTime      time.Time      `json:"trigger_time"`
	Status           ScheduleStatus `json:"status"`
	LastRun          *time.Time     `json:"last_run,omitempty"`
	NextRun          *time.Time     `json:"next_run,omitempty"`
	RetryCount       int            `json:"retry_count"`
	MaxRetries       int            `json:"max_retries"`
	LastError        string         `json:"last_error,omitempty"`
	Payload          Payload        `json:"payload"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Target returns the subject entity of the entry.
func (e ScheduleEntry) Target() Target {
	return Target{ID: e.TargetID, Type: e.TargetType}
}

// Due reports whether the entry is eligible for processing at now.
// A failed entry is eligible again only once re-armed within its retry budget.
func (e ScheduleEntry) Due(now time.Time) bool {
	switch e.Status {
	case SchedulePending:
		if e.TriggerTime.After(now) {
			return false
		}
		return e.NextRun == nil || !e.NextRun.After(now)
	case ScheduleFailed:
		return e.RetryCount <= e.MaxRetries && e.NextRun != nil && !e.NextRun.After(now)
	default:
		return false
	}
}
