package model

import "time"

// LogStatus is the delivery state of one log row.
type LogStatus string

const (
	LogPending LogStatus = "pending"
	LogSent    LogStatus = "sent"
	LogFailed  LogStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s LogStatus) Terminal() bool {
	return s == LogSent || s == LogFailed
}

// NotificationLog is one delivery attempt to one recipient.
type NotificationLog struct {
	ID             string     `json:"id"`
	Kind           Kind       `json:"kind"`
	TargetID       int64      `json:"target_id"`
	TargetType     TargetType `json:"target_type"`
	RecipientEmail string     `json:"recipient_email"`
	Subject        string     `json:"subject"`
	Status         LogStatus  `json:"status"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Target returns the subject entity of the row.
func (l NotificationLog) Target() Target {
	return Target{ID: l.TargetID, Type: l.TargetType}
}

// LogStats aggregates log rows created since Since.
type LogStats struct {
	Since    time.Time         `json:"since"`
	Total    int               `json:"total"`
	ByStatus map[LogStatus]int `json:"by_status"`
	ByKind   map[Kind]int      `json:"by_kind"`
}
