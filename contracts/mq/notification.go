package mq

import (
	"encoding/json"
	"time"
)

const (
	// RoutingKeyMailSend carries rendered mail for an external mailer.
	RoutingKeyMailSend = "mail.send"
	// RoutingKeyNotificationRequested asks the engine to run a notify operation.
	RoutingKeyNotificationRequested = "notification.requested"
)

// MailSendPayload is one rendered email handed to the mailer.
type MailSendPayload struct {
	MessageID string    `json:"message_id"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	HTMLBody  string    `json:"html_body"`
	CreatedAt time.Time `json:"created_at"`
}

// Notification request operations.
const (
	OpNotifyNew        = "notify_new"
	OpNotifyUpdate     = "notify_update"
	OpNotifyCompletion = "notify_completion"
	OpSchedule         = "schedule"
)

// NotificationRequestedPayload is a notify operation published by the portal.
// Fields are read according to Op.
type NotificationRequestedPayload struct {
	Op           string          `json:"op"`
	Kind         string          `json:"kind,omitempty"`
	TargetID     int64           `json:"target_id,omitempty"`
	TargetType   string          `json:"target_type,omitempty"`
	UserID       int64           `json:"user_id,omitempty"`
	WorkstreamID int64           `json:"workstream_id,omitempty"`
	TriggerTime  *time.Time      `json:"trigger_time,omitempty"`
	Changes      map[string]any  `json:"changes,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	RequestedAt  time.Time       `json:"requested_at"`
}
