package model

import "fmt"

// Kind identifies what a notification is about.
type Kind string

const (
	KindNewWorkstream        Kind = "new_workstream"
	KindNewChapter           Kind = "new_chapter"
	KindNewAssessment        Kind = "new_assessment"
	KindUpdate               Kind = "update"
	KindReminder             Kind = "reminder"
	KindCompletion           Kind = "completion"
	KindOverdue              Kind = "overdue"
	KindReassignment         Kind = "reassignment"
	KindCancellation         Kind = "cancellation"
	KindDeadlineReminderWeek Kind = "deadline_reminder_week"
	KindDeadlineReminderDay  Kind = "deadline_reminder_day"
)

// AllKinds lists every kind in a stable order.
var AllKinds = []Kind{
	KindNewWorkstream,
	KindNewChapter,
	KindNewAssessment,
	KindUpdate,
	KindReminder,
	KindCompletion,
	KindOverdue,
	KindReassignment,
	KindCancellation,
	KindDeadlineReminderWeek,
	KindDeadlineReminderDay,
}

// ParseKind validates s as a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
	return k, nil
}

func (k Kind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

func (k Kind) String() string { return string(k) }

// Audience says who receives a kind.
type Audience int

const (
	// AudienceBroadcast delivers to every directory recipient.
	AudienceBroadcast Audience = iota
	// AudienceDirect delivers to one explicit recipient.
	AudienceDirect
)

// Audience returns the recipient policy for k.
func (k Kind) Audience() Audience {
	switch k {
	case KindCompletion, KindReassignment, KindCancellation:
		return AudienceDirect
	default:
		return AudienceBroadcast
	}
}

// PublishedTargetType returns the entity type announced by a New* kind.
func (k Kind) PublishedTargetType() (TargetType, bool) {
	switch k {
	case KindNewWorkstream:
		return TargetWorkstream, true
	case KindNewChapter:
		return TargetChapter, true
	case KindNewAssessment:
		return TargetAssessment, true
	default:
		return "", false
	}
}

// Schedulable reports whether k may be queued in the schedule store.
func (k Kind) Schedulable() bool {
	return k == KindReminder || k == KindOverdue
}

// TargetType identifies the subject entity table.
type TargetType string

const (
	TargetWorkstream TargetType = "workstream"
	TargetChapter    TargetType = "chapter"
	TargetAssessment TargetType = "assessment"
)

// AllTargetTypes lists every target type in evaluation order.
var AllTargetTypes = []TargetType{TargetWorkstream, TargetChapter, TargetAssessment}

// ParseTargetType validates s as a TargetType.
func ParseTargetType(s string) (TargetType, error) {
	switch t := TargetType(s); t {
	case TargetWorkstream, TargetChapter, TargetAssessment:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTarget, s)
	}
}

func (t TargetType) String() string { return string(t) }

// Target identifies the entity a notification is about.
type Target struct {
	ID   int64      `json:"target_id"`
	Type TargetType `json:"target_type"`
}

func (t Target) String() string {
	return fmt.Sprintf("%s:%d", t.Type, t.ID)
}

// Payload is opaque rendering data.
type Payload map[string]any

// Clone returns a shallow copy so callers can add fields safely.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
