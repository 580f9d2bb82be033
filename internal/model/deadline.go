package model

import "time"

// TimeRange is the half-open interval [From, To).
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

// DeadlineRecord is an entity with a deadline, as returned by a deadline source.
type DeadlineRecord struct {
	ID       int64
	Type     TargetType
	Title    string
	Deadline time.Time
}

// Target returns the record as a notification target.
func (r DeadlineRecord) Target() Target {
	return Target{ID: r.ID, Type: r.Type}
}
