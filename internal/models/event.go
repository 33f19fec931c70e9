package models

import (
	"math"
	"time"
)

// EventStatus is the lifecycle status reported by the calendar source.
type EventStatus string

const (
	StatusConfirmed EventStatus = "confirmed"
	StatusTentative EventStatus = "tentative"
	StatusCancelled EventStatus = "cancelled"
)

// ValidEventStatuses is the set of all recognized event statuses.
var ValidEventStatuses = []EventStatus{
	StatusConfirmed,
	StatusTentative,
	StatusCancelled,
}

// IsValid returns true if the event status is recognized.
func (s EventStatus) IsValid() bool {
	for _, v := range ValidEventStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// SourceEvent is a single calendar event instance as read from the source.
// Start and End are nil for all-day events.
type SourceEvent struct {
	ID          string      `json:"id"`
	CalendarID  string      `json:"calendar_id"`
	Status      EventStatus `json:"status"`
	Summary     string      `json:"summary"`
	Description string      `json:"description"`
	Start       *time.Time  `json:"start,omitempty"`
	End         *time.Time  `json:"end,omitempty"`
	Link        string      `json:"link,omitempty"`
}

// IsCancelled reports whether the source marked the event as cancelled.
func (e SourceEvent) IsCancelled() bool {
	return e.Status == StatusCancelled
}

// IsTimed reports whether the event carries both a start and an end time of day.
func (e SourceEvent) IsTimed() bool {
	return e.Start != nil && e.End != nil
}

// DurationMinutes returns the event length rounded to whole minutes.
// Untimed events have no duration.
func (e SourceEvent) DurationMinutes() int {
	if !e.IsTimed() {
		return 0
	}
	return int(math.Round(e.End.Sub(*e.Start).Seconds() / 60))
}
