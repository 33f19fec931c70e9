package models

import "time"

// EntryTitleSeparator joins the handle and the type tag in an entry title.
const EntryTitleSeparator = " — "

// Action is the outcome of reconciling one event against the entries table.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionSkipped   Action = "skipped"
	ActionArchived  Action = "archived"
	ActionUnchanged Action = "unchanged" // cancellation with nothing left to archive
)

// TimeEntry is the freshly computed state of a target record for one event.
type TimeEntry struct {
	EventKey        string    `json:"event_key"`
	Title           string    `json:"title"`
	Start           time.Time `json:"start"`
	DurationMinutes int       `json:"duration_minutes"`
	Type            string    `json:"type"`
	PersonID        string    `json:"person_id"`
	RelationshipID  string    `json:"relationship_id,omitempty"`
	Calendar        string    `json:"calendar"`
	Link            string    `json:"link,omitempty"`
}

// EventKey builds the stable upsert key of an event.
func EventKey(calendarID, eventID string) string {
	return calendarID + ":" + eventID
}

// EntryTitle builds the title written for an attributed event.
func EntryTitle(handle, entryType string) string {
	return "@" + handle + EntryTitleSeparator + entryType
}
