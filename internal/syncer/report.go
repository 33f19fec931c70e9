package syncer

import (
	"time"

	"github.com/ajitpratap0/calsync/internal/metrics"
	"github.com/ajitpratap0/calsync/internal/models"
)

// DropReason names the gate rule that discarded an event.
type DropReason string

const (
	DropAllDay               DropReason = "all_day"
	DropSlot                 DropReason = "slot"
	DropUnattributed         DropReason = "unattributed"
	DropBillableUnattributed DropReason = "billable_unattributed"
	DropTooShort             DropReason = "too_short"
	DropUnresolved           DropReason = "unresolved"
)

// Window is the inclusive UTC range of a run.
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Counters are informational per-calendar or aggregate tallies.
type Counters struct {
	Seen      int                `json:"seen"`
	Created   int                `json:"created"`
	Updated   int                `json:"updated"`
	Skipped   int                `json:"skipped"`
	Archived  int                `json:"archived"`
	Unchanged int                `json:"unchanged"`
	Dropped   map[DropReason]int `json:"dropped"`
}

func newCounters() Counters {
	return Counters{Dropped: make(map[DropReason]int)}
}

// DroppedTotal sums drops over every reason.
func (c Counters) DroppedTotal() int {
	n := 0
	for _, v := range c.Dropped {
		n += v
	}
	return n
}

func (c *Counters) record(a models.Action) {
	switch a {
	case models.ActionCreated:
		c.Created++
		metrics.Inc(metrics.EntriesCreated)
	case models.ActionUpdated:
		c.Updated++
		metrics.Inc(metrics.EntriesUpdated)
	case models.ActionSkipped:
		c.Skipped++
		metrics.Inc(metrics.EntriesSkipped)
	case models.ActionArchived:
		c.Archived++
		metrics.Inc(metrics.EntriesArchived)
	case models.ActionUnchanged:
		c.Unchanged++
	}
}

func (c *Counters) drop(r DropReason) {
	c.Dropped[r]++
	metrics.Inc(metrics.EventsDropped)
}

func (c *Counters) add(o Counters) {
	c.Seen += o.Seen
	c.Created += o.Created
	c.Updated += o.Updated
	c.Skipped += o.Skipped
	c.Archived += o.Archived
	c.Unchanged += o.Unchanged
	for r, n := range o.Dropped {
		c.Dropped[r] += n
	}
}

// CalendarReport holds the counters of one calendar.
type CalendarReport struct {
	Calendar string `json:"calendar"`
	Counters
}

// Report summarizes a run.
type Report struct {
	RunID      string           `json:"run_id"`
	Window     Window           `json:"window"`
	DryRun     bool             `json:"dry_run"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Calendars  []CalendarReport `json:"calendars"`
	Totals     Counters         `json:"totals"`
}

func (r *Report) finish(now time.Time) {
	r.FinishedAt = now.UTC()
	r.Totals = newCounters()
	for _, c := range r.Calendars {
		r.Totals.add(c.Counters)
	}
}
