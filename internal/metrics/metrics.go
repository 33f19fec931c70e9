// Package metrics provides application-level counters using stdlib expvar.
// Counters are exported on /debug/vars by the serve command.
package metrics

import "expvar"

// Sync counters.
var (
	EventsSeen      = expvar.NewInt("calsync_events_seen_total")
	EventsDropped   = expvar.NewInt("calsync_events_dropped_total")
	EntriesCreated  = expvar.NewInt("calsync_entries_created_total")
	EntriesUpdated  = expvar.NewInt("calsync_entries_updated_total")
	EntriesSkipped  = expvar.NewInt("calsync_entries_skipped_total")
	EntriesArchived = expvar.NewInt("calsync_entries_archived_total")
	RunsTotal       = expvar.NewInt("calsync_runs_total")
	RunsFailed      = expvar.NewInt("calsync_runs_failed_total")
)

// Store client counters.
var (
	StoreRequests    = expvar.NewInt("calsync_store_requests_total")
	StoreRateLimited = expvar.NewInt("calsync_store_rate_limited_total")
)

// Inc increments the given counter by 1.
func Inc(counter *expvar.Int) { counter.Add(1) }
