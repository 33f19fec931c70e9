// Package syncer drives one reconciliation run: it pages events from each
// configured calendar, gates and attributes them, and hands the survivors to
// the reconciliation engine.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/calsync/internal/calendar"
	"github.com/ajitpratap0/calsync/internal/classifier"
	"github.com/ajitpratap0/calsync/internal/metrics"
	"github.com/ajitpratap0/calsync/internal/models"
	"github.com/ajitpratap0/calsync/internal/reconcile"
	"github.com/ajitpratap0/calsync/internal/resolver"
	"github.com/ajitpratap0/calsync/internal/store"
)

// PrefetchLead extends the prefetched range before the window start.
const PrefetchLead = 24 * time.Hour

// DefaultMinDurationMinutes is the shortest event worth an entry.
const DefaultMinDurationMinutes = 3

// CalendarSpec names a calendar to sync and the label written on its entries.
type CalendarSpec struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Calendars returns the primary calendar followed by the secondary one when
// its id is set. Empty labels fall back to the id.
func Calendars(primary, secondary CalendarSpec) []CalendarSpec {
	out := []CalendarSpec{withLabel(primary)}
	if secondary.ID != "" {
		out = append(out, withLabel(secondary))
	}
	return out
}

func withLabel(c CalendarSpec) CalendarSpec {
	if c.Label == "" {
		c.Label = c.ID
	}
	return c
}

// Options configures a Driver.
type Options struct {
	Source             calendar.Source
	Store              store.Store
	Calendars          []CalendarSpec
	DaysBack           int
	MinDurationMinutes int
	CalendarPageSize   int
	Prefetch           bool

	IdentityMode     resolver.Mode
	Identity         resolver.IdentityOptions
	RelationshipMode resolver.Mode
	Relationship     resolver.RelationshipOptions
	Entries          reconcile.Options

	Classifier classifier.Classifier
	Now        func() time.Time
	Logger     *slog.Logger
}

// RunOptions overrides per-run settings. Zero values keep the driver's.
type RunOptions struct {
	DaysBack int
	DryRun   bool
}

// Driver runs reconciliations. Runs must not overlap; callers serialize them.
type Driver struct {
	opts   Options
	logger *slog.Logger
}

// NewDriver creates a new sync driver.
func NewDriver(opts Options) (*Driver, error) {
	if opts.Source == nil || opts.Store == nil {
		return nil, errors.New("syncer: source and store are required")
	}
	if len(opts.Calendars) == 0 {
		return nil, errors.New("syncer: at least one calendar is required")
	}
	if opts.DaysBack <= 0 {
		return nil, fmt.Errorf("syncer: days back must be positive, got %d", opts.DaysBack)
	}
	if opts.MinDurationMinutes <= 0 {
		opts.MinDurationMinutes = DefaultMinDurationMinutes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Classifier == nil {
		opts.Classifier = classifier.NewClassifier(opts.Logger)
	}
	return &Driver{opts: opts, logger: opts.Logger}, nil
}

// run holds the per-run caches; it is discarded when the run ends.
type run struct {
	id            string
	identity      resolver.IdentityResolver
	relationships resolver.RelationshipResolver
	engine        *reconcile.Engine
	logger        *slog.Logger
}

// Run performs one full reconciliation over the window ending now. It
// returns the partial report alongside any fatal error.
func (d *Driver) Run(ctx context.Context, ro RunOptions) (*Report, error) {
	metrics.Inc(metrics.RunsTotal)
	report, err := d.run(ctx, ro)
	if err != nil {
		metrics.Inc(metrics.RunsFailed)
	}
	return report, err
}

func (d *Driver) run(ctx context.Context, ro RunOptions) (*Report, error) {
	days := d.opts.DaysBack
	if ro.DaysBack > 0 {
		days = ro.DaysBack
	}
	now := d.opts.Now().UTC().Truncate(time.Second)
	window := Window{From: now.AddDate(0, 0, -days), To: now}

	report := &Report{RunID: uuid.NewString(), Window: window, DryRun: ro.DryRun, StartedAt: now}
	logger := d.logger.With("run_id", report.RunID)
	logger.Info("sync run starting", "from", window.From.Format(time.RFC3339), "to", window.To.Format(time.RFC3339),
		"calendars", len(d.opts.Calendars), "dry_run", ro.DryRun)

	r, err := d.newRun(ctx, report.RunID, ro, logger)
	if err != nil {
		return report, err
	}
	if d.opts.Prefetch {
		// Sources return events still running at window start, so the
		// index reaches back further than the window itself.
		if _, err := r.engine.Prefetch(ctx, window.From.Add(-PrefetchLead), window.To); err != nil {
			return report, err
		}
	}

	for _, cal := range d.opts.Calendars {
		cr := CalendarReport{Calendar: cal.Label, Counters: newCounters()}
		err := d.syncCalendar(ctx, r, cal, window, &cr.Counters)
		report.Calendars = append(report.Calendars, cr)
		if err != nil {
			report.finish(d.opts.Now())
			return report, fmt.Errorf("syncer: calendar %s: %w", cal.Label, err)
		}
		logger.Info("calendar synced", "calendar", cal.Label, "seen", cr.Seen, "created", cr.Created,
			"updated", cr.Updated, "skipped", cr.Skipped, "archived", cr.Archived, "dropped", cr.DroppedTotal())
	}

	report.finish(d.opts.Now())
	t := report.Totals
	logger.Info("sync run finished", "seen", t.Seen, "created", t.Created, "updated", t.Updated,
		"skipped", t.Skipped, "archived", t.Archived, "dropped", t.DroppedTotal())
	return report, nil
}

func (d *Driver) newRun(ctx context.Context, id string, ro RunOptions, logger *slog.Logger) (*run, error) {
	idOpts := d.opts.Identity
	idOpts.Logger = logger
	identity, err := resolver.NewIdentityResolver(ctx, d.opts.IdentityMode, d.opts.Store, idOpts)
	if err != nil {
		return nil, err
	}

	relOpts := d.opts.Relationship
	relOpts.Logger = logger
	relMode := d.opts.RelationshipMode
	if relMode == "" {
		relMode = d.opts.IdentityMode
	}
	relationships, err := resolver.NewRelationshipResolver(ctx, relMode, d.opts.Store, relOpts)
	if err != nil {
		return nil, err
	}

	engOpts := d.opts.Entries
	engOpts.Store = d.opts.Store
	engOpts.DryRun = engOpts.DryRun || ro.DryRun
	engOpts.Logger = logger

	return &run{
		id:            id,
		identity:      identity,
		relationships: relationships,
		engine:        reconcile.NewEngine(engOpts),
		logger:        logger,
	}, nil
}

func (d *Driver) syncCalendar(ctx context.Context, r *run, cal CalendarSpec, w Window, c *Counters) error {
	q := calendar.Query{CalendarID: cal.ID, TimeMin: w.From, TimeMax: w.To, PageSize: d.opts.CalendarPageSize}
	return calendar.ListAll(ctx, d.opts.Source, q, func(ev models.SourceEvent) error {
		c.Seen++
		metrics.Inc(metrics.EventsSeen)
		action, err := d.processEvent(ctx, r, cal, ev, c)
		if err != nil {
			return err
		}
		c.record(action)
		return nil
	})
}

// processEvent returns an empty action for dropped events.
func (d *Driver) processEvent(ctx context.Context, r *run, cal CalendarSpec, ev models.SourceEvent, c *Counters) (models.Action, error) {
	key := models.EventKey(cal.ID, ev.ID)

	if ev.IsCancelled() {
		return r.engine.Cancel(ctx, key)
	}

	cls := d.opts.Classifier.Classify(ev.Summary, ev.Description)
	if reason, ok := d.gate(ev, cls); !ok {
		c.drop(reason)
		r.logger.Debug("event dropped", "event_key", key, "reason", reason, "summary", ev.Summary)
		return "", nil
	}

	personID, ok, err := r.identity.Resolve(ctx, cls.Handle)
	if err != nil {
		return "", err
	}
	if !ok {
		c.drop(DropUnresolved)
		r.logger.Warn("handle not found in people table", "event_key", key, "handle", cls.Handle)
		return "", nil
	}

	relationshipID, _, err := r.relationships.ResolveActive(ctx, personID)
	if err != nil {
		return "", err
	}

	entry := models.TimeEntry{
		EventKey:        key,
		Title:           models.EntryTitle(cls.Handle, cls.Type),
		Start:           ev.Start.UTC(),
		DurationMinutes: ev.DurationMinutes(),
		Type:            cls.Type,
		PersonID:        personID,
		RelationshipID:  relationshipID,
		Calendar:        cal.Label,
		Link:            ev.Link,
	}
	return r.engine.Upsert(ctx, entry)
}

// gate applies the qualification rules in order and names the first that fails.
func (d *Driver) gate(ev models.SourceEvent, cls classifier.Classification) (DropReason, bool) {
	if !ev.IsTimed() {
		return DropAllDay, false
	}
	if cls.Slot && !cls.Billable && !cls.HasHandle() {
		return DropSlot, false
	}
	if !cls.HasHandle() && !cls.Billable {
		return DropUnattributed, false
	}
	// Billable events without a handle cannot be attributed either.
	if !cls.HasHandle() {
		return DropBillableUnattributed, false
	}
	if ev.DurationMinutes() < d.opts.MinDurationMinutes {
		return DropTooShort, false
	}
	return "", true
}
