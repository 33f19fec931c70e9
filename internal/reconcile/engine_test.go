package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/calsync/internal/models"
	"github.com/ajitpratap0/calsync/internal/store"
)

const entriesDB = "entries"

var testNames = PropertyNames{
	Title:        "Name",
	EventKey:     "Event Key",
	Start:        "Date",
	Duration:     "Minutes",
	Type:         "Type",
	Person:       "Person",
	Relationship: "Relationship",
	Source:       "Source",
	Calendar:     "Calendar",
	Link:         "Link",
}

func newTestEngine(st store.Store, dryRun bool) *Engine {
	return NewEngine(Options{
		Store:      st,
		DatabaseID: entriesDB,
		Properties: testNames,
		SourceTag:  "calendar",
		DryRun:     dryRun,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func sampleEntry() models.TimeEntry {
	return models.TimeEntry{
		EventKey:        "primary:evt1",
		Title:           models.EntryTitle("alice_99", "review"),
		Start:           time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC),
		DurationMinutes: 45,
		Type:            "review",
		PersonID:        "P1",
		RelationshipID:  "R1",
		Calendar:        "Work",
		Link:            "https://calendar.example/evt1",
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	st := store.NewMockStore()
	e := newTestEngine(st, false)
	ctx := context.Background()

	action, err := e.Upsert(ctx, sampleEntry())
	require.NoError(t, err)
	assert.Equal(t, models.ActionCreated, action)

	pages := st.Pages(entriesDB)
	require.Len(t, pages, 1)
	props := pages[0].Properties
	assert.Equal(t, "@alice_99 — review", props.Text("Name"))
	assert.Equal(t, "primary:evt1", props.Text("Event Key"))
	assert.Equal(t, "2026-10-15T09:00:00Z", props.DateStart("Date"))
	n, ok := props.Number("Minutes")
	require.True(t, ok)
	assert.Equal(t, 45.0, n)
	assert.Equal(t, []string{"P1"}, props.Relation("Person"))
	assert.Equal(t, []string{"R1"}, props.Relation("Relationship"))
	assert.Equal(t, "calendar", props.Text("Source"))

	st.ResetCalls()
	action, err = e.Upsert(ctx, sampleEntry())
	require.NoError(t, err)
	assert.Equal(t, models.ActionSkipped, action)
	assert.Zero(t, st.CallCount(store.OpCreate))
	assert.Zero(t, st.CallCount(store.OpUpdate))
	assert.Len(t, st.Pages(entriesDB), 1)
}

func TestUpsertUpdatesStaleFields(t *testing.T) {
	st := store.NewMockStore()
	e := newTestEngine(st, false)
	ctx := context.Background()

	_, err := e.Upsert(ctx, sampleEntry())
	require.NoError(t, err)

	moved := sampleEntry()
	moved.Start = moved.Start.Add(30 * time.Minute)
	moved.DurationMinutes = 60
	action, err := e.Upsert(ctx, moved)
	require.NoError(t, err)
	assert.Equal(t, models.ActionUpdated, action)

	pages := st.Pages(entriesDB)
	require.Len(t, pages, 1)
	assert.Equal(t, "2026-10-15T09:30:00Z", pages[0].Properties.DateStart("Date"))
	n, _ := pages[0].Properties.Number("Minutes")
	assert.Equal(t, 60.0, n)
}

func TestUpsertIgnoresRelationOrderAndIDForm(t *testing.T) {
	st := store.NewMockStore()
	entry := sampleEntry()
	entry.PersonID = "1a2b3c4d-0000-0000-0000-00000000000a"
	st.Seed(entriesDB, store.Properties{
		"Name":         store.Title(entry.Title),
		"Event Key":    store.RichText(entry.EventKey),
		"Date":         store.Date{Start: "2026-10-15T12:00:00+03:00"},
		"Minutes":      store.Number(45),
		"Type":         store.Select("review"),
		"Person":       store.Relation{"1A2B3C4D00000000000000000000000A", "1a2b3c4d-0000-0000-0000-00000000000a"},
		"Relationship": store.Relation{"R1"},
		"Source":       store.Select("calendar"),
		"Calendar":     store.RichText("Work"),
		"Link":         store.URL(entry.Link),
	})

	action, err := newTestEngine(st, false).Upsert(context.Background(), entry)
	require.NoError(t, err)
	assert.Equal(t, models.ActionSkipped, action)
	assert.Zero(t, st.CallCount(store.OpUpdate))
}

func TestUpsertDoesNotCompareRelationshipWhenUnresolved(t *testing.T) {
	st := store.NewMockStore()
	e := newTestEngine(st, false)
	ctx := context.Background()

	_, err := e.Upsert(ctx, sampleEntry())
	require.NoError(t, err)

	noRel := sampleEntry()
	noRel.RelationshipID = ""
	action, err := e.Upsert(ctx, noRel)
	require.NoError(t, err)
	assert.Equal(t, models.ActionSkipped, action)
}

func TestCancelArchivesExistingEntry(t *testing.T) {
	st := store.NewMockStore()
	e := newTestEngine(st, false)
	ctx := context.Background()

	_, err := e.Upsert(ctx, sampleEntry())
	require.NoError(t, err)
	id := st.Pages(entriesDB)[0].ID

	action, err := e.Cancel(ctx, "primary:evt1")
	require.NoError(t, err)
	assert.Equal(t, models.ActionArchived, action)

	page, ok := st.Page(id)
	require.True(t, ok)
	assert.True(t, page.Archived)

	action, err = e.Cancel(ctx, "primary:evt1")
	require.NoError(t, err)
	assert.Equal(t, models.ActionUnchanged, action)
}

func TestCancelWithoutEntryNeverCreates(t *testing.T) {
	st := store.NewMockStore()
	action, err := newTestEngine(st, false).Cancel(context.Background(), "primary:gone")
	require.NoError(t, err)
	assert.Equal(t, models.ActionUnchanged, action)
	assert.Zero(t, st.CallCount(store.OpCreate))
	assert.Zero(t, st.CallCount(store.OpUpdate))
}

func TestPrefetchServesLookupsFromIndex(t *testing.T) {
	st := store.NewMockStore()
	e := newTestEngine(st, false)
	ctx := context.Background()

	entry := sampleEntry()
	from := entry.Start.Add(-24 * time.Hour)
	to := entry.Start.Add(24 * time.Hour)

	n, err := e.Prefetch(ctx, from, to)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, e.Prefetched())

	st.ResetCalls()
	action, err := e.Upsert(ctx, entry)
	require.NoError(t, err)
	assert.Equal(t, models.ActionCreated, action)

	// The miss is confirmed with one point query.
	assert.Equal(t, 1, st.CallCount(store.OpQuery))

	// A second sighting of the same key in the run sees the new record.
	action, err = e.Upsert(ctx, entry)
	require.NoError(t, err)
	assert.Equal(t, models.ActionSkipped, action)
	assert.Equal(t, 1, st.CallCount(store.OpQuery))
	assert.Len(t, st.Pages(entriesDB), 1)
}

func TestPrefetchMissFindsEntryBeforeRange(t *testing.T) {
	st := store.NewMockStore()
	ctx := context.Background()
	entry := sampleEntry()

	_, err := newTestEngine(st, false).Upsert(ctx, entry)
	require.NoError(t, err)

	// The range starts inside the event, after the stored start.
	e := newTestEngine(st, false)
	n, err := e.Prefetch(ctx, entry.Start.Add(20*time.Minute), entry.Start.Add(72*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	st.ResetCalls()
	action, err := e.Upsert(ctx, entry)
	require.NoError(t, err)
	assert.Equal(t, models.ActionSkipped, action)
	assert.Zero(t, st.CallCount(store.OpCreate))
	assert.Len(t, st.Pages(entriesDB), 1)

	// The found record joins the index.
	action, err = e.Cancel(ctx, entry.EventKey)
	require.NoError(t, err)
	assert.Equal(t, models.ActionArchived, action)
	assert.Equal(t, 1, st.CallCount(store.OpQuery))
}

func TestPrefetchArchivedThenResighted(t *testing.T) {
	st := store.NewMockStore()
	e := newTestEngine(st, false)
	ctx := context.Background()
	entry := sampleEntry()

	_, err := e.Prefetch(ctx, entry.Start.Add(-time.Hour), entry.Start.Add(time.Hour))
	require.NoError(t, err)

	_, err = e.Upsert(ctx, entry)
	require.NoError(t, err)
	_, err = e.Cancel(ctx, entry.EventKey)
	require.NoError(t, err)

	// Same fields: left archived.
	action, err := e.Upsert(ctx, entry)
	require.NoError(t, err)
	assert.Equal(t, models.ActionSkipped, action)

	// Changed fields: updated and unarchived.
	entry.DurationMinutes = 50
	action, err = e.Upsert(ctx, entry)
	require.NoError(t, err)
	assert.Equal(t, models.ActionUpdated, action)

	calls := st.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, store.OpUpdate, last.Op)
	require.NotNil(t, last.Archived)
	assert.False(t, *last.Archived)
	assert.False(t, st.Pages(entriesDB)[0].Archived)
}

func TestPrefetchKeepsFirstDuplicate(t *testing.T) {
	st := store.NewMockStore()
	first := st.Seed(entriesDB, store.Properties{"Event Key": store.RichText("primary:dup"), "Date": store.Date{Start: "2026-10-15T09:00:00Z"}})
	st.Seed(entriesDB, store.Properties{"Event Key": store.RichText("primary:dup"), "Date": store.Date{Start: "2026-10-15T10:00:00Z"}})

	e := newTestEngine(st, false)
	n, err := e.Prefetch(context.Background(), time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC), time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = e.Cancel(context.Background(), "primary:dup")
	require.NoError(t, err)
	page, _ := st.Page(first.ID)
	assert.True(t, page.Archived)
}

func TestDryRunNeverWrites(t *testing.T) {
	st := store.NewMockStore()
	st.Seed(entriesDB, store.Properties{"Event Key": store.RichText("primary:old")})
	e := newTestEngine(st, true)
	ctx := context.Background()

	action, err := e.Upsert(ctx, sampleEntry())
	require.NoError(t, err)
	assert.Equal(t, models.ActionCreated, action)

	action, err = e.Cancel(ctx, "primary:old")
	require.NoError(t, err)
	assert.Equal(t, models.ActionArchived, action)

	assert.Zero(t, st.CallCount(store.OpCreate))
	assert.Zero(t, st.CallCount(store.OpUpdate))
}

func TestUpsertWrapsStoreErrors(t *testing.T) {
	st := store.NewMockStore()
	boom := errors.New("boom")
	st.FailOn(store.OpCreate, boom)

	_, err := newTestEngine(st, false).Upsert(context.Background(), sampleEntry())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "primary:evt1")
}
