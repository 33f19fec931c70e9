// Package reconcile upserts computed time entries into the entries table,
// skipping writes whose fields already match and archiving entries whose
// source event was cancelled.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ajitpratap0/calsync/internal/models"
	"github.com/ajitpratap0/calsync/internal/store"
)

// Options configures an Engine.
type Options struct {
	Store      store.Store
	DatabaseID string
	Properties PropertyNames
	SourceTag  string
	PageSize   int
	DryRun     bool
	Logger     *slog.Logger
}

// Engine reconciles entries one event at a time. It is owned by a single run
// and is not safe for concurrent use.
type Engine struct {
	st         store.Store
	databaseID string
	names      PropertyNames
	sourceTag  string
	pageSize   int
	dryRun     bool
	logger     *slog.Logger

	// index is nil until Prefetch. A hit is authoritative; a miss still
	// falls back to a point query, since the event may have started before
	// the prefetched range or moved into it.
	index    map[string]*Snapshot
	dryRunID int
}

// NewEngine creates a new reconciliation engine.
func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		st:         opts.Store,
		databaseID: opts.DatabaseID,
		names:      opts.Properties,
		sourceTag:  opts.SourceTag,
		pageSize:   opts.PageSize,
		dryRun:     opts.DryRun,
		logger:     logger,
	}
}

// Prefetch loads every entry whose start lies in [from, to] into the
// snapshot index, keyed by event key. Later lookups found in the index cost
// no store call.
func (e *Engine) Prefetch(ctx context.Context, from, to time.Time) (int, error) {
	index := make(map[string]*Snapshot)
	f := store.DateBetween(e.names.Start, FormatStart(from.UTC()), FormatStart(to.UTC()))
	req := store.QueryRequest{Filter: &f, PageSize: e.pageSize}

	err := store.QueryAll(ctx, e.st, e.databaseID, req, func(p store.Page) error {
		key := p.Properties.Text(e.names.EventKey)
		if key == "" {
			return nil
		}
		if existing, ok := index[key]; ok {
			e.logger.Warn("duplicate entries for event key", "event_key", key, "kept", existing.PageID, "ignored", p.ID)
			return nil
		}
		s := SnapshotFromPage(p, e.names)
		index[key] = &s
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("reconcile: prefetching entries: %w", err)
	}

	e.index = index
	e.logger.Info("prefetched entries", "count", len(index), "from", from.UTC().Format(time.RFC3339), "to", to.UTC().Format(time.RFC3339))
	return len(index), nil
}

// Prefetched reports whether lookups are served from the snapshot index.
func (e *Engine) Prefetched() bool {
	return e.index != nil
}

func (e *Engine) lookup(ctx context.Context, key string) (*Snapshot, error) {
	if s, ok := e.index[key]; ok {
		return s, nil
	}
	s, err := e.queryKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if s != nil && e.index != nil {
		e.logger.Debug("entry outside prefetched range", "event_key", key, "page_id", s.PageID)
		e.index[key] = s
	}
	return s, nil
}

func (e *Engine) queryKey(ctx context.Context, key string) (*Snapshot, error) {
	f := store.TextEquals(e.names.EventKey, key)
	page, err := store.QueryFirst(ctx, e.st, e.databaseID, store.QueryRequest{Filter: &f})
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reconcile: looking up %s: %w", key, err)
	}
	s := SnapshotFromPage(*page, e.names)
	return &s, nil
}

// Upsert creates, updates or skips the entry for one live event.
func (e *Engine) Upsert(ctx context.Context, entry models.TimeEntry) (models.Action, error) {
	found, err := e.lookup(ctx, entry.EventKey)
	if err != nil {
		return "", err
	}

	if found == nil {
		return e.create(ctx, entry)
	}

	if IsUpToDate(*found, entry, e.sourceTag) {
		if found.Archived {
			e.logger.Warn("entry archived but its event is live again; leaving archived", "event_key", entry.EventKey, "page_id", found.PageID)
		}
		e.logger.Debug("entry up to date", "event_key", entry.EventKey, "page_id", found.PageID)
		return models.ActionSkipped, nil
	}

	return e.update(ctx, found, entry)
}

// Cancel archives the entry for a cancelled event. Absent or already
// archived entries are left alone.
func (e *Engine) Cancel(ctx context.Context, eventKey string) (models.Action, error) {
	found, err := e.lookup(ctx, eventKey)
	if err != nil {
		return "", err
	}
	if found == nil || found.Archived {
		return models.ActionUnchanged, nil
	}

	if e.dryRun {
		e.logger.Info("dry run: would archive entry", "event_key", eventKey, "page_id", found.PageID)
	} else {
		if _, err := e.st.UpdatePage(ctx, found.PageID, store.ArchiveRequest(true)); err != nil {
			return "", fmt.Errorf("reconcile: archiving %s: %w", eventKey, err)
		}
		e.logger.Info("archived entry", "event_key", eventKey, "page_id", found.PageID)
	}
	found.Archived = true
	return models.ActionArchived, nil
}

func (e *Engine) create(ctx context.Context, entry models.TimeEntry) (models.Action, error) {
	var pageID string
	if e.dryRun {
		e.dryRunID++
		pageID = fmt.Sprintf("dry-run-%d", e.dryRunID)
		e.logger.Info("dry run: would create entry", "event_key", entry.EventKey, "title", entry.Title)
	} else {
		page, err := e.st.CreatePage(ctx, e.databaseID, e.properties(entry))
		if err != nil {
			return "", fmt.Errorf("reconcile: creating %s: %w", entry.EventKey, err)
		}
		pageID = page.ID
		e.logger.Info("created entry", "event_key", entry.EventKey, "page_id", pageID, "title", entry.Title,
			"duration_minutes", entry.DurationMinutes, "type", entry.Type)
	}

	if e.index != nil {
		s := e.snapshotOf(pageID, entry)
		e.index[entry.EventKey] = &s
	}
	return models.ActionCreated, nil
}

func (e *Engine) update(ctx context.Context, found *Snapshot, entry models.TimeEntry) (models.Action, error) {
	req := store.UpdateRequest{Properties: e.properties(entry)}
	if found.Archived {
		unarchive := false
		req.Archived = &unarchive
	}

	if e.dryRun {
		e.logger.Info("dry run: would update entry", "event_key", entry.EventKey, "page_id", found.PageID)
	} else {
		if _, err := e.st.UpdatePage(ctx, found.PageID, req); err != nil {
			return "", fmt.Errorf("reconcile: updating %s: %w", entry.EventKey, err)
		}
		e.logger.Info("updated entry", "event_key", entry.EventKey, "page_id", found.PageID, "title", entry.Title,
			"unarchived", found.Archived)
	}

	*found = e.snapshotOf(found.PageID, entry)
	if e.index != nil {
		e.index[entry.EventKey] = found
	}
	return models.ActionUpdated, nil
}

// properties renders the full property set written on create and update.
func (e *Engine) properties(entry models.TimeEntry) store.Properties {
	props := store.Properties{
		e.names.Title:    store.Title(entry.Title),
		e.names.EventKey: store.RichText(entry.EventKey),
		e.names.Start:    store.Date{Start: FormatStart(entry.Start)},
		e.names.Duration: store.Number(entry.DurationMinutes),
		e.names.Type:     store.Select(entry.Type),
		e.names.Person:   store.Relation{entry.PersonID},
		e.names.Source:   store.Select(e.sourceTag),
		e.names.Calendar: store.RichText(entry.Calendar),
		e.names.Link:     store.URL(entry.Link),
	}
	if entry.RelationshipID != "" && e.names.Relationship != "" {
		props[e.names.Relationship] = store.Relation{entry.RelationshipID}
	}
	return props
}

func (e *Engine) snapshotOf(pageID string, entry models.TimeEntry) Snapshot {
	s := Snapshot{
		PageID:          pageID,
		Title:           entry.Title,
		Start:           FormatStart(entry.Start),
		DurationMinutes: entry.DurationMinutes,
		HasDuration:     true,
		Type:            entry.Type,
		Source:          e.sourceTag,
		Calendar:        entry.Calendar,
		Link:            entry.Link,
		PersonIDs:       []string{entry.PersonID},
	}
	if entry.RelationshipID != "" {
		s.RelationshipIDs = []string{entry.RelationshipID}
	}
	return s
}
