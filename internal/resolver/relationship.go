package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ajitpratap0/calsync/internal/store"
)

// RelationshipResolver maps a person id to its active relationship record id.
type RelationshipResolver interface {
	ResolveActive(ctx context.Context, personID string) (string, bool, error)
}

// RelationshipOptions configures relationship resolution. An empty DatabaseID
// disables the feature. StageProperty and StartDateProperty are optional.
type RelationshipOptions struct {
	DatabaseID        string
	PersonProperty    string
	StageProperty     string
	StageKind         string // "status" or "select"
	ActiveStages      []string
	StartDateProperty string
	PageSize          int
	Logger            *slog.Logger
}

// NewRelationshipResolver builds the resolver for mode, or a disabled
// resolver when no relationship database is configured.
func NewRelationshipResolver(ctx context.Context, mode Mode, st store.Store, opts RelationshipOptions) (RelationshipResolver, error) {
	if opts.DatabaseID == "" {
		return DisabledRelationshipResolver{}, nil
	}
	switch mode {
	case ModeWarm:
		return NewWarmRelationshipResolver(ctx, st, opts)
	case ModeLazy:
		return NewLazyRelationshipResolver(st, opts), nil
	default:
		return nil, fmt.Errorf("resolver: unknown relationship mode %q", mode)
	}
}

// DisabledRelationshipResolver never resolves anything.
type DisabledRelationshipResolver struct{}

// ResolveActive always reports no relationship.
func (DisabledRelationshipResolver) ResolveActive(context.Context, string) (string, bool, error) {
	return "", false, nil
}

func (o RelationshipOptions) sorts() []store.Sort {
	if o.StartDateProperty == "" {
		return nil
	}
	return []store.Sort{{Property: o.StartDateProperty, Direction: store.Descending}}
}

// WarmRelationshipResolver answers from one scan ordered by start date, newest first.
type WarmRelationshipResolver struct {
	cache map[string]string
}

// NewWarmRelationshipResolver scans the relationship table and registers every
// linked person against the first relationship seen for them.
func NewWarmRelationshipResolver(ctx context.Context, st store.Store, opts RelationshipOptions) (*WarmRelationshipResolver, error) {
	logger := loggerOrDefault(opts.Logger)
	r := &WarmRelationshipResolver{cache: make(map[string]string)}

	records := 0
	req := store.QueryRequest{Sorts: opts.sorts(), PageSize: opts.PageSize}
	err := store.QueryAll(ctx, st, opts.DatabaseID, req, func(p store.Page) error {
		records++
		for _, personID := range p.Properties.Relation(opts.PersonProperty) {
			if _, ok := r.cache[personID]; ok {
				continue
			}
			r.cache[personID] = p.ID
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolver: warming relationship cache: %w", err)
	}

	logger.Info("relationship cache warmed", "records", records, "people", len(r.cache))
	return r, nil
}

// ResolveActive is a pure cache lookup.
func (r *WarmRelationshipResolver) ResolveActive(_ context.Context, personID string) (string, bool, error) {
	id, ok := r.cache[personID]
	return id, ok, nil
}

// LazyRelationshipResolver queries per person on miss.
type LazyRelationshipResolver struct {
	st     store.Store
	opts   RelationshipOptions
	cache  map[string]string // "" records a negative answer
	logger *slog.Logger
}

// NewLazyRelationshipResolver creates a resolver with an empty memo.
func NewLazyRelationshipResolver(st store.Store, opts RelationshipOptions) *LazyRelationshipResolver {
	return &LazyRelationshipResolver{
		st:     st,
		opts:   opts,
		cache:  make(map[string]string),
		logger: loggerOrDefault(opts.Logger),
	}
}

// ResolveActive returns the most recent relationship linked to personID,
// restricted to the active stages when a stage property is configured.
func (r *LazyRelationshipResolver) ResolveActive(ctx context.Context, personID string) (string, bool, error) {
	if id, ok := r.cache[personID]; ok {
		return id, id != "", nil
	}

	f := r.filter(personID)
	page, err := store.QueryFirst(ctx, r.st, r.opts.DatabaseID, store.QueryRequest{Filter: &f, Sorts: r.opts.sorts()})
	if errors.Is(err, store.ErrNotFound) {
		r.cache[personID] = ""
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolver: querying relationship for %s: %w", personID, err)
	}

	r.cache[personID] = page.ID
	r.logger.Debug("resolved relationship", "person_id", personID, "relationship_id", page.ID)
	return page.ID, true, nil
}

func (r *LazyRelationshipResolver) filter(personID string) store.Filter {
	byPerson := store.RelationContains(r.opts.PersonProperty, personID)
	if r.opts.StageProperty == "" || len(r.opts.ActiveStages) == 0 {
		return byPerson
	}
	kind := r.opts.StageKind
	if kind == "" {
		kind = "status"
	}
	return store.All(byPerson, store.OptionIn(r.opts.StageProperty, kind, r.opts.ActiveStages))
}
