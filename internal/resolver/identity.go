// Package resolver maps fuzzy identifiers found in events to stable record ids
// in the workspace. Every resolver owns a per-run cache and is not safe for
// concurrent use.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/ajitpratap0/calsync/internal/classifier"
	"github.com/ajitpratap0/calsync/internal/store"
)

// errStop ends a paged query early once a match is found.
var errStop = errors.New("stop")

// Mode selects how a resolver fills its cache.
type Mode string

const (
	// ModeWarm scans the whole table once; misses afterwards are negative.
	ModeWarm Mode = "warm"
	// ModeLazy issues point queries on miss and memoizes the answer.
	ModeLazy Mode = "lazy"
)

// IsValid returns true if the mode is recognized.
func (m Mode) IsValid() bool {
	return m == ModeWarm || m == ModeLazy
}

// IdentityResolver maps a normalized handle to a person record id.
type IdentityResolver interface {
	Resolve(ctx context.Context, handle string) (string, bool, error)
}

// IdentityOptions configures identity resolution against the people table.
type IdentityOptions struct {
	DatabaseID     string
	HandleProperty string
	PageSize       int
	Logger         *slog.Logger
}

// NewIdentityResolver builds the resolver for mode. Warm mode performs its
// full scan before returning.
func NewIdentityResolver(ctx context.Context, mode Mode, st store.Store, opts IdentityOptions) (IdentityResolver, error) {
	switch mode {
	case ModeWarm:
		return NewWarmIdentityResolver(ctx, st, opts)
	case ModeLazy:
		return NewLazyIdentityResolver(st, opts), nil
	default:
		return nil, fmt.Errorf("resolver: unknown identity mode %q", mode)
	}
}

// WarmIdentityResolver answers from a cache filled by one full scan.
type WarmIdentityResolver struct {
	cache  map[string]string
	logger *slog.Logger
}

// NewWarmIdentityResolver pages through the entire people table and registers
// every embedded handle against the first record that carries it.
func NewWarmIdentityResolver(ctx context.Context, st store.Store, opts IdentityOptions) (*WarmIdentityResolver, error) {
	r := &WarmIdentityResolver{
		cache:  make(map[string]string),
		logger: loggerOrDefault(opts.Logger),
	}

	records := 0
	collisions := 0
	err := store.QueryAll(ctx, st, opts.DatabaseID, store.QueryRequest{PageSize: opts.PageSize}, func(p store.Page) error {
		records++
		for _, h := range classifier.ParseHandles(p.Properties.Text(opts.HandleProperty)) {
			if existing, ok := r.cache[h]; ok {
				if existing != p.ID {
					collisions++
					r.logger.Debug("handle already registered", "handle", h, "kept", existing, "ignored", p.ID)
				}
				continue
			}
			r.cache[h] = p.ID
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolver: warming identity cache: %w", err)
	}

	r.logger.Info("identity cache warmed", "records", records, "handles", len(r.cache), "collisions", collisions)
	return r, nil
}

// Resolve is a pure cache lookup.
func (r *WarmIdentityResolver) Resolve(_ context.Context, handle string) (string, bool, error) {
	id, ok := r.cache[classifier.NormalizeHandle(handle)]
	return id, ok, nil
}

// Len returns the number of cached handles.
func (r *WarmIdentityResolver) Len() int {
	return len(r.cache)
}

// LazyIdentityResolver point-queries the people table on miss.
type LazyIdentityResolver struct {
	st     store.Store
	opts   IdentityOptions
	cache  map[string]string // "" records a negative answer
	logger *slog.Logger
}

// NewLazyIdentityResolver creates a resolver with an empty memo.
func NewLazyIdentityResolver(st store.Store, opts IdentityOptions) *LazyIdentityResolver {
	return &LazyIdentityResolver{
		st:     st,
		opts:   opts,
		cache:  make(map[string]string),
		logger: loggerOrDefault(opts.Logger),
	}
}

// Resolve queries each case variant of the handle in turn. A result counts
// only if its parsed handles include the handle itself, since the store
// matches substrings. The first such record wins. Both hits and misses are
// memoized.
func (r *LazyIdentityResolver) Resolve(ctx context.Context, handle string) (string, bool, error) {
	h := classifier.NormalizeHandle(handle)
	if id, ok := r.cache[h]; ok {
		return id, id != "", nil
	}

	for _, variant := range handleVariants(h) {
		id, err := r.queryVariant(ctx, h, variant)
		if err != nil {
			return "", false, fmt.Errorf("resolver: querying person %q: %w", variant, err)
		}
		if id == "" {
			continue
		}
		r.cache[h] = id
		r.logger.Debug("resolved handle", "handle", h, "variant", variant, "person_id", id)
		return id, true, nil
	}

	r.cache[h] = ""
	return "", false, nil
}

func (r *LazyIdentityResolver) queryVariant(ctx context.Context, h, variant string) (string, error) {
	f := store.TextContains(r.opts.HandleProperty, variant)
	var id string
	err := store.QueryAll(ctx, r.st, r.opts.DatabaseID, store.QueryRequest{Filter: &f, PageSize: r.opts.PageSize}, func(p store.Page) error {
		if slices.Contains(classifier.ParseHandles(p.Properties.Text(r.opts.HandleProperty)), h) {
			id = p.ID
			return errStop
		}
		r.logger.Debug("ignoring partial handle match", "handle", h, "person_id", p.ID)
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return "", err
	}
	return id, nil
}

// handleVariants lists the query order: lower, @lower, UPPER, @UPPER.
func handleVariants(h string) []string {
	lower := strings.ToLower(h)
	upper := strings.ToUpper(h)
	return []string{lower, "@" + lower, upper, "@" + upper}
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
