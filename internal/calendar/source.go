// Package calendar reads source events from a calendar feed. Implementations
// return single instances of recurring events, including cancelled ones, in
// ascending start order.
package calendar

import (
	"context"
	"errors"
	"time"

	"github.com/ajitpratap0/calsync/internal/models"
)

// ErrAuth is returned when calendar credentials cannot be exchanged for a token.
var ErrAuth = errors.New("calendar: authentication failed")

// DefaultPageSize bounds one page of events.
const DefaultPageSize = 250

// Query selects one page of events from a calendar.
type Query struct {
	CalendarID string
	TimeMin    time.Time
	TimeMax    time.Time
	PageToken  string
	PageSize   int
}

// Page is one page of events. An empty NextPageToken ends the listing.
type Page struct {
	Events        []models.SourceEvent
	NextPageToken string
}

// Source lists events from a calendar.
type Source interface {
	ListEvents(ctx context.Context, q Query) (*Page, error)
}

// ListAll drains every page of q, calling fn for each event in order.
func ListAll(ctx context.Context, src Source, q Query, fn func(models.SourceEvent) error) error {
	seen := make(map[string]struct{})
	for {
		page, err := src.ListEvents(ctx, q)
		if err != nil {
			return err
		}
		for _, ev := range page.Events {
			if err := fn(ev); err != nil {
				return err
			}
		}
		if page.NextPageToken == "" {
			return nil
		}
		if _, ok := seen[page.NextPageToken]; ok {
			return errors.New("calendar: page token repeated")
		}
		seen[page.NextPageToken] = struct{}{}
		q.PageToken = page.NextPageToken
	}
}
