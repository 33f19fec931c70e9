package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/calsync/internal/models"
)

// GoogleOptions configures a GoogleSource. When HTTPClient is set it is used
// as is and the OAuth fields are ignored.
type GoogleOptions struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	TokenURL     string // overrides the Google token endpoint
	Endpoint     string // overrides the Calendar API base URL
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// GoogleSource lists events through the Google Calendar API.
type GoogleSource struct {
	svc    *gcal.Service
	logger *slog.Logger
}

// NewTokenSource exchanges the configured refresh token once so that bad
// credentials fail before any run starts.
func NewTokenSource(ctx context.Context, opts GoogleOptions) (oauth2.TokenSource, error) {
	if opts.RefreshToken == "" {
		return nil, fmt.Errorf("%w: refresh token is required", ErrAuth)
	}
	endpoint := google.Endpoint
	if opts.TokenURL != "" {
		endpoint.TokenURL = opts.TokenURL
	}
	conf := &oauth2.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		Endpoint:     endpoint,
		Scopes:       []string{gcal.CalendarReadonlyScope},
	}
	ts := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: opts.RefreshToken})
	if _, err := ts.Token(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuth, err)
	}
	return ts, nil
}

// NewGoogleSource creates a Calendar API client.
func NewGoogleSource(ctx context.Context, opts GoogleOptions) (*GoogleSource, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var clientOpts []option.ClientOption
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	} else {
		ts, err := NewTokenSource(ctx, opts)
		if err != nil {
			return nil, err
		}
		clientOpts = append(clientOpts, option.WithTokenSource(ts))
	}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}

	svc, err := gcal.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: creating google service: %w", err)
	}
	return &GoogleSource{svc: svc, logger: logger}, nil
}

// ListEvents fetches one page of single instances, cancelled ones included.
func (g *GoogleSource) ListEvents(ctx context.Context, q Query) (*Page, error) {
	size := q.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	call := g.svc.Events.List(q.CalendarID).
		TimeMin(q.TimeMin.UTC().Format(time.RFC3339)).
		TimeMax(q.TimeMax.UTC().Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		ShowDeleted(true).
		MaxResults(int64(size))
	if q.PageToken != "" {
		call = call.PageToken(q.PageToken)
	}

	res, err := call.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("calendar: listing events of %s: %w", q.CalendarID, err)
	}

	page := &Page{NextPageToken: res.NextPageToken, Events: make([]models.SourceEvent, 0, len(res.Items))}
	for _, item := range res.Items {
		page.Events = append(page.Events, fromGoogleEvent(q.CalendarID, item))
	}
	g.logger.Debug("listed calendar page", "calendar", q.CalendarID, "events", len(page.Events), "more", page.NextPageToken != "")
	return page, nil
}

func fromGoogleEvent(calendarID string, item *gcal.Event) models.SourceEvent {
	ev := models.SourceEvent{
		ID:          item.Id,
		CalendarID:  calendarID,
		Status:      models.EventStatus(item.Status),
		Summary:     item.Summary,
		Description: item.Description,
		Link:        item.HtmlLink,
	}
	if !ev.Status.IsValid() {
		ev.Status = models.StatusConfirmed
	}
	ev.Start = googleDateTime(item.Start)
	ev.End = googleDateTime(item.End)
	return ev
}

// googleDateTime returns nil for all-day dates and missing values.
func googleDateTime(dt *gcal.EventDateTime) *time.Time {
	if dt == nil || dt.DateTime == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, dt.DateTime)
	if err != nil {
		return nil
	}
	return &t
}
