package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/calsync/internal/models"
)

func TestGoogleSourcePaginates(t *testing.T) {
	var queries []map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/calendars/primary/events"), r.URL.Path)
		q := r.URL.Query()
		queries = append(queries, map[string]string{
			"timeMin":      q.Get("timeMin"),
			"timeMax":      q.Get("timeMax"),
			"singleEvents": q.Get("singleEvents"),
			"orderBy":      q.Get("orderBy"),
			"showDeleted":  q.Get("showDeleted"),
			"maxResults":   q.Get("maxResults"),
			"pageToken":    q.Get("pageToken"),
		})

		w.Header().Set("Content-Type", "application/json")
		switch q.Get("pageToken") {
		case "":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{{
					"id":       "evt1",
					"status":   "confirmed",
					"summary":  "Mentoring @alice_99",
					"htmlLink": "https://calendar.google.com/event?eid=1",
					"start":    map[string]string{"dateTime": "2026-10-15T12:00:00+03:00"},
					"end":      map[string]string{"dateTime": "2026-10-15T12:45:00+03:00"},
				}, {
					"id":     "evt2",
					"status": "confirmed",
					"start":  map[string]string{"date": "2026-10-16"},
					"end":    map[string]string{"date": "2026-10-17"},
				}},
				"nextPageToken": "p2",
			})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{{"id": "evt3", "status": "cancelled"}},
			})
		}
	}))
	defer srv.Close()

	src, err := NewGoogleSource(context.Background(), GoogleOptions{HTTPClient: srv.Client(), Endpoint: srv.URL + "/"})
	require.NoError(t, err)

	from := time.Date(2026, 10, 10, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	var got []models.SourceEvent
	err = ListAll(context.Background(), src, Query{CalendarID: "primary", TimeMin: from, TimeMax: to, PageSize: 2},
		func(ev models.SourceEvent) error {
			got = append(got, ev)
			return nil
		})
	require.NoError(t, err)

	require.Len(t, queries, 2)
	assert.Equal(t, "2026-10-10T00:00:00Z", queries[0]["timeMin"])
	assert.Equal(t, "2026-10-17T00:00:00Z", queries[0]["timeMax"])
	assert.Equal(t, "true", queries[0]["singleEvents"])
	assert.Equal(t, "startTime", queries[0]["orderBy"])
	assert.Equal(t, "true", queries[0]["showDeleted"])
	assert.Equal(t, "2", queries[0]["maxResults"])
	assert.Equal(t, "p2", queries[1]["pageToken"])

	require.Len(t, got, 3)
	assert.Equal(t, "evt1", got[0].ID)
	assert.Equal(t, "primary", got[0].CalendarID)
	assert.Equal(t, 45, got[0].DurationMinutes())
	assert.True(t, got[0].Start.Equal(time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, "https://calendar.google.com/event?eid=1", got[0].Link)
	assert.False(t, got[1].IsTimed(), "all-day dates carry no time of day")
	assert.True(t, got[2].IsCancelled())
}

func TestNewTokenSourceFailsOnRefreshError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	_, err := NewTokenSource(context.Background(), GoogleOptions{
		ClientID: "id", ClientSecret: "secret", RefreshToken: "bad", TokenURL: srv.URL,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuth))
}

func TestNewTokenSourceRequiresRefreshToken(t *testing.T) {
	_, err := NewTokenSource(context.Background(), GoogleOptions{ClientID: "id"})
	assert.ErrorIs(t, err, ErrAuth)
}

func TestNewTokenSourceExchangesRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "good", r.Form.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	ts, err := NewTokenSource(context.Background(), GoogleOptions{
		ClientID: "id", ClientSecret: "secret", RefreshToken: "good", TokenURL: srv.URL,
	})
	require.NoError(t, err)
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "at", tok.AccessToken)
}
