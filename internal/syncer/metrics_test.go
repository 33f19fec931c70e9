package syncer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/calsync/internal/metrics"
	"github.com/ajitpratap0/calsync/internal/models"
	"github.com/ajitpratap0/calsync/internal/store"
)

func TestRunIncrementsMetrics(t *testing.T) {
	st := store.NewMockStore()
	st.Seed(peopleDB, store.Properties{"Handles": store.RichText("@alice_99")})
	src := &fakeSource{events: map[string][]models.SourceEvent{
		"primary": {
			timed("m1", "Mentoring @alice_99", "", 45),
			timed("m2", "Lunch", "", 60),
		},
	}}
	d := newTestDriver(t, src, st, nil)

	runs := metrics.RunsTotal.Value()
	seen := metrics.EventsSeen.Value()
	created := metrics.EntriesCreated.Value()
	dropped := metrics.EventsDropped.Value()

	_, err := d.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, runs+1, metrics.RunsTotal.Value())
	assert.Equal(t, seen+2, metrics.EventsSeen.Value())
	assert.Equal(t, created+1, metrics.EntriesCreated.Value())
	assert.Equal(t, dropped+1, metrics.EventsDropped.Value())
}
