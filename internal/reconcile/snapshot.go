package reconcile

import (
	"math"
	"strings"
	"time"

	"github.com/ajitpratap0/calsync/internal/models"
	"github.com/ajitpratap0/calsync/internal/store"
)

// PropertyNames maps the entry fields onto the entries table's columns.
type PropertyNames struct {
	Title        string
	EventKey     string
	Start        string
	Duration     string
	Type         string
	Person       string
	Relationship string
	Source       string
	Calendar     string
	Link         string
}

// Snapshot is the part of an existing entry needed to decide staleness.
type Snapshot struct {
	PageID          string
	Archived        bool
	Title           string
	Start           string
	DurationMinutes int
	HasDuration     bool
	Type            string
	Source          string
	Calendar        string
	Link            string
	PersonIDs       []string
	RelationshipIDs []string
}

// SnapshotFromPage reads a snapshot out of an entries page.
func SnapshotFromPage(p store.Page, names PropertyNames) Snapshot {
	s := Snapshot{
		PageID:          p.ID,
		Archived:        p.Archived,
		Title:           p.Properties.Text(names.Title),
		Start:           p.Properties.DateStart(names.Start),
		Type:            p.Properties.Text(names.Type),
		Source:          p.Properties.Text(names.Source),
		Calendar:        p.Properties.Text(names.Calendar),
		Link:            p.Properties.Text(names.Link),
		PersonIDs:       p.Properties.Relation(names.Person),
		RelationshipIDs: p.Properties.Relation(names.Relationship),
	}
	if n, ok := p.Properties.Number(names.Duration); ok {
		s.DurationMinutes = int(math.Round(n))
		s.HasDuration = true
	}
	return s
}

// FormatStart renders an entry start the way it is written to the store.
func FormatStart(t time.Time) string {
	return t.Format(time.RFC3339)
}

// IsUpToDate reports whether the snapshot already matches the entry.
// A relationship is compared only when the entry carries one.
func IsUpToDate(s Snapshot, e models.TimeEntry, sourceTag string) bool {
	if s.Title != e.Title {
		return false
	}
	if !sameInstant(s.Start, e.Start) {
		return false
	}
	if !s.HasDuration || s.DurationMinutes != e.DurationMinutes {
		return false
	}
	if s.Type != e.Type || s.Source != sourceTag || s.Calendar != e.Calendar || s.Link != e.Link {
		return false
	}
	if !SameRelationSet(s.PersonIDs, []string{e.PersonID}) {
		return false
	}
	if e.RelationshipID != "" && !SameRelationSet(s.RelationshipIDs, []string{e.RelationshipID}) {
		return false
	}
	return true
}

// sameInstant compares at second granularity after resolving offsets.
func sameInstant(stored string, want time.Time) bool {
	got, err := store.ParseInstant(stored)
	if err != nil {
		return false
	}
	return got.Truncate(time.Second).Equal(want.Truncate(time.Second))
}

// SameRelationSet compares two relation lists as deduplicated sets.
func SameRelationSet(a, b []string) bool {
	as := relationSet(a)
	bs := relationSet(b)
	if len(as) != len(bs) {
		return false
	}
	for id := range as {
		if _, ok := bs[id]; !ok {
			return false
		}
	}
	return true
}

func relationSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = normalizeID(id)
		if id == "" {
			continue
		}
		out[id] = struct{}{}
	}
	return out
}

// normalizeID folds the dashed and undashed forms of a page id together.
func normalizeID(id string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(id), "-", ""))
}
