package calendar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"github.com/ajitpratap0/calsync/internal/models"
)

const (
	defaultICSTimeout     = 15 * time.Second
	maxOccurrencesPerRule = 5000
	instanceIDLayout      = "20060102T150405Z"
)

// ICSSource reads a published iCalendar feed. The calendar id of a query is
// the feed URL. The whole window is returned as a single page.
type ICSSource struct {
	client *http.Client
	logger *slog.Logger
}

// NewICSSource creates a feed reader. A nil client gets a bounded default.
func NewICSSource(client *http.Client, logger *slog.Logger) *ICSSource {
	if client == nil {
		client = &http.Client{Timeout: defaultICSTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ICSSource{client: client, logger: logger}
}

// ListEvents fetches the feed and expands it into instances within the window.
func (s *ICSSource) ListEvents(ctx context.Context, q Query) (*Page, error) {
	body, err := s.fetch(ctx, q.CalendarID)
	if err != nil {
		return nil, err
	}
	events, err := ParseICS(q.CalendarID, body, q.TimeMin, q.TimeMax)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("expanded ics feed", "url", redactURL(q.CalendarID), "events", len(events))
	return &Page{Events: events}, nil
}

func (s *ICSSource) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("calendar: building ics request: %w", err)
	}
	req.Header.Set("Accept", "text/calendar")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar: fetching %s: %w", redactURL(url), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("calendar: reading %s: %w", redactURL(url), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("calendar: fetching %s: status %d", redactURL(url), resp.StatusCode)
	}
	return body, nil
}

// vevent is one parsed VEVENT before expansion.
type vevent struct {
	uid         string
	status      models.EventStatus
	summary     string
	description string
	link        string
	start       time.Time
	end         time.Time
	allDay      bool
	rrule       string
	exdates     []time.Time
	recurrence  *time.Time
}

// ParseICS parses a feed and returns the instances overlapping [from, to],
// sorted by start. Recurring instances get ids of the form uid_YYYYMMDDTHHMMSSZ.
func ParseICS(calendarID string, body []byte, from, to time.Time) ([]models.SourceEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("calendar: empty ics body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("calendar: parsing ics: %w", err)
	}

	bases := make(map[string][]vevent)
	overrides := make(map[string][]vevent)
	var order []string
	for _, comp := range cal.Events() {
		ev, ok := parseVEvent(comp)
		if !ok {
			continue
		}
		if ev.recurrence != nil {
			overrides[ev.uid] = append(overrides[ev.uid], ev)
			continue
		}
		if _, seen := bases[ev.uid]; !seen {
			order = append(order, ev.uid)
		}
		bases[ev.uid] = append(bases[ev.uid], ev)
	}

	var out []models.SourceEvent
	for _, uid := range order {
		for _, base := range bases[uid] {
			out = append(out, expand(calendarID, base, overrides[uid], from, to)...)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return startOf(out[i]).Before(startOf(out[j]))
	})
	return out, nil
}

func parseVEvent(comp *ical.VEvent) (vevent, bool) {
	var ev vevent
	uid := comp.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return ev, false
	}
	ev.uid = uid.Value
	ev.summary = propValue(comp, ical.ComponentPropertySummary)
	ev.description = propValue(comp, ical.ComponentPropertyDescription)
	ev.link = propValue(comp, "URL")
	ev.rrule = propValue(comp, ical.ComponentPropertyRrule)

	switch strings.ToUpper(propValue(comp, ical.ComponentPropertyStatus)) {
	case "CANCELLED":
		ev.status = models.StatusCancelled
	case "TENTATIVE":
		ev.status = models.StatusTentative
	default:
		ev.status = models.StatusConfirmed
	}

	start, err := comp.GetStartAt()
	if err != nil {
		return ev, false
	}
	ev.start = start
	if end, err := comp.GetEndAt(); err == nil {
		ev.end = end
	} else {
		ev.end = start
	}
	if p := comp.GetProperty(ical.ComponentPropertyDtStart); p != nil {
		ev.allDay = !strings.Contains(p.Value, "T") || strings.EqualFold(param(p, "VALUE"), "DATE")
	}

	for _, p := range comp.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(strings.TrimSpace(part), param(p, "TZID"), start.Location()); err == nil {
				ev.exdates = append(ev.exdates, t)
			}
		}
	}
	if p := comp.GetProperty("RECURRENCE-ID"); p != nil {
		if t, err := parseICSTime(p.Value, param(p, "TZID"), start.Location()); err == nil {
			ev.recurrence = &t
		}
	}
	return ev, true
}

func expand(calendarID string, base vevent, overrides []vevent, from, to time.Time) []models.SourceEvent {
	if base.rrule == "" {
		if !overlaps(base.start, base.end, from, to) {
			return nil
		}
		return []models.SourceEvent{instance(calendarID, base.uid, base, base.start, base.end)}
	}

	r, err := rrule.StrToRRule(base.rrule)
	if err != nil {
		slog.Default().Warn("skipping unparseable rrule", "uid", base.uid, "rrule", base.rrule, "error", err)
		return nil
	}
	r.DTStart(base.start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range base.exdates {
		set.ExDate(ex.In(base.start.Location()))
	}

	dur := base.end.Sub(base.start)
	loc := base.start.Location()
	starts := set.Between(from.Add(-dur).In(loc), to.In(loc), true)
	if len(starts) > maxOccurrencesPerRule {
		starts = starts[:maxOccurrencesPerRule]
	}

	used := make(map[int]bool)
	var out []models.SourceEvent
	for _, occ := range starts {
		id := base.uid + "_" + occ.UTC().Format(instanceIDLayout)
		if i, ok := findOverride(overrides, occ); ok {
			used[i] = true
			o := overrides[i]
			if overlaps(o.start, o.end, from, to) {
				out = append(out, instance(calendarID, id, o, o.start, o.end))
			}
			continue
		}
		if !overlaps(occ, occ.Add(dur), from, to) {
			continue
		}
		out = append(out, instance(calendarID, id, base, occ, occ.Add(dur)))
	}

	// Overrides moved into the window from an instance outside it.
	for i, o := range overrides {
		if used[i] || !overlaps(o.start, o.end, from, to) {
			continue
		}
		id := base.uid + "_" + o.recurrence.UTC().Format(instanceIDLayout)
		out = append(out, instance(calendarID, id, o, o.start, o.end))
	}
	return out
}

func instance(calendarID, id string, ev vevent, start, end time.Time) models.SourceEvent {
	out := models.SourceEvent{
		ID:          id,
		CalendarID:  calendarID,
		Status:      ev.status,
		Summary:     ev.summary,
		Description: ev.description,
		Link:        ev.link,
	}
	if !ev.allDay {
		s, e := start, end
		out.Start = &s
		out.End = &e
	}
	return out
}

func findOverride(overrides []vevent, occ time.Time) (int, bool) {
	for i, o := range overrides {
		if o.recurrence != nil && o.recurrence.Equal(occ) {
			return i, true
		}
	}
	return 0, false
}

func overlaps(start, end, from, to time.Time) bool {
	return !end.Before(from) && !start.After(to)
}

// startOf orders untimed events by nothing; they sort first.
func startOf(ev models.SourceEvent) time.Time {
	if ev.Start == nil {
		return time.Time{}
	}
	return *ev.Start
}

func propValue(comp *ical.VEvent, name ical.ComponentProperty) string {
	if p := comp.GetProperty(name); p != nil {
		return p.Value
	}
	return ""
}

func param(p *ical.IANAProperty, name string) string {
	if vs, ok := p.ICalParameters[name]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// parseICSTime parses DATE and DATE-TIME values, honouring a TZID parameter.
func parseICSTime(v, tzid string, fallback *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		return time.Parse(instanceIDLayout, v)
	}
	loc := fallback
	if tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}
	if loc == nil {
		loc = time.UTC
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}

// redactURL drops the query string, which often carries a private token.
func redactURL(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		return u[:i]
	}
	return u
}
