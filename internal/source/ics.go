package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"pibot/internal/domain"
	"pibot/internal/logger"
)

const (
	// icsLookBehind keeps events that just started visible to the trigger
	// window even if the feed is fetched moments after DTSTART.
	icsLookBehind = time.Hour
	icsLookAhead  = 7 * 24 * time.Hour

	// maxOccurrences caps recurrence expansion per VEVENT so a broken
	// RRULE cannot flood the event list.
	maxOccurrences = 64

	maxICSBody = 8 << 20
)

// ICSSource reads events from an iCalendar feed. Recurring events are
// expanded into concrete occurrences over a rolling window around now.
//
// Calendar feeds are read-only, so MarkTriggered records triggered
// occurrence IDs locally and filters them out of later reads.
type ICSSource struct {
	url    string
	client *http.Client
	log    *logger.Logger
	now    func() time.Time

	mu        sync.Mutex
	triggered map[string]bool
}

var _ domain.EventSource = (*ICSSource)(nil)

// ICSOption configures an ICSSource.
type ICSOption func(*ICSSource)

// WithICSHTTPTimeout overrides the fetch timeout.
func WithICSHTTPTimeout(d time.Duration) ICSOption {
	return func(s *ICSSource) { s.client.Timeout = d }
}

// WithICSClock overrides the time source. Intended for tests.
func WithICSClock(now func() time.Time) ICSOption {
	return func(s *ICSSource) { s.now = now }
}

// NewICSSource creates a source backed by the calendar feed at url.
func NewICSSource(url string, log *logger.Logger, opts ...ICSOption) *ICSSource {
	s := &ICSSource{
		url:       url,
		client:    &http.Client{Timeout: 15 * time.Second},
		log:       log,
		now:       time.Now,
		triggered: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events fetches the feed and returns the occurrences falling inside the
// rolling window, sorted by start time.
func (s *ICSSource) Events(ctx context.Context) ([]domain.Event, error) {
	body, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	events, err := s.parse(body, now.Add(-icsLookBehind), now.Add(icsLookAhead))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	for i := range events {
		if s.triggered[events[i].ID] {
			events[i].Triggered = true
		}
	}
	s.mu.Unlock()

	sort.Slice(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	s.log.Debug("ics: fetched %d events from %s", len(events), s.url)
	return events, nil
}

// MarkTriggered remembers the occurrence so later reads report it as
// already handled. The feed itself is never written.
func (s *ICSSource) MarkTriggered(ctx context.Context, id string) error {
	s.mu.Lock()
	s.triggered[id] = true
	s.mu.Unlock()
	return nil
}

func (s *ICSSource) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("ics: build request: %w", err)
	}
	req.Header.Set("User-Agent", "pibot/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ics: fetch %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ics: fetch %s: status %d", s.url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxICSBody))
	if err != nil {
		return nil, fmt.Errorf("ics: read body: %w", err)
	}
	return body, nil
}

func (s *ICSSource) parse(body []byte, rangeStart, rangeEnd time.Time) ([]domain.Event, error) {
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ics: parse calendar: %w", err)
	}

	out := make([]domain.Event, 0)
	for _, ve := range cal.Events() {
		events, err := s.parseVEvent(ve, rangeStart, rangeEnd)
		if err != nil {
			s.log.Warn("ics: skipping event: %v", err)
			continue
		}
		out = append(out, events...)
	}
	return out, nil
}

func (s *ICSSource) parseVEvent(ve *ical.VEvent, rangeStart, rangeEnd time.Time) ([]domain.Event, error) {
	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return nil, fmt.Errorf("missing UID")
	}
	uid := uidProp.Value

	var title, description string
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		title = p.Value
	}
	if title == "" {
		title = "Untitled event"
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		description = p.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return nil, fmt.Errorf("event %s: no usable DTSTART: %w", uid, err)
	}

	var rawRRule string
	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		rawRRule = p.Value
	}

	if rawRRule == "" {
		if start.Before(rangeStart) || start.After(rangeEnd) {
			return nil, nil
		}
		return []domain.Event{occurrence(uid, title, description, start)}, nil
	}

	exDates := parseExDates(ve, start.Location())
	times, err := expandRRule(rawRRule, start, exDates, rangeStart, rangeEnd)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", uid, err)
	}

	events := make([]domain.Event, 0, len(times))
	for _, t := range times {
		events = append(events, occurrence(uid, title, description, t))
	}
	return events, nil
}

// occurrence builds an event with a deterministic ID so triggered state
// survives refetches of the same feed.
func occurrence(uid, title, description string, start time.Time) domain.Event {
	return domain.Event{
		ID:          fmt.Sprintf("%s/%s", uid, start.UTC().Format(time.RFC3339)),
		Title:       title,
		Description: description,
		Start:       start,
	}
}

func parseExDates(ve *ical.VEvent, loc *time.Location) []time.Time {
	var out []time.Time
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, raw := range strings.Split(p.Value, ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			if t, err := parseICalTime(raw, loc); err == nil {
				out = append(out, t)
			}
		}
	}
	return out
}

func parseICalTime(raw string, loc *time.Location) (time.Time, error) {
	if strings.HasSuffix(raw, "Z") {
		return time.Parse("20060102T150405Z", raw)
	}
	if strings.Contains(raw, "T") {
		return time.ParseInLocation("20060102T150405", raw, loc)
	}
	return time.ParseInLocation("20060102", raw, loc)
}

func expandRRule(raw string, dtstart time.Time, exDates []time.Time, rangeStart, rangeEnd time.Time) ([]time.Time, error) {
	r, err := rrule.StrToRRule(raw)
	if err != nil {
		return nil, fmt.Errorf("parse RRULE %q: %w", raw, err)
	}
	r.DTStart(dtstart)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range exDates {
		set.ExDate(ex.In(dtstart.Location()))
	}

	times := set.Between(rangeStart.In(dtstart.Location()), rangeEnd.In(dtstart.Location()), true)
	if len(times) > maxOccurrences {
		times = times[:maxOccurrences]
	}
	return times, nil
}
