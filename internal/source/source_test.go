package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"pibot/internal/domain"
	"pibot/internal/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.LevelOff, nil)
}

// ── HTTPSource ───────────────────────────────────────────────────────────────

const sampleJSON = `[
  {"id": "ev-1", "title": "Take medication", "description": "Blue pill, one tablet", "start": "2026-08-30T09:00:00Z"},
  {"id": "ev-2", "title": "Call the doctor", "start": "2026-08-30T14:30:00Z", "triggered": true}
]`

func TestHTTPSourceFetchesAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(sampleJSON))
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, testLogger())
	events, err := src.Events(context.Background())
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].ID != "ev-1" || events[0].Title != "Take medication" {
		t.Errorf("unexpected first event: %+v", events[0])
	}
	if events[0].Description != "Blue pill, one tablet" {
		t.Errorf("description not decoded: %q", events[0].Description)
	}
	if !events[1].Triggered {
		t.Error("triggered flag not decoded")
	}
}

func TestHTTPSourceReusesCacheOn304(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(sampleJSON))
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, testLogger())

	first, err := src.Events(context.Background())
	if err != nil {
		t.Fatalf("first fetch failed: %v", err)
	}
	second, err := src.Events(context.Background())
	if err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}

	if hits.Load() != 2 {
		t.Errorf("expected 2 requests, got %d", hits.Load())
	}
	if len(second) != len(first) {
		t.Errorf("cached list differs: %d vs %d", len(second), len(first))
	}
	if len(second) > 0 && second[0].ID != first[0].ID {
		t.Errorf("cached list content differs")
	}
}

func TestHTTPSourceMarkTriggeredPostsID(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL+"/events", testLogger())
	if err := src.MarkTriggered(context.Background(), "ev-1"); err != nil {
		t.Fatalf("MarkTriggered failed: %v", err)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("expected POST, got %s", gotMethod)
	}
	if gotPath != "/events/ev-1/triggered" {
		t.Errorf("unexpected path %q", gotPath)
	}
}

func TestHTTPSourceErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, testLogger())
	if _, err := src.Events(context.Background()); err == nil {
		t.Fatal("expected error on 500")
	}
}

// ── ICSSource ────────────────────────────────────────────────────────────────

const sampleICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//test//EN
BEGIN:VEVENT
UID:once@test
SUMMARY:Dentist appointment
DESCRIPTION:Bring insurance card
DTSTART:20260830T100000Z
DTEND:20260830T110000Z
END:VEVENT
BEGIN:VEVENT
UID:daily@test
SUMMARY:Morning pills
DTSTART:20260830T080000Z
DTEND:20260830T081500Z
RRULE:FREQ=DAILY;COUNT=10
EXDATE:20260901T080000Z
END:VEVENT
BEGIN:VEVENT
UID:old@test
SUMMARY:Last year
DTSTART:20250830T100000Z
DTEND:20250830T110000Z
END:VEVENT
END:VCALENDAR
`

func icsNow() time.Time {
	return time.Date(2026, 8, 30, 7, 0, 0, 0, time.UTC)
}

func newICSServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		w.Write([]byte(strings.ReplaceAll(sampleICS, "\n", "\r\n")))
	}))
}

func TestICSSourceExpandsRecurrence(t *testing.T) {
	srv := newICSServer(t)
	defer srv.Close()

	src := NewICSSource(srv.URL, testLogger(), WithICSClock(icsNow))
	events, err := src.Events(context.Background())
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}

	var single, daily int
	for _, ev := range events {
		switch ev.Title {
		case "Dentist appointment":
			single++
			if ev.Description != "Bring insurance card" {
				t.Errorf("description lost: %q", ev.Description)
			}
		case "Morning pills":
			daily++
		case "Last year":
			t.Error("event outside the window should be dropped")
		}
	}
	if single != 1 {
		t.Errorf("expected 1 dentist occurrence, got %d", single)
	}
	// Aug 30 through Sep 5 fall inside the 7-day look-ahead, minus the
	// EXDATE on Sep 1.
	if daily != 6 {
		t.Errorf("expected 6 daily occurrences, got %d", daily)
	}
}

func TestICSSourceOccurrenceIDsAreStable(t *testing.T) {
	srv := newICSServer(t)
	defer srv.Close()

	src := NewICSSource(srv.URL, testLogger(), WithICSClock(icsNow))
	first, err := src.Events(context.Background())
	if err != nil {
		t.Fatalf("first fetch failed: %v", err)
	}
	second, err := src.Events(context.Background())
	if err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("event counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("ID changed between fetches: %q vs %q", first[i].ID, second[i].ID)
		}
	}
}

func TestICSSourceMarkTriggeredSurvivesRefetch(t *testing.T) {
	srv := newICSServer(t)
	defer srv.Close()

	src := NewICSSource(srv.URL, testLogger(), WithICSClock(icsNow))
	events, err := src.Events(context.Background())
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("no events returned")
	}

	if err := src.MarkTriggered(context.Background(), events[0].ID); err != nil {
		t.Fatalf("MarkTriggered failed: %v", err)
	}

	after, err := src.Events(context.Background())
	if err != nil {
		t.Fatalf("refetch failed: %v", err)
	}
	found := false
	for _, ev := range after {
		if ev.ID == events[0].ID {
			found = true
			if !ev.Triggered {
				t.Error("triggered flag lost after refetch")
			}
		}
	}
	if !found {
		t.Error("marked event missing after refetch")
	}
}

func TestICSSourceEventsSorted(t *testing.T) {
	srv := newICSServer(t)
	defer srv.Close()

	src := NewICSSource(srv.URL, testLogger(), WithICSClock(icsNow))
	events, err := src.Events(context.Background())
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Start.Before(events[i-1].Start) {
			t.Fatalf("events out of order at %d: %v before %v", i, events[i].Start, events[i-1].Start)
		}
	}
}

// ── StaticSource ─────────────────────────────────────────────────────────────

func TestStaticSourceMarkTriggered(t *testing.T) {
	ev := domain.NewEvent("Water the plants", "", time.Now().Add(time.Hour))
	src := NewStaticSource(ev)

	if err := src.MarkTriggered(context.Background(), ev.ID); err != nil {
		t.Fatalf("MarkTriggered failed: %v", err)
	}

	events, err := src.Events(context.Background())
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) != 1 || !events[0].Triggered {
		t.Errorf("expected triggered event, got %+v", events)
	}
}

func TestStaticSourceReturnsCopy(t *testing.T) {
	ev := domain.NewEvent("Feed the cat", "", time.Now())
	src := NewStaticSource(ev)

	events, _ := src.Events(context.Background())
	events[0].Title = "mutated"

	fresh, _ := src.Events(context.Background())
	if fresh[0].Title != "Feed the cat" {
		t.Error("caller mutation leaked into the source")
	}
}
