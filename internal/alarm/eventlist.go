// Package alarm implements the reminder engine: an EventList of
// upcoming calendar entries, a Scheduler that polls it, and the Cycle
// that repeats an announcement until someone stops it.
package alarm

import (
	"sync"

	"pibot/internal/domain"
)

// EventList is a copy-on-write event store. Published slices are never
// mutated: Replace and MarkTriggered install a fresh slice, so a
// Snapshot taken by the scheduler stays valid for the whole tick no
// matter what a concurrent refresh does.
type EventList struct {
	mu     sync.RWMutex
	events []domain.Event
}

// NewEventList creates an empty list.
func NewEventList() *EventList {
	return &EventList{}
}

// Replace swaps in a new set of events. Trigger flags of events that
// survive the refresh (matched by ID) are carried over so a refresh
// cannot re-arm an alarm that already fired.
func (l *EventList) Replace(events []domain.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	triggered := make(map[string]bool, len(l.events))
	for _, ev := range l.events {
		if ev.Triggered {
			triggered[ev.ID] = true
		}
	}

	next := make([]domain.Event, len(events))
	copy(next, events)
	for i := range next {
		if triggered[next[i].ID] {
			next[i].Triggered = true
		}
	}
	l.events = next
}

// Snapshot returns the current events. The returned slice is immutable;
// callers may read it without holding any lock.
func (l *EventList) Snapshot() []domain.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.events
}

// MarkTriggered flags an event as triggered. No-op if the ID is gone.
func (l *EventList) MarkTriggered(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := make([]domain.Event, len(l.events))
	copy(next, l.events)
	for i := range next {
		if next[i].ID == id {
			next[i].Triggered = true
		}
	}
	l.events = next
}

// Len returns the number of stored events.
func (l *EventList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
