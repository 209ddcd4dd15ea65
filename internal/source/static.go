package source

import (
	"context"
	"sync"

	"pibot/internal/domain"
)

// StaticSource serves a fixed in-memory event list. It backs demo mode
// and tests where no endpoint or calendar feed is available.
type StaticSource struct {
	mu     sync.Mutex
	events []domain.Event
}

var _ domain.EventSource = (*StaticSource)(nil)

// NewStaticSource creates a source holding the given events.
func NewStaticSource(events ...domain.Event) *StaticSource {
	s := &StaticSource{}
	s.events = append(s.events, events...)
	return s
}

// Events returns a copy of the current list.
func (s *StaticSource) Events(ctx context.Context) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.events...), nil
}

// MarkTriggered flips the event's triggered flag. Unknown IDs are ignored.
func (s *StaticSource) MarkTriggered(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == id {
			s.events[i].Triggered = true
		}
	}
	return nil
}

// Add appends an event to the list.
func (s *StaticSource) Add(ev domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}
