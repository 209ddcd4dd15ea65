// Package domain holds the core types and ports shared across the
// reminder appliance: calendar events, chat messages, news items, and
// the interfaces the concrete adapters implement.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event is a single calendar entry the appliance may announce.
type Event struct {
	ID          string    `json:"id" yaml:"id"`
	Title       string    `json:"title" yaml:"title"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Start       time.Time `json:"start" yaml:"start"`
	Triggered   bool      `json:"triggered" yaml:"triggered"`
}

// NewEvent creates an event with a fresh ID.
func NewEvent(title, description string, start time.Time) Event {
	return Event{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		Start:       start,
	}
}

// Due reports whether now falls inside the trigger window
// [start, start+window], i.e. the event just came due.
func (e Event) Due(now time.Time, window time.Duration) bool {
	delta := e.Start.Sub(now)
	return delta <= 0 && delta >= -window
}

// NewsItem is one headline fetched from a feed.
type NewsItem struct {
	Title     string
	Summary   string
	Published time.Time
	Source    string
}

// ChatMessage is one turn of conversation with the assistant.
type ChatMessage struct {
	Role string
	Text string
}

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
