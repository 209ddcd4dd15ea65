// Package chat provides the conversational layer: a bounded message
// history and providers that turn it into a reply.
package chat

import (
	"sync"

	"pibot/internal/domain"
)

// History is a bounded conversation log. Once max messages are stored,
// adding a new one evicts the oldest. Safe for concurrent use.
type History struct {
	mu   sync.Mutex
	max  int
	msgs []domain.ChatMessage
}

// NewHistory creates a history holding at most max messages.
func NewHistory(max int) *History {
	if max <= 0 {
		max = 20
	}
	return &History{max: max}
}

// Add appends one message, evicting the oldest past the cap.
func (h *History) Add(role, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.msgs = append(h.msgs, domain.ChatMessage{Role: role, Text: text})
	if len(h.msgs) > h.max {
		h.msgs = h.msgs[len(h.msgs)-h.max:]
	}
}

// Window returns a copy of the most recent n messages, oldest first.
func (h *History) Window(n int) []domain.ChatMessage {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n <= 0 || n > len(h.msgs) {
		n = len(h.msgs)
	}
	out := make([]domain.ChatMessage, n)
	copy(out, h.msgs[len(h.msgs)-n:])
	return out
}

// Len returns the number of stored messages.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}

// Clear drops all messages.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = nil
}
