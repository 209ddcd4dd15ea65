package chat

import (
	"testing"

	"pibot/internal/domain"
)

func TestHistoryEvictsOldest(t *testing.T) {
	h := NewHistory(4)

	for i := 0; i < 6; i++ {
		h.Add(domain.RoleUser, string(rune('a'+i)))
	}

	if h.Len() != 4 {
		t.Fatalf("len = %d, want 4", h.Len())
	}
	window := h.Window(0)
	if window[0].Text != "c" || window[3].Text != "f" {
		t.Errorf("window = %v, want oldest c through newest f", window)
	}
}

func TestWindowLimitsToRecent(t *testing.T) {
	h := NewHistory(20)
	for i := 0; i < 15; i++ {
		h.Add(domain.RoleUser, "msg")
	}

	if got := len(h.Window(10)); got != 10 {
		t.Errorf("Window(10) returned %d messages", got)
	}
	if got := len(h.Window(100)); got != 15 {
		t.Errorf("Window(100) returned %d messages, want all 15", got)
	}
}

func TestWindowReturnsCopy(t *testing.T) {
	h := NewHistory(20)
	h.Add(domain.RoleUser, "original")

	w := h.Window(0)
	w[0].Text = "mutated"

	if h.Window(0)[0].Text != "original" {
		t.Error("mutating the window changed the stored history")
	}
}
