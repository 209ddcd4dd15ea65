package control

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"pibot/internal/alarm"
	"pibot/internal/chat"
	"pibot/internal/domain"
	"pibot/internal/logger"
)

// spyQueue satisfies both the controller's OutputQueue and the alarm
// cycle's Queue.
type spyQueue struct {
	mu      sync.Mutex
	texts   []string
	flushes int
}

func (q *spyQueue) Enqueue(text string) error {
	q.mu.Lock()
	q.texts = append(q.texts, text)
	q.mu.Unlock()
	return nil
}

func (q *spyQueue) Flush() {
	q.mu.Lock()
	q.flushes++
	q.mu.Unlock()
}

func (q *spyQueue) contains(substr string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.texts {
		if strings.Contains(t, substr) {
			return true
		}
	}
	return false
}

type silentSpeaker struct{}

func (silentSpeaker) Speak(ctx context.Context, text string) error { return nil }
func (silentSpeaker) Interrupt()                                   {}

type stubNews struct {
	items []domain.NewsItem
}

func (s *stubNews) Fetch(ctx context.Context, category string) ([]domain.NewsItem, error) {
	return s.items, nil
}

func (s *stubNews) Categories() []string { return []string{"world", "technology"} }

type echoChat struct{}

func (echoChat) Reply(ctx context.Context, history []domain.ChatMessage) (string, error) {
	last := history[len(history)-1]
	return "you said: " + last.Text, nil
}

func newTestController(t *testing.T, opts ...ControllerOption) (*Controller, *spyQueue, *alarm.Cycle) {
	t.Helper()
	log := logger.New(logger.LevelOff, nil)
	q := &spyQueue{}
	cycle := alarm.NewCycle(silentSpeaker{}, q, log,
		alarm.WithReminderInterval(time.Hour),
		alarm.WithAutoStopAfter(time.Hour),
	)
	session := NewSession(log,
		WithWakeWords("assistant"),
		WithStopCommands("stop"),
		WithRequireWakeWord(false),
		WithCheckInterval(10*time.Millisecond),
	)
	c := NewController(session, q, cycle, alarm.NewEventList(), log, opts...)
	return c, q, cycle
}

func runController(t *testing.T, c *Controller) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	time.Sleep(20 * time.Millisecond)
	return cancel
}

func TestStopFlushesQueueAndStopsAlarm(t *testing.T) {
	c, q, cycle := newTestController(t)
	cancel := runController(t, c)
	defer cancel()

	if err := cycle.Trigger(context.Background(), domain.NewEvent("dentist", "", time.Now())); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	c.Submit("stop")
	time.Sleep(100 * time.Millisecond)

	if cycle.Playing() {
		t.Error("alarm still ringing after stop command")
	}
	q.mu.Lock()
	flushes := q.flushes
	q.mu.Unlock()
	if flushes == 0 {
		t.Error("queue was not flushed on stop")
	}
	if !q.contains("Alarm stopped.") {
		t.Error("stop confirmation missing")
	}
}

func TestNewsCommandQueuesPages(t *testing.T) {
	items := make([]domain.NewsItem, 7)
	for i := range items {
		items[i] = domain.NewsItem{Title: "headline", Summary: "summary"}
	}
	c, q, _ := newTestController(t, WithNews(&stubNews{items: items}, 5))
	cancel := runController(t, c)
	defer cancel()

	c.Submit("read me the technology news")
	time.Sleep(100 * time.Millisecond)

	q.mu.Lock()
	defer q.mu.Unlock()
	// Intro plus two pages (5 + 2 items).
	if len(q.texts) != 3 {
		t.Fatalf("queued %d items, want 3: %v", len(q.texts), q.texts)
	}
	if !strings.Contains(q.texts[0], "technology") {
		t.Errorf("intro %q does not name the category", q.texts[0])
	}
	if !strings.Contains(q.texts[2], "Headline 6") {
		t.Errorf("second page %q should start at headline 6", q.texts[2])
	}
}

func TestChatFallback(t *testing.T) {
	history := chat.NewHistory(20)
	c, q, _ := newTestController(t, WithChat(echoChat{}, history))
	cancel := runController(t, c)
	defer cancel()

	c.Submit("how tall is everest")
	time.Sleep(100 * time.Millisecond)

	if !q.contains("you said: how tall is everest") {
		t.Error("chat reply was not queued")
	}
	if history.Len() != 2 {
		t.Errorf("history has %d messages, want user + assistant", history.Len())
	}
}

func TestUpcomingEventsSpoken(t *testing.T) {
	c, q, _ := newTestController(t)
	c.list.Replace([]domain.Event{
		domain.NewEvent("team lunch", "", time.Now().Add(2*time.Hour)),
		domain.NewEvent("long past", "", time.Now().Add(-2*time.Hour)),
	})
	cancel := runController(t, c)
	defer cancel()

	c.Submit("what's coming up today")
	time.Sleep(100 * time.Millisecond)

	if !q.contains("team lunch") {
		t.Error("upcoming event was not announced")
	}
	if q.contains("long past") {
		t.Error("past event announced as upcoming")
	}
}

func TestSessionEndClearsChatHistory(t *testing.T) {
	log := logger.New(logger.LevelOff, nil)
	q := &spyQueue{}
	cycle := alarm.NewCycle(silentSpeaker{}, q, log,
		alarm.WithReminderInterval(time.Hour),
		alarm.WithAutoStopAfter(time.Hour),
	)
	session := NewSession(log,
		WithWakeWords("assistant"),
		WithStartPhrases("let's chat"),
		WithStopCommands("stop"),
		WithCheckInterval(10*time.Millisecond),
	)
	history := chat.NewHistory(20)
	c := NewController(session, q, cycle, alarm.NewEventList(), log, WithChat(echoChat{}, history))
	cancel := runController(t, c)
	defer cancel()

	c.Submit("assistant let's chat")
	time.Sleep(50 * time.Millisecond)
	c.Submit("how tall is everest")
	time.Sleep(100 * time.Millisecond)

	if history.Len() != 2 {
		t.Fatalf("history has %d messages before session end, want 2", history.Len())
	}

	c.Submit("never mind")
	time.Sleep(100 * time.Millisecond)

	if history.Len() != 0 {
		t.Errorf("history has %d messages after session end, want 0", history.Len())
	}
	if !q.contains("Session ended.") {
		t.Error("session end was not announced")
	}
}

func TestChatDisabledHasFallbackLine(t *testing.T) {
	c, q, _ := newTestController(t)
	cancel := runController(t, c)
	defer cancel()

	c.Submit("tell me a joke")
	time.Sleep(100 * time.Millisecond)

	if !q.contains("alarms and news") {
		t.Error("missing the chat-disabled fallback response")
	}
}
