package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pibot/internal/domain"
	"pibot/internal/logger"
)

// stubSpeaker records what was spoken. Each Speak takes delay to
// complete unless Interrupt cuts it short.
type stubSpeaker struct {
	delay time.Duration

	mu        sync.Mutex
	spoken    []string
	active    bool
	interrupt chan struct{}
}

func newStubSpeaker(delay time.Duration) *stubSpeaker {
	return &stubSpeaker{delay: delay, interrupt: make(chan struct{}, 8)}
}

func (s *stubSpeaker) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	s.active = true
	s.mu.Unlock()

	cut := false
	select {
	case <-time.After(s.delay):
	case <-s.interrupt:
		cut = true
	case <-ctx.Done():
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
		return ctx.Err()
	}

	s.mu.Lock()
	s.active = false
	if !cut {
		s.spoken = append(s.spoken, text)
	}
	s.mu.Unlock()
	return nil
}

func (s *stubSpeaker) Interrupt() {
	select {
	case s.interrupt <- struct{}{}:
	default:
	}
}

func (s *stubSpeaker) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

func TestQueuePlaysInOrder(t *testing.T) {
	log := logger.New(logger.LevelOff, nil)
	spk := newStubSpeaker(5 * time.Millisecond)
	q := New(spk, log)
	defer q.Close()

	for _, text := range []string{"one", "two", "three"} {
		if err := q.Enqueue(text); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	time.Sleep(100 * time.Millisecond)

	got := spk.all()
	want := []string{"one", "two", "three"}
	if len(got) != len(want) {
		t.Fatalf("spoke %d items, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFlushDropsQueuedItems(t *testing.T) {
	log := logger.New(logger.LevelOff, nil)
	spk := newStubSpeaker(50 * time.Millisecond)
	q := New(spk, log)
	defer q.Close()

	q.Enqueue("first")
	q.Enqueue("second")
	q.Enqueue("third")

	// Let the worker pick up "first", then flush while it plays.
	time.Sleep(20 * time.Millisecond)
	q.Flush()

	q.Enqueue("fresh")
	time.Sleep(150 * time.Millisecond)

	got := spk.all()
	for _, text := range got {
		if text == "second" || text == "third" {
			t.Errorf("stale item %q was spoken after Flush", text)
		}
	}
	if len(got) == 0 || got[len(got)-1] != "fresh" {
		t.Errorf("item enqueued after Flush was not spoken: %v", got)
	}
}

func TestFlushInterruptsInFlightItem(t *testing.T) {
	log := logger.New(logger.LevelOff, nil)
	spk := newStubSpeaker(2 * time.Second)
	q := New(spk, log)
	defer q.Close()

	q.Enqueue("long announcement")
	time.Sleep(30 * time.Millisecond)

	spk.mu.Lock()
	active := spk.active
	spk.mu.Unlock()
	if !active {
		t.Fatal("worker never started speaking")
	}

	q.Flush()
	time.Sleep(50 * time.Millisecond)

	spk.mu.Lock()
	defer spk.mu.Unlock()
	if spk.active {
		t.Error("in-flight item still playing after Flush")
	}
	if len(spk.spoken) != 0 {
		t.Errorf("interrupted item recorded as fully spoken: %v", spk.spoken)
	}
}

func TestTokenOnlyIncreases(t *testing.T) {
	log := logger.New(logger.LevelOff, nil)
	q := New(newStubSpeaker(0), log)
	defer q.Close()

	before := q.Token()
	q.Flush()
	q.Flush()
	after := q.Token()

	if after != before+2 {
		t.Errorf("token went from %d to %d, want +2", before, after)
	}
}

func TestEnqueueAfterCloseFails(t *testing.T) {
	log := logger.New(logger.LevelOff, nil)
	q := New(newStubSpeaker(0), log)

	q.Enqueue("something")
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := q.Enqueue("too late"); !errors.Is(err, domain.ErrQueueClosed) {
		t.Errorf("Enqueue after Close = %v, want ErrQueueClosed", err)
	}
}

func TestCloseWithoutStartIsNoop(t *testing.T) {
	log := logger.New(logger.LevelOff, nil)
	q := New(newStubSpeaker(0), log)

	if err := q.Close(); err != nil {
		t.Errorf("Close on never-started queue: %v", err)
	}
}
