package control

import (
	"context"
	"testing"
	"time"

	"pibot/internal/domain"
	"pibot/internal/logger"
)

func newTestSession(opts ...SessionOption) *Session {
	log := logger.New(logger.LevelOff, nil)
	base := []SessionOption{
		WithWakeWords("assistant", "hey assistant"),
		WithStartPhrases("let's chat", "lets chat"),
		WithStopCommands("stop", "stop alarm", "be quiet"),
		WithTimeout(80 * time.Millisecond),
		WithCheckInterval(10 * time.Millisecond),
	}
	return NewSession(log, append(base, opts...)...)
}

// nextEvent waits briefly for the next session event.
func nextEvent(t *testing.T, s *Session) (SessionEvent, bool) {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev, true
	case <-time.After(200 * time.Millisecond):
		return SessionEvent{}, false
	}
}

func TestStartPhraseActivatesAndForwardsRemainder(t *testing.T) {
	s := newTestSession()

	s.Input("assistant let's chat please")

	ev, ok := nextEvent(t, s)
	if !ok || ev.Kind != EventActivated {
		t.Fatalf("first event = %+v, want EventActivated", ev)
	}
	ev, ok = nextEvent(t, s)
	if !ok || ev.Kind != EventForward {
		t.Fatalf("second event = %+v, want EventForward", ev)
	}
	if ev.Text != "please" {
		t.Errorf("forwarded %q, want %q", ev.Text, "please")
	}
	if s.State() != domain.SessionActive {
		t.Errorf("state = %s, want active", s.State())
	}
}

func TestBareStartPhraseOpensEmptySession(t *testing.T) {
	s := newTestSession()

	s.Input("assistant let's chat")

	ev, ok := nextEvent(t, s)
	if !ok || ev.Kind != EventActivated {
		t.Fatalf("event = %+v, want EventActivated", ev)
	}
	// Nothing after the start phrase, so nothing to forward.
	if ev, ok := nextEvent(t, s); ok {
		t.Errorf("unexpected extra event %+v", ev)
	}
}

func TestWakeWordAloneIsOneShotCommand(t *testing.T) {
	s := newTestSession()

	s.Input("assistant what time is it")

	ev, ok := nextEvent(t, s)
	if !ok || ev.Kind != EventForward {
		t.Fatalf("event = %+v, want EventForward", ev)
	}
	if ev.Text != "what time is it" {
		t.Errorf("forwarded %q, want %q", ev.Text, "what time is it")
	}
	if s.State() != domain.SessionIdle {
		t.Errorf("state = %s, want idle after one-shot command", s.State())
	}
}

func TestBareWakeWordIsDiscarded(t *testing.T) {
	s := newTestSession()

	s.Input("assistant")

	if ev, ok := nextEvent(t, s); ok {
		t.Errorf("bare wake word produced event %+v, want silence", ev)
	}
	if s.State() != domain.SessionIdle {
		t.Errorf("state = %s, want idle", s.State())
	}
}

func TestIdleInputWithoutWakeWordIsDiscarded(t *testing.T) {
	s := newTestSession()

	s.Input("what's the weather like")

	if ev, ok := nextEvent(t, s); ok {
		t.Errorf("idle input produced event %+v, want silence", ev)
	}
	if s.State() != domain.SessionIdle {
		t.Errorf("state = %s, want idle", s.State())
	}
}

func TestStopBeatsActiveSession(t *testing.T) {
	s := newTestSession()
	s.Input("assistant let's chat")
	nextEvent(t, s) // activated

	s.Input("please stop the alarm now")

	ev, ok := nextEvent(t, s)
	if !ok || ev.Kind != EventStop {
		t.Fatalf("event = %+v, want EventStop", ev)
	}
}

func TestStopForcesSessionIdle(t *testing.T) {
	s := newTestSession()
	s.Input("assistant let's chat")
	nextEvent(t, s) // activated

	s.Input("stop")

	ev, ok := nextEvent(t, s)
	if !ok || ev.Kind != EventStop {
		t.Fatalf("event = %+v, want EventStop", ev)
	}
	if s.State() != domain.SessionIdle {
		t.Errorf("state = %s, want idle after stop", s.State())
	}
	// Later chatter must not forward: the session is closed.
	s.Input("and another thing")
	if ev, ok := nextEvent(t, s); ok {
		t.Errorf("post-stop input produced event %+v, want silence", ev)
	}
}

func TestStopWorksWhileIdle(t *testing.T) {
	s := newTestSession()

	s.Input("stop")

	ev, ok := nextEvent(t, s)
	if !ok || ev.Kind != EventStop {
		t.Fatalf("event = %+v, want EventStop even when idle", ev)
	}
	if s.State() != domain.SessionIdle {
		t.Error("stop command activated the session")
	}
}

func TestTimeoutEndsSessionExactlyOnce(t *testing.T) {
	s := newTestSession()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	s.Input("assistant let's chat")
	nextEvent(t, s) // activated

	// Wait out the timeout plus several watchdog ticks.
	time.Sleep(250 * time.Millisecond)

	ended := 0
	for {
		select {
		case ev := <-s.Events():
			if ev.Kind == EventEnded {
				ended++
			}
		case <-time.After(50 * time.Millisecond):
			if ended != 1 {
				t.Fatalf("session ended %d times, want exactly 1", ended)
			}
			if s.State() != domain.SessionIdle {
				t.Errorf("state = %s, want idle after timeout", s.State())
			}
			return
		}
	}
}

func TestTurnsRefreshTheTimeout(t *testing.T) {
	s := newTestSession()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	s.Input("assistant let's chat")
	nextEvent(t, s)

	// Keep talking at half the timeout; the session must stay open.
	for i := 0; i < 5; i++ {
		time.Sleep(40 * time.Millisecond)
		s.Input("and another thing")
		nextEvent(t, s)
	}

	if s.State() != domain.SessionActive {
		t.Error("session expired despite continuous activity")
	}
}

func TestNoWakeWordForwardsEverything(t *testing.T) {
	s := newTestSession(WithRequireWakeWord(false))

	s.Input("turn on the lights")

	ev, ok := nextEvent(t, s)
	if !ok || ev.Kind != EventForward {
		t.Fatalf("event = %+v, want EventForward", ev)
	}
	if ev.Text != "turn on the lights" {
		t.Errorf("forwarded %q, want the full utterance", ev.Text)
	}
}

func TestMidSentenceWakeWord(t *testing.T) {
	s := newTestSession()

	s.Input("um, hey assistant what time is it")

	ev, ok := nextEvent(t, s)
	if !ok || ev.Kind != EventForward || ev.Text != "what time is it" {
		t.Fatalf("event = %+v, want forwarded %q", ev, "what time is it")
	}
	if s.State() != domain.SessionIdle {
		t.Errorf("state = %s, want idle", s.State())
	}

	s.Input("um, hey assistant lets chat about dinner")

	ev, ok = nextEvent(t, s)
	if !ok || ev.Kind != EventActivated {
		t.Fatalf("first event = %+v, want EventActivated", ev)
	}
	ev, ok = nextEvent(t, s)
	if !ok || ev.Kind != EventForward || ev.Text != "about dinner" {
		t.Fatalf("second event = %+v, want forwarded %q", ev, "about dinner")
	}
}
