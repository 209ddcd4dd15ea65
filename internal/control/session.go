// Package control holds the conversational control plane: the voice
// session state machine that decides which utterances the assistant
// acts on, and the controller that wires recognized text, alarms, news,
// and chat together.
package control

import (
	"context"
	"strings"
	"sync"
	"time"

	"pibot/internal/domain"
	"pibot/internal/logger"
)

// EventKind classifies a session event.
type EventKind int

const (
	// EventForward — the utterance should be dispatched as a command.
	EventForward EventKind = iota
	// EventStop — a stop command was heard. Always wins.
	EventStop
	// EventActivated — a wake word plus start phrase opened a session.
	EventActivated
	// EventEnded — the session timed out.
	EventEnded
)

// SessionEvent is one message from the session to the controller. All
// signaling between the two goes through these, never shared flags.
type SessionEvent struct {
	Kind EventKind
	Text string
}

// SessionOption configures the Session.
type SessionOption func(*Session)

// WithWakeWords overrides the wake phrases.
func WithWakeWords(words ...string) SessionOption {
	return func(s *Session) { s.wakeWords = words }
}

// WithStopCommands overrides the stop phrases.
func WithStopCommands(cmds ...string) SessionOption {
	return func(s *Session) { s.stopCommands = cmds }
}

// WithStartPhrases overrides the session-start phrases.
func WithStartPhrases(phrases ...string) SessionOption {
	return func(s *Session) { s.startPhrases = phrases }
}

// WithTimeout sets the inactivity window after which an active session
// drops back to idle.
func WithTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.timeout = d }
}

// WithRequireWakeWord controls whether idle input needs a wake word.
// When false, every utterance is forwarded as if a session were active.
func WithRequireWakeWord(required bool) SessionOption {
	return func(s *Session) { s.requireWake = required }
}

// WithCheckInterval sets how often the timeout watchdog looks at the
// activity stamp. Tests shrink this.
func WithCheckInterval(d time.Duration) SessionOption {
	return func(s *Session) { s.checkInterval = d }
}

// Session is the wake-word gate in front of the command dispatcher.
//
// Idle: input is discarded unless it contains a wake word (or
// require_wake_word is off). A wake word followed by a session-start
// phrase ("let's chat") opens an active session; whatever follows the
// phrase is forwarded. A wake word without the phrase forwards the
// remainder as a one-shot command and stays idle.
//
// Active: everything is forwarded and each turn refreshes the activity
// stamp. After the inactivity timeout the session ends and exactly one
// EventEnded is emitted.
//
// Stop commands are checked before anything else, in any state, and
// drop the session back to idle.
type Session struct {
	log *logger.Logger

	wakeWords     []string
	stopCommands  []string
	startPhrases  []string
	timeout       time.Duration
	checkInterval time.Duration
	requireWake   bool

	mu           sync.Mutex
	state        domain.SessionState
	lastActivity time.Time
	running      bool
	cancel       context.CancelFunc

	events chan SessionEvent
}

// NewSession creates the voice session state machine.
func NewSession(log *logger.Logger, opts ...SessionOption) *Session {
	s := &Session{
		log:           log,
		wakeWords:     []string{"assistant", "hey assistant"},
		stopCommands:  []string{"stop", "stop alarm", "be quiet"},
		startPhrases:  []string{"let's chat", "lets chat"},
		timeout:       60 * time.Second,
		checkInterval: time.Second,
		requireWake:   true,
		state:         domain.SessionIdle,
		events:        make(chan SessionEvent, 16),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events returns the channel the controller consumes.
func (s *Session) Events() <-chan SessionEvent {
	return s.events
}

// State returns the current session state.
func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start launches the timeout watchdog. Non-blocking.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.log.Warn("session watchdog already running")
		return
	}

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	go s.watchdog(childCtx)
	s.log.Info("voice session ready (timeout=%s, wake_required=%v)", s.timeout, s.requireWake)
}

// Stop halts the watchdog.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	s.running = false
}

// Input feeds one recognized (or typed) utterance through the state
// machine. Never blocks: events land on a buffered channel and the
// oldest unconsumed input loses if the controller falls far behind.
func (s *Session) Input(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	lower := strings.ToLower(text)

	// Stop beats everything, in any state, and closes the session so
	// later chatter does not keep forwarding.
	if s.matchesStop(lower) {
		s.mu.Lock()
		s.state = domain.SessionIdle
		s.mu.Unlock()

		s.log.Info("session: stop command: %q", text)
		s.emit(SessionEvent{Kind: EventStop, Text: text})
		return
	}

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state == domain.SessionActive {
		s.touch()
		s.emit(SessionEvent{Kind: EventForward, Text: text})
		return
	}

	if !s.requireWake {
		s.emit(SessionEvent{Kind: EventForward, Text: text})
		return
	}

	remainder, found := s.stripWakeWord(text, lower)
	if !found {
		s.log.Debug("session: no wake word, discarding %q", text)
		return
	}

	// A wake word alone issues a one-shot command; only the start
	// phrase opens a session.
	command, started := s.stripStartPhrase(remainder)
	if !started {
		if remainder != "" {
			s.log.Info("session: one-shot command: %q", remainder)
			s.emit(SessionEvent{Kind: EventForward, Text: remainder})
		}
		return
	}

	s.mu.Lock()
	s.state = domain.SessionActive
	s.lastActivity = time.Now()
	s.mu.Unlock()

	s.log.Info("session: activated by %q", text)
	s.emit(SessionEvent{Kind: EventActivated})

	if command != "" {
		s.emit(SessionEvent{Kind: EventForward, Text: command})
	}
}

// Deactivate closes the session explicitly (e.g. "never mind").
func (s *Session) Deactivate() {
	s.mu.Lock()
	wasActive := s.state == domain.SessionActive
	s.state = domain.SessionIdle
	s.mu.Unlock()

	if wasActive {
		s.emit(SessionEvent{Kind: EventEnded})
	}
}

// touch refreshes the activity stamp.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// watchdog expires idle sessions. Exactly one EventEnded per session:
// the state flips to idle in the same critical section that decides to
// emit.
func (s *Session) watchdog(ctx context.Context) {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			expired := s.state == domain.SessionActive && time.Since(s.lastActivity) > s.timeout
			if expired {
				s.state = domain.SessionIdle
			}
			s.mu.Unlock()

			if expired {
				s.log.Info("session: timed out after %s of silence", s.timeout)
				s.emit(SessionEvent{Kind: EventEnded})
			}
		}
	}
}

// matchesStop reports whether the utterance contains a stop command.
func (s *Session) matchesStop(lower string) bool {
	for _, cmd := range s.stopCommands {
		if strings.Contains(lower, strings.ToLower(cmd)) {
			return true
		}
	}
	return false
}

// stripStartPhrase looks for a session-start phrase in the text and
// returns whatever follows it.
func (s *Session) stripStartPhrase(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, p := range s.startPhrases {
		pl := strings.ToLower(p)
		if idx := strings.Index(lower, pl); idx >= 0 {
			rest := strings.TrimLeft(text[idx+len(pl):], " ,.\n\r\t")
			return strings.TrimSpace(rest), true
		}
	}
	return "", false
}

// stripWakeWord looks for a wake word at the start or in the middle of
// the utterance and returns whatever follows it.
func (s *Session) stripWakeWord(text, lower string) (string, bool) {
	for _, w := range s.wakeWords {
		wl := strings.ToLower(w)

		if lower == wl {
			return "", true
		}
		if strings.HasPrefix(lower, wl) {
			rest := strings.TrimLeft(text[len(wl):], " ,.\n\r\t")
			return strings.TrimSpace(rest), true
		}
		if idx := strings.Index(lower, wl); idx >= 0 {
			rest := strings.TrimLeft(text[idx+len(wl):], " ,.\n\r\t")
			return strings.TrimSpace(rest), true
		}
	}
	return "", false
}

// emit delivers an event without blocking the input path.
func (s *Session) emit(ev SessionEvent) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn("session: event channel full, dropping %v", ev.Kind)
	}
}
