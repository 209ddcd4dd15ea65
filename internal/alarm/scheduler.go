package alarm

import (
	"context"
	"sync"
	"time"

	"pibot/internal/domain"
	"pibot/internal/logger"
)

// SchedulerOption configures the Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler polls the event list.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithTriggerWindow sets how far past its start time an event still
// fires. An event triggers when start is within [now-window, now].
func WithTriggerWindow(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.triggerWindow = d }
}

// WithRetriggerWindow sets how long after its start time a manually
// stopped event keeps coming back. Usually matches the cycle's
// auto-stop deadline.
func WithRetriggerWindow(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.retriggerWindow = d }
}

// WithClock injects the time source. Tests use this to step through
// trigger windows without sleeping.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler polls the event list and starts the alarm cycle for events
// whose start time has arrived. Each tick works on an immutable
// snapshot, so event refreshes never race a trigger decision.
//
// A triggered event is not done with: while the current time is still
// inside its retrigger window and no alarm is ringing, it fires again.
// Stopping an alarm buys silence until the next tick, not until the
// event is over.
type Scheduler struct {
	list   *EventList
	cycle  *Cycle
	source domain.EventSource // nil when the source has no write-back
	log    *logger.Logger

	tickInterval    time.Duration
	triggerWindow   time.Duration
	retriggerWindow time.Duration
	now             func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// NewScheduler creates the event scheduler.
func NewScheduler(list *EventList, cycle *Cycle, source domain.EventSource, log *logger.Logger, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		list:            list,
		cycle:           cycle,
		source:          source,
		log:             log,
		tickInterval:    10 * time.Second,
		triggerWindow:   30 * time.Second,
		retriggerWindow: 30 * time.Minute,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the background polling loop. Non-blocking.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.log.Warn("scheduler already running")
		return
	}

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	go s.loop(childCtx)
	s.log.Info("scheduler started (tick=%s, window=%s)", s.tickInterval, s.triggerWindow)
}

// Stop shuts down the polling loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.cancel()
	s.running = false
	s.log.Info("scheduler stopped")
}

// loop is the main tick loop.
func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick checks the snapshot for due events. At most one alarm starts per
// tick; once something is ringing, the rest wait their turn.
func (s *Scheduler) tick(ctx context.Context) {
	if s.cycle.Playing() {
		return
	}

	now := s.now()
	for _, ev := range s.list.Snapshot() {
		switch {
		case !ev.Triggered && ev.Due(now, s.triggerWindow):
			s.fire(ctx, ev)
			return
		case ev.Triggered && s.shouldRetrigger(ev, now):
			s.log.Debug("scheduler: re-triggering %q (stopped but still due)", ev.Title)
			s.fire(ctx, ev)
			return
		}
	}
}

// shouldRetrigger reports whether a previously triggered event is still
// inside its retrigger window.
func (s *Scheduler) shouldRetrigger(ev domain.Event, now time.Time) bool {
	if now.Before(ev.Start) {
		return false
	}
	return now.Before(ev.Start.Add(s.retriggerWindow))
}

// fire starts the alarm cycle and records the trigger. The source
// write-back is fire-and-forget on its own short deadline so a slow
// backend never stalls the tick loop.
func (s *Scheduler) fire(ctx context.Context, ev domain.Event) {
	if err := s.cycle.Trigger(ctx, ev); err != nil {
		// Raced with a trigger from elsewhere; the next tick retries.
		s.log.Debug("scheduler: trigger %q: %v", ev.Title, err)
		return
	}

	s.list.MarkTriggered(ev.ID)

	if s.source == nil {
		return
	}
	go func(id, title string) {
		markCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.source.MarkTriggered(markCtx, id); err != nil {
			s.log.Warn("scheduler: mark triggered %q: %v", title, err)
		}
	}(ev.ID, ev.Title)
}
