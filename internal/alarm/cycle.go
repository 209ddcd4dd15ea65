package alarm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pibot/internal/domain"
	"pibot/internal/logger"
)

// Queue is the slice of the playback queue the alarm needs: flushing
// stale output when an alarm fires, and queueing the stop confirmation.
type Queue interface {
	Flush()
	Enqueue(text string) error
}

// CycleOption configures the Cycle.
type CycleOption func(*Cycle)

// WithReminderInterval sets how often an unacknowledged alarm repeats
// its announcement.
func WithReminderInterval(d time.Duration) CycleOption {
	return func(c *Cycle) { c.reminderInterval = d }
}

// WithAutoStopAfter sets how long an alarm rings before giving up.
func WithAutoStopAfter(d time.Duration) CycleOption {
	return func(c *Cycle) { c.autoStopAfter = d }
}

// WithStopTimeout bounds how long Stop waits for the cycle goroutine.
func WithStopTimeout(d time.Duration) CycleOption {
	return func(c *Cycle) { c.stopTimeout = d }
}

// Cycle runs the repeating announcement loop for one triggered event.
// At most one cycle is active; a Trigger while one is running is
// logged and ignored. The loop announces the event, re-reminds on an
// interval, and stops itself after the auto-stop deadline. Stop is
// cooperative: it signals the loop and waits a bounded time for it to
// exit.
type Cycle struct {
	speaker domain.Speaker
	queue   Queue
	log     *logger.Logger

	reminderInterval time.Duration
	autoStopAfter    time.Duration
	stopTimeout      time.Duration

	mu     sync.Mutex
	active *cycleRun
}

// cycleRun is the state of one running alarm.
type cycleRun struct {
	event    domain.Event
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewCycle creates the alarm cycle.
func NewCycle(speaker domain.Speaker, queue Queue, log *logger.Logger, opts ...CycleOption) *Cycle {
	c := &Cycle{
		speaker:          speaker,
		queue:            queue,
		log:              log,
		reminderInterval: 5 * time.Minute,
		autoStopAfter:    30 * time.Minute,
		stopTimeout:      2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Trigger starts the announcement loop for ev. If a cycle is already
// running the call is ignored and ErrAlarmActive is returned.
func (c *Cycle) Trigger(ctx context.Context, ev domain.Event) error {
	c.mu.Lock()
	if c.active != nil {
		current := c.active.event.Title
		c.mu.Unlock()
		c.log.Debug("alarm: trigger for %q ignored, %q is already ringing", ev.Title, current)
		return domain.ErrAlarmActive
	}

	run := &cycleRun{
		event: ev,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	c.active = run
	c.mu.Unlock()

	c.log.Info("alarm: triggered %q (start=%s)", ev.Title, ev.Start.Format(time.Kitchen))
	go c.run(ctx, run)
	return nil
}

// Stop signals the active cycle to end and waits for it, bounded by the
// stop timeout. Idempotent: with no cycle running it returns nil
// immediately. On a clean stop the confirmation is queued for speech.
func (c *Cycle) Stop() error {
	c.mu.Lock()
	run := c.active
	c.mu.Unlock()

	if run == nil {
		return nil
	}

	run.stopOnce.Do(func() { close(run.stop) })
	c.speaker.Interrupt()

	select {
	case <-run.done:
	case <-time.After(c.stopTimeout):
		c.log.Error("alarm: cycle did not stop within %s", c.stopTimeout)
		return domain.ErrStopTimeout
	}

	if err := c.queue.Enqueue("Alarm stopped."); err != nil {
		c.log.Debug("alarm: stop confirmation dropped: %v", err)
	}
	return nil
}

// Playing reports whether a cycle is currently active.
func (c *Cycle) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Current returns the title of the ringing event, or "" when idle.
func (c *Cycle) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return ""
	}
	return c.active.event.Title
}

// run is the announcement loop. It owns the active slot: the deferred
// cleanup releases it even if a speak call panics underneath.
func (c *Cycle) run(ctx context.Context, run *cycleRun) {
	defer func() {
		c.mu.Lock()
		if c.active == run {
			c.active = nil
		}
		c.mu.Unlock()
		close(run.done)
	}()

	// Stale queued output would play over the alarm; drop it.
	c.queue.Flush()

	announcement := fmt.Sprintf("Reminder: %s", run.event.Title)
	c.announce(ctx, run, announcement, run.event.Description)

	reminder := time.NewTicker(c.reminderInterval)
	defer reminder.Stop()
	deadline := time.NewTimer(c.autoStopAfter)
	defer deadline.Stop()

	for {
		select {
		case <-run.stop:
			c.log.Info("alarm: %q stopped", run.event.Title)
			return
		case <-ctx.Done():
			c.log.Debug("alarm: %q cancelled", run.event.Title)
			return
		case <-deadline.C:
			c.log.Info("alarm: %q auto-stopped after %s", run.event.Title, c.autoStopAfter)
			return
		case <-reminder.C:
			c.announce(ctx, run, announcement, run.event.Description)
		}
	}
}

// announce speaks the alarm text unless the cycle was stopped while
// waiting its turn on the speech channel.
func (c *Cycle) announce(ctx context.Context, run *cycleRun, title, description string) {
	select {
	case <-run.stop:
		return
	case <-ctx.Done():
		return
	default:
	}

	if err := c.speaker.Speak(ctx, title); err != nil {
		c.log.Error("alarm: announce failed: %v", err)
		return
	}
	if description == "" {
		return
	}

	select {
	case <-run.stop:
		return
	default:
	}
	if err := c.speaker.Speak(ctx, description); err != nil {
		c.log.Error("alarm: description failed: %v", err)
	}
}
