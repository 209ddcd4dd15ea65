package control

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"pibot/internal/alarm"
	"pibot/internal/chat"
	"pibot/internal/domain"
	"pibot/internal/logger"
)

// OutputQueue is the slice of the playback queue the controller needs.
type OutputQueue interface {
	Enqueue(text string) error
	Flush()
}

// ControllerOption configures the Controller.
type ControllerOption func(*Controller)

// WithRecognizer attaches a speech-to-text backend.
func WithRecognizer(r domain.Recognizer) ControllerOption {
	return func(c *Controller) { c.recog = r }
}

// WithNews enables the news command.
func WithNews(source domain.NewsSource, pageSize int) ControllerOption {
	return func(c *Controller) {
		c.news = source
		if pageSize > 0 {
			c.pageSize = pageSize
		}
	}
}

// WithChat enables free-form questions.
func WithChat(provider domain.ChatProvider, history *chat.History) ControllerOption {
	return func(c *Controller) {
		c.chat = provider
		c.history = history
	}
}

// WithEventSource attaches the backend the event list is refreshed
// from, on the given cron schedule.
func WithEventSource(source domain.EventSource, cronSpec string) ControllerOption {
	return func(c *Controller) {
		c.source = source
		c.refreshCron = cronSpec
	}
}

// WithScheduler attaches the alarm scheduler to the controller's
// lifecycle so Run starts and stops it.
func WithScheduler(s *alarm.Scheduler) ControllerOption {
	return func(c *Controller) { c.sched = s }
}

// WithVoiceEcho registers a callback invoked with every recognized
// utterance before it enters the session, so the UI can echo it.
func WithVoiceEcho(fn func(string)) ControllerOption {
	return func(c *Controller) { c.voiceEcho = fn }
}

// Controller is the hub: recognized text flows through the voice
// session, session events drive the command dispatch, and the event
// list feeding the scheduler is refreshed on a cron schedule. All
// spoken output goes through the playback queue.
type Controller struct {
	session *Session
	queue   OutputQueue
	cycle   *alarm.Cycle
	list    *alarm.EventList
	log     *logger.Logger

	sched       *alarm.Scheduler
	recog       domain.Recognizer
	source      domain.EventSource
	refreshCron string
	news        domain.NewsSource
	pageSize    int
	chat        domain.ChatProvider
	history     *chat.History
	voiceEcho   func(string)
}

// NewController wires the engine together.
func NewController(session *Session, queue OutputQueue, cycle *alarm.Cycle, list *alarm.EventList, log *logger.Logger, opts ...ControllerOption) *Controller {
	c := &Controller{
		session:  session,
		queue:    queue,
		cycle:    cycle,
		list:     list,
		log:      log,
		pageSize: 5,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit feeds one utterance (voice or typed) into the session.
func (c *Controller) Submit(text string) {
	c.session.Input(text)
}

// Run is the controller's main loop. Blocks until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	c.session.Start(ctx)
	defer c.session.Stop()

	if c.sched != nil {
		c.sched.Start(ctx)
		defer c.sched.Stop()
	}

	var results <-chan string
	if c.recog != nil {
		if err := c.recog.Start(ctx); err != nil {
			c.log.Error("controller: recognizer start: %v", err)
		} else {
			results = c.recog.Results()
			defer c.recog.Close()
		}
	}

	if c.source != nil {
		c.refreshEvents(ctx)
		if c.refreshCron != "" {
			runner := cron.New()
			if _, err := runner.AddFunc(c.refreshCron, func() { c.refreshEvents(context.Background()) }); err != nil {
				c.log.Error("controller: refresh schedule %q: %v", c.refreshCron, err)
			} else {
				runner.Start()
				defer runner.Stop()
				c.log.Info("controller: event refresh on %q", c.refreshCron)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case text, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			if c.voiceEcho != nil {
				c.voiceEcho(text)
			}
			c.Submit(text)
		case ev := <-c.session.Events():
			c.handle(ctx, ev)
		}
	}
}

// handle reacts to one session event.
func (c *Controller) handle(ctx context.Context, ev SessionEvent) {
	switch ev.Kind {
	case EventStop:
		// Drop pending output first so nothing stale plays after the
		// alarm goes quiet. The cycle queues its own confirmation.
		c.queue.Flush()
		if err := c.cycle.Stop(); err != nil {
			c.log.Error("controller: stop alarm: %v", err)
		}
	case EventActivated:
		c.say("Yes?")
	case EventEnded:
		// A fresh session starts its conversation from scratch.
		if c.history != nil {
			c.history.Clear()
		}
		c.say("Session ended.")
	case EventForward:
		// Dispatch may hit the network; keep the event loop free.
		go c.dispatch(ctx, ev.Text)
	}
}

// dispatch routes a forwarded utterance to a command.
func (c *Controller) dispatch(ctx context.Context, text string) {
	lower := strings.ToLower(text)

	switch {
	case strings.Contains(lower, "news"):
		c.readNews(ctx, lower)
	case containsAny(lower, "coming up", "my schedule", "my events", "my reminders", "next event"):
		c.speakUpcoming()
	case containsAny(lower, "never mind", "nevermind", "go to sleep"):
		c.session.Deactivate()
	default:
		c.ask(ctx, text)
	}
}

// readNews fetches headlines and queues them in pages. Each page is one
// queue item, so playback walks through the pages on its own and a stop
// command flushes the rest.
func (c *Controller) readNews(ctx context.Context, lower string) {
	if c.news == nil {
		c.say("News is not set up.")
		return
	}

	category := ""
	for _, cat := range c.news.Categories() {
		if strings.Contains(lower, strings.ToLower(cat)) {
			category = cat
			break
		}
	}
	if category == "" {
		cats := c.news.Categories()
		if len(cats) == 0 {
			c.say("No news feeds are configured.")
			return
		}
		category = cats[0]
	}

	items, err := c.news.Fetch(ctx, category)
	if err != nil {
		c.log.Error("controller: news fetch: %v", err)
		c.say(fmt.Sprintf("Sorry, I couldn't fetch the %s news.", category))
		return
	}
	if len(items) == 0 {
		c.say(fmt.Sprintf("No %s headlines right now.", category))
		return
	}

	c.say(fmt.Sprintf("Here are the top %s headlines.", category))
	for start := 0; start < len(items); start += c.pageSize {
		end := start + c.pageSize
		if end > len(items) {
			end = len(items)
		}
		var page strings.Builder
		for i, item := range items[start:end] {
			fmt.Fprintf(&page, "Headline %d: %s. ", start+i+1, item.Title)
			if item.Summary != "" {
				page.WriteString(item.Summary)
				page.WriteString(" ")
			}
		}
		c.say(strings.TrimSpace(page.String()))
	}
}

// speakUpcoming reads the next day's events off the current snapshot.
func (c *Controller) speakUpcoming() {
	now := time.Now()
	horizon := now.Add(24 * time.Hour)

	var upcoming []domain.Event
	for _, ev := range c.list.Snapshot() {
		if ev.Start.After(now) && ev.Start.Before(horizon) {
			upcoming = append(upcoming, ev)
		}
	}

	if len(upcoming) == 0 {
		c.say("You have nothing coming up in the next day.")
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You have %d upcoming. ", len(upcoming))
	for _, ev := range upcoming {
		fmt.Fprintf(&b, "%s at %s. ", ev.Title, ev.Start.Format(time.Kitchen))
	}
	c.say(strings.TrimSpace(b.String()))
}

// ask sends the utterance to the chat provider with recent history.
func (c *Controller) ask(ctx context.Context, text string) {
	if c.chat == nil {
		c.say("I can only handle alarms and news right now.")
		return
	}

	c.history.Add(domain.RoleUser, text)

	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	reply, err := c.chat.Reply(reqCtx, c.history.Window(10))
	if err != nil {
		c.log.Error("controller: chat: %v", err)
		c.say("Sorry, I couldn't come up with an answer.")
		return
	}

	c.history.Add(domain.RoleAssistant, reply)
	c.say(reply)
}

// refreshEvents replaces the event list from the source.
func (c *Controller) refreshEvents(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	events, err := c.source.Events(fetchCtx)
	if err != nil {
		c.log.Error("controller: event refresh: %v", err)
		return
	}
	c.list.Replace(events)
	c.log.Debug("controller: event list refreshed (%d events)", len(events))
}

// say queues text for speech, logging instead of failing when the
// queue is already closed during shutdown.
func (c *Controller) say(text string) {
	if err := c.queue.Enqueue(text); err != nil {
		c.log.Debug("controller: say %q: %v", text, err)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
