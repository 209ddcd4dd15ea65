// Package playback implements the spoken-output queue: a single-consumer
// FIFO of text items played through the Speaker one at a time. A
// monotonically increasing cancel token lets Flush drop everything that
// was queued before it, including the item currently being spoken.
package playback

import (
	"context"
	"sync"
	"time"

	"pibot/internal/domain"
	"pibot/internal/logger"
)

// Option configures the Queue.
type Option func(*Queue)

// WithCloseTimeout bounds how long Close waits for the worker to exit.
func WithCloseTimeout(d time.Duration) Option {
	return func(q *Queue) { q.closeTimeout = d }
}

// Item is one queued utterance, stamped with the token that was current
// when it was enqueued.
type Item struct {
	Text  string
	Token uint64
}

// Queue serializes spoken output. Enqueue is non-blocking; a lazily
// started worker goroutine dequeues items in FIFO order, speaks each
// one to completion, and advances to the next automatically. Flush
// invalidates everything enqueued so far by bumping the token.
type Queue struct {
	speaker      domain.Speaker
	log          *logger.Logger
	closeTimeout time.Duration

	mu      sync.Mutex
	items   []Item
	token   uint64
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}

	notify chan struct{}
}

// New creates a playback queue. The worker goroutine is not started
// until the first Enqueue.
func New(speaker domain.Speaker, log *logger.Logger, opts ...Option) *Queue {
	q := &Queue{
		speaker:      speaker,
		log:          log,
		closeTimeout: 2 * time.Second,
		notify:       make(chan struct{}, 32),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue adds text to the queue, stamped with the current token, and
// wakes the worker. Returns ErrQueueClosed after Close.
func (q *Queue) Enqueue(text string) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return domain.ErrQueueClosed
	}
	q.items = append(q.items, Item{Text: text, Token: q.token})
	q.ensureWorkerLocked()
	qLen := len(q.items)
	q.mu.Unlock()

	q.log.Debug("playback: queued (len=%d): %s", qLen, text)

	select {
	case q.notify <- struct{}{}:
	default: // already signaled
	}
	return nil
}

// Flush invalidates every queued item and cuts the one currently
// playing. The cancel token only ever increases; items stamped with an
// older token are dropped when the worker reaches them.
func (q *Queue) Flush() {
	q.mu.Lock()
	q.token++
	dropped := len(q.items)
	q.items = q.items[:0]
	tok := q.token
	q.mu.Unlock()

	q.speaker.Interrupt()
	q.log.Debug("playback: flushed %d items (token=%d)", dropped, tok)
}

// Token returns the current cancel token. Mostly useful in tests and
// status displays.
func (q *Queue) Token() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.token
}

// Len returns the number of items waiting to be spoken.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the worker. It waits up to the close timeout for the
// in-flight utterance to wind down and returns ErrStopTimeout if the
// worker is still running after that.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	cancel := q.cancel
	done := q.done
	q.mu.Unlock()

	if cancel == nil {
		// Worker never started.
		return nil
	}

	cancel()
	q.speaker.Interrupt()

	select {
	case <-done:
		return nil
	case <-time.After(q.closeTimeout):
		return domain.ErrStopTimeout
	}
}

// ensureWorkerLocked starts the worker goroutine if it isn't running.
// Must be called with q.mu held.
func (q *Queue) ensureWorkerLocked() {
	if q.started {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.done = make(chan struct{})
	q.started = true
	go q.worker(ctx)
	q.log.Debug("playback: worker started")
}

// worker is the single consumer: it drains the queue whenever signaled.
func (q *Queue) worker(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			q.log.Debug("playback: worker stopped")
			return
		case <-q.notify:
			q.drain(ctx)
		}
	}
}

// drain speaks queued items in order until the queue is empty. Items
// stamped with a stale token are dropped without being spoken.
func (q *Queue) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		current := q.token
		q.mu.Unlock()

		if item.Token != current {
			q.log.Debug("playback: dropping stale item (token=%d, current=%d): %s",
				item.Token, current, item.Text)
			continue
		}

		// A Flush during Speak interrupts the speaker, so the call
		// returns early and the loop re-checks tokens on the next item.
		if err := q.speaker.Speak(ctx, item.Text); err != nil {
			if ctx.Err() != nil {
				return
			}
			q.log.Error("playback: speak failed: %v", err)
		}
	}
}
