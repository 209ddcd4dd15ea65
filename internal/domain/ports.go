package domain

import "context"

// EventSource provides calendar events. Implementations can be
// API-backed, ICS-backed, or in-memory fixtures.
type EventSource interface {
	Events(ctx context.Context) ([]Event, error)
	MarkTriggered(ctx context.Context, id string) error
}

// Speaker is the serialized speech output. Speak blocks until the text
// has been fully played or the context is cancelled. Interrupt is
// best-effort: it cuts whatever is playing and returns immediately.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	Interrupt()
}

// Recognizer produces finalized speech-to-text utterances. Results
// never blocks the recognizer itself; the channel is buffered and
// closed when the recognizer shuts down.
type Recognizer interface {
	Start(ctx context.Context) error
	Results() <-chan string
	Close() error
}

// ChatProvider answers free-form questions. The history is ordered
// oldest first and already trimmed by the caller.
type ChatProvider interface {
	Reply(ctx context.Context, history []ChatMessage) (string, error)
}

// NewsSource fetches headlines for a named category.
type NewsSource interface {
	Fetch(ctx context.Context, category string) ([]NewsItem, error)
	Categories() []string
}

// Notifier receives fire-and-forget notices about what the appliance
// is doing. Implementations must not block; the caller does not wait.
type Notifier interface {
	Notify(message string)
}
