package speech

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"pibot/internal/domain"
	"pibot/internal/logger"
)

// Compile-time interface check.
var _ domain.Speaker = (*Channel)(nil)

// ChannelOption configures the Channel.
type ChannelOption func(*Channel)

// WithChunkSize sets the approximate max character count per TTS
// request. Text longer than this is split at sentence boundaries so an
// interrupt lands between chunks instead of waiting out a long clip.
func WithChunkSize(n int) ChannelOption {
	return func(c *Channel) { c.chunkSize = n }
}

// WithNotifiers registers listeners that are told, fire-and-forget,
// what the channel is about to speak.
func WithNotifiers(ns ...domain.Notifier) ChannelOption {
	return func(c *Channel) { c.notifiers = append(c.notifiers, ns...) }
}

// Channel is the single output path for spoken text. A mutex serializes
// callers: Speak blocks until the text has been fully played, and at
// most one utterance is audible at a time. Interrupt cuts the active
// utterance without waiting.
type Channel struct {
	synth  Synthesizer
	player AudioPlayer
	log    *logger.Logger

	chunkSize int
	notifiers []domain.Notifier

	mu sync.Mutex // held for the whole duration of one utterance

	stateMu     sync.Mutex
	interrupted bool
}

// NewChannel creates the speech channel.
func NewChannel(synth Synthesizer, player AudioPlayer, log *logger.Logger, opts ...ChannelOption) *Channel {
	c := &Channel{
		synth:     synth,
		player:    player,
		log:       log,
		chunkSize: 200,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Speak synthesizes and plays text, blocking until playback completes,
// the context is cancelled, or Interrupt cuts it short. An interrupted
// utterance returns nil: being cut off is normal operation, not a
// failure.
func (c *Channel) Speak(ctx context.Context, text string) error {
	text = cleanForSpeech(text)
	if text == "" {
		return nil
	}

	c.announce(text)

	c.mu.Lock()
	defer c.mu.Unlock()

	// A pending interrupt only applies to the utterance it was aimed
	// at, never the next one.
	c.stateMu.Lock()
	c.interrupted = false
	c.stateMu.Unlock()

	c.log.Debug("speech: speaking: %s", truncate(text, 60))

	for i, chunk := range c.splitChunks(text) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if c.wasInterrupted() {
			c.log.Debug("speech: aborting at chunk %d (interrupted)", i)
			return nil
		}

		audio, err := c.synth.Synthesize(ctx, chunk)
		if err != nil {
			return err
		}
		if c.wasInterrupted() {
			return nil
		}
		if err := c.player.Play(ctx, audio); err != nil {
			return err
		}
	}
	return nil
}

// Interrupt stops the currently playing audio, if any. Best-effort:
// it returns immediately and never reports whether anything was cut.
func (c *Channel) Interrupt() {
	c.stateMu.Lock()
	c.interrupted = true
	c.stateMu.Unlock()

	c.player.Stop()
	c.log.Debug("speech: interrupted")
}

// announce tells each notifier what is about to be spoken. Each call
// runs in its own goroutine so a slow notifier never delays audio.
func (c *Channel) announce(text string) {
	for _, n := range c.notifiers {
		go n.Notify(text)
	}
}

func (c *Channel) wasInterrupted() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.interrupted
}

// splitChunks breaks text into sentence-boundary chunks of
// approximately c.chunkSize characters. Short text comes back as-is.
func (c *Channel) splitChunks(text string) []string {
	if c.chunkSize <= 0 || len(text) <= c.chunkSize {
		return []string{text}
	}

	sentences := splitSentences(text)

	var chunks []string
	var current strings.Builder

	for _, s := range sentences {
		if current.Len() > 0 && current.Len()+len(s) > c.chunkSize {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
		current.WriteString(s)
	}
	if current.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}

	var out []string
	for _, ch := range chunks {
		if ch != "" {
			out = append(out, ch)
		}
	}
	return out
}

// splitSentences splits text at sentence boundaries (. ! ?) keeping
// the punctuation attached to the preceding sentence.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		current.WriteRune(runes[i])
		if runes[i] == '.' || runes[i] == '!' || runes[i] == '?' {
			for i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
				i++
				current.WriteRune(runes[i])
			}
			sentences = append(sentences, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		sentences = append(sentences, current.String())
	}
	return sentences
}

// cleanForSpeech strips formatting artifacts that shouldn't be spoken.
var bracketPrefix = regexp.MustCompile(`^\[[A-Za-z]+\]\s*`)
var ansiCodes = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func cleanForSpeech(msg string) string {
	cleaned := ansiCodes.ReplaceAllString(msg, "")
	cleaned = bracketPrefix.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

// truncate shortens a string for logging.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
