package recog

import (
	"context"
	"os/exec"
	"sync"
	"time"

	audiotranscriber "github.com/sklyt/whisper/pkg"

	"pibot/internal/domain"
	"pibot/internal/logger"
)

// Whisper runs a local Whisper model over short recorded chunks and
// emits whatever it hears. Each cycle records for chunkDuration, shells
// out to whisper-cli, and publishes the cleaned transcription.
type Whisper struct {
	whisperBin string
	modelPath  string
	tempDir    string
	log        *logger.Logger

	chunkDuration time.Duration
	silenceGap    time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	textCh chan string
}

var _ domain.Recognizer = (*Whisper)(nil)

// WhisperOption configures a Whisper recognizer.
type WhisperOption func(*Whisper)

// WithChunkDuration sets how long each recording cycle lasts.
func WithChunkDuration(d time.Duration) WhisperOption {
	return func(w *Whisper) { w.chunkDuration = d }
}

// WithSilenceGap sets the pause between recording cycles.
func WithSilenceGap(d time.Duration) WhisperOption {
	return func(w *Whisper) { w.silenceGap = d }
}

// WithTempDir sets the directory for temporary WAV files.
func WithTempDir(dir string) WhisperOption {
	return func(w *Whisper) { w.tempDir = dir }
}

// NewWhisper creates a recognizer backed by the whisper-cli executable
// and the GGML model at modelPath.
func NewWhisper(whisperBin, modelPath string, log *logger.Logger, opts ...WhisperOption) *Whisper {
	w := &Whisper{
		whisperBin:    whisperBin,
		modelPath:     modelPath,
		tempDir:       ".pibot-stt",
		log:           log,
		chunkDuration: 3 * time.Second,
		silenceGap:    300 * time.Millisecond,
		textCh:        make(chan string, 8),
	}
	for _, opt := range opts {
		opt(w)
	}

	if _, err := exec.LookPath(w.whisperBin); err != nil {
		log.Error("whisper: binary %q not found in PATH: %v", w.whisperBin, err)
	}
	return w
}

// Results returns the channel carrying recognized utterances.
func (w *Whisper) Results() <-chan string {
	return w.textCh
}

// Start begins the record/transcribe loop. Non-blocking.
func (w *Whisper) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true

	go w.run(runCtx)
	return nil
}

func (w *Whisper) run(ctx context.Context) {
	defer close(w.done)
	w.log.Info("whisper: started (chunk=%s, gap=%s)", w.chunkDuration, w.silenceGap)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("whisper: stopped")
			return
		default:
		}

		text := cleanTranscription(w.recordChunk(ctx))
		if text != "" {
			w.log.Debug("whisper: heard %q", text)
			select {
			case w.textCh <- text:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-time.After(w.silenceGap):
		case <-ctx.Done():
		}
	}
}

// recordChunk does one record/transcribe cycle and returns the raw text.
func (w *Whisper) recordChunk(ctx context.Context) string {
	var result string
	var wg sync.WaitGroup
	wg.Add(1)

	callback := func(text string) {
		result = text
		wg.Done()
	}

	verbose := w.log.GetLevel() >= logger.LevelVerbose
	t, err := audiotranscriber.NewTranscriber(
		w.whisperBin,
		w.modelPath,
		w.tempDir,
		"wav",
		callback,
		verbose,
	)
	if err != nil {
		w.log.Error("whisper: transcriber init failed: %v", err)
		time.Sleep(2 * time.Second)
		return ""
	}

	if err := t.Start(); err != nil {
		w.log.Error("whisper: recording start failed: %v", err)
		time.Sleep(2 * time.Second)
		return ""
	}

	select {
	case <-time.After(w.chunkDuration):
	case <-ctx.Done():
		t.Stop()
		wg.Wait()
		return ""
	}

	t.Stop()
	wg.Wait()
	return result
}

// Close stops the loop. Safe to call more than once.
func (w *Whisper) Close() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.cancel()
	w.running = false
	w.mu.Unlock()

	<-w.done
	return nil
}
