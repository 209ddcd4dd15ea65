package recog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	vosk "github.com/alphacep/vosk-api/go"
	"github.com/gen2brain/malgo"

	"pibot/internal/domain"
	"pibot/internal/logger"
)

const voskAudioQueueCap = 32

// Vosk streams microphone audio through an offline Vosk model and emits
// final recognition results. Partial results are discarded; only
// utterances the model considers complete reach the channel.
type Vosk struct {
	modelPath  string
	sampleRate int
	log        *logger.Logger

	model      *vosk.VoskModel
	recognizer *vosk.VoskRecognizer

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	textCh chan string
}

var _ domain.Recognizer = (*Vosk)(nil)

// voskResult is the JSON shape of a final recognition result.
type voskResult struct {
	Text string `json:"text"`
}

// NewVosk loads the model at modelPath. The model stays in memory until
// Close is called.
func NewVosk(modelPath string, sampleRate int, log *logger.Logger) (*Vosk, error) {
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	model, err := vosk.NewModel(modelPath)
	if err != nil {
		return nil, fmt.Errorf("vosk: load model %s: %w", modelPath, err)
	}

	recognizer, err := vosk.NewRecognizer(model, float64(sampleRate))
	if err != nil {
		model.Free()
		return nil, fmt.Errorf("vosk: create recognizer: %w", err)
	}

	log.Info("vosk: model loaded from %s (rate=%d)", modelPath, sampleRate)
	return &Vosk{
		modelPath:  modelPath,
		sampleRate: sampleRate,
		log:        log,
		model:      model,
		recognizer: recognizer,
		textCh:     make(chan string, 8),
	}, nil
}

// Results returns the channel carrying recognized utterances.
func (v *Vosk) Results() <-chan string {
	return v.textCh
}

// Start opens the capture device and begins streaming audio into the
// recognizer. Non-blocking; recognition runs until ctx is cancelled or
// Close is called.
func (v *Vosk) Start(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	v.cancel = cancel
	v.done = make(chan struct{})
	v.running = true

	go v.run(runCtx)
	return nil
}

func (v *Vosk) run(ctx context.Context) {
	defer close(v.done)

	mCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(_ string) {})
	if err != nil {
		v.log.Error("vosk: audio context init failed: %v", err)
		return
	}
	defer func() { _ = mCtx.Uninit(); mCtx.Free() }()

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.SampleRate = uint32(v.sampleRate)
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = 1
	devCfg.Alsa.NoMMap = 1

	audioCh := make(chan []byte, voskAudioQueueCap)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_ []byte, raw []byte, _ uint32) {
			if len(raw) == 0 {
				return
			}
			buf := make([]byte, len(raw))
			copy(buf, raw)
			select {
			case audioCh <- buf:
			default:
				// Drop rather than stall the capture thread.
			}
		},
	}

	device, err := malgo.InitDevice(mCtx.Context, devCfg, callbacks)
	if err != nil {
		v.log.Error("vosk: audio device init failed: %v", err)
		return
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		v.log.Error("vosk: audio device start failed: %v", err)
		return
	}
	defer device.Stop()

	v.log.Info("vosk: capture started (rate=%d)", v.sampleRate)

	for {
		select {
		case <-ctx.Done():
			v.log.Info("vosk: capture stopped")
			return
		case pcm := <-audioCh:
			v.feed(pcm)
		}
	}
}

// feed pushes one capture buffer into the recognizer and publishes any
// final result.
func (v *Vosk) feed(pcm []byte) {
	if v.recognizer.AcceptWaveform(pcm) != 1 {
		return
	}

	var res voskResult
	if err := json.Unmarshal([]byte(v.recognizer.Result()), &res); err != nil {
		v.log.Warn("vosk: bad result payload: %v", err)
		return
	}

	text := cleanTranscription(res.Text)
	if text == "" {
		return
	}

	v.log.Debug("vosk: heard %q", text)
	select {
	case v.textCh <- text:
	default:
		v.log.Warn("vosk: result channel full, dropping %q", text)
	}
}

// Close stops recognition and frees the model.
func (v *Vosk) Close() error {
	v.mu.Lock()
	if v.running {
		v.cancel()
		v.running = false
		v.mu.Unlock()
		<-v.done
	} else {
		v.mu.Unlock()
	}

	if v.recognizer != nil {
		v.recognizer.Free()
		v.recognizer = nil
	}
	if v.model != nil {
		v.model.Free()
		v.model = nil
	}
	return nil
}
