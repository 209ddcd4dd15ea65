// Package wakeword provides real-time wake-word detection using the
// openWakeWord ONNX pipeline: melspectrogram → embedding → wakeword.
//
// The detector opens a single audio capture device via miniaudio
// (malgo), feeds 80 ms chunks through three ONNX models, and fires a
// callback when the wakeword score exceeds a threshold. It runs
// independently of the speech-to-text backend: detection is cheap
// enough to leave on around the clock, which is what lets the
// appliance keep the heavier recognizer off until someone actually
// addresses it.
//
// All model files (melspectrogram.onnx, embedding_model.onnx,
// <wakeword>.onnx) and the ONNX Runtime shared library must be provided
// at construction time.
package wakeword

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
	ort "github.com/yalue/onnxruntime_go"

	"pibot/internal/logger"
)

// ── Constants matching the openWakeWord pipeline ─────────────────

const (
	sampleRate   = 16000
	chunkSamples = 1280 // 80 ms @ 16 kHz
	queueCap     = 32
	melWindow    = 76 // embedding model needs 76 mel frames
	melStep      = 8  // step between embedding windows
	embeddingDim = 96 // output dim per embedding frame
	nEmbedFrames = 16 // wakeword model needs 16 embedding frames
	melBins      = 32 // melspectrogram output bands
	nMelFrames   = 5  // 1280 samples → 5 mel frames

	// The max score over this many recent frames is compared against
	// the threshold, absorbing frame-alignment variance around the peak.
	scoreWindowSize = 5

	// Only this many of the newest embedding slots are scored; older
	// slots are zeroed so accumulated silence embeddings can never
	// suppress a detection.
	recentWindow = 5
)

// Config holds the paths and tuning knobs for a Detector.
type Config struct {
	// Model paths (required).
	WakewordModel  string
	MelspecModel   string
	EmbeddingModel string
	OnnxLib        string

	Threshold float64       // score >= threshold fires OnDetected (default 0.3)
	Cooldown  time.Duration // min time between detections (default 1.5s)
}

func (c *Config) defaults() {
	if c.Threshold <= 0 {
		c.Threshold = 0.3
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 1500 * time.Millisecond
	}
}

// Detector listens for a wakeword continuously and fires OnDetected.
type Detector struct {
	cfg Config
	log *logger.Logger

	// OnDetected fires from the processing goroutine on each
	// detection. Set before calling Start.
	OnDetected func()

	mu         sync.Mutex
	paused     bool
	needsReset bool
}

// New creates a Detector. Call Start to begin listening.
func New(cfg Config, log *logger.Logger) *Detector {
	cfg.defaults()
	return &Detector{cfg: cfg, log: log}
}

// Pause temporarily stops detecting, e.g. while TTS is playing so the
// detector doesn't hear the speaker output.
func (d *Detector) Pause() {
	d.mu.Lock()
	d.paused = true
	d.mu.Unlock()
}

// Resume re-enables detection after a Pause. Stale pipeline state is
// flushed so audio recorded before the pause cannot fire.
func (d *Detector) Resume() {
	d.mu.Lock()
	d.paused = false
	d.needsReset = true
	d.mu.Unlock()
}

func (d *Detector) isPaused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}

// checkReset returns true (once) after a Resume, signaling the
// processing loop to flush all pipeline buffers.
func (d *Detector) checkReset() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.needsReset {
		d.needsReset = false
		return true
	}
	return false
}

// pipeline bundles the three ONNX sessions and their bound tensors.
type pipeline struct {
	melspecIn, melspecOut *ort.Tensor[float32]
	embedIn, embedOut     *ort.Tensor[float32]
	wwIn, wwOut           *ort.Tensor[float32]

	melspec, embed, ww *ort.AdvancedSession
}

func (p *pipeline) destroy() {
	for _, s := range []*ort.AdvancedSession{p.ww, p.embed, p.melspec} {
		if s != nil {
			s.Destroy()
		}
	}
	for _, t := range []*ort.Tensor[float32]{p.wwOut, p.wwIn, p.embedOut, p.embedIn, p.melspecOut, p.melspecIn} {
		if t != nil {
			t.Destroy()
		}
	}
}

func newSession(modelPath string, in, out *ort.Tensor[float32]) (*ort.AdvancedSession, error) {
	inInfo, outInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, err
	}
	return ort.NewAdvancedSession(
		modelPath,
		[]string{inInfo[0].Name}, []string{outInfo[0].Name},
		[]ort.Value{in}, []ort.Value{out},
		nil,
	)
}

func (d *Detector) buildPipeline() (*pipeline, error) {
	p := &pipeline{}
	var err error

	if p.melspecIn, err = ort.NewEmptyTensor[float32](ort.NewShape(1, chunkSamples)); err != nil {
		return nil, err
	}
	if p.melspecOut, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1, nMelFrames, melBins)); err != nil {
		p.destroy()
		return nil, err
	}
	if p.melspec, err = newSession(d.cfg.MelspecModel, p.melspecIn, p.melspecOut); err != nil {
		p.destroy()
		return nil, err
	}

	if p.embedIn, err = ort.NewEmptyTensor[float32](ort.NewShape(1, melWindow, melBins, 1)); err != nil {
		p.destroy()
		return nil, err
	}
	if p.embedOut, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1, 1, embeddingDim)); err != nil {
		p.destroy()
		return nil, err
	}
	if p.embed, err = newSession(d.cfg.EmbeddingModel, p.embedIn, p.embedOut); err != nil {
		p.destroy()
		return nil, err
	}

	if p.wwIn, err = ort.NewEmptyTensor[float32](ort.NewShape(1, nEmbedFrames, embeddingDim)); err != nil {
		p.destroy()
		return nil, err
	}
	if p.wwOut, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1)); err != nil {
		p.destroy()
		return nil, err
	}
	if p.ww, err = newSession(d.cfg.WakewordModel, p.wwIn, p.wwOut); err != nil {
		p.destroy()
		return nil, err
	}

	return p, nil
}

// Start initialises the ONNX models and the capture device, then runs
// the detection loop. Blocks until ctx is cancelled.
func (d *Detector) Start(ctx context.Context) error {
	d.log.Debug("wakeword: initializing ONNX runtime (lib=%s)", d.cfg.OnnxLib)
	ort.SetSharedLibraryPath(d.cfg.OnnxLib)
	if err := ort.InitializeEnvironment(); err != nil {
		d.log.Error("wakeword: ONNX init failed: %v", err)
		return err
	}
	defer ort.DestroyEnvironment()

	p, err := d.buildPipeline()
	if err != nil {
		return err
	}
	defer p.destroy()

	mCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(_ string) {})
	if err != nil {
		return err
	}
	defer func() { _ = mCtx.Uninit(); mCtx.Free() }()

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.SampleRate = sampleRate
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = 1
	devCfg.Alsa.NoMMap = 1

	audioCh := make(chan []int16, queueCap)
	var drops atomic.Int64

	callbacks := malgo.DeviceCallbacks{
		Data: func(_ []byte, raw []byte, _ uint32) {
			if len(raw) == 0 {
				return
			}
			n := len(raw) / 2
			pcm := make([]int16, n)
			for i := 0; i < n; i++ {
				pcm[i] = int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
			}
			select {
			case audioCh <- pcm:
			default:
				drops.Add(1)
			}
		},
	}

	device, err := malgo.InitDevice(mCtx.Context, devCfg, callbacks)
	if err != nil {
		return err
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		d.log.Error("wakeword: audio device start failed: %v", err)
		return err
	}
	defer device.Stop()
	d.log.Info("wakeword: listening (threshold=%.2f, cooldown=%s)", d.cfg.Threshold, d.cfg.Cooldown)

	return d.process(ctx, p, audioCh)
}

// process is the detection loop: accumulate samples into 80 ms chunks
// and push each through the three-stage pipeline.
func (d *Detector) process(ctx context.Context, p *pipeline, audioCh <-chan []int16) error {
	melBuffer := make([]float32, 0, 300*melBins)
	embedBuffer := make([]float32, nEmbedFrames*embeddingDim)
	audioRem := make([]int16, 0, chunkSamples*2)
	scoreWindow := make([]float32, scoreWindowSize)
	scoreIdx := 0
	lastDetect := time.Time{}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case frame := <-audioCh:
			if d.isPaused() {
				continue
			}

			if d.checkReset() {
				melBuffer = melBuffer[:0]
				for i := range embedBuffer {
					embedBuffer[i] = 0
				}
				audioRem = audioRem[:0]
				for i := range scoreWindow {
					scoreWindow[i] = 0
				}
				scoreIdx = 0
				d.log.Debug("wakeword: pipeline buffers reset after resume")
			}

			audioRem = append(audioRem, frame...)

			for len(audioRem) >= chunkSamples {
				chunk := audioRem[:chunkSamples]
				// Compact instead of reslicing so the backing array
				// doesn't grow without bound.
				n := copy(audioRem, audioRem[chunkSamples:])
				audioRem = audioRem[:n]

				newEmbed, err := d.pushChunk(p, chunk, &melBuffer, embedBuffer)
				if err != nil {
					d.log.Error("wakeword: pipeline: %v", err)
					continue
				}
				if !newEmbed {
					continue
				}

				score, err := d.score(p, embedBuffer)
				if err != nil {
					d.log.Error("wakeword: scoring: %v", err)
					continue
				}

				scoreWindow[scoreIdx%scoreWindowSize] = score
				scoreIdx++

				var maxScore float32
				for _, s := range scoreWindow {
					if s > maxScore {
						maxScore = s
					}
				}

				if float64(maxScore) >= d.cfg.Threshold*0.1 {
					d.log.Debug("wakeword: score=%.6f max=%.6f (threshold=%.2f)", score, maxScore, d.cfg.Threshold)
				}

				now := time.Now()
				if float64(maxScore) >= d.cfg.Threshold && now.Sub(lastDetect) > d.cfg.Cooldown {
					d.log.Info("wakeword: detected (score=%.4f, windowMax=%.4f)", score, maxScore)
					lastDetect = now
					// Clear the window so the same peak can't re-fire.
					for i := range scoreWindow {
						scoreWindow[i] = 0
					}
					if d.OnDetected != nil {
						d.OnDetected()
					}
				}
			}
		}
	}
}

// pushChunk runs melspectrogram + embedding for one 80 ms chunk.
// Returns true if a new embedding frame was produced.
func (d *Detector) pushChunk(p *pipeline, chunk []int16, melBuffer *[]float32, embedBuffer []float32) (bool, error) {
	inData := p.melspecIn.GetData()
	for i, v := range chunk {
		inData[i] = float32(v)
	}
	if err := p.melspec.Run(); err != nil {
		return false, err
	}

	melData := p.melspecOut.GetData()
	buf := *melBuffer
	for f := 0; f < nMelFrames; f++ {
		for b := 0; b < melBins; b++ {
			idx := f*melBins + b
			if idx < len(melData) {
				// openWakeWord's fixed mel normalization.
				buf = append(buf, melData[idx]/10.0+2.0)
			}
		}
	}

	totalMel := len(buf) / melBins
	newEmbed := false

	for totalMel >= melWindow {
		eData := p.embedIn.GetData()
		copy(eData, buf[:melWindow*melBins])
		if err := p.embed.Run(); err != nil {
			*melBuffer = buf
			return newEmbed, err
		}
		eOut := p.embedOut.GetData()

		// Sliding window: shift left, insert at end.
		copy(embedBuffer, embedBuffer[embeddingDim:])
		copy(embedBuffer[(nEmbedFrames-1)*embeddingDim:], eOut[:embeddingDim])
		newEmbed = true

		n := copy(buf, buf[melStep*melBins:])
		buf = buf[:n]
		totalMel = len(buf) / melBins
	}

	if totalMel > melWindow {
		excess := (totalMel - melWindow) * melBins
		n := copy(buf, buf[excess:])
		buf = buf[:n]
	}

	*melBuffer = buf
	return newEmbed, nil
}

// score runs the wakeword model over the zero-padded embedding buffer:
// only the newest recentWindow slots are real.
func (d *Detector) score(p *pipeline, embedBuffer []float32) (float32, error) {
	wwData := p.wwIn.GetData()
	padSlots := nEmbedFrames - recentWindow
	for i := 0; i < padSlots*embeddingDim; i++ {
		wwData[i] = 0
	}
	copy(wwData[padSlots*embeddingDim:], embedBuffer[padSlots*embeddingDim:])

	if err := p.ww.Run(); err != nil {
		return 0, err
	}
	return p.wwOut.GetData()[0], nil
}
