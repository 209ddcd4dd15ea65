// Package speech provides the serialized text-to-speech output path:
// one Channel guards the audio device, a Synthesizer turns text into
// WAV bytes, and an AudioPlayer plays them.
package speech

import "context"

// Default voice for TTS.
// Full list: https://learn.microsoft.com/en-us/azure/ai-services/speech-service/language-support
const DefaultVoice = "en-US-AvaNeural"

// Audio format requested from the synthesizer and expected by the player.
const DefaultAudioFormat = "riff-24khz-16bit-mono-pcm"

// Audio parameters matching the default format.
const (
	SampleRate   = 24000
	ChannelCount = 1
	BitDepth     = 16
)

// Env var names for the speech service credentials.
const (
	EnvSpeechKey    = "AZURE_SPEECH_KEY"
	EnvSpeechRegion = "AZURE_SPEECH_REGION"
)

// Synthesizer converts text into WAV audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// AudioPlayer plays WAV audio. Play blocks until the audio finishes,
// Stop is called, or ctx is cancelled.
type AudioPlayer interface {
	Play(ctx context.Context, wav []byte) error
	Stop()
}
