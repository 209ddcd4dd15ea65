// Package config loads and persists the appliance's YAML configuration.
// Missing fields are filled with defaults and out-of-range values are
// clamped, so a partially edited file still yields a runnable setup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration. Durations are stored as plain
// seconds/minutes so the file stays hand-editable.
type Config struct {
	Events  EventsConfig   `yaml:"events"`
	Session SessionConfig  `yaml:"session"`
	Speech  SpeechConfig   `yaml:"speech"`
	Recog   RecogConfig    `yaml:"recognizer"`
	Wake    WakewordConfig `yaml:"wakeword"`
	Chat    ChatConfig     `yaml:"chat"`
	News    NewsConfig     `yaml:"news"`
	Log     LogConfig      `yaml:"log"`
}

// EventsConfig controls the event source and the alarm timing knobs.
type EventsConfig struct {
	// Source selects the event backend: "http", "ics", or "demo".
	Source string `yaml:"source"`
	// URL is the event endpoint (http) or calendar URL (ics).
	URL string `yaml:"url"`
	// RefreshCron is the cron expression for event list refreshes.
	RefreshCron string `yaml:"refresh_cron"`

	TickSeconds          int `yaml:"tick_seconds"`
	TriggerWindowSeconds int `yaml:"trigger_window_seconds"`
	ReminderMinutes      int `yaml:"reminder_minutes"`
	AutoStopMinutes      int `yaml:"auto_stop_minutes"`
}

// SessionConfig controls the voice session state machine.
type SessionConfig struct {
	RequireWakeWord *bool    `yaml:"require_wake_word"`
	TimeoutSeconds  int      `yaml:"timeout_seconds"`
	WakeWords       []string `yaml:"wake_words"`
	StartPhrases    []string `yaml:"start_phrases"`
	StopCommands    []string `yaml:"stop_commands"`
}

// SpeechConfig controls text-to-speech output.
type SpeechConfig struct {
	Disable bool   `yaml:"disable"`
	Voice   string `yaml:"voice"`
}

// RecogConfig selects the speech-to-text backend.
type RecogConfig struct {
	// Backend: "vosk", "whisper", or "" for typed input only.
	Backend    string `yaml:"backend"`
	ModelPath  string `yaml:"model_path"`
	WhisperBin string `yaml:"whisper_bin"`
	SampleRate int    `yaml:"sample_rate"`
}

// WakewordConfig enables the always-on ONNX wake-word detector. All
// four paths must be set; otherwise the detector stays off and wake
// words are matched against recognized text instead.
type WakewordConfig struct {
	Model          string  `yaml:"model"`
	MelspecModel   string  `yaml:"melspec_model"`
	EmbeddingModel string  `yaml:"embedding_model"`
	OnnxLib        string  `yaml:"onnx_lib"`
	Threshold      float64 `yaml:"threshold"`
	CooldownMillis int     `yaml:"cooldown_ms"`
}

// Enabled reports whether all required model paths are configured.
func (c *WakewordConfig) Enabled() bool {
	return c.Model != "" && c.MelspecModel != "" && c.EmbeddingModel != "" && c.OnnxLib != ""
}

// Cooldown returns the detection cooldown as a duration.
func (c *WakewordConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMillis) * time.Millisecond
}

// ChatConfig selects the conversational provider.
type ChatConfig struct {
	// Provider: "openai", "gemini", or "" to disable chat.
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	MaxHistory int    `yaml:"max_history"`
}

// NewsConfig maps spoken category names to RSS feed URLs.
type NewsConfig struct {
	Feeds    map[string]string `yaml:"feeds"`
	PageSize int               `yaml:"page_size"`
}

// LogConfig controls the rotating log file.
type LogConfig struct {
	File     string `yaml:"file"`
	MaxBytes int64  `yaml:"max_bytes"`
}

// Default returns the built-in configuration.
func Default() *Config {
	requireWake := true
	return &Config{
		Events: EventsConfig{
			Source:               "demo",
			RefreshCron:          "*/5 * * * *",
			TickSeconds:          10,
			TriggerWindowSeconds: 30,
			ReminderMinutes:      5,
			AutoStopMinutes:      30,
		},
		Session: SessionConfig{
			RequireWakeWord: &requireWake,
			TimeoutSeconds:  60,
			WakeWords:       []string{"assistant", "hey assistant", "okay assistant"},
			StartPhrases:    []string{"let's chat", "lets chat"},
			StopCommands:    []string{"stop", "stop alarm", "stop the alarm", "be quiet", "shut up"},
		},
		Speech: SpeechConfig{
			Voice: "en-US-AvaNeural",
		},
		Recog: RecogConfig{
			WhisperBin: "whisper-cli",
			SampleRate: 16000,
		},
		Chat: ChatConfig{
			Provider:   "openai",
			MaxHistory: 20,
		},
		News: NewsConfig{
			Feeds: map[string]string{
				"world":      "https://feeds.bbci.co.uk/news/world/rss.xml",
				"technology": "https://feeds.bbci.co.uk/news/technology/rss.xml",
				"science":    "https://feeds.bbci.co.uk/news/science_and_environment/rss.xml",
			},
			PageSize: 5,
		},
		Log: LogConfig{
			File:     ".pibot/pibot.log",
			MaxBytes: 5 << 20,
		},
	}
}

// Load reads the config at path, applying defaults for anything
// missing. A missing file is not an error: the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.normalize()
	return cfg, nil
}

// Save writes the config atomically: temp file in the same directory,
// then rename over the target.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create dir: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("config: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("config: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: rename: %w", err)
	}
	return nil
}

// normalize clamps bad values back to their defaults.
func (c *Config) normalize() {
	def := Default()

	if c.Events.TickSeconds <= 0 {
		c.Events.TickSeconds = def.Events.TickSeconds
	}
	if c.Events.TriggerWindowSeconds <= 0 {
		c.Events.TriggerWindowSeconds = def.Events.TriggerWindowSeconds
	}
	if c.Events.ReminderMinutes <= 0 {
		c.Events.ReminderMinutes = def.Events.ReminderMinutes
	}
	if c.Events.AutoStopMinutes <= 0 {
		c.Events.AutoStopMinutes = def.Events.AutoStopMinutes
	}
	if c.Events.RefreshCron == "" {
		c.Events.RefreshCron = def.Events.RefreshCron
	}
	if c.Session.RequireWakeWord == nil {
		c.Session.RequireWakeWord = def.Session.RequireWakeWord
	}
	if c.Session.TimeoutSeconds <= 0 {
		c.Session.TimeoutSeconds = def.Session.TimeoutSeconds
	}
	if len(c.Session.WakeWords) == 0 {
		c.Session.WakeWords = def.Session.WakeWords
	}
	if len(c.Session.StartPhrases) == 0 {
		c.Session.StartPhrases = def.Session.StartPhrases
	}
	if len(c.Session.StopCommands) == 0 {
		c.Session.StopCommands = def.Session.StopCommands
	}
	if c.Chat.MaxHistory <= 0 {
		c.Chat.MaxHistory = def.Chat.MaxHistory
	}
	if c.News.PageSize <= 0 {
		c.News.PageSize = def.News.PageSize
	}
	if len(c.News.Feeds) == 0 {
		c.News.Feeds = def.News.Feeds
	}
	if c.Recog.SampleRate <= 0 {
		c.Recog.SampleRate = def.Recog.SampleRate
	}
	if c.Log.MaxBytes <= 0 {
		c.Log.MaxBytes = def.Log.MaxBytes
	}
}

// Duration accessors.

func (c *EventsConfig) Tick() time.Duration { return time.Duration(c.TickSeconds) * time.Second }

func (c *EventsConfig) TriggerWindow() time.Duration {
	return time.Duration(c.TriggerWindowSeconds) * time.Second
}

func (c *EventsConfig) ReminderInterval() time.Duration {
	return time.Duration(c.ReminderMinutes) * time.Minute
}

func (c *EventsConfig) AutoStopAfter() time.Duration {
	return time.Duration(c.AutoStopMinutes) * time.Minute
}

func (c *SessionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// WakeWordRequired reports the effective require_wake_word setting.
func (c *SessionConfig) WakeWordRequired() bool {
	return c.RequireWakeWord == nil || *c.RequireWakeWord
}
