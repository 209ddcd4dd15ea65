// pibot is a voice reminder appliance for the home.
//
// Usage:
//
//	pibot [-config pibot.yaml] [-verbose] [-quiet] [-headless]
package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pibot/internal/alarm"
	"pibot/internal/chat"
	"pibot/internal/config"
	"pibot/internal/control"
	"pibot/internal/display"
	"pibot/internal/domain"
	"pibot/internal/logger"
	"pibot/internal/news"
	"pibot/internal/playback"
	"pibot/internal/recog"
	"pibot/internal/source"
	"pibot/internal/speech"
	"pibot/internal/wakeword"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "pibot.yaml", "path to the YAML config file")
	verbose := flag.Bool("verbose", false, "enable verbose/debug logging")
	quiet := flag.Bool("quiet", false, "disable all logging")
	logFile := flag.String("log-file", "", "log file path (overrides config; \"stderr\" logs to console)")
	noSpeech := flag.Bool("no-speech", false, "disable text-to-speech even if Azure keys are set")
	headless := flag.Bool("headless", false, "plain stdin/stdout instead of the terminal UI")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	log := buildLogger(cfg, *verbose, *quiet, *logFile)
	defer log.Close()

	// Third-party libs that use the stdlib logger write to the same
	// place so they don't spam the terminal.
	stdlog.SetOutput(log.Writer())
	stdlog.SetFlags(stdlog.Ltime)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	// ── Event source ────────────────────────────────────────────
	eventSource := buildEventSource(cfg, log)
	list := alarm.NewEventList()

	// ── Surface ─────────────────────────────────────────────────
	var surface display.Surface
	var ui *display.UI

	// ── Speech output ───────────────────────────────────────────
	var speaker domain.Speaker
	azureKey := os.Getenv(speech.EnvSpeechKey)
	azureRegion := os.Getenv(speech.EnvSpeechRegion)

	ttsEnabled := azureKey != "" && azureRegion != "" && !*noSpeech && !cfg.Speech.Disable
	if ttsEnabled {
		player, perr := speech.NewPlayer(log)
		if perr != nil {
			log.Error("audio player init failed, speech disabled: %v", perr)
			ttsEnabled = false
		} else {
			synth := speech.NewAzureClient(azureKey, azureRegion, log,
				speech.WithVoice(cfg.Speech.Voice),
			)
			speaker = speech.NewChannel(synth, player, log,
				speech.WithNotifiers(&surfaceNotifier{surface: &surface}),
			)
			log.Info("TTS enabled (voice=%s, region=%s)", cfg.Speech.Voice, azureRegion)
		}
	}
	if !ttsEnabled {
		if !*noSpeech && !cfg.Speech.Disable {
			log.Info("TTS disabled: set %s and %s env vars to enable", speech.EnvSpeechKey, speech.EnvSpeechRegion)
		}
		speaker = &textSpeaker{surface: &surface, log: log}
	}

	// ── Playback and alarm engine ───────────────────────────────
	queue := playback.New(speaker, log)
	defer queue.Close()

	cycle := alarm.NewCycle(speaker, queue, log,
		alarm.WithReminderInterval(cfg.Events.ReminderInterval()),
		alarm.WithAutoStopAfter(cfg.Events.AutoStopAfter()),
	)

	sched := alarm.NewScheduler(list, cycle, eventSource, log,
		alarm.WithTickInterval(cfg.Events.Tick()),
		alarm.WithTriggerWindow(cfg.Events.TriggerWindow()),
		alarm.WithRetriggerWindow(cfg.Events.AutoStopAfter()),
	)

	// ── Voice session ───────────────────────────────────────────
	session := control.NewSession(log,
		control.WithWakeWords(cfg.Session.WakeWords...),
		control.WithStartPhrases(cfg.Session.StartPhrases...),
		control.WithStopCommands(cfg.Session.StopCommands...),
		control.WithTimeout(cfg.Session.Timeout()),
		control.WithRequireWakeWord(cfg.Session.WakeWordRequired()),
	)

	// ── Controller options ──────────────────────────────────────
	opts := []control.ControllerOption{
		control.WithScheduler(sched),
		control.WithEventSource(eventSource, cfg.Events.RefreshCron),
		control.WithNews(news.NewFetcher(cfg.News.Feeds, log), cfg.News.PageSize),
		control.WithVoiceEcho(func(text string) {
			if surface != nil {
				surface.PrintVoice(text)
			}
		}),
	}

	if provider, history := buildChat(ctx, cfg, log); provider != nil {
		opts = append(opts, control.WithChat(provider, history))
	}

	recognizer := buildRecognizer(cfg, log)
	if recognizer != nil {
		defer recognizer.Close()
		opts = append(opts, control.WithRecognizer(recognizer))
	}

	controller := control.NewController(session, queue, cycle, list, log, opts...)

	// Optional always-on wake-word detector. A detection is fed into
	// the session as if the wake word had been recognized as text.
	if cfg.Wake.Enabled() {
		detector := wakeword.New(wakeword.Config{
			WakewordModel:  cfg.Wake.Model,
			MelspecModel:   cfg.Wake.MelspecModel,
			EmbeddingModel: cfg.Wake.EmbeddingModel,
			OnnxLib:        cfg.Wake.OnnxLib,
			Threshold:      cfg.Wake.Threshold,
			Cooldown:       cfg.Wake.Cooldown(),
		}, log)
		// An acoustic detection opens a session directly: the user
		// addressed the device out loud, so the next utterances are
		// meant for it.
		detector.OnDetected = func() {
			controller.Submit(firstWakeWord(cfg) + " " + firstStartPhrase(cfg))
		}
		go func() {
			if err := detector.Start(ctx); err != nil && ctx.Err() == nil {
				log.Error("wakeword: %v", err)
			}
		}()
	}

	// ── Surface construction ────────────────────────────────────
	if *headless {
		surface = display.NewConsole(os.Stdin, os.Stdout)
	} else {
		ui = display.NewUI(func() display.Status {
			return buildStatus(session, cycle, list)
		})
		surface = ui
	}

	fmt.Println(display.RenderBanner())
	if recognizer != nil {
		fmt.Println(display.BannerStyle.Render(
			fmt.Sprintf("  Voice mode ON — say %q for a command, %q to start a session.",
				firstWakeWord(cfg), firstWakeWord(cfg)+" "+firstStartPhrase(cfg))))
	} else {
		fmt.Println(display.BannerStyle.Render("  Type commands; \"stop\" silences a ringing reminder."))
	}
	fmt.Println()

	// Controller and input pump run in the background; the surface owns
	// the foreground.
	go func() {
		if ui != nil {
			ui.WaitReady()
		}
		if err := controller.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("controller: %v", err)
		}
		if ui != nil {
			ui.Quit()
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case line, ok := <-surface.InputChan():
				if !ok {
					cancel()
					return
				}
				if strings.EqualFold(strings.TrimSpace(line), "quit") {
					cancel()
					if ui != nil {
						ui.Quit()
					}
					return
				}
				controller.Submit(line)
			}
		}
	}()

	if ui != nil {
		if err := ui.Run(); err != nil {
			log.Error("display: %v", err)
		}
	} else {
		select {
		case <-ctx.Done():
		case <-surface.QuitChan():
		}
	}
	cancel()
}

// buildLogger sets up the rotating file logger, honoring flag overrides.
func buildLogger(cfg *config.Config, verbose, quiet bool, logFile string) *logger.Logger {
	level := logger.LevelNormal
	if verbose {
		level = logger.LevelVerbose
	}
	if quiet {
		level = logger.LevelOff
	}

	path := cfg.Log.File
	if logFile != "" {
		path = logFile
	}
	if path == "" || path == "stderr" {
		return logger.New(level, os.Stderr)
	}

	log, err := logger.NewFile(level, path, cfg.Log.MaxBytes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not open log file %s: %v (falling back to stderr)\n", path, err)
		return logger.New(level, os.Stderr)
	}
	return log
}

// buildEventSource picks the event backend from config.
func buildEventSource(cfg *config.Config, log *logger.Logger) domain.EventSource {
	switch cfg.Events.Source {
	case "http":
		if cfg.Events.URL == "" {
			log.Error("events: source \"http\" needs a URL, falling back to demo events")
			return demoSource()
		}
		return source.NewHTTPSource(cfg.Events.URL, log)
	case "ics":
		if cfg.Events.URL == "" {
			log.Error("events: source \"ics\" needs a URL, falling back to demo events")
			return demoSource()
		}
		return source.NewICSSource(cfg.Events.URL, log)
	default:
		log.Info("events: using built-in demo events")
		return demoSource()
	}
}

// demoSource returns a couple of near-future events so a fresh install
// rings something without any setup.
func demoSource() *source.StaticSource {
	now := time.Now()
	return source.NewStaticSource(
		domain.NewEvent("Welcome to pibot", "This is a demo reminder. Say stop to silence it.", now.Add(time.Minute)),
		domain.NewEvent("Stretch break", "Stand up and stretch for a minute.", now.Add(30*time.Minute)),
	)
}

// buildChat constructs the configured chat provider, or nil when keys
// are missing.
func buildChat(ctx context.Context, cfg *config.Config, log *logger.Logger) (domain.ChatProvider, *chat.History) {
	history := chat.NewHistory(cfg.Chat.MaxHistory)

	switch cfg.Chat.Provider {
	case "openai":
		key := os.Getenv("GPT_CHAT_KEY")
		endpoint := os.Getenv("GPT_CHAT_ENDPOINT")
		if key == "" || endpoint == "" {
			log.Info("chat disabled: set GPT_CHAT_KEY and GPT_CHAT_ENDPOINT env vars to enable")
			return nil, nil
		}
		var opts []chat.OpenAIOption
		if cfg.Chat.Model != "" {
			opts = append(opts, chat.WithModel(cfg.Chat.Model))
		}
		log.Info("chat enabled (openai)")
		return chat.NewOpenAIClient(endpoint, key, log, opts...), history
	case "gemini":
		key := os.Getenv("GEMINI_API_KEY")
		if key == "" {
			log.Info("chat disabled: set GEMINI_API_KEY env var to enable")
			return nil, nil
		}
		client, err := chat.NewGeminiClient(ctx, key, cfg.Chat.Model, log)
		if err != nil {
			log.Error("chat: gemini init failed: %v", err)
			return nil, nil
		}
		log.Info("chat enabled (gemini)")
		return client, history
	default:
		return nil, nil
	}
}

// buildRecognizer constructs the configured speech-to-text backend, or
// nil for typed input only.
func buildRecognizer(cfg *config.Config, log *logger.Logger) domain.Recognizer {
	switch cfg.Recog.Backend {
	case "vosk":
		r, err := recog.NewVosk(cfg.Recog.ModelPath, cfg.Recog.SampleRate, log)
		if err != nil {
			log.Error("recognizer init failed, voice input disabled: %v", err)
			return nil
		}
		return r
	case "whisper":
		if _, err := os.Stat(cfg.Recog.ModelPath); err != nil {
			log.Error("recognizer: whisper model not found at %s, voice input disabled", cfg.Recog.ModelPath)
			return nil
		}
		return recog.NewWhisper(cfg.Recog.WhisperBin, cfg.Recog.ModelPath, log)
	default:
		return nil
	}
}

func buildStatus(session *control.Session, cycle *alarm.Cycle, list *alarm.EventList) display.Status {
	st := display.Status{
		SessionActive: session.State() == domain.SessionActive,
		AlarmRinging:  cycle.Playing(),
		AlarmTitle:    cycle.Current(),
	}

	now := time.Now()
	for _, ev := range list.Snapshot() {
		if ev.Triggered || ev.Start.Before(now) {
			continue
		}
		if st.NextTitle == "" || ev.Start.Before(now.Add(st.NextIn)) {
			st.NextTitle = ev.Title
			st.NextIn = ev.Start.Sub(now)
		}
	}
	return st
}

func firstWakeWord(cfg *config.Config) string {
	if len(cfg.Session.WakeWords) > 0 {
		return cfg.Session.WakeWords[0]
	}
	return "assistant"
}

func firstStartPhrase(cfg *config.Config) string {
	if len(cfg.Session.StartPhrases) > 0 {
		return cfg.Session.StartPhrases[0]
	}
	return "let's chat"
}

// surfaceNotifier echoes every spoken line to the surface. The surface
// pointer is resolved at call time because construction order puts the
// speaker before the UI.
type surfaceNotifier struct {
	surface *display.Surface
}

func (n *surfaceNotifier) Notify(message string) {
	if s := *n.surface; s != nil {
		s.PrintSpeech(message)
	}
}

// textSpeaker stands in for TTS when no synthesizer is available: lines
// are printed instead of spoken.
type textSpeaker struct {
	surface *display.Surface
	log     *logger.Logger
}

func (t *textSpeaker) Speak(ctx context.Context, text string) error {
	if s := *t.surface; s != nil {
		s.PrintSpeech(text)
	} else {
		fmt.Println("  " + text)
	}
	t.log.Debug("say: %s", text)
	return nil
}

func (t *textSpeaker) Interrupt() {}
