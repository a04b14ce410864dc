package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2/google"
	"golang.org/x/text/language"

	"github.com/teslashibe/go-envision/internal/config"
	"github.com/teslashibe/go-envision/internal/httpc"
	"github.com/teslashibe/go-envision/pkg/audio"
	"github.com/teslashibe/go-envision/pkg/camera"
	"github.com/teslashibe/go-envision/pkg/camera/webcam"
	"github.com/teslashibe/go-envision/pkg/envision"
	"github.com/teslashibe/go-envision/pkg/haptics"
	"github.com/teslashibe/go-envision/pkg/metrics"
	"github.com/teslashibe/go-envision/pkg/speech"
	"github.com/teslashibe/go-envision/pkg/tts"
	"github.com/teslashibe/go-envision/pkg/video"
	"github.com/teslashibe/go-envision/pkg/vision"
	"github.com/teslashibe/go-envision/pkg/web"
)

// app owns every component and closes them in reverse order of use.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	source  camera.FrameSource
	gemini  *vision.Gemini
	speaker speech.Speaker
	haptic  haptics.Haptics
	metrics *metrics.Collector
	web     *web.Server
	loop    *envision.Loop

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger.With("component", "envision.app"),
		metrics: metrics.NewCollector(),
	}

	if err := a.init(ctx); err != nil {
		a.shutdown()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg := a.cfg

	source, err := a.openSource(ctx)
	if err != nil {
		return fmt.Errorf("camera: %w", err)
	}
	a.source = source
	a.closers = append(a.closers, source.Close)

	gemini, err := a.newGemini(ctx)
	if err != nil {
		return fmt.Errorf("gemini: %w", err)
	}
	a.gemini = gemini
	a.closers = append(a.closers, gemini.Close)

	speaker, err := a.newSpeaker(ctx)
	if err != nil {
		return fmt.Errorf("speech: %w", err)
	}
	a.speaker = speaker
	a.closers = append(a.closers, speaker.Close)

	if cfg.Haptics.Driver == "sysfs" {
		a.haptic = haptics.NewSysfs(cfg.Haptics.Path, a.logger)
	} else {
		a.haptic = haptics.Nop{}
	}
	a.closers = append(a.closers, a.haptic.Close)

	manager := camera.NewManager(camera.Config{
		Width:  cfg.Camera.Width,
		Height: cfg.Camera.Height,
	})

	opts := []envision.Option{
		envision.WithInterval(cfg.Interval),
		envision.WithPrompt(cfg.Prompt),
		envision.WithEncoder(manager.Encoder()),
		envision.WithMetrics(a.metrics),
		envision.WithRequestLimit(cfg.RequestsPerMinute),
		envision.WithLogger(a.logger),
	}
	if cfg.Web.Addr != "" {
		a.web = web.NewServer(cfg.Web.Addr,
			web.WithCamera(manager),
			web.WithMetrics(a.metrics),
			web.WithLogger(a.logger),
		)
		opts = append(opts, envision.WithIndicator(a.web), envision.WithObserver(a.web))
	}

	loop, err := envision.New(a.source, a.gemini, a.speaker, a.haptic, opts...)
	if err != nil {
		return err
	}
	a.loop = loop
	if a.web != nil {
		a.web.SetController(loop)
	}
	return nil
}

func (a *app) openSource(ctx context.Context) (camera.FrameSource, error) {
	c := a.cfg.Camera
	switch c.Source {
	case "file":
		return camera.NewFileSource(c.Path)
	case "http":
		return camera.NewHTTPSource(c.URL, nil), nil
	case "webrtc":
		vc := video.DefaultConfig(c.RobotIP)
		vc.Logger = a.logger
		return video.Connect(ctx, vc)
	default:
		return webcam.Open(c.Device, c.Width, c.Height, a.logger)
	}
}

func (a *app) newGemini(ctx context.Context) (*vision.Gemini, error) {
	g := a.cfg.Gemini
	opts := []vision.Option{
		vision.WithBaseURL(g.BaseURL),
		vision.WithModel(g.Model),
		vision.WithTimeouts(httpc.Timeouts{
			Connect: g.ConnectTimeout,
			Read:    g.ReadTimeout,
			Write:   g.WriteTimeout,
		}),
		vision.WithLogger(a.logger),
	}
	if g.Auth == "adc" {
		ts, err := google.DefaultTokenSource(ctx, vision.ScopeGenerativeLanguage)
		if err != nil {
			return nil, fmt.Errorf("application default credentials: %w", err)
		}
		opts = append(opts, vision.WithTokenSource(ts))
	} else {
		opts = append(opts, vision.WithAPIKey(g.APIKey))
	}
	return vision.NewGemini(opts...)
}

func (a *app) newSpeaker(ctx context.Context) (speech.Speaker, error) {
	s := a.cfg.Speech

	tag, err := language.Parse(s.Language)
	if err != nil {
		a.logger.Warn("TTS language not supported", "language", s.Language)
		tag = language.AmericanEnglish
	}
	opts := []speech.Option{speech.WithLanguage(tag), speech.WithLogger(a.logger)}

	if s.Engine == "espeak" && s.Sink != "rtp" {
		return speech.NewESpeak(ctx, "", 0, opts...)
	}

	provider, err := a.newProvider(ctx, tag)
	if err != nil {
		return nil, err
	}

	var sink audio.Sink
	if s.Sink == "rtp" {
		rtpSink, err := audio.NewRTPSink(s.RTPAddr, a.logger)
		if err != nil {
			provider.Close()
			return nil, err
		}
		a.closers = append(a.closers, rtpSink.Close)
		sink = rtpSink
	} else {
		cmdSink, err := audio.NewCommandSink(s.Player, a.logger)
		if err != nil {
			provider.Close()
			return nil, err
		}
		sink = cmdSink
	}

	speaker, err := speech.NewTTS(provider, sink, opts...)
	if err != nil {
		provider.Close()
		return nil, err
	}
	return speaker, nil
}

// newProvider builds the configured cloud engine with local espeak-ng as
// fallback when it is installed.
func (a *app) newProvider(ctx context.Context, tag language.Tag) (tts.Provider, error) {
	s := a.cfg.Speech
	common := []tts.Option{tts.WithLanguage(tag), tts.WithLogger(a.logger)}

	var primary tts.Provider
	var err error
	switch s.Engine {
	case "openai":
		opts := append(common, tts.WithAPIKey(s.OpenAIKey))
		if s.Voice != "" {
			opts = append(opts, tts.WithVoice(s.Voice))
		}
		primary, err = tts.NewOpenAI(opts...)
	case "elevenlabs":
		primary, err = tts.NewElevenLabs(append(common, tts.WithAPIKey(s.ElevenLabsKey), tts.WithVoice(s.Voice))...)
	default:
		return tts.NewESpeak(ctx, "", 0)
	}
	if err != nil {
		return nil, err
	}

	fallback, ferr := tts.NewESpeak(ctx, "", 0)
	if ferr != nil {
		a.logger.Info("no local speech fallback", "error", ferr)
		return primary, nil
	}
	return tts.NewChain(a.logger, primary, fallback)
}

func (a *app) run(ctx context.Context) error {
	if a.web != nil {
		a.web.StartAsync(ctx)
	}
	a.logger.Info("envision started",
		"interval", a.cfg.Interval,
		"model", a.gemini.Model(),
		"source", a.cfg.Camera.Source,
		"speech", a.cfg.Speech.Engine,
		"vibrator", a.haptic.HasVibrator(),
	)

	err := a.loop.Run(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, envision.ErrClosed) {
		return nil
	}
	return err
}

// shutdown stops the loop, lets a running cycle finish, then closes the
// remaining components.
func (a *app) shutdown() {
	if a.loop != nil {
		a.loop.Close()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.loop.Wait(ctx); err != nil {
			a.logger.Warn("cycle still running at shutdown", "error", err)
		}
		cancel()
	}
	if a.web != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.web.Shutdown(ctx); err != nil {
			a.logger.Warn("web shutdown", "error", err)
		}
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
