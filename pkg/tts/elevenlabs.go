package tts

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/language"

	"github.com/teslashibe/go-envision/internal/httpc"
)

const (
	elevenLabsBaseURL  = "https://api.elevenlabs.io/v1"
	providerElevenLabs = "elevenlabs"
)

// ElevenLabs model IDs
const (
	// ModelTurboV2_5 is the low latency model with language_code support.
	ModelTurboV2_5 = "eleven_turbo_v2_5"

	// ModelFlashV2_5 is the fastest multilingual model.
	ModelFlashV2_5 = "eleven_flash_v2_5"

	// ModelMultilingualV2 is the highest quality multilingual model.
	// It detects the language itself and ignores language_code.
	ModelMultilingualV2 = "eleven_multilingual_v2"
)

// elevenLabsLanguages are the languages the v2.5 models accept as language_code.
var elevenLabsLanguages = []language.Tag{
	language.English, language.Japanese, language.Chinese, language.German,
	language.Hindi, language.French, language.Korean, language.Portuguese,
	language.Italian, language.Spanish, language.Indonesian, language.Dutch,
	language.Turkish, language.Filipino, language.Polish, language.Swedish,
	language.Bulgarian, language.Romanian, language.Arabic, language.Czech,
	language.Greek, language.Finnish, language.Croatian, language.Malay,
	language.Slovak, language.Danish, language.Tamil, language.Ukrainian,
	language.Russian, language.Hungarian, language.Norwegian, language.Vietnamese,
}

var elevenLabsMatcher = language.NewMatcher(elevenLabsLanguages)

// ElevenLabs implements Provider for ElevenLabs TTS.
type ElevenLabs struct {
	config  *Config
	http    *poster
	baseURL string

	mu       sync.RWMutex
	langCode string
}

// NewElevenLabs creates a new ElevenLabs TTS provider.
func NewElevenLabs(opts ...Option) (*ElevenLabs, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.ValidateWithVoice(); err != nil {
		return nil, err
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = elevenLabsBaseURL
	}

	e := &ElevenLabs{config: cfg, baseURL: baseURL}
	e.http = &poster{
		provider: providerElevenLabs,
		client:   httpc.NewClient(cfg.Timeouts),
		config:   cfg,
		logger:   cfg.Logger.With("component", "tts.elevenlabs"),
		header: func(r *http.Request) {
			r.Header.Set("xi-api-key", cfg.APIKey)
		},
	}

	if cfg.Language != language.Und {
		if err := e.SetLanguage(cfg.Language); err != nil {
			e.http.logger.Warn("TTS language not supported", "language", cfg.Language.String())
		}
	}
	return e, nil
}

// Synthesize converts text to audio, returning the complete audio buffer.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	start := time.Now()

	url := fmt.Sprintf("%s/text-to-speech/%s?output_format=%s", e.baseURL, e.config.VoiceID, e.config.OutputFormat)
	audio, err := e.http.post(ctx, url, e.buildPayload(text))
	if err != nil {
		return nil, err
	}
	latency := time.Since(start).Milliseconds()

	e.http.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio),
		"latency_ms", latency,
		"model", e.config.ModelID,
	)

	format := e.outputFormat()
	result := &AudioResult{
		Audio:     audio,
		Format:    format,
		CharCount: len(text),
		LatencyMs: latency,
	}
	if format.IsPCM() {
		result.Duration = PCMDuration(len(audio), format.SampleRate)
	}
	return result, nil
}

// SetLanguage selects the language_code sent with each request.
func (e *ElevenLabs) SetLanguage(tag language.Tag) error {
	_, idx, conf := elevenLabsMatcher.Match(tag)
	if conf == language.No {
		return fmt.Errorf("%w: %s", ErrUnsupportedLanguage, tag)
	}
	base, _ := elevenLabsLanguages[idx].Base()

	e.mu.Lock()
	e.langCode = base.String()
	e.mu.Unlock()
	return nil
}

// LanguageCode returns the ISO 639-1 code sent with requests, or "".
func (e *ElevenLabs) LanguageCode() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.langCode
}

// Health checks API connectivity and API key validity.
func (e *ElevenLabs) Health(ctx context.Context) error {
	return e.http.get(ctx, e.baseURL+"/user")
}

// Close releases resources held by the provider.
func (e *ElevenLabs) Close() error {
	e.http.client.CloseIdleConnections()
	return nil
}

// VoiceID returns the configured voice ID.
func (e *ElevenLabs) VoiceID() string {
	return e.config.VoiceID
}

func (e *ElevenLabs) buildPayload(text string) map[string]interface{} {
	payload := map[string]interface{}{
		"text":     text,
		"model_id": e.config.ModelID,
		"voice_settings": map[string]interface{}{
			"stability":         e.config.VoiceSettings.Stability,
			"similarity_boost":  e.config.VoiceSettings.SimilarityBoost,
			"style":             e.config.VoiceSettings.Style,
			"use_speaker_boost": e.config.VoiceSettings.SpeakerBoost,
		},
	}
	if code := e.LanguageCode(); code != "" && e.config.ModelID != ModelMultilingualV2 {
		payload["language_code"] = code
	}
	return payload
}

func (e *ElevenLabs) outputFormat() AudioFormat {
	enc := e.config.OutputFormat
	format := AudioFormat{
		Encoding:   enc,
		SampleRate: SampleRateFromEncoding(enc),
		Channels:   1,
	}
	if format.IsPCM() {
		format.BitDepth = 16
	}
	return format
}

// Verify ElevenLabs implements Provider at compile time.
var (
	_ Provider       = (*ElevenLabs)(nil)
	_ LanguageSetter = (*ElevenLabs)(nil)
)
