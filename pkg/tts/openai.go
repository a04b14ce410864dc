package tts

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/teslashibe/go-envision/internal/httpc"
)

const (
	openAIBaseURL  = "https://api.openai.com/v1"
	providerOpenAI = "openai"
)

// OpenAI voice options
const (
	VoiceAlloy   = "alloy"
	VoiceEcho    = "echo"
	VoiceFable   = "fable"
	VoiceOnyx    = "onyx"
	VoiceNova    = "nova"
	VoiceShimmer = "shimmer"
)

// OpenAI model options
const (
	ModelTTS1   = "tts-1"
	ModelTTS1HD = "tts-1-hd"
)

// OpenAI implements Provider for OpenAI TTS.
// The service infers the language from the text, so any tag is accepted.
type OpenAI struct {
	config  *Config
	http    *poster
	baseURL string
}

// NewOpenAI creates a new OpenAI TTS provider.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.ModelID = ModelTTS1
	cfg.VoiceID = VoiceShimmer
	cfg.OutputFormat = EncodingPCM24
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = VoiceShimmer
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = openAIBaseURL
	}

	o := &OpenAI{config: cfg, baseURL: baseURL}
	o.http = &poster{
		provider: providerOpenAI,
		client:   httpc.NewClient(cfg.Timeouts),
		config:   cfg,
		logger:   cfg.Logger.With("component", "tts.openai"),
		header: func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+cfg.APIKey)
		},
	}
	return o, nil
}

// Synthesize converts text to audio, returning the complete audio buffer.
func (o *OpenAI) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	start := time.Now()

	payload := map[string]interface{}{
		"model":           o.config.ModelID,
		"voice":           o.config.VoiceID,
		"input":           text,
		"response_format": o.responseFormat(),
	}

	audio, err := o.http.post(ctx, o.baseURL+"/audio/speech", payload)
	if err != nil {
		return nil, err
	}
	latency := time.Since(start).Milliseconds()

	format := o.outputFormat()
	o.http.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio),
		"latency_ms", latency,
		"voice", o.config.VoiceID,
	)

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

// SetLanguage accepts any tag.
func (o *OpenAI) SetLanguage(tag language.Tag) error {
	return nil
}

// Health checks API connectivity.
func (o *OpenAI) Health(ctx context.Context) error {
	return o.http.get(ctx, o.baseURL+"/models")
}

// Close releases resources.
func (o *OpenAI) Close() error {
	o.http.client.CloseIdleConnections()
	return nil
}

// VoiceID returns the configured voice.
func (o *OpenAI) VoiceID() string {
	return o.config.VoiceID
}

// responseFormat maps the configured encoding onto OpenAI's formats.
// OpenAI only produces PCM at 24kHz.
func (o *OpenAI) responseFormat() string {
	if o.config.OutputFormat == EncodingMP3 {
		return "mp3"
	}
	return "pcm"
}

func (o *OpenAI) outputFormat() AudioFormat {
	if o.responseFormat() == "mp3" {
		return AudioFormat{Encoding: EncodingMP3, SampleRate: 44100, Channels: 1}
	}
	return AudioFormat{Encoding: EncodingPCM24, SampleRate: 24000, Channels: 1, BitDepth: 16}
}

// Verify OpenAI implements Provider at compile time.
var (
	_ Provider       = (*OpenAI)(nil)
	_ LanguageSetter = (*OpenAI)(nil)
)
