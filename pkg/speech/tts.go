package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/text/language"

	"github.com/teslashibe/go-envision/pkg/audio"
	"github.com/teslashibe/go-envision/pkg/tts"
)

// Option configures a speaker.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	language language.Tag
}

func defaultOptions() options {
	return options{
		logger:   slog.Default(),
		language: language.AmericanEnglish,
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLanguage sets the language applied at construction.
func WithLanguage(tag language.Tag) Option {
	return func(o *options) { o.language = tag }
}

// TTS speaks through a tts.Provider and plays the result on an audio.Sink.
type TTS struct {
	provider tts.Provider
	sink     audio.Sink
	logger   *slog.Logger
	q        *queue
}

// NewTTS creates a speaker and applies the initial language. An unsupported
// language is logged and the provider keeps its default.
func NewTTS(provider tts.Provider, sink audio.Sink, opts ...Option) (*TTS, error) {
	if provider == nil || sink == nil {
		return nil, errors.New("speech: provider and sink required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	s := &TTS{
		provider: provider,
		sink:     sink,
		logger:   o.logger.With("component", "speech.tts"),
	}
	s.q = newQueue(s.utter, s.logger)

	if err := s.SetLanguage(o.language); err != nil {
		s.logger.Warn("TTS language not supported", "language", o.language.String())
	}
	return s, nil
}

// Speak queues text. flush interrupts the current utterance first.
func (s *TTS) Speak(ctx context.Context, text string, flush bool) error {
	return s.q.enqueue(text, flush)
}

// SetLanguage forwards tag to the provider when it takes a language.
func (s *TTS) SetLanguage(tag language.Tag) error {
	ls, ok := s.provider.(tts.LanguageSetter)
	if !ok {
		return nil
	}
	if err := ls.SetLanguage(tag); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrLanguageNotFound, tag, err)
	}
	return nil
}

// Idle reports whether nothing is playing or queued.
func (s *TTS) Idle() bool {
	return s.q.idle()
}

// Stats returns finished and interrupted-or-dropped utterance counts.
func (s *TTS) Stats() (spoken, flushed uint64) {
	return s.q.stats()
}

// Close stops speech. The provider and sink are not closed.
func (s *TTS) Close() error {
	s.q.close()
	return nil
}

func (s *TTS) utter(ctx context.Context, text string) error {
	result, err := s.provider.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	if err := s.sink.Play(ctx, result); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	return nil
}

var _ Speaker = (*TTS)(nil)
