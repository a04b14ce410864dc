package speech

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/teslashibe/go-envision/pkg/tts"
)

// waitDelay bounds how long a killed process may hold its pipes open.
const waitDelay = time.Second

// ESpeak speaks through a local espeak-ng process. Flushing kills the
// running process.
type ESpeak struct {
	engine *tts.ESpeak
	logger *slog.Logger
	q      *queue
}

// NewESpeak finds espeak-ng (path "" searches PATH) and applies the initial language.
func NewESpeak(ctx context.Context, path string, wpm int, opts ...Option) (*ESpeak, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	engine, err := tts.NewESpeak(ctx, path, wpm)
	if err != nil {
		return nil, fmt.Errorf("speech: espeak init: %w", err)
	}

	s := &ESpeak{
		engine: engine,
		logger: o.logger.With("component", "speech.espeak"),
	}
	s.q = newQueue(s.utter, s.logger)

	if err := s.SetLanguage(o.language); err != nil {
		s.logger.Warn("TTS language not supported", "language", o.language.String())
	}
	return s, nil
}

// Speak queues text. flush interrupts the current utterance first.
func (s *ESpeak) Speak(ctx context.Context, text string, flush bool) error {
	return s.q.enqueue(text, flush)
}

// SetLanguage selects the closest installed voice.
func (s *ESpeak) SetLanguage(tag language.Tag) error {
	if err := s.engine.SetLanguage(tag); err != nil {
		return fmt.Errorf("%w: %s", ErrLanguageNotFound, tag)
	}
	return nil
}

// Idle reports whether nothing is playing or queued.
func (s *ESpeak) Idle() bool {
	return s.q.idle()
}

// Close kills any running espeak-ng and stops the worker.
func (s *ESpeak) Close() error {
	s.q.close()
	return nil
}

func (s *ESpeak) utter(ctx context.Context, text string) error {
	cmd := exec.CommandContext(ctx, s.engine.Path(), s.engine.Args()...)
	cmd.Stdin = strings.NewReader(text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("espeak-ng: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}

var _ Speaker = (*ESpeak)(nil)
