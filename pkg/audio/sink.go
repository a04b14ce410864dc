// Package audio plays synthesized speech.
//
// A Sink blocks until the utterance has finished or ctx is cancelled, so
// cancelling the context is how an utterance is cut short.
package audio

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/teslashibe/go-envision/pkg/tts"
)

// ErrUnsupportedEncoding is returned when a sink cannot play the audio format.
var ErrUnsupportedEncoding = errors.New("audio: unsupported encoding")

// Sink plays one utterance.
type Sink interface {
	Play(ctx context.Context, audio *tts.AudioResult) error
}

// Mock records played audio. Play blocks for the audio's Duration unless
// ctx is cancelled first.
type Mock struct {
	// PlayFunc, if set, replaces the default behaviour.
	PlayFunc func(ctx context.Context, audio *tts.AudioResult) error

	mu          sync.Mutex
	played      []*tts.AudioResult
	interrupted int
}

// Play records audio and waits for its duration.
func (m *Mock) Play(ctx context.Context, audio *tts.AudioResult) error {
	if m.PlayFunc != nil {
		return m.PlayFunc(ctx, audio)
	}

	t := time.NewTimer(audio.Duration)
	defer t.Stop()

	select {
	case <-t.C:
		m.mu.Lock()
		m.played = append(m.played, audio)
		m.mu.Unlock()
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		m.interrupted++
		m.mu.Unlock()
		return ctx.Err()
	}
}

// Played returns the utterances that finished.
func (m *Mock) Played() []*tts.AudioResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*tts.AudioResult, len(m.played))
	copy(out, m.played)
	return out
}

// Interrupted returns how many utterances were cut short.
func (m *Mock) Interrupted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interrupted
}

var _ Sink = (*Mock)(nil)
