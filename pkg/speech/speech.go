// Package speech speaks short texts one after another.
//
// Speak never blocks on playback: it queues the text and returns. With
// flush set, the utterance currently playing is cut short and anything
// still queued is dropped before the new text is queued.
package speech

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/text/language"
)

// Errors returned by speakers.
var (
	ErrClosed           = errors.New("speech: speaker closed")
	ErrEmptyText        = errors.New("speech: empty text")
	ErrLanguageNotFound = errors.New("speech: language not supported")
)

// Speaker is the interface the capture loop speaks through.
type Speaker interface {
	Speak(ctx context.Context, text string, flush bool) error
	SetLanguage(tag language.Tag) error
	Close() error
}

// utterFunc plays one utterance and blocks until it ends or ctx is cancelled.
type utterFunc func(ctx context.Context, text string) error

// queue serializes utterances on one goroutine.
type queue struct {
	utter  utterFunc
	logger *slog.Logger

	base context.Context
	stop context.CancelFunc
	wake chan struct{}
	done chan struct{}

	mu      sync.Mutex
	pending []string
	cancel  context.CancelFunc
	closed  bool
	spoken  uint64
	flushed uint64
}

func newQueue(utter utterFunc, logger *slog.Logger) *queue {
	base, stop := context.WithCancel(context.Background())
	q := &queue{
		utter:  utter,
		logger: logger,
		base:   base,
		stop:   stop,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *queue) enqueue(text string, flush bool) error {
	if text == "" {
		return ErrEmptyText
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if flush {
		q.flushed += uint64(len(q.pending))
		q.pending = q.pending[:0]
		if q.cancel != nil {
			q.cancel()
			q.flushed++
		}
	}
	q.pending = append(q.pending, text)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *queue) run() {
	defer close(q.done)
	for {
		select {
		case <-q.base.Done():
			return
		case <-q.wake:
		}

		for {
			q.mu.Lock()
			if len(q.pending) == 0 || q.closed {
				q.mu.Unlock()
				break
			}
			text := q.pending[0]
			q.pending = q.pending[1:]
			ctx, cancel := context.WithCancel(q.base)
			q.cancel = cancel
			q.mu.Unlock()

			err := q.utter(ctx, text)
			cancelled := ctx.Err() != nil
			cancel()

			q.mu.Lock()
			q.cancel = nil
			if err == nil {
				q.spoken++
			}
			q.mu.Unlock()

			switch {
			case err == nil:
				q.logger.Debug("utterance done", "chars", len(text))
			case cancelled:
				q.logger.Debug("utterance interrupted", "chars", len(text))
			default:
				q.logger.Warn("utterance failed", "chars", len(text), "error", err)
			}
		}
	}
}

// idle reports whether nothing is playing or queued.
func (q *queue) idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancel == nil && len(q.pending) == 0
}

// stats returns finished and interrupted-or-dropped utterance counts.
func (q *queue) stats() (spoken, flushed uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.spoken, q.flushed
}

// close stops the current utterance, drops the queue and waits for the worker.
func (q *queue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.pending = nil
	q.mu.Unlock()

	q.stop()
	<-q.done
}
