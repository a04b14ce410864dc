package speech

import (
	"context"
	"sync"

	"golang.org/x/text/language"
)

// Utterance is one recorded Speak call.
type Utterance struct {
	Text  string
	Flush bool
}

// Mock records Speak calls.
type Mock struct {
	// SpeakFunc, if set, is called after recording.
	SpeakFunc func(ctx context.Context, text string, flush bool) error

	// LanguageFunc, if set, decides SetLanguage.
	LanguageFunc func(tag language.Tag) error

	mu         sync.Mutex
	utterances []Utterance
	language   language.Tag
	closed     bool
	notify     chan Utterance
}

// NewMock creates a mock whose Spoken channel receives every utterance.
func NewMock() *Mock {
	return &Mock{notify: make(chan Utterance, 64)}
}

// Speak records the call.
func (m *Mock) Speak(ctx context.Context, text string, flush bool) error {
	u := Utterance{Text: text, Flush: flush}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.utterances = append(m.utterances, u)
	m.mu.Unlock()

	if m.notify != nil {
		select {
		case m.notify <- u:
		default:
		}
	}
	if m.SpeakFunc != nil {
		return m.SpeakFunc(ctx, text, flush)
	}
	return nil
}

// Spoken receives each utterance as it is spoken. Nil unless built with NewMock.
func (m *Mock) Spoken() <-chan Utterance {
	return m.notify
}

// SetLanguage records tag unless LanguageFunc rejects it.
func (m *Mock) SetLanguage(tag language.Tag) error {
	if m.LanguageFunc != nil {
		if err := m.LanguageFunc(tag); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.language = tag
	m.mu.Unlock()
	return nil
}

// Close marks the mock closed; later Speak calls fail with ErrClosed.
func (m *Mock) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Utterances returns all recorded calls.
func (m *Mock) Utterances() []Utterance {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Utterance, len(m.utterances))
	copy(out, m.utterances)
	return out
}

// Texts returns the recorded texts.
func (m *Mock) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.utterances))
	for i, u := range m.utterances {
		out[i] = u.Text
	}
	return out
}

// Language returns the last accepted language.
func (m *Mock) Language() language.Tag {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.language
}

var _ Speaker = (*Mock)(nil)
