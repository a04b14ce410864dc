package tts

import (
	"context"
	"sync"
	"time"

	"golang.org/x/text/language"
)

// Mock implements Provider for testing.
// All methods can be customized via function fields.
type Mock struct {
	// SynthesizeFunc is called when Synthesize is invoked.
	// If nil, the mock returns ErrProviderUnavailable.
	SynthesizeFunc func(ctx context.Context, text string) (*AudioResult, error)

	// LanguageFunc is called when SetLanguage is invoked. If nil, any tag is accepted.
	LanguageFunc func(tag language.Tag) error

	// HealthFunc is called when Health is invoked. If nil, returns nil.
	HealthFunc func(ctx context.Context) error

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation for verification.
type MockCall struct {
	Method string
	Text   string
	Time   time.Time
}

// NewMock creates a mock that returns 20ms of silent 24kHz PCM16 per character.
func NewMock() *Mock {
	return &Mock{
		SynthesizeFunc: func(ctx context.Context, text string) (*AudioResult, error) {
			return Silence(len(text), time.Duration(len(text))*20*time.Millisecond), nil
		},
	}
}

// Silence returns d of silent 24kHz mono PCM16 labelled with chars characters.
func Silence(chars int, d time.Duration) *AudioResult {
	samples := int(d * 24000 / time.Second)
	return &AudioResult{
		Audio: make([]byte, samples*2),
		Format: AudioFormat{
			Encoding:   EncodingPCM24,
			SampleRate: 24000,
			Channels:   1,
			BitDepth:   16,
		},
		CharCount: chars,
		LatencyMs: 1,
		Duration:  d,
	}
}

// Synthesize calls SynthesizeFunc and records the call.
func (m *Mock) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	m.recordCall("Synthesize", text)
	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, text)
	}
	return nil, WrapError("mock", ErrProviderUnavailable)
}

// SetLanguage calls LanguageFunc and records the call.
func (m *Mock) SetLanguage(tag language.Tag) error {
	m.recordCall("SetLanguage", tag.String())
	if m.LanguageFunc != nil {
		return m.LanguageFunc(tag)
	}
	return nil
}

// Health calls HealthFunc and records the call.
func (m *Mock) Health(ctx context.Context) error {
	m.recordCall("Health", "")
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Close records the call.
func (m *Mock) Close() error {
	m.recordCall("Close", "")
	return nil
}

func (m *Mock) recordCall(method, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{
		Method: method,
		Text:   text,
		Time:   time.Now(),
	})
}

// Calls returns all recorded method calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// WithError returns a mock that always returns the given error.
func WithError(err error) *Mock {
	return &Mock{
		SynthesizeFunc: func(ctx context.Context, text string) (*AudioResult, error) {
			return nil, err
		},
		HealthFunc: func(ctx context.Context) error {
			return err
		},
	}
}

// Verify Mock implements Provider at compile time.
var (
	_ Provider       = (*Mock)(nil)
	_ LanguageSetter = (*Mock)(nil)
)
