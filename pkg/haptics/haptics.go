// Package haptics drives a vibration motor.
package haptics

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultAmplitude asks the driver for its default strength.
const DefaultAmplitude = -1

// ErrNoVibrator is returned by Vibrate when no motor is present.
var ErrNoVibrator = errors.New("haptics: no vibrator")

// Haptics is a vibration motor.
type Haptics interface {
	// Vibrate starts a pulse of d and returns without waiting for it to end.
	// amplitude is 1-255, or DefaultAmplitude.
	Vibrate(ctx context.Context, d time.Duration, amplitude int) error
	HasVibrator() bool
	// Close stops any running pulse.
	Close() error
}

// Nop is a device without a vibrator.
type Nop struct{}

// Vibrate returns ErrNoVibrator.
func (Nop) Vibrate(context.Context, time.Duration, int) error { return ErrNoVibrator }

// HasVibrator returns false.
func (Nop) HasVibrator() bool { return false }

// Close does nothing.
func (Nop) Close() error { return nil }

// Pulse is one recorded Vibrate call.
type Pulse struct {
	Duration  time.Duration
	Amplitude int
}

// Mock records pulses. Present controls HasVibrator.
type Mock struct {
	Present bool

	// Err, if set, is returned from Vibrate after recording.
	Err error

	mu     sync.Mutex
	pulses []Pulse
	closed bool
}

// NewMock returns a mock with a vibrator.
func NewMock() *Mock {
	return &Mock{Present: true}
}

// Vibrate records the pulse.
func (m *Mock) Vibrate(_ context.Context, d time.Duration, amplitude int) error {
	if !m.Present {
		return ErrNoVibrator
	}
	m.mu.Lock()
	m.pulses = append(m.pulses, Pulse{Duration: d, Amplitude: amplitude})
	m.mu.Unlock()
	return m.Err
}

// HasVibrator returns Present.
func (m *Mock) HasVibrator() bool { return m.Present }

// Close records the call.
func (m *Mock) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Pulses returns recorded pulses.
func (m *Mock) Pulses() []Pulse {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Pulse, len(m.pulses))
	copy(out, m.pulses)
	return out
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var (
	_ Haptics = Nop{}
	_ Haptics = (*Mock)(nil)
)
