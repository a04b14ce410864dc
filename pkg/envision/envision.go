// Package envision runs the capture, describe and speak loop.
//
// Every interval the loop grabs a frame, asks a vision model to describe
// it and speaks the answer, pulsing the vibrator when a description
// arrives. At most one cycle runs at a time; ticks that arrive while a
// cycle is in flight are dropped.
//
// Example usage:
//
//	loop, _ := envision.New(source, gemini, speaker, haptics.Nop{},
//	    envision.WithInterval(5*time.Second),
//	)
//	defer loop.Close()
//
//	loop.Run(ctx)
package envision

import (
	"context"
	"errors"
	"time"

	"github.com/teslashibe/go-envision/pkg/vision"
)

// Defaults.
const (
	DefaultInterval = 5000 * time.Millisecond
	DefaultPrompt   = "Describe this image briefly for a person with low vision."

	// PulseDuration is the haptic confirmation after a description is spoken.
	PulseDuration = 100 * time.Millisecond
)

// Spoken texts for outcomes without a description.
const (
	MsgNoDescription = "No description returned."
	msgFailedPrefix  = "Analysis failed: "
	msgHTTPFailure   = "Analysis failed. HTTP %d."
)

// Errors returned by Analyze and New.
var (
	ErrBusy        = errors.New("envision: analysis in progress")
	ErrRateLimited = errors.New("envision: request quota exhausted")
	ErrClosed      = errors.New("envision: loop closed")
)

// Analyzer describes an image.
type Analyzer interface {
	Describe(ctx context.Context, req vision.Request) (*vision.Response, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, req vision.Request) (*vision.Response, error)

// Describe calls f.
func (f AnalyzerFunc) Describe(ctx context.Context, req vision.Request) (*vision.Response, error) {
	return f(ctx, req)
}

// Indicator shows that a cycle is running.
type Indicator interface {
	SetBusy(busy bool)
}

// Observer receives every finished cycle. It is called on the cycle
// goroutine and must not block.
type Observer interface {
	CycleDone(c Cycle)
}

// Outcome classifies how a cycle ended.
type Outcome string

const (
	OutcomeSpoken          Outcome = "spoken"
	OutcomeNoDescription   Outcome = "no_description"
	OutcomeHTTPFailure     Outcome = "http_failure"
	OutcomeCaptureFailure  Outcome = "capture_failure"
	OutcomeEncodeFailure   Outcome = "encode_failure"
	OutcomeNetworkFailure  Outcome = "network_failure"
	OutcomeParseFailure    Outcome = "parse_failure"
	OutcomeInternalFailure Outcome = "internal_failure"
)

// Trigger says what started a cycle.
type Trigger string

const (
	TriggerTick   Trigger = "tick"
	TriggerManual Trigger = "manual"
)

// Cycle is the record of one capture-describe-speak pass.
type Cycle struct {
	ID       string    `json:"id"`
	Trigger  Trigger   `json:"trigger"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Outcome  Outcome   `json:"outcome"`

	// Spoken is the text handed to the speaker, empty for silent failures.
	Spoken     string `json:"spoken,omitempty"`
	Pulsed     bool   `json:"pulsed"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`

	PayloadChars int    `json:"payload_chars,omitempty"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	Stages       Stages `json:"stages"`
}

// Duration is the wall time of the cycle.
func (c Cycle) Duration() time.Duration {
	return c.Finished.Sub(c.Started)
}

// Stages holds per-stage timings in milliseconds.
type Stages struct {
	CaptureMs int64 `json:"capture_ms"`
	EncodeMs  int64 `json:"encode_ms"`
	RequestMs int64 `json:"request_ms"`
	SpeakMs   int64 `json:"speak_ms"`
}

// Stats is a snapshot of loop counters.
type Stats struct {
	InFlight bool          `json:"in_flight"`
	Interval time.Duration `json:"interval_ns"`
	Ticks    uint64        `json:"ticks"`
	Skipped  uint64        `json:"skipped"`
	Cycles   uint64        `json:"cycles"`
	Last     *Cycle        `json:"last,omitempty"`
}
