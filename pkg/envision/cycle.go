package envision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-envision/pkg/camera"
	"github.com/teslashibe/go-envision/pkg/haptics"
	"github.com/teslashibe/go-envision/pkg/vision"
)

// runCycle performs one pass. The flag must already be held; it is
// released before observers see the record.
func (l *Loop) runCycle(ctx context.Context, trigger Trigger) (c Cycle) {
	c = Cycle{
		ID:      uuid.NewString(),
		Trigger: trigger,
		Started: time.Now(),
	}
	log := l.logger.With("cycle_id", c.ID, "trigger", string(trigger))

	defer l.finish(&c)
	defer func() {
		if r := recover(); r != nil {
			log.Error("cycle panicked", "panic", r, "stack", string(debug.Stack()))
			c.Outcome = OutcomeInternalFailure
			c.Error = fmt.Sprint(r)
			l.say(ctx, log, &c, msgFailedPrefix+c.Error)
		}
	}()

	l.execute(ctx, log, &c)

	log.Info("cycle done",
		"outcome", string(c.Outcome),
		"latency_ms", time.Since(c.Started).Milliseconds(),
	)
	return c
}

func (l *Loop) execute(ctx context.Context, log *slog.Logger, c *Cycle) {
	start := time.Now()
	frame, err := l.source.Capture(ctx)
	if err == nil && frame == nil {
		err = camera.ErrNoFrame
	}
	c.Stages.CaptureMs = l.stage("capture", start)
	if err != nil {
		c.Outcome = OutcomeCaptureFailure
		c.Error = err.Error()
		log.Warn("capture failed", "error", err)
		return
	}

	start = time.Now()
	enc, err := l.config.Encoder.Encode(frame)
	frame.Release()
	c.Stages.EncodeMs = l.stage("encode", start)
	if err != nil {
		c.Outcome = OutcomeEncodeFailure
		c.Error = err.Error()
		if camera.IsUnconvertible(err) {
			log.Warn("frame not convertible", "format", frame.Format.String(), "error", err)
			return
		}
		log.Error("encode failed", "error", err)
		l.say(ctx, log, c, msgFailedPrefix+failureMessage(err))
		return
	}

	c.PayloadChars = len(enc.Base64)
	c.Width, c.Height = enc.Width, enc.Height
	if m := l.config.Metrics; m != nil {
		m.ObservePayload(c.PayloadChars)
	}
	log.Debug("payload size", "payload_chars", c.PayloadChars, "width", enc.Width, "height", enc.Height)

	start = time.Now()
	resp, err := l.analyzer.Describe(ctx, vision.NewRequest(l.config.Prompt, enc))
	c.Stages.RequestMs = l.stage("request", start)

	if err != nil {
		c.Error = err.Error()

		var httpErr *vision.HTTPError
		var parseErr *vision.ParseError
		switch {
		case errors.As(err, &httpErr):
			c.Outcome = OutcomeHTTPFailure
			c.StatusCode = httpErr.StatusCode
			log.Error("analysis rejected", "status", httpErr.StatusCode, "body", httpErr.Body)
			l.say(ctx, log, c, fmt.Sprintf(msgHTTPFailure, httpErr.StatusCode))
		case errors.As(err, &parseErr):
			c.Outcome = OutcomeParseFailure
			log.Error("analysis response unreadable", "error", err)
			l.say(ctx, log, c, msgFailedPrefix+failureMessage(err))
		default:
			c.Outcome = OutcomeNetworkFailure
			log.Error("analysis request failed", "error", err)
			l.say(ctx, log, c, msgFailedPrefix+failureMessage(err))
		}
		return
	}

	c.StatusCode = resp.StatusCode
	if resp.Text == "" {
		c.Outcome = OutcomeNoDescription
		l.say(ctx, log, c, MsgNoDescription)
		return
	}

	c.Outcome = OutcomeSpoken
	l.say(ctx, log, c, resp.Text)

	if l.haptic.HasVibrator() {
		if err := l.haptic.Vibrate(ctx, PulseDuration, haptics.DefaultAmplitude); err != nil {
			log.Warn("vibrate failed", "error", err)
		} else {
			c.Pulsed = true
		}
	}
}

// say speaks text, replacing anything queued. Failures are logged only.
func (l *Loop) say(ctx context.Context, log *slog.Logger, c *Cycle, text string) {
	start := time.Now()
	c.Spoken = text
	if err := l.speaker.Speak(ctx, text, true); err != nil {
		log.Warn("speak failed", "error", err)
	}
	c.Stages.SpeakMs = l.stage("speak", start)
}

func (l *Loop) stage(name string, start time.Time) int64 {
	d := time.Since(start)
	if m := l.config.Metrics; m != nil {
		m.ObserveStage(name, d)
	}
	return d.Milliseconds()
}

// failureMessage returns the text spoken after "Analysis failed: ".
// A *url.Error is reduced to its cause so the request URL, which may
// carry the API key, is never spoken.
func failureMessage(err error) string {
	var ue *url.Error
	if errors.As(err, &ue) && ue.Err != nil {
		err = ue.Err
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return "unknown error"
	}
	return msg
}
