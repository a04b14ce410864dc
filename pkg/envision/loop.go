package envision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-envision/pkg/camera"
	"github.com/teslashibe/go-envision/pkg/haptics"
	"github.com/teslashibe/go-envision/pkg/metrics"
	"github.com/teslashibe/go-envision/pkg/speech"
)

// Loop schedules capture cycles.
type Loop struct {
	source   camera.FrameSource
	analyzer Analyzer
	speaker  speech.Speaker
	haptic   haptics.Haptics
	config   *Config
	logger   *slog.Logger

	inFlight atomic.Bool

	// mu orders wg.Add against Close so Wait never races a late cycle.
	mu        sync.Mutex
	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}

	ticks   atomic.Uint64
	skipped atomic.Uint64
	cycles  atomic.Uint64
	last    atomic.Pointer[Cycle]
}

// New creates a loop. Collaborators stay owned by the caller.
func New(source camera.FrameSource, analyzer Analyzer, speaker speech.Speaker, haptic haptics.Haptics, opts ...Option) (*Loop, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	var errs []error
	if source == nil {
		errs = append(errs, errors.New("frame source required"))
	}
	if analyzer == nil {
		errs = append(errs, errors.New("analyzer required"))
	}
	if speaker == nil {
		errs = append(errs, errors.New("speaker required"))
	}
	if cfg.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %v", cfg.Interval))
	}
	if cfg.Prompt == "" {
		errs = append(errs, errors.New("prompt required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("envision: %w", err)
	}
	if haptic == nil {
		haptic = haptics.Nop{}
	}

	return &Loop{
		source:   source,
		analyzer: analyzer,
		speaker:  speaker,
		haptic:   haptic,
		config:   cfg,
		logger:   cfg.Logger.With("component", "envision.loop"),
		closed:   make(chan struct{}),
	}, nil
}

// Run ticks once immediately and then every interval until ctx is done
// or Close is called.
func (l *Loop) Run(ctx context.Context) error {
	if l.isClosed() {
		return ErrClosed
	}

	ticker := time.NewTicker(l.config.Interval)
	defer ticker.Stop()

	l.logger.Info("loop started", "interval", l.config.Interval)
	l.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("loop stopped", "reason", ctx.Err())
			return ctx.Err()
		case <-l.closed:
			l.logger.Info("loop stopped", "reason", "closed")
			return nil
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick starts a cycle on its own goroutine unless one is in flight.
// It reports whether a cycle was started.
func (l *Loop) Tick(ctx context.Context) bool {
	if l.isClosed() {
		return false
	}
	l.ticks.Add(1)

	if !l.inFlight.CompareAndSwap(false, true) {
		l.skip(metrics.SkipBusy)
		return false
	}
	if l.config.Limiter != nil && !l.config.Limiter.Allow() {
		l.inFlight.Store(false)
		l.skip(metrics.SkipRateLimit)
		return false
	}

	if !l.track() {
		l.inFlight.Store(false)
		return false
	}
	l.begin()
	go func() {
		defer l.wg.Done()
		l.runCycle(context.WithoutCancel(ctx), TriggerTick)
	}()
	return true
}

// Analyze runs one cycle now and waits for it.
func (l *Loop) Analyze(ctx context.Context) (Cycle, error) {
	if l.isClosed() {
		return Cycle{}, ErrClosed
	}
	if !l.inFlight.CompareAndSwap(false, true) {
		return Cycle{}, ErrBusy
	}
	if l.config.Limiter != nil && !l.config.Limiter.Allow() {
		l.inFlight.Store(false)
		return Cycle{}, ErrRateLimited
	}

	if !l.track() {
		l.inFlight.Store(false)
		return Cycle{}, ErrClosed
	}
	l.begin()
	defer l.wg.Done()
	return l.runCycle(context.WithoutCancel(ctx), TriggerManual), nil
}

// InFlight reports whether a cycle is running.
func (l *Loop) InFlight() bool {
	return l.inFlight.Load()
}

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() Stats {
	return Stats{
		InFlight: l.InFlight(),
		Interval: l.config.Interval,
		Ticks:    l.ticks.Load(),
		Skipped:  l.skipped.Load(),
		Cycles:   l.cycles.Load(),
		Last:     l.last.Load(),
	}
}

// Wait blocks until running cycles finish or ctx is done.
func (l *Loop) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the ticker. A cycle in flight is left to finish.
func (l *Loop) Close() error {
	l.mu.Lock()
	l.closeOnce.Do(func() { close(l.closed) })
	l.mu.Unlock()
	return nil
}

func (l *Loop) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

// track registers a cycle with the wait group unless the loop is closed.
func (l *Loop) track() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.isClosed() {
		return false
	}
	l.wg.Add(1)
	return true
}

func (l *Loop) skip(reason string) {
	l.skipped.Add(1)
	if m := l.config.Metrics; m != nil {
		m.RecordSkip(reason)
	}
	l.logger.Debug("tick skipped", "reason", reason)
}

// begin runs after the flag is taken.
func (l *Loop) begin() {
	if m := l.config.Metrics; m != nil {
		m.SetInFlight(true)
	}
	for _, ind := range l.config.Indicators {
		ind.SetBusy(true)
	}
}

// finish clears the flag, hides the indicator and publishes c.
func (l *Loop) finish(c *Cycle) {
	c.Finished = time.Now()

	l.inFlight.Store(false)
	for _, ind := range l.config.Indicators {
		ind.SetBusy(false)
	}

	l.cycles.Add(1)
	rec := *c
	l.last.Store(&rec)

	if m := l.config.Metrics; m != nil {
		m.SetInFlight(false)
		m.RecordCycle(string(c.Outcome), c.Duration())
	}
	for _, o := range l.config.Observers {
		o.CycleDone(rec)
	}
}
