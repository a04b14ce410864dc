package envision

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/teslashibe/go-envision/pkg/camera"
	"github.com/teslashibe/go-envision/pkg/metrics"
)

// Config holds loop settings. Use functional options to set these values.
type Config struct {
	Interval   time.Duration
	Prompt     string
	Encoder    *camera.Encoder
	Indicators []Indicator
	Observers  []Observer
	Metrics    *metrics.Collector

	// Limiter, if set, caps how often a request may start.
	Limiter *rate.Limiter

	Logger *slog.Logger
}

// Option configures a Loop.
type Option func(*Config)

// DefaultConfig returns the default loop settings.
func DefaultConfig() *Config {
	return &Config{
		Interval: DefaultInterval,
		Prompt:   DefaultPrompt,
		Encoder:  camera.NewEncoder(camera.DefaultConfig()),
		Logger:   slog.Default(),
	}
}

// Apply applies options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// WithInterval sets the tick period.
func WithInterval(d time.Duration) Option {
	return func(c *Config) { c.Interval = d }
}

// WithPrompt sets the instruction sent with every image.
func WithPrompt(prompt string) Option {
	return func(c *Config) { c.Prompt = prompt }
}

// WithEncoder sets the frame encoder.
func WithEncoder(e *camera.Encoder) Option {
	return func(c *Config) {
		if e != nil {
			c.Encoder = e
		}
	}
}

// WithIndicator adds a busy indicator.
func WithIndicator(i Indicator) Option {
	return func(c *Config) { c.Indicators = append(c.Indicators, i) }
}

// WithObserver adds a cycle observer.
func WithObserver(o Observer) Option {
	return func(c *Config) { c.Observers = append(c.Observers, o) }
}

// WithMetrics records loop metrics on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Config) { c.Metrics = m }
}

// WithRequestLimit allows at most perMinute cycles per minute. Zero disables the limit.
func WithRequestLimit(perMinute int) Option {
	return func(c *Config) {
		if perMinute <= 0 {
			c.Limiter = nil
			return
		}
		c.Limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}
