// Package metrics exposes Prometheus metrics for the capture loop.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric.
const Namespace = "envision"

// Skip reasons.
const (
	SkipBusy      = "busy"
	SkipRateLimit = "rate_limit"
)

// Collector holds the loop's metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	cycles       *prometheus.CounterVec
	skipped      *prometheus.CounterVec
	cycleSeconds prometheus.Histogram
	stageSeconds *prometheus.HistogramVec
	payloadChars prometheus.Histogram
	inFlight     prometheus.Gauge
}

// NewCollector creates a collector with Go and process collectors registered.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cycles_total",
			Help:      "Completed capture cycles by outcome.",
		}, []string{"outcome"}),
		skipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ticks_skipped_total",
			Help:      "Ticks that did not start a cycle.",
		}, []string{"reason"}),
		cycleSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time from capture to speech.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 5, 8, 13, 30, 60},
		}),
		stageSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each cycle stage.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"stage"}),
		payloadChars: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "payload_chars",
			Help:      "Base64 image size per request.",
			Buckets:   prometheus.ExponentialBuckets(8<<10, 2, 8),
		}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "in_flight",
			Help:      "1 while a cycle is running.",
		}),
	}
}

// RecordCycle counts a finished cycle.
func (c *Collector) RecordCycle(outcome string, total time.Duration) {
	c.cycles.WithLabelValues(outcome).Inc()
	c.cycleSeconds.Observe(total.Seconds())
}

// ObserveStage records the time one stage took.
func (c *Collector) ObserveStage(stage string, d time.Duration) {
	c.stageSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// ObservePayload records the encoded image size.
func (c *Collector) ObservePayload(chars int) {
	c.payloadChars.Observe(float64(chars))
}

// RecordSkip counts a tick that did not start a cycle.
func (c *Collector) RecordSkip(reason string) {
	c.skipped.WithLabelValues(reason).Inc()
}

// SetInFlight mirrors the loop's in-flight flag.
func (c *Collector) SetInFlight(v bool) {
	if v {
		c.inFlight.Set(1)
	} else {
		c.inFlight.Set(0)
	}
}

// Registry returns the registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
