// Package prometheus records docchat metrics with the Prometheus client.
//
// Metrics implements docchat.Observer for turn lifecycle metrics and
// counts skipped stream frames through FrameSkipped, which has the
// signature expected by sse.WithSkipHandler and api.WithSkipHandler.
package prometheus

import (
	"net/http"
	"time"

	"github.com/fwojciec/docchat"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var _ docchat.Observer = (*Metrics)(nil)

// Metrics holds the collectors on a private registry, so several instances
// can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	turnsStarted  prometheus.Counter
	turnsSettled  *prometheus.CounterVec
	turnDuration  *prometheus.HistogramVec
	framesSkipped *prometheus.CounterVec
}

// New creates Metrics with collectors registered on a new registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		turnsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "docchat_turns_started_total",
			Help: "Total turns submitted",
		}),
		turnsSettled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docchat_turns_settled_total",
			Help: "Total turns settled",
		}, []string{"outcome"}),
		turnDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docchat_turn_duration_seconds",
			Help:    "Time from submission to settlement",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),
		framesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docchat_stream_frames_skipped_total",
			Help: "Total stream frames skipped by the decoder",
		}, []string{"reason"}),
	}
}

// TurnStarted implements docchat.Observer.
func (m *Metrics) TurnStarted(docchat.CacheKey) {
	m.turnsStarted.Inc()
}

// TurnSettled implements docchat.Observer.
func (m *Metrics) TurnSettled(_ docchat.CacheKey, outcome docchat.TurnOutcome, elapsed time.Duration) {
	m.turnsSettled.WithLabelValues(string(outcome)).Inc()
	m.turnDuration.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
}

// FrameSkipped counts a frame the stream decoder dropped.
func (m *Metrics) FrameSkipped(reason string) {
	m.framesSkipped.WithLabelValues(reason).Inc()
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
