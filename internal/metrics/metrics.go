// Package metrics exposes Prometheus instrumentation for session lifecycle,
// handoffs, and live-sync corrections. All Record methods are nil-safe so
// components can run uninstrumented in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every camwall Prometheus collector.
type Metrics struct {
	SessionsCreated   prometheus.Counter
	SessionsDestroyed prometheus.Counter
	PoolSize          prometheus.Gauge
	WarmRefusals      prometheus.Counter

	Handoffs           *prometheus.CounterVec
	HandoffDuration    prometheus.Histogram
	HandoffEscalations prometheus.Counter

	LiveSyncCorrections prometheus.Counter
	StreamErrors        *prometheus.CounterVec
}

// New creates and registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "camwall_sessions_created_total",
			Help: "Total number of decoder sessions created",
		}),
		SessionsDestroyed: factory.NewCounter(prometheus.CounterOpts{
			Name: "camwall_sessions_destroyed_total",
			Help: "Total number of decoder sessions destroyed",
		}),
		PoolSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "camwall_pool_size",
			Help: "Current number of warmed sessions in the pool",
		}),
		WarmRefusals: factory.NewCounter(prometheus.CounterOpts{
			Name: "camwall_warm_refusals_total",
			Help: "Warm requests refused because the pool was at capacity",
		}),
		Handoffs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camwall_handoffs_total",
			Help: "Completed focused-surface handoffs by finalize trigger",
		}, []string{"trigger"}),
		HandoffDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "camwall_handoff_duration_seconds",
			Help:    "Time from handoff start to finalize",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 8), // 50ms to ~6.4s
		}),
		HandoffEscalations: factory.NewCounter(prometheus.CounterOpts{
			Name: "camwall_handoff_escalations_total",
			Help: "Handoffs that hit the stuck-attachment escalation timer",
		}),
		LiveSyncCorrections: factory.NewCounter(prometheus.CounterOpts{
			Name: "camwall_livesync_corrections_total",
			Help: "Corrective seeks issued by the live-sync monitor",
		}),
		StreamErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camwall_stream_errors_total",
			Help: "Persistent stream errors by camera",
		}, []string{"camera"}),
	}
}

// RecordSessionCreated increments the sessions created counter.
func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

// RecordSessionDestroyed increments the sessions destroyed counter.
func (m *Metrics) RecordSessionDestroyed() {
	if m == nil {
		return
	}
	m.SessionsDestroyed.Inc()
}

// SetPoolSize records the current warm-pool size.
func (m *Metrics) SetPoolSize(n int) {
	if m == nil {
		return
	}
	m.PoolSize.Set(float64(n))
}

// RecordWarmRefusal counts a warm request refused at capacity.
func (m *Metrics) RecordWarmRefusal() {
	if m == nil {
		return
	}
	m.WarmRefusals.Inc()
}

// RecordHandoff counts a finalized handoff and its duration.
func (m *Metrics) RecordHandoff(trigger string, seconds float64) {
	if m == nil {
		return
	}
	m.Handoffs.WithLabelValues(trigger).Inc()
	m.HandoffDuration.Observe(seconds)
}

// RecordEscalation counts a stuck-attachment escalation.
func (m *Metrics) RecordEscalation() {
	if m == nil {
		return
	}
	m.HandoffEscalations.Inc()
}

// RecordCorrection counts a live-sync corrective seek.
func (m *Metrics) RecordCorrection() {
	if m == nil {
		return
	}
	m.LiveSyncCorrections.Inc()
}

// RecordStreamError counts a persistent stream error for a camera.
func (m *Metrics) RecordStreamError(cameraID string) {
	if m == nil {
		return
	}
	m.StreamErrors.WithLabelValues(cameraID).Inc()
}
