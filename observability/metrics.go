package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type syncMetrics struct {
	accepted      prometheus.Counter
	rejected      *prometheus.CounterVec
	epochAdvances *prometheus.CounterVec
	overrides     prometheus.Counter
}

var (
	syncMetricsOnce sync.Once
	syncRegistry    *syncMetrics
)

// Sync returns the lazily-initialised metrics registry tracking state
// synchronization activity.
func Sync() *syncMetrics {
	syncMetricsOnce.Do(func() {
		syncRegistry = &syncMetrics{
			accepted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "halo",
				Subsystem: "sync",
				Name:      "updates_accepted_total",
				Help:      "Count of accepted cross-chain state updates.",
			}),
			rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "halo",
				Subsystem: "sync",
				Name:      "updates_rejected_total",
				Help:      "Count of rejected state updates segmented by reason.",
			}, []string{"reason"}),
			epochAdvances: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "halo",
				Subsystem: "sync",
				Name:      "epoch_advances_total",
				Help:      "Count of global epoch advances segmented by source path.",
			}, []string{"source"}),
			overrides: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "halo",
				Subsystem: "sync",
				Name:      "emergency_overrides_total",
				Help:      "Count of emergency state overrides applied.",
			}),
		}
		prometheus.MustRegister(
			syncRegistry.accepted,
			syncRegistry.rejected,
			syncRegistry.epochAdvances,
			syncRegistry.overrides,
		)
	})
	return syncRegistry
}

// RecordAccepted increments the accepted update counter.
func (m *syncMetrics) RecordAccepted() {
	if m == nil {
		return
	}
	m.accepted.Inc()
}

// RecordRejected increments the rejection counter for the supplied reason.
func (m *syncMetrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "error"
	}
	m.rejected.WithLabelValues(reason).Inc()
}

// RecordEpochAdvance increments the epoch advance counter for the path that
// triggered it ("admin" or "sync").
func (m *syncMetrics) RecordEpochAdvance(source string) {
	if m == nil {
		return
	}
	m.epochAdvances.WithLabelValues(source).Inc()
}

// RecordOverride increments the emergency override counter.
func (m *syncMetrics) RecordOverride() {
	if m == nil {
		return
	}
	m.overrides.Inc()
}
