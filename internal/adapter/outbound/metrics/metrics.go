// Package metrics implements sentinel.Recorder against Prometheus,
// generalizing the teacher's inbound/http.Metrics (requests_total,
// request_duration_seconds, policy_evaluations_total) to the sentinel's
// own decision vocabulary: one counter/histogram pair per verdict action
// instead of per HTTP method.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sentinelgate/sentinel/internal/domain/sentinel/policy"
)

// Metrics holds every Prometheus collector the sentinel registers.
type Metrics struct {
	DecisionsTotal   *prometheus.CounterVec
	DecisionDuration *prometheus.HistogramVec
}

// New creates and registers the sentinel's metrics against reg.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		DecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sentinelgate",
				Name:      "decisions_total",
				Help:      "Total policy decisions by action (allow/deny/ask/log-only)",
			},
			[]string{"action"},
		),
		DecisionDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sentinelgate",
				Name:      "decision_duration_seconds",
				Help:      "Time to evaluate and (if allowed) forward one tool call",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"action"},
		),
	}
}

// ObserveDecision implements sentinel.Recorder.
func (m *Metrics) ObserveDecision(action policy.Action, duration time.Duration) {
	label := string(action)
	m.DecisionsTotal.WithLabelValues(label).Inc()
	m.DecisionDuration.WithLabelValues(label).Observe(duration.Seconds())
}
