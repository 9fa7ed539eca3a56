package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Decisions               *prometheus.CounterVec
	BlocksTotal             *prometheus.CounterVec
	PatternsTotal           *prometheus.CounterVec
	TransientErrorsTotal    prometheus.Counter
	TrackedFingerprints     prometheus.Gauge
	BlockedFingerprints     prometheus.Gauge
	TrackedSessions         prometheus.Gauge
	SuspiciousSessions      prometheus.Gauge
	CleanupRunsTotal        *prometheus.CounterVec
	CleanupDurationSeconds  prometheus.Histogram
	CleanupEvictedTotal     *prometheus.CounterVec
	EvaluateDurationSeconds prometheus.Histogram
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// New returns the process-wide throttle metrics, registering them on first use.
func New() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "throttleguard_decisions_total",
				Help: "Throttle decisions by route class and outcome",
			}, []string{"class", "outcome"}),
			BlocksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "throttleguard_blocks_total",
				Help: "Fingerprints moved to BLOCKED, by route class and rule",
			}, []string{"class", "rule"}),
			PatternsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "throttleguard_suspicious_patterns_total",
				Help: "Suspicious patterns matched by the detector",
			}, []string{"pattern"}),
			TransientErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "throttleguard_transient_state_errors_total",
				Help: "Tracker races recovered by failing open",
			}),
			TrackedFingerprints: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "throttleguard_tracked_fingerprints",
				Help: "Fingerprints currently held in memory",
			}),
			BlockedFingerprints: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "throttleguard_blocked_fingerprints",
				Help: "Fingerprints currently blocked",
			}),
			TrackedSessions: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "throttleguard_tracked_sessions",
				Help: "Client sessions currently held in memory",
			}),
			SuspiciousSessions: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "throttleguard_suspicious_sessions",
				Help: "Client sessions currently classified as suspicious",
			}),
			CleanupRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "throttleguard_cleanup_runs_total",
				Help: "Total number of eviction sweeps",
			}, []string{"status"}),
			CleanupDurationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
				Name: "throttleguard_cleanup_duration_seconds",
				Help: "Duration of eviction sweeps in seconds",
			}),
			CleanupEvictedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "throttleguard_cleanup_evicted_total",
				Help: "Entries removed by eviction sweeps",
			}, []string{"kind"}),
			EvaluateDurationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "throttleguard_evaluate_duration_seconds",
				Help:    "Time spent deciding one request",
				Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
			}),
		}
	})
	return metricsInstance
}

func (m *Metrics) IncrementDecision(class, outcome string) {
	m.Decisions.WithLabelValues(class, outcome).Inc()
}

func (m *Metrics) IncrementBlock(class, rule string) {
	m.BlocksTotal.WithLabelValues(class, rule).Inc()
}

func (m *Metrics) IncrementPattern(pattern string) {
	m.PatternsTotal.WithLabelValues(pattern).Inc()
}

func (m *Metrics) IncrementTransientErrors() {
	m.TransientErrorsTotal.Inc()
}

func (m *Metrics) SetTracked(fingerprints, blocked, sessions, suspicious int) {
	m.TrackedFingerprints.Set(float64(fingerprints))
	m.BlockedFingerprints.Set(float64(blocked))
	m.TrackedSessions.Set(float64(sessions))
	m.SuspiciousSessions.Set(float64(suspicious))
}

func (m *Metrics) IncrementCleanupRuns(status string) {
	m.CleanupRunsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveCleanupDuration(durationSeconds float64) {
	m.CleanupDurationSeconds.Observe(durationSeconds)
}

func (m *Metrics) AddEvicted(kind string, count int) {
	m.CleanupEvictedTotal.WithLabelValues(kind).Add(float64(count))
}

func (m *Metrics) ObserveEvaluateDuration(durationSeconds float64) {
	m.EvaluateDurationSeconds.Observe(durationSeconds)
}
