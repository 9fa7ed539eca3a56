package securitylog

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the security event log.
type Metrics struct {
	Logged          *prometheus.CounterVec
	Dropped         prometheus.Counter
	PersistFailures prometheus.Counter
	ForwardFailures *prometheus.CounterVec
	EchoSuppressed  prometheus.Counter
	QueueDepth      prometheus.Gauge
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// NewMetrics returns the singleton Metrics instance. Safe to call multiple times.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			Logged: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "throttleguard_security_events_logged_total",
				Help: "Security events persisted to the log, by event type",
			}, []string{"event_type"}),
			Dropped: promauto.NewCounter(prometheus.CounterOpts{
				Name: "throttleguard_security_events_dropped_total",
				Help: "Security events dropped because the write queue was full or closed",
			}),
			PersistFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "throttleguard_security_log_write_failures_total",
				Help: "Security events that could not be written to the log sink",
			}),
			ForwardFailures: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "throttleguard_security_forward_failures_total",
				Help: "Security events that could not be forwarded, by forwarder",
			}, []string{"forwarder"}),
			EchoSuppressed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "throttleguard_security_console_echo_suppressed_total",
				Help: "Console echo lines suppressed by the echo rate limit",
			}),
			QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "throttleguard_security_log_queue_depth",
				Help: "Security events waiting to be written",
			}),
		}
	})
	return metricsInstance
}

func (m *Metrics) IncLogged(eventType string) {
	m.Logged.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncDropped() {
	m.Dropped.Inc()
}

func (m *Metrics) IncPersistFailures() {
	m.PersistFailures.Inc()
}

func (m *Metrics) IncForwardFailures(forwarder string) {
	m.ForwardFailures.WithLabelValues(forwarder).Inc()
}

func (m *Metrics) IncEchoSuppressed() {
	m.EchoSuppressed.Inc()
}

func (m *Metrics) SetQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}
