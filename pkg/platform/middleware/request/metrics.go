package request

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Latency *prometheus.HistogramVec
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// NewMetrics returns the process-wide HTTP metrics, registering them on first use.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			Latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "throttleguard_http_request_duration_seconds",
				Help:    "Latency of HTTP requests by route pattern and status",
				Buckets: prometheus.DefBuckets,
			}, []string{"route", "status"}),
		}
	})
	return metricsInstance
}

func (m *Metrics) ObserveLatency(route string, status int, seconds float64) {
	m.Latency.WithLabelValues(route, strconv.Itoa(status)).Observe(seconds)
}
