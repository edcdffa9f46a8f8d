package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "vidblog"

// Metrics holds the upload gateway's Prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	uploadsTotal   *prometheus.CounterVec
	uploadBytes    prometheus.Histogram
	uploadDuration prometheus.Histogram
	inFlight       prometheus.Gauge
}

// NewMetrics registers the gateway collectors on reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		uploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "uploads_total",
			Help:      "Upload requests by outcome",
		}, []string{"outcome"}),

		uploadBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "upload_size_bytes",
			Help:      "Size of accepted uploads",
			Buckets:   prometheus.ExponentialBuckets(64*1024, 4, 8),
		}),

		uploadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "upload_duration_seconds",
			Help:      "Time from request start to processor settlement",
			Buckets:   prometheus.DefBuckets,
		}),

		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "uploads_in_flight",
			Help:      "Upload requests currently being received or processed",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) begin() func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return m.inFlight.Dec
}

func (m *Metrics) observe(err error, size int64, start time.Time) {
	if m == nil {
		return
	}

	outcome := outcomeAccepted
	if err != nil {
		_, _, outcome = translate(err)
	} else {
		m.uploadBytes.Observe(float64(size))
	}
	m.uploadsTotal.WithLabelValues(outcome).Inc()
	m.uploadDuration.Observe(time.Since(start).Seconds())
}
