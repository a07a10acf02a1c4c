package httpapi

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "askuni"

// Metrics records chat activity in Prometheus. It implements
// usecase.ChatObserver.
type Metrics struct {
	registry *prometheus.Registry

	streamsStarted prometheus.Counter
	streamsEnded   *prometheus.CounterVec
	blocking       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	substitutions  *prometheus.CounterVec
	inflight       prometheus.Gauge
}

// NewMetrics registers the chat collectors and the Go runtime collectors on a
// private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		streamsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "streams_started_total",
			Help:      "Streaming message requests accepted.",
		}),
		streamsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "streams_ended_total",
			Help:      "Streaming message requests by outcome.",
		}, []string{"outcome"}),
		blocking: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "blocking_requests_total",
			Help:      "Blocking message requests by outcome.",
		}, []string{"outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "generation_duration_seconds",
			Help:      "Time from request to terminal answer.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 9), // 0.25s to ~64s
		}, []string{"path"}),
		substitutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "answer_substitutions_total",
			Help:      "Generated answers replaced by a fixed text.",
		}, []string{"reason"}),
		inflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "streams_inflight",
			Help:      "Streams currently open.",
		}),
	}
}

func (m *Metrics) StreamStarted() {
	m.streamsStarted.Inc()
	m.inflight.Inc()
}

func (m *Metrics) StreamEnded(outcome string, elapsed time.Duration) {
	m.inflight.Dec()
	m.streamsEnded.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues("stream").Observe(elapsed.Seconds())
}

func (m *Metrics) BlockingServed(outcome string, elapsed time.Duration) {
	m.blocking.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues("blocking").Observe(elapsed.Seconds())
}

func (m *Metrics) AnswerSubstituted(reason string) {
	m.substitutions.WithLabelValues(reason).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
