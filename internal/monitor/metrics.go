package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mokametrics-ingest/internal/service"
)

const metricPrefix = "mokametrics_"

// Metrics exports pipeline counters to Prometheus. It satisfies
// service.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	consumed      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	points        prometheus.Counter
	notifications *prometheus.CounterVec
	deadLetters   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		consumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "messages_consumed_total",
				Help: "Consumed records by topic and outcome",
			},
			[]string{"topic", "result"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "message_processing_seconds",
				Help:    "Time from fetch to settlement of a record",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"topic"},
		),
		points: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "points_written_total",
				Help: "Time-series points written",
			},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Dashboard notifications published by event",
			},
			[]string{"event"},
		),
		deadLetters: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "dead_letter_total",
				Help: "Records sent to the dead-letter topic by source topic",
			},
			[]string{"topic"},
		),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.consumed, m.latency, m.points, m.notifications, m.deadLetters,
	)
	return m
}

func (m *Metrics) MessageProcessed(topic, result string, elapsed time.Duration) {
	m.consumed.WithLabelValues(topic, result).Inc()
	// retries are intermediate, only settled records feed the histogram
	if result != service.ResultRetried {
		m.latency.WithLabelValues(topic).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) PointsWritten(n int) {
	m.points.Add(float64(n))
}

func (m *Metrics) DeadLettered(topic string) {
	m.deadLetters.WithLabelValues(topic).Inc()
}

// NotificationPublished is wired to realtime.Hub.OnPublish.
func (m *Metrics) NotificationPublished(event string) {
	m.notifications.WithLabelValues(event).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
