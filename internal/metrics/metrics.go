package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus metrics of the relay pipeline
type Metrics struct {
	// Message metrics
	Messages       *prometheus.CounterVec
	StageFailures  *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	QueueDepth     prometheus.Gauge
	ActiveSessions prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates all metrics and registers them on reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "yoorelay_messages_total",
			Help: "Inbound messages by classification",
		}, []string{"kind"}),
		StageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "yoorelay_stage_failures_total",
			Help: "Failed pipeline stages",
		}, []string{"stage"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "yoorelay_stage_duration_seconds",
			Help:    "Duration of pipeline stages",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}, []string{"stage"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "yoorelay_dispatch_queue_depth",
			Help: "Messages waiting in per-user dispatch queues",
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "yoorelay_active_users",
			Help: "Users with a running dispatch actor",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "yoorelay_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "yoorelay_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// Nop returns metrics registered on a private registry, for callers that do
// not export them.
func Nop() *Metrics { return New(prometheus.NewRegistry()) }

func (m *Metrics) RecordMessage(kind string) { m.Messages.WithLabelValues(kind).Inc() }

func (m *Metrics) RecordStage(stage string, d time.Duration, err error) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		m.StageFailures.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(d.Seconds())
}
