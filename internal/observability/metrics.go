package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service, plus the
// rolling latency window served on the perf endpoint.
type Metrics struct {
	ActiveSessions     prometheus.Gauge
	SessionEvents      *prometheus.CounterVec
	WSMessages         *prometheus.CounterVec
	Cycles             *prometheus.CounterVec
	DroppedTranscripts *prometheus.CounterVec
	PipelineErrors     *prometheus.CounterVec
	CycleLatency       *prometheus.HistogramVec

	gatherer prometheus.Gatherer
	window   *latencyWindow
}

// NewMetrics registers the instruments with reg, or the default registry
// when reg is nil.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	f := promauto.With(registerer)

	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active voice sessions.",
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_cycles_total",
			Help:      "Generation cycles by outcome.",
		}, []string{"outcome"}),
		DroppedTranscripts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_transcripts_total",
			Help:      "Final transcripts not turned into a cycle, by reason.",
		}, []string{"reason"}),
		PipelineErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_errors_total",
			Help:      "Pipeline failures by kind and provider.",
		}, []string{"kind", "provider"}),
		CycleLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_latency_ms",
			Help:      "Per-cycle first-byte latencies in milliseconds.",
			Buckets:   []float64{50, 100, 200, 300, 500, 700, 900, 1200, 2000, 4000},
		}, []string{"kind"}),
		gatherer: gatherer,
		window:   newLatencyWindow(256),
	}
}

// ObserveLatency records one latency sample in the histogram and the
// rolling window.
func (m *Metrics) ObserveLatency(kind string, d time.Duration) {
	if m == nil || d < 0 {
		return
	}
	ms := float64(d) / float64(time.Millisecond)
	m.CycleLatency.WithLabelValues(kind).Observe(ms)
	m.window.Observe(kind, ms)
}

func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.window.ObserveIndicator(name)
}

func (m *Metrics) SnapshotLatency() LatencySnapshot {
	return m.window.Snapshot()
}

func (m *Metrics) ResetLatency() {
	m.window.Reset()
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == prometheus.DefaultGatherer {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
