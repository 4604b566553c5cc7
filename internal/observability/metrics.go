package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. Every
// method is safe on a nil receiver so components can run unobserved.
type Metrics struct {
	registry *prometheus.Registry
	latency  *LatencyWindow

	ActiveConnections  prometheus.Gauge
	Turns              *prometheus.CounterVec
	CompletionAttempts *prometheus.CounterVec
	StorageErrors      *prometheus.CounterVec
	SpeechErrors       *prometheus.CounterVec
	WSMessages         *prometheus.CounterVec
	TurnLatency        prometheus.Histogram
	StageLatency       *prometheus.HistogramVec
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		latency:  NewLatencyWindow(256),
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of open realtime connections.",
		}),
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by outcome.",
		}, []string{"outcome"}),
		CompletionAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_attempts_total",
			Help:      "Completion backend attempts by backend and result.",
		}, []string{"backend", "result"}),
		StorageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Swallowed memory store errors by operation.",
		}, []string{"op"}),
		SpeechErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_errors_total",
			Help:      "Speech provider errors by provider and kind.",
		}, []string{"provider", "kind"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		TurnLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_ms",
			Help:      "End-to-end conversation turn latency in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 3500, 5000, 8000, 15000},
		}),
		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_stage_latency_ms",
			Help:      "Turn stage durations in milliseconds by stage and turn outcome.",
			Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"stage", "outcome"}),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTurn(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(outcome).Inc()
	m.TurnLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveCompletion(backend, result string) {
	if m == nil {
		return
	}
	m.CompletionAttempts.WithLabelValues(backend, result).Inc()
}

func (m *Metrics) ObserveStorageError(op string) {
	if m == nil {
		return
	}
	m.StorageErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveSpeechError(provider, kind string) {
	if m == nil {
		return
	}
	m.SpeechErrors.WithLabelValues(provider, kind).Inc()
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

// DeclareStageTarget sets the p95 budget shown for stage at /v1/perf/latency.
func (m *Metrics) DeclareStageTarget(stage string, p95 time.Duration) {
	if m == nil {
		return
	}
	m.latency.DeclareTarget(stage, p95)
}

// ObserveStage records how long stage took in a turn that ended with outcome.
func (m *Metrics) ObserveStage(stage, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.Record(stage, outcome, d)
	if outcome == "" {
		outcome = "ok"
	}
	m.StageLatency.WithLabelValues(stage, outcome).Observe(float64(d.Microseconds()) / 1000)
}

// CountTurnEvent counts a notable event, such as a completion fallback.
func (m *Metrics) CountTurnEvent(name string) {
	if m == nil {
		return
	}
	m.latency.Count(name)
}

func (m *Metrics) LatencySnapshot() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{GeneratedAt: time.Now().UTC(), Stages: []StageLatency{}}
	}
	return m.latency.Snapshot()
}

func (m *Metrics) ResetLatency() {
	if m == nil {
		return
	}
	m.latency.Reset()
}
