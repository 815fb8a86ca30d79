// Package telemetry holds the Prometheus metrics and OpenTelemetry tracing
// helpers used by the agent loop, the tool registry and the session manager.
// A nil *Metrics is valid and records nothing.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "spartacus"

// Metrics groups the collectors exported by the assistant core.
type Metrics struct {
	runsTotal      *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	runIterations  *prometheus.HistogramVec
	modelCalls     *prometheus.CounterVec
	modelDuration  *prometheus.HistogramVec
	modelTokens    *prometheus.CounterVec
	toolCalls      *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
	activeSessions prometheus.Gauge
	evictions      prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_runs_total",
			Help:      "Agent runs by agent and termination reason.",
		}, []string{"agent", "reason"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_run_duration_seconds",
			Help:      "Wall clock duration of agent runs.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"agent"}),
		runIterations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_run_iterations",
			Help:      "Reasoning iterations used per run.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 10, 15, 20},
		}, []string{"agent"}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_calls_total",
			Help:      "Model calls by model and status.",
		}, []string{"model", "status"}),
		modelDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_call_duration_seconds",
			Help:      "Latency of model calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"model"}),
		modelTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_tokens_total",
			Help:      "Tokens reported by model providers.",
		}, []string{"model", "kind"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls by tool and result code (ok on success).",
		}, []string{"tool", "code"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Latency of tool calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently held in memory.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_evicted_total",
			Help:      "Sessions evicted after the idle timeout.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.runsTotal, m.runDuration, m.runIterations,
		m.modelCalls, m.modelDuration, m.modelTokens,
		m.toolCalls, m.toolDuration,
		m.activeSessions, m.evictions,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// RecordRun records a finished agent run.
func (m *Metrics) RecordRun(agent, reason string, iterations int, d time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(agent, reason).Inc()
	m.runDuration.WithLabelValues(agent).Observe(d.Seconds())
	m.runIterations.WithLabelValues(agent).Observe(float64(iterations))
}

// RecordModelCall records one model call and its token usage.
func (m *Metrics) RecordModelCall(model string, d time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.modelCalls.WithLabelValues(model, status).Inc()
	m.modelDuration.WithLabelValues(model).Observe(d.Seconds())
	if inputTokens > 0 {
		m.modelTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.modelTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}

// RecordToolCall records one dispatched tool call. An empty code means success.
func (m *Metrics) RecordToolCall(tool, code string, d time.Duration) {
	if m == nil {
		return
	}
	if code == "" {
		code = "ok"
	}
	m.toolCalls.WithLabelValues(tool, code).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// SetActiveSessions publishes the number of live sessions.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// RecordEviction counts evicted sessions.
func (m *Metrics) RecordEviction(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evictions.Add(float64(n))
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
