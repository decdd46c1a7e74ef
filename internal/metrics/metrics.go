// Package metrics exposes Prometheus instrumentation for the signer.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// States in the order they are exported on the state gauge
var States = []string{"Uninitialized", "Ready", "Degraded", "Repairing", "Failed"}

// Metrics holds all collectors
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	SignAttempts     *prometheus.CounterVec
	SignResults      *prometheus.CounterVec
	EvalDuration     prometheus.Histogram
	Transitions      *prometheus.CounterVec
	SessionState     *prometheus.GaugeVec
	Initializations  *prometheus.CounterVec
	RateLimitedTotal prometheus.Counter
}

// New registers every collector on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signer_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "path"}),
		SignAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signer_sign_attempts_total",
			Help: "Signing attempts against the browser session by outcome",
		}, []string{"outcome"}),
		SignResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signer_sign_requests_total",
			Help: "Signing requests by final result",
		}, []string{"result"}),
		EvalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signer_eval_duration_seconds",
			Help:    "Duration of in-page signing evaluations",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signer_state_transitions_total",
			Help: "Session state transitions",
		}, []string{"from", "to"}),
		SessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signer_session_state",
			Help: "Current session state (1 for the active state)",
		}, []string{"state"}),
		Initializations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signer_session_initializations_total",
			Help: "Browser session initializations by outcome",
		}, []string{"outcome"}),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signer_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.SignAttempts,
		m.SignResults,
		m.EvalDuration,
		m.Transitions,
		m.SessionState,
		m.Initializations,
		m.RateLimitedTotal,
	)
	m.SetState("Uninitialized")
	return m
}

// Handler serves the registry in Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one served HTTP request
func (m *Metrics) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// RecordAttempt records a single attempt; outcome is "ok" or a failure kind
func (m *Metrics) RecordAttempt(outcome string) {
	if m == nil {
		return
	}
	m.SignAttempts.WithLabelValues(outcome).Inc()
}

// RecordResult records the final result of a signing request
func (m *Metrics) RecordResult(result string) {
	if m == nil {
		return
	}
	m.SignResults.WithLabelValues(result).Inc()
}

// ObserveEval records the duration of an in-page evaluation
func (m *Metrics) ObserveEval(d time.Duration) {
	if m == nil {
		return
	}
	m.EvalDuration.Observe(d.Seconds())
}

// RecordInit records a session initialization outcome
func (m *Metrics) RecordInit(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.Initializations.WithLabelValues(outcome).Inc()
}

// RecordTransition counts a transition and moves the state gauge
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
	m.SetState(to)
}

// SetState sets the gauge for state to 1 and every other state to 0
func (m *Metrics) SetState(state string) {
	if m == nil {
		return
	}
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		m.SessionState.WithLabelValues(s).Set(v)
	}
}

// RecordRateLimited counts a rejected request
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}
