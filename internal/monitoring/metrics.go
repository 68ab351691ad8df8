package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_relay_requests_total",
			Help: "Total number of requests",
		},
		[]string{"endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_relay_requests_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 240},
		},
		[]string{"endpoint"},
	)

	DispatchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_relay_dispatch_attempts_total",
			Help: "Total number of backend dispatch attempts by outcome",
		},
		[]string{"outcome"},
	)

	RetriesExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_relay_retries_exhausted_total",
			Help: "Total number of requests that failed after exhausting all retries",
		},
	)

	TokenRotations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_relay_token_rotations_total",
			Help: "Total number of token cursor rotations",
		},
	)

	BadTokenMarks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_relay_bad_token_marks_total",
			Help: "Total number of tokens marked bad",
		},
	)

	BadTokenResets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_relay_bad_token_resets_total",
			Help: "Total number of times the bad token set was cleared because every token was bad",
		},
	)

	PoolTokens = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_relay_pool_tokens",
			Help: "Number of tokens loaded into the credential pool",
		},
	)

	PoolTokensBad = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_relay_pool_tokens_bad",
			Help: "Number of tokens currently excluded from rotation",
		},
	)

	ProxyHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_relay_proxy_healthy",
			Help: "Health of each outbound proxy (1 = last attempt succeeded, 0 = failed)",
		},
		[]string{"proxy"},
	)

	SupervisorRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_relay_supervisor_restarts_total",
			Help: "Total number of backend client restarts triggered by fatal errors",
		},
	)
)

type Metrics struct {
	enabled bool
}

func New(enabled bool) *Metrics {
	return &Metrics{
		enabled: enabled,
	}
}

func (m *Metrics) isEnabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) RecordRequest(endpoint string, statusCode int, duration time.Duration) {
	if !m.isEnabled() {
		return
	}

	status := strconv.Itoa(statusCode)
	RequestsTotal.WithLabelValues(endpoint, status).Inc()
	RequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordAttempt counts one dispatch attempt. outcome is "success" or an error kind.
func (m *Metrics) RecordAttempt(outcome string) {
	if !m.isEnabled() {
		return
	}
	DispatchAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordRetriesExhausted() {
	if !m.isEnabled() {
		return
	}
	RetriesExhausted.Inc()
}

func (m *Metrics) UpdateProxyHealth(proxy string, healthy bool) {
	if !m.isEnabled() {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	ProxyHealthy.WithLabelValues(proxy).Set(value)
}

func (m *Metrics) RecordSupervisorRestart() {
	if !m.isEnabled() {
		return
	}
	SupervisorRestarts.Inc()
}
