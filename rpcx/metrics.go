package rpcx

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects the request-layer counters. All methods are nil-safe so
// callers that don't care about observability pass nothing.
type Metrics struct {
	requests     *prometheus.CounterVec
	retries      prometheus.Counter
	breakerTrips prometheus.Counter
	breakerState prometheus.Gauge
	dedupHits    prometheus.Counter
	poolSize     prometheus.Gauge
	poolIdle     prometheus.Gauge
	decodeErrors prometheus.Counter
}

// NewMetrics registers the engine's collectors on reg (use
// prometheus.DefaultRegisterer for the process default).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "anchorlink_requests_total",
			Help: "RPC requests by method and outcome.",
		}, []string{"method", "outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anchorlink_retries_total",
			Help: "Retry attempts issued after a retryable failure.",
		}),
		breakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anchorlink_breaker_trips_total",
			Help: "Circuit breaker transitions into the open state.",
		}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "anchorlink_breaker_state",
			Help: "Current breaker state (0 closed, 1 open, 2 half-open).",
		}),
		dedupHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anchorlink_dedup_hits_total",
			Help: "Requests coalesced onto an identical in-flight call.",
		}),
		poolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "anchorlink_pool_connections",
			Help: "Connections currently owned by the pool.",
		}),
		poolIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "anchorlink_pool_idle_connections",
			Help: "Idle connections currently in the pool.",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anchorlink_event_decode_errors_total",
			Help: "Malformed or truncated event data blocks skipped.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.requests, m.retries, m.breakerTrips, m.breakerState,
			m.dedupHits, m.poolSize, m.poolIdle, m.decodeErrors,
		)
	}
	return m
}

func (m *Metrics) observeRequest(method, outcome string) {
	if m != nil {
		m.requests.WithLabelValues(method, outcome).Inc()
	}
}

func (m *Metrics) observeRetry() {
	if m != nil {
		m.retries.Inc()
	}
}

func (m *Metrics) observeBreaker(from, to BreakerState) {
	if m == nil {
		return
	}
	m.breakerState.Set(float64(to))
	if to == StateOpen {
		m.breakerTrips.Inc()
	}
}

func (m *Metrics) observeDedupHit() {
	if m != nil {
		m.dedupHits.Inc()
	}
}

func (m *Metrics) observePool(size, idle int) {
	if m != nil {
		m.poolSize.Set(float64(size))
		m.poolIdle.Set(float64(idle))
	}
}

// ObserveDecodeError counts a malformed event data block. Exposed for the
// event subsystem, which shares this registry.
func (m *Metrics) ObserveDecodeError() {
	if m != nil {
		m.decodeErrors.Inc()
	}
}
