// Package metrics defines the Prometheus collectors of the seat sync
// service.  A nil *Metrics is valid and records nothing, so components
// built in tests need no registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector the service exports.
type Metrics struct {
	// HTTPRequestsTotal counts control API requests (method, path, status_code).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTPRequestDuration observes control API latency (method, path).
	HTTPRequestDuration *prometheus.HistogramVec

	// AuthorityCallDuration observes lock authority calls
	// (operation: fetch/lock/extend/release/validate/order, status: ok/error kind).
	AuthorityCallDuration *prometheus.HistogramVec

	// ActionsTotal counts coordinated actions (kind, result).
	ActionsTotal *prometheus.CounterVec

	// ConflictsTotal counts seats taken away from the session (reason).
	ConflictsTotal *prometheus.CounterVec

	// PushEventsTotal counts decoded push events (type).
	PushEventsTotal *prometheus.CounterVec

	// PushReconnectsTotal counts push channel reconnect attempts.
	PushReconnectsTotal prometheus.Counter

	// PushConnected is 1 while the push channel is connected.
	PushConnected prometheus.Gauge

	// LeaseSecondsRemaining is the remaining lifetime of the active lease
	// (0 when there is none).
	LeaseSecondsRemaining prometheus.Gauge

	// SelectedSeats is the number of seats held by the session.
	SelectedSeats prometheus.Gauge
}

// New creates collectors registered with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		AuthorityCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "seat_authority_call_duration_seconds",
				Help:    "Latency of calls to the seat lock authority",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"operation", "status"},
		),
		ActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seat_actions_total",
				Help: "Total number of coordinated seat actions",
			},
			[]string{"kind", "result"},
		),
		ConflictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seat_conflicts_total",
				Help: "Seats taken away from the session by the authority",
			},
			[]string{"reason"},
		),
		PushEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seat_push_events_total",
				Help: "Push events received on the seat channel",
			},
			[]string{"type"},
		),
		PushReconnectsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "seat_push_reconnects_total",
				Help: "Reconnect attempts of the push channel",
			},
		),
		PushConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "seat_push_connected",
				Help: "Whether the push channel is connected (1) or not (0)",
			},
		),
		LeaseSecondsRemaining: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "seat_lease_seconds_remaining",
				Help: "Remaining lifetime of the active lease",
			},
		),
		SelectedSeats: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "seat_selected_seats",
				Help: "Number of seats held by the session",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthorityCallDuration,
		m.ActionsTotal,
		m.ConflictsTotal,
		m.PushEventsTotal,
		m.PushReconnectsTotal,
		m.PushConnected,
		m.LeaseSecondsRemaining,
		m.SelectedSeats,
	)

	return m
}

// ObserveAuthorityCall records the latency of one authority call.
func (m *Metrics) ObserveAuthorityCall(op, status string, started time.Time) {
	if m == nil {
		return
	}
	m.AuthorityCallDuration.WithLabelValues(op, status).Observe(time.Since(started).Seconds())
}

// IncAction counts one finished action.
func (m *Metrics) IncAction(kind, result string) {
	if m == nil {
		return
	}
	m.ActionsTotal.WithLabelValues(kind, result).Inc()
}

// IncConflict counts one seat conflict.
func (m *Metrics) IncConflict(reason string) {
	if m == nil {
		return
	}
	m.ConflictsTotal.WithLabelValues(reason).Inc()
}

// IncPushEvent counts one decoded push event.
func (m *Metrics) IncPushEvent(eventType string) {
	if m == nil {
		return
	}
	m.PushEventsTotal.WithLabelValues(eventType).Inc()
}

// IncReconnect counts one push reconnect attempt.
func (m *Metrics) IncReconnect() {
	if m == nil {
		return
	}
	m.PushReconnectsTotal.Inc()
}

// SetPushConnected publishes the push channel state.
func (m *Metrics) SetPushConnected(connected bool) {
	if m == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1
	}
	m.PushConnected.Set(v)
}

// SetLease publishes the lease gauges.
func (m *Metrics) SetLease(secondsRemaining, seats int) {
	if m == nil {
		return
	}
	m.LeaseSecondsRemaining.Set(float64(secondsRemaining))
	m.SelectedSeats.Set(float64(seats))
}

// ObserveHTTP records one control API request.
func (m *Metrics) ObserveHTTP(method, path, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
