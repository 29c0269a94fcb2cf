// Package metrics exposes Prometheus instruments for the donation lifecycle
// and the fulfillment protocol. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	// Stage transitions by source and target stage
	Transitions *prometheus.CounterVec

	// Rejected transition attempts by reason
	TransitionErrors *prometheus.CounterVec

	// Optimistic-concurrency retries on donation saves
	VersionConflicts prometheus.Counter

	// Time spent inside a locked read-modify-write cycle
	MutationLatency prometheus.Histogram

	// Fulfillment step outcomes: path is "success" or "failure"
	FulfillmentSteps *prometheus.CounterVec

	// Donations re-driven by the reconciler
	Reconciled *prometheus.CounterVec

	// HTTP requests dropped by the rate limiter
	RateLimited prometheus.Counter

	gatherer prometheus.Gatherer
}

// New registers all instruments on reg. Passing prometheus.NewRegistry()
// keeps tests isolated from the global default registry.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodnet_donation_transitions_total",
			Help: "Donation stage transitions by source and target stage",
		}, []string{"from", "to"}),

		TransitionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodnet_donation_transition_errors_total",
			Help: "Refused or failed donation mutations by reason",
		}, []string{"reason"}),

		VersionConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "bloodnet_donation_version_conflicts_total",
			Help: "Donation saves retried after a version conflict",
		}),

		MutationLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "bloodnet_donation_mutation_duration_seconds",
			Help:    "Duration of a locked donation read-modify-write cycle",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		FulfillmentSteps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodnet_fulfillment_steps_total",
			Help: "Fulfillment protocol steps by path, step and result",
		}, []string{"path", "step", "result"}),

		Reconciled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodnet_fulfillment_reconciled_total",
			Help: "Donations re-driven through fulfillment by the reconciler",
		}, []string{"result"}),

		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "bloodnet_http_rate_limited_total",
			Help: "HTTP requests rejected by the rate limiter",
		}),

		gatherer: reg,
	}
}

// ObserveTransition counts a successful stage move.
func (m *Metrics) ObserveTransition(from, to string) {
	if m != nil {
		m.Transitions.WithLabelValues(from, to).Inc()
	}
}

// IncTransitionError counts a refused mutation.
func (m *Metrics) IncTransitionError(reason string) {
	if m != nil {
		m.TransitionErrors.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) IncVersionConflict() {
	if m != nil {
		m.VersionConflicts.Inc()
	}
}

func (m *Metrics) ObserveMutation(d time.Duration) {
	if m != nil {
		m.MutationLatency.Observe(d.Seconds())
	}
}

// IncFulfillmentStep records one step of the success or failure path.
// result is one of "ok", "skipped" or "error".
func (m *Metrics) IncFulfillmentStep(path, step, result string) {
	if m != nil {
		m.FulfillmentSteps.WithLabelValues(path, step, result).Inc()
	}
}

func (m *Metrics) IncReconciled(result string) {
	if m != nil {
		m.Reconciled.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncRateLimited() {
	if m != nil {
		m.RateLimited.Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
