// Package metrics centralizes the Prometheus collectors used across the
// decision loop so every component shares one registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all collectors. Construct once at startup and pass by
// pointer; nil-safe helpers let tests run without metrics wired.
type Registry struct {
	InvalidClaims    prometheus.Counter
	ExpiredClaims    prometheus.Counter
	WitnessPanics    *prometheus.CounterVec
	StepDuration     *prometheus.HistogramVec
	CycleDuration    prometheus.Histogram
	RiskRejections   *prometheus.CounterVec
	StateTransitions *prometheus.CounterVec
	FanoutResults    *prometheus.CounterVec
	ActiveWitnesses  *prometheus.GaugeVec
	SystemState      *prometheus.GaugeVec
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
}

// NewRegistry builds the collector set and registers it on reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		InvalidClaims: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradecore_invalid_claims_total",
			Help: "Claims dropped for failing validation or tier legality",
		}),
		ExpiredClaims: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradecore_expired_claims_total",
			Help: "Claims dropped for exceeding their validity window",
		}),
		WitnessPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradecore_witness_panics_total",
			Help: "Panics recovered during claim generation",
		}, []string{"witness_id"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tradecore_loop_step_duration_seconds",
			Help:    "Duration of each decision loop step",
			Buckets: prometheus.DefBuckets,
		}, []string{"step"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradecore_cycle_duration_seconds",
			Help:    "End-to-end decision cycle duration",
			Buckets: prometheus.DefBuckets,
		}),
		RiskRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradecore_risk_rejections_total",
			Help: "Risk engine rejections by domain and level",
		}, []string{"domain", "level"}),
		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradecore_state_transitions_total",
			Help: "State machine transitions, including rejected attempts",
		}, []string{"from", "to", "accepted"}),
		FanoutResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradecore_fanout_results_total",
			Help: "Per-user execution outcomes by terminal flag",
		}, []string{"flag"}),
		ActiveWitnesses: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tradecore_active_witnesses",
			Help: "Registered non-muted witnesses by tier",
		}, []string{"tier"}),
		SystemState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tradecore_system_state",
			Help: "Current system state (1 for the active state, 0 otherwise)",
		}, []string{"state"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradecore_bar_cache_hits_total",
			Help: "Bar cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradecore_bar_cache_misses_total",
			Help: "Bar cache misses",
		}),
	}
	reg.MustRegister(
		m.InvalidClaims, m.ExpiredClaims, m.WitnessPanics,
		m.StepDuration, m.CycleDuration,
		m.RiskRejections, m.StateTransitions, m.FanoutResults,
		m.ActiveWitnesses, m.SystemState,
		m.CacheHits, m.CacheMisses,
	)
	return m
}

// ObserveStep records one step duration. No-op on a nil registry.
func (m *Registry) ObserveStep(step string, seconds float64) {
	if m == nil {
		return
	}
	m.StepDuration.WithLabelValues(step).Observe(seconds)
}

// MarkState sets the state gauge family so exactly one state reads 1.
func (m *Registry) MarkState(states []string, current string) {
	if m == nil {
		return
	}
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1.0
		}
		m.SystemState.WithLabelValues(s).Set(v)
	}
}
