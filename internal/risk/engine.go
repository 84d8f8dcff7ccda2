package risk

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/meridianhq/tradecore/internal/audit"
	"github.com/meridianhq/tradecore/internal/domain"
	"github.com/meridianhq/tradecore/internal/metrics"
)

// Engine runs every checker on each evaluation and aggregates by maximum
// severity. No short-circuit: a locked account still surfaces every other
// violated domain in the sub-results.
type Engine struct {
	thresholds Thresholds
	checkers   []Checker
	guard      *CorrelationGuard
	store      audit.Store
	metrics    *metrics.Registry
}

// NewEngine builds the standard five-domain engine. store and m may be nil.
func NewEngine(t Thresholds, store audit.Store, m *metrics.Registry) *Engine {
	t = t.Normalize()
	return &Engine{
		thresholds: t,
		checkers: []Checker{
			AccountSurvival{T: t},
			ExecutionIntegrity{T: t},
			Regime{},
			Behavior{T: t},
			System{T: t},
		},
		guard:   NewCorrelationGuard(0),
		store:   store,
		metrics: m,
	}
}

// Guard exposes the correlation guard for claim observation.
func (e *Engine) Guard() *CorrelationGuard { return e.guard }

// Thresholds returns the normalized working thresholds.
func (e *Engine) Thresholds() Thresholds { return e.thresholds }

// Evaluate runs all checkers against one context snapshot.
func (e *Engine) Evaluate(ctx context.Context, rc Context, correlationID uuid.UUID) Result {
	res := Result{Approved: true, Level: domain.RiskNormal}
	for _, checker := range e.checkers {
		sub := checker.Check(rc)
		res.SubResults = append(res.SubResults, sub)
		res.Level = domain.MaxRiskLevel(res.Level, sub.Level)
		if !sub.Approved {
			res.Approved = false
			if res.Reason == "" || sub.Level.Severity() > domain.RiskNormal.Severity() {
				res.Reason = sub.Reason
			}
			if e.metrics != nil {
				e.metrics.RiskRejections.WithLabelValues(sub.Domain, string(sub.Level)).Inc()
			}
		}
	}

	if warn, reason := e.guard.Check(); warn {
		sub := warning("correlation", reason)
		res.SubResults = append(res.SubResults, sub)
		res.Level = domain.MaxRiskLevel(res.Level, sub.Level)
	}

	if !res.Approved {
		log.Warn().
			Str("level", string(res.Level)).
			Str("reason", res.Reason).
			Msg("risk engine denied")
		e.record(ctx, correlationID, res)
	}
	return res
}

func (e *Engine) record(ctx context.Context, correlationID uuid.UUID, res Result) {
	if e.store == nil {
		return
	}
	rec := audit.NewRecord(audit.StreamRiskEvents, "risk_engine", correlationID, res)
	if err := e.store.Append(ctx, rec); err != nil {
		log.Error().Err(err).Msg("risk event audit append failed")
	}
}
