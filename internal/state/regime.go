package state

import (
	"time"

	"github.com/meridianhq/tradecore/internal/domain"
)

// signalRegimes maps the dominant claim's signal_type constraint to the
// advisory trade regime.
var signalRegimes = map[string]domain.TradeRegime{
	"range_break":        domain.RangeStructureBreak,
	"volatility_release": domain.VolatilityExpansion,
	"liquidity_sweep":    domain.LiquiditySweep,
	"trend_continuation": domain.TrendContinuation,
	"mean_reversion":     domain.MeanReversion,
}

// RegimeFor derives the advisory regime from the dominant claim. A nil
// dominant or unknown signal yields NO_REGIME.
func RegimeFor(dominant *domain.Claim) domain.TradeRegime {
	if dominant == nil {
		return domain.NoRegime
	}
	signal, ok := dominant.ConstraintString("signal_type")
	if !ok {
		return domain.NoRegime
	}
	if regime, ok := signalRegimes[signal]; ok {
		return regime
	}
	return domain.NoRegime
}

// RegimeConstraints is the advisory envelope the executor reads per regime.
// Never binding: per-user limits and the risk engine still apply on top.
type RegimeConstraints struct {
	MaxPositionRatio float64
	MaxHolding       time.Duration
	StopLossPct      float64
	TakeProfitPct    float64
}

var regimeConstraints = map[domain.TradeRegime]RegimeConstraints{
	domain.VolatilityExpansion: {MaxPositionRatio: 0.03, MaxHolding: 4 * time.Hour, StopLossPct: 0.02, TakeProfitPct: 0.06},
	domain.RangeStructureBreak: {MaxPositionRatio: 0.05, MaxHolding: 8 * time.Hour, StopLossPct: 0.015, TakeProfitPct: 0.045},
	domain.LiquiditySweep:      {MaxPositionRatio: 0.04, MaxHolding: 2 * time.Hour, StopLossPct: 0.01, TakeProfitPct: 0.03},
	domain.TrendContinuation:   {MaxPositionRatio: 0.05, MaxHolding: 24 * time.Hour, StopLossPct: 0.02, TakeProfitPct: 0.08},
	domain.MeanReversion:       {MaxPositionRatio: 0.03, MaxHolding: 6 * time.Hour, StopLossPct: 0.012, TakeProfitPct: 0.025},
}

// ConstraintsFor returns the advisory envelope for regime. NO_REGIME gets
// the most conservative defaults.
func ConstraintsFor(regime domain.TradeRegime) RegimeConstraints {
	if c, ok := regimeConstraints[regime]; ok {
		return c
	}
	return RegimeConstraints{MaxPositionRatio: 0.02, MaxHolding: time.Hour, StopLossPct: 0.01, TakeProfitPct: 0.02}
}
