// Package learning holds the contract by which the optimizer nudges
// learning factors. The heuristics stay simple on purpose: the weight
// manager's clamps and drift budget bound whatever this produces.
package learning

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meridianhq/tradecore/internal/health"
	"github.com/meridianhq/tradecore/internal/weight"
)

const (
	// Adjustment thresholds on rolling win rate.
	raiseAbove = 0.55
	lowerBelow = 0.50
	step       = 0.05

	// minSample gates any adjustment at all.
	minSample = 30

	// Interval is the optimizer cadence.
	Interval = 7 * 24 * time.Hour
)

// Optimizer runs the weekly learning-factor pass.
type Optimizer struct {
	health  *health.Manager
	weights *weight.Manager
}

// NewOptimizer wires the optimizer to its inputs.
func NewOptimizer(h *health.Manager, w *weight.Manager) *Optimizer {
	return &Optimizer{health: h, weights: w}
}

// Adjust applies one pass over the given witnesses: sustained winners gain
// a step of learning factor, sustained losers lose one. The setter clamps
// and enforces the daily drift budget; this code never bypasses it.
func (o *Optimizer) Adjust(ctx context.Context, witnessIDs []string) {
	for _, id := range witnessIDs {
		snap := o.health.Snapshot(id)
		if snap.SampleCount < minSample {
			continue
		}
		current := o.weights.Get(id).LearningFactor
		var target float64
		switch {
		case snap.WinRate >= raiseAbove:
			target = current + step
		case snap.WinRate < lowerBelow:
			target = current - step
		default:
			continue
		}
		applied := o.weights.SetLearningFactor(ctx, id, target, "learning_optimizer")
		log.Info().
			Str("witness_id", id).
			Float64("win_rate", snap.WinRate).
			Float64("target", target).
			Float64("applied", applied).
			Msg("learning factor adjusted")
	}
}

// Run executes Adjust on the weekly cadence until ctx ends. ids supplies
// the current witness set on each pass.
func (o *Optimizer) Run(ctx context.Context, ids func() []string) {
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Adjust(ctx, ids())
		}
	}
}
