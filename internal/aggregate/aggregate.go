// Package aggregate resolves one cycle's claim set into a single tradeable
// decision or a refusal.
package aggregate

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meridianhq/tradecore/internal/domain"
)

// Config is the aggregator's tunable surface.
type Config struct {
	// Tier2BaseFactor scales every supporting or opposing contribution.
	Tier2BaseFactor float64 `yaml:"tier2_base_factor"`
	// ConfidenceThreshold is the tradeability cutoff on total confidence.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Tier2BaseFactor:     0.1,
		ConfidenceThreshold: 0.6,
	}
}

const (
	// confidenceCeiling keeps the system from ever treating a signal as
	// certain.
	confidenceCeiling = 0.95
	// oppositionScale halves opposing contributions so weak disagreement
	// cannot fully cancel strong agreement.
	oppositionScale = 0.5
	// conflictBand is the relative confidence band within which two
	// opposing tier-1 eligibility claims refuse resolution.
	conflictBand = 0.10
)

// Outcome pairs the resolved result with the dominant claim for regime
// derivation downstream.
type Outcome struct {
	Result   domain.AggregatedResult
	Dominant *domain.Claim
}

// Resolver applies the resolution algorithm with a fixed config and a
// per-cycle weight snapshot.
type Resolver struct {
	cfg Config
}

// NewResolver builds a resolver. Zero config fields fall back to defaults.
func NewResolver(cfg Config) *Resolver {
	def := DefaultConfig()
	if cfg.Tier2BaseFactor <= 0 {
		cfg.Tier2BaseFactor = def.Tier2BaseFactor
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = def.ConfidenceThreshold
	}
	return &Resolver{cfg: cfg}
}

// Resolve turns claims into an Outcome. weights is a stable snapshot of
// effective weights keyed by witness id; missing entries count as 1.0.
//
// Ordering: expiry filter, veto short-circuit, dominant selection,
// conflict refusal, weighted support and opposition, ceiling clamp.
func (r *Resolver) Resolve(claims []domain.Claim, weights map[string]float64, now time.Time) Outcome {
	res := domain.AggregatedResult{
		Resolution: domain.ResolutionNoDominant,
		Direction:  domain.Undirected,
		Regime:     domain.NoRegime,
		ResolvedAt: now,
	}

	live := make([]domain.Claim, 0, len(claims))
	for _, c := range claims {
		if c.Expired(now) {
			res.DroppedExpired++
			continue
		}
		live = append(live, c)
	}
	res.ClaimCount = len(live)

	// Any veto ends the cycle before weights are even consulted.
	for _, c := range live {
		if c.Tier == domain.Tier3 && c.Type == domain.ExecutionVeto {
			res.Resolution = domain.ResolutionVetoed
			res.VetoedBy = c.WitnessID
			log.Info().Str("witness_id", c.WitnessID).Msg("cycle vetoed")
			return Outcome{Result: res}
		}
	}

	dominant := pickDominant(live)
	if dominant == nil {
		return Outcome{Result: res}
	}

	if conflicted(live, dominant) {
		res.Resolution = domain.ResolutionRegimeUnclear
		log.Info().
			Str("dominant", dominant.WitnessID).
			Msg("opposing tier-1 eligibility claims within conflict band")
		return Outcome{Result: res}
	}

	total := dominant.Confidence
	for i := range live {
		c := &live[i]
		if c.WitnessID == dominant.WitnessID || c.Direction == domain.Undirected {
			continue
		}
		w, ok := weights[c.WitnessID]
		if !ok {
			w = 1.0
		}
		contribution := c.Confidence * w * r.cfg.Tier2BaseFactor
		if c.Direction == dominant.Direction {
			total += contribution
		} else {
			total -= contribution * oppositionScale
		}
	}
	total = math.Max(0, math.Min(total, confidenceCeiling))

	res.Resolution = domain.ResolutionResolved
	res.TotalConfidence = total
	res.Direction = dominant.Direction
	res.DominantWitness = dominant.WitnessID
	res.Tradeable = total >= r.cfg.ConfidenceThreshold
	return Outcome{Result: res, Dominant: dominant}
}

// pickDominant selects the highest-confidence directional tier-1 claim,
// breaking exact ties by witness id for determinism.
func pickDominant(claims []domain.Claim) *domain.Claim {
	var candidates []*domain.Claim
	for i := range claims {
		c := &claims[i]
		if c.Tier == domain.Tier1 && (c.Direction == domain.Long || c.Direction == domain.Short) {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return candidates[i].WitnessID < candidates[j].WitnessID
	})
	return candidates[0]
}

// conflicted reports whether a tier-1 MARKET_ELIGIBLE claim opposes the
// dominant direction with confidence within the conflict band.
func conflicted(claims []domain.Claim, dominant *domain.Claim) bool {
	if dominant.Type != domain.MarketEligible {
		return false
	}
	for i := range claims {
		c := &claims[i]
		if c.Tier != domain.Tier1 || c.Type != domain.MarketEligible {
			continue
		}
		if c.Direction == domain.Undirected || c.Direction == dominant.Direction {
			continue
		}
		if dominant.Confidence <= 0 {
			return true
		}
		if (dominant.Confidence-c.Confidence)/dominant.Confidence <= conflictBand {
			return true
		}
	}
	return false
}
