package witness

import (
	"context"
	"fmt"
	"math"

	"github.com/meridianhq/tradecore/internal/domain"
)

// EventDef is a declarative witness definition: a named set of feature
// conditions that, when all hold on the latest bars, emits a fixed claim.
// Definitions are data, loaded from config; no code is generated for them.
type EventDef struct {
	Name           string           `yaml:"name"`
	Tier           domain.Tier      `yaml:"tier"`
	ClaimType      domain.ClaimType `yaml:"claim_type"`
	Direction      domain.Direction `yaml:"direction"`
	BaseConfidence float64          `yaml:"base_confidence"`
	Lookback       int              `yaml:"lookback"`
	Conditions     []Condition      `yaml:"conditions"`
}

// Condition compares one bar feature against a threshold.
type Condition struct {
	Feature string  `yaml:"feature"`
	Op      string  `yaml:"op"` // gt, gte, lt, lte
	Value   float64 `yaml:"value"`
}

// Validate rejects definitions that could not produce a legal claim.
func (d EventDef) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("event definition missing name")
	}
	if d.Tier == domain.Tier3 {
		return fmt.Errorf("%w: event definition %s targets tier_3", domain.ErrArchitectureViolation, d.Name)
	}
	if !domain.ClaimAllowed(d.Tier, d.ClaimType) {
		return fmt.Errorf("%w: event definition %s: tier %s may not emit %s",
			domain.ErrInvalidClaim, d.Name, d.Tier, d.ClaimType)
	}
	if d.BaseConfidence <= 0 || d.BaseConfidence > 0.95 {
		return fmt.Errorf("event definition %s: base confidence %.3f outside (0, 0.95]", d.Name, d.BaseConfidence)
	}
	for _, c := range d.Conditions {
		if _, ok := featureFns[c.Feature]; !ok {
			return fmt.Errorf("event definition %s: unknown feature %q", d.Name, c.Feature)
		}
		switch c.Op {
		case "gt", "gte", "lt", "lte":
		default:
			return fmt.Errorf("event definition %s: unknown op %q", d.Name, c.Op)
		}
	}
	return nil
}

// featureFns computes named features over the lookback window (all bars but
// the last) and the latest bar.
var featureFns = map[string]func(window []domain.Bar, last domain.Bar) float64{
	"close": func(_ []domain.Bar, last domain.Bar) float64 { return last.Close },
	"body_pct": func(_ []domain.Bar, last domain.Bar) float64 {
		r := last.High - last.Low
		if r <= 0 {
			return 0
		}
		return math.Abs(last.Close-last.Open) / r
	},
	"range_position": func(window []domain.Bar, last domain.Bar) float64 {
		hi, lo := highestHigh(window), lowestLow(window)
		if hi <= lo {
			return 0.5
		}
		return (last.Close - lo) / (hi - lo)
	},
	"volume_ratio": func(window []domain.Bar, last domain.Bar) float64 {
		av := avgVolume(window)
		if av <= 0 {
			return 0
		}
		return last.Volume / av
	},
	"atr_ratio": func(window []domain.Bar, last domain.Bar) float64 {
		atr := avgTrueRange(window)
		if atr <= 0 {
			return 0
		}
		return trueRange(window[len(window)-1], last) / atr
	},
	"return_pct": func(window []domain.Bar, last domain.Bar) float64 {
		prev := window[len(window)-1]
		if prev.Close <= 0 {
			return 0
		}
		return (last.Close - prev.Close) / prev.Close
	},
}

func (c Condition) holds(v float64) bool {
	switch c.Op {
	case "gt":
		return v > c.Value
	case "gte":
		return v >= c.Value
	case "lt":
		return v < c.Value
	case "lte":
		return v <= c.Value
	}
	return false
}

// EventWitness evaluates one EventDef per cycle.
type EventWitness struct {
	def EventDef
}

// NewEventWitness validates def and wraps it as a witness.
func NewEventWitness(def EventDef) (*EventWitness, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if def.Lookback <= 0 {
		def.Lookback = 20
	}
	return &EventWitness{def: def}, nil
}

func (w *EventWitness) ID() string        { return w.def.Name }
func (w *EventWitness) Tier() domain.Tier { return w.def.Tier }

func (w *EventWitness) Capabilities() []Capability { return []Capability{CapClaimGeneration} }

// GenerateClaim emits the definition's claim when every condition holds.
func (w *EventWitness) GenerateClaim(_ context.Context, bars []domain.Bar) (*domain.Claim, error) {
	if len(bars) < w.def.Lookback+1 {
		return nil, nil
	}
	window := bars[len(bars)-w.def.Lookback-1 : len(bars)-1]
	last := bars[len(bars)-1]
	for _, c := range w.def.Conditions {
		if !c.holds(featureFns[c.Feature](window, last)) {
			return nil, nil
		}
	}
	return newClaim(w.def.ClaimType, w.def.Direction, w.def.BaseConfidence, map[string]any{
		"signal_type": w.def.Name,
	}), nil
}
