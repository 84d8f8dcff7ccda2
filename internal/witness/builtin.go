package witness

import (
	"context"
	"math"
	"time"

	"github.com/meridianhq/tradecore/internal/domain"
)

// Built-in panel. Confidence formulas are tuned against the production
// history of each detector; treat the constants as calibration, not policy.

const defaultValidity = 5 * time.Minute

func newClaim(ct domain.ClaimType, dir domain.Direction, conf float64, constraints map[string]any) *domain.Claim {
	return &domain.Claim{
		Type:        ct,
		Direction:   dir,
		Confidence:  math.Min(conf, 0.95),
		EmittedAt:   time.Now().UTC(),
		ValidFor:    defaultValidity,
		Constraints: constraints,
	}
}

func highestHigh(bars []domain.Bar) float64 {
	h := bars[0].High
	for _, b := range bars[1:] {
		if b.High > h {
			h = b.High
		}
	}
	return h
}

func lowestLow(bars []domain.Bar) float64 {
	l := bars[0].Low
	for _, b := range bars[1:] {
		if b.Low < l {
			l = b.Low
		}
	}
	return l
}

func avgVolume(bars []domain.Bar) float64 {
	var sum float64
	for _, b := range bars {
		sum += b.Volume
	}
	return sum / float64(len(bars))
}

func trueRange(prev, cur domain.Bar) float64 {
	hl := cur.High - cur.Low
	hc := math.Abs(cur.High - prev.Close)
	lc := math.Abs(cur.Low - prev.Close)
	return math.Max(hl, math.Max(hc, lc))
}

func avgTrueRange(bars []domain.Bar) float64 {
	if len(bars) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(bars); i++ {
		sum += trueRange(bars[i-1], bars[i])
	}
	return sum / float64(len(bars)-1)
}

// RangeBreak detects a close beyond a consolidation range. Tier 1.
type RangeBreak struct {
	Lookback int
}

func (RangeBreak) ID() string        { return "range_break" }
func (RangeBreak) Tier() domain.Tier { return domain.Tier1 }

func (w RangeBreak) GenerateClaim(_ context.Context, bars []domain.Bar) (*domain.Claim, error) {
	lookback := w.Lookback
	if lookback <= 0 {
		lookback = 20
	}
	if len(bars) < lookback+1 {
		return nil, nil
	}
	window := bars[len(bars)-lookback-1 : len(bars)-1]
	last := bars[len(bars)-1]
	hi, lo := highestHigh(window), lowestLow(window)
	width := hi - lo
	if width <= 0 {
		return nil, nil
	}
	// Tight ranges break harder; duration and overshoot both add confidence.
	duration := math.Min(float64(lookback)/40.0, 1.0)
	var dir domain.Direction
	var strength float64
	switch {
	case last.Close > hi:
		dir = domain.Long
		strength = math.Min((last.Close-hi)/width, 1.0)
	case last.Close < lo:
		dir = domain.Short
		strength = math.Min((lo-last.Close)/width, 1.0)
	default:
		return nil, nil
	}
	conf := 0.55 + duration*0.2 + strength*0.15
	return newClaim(domain.MarketEligible, dir, conf, map[string]any{
		"signal_type": "range_break",
		"range_width": width,
	}), nil
}

// LiquiditySweep detects a stop-run wick through a prior extreme that
// closes back inside the range. Tier 1.
type LiquiditySweep struct {
	Lookback int
}

func (LiquiditySweep) ID() string        { return "liquidity_sweep" }
func (LiquiditySweep) Tier() domain.Tier { return domain.Tier1 }

func (w LiquiditySweep) GenerateClaim(_ context.Context, bars []domain.Bar) (*domain.Claim, error) {
	lookback := w.Lookback
	if lookback <= 0 {
		lookback = 30
	}
	if len(bars) < lookback+1 {
		return nil, nil
	}
	window := bars[len(bars)-lookback-1 : len(bars)-1]
	last := bars[len(bars)-1]
	hi, lo := highestHigh(window), lowestLow(window)
	barRange := last.High - last.Low
	if barRange <= 0 {
		return nil, nil
	}
	volRatio := 1.0
	if av := avgVolume(window); av > 0 {
		volRatio = last.Volume / av
	}
	// Sweep below the low closing back above it is a long; mirror for highs.
	if last.Low < lo && last.Close > lo {
		wick := (last.Close - last.Low) / barRange
		conf := 0.5 + wick*0.25 + math.Min(volRatio/4.0, 0.2)
		return newClaim(domain.MarketEligible, domain.Long, conf, map[string]any{
			"signal_type":  "liquidity_sweep",
			"swept_level":  lo,
			"volume_ratio": volRatio,
		}), nil
	}
	if last.High > hi && last.Close < hi {
		wick := (last.High - last.Close) / barRange
		conf := 0.5 + wick*0.25 + math.Min(volRatio/4.0, 0.2)
		return newClaim(domain.MarketEligible, domain.Short, conf, map[string]any{
			"signal_type":  "liquidity_sweep",
			"swept_level":  hi,
			"volume_ratio": volRatio,
		}), nil
	}
	return nil, nil
}

// VolatilityRelease detects compression resolving into expansion. Tier 1.
type VolatilityRelease struct {
	Lookback int
}

func (VolatilityRelease) ID() string        { return "volatility_release" }
func (VolatilityRelease) Tier() domain.Tier { return domain.Tier1 }

func (w VolatilityRelease) GenerateClaim(_ context.Context, bars []domain.Bar) (*domain.Claim, error) {
	lookback := w.Lookback
	if lookback <= 0 {
		lookback = 20
	}
	if len(bars) < lookback+1 {
		return nil, nil
	}
	window := bars[len(bars)-lookback-1 : len(bars)-1]
	last := bars[len(bars)-1]
	atr := avgTrueRange(window)
	if atr <= 0 {
		return nil, nil
	}
	expansion := trueRange(window[len(window)-1], last) / atr
	if expansion < 2.0 {
		return nil, nil
	}
	dir := domain.Long
	if last.Close < last.Open {
		dir = domain.Short
	}
	conf := 0.55 + math.Min((expansion-2.0)*0.1, 0.3)
	return newClaim(domain.MarketEligible, dir, conf, map[string]any{
		"signal_type":     "volatility_release",
		"expansion_ratio": expansion,
	}), nil
}

// TimeStructure confirms whether the session window favors the current
// move. Tier 2.
type TimeStructure struct{}

func (TimeStructure) ID() string        { return "time_structure" }
func (TimeStructure) Tier() domain.Tier { return domain.Tier2 }

func (TimeStructure) GenerateClaim(_ context.Context, bars []domain.Bar) (*domain.Claim, error) {
	if len(bars) == 0 {
		return nil, nil
	}
	last := bars[len(bars)-1]
	hour := last.OpenTime().Hour()
	// Overlap of the European and US sessions carries the cleanest follow
	// through; dead hours oppose.
	dir := domain.Long
	if last.Close < last.Open {
		dir = domain.Short
	}
	if hour >= 13 && hour <= 17 {
		return newClaim(domain.RegimeMatched, dir, 0.6, map[string]any{
			"signal_type": "session_overlap",
		}), nil
	}
	if hour >= 21 || hour < 1 {
		return newClaim(domain.RegimeConflict, domain.Undirected, 0.55, map[string]any{
			"signal_type": "dead_session",
		}), nil
	}
	return nil, nil
}

// Microstructure scores bar-level order flow proxies. Tier 2.
type Microstructure struct {
	Lookback int
}

func (Microstructure) ID() string        { return "microstructure" }
func (Microstructure) Tier() domain.Tier { return domain.Tier2 }

func (w Microstructure) GenerateClaim(_ context.Context, bars []domain.Bar) (*domain.Claim, error) {
	lookback := w.Lookback
	if lookback <= 0 {
		lookback = 10
	}
	if len(bars) < lookback {
		return nil, nil
	}
	window := bars[len(bars)-lookback:]
	var up, down float64
	for _, b := range window {
		if b.Close >= b.Open {
			up += b.Volume
		} else {
			down += b.Volume
		}
	}
	total := up + down
	if total <= 0 {
		return nil, nil
	}
	imbalance := (up - down) / total
	if math.Abs(imbalance) < 0.2 {
		return nil, nil
	}
	dir := domain.Long
	if imbalance < 0 {
		dir = domain.Short
	}
	conf := 0.5 + math.Min(math.Abs(imbalance)*0.5, 0.3)
	return newClaim(domain.RegimeMatched, dir, conf, map[string]any{
		"signal_type":      "flow_imbalance",
		"volume_imbalance": imbalance,
	}), nil
}

// RiskSentinel vetoes on disorderly tape: single-bar moves beyond the
// crash threshold. Tier 3, protected.
type RiskSentinel struct {
	CrashMovePct float64
}

func (RiskSentinel) ID() string        { return "risk_sentinel" }
func (RiskSentinel) Tier() domain.Tier { return domain.Tier3 }

func (RiskSentinel) Capabilities() []Capability { return []Capability{CapClaimGeneration} }

func (w RiskSentinel) GenerateClaim(_ context.Context, bars []domain.Bar) (*domain.Claim, error) {
	threshold := w.CrashMovePct
	if threshold <= 0 {
		threshold = 0.05
	}
	if len(bars) < 2 {
		return nil, nil
	}
	prev, last := bars[len(bars)-2], bars[len(bars)-1]
	move := math.Abs(last.Close-prev.Close) / prev.Close
	if move < threshold {
		return nil, nil
	}
	conf := math.Min(0.8+move, 0.95)
	return newClaim(domain.ExecutionVeto, domain.Undirected, conf, map[string]any{
		"signal_type": "disorderly_tape",
		"move_pct":    move,
	}), nil
}

// MacroSentinel vetoes around configured blackout windows (scheduled macro
// releases). Tier 3, protected.
type MacroSentinel struct {
	Blackouts []BlackoutWindow
	now       func() time.Time
}

// BlackoutWindow is a UTC interval during which execution is vetoed.
type BlackoutWindow struct {
	Start time.Time `yaml:"start"`
	End   time.Time `yaml:"end"`
	Label string    `yaml:"label"`
}

// NewMacroSentinel builds the sentinel over the given calendar.
func NewMacroSentinel(blackouts []BlackoutWindow) *MacroSentinel {
	return &MacroSentinel{Blackouts: blackouts, now: func() time.Time { return time.Now().UTC() }}
}

func (*MacroSentinel) ID() string        { return "macro_sentinel" }
func (*MacroSentinel) Tier() domain.Tier { return domain.Tier3 }

func (*MacroSentinel) Capabilities() []Capability { return []Capability{CapClaimGeneration} }

func (w *MacroSentinel) GenerateClaim(_ context.Context, _ []domain.Bar) (*domain.Claim, error) {
	nowFn := w.now
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	now := nowFn()
	for _, bw := range w.Blackouts {
		if !now.Before(bw.Start) && now.Before(bw.End) {
			return newClaim(domain.ExecutionVeto, domain.Undirected, 0.9, map[string]any{
				"signal_type": "macro_blackout",
				"label":       bw.Label,
			}), nil
		}
	}
	return nil, nil
}
