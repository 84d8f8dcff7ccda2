// Package risk gates every trading decision through five domain checkers
// and aggregates their verdicts by maximum severity.
package risk

import (
	"time"

	"github.com/meridianhq/tradecore/internal/domain"
)

// Hard floors. Operator config may tighten these, never widen them.
const (
	MaxDrawdownFloor       = 0.20
	DailyMaxLossFloor      = 0.03
	WeeklyMaxLossFloor     = 0.10
	ConsecutiveLossLimit   = 3
	MaxSinglePositionFloor = 0.05
	MaxTotalPositionFloor  = 0.30
	MaxLeverageFloor       = 5.0

	NormalCooldownFloor     = 600 * time.Second
	StopLossCooldownFloor   = 1200 * time.Second
	LossStreakCooldownFloor = 3600 * time.Second
)

// Thresholds is the operator-owned risk configuration. Not learnable.
type Thresholds struct {
	MaxDrawdown        float64       `yaml:"max_drawdown"`
	DailyMaxLoss       float64       `yaml:"daily_max_loss"`
	WeeklyMaxLoss      float64       `yaml:"weekly_max_loss"`
	ConsecutiveLosses  int           `yaml:"consecutive_losses"`
	MaxSinglePosition  float64       `yaml:"max_single_position"`
	MaxTotalPosition   float64       `yaml:"max_total_position"`
	MaxLeverage        float64       `yaml:"max_leverage"`
	NormalCooldown     time.Duration `yaml:"normal_cooldown"`
	StopLossCooldown   time.Duration `yaml:"stop_loss_cooldown"`
	LossStreakCooldown time.Duration `yaml:"loss_streak_cooldown"`
	MaxBarAge          time.Duration `yaml:"max_bar_age"`
}

// DefaultThresholds returns the hard floors as the working config.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxDrawdown:        MaxDrawdownFloor,
		DailyMaxLoss:       DailyMaxLossFloor,
		WeeklyMaxLoss:      WeeklyMaxLossFloor,
		ConsecutiveLosses:  ConsecutiveLossLimit,
		MaxSinglePosition:  MaxSinglePositionFloor,
		MaxTotalPosition:   MaxTotalPositionFloor,
		MaxLeverage:        MaxLeverageFloor,
		NormalCooldown:     NormalCooldownFloor,
		StopLossCooldown:   StopLossCooldownFloor,
		LossStreakCooldown: LossStreakCooldownFloor,
		MaxBarAge:          5 * time.Minute,
	}
}

// Normalize enforces the hard floors: loss limits can only be tightened,
// cooldowns can only be lengthened. Zero fields take the defaults.
func (t Thresholds) Normalize() Thresholds {
	def := DefaultThresholds()
	pick := func(v, floor float64) float64 {
		if v <= 0 || v > floor {
			return floor
		}
		return v
	}
	t.MaxDrawdown = pick(t.MaxDrawdown, def.MaxDrawdown)
	t.DailyMaxLoss = pick(t.DailyMaxLoss, def.DailyMaxLoss)
	t.WeeklyMaxLoss = pick(t.WeeklyMaxLoss, def.WeeklyMaxLoss)
	t.MaxSinglePosition = pick(t.MaxSinglePosition, def.MaxSinglePosition)
	t.MaxTotalPosition = pick(t.MaxTotalPosition, def.MaxTotalPosition)
	t.MaxLeverage = pick(t.MaxLeverage, def.MaxLeverage)
	if t.ConsecutiveLosses <= 0 || t.ConsecutiveLosses > def.ConsecutiveLosses {
		t.ConsecutiveLosses = def.ConsecutiveLosses
	}
	if t.NormalCooldown < def.NormalCooldown {
		t.NormalCooldown = def.NormalCooldown
	}
	if t.StopLossCooldown < def.StopLossCooldown {
		t.StopLossCooldown = def.StopLossCooldown
	}
	if t.LossStreakCooldown < def.LossStreakCooldown {
		t.LossStreakCooldown = def.LossStreakCooldown
	}
	if t.MaxBarAge <= 0 {
		t.MaxBarAge = def.MaxBarAge
	}
	return t
}

// Context is the read-only snapshot all checkers see in one invocation.
type Context struct {
	Equity            float64
	PeakEquity        float64
	DailyPnL          float64
	WeeklyPnL         float64
	ConsecutiveLosses int
	PositionValue     float64
	ProposedValue     float64
	Leverage          float64
	Tradeable         bool
	Regime            domain.TradeRegime
	LastBarTS         int64
	Degraded          bool
	Now               time.Time
}

// Drawdown derives the current drawdown fraction from peak equity.
func (c Context) Drawdown() float64 {
	if c.PeakEquity <= 0 {
		return 0
	}
	dd := (c.PeakEquity - c.Equity) / c.PeakEquity
	if dd < 0 {
		return 0
	}
	return dd
}

// CheckResult is one checker's verdict.
type CheckResult struct {
	Domain   string           `json:"domain"`
	Approved bool             `json:"approved"`
	Level    domain.RiskLevel `json:"level"`
	Reason   string           `json:"reason,omitempty"`
}

// Result is the engine's aggregated verdict.
type Result struct {
	Approved   bool             `json:"approved"`
	Level      domain.RiskLevel `json:"level"`
	Reason     string           `json:"reason,omitempty"`
	SubResults []CheckResult    `json:"sub_results"`
}

// Checker is one risk domain. Checkers never mutate the context.
type Checker interface {
	Domain() string
	Check(ctx Context) CheckResult
}
