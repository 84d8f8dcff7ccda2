// Package domain holds the frozen value types shared by the trading core.
// Enum values are persisted in audit streams; do not rename them.
package domain

// SystemState is the process-wide trading state managed by the state machine.
type SystemState string

const (
	SystemInit    SystemState = "system_init"
	Observing     SystemState = "observing"
	Eligible      SystemState = "eligible"
	ActiveTrading SystemState = "active_trading"
	Cooldown      SystemState = "cooldown"
	RiskLocked    SystemState = "risk_locked"
	Recovery      SystemState = "recovery"
)

// ClaimType is the whitelist of assertions a witness may emit.
type ClaimType string

const (
	MarketEligible    ClaimType = "market_eligible"
	MarketNotEligible ClaimType = "market_not_eligible"
	RegimeMatched     ClaimType = "regime_matched"
	RegimeConflict    ClaimType = "regime_conflict"
	ExecutionVeto     ClaimType = "execution_veto"
)

// Tier is a witness role. Tier1 claims can be dominant, Tier2 claims
// support or oppose, Tier3 claims only veto.
type Tier string

const (
	Tier1 Tier = "tier_1"
	Tier2 Tier = "tier_2"
	Tier3 Tier = "tier_3"
)

// allowedClaimTypes enforces tier legality at the panel boundary.
var allowedClaimTypes = map[Tier]map[ClaimType]bool{
	Tier1: {MarketEligible: true, MarketNotEligible: true, RegimeMatched: true},
	Tier2: {RegimeMatched: true, RegimeConflict: true},
	Tier3: {ExecutionVeto: true},
}

// ClaimAllowed reports whether a witness of the given tier may emit ct.
func ClaimAllowed(tier Tier, ct ClaimType) bool {
	return allowedClaimTypes[tier][ct]
}

// Direction is a trade direction suggestion carried on a claim.
type Direction string

const (
	Long       Direction = "long"
	Short      Direction = "short"
	Undirected Direction = "none"
)

// LifecycleStatus tracks a strategy through discovery to retirement.
type LifecycleStatus string

const (
	StatusNew      LifecycleStatus = "new"
	StatusTesting  LifecycleStatus = "testing"
	StatusShadow   LifecycleStatus = "shadow"
	StatusActive   LifecycleStatus = "active"
	StatusDegraded LifecycleStatus = "degraded"
	StatusRetired  LifecycleStatus = "retired"
)

// HealthGrade buckets a witness by rolling win rate.
type HealthGrade string

const (
	GradeA HealthGrade = "A"
	GradeB HealthGrade = "B"
	GradeC HealthGrade = "C"
	GradeD HealthGrade = "D"
)

// RiskLevel is the unified severity emitted by the risk engine.
type RiskLevel string

const (
	RiskNormal    RiskLevel = "normal"
	RiskWarning   RiskLevel = "warning"
	RiskCooldown  RiskLevel = "cooldown"
	RiskLockLevel RiskLevel = "risk_locked"
)

var riskSeverity = map[RiskLevel]int{
	RiskNormal:    0,
	RiskWarning:   1,
	RiskCooldown:  2,
	RiskLockLevel: 3,
}

// Severity orders risk levels for max-severity aggregation.
func (l RiskLevel) Severity() int { return riskSeverity[l] }

// MaxRiskLevel returns the more severe of two levels.
func MaxRiskLevel(a, b RiskLevel) RiskLevel {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// TradeRegime is the qualitative market mode derived from the dominant claim.
// Advisory for the executor, never binding.
type TradeRegime string

const (
	VolatilityExpansion TradeRegime = "volatility_expansion"
	RangeStructureBreak TradeRegime = "range_structure_break"
	LiquiditySweep      TradeRegime = "liquidity_sweep"
	TrendContinuation   TradeRegime = "trend_continuation"
	MeanReversion       TradeRegime = "mean_reversion"
	NoRegime            TradeRegime = "no_regime"
)

// OrderStatus mirrors exchange-side order lifecycle.
type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderSubmitted       OrderStatus = "submitted"
	OrderFilled          OrderStatus = "filled"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderCancelled       OrderStatus = "cancelled"
	OrderRejectedStatus  OrderStatus = "rejected"
)

// ExecutionFlag is a symbolic code attached to an ExecutionResult.
type ExecutionFlag string

const (
	FlagRiskLockedTriggered ExecutionFlag = "RISK_LOCKED_TRIGGERED"
	FlagCooldownTriggered   ExecutionFlag = "COOLDOWN_TRIGGERED"
	FlagTimeout             ExecutionFlag = "TIMEOUT"
	FlagCanceled            ExecutionFlag = "CANCELED"
	FlagRejected            ExecutionFlag = "REJECTED"
	FlagDuplicate           ExecutionFlag = "DUPLICATE"
	FlagSkipped             ExecutionFlag = "SKIPPED"
)
