package risk

import (
	"fmt"
	"time"

	"github.com/meridianhq/tradecore/internal/domain"
)

func approved(dom string) CheckResult {
	return CheckResult{Domain: dom, Approved: true, Level: domain.RiskNormal}
}

func denied(dom string, level domain.RiskLevel, reason string) CheckResult {
	return CheckResult{Domain: dom, Approved: false, Level: level, Reason: reason}
}

func warning(dom string, reason string) CheckResult {
	return CheckResult{Domain: dom, Approved: true, Level: domain.RiskWarning, Reason: reason}
}

// AccountSurvival guards the loss limits that keep the account alive.
// Any breach locks the system.
type AccountSurvival struct {
	T Thresholds
}

func (AccountSurvival) Domain() string { return "account_survival" }

func (c AccountSurvival) Check(ctx Context) CheckResult {
	dd := ctx.Drawdown()
	if dd >= c.T.MaxDrawdown {
		return denied(c.Domain(), domain.RiskLockLevel,
			fmt.Sprintf("drawdown %.4f breaches limit %.4f", dd, c.T.MaxDrawdown))
	}
	if ctx.Equity > 0 {
		if loss := -ctx.DailyPnL / ctx.Equity; loss >= c.T.DailyMaxLoss {
			return denied(c.Domain(), domain.RiskLockLevel,
				fmt.Sprintf("daily loss %.4f breaches limit %.4f", loss, c.T.DailyMaxLoss))
		}
		if loss := -ctx.WeeklyPnL / ctx.Equity; loss >= c.T.WeeklyMaxLoss {
			return denied(c.Domain(), domain.RiskLockLevel,
				fmt.Sprintf("weekly loss %.4f breaches limit %.4f", loss, c.T.WeeklyMaxLoss))
		}
	}
	// Warn early at 80% of the drawdown budget.
	if dd >= c.T.MaxDrawdown*0.8 {
		return warning(c.Domain(), fmt.Sprintf("drawdown %.4f approaching limit", dd))
	}
	return approved(c.Domain())
}

// ExecutionIntegrity bounds position sizing and leverage.
type ExecutionIntegrity struct {
	T Thresholds
}

func (ExecutionIntegrity) Domain() string { return "execution_integrity" }

func (c ExecutionIntegrity) Check(ctx Context) CheckResult {
	if ctx.Equity <= 0 {
		return denied(c.Domain(), domain.RiskCooldown, "no equity")
	}
	if frac := ctx.ProposedValue / ctx.Equity; frac > c.T.MaxSinglePosition {
		return denied(c.Domain(), domain.RiskCooldown,
			fmt.Sprintf("single position %.4f exceeds limit %.4f", frac, c.T.MaxSinglePosition))
	}
	if frac := (ctx.PositionValue + ctx.ProposedValue) / ctx.Equity; frac > c.T.MaxTotalPosition {
		return denied(c.Domain(), domain.RiskCooldown,
			fmt.Sprintf("total position %.4f exceeds limit %.4f", frac, c.T.MaxTotalPosition))
	}
	if ctx.Leverage > c.T.MaxLeverage {
		return denied(c.Domain(), domain.RiskCooldown,
			fmt.Sprintf("leverage %.2f exceeds limit %.2f", ctx.Leverage, c.T.MaxLeverage))
	}
	return approved(c.Domain())
}

// Regime warns when a tradeable signal arrives without a recognized regime.
type Regime struct{}

func (Regime) Domain() string { return "regime" }

func (c Regime) Check(ctx Context) CheckResult {
	if ctx.Tradeable && ctx.Regime == domain.NoRegime {
		return warning(c.Domain(), "tradeable signal without a recognized regime")
	}
	return approved(c.Domain())
}

// Behavior throttles loss streaks.
type Behavior struct {
	T Thresholds
}

func (Behavior) Domain() string { return "behavior" }

func (c Behavior) Check(ctx Context) CheckResult {
	if ctx.ConsecutiveLosses >= c.T.ConsecutiveLosses {
		return denied(c.Domain(), domain.RiskCooldown,
			fmt.Sprintf("%d consecutive losses", ctx.ConsecutiveLosses))
	}
	if ctx.ConsecutiveLosses == c.T.ConsecutiveLosses-1 {
		return warning(c.Domain(), "one loss away from cooldown")
	}
	return approved(c.Domain())
}

// System covers operational soundness: data freshness and degraded mode.
type System struct {
	T Thresholds
}

func (System) Domain() string { return "system" }

func (c System) Check(ctx Context) CheckResult {
	if ctx.LastBarTS > 0 && !ctx.Now.IsZero() {
		age := ctx.Now.Sub(time.UnixMilli(ctx.LastBarTS))
		if age > c.T.MaxBarAge {
			return denied(c.Domain(), domain.RiskCooldown,
				fmt.Sprintf("market data stale by %s", age.Truncate(time.Second)))
		}
	}
	if ctx.Degraded {
		return warning(c.Domain(), "degraded mode active, position sizing halved")
	}
	return approved(c.Domain())
}
