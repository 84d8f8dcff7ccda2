// Package engine runs the decision loop: bars in, claims, aggregation,
// risk, state transition, user fan-out, health feedback.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/meridianhq/tradecore/internal/aggregate"
	"github.com/meridianhq/tradecore/internal/audit"
	"github.com/meridianhq/tradecore/internal/domain"
	"github.com/meridianhq/tradecore/internal/executor"
	"github.com/meridianhq/tradecore/internal/health"
	"github.com/meridianhq/tradecore/internal/lifecycle"
	"github.com/meridianhq/tradecore/internal/marketdata"
	"github.com/meridianhq/tradecore/internal/metrics"
	"github.com/meridianhq/tradecore/internal/risk"
	"github.com/meridianhq/tradecore/internal/state"
	"github.com/meridianhq/tradecore/internal/weight"
	"github.com/meridianhq/tradecore/internal/witness"
)

// Config drives the loop cadence and data window.
type Config struct {
	Symbol       string        `yaml:"symbol"`
	Interval     string        `yaml:"interval"`
	Lookback     int           `yaml:"lookback"`
	LoopInterval time.Duration `yaml:"loop_interval"`
}

// DefaultConfig returns the loop defaults.
func DefaultConfig() Config {
	return Config{
		Symbol:       "BTC-USDT",
		Interval:     "1m",
		Lookback:     120,
		LoopInterval: time.Minute,
	}
}

// AccountState is the global account snapshot the risk engine reads.
// Updated from settled trades, guarded by its own mutex.
type AccountState struct {
	mu                sync.Mutex
	equity            float64
	peakEquity        float64
	dailyPnL          float64
	weeklyPnL         float64
	consecutiveLosses int
	positionValue     float64
	leverage          float64
}

// NewAccountState starts at the given equity.
func NewAccountState(equity float64) *AccountState {
	return &AccountState{equity: equity, peakEquity: equity}
}

// Apply books one settled trade.
func (a *AccountState) Apply(pnl float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.equity += pnl
	if a.equity > a.peakEquity {
		a.peakEquity = a.equity
	}
	a.dailyPnL += pnl
	a.weeklyPnL += pnl
	if pnl < 0 {
		a.consecutiveLosses++
	} else {
		a.consecutiveLosses = 0
	}
}

// SetPosition updates the open notional and leverage.
func (a *AccountState) SetPosition(value, leverage float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.positionValue = value
	a.leverage = leverage
}

// Drawdown reports the current drawdown fraction.
func (a *AccountState) Drawdown() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.peakEquity <= 0 {
		return 0
	}
	return (a.peakEquity - a.equity) / a.peakEquity
}

func (a *AccountState) riskContext(lastBarTS int64, tradeable bool, regime domain.TradeRegime, proposed float64, degraded bool, now time.Time) risk.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return risk.Context{
		Equity:            a.equity,
		PeakEquity:        a.peakEquity,
		DailyPnL:          a.dailyPnL,
		WeeklyPnL:         a.weeklyPnL,
		ConsecutiveLosses: a.consecutiveLosses,
		PositionValue:     a.positionValue,
		ProposedValue:     proposed,
		Leverage:          a.leverage,
		Tradeable:         tradeable,
		Regime:            regime,
		LastBarTS:         lastBarTS,
		Degraded:          degraded,
		Now:               now,
	}
}

// Coordinator owns one decision loop.
type Coordinator struct {
	cfg      Config
	source   marketdata.Source
	panel    *witness.Panel
	weights  *weight.Manager
	resolver *aggregate.Resolver
	risk     *risk.Engine
	recovery *risk.RecoveryManager
	machine  *state.Machine
	executor *executor.Executor
	shadow   *lifecycle.Runner
	health   *health.Manager
	account  *AccountState
	metrics  *metrics.Registry
	store    audit.Store
	history  *loopHistory
	now      func() time.Time
}

// Deps bundles the coordinator's collaborators.
type Deps struct {
	Source   marketdata.Source
	Panel    *witness.Panel
	Weights  *weight.Manager
	Resolver *aggregate.Resolver
	Risk     *risk.Engine
	Recovery *risk.RecoveryManager
	Machine  *state.Machine
	Executor *executor.Executor
	Shadow   *lifecycle.Runner
	Health   *health.Manager
	Account  *AccountState
	Metrics  *metrics.Registry
	Store    audit.Store
}

// NewCoordinator assembles the loop.
func NewCoordinator(cfg Config, deps Deps) *Coordinator {
	def := DefaultConfig()
	if cfg.Symbol == "" {
		cfg.Symbol = def.Symbol
	}
	if cfg.Interval == "" {
		cfg.Interval = def.Interval
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = def.Lookback
	}
	if cfg.LoopInterval <= 0 {
		cfg.LoopInterval = def.LoopInterval
	}
	c := &Coordinator{
		cfg:      cfg,
		source:   deps.Source,
		panel:    deps.Panel,
		weights:  deps.Weights,
		resolver: deps.Resolver,
		risk:     deps.Risk,
		recovery: deps.Recovery,
		machine:  deps.Machine,
		executor: deps.Executor,
		shadow:   deps.Shadow,
		health:   deps.Health,
		account:  deps.Account,
		metrics:  deps.Metrics,
		store:    deps.Store,
		history:  newLoopHistory(100),
		now:      func() time.Time { return time.Now().UTC() },
	}
	if deps.Executor != nil && deps.Recovery != nil {
		deps.Executor.Degraded = deps.Recovery.Degraded
	}
	return c
}

// History exposes recent loop records for the ops surface.
func (c *Coordinator) History() []LoopRecord { return c.history.list() }

// Run executes cycles until ctx ends.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.machine.Current() == domain.SystemInit {
		if err := c.machine.Transition(ctx, domain.Observing, "init complete", "coordinator", uuid.New()); err != nil {
			return err
		}
	}
	ticker := time.NewTicker(c.cfg.LoopInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.RunCycle(ctx)
		}
	}
}

// RunCycle executes exactly one decision cycle. Errors skip the cycle and
// leave the system ready for the next.
func (c *Coordinator) RunCycle(ctx context.Context) LoopRecord {
	started := c.now()
	correlationID := uuid.New()
	rec := LoopRecord{StartedAt: started, State: c.machine.Current()}

	defer func() {
		rec.Duration = c.now().Sub(started)
		c.history.add(rec)
		if c.metrics != nil {
			c.metrics.CycleDuration.Observe(rec.Duration.Seconds())
		}
	}()

	// Step 1: market data.
	stepStart := c.now()
	bars, err := c.source.GetBars(ctx, c.cfg.Symbol, c.cfg.Interval, c.cfg.Lookback)
	if err == nil {
		err = marketdata.ValidateBars(bars, c.cfg.Interval)
	}
	c.observeStep("data", stepStart)
	if err != nil {
		rec.Skipped = true
		rec.Error = err.Error()
		log.Warn().Err(err).Msg("cycle skipped on market data")
		return rec
	}
	lastBar := bars[len(bars)-1]

	// Recovery path runs ahead of everything else when locked.
	if c.machine.Current() == domain.RiskLocked {
		c.tryRecover(ctx, correlationID)
		rec.State = c.machine.Current()
		if c.machine.Current() == domain.RiskLocked {
			rec.Skipped = true
			return rec
		}
	}
	if c.machine.Current() == domain.Cooldown && !c.machine.InCooldown() {
		_ = c.machine.Transition(ctx, domain.Observing, "cooldown expired", "coordinator", correlationID)
	}

	// Step 2: claims.
	stepStart = c.now()
	collected := c.panel.Collect(ctx, bars)
	c.observeStep("claims", stepStart)
	rec.Claims = len(collected.Claims)
	c.risk.Guard().Observe(collected.Claims)

	// Shadow runs on the same immutable bars, off the live path.
	if c.shadow != nil {
		go c.runShadow(collected.ShadowClaims, lastBar.Close)
	}

	// Step 3: aggregation against a stable weight snapshot.
	stepStart = c.now()
	ids := make([]string, 0, len(collected.Claims))
	for _, cl := range collected.Claims {
		ids = append(ids, cl.WitnessID)
	}
	outcome := c.resolver.Resolve(collected.Claims, c.weights.Snapshot(ids), c.now())
	c.observeStep("aggregate", stepStart)
	rec.Resolution = outcome.Result.Resolution

	regime := state.RegimeFor(outcome.Dominant)
	outcome.Result.Regime = regime
	constraints := state.ConstraintsFor(regime)

	// Step 4: risk.
	stepStart = c.now()
	degraded := c.recovery != nil && c.recovery.Degraded()
	proposed := 0.0
	if outcome.Result.Tradeable {
		c.account.mu.Lock()
		proposed = c.account.equity * constraints.MaxPositionRatio
		c.account.mu.Unlock()
	}
	verdict := c.risk.Evaluate(ctx, c.account.riskContext(
		lastBar.TS, outcome.Result.Tradeable, regime, proposed, degraded, c.now()), correlationID)
	c.observeStep("risk", stepStart)

	if verdict.Level == domain.RiskLockLevel {
		if err := c.machine.Transition(ctx, domain.RiskLocked, verdict.Reason, "risk_engine", correlationID); err == nil && c.recovery != nil {
			c.recovery.OnLock()
		}
		rec.State = c.machine.Current()
		return rec
	}
	if degraded && c.recovery != nil {
		c.account.mu.Lock()
		weekly := c.account.weeklyPnL
		c.account.mu.Unlock()
		c.recovery.ExitDegraded(c.account.Drawdown(), weekly)
	}

	// Step 5: state decision and fan-out.
	if outcome.Result.Tradeable && verdict.Approved && c.machine.Current() == domain.Observing {
		c.execute(ctx, outcome, regime, constraints, lastBar, correlationID, &rec)
	}
	rec.State = c.machine.Current()
	return rec
}

func (c *Coordinator) execute(ctx context.Context, outcome aggregate.Outcome, regime domain.TradeRegime, constraints state.RegimeConstraints, lastBar domain.Bar, correlationID uuid.UUID, rec *LoopRecord) {
	if err := c.machine.Transition(ctx, domain.Eligible, "tradeable and approved", "coordinator", correlationID); err != nil {
		return
	}
	if err := c.machine.Transition(ctx, domain.ActiveTrading, "execution authorized", "coordinator", correlationID); err != nil {
		return
	}

	stepStart := c.now()
	decision := executor.Decision{
		OrderID:          correlationID.String(),
		Symbol:           c.cfg.Symbol,
		Direction:        outcome.Result.Direction,
		Confidence:       outcome.Result.TotalConfidence,
		Regime:           regime,
		PositionFraction: constraints.MaxPositionRatio,
		Price:            lastBar.Close,
		CorrelationID:    correlationID,
	}
	results := c.executor.Broadcast(ctx, decision)
	c.observeStep("fanout", stepStart)
	rec.Executions = len(results)

	cooldown := c.risk.Thresholds().NormalCooldown
	if err := c.machine.StartCooldown(ctx, cooldown, "execution settled", "coordinator", correlationID); err != nil {
		log.Error().Err(err).Msg("cooldown entry failed")
	}
}

func (c *Coordinator) tryRecover(ctx context.Context, correlationID uuid.UUID) {
	if c.recovery == nil {
		return
	}
	if !c.recovery.TryAutoUnlock(ctx, c.account.Drawdown()) && c.recovery.Locked() {
		return
	}
	if err := c.machine.Transition(ctx, domain.Recovery, "unlock approved", "recovery_manager", correlationID); err != nil {
		return
	}
	_ = c.machine.Transition(ctx, domain.Observing, "recovery complete", "recovery_manager", correlationID)
}

func (c *Coordinator) runShadow(claims []domain.Claim, markPrice float64) {
	for _, cl := range claims {
		c.shadow.Record(cl, markPrice)
	}
	c.shadow.Settle(markPrice)
}

// OnTradeSettled feeds a settled live trade back into account state and
// witness health, escalates an armed cooldown, and applies the auto-mute
// rule.
func (c *Coordinator) OnTradeSettled(outcome domain.TradeOutcome) {
	c.account.Apply(outcome.PnL)
	c.escalateCooldown(outcome)
	if c.store != nil {
		rec := audit.NewRecord(audit.StreamUserProfits, "coordinator", uuid.New(), outcome)
		if err := c.store.Append(context.Background(), rec); err != nil {
			log.Error().Err(err).Msg("profit audit append failed")
		}
	}
	if c.health == nil {
		return
	}
	c.health.Record(outcome)
	if c.health.ShouldAutoMute(outcome.WitnessID) {
		if err := c.panel.SetStatus(outcome.WitnessID, witness.StatusMuted); err != nil {
			log.Warn().Err(err).Str("witness_id", outcome.WitnessID).Msg("auto-mute failed")
		}
	}
}

// escalateCooldown selects the cooldown owed by cause: a loss streak at
// the limit holds the system out longest, a stop-loss exit longer than a
// normal settle. Shorter causes never shrink an armed timer.
func (c *Coordinator) escalateCooldown(outcome domain.TradeOutcome) {
	if c.machine == nil || c.risk == nil {
		return
	}
	t := c.risk.Thresholds()
	c.account.mu.Lock()
	losses := c.account.consecutiveLosses
	c.account.mu.Unlock()
	switch {
	case losses >= t.ConsecutiveLosses:
		c.machine.ExtendCooldown(t.LossStreakCooldown)
	case outcome.StopLoss && outcome.PnL < 0:
		c.machine.ExtendCooldown(t.StopLossCooldown)
	}
}

func (c *Coordinator) observeStep(step string, start time.Time) {
	if c.metrics != nil {
		c.metrics.ObserveStep(step, c.now().Sub(start).Seconds())
	}
}
