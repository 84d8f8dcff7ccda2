package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/tradecore/internal/aggregate"
	"github.com/meridianhq/tradecore/internal/audit"
	"github.com/meridianhq/tradecore/internal/creds"
	"github.com/meridianhq/tradecore/internal/domain"
	"github.com/meridianhq/tradecore/internal/exchange"
	"github.com/meridianhq/tradecore/internal/executor"
	"github.com/meridianhq/tradecore/internal/health"
	"github.com/meridianhq/tradecore/internal/risk"
	"github.com/meridianhq/tradecore/internal/state"
	"github.com/meridianhq/tradecore/internal/weight"
	"github.com/meridianhq/tradecore/internal/witness"
)

type stubSource struct {
	bars []domain.Bar
	err  error
}

func (s stubSource) GetBars(_ context.Context, _, _ string, _ int) ([]domain.Bar, error) {
	return s.bars, s.err
}

type stubWitness struct {
	id    string
	tier  domain.Tier
	claim *domain.Claim
}

func (w stubWitness) ID() string        { return w.id }
func (w stubWitness) Tier() domain.Tier { return w.tier }
func (w stubWitness) GenerateClaim(context.Context, []domain.Bar) (*domain.Claim, error) {
	if w.claim == nil {
		return nil, nil
	}
	c := *w.claim
	return &c, nil
}

// freshBars builds a gap-free 1m series whose last bar just closed.
func freshBars(n int, close float64) []domain.Bar {
	start := time.Now().UTC().Add(-time.Duration(n) * time.Minute)
	bars := make([]domain.Bar, n)
	for i := range bars {
		bars[i] = domain.Bar{
			Symbol:   "BTC-USDT",
			Interval: "1m",
			TS:       start.Add(time.Duration(i) * time.Minute).UnixMilli(),
			Open:     close,
			High:     close + 1,
			Low:      close - 1,
			Close:    close,
			Volume:   100,
		}
	}
	return bars
}

type fixture struct {
	coord    *Coordinator
	machine  *state.Machine
	panel    *witness.Panel
	account  *AccountState
	recovery *risk.RecoveryManager
	health   *health.Manager
	store    *audit.MemoryStore
}

func newFixture(t *testing.T, source stubSource) *fixture {
	t.Helper()
	store := audit.NewMemoryStore()
	h := health.NewManager(0)
	machine := state.NewMachine(store, nil)
	panel := witness.NewPanel(time.Second, nil)
	account := NewAccountState(10000)
	thresholds := risk.DefaultThresholds()
	recovery := risk.NewRecoveryManager(thresholds, nil)
	exec := executor.NewExecutor(executor.Config{FanoutDeadline: time.Second}, thresholds, store, nil)

	coord := NewCoordinator(Config{Symbol: "BTC-USDT", Interval: "1m", Lookback: 120}, Deps{
		Source:   source,
		Panel:    panel,
		Weights:  weight.NewManager(h, nil),
		Resolver: aggregate.NewResolver(aggregate.Config{}),
		Risk:     risk.NewEngine(thresholds, store, nil),
		Recovery: recovery,
		Machine:  machine,
		Executor: exec,
		Health:   h,
		Account:  account,
		Store:    store,
	})

	require.NoError(t, machine.Transition(context.Background(), domain.Observing, "boot", "test", uuid.New()))

	exec.AddUser(executor.NewContext(
		executor.Profile{UserID: "alice", Status: executor.UserActive, Tier: executor.TierPro, Leverage: 2},
		creds.Credentials{APIKey: []byte("k"), APISecret: []byte("s"), Valid: true},
		exchange.NewPaperClient(10000, 100),
	))

	return &fixture{
		coord:    coord,
		machine:  machine,
		panel:    panel,
		account:  account,
		recovery: recovery,
		health:   h,
		store:    store,
	}
}

func eligibilityClaim(conf float64) *domain.Claim {
	return &domain.Claim{
		Type:        domain.MarketEligible,
		Direction:   domain.Long,
		Confidence:  conf,
		EmittedAt:   time.Now().UTC(),
		ValidFor:    5 * time.Minute,
		Constraints: map[string]any{"signal_type": "range_break"},
	}
}

func TestCycleResolvesAndExecutes(t *testing.T) {
	f := newFixture(t, stubSource{bars: freshBars(120, 100)})
	require.NoError(t, f.panel.Register(stubWitness{id: "alpha", tier: domain.Tier1, claim: eligibilityClaim(0.8)}))
	require.NoError(t, f.panel.Register(stubWitness{id: "beta", tier: domain.Tier2, claim: &domain.Claim{
		Type:       domain.RegimeMatched,
		Direction:  domain.Long,
		Confidence: 0.7,
		EmittedAt:  time.Now().UTC(),
		ValidFor:   5 * time.Minute,
	}}))

	rec := f.coord.RunCycle(context.Background())

	assert.Equal(t, domain.ResolutionResolved, rec.Resolution)
	assert.Equal(t, 2, rec.Claims)
	assert.Equal(t, 1, rec.Executions)
	assert.False(t, rec.Skipped)

	// The full gate was walked: OBSERVING -> ELIGIBLE -> ACTIVE_TRADING ->
	// COOLDOWN, plus the boot transition.
	assert.Equal(t, domain.Cooldown, f.machine.Current())
	assert.True(t, f.machine.InCooldown())
	assert.Equal(t, 4, f.store.Len(audit.StreamStateTransitions))
	assert.Equal(t, 1, f.store.Len(audit.StreamOrders))
	assert.Equal(t, 1, f.store.Len(audit.StreamExecutions))

	assert.Len(t, f.coord.History(), 1)
}

func TestCycleSkipsOnBadData(t *testing.T) {
	f := newFixture(t, stubSource{err: fmt.Errorf("%w: feed down", domain.ErrDataNotFound)})

	rec := f.coord.RunCycle(context.Background())

	assert.True(t, rec.Skipped)
	assert.NotEmpty(t, rec.Error)
	assert.Equal(t, domain.Observing, f.machine.Current())
	assert.Equal(t, 0, f.store.Len(audit.StreamExecutions))
}

func TestCycleRejectsGappedData(t *testing.T) {
	bars := freshBars(120, 100)
	bars[60].TS += 30_000
	f := newFixture(t, stubSource{bars: bars})

	rec := f.coord.RunCycle(context.Background())

	assert.True(t, rec.Skipped)
	assert.Contains(t, rec.Error, "gap")
	assert.Equal(t, domain.Observing, f.machine.Current())
}

func TestVetoHaltsCycle(t *testing.T) {
	f := newFixture(t, stubSource{bars: freshBars(120, 100)})
	require.NoError(t, f.panel.Register(stubWitness{id: "alpha", tier: domain.Tier1, claim: eligibilityClaim(0.9)}))
	require.NoError(t, f.panel.Register(stubWitness{id: "sentinel", tier: domain.Tier3, claim: &domain.Claim{
		Type:       domain.ExecutionVeto,
		Direction:  domain.Undirected,
		Confidence: 0.9,
		EmittedAt:  time.Now().UTC(),
		ValidFor:   5 * time.Minute,
	}}))

	rec := f.coord.RunCycle(context.Background())

	assert.Equal(t, domain.ResolutionVetoed, rec.Resolution)
	assert.Equal(t, 0, rec.Executions)
	assert.Equal(t, domain.Observing, f.machine.Current())
	assert.Equal(t, 0, f.store.Len(audit.StreamExecutions))
}

func TestDrawdownLocksThenManualRecovery(t *testing.T) {
	f := newFixture(t, stubSource{bars: freshBars(120, 100)})

	// A thirty percent drawdown breaches the hard floor.
	f.account.Apply(-3000)
	rec := f.coord.RunCycle(context.Background())
	assert.Equal(t, domain.RiskLocked, f.machine.Current())
	assert.False(t, rec.Skipped)
	assert.True(t, f.recovery.Locked())

	// While locked and not yet recovered, cycles are inert.
	rec = f.coord.RunCycle(context.Background())
	assert.True(t, rec.Skipped)
	assert.Equal(t, domain.RiskLocked, f.machine.Current())

	// The account heals; an operator releases the lock.
	f.account.Apply(3000)
	require.True(t, f.recovery.ManualUnlock(context.Background(), "ops", f.account.Drawdown()))
	assert.True(t, f.recovery.Degraded())

	// The next cycle walks RISK_LOCKED -> RECOVERY -> OBSERVING and, with a
	// clean account, clears degraded sizing.
	rec = f.coord.RunCycle(context.Background())
	assert.False(t, rec.Skipped)
	assert.Equal(t, domain.Observing, f.machine.Current())
	assert.False(t, f.recovery.Degraded())
}

// executedFixture runs one full cycle that fills and enters COOLDOWN.
func executedFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t, stubSource{bars: freshBars(120, 100)})
	require.NoError(t, f.panel.Register(stubWitness{id: "alpha", tier: domain.Tier1, claim: eligibilityClaim(0.8)}))
	rec := f.coord.RunCycle(context.Background())
	require.Equal(t, 1, rec.Executions)
	require.Equal(t, domain.Cooldown, f.machine.Current())
	return f
}

func TestLossStreakSettlementLengthensCooldown(t *testing.T) {
	f := executedFixture(t)
	base := f.machine.CooldownRemaining()
	require.LessOrEqual(t, base, 10*time.Minute)

	// Three straight losses hit the behavior limit; the armed cooldown
	// stretches to the loss-streak duration.
	for i := 0; i < 3; i++ {
		f.coord.OnTradeSettled(domain.TradeOutcome{
			WitnessID: "alpha",
			Win:       false,
			PnL:       -10,
			ClosedAt:  time.Now().UTC(),
		})
	}
	assert.Greater(t, f.machine.CooldownRemaining(), 30*time.Minute)
}

func TestStopLossSettlementLengthensCooldown(t *testing.T) {
	f := executedFixture(t)
	require.LessOrEqual(t, f.machine.CooldownRemaining(), 10*time.Minute)

	f.coord.OnTradeSettled(domain.TradeOutcome{
		WitnessID: "alpha",
		Win:       false,
		PnL:       -25,
		StopLoss:  true,
		ClosedAt:  time.Now().UTC(),
	})
	rem := f.machine.CooldownRemaining()
	assert.Greater(t, rem, 15*time.Minute)
	assert.LessOrEqual(t, rem, 20*time.Minute)
}

func TestSettledTradesFeedHealthAndAutoMute(t *testing.T) {
	f := newFixture(t, stubSource{bars: freshBars(120, 100)})
	require.NoError(t, f.panel.Register(stubWitness{id: "fading", tier: domain.Tier1, claim: eligibilityClaim(0.7)}))

	for i := 0; i < 50; i++ {
		f.coord.OnTradeSettled(domain.TradeOutcome{
			WitnessID: "fading",
			Win:       false,
			PnL:       -1,
			ClosedAt:  time.Now().UTC(),
		})
	}

	status, ok := f.panel.Status("fading")
	require.True(t, ok)
	assert.Equal(t, witness.StatusMuted, status)
	assert.Equal(t, domain.GradeD, f.health.Snapshot("fading").Grade)

	f.account.mu.Lock()
	equity := f.account.equity
	losses := f.account.consecutiveLosses
	f.account.mu.Unlock()
	assert.InDelta(t, 9950.0, equity, 1e-9)
	assert.Equal(t, 50, losses)
	assert.Equal(t, 50, f.store.Len(audit.StreamUserProfits))
}

func TestShadowClaimsStayOffTheLivePath(t *testing.T) {
	f := newFixture(t, stubSource{bars: freshBars(120, 100)})
	require.NoError(t, f.panel.Register(stubWitness{id: "candidate", tier: domain.Tier1, claim: eligibilityClaim(0.9)}))
	require.NoError(t, f.panel.SetStatus("candidate", witness.StatusShadow))

	rec := f.coord.RunCycle(context.Background())

	// The only claim was shadow-routed: nothing to resolve, nothing traded.
	assert.Equal(t, 0, rec.Claims)
	assert.Equal(t, domain.ResolutionNoDominant, rec.Resolution)
	assert.Equal(t, 0, rec.Executions)
	assert.Equal(t, domain.Observing, f.machine.Current())
}
