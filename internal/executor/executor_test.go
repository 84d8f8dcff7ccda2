package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/tradecore/internal/audit"
	"github.com/meridianhq/tradecore/internal/creds"
	"github.com/meridianhq/tradecore/internal/domain"
	"github.com/meridianhq/tradecore/internal/exchange"
	"github.com/meridianhq/tradecore/internal/risk"
)

// countingClient wraps a PaperClient and counts PlaceOrder calls.
type countingClient struct {
	*exchange.PaperClient
	calls int64
}

func (c *countingClient) PlaceOrder(ctx context.Context, order exchange.Order) (exchange.OrderResult, error) {
	atomic.AddInt64(&c.calls, 1)
	return c.PaperClient.PlaceOrder(ctx, order)
}

func validCreds() creds.Credentials {
	return creds.Credentials{APIKey: []byte("k"), APISecret: []byte("s"), Valid: true}
}

func activeUser(id string, tier SubscriptionTier, client exchange.Client) *Context {
	return NewContext(Profile{
		UserID: id, Status: UserActive, Tier: tier, Leverage: 2,
	}, validCreds(), client)
}

func decision() Decision {
	return Decision{
		OrderID:          uuid.NewString(),
		Symbol:           "BTC-USDT",
		Direction:        domain.Long,
		Confidence:       0.75,
		Regime:           domain.RangeStructureBreak,
		PositionFraction: 0.04,
		Price:            50_000,
		CorrelationID:    uuid.New(),
	}
}

func newExecutor(store audit.Store) *Executor {
	return NewExecutor(DefaultConfig(), risk.DefaultThresholds(), store, nil)
}

// Scenario: three users, B's exchange fails. A and C fill; B is rejected;
// A's and C's risk states are untouched by B's failure.
func TestPerUserIsolation(t *testing.T) {
	e := newExecutor(nil)

	clientA := exchange.NewPaperClient(100_000, 50_000)
	clientB := exchange.NewPaperClient(100_000, 50_000)
	clientB.FailWith = errors.New("exchange refused")
	clientC := exchange.NewPaperClient(100_000, 50_000)

	e.AddUser(activeUser("alice", TierPro, clientA))
	e.AddUser(activeUser("bob", TierPro, clientB))
	e.AddUser(activeUser("carol", TierPro, clientC))

	results := e.Broadcast(context.Background(), decision())
	require.Len(t, results, 3)

	assert.Equal(t, domain.OrderFilled, results["alice"].Status)
	assert.Equal(t, domain.OrderFilled, results["carol"].Status)
	assert.Equal(t, domain.OrderRejectedStatus, results["bob"].Status)
	assert.True(t, results["bob"].HasFlag(domain.FlagRejected))

	for _, id := range []string{"alice", "carol"} {
		uc, ok := e.User(id)
		require.True(t, ok)
		assert.False(t, uc.Risk.IsLocked())
		assert.Equal(t, 0, uc.Risk.ConsecutiveLosses())
	}
}

func TestEligibilityFilterOrder(t *testing.T) {
	e := newExecutor(nil)
	client := exchange.NewPaperClient(100_000, 50_000)

	suspended := activeUser("s", TierPro, client)
	suspended.Profile.Status = UserSuspended

	noCreds := activeUser("n", TierPro, client)
	noCreds.Creds.Valid = false

	locked := activeUser("l", TierPro, client)
	locked.Risk.Lock("manual")

	// Free tier caps at 5%; a 10% decision is over budget.
	smallTier := activeUser("f", TierFree, client)

	e.AddUser(suspended)
	e.AddUser(noCreds)
	e.AddUser(locked)
	e.AddUser(smallTier)

	d := decision()
	d.PositionFraction = 0.10
	results := e.Broadcast(context.Background(), d)

	assert.True(t, results["s"].HasFlag(domain.FlagSkipped))
	assert.Contains(t, results["s"].Error, "not active")
	assert.True(t, results["n"].HasFlag(domain.FlagSkipped))
	assert.Contains(t, results["n"].Error, "credentials")
	assert.True(t, results["l"].HasFlag(domain.FlagRiskLockedTriggered))
	assert.True(t, results["f"].HasFlag(domain.FlagSkipped))
	assert.Contains(t, results["f"].Error, "subscription")
}

// A locked user never reaches the exchange.
func TestLockedUserSubmitsNoOrder(t *testing.T) {
	e := newExecutor(nil)
	client := &countingClient{PaperClient: exchange.NewPaperClient(100_000, 50_000)}
	uc := activeUser("u1", TierPro, client)
	uc.Risk.Lock("risk lock")
	e.AddUser(uc)

	results := e.Broadcast(context.Background(), decision())
	assert.True(t, results["u1"].HasFlag(domain.FlagRiskLockedTriggered))
	assert.Equal(t, int64(0), atomic.LoadInt64(&client.calls))
}

func TestIdempotentResubmission(t *testing.T) {
	e := newExecutor(nil)
	client := &countingClient{PaperClient: exchange.NewPaperClient(100_000, 50_000)}
	e.AddUser(activeUser("u1", TierPro, client))

	d := decision()
	first := e.Broadcast(context.Background(), d)
	second := e.Broadcast(context.Background(), d)

	assert.Equal(t, first["u1"], second["u1"])
	assert.Equal(t, int64(1), atomic.LoadInt64(&client.calls))
}

// blockedClient ignores its context entirely until released.
type blockedClient struct {
	*exchange.PaperClient
	release chan struct{}
}

func (c *blockedClient) PlaceOrder(ctx context.Context, order exchange.Order) (exchange.OrderResult, error) {
	<-c.release
	return c.PaperClient.PlaceOrder(ctx, order)
}

func TestFillCostsCarriedOnResult(t *testing.T) {
	e := newExecutor(nil)
	e.AddUser(activeUser("u1", TierPro, exchange.NewPaperClient(100_000, 50_000)))

	res := e.Broadcast(context.Background(), decision())["u1"]
	require.Equal(t, domain.OrderFilled, res.Status)

	// 4% of 100k at 50k fills 0.08; commission is 4bp of the notional.
	assert.InDelta(t, 0.08, res.FilledQty, 1e-9)
	assert.InDelta(t, 1.6, res.Commission, 1e-9)
	assert.Zero(t, res.Slippage)
}

func TestUnresponsiveClientCannotStallFanout(t *testing.T) {
	e := newExecutor(nil)
	cfg := DefaultConfig()
	cfg.FanoutDeadline = 20 * time.Millisecond
	e.cfg = cfg

	client := &blockedClient{
		PaperClient: exchange.NewPaperClient(100_000, 50_000),
		release:     make(chan struct{}),
	}
	t.Cleanup(func() { close(client.release) })
	e.AddUser(activeUser("u1", TierPro, client))

	start := time.Now()
	results := e.Broadcast(context.Background(), decision())
	require.Less(t, time.Since(start), 2*time.Second)

	require.Contains(t, results, "u1")
	assert.True(t, results["u1"].HasFlag(domain.FlagTimeout))
	assert.Contains(t, results["u1"].Error, "deadline")
}

func TestConcurrentDuplicateSubmitsOnce(t *testing.T) {
	e := newExecutor(nil)
	client := &countingClient{PaperClient: exchange.NewPaperClient(100_000, 50_000)}
	client.Latency = 50 * time.Millisecond
	e.AddUser(activeUser("u1", TierPro, client))

	d := decision()
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Broadcast(context.Background(), d)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&client.calls))
}

func TestThreeConsecutiveTimeoutsLockUser(t *testing.T) {
	e := newExecutor(nil)
	client := exchange.NewPaperClient(100_000, 50_000)
	client.Latency = time.Hour // every order times out against the deadline
	uc := activeUser("u1", TierPro, client)
	e.AddUser(uc)

	cfg := DefaultConfig()
	cfg.FanoutDeadline = 20 * time.Millisecond
	e.cfg = cfg

	for i := 0; i < 3; i++ {
		d := decision()
		results := e.Broadcast(context.Background(), d)
		assert.True(t, results["u1"].HasFlag(domain.FlagTimeout))
	}
	assert.True(t, uc.Risk.IsLocked())

	// The fourth decision is filtered before submission.
	results := e.Broadcast(context.Background(), decision())
	assert.True(t, results["u1"].HasFlag(domain.FlagRiskLockedTriggered))
}

func TestPerUserRiskDenialCooldownFlag(t *testing.T) {
	e := newExecutor(nil)
	client := exchange.NewPaperClient(100_000, 50_000)
	uc := activeUser("u1", TierPro, client)
	// Loss streak at the behavior limit: per-user check denies at cooldown.
	uc.Risk.RecordLoss(-100)
	uc.Risk.RecordLoss(-100)
	uc.Risk.RecordLoss(-100)
	e.AddUser(uc)

	d := decision()
	d.PositionFraction = 0.04
	results := e.Broadcast(context.Background(), d)
	assert.True(t, results["u1"].HasFlag(domain.FlagCooldownTriggered))
	assert.Equal(t, domain.OrderCancelled, results["u1"].Status)
}

func TestDegradedModeHalvesSizing(t *testing.T) {
	e := newExecutor(nil)
	client := exchange.NewPaperClient(100_000, 50_000)
	e.AddUser(activeUser("u1", TierPro, client))

	d := decision()
	normal := e.Broadcast(context.Background(), d)

	e.Degraded = func() bool { return true }
	d2 := decision()
	degraded := e.Broadcast(context.Background(), d2)

	// Commission from the first fill nudges equity; compare loosely.
	assert.InDelta(t, normal["u1"].Quantity/2, degraded["u1"].Quantity, 1e-4)
}

func TestBroadcastWritesExecutionAudit(t *testing.T) {
	store := audit.NewMemoryStore()
	e := newExecutor(store)
	e.AddUser(activeUser("u1", TierPro, exchange.NewPaperClient(100_000, 50_000)))

	e.Broadcast(context.Background(), decision())
	assert.Equal(t, 1, store.Len(audit.StreamExecutions))
}

func TestRemoveUserZeroesCredentials(t *testing.T) {
	e := newExecutor(nil)
	uc := activeUser("u1", TierPro, exchange.NewPaperClient(100_000, 50_000))
	key := uc.Creds.APIKey
	e.AddUser(uc)

	e.RemoveUser("u1")
	_, ok := e.User("u1")
	assert.False(t, ok)
	assert.Equal(t, make([]byte, len(key)), key)
	assert.False(t, uc.Creds.Valid)
}
