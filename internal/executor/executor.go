package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/meridianhq/tradecore/internal/audit"
	"github.com/meridianhq/tradecore/internal/domain"
	"github.com/meridianhq/tradecore/internal/exchange"
	"github.com/meridianhq/tradecore/internal/metrics"
	"github.com/meridianhq/tradecore/internal/risk"
)

// Decision is the abstract trade authorization broadcast to users.
type Decision struct {
	OrderID       string
	Symbol        string
	Direction     domain.Direction
	Confidence    float64
	Regime        domain.TradeRegime
	// PositionFraction is the equity fraction the decision implies,
	// already bounded by the regime's advisory envelope.
	PositionFraction float64
	Price            float64
	CorrelationID    uuid.UUID
}

// Config tunes the fan-out.
type Config struct {
	FanoutDeadline time.Duration `yaml:"fanout_deadline"`
	DegradedScale  float64       `yaml:"degraded_scale"`
}

// joinGrace is how long the join waits past the deadline for clients that
// honor their context before writing them off.
const joinGrace = 100 * time.Millisecond

// DefaultConfig returns the production fan-out defaults.
func DefaultConfig() Config {
	return Config{
		FanoutDeadline: 15 * time.Second,
		DegradedScale:  risk.DegradedPositionScale,
	}
}

// Executor owns the user-context map and the idempotency cache.
type Executor struct {
	cfg     Config
	engine  *risk.Engine
	store   audit.Store
	metrics *metrics.Registry

	mu    sync.Mutex
	users map[string]*Context
	// results caches terminal ExecutionResults by (user_id, order_id).
	// inflight reserves keys between the duplicate check and the store,
	// so a concurrent duplicate can never reach the exchange.
	results  map[string]domain.ExecutionResult
	inflight map[string]struct{}

	// Degraded reports whether system-wide degraded sizing applies.
	Degraded func() bool
}

// NewExecutor builds an executor. store and m may be nil.
func NewExecutor(cfg Config, thresholds risk.Thresholds, store audit.Store, m *metrics.Registry) *Executor {
	def := DefaultConfig()
	if cfg.FanoutDeadline <= 0 {
		cfg.FanoutDeadline = def.FanoutDeadline
	}
	if cfg.DegradedScale <= 0 || cfg.DegradedScale > 1 {
		cfg.DegradedScale = def.DegradedScale
	}
	return &Executor{
		cfg:     cfg,
		engine:  risk.NewEngine(thresholds, nil, nil),
		store:   store,
		metrics: m,
		users:    make(map[string]*Context),
		results:  make(map[string]domain.ExecutionResult),
		inflight: make(map[string]struct{}),
	}
}

// AddUser activates a user context.
func (e *Executor) AddUser(uc *Context) {
	e.mu.Lock()
	e.users[uc.Profile.UserID] = uc
	e.mu.Unlock()
	log.Info().Str("user_id", uc.Profile.UserID).Str("tier", string(uc.Profile.Tier)).Msg("user context activated")
}

// RemoveUser destroys a user context and zeroes its credentials.
func (e *Executor) RemoveUser(userID string) {
	e.mu.Lock()
	uc, ok := e.users[userID]
	delete(e.users, userID)
	e.mu.Unlock()
	if ok {
		uc.Close()
		log.Info().Str("user_id", userID).Msg("user context destroyed")
	}
}

// User returns the context for one user id.
func (e *Executor) User(userID string) (*Context, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	uc, ok := e.users[userID]
	return uc, ok
}

func resultKey(userID, orderID string) string { return userID + "/" + orderID }

// skip builds an ExecutionResult for a user excluded before submission.
func skip(userID string, d Decision, flag domain.ExecutionFlag, reason string) domain.ExecutionResult {
	now := time.Now().UTC()
	return domain.ExecutionResult{
		UserID:      userID,
		OrderID:     d.OrderID,
		Symbol:      d.Symbol,
		Direction:   d.Direction,
		Status:      domain.OrderCancelled,
		Flags:       []domain.ExecutionFlag{flag},
		Error:       reason,
		SubmittedAt: now,
		CompletedAt: now,
	}
}

// eligible applies the four-step filter in order, short-circuiting on the
// first failure.
func eligible(uc *Context, d Decision) (domain.ExecutionFlag, string, bool) {
	if uc.Profile.Status != UserActive {
		return domain.FlagSkipped, "user not active", false
	}
	if !uc.Creds.Valid {
		return domain.FlagSkipped, "credentials invalid", false
	}
	if uc.Risk.IsLocked() {
		return domain.FlagRiskLockedTriggered, uc.Risk.LockReason(), false
	}
	if d.PositionFraction > uc.Profile.Tier.MaxPositionPct() {
		return domain.FlagSkipped, "subscription does not permit position fraction", false
	}
	return "", "", true
}

// Broadcast fans the decision out to every eligible user in parallel and
// joins under the fan-out deadline. Results are keyed by user id. A
// duplicate (user, order) pair returns the prior result without a second
// exchange call.
func (e *Executor) Broadcast(ctx context.Context, d Decision) map[string]domain.ExecutionResult {
	e.mu.Lock()
	targets := make([]*Context, 0, len(e.users))
	for _, uc := range e.users {
		targets = append(targets, uc)
	}
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.FanoutDeadline)
	defer cancel()

	type keyed struct {
		userID string
		res    domain.ExecutionResult
	}
	ch := make(chan keyed, len(targets))
	for _, uc := range targets {
		go func(uc *Context) {
			ch <- keyed{userID: uc.Profile.UserID, res: e.executeOne(ctx, uc, d)}
		}(uc)
	}

	out := make(map[string]domain.ExecutionResult, len(targets))
	pending := make(map[string]struct{}, len(targets))
	for _, uc := range targets {
		pending[uc.Profile.UserID] = struct{}{}
	}
	for len(pending) > 0 {
		select {
		case k := <-ch:
			delete(pending, k.userID)
			out[k.userID] = k.res
			e.record(ctx, d.CorrelationID, k.res)
		case <-ctx.Done():
			// Context-respecting clients get a moment to report their
			// own timeout before results are synthesized for the rest.
			grace := time.After(joinGrace)
			for len(pending) > 0 {
				select {
				case k := <-ch:
					delete(pending, k.userID)
					out[k.userID] = k.res
					e.record(context.WithoutCancel(ctx), d.CorrelationID, k.res)
				case <-grace:
					for userID := range pending {
						res := skip(userID, d, domain.FlagTimeout, "fan-out deadline exceeded")
						res.Status = domain.OrderRejectedStatus
						out[userID] = e.flagged(res)
						e.record(context.WithoutCancel(ctx), d.CorrelationID, res)
						log.Warn().Str("user_id", userID).Str("order_id", d.OrderID).Msg("client unresponsive past deadline")
					}
					return out
				}
			}
			return out
		}
	}
	return out
}

// executeOne runs the whole per-user path: eligibility, idempotency,
// sizing, user-scoped risk, submission. Every failure stays on this user.
func (e *Executor) executeOne(ctx context.Context, uc *Context, d Decision) domain.ExecutionResult {
	userID := uc.Profile.UserID

	// Idempotency first: a duplicate is a no-op even if the user's
	// eligibility changed since the original submission. The key is
	// reserved before the lock drops, so a concurrent duplicate is
	// refused rather than submitted twice.
	key := resultKey(userID, d.OrderID)
	e.mu.Lock()
	if prior, ok := e.results[key]; ok {
		e.mu.Unlock()
		log.Debug().Str("user_id", userID).Str("order_id", d.OrderID).Msg("duplicate submission, returning prior result")
		return prior
	}
	if _, busy := e.inflight[key]; busy {
		e.mu.Unlock()
		log.Debug().Str("user_id", userID).Str("order_id", d.OrderID).Msg("duplicate submission already in flight")
		return e.flagged(skip(userID, d, domain.FlagSkipped, "duplicate submission in flight"))
	}
	e.inflight[key] = struct{}{}
	e.mu.Unlock()

	if flag, reason, ok := eligible(uc, d); !ok {
		e.mu.Lock()
		delete(e.inflight, key)
		e.mu.Unlock()
		return e.flagged(skip(userID, d, flag, reason))
	}

	res := e.submit(ctx, uc, d)

	e.mu.Lock()
	e.results[key] = res
	delete(e.inflight, key)
	e.mu.Unlock()
	return res
}

func (e *Executor) submit(ctx context.Context, uc *Context, d Decision) domain.ExecutionResult {
	userID := uc.Profile.UserID
	started := time.Now().UTC()

	equity, err := uc.Client.Balance(ctx)
	if err != nil || equity <= 0 {
		return e.flagged(skip(userID, d, domain.FlagSkipped, "equity unavailable"))
	}

	fraction := d.PositionFraction
	if tierMax := uc.Profile.Tier.MaxPositionPct(); fraction > tierMax {
		fraction = tierMax
	}
	degraded := e.Degraded != nil && e.Degraded()
	if degraded {
		fraction *= e.cfg.DegradedScale
	}
	if d.Price <= 0 {
		return e.flagged(skip(userID, d, domain.FlagSkipped, "no reference price"))
	}
	quantity := equity * fraction / d.Price

	// User-scoped risk check with the same checker set as the global gate.
	pos, _ := uc.Client.GetPosition(ctx, d.Symbol)
	daily, weekly := uc.Risk.PnL()
	verdict := e.engine.Evaluate(ctx, risk.Context{
		Equity:            equity,
		PeakEquity:        equity,
		DailyPnL:          daily,
		WeeklyPnL:         weekly,
		ConsecutiveLosses: uc.Risk.ConsecutiveLosses(),
		PositionValue:     pos.Value(),
		ProposedValue:     equity * fraction,
		Leverage:          uc.Profile.Leverage,
		Tradeable:         true,
		Regime:            d.Regime,
		Degraded:          degraded,
		Now:               started,
	}, d.CorrelationID)
	if !verdict.Approved {
		flag := domain.FlagCooldownTriggered
		if verdict.Level == domain.RiskLockLevel {
			flag = domain.FlagRiskLockedTriggered
			uc.Risk.Lock(verdict.Reason)
		}
		return e.flagged(skip(userID, d, flag, verdict.Reason))
	}

	order := exchange.Order{
		ID:        d.OrderID,
		Symbol:    d.Symbol,
		Direction: d.Direction,
		Quantity:  quantity,
		Price:     d.Price,
		Leverage:  uc.Profile.Leverage,
	}
	if e.store != nil {
		rec := audit.NewRecord(audit.StreamOrders, "executor", d.CorrelationID, map[string]any{
			"user_id": userID,
			"order":   order,
		})
		if err := e.store.Append(ctx, rec); err != nil {
			log.Error().Err(err).Str("order_id", d.OrderID).Msg("order audit append failed")
		}
	}
	orderRes, err := uc.Client.PlaceOrder(ctx, order)
	completed := time.Now().UTC()

	res := domain.ExecutionResult{
		UserID:      userID,
		OrderID:     d.OrderID,
		Symbol:      d.Symbol,
		Direction:   d.Direction,
		Quantity:    quantity,
		Status:      orderRes.Status,
		FilledQty:   orderRes.FilledQty,
		AvgPrice:    orderRes.AvgPrice,
		Commission:  orderRes.Commission,
		Slippage:    orderRes.Slippage,
		SubmittedAt: started,
		CompletedAt: completed,
	}
	switch {
	case err == nil:
		uc.Risk.ResetTimeouts()
	case errors.Is(err, domain.ErrOrderTimeout):
		res.Status = domain.OrderRejectedStatus
		res.Flags = append(res.Flags, domain.FlagTimeout)
		res.Error = err.Error()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(ctx.Err(), context.Canceled) {
			res.Flags = append(res.Flags, domain.FlagCanceled)
		}
		if uc.Risk.RecordTimeout() {
			res.Flags = append(res.Flags, domain.FlagRiskLockedTriggered)
			log.Warn().Str("user_id", userID).Msg("user locked after consecutive timeouts")
		}
	default:
		res.Status = domain.OrderRejectedStatus
		res.Flags = append(res.Flags, domain.FlagRejected)
		res.Error = err.Error()
		log.Warn().Err(err).Str("user_id", userID).Str("order_id", d.OrderID).Msg("order rejected")
	}
	return e.flagged(res)
}

// flagged bumps the fan-out outcome metric for each terminal flag.
func (e *Executor) flagged(res domain.ExecutionResult) domain.ExecutionResult {
	if e.metrics != nil {
		if len(res.Flags) == 0 {
			e.metrics.FanoutResults.WithLabelValues("FILLED").Inc()
		}
		for _, f := range res.Flags {
			e.metrics.FanoutResults.WithLabelValues(string(f)).Inc()
		}
	}
	return res
}

func (e *Executor) record(ctx context.Context, correlationID uuid.UUID, res domain.ExecutionResult) {
	if e.store == nil {
		return
	}
	rec := audit.NewRecord(audit.StreamExecutions, "executor", correlationID, res)
	if err := e.store.Append(ctx, rec); err != nil {
		log.Error().Err(err).Str("user_id", res.UserID).Str("order_id", res.OrderID).Msg("execution audit append failed")
	}
}
