package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/meridianhq/tradecore/internal/domain"
)

// GuardConfig tunes the reliability wrapper.
type GuardConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	BreakerMaxFails   uint32        `yaml:"breaker_max_fails"`
	BreakerTimeout    time.Duration `yaml:"breaker_timeout"`
	CallTimeout       time.Duration `yaml:"call_timeout"`
}

// DefaultGuardConfig returns conservative production defaults.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		RequestsPerSecond: 5,
		Burst:             10,
		BreakerMaxFails:   5,
		BreakerTimeout:    30 * time.Second,
		CallTimeout:       10 * time.Second,
	}
}

// GuardedClient wraps a Client with a circuit breaker, a token-bucket rate
// limit, and a hard per-call deadline. One instance per user keeps users'
// failures isolated from each other.
type GuardedClient struct {
	inner   Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	timeout time.Duration
}

// NewGuardedClient wraps inner for one user.
func NewGuardedClient(userID string, inner Client, cfg GuardConfig) *GuardedClient {
	def := DefaultGuardConfig()
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.BreakerMaxFails == 0 {
		cfg.BreakerMaxFails = def.BreakerMaxFails
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}

	settings := gobreaker.Settings{
		Name:    "exchange:" + userID,
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFails
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("exchange breaker state change")
		},
	}
	return &GuardedClient{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		timeout: cfg.CallTimeout,
	}
}

func (g *GuardedClient) run(ctx context.Context, op string, fn func(ctx context.Context) (any, error)) (any, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: rate limit wait: %v", domain.ErrOrderTimeout, op, err)
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	out, err := g.breaker.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, fmt.Errorf("%w: %s: circuit open", domain.ErrOrderRejected, op)
	}
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrOrderTimeout, op, err)
	}
	return out, err
}

// PlaceOrder submits through the guard.
func (g *GuardedClient) PlaceOrder(ctx context.Context, order Order) (OrderResult, error) {
	out, err := g.run(ctx, "place_order", func(ctx context.Context) (any, error) {
		return g.inner.PlaceOrder(ctx, order)
	})
	if err != nil {
		return OrderResult{OrderID: order.ID, Status: domain.OrderRejectedStatus}, err
	}
	return out.(OrderResult), nil
}

// CancelOrder cancels through the guard.
func (g *GuardedClient) CancelOrder(ctx context.Context, orderID string) error {
	_, err := g.run(ctx, "cancel_order", func(ctx context.Context) (any, error) {
		return nil, g.inner.CancelOrder(ctx, orderID)
	})
	return err
}

// GetPosition reads through the guard.
func (g *GuardedClient) GetPosition(ctx context.Context, symbol string) (Position, error) {
	out, err := g.run(ctx, "get_position", func(ctx context.Context) (any, error) {
		return g.inner.GetPosition(ctx, symbol)
	})
	if err != nil {
		return Position{}, err
	}
	return out.(Position), nil
}

// Balance reads through the guard.
func (g *GuardedClient) Balance(ctx context.Context) (float64, error) {
	out, err := g.run(ctx, "balance", func(ctx context.Context) (any, error) {
		return g.inner.Balance(ctx)
	})
	if err != nil {
		return 0, err
	}
	return out.(float64), nil
}
