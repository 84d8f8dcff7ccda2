package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meridianhq/tradecore/internal/domain"
)

// PaperClient fills every order instantly at the configured mark price.
// Used for dry runs and as the executor test double: rejection, timeout,
// and latency are injectable per instance.
type PaperClient struct {
	mu        sync.Mutex
	markPrice float64
	balance   float64
	positions map[string]Position

	FailWith   error         // non-nil: every PlaceOrder fails with this
	Latency    time.Duration // simulated exchange latency
	Commission float64       // fraction of notional
}

// NewPaperClient starts with the given balance and mark price.
func NewPaperClient(balance, markPrice float64) *PaperClient {
	return &PaperClient{
		markPrice:  markPrice,
		balance:    balance,
		positions:  make(map[string]Position),
		Commission: 0.0004,
	}
}

// SetMark updates the simulated mark price.
func (c *PaperClient) SetMark(px float64) {
	c.mu.Lock()
	c.markPrice = px
	c.mu.Unlock()
}

// PlaceOrder fills at the mark, honoring injected failure and latency.
func (c *PaperClient) PlaceOrder(ctx context.Context, order Order) (OrderResult, error) {
	if c.Latency > 0 {
		select {
		case <-time.After(c.Latency):
		case <-ctx.Done():
			return OrderResult{OrderID: order.ID, Status: domain.OrderRejectedStatus},
				fmt.Errorf("%w: order %s: %v", domain.ErrOrderTimeout, order.ID, ctx.Err())
		}
	}
	if c.FailWith != nil {
		return OrderResult{OrderID: order.ID, Status: domain.OrderRejectedStatus},
			fmt.Errorf("%w: order %s: %v", domain.ErrOrderRejected, order.ID, c.FailWith)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	px := c.markPrice
	if order.Price > 0 {
		px = order.Price
	}
	notional := order.Quantity * px
	commission := notional * c.Commission
	c.balance -= commission

	pos := c.positions[order.Symbol]
	pos.Symbol = order.Symbol
	pos.Direction = order.Direction
	pos.Quantity += order.Quantity
	pos.EntryPx = px
	pos.MarkPx = c.markPrice
	c.positions[order.Symbol] = pos

	return OrderResult{
		OrderID:    order.ID,
		Status:     domain.OrderFilled,
		FilledQty:  order.Quantity,
		AvgPrice:   px,
		Commission: commission,
	}, nil
}

// CancelOrder is a no-op: paper orders fill instantly.
func (c *PaperClient) CancelOrder(_ context.Context, _ string) error { return nil }

// GetPosition returns the simulated position.
func (c *PaperClient) GetPosition(_ context.Context, symbol string) (Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pos, ok := c.positions[symbol]
	if !ok {
		return Position{Symbol: symbol, Direction: domain.Undirected}, nil
	}
	pos.MarkPx = c.markPrice
	return pos, nil
}

// Balance returns the simulated account balance.
func (c *PaperClient) Balance(_ context.Context) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance, nil
}
