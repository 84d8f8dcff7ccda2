// Package exchange defines the abstract per-user exchange client and its
// reliability wrappers. Protocol details live with the concrete clients,
// outside the core.
package exchange

import (
	"context"

	"github.com/meridianhq/tradecore/internal/domain"
)

// Order is one abstract order submission.
type Order struct {
	ID        string           `json:"id"`
	Symbol    string           `json:"symbol"`
	Direction domain.Direction `json:"direction"`
	Quantity  float64          `json:"quantity"`
	Price     float64          `json:"price,omitempty"` // 0 means market
	Leverage  float64          `json:"leverage"`
}

// OrderResult is the exchange's terminal answer for one order.
type OrderResult struct {
	OrderID    string             `json:"order_id"`
	Status     domain.OrderStatus `json:"status"`
	FilledQty  float64            `json:"filled_qty"`
	AvgPrice   float64            `json:"avg_price"`
	Commission float64            `json:"commission"`
	Slippage   float64            `json:"slippage"`
}

// Position is the current exposure in one symbol.
type Position struct {
	Symbol    string           `json:"symbol"`
	Direction domain.Direction `json:"direction"`
	Quantity  float64          `json:"quantity"`
	EntryPx   float64          `json:"entry_px"`
	MarkPx    float64          `json:"mark_px"`
}

// Value is the position's notional at the mark.
func (p Position) Value() float64 { return p.Quantity * p.MarkPx }

// Client is the per-user exchange contract. Failures surface as typed
// errors wrapping domain.ErrOrderRejected or domain.ErrOrderTimeout.
type Client interface {
	PlaceOrder(ctx context.Context, order Order) (OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetPosition(ctx context.Context, symbol string) (Position, error)
	Balance(ctx context.Context) (float64, error)
}
