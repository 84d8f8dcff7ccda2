package domain

import "time"

// Resolution names the outcome shape of one aggregation pass.
type Resolution string

const (
	ResolutionVetoed        Resolution = "vetoed"
	ResolutionNoDominant    Resolution = "no_dominant"
	ResolutionRegimeUnclear Resolution = "regime_unclear"
	ResolutionResolved      Resolution = "resolved"
)

// AggregatedResult is the outcome of resolving one cycle's claims.
type AggregatedResult struct {
	Resolution      Resolution  `json:"resolution"`
	Tradeable       bool        `json:"tradeable"`
	TotalConfidence float64     `json:"total_confidence"`
	Direction       Direction   `json:"direction"`
	DominantWitness string      `json:"dominant_witness,omitempty"`
	VetoedBy        string      `json:"vetoed_by,omitempty"`
	Regime          TradeRegime `json:"regime"`
	ClaimCount      int         `json:"claim_count"`
	DroppedExpired  int         `json:"dropped_expired"`
	ResolvedAt      time.Time   `json:"resolved_at"`
}

// ExecutionResult is the immutable record of one user's execution attempt.
type ExecutionResult struct {
	UserID      string          `json:"user_id"`
	OrderID     string          `json:"order_id"`
	Symbol      string          `json:"symbol"`
	Direction   Direction       `json:"direction"`
	Quantity    float64         `json:"quantity"`
	Status      OrderStatus     `json:"status"`
	FilledQty   float64         `json:"filled_qty"`
	AvgPrice    float64         `json:"avg_price"`
	Commission  float64         `json:"commission"`
	Slippage    float64         `json:"slippage"`
	Flags       []ExecutionFlag `json:"flags,omitempty"`
	Error       string          `json:"error,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
	CompletedAt time.Time       `json:"completed_at"`
}

// HasFlag reports whether flag was recorded on the result.
func (r ExecutionResult) HasFlag(flag ExecutionFlag) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// TradeOutcome feeds witness health tracking: one settled trade attributed
// to the witness whose claim dominated the decision.
type TradeOutcome struct {
	WitnessID string    `json:"witness_id"`
	Win       bool      `json:"win"`
	PnL       float64   `json:"pnl"`
	StopLoss  bool      `json:"stop_loss"`
	ClosedAt  time.Time `json:"closed_at"`
}
