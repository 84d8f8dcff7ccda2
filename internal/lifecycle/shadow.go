package lifecycle

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meridianhq/tradecore/internal/domain"
)

const (
	// Promotion readiness gate for SHADOW strategies.
	promotionAge     = 7 * 24 * time.Hour
	promotionWinRate = 0.51
	promotionTrades  = 10

	defaultHolding = 30 * time.Minute
)

// Performance is one shadow strategy's rolling simulated record.
type Performance struct {
	StrategyID string    `json:"strategy_id"`
	Trades     int       `json:"trades"`
	Wins       int       `json:"wins"`
	WinRate    float64   `json:"win_rate"`
	Open       int       `json:"open"`
	FirstAt    time.Time `json:"first_at"`
}

type openTrade struct {
	direction domain.Direction
	entryPx   float64
	openedAt  time.Time
}

type shadowLog struct {
	open    []openTrade
	trades  int
	wins    int
	firstAt time.Time
}

// Runner records shadow claims against contemporaneous prices and settles
// them into a rolling performance log. Shadow output never reaches the
// aggregator; this log exists only to feed the promotion check.
type Runner struct {
	mu      sync.Mutex
	logs    map[string]*shadowLog
	holding time.Duration
	now     func() time.Time
}

// NewRunner builds a shadow recorder with the given simulated holding
// period (defaults to 30 minutes).
func NewRunner(holding time.Duration) *Runner {
	if holding <= 0 {
		holding = defaultHolding
	}
	return &Runner{
		logs:    make(map[string]*shadowLog),
		holding: holding,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Record logs one shadow claim at the current mark price. Expired and
// undirected claims are dropped: shadow claims face the same validity
// check as live ones.
func (r *Runner) Record(claim domain.Claim, markPrice float64) {
	now := r.now()
	if claim.Expired(now) || claim.Direction == domain.Undirected || markPrice <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sl, ok := r.logs[claim.WitnessID]
	if !ok {
		sl = &shadowLog{firstAt: now}
		r.logs[claim.WitnessID] = sl
	}
	sl.open = append(sl.open, openTrade{
		direction: claim.Direction,
		entryPx:   markPrice,
		openedAt:  now,
	})
	log.Debug().
		Str("strategy_id", claim.WitnessID).
		Str("direction", string(claim.Direction)).
		Float64("entry_px", markPrice).
		Msg("shadow trade opened")
}

// Settle closes every simulated trade older than the holding period
// against the current mark and folds it into the strategy's record.
func (r *Runner) Settle(markPrice float64) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sl := range r.logs {
		kept := sl.open[:0]
		for _, tr := range sl.open {
			if now.Sub(tr.openedAt) < r.holding {
				kept = append(kept, tr)
				continue
			}
			win := (tr.direction == domain.Long && markPrice > tr.entryPx) ||
				(tr.direction == domain.Short && markPrice < tr.entryPx)
			sl.trades++
			if win {
				sl.wins++
			}
		}
		sl.open = kept
	}
}

// Performance reports one strategy's simulated record.
func (r *Runner) Performance(strategyID string) Performance {
	r.mu.Lock()
	defer r.mu.Unlock()
	sl, ok := r.logs[strategyID]
	if !ok {
		return Performance{StrategyID: strategyID}
	}
	p := Performance{
		StrategyID: strategyID,
		Trades:     sl.trades,
		Wins:       sl.wins,
		Open:       len(sl.open),
		FirstAt:    sl.firstAt,
	}
	if sl.trades > 0 {
		p.WinRate = float64(sl.wins) / float64(sl.trades)
	}
	return p
}

// ReadyForPromotion reports whether the strategy has earned the manual
// promotion review: at least seven days of shadow history, ten settled
// trades, and a win rate at or above 0.51.
func (r *Runner) ReadyForPromotion(strategyID string) bool {
	p := r.Performance(strategyID)
	if p.FirstAt.IsZero() {
		return false
	}
	return r.now().Sub(p.FirstAt) >= promotionAge &&
		p.Trades >= promotionTrades &&
		p.WinRate >= promotionWinRate
}
