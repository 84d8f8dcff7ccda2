package risk

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/meridianhq/tradecore/internal/audit"
)

const (
	// autoUnlockAfter is how long a lock must age before automatic
	// release becomes possible.
	autoUnlockAfter = 24 * time.Hour
	// recededRatio: drawdown must fall below this fraction of the limit
	// before any unlock.
	recededRatio = 0.5
	// DegradedPositionScale halves sizing while recovering.
	DegradedPositionScale = 0.5
)

// RecoveryManager owns the path out of a risk lock: a 24-hour automatic
// release once drawdown has receded, or a manual unlock with operator
// attribution. Either way the system re-enters trading degraded.
type RecoveryManager struct {
	mu         sync.Mutex
	thresholds Thresholds
	store      audit.Store
	lockedAt   time.Time
	locked     bool
	degraded   bool
	now        func() time.Time
}

// NewRecoveryManager wires the manager. store may be nil.
func NewRecoveryManager(t Thresholds, store audit.Store) *RecoveryManager {
	return &RecoveryManager{
		thresholds: t.Normalize(),
		store:      store,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// OnLock records the lock instant.
func (r *RecoveryManager) OnLock() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.locked {
		r.locked = true
		r.lockedAt = r.now()
	}
}

// Locked reports whether a lock is outstanding.
func (r *RecoveryManager) Locked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.locked
}

// Degraded reports whether post-recovery degraded sizing applies.
func (r *RecoveryManager) Degraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.degraded
}

// TryAutoUnlock releases the lock when it has aged past the automatic
// window and drawdown has receded below half the limit. Returns true when
// the unlock happened.
func (r *RecoveryManager) TryAutoUnlock(ctx context.Context, drawdown float64) bool {
	r.mu.Lock()
	if !r.locked || r.now().Sub(r.lockedAt) < autoUnlockAfter ||
		drawdown >= r.thresholds.MaxDrawdown*recededRatio {
		r.mu.Unlock()
		return false
	}
	r.locked = false
	r.degraded = true
	r.mu.Unlock()

	log.Info().Float64("drawdown", drawdown).Msg("risk lock auto-released")
	r.record(ctx, "auto", drawdown)
	return true
}

// ManualUnlock releases the lock on operator authority regardless of age,
// still requiring drawdown to have receded.
func (r *RecoveryManager) ManualUnlock(ctx context.Context, operator string, drawdown float64) bool {
	r.mu.Lock()
	if !r.locked || drawdown >= r.thresholds.MaxDrawdown*recededRatio {
		r.mu.Unlock()
		return false
	}
	r.locked = false
	r.degraded = true
	r.mu.Unlock()

	log.Info().Str("operator", operator).Float64("drawdown", drawdown).Msg("risk lock manually released")
	r.record(ctx, operator, drawdown)
	return true
}

// ExitDegraded clears degraded sizing once the account has healed: no
// drawdown pressure and a non-negative week.
func (r *RecoveryManager) ExitDegraded(drawdown, weeklyPnL float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.degraded && drawdown < r.thresholds.MaxDrawdown*0.25 && weeklyPnL >= 0 {
		r.degraded = false
		log.Info().Msg("degraded mode cleared")
	}
}

func (r *RecoveryManager) record(ctx context.Context, operator string, drawdown float64) {
	if r.store == nil {
		return
	}
	rec := audit.NewRecord(audit.StreamRiskEvents, "recovery_manager", uuid.New(), map[string]any{
		"event":    "unlock",
		"operator": operator,
		"drawdown": drawdown,
	})
	if err := r.store.Append(ctx, rec); err != nil {
		log.Error().Err(err).Msg("recovery audit append failed")
	}
}
