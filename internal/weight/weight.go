// Package weight manages per-witness influence: a base weight set by
// operators, a health factor derived from grading, and a learning factor
// adjusted by the optimizer under a daily drift budget.
package weight

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/meridianhq/tradecore/internal/audit"
	"github.com/meridianhq/tradecore/internal/health"
)

// Clamp ranges. Effective weight is therefore bounded to [0.2, 2.88].
const (
	BaseMin     = 0.5
	BaseMax     = 2.0
	HealthMin   = 0.5
	HealthMax   = 1.2
	LearningMin = 0.8
	LearningMax = 1.2

	// DailyDrift caps cumulative learning-factor movement per UTC day.
	DailyDrift = 0.05
)

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Weight is one witness's influence decomposition.
type Weight struct {
	Base           float64 `json:"base"`
	HealthFactor   float64 `json:"health_factor"`
	LearningFactor float64 `json:"learning_factor"`
}

// Effective multiplies the clamped factors.
func (w Weight) Effective() float64 {
	return clamp(w.Base, BaseMin, BaseMax) *
		clamp(w.HealthFactor, HealthMin, HealthMax) *
		clamp(w.LearningFactor, LearningMin, LearningMax)
}

type entry struct {
	base     float64
	learning float64
	// dayOpen anchors the drift budget: the learning factor's value at
	// the first write of the current UTC day.
	dayOpen float64
	day     string
}

// Manager owns the weight table. Reads during aggregation go through
// Snapshot so one cycle sees one consistent table.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*entry
	health  *health.Manager
	store   audit.Store
	now     func() time.Time
}

// NewManager wires the weight table to health grading and the audit log.
// store may be nil for tests.
func NewManager(h *health.Manager, store audit.Store) *Manager {
	return &Manager{
		entries: make(map[string]*entry),
		health:  h,
		store:   store,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) entryFor(witnessID string) *entry {
	e, ok := m.entries[witnessID]
	if !ok {
		e = &entry{base: 1.0, learning: 1.0, dayOpen: 1.0}
		m.entries[witnessID] = e
	}
	return e
}

// Get returns the current weight for one witness. The health factor is
// pulled fresh from grading on every read.
func (m *Manager) Get(witnessID string) Weight {
	m.mu.RLock()
	e, ok := m.entries[witnessID]
	var base, learning float64 = 1.0, 1.0
	if ok {
		base, learning = e.base, e.learning
	}
	m.mu.RUnlock()

	healthFactor := 1.0
	if m.health != nil {
		healthFactor = m.health.Snapshot(witnessID).WeightScalar
	}
	return Weight{Base: base, HealthFactor: healthFactor, LearningFactor: learning}
}

// Snapshot materializes effective weights for the given witnesses. The
// aggregator reads this once per cycle; later writes do not affect a cycle
// in flight.
func (m *Manager) Snapshot(witnessIDs []string) map[string]float64 {
	out := make(map[string]float64, len(witnessIDs))
	for _, id := range witnessIDs {
		out[id] = m.Get(id).Effective()
	}
	return out
}

// SetBase sets a witness's base weight, clamped to [0.5, 2.0].
func (m *Manager) SetBase(ctx context.Context, witnessID string, base float64, operator string) {
	clamped := clamp(base, BaseMin, BaseMax)
	m.mu.Lock()
	e := m.entryFor(witnessID)
	old := e.base
	e.base = clamped
	m.mu.Unlock()

	log.Info().
		Str("witness_id", witnessID).
		Float64("old", old).
		Float64("new", clamped).
		Str("operator", operator).
		Msg("base weight set")
	m.append(ctx, witnessID, "base", old, clamped, operator)
}

// SetLearningFactor sets a witness's learning factor, clamped to [0.8, 1.2]
// and further bounded so the day's cumulative movement stays within ±0.05
// of the factor's value at the day's first write.
func (m *Manager) SetLearningFactor(ctx context.Context, witnessID string, factor float64, operator string) float64 {
	now := m.now()
	day := now.Format("2006-01-02")

	m.mu.Lock()
	e := m.entryFor(witnessID)
	if e.day != day {
		e.day = day
		e.dayOpen = e.learning
	}
	clamped := clamp(factor, LearningMin, LearningMax)
	clamped = clamp(clamped, e.dayOpen-DailyDrift, e.dayOpen+DailyDrift)
	old := e.learning
	e.learning = clamped
	m.mu.Unlock()

	log.Info().
		Str("witness_id", witnessID).
		Float64("old", old).
		Float64("new", clamped).
		Str("operator", operator).
		Msg("learning factor set")
	m.append(ctx, witnessID, "learning", old, clamped, operator)
	return clamped
}

func (m *Manager) append(ctx context.Context, witnessID, field string, oldVal, newVal float64, operator string) {
	if m.store == nil {
		return
	}
	rec := audit.NewRecord(audit.StreamWeights, "weight_manager", uuid.New(), map[string]any{
		"witness_id": witnessID,
		"field":      field,
		"old":        oldVal,
		"new":        newVal,
		"operator":   operator,
	})
	if err := m.store.Append(ctx, rec); err != nil {
		log.Error().Err(err).Str("witness_id", witnessID).Msg("weight audit append failed")
	}
}
