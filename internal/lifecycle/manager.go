// Package lifecycle moves strategies through NEW→TESTING→SHADOW→ACTIVE→
// (DEGRADED↔ACTIVE)→RETIRED and owns tier promotion timing. Tier-3
// witnesses bypass this subsystem entirely.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/meridianhq/tradecore/internal/audit"
	"github.com/meridianhq/tradecore/internal/domain"
)

const (
	// Validation gate for TESTING→SHADOW.
	validationWinRate = 0.51
	validationSample  = 100

	// T2→T1 requires this long continuously at grade A.
	tierPromotionAge = 30 * 24 * time.Hour

	// DEGRADED→RETIRED after this long without recovery.
	retireAfter = 30 * 24 * time.Hour
)

type strategy struct {
	status        domain.LifecycleStatus
	tier          domain.Tier
	statusSince   time.Time
	gradeASince   time.Time // zero when not currently at grade A
	degradedSince time.Time
}

// Manager owns lifecycle status per strategy.
type Manager struct {
	mu         sync.Mutex
	strategies map[string]*strategy
	store      audit.Store
	now        func() time.Time
}

// NewManager builds an empty lifecycle table. store may be nil.
func NewManager(store audit.Store) *Manager {
	return &Manager{
		strategies: make(map[string]*strategy),
		store:      store,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Register enters a new hypothesis. It lands in TESTING immediately: the
// NEW→TESTING transition fires on creation. Tier-3 strategies are refused.
func (m *Manager) Register(id string, tier domain.Tier) error {
	if tier == domain.Tier3 {
		return fmt.Errorf("tier_3 witness %s does not participate in lifecycle", id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.strategies[id]; exists {
		return fmt.Errorf("strategy %s already registered", id)
	}
	now := m.now()
	m.strategies[id] = &strategy{status: domain.StatusTesting, tier: tier, statusSince: now}
	m.audit(id, domain.StatusNew, domain.StatusTesting, "hypothesis created", "lifecycle")
	return nil
}

// Status returns the current lifecycle status.
func (m *Manager) Status(id string) (domain.LifecycleStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.strategies[id]
	if !ok {
		return "", false
	}
	return s.status, true
}

// Tier returns the strategy's current tier.
func (m *Manager) Tier(id string) (domain.Tier, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.strategies[id]
	if !ok {
		return "", false
	}
	return s.tier, true
}

func (m *Manager) transition(id string, s *strategy, to domain.LifecycleStatus, reason, actor string) {
	from := s.status
	s.status = to
	s.statusSince = m.now()
	log.Info().
		Str("strategy_id", id).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("reason", reason).
		Msg("lifecycle transition")
	m.audit(id, from, to, reason, actor)
}

// ReportValidation feeds TESTING-phase results; meeting the validation gate
// moves the strategy to SHADOW automatically.
func (m *Manager) ReportValidation(id string, winRate float64, sample int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.strategies[id]
	if !ok || s.status != domain.StatusTesting {
		return
	}
	if winRate >= validationWinRate && sample >= validationSample {
		m.transition(id, s, domain.StatusShadow,
			fmt.Sprintf("validation win rate %.3f over %d samples", winRate, sample), "lifecycle")
	}
}

// Promote executes the manual SHADOW→ACTIVE approval. The caller checks
// shadow readiness first; promotion lands at tier 2 by default.
func (m *Manager) Promote(id, operator string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.strategies[id]
	if !ok {
		return fmt.Errorf("strategy %s not registered", id)
	}
	if s.status != domain.StatusShadow {
		return fmt.Errorf("strategy %s is %s, not shadow", id, s.status)
	}
	s.tier = domain.Tier2
	m.transition(id, s, domain.StatusActive, "manual promotion", operator)
	return nil
}

// ReportGrade feeds health grades for ACTIVE and DEGRADED strategies and
// drives the demotion/recovery/retirement edges plus tier-1 aging.
func (m *Manager) ReportGrade(id string, grade domain.HealthGrade) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.strategies[id]
	if !ok {
		return
	}
	now := m.now()

	if grade == domain.GradeA {
		if s.gradeASince.IsZero() {
			s.gradeASince = now
		}
	} else {
		s.gradeASince = time.Time{}
	}

	switch s.status {
	case domain.StatusActive:
		if grade == domain.GradeD {
			s.degradedSince = now
			m.transition(id, s, domain.StatusDegraded, "health grade D", "lifecycle")
		}
	case domain.StatusDegraded:
		switch {
		case grade == domain.GradeA || grade == domain.GradeB:
			s.degradedSince = time.Time{}
			m.transition(id, s, domain.StatusActive, "health recovered to "+string(grade), "lifecycle")
		case now.Sub(s.degradedSince) >= retireAfter:
			m.transition(id, s, domain.StatusRetired, "30 days degraded without recovery", "lifecycle")
		}
	}
}

// PromoteTier executes the manual T2→T1 approval, requiring 30 days of
// continuous grade A on an ACTIVE strategy.
func (m *Manager) PromoteTier(id, operator string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.strategies[id]
	if !ok {
		return fmt.Errorf("strategy %s not registered", id)
	}
	if s.status != domain.StatusActive || s.tier != domain.Tier2 {
		return fmt.Errorf("strategy %s not eligible for tier promotion", id)
	}
	if s.gradeASince.IsZero() || m.now().Sub(s.gradeASince) < tierPromotionAge {
		return fmt.Errorf("strategy %s lacks 30 days at grade A", id)
	}
	s.tier = domain.Tier1
	log.Info().Str("strategy_id", id).Str("operator", operator).Msg("strategy promoted to tier 1")
	m.audit(id, s.status, s.status, "tier promoted to tier_1", operator)
	return nil
}

func (m *Manager) audit(id string, from, to domain.LifecycleStatus, reason, actor string) {
	if m.store == nil {
		return
	}
	rec := audit.NewRecord(audit.StreamLifecycle, "lifecycle_manager", uuid.New(), map[string]any{
		"strategy_id": id,
		"from":        from,
		"to":          to,
		"reason":      reason,
		"actor":       actor,
	})
	if err := m.store.Append(context.Background(), rec); err != nil {
		log.Error().Err(err).Str("strategy_id", id).Msg("lifecycle audit append failed")
	}
}
