// Package state implements the single trading gatekeeper: a process-wide
// state machine that alone authorizes execution.
package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/meridianhq/tradecore/internal/audit"
	"github.com/meridianhq/tradecore/internal/domain"
	"github.com/meridianhq/tradecore/internal/metrics"
)

// AllStates lists every system state, for gauge labeling.
var AllStates = []domain.SystemState{
	domain.SystemInit,
	domain.Observing,
	domain.Eligible,
	domain.ActiveTrading,
	domain.Cooldown,
	domain.RiskLocked,
	domain.Recovery,
}

// permitted is the full transition table. RISK_LOCKED is reachable from
// anywhere and handled separately.
var permitted = map[domain.SystemState][]domain.SystemState{
	domain.SystemInit:    {domain.Observing},
	domain.Observing:     {domain.Eligible},
	domain.Eligible:      {domain.ActiveTrading},
	domain.ActiveTrading: {domain.Cooldown},
	domain.Cooldown:      {domain.Observing},
	domain.RiskLocked:    {domain.Recovery},
	domain.Recovery:      {domain.Observing},
}

func allowed(from, to domain.SystemState) bool {
	if to == domain.RiskLocked {
		return from != domain.RiskLocked
	}
	for _, t := range permitted[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Machine serializes every transition behind one mutex. All writers go
// through Transition; readers get a consistent snapshot from Current.
type Machine struct {
	mu            sync.Mutex
	current       domain.SystemState
	cooldownUntil time.Time
	store         audit.Store
	metrics       *metrics.Registry
	now           func() time.Time
}

// NewMachine boots in SYSTEM_INIT. store and m may be nil.
func NewMachine(store audit.Store, m *metrics.Registry) *Machine {
	machine := &Machine{
		current: domain.SystemInit,
		store:   store,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
	machine.markGauge()
	return machine
}

// Current returns the present state.
func (m *Machine) Current() domain.SystemState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// InCooldown reports whether the cooldown timer is still running.
func (m *Machine) InCooldown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current == domain.Cooldown && m.now().Before(m.cooldownUntil)
}

// Transition attempts current→to. Rejections keep the current state and
// are audited with an INVALID_TRANSITION reason.
func (m *Machine) Transition(ctx context.Context, to domain.SystemState, reason, actor string, correlationID uuid.UUID) error {
	m.mu.Lock()
	from := m.current
	ok := allowed(from, to)
	if ok && to == domain.Observing && from == domain.Cooldown && m.now().Before(m.cooldownUntil) {
		ok = false
		reason = fmt.Sprintf("cooldown active until %s", m.cooldownUntil.Format(time.RFC3339))
	}
	if ok {
		m.current = to
	}
	m.mu.Unlock()

	if m.metrics != nil {
		accepted := "false"
		if ok {
			accepted = "true"
		}
		m.metrics.StateTransitions.WithLabelValues(string(from), string(to), accepted).Inc()
	}

	if !ok {
		m.audit(ctx, from, to, "INVALID_TRANSITION: "+reason, actor, correlationID)
		log.Warn().
			Str("from", string(from)).
			Str("to", string(to)).
			Str("actor", actor).
			Msg("state transition rejected")
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidStateTransition, from, to)
	}

	m.markGauge()
	m.audit(ctx, from, to, reason, actor, correlationID)
	log.Info().
		Str("from", string(from)).
		Str("to", string(to)).
		Str("reason", reason).
		Str("actor", actor).
		Msg("state transition")
	return nil
}

// StartCooldown transitions ACTIVE_TRADING→COOLDOWN and arms the timer.
func (m *Machine) StartCooldown(ctx context.Context, d time.Duration, reason, actor string, correlationID uuid.UUID) error {
	if err := m.Transition(ctx, domain.Cooldown, reason, actor, correlationID); err != nil {
		return err
	}
	m.mu.Lock()
	m.cooldownUntil = m.now().Add(d)
	m.mu.Unlock()
	return nil
}

// ExtendCooldown lengthens an armed cooldown timer. Outside COOLDOWN, or
// when the timer already runs longer, nothing changes.
func (m *Machine) ExtendCooldown(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != domain.Cooldown {
		return
	}
	if until := m.now().Add(d); until.After(m.cooldownUntil) {
		m.cooldownUntil = until
	}
}

// CooldownRemaining reports the time left on an armed cooldown timer.
func (m *Machine) CooldownRemaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != domain.Cooldown {
		return 0
	}
	rem := m.cooldownUntil.Sub(m.now())
	if rem < 0 {
		return 0
	}
	return rem
}

func (m *Machine) markGauge() {
	if m.metrics == nil {
		return
	}
	states := make([]string, len(AllStates))
	for i, s := range AllStates {
		states[i] = string(s)
	}
	m.mu.Lock()
	cur := string(m.current)
	m.mu.Unlock()
	m.metrics.MarkState(states, cur)
}

func (m *Machine) audit(ctx context.Context, from, to domain.SystemState, reason, actor string, correlationID uuid.UUID) {
	if m.store == nil {
		return
	}
	rec := audit.NewRecord(audit.StreamStateTransitions, "state_machine", correlationID, map[string]any{
		"from":   from,
		"to":     to,
		"reason": reason,
		"actor":  actor,
	})
	if err := m.store.Append(ctx, rec); err != nil {
		log.Error().Err(err).Msg("state transition audit append failed")
	}
}
