package witness

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meridianhq/tradecore/internal/domain"
	"github.com/meridianhq/tradecore/internal/metrics"
)

// DefaultCollectBudget bounds one claim collection pass.
const DefaultCollectBudget = 2 * time.Second

type registration struct {
	witness   Witness
	tier      domain.Tier
	status    Status
	protected bool
}

// Panel is the witness registry and per-cycle claim collector.
type Panel struct {
	mu      sync.RWMutex
	entries map[string]*registration
	budget  time.Duration
	metrics *metrics.Registry
}

// NewPanel builds an empty panel. m may be nil.
func NewPanel(budget time.Duration, m *metrics.Registry) *Panel {
	if budget <= 0 {
		budget = DefaultCollectBudget
	}
	return &Panel{
		entries: make(map[string]*registration),
		budget:  budget,
		metrics: m,
	}
}

// Register adds w under its declared tier. Tier-3 witnesses register as
// protected: they cannot be muted, retiered, or removed.
func (p *Panel) Register(w Witness) error {
	if reporter, ok := w.(CapabilityReporter); ok {
		for _, cap := range reporter.Capabilities() {
			if forbiddenCaps[cap] {
				return fmt.Errorf("%w: witness %s declares capability %s",
					domain.ErrArchitectureViolation, w.ID(), cap)
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.entries[w.ID()]; exists {
		return fmt.Errorf("witness %s already registered", w.ID())
	}
	p.entries[w.ID()] = &registration{
		witness:   w,
		tier:      w.Tier(),
		status:    StatusActive,
		protected: w.Tier() == domain.Tier3,
	}
	p.updateGauges()
	log.Info().Str("witness_id", w.ID()).Str("tier", string(w.Tier())).Msg("witness registered")
	return nil
}

// Unregister removes a witness. Protected witnesses stay.
func (p *Panel) Unregister(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	reg, ok := p.entries[id]
	if !ok {
		return fmt.Errorf("witness %s not registered", id)
	}
	if reg.protected {
		return fmt.Errorf("witness %s is protected and cannot be removed", id)
	}
	delete(p.entries, id)
	p.updateGauges()
	return nil
}

// SetStatus switches a registration between active, muted, and shadow.
// Protected witnesses cannot leave active.
func (p *Panel) SetStatus(id string, status Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	reg, ok := p.entries[id]
	if !ok {
		return fmt.Errorf("witness %s not registered", id)
	}
	if reg.protected && status != StatusActive {
		return fmt.Errorf("witness %s is protected and cannot be %s", id, status)
	}
	reg.status = status
	p.updateGauges()
	log.Info().Str("witness_id", id).Str("status", string(status)).Msg("witness status changed")
	return nil
}

// SetTier reassigns a witness between tier 1 and tier 2. Moves into or out
// of tier 3 are refused in both directions.
func (p *Panel) SetTier(id string, tier domain.Tier) error {
	if tier == domain.Tier3 {
		return fmt.Errorf("witness %s: tier_3 assignment is not permitted", id)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	reg, ok := p.entries[id]
	if !ok {
		return fmt.Errorf("witness %s not registered", id)
	}
	if reg.tier == domain.Tier3 {
		return fmt.Errorf("witness %s: tier_3 witnesses cannot be reassigned", id)
	}
	reg.tier = tier
	p.updateGauges()
	log.Info().Str("witness_id", id).Str("tier", string(tier)).Msg("witness tier changed")
	return nil
}

// Status returns the registration status of id.
func (p *Panel) Status(id string) (Status, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	reg, ok := p.entries[id]
	if !ok {
		return "", false
	}
	return reg.status, true
}

// ListByTier returns the ids registered at tier, sorted.
func (p *Panel) ListByTier(tier domain.Tier) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var ids []string
	for id, reg := range p.entries {
		if reg.tier == tier {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (p *Panel) updateGauges() {
	if p.metrics == nil {
		return
	}
	counts := map[domain.Tier]int{}
	for _, reg := range p.entries {
		if reg.status != StatusMuted {
			counts[reg.tier]++
		}
	}
	for _, tier := range []domain.Tier{domain.Tier1, domain.Tier2, domain.Tier3} {
		p.metrics.ActiveWitnesses.WithLabelValues(string(tier)).Set(float64(counts[tier]))
	}
}

// CollectResult carries one cycle's claims split by routing.
type CollectResult struct {
	Claims       []domain.Claim
	ShadowClaims []domain.Claim
	Invalid      int
	Expired      int
}

type collected struct {
	claim  *domain.Claim
	shadow bool
	err    error
	id     string
}

// Collect runs all active and shadow witnesses in parallel under the time
// budget and returns validated claims. Shadow claims are kept out of the
// live set. A witness panic or error drops only that witness's claim.
func (p *Panel) Collect(ctx context.Context, bars []domain.Bar) CollectResult {
	ctx, cancel := context.WithTimeout(ctx, p.budget)
	defer cancel()

	p.mu.RLock()
	regs := make([]*registration, 0, len(p.entries))
	tiers := make(map[string]domain.Tier, len(p.entries))
	for _, reg := range p.entries {
		if reg.status == StatusMuted {
			continue
		}
		regs = append(regs, reg)
		tiers[reg.witness.ID()] = reg.tier
	}
	p.mu.RUnlock()

	results := make(chan collected, len(regs))
	for _, reg := range regs {
		go func(reg *registration) {
			results <- p.runOne(ctx, reg, bars)
		}(reg)
	}

	var out CollectResult
	now := time.Now().UTC()
	for range regs {
		var res collected
		select {
		case res = <-results:
		case <-ctx.Done():
			log.Warn().Msg("claim collection budget exhausted, proceeding with partial set")
			p.sortClaims(&out)
			return out
		}
		if res.err != nil {
			log.Warn().Err(res.err).Str("witness_id", res.id).Msg("witness failed, claim dropped")
			continue
		}
		if res.claim == nil {
			continue
		}
		claim := *res.claim
		// Identity and tier come from the registration, not the claim.
		claim.WitnessID = res.id
		claim.Tier = tiers[res.id]
		if err := claim.Validate(); err != nil {
			out.Invalid++
			if p.metrics != nil {
				p.metrics.InvalidClaims.Inc()
			}
			log.Warn().Err(err).Str("witness_id", res.id).Msg("invalid claim dropped")
			continue
		}
		if claim.Expired(now) {
			out.Expired++
			if p.metrics != nil {
				p.metrics.ExpiredClaims.Inc()
			}
			continue
		}
		if res.shadow {
			out.ShadowClaims = append(out.ShadowClaims, claim)
		} else {
			out.Claims = append(out.Claims, claim)
		}
	}
	p.sortClaims(&out)
	return out
}

// sortClaims makes collection order deterministic for downstream tie-breaks.
func (p *Panel) sortClaims(res *CollectResult) {
	sort.Slice(res.Claims, func(i, j int) bool {
		return res.Claims[i].WitnessID < res.Claims[j].WitnessID
	})
	sort.Slice(res.ShadowClaims, func(i, j int) bool {
		return res.ShadowClaims[i].WitnessID < res.ShadowClaims[j].WitnessID
	})
}

func (p *Panel) runOne(ctx context.Context, reg *registration, bars []domain.Bar) (res collected) {
	res.id = reg.witness.ID()
	res.shadow = reg.status == StatusShadow
	defer func() {
		if r := recover(); r != nil {
			if p.metrics != nil {
				p.metrics.WitnessPanics.WithLabelValues(res.id).Inc()
			}
			res.claim = nil
			res.err = fmt.Errorf("witness %s panicked: %v", res.id, r)
		}
	}()
	claim, err := reg.witness.GenerateClaim(ctx, bars)
	res.claim, res.err = claim, err
	return res
}
