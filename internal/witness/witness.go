// Package witness defines the claim-generation contract and the panel that
// collects claims each decision cycle. Witnesses observe bars and assert;
// they cannot place orders, mutate state, or touch weights — the interface
// simply has no such methods.
package witness

import (
	"context"

	"github.com/meridianhq/tradecore/internal/domain"
)

// Witness is the full capability surface available to a strategy module.
type Witness interface {
	ID() string
	Tier() domain.Tier
	// GenerateClaim returns the witness's assertion for the cycle, or nil
	// to abstain. Errors and panics are isolated per witness.
	GenerateClaim(ctx context.Context, bars []domain.Bar) (*domain.Claim, error)
}

// Capability names an action class a witness could declare.
type Capability string

const (
	CapClaimGeneration Capability = "claim_generation"
	CapOrderPlacement  Capability = "order_placement"
	CapStateMutation   Capability = "state_mutation"
	CapWeightMutation  Capability = "weight_mutation"
	CapRiskOverride    Capability = "risk_override"
)

// forbiddenCaps are rejected at registration time.
var forbiddenCaps = map[Capability]bool{
	CapOrderPlacement: true,
	CapStateMutation:  true,
	CapWeightMutation: true,
	CapRiskOverride:   true,
}

// CapabilityReporter is an optional interface for witnesses that declare
// their capability set. Declaring a forbidden capability fails registration
// with domain.ErrArchitectureViolation.
type CapabilityReporter interface {
	Capabilities() []Capability
}

// Status is the panel-side activation state of a registration.
type Status string

const (
	StatusActive Status = "active"
	StatusMuted  Status = "muted"
	StatusShadow Status = "shadow"
)
