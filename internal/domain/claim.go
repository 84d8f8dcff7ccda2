package domain

import (
	"fmt"
	"time"
)

// Claim is a single assertion emitted by a witness for one decision cycle.
// Claims are immutable once emitted.
type Claim struct {
	WitnessID   string         `json:"witness_id"`
	Tier        Tier           `json:"tier"`
	Type        ClaimType      `json:"type"`
	Direction   Direction      `json:"direction"`
	Confidence  float64        `json:"confidence"`
	EmittedAt   time.Time      `json:"emitted_at"`
	ValidFor    time.Duration  `json:"valid_for"`
	Constraints map[string]any `json:"constraints,omitempty"`
}

// Expired reports whether the claim's validity window has passed at now.
// ValidFor <= 0 means the claim never expires.
func (c Claim) Expired(now time.Time) bool {
	if c.ValidFor <= 0 {
		return false
	}
	return now.After(c.EmittedAt.Add(c.ValidFor))
}

// Validate checks structural soundness and tier legality. A claim that
// fails validation is dropped and counted, never propagated.
func (c Claim) Validate() error {
	if c.WitnessID == "" {
		return fmt.Errorf("%w: empty witness id", ErrInvalidClaim)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("%w: confidence %.4f outside [0,1] (witness %s)", ErrInvalidClaim, c.Confidence, c.WitnessID)
	}
	if c.EmittedAt.IsZero() {
		return fmt.Errorf("%w: zero emission time (witness %s)", ErrInvalidClaim, c.WitnessID)
	}
	if !ClaimAllowed(c.Tier, c.Type) {
		return fmt.Errorf("%w: tier %s may not emit %s (witness %s)", ErrInvalidClaim, c.Tier, c.Type, c.WitnessID)
	}
	switch c.Direction {
	case Long, Short, Undirected:
	default:
		return fmt.Errorf("%w: unknown direction %q (witness %s)", ErrInvalidClaim, c.Direction, c.WitnessID)
	}
	return nil
}

// ConstraintString returns the string constraint under key, if present.
func (c Claim) ConstraintString(key string) (string, bool) {
	v, ok := c.Constraints[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
