package domain

import "errors"

// Sentinel error kinds. Callers classify failures with errors.Is and wrap
// with %w to add context.
var (
	// ErrArchitectureViolation marks a witness declaring capabilities
	// outside its contract. Raised at registration, never at runtime.
	ErrArchitectureViolation = errors.New("architecture violation")

	// ErrInvalidClaim marks a claim failing structural validation or tier
	// legality. Invalid claims are dropped and counted, never fatal.
	ErrInvalidClaim = errors.New("invalid claim")

	// ErrRiskVeto marks an execution blocked by the risk engine.
	ErrRiskVeto = errors.New("risk veto")

	// ErrOrderRejected marks an order the exchange refused.
	ErrOrderRejected = errors.New("order rejected")

	// ErrOrderTimeout marks an order that received no terminal status
	// within its deadline.
	ErrOrderTimeout = errors.New("order timeout")

	// ErrInvalidStateTransition marks a transition outside the permitted
	// set. The machine keeps its current state.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrDataNotFound marks missing market data for a requested range.
	ErrDataNotFound = errors.New("data not found")

	// ErrDataValidation marks malformed market data (gaps, out-of-order
	// bars). The affected cycle is skipped.
	ErrDataValidation = errors.New("data validation failed")
)
