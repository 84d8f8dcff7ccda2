// Package executor fans one authorized decision out to every eligible user
// with strict per-user isolation.
package executor

import (
	"sync"

	"github.com/meridianhq/tradecore/internal/creds"
	"github.com/meridianhq/tradecore/internal/exchange"
)

// SubscriptionTier bounds how much of a user's equity one decision may
// commit.
type SubscriptionTier string

const (
	TierFree  SubscriptionTier = "free"
	TierBasic SubscriptionTier = "basic"
	TierPro   SubscriptionTier = "pro"
)

var tierMaxPosition = map[SubscriptionTier]float64{
	TierFree:  0.05,
	TierBasic: 0.15,
	TierPro:   0.30,
}

// MaxPositionPct returns the tier's position budget per decision.
func (t SubscriptionTier) MaxPositionPct() float64 {
	if pct, ok := tierMaxPosition[t]; ok {
		return pct
	}
	return tierMaxPosition[TierFree]
}

// UserStatus is the account activation state.
type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserSuspended UserStatus = "suspended"
)

// Profile is the static slice of one user's configuration.
type Profile struct {
	UserID   string
	Status   UserStatus
	Tier     SubscriptionTier
	Leverage float64
}

// consecutiveTimeoutLimit locks a user after this many timeouts in a row.
const consecutiveTimeoutLimit = 3

// RiskState is one user's private risk ledger. Never shared across users.
type RiskState struct {
	mu                  sync.Mutex
	locked              bool
	lockReason          string
	consecutiveLosses   int
	consecutiveTimeouts int
	dailyPnL            float64
	weeklyPnL           float64
	peakEquity          float64
}

// IsLocked reports the lock flag.
func (s *RiskState) IsLocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

// LockReason returns why the user is locked.
func (s *RiskState) LockReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockReason
}

// Lock flags the user out of future fan-outs.
func (s *RiskState) Lock(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = true
	s.lockReason = reason
}

// Unlock clears the lock and the streaks that caused it.
func (s *RiskState) Unlock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = false
	s.lockReason = ""
	s.consecutiveLosses = 0
	s.consecutiveTimeouts = 0
}

// RecordWin resets both streaks and books the profit.
func (s *RiskState) RecordWin(pnl float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveLosses = 0
	s.consecutiveTimeouts = 0
	s.dailyPnL += pnl
	s.weeklyPnL += pnl
}

// RecordLoss books the loss and extends the loss streak.
func (s *RiskState) RecordLoss(pnl float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveLosses++
	s.dailyPnL += pnl
	s.weeklyPnL += pnl
}

// ResetTimeouts clears the timeout streak after a successful submission
// without touching the loss streak.
func (s *RiskState) ResetTimeouts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveTimeouts = 0
}

// RecordTimeout extends the timeout streak; the third in a row locks the
// user. Returns true when this call locked.
func (s *RiskState) RecordTimeout() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveTimeouts++
	if s.consecutiveTimeouts >= consecutiveTimeoutLimit && !s.locked {
		s.locked = true
		s.lockReason = "consecutive order timeouts"
		return true
	}
	return false
}

// ConsecutiveLosses reads the loss streak.
func (s *RiskState) ConsecutiveLosses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveLosses
}

// PnL reads the running daily and weekly totals.
func (s *RiskState) PnL() (daily, weekly float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dailyPnL, s.weeklyPnL
}

// Context bundles everything owned by one user: decrypted credentials,
// exchange client, and private risk state. One fan-out task owns a Context
// at a time.
type Context struct {
	Profile Profile
	Creds   creds.Credentials
	Client  exchange.Client
	Risk    *RiskState
}

// NewContext assembles a user context around a ready exchange client.
func NewContext(profile Profile, credentials creds.Credentials, client exchange.Client) *Context {
	return &Context{
		Profile: profile,
		Creds:   credentials,
		Client:  client,
		Risk:    &RiskState{},
	}
}

// Close zeroes the credential material. Idempotent.
func (c *Context) Close() {
	c.Creds.Zero()
}
