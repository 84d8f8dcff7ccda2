package witness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/tradecore/internal/domain"
)

type fakeWitness struct {
	id    string
	tier  domain.Tier
	claim *domain.Claim
	err   error
	panic bool
	caps  []Capability
}

func (f *fakeWitness) ID() string        { return f.id }
func (f *fakeWitness) Tier() domain.Tier { return f.tier }

func (f *fakeWitness) GenerateClaim(_ context.Context, _ []domain.Bar) (*domain.Claim, error) {
	if f.panic {
		panic("witness exploded")
	}
	return f.claim, f.err
}

type capableWitness struct {
	fakeWitness
}

func (c *capableWitness) Capabilities() []Capability { return c.caps }

func validClaim(ct domain.ClaimType, dir domain.Direction, conf float64) *domain.Claim {
	return &domain.Claim{
		Type:       ct,
		Direction:  dir,
		Confidence: conf,
		EmittedAt:  time.Now().UTC(),
		ValidFor:   time.Minute,
	}
}

func TestRegisterRejectsForbiddenCapabilities(t *testing.T) {
	panel := NewPanel(0, nil)
	w := &capableWitness{fakeWitness: fakeWitness{id: "rogue", tier: domain.Tier1}}
	w.caps = []Capability{CapClaimGeneration, CapOrderPlacement}

	err := panel.Register(w)
	assert.ErrorIs(t, err, domain.ErrArchitectureViolation)

	w2 := &capableWitness{fakeWitness: fakeWitness{id: "honest", tier: domain.Tier1}}
	w2.caps = []Capability{CapClaimGeneration}
	assert.NoError(t, panel.Register(w2))
}

func TestRegisterRejectsDuplicateID(t *testing.T) {
	panel := NewPanel(0, nil)
	require.NoError(t, panel.Register(&fakeWitness{id: "w1", tier: domain.Tier1}))
	assert.Error(t, panel.Register(&fakeWitness{id: "w1", tier: domain.Tier2}))
}

func TestTier3WitnessesAreProtected(t *testing.T) {
	panel := NewPanel(0, nil)
	require.NoError(t, panel.Register(&fakeWitness{id: "sentinel", tier: domain.Tier3}))

	assert.Error(t, panel.Unregister("sentinel"))
	assert.Error(t, panel.SetStatus("sentinel", StatusMuted))
	assert.Error(t, panel.SetTier("sentinel", domain.Tier1))

	// And nothing can be promoted into tier 3 either.
	require.NoError(t, panel.Register(&fakeWitness{id: "w1", tier: domain.Tier2}))
	assert.Error(t, panel.SetTier("w1", domain.Tier3))
}

func TestCollectDropsIllegalTierClaims(t *testing.T) {
	panel := NewPanel(0, nil)
	// Tier-2 witness trying to claim market eligibility.
	require.NoError(t, panel.Register(&fakeWitness{
		id: "overreach", tier: domain.Tier2,
		claim: validClaim(domain.MarketEligible, domain.Long, 0.8),
	}))
	require.NoError(t, panel.Register(&fakeWitness{
		id: "legal", tier: domain.Tier2,
		claim: validClaim(domain.RegimeMatched, domain.Long, 0.7),
	}))

	res := panel.Collect(context.Background(), nil)
	require.Len(t, res.Claims, 1)
	assert.Equal(t, "legal", res.Claims[0].WitnessID)
	assert.Equal(t, 1, res.Invalid)
}

func TestCollectStampsIdentityFromRegistration(t *testing.T) {
	panel := NewPanel(0, nil)
	claim := validClaim(domain.MarketEligible, domain.Long, 0.8)
	claim.WitnessID = "impostor"
	claim.Tier = domain.Tier3
	require.NoError(t, panel.Register(&fakeWitness{id: "genuine", tier: domain.Tier1, claim: claim}))

	res := panel.Collect(context.Background(), nil)
	require.Len(t, res.Claims, 1)
	assert.Equal(t, "genuine", res.Claims[0].WitnessID)
	assert.Equal(t, domain.Tier1, res.Claims[0].Tier)
}

func TestCollectIsolatesPanicsAndErrors(t *testing.T) {
	panel := NewPanel(0, nil)
	require.NoError(t, panel.Register(&fakeWitness{id: "bomber", tier: domain.Tier1, panic: true}))
	require.NoError(t, panel.Register(&fakeWitness{
		id: "steady", tier: domain.Tier1,
		claim: validClaim(domain.MarketEligible, domain.Long, 0.75),
	}))

	res := panel.Collect(context.Background(), nil)
	require.Len(t, res.Claims, 1)
	assert.Equal(t, "steady", res.Claims[0].WitnessID)
}

func TestCollectSkipsMutedAndRoutesShadow(t *testing.T) {
	panel := NewPanel(0, nil)
	require.NoError(t, panel.Register(&fakeWitness{
		id: "live", tier: domain.Tier1,
		claim: validClaim(domain.MarketEligible, domain.Long, 0.8),
	}))
	require.NoError(t, panel.Register(&fakeWitness{
		id: "quiet", tier: domain.Tier1,
		claim: validClaim(domain.MarketEligible, domain.Short, 0.9),
	}))
	require.NoError(t, panel.Register(&fakeWitness{
		id: "candidate", tier: domain.Tier1,
		claim: validClaim(domain.MarketEligible, domain.Short, 0.7),
	}))
	require.NoError(t, panel.SetStatus("quiet", StatusMuted))
	require.NoError(t, panel.SetStatus("candidate", StatusShadow))

	res := panel.Collect(context.Background(), nil)
	require.Len(t, res.Claims, 1)
	assert.Equal(t, "live", res.Claims[0].WitnessID)
	require.Len(t, res.ShadowClaims, 1)
	assert.Equal(t, "candidate", res.ShadowClaims[0].WitnessID)
}

func TestCollectDropsExpiredClaims(t *testing.T) {
	panel := NewPanel(0, nil)
	stale := validClaim(domain.MarketEligible, domain.Long, 0.8)
	stale.EmittedAt = time.Now().UTC().Add(-10 * time.Minute)
	require.NoError(t, panel.Register(&fakeWitness{id: "stale", tier: domain.Tier1, claim: stale}))

	res := panel.Collect(context.Background(), nil)
	assert.Empty(t, res.Claims)
	assert.Equal(t, 1, res.Expired)
}

func TestListByTier(t *testing.T) {
	panel := NewPanel(0, nil)
	require.NoError(t, panel.Register(&fakeWitness{id: "b", tier: domain.Tier1}))
	require.NoError(t, panel.Register(&fakeWitness{id: "a", tier: domain.Tier1}))
	require.NoError(t, panel.Register(&fakeWitness{id: "c", tier: domain.Tier2}))

	assert.Equal(t, []string{"a", "b"}, panel.ListByTier(domain.Tier1))
	assert.Equal(t, []string{"c"}, panel.ListByTier(domain.Tier2))
}
