package witness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/tradecore/internal/domain"
)

func flatBars(n int, close float64, volume float64) []domain.Bar {
	bars := make([]domain.Bar, n)
	for i := range bars {
		bars[i] = domain.Bar{
			Symbol: "BTC-USDT", Interval: "1m",
			TS:   int64(i) * 60_000,
			Open: close, High: close + 1, Low: close - 1, Close: close, Volume: volume,
		}
	}
	return bars
}

func TestEventDefValidation(t *testing.T) {
	base := EventDef{
		Name:           "vol_spike",
		Tier:           domain.Tier2,
		ClaimType:      domain.RegimeMatched,
		Direction:      domain.Long,
		BaseConfidence: 0.6,
		Conditions:     []Condition{{Feature: "volume_ratio", Op: "gte", Value: 3}},
	}
	require.NoError(t, base.Validate())

	t.Run("tier 3 refused", func(t *testing.T) {
		def := base
		def.Tier = domain.Tier3
		assert.ErrorIs(t, def.Validate(), domain.ErrArchitectureViolation)
	})

	t.Run("illegal claim type for tier", func(t *testing.T) {
		def := base
		def.ClaimType = domain.MarketEligible
		assert.ErrorIs(t, def.Validate(), domain.ErrInvalidClaim)
	})

	t.Run("unknown feature", func(t *testing.T) {
		def := base
		def.Conditions = []Condition{{Feature: "astrology", Op: "gt", Value: 1}}
		assert.Error(t, def.Validate())
	})

	t.Run("unknown op", func(t *testing.T) {
		def := base
		def.Conditions = []Condition{{Feature: "close", Op: "approx", Value: 1}}
		assert.Error(t, def.Validate())
	})

	t.Run("confidence above ceiling", func(t *testing.T) {
		def := base
		def.BaseConfidence = 0.99
		assert.Error(t, def.Validate())
	})
}

func TestEventWitnessEmitsWhenAllConditionsHold(t *testing.T) {
	w, err := NewEventWitness(EventDef{
		Name:           "volume_surge",
		Tier:           domain.Tier2,
		ClaimType:      domain.RegimeMatched,
		Direction:      domain.Long,
		BaseConfidence: 0.65,
		Lookback:       10,
		Conditions: []Condition{
			{Feature: "volume_ratio", Op: "gte", Value: 3},
			{Feature: "close", Op: "gt", Value: 50},
		},
	})
	require.NoError(t, err)

	bars := flatBars(20, 100, 10)
	bars[len(bars)-1].Volume = 50 // ratio 5 against the window average

	claim, err := w.GenerateClaim(context.Background(), bars)
	require.NoError(t, err)
	require.NotNil(t, claim)
	assert.Equal(t, domain.RegimeMatched, claim.Type)
	assert.Equal(t, 0.65, claim.Confidence)
	assert.Equal(t, "volume_surge", claim.Constraints["signal_type"])
}

func TestEventWitnessAbstainsWhenAnyConditionFails(t *testing.T) {
	w, err := NewEventWitness(EventDef{
		Name:           "volume_surge",
		Tier:           domain.Tier2,
		ClaimType:      domain.RegimeMatched,
		Direction:      domain.Long,
		BaseConfidence: 0.65,
		Lookback:       10,
		Conditions:     []Condition{{Feature: "volume_ratio", Op: "gte", Value: 3}},
	})
	require.NoError(t, err)

	claim, err := w.GenerateClaim(context.Background(), flatBars(20, 100, 10))
	require.NoError(t, err)
	assert.Nil(t, claim)
}

func TestEventWitnessAbstainsOnShortHistory(t *testing.T) {
	w, err := NewEventWitness(EventDef{
		Name:           "needs_history",
		Tier:           domain.Tier2,
		ClaimType:      domain.RegimeMatched,
		Direction:      domain.Long,
		BaseConfidence: 0.6,
		Lookback:       50,
	})
	require.NoError(t, err)

	claim, err := w.GenerateClaim(context.Background(), flatBars(10, 100, 10))
	require.NoError(t, err)
	assert.Nil(t, claim)
}
