package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/meridianhq/tradecore/internal/domain"
)

func TestGradeFor(t *testing.T) {
	tests := []struct {
		name    string
		winRate float64
		samples int
		want    domain.HealthGrade
	}{
		{"under sampled stays neutral", 0.10, 49, domain.GradeB},
		{"under sampled even when perfect", 1.0, 10, domain.GradeB},
		{"grade A at 0.55", 0.55, 50, domain.GradeA},
		{"grade B at 0.52", 0.52, 50, domain.GradeB},
		{"grade B just under A", 0.549, 100, domain.GradeB},
		{"grade C at 0.30", 0.30, 50, domain.GradeC},
		{"grade D below 0.30", 0.29, 50, domain.GradeD},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GradeFor(tt.winRate, tt.samples))
		})
	}
}

func TestFactorMap(t *testing.T) {
	assert.Equal(t, 1.2, Factor(domain.GradeA))
	assert.Equal(t, 1.0, Factor(domain.GradeB))
	assert.Equal(t, 0.7, Factor(domain.GradeC))
	assert.Equal(t, 0.5, Factor(domain.GradeD))
}

func recordOutcomes(m *Manager, id string, wins, losses int) {
	for i := 0; i < wins; i++ {
		m.Record(domain.TradeOutcome{WitnessID: id, Win: true, ClosedAt: time.Now()})
	}
	for i := 0; i < losses; i++ {
		m.Record(domain.TradeOutcome{WitnessID: id, Win: false, ClosedAt: time.Now()})
	}
}

func TestSnapshotRollingWindow(t *testing.T) {
	m := NewManager(10)
	recordOutcomes(m, "w1", 10, 0) // fills the window with wins
	recordOutcomes(m, "w1", 0, 5)  // pushes out half of them

	snap := m.Snapshot("w1")
	assert.Equal(t, 10, snap.SampleCount)
	assert.InDelta(t, 0.5, snap.WinRate, 1e-9)
}

func TestSnapshotUnknownWitness(t *testing.T) {
	m := NewManager(0)
	snap := m.Snapshot("ghost")
	assert.Equal(t, domain.GradeB, snap.Grade)
	assert.Equal(t, 0, snap.SampleCount)
	assert.Equal(t, 1.0, snap.WeightScalar)
}

func TestShouldAutoMute(t *testing.T) {
	m := NewManager(100)

	// Bad but under sampled: no mute.
	recordOutcomes(m, "young", 2, 40)
	assert.False(t, m.ShouldAutoMute("young"))

	// Grade D with a full evidence sample: mute.
	recordOutcomes(m, "bad", 5, 55)
	assert.True(t, m.ShouldAutoMute("bad"))

	// Grade C is never auto-muted.
	recordOutcomes(m, "mediocre", 20, 40)
	assert.False(t, m.ShouldAutoMute("mediocre"))
}
