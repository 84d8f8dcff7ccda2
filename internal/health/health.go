// Package health grades witnesses by rolling win rate and drives the
// auto-mute rule for persistently bad performers.
package health

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/meridianhq/tradecore/internal/domain"
)

const (
	// MinSamples is the sample count below which a witness keeps the
	// neutral grade.
	MinSamples = 50

	gradeAThreshold = 0.55
	gradeBThreshold = 0.52
	gradeCThreshold = 0.30

	defaultWindow = 100
)

// healthFactors maps a grade to its weight scalar.
var healthFactors = map[domain.HealthGrade]float64{
	domain.GradeA: 1.2,
	domain.GradeB: 1.0,
	domain.GradeC: 0.7,
	domain.GradeD: 0.5,
}

// Factor returns the weight scalar for grade.
func Factor(grade domain.HealthGrade) float64 {
	if f, ok := healthFactors[grade]; ok {
		return f
	}
	return 1.0
}

// GradeFor maps a win rate and sample count to a grade. Under-sampled
// witnesses grade B regardless of win rate.
func GradeFor(winRate float64, samples int) domain.HealthGrade {
	if samples < MinSamples {
		return domain.GradeB
	}
	switch {
	case winRate >= gradeAThreshold:
		return domain.GradeA
	case winRate >= gradeBThreshold:
		return domain.GradeB
	case winRate >= gradeCThreshold:
		return domain.GradeC
	default:
		return domain.GradeD
	}
}

// Snapshot is one witness's health at a point in time.
type Snapshot struct {
	WitnessID    string             `json:"witness_id"`
	Grade        domain.HealthGrade `json:"grade"`
	WinRate      float64            `json:"win_rate"`
	SampleCount  int                `json:"sample_count"`
	WeightScalar float64            `json:"weight_scalar"`
}

type record struct {
	outcomes []bool // ring buffer of win/loss
	next     int
	filled   bool
	total    int
}

// Manager tracks trade outcomes per witness over a rolling window.
type Manager struct {
	mu      sync.RWMutex
	window  int
	records map[string]*record
}

// NewManager builds a tracker with the given rolling window (defaults 100).
func NewManager(window int) *Manager {
	if window <= 0 {
		window = defaultWindow
	}
	return &Manager{window: window, records: make(map[string]*record)}
}

// Record ingests one settled trade outcome.
func (m *Manager) Record(outcome domain.TradeOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[outcome.WitnessID]
	if !ok {
		rec = &record{outcomes: make([]bool, m.window)}
		m.records[outcome.WitnessID] = rec
	}
	rec.outcomes[rec.next] = outcome.Win
	rec.next = (rec.next + 1) % m.window
	if rec.next == 0 {
		rec.filled = true
	}
	rec.total++
}

func (r *record) stats(window int) (winRate float64, samples int) {
	n := r.next
	if r.filled {
		n = window
	}
	if n == 0 {
		return 0, 0
	}
	wins := 0
	for i := 0; i < n; i++ {
		if r.outcomes[i] {
			wins++
		}
	}
	return float64(wins) / float64(n), n
}

// Snapshot returns the current health of one witness. Unknown witnesses
// report grade B with zero samples.
func (m *Manager) Snapshot(witnessID string) Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[witnessID]
	if !ok {
		return Snapshot{
			WitnessID:    witnessID,
			Grade:        domain.GradeB,
			WeightScalar: Factor(domain.GradeB),
		}
	}
	winRate, samples := rec.stats(m.window)
	grade := GradeFor(winRate, samples)
	return Snapshot{
		WitnessID:    witnessID,
		Grade:        grade,
		WinRate:      winRate,
		SampleCount:  samples,
		WeightScalar: Factor(grade),
	}
}

// ShouldAutoMute reports whether the witness has earned an automatic mute:
// grade D with a full evidence sample.
func (m *Manager) ShouldAutoMute(witnessID string) bool {
	snap := m.Snapshot(witnessID)
	mute := snap.Grade == domain.GradeD && snap.SampleCount >= MinSamples
	if mute {
		log.Warn().
			Str("witness_id", witnessID).
			Float64("win_rate", snap.WinRate).
			Int("samples", snap.SampleCount).
			Msg("witness earned auto-mute")
	}
	return mute
}
