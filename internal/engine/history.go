package engine

import (
	"sync"
	"time"

	"github.com/meridianhq/tradecore/internal/domain"
)

// LoopRecord summarizes one completed decision cycle.
type LoopRecord struct {
	StartedAt  time.Time          `json:"started_at"`
	Duration   time.Duration      `json:"duration"`
	State      domain.SystemState `json:"state"`
	Resolution domain.Resolution  `json:"resolution,omitempty"`
	Claims     int                `json:"claims"`
	Executions int                `json:"executions"`
	Skipped    bool               `json:"skipped"`
	Error      string             `json:"error,omitempty"`
}

// loopHistory is a fixed-size ring of recent cycle records, newest last.
type loopHistory struct {
	mu   sync.Mutex
	recs []LoopRecord
	size int
}

func newLoopHistory(size int) *loopHistory {
	if size <= 0 {
		size = 100
	}
	return &loopHistory{size: size}
}

func (h *loopHistory) add(rec LoopRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recs = append(h.recs, rec)
	if len(h.recs) > h.size {
		h.recs = h.recs[len(h.recs)-h.size:]
	}
}

func (h *loopHistory) list() []LoopRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]LoopRecord, len(h.recs))
	copy(out, h.recs)
	return out
}
