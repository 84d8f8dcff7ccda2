package risk

import (
	"fmt"
	"math"
	"sync"

	"github.com/meridianhq/tradecore/internal/domain"
)

const (
	defaultCorrWindow    = 50
	corrMinSamples       = 20
	corrPairThreshold    = 0.8
	corrMaxCorrelatedFrc = 0.5
)

// CorrelationGuard watches the directional agreement of active witnesses.
// When most pairs move in lockstep, the panel's apparent breadth is fake
// and the engine surfaces a warning.
type CorrelationGuard struct {
	mu     sync.Mutex
	window int
	series map[string][]float64
}

// NewCorrelationGuard builds a guard over a rolling window of cycles.
func NewCorrelationGuard(window int) *CorrelationGuard {
	if window <= 0 {
		window = defaultCorrWindow
	}
	return &CorrelationGuard{window: window, series: make(map[string][]float64)}
}

// Observe records each witness's directional stance for one cycle.
func (g *CorrelationGuard) Observe(claims []domain.Claim) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range claims {
		v := 0.0
		switch c.Direction {
		case domain.Long:
			v = 1
		case domain.Short:
			v = -1
		}
		s := append(g.series[c.WitnessID], v)
		if len(s) > g.window {
			s = s[len(s)-g.window:]
		}
		g.series[c.WitnessID] = s
	}
}

// Check reports whether too many witness pairs are highly correlated.
func (g *CorrelationGuard) Check() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := make([]string, 0, len(g.series))
	for id, s := range g.series {
		if len(s) >= corrMinSamples {
			ids = append(ids, id)
		}
	}
	if len(ids) < 2 {
		return false, ""
	}

	pairs, hot := 0, 0
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, b := g.series[ids[i]], g.series[ids[j]]
			n := len(a)
			if len(b) < n {
				n = len(b)
			}
			if r := pearson(a[len(a)-n:], b[len(b)-n:]); math.Abs(r) >= corrPairThreshold {
				hot++
			}
			pairs++
		}
	}
	if frac := float64(hot) / float64(pairs); frac > corrMaxCorrelatedFrc {
		return true, fmt.Sprintf("%d of %d witness pairs highly correlated", hot, pairs)
	}
	return false, ""
}

func pearson(a, b []float64) float64 {
	n := float64(len(a))
	if n == 0 {
		return 0
	}
	var sumA, sumB float64
	for i := range a {
		sumA += a[i]
		sumB += b[i]
	}
	meanA, meanB := sumA/n, sumB/n
	var cov, varA, varB float64
	for i := range a {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}
