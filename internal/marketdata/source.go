// Package marketdata defines the bar source contract and its validation
// rules. The decision loop only ever consumes bars that passed validation.
package marketdata

import (
	"context"
	"fmt"

	"github.com/meridianhq/tradecore/internal/domain"
)

// Source supplies OHLCV history for one symbol and interval. Implementations
// return domain.ErrDataNotFound when the range is unavailable.
type Source interface {
	GetBars(ctx context.Context, symbol, interval string, limit int) ([]domain.Bar, error)
}

// ValidateBars checks strict timestamp ordering and gap-freeness for the
// interval. A failed check wraps domain.ErrDataValidation; callers skip the
// cycle rather than decide on malformed data.
func ValidateBars(bars []domain.Bar, interval string) error {
	if len(bars) == 0 {
		return fmt.Errorf("%w: empty bar series", domain.ErrDataValidation)
	}
	step := domain.IntervalDuration(interval).Milliseconds()
	for i := 1; i < len(bars); i++ {
		prev, cur := bars[i-1], bars[i]
		if cur.TS <= prev.TS {
			return fmt.Errorf("%w: bars out of order at index %d (%d after %d)",
				domain.ErrDataValidation, i, cur.TS, prev.TS)
		}
		if step > 0 && cur.TS-prev.TS != step {
			return fmt.Errorf("%w: gap of %dms before index %d, expected %dms",
				domain.ErrDataValidation, cur.TS-prev.TS, i, step)
		}
	}
	for i, b := range bars {
		if b.High < b.Low || b.Open <= 0 || b.Close <= 0 {
			return fmt.Errorf("%w: malformed bar at index %d", domain.ErrDataValidation, i)
		}
	}
	return nil
}
