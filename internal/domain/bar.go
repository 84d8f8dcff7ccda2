package domain

import "time"

// Bar is one OHLCV candle. TS is the bar open time in UTC milliseconds.
type Bar struct {
	Symbol   string  `json:"symbol" db:"symbol"`
	Interval string  `json:"interval" db:"interval"`
	TS       int64   `json:"ts" db:"ts"`
	Open     float64 `json:"open" db:"open"`
	High     float64 `json:"high" db:"high"`
	Low      float64 `json:"low" db:"low"`
	Close    float64 `json:"close" db:"close"`
	Volume   float64 `json:"volume" db:"volume"`
}

// OpenTime converts the millisecond timestamp to a UTC time.
func (b Bar) OpenTime() time.Time {
	return time.UnixMilli(b.TS).UTC()
}

// IntervalDuration maps an interval label to its bar width. Unknown labels
// return zero, which disables gap checking for that series.
func IntervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return 0
	}
}
