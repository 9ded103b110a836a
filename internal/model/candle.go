package model

import "time"

// Candle is a single fixed-interval OHLCV bar. The symbol and interval
// are carried by the request or cache key, not by the bar itself.
type Candle struct {
	// OpenTime is when the candle opened.
	OpenTime time.Time `json:"open_time"`

	// Open is the opening price of the candle.
	Open float64 `json:"open"`

	// High is the highest price during the candle period.
	High float64 `json:"high"`

	// Low is the lowest price during the candle period.
	Low float64 `json:"low"`

	// Close is the closing price of the candle.
	Close float64 `json:"close"`

	// Volume is the trading volume during the candle period.
	Volume float64 `json:"volume"`
}
