// Package model defines the domain models used across the application.
package model

import "time"

// Ticker represents a point-in-time market snapshot for one symbol
// from one exchange. It is immutable once produced; each fetch cycle
// yields a fresh snapshot.
type Ticker struct {
	// Symbol is the canonical trading pair (e.g., "BTCUSDT").
	Symbol string `json:"symbol"`

	// Source is the exchange name (e.g., "binance", "gateio").
	Source string `json:"source"`

	// LastPrice is the most recent traded price in quote currency.
	LastPrice float64 `json:"last_price"`

	// ChangePercent is the 24h price change percentage.
	ChangePercent float64 `json:"change_percent"`

	// High24h is the highest price in the last 24 hours.
	High24h float64 `json:"high_24h"`

	// Low24h is the lowest price in the last 24 hours.
	Low24h float64 `json:"low_24h"`

	// Volume24h is the base currency volume traded in the last 24 hours.
	Volume24h float64 `json:"volume_24h"`

	// Timestamp is when the snapshot was produced.
	Timestamp time.Time `json:"timestamp"`
}

// AggregatedTicker is the cross-exchange view of one symbol, recomputed
// in full every distribution cycle.
type AggregatedTicker struct {
	// Symbol is the canonical trading pair (e.g., "BTCUSDT").
	Symbol string `json:"symbol"`

	// AveragePrice is the mean of contributing last prices.
	AveragePrice float64 `json:"average_price"`

	// TotalVolume is the sum of contributing 24h volumes.
	TotalVolume float64 `json:"total_volume"`

	// AverageChange is the mean of contributing 24h change percentages.
	AverageChange float64 `json:"average_change"`

	// High is the maximum 24h high across contributing sources.
	High float64 `json:"high"`

	// Low is the minimum 24h low across contributing sources.
	Low float64 `json:"low"`

	// Sources lists the exchanges that reported the symbol this cycle,
	// in adapter registration order. Never empty.
	Sources []string `json:"sources"`

	// Timestamp is when the aggregation was computed.
	Timestamp time.Time `json:"timestamp"`
}
