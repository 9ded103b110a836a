package model

import "time"

// PriceLevel is one row of an order book side.
type PriceLevel struct {
	// Price is the level price in quote currency.
	Price float64 `json:"price"`

	// Quantity is the base currency amount resting at this price.
	Quantity float64 `json:"quantity"`

	// Total is the cumulative quantity from the top of the side down
	// to and including this level. Non-decreasing within a side.
	Total float64 `json:"total"`
}

// OrderBook is a depth snapshot for one symbol from one exchange.
type OrderBook struct {
	// Symbol is the canonical trading pair (e.g., "BTCUSDT").
	Symbol string `json:"symbol"`

	// Source is the exchange name (e.g., "binance", "gateio").
	Source string `json:"source"`

	// Bids are buy levels in descending price order.
	Bids []PriceLevel `json:"bids"`

	// Asks are sell levels in ascending price order.
	Asks []PriceLevel `json:"asks"`

	// Timestamp is when the snapshot was produced.
	Timestamp time.Time `json:"timestamp"`
}
