// Package exchange defines the adapter contract for upstream market
// data providers and the shared HTTP plumbing adapters are built on.
package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashkan-ph/pulse/internal/model"
)

// Sentinel errors returned by adapters. Wrap with %w so callers can
// match with errors.Is.
var (
	// ErrInvalidArgument marks a caller error such as an empty symbol.
	// Not retryable.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUpstreamTimeout marks an upstream request that exceeded its
	// deadline.
	ErrUpstreamTimeout = errors.New("upstream timeout")

	// ErrUpstreamProtocol marks an upstream payload that could not be
	// parsed.
	ErrUpstreamProtocol = errors.New("malformed upstream response")
)

// UpstreamError is a non-success HTTP response from an exchange.
type UpstreamError struct {
	// Exchange is the adapter name that produced the error.
	Exchange string

	// Status is the HTTP status code returned upstream.
	Status int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream returned status %d", e.Exchange, e.Status)
}

// Exchange is the contract every upstream adapter implements. All
// operations honor ctx cancellation and return typed errors from this
// package so one adapter's failure can be isolated per source.
type Exchange interface {
	// Name returns the adapter's source identifier (e.g., "binance").
	Name() string

	// GetTicker returns the current snapshot for one symbol.
	GetTicker(ctx context.Context, symbol string) (model.Ticker, error)

	// GetAllTickers returns snapshots for all pairs quoted in the
	// adapter's reference currency.
	GetAllTickers(ctx context.Context) ([]model.Ticker, error)

	// GetOrderBook returns a depth snapshot limited to depth levels
	// per side.
	GetOrderBook(ctx context.Context, symbol string, depth int) (model.OrderBook, error)

	// GetCandles returns up to limit OHLCV bars for the interval.
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error)
}

// CumulativeLevels converts raw (price, quantity) pairs into price
// levels carrying a running total, preserving upstream ordering.
func CumulativeLevels(raw [][2]float64) []model.PriceLevel {
	levels := make([]model.PriceLevel, 0, len(raw))
	total := 0.0
	for _, r := range raw {
		total += r[1]
		levels = append(levels, model.PriceLevel{
			Price:    r[0],
			Quantity: r[1],
			Total:    total,
		})
	}
	return levels
}
