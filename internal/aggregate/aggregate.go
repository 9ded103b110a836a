// Package aggregate fans out to all registered exchange adapters and
// folds their per-source snapshots into one cross-exchange view.
package aggregate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashkan-ph/pulse/internal/exchange"
	"github.com/ashkan-ph/pulse/internal/model"
)

// Aggregator queries registered adapters concurrently and merges their
// tickers per symbol. Adapter registration order fixes the order of
// source attribution in the output.
type Aggregator struct {
	exchanges  []exchange.Exchange
	logger     *slog.Logger
	minSources int
}

// New builds an Aggregator over the given adapters. minSources below 1
// is treated as 1: every reported symbol aggregates.
func New(logger *slog.Logger, minSources int, exchanges ...exchange.Exchange) *Aggregator {
	if minSources < 1 {
		minSources = 1
	}
	return &Aggregator{
		exchanges:  exchanges,
		logger:     logger.With("component", "aggregator"),
		minSources: minSources,
	}
}

// Sources returns the adapter names in registration order.
func (a *Aggregator) Sources() []string {
	names := make([]string, 0, len(a.exchanges))
	for _, ex := range a.exchanges {
		names = append(names, ex.Name())
	}
	return names
}

// FetchAll invokes every adapter's GetAllTickers concurrently. A
// failing adapter is logged and contributes no entries; partial
// results from the remaining sources are valid output.
func (a *Aggregator) FetchAll(ctx context.Context) map[string][]model.Ticker {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string][]model.Ticker, len(a.exchanges))
	)

	for _, ex := range a.exchanges {
		wg.Add(1)
		go func(ex exchange.Exchange) {
			defer wg.Done()

			tickers, err := ex.GetAllTickers(ctx)
			if err != nil {
				a.logger.Error("Fetching tickers failed", "exchange", ex.Name(), "error", err)
				return
			}

			mu.Lock()
			results[ex.Name()] = tickers
			mu.Unlock()
		}(ex)
	}

	wg.Wait()
	return results
}

// Aggregate merges per-source tickers into one AggregatedTicker per
// symbol: mean price, summed volume, mean change, max high, min low.
// The result is recomputed in full; nothing is patched incrementally.
// Symbols reported by fewer than minSources adapters are dropped.
func (a *Aggregator) Aggregate(bySource map[string][]model.Ticker) map[string]model.AggregatedTicker {
	type accumulator struct {
		count     int
		sumPrice  float64
		sumVolume float64
		sumChange float64
		high      float64
		low       float64
		sources   []string
	}

	accs := make(map[string]*accumulator)

	// Walk adapters in registration order so Sources lists are stable
	// across cycles.
	for _, ex := range a.exchanges {
		for _, t := range bySource[ex.Name()] {
			acc, ok := accs[t.Symbol]
			if !ok {
				acc = &accumulator{high: t.High24h, low: t.Low24h}
				accs[t.Symbol] = acc
			}
			acc.count++
			acc.sumPrice += t.LastPrice
			acc.sumVolume += t.Volume24h
			acc.sumChange += t.ChangePercent
			if t.High24h > acc.high {
				acc.high = t.High24h
			}
			if t.Low24h < acc.low {
				acc.low = t.Low24h
			}
			acc.sources = append(acc.sources, t.Source)
		}
	}

	now := time.Now()
	out := make(map[string]model.AggregatedTicker, len(accs))
	for symbol, acc := range accs {
		if acc.count < a.minSources {
			continue
		}
		n := float64(acc.count)
		out[symbol] = model.AggregatedTicker{
			Symbol:        symbol,
			AveragePrice:  acc.sumPrice / n,
			TotalVolume:   acc.sumVolume,
			AverageChange: acc.sumChange / n,
			High:          acc.high,
			Low:           acc.low,
			Sources:       acc.sources,
			Timestamp:     now,
		}
	}
	return out
}
