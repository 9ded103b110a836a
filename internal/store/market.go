package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashkan-ph/pulse/configs"
	"github.com/ashkan-ph/pulse/internal/model"
)

// Cache key layout. Aggregated tickers live twice: one hash holding
// the full symbol map for bulk reads, and per-symbol keys for point
// lookups with their own TTL.
const (
	tickersKey = "tickers"
	pumpsKey   = "pumps"
)

func tickerKey(symbol string) string { return "ticker:" + symbol }

func orderBookKey(symbol string, depth int) string {
	return fmt.Sprintf("orderbook:%s:%d", symbol, depth)
}

func candlesKey(symbol, interval string) string {
	return fmt.Sprintf("candles:%s:%s", symbol, interval)
}

// MarketCache is the typed caching layer over a Store. All reads treat
// malformed cached JSON as a miss rather than an error.
type MarketCache struct {
	store  Store
	logger *slog.Logger

	tickerTTL    time.Duration
	orderBookTTL time.Duration
	candleTTL    time.Duration
	pumpTTL      time.Duration
}

// NewMarketCache builds the typed layer with TTLs from config.
func NewMarketCache(s Store, logger *slog.Logger, cfg configs.CacheConfig) *MarketCache {
	return &MarketCache{
		store:        s,
		logger:       logger.With("component", "market_cache"),
		tickerTTL:    time.Duration(cfg.TickerTTLSeconds) * time.Second,
		orderBookTTL: time.Duration(cfg.OrderBookTTLSeconds) * time.Second,
		candleTTL:    time.Duration(cfg.CandleTTLSeconds) * time.Second,
		pumpTTL:      time.Duration(cfg.PumpTTLSeconds) * time.Second,
	}
}

// SetTickers writes the aggregated symbol map. For N symbols it issues
// N individual sets, one hash merge and one TTL refresh, all
// concurrently. Sub-operation failures are collected, never rolled
// back.
func (mc *MarketCache) SetTickers(ctx context.Context, tickers map[string]model.AggregatedTicker) error {
	fields := make(map[string][]byte, len(tickers))
	for symbol, ticker := range tickers {
		payload, err := json.Marshal(ticker)
		if err != nil {
			mc.logger.Error("Failed to marshal ticker", "symbol", symbol, "error", err)
			continue
		}
		fields[symbol] = payload
	}
	if len(fields) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs []error
	)
	collect := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for symbol, payload := range fields {
		wg.Add(1)
		go func(symbol string, payload []byte) {
			defer wg.Done()
			collect(mc.store.Set(ctx, tickerKey(symbol), payload, mc.tickerTTL))
		}(symbol, payload)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		collect(mc.store.HSet(ctx, tickersKey, fields))
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		collect(mc.store.Expire(ctx, tickersKey, mc.tickerTTL))
	}()

	wg.Wait()
	return errors.Join(errs...)
}

// GetTickers returns the full aggregated symbol map from the bulk
// hash. Fields that fail to unmarshal are skipped.
func (mc *MarketCache) GetTickers(ctx context.Context) (map[string]model.AggregatedTicker, error) {
	fields, err := mc.store.HGetAll(ctx, tickersKey)
	if err != nil {
		return nil, err
	}

	tickers := make(map[string]model.AggregatedTicker, len(fields))
	for symbol, payload := range fields {
		var ticker model.AggregatedTicker
		if err := json.Unmarshal(payload, &ticker); err != nil {
			mc.logger.Debug("Skipping malformed cached ticker", "symbol", symbol)
			continue
		}
		tickers[symbol] = ticker
	}
	return tickers, nil
}

// GetTicker is a point lookup against the per-symbol mirror key.
func (mc *MarketCache) GetTicker(ctx context.Context, symbol string) (model.AggregatedTicker, error) {
	payload, err := mc.store.Get(ctx, tickerKey(symbol))
	if err != nil {
		return model.AggregatedTicker{}, err
	}

	var ticker model.AggregatedTicker
	if err := json.Unmarshal(payload, &ticker); err != nil {
		return model.AggregatedTicker{}, ErrCacheMiss
	}
	return ticker, nil
}

func (mc *MarketCache) SetOrderBook(ctx context.Context, book model.OrderBook, depth int) error {
	payload, err := json.Marshal(book)
	if err != nil {
		return fmt.Errorf("failed to marshal order book: %w", err)
	}
	return mc.store.Set(ctx, orderBookKey(book.Symbol, depth), payload, mc.orderBookTTL)
}

func (mc *MarketCache) GetOrderBook(ctx context.Context, symbol string, depth int) (model.OrderBook, error) {
	payload, err := mc.store.Get(ctx, orderBookKey(symbol, depth))
	if err != nil {
		return model.OrderBook{}, err
	}

	var book model.OrderBook
	if err := json.Unmarshal(payload, &book); err != nil {
		return model.OrderBook{}, ErrCacheMiss
	}
	return book, nil
}

func (mc *MarketCache) SetCandles(ctx context.Context, symbol, interval string, candles []model.Candle) error {
	payload, err := json.Marshal(candles)
	if err != nil {
		return fmt.Errorf("failed to marshal candles: %w", err)
	}
	return mc.store.Set(ctx, candlesKey(symbol, interval), payload, mc.candleTTL)
}

func (mc *MarketCache) GetCandles(ctx context.Context, symbol, interval string) ([]model.Candle, error) {
	payload, err := mc.store.Get(ctx, candlesKey(symbol, interval))
	if err != nil {
		return nil, err
	}

	var candles []model.Candle
	if err := json.Unmarshal(payload, &candles); err != nil {
		return nil, ErrCacheMiss
	}
	return candles, nil
}

// SetPumps overwrites the live pump map. An empty map deletes the key
// instead of caching an empty object.
func (mc *MarketCache) SetPumps(ctx context.Context, pumps map[string]model.PumpEvent) error {
	if len(pumps) == 0 {
		return mc.store.Delete(ctx, pumpsKey)
	}

	payload, err := json.Marshal(pumps)
	if err != nil {
		return fmt.Errorf("failed to marshal pump map: %w", err)
	}
	return mc.store.Set(ctx, pumpsKey, payload, mc.pumpTTL)
}

// GetPumps returns the live pump map. A missing or malformed entry
// yields an empty map.
func (mc *MarketCache) GetPumps(ctx context.Context) (map[string]model.PumpEvent, error) {
	payload, err := mc.store.Get(ctx, pumpsKey)
	if errors.Is(err, ErrCacheMiss) {
		return map[string]model.PumpEvent{}, nil
	}
	if err != nil {
		return nil, err
	}

	pumps := make(map[string]model.PumpEvent)
	if err := json.Unmarshal(payload, &pumps); err != nil {
		return map[string]model.PumpEvent{}, nil
	}
	return pumps, nil
}

// Purge drops every cached market entity. Used by the operational
// cache-reset endpoint.
func (mc *MarketCache) Purge(ctx context.Context) error {
	var errs []error
	for _, pattern := range []string{"ticker:*", "orderbook:*", "candles:*"} {
		if err := mc.store.DeleteByPattern(ctx, pattern); err != nil {
			errs = append(errs, err)
		}
	}
	if err := mc.store.Delete(ctx, tickersKey, pumpsKey); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
