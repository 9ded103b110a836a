package binance

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ashkan-ph/pulse/internal/exchange"
	"github.com/ashkan-ph/pulse/internal/model"
)

func (b *Binance) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", exchange.ErrInvalidArgument)
	}
	if interval == "" {
		return nil, fmt.Errorf("%w: empty interval", exchange.ErrInvalidArgument)
	}
	if limit <= 0 {
		limit = 100
	}

	// Klines come back as positional arrays of mixed types:
	// [openTime, open, high, low, close, volume, closeTime, ...].
	var resp [][]any
	query := url.Values{
		"symbol":   {strings.ToUpper(symbol)},
		"interval": {interval},
		"limit":    {strconv.Itoa(limit)},
	}
	if err := b.client.GetJSON(ctx, klinesPath, query, &resp); err != nil {
		return nil, err
	}

	candles := make([]model.Candle, 0, len(resp))
	for _, row := range resp {
		if len(row) < 6 {
			return nil, fmt.Errorf("binance: %w: kline row has %d fields", exchange.ErrUpstreamProtocol, len(row))
		}
		openMs, ok := row[0].(float64)
		if !ok {
			return nil, fmt.Errorf("binance: %w: kline open time is not numeric", exchange.ErrUpstreamProtocol)
		}
		candles = append(candles, model.Candle{
			OpenTime: time.UnixMilli(int64(openMs)),
			Open:     parseFloat(stringAt(row, 1)),
			High:     parseFloat(stringAt(row, 2)),
			Low:      parseFloat(stringAt(row, 3)),
			Close:    parseFloat(stringAt(row, 4)),
			Volume:   parseFloat(stringAt(row, 5)),
		})
	}
	return candles, nil
}

func stringAt(row []any, i int) string {
	if s, ok := row[i].(string); ok {
		return s
	}
	return ""
}
