// Package gateio implements the exchange adapter for the Gate.io
// spot REST API (v4).
package gateio

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ashkan-ph/pulse/internal/exchange"
	"github.com/ashkan-ph/pulse/internal/model"
)

const (
	tickersPath = "/api/v4/spot/tickers"
	bookPath    = "/api/v4/spot/order_book"
	candlesPath = "/api/v4/spot/candlesticks"

	quoteSuffix = "USDT"
)

type Gateio struct {
	client *exchange.Client
	logger *slog.Logger
}

func New(config *exchange.ClientConfig, logger *slog.Logger) *Gateio {
	return &Gateio{
		client: exchange.NewClient("gateio", config),
		logger: logger.With("exchange", "gateio"),
	}
}

func (g *Gateio) Name() string { return "gateio" }

type tickerResponse struct {
	CurrencyPair     string `json:"currency_pair"`
	Last             string `json:"last"`
	ChangePercentage string `json:"change_percentage"`
	High24h          string `json:"high_24h"`
	Low24h           string `json:"low_24h"`
	BaseVolume       string `json:"base_volume"`
}

func (g *Gateio) GetTicker(ctx context.Context, symbol string) (model.Ticker, error) {
	if symbol == "" {
		return model.Ticker{}, fmt.Errorf("%w: empty symbol", exchange.ErrInvalidArgument)
	}

	var resp []tickerResponse
	query := url.Values{"currency_pair": {toPair(symbol)}}
	if err := g.client.GetJSON(ctx, tickersPath, query, &resp); err != nil {
		return model.Ticker{}, err
	}
	if len(resp) == 0 {
		return model.Ticker{}, fmt.Errorf("gateio: %w: empty ticker response", exchange.ErrUpstreamProtocol)
	}
	return g.toTicker(resp[0]), nil
}

func (g *Gateio) GetAllTickers(ctx context.Context) ([]model.Ticker, error) {
	var resp []tickerResponse
	if err := g.client.GetJSON(ctx, tickersPath, nil, &resp); err != nil {
		return nil, err
	}

	tickers := make([]model.Ticker, 0, len(resp))
	for _, t := range resp {
		if !strings.HasSuffix(t.CurrencyPair, "_"+quoteSuffix) {
			continue
		}
		tickers = append(tickers, g.toTicker(t))
	}
	return tickers, nil
}

type bookResponse struct {
	Update int64       `json:"update"`
	Bids   [][2]string `json:"bids"`
	Asks   [][2]string `json:"asks"`
}

func (g *Gateio) GetOrderBook(ctx context.Context, symbol string, depth int) (model.OrderBook, error) {
	if symbol == "" {
		return model.OrderBook{}, fmt.Errorf("%w: empty symbol", exchange.ErrInvalidArgument)
	}
	if depth <= 0 {
		depth = 20
	}

	var resp bookResponse
	query := url.Values{
		"currency_pair": {toPair(symbol)},
		"limit":         {strconv.Itoa(depth)},
	}
	if err := g.client.GetJSON(ctx, bookPath, query, &resp); err != nil {
		return model.OrderBook{}, err
	}

	return model.OrderBook{
		Symbol:    strings.ToUpper(symbol),
		Source:    g.Name(),
		Bids:      exchange.CumulativeLevels(parsePairs(resp.Bids)),
		Asks:      exchange.CumulativeLevels(parsePairs(resp.Asks)),
		Timestamp: time.UnixMilli(resp.Update),
	}, nil
}

func (g *Gateio) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", exchange.ErrInvalidArgument)
	}
	if interval == "" {
		return nil, fmt.Errorf("%w: empty interval", exchange.ErrInvalidArgument)
	}
	if limit <= 0 {
		limit = 100
	}

	// Candlesticks are positional string arrays:
	// [timestamp, quote_volume, close, high, low, open, base_volume, ...].
	var resp [][]string
	query := url.Values{
		"currency_pair": {toPair(symbol)},
		"interval":      {interval},
		"limit":         {strconv.Itoa(limit)},
	}
	if err := g.client.GetJSON(ctx, candlesPath, query, &resp); err != nil {
		return nil, err
	}

	candles := make([]model.Candle, 0, len(resp))
	for _, row := range resp {
		if len(row) < 7 {
			return nil, fmt.Errorf("gateio: %w: candlestick row has %d fields", exchange.ErrUpstreamProtocol, len(row))
		}
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("gateio: %w: bad candlestick timestamp %q", exchange.ErrUpstreamProtocol, row[0])
		}
		candles = append(candles, model.Candle{
			OpenTime: time.Unix(ts, 0),
			Open:     parseFloat(row[5]),
			High:     parseFloat(row[3]),
			Low:      parseFloat(row[4]),
			Close:    parseFloat(row[2]),
			Volume:   parseFloat(row[6]),
		})
	}
	return candles, nil
}

func (g *Gateio) toTicker(t tickerResponse) model.Ticker {
	return model.Ticker{
		Symbol:        fromPair(t.CurrencyPair),
		Source:        g.Name(),
		LastPrice:     parseFloat(t.Last),
		ChangePercent: parseFloat(t.ChangePercentage),
		High24h:       parseFloat(t.High24h),
		Low24h:        parseFloat(t.Low24h),
		Volume24h:     parseFloat(t.BaseVolume),
		Timestamp:     time.Now(),
	}
}

// toPair converts the canonical symbol to Gate.io's underscore form
// (BTCUSDT -> BTC_USDT).
func toPair(symbol string) string {
	symbol = strings.ToUpper(symbol)
	if base, ok := strings.CutSuffix(symbol, quoteSuffix); ok {
		return base + "_" + quoteSuffix
	}
	return symbol
}

// fromPair converts Gate.io's underscore form back to the canonical
// symbol (BTC_USDT -> BTCUSDT).
func fromPair(pair string) string {
	return strings.ReplaceAll(pair, "_", "")
}

func parsePairs(raw [][2]string) [][2]float64 {
	out := make([][2]float64, 0, len(raw))
	for _, r := range raw {
		out = append(out, [2]float64{parseFloat(r[0]), parseFloat(r[1])})
	}
	return out
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
