// Package binance implements the exchange adapter for the Binance
// spot REST API.
package binance

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
	tickerPath = "/api/v3/ticker/24hr"
	depthPath  = "/api/v3/depth"
	klinesPath = "/api/v3/klines"

	// quoteSuffix filters GetAllTickers to the reference quote currency.
	quoteSuffix = "USDT"
)

type Binance struct {
	client *exchange.Client
	logger *slog.Logger
}

func New(config *exchange.ClientConfig, logger *slog.Logger) *Binance {
	return &Binance{
		client: exchange.NewClient("binance", config),
		logger: logger.With("exchange", "binance"),
	}
}

func (b *Binance) Name() string { return "binance" }

type tickerResponse struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
	CloseTime          int64  `json:"closeTime"`
}

func (b *Binance) GetTicker(ctx context.Context, symbol string) (model.Ticker, error) {
	if symbol == "" {
		return model.Ticker{}, fmt.Errorf("%w: empty symbol", exchange.ErrInvalidArgument)
	}

	var resp tickerResponse
	query := url.Values{"symbol": {strings.ToUpper(symbol)}}
	if err := b.client.GetJSON(ctx, tickerPath, query, &resp); err != nil {
		return model.Ticker{}, err
	}
	return b.toTicker(resp), nil
}

func (b *Binance) GetAllTickers(ctx context.Context) ([]model.Ticker, error) {
	var resp []tickerResponse
	if err := b.client.GetJSON(ctx, tickerPath, nil, &resp); err != nil {
		return nil, err
	}

	tickers := make([]model.Ticker, 0, len(resp))
	for _, t := range resp {
		if !strings.HasSuffix(t.Symbol, quoteSuffix) {
			continue
		}
		tickers = append(tickers, b.toTicker(t))
	}
	return tickers, nil
}

func (b *Binance) toTicker(t tickerResponse) model.Ticker {
	ts := time.Now()
	if t.CloseTime > 0 {
		ts = time.UnixMilli(t.CloseTime)
	}
	return model.Ticker{
		Symbol:        t.Symbol,
		Source:        b.Name(),
		LastPrice:     parseFloat(t.LastPrice),
		ChangePercent: parseFloat(t.PriceChangePercent),
		High24h:       parseFloat(t.HighPrice),
		Low24h:        parseFloat(t.LowPrice),
		Volume24h:     parseFloat(t.Volume),
		Timestamp:     ts,
	}
}

// parseFloat converts Binance string prices to float64. Malformed
// values become zero rather than failing the whole snapshot.
func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
