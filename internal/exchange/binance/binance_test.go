package binance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashkan-ph/pulse/internal/exchange"
)

func newTestBinance(t *testing.T, handler http.HandlerFunc) *Binance {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	config := exchange.DefaultClientConfig(server.URL, 1000)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(config, logger)
}

func TestGetTickerMapsFields(t *testing.T) {
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("Expected symbol query BTCUSDT, got %q", got)
		}
		w.Write([]byte(`{"symbol":"BTCUSDT","lastPrice":"97000.5","priceChangePercent":"2.5","highPrice":"98000","lowPrice":"95000","volume":"1234.5","closeTime":1735689600000}`))
	})

	ticker, err := b.GetTicker(context.Background(), "btcusdt")
	if err != nil {
		t.Fatalf("GetTicker failed: %v", err)
	}

	if ticker.Symbol != "BTCUSDT" {
		t.Errorf("Expected symbol BTCUSDT, got %q", ticker.Symbol)
	}
	if ticker.Source != "binance" {
		t.Errorf("Expected source binance, got %q", ticker.Source)
	}
	if ticker.LastPrice != 97000.5 {
		t.Errorf("Expected last price 97000.5, got %f", ticker.LastPrice)
	}
	if ticker.ChangePercent != 2.5 {
		t.Errorf("Expected change 2.5, got %f", ticker.ChangePercent)
	}
	if ticker.Volume24h != 1234.5 {
		t.Errorf("Expected volume 1234.5, got %f", ticker.Volume24h)
	}
}

func TestGetTickerEmptySymbol(t *testing.T) {
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("No request expected for empty symbol")
	})

	_, err := b.GetTicker(context.Background(), "")
	if !errors.Is(err, exchange.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument, got %v", err)
	}
}

func TestGetAllTickersFiltersQuote(t *testing.T) {
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"symbol":"BTCUSDT","lastPrice":"97000","closeTime":1},
			{"symbol":"ETHBTC","lastPrice":"0.03","closeTime":1},
			{"symbol":"ETHUSDT","lastPrice":"3500","closeTime":1}
		]`))
	})

	tickers, err := b.GetAllTickers(context.Background())
	if err != nil {
		t.Fatalf("GetAllTickers failed: %v", err)
	}

	if len(tickers) != 2 {
		t.Fatalf("Expected 2 USDT tickers, got %d", len(tickers))
	}
	for _, ticker := range tickers {
		if ticker.Symbol == "ETHBTC" {
			t.Error("Non-USDT pair should have been filtered out")
		}
	}
}

func TestGetOrderBookCumulativeTotals(t *testing.T) {
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"lastUpdateId":1,"bids":[["97000","1.0"],["96900","2.0"]],"asks":[["97100","0.5"],["97200","1.5"]]}`))
	})

	book, err := b.GetOrderBook(context.Background(), "BTCUSDT", 20)
	if err != nil {
		t.Fatalf("GetOrderBook failed: %v", err)
	}

	if len(book.Bids) != 2 || len(book.Asks) != 2 {
		t.Fatalf("Expected 2 levels per side, got %d bids %d asks", len(book.Bids), len(book.Asks))
	}

	// Totals accumulate down each side.
	if book.Bids[0].Total != 1.0 || book.Bids[1].Total != 3.0 {
		t.Errorf("Bid totals wrong: %f, %f", book.Bids[0].Total, book.Bids[1].Total)
	}
	if book.Asks[1].Total != 2.0 {
		t.Errorf("Expected ask total 2.0, got %f", book.Asks[1].Total)
	}
}

func TestGetCandlesMapsRows(t *testing.T) {
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[[1735689600000,"97000","98000","96000","97500","100.5",1735689659999]]`))
	})

	candles, err := b.GetCandles(context.Background(), "BTCUSDT", "1m", 10)
	if err != nil {
		t.Fatalf("GetCandles failed: %v", err)
	}

	if len(candles) != 1 {
		t.Fatalf("Expected 1 candle, got %d", len(candles))
	}
	c := candles[0]
	if c.Open != 97000 || c.High != 98000 || c.Low != 96000 || c.Close != 97500 {
		t.Errorf("OHLC mapped wrong: %+v", c)
	}
	if c.OpenTime.UnixMilli() != 1735689600000 {
		t.Errorf("Expected open time 1735689600000, got %d", c.OpenTime.UnixMilli())
	}
}

func TestGetCandlesShortRow(t *testing.T) {
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[[1735689600000,"97000"]]`))
	})

	_, err := b.GetCandles(context.Background(), "BTCUSDT", "1m", 10)
	if !errors.Is(err, exchange.ErrUpstreamProtocol) {
		t.Errorf("Expected ErrUpstreamProtocol, got %v", err)
	}
}

func TestGetCandlesEmptyInterval(t *testing.T) {
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("No request expected for empty interval")
	})

	_, err := b.GetCandles(context.Background(), "BTCUSDT", "", 10)
	if !errors.Is(err, exchange.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument, got %v", err)
	}
}

func TestUpstreamStatusError(t *testing.T) {
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "teapot", http.StatusTeapot)
	})

	_, err := b.GetTicker(context.Background(), "BTCUSDT")

	var upstreamErr *exchange.UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("Expected UpstreamError, got %v", err)
	}
	if upstreamErr.Status != http.StatusTeapot {
		t.Errorf("Expected status 418, got %d", upstreamErr.Status)
	}
}

func TestUpstreamBadJSON(t *testing.T) {
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	})

	_, err := b.GetTicker(context.Background(), "BTCUSDT")
	if !errors.Is(err, exchange.ErrUpstreamProtocol) {
		t.Errorf("Expected ErrUpstreamProtocol, got %v", err)
	}
}

func TestUpstreamTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	config := exchange.DefaultClientConfig(server.URL, 1000)
	config.RequestTimeout = 20 * time.Millisecond
	b := New(config, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := b.GetTicker(context.Background(), "BTCUSDT")
	if !errors.Is(err, exchange.ErrUpstreamTimeout) {
		t.Errorf("Expected ErrUpstreamTimeout, got %v", err)
	}
}
