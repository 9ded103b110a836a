// feedsim is a standalone fake exchange for local development. It
// serves Binance-shaped ticker, depth and kline endpoints backed by a
// seeded random walk, so the full pipeline can run without touching a
// real upstream. The -pump flag forces a steady ramp on one symbol to
// make detector output reproducible.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultAddr    = ":9100"
	DefaultSymbols = "BTCUSDT,ETHUSDT,SOLUSDT"

	// StepInterval is how often simulated prices advance.
	StepInterval = 1 * time.Second

	// WalkSpread is the half-width of the per-step random drift.
	WalkSpread = 0.002

	// PumpDrift is the per-step ramp applied to the pumped symbol.
	PumpDrift = 0.01

	MaxDepthLimit = 100
	MaxKlineLimit = 500
)

var intervalDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
}

type market struct {
	base   float64
	price  float64
	high   float64
	low    float64
	volume float64
}

type simulator struct {
	mu      sync.Mutex
	rng     *rand.Rand
	markets map[string]*market
	order   []string
	pumped  string
}

func newSimulator(symbols []string, pumped string, seed int64) *simulator {
	rng := rand.New(rand.NewSource(seed))
	s := &simulator{
		rng:     rng,
		markets: make(map[string]*market, len(symbols)),
		order:   symbols,
		pumped:  pumped,
	}
	for _, symbol := range symbols {
		base := 20 + rng.Float64()*50000
		s.markets[symbol] = &market{
			base:   base,
			price:  base,
			high:   base,
			low:    base,
			volume: 1000 + rng.Float64()*9000,
		}
	}
	return s
}

// step advances every market one tick.
func (s *simulator) step() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for symbol, m := range s.markets {
		drift := (s.rng.Float64() - 0.5) * 2 * WalkSpread
		if symbol == s.pumped {
			drift = PumpDrift
			m.volume *= 1.05
		} else {
			m.volume *= 1 + (s.rng.Float64()-0.5)*0.02
		}

		m.price *= 1 + drift
		if m.price > m.high {
			m.high = m.price
		}
		if m.price < m.low {
			m.low = m.price
		}
	}
}

func (s *simulator) run(ctx context.Context) {
	ticker := time.NewTicker(StepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.step()
		}
	}
}

// tickerJSON mirrors the Binance 24hr ticker shape.
type tickerJSON struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
	CloseTime          int64  `json:"closeTime"`
}

func (s *simulator) tickerFor(symbol string, m *market, now time.Time) tickerJSON {
	change := (m.price - m.base) / m.base * 100
	return tickerJSON{
		Symbol:             symbol,
		LastPrice:          formatPrice(m.price),
		PriceChangePercent: strconv.FormatFloat(change, 'f', 3, 64),
		HighPrice:          formatPrice(m.high),
		LowPrice:           formatPrice(m.low),
		Volume:             strconv.FormatFloat(m.volume, 'f', 2, 64),
		CloseTime:          now.UnixMilli(),
	}
}

func (s *simulator) handleTicker(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if symbol := r.URL.Query().Get("symbol"); symbol != "" {
		m, ok := s.markets[symbol]
		if !ok {
			writeSymbolError(w)
			return
		}
		writeJSON(w, s.tickerFor(symbol, m, now))
		return
	}

	out := make([]tickerJSON, 0, len(s.order))
	for _, symbol := range s.order {
		out = append(out, s.tickerFor(symbol, s.markets[symbol], now))
	}
	writeJSON(w, out)
}

func (s *simulator) handleDepth(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	limit := boundedLimit(r, 20, MaxDepthLimit)

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[symbol]
	if !ok {
		writeSymbolError(w)
		return
	}

	bids := make([][2]string, 0, limit)
	asks := make([][2]string, 0, limit)
	for i := 1; i <= limit; i++ {
		spread := 0.0001 * float64(i)
		qty := 0.1 + s.rng.Float64()*5
		bids = append(bids, [2]string{formatPrice(m.price * (1 - spread)), strconv.FormatFloat(qty, 'f', 4, 64)})
		qty = 0.1 + s.rng.Float64()*5
		asks = append(asks, [2]string{formatPrice(m.price * (1 + spread)), strconv.FormatFloat(qty, 'f', 4, 64)})
	}

	writeJSON(w, map[string]any{
		"lastUpdateId": time.Now().UnixMilli(),
		"bids":         bids,
		"asks":         asks,
	})
}

func (s *simulator) handleKlines(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	step, ok := intervalDurations[r.URL.Query().Get("interval")]
	if !ok {
		step = time.Hour
	}
	limit := boundedLimit(r, 100, MaxKlineLimit)

	s.mu.Lock()
	defer s.mu.Unlock()

	m, exists := s.markets[symbol]
	if !exists {
		writeSymbolError(w)
		return
	}

	// Walk backwards from now so the newest candle closes at the
	// current price.
	rows := make([][]any, 0, limit)
	price := m.price
	end := time.Now().Truncate(step)
	for i := 0; i < limit; i++ {
		openTime := end.Add(-time.Duration(i+1) * step)
		closePrice := price
		openPrice := closePrice * (1 + (s.rng.Float64()-0.5)*0.01)
		high := maxFloat(openPrice, closePrice) * 1.002
		low := minFloat(openPrice, closePrice) * 0.998
		volume := m.volume * (0.8 + s.rng.Float64()*0.4) / float64(limit)

		rows = append(rows, []any{
			openTime.UnixMilli(),
			formatPrice(openPrice),
			formatPrice(high),
			formatPrice(low),
			formatPrice(closePrice),
			strconv.FormatFloat(volume, 'f', 2, 64),
			openTime.Add(step).UnixMilli() - 1,
			"0", 0, "0", "0", "0",
		})
		price = openPrice
	}

	// Oldest first, Binance order.
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	writeJSON(w, rows)
}

func boundedLimit(r *http.Request, fallback, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', 8, 64)
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeSymbolError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
}

func main() {
	addr := flag.String("addr", DefaultAddr, "listen address")
	symbolsFlag := flag.String("symbols", DefaultSymbols, "comma-separated symbols to simulate")
	pumped := flag.String("pump", "", "symbol to ramp steadily upward")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random walk seed")
	flag.Parse()

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	symbols := []string{}
	for _, s := range strings.Split(*symbolsFlag, ",") {
		if s = strings.TrimSpace(strings.ToUpper(s)); s != "" {
			symbols = append(symbols, s)
		}
	}
	if len(symbols) == 0 {
		logger.Fatal("No symbols to simulate")
	}
	if *pumped != "" {
		*pumped = strings.ToUpper(*pumped)
		found := false
		for _, s := range symbols {
			if s == *pumped {
				found = true
				break
			}
		}
		if !found {
			logger.Fatalf("Pump symbol %s is not in the symbol list", *pumped)
		}
	}

	sim := newSimulator(symbols, *pumped, *seed)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/ticker/24hr", sim.handleTicker)
	mux.HandleFunc("/api/v3/depth", sim.handleDepth)
	mux.HandleFunc("/api/v3/klines", sim.handleKlines)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sim.run(ctx)

	server := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		logger.Infof("Feed simulator listening on %s with %d symbols (seed %d)", *addr, len(symbols), *seed)
		if *pumped != "" {
			logger.Warnf("Ramping %s by %.1f%% per step", *pumped, PumpDrift*100)
		}
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down feed simulator")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
}
