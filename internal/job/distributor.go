// Package job drives the periodic distribution cycle: fetch from all
// sources, aggregate, cache, broadcast, feed the pump detector.
package job

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashkan-ph/pulse/configs"
	"github.com/ashkan-ph/pulse/internal/audit"
	"github.com/ashkan-ph/pulse/internal/hub"
	"github.com/ashkan-ph/pulse/internal/model"
	"github.com/ashkan-ph/pulse/internal/pump"
)

// DefaultInterval is the cycle period when none is configured.
const DefaultInterval = 5 * time.Second

// Aggregator produces per-source tickers and merges them.
type Aggregator interface {
	FetchAll(ctx context.Context) map[string][]model.Ticker
	Aggregate(bySource map[string][]model.Ticker) map[string]model.AggregatedTicker
}

// Cache is the slice of the market cache the cycle writes to.
type Cache interface {
	SetTickers(ctx context.Context, tickers map[string]model.AggregatedTicker) error
	SetPumps(ctx context.Context, pumps map[string]model.PumpEvent) error
}

// Broadcaster pushes messages to channel subscribers.
type Broadcaster interface {
	Broadcast(channel string, msg hub.Message) int
}

// Detector consumes per-source price samples and reports live events.
type Detector interface {
	Ingest(source, symbol string, sample pump.Sample)
	Pumps() map[string]model.PumpEvent
}

// Auditor records pipeline events best effort.
type Auditor interface {
	Publish(e audit.Event)
}

// Distributor runs the cycle on a fixed interval. A tick that fires
// while the previous cycle is still running is skipped, never queued.
type Distributor struct {
	interval   time.Duration
	symbols    map[string]bool
	aggregator Aggregator
	cache      Cache
	hub        Broadcaster
	detector   Detector
	audit      Auditor
	logger     *slog.Logger

	cycleMu sync.Mutex

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	cycles  atomic.Uint64
	skipped atomic.Uint64
}

// NewDistributor builds a stopped distributor. Only the given symbols
// are fed to the detector; an empty list tracks everything.
func NewDistributor(
	cfg configs.DistributorConfig,
	symbols []string,
	aggregator Aggregator,
	cache Cache,
	broadcaster Broadcaster,
	detector Detector,
	auditor Auditor,
	logger *slog.Logger,
) *Distributor {
	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = DefaultInterval
	}

	tracked := make(map[string]bool, len(symbols))
	for _, symbol := range symbols {
		tracked[symbol] = true
	}

	return &Distributor{
		interval:   interval,
		symbols:    tracked,
		aggregator: aggregator,
		cache:      cache,
		hub:        broadcaster,
		detector:   detector,
		audit:      auditor,
		logger:     logger.With("component", "distributor"),
	}
}

// Start launches the cycle loop. The first cycle runs immediately so
// the cache is warm before the first tick. Calling Start on a running
// distributor does nothing.
func (d *Distributor) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return
	}
	d.running = true
	d.stop = make(chan struct{})
	d.done = make(chan struct{})

	d.logger.Info("Starting distributor", "interval", d.interval)
	go d.loop(d.stop, d.done)
}

// Stop prevents future ticks and waits for an in-flight cycle to
// finish. It never cancels one mid-way.
func (d *Distributor) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	stop, done := d.stop, d.done
	d.mu.Unlock()

	d.logger.Info("Stopping distributor")
	close(stop)
	<-done
}

// IsRunning reports whether the cycle loop is active.
func (d *Distributor) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Cycles returns the number of completed cycles.
func (d *Distributor) Cycles() uint64 {
	return d.cycles.Load()
}

// Skipped returns the number of ticks skipped due to overlap.
func (d *Distributor) Skipped() uint64 {
	return d.skipped.Load()
}

func (d *Distributor) loop(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.runCycle()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.runCycle()
		}
	}
}

func (d *Distributor) runCycle() {
	if !d.cycleMu.TryLock() {
		d.skipped.Add(1)
		d.logger.Warn("Previous cycle still running, tick skipped")
		return
	}
	defer d.cycleMu.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Cycle panicked", "panic", r, "duration", time.Since(start))
		}
	}()

	ctx := context.Background()

	bySource := d.aggregator.FetchAll(ctx)
	aggregated := d.aggregator.Aggregate(bySource)
	if len(aggregated) == 0 {
		d.logger.Warn("No tickers aggregated, nothing to distribute", "sources", len(bySource))
		return
	}

	// Cache before broadcast: a client reacting to a push must be able
	// to read what it was just told about.
	if err := d.cache.SetTickers(ctx, aggregated); err != nil {
		d.logger.Error("Caching tickers failed", "error", err)
	}

	delivered := d.broadcast(aggregated)
	d.feedDetector(bySource)

	if err := d.cache.SetPumps(ctx, d.detector.Pumps()); err != nil {
		d.logger.Error("Caching pumps failed", "error", err)
	}

	d.cycles.Add(1)
	duration := time.Since(start)
	d.logger.Info("Cycle complete",
		"duration", duration,
		"sources", len(bySource),
		"symbols", len(aggregated),
		"delivered", delivered)

	d.audit.Publish(audit.Event{
		Type: audit.EventCycle,
		Detail: map[string]any{
			"duration_ms": duration.Milliseconds(),
			"sources":     len(bySource),
			"symbols":     len(aggregated),
			"delivered":   delivered,
		},
	})
}

// broadcast pushes the full map to the bulk channel and each symbol to
// its own channel, returning total deliveries.
func (d *Distributor) broadcast(aggregated map[string]model.AggregatedTicker) int {
	delivered := d.hub.Broadcast(hub.ChannelTickers, hub.Message{
		Type:    "tickers",
		Channel: hub.ChannelTickers,
		Data:    aggregated,
	})

	for symbol, ticker := range aggregated {
		channel := hub.TickerChannel(symbol)
		delivered += d.hub.Broadcast(channel, hub.Message{
			Type:    "ticker",
			Channel: channel,
			Data:    ticker,
		})
	}
	return delivered
}

// feedDetector forwards tracked per-source prices as samples. Source
// snapshots keep their upstream timestamps when present.
func (d *Distributor) feedDetector(bySource map[string][]model.Ticker) {
	now := time.Now()
	for source, tickers := range bySource {
		for _, t := range tickers {
			if len(d.symbols) > 0 && !d.symbols[t.Symbol] {
				continue
			}
			sample := pump.Sample{Time: t.Timestamp, Price: t.LastPrice, Volume: t.Volume24h}
			if sample.Time.IsZero() {
				sample.Time = now
			}
			d.detector.Ingest(source, t.Symbol, sample)
		}
	}
}
