package pump

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ashkan-ph/pulse/configs"
	"github.com/ashkan-ph/pulse/internal/model"
)

func newTestDetector() *Detector {
	cfg := configs.DetectorConfig{
		WindowMinutes:    15,
		ThresholdPercent: 5.0,
		VolumeMultiplier: 2.0,
		CooldownMinutes:  5,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewDetector(cfg, logger)
}

// feed ingests prices 10 seconds apart starting at base.
func feed(d *Detector, base time.Time, prices ...float64) {
	for i, price := range prices {
		d.Ingest("binance", "BTCUSDT", Sample{
			Time:   base.Add(time.Duration(i) * 10 * time.Second),
			Price:  price,
			Volume: 100,
		})
	}
}

func livePumps(d *Detector) []model.PumpEvent {
	out := make([]model.PumpEvent, 0)
	for _, event := range d.Pumps() {
		out = append(out, event)
	}
	return out
}

func TestPumpCreatedOnThresholdCross(t *testing.T) {
	d := newTestDetector()
	base := time.Now()

	var events []model.PumpEvent
	d.AddObserver(func(event model.PumpEvent) {
		events = append(events, event)
	})

	// +6% over the window crosses the 5% threshold once.
	feed(d, base, 100, 102, 104, 106)

	pumps := livePumps(d)
	if len(pumps) != 1 {
		t.Fatalf("Expected exactly 1 pump event, got %d", len(pumps))
	}

	event := pumps[0]
	if event.Status != model.PumpActive {
		t.Errorf("Expected status active, got %q", event.Status)
	}
	if event.StartPrice != 100 {
		t.Errorf("Expected start price 100, got %f", event.StartPrice)
	}
	if event.CurrentPrice != 106 {
		t.Errorf("Expected current price 106, got %f", event.CurrentPrice)
	}
	if event.ChangePercent != 6 {
		t.Errorf("Expected change 6%%, got %f", event.ChangePercent)
	}
	if event.PeakChangePercent != 6 {
		t.Errorf("Expected peak change 6%%, got %f", event.PeakChangePercent)
	}

	if len(events) == 0 {
		t.Fatal("Observer was never invoked")
	}
	if events[0].Status != model.PumpActive {
		t.Errorf("First observed event should be active, got %q", events[0].Status)
	}
}

func TestNoClassificationWithSingleSample(t *testing.T) {
	d := newTestDetector()

	invoked := false
	d.AddObserver(func(model.PumpEvent) { invoked = true })

	// A lone sample showing any price cannot classify.
	d.Ingest("binance", "BTCUSDT", Sample{Time: time.Now(), Price: 1000, Volume: 1})

	if invoked {
		t.Error("Observer invoked with fewer than 2 samples")
	}
	if len(livePumps(d)) != 0 {
		t.Error("No event expected with a single sample")
	}
}

func TestSingleLiveEventPerKey(t *testing.T) {
	d := newTestDetector()
	base := time.Now()

	feed(d, base, 100, 106, 107, 108)

	pumps := livePumps(d)
	if len(pumps) != 1 {
		t.Fatalf("Repeated threshold crossings must reuse the live event, got %d events", len(pumps))
	}
}

func TestPeakTracksMaximumAndNeverDecreases(t *testing.T) {
	d := newTestDetector()
	base := time.Now()

	// Peak at +10%, then retreat to +6% (still above threshold).
	feed(d, base, 100, 105, 110, 106)

	pumps := livePumps(d)
	if len(pumps) != 1 {
		t.Fatalf("Expected 1 pump, got %d", len(pumps))
	}

	event := pumps[0]
	if event.PeakChangePercent != 10 {
		t.Errorf("Expected peak change 10%%, got %f", event.PeakChangePercent)
	}
	if event.PeakPrice != 110 {
		t.Errorf("Expected peak price 110, got %f", event.PeakPrice)
	}
	if event.ChangePercent != 6 {
		t.Errorf("Expected current change 6%%, got %f", event.ChangePercent)
	}
}

func TestCoolingWhenBelowPeakRatio(t *testing.T) {
	d := newTestDetector()
	base := time.Now()

	// Peak +20%; retreat to +8% which is above threshold but below
	// 90% of the peak change.
	feed(d, base, 100, 110, 120, 108)

	pumps := livePumps(d)
	if len(pumps) != 1 {
		t.Fatalf("Expected 1 pump, got %d", len(pumps))
	}
	if pumps[0].Status != model.PumpCooling {
		t.Errorf("Expected status cooling, got %q", pumps[0].Status)
	}
}

func TestPumpEndsBelowThreshold(t *testing.T) {
	d := newTestDetector()
	base := time.Now()

	var statuses []string
	d.AddObserver(func(event model.PumpEvent) {
		statuses = append(statuses, event.Status)
	})

	// Cross the threshold, then fall back under it.
	feed(d, base, 100, 106, 101)

	pumps := livePumps(d)
	if len(pumps) != 1 {
		t.Fatalf("Ended event should remain visible during cooldown, got %d", len(pumps))
	}
	if pumps[0].Status != model.PumpEnded {
		t.Errorf("Expected status ended, got %q", pumps[0].Status)
	}

	if len(statuses) < 2 || statuses[len(statuses)-1] != model.PumpEnded {
		t.Errorf("Observer should see the termination, got %v", statuses)
	}
}

func TestEndedEventPurgedAfterCooldown(t *testing.T) {
	d := newTestDetector()
	base := time.Now()

	feed(d, base, 100, 106, 101)

	// Before cooldown: still present.
	if purged := d.Sweep(base.Add(time.Minute)); purged != 0 {
		t.Errorf("Nothing should be purged before cooldown, purged %d", purged)
	}
	if len(livePumps(d)) != 1 {
		t.Fatal("Event should survive sweeps inside the cooldown")
	}

	// Past cooldown: purged.
	endedAt := base.Add(20 * time.Second)
	if purged := d.Sweep(endedAt.Add(6 * time.Minute)); purged != 1 {
		t.Errorf("Expected 1 purged event, got %d", purged)
	}
	if len(livePumps(d)) != 0 {
		t.Error("Event should be gone after the cooldown sweep")
	}
}

func TestReCrossingAfterPurgeCreatesNewID(t *testing.T) {
	d := newTestDetector()
	base := time.Now()

	feed(d, base, 100, 106, 101)
	firstID := livePumps(d)[0].ID

	d.Sweep(base.Add(time.Hour))
	if len(livePumps(d)) != 0 {
		t.Fatal("Expected purge before re-crossing")
	}

	// New rise after purge: brand-new event identity. The old samples
	// have left the window by now, so start fresh.
	later := base.Add(2 * time.Hour)
	feed(d, later, 100, 107)

	pumps := livePumps(d)
	if len(pumps) != 1 {
		t.Fatalf("Expected 1 new pump, got %d", len(pumps))
	}
	if pumps[0].ID == firstID {
		t.Error("Re-crossing after purge must mint a new event ID")
	}
}

func TestWindowPruning(t *testing.T) {
	d := newTestDetector()
	base := time.Now()

	// First sample falls out of the 15m window by the time the rise
	// happens, so the change is measured against the later baseline.
	d.Ingest("binance", "BTCUSDT", Sample{Time: base, Price: 50, Volume: 1})
	d.Ingest("binance", "BTCUSDT", Sample{Time: base.Add(20 * time.Minute), Price: 100, Volume: 1})
	d.Ingest("binance", "BTCUSDT", Sample{Time: base.Add(21 * time.Minute), Price: 103, Volume: 1})

	// 103 vs 100 is +3%, under threshold. Against the pruned 50 it
	// would have been +106%.
	if len(livePumps(d)) != 0 {
		t.Error("Pruned sample must not contribute to the change calculation")
	}
}

func TestObserverPanicDoesNotSuppressOthers(t *testing.T) {
	d := newTestDetector()
	base := time.Now()

	secondCalled := false
	d.AddObserver(func(model.PumpEvent) { panic("boom") })
	d.AddObserver(func(model.PumpEvent) { secondCalled = true })

	feed(d, base, 100, 106)

	if !secondCalled {
		t.Error("Second observer must run even when the first panics")
	}
	// Detector state stays intact.
	if len(livePumps(d)) != 1 {
		t.Error("Detector state corrupted by observer panic")
	}
}

func TestVolumeSurgeAnnotation(t *testing.T) {
	d := newTestDetector()
	base := time.Now()

	d.Ingest("binance", "BTCUSDT", Sample{Time: base, Price: 100, Volume: 100})
	d.Ingest("binance", "BTCUSDT", Sample{Time: base.Add(10 * time.Second), Price: 103, Volume: 100})
	// +6% with volume 3x the prior average.
	d.Ingest("binance", "BTCUSDT", Sample{Time: base.Add(20 * time.Second), Price: 106, Volume: 300})

	pumps := livePumps(d)
	if len(pumps) != 1 {
		t.Fatalf("Expected 1 pump, got %d", len(pumps))
	}
	if !pumps[0].VolumeSurge {
		t.Error("Expected volume surge annotation")
	}
}

func TestUpdateSettingsAffectsSubsequentEvaluations(t *testing.T) {
	d := newTestDetector()
	base := time.Now()

	settings := d.Settings()
	settings.Threshold = 50.0
	d.UpdateSettings(settings)

	// +6% no longer crosses the raised threshold.
	feed(d, base, 100, 106)
	if len(livePumps(d)) != 0 {
		t.Error("Raised threshold should prevent detection")
	}

	settings.Threshold = 5.0
	d.UpdateSettings(settings)

	d.Ingest("binance", "BTCUSDT", Sample{Time: base.Add(30 * time.Second), Price: 110, Volume: 100})
	if len(livePumps(d)) != 1 {
		t.Error("Lowered threshold should allow detection on the next sample")
	}
}

func TestConcurrentIngestDistinctKeys(t *testing.T) {
	d := newTestDetector()
	base := time.Now()

	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT"}

	var wg sync.WaitGroup
	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				d.Ingest("binance", symbol, Sample{
					Time:   base.Add(time.Duration(i) * time.Second),
					Price:  100 + float64(i),
					Volume: 10,
				})
			}
		}(symbol)
	}
	wg.Wait()

	// Every symbol rose well past the threshold.
	if got := len(livePumps(d)); got != len(symbols) {
		t.Errorf("Expected %d pumps, got %d", len(symbols), got)
	}
}

func TestSweepDropsIdleSeries(t *testing.T) {
	d := newTestDetector()
	base := time.Now()

	d.Ingest("binance", "OLDUSDT", Sample{Time: base, Price: 100, Volume: 1})

	d.Sweep(base.Add(time.Hour))

	d.mu.RLock()
	remaining := len(d.series)
	d.mu.RUnlock()
	if remaining != 0 {
		t.Errorf("Idle series should be dropped by the sweep, %d left", remaining)
	}
}
