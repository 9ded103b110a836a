// Package pump detects abnormal upward price moves per (source,
// symbol) pair from a sliding window of price samples.
package pump

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashkan-ph/pulse/configs"
	"github.com/ashkan-ph/pulse/internal/model"
)

const (
	// DefaultCoolingRatio is the fraction of the peak change below
	// which an active pump is marked cooling.
	DefaultCoolingRatio = 0.9

	// DefaultSweepInterval is how often ended events are checked
	// against the cooldown.
	DefaultSweepInterval = 30 * time.Second
)

// Sample is one observation fed into the detector.
type Sample struct {
	Time   time.Time
	Price  float64
	Volume float64
}

// Observer receives event snapshots on every creation, update and
// termination. Observers run synchronously on the ingesting goroutine;
// a panicking observer is recovered and does not suppress the others.
type Observer func(event model.PumpEvent)

// Settings are the runtime-adjustable detection thresholds. Changing
// them affects subsequent evaluations only.
type Settings struct {
	// Threshold is the windowed price change percentage that opens a
	// pump.
	Threshold float64

	// Window is the sliding sample window size.
	Window time.Duration

	// VolumeMultiplier flags a volume surge when the newest sample's
	// volume exceeds the window average by this factor. Zero disables
	// the annotation.
	VolumeMultiplier float64

	// Cooldown is how long an ended event is retained before the
	// sweep purges it.
	Cooldown time.Duration

	// CoolingRatio is the fraction of the peak change below which an
	// above-threshold event is marked cooling.
	CoolingRatio float64
}

// series holds the per-key window and live event. Each key carries its
// own lock so ingestion for different keys does not contend.
type series struct {
	mu      sync.Mutex
	source  string
	symbol  string
	samples []Sample
	event   *model.PumpEvent
	endedAt time.Time // when the live event turned ended; zero otherwise
}

// Detector is the pump state machine over all (source, symbol) keys.
type Detector struct {
	mu        sync.RWMutex
	settings  Settings
	series    map[string]*series
	observers []Observer
	logger    *slog.Logger
}

// NewDetector builds a detector from config defaults.
func NewDetector(cfg configs.DetectorConfig, logger *slog.Logger) *Detector {
	return &Detector{
		settings: Settings{
			Threshold:        cfg.ThresholdPercent,
			Window:           time.Duration(cfg.WindowMinutes) * time.Minute,
			VolumeMultiplier: cfg.VolumeMultiplier,
			Cooldown:         time.Duration(cfg.CooldownMinutes) * time.Minute,
			CoolingRatio:     DefaultCoolingRatio,
		},
		series: make(map[string]*series),
		logger: logger.With("component", "pump_detector"),
	}
}

// Settings returns the current detection thresholds.
func (d *Detector) Settings() Settings {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.settings
}

// UpdateSettings replaces the detection thresholds. Non-positive
// window, cooldown or cooling ratio keep their previous values.
func (d *Detector) UpdateSettings(s Settings) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s.Window <= 0 {
		s.Window = d.settings.Window
	}
	if s.Cooldown <= 0 {
		s.Cooldown = d.settings.Cooldown
	}
	if s.CoolingRatio <= 0 {
		s.CoolingRatio = d.settings.CoolingRatio
	}
	d.settings = s
	d.logger.Info("Detector settings updated",
		"threshold", s.Threshold,
		"window", s.Window,
		"cooldown", s.Cooldown,
	)
}

// AddObserver registers an observer for event notifications.
func (d *Detector) AddObserver(obs Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, obs)
}

func (d *Detector) getSeries(key, source, symbol string) *series {
	d.mu.RLock()
	s, ok := d.series[key]
	d.mu.RUnlock()
	if ok {
		return s
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.series[key]; ok {
		return s
	}
	s = &series{source: source, symbol: symbol}
	d.series[key] = s
	return s
}

// Ingest feeds one sample for a (source, symbol) pair and runs the
// state machine. The sample's own timestamp anchors window pruning, so
// replayed series evaluate deterministically.
func (d *Detector) Ingest(source, symbol string, sample Sample) {
	settings := d.Settings()
	s := d.getSeries(source+":"+symbol, source, symbol)

	s.mu.Lock()
	notifyEvent, ok := s.ingest(sample, settings)
	s.mu.Unlock()

	if ok {
		d.notify(notifyEvent)
	}
}

// ingest mutates the series under its lock and reports the event
// snapshot to notify, if any.
func (s *series) ingest(sample Sample, settings Settings) (model.PumpEvent, bool) {
	s.samples = append(s.samples, sample)
	s.prune(sample.Time.Add(-settings.Window))

	// No classification without at least two windowed samples.
	if len(s.samples) < 2 {
		return model.PumpEvent{}, false
	}

	oldest := s.samples[0]
	if oldest.Price <= 0 {
		return model.PumpEvent{}, false
	}
	pct := (sample.Price - oldest.Price) / oldest.Price * 100
	surge := s.volumeSurge(sample, settings.VolumeMultiplier)
	now := sample.Time

	switch {
	case s.event == nil && pct >= settings.Threshold:
		event := &model.PumpEvent{
			ID:                model.PumpEventID(s.source, s.symbol, now),
			Symbol:            s.symbol,
			Source:            s.source,
			StartPrice:        oldest.Price,
			CurrentPrice:      sample.Price,
			PeakPrice:         sample.Price,
			ChangePercent:     pct,
			PeakChangePercent: pct,
			Volume24h:         sample.Volume,
			VolumeSurge:       surge,
			Status:            model.PumpActive,
			StartedAt:         now,
			UpdatedAt:         now,
		}
		s.event = event
		s.endedAt = time.Time{}
		return *event, true

	case s.event != nil && pct >= settings.Threshold:
		// Covers reactivation of a not-yet-purged ended event as well:
		// the retained event is updated instead of creating a
		// duplicate for the same key.
		event := s.event
		event.CurrentPrice = sample.Price
		if sample.Price > event.PeakPrice {
			event.PeakPrice = sample.Price
		}
		event.ChangePercent = pct
		if pct > event.PeakChangePercent {
			event.PeakChangePercent = pct
		}
		event.Volume24h = sample.Volume
		event.VolumeSurge = surge
		event.UpdatedAt = now
		if pct < event.PeakChangePercent*settings.CoolingRatio {
			event.Status = model.PumpCooling
		} else {
			event.Status = model.PumpActive
		}
		s.endedAt = time.Time{}
		return *event, true

	case s.event != nil && s.event.Status != model.PumpEnded && pct < settings.Threshold:
		event := s.event
		event.CurrentPrice = sample.Price
		event.ChangePercent = pct
		event.Status = model.PumpEnded
		event.UpdatedAt = now
		s.endedAt = now
		return *event, true
	}

	return model.PumpEvent{}, false
}

// prune drops samples older than the cutoff, keeping arrival order.
func (s *series) prune(cutoff time.Time) {
	drop := 0
	for drop < len(s.samples) && s.samples[drop].Time.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		n := copy(s.samples, s.samples[drop:])
		s.samples = s.samples[:n]
	}
}

// volumeSurge reports whether the newest sample's volume exceeds the
// average of the prior windowed samples by the multiplier.
func (s *series) volumeSurge(sample Sample, multiplier float64) bool {
	if multiplier <= 0 || len(s.samples) < 2 {
		return false
	}

	sum := 0.0
	count := 0
	for _, prev := range s.samples[:len(s.samples)-1] {
		sum += prev.Volume
		count++
	}
	if count == 0 || sum <= 0 {
		return false
	}
	return sample.Volume > (sum/float64(count))*multiplier
}

// notify fans the snapshot out to all observers, recovering panics so
// one faulty observer cannot suppress the rest.
func (d *Detector) notify(event model.PumpEvent) {
	d.mu.RLock()
	observers := make([]Observer, len(d.observers))
	copy(observers, d.observers)
	d.mu.RUnlock()

	for _, obs := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("Pump observer panicked", "event", event.ID, "error", r)
				}
			}()
			obs(event)
		}()
	}
}

// Pumps returns a snapshot of all retained events keyed by event ID,
// including ended events still inside the cooldown.
func (d *Detector) Pumps() map[string]model.PumpEvent {
	d.mu.RLock()
	all := make([]*series, 0, len(d.series))
	for _, s := range d.series {
		all = append(all, s)
	}
	d.mu.RUnlock()

	out := make(map[string]model.PumpEvent)
	for _, s := range all {
		s.mu.Lock()
		if s.event != nil {
			out[s.event.ID] = *s.event
		}
		s.mu.Unlock()
	}
	return out
}

// Sweep purges events that have been ended for longer than the
// cooldown and drops series with no event and no samples newer than
// the window. Returns the number of purged events.
func (d *Detector) Sweep(now time.Time) int {
	settings := d.Settings()

	d.mu.RLock()
	keys := make([]string, 0, len(d.series))
	all := make([]*series, 0, len(d.series))
	for key, s := range d.series {
		keys = append(keys, key)
		all = append(all, s)
	}
	d.mu.RUnlock()

	purged := 0
	var stale []string
	for i, s := range all {
		s.mu.Lock()
		if s.event != nil && s.event.Status == model.PumpEnded &&
			!s.endedAt.IsZero() && now.Sub(s.endedAt) > settings.Cooldown {
			s.event = nil
			s.endedAt = time.Time{}
			purged++
		}
		idle := s.event == nil &&
			(len(s.samples) == 0 || now.Sub(s.samples[len(s.samples)-1].Time) > settings.Window)
		s.mu.Unlock()

		if idle {
			stale = append(stale, keys[i])
		}
	}

	if len(stale) > 0 {
		d.mu.Lock()
		for _, key := range stale {
			s, ok := d.series[key]
			if !ok {
				continue
			}
			// Re-check under the map lock: a sample may have arrived
			// since the first pass.
			s.mu.Lock()
			idle := s.event == nil &&
				(len(s.samples) == 0 || now.Sub(s.samples[len(s.samples)-1].Time) > settings.Window)
			s.mu.Unlock()
			if idle {
				delete(d.series, key)
			}
		}
		d.mu.Unlock()
	}
	return purged
}

// Run sweeps periodically until ctx is cancelled.
func (d *Detector) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.logger.Info("Starting pump sweep loop", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Stopping pump sweep loop")
			return
		case <-ticker.C:
			if purged := d.Sweep(time.Now()); purged > 0 {
				d.logger.Info("Purged ended pump events", "count", purged)
			}
		}
	}
}
