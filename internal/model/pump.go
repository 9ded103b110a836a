package model

import (
	"fmt"
	"time"
)

// Pump event lifecycle states.
const (
	// PumpActive means the price change is at or above threshold and
	// still near its peak.
	PumpActive = "active"

	// PumpCooling means the price change is still above threshold but
	// has fallen below 90% of the peak change.
	PumpCooling = "cooling"

	// PumpEnded means the price change dropped below threshold. Ended
	// events are purged after a cooldown delay.
	PumpEnded = "ended"
)

// PumpEvent records one detected price anomaly for a (source, symbol)
// pair. At most one live event exists per pair; a re-crossing of the
// threshold after purge creates a new event with a new ID.
type PumpEvent struct {
	// ID uniquely identifies the event: source, symbol and creation time.
	ID string `json:"id"`

	// Symbol is the canonical trading pair (e.g., "BTCUSDT").
	Symbol string `json:"symbol"`

	// Source is the exchange name the anomaly was observed on.
	Source string `json:"source"`

	// StartPrice is the oldest windowed price when the event was created.
	StartPrice float64 `json:"start_price"`

	// CurrentPrice is the most recent sampled price.
	CurrentPrice float64 `json:"current_price"`

	// PeakPrice is the highest price observed during the event.
	PeakPrice float64 `json:"peak_price"`

	// ChangePercent is the current windowed price change percentage.
	ChangePercent float64 `json:"change_percent"`

	// PeakChangePercent is the maximum change percentage ever observed
	// during the event. It never decreases.
	PeakChangePercent float64 `json:"peak_change_percent"`

	// Volume24h is the 24h volume reported with the latest sample.
	Volume24h float64 `json:"volume_24h"`

	// VolumeSurge is set when the latest sample's volume exceeds the
	// window average by the configured multiplier.
	VolumeSurge bool `json:"volume_surge"`

	// Status is one of PumpActive, PumpCooling or PumpEnded.
	Status string `json:"status"`

	// StartedAt is when the event was created.
	StartedAt time.Time `json:"started_at"`

	// UpdatedAt is when the event was last mutated.
	UpdatedAt time.Time `json:"updated_at"`
}

// PumpEventID builds the deterministic event identity from the source,
// symbol and creation time.
func PumpEventID(source, symbol string, createdAt time.Time) string {
	return fmt.Sprintf("%s:%s:%d", source, symbol, createdAt.UnixMilli())
}
