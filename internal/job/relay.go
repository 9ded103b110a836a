package job

import (
	"log/slog"
	"sync"

	"github.com/ashkan-ph/pulse/internal/audit"
	"github.com/ashkan-ph/pulse/internal/hub"
	"github.com/ashkan-ph/pulse/internal/model"
)

// PumpRelay translates detector observations into channel broadcasts
// and audit records. Every mutation reaches the pumps channel; the
// signals channel only carries start and end transitions; volume
// surges hit the notifications channel once per surge, not once per
// update.
type PumpRelay struct {
	hub    Broadcaster
	audit  Auditor
	logger *slog.Logger

	mu     sync.Mutex
	states map[string]relayState
}

type relayState struct {
	status string
	surged bool
}

// NewPumpRelay builds a relay; register its Observe method on the
// detector.
func NewPumpRelay(broadcaster Broadcaster, auditor Auditor, logger *slog.Logger) *PumpRelay {
	return &PumpRelay{
		hub:    broadcaster,
		audit:  auditor,
		logger: logger.With("component", "pump_relay"),
		states: make(map[string]relayState),
	}
}

// Observe is a pump.Observer.
func (r *PumpRelay) Observe(e model.PumpEvent) {
	r.mu.Lock()
	prev, seen := r.states[e.ID]

	started := e.Status != model.PumpEnded && (!seen || prev.status == model.PumpEnded)
	ended := e.Status == model.PumpEnded && seen && prev.status != model.PumpEnded
	surged := e.VolumeSurge && (!seen || !prev.surged)

	if e.Status == model.PumpEnded {
		delete(r.states, e.ID)
	} else {
		r.states[e.ID] = relayState{status: e.Status, surged: e.VolumeSurge}
	}
	r.mu.Unlock()

	r.hub.Broadcast(hub.ChannelPumps, hub.Message{
		Type:    "pump",
		Channel: hub.ChannelPumps,
		Data:    e,
	})

	switch {
	case started:
		r.signal("pump_started", e)
		r.audit.Publish(audit.Event{
			Type:   audit.EventPumpCreated,
			Symbol: e.Symbol,
			Source: e.Source,
			Detail: auditDetail(e),
		})
		r.logger.Info("Pump started",
			"symbol", e.Symbol,
			"source", e.Source,
			"change_percent", e.ChangePercent)

	case ended:
		r.signal("pump_ended", e)
		r.audit.Publish(audit.Event{
			Type:   audit.EventPumpEnded,
			Symbol: e.Symbol,
			Source: e.Source,
			Detail: auditDetail(e),
		})
		r.logger.Info("Pump ended",
			"symbol", e.Symbol,
			"source", e.Source,
			"peak_change_percent", e.PeakChangePercent)

	default:
		r.audit.Publish(audit.Event{
			Type:   audit.EventPumpUpdated,
			Symbol: e.Symbol,
			Source: e.Source,
			Detail: auditDetail(e),
		})
	}

	if surged {
		r.hub.Broadcast(hub.ChannelNotifications, hub.Message{
			Type:    "notification",
			Channel: hub.ChannelNotifications,
			Data: map[string]any{
				"notice":     "volume_surge",
				"symbol":     e.Symbol,
				"source":     e.Source,
				"volume_24h": e.Volume24h,
				"event_id":   e.ID,
			},
		})
	}
}

func (r *PumpRelay) signal(name string, e model.PumpEvent) {
	r.hub.Broadcast(hub.ChannelSignals, hub.Message{
		Type:    "signal",
		Channel: hub.ChannelSignals,
		Data: map[string]any{
			"signal": name,
			"event":  e,
		},
	})
}

func auditDetail(e model.PumpEvent) map[string]any {
	return map[string]any{
		"event_id":            e.ID,
		"status":              e.Status,
		"change_percent":      e.ChangePercent,
		"peak_change_percent": e.PeakChangePercent,
	}
}
