// Package audit records significant pipeline events on a best-effort
// stream. Publishing never blocks the caller and never fails loudly;
// when the queue is full the oldest event is discarded.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

const (
	// DefaultQueueSize bounds the in-memory event queue.
	DefaultQueueSize = 256

	// writeTimeout bounds a single sink write.
	writeTimeout = 5 * time.Second
)

// Event types recorded on the audit stream.
const (
	EventPumpCreated = "pump_created"
	EventPumpUpdated = "pump_updated"
	EventPumpEnded   = "pump_ended"
	EventCycle       = "cycle"
	EventAuthFailure = "auth_failure"
)

// Event is a single audit record.
type Event struct {
	// Type identifies the event class.
	Type string `json:"type"`

	// Symbol is the trading pair involved, if any.
	Symbol string `json:"symbol,omitempty"`

	// Source is the exchange involved, if any.
	Source string `json:"source,omitempty"`

	// Detail carries event-specific fields.
	Detail map[string]any `json:"detail,omitempty"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives serialized audit events.
type Sink interface {
	Write(ctx context.Context, payload []byte) error
	Close() error
}

// Publisher queues events and drains them to a sink from a single
// worker goroutine.
type Publisher struct {
	sink    Sink
	queue   chan []byte
	dropped atomic.Uint64
	logger  *slog.Logger
}

// NewPublisher creates a publisher with a bounded queue. A queueSize
// of zero or less falls back to DefaultQueueSize.
func NewPublisher(sink Sink, queueSize int, logger *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Publisher{
		sink:   sink,
		queue:  make(chan []byte, queueSize),
		logger: logger.With("component", "audit"),
	}
}

// Publish enqueues an event without blocking. When the queue is full
// the oldest queued event is evicted to make room. Concurrent
// publishers may steal the freed slot; the event is counted dropped
// either way.
func (p *Publisher) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}

	select {
	case p.queue <- payload:
		return
	default:
	}

	select {
	case <-p.queue:
		p.dropped.Add(1)
	default:
	}

	select {
	case p.queue <- payload:
	default:
		p.dropped.Add(1)
	}
}

// Dropped returns the number of events discarded since start.
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Run drains the queue until ctx is cancelled, then flushes whatever
// is still queued before returning.
func (p *Publisher) Run(ctx context.Context) {
	p.logger.Info("Starting audit publisher")

	for {
		select {
		case <-ctx.Done():
			p.flush()
			p.logger.Info("Stopping audit publisher")
			return
		case payload := <-p.queue:
			p.write(payload)
		}
	}
}

func (p *Publisher) flush() {
	for {
		select {
		case payload := <-p.queue:
			p.write(payload)
		default:
			return
		}
	}
}

func (p *Publisher) write(payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := p.sink.Write(ctx, payload); err != nil {
		p.logger.Warn("Audit write failed", "error", err)
	}
}
