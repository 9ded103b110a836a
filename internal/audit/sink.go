package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSink publishes audit events to a Kafka topic.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink creates a sink writing JSON events to the given topic.
func NewKafkaSink(broker, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(broker),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
			Async:        true,
			Compression:  kafka.Zstd,
		},
	}
}

func (s *KafkaSink) Write(ctx context.Context, payload []byte) error {
	return s.writer.WriteMessages(ctx, kafka.Message{Value: payload})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// LogSink records audit events on the application log. Used when no
// broker is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(_ context.Context, payload []byte) error {
	s.logger.Debug("Audit event", "event", string(payload))
	return nil
}

func (s *LogSink) Close() error {
	return nil
}
