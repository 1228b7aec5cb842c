package report

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer the sink needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaOptions configure the Kafka sink.
type KafkaOptions struct {
	Brokers []string
	Topic   string
	// OnlyOpportunities drops no_spread and insufficient_data events.
	OnlyOpportunities bool
}

// KafkaSink publishes events keyed by asset so one asset stays on one partition.
type KafkaSink struct {
	writer messageWriter
	opts   KafkaOptions
	logger zerolog.Logger
}

// NewKafkaSink creates a sink backed by a kafka.Writer.
func NewKafkaSink(opts KafkaOptions, logger zerolog.Logger) *KafkaSink {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Topic:        opts.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return newKafkaSink(writer, opts, logger)
}

func newKafkaSink(writer messageWriter, opts KafkaOptions, logger zerolog.Logger) *KafkaSink {
	return &KafkaSink{
		writer: writer,
		opts:   opts,
		logger: logger.With().Str("component", "report_kafka").Str("topic", opts.Topic).Logger(),
	}
}

// Publish implements Sink.
func (s *KafkaSink) Publish(ctx context.Context, ev Event) error {
	if s.opts.OnlyOpportunities && ev.Reason != ReasonOpportunity {
		return nil
	}

	value, err := Encode(ev)
	if err != nil {
		return fmt.Errorf("kafka: encode event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(ev.Asset),
		Value: value,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "reason", Value: []byte(ev.Reason)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.Error().Err(err).Str("asset", ev.Asset).Msg("failed to publish event")
		return fmt.Errorf("kafka: publish %s: %w", ev.Asset, err)
	}
	return nil
}

// Close flushes pending messages.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

var (
	_ Sink          = (*KafkaSink)(nil)
	_ Closer        = (*KafkaSink)(nil)
	_ messageWriter = (*kafka.Writer)(nil)
)
