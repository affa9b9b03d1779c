package kafka

import (
	"context"
	"errors"
	"io"

	"github.com/segmentio/kafka-go"

	"github.com/propelkit/experiments/internal/infrastructure/monitoring/logging"
	apperrors "github.com/propelkit/experiments/pkg/errors"
)

// ReaderInterface abstracts kafka.Reader for testing.
type ReaderInterface interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// EnvelopeHandler processes one decoded event envelope.
type EnvelopeHandler func(ctx context.Context, env *EventEnvelope) error

// Consumer tails an event topic and feeds decoded envelopes to a handler.
// It backs the operator CLI's event tailing; the engine itself never consumes.
type Consumer struct {
	reader ReaderInterface
	logger logging.Logger
}

// NewConsumer creates a Consumer for the given topic.  An empty group ID
// produces an anonymous reader starting at the latest offset.
func NewConsumer(cfg Config, topic string, log logging.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "kafka brokers required")
	}
	readerCfg := kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   topic,
		GroupID: cfg.GroupID,
	}
	if cfg.GroupID == "" {
		readerCfg.StartOffset = kafka.LastOffset
	}
	return &Consumer{
		reader: kafka.NewReader(readerCfg),
		logger: log.Named("kafka-consumer"),
	}, nil
}

// NewConsumerWithReader wraps an existing reader (for testing).
func NewConsumerWithReader(r ReaderInterface, log logging.Logger) *Consumer {
	return &Consumer{reader: r, logger: log}
}

// Run reads messages until ctx is cancelled or the reader is closed.  Decode
// failures are logged and skipped; handler errors are logged and consumption
// continues.
func (c *Consumer) Run(ctx context.Context, handler EnvelopeHandler) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "kafka read failed")
		}

		env, err := DecodeEnvelope(msg.Value)
		if err != nil {
			c.logger.Warn("skipping undecodable message",
				logging.String("topic", msg.Topic),
				logging.Int64("offset", msg.Offset),
				logging.Err(err))
			continue
		}

		if err := handler(ctx, env); err != nil {
			c.logger.Error("event handler failed",
				logging.String("event_id", env.EventID),
				logging.String("event_type", env.EventType),
				logging.Err(err))
		}
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
