package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"

	"gateway/pkg/errors"
	"gateway/pkg/logger"
)

// Consumer reads a topic as part of a consumer group. Offsets are committed
// explicitly so a message is only acknowledged after it was handled.
type Consumer struct {
	reader *kafka.Reader
	log    *logger.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topic    string
	MinBytes int
	MaxBytes int
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg ConsumerConfig, log *logger.Logger) *Consumer {
	if cfg.MinBytes == 0 {
		cfg.MinBytes = 1
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 10e6 // 10MB
	}

	log = log.With("component", "kafka_consumer", "topic", cfg.Topic)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		StartOffset: kafka.FirstOffset, // no committed offset: replay from the beginning
	})

	log.Infow("Kafka consumer created",
		"brokers", cfg.Brokers,
		"group_id", cfg.GroupID,
	)

	return &Consumer{
		reader: reader,
		log:    log,
	}
}

// FetchMessage returns the next message without committing it.
// Cancellation is checked before blocking so shutdown never waits on I/O.
func (c *Consumer) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	default:
	}

	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return kafka.Message{}, ctx.Err()
		}
		return kafka.Message{}, errors.Wrap(err, "fetch message")
	}
	return msg, nil
}

// CommitMessages acknowledges handled messages
func (c *Consumer) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	if err := c.reader.CommitMessages(ctx, msgs...); err != nil {
		return errors.Wrap(err, "commit messages")
	}
	return nil
}

// Lag returns the reader's last known lag
func (c *Consumer) Lag() int64 {
	return c.reader.Stats().Lag
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}
