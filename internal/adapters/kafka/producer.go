package kafka

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/segmentio/kafka-go"

	"gateway/pkg/errors"
	"gateway/pkg/logger"
)

// Producer publishes messages, keeping one writer per topic
type Producer struct {
	mu      sync.Mutex
	writers map[string]*kafka.Writer
	brokers []string
	log     *logger.Logger
}

// ProducerConfig holds producer configuration
type ProducerConfig struct {
	Brokers []string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, log *logger.Logger) *Producer {
	return &Producer{
		writers: make(map[string]*kafka.Writer),
		brokers: cfg.Brokers,
		log:     log.With("component", "kafka_producer"),
	}
}

func (p *Producer) writer(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.writers[topic]; ok {
		return w
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // same key, same partition
		RequiredAcks: kafka.RequireAll,
	}
	p.writers[topic] = w
	return w
}

// Publish JSON-encodes value and sends it to topic
func (p *Producer) Publish(ctx context.Context, topic, key string, value interface{}, headers ...kafka.Header) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "encode message for %s", topic)
	}
	return p.PublishRaw(ctx, topic, kafka.Message{Key: []byte(key), Value: data, Headers: headers})
}

// PublishRaw sends already encoded messages to topic
func (p *Producer) PublishRaw(ctx context.Context, topic string, msgs ...kafka.Message) error {
	for i := range msgs {
		// a writer with Topic set rejects messages that carry their own
		msgs[i].Topic = ""
	}
	if err := p.writer(topic).WriteMessages(ctx, msgs...); err != nil {
		p.log.Errorw("Failed to publish", "topic", topic, "count", len(msgs), "error", err)
		return errors.Wrapf(err, "publish to %s", topic)
	}

	p.log.Debugw("Published", "topic", topic, "count", len(msgs))
	return nil
}

// Close closes all writers
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs errors.MultiError
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			errs.Add(errors.Wrapf(err, "close writer for %s", topic))
		}
	}
	return errs.ToError()
}
