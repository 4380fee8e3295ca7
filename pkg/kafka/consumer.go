// Package kafka provides Kafka producer and consumer clients backed by
// segmentio/kafka-go. The producer serialises events as JSON, while the
// consumer hands them to a BatchHandler in fetch order.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/review-index/pkg/config"
)

// Message is one fetched record, stripped to what handlers need.
type Message struct {
	Key   []byte
	Value []byte
}

// BatchHandler processes messages in the order they were fetched. Offsets
// are committed only after it returns nil.
type BatchHandler func(ctx context.Context, batch []Message) error

// Consumer reads messages from a Kafka topic and dispatches them to a
// BatchHandler in batches of up to BatchSize, waiting at most BatchTimeout
// for a batch to fill.
type Consumer struct {
	reader       *kafka.Reader
	logger       *slog.Logger
	handler      BatchHandler
	batchSize    int
	batchTimeout time.Duration
}

// NewConsumer creates a Consumer for cfg.Topic and handler.
func NewConsumer(cfg config.KafkaConfig, handler BatchHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1e3,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	size := cfg.BatchSize
	if size < 1 {
		size = 1
	}
	return &Consumer{
		reader:       r,
		logger:       slog.Default().With("component", "kafka-consumer", "topic", cfg.Topic),
		handler:      handler,
		batchSize:    size,
		batchTimeout: cfg.BatchTimeout,
	}
}

// Start enters the consume loop, fetching and processing batches until ctx
// is cancelled. A failed batch is not committed and is redelivered after the
// consumer group rebalances.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started", "batch_size", c.batchSize)
	defer c.reader.Close()
	for {
		msgs, err := c.fetchBatch(ctx)
		if len(msgs) == 0 {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			if err != nil {
				c.logger.Error("failed to fetch message", "error", err)
			}
			continue
		}

		batch := make([]Message, len(msgs))
		for i, m := range msgs {
			batch[i] = Message{Key: m.Key, Value: m.Value}
		}
		last := msgs[len(msgs)-1]
		if err := c.handler(ctx, batch); err != nil {
			c.logger.Error("failed to process batch",
				"messages", len(batch),
				"partition", last.Partition,
				"offset", last.Offset,
				"error", err,
			)
			continue
		}
		if err := c.reader.CommitMessages(ctx, msgs...); err != nil {
			c.logger.Error("failed to commit batch",
				"partition", last.Partition,
				"offset", last.Offset,
				"error", err,
			)
		}
	}
}

// fetchBatch blocks for the first message, then collects more until the
// batch is full or batchTimeout has passed.
func (c *Consumer) fetchBatch(ctx context.Context) ([]kafka.Message, error) {
	first, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	msgs := []kafka.Message{first}
	if c.batchSize == 1 || c.batchTimeout <= 0 {
		return msgs, nil
	}
	fillCtx, cancel := context.WithTimeout(ctx, c.batchTimeout)
	defer cancel()
	for len(msgs) < c.batchSize {
		m, err := c.reader.FetchMessage(fillCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break
			}
			return msgs, err
		}
		c.logger.Debug("message received",
			"partition", m.Partition,
			"offset", m.Offset,
			"value_size", len(m.Value),
		)
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON is a generic helper that unmarshals a Kafka message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
