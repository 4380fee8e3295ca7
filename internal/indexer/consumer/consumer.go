// Package consumer reads review events from Kafka and applies them to the
// index engine. Inserts are grouped into one engine insert per batch; a
// delete first commits the inserts queued ahead of it so that events take
// effect in topic order.
package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/reviews"
	apperrors "github.com/Adithya-Monish-Kumar-K/review-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/review-index/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/review-index/pkg/metrics"
)

const (
	OpInsert = "insert"
	OpDelete = "delete"
)

// Event is the JSON payload of one topic message.
type Event struct {
	Op     string          `json:"op"`
	Review *reviews.Review `json:"review,omitempty"`
	IDs    []uint32        `json:"ids,omitempty"`
}

// Validate reports whether the event can be applied.
func (ev Event) Validate() error {
	switch ev.Op {
	case OpInsert:
		if ev.Review == nil {
			return apperrors.New(apperrors.ErrInvalidInput, "consumer.Event", "insert without review")
		}
		if len(ev.Review.ProductID) > reviews.ProductIDLen {
			return apperrors.Newf(apperrors.ErrInvalidInput, "consumer.Event", "product id %q longer than %d bytes", ev.Review.ProductID, reviews.ProductIDLen)
		}
	case OpDelete:
		if len(ev.IDs) == 0 {
			return apperrors.New(apperrors.ErrInvalidInput, "consumer.Event", "delete without ids")
		}
	default:
		return apperrors.Newf(apperrors.ErrInvalidInput, "consumer.Event", "unknown op %q", ev.Op)
	}
	return nil
}

// Engine is the part of the index engine the consumer drives.
type Engine interface {
	Insert(ctx context.Context, src reviews.Source, auxDir string) (uint64, error)
	RemoveReviews(ctx context.Context, ids []uint32) (int, error)
}

// IndexConsumer wraps a Kafka consumer to drive the indexing pipeline.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New creates an IndexConsumer backed by the given Kafka consumer.
func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleBatch returns a BatchHandler applying review events to engine.
// Undecodable or invalid events are logged and skipped; engine failures
// abort the batch so it is not committed.
func HandleBatch(engine Engine, m *metrics.Metrics) kafka.BatchHandler {
	logger := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, batch []kafka.Message) error {
		var pending reviews.SliceSource
		flush := func() error {
			if len(pending) == 0 {
				return nil
			}
			live, err := engine.Insert(ctx, pending, "")
			m.Event(OpInsert, err)
			if err != nil {
				return fmt.Errorf("inserting %d reviews: %w", len(pending), err)
			}
			logger.Info("reviews inserted", "count", len(pending), "live", live)
			pending = nil
			return nil
		}

		for _, msg := range batch {
			ev, err := kafka.DecodeJSON[Event](msg.Value)
			if err == nil {
				err = ev.Validate()
			}
			if err != nil {
				m.Event("invalid", err)
				logger.Error("skipping review event",
					"error", err,
					"key", string(msg.Key),
				)
				continue
			}

			switch ev.Op {
			case OpInsert:
				pending = append(pending, *ev.Review)
			case OpDelete:
				if err := flush(); err != nil {
					return err
				}
				n, err := engine.RemoveReviews(ctx, ev.IDs)
				m.Event(OpDelete, err)
				if err != nil {
					return fmt.Errorf("removing reviews: %w", err)
				}
				logger.Info("reviews removed", "requested", len(ev.IDs), "removed", n)
			}
		}
		return flush()
	}
}
