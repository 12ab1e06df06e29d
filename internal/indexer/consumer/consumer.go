// Package consumer keeps the index in sync with the posts table by applying
// post lifecycle events read from Kafka, and announces each applied change
// on the index-complete topic.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/indexer"
	apperrors "github.com/Adithya-Monish-Kumar-K/notesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/notesearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/notesearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/notesearch/pkg/resilience"
)

type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// PostEvent is published by the CRUD layer whenever a post changes. Content
// is the rendered HTML body and is ignored for deletions.
type PostEvent struct {
	Type    EventType `json:"type"`
	ID      int64     `json:"id"`
	Content string    `json:"content,omitempty"`
}

// IndexEvent reports an applied post event.
type IndexEvent struct {
	ID        int64     `json:"id"`
	Op        string    `json:"op"`
	Outcome   string    `json:"outcome"`
	IndexedAt time.Time `json:"indexed_at"`
}

type DocumentIndex interface {
	Index(ctx context.Context, id int64, content string) (indexer.Outcome, error)
	Reindex(ctx context.Context, id int64, content string) (indexer.Outcome, error)
	Deindex(ctx context.Context, id int64) (indexer.Outcome, error)
}

type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// IndexConsumer wraps a Kafka consumer to drive index synchronisation.
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

// HandleMessage returns a Kafka MessageHandler applying each PostEvent to
// idx. Store failures are retried with backoff as a whole operation, which is
// safe because every index write is atomic. Undecodable or invalid events are
// logged and acknowledged. publisher and m may be nil.
func HandleMessage(idx DocumentIndex, publisher Publisher, retry resilience.RetryConfig, m *metrics.Metrics) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	retry.Retryable = apperrors.IsStoreFailure
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[PostEvent](value)
		if err != nil {
			logger.Error("failed to decode post event", "error", err, "key", string(key))
			observe(m, "unknown", "invalid")
			return nil
		}
		if err := event.validate(); err != nil {
			logger.Error("dropping invalid post event", "error", err, "key", string(key))
			observe(m, string(event.Type), "invalid")
			return nil
		}

		logger.Debug("processing post event", "type", event.Type, "doc_id", event.ID)
		var outcome indexer.Outcome
		op := fmt.Sprintf("%s post %d", event.Type, event.ID)
		err = resilience.Retry(ctx, op, retry, func(ctx context.Context) error {
			var err error
			outcome, err = apply(ctx, idx, event)
			return err
		})
		m.ObserveIndexOp(event.op(), outcome.String(), err)
		if err != nil {
			observe(m, string(event.Type), "failed")
			return fmt.Errorf("applying %s: %w", op, err)
		}
		observe(m, string(event.Type), "applied")
		logger.Info("post event applied", "type", event.Type, "doc_id", event.ID, "outcome", outcome.String())

		if publisher != nil {
			done := IndexEvent{
				ID:        event.ID,
				Op:        event.op(),
				Outcome:   outcome.String(),
				IndexedAt: time.Now().UTC(),
			}
			if err := publisher.Publish(ctx, kafka.Event{Key: fmt.Sprint(event.ID), Value: done}); err != nil {
				// The index change is already committed; a lost notification
				// must not cause the event to be replayed.
				logger.Warn("failed to publish index event", "doc_id", event.ID, "error", err)
			}
		}
		return nil
	}
}

func apply(ctx context.Context, idx DocumentIndex, event PostEvent) (indexer.Outcome, error) {
	switch event.Type {
	case EventCreated:
		return idx.Index(ctx, event.ID, event.Content)
	case EventUpdated:
		return idx.Reindex(ctx, event.ID, event.Content)
	default:
		return idx.Deindex(ctx, event.ID)
	}
}

func (e PostEvent) validate() error {
	switch e.Type {
	case EventCreated, EventUpdated, EventDeleted:
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.ID < 0 {
		return fmt.Errorf("negative post id %d", e.ID)
	}
	return nil
}

func (e PostEvent) op() string {
	switch e.Type {
	case EventCreated:
		return "index"
	case EventUpdated:
		return "reindex"
	default:
		return "deindex"
	}
}

func observe(m *metrics.Metrics, eventType, status string) {
	if m == nil {
		return
	}
	m.EventsConsumedTotal.WithLabelValues(eventType, status).Inc()
}
