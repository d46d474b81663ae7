// Package kafka provides producer and consumer clients backed by
// segmentio/kafka-go. Events travel as JSON. Consumers dispatch each
// message to a MessageHandler, retry it with backoff when it fails, and
// commit once it is handled or given up on.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/resilience"
)

// ErrSkip tells the consumer to commit a message the handler chose not to
// process, such as an undecodable payload.
var ErrSkip = errors.New("skip message")

type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// defaultBackoff bounds how long one message can hold up its partition.
var defaultBackoff = resilience.Backoff{Attempts: 5, Initial: 200 * time.Millisecond, Max: 5 * time.Second, Jitter: 0.2}

type Consumer struct {
	reader  *kafka.Reader
	logger  *slog.Logger
	handler MessageHandler
	backoff resilience.Backoff
}

// NewConsumer reads topic as a member of groupID. Services that must each
// see every message, like searchers following index.complete, pass a
// per-instance group.
func NewConsumer(cfg config.KafkaConfig, topic, groupID string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	return &Consumer{
		reader:  r,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic, "group", groupID),
		handler: handler,
		backoff: defaultBackoff,
	}
}

// Start fetches and handles messages until ctx is cancelled. Offsets are
// committed in order, so a message that keeps failing is logged and
// committed rather than blocking its partition.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		c.logger.Debug("message received",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
		)
		if !c.handle(ctx, msg) {
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// handle runs the handler for msg, retrying failures. It returns false only
// when ctx was cancelled before the message was dealt with, in which case
// the message must not be committed.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) bool {
	err := resilience.Retry(ctx, "handle "+msg.Topic, c.backoff, func(ctx context.Context) error {
		if err := c.handler(ctx, msg.Key, msg.Value); err != nil && !errors.Is(err, ErrSkip) {
			return err
		}
		return nil
	})
	if err == nil {
		return true
	}
	if ctx.Err() != nil {
		return false
	}
	c.logger.Error("dropping message after retries",
		"partition", msg.Partition,
		"offset", msg.Offset,
		"key", string(msg.Key),
		"error", err,
	)
	return true
}

// DecodeJSON unmarshals a message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
