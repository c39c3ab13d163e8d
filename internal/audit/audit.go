// Package audit ships rejected check-in attempts through a queue into storage,
// keeping them out of the request path.
package audit

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"geoattend/internal/attendance"
	"geoattend/internal/queue"
)

// MessageType tags attempt messages on the queue.
const MessageType = "checkin_attempt"

// Publisher implements attendance.AttemptRecorder by enqueueing attempts.
type Publisher struct {
	q queue.Queue
}

// NewPublisher creates a publisher on q.
func NewPublisher(q queue.Queue) *Publisher {
	return &Publisher{q: q}
}

// RecordAttempt enqueues a. The id is assigned here so redelivery is idempotent.
func (p *Publisher) RecordAttempt(ctx context.Context, a attendance.Attempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode attempt: %w", err)
	}
	return p.q.Publish(ctx, queue.Message{Type: MessageType, Body: body})
}

// AttemptStore persists attempts.
type AttemptStore interface {
	InsertAttempt(ctx context.Context, a attendance.Attempt) (attendance.Attempt, error)
}

// Consumer drains attempt messages into an AttemptStore.
type Consumer struct {
	q      queue.Queue
	store  AttemptStore
	logger *zap.Logger
}

// NewConsumer creates a consumer.
func NewConsumer(q queue.Queue, store AttemptStore, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{q: q, store: store, logger: logger}
}

// Run processes messages until ctx is done or the queue closes.
func (c *Consumer) Run(ctx context.Context) error {
	messages, err := c.q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("queue consume init: %w", err)
	}
	for msg := range messages {
		if msg.Type != MessageType {
			continue
		}
		c.handle(ctx, msg)
	}
	return nil
}

func (c *Consumer) handle(ctx context.Context, msg queue.Message) {
	var a attendance.Attempt
	if err := json.Unmarshal(msg.Body, &a); err != nil {
		c.logger.Warn("decode attempt failed", zap.Error(err))
		return
	}
	if _, err := c.store.InsertAttempt(ctx, a); err != nil {
		c.logger.Error("store attempt failed", zap.String("attempt_id", a.ID), zap.Error(err))
		return
	}
	c.logger.Debug("attempt stored",
		zap.String("attempt_id", a.ID),
		zap.String("session_id", a.SessionID),
		zap.Float64("distance", a.Distance),
	)
}
