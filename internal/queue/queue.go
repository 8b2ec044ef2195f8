package queue

import (
	"context"
	"errors"
	"time"
)

// ErrEmpty is returned by Reserve when nothing arrived before the timeout.
var ErrEmpty = errors.New("queue empty")

// Queue is a durable work queue with at-least-once delivery: a reserved item
// stays in flight until acked and is redelivered after a crash.
type Queue interface {
	Enqueue(ctx context.Context, queueName string, payload []byte) error
	// EnqueueAt parks payload until at. It becomes reservable once a
	// PromoteDue call runs at or after that time.
	EnqueueAt(ctx context.Context, queueName string, payload []byte, at time.Time) error
	PromoteDue(ctx context.Context, queueName string, now time.Time) (int, error)
	Reserve(ctx context.Context, queueName string, timeout time.Duration) ([]byte, error)
	Ack(ctx context.Context, queueName string, payload []byte) error
	RecoverInflight(ctx context.Context, queueName string) (int, error)
}
