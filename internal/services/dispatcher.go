package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TransmissionTask is the queue payload consumed by the worker. Consumers must
// be idempotent per BroadcastEventID: the queue delivers at least once.
type TransmissionTask struct {
	BroadcastEventID uuid.UUID `json:"broadcast_event_id"`
	Attempt          int       `json:"attempt,omitempty"`
	// QueuedAt is when the event was first handed to the queue.
	QueuedAt time.Time `json:"queued_at"`
}

// TransmissionDispatcher enqueues exactly one transmission task per created
// event. It never retries; retry belongs to the queue consumer.
type TransmissionDispatcher struct {
	queue     Enqueuer
	queueName string
	timeout   time.Duration
	log       *zap.Logger
}

func NewTransmissionDispatcher(queue Enqueuer, queueName string, timeout time.Duration, log *zap.Logger) *TransmissionDispatcher {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &TransmissionDispatcher{queue: queue, queueName: queueName, timeout: timeout, log: log}
}

func (d *TransmissionDispatcher) EnqueueTransmission(ctx context.Context, eventID uuid.UUID) error {
	return d.enqueue(ctx, TransmissionTask{BroadcastEventID: eventID, QueuedAt: time.Now().UTC()})
}

func (d *TransmissionDispatcher) enqueue(ctx context.Context, task TransmissionTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDispatchFailed, err)
	}

	// The status write is already committed; a cancelled request must not
	// abandon the enqueue, but a slow queue must not hold the request either.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	if err := d.queue.Enqueue(ctx, d.queueName, payload); err != nil {
		return fmt.Errorf("%w: event %s: %w", ErrDispatchFailed, task.BroadcastEventID, err)
	}

	d.log.Info("broadcast transmission enqueued",
		zap.String("broadcast_event_id", task.BroadcastEventID.String()),
		zap.String("queue", d.queueName),
		zap.Int("attempt", task.Attempt),
	)
	return nil
}
