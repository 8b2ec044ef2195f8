package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alphagov/notifications-api-sub002/internal/cap"
	"github.com/alphagov/notifications-api-sub002/internal/metrics"
	"github.com/alphagov/notifications-api-sub002/internal/queue"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Retry policy. Failed sends back off exponentially from retryBaseDelay up to
// retryMaxDelay, which spreads MaxTransmissionAttempts over about 20 minutes.
// Waiting for an earlier event is not a failed attempt; such a task is polled
// every earlierEventDelay until MaxTransmissionWait has passed since it was
// first queued.
const (
	MaxTransmissionAttempts = 10
	MaxTransmissionWait     = 24 * time.Hour

	retryBaseDelay    = 5 * time.Second
	retryMaxDelay     = 5 * time.Minute
	earlierEventDelay = 5 * time.Second
)

// Transmission results
const (
	TransmissionSent      = "sent"
	TransmissionDuplicate = "duplicate"
	TransmissionRetried   = "retried"
	TransmissionFailed    = "failed"
)

// ErrEarlierEventPending means an older event of the same broadcast has not
// been sent yet, so this one must wait.
var ErrEarlierEventPending = errors.New("earlier broadcast event not yet transmitted")

// Transmitter is the queue consumer. Delivery is at least once, so every task
// is checked against the provider messages already recorded for its event.
type Transmitter struct {
	events    BroadcastEventStore
	sent      ProviderMessageStore
	cbc       CBCSender
	limiter   *rate.Limiter
	queue     queue.Queue
	queueName string
	now       func() time.Time
	log       *zap.Logger
}

func NewTransmitter(
	eventStore BroadcastEventStore,
	sent ProviderMessageStore,
	cbc CBCSender,
	limiter *rate.Limiter,
	q queue.Queue,
	queueName string,
	log *zap.Logger,
) *Transmitter {
	return &Transmitter{
		events:    eventStore,
		sent:      sent,
		cbc:       cbc,
		limiter:   limiter,
		queue:     q,
		queueName: queueName,
		now:       time.Now,
		log:       log,
	}
}

// retryDelay is the wait before attempt n (n >= 1).
func retryDelay(attempt int) time.Duration {
	d := retryBaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return d
}

// Transmit sends one event to the broadcast network. It reports whether the
// event went out on this call; a previously sent event returns false, nil.
func (t *Transmitter) Transmit(ctx context.Context, eventID uuid.UUID) (bool, error) {
	already, err := t.sent.Exists(ctx, eventID)
	if err != nil {
		return false, err
	}
	if already {
		return false, nil
	}

	ev, err := t.events.GetByID(ctx, eventID)
	if err != nil {
		return false, fmt.Errorf("load broadcast event %s: %w", eventID, err)
	}
	earlier, err := t.events.ListEarlier(ctx, ev)
	if err != nil {
		return false, err
	}
	for _, e := range earlier {
		ok, err := t.sent.Exists(ctx, e.ID)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrEarlierEventPending, e.ID)
		}
	}

	document, err := cap.Build(*ev, earlier)
	if err != nil {
		return false, err
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return false, err
	}

	start := time.Now()
	err = t.cbc.SendCAP(ctx, ev, document)
	metrics.TransmissionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return false, err
	}

	if err := t.sent.MarkSent(ctx, ev.ID, t.cbc.Provider()); err != nil {
		// The network has the alert; a redelivery will send it again.
		t.log.Error("broadcast transmitted but not marked as sent",
			zap.String("broadcast_event_id", ev.ID.String()),
			zap.Error(err),
		)
	}
	t.log.Info("broadcast event transmitted",
		zap.String("broadcast_event_id", ev.ID.String()),
		zap.String("broadcast_message_id", ev.BroadcastMessageID.String()),
		zap.String("message_type", string(ev.MessageType)),
		zap.String("provider", t.cbc.Provider()),
		zap.Int("references", len(earlier)),
	)
	return true, nil
}

// Consume processes tasks until ctx is done. Items left in flight by a
// previous run are requeued first.
func (t *Transmitter) Consume(ctx context.Context, reserveTimeout time.Duration) error {
	recovered, err := t.queue.RecoverInflight(ctx, t.queueName)
	if err != nil {
		return fmt.Errorf("recover in-flight tasks: %w", err)
	}
	if recovered > 0 {
		t.log.Warn("requeued in-flight transmission tasks", zap.Int("count", recovered))
	}

	t.log.Info("transmission consumer started", zap.String("queue", t.queueName))
	for {
		if ctx.Err() != nil {
			t.log.Info("transmission consumer stopped")
			return nil
		}

		if _, err := t.queue.PromoteDue(ctx, t.queueName, t.now()); err != nil && ctx.Err() == nil {
			t.log.Error("failed to promote delayed transmission tasks", zap.Error(err))
		}

		payload, err := t.queue.Reserve(ctx, t.queueName, reserveTimeout)
		if errors.Is(err, queue.ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			t.log.Error("failed to reserve transmission task", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		if t.handle(ctx, payload) {
			if err := t.queue.Ack(ctx, t.queueName, payload); err != nil {
				t.log.Error("failed to ack transmission task", zap.Error(err))
			}
		}
	}
}

// handle runs one task and reports whether it may be acked.
func (t *Transmitter) handle(ctx context.Context, payload []byte) bool {
	var task TransmissionTask
	if err := json.Unmarshal(payload, &task); err != nil || task.BroadcastEventID == uuid.Nil {
		t.log.Error("dropping malformed transmission task", zap.ByteString("payload", payload), zap.Error(err))
		return true
	}
	if task.QueuedAt.IsZero() {
		task.QueuedAt = t.now().UTC()
	}
	log := t.log.With(
		zap.String("broadcast_event_id", task.BroadcastEventID.String()),
		zap.Int("attempt", task.Attempt),
	)

	sent, err := t.Transmit(ctx, task.BroadcastEventID)
	switch {
	case err == nil && sent:
		metrics.TransmissionsTotal.WithLabelValues(TransmissionSent).Inc()
		return true
	case err == nil:
		metrics.TransmissionsTotal.WithLabelValues(TransmissionDuplicate).Inc()
		log.Info("broadcast event already transmitted, skipping")
		return true
	case ctx.Err() != nil:
		// Shutting down; leave the task in flight for the next run.
		return false
	case errors.Is(err, ErrEarlierEventPending):
		if waited := t.now().Sub(task.QueuedAt); waited > MaxTransmissionWait {
			metrics.TransmissionsTotal.WithLabelValues(TransmissionFailed).Inc()
			log.Error("giving up on broadcast transmission", zap.Duration("waited", waited), zap.Error(err))
			return true
		}
		if !t.retry(ctx, log, task, earlierEventDelay) {
			return false
		}
		log.Info("waiting for earlier broadcast event", zap.Error(err))
		return true
	}

	if task.Attempt+1 >= MaxTransmissionAttempts {
		metrics.TransmissionsTotal.WithLabelValues(TransmissionFailed).Inc()
		log.Error("giving up on broadcast transmission", zap.Error(err))
		return true
	}

	task.Attempt++
	delay := retryDelay(task.Attempt)
	if !t.retry(ctx, log, task, delay) {
		return false
	}
	metrics.TransmissionsTotal.WithLabelValues(TransmissionRetried).Inc()
	log.Warn("broadcast transmission failed, requeued", zap.Duration("delay", delay), zap.Error(err))
	return true
}

// retry parks task on the delayed set. On failure the original stays in
// flight and is redelivered by the next RecoverInflight.
func (t *Transmitter) retry(ctx context.Context, log *zap.Logger, task TransmissionTask, delay time.Duration) bool {
	payload, err := json.Marshal(task)
	if err == nil {
		err = t.queue.EnqueueAt(ctx, t.queueName, payload, t.now().Add(delay))
	}
	if err != nil {
		log.Error("failed to requeue broadcast transmission", zap.Error(err))
		return false
	}
	return true
}
