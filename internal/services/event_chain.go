package services

import (
	"context"
	"fmt"

	"github.com/alphagov/notifications-api-sub002/internal/metrics"
	"github.com/alphagov/notifications-api-sub002/internal/models"
	"go.uber.org/zap"
)

// EventChainBuilder appends events to a broadcast's chain and hands each new
// event to the dispatcher.
type EventChainBuilder struct {
	events     BroadcastEventStore
	dispatcher *TransmissionDispatcher
	sender     string
	log        *zap.Logger
}

func NewEventChainBuilder(events BroadcastEventStore, dispatcher *TransmissionDispatcher, sender string, log *zap.Logger) *EventChainBuilder {
	return &EventChainBuilder{
		events:     events,
		dispatcher: dispatcher,
		sender:     sender,
		log:        log,
	}
}

// RecordEvent creates the event for the message's current status. It returns
// nil without error when nothing may be sent: trial services, and messages
// whose stubbed flag no longer matches the service.
//
// A non-nil event with an error wrapping ErrDispatchFailed means the event was
// written but never queued.
func (b *EventChainBuilder) RecordEvent(ctx context.Context, msg *models.BroadcastMessage, svc *models.Service) (*models.BroadcastEvent, error) {
	log := b.log.With(
		zap.String("broadcast_message_id", msg.ID.String()),
		zap.String("service_id", msg.ServiceID.String()),
	)

	if msg.Stubbed != svc.Restricted {
		// The service went live or back to trial after the alert was drafted.
		log.Error("broadcast message stubbed status does not match service restricted status, not sending",
			zap.Bool("stubbed", msg.Stubbed),
			zap.Bool("restricted", svc.Restricted),
		)
		return nil, nil
	}
	if msg.Stubbed {
		log.Info("broadcast message is stubbed, not sending")
		return nil, nil
	}

	messageType, err := b.messageTypeFor(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEventRecordingFailed, err)
	}

	ev := snapshotEvent(msg, messageType, b.sender)
	if err := b.events.Create(ctx, ev); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEventRecordingFailed, err)
	}
	metrics.EventsCreatedTotal.WithLabelValues(string(messageType)).Inc()
	log.Info("broadcast event created",
		zap.String("broadcast_event_id", ev.ID.String()),
		zap.String("message_type", string(messageType)),
		zap.Time("sent_at", ev.SentAt),
	)

	if err := b.dispatcher.EnqueueTransmission(ctx, ev.ID); err != nil {
		return ev, err
	}
	return ev, nil
}

// EarlierEvents returns the events of the same broadcast sent strictly before
// ev, oldest first.
func (b *EventChainBuilder) EarlierEvents(ctx context.Context, ev *models.BroadcastEvent) ([]models.BroadcastEvent, error) {
	return b.events.ListEarlier(ctx, ev)
}

func (b *EventChainBuilder) messageTypeFor(ctx context.Context, msg *models.BroadcastMessage) (models.BroadcastMessageType, error) {
	switch msg.Status {
	case models.BroadcastStatusCancelled:
		return models.BroadcastMessageTypeCancel, nil
	case models.BroadcastStatusBroadcasting:
		prior, err := b.events.ListByMessage(ctx, msg.ID)
		if err != nil {
			return "", err
		}
		for _, e := range prior {
			if e.MessageType == models.BroadcastMessageTypeAlert {
				return models.BroadcastMessageTypeUpdate, nil
			}
		}
		return models.BroadcastMessageTypeAlert, nil
	}
	return "", fmt.Errorf("no broadcast event for status %s", msg.Status)
}

func snapshotEvent(msg *models.BroadcastMessage, messageType models.BroadcastMessageType, sender string) *models.BroadcastEvent {
	return &models.BroadcastEvent{
		ServiceID:             msg.ServiceID,
		BroadcastMessageID:    msg.ID,
		MessageType:           messageType,
		TransmittedContent:    models.TransmittedContent{Body: msg.Content},
		TransmittedAreas:      msg.Areas.Clone(),
		TransmittedSender:     sender,
		TransmittedStartsAt:   copyTime(msg.StartsAt),
		TransmittedFinishesAt: copyTime(msg.FinishesAt),
	}
}
