package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alphagov/notifications-api-sub002/internal/cap"
	"github.com/alphagov/notifications-api-sub002/internal/events"
	"github.com/alphagov/notifications-api-sub002/internal/metrics"
	"github.com/alphagov/notifications-api-sub002/internal/models"
	"github.com/alphagov/notifications-api-sub002/internal/rbac"
	"github.com/alphagov/notifications-api-sub002/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const auditEntityBroadcast = "broadcast_message"

// MaxContentLength is the longest alert body the broadcast network accepts.
const MaxContentLength = 1395

type BroadcastService struct {
	messages  BroadcastMessageStore
	events    BroadcastEventStore
	services  ServiceStore
	audit     AuditLogger
	publisher events.Publisher
	chain     *EventChainBuilder
	alerter   *OperationalAlerter
	live      bool
	now       func() time.Time
	log       *zap.Logger
}

func NewBroadcastService(
	messages BroadcastMessageStore,
	eventStore BroadcastEventStore,
	services ServiceStore,
	audit AuditLogger,
	publisher events.Publisher,
	chain *EventChainBuilder,
	alerter *OperationalAlerter,
	live bool,
	log *zap.Logger,
) *BroadcastService {
	return &BroadcastService{
		messages:  messages,
		events:    eventStore,
		services:  services,
		audit:     audit,
		publisher: publisher,
		chain:     chain,
		alerter:   alerter,
		live:      live,
		now:       time.Now,
		log:       log,
	}
}

// Transition moves msg to newStatus. Client errors leave msg untouched. Once
// the status write has committed the call succeeds: failures to record or
// dispatch the broadcast event are logged and counted, not returned.
func (s *BroadcastService) Transition(ctx context.Context, msg *models.BroadcastMessage, newStatus models.BroadcastStatus, actor models.Actor) error {
	oldStatus := msg.Status
	if !models.IsValidBroadcastTransition(oldStatus, newStatus) {
		return fmt.Errorf("%w: %s to %s", ErrIllegalTransition, oldStatus, newStatus)
	}

	svc, err := s.services.GetByID(ctx, msg.ServiceID)
	if err != nil {
		return fmt.Errorf("load service %s: %w", msg.ServiceID, err)
	}

	if newStatus == models.BroadcastStatusBroadcasting {
		// Missing areas fail for every actor, the creator included.
		if !msg.Areas.HasPolygons() {
			return ErrNoAreasSelected
		}
		// Platform admins get no exemption here, only trial services do.
		if actor.UserID != nil && msg.CreatedBy != nil && *actor.UserID == *msg.CreatedBy && !svc.Restricted {
			return ErrSelfApprovalForbidden
		}
	}

	updated := *msg
	updated.Status = newStatus
	now := s.now().UTC()
	switch newStatus {
	case models.BroadcastStatusBroadcasting:
		updated.ApprovedAt = &now
		updated.ApprovedBy = actor.UserID
	case models.BroadcastStatusCancelled:
		updated.CancelledAt = &now
		if actor.IsAPIKey() {
			updated.CancelledBy = nil
			updated.CancelledByAPIKeyID = actor.APIKeyID
		} else {
			updated.CancelledBy = actor.UserID
			updated.CancelledByAPIKeyID = nil
		}
	}

	if err := s.messages.UpdateStatus(ctx, &updated, oldStatus); err != nil {
		if errors.Is(err, repositories.ErrStatusConflict) {
			return fmt.Errorf("%w: %w", ErrIllegalTransition, err)
		}
		return fmt.Errorf("update broadcast status: %w", err)
	}
	*msg = updated

	log := s.log.With(
		zap.String("broadcast_message_id", msg.ID.String()),
		zap.String("service_id", msg.ServiceID.String()),
	)
	log.Info("broadcast message status changed",
		zap.String("old_status", string(oldStatus)),
		zap.String("new_status", string(newStatus)),
		zap.String("actor_type", actor.Type()),
	)
	metrics.StatusTransitionsTotal.WithLabelValues(string(oldStatus), string(newStatus)).Inc()

	// Everything below runs after commit and must not be abandoned with the request.
	ctx = context.WithoutCancel(ctx)

	s.recordTransition(ctx, log, msg, oldStatus, actor)

	if newStatus.IsTransmitted() {
		ev, err := s.chain.RecordEvent(ctx, msg, svc)
		switch {
		case errors.Is(err, ErrDispatchFailed):
			metrics.PostCommitFailuresTotal.WithLabelValues(metrics.StageDispatch).Inc()
			log.Error("broadcast event recorded but not queued for transmission",
				zap.String("broadcast_event_id", ev.ID.String()),
				zap.Error(err),
			)
		case err != nil:
			metrics.PostCommitFailuresTotal.WithLabelValues(metrics.StageEventRecording).Inc()
			log.Error("failed to record broadcast event",
				zap.String("new_status", string(newStatus)),
				zap.Error(err),
			)
		case ev != nil:
			s.publish(ctx, log, events.EventBroadcastEventCreated, map[string]any{
				"service_id":           msg.ServiceID.String(),
				"broadcast_message_id": msg.ID.String(),
				"broadcast_event_id":   ev.ID.String(),
				"message_type":         string(ev.MessageType),
			})
		}
	}

	if s.live && newStatus == models.BroadcastStatusBroadcasting {
		s.alerter.NotifyLiveBroadcastSent(ctx, msg)
	}

	return nil
}

// recordTransition writes the audit entry and publishes the status change.
func (s *BroadcastService) recordTransition(ctx context.Context, log *zap.Logger, msg *models.BroadcastMessage, oldStatus models.BroadcastStatus, actor models.Actor) {
	meta := map[string]any{"old_status": oldStatus, "new_status": msg.Status}
	if actor.IsAPIKey() {
		meta["api_key_id"] = actor.APIKeyID.String()
	}
	if err := s.audit.Log(ctx, models.AuditLog{
		ActorUserID: actor.UserID,
		ActorType:   actor.Type(),
		Action:      fmt.Sprintf("broadcast_status_%s_to_%s", oldStatus, msg.Status),
		EntityType:  auditEntityBroadcast,
		EntityID:    &msg.ID,
		Meta:        meta,
	}); err != nil {
		log.Warn("failed to write audit log", zap.Error(err))
	}

	s.publish(ctx, log, events.EventBroadcastStatusChanged, map[string]any{
		"service_id":           msg.ServiceID.String(),
		"broadcast_message_id": msg.ID.String(),
		"old_status":           string(oldStatus),
		"new_status":           string(msg.Status),
	})
}

func (s *BroadcastService) publish(ctx context.Context, log *zap.Logger, eventType string, payload map[string]any) {
	if err := s.publisher.Publish(ctx, events.StreamBroadcast, events.Event{Type: eventType, Payload: payload}); err != nil {
		log.Warn("failed to publish broadcast event", zap.String("type", eventType), zap.Error(err))
	}
}

type CreateBroadcastInput struct {
	TemplateID      *uuid.UUID
	TemplateVersion *int
	Content         string
	Reference       *string
	Areas           models.Areas
	StartsAt        *time.Time
	FinishesAt      *time.Time
}

func (in CreateBroadcastInput) validate() error {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidBroadcast)
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return fmt.Errorf("%w: content must be %d characters or fewer", ErrInvalidBroadcast, MaxContentLength)
	}
	if in.TemplateID == nil && (in.Reference == nil || strings.TrimSpace(*in.Reference) == "") {
		return fmt.Errorf("%w: reference is required when no template is used", ErrInvalidBroadcast)
	}
	if in.TemplateID == nil && in.TemplateVersion != nil {
		return fmt.Errorf("%w: template_version requires template_id", ErrInvalidBroadcast)
	}
	if in.StartsAt != nil && in.FinishesAt != nil && !in.FinishesAt.After(*in.StartsAt) {
		return fmt.Errorf("%w: finishes_at must be after starts_at", ErrInvalidBroadcast)
	}
	return nil
}

// CreateBroadcast drafts a new broadcast for the service. Messages created by
// users start as drafts; messages created through the API go straight to
// approval.
func (s *BroadcastService) CreateBroadcast(ctx context.Context, serviceID uuid.UUID, actor models.Actor, in CreateBroadcastInput) (*models.BroadcastMessage, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	svc, err := s.authorize(ctx, serviceID, actor, rbac.PermCreateBroadcast)
	if err != nil {
		return nil, err
	}
	if !svc.Active {
		return nil, fmt.Errorf("%w: service is not active", ErrInvalidBroadcast)
	}

	msg := &models.BroadcastMessage{
		ServiceID:       serviceID,
		TemplateID:      in.TemplateID,
		TemplateVersion: in.TemplateVersion,
		Content:         strings.TrimSpace(in.Content),
		Reference:       in.Reference,
		Areas:           in.Areas,
		Status:          models.BroadcastStatusDraft,
		StartsAt:        in.StartsAt,
		FinishesAt:      in.FinishesAt,
		Stubbed:         svc.Restricted,
		CreatedBy:       actor.UserID,
	}
	if actor.IsAPIKey() {
		msg.Status = models.BroadcastStatusPendingApproval
		msg.CreatedByAPIKeyID = actor.APIKeyID
	}

	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("create broadcast message: %w", err)
	}

	s.log.Info("broadcast message created",
		zap.String("broadcast_message_id", msg.ID.String()),
		zap.String("service_id", serviceID.String()),
		zap.String("status", string(msg.Status)),
		zap.Bool("stubbed", msg.Stubbed),
		zap.String("actor_type", actor.Type()),
	)
	if err := s.audit.Log(ctx, models.AuditLog{
		ActorUserID: actor.UserID,
		ActorType:   actor.Type(),
		Action:      "broadcast_created",
		EntityType:  auditEntityBroadcast,
		EntityID:    &msg.ID,
		Meta:        map[string]any{"status": msg.Status, "stubbed": msg.Stubbed},
	}); err != nil {
		s.log.Warn("failed to write audit log",
			zap.String("broadcast_message_id", msg.ID.String()),
			zap.Error(err),
		)
	}
	return msg, nil
}

// UpdateStatus applies a status change requested through the API. Any member
// of the service may request it; cancellation is also open to platform admins
// and to API keys of the service.
func (s *BroadcastService) UpdateStatus(ctx context.Context, serviceID, messageID uuid.UUID, newStatus models.BroadcastStatus, actor models.Actor) (*models.BroadcastMessage, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.ServiceID != serviceID {
		return nil, ErrNotFound
	}
	return s.transitionAs(ctx, msg, newStatus, actor)
}

// CancelByReference cancels the latest broadcast the service sent with the
// given reference.
func (s *BroadcastService) CancelByReference(ctx context.Context, serviceID uuid.UUID, reference string, actor models.Actor) (*models.BroadcastMessage, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, fmt.Errorf("%w: reference is required", ErrInvalidBroadcast)
	}
	msg, err := s.messages.GetByReference(ctx, serviceID, reference)
	if err != nil {
		return nil, err
	}
	return s.transitionAs(ctx, msg, models.BroadcastStatusCancelled, actor)
}

func (s *BroadcastService) transitionAs(ctx context.Context, msg *models.BroadcastMessage, newStatus models.BroadcastStatus, actor models.Actor) (*models.BroadcastMessage, error) {
	permission := rbac.PermChangeStatus
	if newStatus == models.BroadcastStatusCancelled {
		permission = rbac.PermCancelBroadcast
	}
	if _, err := s.authorize(ctx, msg.ServiceID, actor, permission); err != nil {
		return nil, err
	}
	if err := s.Transition(ctx, msg, newStatus, actor); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *BroadcastService) GetBroadcast(ctx context.Context, serviceID, messageID uuid.UUID, actor models.Actor) (*models.BroadcastMessage, error) {
	if _, err := s.authorize(ctx, serviceID, actor, rbac.PermViewBroadcast); err != nil {
		return nil, err
	}
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.ServiceID != serviceID {
		return nil, ErrNotFound
	}
	return msg, nil
}

func (s *BroadcastService) ListBroadcasts(ctx context.Context, serviceID uuid.UUID, actor models.Actor, limit, offset int) ([]models.BroadcastMessage, error) {
	if _, err := s.authorize(ctx, serviceID, actor, rbac.PermViewBroadcast); err != nil {
		return nil, err
	}
	return s.messages.ListByService(ctx, serviceID, limit, offset)
}

// ListEvents returns the event chain of a broadcast, oldest first.
func (s *BroadcastService) ListEvents(ctx context.Context, serviceID, messageID uuid.UUID, actor models.Actor) ([]models.BroadcastEvent, error) {
	msg, err := s.GetBroadcast(ctx, serviceID, messageID, actor)
	if err != nil {
		return nil, err
	}
	return s.events.ListByMessage(ctx, msg.ID)
}

// AuditTrail returns the audit entries of a broadcast, newest first.
func (s *BroadcastService) AuditTrail(ctx context.Context, serviceID, messageID uuid.UUID, actor models.Actor, limit, offset int) ([]models.AuditLog, error) {
	msg, err := s.GetBroadcast(ctx, serviceID, messageID, actor)
	if err != nil {
		return nil, err
	}
	return s.audit.GetByEntity(ctx, auditEntityBroadcast, msg.ID, limit, offset)
}

// EventCAP renders the CAP document the transmitter sends for an event.
func (s *BroadcastService) EventCAP(ctx context.Context, eventID uuid.UUID, actor models.Actor) ([]byte, error) {
	ev, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, ev.ServiceID, actor, rbac.PermViewBroadcast); err != nil {
		return nil, err
	}
	earlier, err := s.chain.EarlierEvents(ctx, ev)
	if err != nil {
		return nil, err
	}
	return cap.Build(*ev, earlier)
}

// ExpireBroadcasts completes every broadcasting message whose finish time has
// passed. It returns how many were completed.
func (s *BroadcastService) ExpireBroadcasts(ctx context.Context) (int, error) {
	expired, err := s.messages.ListExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("list expired broadcasts: %w", err)
	}

	completed := 0
	for i := range expired {
		msg := &expired[i]
		err := s.Transition(ctx, msg, models.BroadcastStatusCompleted, models.Actor{})
		switch {
		case err == nil:
			completed++
		case errors.Is(err, ErrIllegalTransition):
			// Cancelled or completed by someone else since the query ran.
			s.log.Debug("expired broadcast already moved on", zap.String("broadcast_message_id", msg.ID.String()))
		default:
			s.log.Warn("failed to complete expired broadcast",
				zap.String("broadcast_message_id", msg.ID.String()),
				zap.Error(err),
			)
		}
	}
	return completed, nil
}

// authorize checks that actor may use permission on the service. API keys are
// scoped to the service that issued them; users must be members unless their
// role is exempt for the permission.
func (s *BroadcastService) authorize(ctx context.Context, serviceID uuid.UUID, actor models.Actor, permission string) (*models.Service, error) {
	role := actor.Type()
	if !rbac.HasPermission(role, permission) {
		return nil, ErrForbidden
	}

	svc, err := s.services.GetByID(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	switch {
	case rbac.IsMembershipExempt(role, permission):
		return svc, nil
	case actor.IsAPIKey():
		if actor.APIServiceID != nil && *actor.APIServiceID == serviceID {
			return svc, nil
		}
		return nil, ErrForbidden
	}

	member, err := s.services.IsMember(ctx, serviceID, *actor.UserID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrForbidden
	}
	return svc, nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
