package services

import (
	"context"
	"time"

	"github.com/alphagov/notifications-api-sub002/internal/models"
	"github.com/google/uuid"
)

// Narrow views of the repositories, so the broadcast pipeline can be exercised
// without a database.

type BroadcastMessageStore interface {
	Create(ctx context.Context, m *models.BroadcastMessage) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.BroadcastMessage, error)
	GetByReference(ctx context.Context, serviceID uuid.UUID, reference string) (*models.BroadcastMessage, error)
	ListByService(ctx context.Context, serviceID uuid.UUID, limit, offset int) ([]models.BroadcastMessage, error)
	ListExpired(ctx context.Context, now time.Time) ([]models.BroadcastMessage, error)
	UpdateStatus(ctx context.Context, m *models.BroadcastMessage, from models.BroadcastStatus) error
}

type BroadcastEventStore interface {
	Create(ctx context.Context, e *models.BroadcastEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.BroadcastEvent, error)
	ListByMessage(ctx context.Context, messageID uuid.UUID) ([]models.BroadcastEvent, error)
	ListEarlier(ctx context.Context, e *models.BroadcastEvent) ([]models.BroadcastEvent, error)
}

type ServiceStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Service, error)
	IsMember(ctx context.Context, serviceID, userID uuid.UUID) (bool, error)
}

type ProviderMessageStore interface {
	Exists(ctx context.Context, eventID uuid.UUID) (bool, error)
	MarkSent(ctx context.Context, eventID uuid.UUID, provider string) error
}

type AuditLogger interface {
	Log(ctx context.Context, entry models.AuditLog) error
	GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, queueName string, payload []byte) error
}
