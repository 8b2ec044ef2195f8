package dto

import (
	"time"

	"github.com/alphagov/notifications-api-sub002/internal/models"
)

type CreateBroadcastRequest struct {
	TemplateID      *string      `json:"template_id"`
	TemplateVersion *int         `json:"template_version"`
	Content         string       `json:"content"`
	Reference       *string      `json:"reference"`
	Areas           models.Areas `json:"areas"`
	StartsAt        *time.Time   `json:"starts_at"`
	FinishesAt      *time.Time   `json:"finishes_at"`
}

type UpdateBroadcastStatusRequest struct {
	Status string `json:"status"`
}

type CancelByReferenceRequest struct {
	Reference string `json:"reference"`
}
