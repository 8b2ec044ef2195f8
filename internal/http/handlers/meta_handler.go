package handlers

import (
	"sort"

	"github.com/alphagov/notifications-api-sub002/internal/http/dto"
	"github.com/alphagov/notifications-api-sub002/internal/models"
	"github.com/gofiber/fiber/v2"
)

type MetaHandler struct{}

func NewMetaHandler() *MetaHandler {
	return &MetaHandler{}
}

var messageTypes = []models.BroadcastMessageType{
	models.BroadcastMessageTypeAlert,
	models.BroadcastMessageTypeUpdate,
	models.BroadcastMessageTypeCancel,
}

// GetStatuses lists every broadcast status with the statuses it can move to.
func (h *MetaHandler) GetStatuses(c *fiber.Ctx) error {
	out := make([]dto.StatusTransitions, 0, len(models.ValidBroadcastTransitions))
	for from, to := range models.ValidBroadcastTransitions {
		next := make([]string, 0, len(to))
		for _, s := range to {
			next = append(next, string(s))
		}
		out = append(out, dto.StatusTransitions{Status: string(from), Next: next})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return c.JSON(dto.SuccessResponse{OK: true, Data: out})
}

func (h *MetaHandler) GetMessageTypes(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: messageTypes})
}
