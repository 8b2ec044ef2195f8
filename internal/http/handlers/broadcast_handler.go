package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/alphagov/notifications-api-sub002/internal/http/dto"
	"github.com/alphagov/notifications-api-sub002/internal/middleware"
	"github.com/alphagov/notifications-api-sub002/internal/models"
	"github.com/alphagov/notifications-api-sub002/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BroadcastAPI is the part of services.BroadcastService the handlers use.
type BroadcastAPI interface {
	CreateBroadcast(ctx context.Context, serviceID uuid.UUID, actor models.Actor, in services.CreateBroadcastInput) (*models.BroadcastMessage, error)
	UpdateStatus(ctx context.Context, serviceID, messageID uuid.UUID, newStatus models.BroadcastStatus, actor models.Actor) (*models.BroadcastMessage, error)
	CancelByReference(ctx context.Context, serviceID uuid.UUID, reference string, actor models.Actor) (*models.BroadcastMessage, error)
	GetBroadcast(ctx context.Context, serviceID, messageID uuid.UUID, actor models.Actor) (*models.BroadcastMessage, error)
	ListBroadcasts(ctx context.Context, serviceID uuid.UUID, actor models.Actor, limit, offset int) ([]models.BroadcastMessage, error)
	ListEvents(ctx context.Context, serviceID, messageID uuid.UUID, actor models.Actor) ([]models.BroadcastEvent, error)
	EventCAP(ctx context.Context, eventID uuid.UUID, actor models.Actor) ([]byte, error)
	AuditTrail(ctx context.Context, serviceID, messageID uuid.UUID, actor models.Actor, limit, offset int) ([]models.AuditLog, error)
}

type BroadcastHandler struct {
	broadcasts BroadcastAPI
	log        *zap.Logger
}

func NewBroadcastHandler(broadcasts BroadcastAPI, log *zap.Logger) *BroadcastHandler {
	return &BroadcastHandler{broadcasts: broadcasts, log: log}
}

func (h *BroadcastHandler) CreateBroadcast(c *fiber.Ctx) error {
	serviceID, err := uuid.Parse(c.Params("serviceId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid service id"})
	}

	var req dto.CreateBroadcastRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request: " + err.Error()})
	}

	in := services.CreateBroadcastInput{
		TemplateVersion: req.TemplateVersion,
		Content:         req.Content,
		Reference:       req.Reference,
		Areas:           req.Areas,
		StartsAt:        req.StartsAt,
		FinishesAt:      req.FinishesAt,
	}
	if req.TemplateID != nil {
		id, err := uuid.Parse(*req.TemplateID)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid template_id"})
		}
		in.TemplateID = &id
	}

	msg, err := h.broadcasts.CreateBroadcast(c.Context(), serviceID, middleware.GetActor(c), in)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: msg})
}

func (h *BroadcastHandler) ListBroadcasts(c *fiber.Ctx) error {
	serviceID, err := uuid.Parse(c.Params("serviceId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid service id"})
	}

	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}

	msgs, err := h.broadcasts.ListBroadcasts(c.Context(), serviceID, middleware.GetActor(c), limit, offset)
	if err != nil {
		return h.writeError(c, err)
	}
	if msgs == nil {
		msgs = []models.BroadcastMessage{}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.ListResponse{Items: msgs, Limit: limit, Offset: offset}})
}

func (h *BroadcastHandler) GetBroadcast(c *fiber.Ctx) error {
	serviceID, messageID, ok := h.parseIDs(c)
	if !ok {
		return nil
	}

	msg, err := h.broadcasts.GetBroadcast(c.Context(), serviceID, messageID, middleware.GetActor(c))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: msg})
}

func (h *BroadcastHandler) UpdateStatus(c *fiber.Ctx) error {
	serviceID, messageID, ok := h.parseIDs(c)
	if !ok {
		return nil
	}

	var req dto.UpdateBroadcastStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	status, valid := models.ParseBroadcastStatus(req.Status)
	if !valid {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "unknown status " + strconv.Quote(req.Status)})
	}

	msg, err := h.broadcasts.UpdateStatus(c.Context(), serviceID, messageID, status, middleware.GetActor(c))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: msg})
}

func (h *BroadcastHandler) CancelByReference(c *fiber.Ctx) error {
	serviceID, err := uuid.Parse(c.Params("serviceId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid service id"})
	}

	var req dto.CancelByReferenceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	msg, err := h.broadcasts.CancelByReference(c.Context(), serviceID, req.Reference, middleware.GetActor(c))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: msg})
}

func (h *BroadcastHandler) ListEvents(c *fiber.Ctx) error {
	serviceID, messageID, ok := h.parseIDs(c)
	if !ok {
		return nil
	}

	evs, err := h.broadcasts.ListEvents(c.Context(), serviceID, messageID, middleware.GetActor(c))
	if err != nil {
		return h.writeError(c, err)
	}
	if evs == nil {
		evs = []models.BroadcastEvent{}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: evs})
}

func (h *BroadcastHandler) GetAuditTrail(c *fiber.Ctx) error {
	serviceID, messageID, ok := h.parseIDs(c)
	if !ok {
		return nil
	}

	entries, err := h.broadcasts.AuditTrail(c.Context(), serviceID, messageID, middleware.GetActor(c), c.QueryInt("limit", 50), c.QueryInt("offset", 0))
	if err != nil {
		return h.writeError(c, err)
	}
	if entries == nil {
		entries = []models.AuditLog{}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: entries})
}

// GetEventCAP returns the CAP document for an event as XML.
func (h *BroadcastHandler) GetEventCAP(c *fiber.Ctx) error {
	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid event id"})
	}

	doc, err := h.broadcasts.EventCAP(c.Context(), eventID, middleware.GetActor(c))
	if err != nil {
		return h.writeError(c, err)
	}
	c.Set(fiber.HeaderContentType, "application/cap+xml")
	return c.Send(doc)
}

// parseIDs writes a 400 and returns false when either path id is malformed.
func (h *BroadcastHandler) parseIDs(c *fiber.Ctx) (uuid.UUID, uuid.UUID, bool) {
	serviceID, err := uuid.Parse(c.Params("serviceId"))
	if err != nil {
		_ = c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid service id"})
		return uuid.Nil, uuid.Nil, false
	}
	messageID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		_ = c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid broadcast message id"})
		return uuid.Nil, uuid.Nil, false
	}
	return serviceID, messageID, true
}

func (h *BroadcastHandler) writeError(c *fiber.Ctx, err error) error {
	reqID, _ := c.Locals(middleware.CtxRequestID).(string)
	switch {
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "not found", RequestID: reqID})
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: err.Error(), RequestID: reqID})
	case services.IsClientError(err):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error(), RequestID: reqID})
	}
	h.log.Error("broadcast request failed", zap.String("request_id", reqID), zap.String("path", c.Path()), zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error", RequestID: reqID})
}
