package handlers

import (
	"github.com/alphagov/notifications-api-sub002/internal/http/dto"
	"github.com/alphagov/notifications-api-sub002/internal/middleware"
	"github.com/alphagov/notifications-api-sub002/internal/repositories"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type UserHandler struct {
	userRepo *repositories.UserRepo
	log      *zap.Logger
}

func NewUserHandler(userRepo *repositories.UserRepo, log *zap.Logger) *UserHandler {
	return &UserHandler{userRepo: userRepo, log: log}
}

// GetMe describes the caller: the user record for user tokens, the key and
// its service for API key tokens.
func (h *UserHandler) GetMe(c *fiber.Ctx) error {
	actor := middleware.GetActor(c)
	if actor.IsAPIKey() {
		return c.JSON(dto.SuccessResponse{OK: true, Data: fiber.Map{
			"actor_type": actor.Type(),
			"api_key_id": actor.APIKeyID,
			"service_id": actor.APIServiceID,
		}})
	}
	if actor.UserID == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "unauthenticated"})
	}

	user, err := h.userRepo.GetByID(c.Context(), *actor.UserID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "user not found"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: user})
}
