package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/alphagov/notifications-api-sub002/internal/auth"
	"github.com/alphagov/notifications-api-sub002/internal/config"
	"github.com/alphagov/notifications-api-sub002/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const CtxActor = "actor"

// APIKeyLookup returns the unrevoked keys of a service.
type APIKeyLookup interface {
	ActiveAPIKeys(ctx context.Context, serviceID uuid.UUID) ([]models.APIKey, error)
}

// AuthMiddleware accepts user tokens signed with the JWT secret and API key
// tokens signed with one of the issuing service's key secrets.
func AuthMiddleware(cfg *config.Config, keys APIKeyLookup, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization header"})
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization format"})
		}

		issuer, err := auth.Issuer(tokenStr)
		if err != nil {
			log.Debug("jwt parse error", zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
		}

		if issuer == auth.UserIssuer {
			claims, err := auth.ParseJWT(cfg.JWTSecret, tokenStr)
			if err != nil {
				log.Debug("jwt parse error", zap.Error(err))
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
			}
			c.Locals(CtxActor, models.UserActor(claims.UserID, claims.PlatformAdmin))
			return c.Next()
		}

		serviceID, err := uuid.Parse(issuer)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token issuer"})
		}
		active, err := keys.ActiveAPIKeys(c.UserContext(), serviceID)
		if err != nil {
			log.Error("failed to load api keys", zap.String("service_id", serviceID.String()), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
		}
		key, err := auth.ParseAPIKeyJWT(tokenStr, active, time.Now())
		if err != nil {
			log.Debug("api key token rejected", zap.String("service_id", serviceID.String()), zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
		}

		c.Locals(CtxActor, models.APIKeyActor(key.ID, key.ServiceID))
		return c.Next()
	}
}

func GetActor(c *fiber.Ctx) models.Actor {
	actor, _ := c.Locals(CtxActor).(models.Actor)
	return actor
}
