package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/alphagov/notifications-api-sub002/internal/rbac"
)

type User struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	EmailAddress  string    `json:"email_address"`
	PlatformAdmin bool      `json:"platform_admin"`
	CreatedAt     time.Time `json:"created_at"`
}

// Service owns broadcast messages. Restricted services are in trial mode and
// never transmit to the broadcast network.
type Service struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Restricted bool      `json:"restricted"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

type APIKey struct {
	ID        uuid.UUID  `json:"id"`
	ServiceID uuid.UUID  `json:"service_id"`
	Name      string     `json:"name"`
	Secret    string     `json:"-"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Actor is whoever asked for a change: an interactive user or an API key.
// The zero value is the system itself (scheduled jobs).
type Actor struct {
	UserID        *uuid.UUID
	APIKeyID      *uuid.UUID
	APIServiceID  *uuid.UUID // service the API key belongs to
	PlatformAdmin bool
}

func UserActor(userID uuid.UUID, platformAdmin bool) Actor {
	return Actor{UserID: &userID, PlatformAdmin: platformAdmin}
}

func APIKeyActor(keyID, serviceID uuid.UUID) Actor {
	return Actor{APIKeyID: &keyID, APIServiceID: &serviceID}
}

func (a Actor) IsAPIKey() bool { return a.APIKeyID != nil }
func (a Actor) IsSystem() bool { return a.UserID == nil && a.APIKeyID == nil }

// Type is the actor's rbac role. It is also recorded in the audit log.
func (a Actor) Type() string {
	switch {
	case a.IsAPIKey():
		return rbac.RoleAPIKey
	case a.IsSystem():
		return rbac.RoleSystem
	case a.PlatformAdmin:
		return rbac.RoleAdmin
	default:
		return rbac.RoleUser
	}
}
