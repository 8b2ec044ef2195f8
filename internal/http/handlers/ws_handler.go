package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/alphagov/notifications-api-sub002/internal/auth"
	"github.com/alphagov/notifications-api-sub002/internal/config"
	"github.com/alphagov/notifications-api-sub002/internal/events"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type MembershipChecker interface {
	IsMember(ctx context.Context, serviceID, userID uuid.UUID) (bool, error)
}

// WSHub forwards broadcast status changes to the users watching a service.
type WSHub struct {
	cfg         *config.Config
	subscriber  events.Subscriber
	members     MembershipChecker
	log         *zap.Logger
	mu          sync.RWMutex
	connections map[uuid.UUID][]*websocket.Conn
}

func NewWSHub(cfg *config.Config, subscriber events.Subscriber, members MembershipChecker, log *zap.Logger) *WSHub {
	return &WSHub{
		cfg:         cfg,
		subscriber:  subscriber,
		members:     members,
		log:         log,
		connections: make(map[uuid.UUID][]*websocket.Conn),
	}
}

func (h *WSHub) Start(ctx context.Context) error {
	return h.subscriber.Subscribe(ctx, events.StreamBroadcast, h.dispatch)
}

func (h *WSHub) dispatch(event events.Event) {
	raw, _ := event.Payload["service_id"].(string)
	serviceID, err := uuid.Parse(raw)
	if err != nil {
		h.log.Debug("broadcast event without service id", zap.String("type", event.Type))
		return
	}
	h.SendToService(serviceID, event)
}

func (h *WSHub) SendToService(serviceID uuid.UUID, event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conn := range h.connections[serviceID] {
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
}

// WSUpgradeMiddleware checks for websocket upgrade
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	tokenStr := conn.Query("token")
	if tokenStr == "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"missing token"}`))
		conn.Close()
		return
	}

	claims, err := auth.ParseJWT(h.cfg.JWTSecret, tokenStr)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		conn.Close()
		return
	}

	serviceID, err := uuid.Parse(conn.Query("service_id"))
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid service_id"}`))
		conn.Close()
		return
	}
	if !claims.PlatformAdmin {
		ok, err := h.members.IsMember(context.Background(), serviceID, claims.UserID)
		if err != nil || !ok {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"forbidden"}`))
			conn.Close()
			return
		}
	}

	h.mu.Lock()
	h.connections[serviceID] = append(h.connections[serviceID], conn)
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		conns := h.connections[serviceID]
		for i, c := range conns {
			if c == conn {
				h.connections[serviceID] = append(conns[:i], conns[i+1:]...)
				break
			}
		}
		if len(h.connections[serviceID]) == 0 {
			delete(h.connections, serviceID)
		}
		h.mu.Unlock()
		conn.Close()
	}()

	// Read loop (keep alive / pings)
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}
