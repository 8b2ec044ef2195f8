package events

import "context"

const StreamBroadcast = "events:broadcast"

// Event types
const (
	EventBroadcastStatusChanged = "broadcast_status_changed"
	EventBroadcastEventCreated  = "broadcast_event_created"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
