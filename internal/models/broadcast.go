package models

import (
	"time"

	"github.com/google/uuid"
)

type BroadcastStatus string

// Broadcast statuses
const (
	BroadcastStatusDraft           BroadcastStatus = "draft"
	BroadcastStatusPendingApproval BroadcastStatus = "pending-approval"
	BroadcastStatusRejected        BroadcastStatus = "rejected"
	BroadcastStatusBroadcasting    BroadcastStatus = "broadcasting"
	BroadcastStatusCompleted       BroadcastStatus = "completed"
	BroadcastStatusCancelled       BroadcastStatus = "cancelled"
)

// ValidBroadcastTransitions is the allow-list of status changes: from -> []to.
// Anything not listed is illegal.
var ValidBroadcastTransitions = map[BroadcastStatus][]BroadcastStatus{
	BroadcastStatusDraft:           {BroadcastStatusPendingApproval},
	BroadcastStatusPendingApproval: {BroadcastStatusBroadcasting, BroadcastStatusRejected},
	BroadcastStatusRejected:        {BroadcastStatusPendingApproval},
	BroadcastStatusBroadcasting:    {BroadcastStatusCancelled, BroadcastStatusCompleted},
	BroadcastStatusCompleted:       {},
	BroadcastStatusCancelled:       {},
}

func IsValidBroadcastTransition(from, to BroadcastStatus) bool {
	allowed, ok := ValidBroadcastTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func ParseBroadcastStatus(s string) (BroadcastStatus, bool) {
	st := BroadcastStatus(s)
	_, ok := ValidBroadcastTransitions[st]
	return st, ok
}

// IsTransmitted reports whether entering this status produces a broadcast event.
func (s BroadcastStatus) IsTransmitted() bool {
	return s == BroadcastStatusBroadcasting || s == BroadcastStatusCancelled
}

type BroadcastMessage struct {
	ID              uuid.UUID       `json:"id"`
	ServiceID       uuid.UUID       `json:"service_id"`
	TemplateID      *uuid.UUID      `json:"template_id,omitempty"`
	TemplateVersion *int            `json:"template_version,omitempty"`
	Content         string          `json:"content"`
	Reference       *string         `json:"reference,omitempty"`
	Areas           Areas           `json:"areas"`
	Status          BroadcastStatus `json:"status"`
	StartsAt        *time.Time      `json:"starts_at,omitempty"`
	FinishesAt      *time.Time      `json:"finishes_at,omitempty"`
	Stubbed         bool            `json:"stubbed"`

	CreatedBy         *uuid.UUID `json:"created_by,omitempty"`
	CreatedByAPIKeyID *uuid.UUID `json:"created_by_api_key_id,omitempty"`
	ApprovedAt        *time.Time `json:"approved_at,omitempty"`
	ApprovedBy        *uuid.UUID `json:"approved_by,omitempty"`

	CancelledAt         *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy         *uuid.UUID `json:"cancelled_by,omitempty"`
	CancelledByAPIKeyID *uuid.UUID `json:"cancelled_by_api_key_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type BroadcastMessageType string

// CAP message types
const (
	BroadcastMessageTypeAlert  BroadcastMessageType = "alert"
	BroadcastMessageTypeUpdate BroadcastMessageType = "update"
	BroadcastMessageTypeCancel BroadcastMessageType = "cancel"
)

type TransmittedContent struct {
	Body string `json:"body"`
}

// BroadcastEvent is an immutable snapshot of a message at the moment it was
// handed to the broadcast network.
type BroadcastEvent struct {
	ID                    uuid.UUID            `json:"id"`
	ServiceID             uuid.UUID            `json:"service_id"`
	BroadcastMessageID    uuid.UUID            `json:"broadcast_message_id"`
	MessageType           BroadcastMessageType `json:"message_type"`
	TransmittedContent    TransmittedContent   `json:"transmitted_content"`
	TransmittedAreas      Areas                `json:"transmitted_areas"`
	TransmittedSender     string               `json:"transmitted_sender"`
	TransmittedStartsAt   *time.Time           `json:"transmitted_starts_at,omitempty"`
	TransmittedFinishesAt *time.Time           `json:"transmitted_finishes_at,omitempty"`
	SentAt                time.Time            `json:"sent_at"`
}

// BroadcastProviderMessage marks an event as handed to the CBC proxy.
type BroadcastProviderMessage struct {
	BroadcastEventID uuid.UUID `json:"broadcast_event_id"`
	Provider         string    `json:"provider"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
}
