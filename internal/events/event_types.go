package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventIdentityRegistered      EventType = "identity_registered"
	EventEmailVerificationIssued EventType = "email_verification_issued"
	EventEmailVerified           EventType = "email_verified"
	EventForgotPasswordIssued    EventType = "forgot_password_issued"
	EventPasswordReset           EventType = "password_reset"
	EventPasswordChanged         EventType = "password_changed"
	EventIdentityBanned          EventType = "identity_banned"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID         string      `json:"id"`
	Type       EventType   `json:"type"`
	IdentityID string      `json:"identity_id"`
	Timestamp  time.Time   `json:"timestamp"`
	Payload    interface{} `json:"payload"`
}

// NewEvent stamps an event with an id and the current time.
func NewEvent(eventType EventType, identityID string, payload interface{}) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		IdentityID: identityID,
		Timestamp:  time.Now().UTC(),
		Payload:    payload,
	}
}

// TokenDeliveryPayload carries a single-use token to the out-of-band notifier.
// Token must never be logged.
type TokenDeliveryPayload struct {
	Email     string    `json:"email"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AccountPayload describes account level changes.
type AccountPayload struct {
	Email           string `json:"email"`
	RevokedSessions int64  `json:"revoked_sessions,omitempty"`
	ActorID         string `json:"actor_id,omitempty"`
}
