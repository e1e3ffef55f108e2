package service

import (
	"context"
	"fmt"
	"time"

	"github.com/spec-kit/medcare-service/internal/domain"
	"github.com/spec-kit/medcare-service/internal/events"
)

// Delivery is a single-use token on its way to the account holder.
type Delivery struct {
	Kind       domain.TokenKind
	IdentityID string
	Email      string
	Token      string
	ExpiresAt  time.Time
}

// Notifier hands tokens to an out-of-band channel such as email.
type Notifier interface {
	Deliver(ctx context.Context, d Delivery) error
}

// EventNotifier publishes deliveries on the event dispatcher.
type EventNotifier struct {
	dispatcher events.Dispatcher
}

// NewEventNotifier creates a notifier backed by dispatcher.
func NewEventNotifier(dispatcher events.Dispatcher) *EventNotifier {
	return &EventNotifier{dispatcher: dispatcher}
}

func (n *EventNotifier) Deliver(ctx context.Context, d Delivery) error {
	var eventType events.EventType
	switch d.Kind {
	case domain.TokenKindEmailVerify:
		eventType = events.EventEmailVerificationIssued
	case domain.TokenKindForgotPassword:
		eventType = events.EventForgotPasswordIssued
	default:
		return fmt.Errorf("notifier: no channel for %s tokens", d.Kind)
	}
	return n.dispatcher.Publish(ctx, events.NewEvent(eventType, d.IdentityID, events.TokenDeliveryPayload{
		Email:     d.Email,
		Token:     d.Token,
		ExpiresAt: d.ExpiresAt,
	}))
}

// publish emits an event and logs instead of failing the caller.
func publish(ctx context.Context, dispatcher events.Dispatcher, event events.Event, onErr func(error)) {
	if dispatcher == nil {
		return
	}
	if err := dispatcher.Publish(ctx, event); err != nil && onErr != nil {
		onErr(err)
	}
}
