package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/medcare-service/internal/config"
	"github.com/spec-kit/medcare-service/internal/events"
)

// NotificationService handles emitting notifications for domain events.
// Actual transports are stubs; token values are never logged.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventEmailVerificationIssued, n.handleTokenIssued)
	n.dispatcher.Subscribe(events.EventForgotPasswordIssued, n.handleTokenIssued)
	n.dispatcher.Subscribe(events.EventIdentityRegistered, n.handleAccountEvent)
	n.dispatcher.Subscribe(events.EventEmailVerified, n.handleAccountEvent)
	n.dispatcher.Subscribe(events.EventPasswordReset, n.handleAccountEvent)
	n.dispatcher.Subscribe(events.EventPasswordChanged, n.handleAccountEvent)
	n.dispatcher.Subscribe(events.EventIdentityBanned, n.handleAccountEvent)
}

func (n *NotificationService) handleTokenIssued(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TokenDeliveryPayload)
	if !ok {
		n.logger.Warn("unexpected payload", zap.String("event_type", string(event.Type)))
		return nil
	}
	n.logger.Info(string(event.Type),
		zap.String("identity_id", event.IdentityID),
		zap.Time("expires_at", payload.ExpiresAt))
	n.sendEmailNotificationStub(ctx, event, payload.Email)
	return nil
}

func (n *NotificationService) handleAccountEvent(ctx context.Context, event events.Event) error {
	n.logger.Info(string(event.Type), zap.String("identity_id", event.IdentityID), zap.Any("payload", event.Payload))
	if payload, ok := event.Payload.(events.AccountPayload); ok {
		n.sendEmailNotificationStub(ctx, event, payload.Email)
	}
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) sendEmailNotificationStub(_ context.Context, event events.Event, to string) {
	if strings.TrimSpace(n.cfg.EmailFrom) == "" || to == "" {
		return
	}
	n.logger.Debug("sendEmailNotificationStub",
		zap.String("from", n.cfg.EmailFrom),
		zap.String("to", to),
		zap.String("identity_id", event.IdentityID),
		zap.String("event_type", string(event.Type)))
}

func (n *NotificationService) sendWebhookNotificationStub(_ context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return
	}
	n.logger.Debug("sendWebhookNotificationStub",
		zap.String("url", n.cfg.WebhookURL),
		zap.String("identity_id", event.IdentityID),
		zap.String("event_type", string(event.Type)))
}
