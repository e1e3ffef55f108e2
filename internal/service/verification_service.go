package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/medcare-service/internal/auth"
	"github.com/spec-kit/medcare-service/internal/domain"
	"github.com/spec-kit/medcare-service/internal/events"
	"github.com/spec-kit/medcare-service/internal/observability"
	"github.com/spec-kit/medcare-service/internal/repository"
)

// VerificationService runs the single-use token flows: email confirmation and password reset.
// A token is only honoured while it is the value stored in the identity's slot, so issuing a
// new one retires the previous one and consuming it clears the slot.
type VerificationService struct {
	store      repository.CredentialStore
	tokens     *auth.TokenCodec
	notifier   Notifier
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	bcryptCost int
}

// VerificationDependencies encapsulates collaborators for the verification service.
type VerificationDependencies struct {
	Store      repository.CredentialStore
	Tokens     *auth.TokenCodec
	Notifier   Notifier
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	BcryptCost int
}

// NewVerificationService builds the service.
func NewVerificationService(deps VerificationDependencies) *VerificationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VerificationService{
		store:      deps.Store,
		tokens:     deps.Tokens,
		notifier:   deps.Notifier,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
		bcryptCost: deps.BcryptCost,
	}
}

// IssueEmailVerification stores a fresh email-verify token in the identity's slot and hands it
// to the notifier. Any earlier token stops working.
func (s *VerificationService) IssueEmailVerification(ctx context.Context, identityID string) (string, error) {
	identity, err := s.store.FindIdentityByID(ctx, identityID)
	if err != nil {
		return "", err
	}
	if identity.Banned() {
		return "", domain.ErrForbidden
	}
	return s.issue(ctx, identity, domain.TokenKindEmailVerify, domain.SlotEmailVerify)
}

// ResendEmailVerification re-issues the email-verify token for an identity that still needs it.
func (s *VerificationService) ResendEmailVerification(ctx context.Context, identityID string) (string, error) {
	identity, err := s.store.FindIdentityByID(ctx, identityID)
	if err != nil {
		return "", err
	}
	switch identity.Verify {
	case domain.VerifyStatusBanned:
		return "", domain.ErrForbidden
	case domain.VerifyStatusVerified:
		return "", fmt.Errorf("%w: email already verified", domain.ErrInvalidTransition)
	}
	return s.issue(ctx, identity, domain.TokenKindEmailVerify, domain.SlotEmailVerify)
}

// ConfirmEmailVerification marks the identity verified and clears the slot.
func (s *VerificationService) ConfirmEmailVerification(ctx context.Context, token string) error {
	payload, err := s.verify(token, domain.TokenKindEmailVerify)
	if err != nil {
		s.metrics.RecordAuth("verify_email", "rejected")
		return err
	}

	identity, err := s.lookup(ctx, payload.SubjectID)
	if err != nil {
		return err
	}
	if identity.Banned() {
		return domain.ErrForbidden
	}
	if !domain.CanTransition(identity.Verify, domain.VerifyStatusVerified) {
		s.metrics.RecordAuth("verify_email", "stale")
		return domain.ErrAlreadyConsumedOrStale
	}

	verified := domain.VerifyStatusVerified
	update := domain.IdentityUpdate{
		Verify: &verified,
		Guard:  &domain.SlotGuard{Slot: domain.SlotEmailVerify, Expected: token},
	}
	update.ClearSlot(domain.SlotEmailVerify)

	if _, err := s.store.UpdateIdentity(ctx, identity.ID, update); err != nil {
		if errors.Is(err, domain.ErrAlreadyConsumedOrStale) {
			s.metrics.RecordAuth("verify_email", "stale")
		}
		return err
	}

	s.metrics.RecordAuth("verify_email", "success")
	s.logger.Info("email verified", zap.String("identity_id", identity.ID))
	publish(ctx, s.dispatcher, events.NewEvent(events.EventEmailVerified, identity.ID, events.AccountPayload{Email: identity.Email}), s.logPublishError)
	return nil
}

// IssueForgotPassword stores a forgot-password token for the identity owning email.
func (s *VerificationService) IssueForgotPassword(ctx context.Context, email string) (string, error) {
	identity, err := s.store.FindIdentityByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		return "", err
	}
	if identity.Banned() {
		return "", domain.ErrForbidden
	}
	return s.issue(ctx, identity, domain.TokenKindForgotPassword, domain.SlotForgotPassword)
}

// ConfirmForgotPassword checks that token is still the live reset token without consuming it.
func (s *VerificationService) ConfirmForgotPassword(ctx context.Context, token string) error {
	payload, err := s.verify(token, domain.TokenKindForgotPassword)
	if err != nil {
		return err
	}
	identity, err := s.lookup(ctx, payload.SubjectID)
	if err != nil {
		return err
	}
	if identity.Banned() {
		return domain.ErrForbidden
	}
	current := identity.Slot(domain.SlotForgotPassword)
	if current == nil || *current != token {
		s.metrics.RecordAuth("confirm_forgot_password", "stale")
		return domain.ErrAlreadyConsumedOrStale
	}
	return nil
}

// ResetPassword consumes the forgot-password token, replaces the password hash and revokes
// every refresh session of the identity.
func (s *VerificationService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	payload, err := s.verify(token, domain.TokenKindForgotPassword)
	if err != nil {
		s.metrics.RecordAuth("reset_password", "rejected")
		return err
	}
	identity, err := s.lookup(ctx, payload.SubjectID)
	if err != nil {
		return err
	}
	if identity.Banned() {
		return domain.ErrForbidden
	}

	hash, err := auth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return err
	}
	update := domain.IdentityUpdate{
		PasswordHash: &hash,
		Guard:        &domain.SlotGuard{Slot: domain.SlotForgotPassword, Expected: token},
	}
	update.ClearSlot(domain.SlotForgotPassword)

	if _, err := s.store.UpdateIdentity(ctx, identity.ID, update); err != nil {
		if errors.Is(err, domain.ErrAlreadyConsumedOrStale) {
			s.metrics.RecordAuth("reset_password", "stale")
		}
		return err
	}

	revoked, err := s.store.DeleteAllRefreshRecordsForIdentity(ctx, identity.ID)
	if err != nil {
		return fmt.Errorf("revoke sessions after reset: %w", err)
	}

	s.metrics.RecordAuth("reset_password", "success")
	s.logger.Info("password reset",
		zap.String("identity_id", identity.ID),
		zap.Int64("revoked_sessions", revoked))
	publish(ctx, s.dispatcher, events.NewEvent(events.EventPasswordReset, identity.ID, events.AccountPayload{
		Email:           identity.Email,
		RevokedSessions: revoked,
	}), s.logPublishError)
	return nil
}

func (s *VerificationService) issue(ctx context.Context, identity *domain.Identity, kind domain.TokenKind, slot domain.TokenSlot) (string, error) {
	token, payload, err := s.tokens.Issue(identity.ID, kind, identity.Verify)
	if err != nil {
		return "", err
	}

	var update domain.IdentityUpdate
	update.SetSlot(slot, token)
	if _, err := s.store.UpdateIdentity(ctx, identity.ID, update); err != nil {
		return "", err
	}

	s.metrics.RecordAuth("issue_"+string(kind), "success")
	if s.notifier != nil {
		err := s.notifier.Deliver(ctx, Delivery{
			Kind:       kind,
			IdentityID: identity.ID,
			Email:      identity.Email,
			Token:      token,
			ExpiresAt:  payload.ExpiresAt,
		})
		if err != nil {
			s.logger.Warn("token delivery failed",
				zap.String("identity_id", identity.ID),
				zap.String("kind", string(kind)),
				zap.Error(err))
		}
	}
	return token, nil
}

// verify collapses every codec failure into ErrUnauthorized while keeping the cause in the chain.
func (s *VerificationService) verify(token string, kind domain.TokenKind) (*domain.TokenPayload, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: token required", domain.ErrValidation)
	}
	payload, err := s.tokens.Verify(token, kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUnauthorized, err)
	}
	return payload, nil
}

func (s *VerificationService) lookup(ctx context.Context, id string) (*domain.Identity, error) {
	identity, err := s.store.FindIdentityByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrUnauthorized
	}
	return identity, err
}

func (s *VerificationService) logPublishError(err error) {
	s.logger.Warn("event publish failed", zap.Error(err))
}
