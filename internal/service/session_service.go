package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"
	"go.uber.org/zap"

	"github.com/spec-kit/medcare-service/internal/auth"
	"github.com/spec-kit/medcare-service/internal/domain"
	"github.com/spec-kit/medcare-service/internal/events"
	"github.com/spec-kit/medcare-service/internal/observability"
	"github.com/spec-kit/medcare-service/internal/repository"
)

// bcrypt ignores input past 72 bytes.
const maxPasswordBytes = 72

const defaultPhoneRegion = "US"

// Session is the result of a successful login or refresh.
type Session struct {
	Identity domain.PublicIdentity
	Tokens   domain.TokenPair
}

// RegisterInput carries sign-up data.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// ProfileInput is a partial profile update; nil fields are left unchanged.
type ProfileInput struct {
	Name        *string
	Bio         *string
	Location    *string
	Phone       *string
	Username    *string
	Avatar      *string
	DateOfBirth *time.Time
}

// SessionService coordinates registration, login and the refresh-token lifecycle.
// A refresh token is honoured only while its record exists in the store.
type SessionService struct {
	store        repository.CredentialStore
	tokens       *auth.TokenCodec
	verification *VerificationService
	dispatcher   events.Dispatcher
	metrics      *observability.Metrics
	logger       *zap.Logger
	bcryptCost   int
	decoyHash    string
	phoneRegion  string
}

// SessionDependencies encapsulates collaborators for the session service.
type SessionDependencies struct {
	Store        repository.CredentialStore
	Tokens       *auth.TokenCodec
	Verification *VerificationService
	Dispatcher   events.Dispatcher
	Metrics      *observability.Metrics
	Logger       *zap.Logger
	BcryptCost   int
	PhoneRegion  string
}

// NewSessionService builds the service.
func NewSessionService(deps SessionDependencies) *SessionService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	region := strings.ToUpper(strings.TrimSpace(deps.PhoneRegion))
	if region == "" {
		region = defaultPhoneRegion
	}
	decoy, err := auth.DecoyHash(deps.BcryptCost)
	if err != nil {
		logger.Error("decoy password hash not generated", zap.Error(err))
	}
	return &SessionService{
		store:        deps.Store,
		tokens:       deps.Tokens,
		verification: deps.Verification,
		dispatcher:   deps.Dispatcher,
		metrics:      deps.Metrics,
		logger:       logger,
		bcryptCost:   deps.BcryptCost,
		decoyHash:    decoy,
		phoneRegion:  region,
	}
}

// Register creates an unverified identity and sends the first email-verification token.
func (s *SessionService) Register(ctx context.Context, in RegisterInput) (*domain.PublicIdentity, error) {
	email := domain.NormalizeEmail(in.Email)
	if email == "" {
		return nil, fmt.Errorf("%w: email required", domain.ErrValidation)
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, err
	}
	identity := domain.NewIdentity(email, hash, strings.TrimSpace(in.Name))
	if err := s.store.CreateIdentity(ctx, identity); err != nil {
		return nil, err
	}

	s.metrics.RecordAuth("register", "success")
	s.logger.Info("identity registered", zap.String("identity_id", identity.ID))
	publish(ctx, s.dispatcher, events.NewEvent(events.EventIdentityRegistered, identity.ID, events.AccountPayload{Email: identity.Email}), s.logPublishError)

	if s.verification != nil {
		if _, err := s.verification.IssueEmailVerification(ctx, identity.ID); err != nil {
			s.logger.Warn("initial email verification not issued", zap.String("identity_id", identity.ID), zap.Error(err))
		}
	}

	public := identity.Public()
	return &public, nil
}

// Login checks credentials and opens a new refresh session.
// Unknown emails and wrong passwords fail identically and take the same bcrypt time.
func (s *SessionService) Login(ctx context.Context, email, password string) (*Session, error) {
	identity, err := s.store.FindIdentityByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			auth.BurnCompare(s.decoyHash, password)
			s.metrics.RecordAuth("login", "invalid_credentials")
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	if err := auth.ComparePassword(identity.PasswordHash, password); err != nil {
		s.metrics.RecordAuth("login", "invalid_credentials")
		s.logger.Info("login failed", zap.String("identity_id", identity.ID))
		if auth.IsMismatch(err) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidCredentials, err)
	}
	if identity.Banned() {
		s.metrics.RecordAuth("login", "forbidden")
		return nil, domain.ErrForbidden
	}

	pair, err := s.openSession(ctx, identity)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordAuth("login", "success")
	return &Session{Identity: identity.Public(), Tokens: *pair}, nil
}

// Refresh rotates a refresh token: the presented token's record is consumed and a new pair
// is issued. Of two concurrent calls with the same token, at most one succeeds.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	payload, err := s.tokens.Verify(refreshToken, domain.TokenKindRefresh)
	if err != nil {
		s.metrics.RecordAuth("refresh", "unauthorized")
		return nil, fmt.Errorf("%w: %w", domain.ErrUnauthorized, err)
	}

	fp := auth.Fingerprint(refreshToken)
	record, err := s.store.FindRefreshRecord(ctx, fp)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.metrics.RecordAuth("refresh", "revoked")
			s.logger.Warn("refresh with revoked token", zap.String("identity_id", payload.SubjectID), zap.String("jti", payload.ID))
			return nil, domain.ErrRevoked
		}
		return nil, err
	}
	if record.IdentityID != payload.SubjectID {
		s.metrics.RecordAuth("refresh", "revoked")
		s.logger.Warn("refresh record bound to another identity", zap.String("identity_id", payload.SubjectID))
		return nil, domain.ErrRevoked
	}

	removed, err := s.store.DeleteRefreshRecord(ctx, fp)
	if err != nil {
		return nil, err
	}
	if !removed {
		s.metrics.RecordAuth("refresh", "revoked")
		s.logger.Warn("refresh lost rotation race", zap.String("identity_id", payload.SubjectID), zap.String("jti", payload.ID))
		return nil, domain.ErrRevoked
	}

	identity, err := s.store.FindIdentityByID(ctx, payload.SubjectID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnauthorized
		}
		return nil, err
	}
	if identity.Banned() {
		s.metrics.RecordAuth("refresh", "forbidden")
		return nil, domain.ErrForbidden
	}

	pair, err := s.openSession(ctx, identity)
	if err != nil {
		return nil, err
	}
	if err := s.checkNotRevokedSince(ctx, identity, pair.RefreshToken); err != nil {
		return nil, err
	}
	s.metrics.RecordAuth("refresh", "success")
	return &Session{Identity: identity.Public(), Tokens: *pair}, nil
}

// Logout makes sure the refresh token can no longer be used. Tokens that are already
// consumed, expired or unreadable are treated as logged out.
func (s *SessionService) Logout(ctx context.Context, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return nil
	}
	removed, err := s.store.DeleteRefreshRecord(ctx, auth.Fingerprint(refreshToken))
	if err != nil {
		return err
	}
	outcome := "noop"
	if removed {
		outcome = "success"
	}
	s.metrics.RecordAuth("logout", outcome)
	return nil
}

// ChangePassword replaces the password after checking the current one and revokes every
// refresh session of the identity.
func (s *SessionService) ChangePassword(ctx context.Context, identityID, currentPassword, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	identity, err := s.store.FindIdentityByID(ctx, identityID)
	if err != nil {
		return err
	}
	if err := auth.ComparePassword(identity.PasswordHash, currentPassword); err != nil {
		s.metrics.RecordAuth("change_password", "invalid_credentials")
		return domain.ErrInvalidCredentials
	}

	hash, err := auth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return err
	}
	if _, err := s.store.UpdateIdentity(ctx, identity.ID, domain.IdentityUpdate{PasswordHash: &hash}); err != nil {
		return err
	}
	revoked, err := s.store.DeleteAllRefreshRecordsForIdentity(ctx, identity.ID)
	if err != nil {
		return fmt.Errorf("revoke sessions after password change: %w", err)
	}

	s.metrics.RecordAuth("change_password", "success")
	s.logger.Info("password changed", zap.String("identity_id", identity.ID), zap.Int64("revoked_sessions", revoked))
	publish(ctx, s.dispatcher, events.NewEvent(events.EventPasswordChanged, identity.ID, events.AccountPayload{
		Email:           identity.Email,
		RevokedSessions: revoked,
	}), s.logPublishError)
	return nil
}

// Profile returns the public view of an identity.
func (s *SessionService) Profile(ctx context.Context, identityID string) (*domain.PublicIdentity, error) {
	identity, err := s.store.FindIdentityByID(ctx, identityID)
	if err != nil {
		return nil, err
	}
	public := identity.Public()
	return &public, nil
}

// UpdateProfile applies profile changes. Phone numbers are stored in E.164 form.
func (s *SessionService) UpdateProfile(ctx context.Context, identityID string, in ProfileInput) (*domain.PublicIdentity, error) {
	update := domain.IdentityUpdate{
		Name:        trimmed(in.Name),
		Bio:         trimmed(in.Bio),
		Location:    trimmed(in.Location),
		Username:    trimmed(in.Username),
		Avatar:      trimmed(in.Avatar),
		DateOfBirth: in.DateOfBirth,
	}
	if in.Phone != nil {
		phone, err := s.normalizePhone(*in.Phone)
		if err != nil {
			return nil, err
		}
		update.Phone = &phone
	}
	if in.DateOfBirth != nil && in.DateOfBirth.After(time.Now()) {
		return nil, fmt.Errorf("%w: date of birth is in the future", domain.ErrValidation)
	}

	identity, err := s.store.UpdateIdentity(ctx, identityID, update)
	if err != nil {
		return nil, err
	}
	public := identity.Public()
	return &public, nil
}

// Ban moves the target identity to the banned state and revokes its sessions.
// Access tokens it still holds are rejected by the guard on the next request.
func (s *SessionService) Ban(ctx context.Context, actorID, targetID string) error {
	actor, err := s.store.FindIdentityByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrUnauthorized
		}
		return err
	}
	if actor.Banned() || actor.Tier != domain.AccountTierAdmin {
		return domain.ErrForbidden
	}
	if actorID == targetID {
		return fmt.Errorf("%w: cannot ban yourself", domain.ErrValidation)
	}

	target, err := s.store.FindIdentityByID(ctx, targetID)
	if err != nil {
		return err
	}
	if !domain.CanTransition(target.Verify, domain.VerifyStatusBanned) {
		return fmt.Errorf("%w: identity already banned", domain.ErrInvalidTransition)
	}

	banned := domain.VerifyStatusBanned
	update := domain.IdentityUpdate{Verify: &banned}
	update.ClearSlot(domain.SlotEmailVerify)
	update.ClearSlot(domain.SlotForgotPassword)
	if _, err := s.store.UpdateIdentity(ctx, target.ID, update); err != nil {
		return err
	}
	revoked, err := s.store.DeleteAllRefreshRecordsForIdentity(ctx, target.ID)
	if err != nil {
		return fmt.Errorf("revoke sessions after ban: %w", err)
	}

	s.logger.Info("identity banned",
		zap.String("identity_id", target.ID),
		zap.String("actor_id", actor.ID),
		zap.Int64("revoked_sessions", revoked))
	publish(ctx, s.dispatcher, events.NewEvent(events.EventIdentityBanned, target.ID, events.AccountPayload{
		Email:           target.Email,
		RevokedSessions: revoked,
		ActorID:         actor.ID,
	}), s.logPublishError)
	return nil
}

// openSession issues an access/refresh pair and records the refresh token.
func (s *SessionService) openSession(ctx context.Context, identity *domain.Identity) (*domain.TokenPair, error) {
	access, accessPayload, err := s.tokens.Issue(identity.ID, domain.TokenKindAccess, identity.Verify)
	if err != nil {
		return nil, err
	}
	refresh, refreshPayload, err := s.tokens.Issue(identity.ID, domain.TokenKindRefresh, identity.Verify)
	if err != nil {
		return nil, err
	}

	record := domain.RefreshSession{
		Fingerprint: auth.Fingerprint(refresh),
		IdentityID:  identity.ID,
		IssuedAt:    refreshPayload.IssuedAt,
		ExpiresAt:   refreshPayload.ExpiresAt,
	}
	if err := s.store.CreateRefreshRecord(ctx, record); err != nil {
		return nil, err
	}

	return &domain.TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessPayload.ExpiresAt,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshPayload.ExpiresAt,
	}, nil
}

// checkNotRevokedSince re-reads the identity after a rotated record was written. Every revoke-all
// follows a password or ban write, so if neither changed since before the write, any revoke-all still
// to come covers the new record. Otherwise the new record is dropped.
func (s *SessionService) checkNotRevokedSince(ctx context.Context, before *domain.Identity, refreshToken string) error {
	current, err := s.store.FindIdentityByID(ctx, before.ID)
	if err == nil && current.PasswordHash == before.PasswordHash && current.Banned() == before.Banned() {
		return nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	if _, delErr := s.store.DeleteRefreshRecord(ctx, auth.Fingerprint(refreshToken)); delErr != nil {
		s.logger.Error("drop refresh record issued during revocation", zap.String("identity_id", before.ID), zap.Error(delErr))
		return delErr
	}
	s.metrics.RecordAuth("refresh", "revoked")
	s.logger.Warn("refresh raced session revocation", zap.String("identity_id", before.ID))
	return domain.ErrRevoked
}

func (s *SessionService) normalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	num, err := phonenumbers.Parse(raw, s.phoneRegion)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("%w: invalid phone number", domain.ErrValidation)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

func (s *SessionService) logPublishError(err error) {
	s.logger.Warn("event publish failed", zap.Error(err))
}

func validatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("%w: password required", domain.ErrValidation)
	}
	if len(password) > maxPasswordBytes {
		return fmt.Errorf("%w: password longer than %d bytes", domain.ErrValidation, maxPasswordBytes)
	}
	return nil
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	return &t
}
