package repository

import (
	"context"
	"time"

	"github.com/spec-kit/medcare-service/internal/domain"
)

// IdentityRepository persists identity records.
type IdentityRepository interface {
	CreateIdentity(ctx context.Context, identity *domain.Identity) error
	FindIdentityByEmail(ctx context.Context, email string) (*domain.Identity, error)
	FindIdentityByID(ctx context.Context, id string) (*domain.Identity, error)
	// UpdateIdentity applies a partial update atomically and returns the stored result.
	// A set Guard makes the write conditional; a mismatch yields domain.ErrAlreadyConsumedOrStale.
	UpdateIdentity(ctx context.Context, id string, update domain.IdentityUpdate) (*domain.Identity, error)
}

// RefreshSessionRepository persists refresh session records keyed by token fingerprint.
type RefreshSessionRepository interface {
	CreateRefreshRecord(ctx context.Context, session domain.RefreshSession) error
	FindRefreshRecord(ctx context.Context, fingerprint string) (*domain.RefreshSession, error)
	// DeleteRefreshRecord reports whether this call removed the record. Only one of several
	// concurrent callers can observe true for the same fingerprint.
	DeleteRefreshRecord(ctx context.Context, fingerprint string) (bool, error)
	DeleteAllRefreshRecordsForIdentity(ctx context.Context, identityID string) (int64, error)
}

// ExpiredSessionPurger is implemented by session repositories without native expiry.
type ExpiredSessionPurger interface {
	PurgeExpiredRefreshRecords(ctx context.Context, now time.Time) (int64, error)
}

// CredentialStore owns identities and refresh sessions.
type CredentialStore interface {
	IdentityRepository
	RefreshSessionRepository
}

type composedStore struct {
	IdentityRepository
	RefreshSessionRepository
}

// PurgeExpiredRefreshRecords delegates when the session repository needs sweeping.
func (c composedStore) PurgeExpiredRefreshRecords(ctx context.Context, now time.Time) (int64, error) {
	if p, ok := c.RefreshSessionRepository.(ExpiredSessionPurger); ok {
		return p.PurgeExpiredRefreshRecords(ctx, now)
	}
	return 0, nil
}

// Compose combines an identity repository with a separately backed session repository.
func Compose(identities IdentityRepository, sessions RefreshSessionRepository) CredentialStore {
	return composedStore{IdentityRepository: identities, RefreshSessionRepository: sessions}
}
