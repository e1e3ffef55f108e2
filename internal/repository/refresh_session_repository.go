package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/medcare-service/internal/domain"
)

// PostgresSessionRepository keeps refresh sessions in the refresh_sessions table.
type PostgresSessionRepository struct {
	pool *pgxpool.Pool
}

// NewRefreshSessionRepository returns a Postgres-backed session repository.
func NewRefreshSessionRepository(pool *pgxpool.Pool) *PostgresSessionRepository {
	return &PostgresSessionRepository{pool: pool}
}

func (r *PostgresSessionRepository) CreateRefreshRecord(ctx context.Context, session domain.RefreshSession) error {
	const query = `
        INSERT INTO refresh_sessions (fingerprint, identity_id, issued_at, expires_at)
        VALUES ($1,$2,$3,$4)`

	_, err := r.pool.Exec(ctx, query,
		session.Fingerprint,
		session.IdentityID,
		session.IssuedAt,
		session.ExpiresAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert refresh session: %w", err)
	}
	return nil
}

func (r *PostgresSessionRepository) FindRefreshRecord(ctx context.Context, fingerprint string) (*domain.RefreshSession, error) {
	const query = `
        SELECT fingerprint, identity_id, issued_at, expires_at
        FROM refresh_sessions WHERE fingerprint=$1`

	var session domain.RefreshSession
	if err := r.pool.QueryRow(ctx, query, fingerprint).Scan(
		&session.Fingerprint,
		&session.IdentityID,
		&session.IssuedAt,
		&session.ExpiresAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (r *PostgresSessionRepository) DeleteRefreshRecord(ctx context.Context, fingerprint string) (bool, error) {
	const query = `DELETE FROM refresh_sessions WHERE fingerprint=$1`

	cmd, err := r.pool.Exec(ctx, query, fingerprint)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *PostgresSessionRepository) DeleteAllRefreshRecordsForIdentity(ctx context.Context, identityID string) (int64, error) {
	const query = `DELETE FROM refresh_sessions WHERE identity_id=$1`

	cmd, err := r.pool.Exec(ctx, query, identityID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// PurgeExpiredRefreshRecords removes sessions whose token can no longer verify anyway.
func (r *PostgresSessionRepository) PurgeExpiredRefreshRecords(ctx context.Context, now time.Time) (int64, error) {
	const query = `DELETE FROM refresh_sessions WHERE expires_at < $1`

	cmd, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

type postgresStore struct {
	IdentityRepository
	*PostgresSessionRepository
}

// NewPostgresStore returns a CredentialStore keeping everything in Postgres.
func NewPostgresStore(pool *pgxpool.Pool) CredentialStore {
	return postgresStore{
		IdentityRepository:        NewIdentityRepository(pool),
		PostgresSessionRepository: NewRefreshSessionRepository(pool),
	}
}
