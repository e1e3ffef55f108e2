package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/medcare-service/internal/domain"
)

const identityColumns = `id, email, password_hash, verify, tier, name, bio, location, phone, username,
        avatar, date_of_birth, email_verify_token, forgot_password_token, created_at, updated_at`

type identityRepository struct {
	pool *pgxpool.Pool
}

// NewIdentityRepository returns a Postgres-backed implementation.
func NewIdentityRepository(pool *pgxpool.Pool) IdentityRepository {
	return &identityRepository{pool: pool}
}

func (r *identityRepository) CreateIdentity(ctx context.Context, identity *domain.Identity) error {
	const query = `
        INSERT INTO identities (id, email, password_hash, verify, tier, name, bio, location, phone,
            username, avatar, date_of_birth, email_verify_token, forgot_password_token, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`

	identity.Email = domain.NormalizeEmail(identity.Email)
	_, err := r.pool.Exec(ctx, query,
		identity.ID,
		identity.Email,
		identity.PasswordHash,
		identity.Verify,
		identity.Tier,
		identity.Name,
		identity.Bio,
		identity.Location,
		identity.Phone,
		identity.Username,
		identity.Avatar,
		identity.DateOfBirth,
		identity.EmailVerifyToken,
		identity.ForgotPasswordToken,
		identity.CreatedAt,
		identity.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

func (r *identityRepository) FindIdentityByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE email=$1`
	return scanIdentity(r.pool.QueryRow(ctx, query, domain.NormalizeEmail(email)))
}

func (r *identityRepository) FindIdentityByID(ctx context.Context, id string) (*domain.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE id=$1`
	return scanIdentity(r.pool.QueryRow(ctx, query, id))
}

func (r *identityRepository) UpdateIdentity(ctx context.Context, id string, update domain.IdentityUpdate) (*domain.Identity, error) {
	query, args, err := buildIdentityUpdate(id, update)
	if err != nil {
		return nil, err
	}

	updated, err := scanIdentity(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, domain.ErrNotFound) && update.Guard != nil {
		if _, lookupErr := r.FindIdentityByID(ctx, id); lookupErr == nil {
			return nil, domain.ErrAlreadyConsumedOrStale
		}
	}
	return updated, err
}

func buildIdentityUpdate(id string, update domain.IdentityUpdate) (string, []any, error) {
	var (
		sets []string
		args []any
	)
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}

	if update.PasswordHash != nil {
		set("password_hash", *update.PasswordHash)
	}
	if update.Verify != nil {
		set("verify", *update.Verify)
	}
	if update.Tier != nil {
		set("tier", *update.Tier)
	}
	if update.Name != nil {
		set("name", *update.Name)
	}
	if update.Bio != nil {
		set("bio", *update.Bio)
	}
	if update.Location != nil {
		set("location", *update.Location)
	}
	if update.Phone != nil {
		set("phone", *update.Phone)
	}
	if update.Username != nil {
		set("username", *update.Username)
	}
	if update.Avatar != nil {
		set("avatar", *update.Avatar)
	}
	if update.DateOfBirth != nil {
		set("date_of_birth", *update.DateOfBirth)
	}
	switch {
	case update.ClearEmailVerifyToken:
		sets = append(sets, "email_verify_token=NULL")
	case update.EmailVerifyToken != nil:
		set("email_verify_token", *update.EmailVerifyToken)
	}
	switch {
	case update.ClearForgotPasswordToken:
		sets = append(sets, "forgot_password_token=NULL")
	case update.ForgotPasswordToken != nil:
		set("forgot_password_token", *update.ForgotPasswordToken)
	}
	sets = append(sets, "updated_at=NOW()")

	args = append(args, id)
	where := fmt.Sprintf("id=$%d", len(args))
	if g := update.Guard; g != nil {
		column, err := slotColumn(g.Slot)
		if err != nil {
			return "", nil, err
		}
		args = append(args, g.Expected)
		where += fmt.Sprintf(" AND %s=$%d", column, len(args))
	}

	query := `UPDATE identities SET ` + strings.Join(sets, ", ") +
		` WHERE ` + where + ` RETURNING ` + identityColumns
	return query, args, nil
}

func slotColumn(slot domain.TokenSlot) (string, error) {
	switch slot {
	case domain.SlotEmailVerify, domain.SlotForgotPassword:
		return string(slot), nil
	}
	return "", fmt.Errorf("unknown token slot %q", slot)
}

func scanIdentity(row pgx.Row) (*domain.Identity, error) {
	var identity domain.Identity
	if err := row.Scan(
		&identity.ID,
		&identity.Email,
		&identity.PasswordHash,
		&identity.Verify,
		&identity.Tier,
		&identity.Name,
		&identity.Bio,
		&identity.Location,
		&identity.Phone,
		&identity.Username,
		&identity.Avatar,
		&identity.DateOfBirth,
		&identity.EmailVerifyToken,
		&identity.ForgotPasswordToken,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &identity, nil
}
