package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/medcare-service/internal/domain"
	"github.com/spec-kit/medcare-service/internal/repository"
)

const principalKey = "auth_principal"

type principalCtxKey struct{}

// Principal represents the authenticated caller. It is a snapshot taken when the request was
// authorized and is never written back.
type Principal struct {
	SubjectID string
	Verify    domain.VerifyStatus
	Tier      domain.AccountTier
}

// Verified reports whether the caller has confirmed their email.
func (p *Principal) Verified() bool {
	return p != nil && p.Verify == domain.VerifyStatusVerified
}

// Guard validates bearer access tokens and re-reads the identity they name.
type Guard struct {
	tokens     *TokenCodec
	identities repository.IdentityRepository
	logger     *zap.Logger
}

// NewGuard constructs the guard.
func NewGuard(tokens *TokenCodec, identities repository.IdentityRepository, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{tokens: tokens, identities: identities, logger: logger}
}

// Authorize checks the Authorization header value and returns the caller.
// Token failures of every kind surface as ErrUnauthorized.
func (g *Guard) Authorize(ctx context.Context, authHeader string, requireVerified bool) (*Principal, error) {
	if strings.TrimSpace(authHeader) == "" {
		return nil, domain.ErrMissingToken
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return nil, domain.ErrUnauthorized
	}

	payload, err := g.tokens.Verify(strings.TrimSpace(parts[1]), domain.TokenKindAccess)
	if err != nil {
		g.logger.Debug("access token rejected", zap.Error(err))
		return nil, domain.ErrUnauthorized
	}

	identity, err := g.identities.FindIdentityByID(ctx, payload.SubjectID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnauthorized
		}
		return nil, err
	}

	if identity.Banned() {
		return nil, domain.ErrForbidden
	}
	principal := &Principal{SubjectID: identity.ID, Verify: identity.Verify, Tier: identity.Tier}
	if requireVerified && !principal.Verified() {
		return nil, domain.ErrForbidden
	}
	return principal, nil
}

// Handle enforces authentication for protected routes. Unverified callers are let through.
func (g *Guard) Handle(c *fiber.Ctx) error {
	return g.authorize(c, false)
}

// RequireVerified enforces authentication and a verified email.
func (g *Guard) RequireVerified(c *fiber.Ctx) error {
	return g.authorize(c, true)
}

func (g *Guard) authorize(c *fiber.Ctx, requireVerified bool) error {
	principal, err := g.Authorize(c.UserContext(), c.Get(fiber.HeaderAuthorization), requireVerified)
	if err != nil {
		return err
	}
	c.Locals(principalKey, principal)
	c.SetUserContext(WithPrincipal(c.UserContext(), principal))
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}

// WithPrincipal attaches the principal to ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, p)
}

// PrincipalFrom returns the principal attached by WithPrincipal.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalCtxKey{}).(*Principal)
	return p, ok && p != nil
}
