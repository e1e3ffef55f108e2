package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/medcare-service/internal/domain"
	apperrors "github.com/spec-kit/medcare-service/pkg/util"
)

// RequireTier ensures the authenticated caller holds one of the allowed tiers.
// It must run after Guard.Handle or Guard.RequireVerified.
func RequireTier(allowed ...domain.AccountTier) fiber.Handler {
	allowedSet := make(map[domain.AccountTier]struct{}, len(allowed))
	for _, tier := range allowed {
		allowedSet[tier] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return domain.ErrUnauthorized
		}
		if len(allowedSet) == 0 {
			return c.Next()
		}
		if _, exists := allowedSet[principal.Tier]; !exists {
			return apperrors.NewForbidden("insufficient account tier")
		}
		return c.Next()
	}
}
