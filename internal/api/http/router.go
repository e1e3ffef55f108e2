package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/medcare-service/internal/api/http/handlers"
	"github.com/spec-kit/medcare-service/internal/auth"
	"github.com/spec-kit/medcare-service/internal/domain"
	"github.com/spec-kit/medcare-service/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health       *handlers.HealthHandler
	Users        *handlers.UsersHandler
	Verification *handlers.VerificationHandler
	Guard        *auth.Guard
	Metrics      *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	users := app.Group("/users")
	users.Post("/register", cfg.Users.Register)
	users.Post("/login", cfg.Users.Login)
	users.Post("/logout", cfg.Users.Logout)
	users.Post("/refresh-token", cfg.Users.RefreshToken)

	users.Post("/forgot-password", cfg.Verification.ForgotPassword)
	users.Post("/verify-forgot-password", cfg.Verification.VerifyForgotPassword)
	users.Post("/reset-password", cfg.Verification.ResetPassword)
	users.Post("/verify-email", cfg.Verification.VerifyEmail)
	users.Post("/resend-verify-email", cfg.Guard.Handle, cfg.Verification.ResendVerifyEmail)

	users.Get("/me", cfg.Guard.Handle, cfg.Users.Me)
	users.Patch("/me", cfg.Guard.Handle, cfg.Users.UpdateMe)
	users.Put("/change-password", cfg.Guard.RequireVerified, cfg.Users.ChangePassword)
	users.Post("/:id/ban", cfg.Guard.Handle, auth.RequireTier(domain.AccountTierAdmin), cfg.Users.Ban)
}
