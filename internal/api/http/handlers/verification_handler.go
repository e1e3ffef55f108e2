package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/medcare-service/internal/api/dto"
	"github.com/spec-kit/medcare-service/internal/service"
)

// VerificationHandler exposes the email confirmation and password reset flows.
// Issued tokens go to the notifier and are never echoed back.
type VerificationHandler struct {
	verification *service.VerificationService
}

// NewVerificationHandler constructs handler.
func NewVerificationHandler(verification *service.VerificationService) *VerificationHandler {
	return &VerificationHandler{verification: verification}
}

// VerifyEmail handles POST /users/verify-email.
func (h *VerificationHandler) VerifyEmail(c *fiber.Ctx) error {
	var req dto.VerifyEmailRequest
	if err := parseAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.verification.ConfirmEmailVerification(c.UserContext(), req.EmailVerifyToken); err != nil {
		return err
	}
	return message(c, "email verified")
}

// ResendVerifyEmail handles POST /users/resend-verify-email.
func (h *VerificationHandler) ResendVerifyEmail(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	if _, err := h.verification.ResendEmailVerification(c.UserContext(), principal.SubjectID); err != nil {
		return err
	}
	return message(c, "verification email sent")
}

// ForgotPassword handles POST /users/forgot-password.
func (h *VerificationHandler) ForgotPassword(c *fiber.Ctx) error {
	var req dto.ForgotPasswordRequest
	if err := parseAndValidate(c, &req); err != nil {
		return err
	}
	if _, err := h.verification.IssueForgotPassword(c.UserContext(), req.Email); err != nil {
		return err
	}
	return message(c, "password reset email sent")
}

// VerifyForgotPassword handles POST /users/verify-forgot-password.
func (h *VerificationHandler) VerifyForgotPassword(c *fiber.Ctx) error {
	var req dto.VerifyForgotPasswordRequest
	if err := parseAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.verification.ConfirmForgotPassword(c.UserContext(), req.ForgotPasswordToken); err != nil {
		return err
	}
	return message(c, "token valid")
}

// ResetPassword handles POST /users/reset-password.
func (h *VerificationHandler) ResetPassword(c *fiber.Ctx) error {
	var req dto.ResetPasswordRequest
	if err := parseAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.verification.ResetPassword(c.UserContext(), req.ForgotPasswordToken, req.Password); err != nil {
		return err
	}
	return message(c, "password reset")
}
