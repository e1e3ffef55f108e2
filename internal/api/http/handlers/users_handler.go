package handlers

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/medcare-service/internal/api/dto"
	"github.com/spec-kit/medcare-service/internal/auth"
	"github.com/spec-kit/medcare-service/internal/domain"
	"github.com/spec-kit/medcare-service/internal/service"
	apperrors "github.com/spec-kit/medcare-service/pkg/util"
)

// UsersHandler exposes account and session endpoints.
type UsersHandler struct {
	sessions *service.SessionService
}

// NewUsersHandler constructs handler.
func NewUsersHandler(sessions *service.SessionService) *UsersHandler {
	return &UsersHandler{sessions: sessions}
}

// Register handles POST /users/register.
func (h *UsersHandler) Register(c *fiber.Ctx) error {
	var req dto.UserRegisterRequest
	if err := parseAndValidate(c, &req); err != nil {
		return err
	}

	user, err := h.sessions.Register(c.UserContext(), service.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if errors.Is(err, domain.ErrConflict) {
		return apperrors.NewConflict("email already registered", map[string]any{"field": "email"})
	}
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"data": fiber.Map{"user": user},
	})
}

// Login handles POST /users/login.
func (h *UsersHandler) Login(c *fiber.Ctx) error {
	var req dto.UserLoginRequest
	if err := parseAndValidate(c, &req); err != nil {
		return err
	}

	session, err := h.sessions.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(sessionResponse(session))
}

// RefreshToken handles POST /users/refresh-token.
func (h *UsersHandler) RefreshToken(c *fiber.Ctx) error {
	var req dto.RefreshTokenRequest
	if err := parseAndValidate(c, &req); err != nil {
		return err
	}

	session, err := h.sessions.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(sessionResponse(session))
}

// Logout handles POST /users/logout.
func (h *UsersHandler) Logout(c *fiber.Ctx) error {
	var req dto.RefreshTokenRequest
	if err := parseAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.sessions.Logout(c.UserContext(), req.RefreshToken); err != nil {
		return err
	}
	return message(c, "logged out")
}

// Me handles GET /users/me.
func (h *UsersHandler) Me(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	user, err := h.sessions.Profile(c.UserContext(), principal.SubjectID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"user": user}})
}

// UpdateMe handles PATCH /users/me.
func (h *UsersHandler) UpdateMe(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.UpdateProfileRequest
	if err := parseAndValidate(c, &req); err != nil {
		return err
	}
	in, err := req.ToInput()
	if err != nil {
		return err
	}

	user, err := h.sessions.UpdateProfile(c.UserContext(), principal.SubjectID, in)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"user": user}})
}

// ChangePassword handles PUT /users/change-password.
func (h *UsersHandler) ChangePassword(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.ChangePasswordRequest
	if err := parseAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.sessions.ChangePassword(c.UserContext(), principal.SubjectID, req.OldPassword, req.Password); err != nil {
		return err
	}
	return message(c, "password changed")
}

// Ban handles POST /users/:id/ban.
func (h *UsersHandler) Ban(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	targetID := c.Params("id")
	if err := h.sessions.Ban(c.UserContext(), principal.SubjectID, targetID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return apperrors.NewNotFound("user", map[string]any{"id": targetID})
		}
		return err
	}
	return message(c, "user banned")
}

type validatable interface {
	Validate() error
}

func parseAndValidate(c *fiber.Ctx, req validatable) error {
	if err := c.BodyParser(req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	return req.Validate()
}

func requirePrincipal(c *fiber.Ctx) (*auth.Principal, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	return principal, nil
}

func sessionResponse(session *service.Session) fiber.Map {
	return fiber.Map{
		"data": fiber.Map{
			"user": session.Identity,
			"auth": dto.NewAuthResponse(session.Tokens),
		},
	}
}

func message(c *fiber.Ctx, msg string) error {
	return c.JSON(fiber.Map{"data": fiber.Map{"message": msg}})
}
