package dto

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/spec-kit/medcare-service/internal/domain"
	"github.com/spec-kit/medcare-service/internal/service"
)

const dateLayout = "2006-01-02"

// bcrypt only looks at the first 72 bytes.
const maxPasswordLength = 72

// UserRegisterRequest payload for new users.
type UserRegisterRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (r UserRegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Length(0, 200)),
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(1, maxPasswordLength)),
		validation.Field(&r.ConfirmPassword, validation.Required, validation.By(matches(r.Password))),
	)
}

// UserLoginRequest payload for login.
type UserLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r UserLoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

// RefreshTokenRequest carries a refresh token for refresh and logout.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (r RefreshTokenRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RefreshToken, validation.Required),
	)
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// NewAuthResponse maps a token pair.
func NewAuthResponse(pair domain.TokenPair) AuthResponse {
	return AuthResponse{
		AccessToken:      pair.AccessToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
}

// UpdateProfileRequest is a partial profile update.
type UpdateProfileRequest struct {
	Name        *string `json:"name"`
	Bio         *string `json:"bio"`
	Location    *string `json:"location"`
	Phone       *string `json:"phone"`
	Username    *string `json:"username"`
	Avatar      *string `json:"avatar"`
	DateOfBirth *string `json:"date_of_birth"`
}

func (r UpdateProfileRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.NilOrNotEmpty, validation.Length(1, 200)),
		validation.Field(&r.Bio, validation.Length(0, 500)),
		validation.Field(&r.Location, validation.Length(0, 200)),
		validation.Field(&r.Phone, validation.Length(0, 32)),
		validation.Field(&r.Username, validation.NilOrNotEmpty, validation.Length(3, 50), is.PrintableASCII),
		validation.Field(&r.Avatar, validation.Length(0, 2048), is.URL),
		validation.Field(&r.DateOfBirth, validation.Date(dateLayout)),
	)
}

// ToInput converts the request into the service input. Call Validate first.
func (r UpdateProfileRequest) ToInput() (service.ProfileInput, error) {
	in := service.ProfileInput{
		Name:     r.Name,
		Bio:      r.Bio,
		Location: r.Location,
		Phone:    r.Phone,
		Username: r.Username,
		Avatar:   r.Avatar,
	}
	if r.DateOfBirth != nil && *r.DateOfBirth != "" {
		dob, err := time.Parse(dateLayout, *r.DateOfBirth)
		if err != nil {
			return service.ProfileInput{}, validation.Errors{"date_of_birth": err}
		}
		in.DateOfBirth = &dob
	}
	return in, nil
}
