package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// VerifyStatus represents the account verification gate for an identity.
type VerifyStatus string

const (
	VerifyStatusUnverified VerifyStatus = "UNVERIFIED"
	VerifyStatusVerified   VerifyStatus = "VERIFIED"
	VerifyStatusBanned     VerifyStatus = "BANNED"
)

// Valid reports whether the status is one of the known values.
func (s VerifyStatus) Valid() bool {
	switch s {
	case VerifyStatusUnverified, VerifyStatusVerified, VerifyStatusBanned:
		return true
	}
	return false
}

// CanTransition reports whether an identity may move from one verification state to another.
// Unverified to verified is the only forward move; banning is allowed from anywhere and is terminal.
func CanTransition(from, to VerifyStatus) bool {
	switch {
	case from == VerifyStatusBanned:
		return false
	case to == VerifyStatusBanned:
		return true
	case from == VerifyStatusUnverified && to == VerifyStatusVerified:
		return true
	}
	return false
}

// AccountTier is the coarse account flag.
type AccountTier string

const (
	AccountTierRegular AccountTier = "REGULAR"
	AccountTierPremium AccountTier = "PREMIUM"
	AccountTierAdmin   AccountTier = "ADMIN"
)

// Identity is the domain model for an account holder.
type Identity struct {
	ID                  string
	Email               string
	PasswordHash        string
	Verify              VerifyStatus
	Tier                AccountTier
	Name                string
	Bio                 string
	Location            string
	Phone               string
	Username            string
	Avatar              string
	DateOfBirth         *time.Time
	EmailVerifyToken    *string
	ForgotPasswordToken *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewIdentity builds an identity with defaults filled in.
func NewIdentity(email, passwordHash, name string) *Identity {
	now := time.Now().UTC()
	email = NormalizeEmail(email)
	return &Identity{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		Verify:       VerifyStatusUnverified,
		Tier:         AccountTierRegular,
		Name:         strings.TrimSpace(name),
		Username:     defaultUsername(email),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func defaultUsername(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

// Banned reports whether the identity has been banned.
func (i *Identity) Banned() bool {
	return i.Verify == VerifyStatusBanned
}

// PublicIdentity is the identity view safe to return to clients.
type PublicIdentity struct {
	ID          string       `json:"id"`
	Email       string       `json:"email"`
	Verify      VerifyStatus `json:"verify"`
	Tier        AccountTier  `json:"tier"`
	Name        string       `json:"name"`
	Bio         string       `json:"bio"`
	Location    string       `json:"location"`
	Phone       string       `json:"phone"`
	Username    string       `json:"username"`
	Avatar      string       `json:"avatar"`
	DateOfBirth *time.Time   `json:"date_of_birth,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Public strips credentials and one-time token slots.
func (i *Identity) Public() PublicIdentity {
	return PublicIdentity{
		ID:          i.ID,
		Email:       i.Email,
		Verify:      i.Verify,
		Tier:        i.Tier,
		Name:        i.Name,
		Bio:         i.Bio,
		Location:    i.Location,
		Phone:       i.Phone,
		Username:    i.Username,
		Avatar:      i.Avatar,
		DateOfBirth: i.DateOfBirth,
		CreatedAt:   i.CreatedAt,
		UpdatedAt:   i.UpdatedAt,
	}
}

// TokenSlot names a single-use token slot on the identity record.
type TokenSlot string

const (
	SlotEmailVerify    TokenSlot = "email_verify_token"
	SlotForgotPassword TokenSlot = "forgot_password_token"
)

// Slot returns the current value of the named slot.
func (i *Identity) Slot(slot TokenSlot) *string {
	switch slot {
	case SlotEmailVerify:
		return i.EmailVerifyToken
	case SlotForgotPassword:
		return i.ForgotPasswordToken
	}
	return nil
}

// SlotGuard makes an update conditional on a slot holding an exact value.
type SlotGuard struct {
	Slot     TokenSlot
	Expected string
}

// IdentityUpdate carries a partial update; nil fields are left untouched.
// ClearEmailVerifyToken and ClearForgotPasswordToken null the slot and win over the Set fields.
type IdentityUpdate struct {
	PasswordHash             *string
	Verify                   *VerifyStatus
	Tier                     *AccountTier
	Name                     *string
	Bio                      *string
	Location                 *string
	Phone                    *string
	Username                 *string
	Avatar                   *string
	DateOfBirth              *time.Time
	EmailVerifyToken         *string
	ForgotPasswordToken      *string
	ClearEmailVerifyToken    bool
	ClearForgotPasswordToken bool
	Guard                    *SlotGuard
}

// SetSlot stores a value in the named slot.
func (u *IdentityUpdate) SetSlot(slot TokenSlot, value string) {
	switch slot {
	case SlotEmailVerify:
		u.EmailVerifyToken = &value
	case SlotForgotPassword:
		u.ForgotPasswordToken = &value
	}
}

// ClearSlot nulls the named slot.
func (u *IdentityUpdate) ClearSlot(slot TokenSlot) {
	switch slot {
	case SlotEmailVerify:
		u.ClearEmailVerifyToken = true
	case SlotForgotPassword:
		u.ClearForgotPasswordToken = true
	}
}

// Apply mutates the identity in place. Guards are checked by the store, not here.
func (u IdentityUpdate) Apply(i *Identity, now time.Time) {
	if u.PasswordHash != nil {
		i.PasswordHash = *u.PasswordHash
	}
	if u.Verify != nil {
		i.Verify = *u.Verify
	}
	if u.Tier != nil {
		i.Tier = *u.Tier
	}
	if u.Name != nil {
		i.Name = *u.Name
	}
	if u.Bio != nil {
		i.Bio = *u.Bio
	}
	if u.Location != nil {
		i.Location = *u.Location
	}
	if u.Phone != nil {
		i.Phone = *u.Phone
	}
	if u.Username != nil {
		i.Username = *u.Username
	}
	if u.Avatar != nil {
		i.Avatar = *u.Avatar
	}
	if u.DateOfBirth != nil {
		dob := *u.DateOfBirth
		i.DateOfBirth = &dob
	}
	if u.EmailVerifyToken != nil {
		v := *u.EmailVerifyToken
		i.EmailVerifyToken = &v
	}
	if u.ForgotPasswordToken != nil {
		v := *u.ForgotPasswordToken
		i.ForgotPasswordToken = &v
	}
	if u.ClearEmailVerifyToken {
		i.EmailVerifyToken = nil
	}
	if u.ClearForgotPasswordToken {
		i.ForgotPasswordToken = nil
	}
	i.UpdatedAt = now
}
