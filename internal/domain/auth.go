package domain

import "time"

// TokenKind identifies the purpose a signed token was issued for.
type TokenKind string

const (
	TokenKindAccess         TokenKind = "access"
	TokenKindRefresh        TokenKind = "refresh"
	TokenKindEmailVerify    TokenKind = "email_verify"
	TokenKindForgotPassword TokenKind = "forgot_password"
)

// TokenKinds lists every issuable kind.
var TokenKinds = []TokenKind{TokenKindAccess, TokenKindRefresh, TokenKindEmailVerify, TokenKindForgotPassword}

// Valid reports whether the kind is known.
func (k TokenKind) Valid() bool {
	for _, known := range TokenKinds {
		if k == known {
			return true
		}
	}
	return false
}

// TokenPayload is the decoded content of a signed token.
type TokenPayload struct {
	ID        string
	SubjectID string
	Kind      TokenKind
	Verify    VerifyStatus
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RefreshSession is the server-side record whose existence keeps a refresh token usable.
type RefreshSession struct {
	Fingerprint string
	IdentityID  string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}
