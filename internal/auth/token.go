package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/spec-kit/medcare-service/internal/config"
	"github.com/spec-kit/medcare-service/internal/domain"
)

// TokenCodec issues and verifies signed tokens. Every kind is signed with its own key,
// so a token minted for one purpose never verifies under another purpose's key.
type TokenCodec struct {
	keys   map[domain.TokenKind][]byte
	ttls   map[domain.TokenKind]time.Duration
	issuer string
	leeway time.Duration
	now    func() time.Time
}

type tokenClaims struct {
	Kind   domain.TokenKind    `json:"kind"`
	Verify domain.VerifyStatus `json:"verify"`
	jwt.RegisteredClaims
}

// NewTokenCodec builds a codec from auth configuration.
func NewTokenCodec(cfg config.AuthConfig) *TokenCodec {
	explicit := map[domain.TokenKind]string{
		domain.TokenKindAccess:         cfg.AccessSecret,
		domain.TokenKindRefresh:        cfg.RefreshSecret,
		domain.TokenKindEmailVerify:    cfg.EmailVerifySecret,
		domain.TokenKindForgotPassword: cfg.ForgotPasswordSecret,
	}

	keys := make(map[domain.TokenKind][]byte, len(explicit))
	for kind, secret := range explicit {
		if secret != "" {
			keys[kind] = []byte(secret)
			continue
		}
		keys[kind] = deriveKey(cfg.JWTSecret, kind)
	}

	return &TokenCodec{
		keys: keys,
		ttls: map[domain.TokenKind]time.Duration{
			domain.TokenKindAccess:         cfg.AccessTokenTTL,
			domain.TokenKindRefresh:        cfg.RefreshTokenTTL,
			domain.TokenKindEmailVerify:    cfg.EmailVerifyTTL,
			domain.TokenKindForgotPassword: cfg.ForgotPasswordTTL,
		},
		issuer: cfg.Issuer,
		leeway: cfg.ClockSkew,
		now:    time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (c *TokenCodec) WithClock(now func() time.Time) *TokenCodec {
	c.now = now
	return c
}

// TTL returns the configured lifetime for a kind.
func (c *TokenCodec) TTL(kind domain.TokenKind) time.Duration {
	return c.ttls[kind]
}

// Issue signs a new token of the given kind for the subject.
func (c *TokenCodec) Issue(subjectID string, kind domain.TokenKind, verify domain.VerifyStatus) (string, *domain.TokenPayload, error) {
	key, ok := c.keys[kind]
	if !ok {
		return "", nil, fmt.Errorf("issue token: unknown kind %q", kind)
	}

	now := c.now().UTC().Truncate(time.Second)
	payload := &domain.TokenPayload{
		ID:        uuid.NewString(),
		SubjectID: subjectID,
		Kind:      kind,
		Verify:    verify,
		IssuedAt:  now,
		ExpiresAt: now.Add(c.ttls[kind]),
	}

	claims := &tokenClaims{
		Kind:   kind,
		Verify: verify,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        payload.ID,
			Issuer:    c.issuer,
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(payload.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(payload.ExpiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", nil, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, payload, nil
}

// Verify checks signature, expiry and kind. It consults no store.
func (c *TokenCodec) Verify(tokenStr string, expected domain.TokenKind) (*domain.TokenPayload, error) {
	if tokenStr == "" {
		return nil, domain.ErrMalformedToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(c.leeway),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(tokenStr, claims, c.keyFor, opts...)
	if err != nil {
		verr := classify(err)
		if errors.Is(verr, domain.ErrInvalidSignature) && c.pastExpiry(tokenStr) {
			return nil, domain.ErrExpired
		}
		return nil, verr
	}
	if !parsed.Valid || claims.Subject == "" || !claims.Verify.Valid() {
		return nil, domain.ErrMalformedToken
	}
	if claims.Kind != expected {
		return nil, fmt.Errorf("%w: got %s, want %s", domain.ErrKindMismatch, claims.Kind, expected)
	}

	payload := &domain.TokenPayload{
		ID:        claims.ID,
		SubjectID: claims.Subject,
		Kind:      claims.Kind,
		Verify:    claims.Verify,
	}
	if claims.IssuedAt != nil {
		payload.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		payload.ExpiresAt = claims.ExpiresAt.Time
	}
	return payload, nil
}

// keyFor picks the key of the kind the token claims to be.
func (c *TokenCodec) keyFor(token *jwt.Token) (interface{}, error) {
	claims, ok := token.Claims.(*tokenClaims)
	if !ok {
		return nil, domain.ErrMalformedToken
	}
	key, ok := c.keys[claims.Kind]
	if !ok {
		return nil, domain.ErrMalformedToken
	}
	return key, nil
}

// pastExpiry reads exp without checking the signature. The parser checks the signature
// before the claims, so an expired token with a bad signature needs this second look.
func (c *TokenCodec) pastExpiry(tokenStr string) bool {
	claims := &tokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !c.now().Before(claims.ExpiresAt.Add(c.leeway))
}

func classify(err error) error {
	switch {
	case errors.Is(err, domain.ErrMalformedToken), errors.Is(err, jwt.ErrTokenMalformed):
		return domain.ErrMalformedToken
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return domain.ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return domain.ErrExpired
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return domain.ErrMalformedToken
	default:
		return fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
}

func deriveKey(master string, kind domain.TokenKind) []byte {
	mac := hmac.New(sha256.New, []byte(master))
	mac.Write([]byte("medcare-token:" + string(kind)))
	return mac.Sum(nil)
}

// Fingerprint derives the storage key of a refresh token; raw tokens are never persisted.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
