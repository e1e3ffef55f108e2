package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/medcare-service/internal/api/http/handlers"
	"github.com/spec-kit/medcare-service/internal/auth"
	"github.com/spec-kit/medcare-service/internal/config"
	"github.com/spec-kit/medcare-service/internal/domain"
	"github.com/spec-kit/medcare-service/internal/events"
	"github.com/spec-kit/medcare-service/internal/observability"
	"github.com/spec-kit/medcare-service/internal/repository"
	"github.com/spec-kit/medcare-service/internal/service"
)

type inbox struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (i *inbox) Deliver(_ context.Context, d service.Delivery) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.tokens[d.Email+"|"+string(d.Kind)] = d.Token
	return nil
}

func (i *inbox) token(email string, kind domain.TokenKind) string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.tokens[email+"|"+string(kind)]
}

type testServer struct {
	app   *fiber.App
	store *repository.MemoryStore
	inbox *inbox
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	store := repository.NewMemoryStore()
	box := &inbox{tokens: make(map[string]string)}
	codec := auth.NewTokenCodec(config.AuthConfig{
		JWTSecret:         "router-test-secret",
		AccessTokenTTL:    15 * time.Minute,
		RefreshTokenTTL:   24 * time.Hour,
		EmailVerifyTTL:    time.Hour,
		ForgotPasswordTTL: time.Hour,
		ClockSkew:         30 * time.Second,
	})
	dispatcher := events.NewInMemoryDispatcher()

	verification := service.NewVerificationService(service.VerificationDependencies{
		Store: store, Tokens: codec, Notifier: box, Dispatcher: dispatcher, Metrics: metrics, Logger: logger, BcryptCost: 4,
	})
	sessions := service.NewSessionService(service.SessionDependencies{
		Store: store, Tokens: codec, Verification: verification, Dispatcher: dispatcher, Metrics: metrics, Logger: logger, BcryptCost: 4,
	})

	app := fiber.New()
	RegisterMiddlewares(app, logger, metrics, 5*time.Second)
	RegisterRoutes(app, RouteConfig{
		Health:       handlers.NewHealthHandler("medcare-service", "test", map[string]handlers.Pinger{"store": nil}),
		Users:        handlers.NewUsersHandler(sessions),
		Verification: handlers.NewVerificationHandler(verification),
		Guard:        auth.NewGuard(codec, store, logger),
		Metrics:      metrics,
	})
	return &testServer{app: app, store: store, inbox: box}
}

type apiResponse struct {
	Data  map[string]json.RawMessage `json:"data"`
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body any) (int, apiResponse) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if bearer != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+bearer)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out apiResponse
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func authTokens(t *testing.T, r apiResponse) (access, refresh string) {
	t.Helper()
	var tokens struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(r.Data["auth"], &tokens))
	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)
	return tokens.AccessToken, tokens.RefreshToken
}

func TestRouter_AccountLifecycle(t *testing.T) {
	s := newTestServer(t)
	const email = "patient@medcare.test"

	status, _ := s.do(t, http.MethodPost, "/users/register", "", fiber.Map{
		"name": "Pat", "email": email, "password": "P@ss1", "confirm_password": "P@ss1",
	})
	require.Equal(t, http.StatusCreated, status)

	status, resp := s.do(t, http.MethodPost, "/users/register", "", fiber.Map{
		"email": email, "password": "P@ss1", "confirm_password": "P@ss1",
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "CONFLICT", resp.Error.Code)
	assert.Equal(t, "email already registered", resp.Error.Message)
	assert.Equal(t, "email", resp.Error.Details["field"])

	status, resp = s.do(t, http.MethodPost, "/users/login", "", fiber.Map{"email": email, "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "INVALID_CREDENTIALS", resp.Error.Code)

	status, resp = s.do(t, http.MethodPost, "/users/login", "", fiber.Map{"email": email, "password": "P@ss1"})
	require.Equal(t, http.StatusOK, status)
	access, refresh := authTokens(t, resp)

	status, resp = s.do(t, http.MethodGet, "/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "MISSING_TOKEN", resp.Error.Code)

	status, resp = s.do(t, http.MethodGet, "/users/me", refresh, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", resp.Error.Code)

	status, resp = s.do(t, http.MethodGet, "/users/me", access, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(resp.Data["user"]), email)
	assert.NotContains(t, string(resp.Data["user"]), "password")

	status, _ = s.do(t, http.MethodPut, "/users/change-password", access, fiber.Map{
		"old_password": "P@ss1", "password": "N3w-pass", "confirm_password": "N3w-pass",
	})
	assert.Equal(t, http.StatusForbidden, status)

	verifyToken := s.inbox.token(email, domain.TokenKindEmailVerify)
	require.NotEmpty(t, verifyToken)
	status, _ = s.do(t, http.MethodPost, "/users/verify-email", "", fiber.Map{"email_verify_token": verifyToken})
	require.Equal(t, http.StatusOK, status)

	status, resp = s.do(t, http.MethodPost, "/users/verify-email", "", fiber.Map{"email_verify_token": verifyToken})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "TOKEN_STALE", resp.Error.Code)

	status, resp = s.do(t, http.MethodPost, "/users/resend-verify-email", access, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "INVALID_TRANSITION", resp.Error.Code)

	status, resp = s.do(t, http.MethodPost, "/users/refresh-token", "", fiber.Map{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, status)
	_, refresh2 := authTokens(t, resp)

	status, resp = s.do(t, http.MethodPost, "/users/refresh-token", "", fiber.Map{"refresh_token": refresh})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "REVOKED", resp.Error.Code)

	status, _ = s.do(t, http.MethodPut, "/users/change-password", access, fiber.Map{
		"old_password": "P@ss1", "password": "N3w-pass", "confirm_password": "N3w-pass",
	})
	require.Equal(t, http.StatusOK, status)

	status, resp = s.do(t, http.MethodPost, "/users/refresh-token", "", fiber.Map{"refresh_token": refresh2})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "REVOKED", resp.Error.Code)

	status, _ = s.do(t, http.MethodPost, "/users/logout", "", fiber.Map{"refresh_token": refresh2})
	assert.Equal(t, http.StatusOK, status)
}

func TestRouter_PasswordReset(t *testing.T) {
	s := newTestServer(t)
	const email = "reset@medcare.test"
	status, _ := s.do(t, http.MethodPost, "/users/register", "", fiber.Map{
		"email": email, "password": "old-pass", "confirm_password": "old-pass",
	})
	require.Equal(t, http.StatusCreated, status)

	status, resp := s.do(t, http.MethodPost, "/users/forgot-password", "", fiber.Map{"email": "nobody@medcare.test"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)

	status, _ = s.do(t, http.MethodPost, "/users/forgot-password", "", fiber.Map{"email": email})
	require.Equal(t, http.StatusOK, status)
	token := s.inbox.token(email, domain.TokenKindForgotPassword)
	require.NotEmpty(t, token)

	status, _ = s.do(t, http.MethodPost, "/users/verify-forgot-password", "", fiber.Map{"forgot_password_token": token})
	assert.Equal(t, http.StatusOK, status)

	status, resp = s.do(t, http.MethodPost, "/users/reset-password", "", fiber.Map{
		"forgot_password_token": token, "password": "new-pass", "confirm_password": "other",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", resp.Error.Code)
	assert.Contains(t, resp.Error.Details, "confirm_password")

	status, _ = s.do(t, http.MethodPost, "/users/reset-password", "", fiber.Map{
		"forgot_password_token": token, "password": "new-pass", "confirm_password": "new-pass",
	})
	require.Equal(t, http.StatusOK, status)

	status, resp = s.do(t, http.MethodPost, "/users/reset-password", "", fiber.Map{
		"forgot_password_token": token, "password": "again", "confirm_password": "again",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "TOKEN_STALE", resp.Error.Code)

	status, _ = s.do(t, http.MethodPost, "/users/login", "", fiber.Map{"email": email, "password": "new-pass"})
	assert.Equal(t, http.StatusOK, status)
}

func TestRouter_BanRequiresAdmin(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	for _, email := range []string{"admin@medcare.test", "target@medcare.test"} {
		status, _ := s.do(t, http.MethodPost, "/users/register", "", fiber.Map{
			"email": email, "password": "secret", "confirm_password": "secret",
		})
		require.Equal(t, http.StatusCreated, status)
	}
	admin, err := s.store.FindIdentityByEmail(ctx, "admin@medcare.test")
	require.NoError(t, err)
	target, err := s.store.FindIdentityByEmail(ctx, "target@medcare.test")
	require.NoError(t, err)

	_, login := s.do(t, http.MethodPost, "/users/login", "", fiber.Map{"email": "target@medcare.test", "password": "secret"})
	targetAccess, _ := authTokens(t, login)
	status, resp := s.do(t, http.MethodPost, "/users/"+admin.ID+"/ban", targetAccess, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "insufficient account tier", resp.Error.Message)

	tier := domain.AccountTierAdmin
	_, err = s.store.UpdateIdentity(ctx, admin.ID, domain.IdentityUpdate{Tier: &tier})
	require.NoError(t, err)
	_, resp = s.do(t, http.MethodPost, "/users/login", "", fiber.Map{"email": "admin@medcare.test", "password": "secret"})
	adminAccess, _ := authTokens(t, resp)

	status, resp = s.do(t, http.MethodPost, "/users/missing-id/ban", adminAccess, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "user not found", resp.Error.Message)
	assert.Equal(t, "missing-id", resp.Error.Details["id"])

	status, _ = s.do(t, http.MethodPost, "/users/"+target.ID+"/ban", adminAccess, nil)
	require.Equal(t, http.StatusOK, status)

	status, resp = s.do(t, http.MethodGet, "/users/me", targetAccess, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", resp.Error.Code)
}

func TestRouter_OperationalEndpoints(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = s.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, status)

	status, resp := s.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)

	status, resp = s.do(t, http.MethodPost, "/users/login", "", fiber.Map{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, resp.Error.Details, "email")
	assert.Contains(t, resp.Error.Details, "password")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	httpResp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer httpResp.Body.Close()
	body, err := io.ReadAll(httpResp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, httpResp.StatusCode)
	assert.Contains(t, string(body), "medcare_http_requests_total")
}
