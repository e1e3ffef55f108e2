package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/medcare-service/internal/auth"
	"github.com/spec-kit/medcare-service/internal/config"
	"github.com/spec-kit/medcare-service/internal/domain"
	"github.com/spec-kit/medcare-service/internal/events"
	"github.com/spec-kit/medcare-service/internal/repository"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recordingNotifier keeps the latest token delivered per identity and kind.
type recordingNotifier struct {
	mu     sync.Mutex
	latest map[string]string
	count  int
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{latest: make(map[string]string)}
}

func (n *recordingNotifier) Deliver(_ context.Context, d Delivery) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.latest[d.IdentityID+"|"+string(d.Kind)] = d.Token
	n.count++
	return nil
}

func (n *recordingNotifier) Latest(identityID string, kind domain.TokenKind) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.latest[identityID+"|"+string(kind)]
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Deliver(ctx context.Context, d Delivery) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

type fixture struct {
	sessions     *SessionService
	verification *VerificationService
	guard        *auth.Guard
	store        *repository.MemoryStore
	codec        *auth.TokenCodec
	clock        *testClock
	notifier     *recordingNotifier
	dispatcher   events.Dispatcher
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithNotifier(t, nil)
}

func newFixtureWithNotifier(t *testing.T, notifier Notifier) *fixture {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)}
	codec := auth.NewTokenCodec(config.AuthConfig{
		JWTSecret:         "service-test-secret",
		Issuer:            "medcare-test",
		AccessTokenTTL:    15 * time.Minute,
		RefreshTokenTTL:   7 * 24 * time.Hour,
		EmailVerifyTTL:    24 * time.Hour,
		ForgotPasswordTTL: 2 * time.Hour,
		ClockSkew:         30 * time.Second,
		BcryptCost:        4,
	}).WithClock(clock.Now)

	store := repository.NewMemoryStore()
	dispatcher := events.NewInMemoryDispatcher()
	recorder := newRecordingNotifier()
	if notifier == nil {
		notifier = recorder
	}

	verification := NewVerificationService(VerificationDependencies{
		Store:      store,
		Tokens:     codec,
		Notifier:   notifier,
		Dispatcher: dispatcher,
		BcryptCost: 4,
	})
	sessions := NewSessionService(SessionDependencies{
		Store:        store,
		Tokens:       codec,
		Verification: verification,
		Dispatcher:   dispatcher,
		BcryptCost:   4,
	})
	return &fixture{
		sessions:     sessions,
		verification: verification,
		guard:        auth.NewGuard(codec, store, nil),
		store:        store,
		codec:        codec,
		clock:        clock,
		notifier:     recorder,
		dispatcher:   dispatcher,
	}
}

func (f *fixture) register(t *testing.T, email, password string) *domain.PublicIdentity {
	t.Helper()
	identity, err := f.sessions.Register(context.Background(), RegisterInput{Name: "Test", Email: email, Password: password})
	require.NoError(t, err)
	return identity
}

func (f *fixture) login(t *testing.T, email, password string) *Session {
	t.Helper()
	session, err := f.sessions.Login(context.Background(), email, password)
	require.NoError(t, err)
	return session
}

func (f *fixture) promote(t *testing.T, id string, tier domain.AccountTier) {
	t.Helper()
	_, err := f.store.UpdateIdentity(context.Background(), id, domain.IdentityUpdate{Tier: &tier})
	require.NoError(t, err)
}
