package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/medcare-service/internal/domain"
	"github.com/spec-kit/medcare-service/internal/events"
)

func TestConfirmEmailVerification_SingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "verify@b.com", "secret")
	tok := f.notifier.Latest(u.ID, domain.TokenKindEmailVerify)

	require.NoError(t, f.verification.ConfirmEmailVerification(ctx, tok))

	stored, err := f.store.FindIdentityByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VerifyStatusVerified, stored.Verify)
	assert.Nil(t, stored.EmailVerifyToken)

	err = f.verification.ConfirmEmailVerification(ctx, tok)
	assert.ErrorIs(t, err, domain.ErrAlreadyConsumedOrStale)

	_, err = f.verification.ResendEmailVerification(ctx, u.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestConfirmEmailVerification_ReissueRetiresOldToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "reissue@b.com", "secret")
	first := f.notifier.Latest(u.ID, domain.TokenKindEmailVerify)

	second, err := f.verification.ResendEmailVerification(ctx, u.ID)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	assert.ErrorIs(t, f.verification.ConfirmEmailVerification(ctx, first), domain.ErrAlreadyConsumedOrStale)
	assert.NoError(t, f.verification.ConfirmEmailVerification(ctx, second))
}

func TestConfirmEmailVerification_RejectsBadTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "bad@b.com", "secret")

	access := f.login(t, "bad@b.com", "secret").Tokens.AccessToken
	err := f.verification.ConfirmEmailVerification(ctx, access)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.ErrorIs(t, err, domain.ErrKindMismatch)

	tok := f.notifier.Latest(u.ID, domain.TokenKindEmailVerify)
	f.clock.Advance(f.codec.TTL(domain.TokenKindEmailVerify) + time.Hour)
	err = f.verification.ConfirmEmailVerification(ctx, tok)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.ErrorIs(t, err, domain.ErrExpired)

	assert.ErrorIs(t, f.verification.ConfirmEmailVerification(ctx, ""), domain.ErrValidation)
}

func TestConfirmEmailVerification_ConcurrentConfirmHasOneWinner(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "twice@b.com", "secret")
	tok := f.notifier.Latest(u.ID, domain.TokenKindEmailVerify)

	const callers = 8
	results := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- f.verification.ConfirmEmailVerification(context.Background(), tok)
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrAlreadyConsumedOrStale)
	}
	assert.Equal(t, 1, wins)
}

func TestForgotPassword_LatestTokenWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1 := f.register(t, "u1@b.com", "old-pass")
	refresh := f.login(t, "u1@b.com", "old-pass").Tokens.RefreshToken

	resetToken1, err := f.verification.IssueForgotPassword(ctx, "u1@b.com")
	require.NoError(t, err)
	resetToken2, err := f.verification.IssueForgotPassword(ctx, "U1@b.com")
	require.NoError(t, err)
	assert.Equal(t, resetToken2, f.notifier.Latest(u1.ID, domain.TokenKindForgotPassword))

	assert.ErrorIs(t, f.verification.ConfirmForgotPassword(ctx, resetToken1), domain.ErrAlreadyConsumedOrStale)
	require.NoError(t, f.verification.ConfirmForgotPassword(ctx, resetToken2))

	assert.ErrorIs(t, f.verification.ResetPassword(ctx, resetToken1, "new-pass"), domain.ErrAlreadyConsumedOrStale)
	require.NoError(t, f.verification.ResetPassword(ctx, resetToken2, "new-pass"))

	_, err = f.sessions.Refresh(ctx, refresh)
	assert.ErrorIs(t, err, domain.ErrRevoked)

	assert.ErrorIs(t, f.verification.ResetPassword(ctx, resetToken2, "other-pass"), domain.ErrAlreadyConsumedOrStale)
	assert.ErrorIs(t, f.verification.ConfirmForgotPassword(ctx, resetToken2), domain.ErrAlreadyConsumedOrStale)

	_, err = f.sessions.Login(ctx, "u1@b.com", "old-pass")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	f.login(t, "u1@b.com", "new-pass")
}

func TestForgotPassword_UnknownEmailAndWrongKind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "kind@b.com", "secret")

	_, err := f.verification.IssueForgotPassword(ctx, "missing@b.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	verifyTok := f.notifier.Latest(u.ID, domain.TokenKindEmailVerify)
	err = f.verification.ResetPassword(ctx, verifyTok, "new-pass")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.ErrorIs(t, err, domain.ErrKindMismatch)
}

func TestBan_RetiresPendingSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "slots@b.com", "secret")
	admin := f.register(t, "admin@b.com", "secret")
	f.promote(t, admin.ID, domain.AccountTierAdmin)
	reset, err := f.verification.IssueForgotPassword(ctx, "slots@b.com")
	require.NoError(t, err)

	require.NoError(t, f.sessions.Ban(ctx, admin.ID, u.ID))

	assert.ErrorIs(t, f.verification.ResetPassword(ctx, reset, "new-pass"), domain.ErrForbidden)
	assert.ErrorIs(t, f.verification.ConfirmEmailVerification(ctx, f.notifier.Latest(u.ID, domain.TokenKindEmailVerify)), domain.ErrForbidden)
	_, err = f.verification.ResendEmailVerification(ctx, u.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.verification.IssueForgotPassword(ctx, "slots@b.com")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	stored, err := f.store.FindIdentityByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.EmailVerifyToken)
	assert.Nil(t, stored.ForgotPasswordToken)
}

func TestIssue_DeliveryFailureKeepsToken(t *testing.T) {
	notifier := new(mockNotifier)
	notifier.On("Deliver", mock.Anything, mock.MatchedBy(func(d Delivery) bool {
		return d.Kind == domain.TokenKindEmailVerify && d.Email == "smtp@b.com"
	})).Return(errors.New("smtp unavailable")).Once()

	f := newFixtureWithNotifier(t, notifier)
	u, err := f.sessions.Register(context.Background(), RegisterInput{Email: "smtp@b.com", Password: "secret"})
	require.NoError(t, err)
	notifier.AssertExpectations(t)

	stored, err := f.store.FindIdentityByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.EmailVerifyToken)
}

func TestEventNotifier_PublishesDeliveries(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher()
	var got []events.Event
	dispatcher.Subscribe(events.EventForgotPasswordIssued, func(_ context.Context, e events.Event) error {
		got = append(got, e)
		return nil
	})
	n := NewEventNotifier(dispatcher)

	err := n.Deliver(context.Background(), Delivery{Kind: domain.TokenKindForgotPassword, IdentityID: "u1", Email: "a@b.com", Token: "tok"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	payload, ok := got[0].Payload.(events.TokenDeliveryPayload)
	require.True(t, ok)
	assert.Equal(t, "tok", payload.Token)

	err = n.Deliver(context.Background(), Delivery{Kind: domain.TokenKindAccess})
	assert.Error(t, err)
}
