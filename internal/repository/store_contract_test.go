package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/medcare-service/internal/domain"
)

// runCredentialStoreContract exercises the behaviour every CredentialStore backend must share.
func runCredentialStoreContract(t *testing.T, newStore func(t *testing.T) CredentialStore) {
	t.Run("identity lifecycle", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		id := domain.NewIdentity(uniqueEmail("Mixed"), "hash", "Patient")
		require.NoError(t, store.CreateIdentity(ctx, id))

		byEmail, err := store.FindIdentityByEmail(ctx, id.Email)
		require.NoError(t, err)
		assert.Equal(t, id.ID, byEmail.ID)
		assert.Equal(t, domain.VerifyStatusUnverified, byEmail.Verify)

		byID, err := store.FindIdentityByID(ctx, id.ID)
		require.NoError(t, err)
		assert.Equal(t, id.Email, byID.Email)

		_, err = store.FindIdentityByEmail(ctx, uniqueEmail("missing"))
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = store.FindIdentityByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("email is unique", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		email := uniqueEmail("dup")
		require.NoError(t, store.CreateIdentity(ctx, domain.NewIdentity(email, "h", "A")))
		err := store.CreateIdentity(ctx, domain.NewIdentity(email, "h", "B"))
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("partial update", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		id := domain.NewIdentity(uniqueEmail("upd"), "hash", "Old")
		require.NoError(t, store.CreateIdentity(ctx, id))

		name := "New"
		bio := "cardiology patient"
		updated, err := store.UpdateIdentity(ctx, id.ID, domain.IdentityUpdate{Name: &name, Bio: &bio})
		require.NoError(t, err)
		assert.Equal(t, "New", updated.Name)
		assert.Equal(t, "cardiology patient", updated.Bio)
		assert.Equal(t, "hash", updated.PasswordHash)

		_, err = store.UpdateIdentity(ctx, uuid.NewString(), domain.IdentityUpdate{Name: &name})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("guarded slot update", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		id := domain.NewIdentity(uniqueEmail("slot"), "hash", "S")
		require.NoError(t, store.CreateIdentity(ctx, id))

		guard := &domain.SlotGuard{Slot: domain.SlotEmailVerify, Expected: "tok-1"}
		_, err := store.UpdateIdentity(ctx, id.ID, domain.IdentityUpdate{Guard: guard})
		assert.ErrorIs(t, err, domain.ErrAlreadyConsumedOrStale, "empty slot never matches")

		var set domain.IdentityUpdate
		set.SetSlot(domain.SlotEmailVerify, "tok-1")
		_, err = store.UpdateIdentity(ctx, id.ID, set)
		require.NoError(t, err)

		verified := domain.VerifyStatusVerified
		consume := domain.IdentityUpdate{Verify: &verified, Guard: guard}
		consume.ClearSlot(domain.SlotEmailVerify)

		updated, err := store.UpdateIdentity(ctx, id.ID, consume)
		require.NoError(t, err)
		assert.Equal(t, domain.VerifyStatusVerified, updated.Verify)
		assert.Nil(t, updated.EmailVerifyToken)

		_, err = store.UpdateIdentity(ctx, id.ID, consume)
		assert.ErrorIs(t, err, domain.ErrAlreadyConsumedOrStale)
	})

	t.Run("concurrent guarded update has one winner", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		id := domain.NewIdentity(uniqueEmail("race"), "hash", "R")
		require.NoError(t, store.CreateIdentity(ctx, id))
		var set domain.IdentityUpdate
		set.SetSlot(domain.SlotForgotPassword, "reset-1")
		_, err := store.UpdateIdentity(ctx, id.ID, set)
		require.NoError(t, err)

		consume := domain.IdentityUpdate{Guard: &domain.SlotGuard{Slot: domain.SlotForgotPassword, Expected: "reset-1"}}
		consume.ClearSlot(domain.SlotForgotPassword)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.UpdateIdentity(ctx, id.ID, consume); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("refresh records", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		id := domain.NewIdentity(uniqueEmail("rt"), "hash", "T")
		require.NoError(t, store.CreateIdentity(ctx, id))

		now := time.Now().UTC().Truncate(time.Second)
		session := domain.RefreshSession{
			Fingerprint: uuid.NewString(),
			IdentityID:  id.ID,
			IssuedAt:    now,
			ExpiresAt:   now.Add(time.Hour),
		}
		require.NoError(t, store.CreateRefreshRecord(ctx, session))

		found, err := store.FindRefreshRecord(ctx, session.Fingerprint)
		require.NoError(t, err)
		assert.Equal(t, id.ID, found.IdentityID)
		assert.WithinDuration(t, session.ExpiresAt, found.ExpiresAt, time.Second)

		removed, err := store.DeleteRefreshRecord(ctx, session.Fingerprint)
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = store.DeleteRefreshRecord(ctx, session.Fingerprint)
		require.NoError(t, err)
		assert.False(t, removed)

		_, err = store.FindRefreshRecord(ctx, session.Fingerprint)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("concurrent delete has one winner", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		id := domain.NewIdentity(uniqueEmail("del"), "hash", "D")
		require.NoError(t, store.CreateIdentity(ctx, id))
		fp := uuid.NewString()
		require.NoError(t, store.CreateRefreshRecord(ctx, domain.RefreshSession{
			Fingerprint: fp, IdentityID: id.ID, IssuedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
		}))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if ok, err := store.DeleteRefreshRecord(ctx, fp); err == nil && ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("revoke all for identity", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		owner := domain.NewIdentity(uniqueEmail("owner"), "hash", "O")
		other := domain.NewIdentity(uniqueEmail("other"), "hash", "X")
		require.NoError(t, store.CreateIdentity(ctx, owner))
		require.NoError(t, store.CreateIdentity(ctx, other))

		exp := time.Now().Add(time.Hour)
		var ownerFPs []string
		for i := 0; i < 3; i++ {
			fp := uuid.NewString()
			ownerFPs = append(ownerFPs, fp)
			require.NoError(t, store.CreateRefreshRecord(ctx, domain.RefreshSession{
				Fingerprint: fp, IdentityID: owner.ID, IssuedAt: time.Now(), ExpiresAt: exp,
			}))
		}
		otherFP := uuid.NewString()
		require.NoError(t, store.CreateRefreshRecord(ctx, domain.RefreshSession{
			Fingerprint: otherFP, IdentityID: other.ID, IssuedAt: time.Now(), ExpiresAt: exp,
		}))

		n, err := store.DeleteAllRefreshRecordsForIdentity(ctx, owner.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		for _, fp := range ownerFPs {
			_, err := store.FindRefreshRecord(ctx, fp)
			assert.ErrorIs(t, err, domain.ErrNotFound)
		}
		_, err = store.FindRefreshRecord(ctx, otherFP)
		assert.NoError(t, err)

		n, err = store.DeleteAllRefreshRecordsForIdentity(ctx, owner.ID)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func uniqueEmail(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8] + "@Example.com"
}
