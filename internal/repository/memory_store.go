package repository

import (
	"context"
	"sync"
	"time"

	"github.com/spec-kit/medcare-service/internal/domain"
)

// MemoryStore is a process-local CredentialStore. Each method holds the lock for its whole
// read-modify-write, which gives the per-record atomicity the services rely on.
type MemoryStore struct {
	mu         sync.RWMutex
	identities map[string]*domain.Identity
	byEmail    map[string]string
	sessions   map[string]domain.RefreshSession
	now        func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		identities: make(map[string]*domain.Identity),
		byEmail:    make(map[string]string),
		sessions:   make(map[string]domain.RefreshSession),
		now:        time.Now,
	}
}

func (s *MemoryStore) CreateIdentity(_ context.Context, identity *domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := domain.NormalizeEmail(identity.Email)
	if _, taken := s.byEmail[email]; taken {
		return domain.ErrConflict
	}
	if _, taken := s.identities[identity.ID]; taken {
		return domain.ErrConflict
	}
	identity.Email = email
	s.identities[identity.ID] = cloneIdentity(identity)
	s.byEmail[email] = identity.ID
	return nil
}

func (s *MemoryStore) FindIdentityByEmail(_ context.Context, email string) (*domain.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[domain.NormalizeEmail(email)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneIdentity(s.identities[id]), nil
}

func (s *MemoryStore) FindIdentityByID(_ context.Context, id string) (*domain.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.identities[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneIdentity(identity), nil
}

func (s *MemoryStore) UpdateIdentity(_ context.Context, id string, update domain.IdentityUpdate) (*domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.identities[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if g := update.Guard; g != nil {
		slot := current.Slot(g.Slot)
		if slot == nil || *slot != g.Expected {
			return nil, domain.ErrAlreadyConsumedOrStale
		}
	}

	next := cloneIdentity(current)
	update.Apply(next, s.now().UTC())
	s.identities[id] = next
	return cloneIdentity(next), nil
}

func (s *MemoryStore) CreateRefreshRecord(_ context.Context, session domain.RefreshSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.Fingerprint]; exists {
		return domain.ErrConflict
	}
	s.sessions[session.Fingerprint] = session
	return nil
}

func (s *MemoryStore) FindRefreshRecord(_ context.Context, fingerprint string) (*domain.RefreshSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[fingerprint]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &session, nil
}

func (s *MemoryStore) DeleteRefreshRecord(_ context.Context, fingerprint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[fingerprint]; !ok {
		return false, nil
	}
	delete(s.sessions, fingerprint)
	return true, nil
}

func (s *MemoryStore) DeleteAllRefreshRecordsForIdentity(_ context.Context, identityID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for fp, session := range s.sessions {
		if session.IdentityID == identityID {
			delete(s.sessions, fp)
			removed++
		}
	}
	return removed, nil
}

func cloneIdentity(in *domain.Identity) *domain.Identity {
	out := *in
	if in.EmailVerifyToken != nil {
		v := *in.EmailVerifyToken
		out.EmailVerifyToken = &v
	}
	if in.ForgotPasswordToken != nil {
		v := *in.ForgotPasswordToken
		out.ForgotPasswordToken = &v
	}
	if in.DateOfBirth != nil {
		v := *in.DateOfBirth
		out.DateOfBirth = &v
	}
	return &out
}

// PurgeExpiredRefreshRecords drops sessions that expired before now.
func (s *MemoryStore) PurgeExpiredRefreshRecords(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for fp, session := range s.sessions {
		if !session.ExpiresAt.IsZero() && session.ExpiresAt.Before(now) {
			delete(s.sessions, fp)
			removed++
		}
	}
	return removed, nil
}
