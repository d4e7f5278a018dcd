package session

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is a mutex-guarded in-memory repository useful for tests and
// single-process deployments. It is not intended for production use.
type MemoryRepo struct {
	mu       sync.Mutex
	sessions map[string]Session // keyed by token hash
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{sessions: make(map[string]Session)}
}

func (r *MemoryRepo) Create(ctx context.Context, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.TokenHash] = s
	return nil
}

func (r *MemoryRepo) GetByTokenHash(ctx context.Context, tokenHash string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[tokenHash]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (r *MemoryRepo) UpdateActivity(ctx context.Context, tokenHash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[tokenHash]
	if !ok || !s.IsActive {
		return nil
	}
	if at.After(s.LastActivityAt) {
		s.LastActivityAt = at
		r.sessions[tokenHash] = s
	}
	return nil
}

func (r *MemoryRepo) Revoke(ctx context.Context, tokenHash, reason string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[tokenHash]
	if !ok || !s.IsActive {
		return nil
	}
	s.IsActive = false
	s.RevokedAt = &at
	s.RevokeReason = reason
	r.sessions[tokenHash] = s
	return nil
}

func (r *MemoryRepo) RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, s := range r.sessions {
		if s.UserID != userID || !s.IsActive {
			continue
		}
		s.IsActive = false
		s.RevokedAt = &at
		s.RevokeReason = reason
		r.sessions[k] = s
		n++
	}
	return n, nil
}

func (r *MemoryRepo) MarkExpired(ctx context.Context, now time.Time, idleTimeout time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, s := range r.sessions {
		if !s.IsActive {
			continue
		}
		if now.Before(s.AbsoluteExpiresAt) && now.Sub(s.LastActivityAt) < idleTimeout {
			continue
		}
		at := now
		s.IsActive = false
		s.RevokedAt = &at
		s.RevokeReason = ReasonCleanupStale
		r.sessions[k] = s
		n++
	}
	return n, nil
}
