package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Service is the session lifecycle manager. It is the single authority on
// session validity; identity tokens reference sessions but never outrank them.
//
// Dual-timeout discipline:
// - idle timeout: invalid after idleTimeout of inactivity
// - absolute timeout: invalid once past absolute_expires_at, regardless of activity
//
// State machine: ACTIVE -> {IDLE_EXPIRED, ABSOLUTE_EXPIRED, REVOKED}.
// All right-hand states are terminal; re-login creates a new session.
type Service struct {
	repo            Repository
	cache           *Cache // optional; nil disables
	idleTimeout     time.Duration
	absoluteTimeout time.Duration
	warnThreshold   time.Duration

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

// DefaultWarnThreshold triggers the proactive re-auth warning when fewer than
// this many seconds remain.
const DefaultWarnThreshold = 300 * time.Second

var ErrInvalidArgument = errors.New("session: invalid argument")

type Config struct {
	IdleTimeout     time.Duration
	AbsoluteTimeout time.Duration
	WarnThreshold   time.Duration

	// Clock overrides time.Now, for deterministic tests.
	Clock func() time.Time
}

func NewService(repo Repository, cfg Config) (*Service, error) {
	if repo == nil {
		return nil, errors.New("session: repository is required")
	}
	if cfg.IdleTimeout <= 0 || cfg.AbsoluteTimeout <= 0 {
		return nil, errors.New("session: idle and absolute timeouts must be > 0")
	}
	if cfg.AbsoluteTimeout <= cfg.IdleTimeout {
		return nil, errors.New("session: absolute timeout must be greater than idle timeout")
	}
	warn := cfg.WarnThreshold
	if warn <= 0 {
		warn = DefaultWarnThreshold
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		repo:            repo,
		idleTimeout:     cfg.IdleTimeout,
		absoluteTimeout: cfg.AbsoluteTimeout,
		warnThreshold:   warn,
		clock:           clock,
	}, nil
}

// WithCache attaches a validation cache. Staleness is bounded by the cache
// TTL; revocation invalidates best-effort.
func (s *Service) WithCache(c *Cache) *Service {
	s.cache = c
	return s
}

// HashToken is the one-way mapping from the opaque session token to its
// stored form. The raw token is never persisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Create opens a new session and returns the opaque token plus the stored row.
// absolute_expires_at is fixed here and never extended afterwards.
func (s *Service) Create(ctx context.Context, in CreateInput) (string, Session, error) {
	if in.UserID == "" {
		return "", Session{}, ErrInvalidArgument
	}
	now := s.clock().UTC()
	token := uuid.NewString() + uuid.NewString()

	row := Session{
		ID:                uuid.NewString(),
		UserID:            in.UserID,
		TenantID:          in.TenantID,
		TokenHash:         HashToken(token),
		AppType:           in.AppType,
		CreatedAt:         now,
		LastActivityAt:    now,
		AbsoluteExpiresAt: now.Add(s.absoluteTimeout),
		IsActive:          true,
	}
	if err := s.repo.Create(ctx, row); err != nil {
		return "", Session{}, err
	}
	return token, row, nil
}

// Validate answers whether a session token is still within policy.
//
// Check order matters: revocation outranks absolute expiry, absolute expiry
// outranks idle expiry. Expired-but-still-"active" rows are invalid here even
// if cleanup has not run yet.
func (s *Service) Validate(ctx context.Context, token string) (ValidationResult, error) {
	if token == "" {
		return ValidationResult{}, ErrInvalidArgument
	}
	row, err := s.lookup(ctx, HashToken(token))
	if errors.Is(err, ErrNotFound) {
		return ValidationResult{IsValid: false, ExpiryReason: ReasonLogout}, nil
	}
	if err != nil {
		return ValidationResult{}, err
	}
	return s.evaluate(row), nil
}

func (s *Service) evaluate(row Session) ValidationResult {
	now := s.clock().UTC()

	if !row.IsActive {
		reason := row.RevokeReason
		if reason == "" {
			reason = ReasonAdminRevoke
		}
		return ValidationResult{IsValid: false, ExpiryReason: reason, UserID: row.UserID, TenantID: row.TenantID}
	}
	if !now.Before(row.AbsoluteExpiresAt) {
		return ValidationResult{IsValid: false, ExpiryReason: ExpiryAbsolute, UserID: row.UserID, TenantID: row.TenantID}
	}
	idleDeadline := row.LastActivityAt.Add(s.idleTimeout)
	if !now.Before(idleDeadline) {
		return ValidationResult{IsValid: false, ExpiryReason: ExpiryIdle, UserID: row.UserID, TenantID: row.TenantID}
	}

	deadline := idleDeadline
	if row.AbsoluteExpiresAt.Before(deadline) {
		deadline = row.AbsoluteExpiresAt
	}
	remaining := int64(deadline.Sub(now) / time.Second)
	return ValidationResult{
		IsValid:          true,
		SecondsRemaining: remaining,
		// Strictly below the threshold: exactly 300s remaining does not warn.
		ShowWarning: time.Duration(remaining)*time.Second < s.warnThreshold,
		UserID:      row.UserID,
		TenantID:    row.TenantID,
		AppType:     row.AppType,
	}
}

func (s *Service) lookup(ctx context.Context, tokenHash string) (Session, error) {
	if s.cache != nil {
		if row, ok := s.cache.Get(ctx, tokenHash); ok {
			return row, nil
		}
	}
	row, err := s.repo.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, row)
	}
	return row, nil
}

// Touch advances last_activity_at to now. Idempotent and commutative under
// concurrent calls: the column only moves forward, and staleness can only
// shorten, never extend, the observed remaining lifetime.
func (s *Service) Touch(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidArgument
	}
	hash := HashToken(token)
	if s.cache != nil {
		s.cache.Invalidate(ctx, hash)
	}
	return s.repo.UpdateActivity(ctx, hash, s.clock().UTC())
}

// Revoke terminates a session. Irreversible.
func (s *Service) Revoke(ctx context.Context, token, reason string) error {
	if token == "" {
		return ErrInvalidArgument
	}
	if !validReason(reason) {
		return ErrInvalidArgument
	}
	hash := HashToken(token)
	if s.cache != nil {
		s.cache.Invalidate(ctx, hash)
	}
	return s.repo.Revoke(ctx, hash, reason, s.clock().UTC())
}

// RevokeAllForUser terminates every active session of a user, e.g. on
// password change. Returns the number of sessions revoked.
//
// Cached rows for this user cannot be addressed by key here; they age out
// within the cache TTL instead.
func (s *Service) RevokeAllForUser(ctx context.Context, userID, reason string) (int, error) {
	if userID == "" {
		return 0, ErrInvalidArgument
	}
	if !validReason(reason) {
		return 0, ErrInvalidArgument
	}
	return s.repo.RevokeAllForUser(ctx, userID, reason, s.clock().UTC())
}

// CleanupExpired bulk-deactivates rows past either timeout. Housekeeping
// only: Validate already treats such rows as invalid.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	n, err := s.repo.MarkExpired(ctx, s.clock().UTC(), s.idleTimeout)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("stale sessions cleaned", "count", n)
	}
	return n, nil
}

func validReason(reason string) bool {
	switch reason {
	case ReasonLogout, ReasonIdleTimeout, ReasonAbsoluteTimeout,
		ReasonAdminRevoke, ReasonPasswordChange, ReasonCleanupStale:
		return true
	default:
		return false
	}
}
