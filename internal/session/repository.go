package session

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository is the persistence contract for session rows.
//
// All mutation is single-row, single-statement. No multi-row transactions are
// required: validation tolerates stale-but-active rows (it recomputes both
// timeouts itself) and activity updates are benign last-write-wins.
type Repository interface {
	Create(ctx context.Context, s Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (Session, error)
	// UpdateActivity advances last_activity_at. The column must never move
	// backwards, even under concurrent calls.
	UpdateActivity(ctx context.Context, tokenHash string, at time.Time) error
	Revoke(ctx context.Context, tokenHash, reason string, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int, error)
	// MarkExpired deactivates rows past their absolute deadline or idle for
	// longer than idleTimeout, stamping ReasonCleanupStale.
	MarkExpired(ctx context.Context, now time.Time, idleTimeout time.Duration) (int, error)
}

var ErrNotFound = errors.New("session: not found")

// NOTE: This repository assumes the following table exists:
//
//   CREATE TABLE sessions (
//     id                  uuid PRIMARY KEY,
//     user_id             text NOT NULL,
//     tenant_id           text,
//     token_hash          text NOT NULL UNIQUE,
//     app_type            text,
//     created_at          timestamptz NOT NULL,
//     last_activity_at    timestamptz NOT NULL,
//     absolute_expires_at timestamptz NOT NULL,
//     is_active           boolean NOT NULL DEFAULT true,
//     revoked_at          timestamptz,
//     revoke_reason       text
//   );

type sqlRepo struct {
	db *sql.DB
}

// NewSQLRepo returns a Postgres-backed repository (pgx stdlib driver).
func NewSQLRepo(db *sql.DB) Repository {
	return &sqlRepo{db: db}
}

func (r *sqlRepo) Create(ctx context.Context, s Session) error {
	const q = `
INSERT INTO sessions (
  id, user_id, tenant_id, token_hash, app_type,
  created_at, last_activity_at, absolute_expires_at, is_active
) VALUES ($1,$2,NULLIF($3,''),$4,NULLIF($5,''),$6,$7,$8,true)
`
	_, err := r.db.ExecContext(ctx, q,
		s.ID,
		s.UserID,
		s.TenantID,
		s.TokenHash,
		s.AppType,
		s.CreatedAt,
		s.LastActivityAt,
		s.AbsoluteExpiresAt,
	)
	return err
}

func (r *sqlRepo) GetByTokenHash(ctx context.Context, tokenHash string) (Session, error) {
	const q = `
SELECT id, user_id, COALESCE(tenant_id,''), token_hash, COALESCE(app_type,''),
  created_at, last_activity_at, absolute_expires_at, is_active, revoked_at, COALESCE(revoke_reason,'')
FROM sessions
WHERE token_hash = $1
`
	var s Session
	err := r.db.QueryRowContext(ctx, q, tokenHash).Scan(
		&s.ID,
		&s.UserID,
		&s.TenantID,
		&s.TokenHash,
		&s.AppType,
		&s.CreatedAt,
		&s.LastActivityAt,
		&s.AbsoluteExpiresAt,
		&s.IsActive,
		&s.RevokedAt,
		&s.RevokeReason,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	return s, nil
}

func (r *sqlRepo) UpdateActivity(ctx context.Context, tokenHash string, at time.Time) error {
	// GREATEST keeps the column monotonic under concurrent touches.
	const q = `
UPDATE sessions SET last_activity_at = GREATEST(last_activity_at, $1)
WHERE token_hash = $2 AND is_active
`
	_, err := r.db.ExecContext(ctx, q, at, tokenHash)
	return err
}

func (r *sqlRepo) Revoke(ctx context.Context, tokenHash, reason string, at time.Time) error {
	// is_active guard makes revocation a one-way transition.
	const q = `
UPDATE sessions SET is_active = false, revoked_at = $1, revoke_reason = $2
WHERE token_hash = $3 AND is_active
`
	_, err := r.db.ExecContext(ctx, q, at, reason, tokenHash)
	return err
}

func (r *sqlRepo) RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int, error) {
	const q = `
UPDATE sessions SET is_active = false, revoked_at = $1, revoke_reason = $2
WHERE user_id = $3 AND is_active
`
	res, err := r.db.ExecContext(ctx, q, at, reason, userID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *sqlRepo) MarkExpired(ctx context.Context, now time.Time, idleTimeout time.Duration) (int, error) {
	const q = `
UPDATE sessions SET is_active = false, revoked_at = $1, revoke_reason = $2
WHERE is_active AND (absolute_expires_at <= $1 OR last_activity_at <= $3)
`
	res, err := r.db.ExecContext(ctx, q, now, ReasonCleanupStale, now.Add(-idleTimeout))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
