package session

import "time"

// Session is a server-side session row.
//
// Invariants:
// - TokenHash is the only stored form of the session token (one-way hash);
//   the raw token exists only client-side.
// - AbsoluteExpiresAt is fixed at creation and never extended.
// - LastActivityAt only ever moves forward.
// - Once inactive or past either timeout the session is terminal; it can
//   never become valid again. Re-login creates a new row.
type Session struct {
	ID                string     `json:"id" db:"id"`
	UserID            string     `json:"user_id" db:"user_id"`
	TenantID          string     `json:"tenant_id,omitempty" db:"tenant_id"`
	TokenHash         string     `json:"-" db:"token_hash"`
	AppType           string     `json:"app_type,omitempty" db:"app_type"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	LastActivityAt    time.Time  `json:"last_activity_at" db:"last_activity_at"`
	AbsoluteExpiresAt time.Time  `json:"absolute_expires_at" db:"absolute_expires_at"`
	IsActive          bool       `json:"is_active" db:"is_active"`
	RevokedAt         *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	RevokeReason      string     `json:"revoke_reason,omitempty" db:"revoke_reason"`
}

// Revoke reasons. Keep these stable; they are part of the internal RPC contract.
const (
	ReasonLogout          = "logout"
	ReasonIdleTimeout     = "idle_timeout"
	ReasonAbsoluteTimeout = "absolute_timeout"
	ReasonAdminRevoke     = "admin_revoke"
	ReasonPasswordChange  = "password_change"
	ReasonCleanupStale    = "cleanup_stale"
)

// Expiry reasons reported by Validate. "idle" and "absolute" are computed at
// validation time; an inactive row reports its stored revoke reason instead.
const (
	ExpiryIdle     = "idle"
	ExpiryAbsolute = "absolute"
)

// ValidationResult is the answer to a single validate call.
type ValidationResult struct {
	IsValid          bool   `json:"is_valid"`
	ExpiryReason     string `json:"expiry_reason,omitempty"`
	SecondsRemaining int64  `json:"seconds_remaining"`
	ShowWarning      bool   `json:"show_warning"`
	UserID           string `json:"user_id,omitempty"`
	TenantID         string `json:"tenant_id,omitempty"`
	AppType          string `json:"app_type,omitempty"`
}

// CreateInput carries the metadata captured at login.
type CreateInput struct {
	UserID   string
	TenantID string
	AppType  string
}
