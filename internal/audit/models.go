package audit

import "time"

// Event is an immutable, append-only security audit record.
//
// Invariants:
// - Events are never updated or deleted.
// - Capture is best-effort; never block a request path on audit failures.
//
// Storage recommendation (Postgres):
// - Table audit_events with an INSERT-only policy.
// - Optional: partition by time for retention.

type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the security category of the record.
	Type EventType `json:"type" db:"type"`

	// Subject is the principal the event concerns (token subject or user id).
	Subject string `json:"subject,omitempty" db:"subject"`

	// TenantID is captured when known.
	TenantID string `json:"tenant_id,omitempty" db:"tenant_id"`

	// Kind is a short machine-readable code within the type, e.g.
	// "capability_hash_mismatch".
	Kind string `json:"kind,omitempty" db:"kind"`

	// Detail is a short human-readable description for internal ops.
	Detail string `json:"detail,omitempty" db:"detail"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	// EventTypeSecurityAlert marks tampered or forged tokens: capability
	// hash mismatches and bad signatures. Distinct from ordinary expiry.
	EventTypeSecurityAlert EventType = "security_alert"
	// EventTypeSessionRevoked records administrative session termination.
	EventTypeSessionRevoked EventType = "session_revoked"
	// EventTypeAdminAction records other privileged operations.
	EventTypeAdminAction EventType = "admin_action"
)
