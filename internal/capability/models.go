package capability

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Grant permits a set of actions on resources matching a pattern.
//
// ResourcePattern is either an exact resource name ("rag:semantic_search") or
// a prefix pattern ending in ":*" ("llm:*"). A prefix pattern matches any
// resource under that prefix but never the bare prefix itself.
//
// Grants are evaluated in token order and the first full match wins; there is
// no merging across overlapping grants. That is an intentional
// allow-list/default-deny policy, so issuers must order overlapping grants
// deliberately.
type Grant struct {
	ResourcePattern string             `json:"resource_pattern"`
	Actions         []string           `json:"actions"`
	Limits          map[string]float64 `json:"limits,omitempty"`
	Constraints     *Constraints       `json:"constraints,omitempty"`
}

// Constraints narrow a grant. Absent fields impose no restriction; present
// fields must all hold.
type Constraints struct {
	ValidUntil     *time.Time `json:"valid_until,omitempty"`
	IPRestrictions []string   `json:"ip_restrictions,omitempty"`
	AllowedTenants []string   `json:"allowed_tenants,omitempty"`
}

// ActionWildcard in a grant's action set permits every action.
const ActionWildcard = "*"

// Claims is the signed capability-token payload. CapabilityHash is a digest
// over the canonical grant list; verification recomputes it from the token's
// own grants and requires exact equality, independent of the signature check.
type Claims struct {
	jwt.RegisteredClaims

	TenantID       string  `json:"tenant_id,omitempty"`
	Grants         []Grant `json:"grants"`
	CapabilityHash string  `json:"capability_hash"`
}

// ReqContext carries the caller-side facts constraints are checked against.
type ReqContext struct {
	IP     string
	Tenant string
	Now    time.Time
}
