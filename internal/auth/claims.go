package auth

import "github.com/golang-jwt/jwt/v5"

// Claims is the only supported identity-token claims shape for this platform.
//
// SessionID references the server-side session row; the row is the authority
// on validity, not this token's own expiry claims. AbsoluteExp is copied once
// at login and preserved verbatim across refresh so the client can see its
// hard deadline; the server never trusts it over the session row.
type Claims struct {
	jwt.RegisteredClaims

	UserID      string `json:"user_id"`
	TenantID    string `json:"tenant_id,omitempty"`
	AppType     string `json:"app_type,omitempty"`
	SessionID   string `json:"sid,omitempty"`
	AbsoluteExp int64  `json:"absolute_exp,omitempty"`
}
