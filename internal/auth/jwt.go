package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Manager issues and verifies signed identity tokens.
//
// Two-phase token reads are a deliberate contract:
//   - Phase 1 (SessionID): an UNVERIFIED decode used only to locate the
//     server-side session row. It must never be used to authorize anything.
//   - Phase 2 (Verify): full signature verification before any identity
//     claim is trusted.
//
// Collapsing the phases risks authorizing on unverified claims; keep them
// separate.
type Manager struct {
	secret   []byte
	issuer   string
	audience string
	idleTTL  time.Duration
}

func NewManager(secret, issuer, audience string, idleTTL time.Duration) (*Manager, error) {
	if secret == "" {
		return nil, errors.New("auth: JWT secret is required")
	}
	if idleTTL <= 0 {
		return nil, errors.New("auth: idle TTL must be > 0")
	}
	return &Manager{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		idleTTL:  idleTTL,
	}, nil
}

// Identity is the subject material baked into an issued token.
type Identity struct {
	UserID   string
	TenantID string
	AppType  string
}

// Issue mints the login-time token. The idle expiry is now+idleTTL; the
// absolute expiry is copied from the session row and never changes across
// refreshes.
func (m *Manager) Issue(now time.Time, id Identity, sessionToken string, absoluteExp time.Time) (string, error) {
	if id.UserID == "" {
		return "", errors.New("auth: user_id required")
	}
	return m.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Audience:  audienceOrNil(m.audience),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(m.idleExpiry(now, absoluteExp)),
			ID:        uuid.NewString(),
		},
		UserID:      id.UserID,
		TenantID:    id.TenantID,
		AppType:     id.AppType,
		SessionID:   sessionToken,
		AbsoluteExp: absoluteExp.Unix(),
	})
}

// Refresh re-issues a token with an advanced idle expiry. iat and
// absolute_exp are carried over verbatim from the old token; refresh extends
// the idle window only, never the absolute budget.
func (m *Manager) Refresh(tokenString string, now time.Time) (string, error) {
	old, err := m.Verify(tokenString, now)
	if err != nil {
		return "", err
	}
	absoluteExp := time.Unix(old.AbsoluteExp, 0)
	if !now.Before(absoluteExp) {
		return "", jwt.ErrTokenExpired
	}
	old.ExpiresAt = jwt.NewNumericDate(m.idleExpiry(now, absoluteExp))
	old.ID = uuid.NewString()
	return m.sign(old)
}

// Verify is the Phase 2 trusted read: full HS256 signature verification plus
// registered-claim validation. Only verified claims may drive authorization.
func (m *Manager) Verify(tokenString string, now time.Time) (Claims, error) {
	var claims Claims

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(30*time.Second), // clock skew tolerance
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)

	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return Claims{}, err
	}
	if claims.UserID == "" {
		return Claims{}, errors.New("auth: user_id missing")
	}
	return claims, nil
}

// SessionID is the Phase 1 liveness probe: it decodes the sid claim WITHOUT
// verifying the signature. The result keys a session lookup and nothing else.
func (m *Manager) SessionID(tokenString string) (string, error) {
	var claims Claims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, &claims); err != nil {
		return "", err
	}
	return claims.SessionID, nil
}

func (m *Manager) sign(claims Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(m.secret)
}

// idleExpiry clamps the idle window to the absolute deadline.
func (m *Manager) idleExpiry(now, absoluteExp time.Time) time.Time {
	exp := now.Add(m.idleTTL)
	if !absoluteExp.IsZero() && absoluteExp.Before(exp) {
		exp = absoluteExp
	}
	return exp
}

func audienceOrNil(aud string) jwt.ClaimStrings {
	if aud == "" {
		return nil
	}
	return jwt.ClaimStrings{aud}
}
