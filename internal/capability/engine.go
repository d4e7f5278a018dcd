package capability

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Engine issues and verifies capability tokens and answers resource/action
// authorization queries. Verification is entirely local (cryptographic plus
// pattern matching): no RPC, no server-side state. That stateless property is
// the deliberate contrast with the stateful session check.
//
// There is no jti revocation list: a capability token is invalidated only by
// its exp. Keep TTLs short.
type Engine struct {
	secret   []byte
	issuer   string
	ttl      time.Duration
	reporter SecurityReporter
}

// SecurityReporter receives integrity failures. Distinct from ordinary expiry:
// a hash mismatch or bad signature means a tampered or forged token.
type SecurityReporter interface {
	SecurityAlert(ctx context.Context, kind, subject, detail string)
}

var (
	ErrBadSignature = errors.New("capability: signature verification failed")
	ErrHashMismatch = errors.New("capability: grant hash mismatch")
	ErrNoGrants     = errors.New("capability: token carries no grants")
)

func NewEngine(secret, issuer string, ttl time.Duration) (*Engine, error) {
	if secret == "" {
		return nil, errors.New("capability: secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("capability: ttl must be > 0")
	}
	return &Engine{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// WithReporter wires security-event reporting. Optional.
func (e *Engine) WithReporter(r SecurityReporter) *Engine {
	e.reporter = r
	return e
}

// Issue canonicalizes the grant list, hashes it, and signs the payload.
// The token embeds the grants in their given order; only the hash uses the
// canonical sorted form.
func (e *Engine) Issue(now time.Time, subject, tenantID string, grants []Grant) (string, error) {
	if subject == "" {
		return "", errors.New("capability: subject required")
	}
	if len(grants) == 0 {
		return "", ErrNoGrants
	}
	hash, err := HashGrants(grants)
	if err != nil {
		return "", err
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    e.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(e.ttl)),
			ID:        uuid.NewString(),
		},
		TenantID:       tenantID,
		Grants:         grants,
		CapabilityHash: hash,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(e.secret)
}

// Verify checks the signature, then independently recomputes the grant hash
// from the token's own embedded grants and requires exact equality. A
// mismatch is treated identically to a signature failure: the claims may have
// been tampered with even if a signature check would somehow pass.
func (e *Engine) Verify(ctx context.Context, tokenString string, now time.Time) (Claims, error) {
	var claims Claims

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return e.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			e.report(ctx, "capability_bad_signature", claims.Subject, err.Error())
			return Claims{}, ErrBadSignature
		}
		return Claims{}, err
	}

	recomputed, err := HashGrants(claims.Grants)
	if err != nil {
		return Claims{}, err
	}
	if recomputed != claims.CapabilityHash {
		e.report(ctx, "capability_hash_mismatch", claims.Subject, "embedded grants do not match capability_hash")
		return Claims{}, ErrHashMismatch
	}
	return claims, nil
}

// CheckResourceAccess walks the grants in token order; the first grant that
// fully matches resource, action, and constraints decides. Default deny.
func (e *Engine) CheckResourceAccess(claims Claims, resource, action string, rc ReqContext) bool {
	for _, g := range claims.Grants {
		if !MatchResource(g.ResourcePattern, resource) {
			continue
		}
		if !matchAction(g.Actions, action) {
			continue
		}
		return constraintsHold(g.Constraints, rc)
	}
	return false
}

// GetResourceLimits returns the limits map of the first grant whose pattern
// matches the resource. First match, not merged, like access checks.
func (e *Engine) GetResourceLimits(claims Claims, resource string) (map[string]float64, bool) {
	for _, g := range claims.Grants {
		if MatchResource(g.ResourcePattern, resource) {
			return g.Limits, true
		}
	}
	return nil, false
}

// MatchResource reports whether pattern covers resource. A pattern ending in
// ":*" matches any resource under its prefix, e.g. "llm:*" matches
// "llm:groq" but not "llm" and not "llmx:groq".
func MatchResource(pattern, resource string) bool {
	if pattern == resource {
		return true
	}
	prefix, ok := strings.CutSuffix(pattern, ":*")
	if !ok {
		return false
	}
	return strings.HasPrefix(resource, prefix+":") && len(resource) > len(prefix)+1
}

func matchAction(actions []string, action string) bool {
	for _, a := range actions {
		if a == action || a == ActionWildcard {
			return true
		}
	}
	return false
}

// constraintsHold evaluates every present constraint; absent constraints
// impose no restriction.
func constraintsHold(c *Constraints, rc ReqContext) bool {
	if c == nil {
		return true
	}
	now := rc.Now
	if now.IsZero() {
		now = time.Now()
	}
	if c.ValidUntil != nil && !now.Before(*c.ValidUntil) {
		return false
	}
	if len(c.IPRestrictions) > 0 && !contains(c.IPRestrictions, rc.IP) {
		return false
	}
	if len(c.AllowedTenants) > 0 && !contains(c.AllowedTenants, rc.Tenant) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// HashGrants digests the canonical form of a grant list: grants sorted by
// resource pattern, actions sorted, limit keys sorted by JSON encoding.
func HashGrants(grants []Grant) (string, error) {
	canonical := make([]Grant, len(grants))
	copy(canonical, grants)
	sort.SliceStable(canonical, func(i, j int) bool {
		return canonical[i].ResourcePattern < canonical[j].ResourcePattern
	})
	for i, g := range canonical {
		actions := make([]string, len(g.Actions))
		copy(actions, g.Actions)
		sort.Strings(actions)
		canonical[i].Actions = actions
	}
	raw, err := json.Marshal(canonical)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

func (e *Engine) report(ctx context.Context, kind, subject, detail string) {
	if e.reporter == nil {
		return
	}
	e.reporter.SecurityAlert(ctx, kind, subject, detail)
}
