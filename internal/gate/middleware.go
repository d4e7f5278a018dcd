// Package gate is the per-service request interception point for session
// policy. It answers one question on essentially every request: is the
// caller's session still within policy? Resource-level authorization is a
// separate, handler-local concern (internal/capability).
package gate

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trustcore/internal/auth"
	"trustcore/internal/session"
	"trustcore/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "

	// HeaderSessionWarning carries seconds remaining when the session is
	// close to expiry, so clients can re-authenticate proactively.
	HeaderSessionWarning = "X-Session-Warning"
	// HeaderSessionExpired names the machine-readable expiry reason on 401.
	HeaderSessionExpired = "X-Session-Expired"
	// HeaderSessionCheck distinguishes a validator outage (503) from a real
	// expiry (401). Clients should retry shortly, not re-login.
	HeaderSessionCheck = "X-Session-Check"
)

// Validator is the session authority as seen from a gate. Implemented
// in-process by session.Service and cross-service by Client.
type Validator interface {
	Validate(ctx context.Context, sessionToken string) (session.ValidationResult, error)
	Touch(ctx context.Context, sessionToken string) error
}

// Prober extracts the session reference from a bearer token without
// verifying it (Phase 1 liveness probe). Implemented by auth.Manager.
type Prober interface {
	SessionID(tokenString string) (string, error)
}

// Options tune a gate instance.
type Options struct {
	// SkipPaths are matched against the request path: exact match, or prefix
	// match for entries ending in "/". Health, login and internal
	// service-to-service paths belong here.
	SkipPaths []string
	// Timeout bounds the validate call. The gate fails closed on timeout.
	Timeout time.Duration
}

func (o Options) withDefaults() Options {
	out := o
	if out.Timeout <= 0 {
		out.Timeout = 2 * time.Second
	}
	return out
}

// Middleware enforces session policy on every request.
//
// Outcomes are deliberately three-way:
//   - 401 + X-Session-Expired: the session is over; re-authenticate.
//   - 503 + X-Session-Check: the authority could not be reached; retry.
//     An authority outage must never degrade into trusting the token's own
//     unverified claims, so the request is rejected, not forwarded.
//   - forward: the session is live; activity is refreshed best-effort.
//
// Tokens without a session reference pass through unmodified: they predate
// session tracking and are handled by downstream identity verification.
func Middleware(v Validator, p Prober, opts Options) gin.HandlerFunc {
	opts = opts.withDefaults()

	return func(c *gin.Context) {
		if skip(opts.SkipPaths, c.Request.URL.Path) {
			c.Next()
			return
		}

		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		if raw == "" || !strings.HasPrefix(raw, bearerPrefix) {
			c.Next()
			return
		}
		tok := strings.TrimPrefix(raw, bearerPrefix)

		// Phase 1: unverified read, keys the session lookup and nothing else.
		sid, err := p.SessionID(tok)
		if err != nil || sid == "" {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), opts.Timeout)
		defer cancel()

		res, err := v.Validate(ctx, sid)
		if err != nil {
			// Fail closed: unreachable or erroring authority rejects.
			logger.FromGin(c).Error("session validation unavailable", "err", err)
			c.Header(HeaderSessionCheck, "unavailable")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "session validation unavailable"})
			return
		}
		if !res.IsValid {
			c.Header(HeaderSessionExpired, res.ExpiryReason)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":         "session expired",
				"expiry_reason": res.ExpiryReason,
			})
			return
		}

		if err := v.Touch(ctx, sid); err != nil {
			// Staleness only shortens the observed window; not fatal.
			logger.FromGin(c).Warn("session activity refresh failed", "err", err)
		}
		if res.ShowWarning {
			c.Writer.Header().Set(HeaderSessionWarning, strconv.FormatInt(res.SecondsRemaining, 10))
		}

		rctx := auth.WithIdentity(c.Request.Context(), res.UserID, res.TenantID, sid)
		c.Request = c.Request.WithContext(rctx)
		c.Set("user_id", res.UserID)
		c.Set("tenant_id", res.TenantID)

		c.Next()
	}
}

func skip(paths []string, reqPath string) bool {
	for _, p := range paths {
		if p == reqPath {
			return true
		}
		if strings.HasSuffix(p, "/") && strings.HasPrefix(reqPath, p) {
			return true
		}
	}
	return false
}

