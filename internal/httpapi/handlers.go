package httpapi

import (
	"errors"
	"net/http"
	"time"

	"trustcore/internal/audit"
	"trustcore/internal/auth"
	"trustcore/internal/capability"
	"trustcore/internal/quota"
	"trustcore/internal/session"
	"trustcore/pkg/logger"
	"trustcore/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
//
// Authentication/session failures are resolved at the gate and never reach
// these handlers; authorization failures are raised here, because only the
// handler knows the resource and action in play.
type Handlers struct {
	Auth       *auth.Manager
	Capability *capability.Engine
	Sessions   *session.Service
	Audit      *audit.Service

	// Quota meters per-day capability limits. Optional; nil disables metering.
	Quota *quota.Service

	// Redis backs the login rate limiter. Optional; nil disables limiting.
	Redis *redis.Client

	// Clock is injectable for deterministic tests.
	Clock func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Clock != nil {
		return h.Clock().UTC()
	}
	return time.Now().UTC()
}

const (
	loginRateLimit  = 10
	loginRateWindow = time.Minute
)

// --- Auth ---

type loginRequest struct {
	UserID   string             `json:"user_id"`
	TenantID string             `json:"tenant_id"`
	AppType  string             `json:"app_type"`
	Grants   []capability.Grant `json:"grants,omitempty"`
}

// Login opens a session and issues the signed identity token (and, when
// grants are requested, a capability token).
//
// NOTE: credential verification is upstream of this core; callers reach this
// endpoint only after the identity provider has vouched for them.
func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}

	if h.Redis != nil {
		ok, err := utils.AllowRate(c.Request.Context(), h.Redis, "login:"+req.UserID, loginRateLimit, loginRateWindow)
		if err != nil {
			// Limiter outage is an availability tradeoff, not a trust
			// decision; log and continue.
			logger.FromGin(c).Warn("login rate limiter unavailable", "err", err)
		} else if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many login attempts"})
			return
		}
	}

	sessionToken, row, err := h.Sessions.Create(c.Request.Context(), session.CreateInput{
		UserID:   req.UserID,
		TenantID: req.TenantID,
		AppType:  req.AppType,
	})
	if err != nil {
		logger.FromGin(c).Error("session create failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session creation failed"})
		return
	}

	accessToken, err := h.Auth.Issue(h.now(), auth.Identity{
		UserID:   req.UserID,
		TenantID: req.TenantID,
		AppType:  req.AppType,
	}, sessionToken, row.AbsoluteExpiresAt)
	if err != nil {
		logger.FromGin(c).Error("token issuance failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}

	resp := gin.H{
		"access_token":        accessToken,
		"absolute_expires_at": row.AbsoluteExpiresAt,
	}
	if len(req.Grants) > 0 {
		capToken, err := h.Capability.Issue(h.now(), req.UserID, req.TenantID, req.Grants)
		if err != nil {
			logger.FromGin(c).Error("capability issuance failed", "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "capability issuance failed"})
			return
		}
		resp["capability_token"] = capToken
	}
	c.JSON(http.StatusOK, resp)
}

// Refresh re-issues the identity token with an advanced idle expiry. The
// session row stays the authority: an expired or revoked session cannot be
// refreshed no matter what the token claims.
func (h Handlers) Refresh(c *gin.Context) {
	tok, ok := bearerToken(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}

	claims, err := h.Auth.Verify(tok, h.now())
	if err != nil || claims.SessionID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	res, err := h.Sessions.Validate(c.Request.Context(), claims.SessionID)
	if err != nil {
		c.Header("X-Session-Check", "unavailable")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "session validation unavailable"})
		return
	}
	if !res.IsValid {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":         "session expired",
			"expiry_reason": res.ExpiryReason,
		})
		return
	}

	refreshed, err := h.Auth.Refresh(tok, h.now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "refresh failed"})
		return
	}
	if err := h.Sessions.Touch(c.Request.Context(), claims.SessionID); err != nil {
		logger.FromGin(c).Warn("session activity refresh failed", "err", err)
	}
	c.JSON(http.StatusOK, gin.H{"access_token": refreshed})
}

// Logout revokes the caller's session. The identity token itself is never
// server-tracked; destroying it is the client's job.
func (h Handlers) Logout(c *gin.Context) {
	tok, ok := bearerToken(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}
	sid, err := h.Auth.SessionID(tok)
	if err != nil || sid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	if err := h.Sessions.Revoke(c.Request.Context(), sid, session.ReasonLogout); err != nil {
		logger.FromGin(c).Error("logout revoke failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// --- Internal RPC surface ---
// Consumed by request gates in sibling services. Caller authentication is
// enforced by svcauth middleware on the route group, independent of session
// semantics.

type validateRequest struct {
	SessionToken string `json:"session_token"`
}

// InternalValidate answers a liveness query and, on a valid result,
// refreshes activity so remote gates get one-round-trip semantics.
func (h Handlers) InternalValidate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "session_token required"})
		return
	}

	res, err := h.Sessions.Validate(c.Request.Context(), req.SessionToken)
	if err != nil {
		logger.FromGin(c).Error("session validation failed", "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
		return
	}
	if res.IsValid {
		if err := h.Sessions.Touch(c.Request.Context(), req.SessionToken); err != nil {
			logger.FromGin(c).Warn("session activity refresh failed", "err", err)
		}
	}
	c.JSON(http.StatusOK, res)
}

type revokeRequest struct {
	SessionToken string `json:"session_token"`
	Reason       string `json:"reason"`
}

func (h Handlers) InternalRevoke(c *gin.Context) {
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "session_token required"})
		return
	}
	if req.Reason == "" {
		req.Reason = session.ReasonAdminRevoke
	}

	// Look the session up first so the audit record can carry the subject.
	res, err := h.Sessions.Validate(c.Request.Context(), req.SessionToken)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
		return
	}

	if err := h.Sessions.Revoke(c.Request.Context(), req.SessionToken, req.Reason); err != nil {
		logger.FromGin(c).Error("session revoke failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "revoke failed"})
		return
	}
	if h.Audit != nil {
		h.Audit.LogSessionRevoked(c.Request.Context(), res.UserID, res.TenantID, req.Reason, c.GetString("caller_service"))
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type revokeAllRequest struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

func (h Handlers) InternalRevokeAll(c *gin.Context) {
	var req revokeAllRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	if req.Reason == "" {
		req.Reason = session.ReasonAdminRevoke
	}

	n, err := h.Sessions.RevokeAllForUser(c.Request.Context(), req.UserID, req.Reason)
	if err != nil {
		logger.FromGin(c).Error("revoke-all failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "revoke-all failed"})
		return
	}
	if h.Audit != nil {
		h.Audit.LogSessionRevoked(c.Request.Context(), req.UserID, "", req.Reason, c.GetString("caller_service"))
	}
	c.JSON(http.StatusOK, gin.H{"sessions_revoked": n})
}

func (h Handlers) InternalCleanup(c *gin.Context) {
	n, err := h.Sessions.CleanupExpired(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("cleanup failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "cleanup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions_cleaned": n})
}

// --- Capability-checked example ---

type inferenceRequest struct {
	Provider  string `json:"provider"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// Inference demonstrates handler-local authorization: the capability token
// is verified entirely in-process, no RPC. Contrast with the stateful
// session check at the gate.
func (h Handlers) Inference(c *gin.Context) {
	tok, ok := bearerToken(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing capability token"})
		return
	}

	var req inferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Provider == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "provider required"})
		return
	}

	claims, err := h.Capability.Verify(c.Request.Context(), tok, h.now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid capability token"})
		return
	}

	resource := "llm:" + req.Provider
	rc := capability.ReqContext{
		IP:     c.ClientIP(),
		Tenant: claims.TenantID,
		Now:    h.now(),
	}
	if !h.Capability.CheckResourceAccess(claims, resource, "invoke", rc) {
		// Authorization denial, distinct from authentication failure.
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":    "permission denied",
			"resource": resource,
			"action":   "invoke",
		})
		return
	}

	limits, _ := h.Capability.GetResourceLimits(claims, resource)
	if h.Quota != nil && len(limits) > 0 {
		units := map[string]float64{"requests_per_day": 1}
		if req.MaxTokens > 0 {
			units["tokens_per_day"] = float64(req.MaxTokens)
		}
		err := h.Quota.Consume(c.Request.Context(), claims.Subject, resource, limits, units)
		if errors.Is(err, quota.ErrExceeded) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			// Meter outage is an availability tradeoff, not a trust
			// decision; log and continue.
			logger.FromGin(c).Warn("quota meter unavailable", "err", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"provider": req.Provider,
		"subject":  claims.Subject,
		"limits":   limits,
		"status":   "accepted",
	})
}

func bearerToken(c *gin.Context) (string, bool) {
	const prefix = "Bearer "
	raw := c.GetHeader("Authorization")
	if len(raw) <= len(prefix) || raw[:len(prefix)] != prefix {
		return "", false
	}
	return raw[len(prefix):], true
}
