package main

import (
	"trustcore/internal/auth"
	"trustcore/internal/config"
	"trustcore/internal/gate"
	"trustcore/internal/httpapi"
	"trustcore/internal/session"
	"trustcore/internal/svcauth"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, cfg *config.Config, sessions *session.Service, authManager *auth.Manager) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.POST("/v1/auth/login", h.Login)

	// Service-to-service surface. Guarded by shared-secret plus caller
	// allowlist, never by end-user sessions.
	internal := r.Group("/internal/sessions")
	internal.Use(svcauth.RequireInternalCaller(cfg.Internal.Token, cfg.Internal.AllowedCallers))
	{
		internal.POST("/validate", h.InternalValidate)
		internal.POST("/revoke", h.InternalRevoke)
		internal.POST("/revoke-all", h.InternalRevokeAll)
		internal.POST("/cleanup", h.InternalCleanup)
	}

	// End-user surface behind the session gate. Refresh sits inside the gate
	// on purpose: a dead session must not be refreshable.
	v1 := r.Group("/v1")
	v1.Use(gate.Middleware(sessions, authManager, gate.Options{}))
	{
		v1.POST("/auth/refresh", h.Refresh)
		v1.POST("/auth/logout", h.Logout)

		// Capability-authorized; the capability token has no session
		// reference, so the gate passes it through and the handler verifies
		// it locally.
		v1.POST("/inference", h.Inference)

		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			tid, _ := auth.TenantID(c.Request.Context())
			c.JSON(200, gin.H{"user_id": uid, "tenant_id": tid})
		})
	}
}
