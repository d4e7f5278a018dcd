// Package svcauth authenticates service-to-service calls on the internal RPC
// surface. It is independent of session semantics: a caller that fails here
// is rejected before any session state is consulted.
package svcauth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderInternalToken carries the shared secret.
	HeaderInternalToken = "X-Internal-Token"
	// HeaderServiceName identifies the caller; it must be on the allow-list.
	HeaderServiceName = "X-Service-Name"
)

// RequireInternalCaller enforces both headers: the shared secret
// (constant-time compare) and the caller name against an allow-list.
//
// Missing or wrong secret is 401; a caller not on the allow-list is 403.
func RequireInternalCaller(secret string, allowedCallers []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowedCallers))
	for _, name := range allowedCallers {
		allowed[strings.TrimSpace(name)] = struct{}{}
	}

	return func(c *gin.Context) {
		tok := strings.TrimSpace(c.GetHeader(HeaderInternalToken))
		if tok == "" || secret == "" ||
			subtle.ConstantTimeCompare([]byte(tok), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid internal token"})
			return
		}

		name := strings.TrimSpace(c.GetHeader(HeaderServiceName))
		if name == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "service name required"})
			return
		}
		if _, ok := allowed[name]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "caller not allowed"})
			return
		}

		c.Set("caller_service", name)
		c.Next()
	}
}
