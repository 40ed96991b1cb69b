package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/greenops-hq/greenops-server/internal/auth"
	"github.com/greenops-hq/greenops-server/internal/machines"
)

const (
	// MachineIDKey is the context key under which AgentAuth stores the
	// authenticated machine's ID.
	MachineIDKey = "machine_id"
)

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(header, "Bearer "), true
}

// JWTAuth guards the operator surface.
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization header"})
			return
		}

		claims, err := auth.ValidateToken(secret, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// AgentAuth guards the agent surface. The presented credential is hashed
// and resolved to a machine; the machine ID lands in the request context.
func AgentAuth(service *machines.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization header"})
			return
		}

		if !auth.LooksLikeAgentCredential(credential) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid agent credential"})
			return
		}

		machine, err := service.AuthenticateAgent(c.Request.Context(), auth.HashCredential(credential))
		if err != nil {
			if errors.Is(err, machines.ErrMachineNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid agent credential"})
				return
			}
			slog.Error("Agent authentication failed", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.Set(MachineIDKey, machine.ID)
		c.Next()
	}
}

// RequireRole allows the request through only for the listed roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get("role")
		if !exists {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		userRole, ok := role.(string)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		for _, r := range roles {
			if r == userRole {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}
