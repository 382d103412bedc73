package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"payledger/pkg/utils"
)

// Keys under which the authenticated caller is stored on the gin context.
const (
	CtxUserID = "user_id"
	CtxRole   = "role"
)

const roleCustomer = "customer"

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(c *gin.Context) (string, bool) {
	scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// JWTAuthMiddleware only verifies tokens; issuing them belongs to the identity
// provider in front of the ledger.
func JWTAuthMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			utils.RespondError(c, http.StatusUnauthorized, "Authorization header missing or invalid")
			c.Abort()
			return
		}

		claims, err := utils.ValidateToken(secret, token)
		if err != nil {
			slog.WarnContext(c.Request.Context(), "rejected bearer token", "path", c.FullPath(), "error", err)
			utils.RespondError(c, http.StatusUnauthorized, "Invalid or expired token")
			c.Abort()
			return
		}

		role := claims.Role
		if role == "" {
			role = roleCustomer
		}
		c.Set(CtxUserID, claims.UserID)
		c.Set(CtxRole, role)
		c.Next()
	}
}

// RoleMiddleware lets the request through when the caller holds one of roles.
func RoleMiddleware(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(CtxRole)
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		slog.WarnContext(c.Request.Context(), "role check failed", "user_id", c.GetString(CtxUserID), "role", role)
		utils.RespondError(c, http.StatusForbidden, "Forbidden: insufficient permissions")
		c.Abort()
	}
}
