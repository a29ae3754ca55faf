package middleware

import (
	"net/http"
	"strings"

	"defeatthememe-backend/internal/handlers"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AdminTokenValidator checks admin bearer tokens.
type AdminTokenValidator interface {
	ValidateToken(token string) (*handlers.AdminJWTClaims, error)
}

// AdminAuthMiddleware guards admin routes with a bearer JWT.
type AdminAuthMiddleware struct {
	validator AdminTokenValidator
	logger    *logrus.Entry
}

func NewAdminAuthMiddleware(validator AdminTokenValidator, logger *logrus.Entry) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{validator: validator, logger: logger}
}

// RequireAdminAuth rejects requests without a valid admin token.
func (a *AdminAuthMiddleware) RequireAdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		fields := logrus.Fields{"path": c.Request.URL.Path, "method": c.Request.Method}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			a.logger.WithFields(fields).Warn("Admin auth failed - missing Authorization header")
			abortJSON(c, http.StatusUnauthorized, "Authentication required", "MISSING_AUTH_HEADER")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader || tokenString == "" {
			a.logger.WithFields(fields).Warn("Admin auth failed - invalid Authorization format")
			abortJSON(c, http.StatusUnauthorized, "Invalid authorization format, need Bearer token", "INVALID_AUTH_FORMAT")
			return
		}

		claims, err := a.validator.ValidateToken(tokenString)
		if err != nil {
			a.logger.WithFields(fields).WithError(err).Warn("Admin auth failed - invalid token")
			abortJSON(c, http.StatusUnauthorized, "Invalid or expired token", "INVALID_TOKEN")
			return
		}

		if claims.Role != "admin" {
			a.logger.WithFields(fields).WithField("role", claims.Role).Warn("Admin auth failed - insufficient permissions")
			abortJSON(c, http.StatusForbidden, "Insufficient permissions", "INSUFFICIENT_PERMISSIONS")
			return
		}

		c.Set("admin_username", claims.Username)
		c.Set("admin_role", claims.Role)
		c.Next()
	}
}

func abortJSON(c *gin.Context, status int, msg, code string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}
