package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// AdminAuthMiddleware guards the admin API with HMAC-signed JWTs
type AdminAuthMiddleware struct {
	secret []byte
	logger *logrus.Logger
}

// NewAdminAuthMiddleware creates the admin auth middleware
func NewAdminAuthMiddleware(secret string, logger *logrus.Logger) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{secret: []byte(secret), logger: logger}
}

// RequireAdminAuth validates the Bearer token and the admin role claim
func (a *AdminAuthMiddleware) RequireAdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			a.reject(c, http.StatusUnauthorized, "MISSING_AUTH_HEADER", "Authentication required")
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			a.reject(c, http.StatusUnauthorized, "INVALID_AUTH_FORMAT", "Invalid authorization format, need Bearer token")
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return a.secret, nil
		})
		if err != nil || !token.Valid {
			a.logger.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
			}).Warn("Admin auth failed - invalid token")
			a.reject(c, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token")
			return
		}

		if role, _ := claims["role"].(string); role != "admin" {
			a.reject(c, http.StatusForbidden, "FORBIDDEN", "Admin role required")
			return
		}

		c.Set("admin_subject", claims["sub"])
		c.Next()
	}
}

func (a *AdminAuthMiddleware) reject(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error":   message,
		"code":    code,
	})
	c.Abort()
}
