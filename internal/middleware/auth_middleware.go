package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"ledger-api/internal/service"
)

const RoleAdmin = "admin"

type AuthMiddleware struct {
	jwtSecret string
	jwtIssuer string
	audit     service.AuditService
}

func NewAuthMiddleware(jwtSecret, jwtIssuer string, audit service.AuditService) *AuthMiddleware {
	return &AuthMiddleware{
		jwtSecret: jwtSecret,
		jwtIssuer: jwtIssuer,
		audit:     audit,
	}
}

// Claims are issued by the identity service; user_id and role are trusted
// once the signature verifies.
type Claims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuth validates the Bearer token and puts user_id and role on the
// request context. Failures are recorded in the security audit log.
func (a *AuthMiddleware) JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			a.reject(c, "missing Authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			a.reject(c, "malformed Authorization header")
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(a.jwtSecret), nil
		}, jwt.WithIssuer(a.jwtIssuer))

		if err != nil || !token.Valid {
			a.reject(c, "invalid token")
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// RequireAdmin gates a route to admin-role tokens. Must run after JWTAuth.
func (a *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("role") != RoleAdmin {
			a.audit.AuthFailure(c.Request.Context(), c.GetInt64("user_id"), c.ClientIP(), "non-admin token on admin route "+c.Request.URL.Path)
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "Forbidden",
				"message": "Admin access required",
			})
			c.Abort()
			return
		}
		c.Request = c.Request.WithContext(service.WithReviewer(c.Request.Context(), c.GetInt64("user_id")))
		c.Next()
	}
}

func (a *AuthMiddleware) reject(c *gin.Context, reason string) {
	a.audit.AuthFailure(c.Request.Context(), 0, c.ClientIP(), reason)
	c.JSON(http.StatusUnauthorized, gin.H{
		"error":   "Unauthorized",
		"message": reason,
	})
	c.Abort()
}

// UserID returns the authenticated user from the request context.
func UserID(c *gin.Context) int64 {
	return c.GetInt64("user_id")
}
