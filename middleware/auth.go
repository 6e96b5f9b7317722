package middleware

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"neurospace-backend/internal/config"
	"neurospace-backend/utils"
)

type AuthMiddleware struct {
	config *config.Config
}

func NewAuthMiddleware(cfg *config.Config) *AuthMiddleware {
	return &AuthMiddleware{config: cfg}
}

// RequireAuth accepts either the internal service key (trusted
// backend-to-backend calls, which carry user_id in the payload) or a
// user bearer token whose subject becomes the authenticated user.
func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Internal service callers authenticate with the shared key.
		if apiKey := c.GetHeader("X-API-Key"); apiKey != "" {
			if a.config.BackendAPIKey != "" && apiKey == a.config.BackendAPIKey {
				c.Set("internal_service", true)
				c.Next()
				return
			}
			utils.RespondWithUnauthorized(c, "Invalid service API key")
			c.Abort()
			return
		}

		tokenString := extractBearerToken(c.GetHeader("Authorization"))
		if tokenString == "" {
			utils.RespondWithUnauthorized(c, "Authentication token is required")
			c.Abort()
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(a.config.AccessSecret), nil
		})
		if err != nil || !token.Valid {
			utils.RespondWithUnauthorized(c, "Invalid or expired token")
			c.Abort()
			return
		}

		sub, err := claims.GetSubject()
		if err != nil || sub == "" {
			utils.RespondWithUnauthorized(c, "Token has no subject")
			c.Abort()
			return
		}

		c.Set("user_id", sub)
		c.Next()
	}
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// GetUserID returns the authenticated user, or empty for internal
// service calls.
func GetUserID(c *gin.Context) string {
	if userID, exists := c.Get("user_id"); exists {
		if id, ok := userID.(string); ok {
			return id
		}
	}
	return ""
}

// IsInternalService reports whether the caller authenticated with the
// backend service key.
func IsInternalService(c *gin.Context) bool {
	v, exists := c.Get("internal_service")
	if !exists {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// ResolveUserID picks the effective user for a request: the token
// subject for user calls, the payload-supplied id for trusted internal
// calls.
func ResolveUserID(c *gin.Context, payloadUserID string) string {
	if IsInternalService(c) {
		return payloadUserID
	}
	return GetUserID(c)
}
