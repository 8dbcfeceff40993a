package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/geo-attendance-api/internal/models"
	"github.com/noah-isme/geo-attendance-api/internal/service"
	appErrors "github.com/noah-isme/geo-attendance-api/pkg/errors"
	"github.com/noah-isme/geo-attendance-api/pkg/logger"
	"github.com/noah-isme/geo-attendance-api/pkg/response"
)

// ContextUserKey is the gin context key storing JWT claims.
const ContextUserKey = "currentUser"

// streamTokenParam carries the token for EventSource clients, which cannot set headers.
const streamTokenParam = "token"

// JWT protects routes by requiring a valid bearer token in the Authorization header.
// A missing token yields 401, an invalid one 403.
func JWT(authService *service.AuthService) gin.HandlerFunc {
	return authenticate(authService, false)
}

// StreamJWT behaves like JWT but also accepts the token as a query parameter.
func StreamJWT(authService *service.AuthService) gin.HandlerFunc {
	return authenticate(authService, true)
}

func authenticate(authService *service.AuthService, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" && allowQuery {
			token = strings.TrimSpace(c.Query(streamTokenParam))
		}
		if token == "" {
			response.Abort(c, appErrors.ErrUnauthorized)
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			response.Abort(c, err)
			return
		}

		c.Set(ContextUserKey, claims)
		logger.SetUser(c, claims.UserID, string(claims.Role))
		c.Next()
	}
}

// CurrentClaims returns the claims stored by JWT, or nil for anonymous requests.
func CurrentClaims(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil
	}
	claims, _ := value.(*models.JWTClaims)
	return claims
}

func bearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
