package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/geo-attendance-api/internal/models"
	appErrors "github.com/noah-isme/geo-attendance-api/pkg/errors"
	"github.com/noah-isme/geo-attendance-api/pkg/response"
)

// RequireRoles rejects callers whose token role is not in roles.
// It must run after JWT or StreamJWT.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		claims := CurrentClaims(c)
		if claims == nil {
			response.Abort(c, appErrors.ErrUnauthorized)
			return
		}

		if _, ok := allowed[claims.Role]; ok {
			c.Next()
			return
		}

		response.Abort(c, appErrors.Clone(appErrors.ErrForbidden, "Access denied"))
	}
}
