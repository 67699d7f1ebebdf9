package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-auth-api/internal/models"
	appErrors "github.com/noah-isme/school-auth-api/pkg/errors"
	"github.com/noah-isme/school-auth-api/pkg/response"
)

// RequireRoles restricts a route to the listed roles. It must run after JWT
// so the verified claims are present in the context; missing claims fail
// closed with 401.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims := claimsValue.(*models.AccessClaims)

		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}

		c.Next()
	}
}
