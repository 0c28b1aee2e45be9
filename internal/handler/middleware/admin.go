package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"songmetrix/entsync/internal/model"
	"songmetrix/entsync/internal/repository"
	jwtpkg "songmetrix/entsync/pkg/jwt"
	"songmetrix/entsync/pkg/response"
)

// AdminAuth checks that the authenticated user currently holds ADMIN status.
// The check reads the users table rather than a static allow-list so a
// demoted admin loses access immediately. Must be used after JWTAuth.
func AdminAuth(userRepo repository.UserRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		claimsVal, exists := c.Get(ContextKeyUserClaims)
		if !exists {
			response.Unauthorized(c, "missing authentication")
			c.Abort()
			return
		}
		claims, ok := claimsVal.(*jwtpkg.Claims)
		if !ok {
			response.Unauthorized(c, "invalid claims")
			c.Abort()
			return
		}

		userID, err := uuid.Parse(claims.Subject)
		if err != nil {
			response.Unauthorized(c, "invalid user id")
			c.Abort()
			return
		}

		user, err := userRepo.GetByID(c.Request.Context(), userID)
		if err != nil || user.Status != model.StatusAdmin {
			response.Forbidden(c, "admin access required")
			c.Abort()
			return
		}

		c.Next()
	}
}
