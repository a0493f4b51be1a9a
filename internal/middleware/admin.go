package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/zfogg/vidlayer/internal/database"
	"github.com/zfogg/vidlayer/internal/errors"
	"github.com/zfogg/vidlayer/internal/models"
	"github.com/zfogg/vidlayer/internal/util"
)

// RequireAdmin middleware ensures the request is authenticated and the user is an admin.
// It relies on an earlier auth middleware having set "user" or "user_id".
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := contextUser(c)
		if !ok {
			util.RespondWithAPIError(c, errors.Unauthorized("authentication required"))
			c.Abort()
			return
		}

		if !user.IsAdmin {
			util.RespondWithAPIError(c, errors.Forbidden("admin access required"))
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequireRole lets through users holding one of roles. Admins always pass.
func RequireRole(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := contextUser(c)
		if !ok {
			util.RespondWithAPIError(c, errors.Unauthorized("authentication required"))
			c.Abort()
			return
		}

		if !user.IsAdmin {
			allowed := false
			for _, role := range roles {
				if user.Role == role {
					allowed = true
					break
				}
			}
			if !allowed {
				util.RespondWithAPIError(c, errors.Forbidden("this action requires a "+string(roles[0])+" account"))
				c.Abort()
				return
			}
		}

		c.Next()
	}
}

// contextUser returns the user set by the auth middleware, loading it from
// the database when only the ID is present
func contextUser(c *gin.Context) (*models.User, bool) {
	if v, ok := c.Get("user"); ok {
		if user, ok := v.(*models.User); ok {
			return user, true
		}
	}

	userID := c.GetString("user_id")
	if userID == "" || database.DB == nil {
		return nil, false
	}

	var user models.User
	if err := database.DB.Where("id = ?", userID).First(&user).Error; err != nil {
		return nil, false
	}
	c.Set("user", &user)
	return &user, true
}
