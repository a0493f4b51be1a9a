package util

import (
	"github.com/gin-gonic/gin"
	"github.com/zfogg/vidlayer/internal/models"
)

// GetUserFromContext extracts the authenticated user from the Gin context.
// Returns the user and true if found, or nil and false if not authenticated.
// If the user is not authenticated, it automatically responds with 401 Unauthorized.
func GetUserFromContext(c *gin.Context) (*models.User, bool) {
	user, exists := c.Get("user")
	if !exists {
		RespondUnauthorized(c, "user not authenticated")
		return nil, false
	}
	userPtr, ok := user.(*models.User)
	if !ok {
		RespondInternalError(c, "invalid user data in context")
		return nil, false
	}
	return userPtr, true
}

// GetUserIDFromContext extracts the user ID from the Gin context.
// Returns the user ID and true if found, or empty string and false if not authenticated.
// If the user is not authenticated, it automatically responds with 401 Unauthorized.
func GetUserIDFromContext(c *gin.Context) (string, bool) {
	userID := c.GetString("user_id")
	if userID == "" {
		RespondUnauthorized(c)
		return "", false
	}
	return userID, true
}

// OptionalUser returns the authenticated user, or nil on anonymous requests.
// It never writes a response.
func OptionalUser(c *gin.Context) *models.User {
	if user, ok := c.Get("user"); ok {
		if u, ok := user.(*models.User); ok {
			return u
		}
	}
	return nil
}
