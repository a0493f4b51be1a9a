package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zfogg/vidlayer/internal/util"
)

// queryTime parses an RFC 3339 timestamp or a YYYY-MM-DD date. A missing
// parameter is the zero time. On a bad value it writes a 422 and returns
// false.
func queryTime(c *gin.Context, name string) (time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, true
	}
	util.RespondValidationError(c, name, "must be an RFC 3339 timestamp or YYYY-MM-DD date")
	return time.Time{}, false
}

// viewerKey identifies the viewer for frequency caps and de-duplication:
// the signed-in user, else the player's session, else the client IP
func viewerKey(c *gin.Context, sessionID string) string {
	if user := util.OptionalUser(c); user != nil {
		return "u:" + user.ID
	}
	if sessionID != "" {
		return "s:" + sessionID
	}
	return "ip:" + c.ClientIP()
}
