package util

import (
	stderrors "errors"

	"github.com/gin-gonic/gin"
	"github.com/zfogg/vidlayer/internal/errors"
	"gorm.io/gorm"
)

// HandleDBError handles database errors and sends appropriate HTTP responses
// Returns true if the error was handled (and response was sent), false otherwise
func HandleDBError(c *gin.Context, err error, resourceName string) bool {
	if err == nil {
		return false
	}

	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		RespondNotFound(c, resourceName)
		return true
	}

	if stderrors.Is(err, gorm.ErrDuplicatedKey) {
		RespondConflict(c, resourceName)
		return true
	}

	RespondInternalError(c, "Failed to fetch "+resourceName)
	return true
}

// RespondWithError writes err as an API error. Errors that are not APIErrors
// become 500s with a generic message.
func RespondWithError(c *gin.Context, err error) {
	if apiErr, ok := errors.As(err); ok {
		RespondWithAPIError(c, apiErr)
		return
	}
	RespondWithAPIError(c, errors.InternalError("internal server error").Wrap(err))
}
