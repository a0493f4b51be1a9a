package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructorsUseCodeStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    *APIError
		code   ErrorCode
		status int
	}{
		{"not found", NotFound("video"), ErrNotFound, http.StatusNotFound},
		{"validation", ValidationError("start_time", "must be positive"), ErrValidation, http.StatusUnprocessableEntity},
		{"payment required", PaymentRequired("subscribe to watch"), ErrPaymentRequired, http.StatusPaymentRequired},
		{"gone", Gone("share link expired"), ErrGone, http.StatusGone},
		{"rate limited", RateLimited(""), ErrRateLimited, http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.Status)
		})
	}
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "NOT_FOUND: video not found", NotFound("video").Error())
	assert.Equal(t, "VALIDATION_ERROR: too long (field: title)", ValidationError("title", "too long").Error())
}

func TestAsFindsWrappedAPIError(t *testing.T) {
	cause := stderrors.New("connection refused")
	apiErr := ServiceUnavailable("payout provider").Wrap(cause)
	wrapped := fmt.Errorf("process payout: %w", apiErr)

	got, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrServiceUnavail, got.Code)
	assert.True(t, stderrors.Is(wrapped, cause))

	_, ok = As(cause)
	assert.False(t, ok)
}

func TestUnknownCodeDefaultsTo500(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, ErrorCode("SOMETHING_ELSE").StatusCode())
}
