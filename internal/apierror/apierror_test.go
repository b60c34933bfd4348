package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIErrorError(t *testing.T) {
	err := NewAPIError(ErrConflict, "wallet version is stale", nil)
	assert.Equal(t, "CONFLICT: wallet version is stale", err.Error())
}

func TestIs(t *testing.T) {
	err := NewAPIError(ErrDailyLimitExceeded, "daily cap reached", nil)
	assert.True(t, Is(err, ErrDailyLimitExceeded))
	assert.False(t, Is(err, ErrConflict))

	wrapped := fmt.Errorf("earn failed: %w", err)
	assert.True(t, Is(wrapped, ErrDailyLimitExceeded))

	assert.False(t, Is(errors.New("plain"), ErrConflict))
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrNotFound, http.StatusNotFound},
		{ErrConflict, http.StatusConflict},
		{ErrBadRequest, http.StatusBadRequest},
		{ErrInvalidInput, http.StatusBadRequest},
		{ErrInsufficientBalance, http.StatusUnprocessableEntity},
		{ErrDailyLimitExceeded, http.StatusUnprocessableEntity},
		{ErrInternalServer, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MapErrorToHTTPStatus(NewAPIError(tt.code, "m", nil)))
	}
	assert.Equal(t, http.StatusInternalServerError, MapErrorToHTTPStatus(errors.New("unknown")))
}
