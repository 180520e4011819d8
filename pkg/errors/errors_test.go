package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelStatuses(t *testing.T) {
	// Business rejections carry 400 regardless of code; 401 is for
	// credential and identity failures only.
	for _, e := range []*Error{ErrNotFound, ErrConflict, ErrValidation, ErrInvalidDate, ErrOutOfWindow, ErrQuotaExceeded, ErrAlreadyCheckedIn} {
		assert.Equal(t, http.StatusBadRequest, e.Status, e.Code)
	}
	assert.Equal(t, http.StatusUnauthorized, ErrUnauthorized.Status)
	assert.Equal(t, http.StatusUnauthorized, ErrInvalidCredentials.Status)
	assert.Equal(t, http.StatusForbidden, ErrForbidden.Status)
	assert.Equal(t, http.StatusInternalServerError, ErrInternal.Status)
}

func TestFromErrorPreservesTypedError(t *testing.T) {
	wrapped := Clone(ErrConflict, "student already enrolled")
	got := FromError(wrapped)
	require.NotNil(t, got)
	assert.Equal(t, "CONFLICT", got.Code)
	assert.Equal(t, http.StatusBadRequest, got.Status)
	assert.Equal(t, "student already enrolled", got.Message)
}

func TestFromErrorWrapsUnknown(t *testing.T) {
	got := FromError(errors.New("boom"))
	require.NotNil(t, got)
	assert.Equal(t, ErrInternal.Code, got.Code)
	assert.Equal(t, http.StatusInternalServerError, got.Status)
}
