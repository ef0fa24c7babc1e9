package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesClonesByCode(t *testing.T) {
	err := Clone(ErrCapacityExceeded, "section CS101-A is full")
	assert.True(t, errors.Is(err, ErrCapacityExceeded))
	assert.False(t, errors.Is(err, ErrAlreadyEnrolled))

	wrapped := fmt.Errorf("register: %w", err)
	assert.True(t, errors.Is(wrapped, ErrCapacityExceeded))
}

func TestFromErrorTreatsUnknownAsInternal(t *testing.T) {
	appErr := FromError(errors.New("connection refused"))
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.Status)
	assert.True(t, IsInternal(appErr))
	assert.False(t, IsInternal(ErrSectionLocked))
	assert.Nil(t, FromError(nil))
}

func TestCloneKeepsOriginalUntouched(t *testing.T) {
	clone := Clone(ErrDeadlinePassed, "custom")
	assert.Equal(t, "custom", clone.Message)
	assert.Equal(t, "drop deadline has passed", ErrDeadlinePassed.Message)
}
