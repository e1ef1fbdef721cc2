package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := NewError(ErrValidation, "bad envelope")
	assert.Equal(t, "[VALIDATION] bad envelope", err.Error())

	cause := errors.New("boom")
	err = NewError(ErrUpstream, "gateway write failed").WithCause(cause)
	assert.Equal(t, "[UPSTREAM] gateway write failed: boom", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestErrorCodeExtraction(t *testing.T) {
	assert.Equal(t, ErrCrossTenant, GetErrorCode(NewError(ErrCrossTenant, "id collision")))
	assert.Equal(t, ErrInternalError, GetErrorCode(errors.New("plain")))
}

func TestRetryable(t *testing.T) {
	assert.False(t, IsRetryable(NewError(ErrValidation, "x")))
	assert.True(t, IsRetryable(NewError(ErrUpstream, "x").WithRetryable(true)))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestValidUsageUnit(t *testing.T) {
	for _, u := range []string{"TOKENS", "CHARACTERS", "IMAGES", "SECONDS", "MILLISECONDS"} {
		assert.True(t, ValidUsageUnit(u), u)
	}
	assert.False(t, ValidUsageUnit("BYTES"))
	assert.False(t, ValidUsageUnit("tokens"))
}
