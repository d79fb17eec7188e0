package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		errType  ErrorType
		expected bool
	}{
		{ErrorTypeNetwork, true},
		{ErrorTypeRateLimit, true},
		{ErrorTypeArchiveCorruption, false},
		{ErrorTypeComposition, false},
		{ErrorTypeToolUnavailable, false},
		{ErrorTypeFilesystem, false},
		{ErrorTypeUnknown, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.errType))
		})
	}
}

func TestTypeOfWrapped(t *testing.T) {
	base := RateLimit(429, "too many requests")
	wrapped := fmt.Errorf("fetch entry: %w", base)

	assert.Equal(t, ErrorTypeRateLimit, TypeOf(wrapped))
	assert.True(t, IsType(wrapped, ErrorTypeRateLimit))
	assert.False(t, IsType(nil, ErrorTypeRateLimit))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(errors.New("plain")))
}

func TestErrorUnwrap(t *testing.T) {
	err := Network(0, "request timed out", context.DeadlineExceeded)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "network error (code 0)")
	assert.Contains(t, err.Error(), "deadline exceeded")
}

func TestIsThrottleStatus(t *testing.T) {
	assert.True(t, IsThrottleStatus(403))
	assert.True(t, IsThrottleStatus(429))
	assert.False(t, IsThrottleStatus(404))
	assert.False(t, IsThrottleStatus(500))
}
