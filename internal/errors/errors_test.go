package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserError_KindAndMessage(t *testing.T) {
	err := New(ErrDenied, "Only the %s can do that.", "Coordinator")
	assert.Equal(t, "Only the Coordinator can do that.", err.Error())
	assert.ErrorIs(t, err, ErrDenied)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestIsUserError_ThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("resolving: %w", New(ErrNotFound, "request not found"))
	assert.True(t, IsUserError(wrapped))
	assert.Equal(t, "request not found", Message(wrapped))

	plain := errors.New("disk full")
	assert.False(t, IsUserError(plain))
	assert.NotContains(t, Message(plain), "disk full")
}

func TestRemoteError_Error(t *testing.T) {
	inner := errors.New("connection refused")
	err := NewRemoteError("conversation", "send_messages", 502, inner)
	assert.Contains(t, err.Error(), "send_messages")
	assert.Contains(t, err.Error(), "502")
	assert.ErrorIs(t, err, inner)

	noStatus := NewRemoteError("slack", "post_message", 0, inner)
	assert.NotContains(t, noStatus.Error(), "status")
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewRemoteError("c", "op", 429, errors.New("x"))))
	assert.True(t, IsRetryable(NewRemoteError("c", "op", 503, errors.New("x"))))
	assert.True(t, IsRetryable(ErrTimeout))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", ErrUnavailable)))
	assert.True(t, IsRetryable(NewRemoteError("c", "op", 0, ErrRateLimit)))

	assert.False(t, IsRetryable(NewRemoteError("c", "op", 404, errors.New("x"))))
	assert.False(t, IsRetryable(New(ErrDenied, "no")))
	assert.False(t, IsRetryable(errors.New("plain")))
}
