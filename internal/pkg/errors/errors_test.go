package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewUpstreamError_Classification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		err       error
		retryable bool
	}{
		{name: "server error", status: 502, err: errors.New("bad gateway"), retryable: true},
		{name: "rate limited", status: 429, err: errors.New("slow down"), retryable: true},
		{name: "bad request", status: 400, err: errors.New("invalid model"), retryable: false},
		{name: "unauthorized", status: 401, err: errors.New("bad key"), retryable: false},
		{name: "timeout", status: 0, err: context.DeadlineExceeded, retryable: true},
		{name: "canceled", status: 0, err: context.Canceled, retryable: false},
		{name: "malformed", status: 0, err: errors.New("decode response"), retryable: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewUpstreamError("chat", tt.status, tt.err)
			require.Equal(t, tt.retryable, err.Retryable)
			wrapped := fmt.Errorf("polish: %w", err)
			require.Equal(t, tt.retryable, IsRetryable(wrapped))
			require.True(t, IsUpstream(wrapped))
			require.ErrorIs(t, wrapped, tt.err)
		})
	}
}

func TestConfigurationError_UnwrapsToSentinel(t *testing.T) {
	err := fmt.Errorf("node: %w", &ConfigurationError{Stage: "polish"})
	require.True(t, IsUnresolved(err))
	require.False(t, IsRetryable(err))
	require.Contains(t, err.Error(), "polish")
}

func TestRetrievalError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &RetrievalError{Store: "vector", Err: cause}
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "vector")
}
