package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	appErr "github.com/xxxsen/mnote-agent/internal/pkg/errors"
)

type scriptedClient struct {
	errs  []error
	calls int
}

func (s *scriptedClient) Name() string { return "scripted" }

func (s *scriptedClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	idx := s.calls
	s.calls++
	if idx < len(s.errs) && s.errs[idx] != nil {
		return "", s.errs[idx]
	}
	return "ok", nil
}

func (s *scriptedClient) ChatStream(ctx context.Context, req ChatRequest) (Stream, error) {
	return nil, errors.New("not implemented")
}

func (s *scriptedClient) Embed(ctx context.Context, req EmbedRequest) ([]float32, error) {
	_, err := s.Chat(ctx, ChatRequest{})
	if err != nil {
		return nil, err
	}
	return []float32{1}, nil
}

func noSleep(rc Client) Client {
	r := rc.(*resilientClient)
	r.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return r
}

func TestResilienceRetriesRetryableErrors(t *testing.T) {
	inner := &scriptedClient{errs: []error{
		appErr.NewUpstreamError("chat", 503, errors.New("busy")),
		appErr.NewUpstreamError("chat", 429, errors.New("slow down")),
	}}
	c := noSleep(WithResilience(inner, ResilienceConfig{Retry: RetryConfig{MaxAttempts: 3}}))

	out, err := c.Chat(context.Background(), ChatRequest{})
	require.NoError(t, err)
	require.Equal(t, "ok", out)
	require.Equal(t, 3, inner.calls)
}

func TestResilienceDoesNotRetryPermanentErrors(t *testing.T) {
	inner := &scriptedClient{errs: []error{
		appErr.NewUpstreamError("chat", 400, errors.New("bad")),
	}}
	c := noSleep(WithResilience(inner, ResilienceConfig{Retry: RetryConfig{MaxAttempts: 3}}))

	_, err := c.Chat(context.Background(), ChatRequest{})
	require.Error(t, err)
	require.Equal(t, 1, inner.calls)
}

func TestResilienceGivesUpAfterMaxAttempts(t *testing.T) {
	retryable := appErr.NewUpstreamError("embed", 500, errors.New("boom"))
	inner := &scriptedClient{errs: []error{retryable, retryable, retryable, retryable}}
	c := noSleep(WithResilience(inner, ResilienceConfig{Retry: RetryConfig{MaxAttempts: 2}}))

	_, err := c.Embed(context.Background(), EmbedRequest{})
	require.ErrorIs(t, err, retryable)
	require.Equal(t, 2, inner.calls)
}

func TestResilienceBreakerOpens(t *testing.T) {
	retryable := appErr.NewUpstreamError("chat", 502, errors.New("down"))
	inner := &scriptedClient{errs: []error{retryable, retryable, retryable, retryable}}
	c := noSleep(WithResilience(inner, ResilienceConfig{
		Retry:   RetryConfig{MaxAttempts: 1},
		Breaker: BreakerConfig{Enabled: true, Failures: 2, Timeout: time.Minute},
	}))

	for i := 0; i < 2; i++ {
		_, err := c.Chat(context.Background(), ChatRequest{})
		require.ErrorIs(t, err, retryable)
	}
	_, err := c.Chat(context.Background(), ChatRequest{})
	require.ErrorIs(t, err, appErr.ErrUnavailable)
	require.Equal(t, 2, inner.calls)
}

func TestResiliencePermanentErrorsKeepBreakerClosed(t *testing.T) {
	permanent := appErr.NewUpstreamError("chat", 404, errors.New("no such model"))
	inner := &scriptedClient{errs: []error{permanent, permanent, permanent}}
	c := noSleep(WithResilience(inner, ResilienceConfig{
		Breaker: BreakerConfig{Enabled: true, Failures: 1, Timeout: time.Minute},
	}))

	for i := 0; i < 3; i++ {
		_, err := c.Chat(context.Background(), ChatRequest{})
		require.ErrorIs(t, err, permanent)
	}
	require.Equal(t, 3, inner.calls)
}

func TestBackoffIsCapped(t *testing.T) {
	r := WithResilience(&scriptedClient{}, ResilienceConfig{Retry: RetryConfig{
		MaxAttempts:    10,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
	}}).(*resilientClient)
	require.Equal(t, 100*time.Millisecond, r.backoff(0))
	require.Equal(t, 400*time.Millisecond, r.backoff(2))
	require.Equal(t, time.Second, r.backoff(5))
	require.Equal(t, time.Second, r.backoff(70))
}
