package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/xxxsen/mnote-agent/internal/pkg/errors"
)

type RetryConfig struct {
	MaxAttempts    int           `json:"max_attempts"`
	InitialBackoff time.Duration `json:"initial_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff"`
}

type BreakerConfig struct {
	Enabled     bool          `json:"enabled"`
	MaxRequests uint32        `json:"max_requests"`
	Interval    time.Duration `json:"interval"`
	Timeout     time.Duration `json:"timeout"`
	// Failures is the number of consecutive retryable failures that opens
	// the breaker.
	Failures uint32 `json:"failures"`
}

type ResilienceConfig struct {
	// Timeout bounds each Chat and Embed attempt. Streams are bounded by the
	// transport header timeout instead.
	Timeout time.Duration
	Retry   RetryConfig
	Breaker BreakerConfig
}

type resilientClient struct {
	next    Client
	cfg     ResilienceConfig
	breaker *gobreaker.CircuitBreaker
	sleep   func(ctx context.Context, d time.Duration) error
}

// WithResilience wraps next with per-attempt timeouts, retry with
// exponential backoff for retryable upstream errors, and an optional circuit
// breaker. Only retryable failures count against the breaker.
func WithResilience(next Client, cfg ResilienceConfig) Client {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}
	if cfg.Retry.InitialBackoff <= 0 {
		cfg.Retry.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.Retry.MaxBackoff <= 0 {
		cfg.Retry.MaxBackoff = 5 * time.Second
	}
	rc := &resilientClient{next: next, cfg: cfg, sleep: sleepContext}
	if cfg.Breaker.Enabled {
		failures := cfg.Breaker.Failures
		if failures == 0 {
			failures = 5
		}
		rc.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "llm-" + next.Name(),
			MaxRequests: cfg.Breaker.MaxRequests,
			Interval:    cfg.Breaker.Interval,
			Timeout:     cfg.Breaker.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logutil.GetLogger(context.Background()).Warn("circuit breaker state changed",
					zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !appErr.IsRetryable(err)
			},
		})
	}
	return rc
}

func (r *resilientClient) Name() string {
	return r.next.Name()
}

func (r *resilientClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	var out string
	err := r.do(ctx, "chat", func(ctx context.Context) error {
		res, err := r.next.Chat(ctx, req)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

func (r *resilientClient) ChatStream(ctx context.Context, req ChatRequest) (Stream, error) {
	var out Stream
	// Only opening the stream is retried; a broken stream is the caller's.
	err := r.attempts(ctx, "chat_stream", func() error {
		return r.guard(func() error {
			s, err := r.next.ChatStream(ctx, req)
			if err != nil {
				return err
			}
			out = s
			return nil
		})
	})
	return out, err
}

func (r *resilientClient) Embed(ctx context.Context, req EmbedRequest) ([]float32, error) {
	var out []float32
	err := r.do(ctx, "embed", func(ctx context.Context) error {
		res, err := r.next.Embed(ctx, req)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

func (r *resilientClient) do(ctx context.Context, op string, call func(ctx context.Context) error) error {
	return r.attempts(ctx, op, func() error {
		return r.guard(func() error {
			attemptCtx := ctx
			if r.cfg.Timeout > 0 {
				var cancel context.CancelFunc
				attemptCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
				defer cancel()
			}
			return call(attemptCtx)
		})
	})
}

func (r *resilientClient) attempts(ctx context.Context, op string, call func() error) error {
	var err error
	for attempt := 0; attempt < r.cfg.Retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := r.backoff(attempt - 1)
			logutil.GetLogger(ctx).Warn("retrying upstream call",
				zap.String("op", op), zap.Int("attempt", attempt+1), zap.Duration("delay", delay), zap.Error(err))
			if serr := r.sleep(ctx, delay); serr != nil {
				return err
			}
		}
		err = call()
		if err == nil || !appErr.IsRetryable(err) {
			return err
		}
	}
	return err
}

func (r *resilientClient) guard(call func() error) error {
	if r.breaker == nil {
		return call()
	}
	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, call()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", appErr.ErrUnavailable, err)
	}
	return err
}

func (r *resilientClient) backoff(attempt int) time.Duration {
	d := r.cfg.Retry.InitialBackoff << attempt
	if d <= 0 || d > r.cfg.Retry.MaxBackoff {
		d = r.cfg.Retry.MaxBackoff
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
