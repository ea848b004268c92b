package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(limit int, now *time.Time) *rateLimiter {
	return &rateLimiter{
		limit:         limit,
		window:        10 * time.Second,
		seen:          make(map[string]*window),
		sweepInterval: 10 * time.Second,
		now: func() time.Time {
			return *now
		},
	}
}

func hit(l *rateLimiter, path string) bool {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("POST", path, nil)
	l.handle(c)
	return !c.IsAborted()
}

func TestRateLimiterHandle_BlocksOverLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Now()
	limiter := newTestLimiter(2, &now)

	require.True(t, hit(limiter, "/api/v1/agent/ask"))
	require.True(t, hit(limiter, "/api/v1/agent/ask"))
	require.False(t, hit(limiter, "/api/v1/agent/ask"))
	// other routes have their own budget
	require.True(t, hit(limiter, "/api/v1/ai/polish"))

	now = now.Add(10 * time.Second)
	require.True(t, hit(limiter, "/api/v1/agent/ask"))
}

func TestRateLimiterDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Now()
	limiter := newTestLimiter(0, &now)
	for i := 0; i < 5; i++ {
		require.True(t, hit(limiter, "/api/v1/agent/ask"))
	}
}

func TestRateLimiterCleanupExpiredLocked_RemovesExpiredEntries(t *testing.T) {
	base := time.Now()
	limiter := newTestLimiter(1, &base)
	limiter.seen["expired"] = &window{start: base.Add(-20 * time.Second), count: 1}
	limiter.seen["active"] = &window{start: base.Add(-2 * time.Second), count: 1}

	limiter.mu.Lock()
	limiter.cleanupExpiredLocked(base)
	limiter.mu.Unlock()

	require.NotContains(t, limiter.seen, "expired")
	require.Contains(t, limiter.seen, "active")
	require.False(t, limiter.lastSweep.IsZero())
}
