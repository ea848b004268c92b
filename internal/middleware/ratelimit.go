package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mnote-agent/internal/pkg/errcode"
	"github.com/xxxsen/mnote-agent/internal/pkg/response"
)

type window struct {
	start time.Time
	count int
}

// rateLimiter allows limit requests per key in each fixed window. Keys are
// client ip, api client and route.
type rateLimiter struct {
	mu            sync.Mutex
	limit         int
	window        time.Duration
	seen          map[string]*window
	sweepInterval time.Duration
	lastSweep     time.Time
	now           func() time.Time
}

func RateLimit(limit int, per time.Duration) gin.HandlerFunc {
	limiter := &rateLimiter{
		limit:         limit,
		window:        per,
		seen:          make(map[string]*window),
		sweepInterval: per,
		now:           time.Now,
	}
	return limiter.handle
}

func (l *rateLimiter) handle(c *gin.Context) {
	if l.window <= 0 || l.limit <= 0 {
		c.Next()
		return
	}
	ip := c.ClientIP()
	client := c.GetString(ContextClientIDKey)
	if client == "" {
		client = "-"
	}
	path := c.FullPath()
	if path == "" {
		path = c.Request.URL.Path
	}
	key := strings.Join([]string{ip, client, path}, "|")

	if !l.allow(key) {
		logutil.GetLogger(c.Request.Context()).Warn("rate limit hit",
			zap.String("ip", ip),
			zap.String("client_id", client),
			zap.String("path", path),
		)
		response.Error(c, errcode.ErrTooMany, http.StatusText(http.StatusTooManyRequests))
		c.Abort()
		return
	}
	c.Next()
}

func (l *rateLimiter) allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastSweep) >= l.sweepInterval {
		l.cleanupExpiredLocked(now)
	}
	w, ok := l.seen[key]
	if !ok || now.Sub(w.start) >= l.window {
		l.seen[key] = &window{start: now, count: 1}
		return true
	}
	if w.count >= l.limit {
		return false
	}
	w.count++
	return true
}

func (l *rateLimiter) cleanupExpiredLocked(now time.Time) {
	for key, w := range l.seen {
		if now.Sub(w.start) >= l.window {
			delete(l.seen, key)
		}
	}
	l.lastSweep = now
}
