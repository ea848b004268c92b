package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

type HTTPObserver interface {
	ObserveHTTP(method, route string, status int, elapsed time.Duration)
}

// Metrics reports every request by its route template, so path parameters
// do not explode the label set.
func Metrics(o HTTPObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		o.ObserveHTTP(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
