package handler

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mnote-agent/internal/middleware"
	"github.com/xxxsen/mnote-agent/internal/node"
	"github.com/xxxsen/mnote-agent/internal/pkg/errcode"
	appErr "github.com/xxxsen/mnote-agent/internal/pkg/errors"
	"github.com/xxxsen/mnote-agent/internal/pkg/response"
)

func requestLogger(c *gin.Context) *zap.Logger {
	return logutil.GetLogger(c.Request.Context()).With(
		zap.String("request_id", c.GetString(middleware.ContextRequestIDKey)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("client_id", c.GetString(middleware.ContextClientIDKey)),
	)
}

// classify maps err to an api code and a message safe to show callers.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, appErr.ErrInvalid):
		return errcode.ErrInvalid, err.Error()
	case errors.Is(err, appErr.ErrNotFound):
		return errcode.ErrNotFound, "not found"
	case errors.Is(err, appErr.ErrUnauthorized):
		return errcode.ErrUnauthorized, "unauthorized"
	case errors.Is(err, appErr.ErrTooMany):
		return errcode.ErrTooMany, "too many requests"
	case appErr.IsUnresolved(err):
		return errcode.ErrModelUnresolved, "no model configured"
	case errors.Is(err, appErr.ErrUnavailable):
		return errcode.ErrAIUnavailable, "ai not configured"
	case appErr.IsRetryable(err):
		return errcode.ErrUpstreamRetryable, "model backend temporarily unavailable"
	case appErr.IsUpstream(err):
		return errcode.ErrUpstream, "model backend error"
	default:
		return errcode.ErrInternal, "internal error"
	}
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	code, msg := classify(err)
	logger := requestLogger(c)
	if code == errcode.ErrInternal {
		logger.Error("request failed", zap.Error(err))
	} else {
		logger.Warn("request rejected", zap.Int("code", code), zap.Error(err))
	}
	response.Error(c, code, msg)
}

func badRequest(c *gin.Context, err error) {
	requestLogger(c).Debug("bind request failed", zap.Error(err))
	response.Error(c, errcode.ErrInvalid, "invalid request")
}

func queryUint(c *gin.Context, name string) uint {
	v, err := strconv.ParseUint(c.Query(name), 10, 32)
	if err != nil {
		return 0
	}
	return uint(v)
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func startStream(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// pipeStream forwards every chunk of s as an event and returns the full
// text. A failure after the first byte can only be reported in band.
func pipeStream(c *gin.Context, s *node.Stream) (string, bool) {
	defer func() {
		_ = s.Close()
	}()
	var sb strings.Builder
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return sb.String(), true
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				requestLogger(c).Info("client went away during stream")
				return sb.String(), false
			}
			code, msg := classify(err)
			requestLogger(c).Warn("stream failed", zap.Int("code", code), zap.Error(err))
			response.StreamError(c, code, msg)
			return sb.String(), false
		}
		sb.WriteString(chunk)
		response.StreamChunk(c, chunk)
	}
}

func endStream(c *gin.Context) {
	c.SSEvent(response.EventDone, gin.H{})
	c.Writer.Flush()
}
