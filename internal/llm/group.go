package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type Entry struct {
	Name   string
	Client Client
}

type groupClient struct {
	items []Entry
}

// NewGroup tries each client in order until one succeeds. A cancelled
// caller context stops the walk.
func NewGroup(items []Entry) Client {
	valid := make([]Entry, 0, len(items))
	for _, item := range items {
		if item.Client != nil {
			valid = append(valid, item)
		}
	}
	if len(valid) == 0 {
		return nil
	}
	if len(valid) == 1 {
		return valid[0].Client
	}
	return &groupClient{items: valid}
}

func (g *groupClient) Name() string {
	names := make([]string, 0, len(g.items))
	for _, item := range g.items {
		if item.Name == "" {
			continue
		}
		names = append(names, item.Name)
	}
	return strings.Join(names, "|")
}

func (g *groupClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	return tryEach(ctx, g.items, "chat", func(c Client) (string, error) {
		return c.Chat(ctx, req)
	})
}

func (g *groupClient) ChatStream(ctx context.Context, req ChatRequest) (Stream, error) {
	return tryEach(ctx, g.items, "chat_stream", func(c Client) (Stream, error) {
		return c.ChatStream(ctx, req)
	})
}

func (g *groupClient) Embed(ctx context.Context, req EmbedRequest) ([]float32, error) {
	return tryEach(ctx, g.items, "embed", func(c Client) ([]float32, error) {
		return c.Embed(ctx, req)
	})
}

func tryEach[T any](ctx context.Context, items []Entry, op string, call func(Client) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i, item := range items {
		res, err := call(item.Client)
		if err == nil {
			return res, nil
		}
		lastErr = err
		logutil.GetLogger(ctx).Warn("llm client failed",
			zap.String("op", op), zap.Int("index", i), zap.String("name", item.Name), zap.Error(err))
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			break
		}
	}
	if lastErr == nil {
		return zero, fmt.Errorf("llm client not configured")
	}
	return zero, lastErr
}
