package node

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/xxxsen/mnote-agent/internal/llm"
)

// Stream delivers the chunks of one generation. It is finite and cannot be
// restarted. Once the context ends or Close is called no further chunk is
// delivered and the upstream connection is released.
type Stream struct {
	ctx       context.Context
	upstream  llm.Stream
	stopWatch func() bool

	mu     sync.Mutex
	closed bool
}

func newStream(ctx context.Context, upstream llm.Stream) *Stream {
	s := &Stream{ctx: ctx, upstream: upstream}
	s.mu.Lock()
	s.stopWatch = context.AfterFunc(ctx, func() {
		_ = s.Close()
	})
	s.mu.Unlock()
	return s
}

// Recv returns the next chunk, io.EOF at the end, or the context error
// after cancellation.
func (s *Stream) Recv() (string, error) {
	if err := s.ctx.Err(); err != nil {
		_ = s.Close()
		return "", err
	}
	if s.isClosed() {
		return "", io.EOF
	}
	chunk, err := s.upstream.Recv()
	if cerr := s.ctx.Err(); cerr != nil {
		_ = s.Close()
		return "", cerr
	}
	if s.isClosed() {
		return "", io.EOF
	}
	if err != nil {
		_ = s.Close()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		return "", err
	}
	return chunk, nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stop := s.stopWatch
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
	return s.upstream.Close()
}

func (s *Stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Collect drains s and returns the concatenated text.
func Collect(s *Stream) (string, error) {
	defer s.Close()
	var sb strings.Builder
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(chunk)
	}
}
