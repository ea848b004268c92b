package llm

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"sync"

	appErr "github.com/xxxsen/mnote-agent/internal/pkg/errors"
)

var sseDone = []byte("[DONE]")

// sseStream reads "data:" lines from a server-sent event body. Comment
// lines, event names and blank keep-alives are skipped.
type sseStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	decode func(payload []byte) (string, error)

	closeOnce sync.Once
	closeErr  error
	finished  bool
}

func newSSEStream(body io.ReadCloser, decode func([]byte) (string, error)) *sseStream {
	return &sseStream{
		body:   body,
		reader: bufio.NewReader(body),
		decode: decode,
	}
}

func (s *sseStream) Recv() (string, error) {
	if s.finished {
		return "", io.EOF
	}
	for {
		line, err := s.reader.ReadBytes('\n')
		if len(line) > 0 {
			text, ok, derr := s.handleLine(line)
			if derr != nil {
				s.finish()
				return "", derr
			}
			if ok {
				return text, nil
			}
			if s.finished {
				return "", io.EOF
			}
		}
		if err != nil {
			s.finish()
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			return "", appErr.NewUpstreamError("chat_stream", 0, err)
		}
	}
}

func (s *sseStream) handleLine(line []byte) (string, bool, error) {
	line = bytes.TrimSpace(line)
	if !bytes.HasPrefix(line, []byte("data:")) {
		return "", false, nil
	}
	payload := bytes.TrimSpace(line[len("data:"):])
	if len(payload) == 0 {
		return "", false, nil
	}
	if bytes.Equal(payload, sseDone) {
		s.finish()
		return "", false, nil
	}
	text, err := s.decode(payload)
	if err != nil {
		return "", false, err
	}
	if text == "" {
		return "", false, nil
	}
	return text, true, nil
}

func (s *sseStream) finish() {
	s.finished = true
	_ = s.Close()
}

func (s *sseStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
