package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"

	"google.golang.org/genai"

	appErr "github.com/xxxsen/mnote-agent/internal/pkg/errors"
)

type geminiConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
}

type geminiProvider struct {
	client *genai.Client
}

func (p *geminiProvider) Name() string {
	return "gemini"
}

func (p *geminiProvider) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if p.client == nil {
		return "", appErr.ErrUnavailable
	}
	contents, config := geminiContents(req.Messages)
	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return "", geminiError("chat", err)
	}
	return resp.Text(), nil
}

func (p *geminiProvider) ChatStream(ctx context.Context, req ChatRequest) (Stream, error) {
	if p.client == nil {
		return nil, appErr.ErrUnavailable
	}
	contents, config := geminiContents(req.Messages)
	seq := p.client.Models.GenerateContentStream(ctx, req.Model, contents, config)
	return newGeminiStream(seq), nil
}

func (p *geminiProvider) Embed(ctx context.Context, req EmbedRequest) ([]float32, error) {
	if p.client == nil {
		return nil, appErr.ErrUnavailable
	}
	var config *genai.EmbedContentConfig
	if req.TaskType != "" {
		config = &genai.EmbedContentConfig{
			TaskType: req.TaskType,
		}
	}
	resp, err := p.client.Models.EmbedContent(
		ctx,
		req.Model,
		[]*genai.Content{genai.NewContentFromText(req.Text, genai.RoleUser)},
		config,
	)
	if err != nil {
		return nil, geminiError("embed", err)
	}
	if len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, appErr.NewUpstreamError("embed", 0, fmt.Errorf("no embedding values returned"))
	}
	return resp.Embeddings[0].Values, nil
}

// geminiContents moves system messages into the system instruction and maps
// assistant turns to the model role.
func geminiContents(msgs []ChatMessage) ([]*genai.Content, *genai.GenerateContentConfig) {
	var system []string
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(system) == 0 {
		return contents, nil
	}
	return contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser),
	}
}

func geminiError(op string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return appErr.NewUpstreamError(op, apiErr.Code, err)
	}
	return appErr.NewUpstreamError(op, 0, err)
}

type geminiStream struct {
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()

	mu   sync.Mutex
	done bool
}

func newGeminiStream(seq iter.Seq2[*genai.GenerateContentResponse, error]) *geminiStream {
	next, stop := iter.Pull2(seq)
	return &geminiStream{next: next, stop: stop}
}

func (s *geminiStream) Recv() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.done {
			return "", io.EOF
		}
		resp, err, ok := s.next()
		if !ok {
			s.closeLocked()
			return "", io.EOF
		}
		if err != nil {
			s.closeLocked()
			return "", geminiError("chat_stream", err)
		}
		if resp == nil {
			continue
		}
		if text := resp.Text(); text != "" {
			return text, nil
		}
	}
}

func (s *geminiStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *geminiStream) closeLocked() {
	if s.done {
		return
	}
	s.done = true
	s.stop()
}

func createGeminiFactory(args interface{}) (Client, error) {
	cfg := &geminiConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return &geminiProvider{}, nil
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(context.Background(), clientCfg)
	if err != nil {
		return nil, fmt.Errorf("init gemini client: %w", err)
	}
	return &geminiProvider{client: client}, nil
}

func init() {
	Register("gemini", createGeminiFactory)
}
