package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	appErr "github.com/xxxsen/mnote-agent/internal/pkg/errors"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

type openAIConfig struct {
	APIKey      string `json:"api_key"`
	BaseURL     string `json:"base_url"`
	HTTPReferer string `json:"http_referer"`
	XTitle      string `json:"x_title"`
	// StreamHeaderTimeout bounds the wait for the first byte of a stream,
	// in seconds.
	StreamHeaderTimeout int `json:"stream_header_timeout"`
}

type openAIProvider struct {
	name        string
	apiKey      string
	baseURL     string
	httpReferer string
	xTitle      string
	client      *http.Client
}

type openAIChatRequest struct {
	Model    string          `json:"model"`
	Messages []openAIChatMsg `json:"messages"`
	Stream   bool            `json:"stream"`
}

type openAIChatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type openAIEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (p *openAIProvider) Name() string {
	return p.name
}

func (p *openAIProvider) Chat(ctx context.Context, req ChatRequest) (string, error) {
	resp, err := p.post(ctx, "chat", "/chat/completions", p.chatBody(req, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var out openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", appErr.NewUpstreamError("chat", 0, fmt.Errorf("decode response: %w", err))
	}
	if len(out.Choices) == 0 {
		return "", appErr.NewUpstreamError("chat", 0, fmt.Errorf("%s response has no choices", p.name))
	}
	return out.Choices[0].Message.Content, nil
}

func (p *openAIProvider) ChatStream(ctx context.Context, req ChatRequest) (Stream, error) {
	resp, err := p.post(ctx, "chat_stream", "/chat/completions", p.chatBody(req, true))
	if err != nil {
		return nil, err
	}
	return newSSEStream(resp.Body, decodeOpenAIChunk), nil
}

func (p *openAIProvider) Embed(ctx context.Context, req EmbedRequest) ([]float32, error) {
	resp, err := p.post(ctx, "embed", "/embeddings", openAIEmbedRequest{Model: req.Model, Input: req.Text})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out openAIEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, appErr.NewUpstreamError("embed", 0, fmt.Errorf("decode response: %w", err))
	}
	if len(out.Data) == 0 {
		return nil, appErr.NewUpstreamError("embed", 0, fmt.Errorf("%s response has no embeddings", p.name))
	}
	return out.Data[0].Embedding, nil
}

func (p *openAIProvider) chatBody(req ChatRequest, stream bool) openAIChatRequest {
	msgs := make([]openAIChatMsg, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openAIChatMsg{Role: string(m.Role), Content: m.Content})
	}
	return openAIChatRequest{Model: req.Model, Messages: msgs, Stream: stream}
}

// post sends body and returns the response only for 2xx statuses; the
// caller owns the body.
func (p *openAIProvider) post(ctx context.Context, op, path string, body interface{}) (*http.Response, error) {
	if p.apiKey == "" {
		return nil, appErr.ErrUnavailable
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	endpoint := strings.TrimRight(p.baseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if p.httpReferer != "" {
		req.Header.Set("HTTP-Referer", p.httpReferer)
	}
	if p.xTitle != "" {
		req.Header.Set("X-Title", p.xTitle)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, appErr.NewUpstreamError(op, 0, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, appErr.NewUpstreamError(op, resp.StatusCode,
			fmt.Errorf("%s request failed: %s: %s", p.name, resp.Status, strings.TrimSpace(string(raw))))
	}
	return resp, nil
}

func decodeOpenAIChunk(payload []byte) (string, error) {
	var chunk openAIStreamChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return "", appErr.NewUpstreamError("chat_stream", 0, fmt.Errorf("decode chunk: %w", err))
	}
	if chunk.Error != nil {
		return "", appErr.NewUpstreamError("chat_stream", 0, fmt.Errorf("stream error: %s", chunk.Error.Message))
	}
	if len(chunk.Choices) == 0 {
		return "", nil
	}
	return chunk.Choices[0].Delta.Content, nil
}

func newOpenAIProvider(name, defaultBaseURL string) Factory {
	return func(args interface{}) (Client, error) {
		cfg := &openAIConfig{}
		if err := decodeConfig(args, cfg); err != nil {
			return nil, err
		}
		baseURL := strings.TrimSpace(cfg.BaseURL)
		if baseURL == "" {
			baseURL = defaultBaseURL
		}
		headerTimeout := time.Duration(cfg.StreamHeaderTimeout) * time.Second
		if headerTimeout <= 0 {
			headerTimeout = 60 * time.Second
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = headerTimeout
		return &openAIProvider{
			name:        name,
			apiKey:      strings.TrimSpace(cfg.APIKey),
			baseURL:     baseURL,
			httpReferer: strings.TrimSpace(cfg.HTTPReferer),
			xTitle:      strings.TrimSpace(cfg.XTitle),
			client:      &http.Client{Transport: transport},
		}, nil
	}
}

func init() {
	Register("openai", newOpenAIProvider("openai", defaultOpenAIBaseURL))
	Register("openrouter", newOpenAIProvider("openrouter", "https://openrouter.ai/api/v1"))
}
