package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	poolSize = 32
	poolTTL  = time.Hour
)

// Pool hands out the default client, or a client bound to a caller supplied
// endpoint. Endpoint clients are built with the default provider and kept
// for an hour after creation.
type Pool struct {
	def        Client
	base       Endpoint
	provider   string
	args       interface{}
	resilience ResilienceConfig
	decorate   []func(Client) Client

	mu      sync.Mutex
	clients *expirable.LRU[Endpoint, Client]
}

// NewPool returns a pool around def. Each decorate func wraps endpoint
// clients after resilience, in order.
func NewPool(def Client, provider string, args interface{}, resilience ResilienceConfig, decorate ...func(Client) Client) *Pool {
	var base Endpoint
	if args != nil {
		_ = decodeConfig(args, &base)
	}
	base.BaseURL = strings.TrimSpace(base.BaseURL)
	base.APIKey = strings.TrimSpace(base.APIKey)
	return &Pool{
		def:        def,
		base:       base,
		provider:   provider,
		args:       args,
		resilience: resilience,
		decorate:   decorate,
		clients:    expirable.NewLRU[Endpoint, Client](poolSize, nil, poolTTL),
	}
}

func (p *Pool) Default() Client {
	return p.def
}

func (p *Pool) For(ep Endpoint) (Client, error) {
	ep.BaseURL = strings.TrimSpace(ep.BaseURL)
	ep.APIKey = strings.TrimSpace(ep.APIKey)
	if ep == (Endpoint{}) || ep == p.base {
		if p.def == nil {
			return nil, fmt.Errorf("llm client not configured")
		}
		return p.def, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients.Get(ep); ok {
		return c, nil
	}
	args := map[string]interface{}{}
	if p.args != nil {
		if err := decodeConfig(p.args, &args); err != nil {
			return nil, err
		}
	}
	if ep.BaseURL != "" {
		args["base_url"] = ep.BaseURL
	}
	if ep.APIKey != "" {
		args["api_key"] = ep.APIKey
	}
	c, err := NewClient(p.provider, args)
	if err != nil {
		return nil, fmt.Errorf("init endpoint client: %w", err)
	}
	c = WithResilience(c, p.resilience)
	for _, wrap := range p.decorate {
		c = wrap(c)
	}
	p.clients.Add(ep, c)
	return c, nil
}

// Embed routes req to the client for req.Endpoint.
func (p *Pool) Embed(ctx context.Context, req EmbedRequest) ([]float32, error) {
	c, err := p.For(req.Endpoint)
	if err != nil {
		return nil, err
	}
	return c.Embed(ctx, req)
}
