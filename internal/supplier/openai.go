package supplier

import (
	"context"
	"net/http"
)

// OpenAIClient implements supplier.Client for any upstream speaking the
// OpenAI wire protocol (OpenAI itself, and the many OpenAI-compatible
// backends a Provider record's base_url can point at) — Bearer auth,
// plain "data: {json}\n\n" SSE framing, no named events.
type OpenAIClient struct {
	http *http.Client
}

func NewOpenAIClient(client *http.Client) *OpenAIClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenAIClient{http: client}
}

func (c *OpenAIClient) setAuth(req Request) func(*http.Request) {
	return func(httpReq *http.Request) {
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	}
}

func (c *OpenAIClient) Forward(ctx context.Context, req Request) (Response, error) {
	url := req.BaseURL + req.Path
	return doUnary(ctx, c.http, methodOrDefault(req.Method), url, req, c.setAuth(req))
}

func (c *OpenAIClient) ForwardStream(ctx context.Context, req Request) (<-chan Chunk, error) {
	url := req.BaseURL + req.Path
	return doStream(ctx, c.http, methodOrDefault(req.Method), url, req, c.setAuth(req))
}
