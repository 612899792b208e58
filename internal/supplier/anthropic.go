package supplier

import (
	"context"
	"net/http"
)

// anthropicAPIVersion pins the Anthropic API behavior: Anthropic versions
// the API with a date-based header instead of a path segment.
const anthropicAPIVersion = "2023-06-01"

// AnthropicClient implements supplier.Client for Anthropic's Messages
// API: x-api-key auth (not Authorization: Bearer) plus the versioning
// header. The request and response bodies passing through here are already
// Anthropic wire JSON produced by internal/protocol/anthropic's codec.
type AnthropicClient struct {
	http *http.Client
}

// NewAnthropicClient constructs an AnthropicClient. A nil http.Client
// defaults to http.DefaultClient. apiKey/baseURL live on the per-attempt
// Request instead of the client, since one gateway process talks to many
// Anthropic-protocol providers with distinct API keys.
func NewAnthropicClient(client *http.Client) *AnthropicClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &AnthropicClient{http: client}
}

func (c *AnthropicClient) setAuth(req Request) func(*http.Request) {
	return func(httpReq *http.Request) {
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", req.APIKey)
		if v, ok := req.Headers["anthropic-version"]; ok && v != "" {
			httpReq.Header.Set("anthropic-version", v)
		} else {
			httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
		}
	}
}

func (c *AnthropicClient) Forward(ctx context.Context, req Request) (Response, error) {
	url := req.BaseURL + req.Path
	return doUnary(ctx, c.http, methodOrDefault(req.Method), url, req, c.setAuth(req))
}

func (c *AnthropicClient) ForwardStream(ctx context.Context, req Request) (<-chan Chunk, error) {
	url := req.BaseURL + req.Path
	return doStream(ctx, c.http, methodOrDefault(req.Method), url, req, c.setAuth(req))
}

func methodOrDefault(method string) string {
	if method == "" {
		return http.MethodPost
	}
	return method
}
