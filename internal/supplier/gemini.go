package supplier

import (
	"context"
	"net/http"
	"net/url"
)

// GeminiClient implements supplier.Client for Google's Gemini
// generateContent API. The API key travels as a "?key=" query parameter
// rather than a header, and the action (generateContent vs
// streamGenerateContent) is a colon-suffixed verb on the model resource
// path rather than a distinct HTTP path segment.
//
// Unlike AnthropicClient/OpenAIClient, the resource path is built entirely
// from req.TargetModel rather than req.Path: Gemini addresses models by
// name in the URL, so the caller-supplied Path (meaningful for the other
// two protocols' fixed REST endpoints) has no equivalent here.
type GeminiClient struct {
	http *http.Client
}

func NewGeminiClient(client *http.Client) *GeminiClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &GeminiClient{http: client}
}

func (c *GeminiClient) setAuth(Request) func(*http.Request) {
	return func(httpReq *http.Request) {
		httpReq.Header.Set("Content-Type", "application/json")
	}
}

func (c *GeminiClient) Forward(ctx context.Context, req Request) (Response, error) {
	fullURL := req.BaseURL + "/models/" + req.TargetModel + ":generateContent?key=" + url.QueryEscape(req.APIKey)
	return doUnary(ctx, c.http, http.MethodPost, fullURL, req, c.setAuth(req))
}

func (c *GeminiClient) ForwardStream(ctx context.Context, req Request) (<-chan Chunk, error) {
	fullURL := req.BaseURL + "/models/" + req.TargetModel + ":streamGenerateContent?alt=sse&key=" + url.QueryEscape(req.APIKey)
	return doStream(ctx, c.http, http.MethodPost, fullURL, req, c.setAuth(req))
}
