package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfare-ai/llmgateway/internal/config"
	"github.com/wayfare-ai/llmgateway/internal/orchestrator"
	"github.com/wayfare-ai/llmgateway/internal/protocol"
	"github.com/wayfare-ai/llmgateway/internal/protocol/anthropic"
	"github.com/wayfare-ai/llmgateway/internal/protocol/gemini"
	"github.com/wayfare-ai/llmgateway/internal/protocol/openaichat"
	"github.com/wayfare-ai/llmgateway/internal/protocol/openairesponses"
	"github.com/wayfare-ai/llmgateway/internal/repo/memory"
	"github.com/wayfare-ai/llmgateway/internal/routing"
	"github.com/wayfare-ai/llmgateway/internal/supplier"
)

// stubClient fakes one upstream anthropic-protocol supplier.
type stubClient struct {
	forward       func(ctx context.Context, req supplier.Request) (supplier.Response, error)
	forwardStream func(ctx context.Context, req supplier.Request) (<-chan supplier.Chunk, error)
}

func (s *stubClient) Forward(ctx context.Context, req supplier.Request) (supplier.Response, error) {
	return s.forward(ctx, req)
}

func (s *stubClient) ForwardStream(ctx context.Context, req supplier.Request) (<-chan supplier.Chunk, error) {
	return s.forwardStream(ctx, req)
}

// newTestServer stands up the full pipeline behind the HTTP surface with
// one stubbed anthropic upstream serving the logical model "gpt-4o".
func newTestServer(t *testing.T, client supplier.Client) *Server {
	t.Helper()

	codecs := protocol.NewRegistry()
	codecs.Register(protocol.OpenAIChat, protocol.Codec{Decoder: openaichat.New(), Encoder: openaichat.New()})
	codecs.Register(protocol.OpenAIResponses, protocol.Codec{Decoder: openairesponses.New(), Encoder: openairesponses.New()})
	codecs.Register(protocol.AnthropicMessages, protocol.Codec{Decoder: anthropic.New(), Encoder: anthropic.New()})
	codecs.Register(protocol.Gemini, protocol.Codec{Decoder: gemini.New(), Encoder: gemini.New()})

	suppliers := supplier.NewRegistry()
	suppliers.Register("anthropic", client)

	models := memory.NewModelRepo(
		[]routing.ModelMapping{{RequestedModel: "gpt-4o", Strategy: routing.Priority, IsActive: true}},
		[]routing.ProviderMapping{{
			ID: 1, RequestedModel: "gpt-4o", ProviderID: 1,
			ProviderName: "anthropic-main", TargetModel: "claude-sonnet-4-5", IsActive: true,
		}},
	)
	providers := memory.NewProviderRepo([]routing.Provider{{
		ID: 1, Name: "anthropic-main", BaseURL: "https://upstream.example",
		Protocol: "anthropic", APIKey: "sk-upstream", IsActive: true,
	}})
	logs := memory.NewLogRepo(0)

	orch := orchestrator.New(codecs, suppliers, models, providers, logs, orchestrator.RetryConfig{MaxRetries: 1})
	cfg := &config.Config{APIKeys: []string{"sk-client"}}
	return New(cfg, orch)
}

func anthropicBody() map[string]any {
	return map[string]any{
		"id":    "msg_01",
		"type":  "message",
		"role":  "assistant",
		"model": "claude-sonnet-4-5",
		"content": []any{
			map[string]any{"type": "text", "text": "Hello"},
		},
		"stop_reason": "end_turn",
	}
}

func successfulStub() *stubClient {
	return &stubClient{
		forward: func(context.Context, supplier.Request) (supplier.Response, error) {
			body := anthropicBody()
			raw, _ := json.Marshal(body)
			return supplier.Response{StatusCode: 200, Body: raw, ParsedBody: body}, nil
		},
	}
}

func TestChatCompletions_RequiresAPIKey(t *testing.T) {
	srv := newTestServer(t, successfulStub())

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`))
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestChatCompletions_Unary(t *testing.T) {
	srv := newTestServer(t, successfulStub())

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`))
	req.Header.Set("Authorization", "Bearer sk-client")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, "anthropic-main", rr.Header().Get("X-LLMGateway-Provider"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "chat.completion", body["object"])
}

func TestChatCompletions_Streaming(t *testing.T) {
	client := &stubClient{
		forwardStream: func(context.Context, supplier.Request) (<-chan supplier.Chunk, error) {
			ok := supplier.Response{StatusCode: 200}
			events := []protocol.RawEvent{
				{EventName: "message_start", Data: map[string]any{
					"type":    "message_start",
					"message": map[string]any{"id": "msg_01", "model": "claude-sonnet-4-5"},
				}},
				{EventName: "content_block_start", Data: map[string]any{
					"type": "content_block_start", "index": float64(0),
					"content_block": map[string]any{"type": "text", "text": ""},
				}},
				{EventName: "content_block_delta", Data: map[string]any{
					"type": "content_block_delta", "index": float64(0),
					"delta": map[string]any{"type": "text_delta", "text": "Hi"},
				}},
				{EventName: "content_block_stop", Data: map[string]any{
					"type": "content_block_stop", "index": float64(0),
				}},
				{EventName: "message_delta", Data: map[string]any{
					"type":  "message_delta",
					"delta": map[string]any{"stop_reason": "end_turn"},
				}},
				{EventName: "message_stop", Data: map[string]any{"type": "message_stop"}},
			}
			ch := make(chan supplier.Chunk, len(events))
			for _, ev := range events {
				ch <- supplier.Chunk{Event: ev, Response: ok}
			}
			close(ch)
			return ch, nil
		},
	}
	srv := newTestServer(t, client)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}],"stream":true}`))
	req.Header.Set("x-api-key", "sk-client")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))

	var dataLines []string
	scanner := bufio.NewScanner(rr.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	require.NotEmpty(t, dataLines)
	assert.Contains(t, dataLines[0], "assistant")
	assert.Equal(t, "[DONE]", dataLines[len(dataLines)-1])

	var sawHi bool
	for _, l := range dataLines {
		if strings.Contains(l, `"content":"Hi"`) {
			sawHi = true
		}
	}
	assert.True(t, sawHi)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, successfulStub())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}
