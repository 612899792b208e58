package orchestrator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfare-ai/llmgateway/internal/protocol"
	"github.com/wayfare-ai/llmgateway/internal/protocol/anthropic"
	"github.com/wayfare-ai/llmgateway/internal/protocol/gemini"
	"github.com/wayfare-ai/llmgateway/internal/protocol/openaichat"
	"github.com/wayfare-ai/llmgateway/internal/protocol/openairesponses"
	"github.com/wayfare-ai/llmgateway/internal/repo/memory"
	"github.com/wayfare-ai/llmgateway/internal/routing"
	"github.com/wayfare-ai/llmgateway/internal/supplier"
)

// stubClient is a supplier.Client backed by test-provided closures.
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

func testRegistry() *protocol.Registry {
	r := protocol.NewRegistry()
	r.Register(protocol.OpenAIChat, protocol.Codec{Decoder: openaichat.New(), Encoder: openaichat.New()})
	r.Register(protocol.OpenAIResponses, protocol.Codec{Decoder: openairesponses.New(), Encoder: openairesponses.New()})
	r.Register(protocol.AnthropicMessages, protocol.Codec{Decoder: anthropic.New(), Encoder: anthropic.New()})
	r.Register(protocol.Gemini, protocol.Codec{Decoder: gemini.New(), Encoder: gemini.New()})
	return r
}

// newTestOrchestrator wires an Orchestrator over one anthropic-protocol
// provider serving the logical model "gpt-4o" as claude-sonnet-4-5.
func newTestOrchestrator(client supplier.Client) (*Orchestrator, *memory.LogRepo) {
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

	return New(testRegistry(), suppliers, models, providers, logs, RetryConfig{MaxRetries: 2}), logs
}

func anthropicSuccessBody() map[string]any {
	return map[string]any{
		"id":    "msg_01",
		"type":  "message",
		"role":  "assistant",
		"model": "claude-sonnet-4-5",
		"content": []any{
			map[string]any{"type": "text", "text": "Hello"},
		},
		"stop_reason": "end_turn",
		"usage":       map[string]any{"input_tokens": float64(5), "output_tokens": float64(2)},
	}
}

func TestHandle_OpenAIToAnthropicUnary(t *testing.T) {
	var captured supplier.Request
	client := &stubClient{
		forward: func(_ context.Context, req supplier.Request) (supplier.Response, error) {
			captured = req
			body := anthropicSuccessBody()
			raw, _ := json.Marshal(body)
			return supplier.Response{StatusCode: 200, Body: raw, ParsedBody: body}, nil
		},
	}
	o, logs := newTestOrchestrator(client)

	outcome, err := o.Handle(context.Background(), protocol.OpenAIChat,
		map[string]string{"authorization": "Bearer sk-client"},
		map[string]any{
			"model": "gpt-4o",
			"messages": []any{
				map[string]any{"role": "system", "content": "be helpful"},
				map[string]any{"role": "user", "content": "hi"},
			},
			"max_tokens": float64(16),
		})
	require.NoError(t, err)
	require.NotNil(t, outcome)
	assert.Equal(t, 200, outcome.StatusCode)

	// The upstream call went to Anthropic's path with a translated body.
	assert.Equal(t, "/v1/messages", captured.Path)
	assert.Equal(t, "sk-upstream", captured.APIKey)
	var upstream map[string]any
	require.NoError(t, json.Unmarshal(captured.Body, &upstream))
	assert.Equal(t, "be helpful", upstream["system"])
	assert.Equal(t, "claude-sonnet-4-5", upstream["model"])
	assert.Equal(t, float64(16), upstream["max_tokens"])
	messages := upstream["messages"].([]any)
	require.Len(t, messages, 1)
	assert.Equal(t, "user", messages[0].(map[string]any)["role"])

	// The response came back in the client's own protocol.
	assert.Equal(t, "chat.completion", outcome.Body["object"])
	choices := outcome.Body["choices"].([]any)
	message := choices[0].(map[string]any)["message"].(map[string]any)
	assert.Equal(t, "Hello", message["content"])

	// Exactly one request-log record, with the resolved route on it.
	entries := logs.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "gpt-4o", entries[0].RequestedModel)
	assert.Equal(t, "claude-sonnet-4-5", entries[0].TargetModel)
	assert.Equal(t, "anthropic-main", entries[0].ProviderName)
	assert.Equal(t, "sk-client", entries[0].APIKeyID)
	assert.Equal(t, "[redacted]", entries[0].RequestHeaders["authorization"])
	assert.Equal(t, 1, entries[0].MatchedProviderCount)
	assert.Equal(t, 5, entries[0].InputTokens)
	assert.Equal(t, 2, entries[0].OutputTokens)
	assert.False(t, entries[0].IsStream)
}

func TestHandle_MissingModel(t *testing.T) {
	o, logs := newTestOrchestrator(&stubClient{})

	outcome, err := o.Handle(context.Background(), protocol.OpenAIChat, nil,
		map[string]any{"messages": []any{map[string]any{"role": "user", "content": "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, 400, outcome.StatusCode)
	require.Len(t, logs.Entries(), 1)
	assert.Equal(t, 400, logs.Entries()[0].ResponseStatus)
}

func TestHandle_UnknownModel(t *testing.T) {
	o, logs := newTestOrchestrator(&stubClient{})

	outcome, err := o.Handle(context.Background(), protocol.OpenAIChat, nil,
		map[string]any{
			"model":    "no-such-model",
			"messages": []any{map[string]any{"role": "user", "content": "hi"}},
		})
	require.NoError(t, err)
	assert.Equal(t, 404, outcome.StatusCode)
	require.Len(t, logs.Entries(), 1)
}

func TestHandle_FailoverRecordsRetryCount(t *testing.T) {
	calls := 0
	client := &stubClient{
		forward: func(_ context.Context, req supplier.Request) (supplier.Response, error) {
			calls++
			if calls == 1 {
				return supplier.Response{StatusCode: 401, Body: []byte(`{"error":"bad key"}`)}, nil
			}
			body := anthropicSuccessBody()
			raw, _ := json.Marshal(body)
			return supplier.Response{StatusCode: 200, Body: raw, ParsedBody: body}, nil
		},
	}
	suppliers := supplier.NewRegistry()
	suppliers.Register("anthropic", client)

	models := memory.NewModelRepo(
		[]routing.ModelMapping{{RequestedModel: "gpt-4o", Strategy: routing.Priority, IsActive: true}},
		[]routing.ProviderMapping{
			{ID: 1, RequestedModel: "gpt-4o", ProviderID: 1, ProviderName: "a", TargetModel: "claude-a", IsActive: true, Priority: 0},
			{ID: 2, RequestedModel: "gpt-4o", ProviderID: 1, ProviderName: "a", TargetModel: "claude-b", IsActive: true, Priority: 1},
		},
	)
	providers := memory.NewProviderRepo([]routing.Provider{{
		ID: 1, Name: "a", BaseURL: "https://upstream.example", Protocol: "anthropic", APIKey: "k", IsActive: true,
	}})
	logs := memory.NewLogRepo(0)
	o := New(testRegistry(), suppliers, models, providers, logs, RetryConfig{MaxRetries: 3})

	outcome, err := o.Handle(context.Background(), protocol.OpenAIChat, nil,
		map[string]any{
			"model":    "gpt-4o",
			"messages": []any{map[string]any{"role": "user", "content": "hi"}},
		})
	require.NoError(t, err)
	assert.Equal(t, 200, outcome.StatusCode)
	assert.Equal(t, 2, calls)
	require.Len(t, logs.Entries(), 1)
	assert.Equal(t, 1, logs.Entries()[0].RetryCount)
	assert.Equal(t, "claude-b", logs.Entries()[0].TargetModel)
}

// anthropicStreamChunks is a minimal upstream fixture: a two-delta text
// stream ending in end_turn.
func anthropicStreamChunks() []supplier.Chunk {
	ok := supplier.Response{StatusCode: 200}
	events := []protocol.RawEvent{
		{EventName: "message_start", Data: map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id": "msg_01", "model": "claude-sonnet-4-5",
				"usage": map[string]any{"input_tokens": float64(3)},
			},
		}},
		{EventName: "content_block_start", Data: map[string]any{
			"type": "content_block_start", "index": float64(0),
			"content_block": map[string]any{"type": "text", "text": ""},
		}},
		{EventName: "content_block_delta", Data: map[string]any{
			"type": "content_block_delta", "index": float64(0),
			"delta": map[string]any{"type": "text_delta", "text": "Hi"},
		}},
		{EventName: "content_block_delta", Data: map[string]any{
			"type": "content_block_delta", "index": float64(0),
			"delta": map[string]any{"type": "text_delta", "text": "!"},
		}},
		{EventName: "content_block_stop", Data: map[string]any{
			"type": "content_block_stop", "index": float64(0),
		}},
		{EventName: "message_delta", Data: map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": "end_turn"},
			"usage": map[string]any{"output_tokens": float64(2)},
		}},
		{EventName: "message_stop", Data: map[string]any{"type": "message_stop"}},
	}
	chunks := make([]supplier.Chunk, 0, len(events))
	for _, ev := range events {
		chunks = append(chunks, supplier.Chunk{Event: ev, Response: ok})
	}
	return chunks
}

func TestHandle_AnthropicToOpenAIStreaming(t *testing.T) {
	client := &stubClient{
		forwardStream: func(context.Context, supplier.Request) (<-chan supplier.Chunk, error) {
			ch := make(chan supplier.Chunk, 16)
			for _, c := range anthropicStreamChunks() {
				ch <- c
			}
			close(ch)
			return ch, nil
		},
	}
	o, logs := newTestOrchestrator(client)

	outcome, err := o.Handle(context.Background(), protocol.OpenAIChat, nil,
		map[string]any{
			"model":    "gpt-4o",
			"messages": []any{map[string]any{"role": "user", "content": "hi"}},
			"stream":   true,
		})
	require.NoError(t, err)
	require.True(t, outcome.IsStream)

	var sawRole, sawHi, sawBang bool
	var finishReason string
	doneCount := 0
	for item := range outcome.Stream {
		require.NoError(t, item.Err)
		ev := item.Event
		if ev.Done {
			doneCount++
			continue
		}
		choices, ok := protocol.GetSlice(ev.Data, "choices")
		if !ok || len(choices) == 0 {
			continue
		}
		choice := choices[0].(map[string]any)
		if delta, ok := protocol.GetMap(choice, "delta"); ok {
			if role, ok := protocol.GetString(delta, "role"); ok && role == "assistant" {
				sawRole = true
			}
			switch content, _ := protocol.GetString(delta, "content"); content {
			case "Hi":
				sawHi = true
			case "!":
				sawBang = true
			}
		}
		if fr, ok := protocol.GetString(choice, "finish_reason"); ok && fr != "" {
			finishReason = fr
		}
	}

	assert.True(t, sawRole)
	assert.True(t, sawHi)
	assert.True(t, sawBang)
	assert.Equal(t, "stop", finishReason)
	assert.Equal(t, 1, doneCount)

	entries := logs.Entries()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].IsStream)
	require.NotNil(t, entries[0].StreamSummary)
	assert.Equal(t, "Hi!", entries[0].StreamSummary.OutputPreview)
	assert.Equal(t, 2, entries[0].OutputTokens)
	assert.Empty(t, entries[0].ErrorInfo)
}

func TestHandle_StreamAllProvidersFailed(t *testing.T) {
	client := &stubClient{
		forwardStream: func(context.Context, supplier.Request) (<-chan supplier.Chunk, error) {
			ch := make(chan supplier.Chunk, 1)
			ch <- supplier.Chunk{Data: []byte(`{"error":"down"}`), Response: supplier.Response{StatusCode: 503, Error: "upstream down"}}
			close(ch)
			return ch, nil
		},
	}
	o, logs := newTestOrchestrator(client)

	outcome, err := o.Handle(context.Background(), protocol.OpenAIChat, nil,
		map[string]any{
			"model":    "gpt-4o",
			"messages": []any{map[string]any{"role": "user", "content": "hi"}},
			"stream":   true,
		})
	require.NoError(t, err)
	require.True(t, outcome.IsStream)

	for range outcome.Stream {
	}

	entries := logs.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, 503, entries[0].ResponseStatus)
	assert.NotEmpty(t, entries[0].ErrorInfo)
}
