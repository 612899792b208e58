package openaichat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfare-ai/llmgateway/internal/ir"
	"github.com/wayfare-ai/llmgateway/internal/protocol"
)

func TestDecodeRequest_SystemAndUserText(t *testing.T) {
	c := New()
	req, err := c.DecodeRequest(map[string]any{
		"model": "gpt-4o",
		"messages": []any{
			map[string]any{"role": "system", "content": "be terse"},
			map[string]any{"role": "user", "content": "hello"},
		},
		"temperature": 0.2,
		"max_tokens":  float64(512),
	})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", req.Model)
	assert.True(t, req.HasSystem)
	assert.Equal(t, "be terse", req.System)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "hello", req.Messages[0].TextContent())
	require.NotNil(t, req.GenerationConfig.Temperature)
	assert.InDelta(t, 0.2, *req.GenerationConfig.Temperature, 1e-9)
	require.NotNil(t, req.GenerationConfig.MaxTokens)
	assert.Equal(t, 512, *req.GenerationConfig.MaxTokens)
}

func TestDecodeRequest_LegacyFunctionsNormalized(t *testing.T) {
	c := New()
	req, err := c.DecodeRequest(map[string]any{
		"model": "gpt-4o",
		"messages": []any{
			map[string]any{"role": "user", "content": "what's the weather"},
		},
		"functions": []any{
			map[string]any{
				"name":        "get_weather",
				"description": "look up weather",
				"parameters":  map[string]any{"type": "object"},
			},
		},
		"function_call": "auto",
	})
	require.NoError(t, err)
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "get_weather", req.Tools[0].Name)
}

func TestDecodeRequest_MissingMessagesIsInvalidRequest(t *testing.T) {
	c := New()
	_, err := c.DecodeRequest(map[string]any{"model": "gpt-4o"})
	require.Error(t, err)
	var pe *protocol.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, protocol.KindInvalidRequest, pe.Kind)
}

func TestEncodeRequest_ToolUseRoundTrip(t *testing.T) {
	c := New()
	req := &ir.Request{
		Model: "gpt-4o",
		Messages: []ir.Message{
			{Role: ir.RoleUser, Content: []ir.ContentBlock{ir.NewTextBlock("lookup x")}},
			{Role: ir.RoleAssistant, Content: []ir.ContentBlock{ir.NewToolUseBlock("call_1", "lookup", map[string]any{"q": "x"})}},
			{Role: ir.RoleTool, Content: []ir.ContentBlock{ir.NewToolResultBlock("call_1", "42", false)}},
		},
	}

	out, err := c.EncodeRequest(req, protocol.EncodeOptions{})
	require.NoError(t, err)

	messages, ok := out["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 3)

	assistantMsg := messages[1].(map[string]any)
	toolCalls, ok := assistantMsg["tool_calls"].([]any)
	require.True(t, ok)
	require.Len(t, toolCalls, 1)
	tc := toolCalls[0].(map[string]any)
	assert.Equal(t, "call_1", tc["id"])

	toolMsg := messages[2].(map[string]any)
	assert.Equal(t, "tool", toolMsg["role"])
	assert.Equal(t, "call_1", toolMsg["tool_call_id"])
	assert.Equal(t, "42", toolMsg["content"])
}

func TestDecodeResponse_WithToolCallForcesToolUseFinishReason(t *testing.T) {
	c := New()
	resp, err := c.DecodeResponse(map[string]any{
		"id":    "chatcmpl-1",
		"model": "gpt-4o",
		"choices": []any{
			map[string]any{
				"index": float64(0),
				"message": map[string]any{
					"role":    "assistant",
					"content": nil,
					"tool_calls": []any{
						map[string]any{
							"id":   "call_1",
							"type": "function",
							"function": map[string]any{
								"name":      "lookup",
								"arguments": `{"q":"x"}`,
							},
						},
					},
				},
				"finish_reason": "tool_calls",
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     float64(10),
			"completion_tokens": float64(4),
			"total_tokens":      float64(14),
		},
	})
	require.NoError(t, err)
	assert.True(t, resp.HasToolUse())
	assert.Equal(t, ir.StopToolUse, resp.StopReason)
	assert.Equal(t, 14, resp.Usage.Total())
}

func TestEncodeResponse_ForcesToolCallsFinishReason(t *testing.T) {
	c := New()
	resp := &ir.Response{
		ID:         "chatcmpl-1",
		Model:      "gpt-4o",
		Content:    []ir.ContentBlock{ir.NewToolUseBlock("call_1", "lookup", map[string]any{"q": "x"})},
		StopReason: ir.StopEndTurn, // upstream gave a generic reason; tool use must win
	}
	out, err := c.EncodeResponse(resp, protocol.EncodeOptions{})
	require.NoError(t, err)
	choices := out["choices"].([]any)
	choice := choices[0].(map[string]any)
	assert.Equal(t, "tool_calls", choice["finish_reason"])
}

func TestStream_TextDeltaAndDone(t *testing.T) {
	c := New()
	events, err := c.DecodeStreamEvent(protocol.RawEvent{
		Data: map[string]any{
			"id":    "chatcmpl-1",
			"model": "gpt-4o",
			"choices": []any{
				map[string]any{"index": float64(0), "delta": map[string]any{"content": "hi"}},
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ir.EventContentBlockDelta, events[0].Type)
	assert.Equal(t, "hi", events[0].DeltaText)

	done, err := c.DecodeStreamEvent(protocol.RawEvent{Done: true})
	require.NoError(t, err)
	require.Len(t, done, 2)
	assert.Equal(t, ir.EventMessageStop, done[0].Type)
	assert.Equal(t, ir.EventDone, done[1].Type)
}

func TestStream_EncodeTerminator(t *testing.T) {
	c := New()

	// message_stop has no OpenAI wire event of its own; only the done
	// sentinel terminates the stream, and only once.
	raws, err := c.EncodeStreamEvent(ir.StreamEvent{Type: ir.EventMessageStop}, protocol.EncodeOptions{})
	require.NoError(t, err)
	assert.Empty(t, raws)

	raws, err = c.EncodeStreamEvent(ir.StreamEvent{Type: ir.EventDone}, protocol.EncodeOptions{})
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.True(t, raws[0].Done)
}
