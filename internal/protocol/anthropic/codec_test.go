package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfare-ai/llmgateway/internal/ir"
	"github.com/wayfare-ai/llmgateway/internal/protocol"
)

func TestDecodeRequest_SystemFieldAndToolResultSplit(t *testing.T) {
	c := New()
	req, err := c.DecodeRequest(map[string]any{
		"model":      "claude-3-5-sonnet",
		"system":     "be terse",
		"max_tokens": float64(1024),
		"messages": []any{
			map[string]any{"role": "assistant", "content": []any{
				map[string]any{"type": "tool_use", "id": "toolu_1", "name": "lookup", "input": map[string]any{"q": "x"}},
			}},
			map[string]any{"role": "user", "content": []any{
				map[string]any{"type": "tool_result", "tool_use_id": "toolu_1", "content": "42"},
				map[string]any{"type": "text", "text": "thanks"},
			}},
		},
	})
	require.NoError(t, err)
	assert.True(t, req.HasSystem)
	assert.Equal(t, "be terse", req.System)

	// tool_result split into its own role:tool message, remaining text into
	// a separate user message.
	require.Len(t, req.Messages, 3)
	assert.Equal(t, ir.RoleTool, req.Messages[1].Role)
	assert.Equal(t, ir.RoleUser, req.Messages[2].Role)
	assert.Equal(t, "thanks", req.Messages[2].TextContent())
}

func TestDecodeRequest_MissingMessagesIsInvalid(t *testing.T) {
	c := New()
	_, err := c.DecodeRequest(map[string]any{"model": "claude-3-5-sonnet"})
	require.Error(t, err)
	var pe *protocol.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, protocol.KindInvalidRequest, pe.Kind)
}

func TestEncodeRequest_MissingMaxTokensFailsWithoutAnthropicSource(t *testing.T) {
	c := New()
	req := &ir.Request{
		Model:    "claude-3-5-sonnet",
		Messages: []ir.Message{{Role: ir.RoleUser, Content: []ir.ContentBlock{ir.NewTextBlock("hi")}}},
	}
	_, err := c.EncodeRequest(req, protocol.EncodeOptions{})
	require.Error(t, err)
	var pe *protocol.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, protocol.KindValidation, pe.Kind)
}

func TestEncodeRequest_InjectsDefaultMaxTokensWhenAllowed(t *testing.T) {
	c := New()
	req := &ir.Request{
		Model:    "claude-3-5-sonnet",
		Messages: []ir.Message{{Role: ir.RoleUser, Content: []ir.ContentBlock{ir.NewTextBlock("hi")}}},
	}
	out, err := c.EncodeRequest(req, protocol.EncodeOptions{AllowMaxTokensDefault: true})
	require.NoError(t, err)
	assert.Equal(t, protocol.DefaultMaxTokens, out["max_tokens"])
}

func TestEncodeRequest_ClampsTemperature(t *testing.T) {
	c := New()
	over := 1.7
	req := &ir.Request{
		Model:            "claude-3-5-sonnet",
		GenerationConfig: ir.GenerationConfig{Temperature: &over, MaxTokens: intPtr(1024)},
		Messages:         []ir.Message{{Role: ir.RoleUser, Content: []ir.ContentBlock{ir.NewTextBlock("hi")}}},
	}
	out, err := c.EncodeRequest(req, protocol.EncodeOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, out["temperature"])
}

func TestDecodeResponse_ToolUseBlockIsDecoded(t *testing.T) {
	c := New()
	resp, err := c.DecodeResponse(map[string]any{
		"id":          "msg_1",
		"model":       "claude-3-5-sonnet",
		"stop_reason": "end_turn",
		"content": []any{
			map[string]any{"type": "tool_use", "id": "toolu_1", "name": "lookup", "input": map[string]any{"q": "x"}},
		},
	})
	require.NoError(t, err)
	assert.True(t, resp.HasToolUse())
}

func TestEncodeResponse_ForcesToolUseStopReason(t *testing.T) {
	c := New()
	resp := &ir.Response{
		ID:         "msg_1",
		Model:      "claude-3-5-sonnet",
		Content:    []ir.ContentBlock{ir.NewToolUseBlock("toolu_1", "lookup", map[string]any{"q": "x"})},
		StopReason: ir.StopEndTurn,
	}
	out, err := c.EncodeResponse(resp, protocol.EncodeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "tool_use", out["stop_reason"])
}

func TestStream_MessageStartAndContentBlockDelta(t *testing.T) {
	c := New()
	events, err := c.DecodeStreamEvent(protocol.RawEvent{
		EventName: "message_start",
		Data: map[string]any{
			"message": map[string]any{"id": "msg_1", "model": "claude-3-5-sonnet"},
		},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ir.EventMessageStart, events[0].Type)
	assert.Equal(t, "msg_1", events[0].Response.ID)

	delta, err := c.DecodeStreamEvent(protocol.RawEvent{
		EventName: "content_block_delta",
		Data: map[string]any{
			"index": float64(0),
			"delta": map[string]any{"type": "text_delta", "text": "hi"},
		},
	})
	require.NoError(t, err)
	require.Len(t, delta, 1)
	assert.Equal(t, "hi", delta[0].DeltaText)
}

func TestStream_EncodeMessageStop(t *testing.T) {
	c := New()
	raws, err := c.EncodeStreamEvent(ir.StreamEvent{Type: ir.EventMessageStop}, protocol.EncodeOptions{})
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, "message_stop", raws[0].EventName)
}

func intPtr(i int) *int { return &i }

func TestEncodeRequest_ToolResultBlockContentRoundTrip(t *testing.T) {
	c := New()

	// A tool result whose content was a nested block array (here: text plus
	// an image) must re-encode as that block array, not collapse to a
	// string.
	payload := map[string]any{
		"model":      "claude-3-5-sonnet",
		"max_tokens": float64(1024),
		"messages": []any{
			map[string]any{"role": "user", "content": []any{
				map[string]any{"type": "tool_result", "tool_use_id": "toolu_1", "content": []any{
					map[string]any{"type": "text", "text": "rendered chart"},
					map[string]any{"type": "image", "source": map[string]any{
						"type": "base64", "media_type": "image/png", "data": "aGk=",
					}},
				}},
			}},
		},
	}
	req, err := c.DecodeRequest(payload)
	require.NoError(t, err)
	require.Len(t, req.Messages, 1)
	block := req.Messages[0].Content[0]
	require.True(t, block.ResultIsBlocks)
	require.Len(t, block.ResultBlocks, 2)

	out, err := c.EncodeRequest(req, protocol.EncodeOptions{})
	require.NoError(t, err)

	messages := out["messages"].([]any)
	require.Len(t, messages, 1)
	content := messages[0].(map[string]any)["content"].([]any)
	result := content[0].(map[string]any)
	assert.Equal(t, "tool_result", result["type"])

	nested, ok := result["content"].([]any)
	require.True(t, ok, "tool_result content must stay a block array")
	require.Len(t, nested, 2)
	assert.Equal(t, "rendered chart", nested[0].(map[string]any)["text"])
	image := nested[1].(map[string]any)
	assert.Equal(t, "image", image["type"])
	source := image["source"].(map[string]any)
	assert.Equal(t, "image/png", source["media_type"])
}
