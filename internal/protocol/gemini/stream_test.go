package gemini

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfare-ai/llmgateway/internal/ir"
	"github.com/wayfare-ai/llmgateway/internal/protocol"
)

func TestDecodeStreamEvent_TextDelta(t *testing.T) {
	c := New()
	events, err := c.DecodeStreamEvent(protocol.RawEvent{Data: map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{"role": "model", "parts": []any{map[string]any{"text": "hi"}}},
		}},
	}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ir.EventContentBlockDelta, events[0].Type)
	assert.Equal(t, ir.DeltaText, events[0].DeltaType)
	assert.Equal(t, "hi", events[0].DeltaText)
}

func TestDecodeStreamEvent_FinishReasonCarriesUsage(t *testing.T) {
	c := New()
	events, err := c.DecodeStreamEvent(protocol.RawEvent{Data: map[string]any{
		"candidates": []any{map[string]any{
			"content":      map[string]any{"role": "model", "parts": []any{}},
			"finishReason": "STOP",
		}},
		"usageMetadata": map[string]any{
			"promptTokenCount":     float64(4),
			"candidatesTokenCount": float64(9),
		},
	}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ir.EventMessageDelta, events[0].Type)
	assert.True(t, events[0].HasStopReason)
	assert.Equal(t, ir.StopEndTurn, events[0].StopReason)
	require.NotNil(t, events[0].Usage)
	assert.Equal(t, 9, events[0].Usage.OutputTokens)
}

func TestDecodeStreamEvent_FunctionCall(t *testing.T) {
	c := New()
	events, err := c.DecodeStreamEvent(protocol.RawEvent{Data: map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{"role": "model", "parts": []any{
				map[string]any{"functionCall": map[string]any{"name": "lookup", "args": map[string]any{"q": "x"}}},
			}},
		}},
	}})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, ir.EventContentBlockStart, events[0].Type)
	require.NotNil(t, events[0].ContentBlock)
	assert.Equal(t, ir.BlockToolUse, events[0].ContentBlock.Kind)
	assert.Equal(t, "lookup", events[0].ContentBlock.ToolName)
	assert.Equal(t, ir.EventContentBlockStop, events[1].Type)
}

func TestDecodeStreamEvent_Done(t *testing.T) {
	c := New()
	events, err := c.DecodeStreamEvent(protocol.RawEvent{Done: true})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, ir.EventMessageStop, events[0].Type)
	assert.Equal(t, ir.EventDone, events[1].Type)
}

func TestEncodeStreamEvent_TextDelta(t *testing.T) {
	c := New()
	raws, err := c.EncodeStreamEvent(ir.StreamEvent{
		Type: ir.EventContentBlockDelta, DeltaType: ir.DeltaText, DeltaText: "hi",
	}, protocol.EncodeOptions{})
	require.NoError(t, err)
	require.Len(t, raws, 1)
	candidates := raws[0].Data["candidates"].([]any)
	parts := candidates[0].(map[string]any)["content"].(map[string]any)["parts"].([]any)
	assert.Equal(t, "hi", parts[0].(map[string]any)["text"])
}

func TestEncodeStreamEvent_FinishAndFraming(t *testing.T) {
	c := New()

	raws, err := c.EncodeStreamEvent(ir.StreamEvent{
		Type: ir.EventMessageDelta, HasStopReason: true, StopReason: ir.StopMaxTokens,
		Usage: &ir.Usage{InputTokens: 4, OutputTokens: 9},
	}, protocol.EncodeOptions{})
	require.NoError(t, err)
	require.Len(t, raws, 1)
	candidate := raws[0].Data["candidates"].([]any)[0].(map[string]any)
	assert.Equal(t, "MAX_TOKENS", candidate["finishReason"])
	usage := raws[0].Data["usageMetadata"].(map[string]any)
	assert.Equal(t, 13, usage["totalTokenCount"])

	// Gemini has no start event and no terminal sentinel of its own.
	for _, typ := range []ir.StreamEventType{ir.EventMessageStart, ir.EventMessageStop, ir.EventDone} {
		raws, err := c.EncodeStreamEvent(ir.StreamEvent{Type: typ}, protocol.EncodeOptions{})
		require.NoError(t, err)
		assert.Empty(t, raws)
	}
}
