package gemini

import (
	"github.com/wayfare-ai/llmgateway/internal/ir"
	"github.com/wayfare-ai/llmgateway/internal/protocol"
)

// DecodeStreamEvent implements protocol.Decoder. Unlike Anthropic's named
// events or OpenAI's literal "[DONE]" sentinel, Gemini's
// streamGenerateContent simply stops sending SSE events when the candidate's
// finishReason is set — the connection then closes with no terminal marker
// of its own. internal/orchestrator synthesizes the raw.Done event (exactly
// as it does for every other protocol) once the upstream byte channel
// closes, so this codec only needs to react to raw.Done the same way
// openaichat's does.
func (Codec) DecodeStreamEvent(raw protocol.RawEvent) ([]ir.StreamEvent, error) {
	if raw.Done {
		return []ir.StreamEvent{{Type: ir.EventMessageStop}, {Type: ir.EventDone}}, nil
	}

	candidates, ok := protocol.GetSlice(raw.Data, "candidates")
	if !ok || len(candidates) == 0 {
		if usage, ok := protocol.GetMap(raw.Data, "usageMetadata"); ok {
			u := decodeStreamUsage(usage)
			return []ir.StreamEvent{{Type: ir.EventMessageDelta, Usage: &u}}, nil
		}
		return nil, nil
	}
	candidate, ok := candidates[0].(map[string]any)
	if !ok {
		return nil, nil
	}

	var events []ir.StreamEvent

	content, _ := protocol.GetMap(candidate, "content")
	for _, block := range decodeParts(content["parts"]) {
		switch block.Kind {
		case ir.BlockText:
			if block.Text != "" {
				events = append(events, ir.StreamEvent{Type: ir.EventContentBlockDelta, Index: 0, DeltaType: ir.DeltaText, DeltaText: block.Text})
			}
		case ir.BlockToolUse:
			events = append(events, ir.StreamEvent{
				Type:         ir.EventContentBlockStart,
				Index:        1,
				ContentBlock: &ir.ContentBlock{Kind: ir.BlockToolUse, ToolID: block.ToolName, ToolName: block.ToolName},
			})
			events = append(events, ir.StreamEvent{Type: ir.EventContentBlockStop, Index: 1})
		}
	}

	if finishReason, ok := protocol.GetString(candidate, "finishReason"); ok && finishReason != "" {
		ev := ir.StreamEvent{Type: ir.EventMessageDelta, HasStopReason: true, StopReason: decodeFinishReason(finishReason)}
		if usage, ok := protocol.GetMap(raw.Data, "usageMetadata"); ok {
			u := decodeStreamUsage(usage)
			ev.Usage = &u
		}
		events = append(events, ev)
	}

	return events, nil
}

func decodeStreamUsage(m map[string]any) ir.Usage {
	u := ir.Usage{}
	u.InputTokens, _ = protocol.GetInt(m, "promptTokenCount")
	u.OutputTokens, _ = protocol.GetInt(m, "candidatesTokenCount")
	if total, ok := protocol.GetInt(m, "totalTokenCount"); ok {
		u.TotalTokens = total
		u.HasTotalTokens = true
	}
	return u
}

// EncodeStreamEvent implements protocol.Encoder, rendering each IR event as
// a Gemini-shaped streamGenerateContent chunk. Gemini has no dedicated
// "start" event and no terminal sentinel of its own (the connection just
// closes), so EventMessageStart/EventMessageStop/EventDone render nothing.
func (Codec) EncodeStreamEvent(event ir.StreamEvent, _ protocol.EncodeOptions) ([]protocol.RawEvent, error) {
	switch event.Type {
	case ir.EventContentBlockDelta:
		if event.DeltaType != ir.DeltaText && event.DeltaType != ir.DeltaThinking {
			return nil, nil
		}
		chunk := map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{"role": "model", "parts": []any{map[string]any{"text": event.DeltaText}}},
			}},
		}
		return []protocol.RawEvent{{Data: chunk}}, nil

	case ir.EventMessageDelta:
		if !event.HasStopReason {
			return nil, nil
		}
		candidate := map[string]any{
			"content":      map[string]any{"role": "model", "parts": []any{}},
			"finishReason": encodeFinishReason(event.StopReason, false),
		}
		chunk := map[string]any{"candidates": []any{candidate}}
		if event.Usage != nil {
			chunk["usageMetadata"] = map[string]any{
				"promptTokenCount":     event.Usage.InputTokens,
				"candidatesTokenCount": event.Usage.OutputTokens,
				"totalTokenCount":      event.Usage.Total(),
			}
		}
		return []protocol.RawEvent{{Data: chunk}}, nil

	case ir.EventMessageStart, ir.EventMessageStop, ir.EventDone, ir.EventContentBlockStart, ir.EventContentBlockStop, ir.EventPing:
		return nil, nil

	case ir.EventError:
		return []protocol.RawEvent{{Data: map[string]any{"error": map[string]any{"message": event.ErrorMessage}}}}, nil

	default:
		return nil, nil
	}
}
