package openaichat

import (
	"github.com/wayfare-ai/llmgateway/internal/ir"
	"github.com/wayfare-ai/llmgateway/internal/protocol"
)

// DecodeStreamEvent implements protocol.Decoder. OpenAI Chat streams one
// "chat.completion.chunk" object per SSE data line, terminated by the
// literal "data: [DONE]" sentinel (carried here as raw.Done).
func (Codec) DecodeStreamEvent(raw protocol.RawEvent) ([]ir.StreamEvent, error) {
	if raw.Done {
		return []ir.StreamEvent{{Type: ir.EventMessageStop}, {Type: ir.EventDone}}, nil
	}

	choices, ok := protocol.GetSlice(raw.Data, "choices")
	if !ok || len(choices) == 0 {
		if usage, ok := protocol.GetMap(raw.Data, "usage"); ok {
			u := decodeUsage(usage)
			return []ir.StreamEvent{{Type: ir.EventMessageDelta, Usage: &u}}, nil
		}
		return nil, nil
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return nil, nil
	}

	var events []ir.StreamEvent

	delta, _ := protocol.GetMap(choice, "delta")
	if role, ok := protocol.GetString(delta, "role"); ok && role != "" {
		events = append(events, ir.StreamEvent{
			Type:         ir.EventContentBlockStart,
			Index:        0,
			ContentBlock: &ir.ContentBlock{Kind: ir.BlockText},
		})
	}

	if content, ok := protocol.GetString(delta, "content"); ok && content != "" {
		events = append(events, ir.StreamEvent{
			Type:      ir.EventContentBlockDelta,
			Index:     0,
			DeltaType: ir.DeltaText,
			DeltaText: content,
		})
	}

	if toolCalls, ok := protocol.GetSlice(delta, "tool_calls"); ok {
		for _, tc := range toolCalls {
			tcm, ok := tc.(map[string]any)
			if !ok {
				continue
			}
			index, _ := protocol.GetInt(tcm, "index")
			fn, _ := protocol.GetMap(tcm, "function")

			if id, ok := protocol.GetString(tcm, "id"); ok && id != "" {
				name, _ := protocol.GetString(fn, "name")
				events = append(events, ir.StreamEvent{
					Type:         ir.EventContentBlockStart,
					Index:        index + 1, // index 0 reserved for the text block
					ContentBlock: &ir.ContentBlock{Kind: ir.BlockToolUse, ToolID: id, ToolName: name},
				})
			}

			if args, ok := protocol.GetString(fn, "arguments"); ok {
				events = append(events, ir.StreamEvent{
					Type:      ir.EventContentBlockDelta,
					Index:     index + 1,
					DeltaType: ir.DeltaInputJSON,
					DeltaJSON: args,
				})
			}
		}
	}

	if finishReason, ok := protocol.GetString(choice, "finish_reason"); ok && finishReason != "" {
		ev := ir.StreamEvent{
			Type:          ir.EventMessageDelta,
			HasStopReason: true,
			StopReason:    decodeFinishReason(finishReason),
		}
		if usage, ok := protocol.GetMap(raw.Data, "usage"); ok {
			u := decodeUsage(usage)
			ev.Usage = &u
		}
		events = append(events, ev)
	}

	return events, nil
}

// EncodeStreamEvent implements protocol.Encoder. id/model are only known
// to the caller at message_start time; every other chunk in an OpenAI
// stream carries an empty id/model in practice, so each event renders as
// its own self-contained chunk.
func (c Codec) EncodeStreamEvent(event ir.StreamEvent, opts protocol.EncodeOptions) ([]protocol.RawEvent, error) {
	switch event.Type {
	case ir.EventMessageStart:
		chunk := baseChunk(event.Response.ID, event.Response.Model)
		chunk["choices"] = []any{map[string]any{
			"index": 0,
			"delta": map[string]any{"role": "assistant", "content": ""},
		}}
		return []protocol.RawEvent{{Data: chunk}}, nil

	case ir.EventContentBlockStart:
		if event.ContentBlock != nil && event.ContentBlock.Kind == ir.BlockToolUse {
			chunk := baseChunk("", "")
			chunk["choices"] = []any{map[string]any{
				"index": 0,
				"delta": map[string]any{
					"tool_calls": []any{map[string]any{
						"index": toolIndex(event.Index),
						"id":    event.ContentBlock.ToolID,
						"type":  "function",
						"function": map[string]any{
							"name":      event.ContentBlock.ToolName,
							"arguments": "",
						},
					}},
				},
			}}
			return []protocol.RawEvent{{Data: chunk}}, nil
		}
		return nil, nil

	case ir.EventContentBlockDelta:
		chunk := baseChunk("", "")
		switch event.DeltaType {
		case ir.DeltaText, ir.DeltaThinking:
			chunk["choices"] = []any{map[string]any{
				"index": 0,
				"delta": map[string]any{"content": event.DeltaText},
			}}
		case ir.DeltaInputJSON:
			chunk["choices"] = []any{map[string]any{
				"index": 0,
				"delta": map[string]any{
					"tool_calls": []any{map[string]any{
						"index":    toolIndex(event.Index),
						"function": map[string]any{"arguments": event.DeltaJSON},
					}},
				},
			}}
		default:
			return nil, nil
		}
		return []protocol.RawEvent{{Data: chunk}}, nil

	case ir.EventMessageDelta:
		chunk := baseChunk("", "")
		choice := map[string]any{"index": 0, "delta": map[string]any{}}
		if event.HasStopReason {
			reason := encodeFinishReason(event.StopReason, false)
			choice["finish_reason"] = reason
		}
		chunk["choices"] = []any{choice}
		if event.Usage != nil {
			chunk["usage"] = encodeUsage(*event.Usage)
		}
		return []protocol.RawEvent{{Data: chunk}}, nil

	case ir.EventMessageStop:
		// OpenAI has no dedicated stop event; the [DONE] sentinel rendered
		// for EventDone is the stream's only terminator.
		return nil, nil

	case ir.EventDone:
		return []protocol.RawEvent{{Done: true}}, nil

	case ir.EventError:
		return nil, &protocol.Error{Kind: protocol.KindConversion, Code: event.ErrorType, Message: event.ErrorMessage}

	default:
		return nil, nil
	}
}

// toolIndex converts the IR's content-block index (0 reserved for text) back
// into OpenAI's zero-based tool_calls array index.
func toolIndex(irIndex int) int {
	if irIndex > 0 {
		return irIndex - 1
	}
	return 0
}

func baseChunk(id, model string) map[string]any {
	return map[string]any{
		"id":     id,
		"object": "chat.completion.chunk",
		"model":  model,
	}
}
