package openairesponses

import (
	"github.com/wayfare-ai/llmgateway/internal/ir"
	"github.com/wayfare-ai/llmgateway/internal/protocol"
)

// DecodeStreamEvent implements protocol.Decoder. Unlike OpenAI Chat, the
// Responses API names each SSE event (raw.EventName, e.g.
// "response.output_text.delta") instead of relying purely on a shared
// envelope shape, and has no literal "[DONE]" sentinel — termination is
// the "response.completed" event itself.
func (Codec) DecodeStreamEvent(raw protocol.RawEvent) ([]ir.StreamEvent, error) {
	switch raw.EventName {
	case "response.created", "response.in_progress":
		return nil, nil

	case "response.output_item.added":
		item, _ := protocol.GetMap(raw.Data, "item")
		typ, _ := protocol.GetString(item, "type")
		if typ == "function_call" {
			callID, _ := protocol.GetString(item, "call_id")
			name, _ := protocol.GetString(item, "name")
			index, _ := protocol.GetInt(raw.Data, "output_index")
			return []ir.StreamEvent{{
				Type:         ir.EventContentBlockStart,
				Index:        index,
				ContentBlock: &ir.ContentBlock{Kind: ir.BlockToolUse, ToolID: callID, ToolName: name},
			}}, nil
		}
		index, _ := protocol.GetInt(raw.Data, "output_index")
		return []ir.StreamEvent{{
			Type:         ir.EventContentBlockStart,
			Index:        index,
			ContentBlock: &ir.ContentBlock{Kind: ir.BlockText},
		}}, nil

	case "response.output_text.delta":
		text, _ := protocol.GetString(raw.Data, "delta")
		index, _ := protocol.GetInt(raw.Data, "output_index")
		return []ir.StreamEvent{{
			Type:      ir.EventContentBlockDelta,
			Index:     index,
			DeltaType: ir.DeltaText,
			DeltaText: text,
		}}, nil

	case "response.function_call_arguments.delta":
		delta, _ := protocol.GetString(raw.Data, "delta")
		index, _ := protocol.GetInt(raw.Data, "output_index")
		return []ir.StreamEvent{{
			Type:      ir.EventContentBlockDelta,
			Index:     index,
			DeltaType: ir.DeltaInputJSON,
			DeltaJSON: delta,
		}}, nil

	case "response.output_item.done", "response.output_text.done", "response.function_call_arguments.done":
		index, _ := protocol.GetInt(raw.Data, "output_index")
		return []ir.StreamEvent{{Type: ir.EventContentBlockStop, Index: index}}, nil

	case "response.completed", "response.incomplete", "response.failed":
		response, _ := protocol.GetMap(raw.Data, "response")
		status, _ := protocol.GetString(response, "status")

		var events []ir.StreamEvent
		ev := ir.StreamEvent{Type: ir.EventMessageDelta, HasStopReason: true, StopReason: decodeStatus(status, false)}
		if usage, ok := protocol.GetMap(response, "usage"); ok {
			u := decodeUsage(usage)
			ev.Usage = &u
		}
		events = append(events, ev, ir.StreamEvent{Type: ir.EventMessageStop}, ir.StreamEvent{Type: ir.EventDone})
		return events, nil

	case "error":
		errType, _ := protocol.GetString(raw.Data, "code")
		errMsg, _ := protocol.GetString(raw.Data, "message")
		return []ir.StreamEvent{{Type: ir.EventError, ErrorType: errType, ErrorMessage: errMsg}}, nil

	default:
		return nil, nil
	}
}

// EncodeStreamEvent implements protocol.Encoder, rendering each IR event as
// a Responses-shaped named SSE event.
func (Codec) EncodeStreamEvent(event ir.StreamEvent, _ protocol.EncodeOptions) ([]protocol.RawEvent, error) {
	switch event.Type {
	case ir.EventMessageStart:
		return []protocol.RawEvent{{
			EventName: "response.created",
			Data: map[string]any{
				"type": "response.created",
				"response": map[string]any{
					"id":     event.Response.ID,
					"model":  event.Response.Model,
					"status": "in_progress",
				},
			},
		}}, nil

	case ir.EventContentBlockStart:
		item := map[string]any{"type": "message"}
		if event.ContentBlock != nil && event.ContentBlock.Kind == ir.BlockToolUse {
			item = map[string]any{
				"type":     "function_call",
				"call_id":  event.ContentBlock.ToolID,
				"name":     event.ContentBlock.ToolName,
			}
		}
		return []protocol.RawEvent{{
			EventName: "response.output_item.added",
			Data: map[string]any{
				"type":         "response.output_item.added",
				"output_index": event.Index,
				"item":         item,
			},
		}}, nil

	case ir.EventContentBlockDelta:
		switch event.DeltaType {
		case ir.DeltaText, ir.DeltaThinking:
			return []protocol.RawEvent{{
				EventName: "response.output_text.delta",
				Data: map[string]any{
					"type":         "response.output_text.delta",
					"output_index": event.Index,
					"delta":        event.DeltaText,
				},
			}}, nil
		case ir.DeltaInputJSON:
			return []protocol.RawEvent{{
				EventName: "response.function_call_arguments.delta",
				Data: map[string]any{
					"type":         "response.function_call_arguments.delta",
					"output_index": event.Index,
					"delta":        event.DeltaJSON,
				},
			}}, nil
		}
		return nil, nil

	case ir.EventContentBlockStop:
		return []protocol.RawEvent{{
			EventName: "response.output_item.done",
			Data: map[string]any{
				"type":         "response.output_item.done",
				"output_index": event.Index,
			},
		}}, nil

	case ir.EventMessageDelta:
		status := "completed"
		if event.HasStopReason {
			status = encodeStatus(event.StopReason, false)
		}
		response := map[string]any{"status": status}
		if event.Usage != nil {
			response["usage"] = encodeUsage(*event.Usage)
		}
		return []protocol.RawEvent{{
			EventName: "response." + status,
			Data: map[string]any{
				"type":     "response." + status,
				"response": response,
			},
		}}, nil

	case ir.EventMessageStop, ir.EventDone:
		return nil, nil

	case ir.EventError:
		return []protocol.RawEvent{{
			EventName: "error",
			Data:      map[string]any{"type": "error", "code": event.ErrorType, "message": event.ErrorMessage},
		}}, nil

	default:
		return nil, nil
	}
}
