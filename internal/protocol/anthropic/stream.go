package anthropic

import (
	"github.com/wayfare-ai/llmgateway/internal/ir"
	"github.com/wayfare-ai/llmgateway/internal/protocol"
)

// DecodeStreamEvent implements protocol.Decoder. Anthropic's SSE events
// are already shaped like the IR's own streaming vocabulary, so this is
// close to a direct field mapping rather than a structural translation.
func (Codec) DecodeStreamEvent(raw protocol.RawEvent) ([]ir.StreamEvent, error) {
	switch raw.EventName {
	case "message_start":
		message, _ := protocol.GetMap(raw.Data, "message")
		resp := &ir.Response{}
		resp.ID, _ = protocol.GetString(message, "id")
		resp.Model, _ = protocol.GetString(message, "model")
		if usage, ok := protocol.GetMap(message, "usage"); ok {
			resp.HasUsage = true
			resp.Usage = decodeUsage(usage)
		}
		return []ir.StreamEvent{{Type: ir.EventMessageStart, Response: resp}}, nil

	case "content_block_start":
		index, _ := protocol.GetInt(raw.Data, "index")
		blockPayload, _ := protocol.GetMap(raw.Data, "content_block")
		blocks := decodeContent([]any{blockPayload})
		var block *ir.ContentBlock
		if len(blocks) > 0 {
			block = &blocks[0]
		}
		return []ir.StreamEvent{{Type: ir.EventContentBlockStart, Index: index, ContentBlock: block}}, nil

	case "content_block_delta":
		index, _ := protocol.GetInt(raw.Data, "index")
		delta, _ := protocol.GetMap(raw.Data, "delta")
		typ, _ := protocol.GetString(delta, "type")
		switch typ {
		case "text_delta":
			text, _ := protocol.GetString(delta, "text")
			return []ir.StreamEvent{{Type: ir.EventContentBlockDelta, Index: index, DeltaType: ir.DeltaText, DeltaText: text}}, nil
		case "input_json_delta":
			partial, _ := protocol.GetString(delta, "partial_json")
			return []ir.StreamEvent{{Type: ir.EventContentBlockDelta, Index: index, DeltaType: ir.DeltaInputJSON, DeltaJSON: partial}}, nil
		case "thinking_delta":
			thinking, _ := protocol.GetString(delta, "thinking")
			return []ir.StreamEvent{{Type: ir.EventContentBlockDelta, Index: index, DeltaType: ir.DeltaThinking, DeltaText: thinking}}, nil
		case "signature_delta":
			return nil, nil
		default:
			return nil, nil
		}

	case "content_block_stop":
		index, _ := protocol.GetInt(raw.Data, "index")
		return []ir.StreamEvent{{Type: ir.EventContentBlockStop, Index: index}}, nil

	case "message_delta":
		delta, _ := protocol.GetMap(raw.Data, "delta")
		ev := ir.StreamEvent{Type: ir.EventMessageDelta}
		if stopReason, ok := protocol.GetString(delta, "stop_reason"); ok {
			ev.HasStopReason = true
			ev.StopReason = decodeStopReason(stopReason)
		}
		ev.StopSequence, _ = protocol.GetString(delta, "stop_sequence")
		if usage, ok := protocol.GetMap(raw.Data, "usage"); ok {
			u := decodeUsage(usage)
			ev.Usage = &u
		}
		return []ir.StreamEvent{ev}, nil

	case "message_stop":
		return []ir.StreamEvent{{Type: ir.EventMessageStop}, {Type: ir.EventDone}}, nil

	case "ping":
		return []ir.StreamEvent{{Type: ir.EventPing}}, nil

	case "error":
		errPayload, _ := protocol.GetMap(raw.Data, "error")
		errType, _ := protocol.GetString(errPayload, "type")
		errMsg, _ := protocol.GetString(errPayload, "message")
		return []ir.StreamEvent{{Type: ir.EventError, ErrorType: errType, ErrorMessage: errMsg}}, nil

	default:
		return nil, nil
	}
}

// EncodeStreamEvent implements protocol.Encoder, rendering each IR event
// back into Anthropic's named-event SSE shape.
func (Codec) EncodeStreamEvent(event ir.StreamEvent, _ protocol.EncodeOptions) ([]protocol.RawEvent, error) {
	switch event.Type {
	case ir.EventMessageStart:
		message := map[string]any{
			"id":    event.Response.ID,
			"type":  "message",
			"role":  "assistant",
			"model": event.Response.Model,
		}
		if event.Response.HasUsage {
			message["usage"] = encodeUsage(event.Response.Usage)
		}
		return []protocol.RawEvent{{
			EventName: "message_start",
			Data:      map[string]any{"type": "message_start", "message": message},
		}}, nil

	case ir.EventContentBlockStart:
		var blockPayload map[string]any
		if event.ContentBlock != nil {
			rendered := encodeContent([]ir.ContentBlock{*event.ContentBlock})
			if len(rendered) > 0 {
				blockPayload, _ = rendered[0].(map[string]any)
			}
		}
		return []protocol.RawEvent{{
			EventName: "content_block_start",
			Data:      map[string]any{"type": "content_block_start", "index": event.Index, "content_block": blockPayload},
		}}, nil

	case ir.EventContentBlockDelta:
		var delta map[string]any
		switch event.DeltaType {
		case ir.DeltaText:
			delta = map[string]any{"type": "text_delta", "text": event.DeltaText}
		case ir.DeltaInputJSON:
			delta = map[string]any{"type": "input_json_delta", "partial_json": event.DeltaJSON}
		case ir.DeltaThinking:
			delta = map[string]any{"type": "thinking_delta", "thinking": event.DeltaText}
		default:
			return nil, nil
		}
		return []protocol.RawEvent{{
			EventName: "content_block_delta",
			Data:      map[string]any{"type": "content_block_delta", "index": event.Index, "delta": delta},
		}}, nil

	case ir.EventContentBlockStop:
		return []protocol.RawEvent{{
			EventName: "content_block_stop",
			Data:      map[string]any{"type": "content_block_stop", "index": event.Index},
		}}, nil

	case ir.EventMessageDelta:
		delta := map[string]any{}
		if event.HasStopReason {
			delta["stop_reason"] = encodeStopReason(event.StopReason, false)
		}
		if event.StopSequence != "" {
			delta["stop_sequence"] = event.StopSequence
		}
		data := map[string]any{"type": "message_delta", "delta": delta}
		if event.Usage != nil {
			data["usage"] = encodeUsage(*event.Usage)
		}
		return []protocol.RawEvent{{EventName: "message_delta", Data: data}}, nil

	case ir.EventMessageStop:
		return []protocol.RawEvent{{EventName: "message_stop", Data: map[string]any{"type": "message_stop"}}}, nil

	case ir.EventDone:
		return nil, nil

	case ir.EventPing:
		return []protocol.RawEvent{{EventName: "ping", Data: map[string]any{"type": "ping"}}}, nil

	case ir.EventError:
		return []protocol.RawEvent{{
			EventName: "error",
			Data: map[string]any{
				"type":  "error",
				"error": map[string]any{"type": event.ErrorType, "message": event.ErrorMessage},
			},
		}}, nil

	default:
		return nil, nil
	}
}
