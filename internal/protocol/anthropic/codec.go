// Package anthropic implements the Decoder/Encoder pair for the Anthropic
// Messages wire protocol (POST /v1/messages). Because the IR's streaming
// vocabulary mirrors Anthropic's own event shape, this codec's stream half
// is close to an identity mapping.
package anthropic

import (
	"github.com/wayfare-ai/llmgateway/internal/ir"
	"github.com/wayfare-ai/llmgateway/internal/protocol"
)

// APIVersion is the default anthropic-version header value the supplier
// client sends upstream.
const APIVersion = "2023-06-01"

// Codec implements protocol.Decoder and protocol.Encoder for Anthropic
// Messages.
type Codec struct{}

// New returns a ready-to-use Anthropic Messages codec.
func New() *Codec { return &Codec{} }

// ---------------------------------------------------------------------------
// Request decoding
// ---------------------------------------------------------------------------

// DecodeRequest implements protocol.Decoder.
func (Codec) DecodeRequest(payload map[string]any) (*ir.Request, error) {
	model, _ := protocol.GetString(payload, "model")

	rawMessages, ok := protocol.GetSlice(payload, "messages")
	if !ok {
		return nil, protocol.NewInvalidRequest("missing_messages", "anthropic messages request is missing required field \"messages\"")
	}

	req := &ir.Request{Model: model, UnsupportedParams: map[string]any{}}

	switch system := payload["system"].(type) {
	case string:
		if system != "" {
			req.System = system
			req.HasSystem = true
		}
	case []any:
		var text string
		for _, block := range system {
			bm, ok := block.(map[string]any)
			if !ok {
				continue
			}
			if t, ok := protocol.GetString(bm, "text"); ok {
				text += t
			}
		}
		if text != "" {
			req.System = text
			req.HasSystem = true
		}
	}

	for _, raw := range rawMessages {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		roleStr, _ := protocol.GetString(m, "role")
		role := ir.Role(roleStr)

		blocks := decodeContent(m["content"])

		// A user message whose content contains tool_result blocks is split:
		// each tool_result becomes its own role:tool IRMessage, and any
		// remaining blocks form a separate user message.
		if role == ir.RoleUser {
			var toolResults, rest []ir.ContentBlock
			for _, b := range blocks {
				if b.Kind == ir.BlockToolResult {
					toolResults = append(toolResults, b)
				} else {
					rest = append(rest, b)
				}
			}
			for _, tr := range toolResults {
				req.Messages = append(req.Messages, ir.Message{Role: ir.RoleTool, Content: []ir.ContentBlock{tr}})
			}
			if len(rest) > 0 {
				req.Messages = append(req.Messages, ir.Message{Role: ir.RoleUser, Content: rest})
			}
			continue
		}

		req.Messages = append(req.Messages, ir.Message{Role: role, Content: blocks})
	}

	decodeGenerationConfig(payload, req)
	decodeTools(payload, req)
	decodeToolChoice(payload, req)
	decodeThinking(payload, req)

	if stream, ok := protocol.GetBool(payload, "stream"); ok {
		req.Stream = stream
	}

	return req, nil
}

func decodeGenerationConfig(payload map[string]any, req *ir.Request) {
	gc := &req.GenerationConfig
	gc.Temperature = protocol.PtrFloat(protocol.GetFloat(payload, "temperature"))
	gc.TopP = protocol.PtrFloat(protocol.GetFloat(payload, "top_p"))
	gc.TopK = protocol.PtrInt(protocol.GetInt(payload, "top_k"))
	if v, ok := protocol.GetInt(payload, "max_tokens"); ok {
		gc.MaxTokens = &v
	}
	if stop, ok := protocol.GetSlice(payload, "stop_sequences"); ok {
		for _, s := range stop {
			if str, ok := s.(string); ok {
				gc.StopSequences = append(gc.StopSequences, str)
			}
		}
	}
}

func decodeTools(payload map[string]any, req *ir.Request) {
	tools, ok := protocol.GetSlice(payload, "tools")
	if !ok {
		return
	}
	for _, t := range tools {
		tm, ok := t.(map[string]any)
		if !ok {
			continue
		}
		name, _ := protocol.GetString(tm, "name")
		if name == "" {
			continue
		}
		decl := ir.ToolDeclaration{Name: name}
		decl.Description, _ = protocol.GetString(tm, "description")
		decl.Parameters, _ = protocol.GetMap(tm, "input_schema")
		req.Tools = append(req.Tools, decl)
	}
}

func decodeToolChoice(payload map[string]any, req *ir.Request) {
	tc, ok := protocol.GetMap(payload, "tool_choice")
	if !ok {
		return
	}
	typ, _ := protocol.GetString(tc, "type")
	choice := &ir.ToolChoice{}
	switch typ {
	case "auto":
		choice.Type = ir.ToolChoiceAuto
	case "any":
		choice.Type = ir.ToolChoiceAny
	case "tool":
		choice.Type = ir.ToolChoiceSpecific
		choice.Name, _ = protocol.GetString(tc, "name")
	case "none":
		choice.Type = ir.ToolChoiceNone
	default:
		return
	}
	if disable, ok := protocol.GetBool(tc, "disable_parallel_tool_use"); ok {
		choice.DisableParallel = disable
	}
	req.ToolChoice = choice
}

func decodeThinking(payload map[string]any, req *ir.Request) {
	thinking, ok := protocol.GetMap(payload, "thinking")
	if !ok {
		return
	}
	typ, _ := protocol.GetString(thinking, "type")
	tc := &ir.ThinkingConfig{Enabled: typ == "enabled"}
	if budget, ok := protocol.GetInt(thinking, "budget_tokens"); ok {
		tc.BudgetTokens = &budget
	}
	req.ThinkingConfig = tc
}

// decodeContent turns an Anthropic "content" field (either a plain string or
// an array of typed blocks) into IR content blocks.
func decodeContent(content any) []ir.ContentBlock {
	switch c := content.(type) {
	case nil:
		return nil
	case string:
		if c == "" {
			return nil
		}
		return []ir.ContentBlock{ir.NewTextBlock(c)}
	case []any:
		var blocks []ir.ContentBlock
		for _, raw := range c {
			bm, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			typ, _ := protocol.GetString(bm, "type")
			switch typ {
			case "text":
				text, _ := protocol.GetString(bm, "text")
				blocks = append(blocks, ir.NewTextBlock(text))
			case "image":
				source, _ := protocol.GetMap(bm, "source")
				block := ir.ContentBlock{Kind: ir.BlockImage}
				sourceType, _ := protocol.GetString(source, "type")
				if sourceType == "base64" {
					block.Source = ir.ImageSourceBase64
					block.MediaType, _ = protocol.GetString(source, "media_type")
					block.Base64Data, _ = protocol.GetString(source, "data")
				} else {
					block.Source = ir.ImageSourceURL
					block.URL, _ = protocol.GetString(source, "url")
				}
				blocks = append(blocks, block)
			case "tool_use":
				id, _ := protocol.GetString(bm, "id")
				name, _ := protocol.GetString(bm, "name")
				input, _ := protocol.GetMap(bm, "input")
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, ir.NewToolUseBlock(id, name, input))
			case "tool_result":
				toolUseID, _ := protocol.GetString(bm, "tool_use_id")
				isError, _ := protocol.GetBool(bm, "is_error")
				block := ir.ContentBlock{Kind: ir.BlockToolResult, ToolUseID: toolUseID, IsError: isError}
				switch rc := bm["content"].(type) {
				case string:
					block.ResultText = rc
				case []any:
					block.ResultIsBlocks = true
					block.ResultBlocks = decodeContent(rc)
				}
				blocks = append(blocks, block)
			case "thinking":
				thinking, _ := protocol.GetString(bm, "thinking")
				signature, _ := protocol.GetString(bm, "signature")
				blocks = append(blocks, ir.ContentBlock{Kind: ir.BlockThinking, Thinking: thinking, Signature: signature})
			case "redacted_thinking":
				data, _ := protocol.GetString(bm, "data")
				blocks = append(blocks, ir.ContentBlock{Kind: ir.BlockThinking, IsRedacted: true, RedactedData: data})
			}
		}
		return blocks
	default:
		return nil
	}
}

// ---------------------------------------------------------------------------
// Request encoding
// ---------------------------------------------------------------------------

// EncodeRequest implements protocol.Encoder. Anthropic requires max_tokens;
// the encoder injects DefaultMaxTokens only when opts.AllowMaxTokensDefault
// is set (i.e. the IR did not itself originate from Anthropic), else fails
// with a ValidationError.
func (Codec) EncodeRequest(req *ir.Request, opts protocol.EncodeOptions) (map[string]any, error) {
	out := map[string]any{"model": req.Model}

	if req.HasSystem && req.System != "" {
		out["system"] = req.System
	}

	var messages []any
	var pendingToolResults []any

	flush := func() {
		if len(pendingToolResults) > 0 {
			messages = append(messages, map[string]any{"role": "user", "content": pendingToolResults})
			pendingToolResults = nil
		}
	}

	for _, m := range req.Messages {
		if m.Role == ir.RoleTool {
			for _, b := range m.Content {
				if b.Kind != ir.BlockToolResult {
					continue
				}
				var content any = b.ResultText
				if b.ResultIsBlocks {
					content = encodeContent(b.ResultBlocks)
				}
				block := map[string]any{
					"type":        "tool_result",
					"tool_use_id": b.ToolUseID,
					"content":     content,
				}
				if b.IsError {
					block["is_error"] = true
				}
				pendingToolResults = append(pendingToolResults, block)
			}
			continue
		}
		flush()
		messages = append(messages, map[string]any{
			"role":    string(m.Role),
			"content": encodeContent(m.Content),
		})
	}
	flush()
	out["messages"] = messages

	gc := req.GenerationConfig
	if gc.Temperature != nil {
		t := *gc.Temperature
		if t < 0 {
			t = 0
		} else if t > 1 {
			t = 1
		}
		out["temperature"] = t
	}
	if gc.TopP != nil {
		out["top_p"] = *gc.TopP
	}
	if gc.TopK != nil {
		out["top_k"] = *gc.TopK
	}
	if len(gc.StopSequences) > 0 {
		out["stop_sequences"] = gc.StopSequences
	}

	if gc.MaxTokens != nil {
		out["max_tokens"] = *gc.MaxTokens
	} else if opts.AllowMaxTokensDefault {
		out["max_tokens"] = protocol.DefaultMaxTokens
	} else {
		return nil, protocol.NewValidationError("missing_max_tokens", "anthropic messages requires max_tokens and the request did not originate from anthropic")
	}

	if len(req.Tools) > 0 {
		var tools []any
		for _, t := range req.Tools {
			tool := map[string]any{"name": t.Name}
			if t.Description != "" {
				tool["description"] = t.Description
			}
			if t.Parameters != nil {
				tool["input_schema"] = t.Parameters
			}
			tools = append(tools, tool)
		}
		out["tools"] = tools
	}

	if req.ToolChoice != nil {
		tc := map[string]any{}
		switch req.ToolChoice.Type {
		case ir.ToolChoiceAuto:
			tc["type"] = "auto"
		case ir.ToolChoiceNone:
			tc["type"] = "none"
		case ir.ToolChoiceAny:
			tc["type"] = "any"
		case ir.ToolChoiceSpecific:
			tc["type"] = "tool"
			tc["name"] = req.ToolChoice.Name
		}
		if req.ToolChoice.DisableParallel {
			tc["disable_parallel_tool_use"] = true
		}
		out["tool_choice"] = tc
	}

	if req.ThinkingConfig != nil {
		thinking := map[string]any{"type": "disabled"}
		if req.ThinkingConfig.Enabled {
			thinking["type"] = "enabled"
			if req.ThinkingConfig.BudgetTokens != nil {
				thinking["budget_tokens"] = *req.ThinkingConfig.BudgetTokens
			}
		}
		out["thinking"] = thinking
	}

	if req.Stream {
		out["stream"] = true
	}

	for k, v := range req.UnsupportedParams {
		if _, exists := out[k]; !exists {
			out[k] = v
		}
	}

	return out, nil
}

func encodeContent(blocks []ir.ContentBlock) []any {
	var parts []any
	for _, b := range blocks {
		switch b.Kind {
		case ir.BlockText:
			parts = append(parts, map[string]any{"type": "text", "text": b.Text})
		case ir.BlockImage:
			source := map[string]any{}
			if b.Source == ir.ImageSourceBase64 {
				source["type"] = "base64"
				source["media_type"] = b.MediaType
				source["data"] = b.Base64Data
			} else {
				source["type"] = "url"
				source["url"] = b.URL
			}
			parts = append(parts, map[string]any{"type": "image", "source": source})
		case ir.BlockToolUse:
			input := b.ToolInput
			if input == nil {
				input = map[string]any{}
			}
			parts = append(parts, map[string]any{"type": "tool_use", "id": b.ToolID, "name": b.ToolName, "input": input})
		case ir.BlockThinking:
			if b.IsRedacted {
				parts = append(parts, map[string]any{"type": "redacted_thinking", "data": b.RedactedData})
			} else {
				parts = append(parts, map[string]any{"type": "thinking", "thinking": b.Thinking, "signature": b.Signature})
			}
		}
	}
	return parts
}

// ---------------------------------------------------------------------------
// Response decoding / encoding
// ---------------------------------------------------------------------------

// DecodeResponse implements protocol.Decoder.
func (Codec) DecodeResponse(payload map[string]any) (*ir.Response, error) {
	resp := &ir.Response{}
	resp.ID, _ = protocol.GetString(payload, "id")
	resp.Model, _ = protocol.GetString(payload, "model")
	resp.Content = decodeContent(payload["content"])

	stopReason, _ := protocol.GetString(payload, "stop_reason")
	resp.StopReason = decodeStopReason(stopReason)
	resp.StopSequence, _ = protocol.GetString(payload, "stop_sequence")

	if usage, ok := protocol.GetMap(payload, "usage"); ok {
		resp.HasUsage = true
		resp.Usage = decodeUsage(usage)
	}

	return resp, nil
}

func decodeStopReason(s string) ir.StopReason {
	switch s {
	case "end_turn":
		return ir.StopEndTurn
	case "max_tokens":
		return ir.StopMaxTokens
	case "stop_sequence":
		return ir.StopSequence
	case "tool_use":
		return ir.StopToolUse
	default:
		return ir.StopEndTurn
	}
}

func encodeStopReason(r ir.StopReason, hasToolUse bool) string {
	if hasToolUse {
		return "tool_use"
	}
	switch r {
	case ir.StopToolUse:
		return "tool_use"
	case ir.StopMaxTokens:
		return "max_tokens"
	case ir.StopSequence:
		return "stop_sequence"
	default:
		return "end_turn"
	}
}

func decodeUsage(m map[string]any) ir.Usage {
	u := ir.Usage{}
	u.InputTokens, _ = protocol.GetInt(m, "input_tokens")
	u.OutputTokens, _ = protocol.GetInt(m, "output_tokens")
	u.CacheCreationTokens, _ = protocol.GetInt(m, "cache_creation_input_tokens")
	u.CacheReadTokens, _ = protocol.GetInt(m, "cache_read_input_tokens")
	return u
}

func encodeUsage(u ir.Usage) map[string]any {
	out := map[string]any{
		"input_tokens":  u.InputTokens,
		"output_tokens": u.OutputTokens,
	}
	if u.CacheCreationTokens > 0 {
		out["cache_creation_input_tokens"] = u.CacheCreationTokens
	}
	if u.CacheReadTokens > 0 {
		out["cache_read_input_tokens"] = u.CacheReadTokens
	}
	return out
}

// EncodeResponse implements protocol.Encoder.
func (Codec) EncodeResponse(resp *ir.Response, _ protocol.EncodeOptions) (map[string]any, error) {
	out := map[string]any{
		"id":          resp.ID,
		"type":        "message",
		"role":        "assistant",
		"model":       resp.Model,
		"content":     encodeContent(resp.Content),
		"stop_reason": encodeStopReason(resp.StopReason, resp.HasToolUse()),
	}
	if resp.StopSequence != "" {
		out["stop_sequence"] = resp.StopSequence
	}
	if resp.HasUsage {
		out["usage"] = encodeUsage(resp.Usage)
	}
	return out, nil
}
