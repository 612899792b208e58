// Package openairesponses implements the Decoder/Encoder pair for the
// OpenAI Responses wire protocol (POST /v1/responses): item-array input,
// input_text/input_image/output_text content parts, and the named-event
// streaming vocabulary.
package openairesponses

import (
	"encoding/json"

	"github.com/wayfare-ai/llmgateway/internal/ir"
	"github.com/wayfare-ai/llmgateway/internal/protocol"
)

// Codec implements protocol.Decoder and protocol.Encoder for OpenAI
// Responses.
type Codec struct{}

// New returns a ready-to-use OpenAI Responses codec.
func New() *Codec { return &Codec{} }

// ---------------------------------------------------------------------------
// Request decoding
// ---------------------------------------------------------------------------

// DecodeRequest implements protocol.Decoder. The Responses API accepts
// either a plain string "input" (shorthand for a single user text turn) or
// an array of role-tagged items with input_text/input_image content parts.
func (Codec) DecodeRequest(payload map[string]any) (*ir.Request, error) {
	model, _ := protocol.GetString(payload, "model")

	req := &ir.Request{Model: model, UnsupportedParams: map[string]any{}}

	if instructions, ok := protocol.GetString(payload, "instructions"); ok && instructions != "" {
		req.System = instructions
		req.HasSystem = true
	}

	switch input := payload["input"].(type) {
	case string:
		if input != "" {
			req.Messages = append(req.Messages, ir.Message{
				Role:    ir.RoleUser,
				Content: []ir.ContentBlock{ir.NewTextBlock(input)},
			})
		}
	case []any:
		if len(input) == 0 {
			return nil, protocol.NewInvalidRequest("empty_input", "openai responses request has an empty \"input\" array")
		}
		for _, raw := range input {
			item, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			msg, ok := decodeItem(item)
			if ok {
				req.Messages = append(req.Messages, msg)
			}
		}
	default:
		return nil, protocol.NewInvalidRequest("missing_input", "openai responses request is missing required field \"input\"")
	}

	decodeGenerationConfig(payload, req)
	decodeTools(payload, req)
	decodeToolChoice(payload, req)
	decodeResponseFormat(payload, req)

	if stream, ok := protocol.GetBool(payload, "stream"); ok {
		req.Stream = stream
	}
	if user, ok := protocol.GetString(payload, "user"); ok {
		req.User = user
	}

	return req, nil
}

// decodeItem turns one "input" array entry into an IR message. Function-call
// output items (role-less, `type: "function_call_output"`) become role:tool
// messages; everything else becomes a role-tagged message with
// input_text/input_image/output_text content parts.
func decodeItem(item map[string]any) (ir.Message, bool) {
	typ, _ := protocol.GetString(item, "type")

	if typ == "function_call_output" {
		callID, _ := protocol.GetString(item, "call_id")
		output, _ := protocol.GetString(item, "output")
		return ir.Message{
			Role:    ir.RoleTool,
			Content: []ir.ContentBlock{ir.NewToolResultBlock(callID, output, false)},
		}, true
	}

	if typ == "function_call" {
		callID, _ := protocol.GetString(item, "call_id")
		name, _ := protocol.GetString(item, "name")
		argsStr, _ := protocol.GetString(item, "arguments")
		var input map[string]any
		if argsStr != "" {
			_ = json.Unmarshal([]byte(argsStr), &input)
		}
		if input == nil {
			input = map[string]any{}
		}
		return ir.Message{
			Role:    ir.RoleAssistant,
			Content: []ir.ContentBlock{ir.NewToolUseBlock(callID, name, input)},
		}, true
	}

	roleStr, _ := protocol.GetString(item, "role")
	if roleStr == "" {
		return ir.Message{}, false
	}

	msg := ir.Message{Role: ir.Role(roleStr)}
	content, ok := protocol.GetSlice(item, "content")
	if !ok {
		return msg, true
	}
	for _, raw := range content {
		part, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		partType, _ := protocol.GetString(part, "type")
		switch partType {
		case "input_text", "output_text":
			text, _ := protocol.GetString(part, "text")
			msg.Content = append(msg.Content, ir.NewTextBlock(text))
		case "input_image":
			block := ir.ContentBlock{Kind: ir.BlockImage}
			if url, ok := protocol.GetString(part, "image_url"); ok {
				if mediaType, b64, ok := protocol.ParseDataURL(url); ok {
					block.Source = ir.ImageSourceBase64
					block.MediaType = mediaType
					block.Base64Data = b64
				} else {
					block.Source = ir.ImageSourceURL
					block.URL = url
				}
			}
			block.Detail, _ = protocol.GetString(part, "detail")
			msg.Content = append(msg.Content, block)
		}
	}
	return msg, true
}

func decodeGenerationConfig(payload map[string]any, req *ir.Request) {
	gc := &req.GenerationConfig
	gc.Temperature = protocol.PtrFloat(protocol.GetFloat(payload, "temperature"))
	gc.TopP = protocol.PtrFloat(protocol.GetFloat(payload, "top_p"))
	gc.N = protocol.PtrInt(protocol.GetInt(payload, "n"))
	if v, ok := protocol.GetInt(payload, "max_output_tokens"); ok {
		gc.MaxTokens = &v
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
		decl.Parameters, _ = protocol.GetMap(tm, "parameters")
		decl.Strict, _ = protocol.GetBool(tm, "strict")
		req.Tools = append(req.Tools, decl)
	}
}

func decodeToolChoice(payload map[string]any, req *ir.Request) {
	switch tc := payload["tool_choice"].(type) {
	case string:
		switch tc {
		case "auto":
			req.ToolChoice = &ir.ToolChoice{Type: ir.ToolChoiceAuto}
		case "none":
			req.ToolChoice = &ir.ToolChoice{Type: ir.ToolChoiceNone}
		case "required":
			req.ToolChoice = &ir.ToolChoice{Type: ir.ToolChoiceAny}
		}
	case map[string]any:
		if name, ok := protocol.GetString(tc, "name"); ok {
			req.ToolChoice = &ir.ToolChoice{Type: ir.ToolChoiceSpecific, Name: name}
		}
	}
}

func decodeResponseFormat(payload map[string]any, req *ir.Request) {
	text, ok := protocol.GetMap(payload, "text")
	if !ok {
		return
	}
	format, ok := protocol.GetMap(text, "format")
	if !ok {
		return
	}
	typ, _ := protocol.GetString(format, "type")
	if typ == "" {
		return
	}
	out := &ir.ResponseFormat{Type: typ}
	if typ == "json_schema" {
		out.JSONSchema, _ = protocol.GetMap(format, "schema")
		out.SchemaName, _ = protocol.GetString(format, "name")
		out.Strict, _ = protocol.GetBool(format, "strict")
	}
	req.ResponseFormat = out
}

// ---------------------------------------------------------------------------
// Request encoding
// ---------------------------------------------------------------------------

// EncodeRequest implements protocol.Encoder.
func (Codec) EncodeRequest(req *ir.Request, _ protocol.EncodeOptions) (map[string]any, error) {
	out := map[string]any{"model": req.Model}

	if req.HasSystem && req.System != "" {
		out["instructions"] = req.System
	}

	var input []any
	var pendingToolResults []ir.ContentBlock

	flushToolResults := func() {
		for _, b := range pendingToolResults {
			input = append(input, map[string]any{
				"type":    "function_call_output",
				"call_id": b.ToolUseID,
				"output":  toolResultText(b),
			})
		}
		pendingToolResults = nil
	}

	for _, m := range req.Messages {
		if m.Role == ir.RoleTool {
			for _, b := range m.Content {
				if b.Kind == ir.BlockToolResult {
					pendingToolResults = append(pendingToolResults, b)
				}
			}
			continue
		}
		flushToolResults()

		hasToolUse := false
		for _, b := range m.Content {
			if b.Kind == ir.BlockToolUse {
				hasToolUse = true
				argsBytes, _ := json.Marshal(b.ToolInput)
				input = append(input, map[string]any{
					"type":      "function_call",
					"call_id":   b.ToolID,
					"name":      b.ToolName,
					"arguments": string(argsBytes),
				})
			}
		}
		if hasToolUse && len(m.Content) == countToolUse(m.Content) {
			continue
		}

		textType := "input_text"
		imageType := "input_image"
		if m.Role == ir.RoleAssistant {
			textType = "output_text"
		}

		var parts []any
		for _, b := range m.Content {
			switch b.Kind {
			case ir.BlockText:
				parts = append(parts, map[string]any{"type": textType, "text": b.Text})
			case ir.BlockImage:
				url := b.URL
				if b.Source == ir.ImageSourceBase64 {
					url = protocol.BuildDataURL(b.MediaType, b.Base64Data)
				}
				part := map[string]any{"type": imageType, "image_url": url}
				if b.Detail != "" {
					part["detail"] = b.Detail
				}
				parts = append(parts, part)
			}
		}
		if len(parts) > 0 {
			input = append(input, map[string]any{"role": string(m.Role), "content": parts})
		}
	}
	flushToolResults()

	out["input"] = input

	gc := req.GenerationConfig
	if gc.Temperature != nil {
		out["temperature"] = *gc.Temperature
	}
	if gc.TopP != nil {
		out["top_p"] = *gc.TopP
	}
	if gc.N != nil {
		out["n"] = *gc.N
	}
	if gc.MaxTokens != nil {
		out["max_output_tokens"] = *gc.MaxTokens
	}

	if len(req.Tools) > 0 {
		var tools []any
		for _, t := range req.Tools {
			tool := map[string]any{"type": "function", "name": t.Name}
			if t.Description != "" {
				tool["description"] = t.Description
			}
			if t.Parameters != nil {
				tool["parameters"] = t.Parameters
			}
			if t.Strict {
				tool["strict"] = true
			}
			tools = append(tools, tool)
		}
		out["tools"] = tools
	}

	if req.ToolChoice != nil {
		switch req.ToolChoice.Type {
		case ir.ToolChoiceAuto:
			out["tool_choice"] = "auto"
		case ir.ToolChoiceNone:
			out["tool_choice"] = "none"
		case ir.ToolChoiceAny:
			out["tool_choice"] = "required"
		case ir.ToolChoiceSpecific:
			out["tool_choice"] = map[string]any{"type": "function", "name": req.ToolChoice.Name}
		}
	}

	if req.ResponseFormat != nil {
		format := map[string]any{"type": req.ResponseFormat.Type}
		if req.ResponseFormat.Type == "json_schema" {
			format["name"] = req.ResponseFormat.SchemaName
			format["strict"] = req.ResponseFormat.Strict
			if req.ResponseFormat.JSONSchema != nil {
				format["schema"] = req.ResponseFormat.JSONSchema
			}
		}
		out["text"] = map[string]any{"format": format}
	}

	if req.Stream {
		out["stream"] = true
	}
	if req.User != "" {
		out["user"] = req.User
	}

	for k, v := range req.UnsupportedParams {
		if _, exists := out[k]; !exists {
			out[k] = v
		}
	}

	return out, nil
}

func countToolUse(blocks []ir.ContentBlock) int {
	n := 0
	for _, b := range blocks {
		if b.Kind == ir.BlockToolUse {
			n++
		}
	}
	return n
}

func toolResultText(b ir.ContentBlock) string {
	if !b.ResultIsBlocks {
		return b.ResultText
	}
	var out string
	for _, inner := range b.ResultBlocks {
		if inner.Kind == ir.BlockText {
			out += inner.Text
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Response decoding / encoding
// ---------------------------------------------------------------------------

// DecodeResponse implements protocol.Decoder.
func (Codec) DecodeResponse(payload map[string]any) (*ir.Response, error) {
	output, ok := protocol.GetSlice(payload, "output")
	if !ok {
		return nil, protocol.NewInvalidRequest("missing_output", "openai responses response is missing \"output\"")
	}

	resp := &ir.Response{}
	resp.ID, _ = protocol.GetString(payload, "id")
	resp.Model, _ = protocol.GetString(payload, "model")

	for _, raw := range output {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		typ, _ := protocol.GetString(item, "type")
		switch typ {
		case "message":
			content, _ := protocol.GetSlice(item, "content")
			for _, c := range content {
				cm, ok := c.(map[string]any)
				if !ok {
					continue
				}
				if partType, _ := protocol.GetString(cm, "type"); partType == "output_text" {
					text, _ := protocol.GetString(cm, "text")
					resp.Content = append(resp.Content, ir.NewTextBlock(text))
				}
			}
		case "function_call":
			callID, _ := protocol.GetString(item, "call_id")
			name, _ := protocol.GetString(item, "name")
			argsStr, _ := protocol.GetString(item, "arguments")
			var input map[string]any
			if argsStr != "" {
				_ = json.Unmarshal([]byte(argsStr), &input)
			}
			if input == nil {
				input = map[string]any{}
			}
			resp.Content = append(resp.Content, ir.NewToolUseBlock(callID, name, input))
		}
	}

	status, _ := protocol.GetString(payload, "status")
	resp.StopReason = decodeStatus(status, resp.HasToolUse())

	if usage, ok := protocol.GetMap(payload, "usage"); ok {
		resp.HasUsage = true
		resp.Usage = decodeUsage(usage)
	}
	if created, ok := protocol.GetInt(payload, "created_at"); ok {
		resp.Created = int64(created)
		resp.HasCreated = true
	}

	return resp, nil
}

func decodeStatus(status string, hasToolUse bool) ir.StopReason {
	if hasToolUse {
		return ir.StopToolUse
	}
	switch status {
	case "incomplete":
		return ir.StopMaxTokens
	case "failed":
		return ir.StopError
	default:
		return ir.StopEndTurn
	}
}

func decodeUsage(m map[string]any) ir.Usage {
	u := ir.Usage{}
	u.InputTokens, _ = protocol.GetInt(m, "input_tokens")
	u.OutputTokens, _ = protocol.GetInt(m, "output_tokens")
	if total, ok := protocol.GetInt(m, "total_tokens"); ok {
		u.TotalTokens = total
		u.HasTotalTokens = true
	}
	if details, ok := protocol.GetMap(m, "input_tokens_details"); ok {
		u.CacheReadTokens, _ = protocol.GetInt(details, "cached_tokens")
	}
	if details, ok := protocol.GetMap(m, "output_tokens_details"); ok {
		u.ReasoningTokens, _ = protocol.GetInt(details, "reasoning_tokens")
	}
	return u
}

func encodeUsage(u ir.Usage) map[string]any {
	out := map[string]any{
		"input_tokens":  u.InputTokens,
		"output_tokens": u.OutputTokens,
		"total_tokens":  u.Total(),
	}
	if u.CacheReadTokens > 0 {
		out["input_tokens_details"] = map[string]any{"cached_tokens": u.CacheReadTokens}
	}
	if u.ReasoningTokens > 0 {
		out["output_tokens_details"] = map[string]any{"reasoning_tokens": u.ReasoningTokens}
	}
	return out
}

func encodeStatus(r ir.StopReason, hasToolUse bool) string {
	if hasToolUse {
		return "completed"
	}
	switch r {
	case ir.StopMaxTokens:
		return "incomplete"
	case ir.StopError:
		return "failed"
	default:
		return "completed"
	}
}

// EncodeResponse implements protocol.Encoder.
func (Codec) EncodeResponse(resp *ir.Response, _ protocol.EncodeOptions) (map[string]any, error) {
	var output []any

	var textParts []any
	for _, b := range resp.Content {
		if b.Kind == ir.BlockText {
			textParts = append(textParts, map[string]any{"type": "output_text", "text": b.Text})
		}
	}
	if len(textParts) > 0 {
		output = append(output, map[string]any{
			"type":    "message",
			"role":    "assistant",
			"content": textParts,
		})
	}

	for _, b := range resp.Content {
		if b.Kind != ir.BlockToolUse {
			continue
		}
		argsBytes, _ := json.Marshal(b.ToolInput)
		output = append(output, map[string]any{
			"type":      "function_call",
			"call_id":   b.ToolID,
			"name":      b.ToolName,
			"arguments": string(argsBytes),
		})
	}

	out := map[string]any{
		"id":     resp.ID,
		"object": "response",
		"model":  resp.Model,
		"status": encodeStatus(resp.StopReason, resp.HasToolUse()),
		"output": output,
	}
	if resp.HasCreated {
		out["created_at"] = resp.Created
	}
	if resp.HasUsage {
		out["usage"] = encodeUsage(resp.Usage)
	}
	return out, nil
}
