// Package openaichat implements the Decoder/Encoder pair for the OpenAI
// Chat Completions wire protocol (POST /v1/chat/completions).
package openaichat

import (
	"encoding/json"

	"github.com/wayfare-ai/llmgateway/internal/ir"
	"github.com/wayfare-ai/llmgateway/internal/protocol"
)

// Codec implements protocol.Decoder and protocol.Encoder for OpenAI Chat.
type Codec struct{}

// New returns a ready-to-use OpenAI Chat codec.
func New() *Codec { return &Codec{} }

// ---------------------------------------------------------------------------
// Request decoding
// ---------------------------------------------------------------------------

// DecodeRequest implements protocol.Decoder.
func (Codec) DecodeRequest(payload map[string]any) (*ir.Request, error) {
	model, _ := protocol.GetString(payload, "model")

	rawMessages, ok := protocol.GetSlice(payload, "messages")
	if !ok {
		return nil, protocol.NewInvalidRequest("missing_messages", "openai chat request is missing required field \"messages\"")
	}

	payload = normalizeLegacyTooling(payload)

	req := &ir.Request{
		Model:             model,
		UnsupportedParams: map[string]any{},
	}

	toolCallIndex := map[string]string{} // openai tool_call id -> tool name, for matching role:"tool" results

	for _, raw := range rawMessages {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		roleStr, _ := protocol.GetString(m, "role")
		role := ir.Role(roleStr)

		if role == ir.RoleSystem || (roleStr == "developer") {
			text := contentAsText(m["content"])
			if req.HasSystem {
				req.System += "\n" + text
			} else {
				req.System = text
				req.HasSystem = true
			}
			continue
		}

		if role == ir.RoleTool || roleStr == "function" {
			toolCallID, _ := protocol.GetString(m, "tool_call_id")
			text := contentAsText(m["content"])
			req.Messages = append(req.Messages, ir.Message{
				Role:    ir.RoleTool,
				Content: []ir.ContentBlock{ir.NewToolResultBlock(toolCallID, text, false)},
			})
			continue
		}

		msg := ir.Message{Role: role}
		if name, ok := protocol.GetString(m, "name"); ok {
			msg.Name = name
		}

		msg.Content = append(msg.Content, decodeContent(m["content"])...)

		if toolCalls, ok := protocol.GetSlice(m, "tool_calls"); ok {
			for _, tc := range toolCalls {
				tcm, ok := tc.(map[string]any)
				if !ok {
					continue
				}
				id, _ := protocol.GetString(tcm, "id")
				fn, _ := protocol.GetMap(tcm, "function")
				name, _ := protocol.GetString(fn, "name")
				argsStr, _ := protocol.GetString(fn, "arguments")

				var input map[string]any
				if argsStr != "" {
					_ = json.Unmarshal([]byte(argsStr), &input)
				}
				if input == nil {
					input = map[string]any{}
				}
				toolCallIndex[id] = name
				msg.Content = append(msg.Content, ir.NewToolUseBlock(id, name, input))
			}
		}

		req.Messages = append(req.Messages, msg)
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

func decodeGenerationConfig(payload map[string]any, req *ir.Request) {
	gc := &req.GenerationConfig
	gc.Temperature = protocol.PtrFloat(protocol.GetFloat(payload, "temperature"))
	gc.TopP = protocol.PtrFloat(protocol.GetFloat(payload, "top_p"))
	gc.PresencePenalty = protocol.PtrFloat(protocol.GetFloat(payload, "presence_penalty"))
	gc.FrequencyPenalty = protocol.PtrFloat(protocol.GetFloat(payload, "frequency_penalty"))
	gc.Seed = protocol.PtrInt(protocol.GetInt(payload, "seed"))
	gc.LogProbs = protocol.PtrBool(protocol.GetBool(payload, "logprobs"))
	gc.TopLogProbs = protocol.PtrInt(protocol.GetInt(payload, "top_logprobs"))
	gc.N = protocol.PtrInt(protocol.GetInt(payload, "n"))

	// max_completion_tokens supersedes the legacy max_tokens field.
	if v, ok := protocol.GetInt(payload, "max_completion_tokens"); ok {
		gc.MaxTokens = &v
	} else if v, ok := protocol.GetInt(payload, "max_tokens"); ok {
		gc.MaxTokens = &v
	}

	switch stop := payload["stop"].(type) {
	case string:
		gc.StopSequences = []string{stop}
	case []any:
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
		fn, ok := protocol.GetMap(tm, "function")
		if !ok {
			continue
		}
		name, _ := protocol.GetString(fn, "name")
		if name == "" {
			continue
		}
		decl := ir.ToolDeclaration{Name: name}
		decl.Description, _ = protocol.GetString(fn, "description")
		decl.Parameters, _ = protocol.GetMap(fn, "parameters")
		decl.Strict, _ = protocol.GetBool(fn, "strict")
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
		fn, ok := protocol.GetMap(tc, "function")
		if !ok {
			return
		}
		name, _ := protocol.GetString(fn, "name")
		req.ToolChoice = &ir.ToolChoice{Type: ir.ToolChoiceSpecific, Name: name}
	}
}

func decodeResponseFormat(payload map[string]any, req *ir.Request) {
	rf, ok := protocol.GetMap(payload, "response_format")
	if !ok {
		return
	}
	typ, _ := protocol.GetString(rf, "type")
	if typ == "" {
		return
	}
	out := &ir.ResponseFormat{Type: typ}
	if js, ok := protocol.GetMap(rf, "json_schema"); ok {
		out.JSONSchema, _ = protocol.GetMap(js, "schema")
		out.SchemaName, _ = protocol.GetString(js, "name")
		out.Strict, _ = protocol.GetBool(js, "strict")
	}
	req.ResponseFormat = out
}

// normalizeLegacyTooling converts legacy OpenAI "functions"/"function_call"
// fields into modern "tools"/"tool_choice" before decoding.
func normalizeLegacyTooling(payload map[string]any) map[string]any {
	if _, hasTools := payload["tools"]; hasTools {
		return payload
	}
	functions, ok := protocol.GetSlice(payload, "functions")
	if !ok {
		return payload
	}

	out := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		out[k] = v
	}

	var tools []any
	for _, f := range functions {
		fm, ok := f.(map[string]any)
		if !ok {
			continue
		}
		name, _ := protocol.GetString(fm, "name")
		if name == "" {
			continue
		}
		fn := map[string]any{"name": name}
		if desc, ok := protocol.GetString(fm, "description"); ok {
			fn["description"] = desc
		}
		if params, ok := protocol.GetMap(fm, "parameters"); ok {
			fn["parameters"] = params
		}
		tools = append(tools, map[string]any{"type": "function", "function": fn})
	}
	if len(tools) > 0 {
		out["tools"] = tools
	}

	if _, hasToolChoice := out["tool_choice"]; !hasToolChoice {
		switch fc := payload["function_call"].(type) {
		case string:
			out["tool_choice"] = fc
		case map[string]any:
			if name, ok := protocol.GetString(fc, "name"); ok {
				out["tool_choice"] = map[string]any{"type": "function", "function": map[string]any{"name": name}}
			}
		}
	}

	return out
}

// contentAsText extracts plain text from an OpenAI message "content" field,
// which is either a string or an array of content parts.
func contentAsText(content any) string {
	switch c := content.(type) {
	case string:
		return c
	case []any:
		var out string
		for _, part := range c {
			pm, ok := part.(map[string]any)
			if !ok {
				continue
			}
			if typ, _ := protocol.GetString(pm, "type"); typ == "text" {
				if text, ok := protocol.GetString(pm, "text"); ok {
					out += text
				}
			}
		}
		return out
	default:
		return ""
	}
}

// decodeContent turns an OpenAI "content" field into IR content blocks,
// handling both the plain-string shorthand and the multimodal array form
// (text / image_url).
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
		for _, part := range c {
			pm, ok := part.(map[string]any)
			if !ok {
				continue
			}
			typ, _ := protocol.GetString(pm, "type")
			switch typ {
			case "text":
				text, _ := protocol.GetString(pm, "text")
				blocks = append(blocks, ir.NewTextBlock(text))
			case "image_url":
				imgURL, _ := protocol.GetMap(pm, "image_url")
				url, _ := protocol.GetString(imgURL, "url")
				detail, _ := protocol.GetString(imgURL, "detail")
				block := ir.ContentBlock{Kind: ir.BlockImage, Detail: detail}
				if mediaType, b64, ok := protocol.ParseDataURL(url); ok {
					block.Source = ir.ImageSourceBase64
					block.MediaType = mediaType
					block.Base64Data = b64
				} else {
					block.Source = ir.ImageSourceURL
					block.URL = url
				}
				blocks = append(blocks, block)
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

// EncodeRequest implements protocol.Encoder.
func (Codec) EncodeRequest(req *ir.Request, opts protocol.EncodeOptions) (map[string]any, error) {
	out := map[string]any{"model": req.Model}

	var messages []any
	if req.HasSystem && req.System != "" {
		messages = append(messages, map[string]any{"role": "system", "content": req.System})
	}

	for _, m := range req.Messages {
		if m.Role == ir.RoleTool {
			for _, b := range m.Content {
				if b.Kind != ir.BlockToolResult {
					continue
				}
				messages = append(messages, map[string]any{
					"role":         "tool",
					"tool_call_id": b.ToolUseID,
					"content":      toolResultText(b),
				})
			}
			continue
		}

		msg := map[string]any{"role": string(m.Role)}
		if m.Name != "" {
			msg["name"] = m.Name
		}

		content, toolCalls := encodeContent(m.Content)
		if content != nil {
			msg["content"] = content
		} else if m.Role == ir.RoleAssistant && len(toolCalls) > 0 {
			msg["content"] = nil
		}
		if len(toolCalls) > 0 {
			msg["tool_calls"] = toolCalls
		}
		messages = append(messages, msg)
	}

	out["messages"] = messages

	gc := req.GenerationConfig
	if gc.Temperature != nil {
		out["temperature"] = *gc.Temperature
	}
	if gc.TopP != nil {
		out["top_p"] = *gc.TopP
	}
	if gc.PresencePenalty != nil {
		out["presence_penalty"] = *gc.PresencePenalty
	}
	if gc.FrequencyPenalty != nil {
		out["frequency_penalty"] = *gc.FrequencyPenalty
	}
	if gc.Seed != nil {
		out["seed"] = *gc.Seed
	}
	if gc.LogProbs != nil {
		out["logprobs"] = *gc.LogProbs
	}
	if gc.TopLogProbs != nil {
		out["top_logprobs"] = *gc.TopLogProbs
	}
	if gc.N != nil {
		out["n"] = *gc.N
	}
	if len(gc.StopSequences) > 0 {
		out["stop"] = gc.StopSequences
	}
	// Prefer max_completion_tokens for new-model compatibility.
	if gc.MaxTokens != nil {
		out["max_completion_tokens"] = *gc.MaxTokens
	}

	if len(req.Tools) > 0 {
		var tools []any
		for _, t := range req.Tools {
			fn := map[string]any{"name": t.Name}
			if t.Description != "" {
				fn["description"] = t.Description
			}
			if t.Parameters != nil {
				fn["parameters"] = t.Parameters
			}
			if t.Strict {
				fn["strict"] = true
			}
			tools = append(tools, map[string]any{"type": "function", "function": fn})
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
			out["tool_choice"] = map[string]any{"type": "function", "function": map[string]any{"name": req.ToolChoice.Name}}
		}
	}

	if req.ResponseFormat != nil {
		rf := map[string]any{"type": req.ResponseFormat.Type}
		if req.ResponseFormat.Type == "json_schema" {
			js := map[string]any{"name": req.ResponseFormat.SchemaName, "strict": req.ResponseFormat.Strict}
			if req.ResponseFormat.JSONSchema != nil {
				js["schema"] = req.ResponseFormat.JSONSchema
			}
			rf["json_schema"] = js
		}
		out["response_format"] = rf
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

// encodeContent renders IR content blocks into OpenAI's "content" shape
// (string shorthand when it's plain text, array form for multimodal) plus
// any tool_calls extracted from ToolUse blocks.
func encodeContent(blocks []ir.ContentBlock) (content any, toolCalls []any) {
	onlyText := true
	for _, b := range blocks {
		if b.Kind != ir.BlockText {
			onlyText = false
			break
		}
	}

	if onlyText {
		var text string
		for _, b := range blocks {
			text += b.Text
		}
		if text != "" {
			content = text
		}
	} else {
		var parts []any
		for _, b := range blocks {
			switch b.Kind {
			case ir.BlockText:
				parts = append(parts, map[string]any{"type": "text", "text": b.Text})
			case ir.BlockImage:
				url := b.URL
				if b.Source == ir.ImageSourceBase64 {
					url = protocol.BuildDataURL(b.MediaType, b.Base64Data)
				}
				imgURL := map[string]any{"url": url}
				if b.Detail != "" {
					imgURL["detail"] = b.Detail
				}
				parts = append(parts, map[string]any{"type": "image_url", "image_url": imgURL})
			}
		}
		if len(parts) > 0 {
			content = parts
		}
	}

	for _, b := range blocks {
		if b.Kind != ir.BlockToolUse {
			continue
		}
		argsBytes, _ := json.Marshal(b.ToolInput)
		toolCalls = append(toolCalls, map[string]any{
			"id":   b.ToolID,
			"type": "function",
			"function": map[string]any{
				"name":      b.ToolName,
				"arguments": string(argsBytes),
			},
		})
	}

	return content, toolCalls
}

// ---------------------------------------------------------------------------
// Response decoding / encoding
// ---------------------------------------------------------------------------

// DecodeResponse implements protocol.Decoder.
func (Codec) DecodeResponse(payload map[string]any) (*ir.Response, error) {
	choices, ok := protocol.GetSlice(payload, "choices")
	if !ok || len(choices) == 0 {
		return nil, protocol.NewInvalidRequest("missing_choices", "openai chat response is missing \"choices\"")
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return nil, protocol.NewInvalidRequest("malformed_choice", "openai chat response choice is not an object")
	}
	message, _ := protocol.GetMap(choice, "message")

	resp := &ir.Response{}
	resp.ID, _ = protocol.GetString(payload, "id")
	resp.Model, _ = protocol.GetString(payload, "model")
	if created, ok := protocol.GetInt(payload, "created"); ok {
		resp.Created = int64(created)
		resp.HasCreated = true
	}

	resp.Content = decodeContent(message["content"])
	if toolCalls, ok := protocol.GetSlice(message, "tool_calls"); ok {
		for _, tc := range toolCalls {
			tcm, ok := tc.(map[string]any)
			if !ok {
				continue
			}
			id, _ := protocol.GetString(tcm, "id")
			fn, _ := protocol.GetMap(tcm, "function")
			name, _ := protocol.GetString(fn, "name")
			argsStr, _ := protocol.GetString(fn, "arguments")
			var input map[string]any
			if argsStr != "" {
				_ = json.Unmarshal([]byte(argsStr), &input)
			}
			if input == nil {
				input = map[string]any{}
			}
			resp.Content = append(resp.Content, ir.NewToolUseBlock(id, name, input))
		}
	}

	finishReason, _ := protocol.GetString(choice, "finish_reason")
	resp.StopReason = decodeFinishReason(finishReason)

	if usage, ok := protocol.GetMap(payload, "usage"); ok {
		resp.HasUsage = true
		resp.Usage = decodeUsage(usage)
	}

	return resp, nil
}

func decodeFinishReason(s string) ir.StopReason {
	switch s {
	case "stop":
		return ir.StopEndTurn
	case "length":
		return ir.StopMaxTokens
	case "tool_calls", "function_call":
		return ir.StopToolUse
	case "content_filter":
		return ir.StopContentFilter
	default:
		return ir.StopEndTurn
	}
}

func encodeFinishReason(r ir.StopReason, hasToolUse bool) string {
	if hasToolUse {
		return "tool_calls"
	}
	switch r {
	case ir.StopToolUse:
		return "tool_calls"
	case ir.StopMaxTokens:
		return "length"
	case ir.StopContentFilter:
		return "content_filter"
	case ir.StopError:
		return "stop"
	default:
		return "stop"
	}
}

func decodeUsage(m map[string]any) ir.Usage {
	u := ir.Usage{}
	u.InputTokens, _ = protocol.GetInt(m, "prompt_tokens")
	u.OutputTokens, _ = protocol.GetInt(m, "completion_tokens")
	if total, ok := protocol.GetInt(m, "total_tokens"); ok {
		u.TotalTokens = total
		u.HasTotalTokens = true
	}
	if details, ok := protocol.GetMap(m, "prompt_tokens_details"); ok {
		u.CacheReadTokens, _ = protocol.GetInt(details, "cached_tokens")
	}
	if details, ok := protocol.GetMap(m, "completion_tokens_details"); ok {
		u.ReasoningTokens, _ = protocol.GetInt(details, "reasoning_tokens")
		u.AudioTokens, _ = protocol.GetInt(details, "audio_tokens")
	}
	return u
}

func encodeUsage(u ir.Usage) map[string]any {
	out := map[string]any{
		"prompt_tokens":     u.InputTokens,
		"completion_tokens": u.OutputTokens,
		"total_tokens":      u.Total(),
	}
	if u.CacheReadTokens > 0 {
		out["prompt_tokens_details"] = map[string]any{"cached_tokens": u.CacheReadTokens}
	}
	if u.ReasoningTokens > 0 || u.AudioTokens > 0 {
		out["completion_tokens_details"] = map[string]any{
			"reasoning_tokens": u.ReasoningTokens,
			"audio_tokens":     u.AudioTokens,
		}
	}
	return out
}

// EncodeResponse implements protocol.Encoder.
func (Codec) EncodeResponse(resp *ir.Response, _ protocol.EncodeOptions) (map[string]any, error) {
	content, toolCalls := encodeContent(resp.Content)
	message := map[string]any{"role": "assistant"}
	if content != nil {
		message["content"] = content
	} else {
		message["content"] = nil
	}
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
	}

	choice := map[string]any{
		"index":         0,
		"message":       message,
		"finish_reason": encodeFinishReason(resp.StopReason, resp.HasToolUse()),
	}

	out := map[string]any{
		"id":      resp.ID,
		"object":  "chat.completion",
		"model":   resp.Model,
		"choices": []any{choice},
	}
	if resp.HasCreated {
		out["created"] = resp.Created
	}
	if resp.HasUsage {
		out["usage"] = encodeUsage(resp.Usage)
	}
	return out, nil
}
