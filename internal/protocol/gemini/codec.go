// Package gemini implements the Decoder/Encoder pair for Google's Gemini
// generateContent wire format. Gemini is never client-facing; this codec
// exists so a routing.CandidateProvider whose Provider.Protocol is
// "gemini" can be driven through the same decode/translate/encode pipeline
// internal/orchestrator uses for every other candidate, instead of
// special-casing Gemini outside the protocol Registry.
package gemini

import (
	"github.com/wayfare-ai/llmgateway/internal/ir"
	"github.com/wayfare-ai/llmgateway/internal/protocol"
)

// Codec implements protocol.Decoder and protocol.Encoder for Gemini.
type Codec struct{}

func New() *Codec { return &Codec{} }

// ---------------------------------------------------------------------------
// Request encoding (IR -> Gemini)
// ---------------------------------------------------------------------------

// EncodeRequest implements protocol.Encoder. Gemini has no required field
// the IR cannot supply (unlike Anthropic's max_tokens), so this never
// returns a ValidationError.
func (Codec) EncodeRequest(req *ir.Request, opts protocol.EncodeOptions) (map[string]any, error) {
	out := map[string]any{}

	if req.HasSystem && req.System != "" {
		out["systemInstruction"] = map[string]any{
			"parts": []any{map[string]any{"text": req.System}},
		}
	}

	var contents []any
	var pendingToolResponses []any

	flush := func() {
		if len(pendingToolResponses) > 0 {
			contents = append(contents, map[string]any{"role": "user", "parts": pendingToolResponses})
			pendingToolResponses = nil
		}
	}

	for _, m := range req.Messages {
		if m.Role == ir.RoleTool {
			for _, b := range m.Content {
				if b.Kind != ir.BlockToolResult {
					continue
				}
				pendingToolResponses = append(pendingToolResponses, map[string]any{
					"functionResponse": map[string]any{
						"name":     b.ToolUseID,
						"response": map[string]any{"content": b.ResultText},
					},
				})
			}
			continue
		}
		flush()
		contents = append(contents, map[string]any{
			"role":  encodeRole(m.Role),
			"parts": encodeParts(m.Content),
		})
	}
	flush()
	if len(opts.ContinuationBlob) > 0 {
		attachThoughtSignature(contents, string(opts.ContinuationBlob))
	}
	out["contents"] = contents

	gc := map[string]any{}
	cfg := req.GenerationConfig
	if cfg.Temperature != nil {
		gc["temperature"] = *cfg.Temperature
	}
	if cfg.TopP != nil {
		gc["topP"] = *cfg.TopP
	}
	if cfg.TopK != nil {
		gc["topK"] = *cfg.TopK
	}
	if cfg.MaxTokens != nil {
		gc["maxOutputTokens"] = *cfg.MaxTokens
	}
	if len(cfg.StopSequences) > 0 {
		gc["stopSequences"] = cfg.StopSequences
	}
	if len(gc) > 0 {
		out["generationConfig"] = gc
	}

	if len(req.Tools) > 0 {
		var decls []any
		for _, t := range req.Tools {
			decl := map[string]any{"name": t.Name}
			if t.Description != "" {
				decl["description"] = t.Description
			}
			if t.Parameters != nil {
				decl["parameters"] = t.Parameters
			}
			decls = append(decls, decl)
		}
		out["tools"] = []any{map[string]any{"functionDeclarations": decls}}
	}

	return out, nil
}

// attachThoughtSignature re-attaches a previously captured thought
// signature (see internal/kvstore) to the most recent functionCall part, the
// position Gemini expects it back in on the follow-up turn of a tool-use
// loop.
func attachThoughtSignature(contents []any, signature string) {
	for i := len(contents) - 1; i >= 0; i-- {
		cm, ok := contents[i].(map[string]any)
		if !ok {
			continue
		}
		parts, ok := cm["parts"].([]any)
		if !ok {
			continue
		}
		for j := len(parts) - 1; j >= 0; j-- {
			pm, ok := parts[j].(map[string]any)
			if !ok {
				continue
			}
			if _, isCall := pm["functionCall"]; isCall {
				pm["thoughtSignature"] = signature
				return
			}
		}
	}
}

func encodeRole(r ir.Role) string {
	if r == ir.RoleAssistant {
		return "model"
	}
	return "user"
}

func encodeParts(blocks []ir.ContentBlock) []any {
	var parts []any
	for _, b := range blocks {
		switch b.Kind {
		case ir.BlockText:
			parts = append(parts, map[string]any{"text": b.Text})
		case ir.BlockImage:
			if b.Source == ir.ImageSourceBase64 {
				parts = append(parts, map[string]any{
					"inlineData": map[string]any{"mimeType": b.MediaType, "data": b.Base64Data},
				})
			}
		case ir.BlockToolUse:
			input := b.ToolInput
			if input == nil {
				input = map[string]any{}
			}
			parts = append(parts, map[string]any{
				"functionCall": map[string]any{"name": b.ToolName, "args": input},
			})
		}
	}
	if len(parts) == 0 {
		parts = append(parts, map[string]any{"text": ""})
	}
	return parts
}

// ---------------------------------------------------------------------------
// Request decoding (Gemini -> IR). Exercised only by round-trip tests —
// Gemini is never the protocol a client request arrives in.
// ---------------------------------------------------------------------------

// DecodeRequest implements protocol.Decoder.
func (Codec) DecodeRequest(payload map[string]any) (*ir.Request, error) {
	rawContents, ok := protocol.GetSlice(payload, "contents")
	if !ok {
		return nil, protocol.NewInvalidRequest("missing_contents", "gemini generateContent request is missing required field \"contents\"")
	}

	req := &ir.Request{UnsupportedParams: map[string]any{}}

	if sysInstr, ok := protocol.GetMap(payload, "systemInstruction"); ok {
		if parts, ok := protocol.GetSlice(sysInstr, "parts"); ok {
			for _, p := range parts {
				pm, ok := p.(map[string]any)
				if !ok {
					continue
				}
				if t, ok := protocol.GetString(pm, "text"); ok {
					req.System += t
				}
			}
			if req.System != "" {
				req.HasSystem = true
			}
		}
	}

	for _, raw := range rawContents {
		cm, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		roleStr, _ := protocol.GetString(cm, "role")
		blocks := decodeParts(cm["parts"])

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
			req.Messages = append(req.Messages, ir.Message{Role: decodeRole(roleStr), Content: rest})
		}
	}

	if gc, ok := protocol.GetMap(payload, "generationConfig"); ok {
		genCfg := &req.GenerationConfig
		genCfg.Temperature = protocol.PtrFloat(protocol.GetFloat(gc, "temperature"))
		genCfg.TopP = protocol.PtrFloat(protocol.GetFloat(gc, "topP"))
		genCfg.TopK = protocol.PtrInt(protocol.GetInt(gc, "topK"))
		if v, ok := protocol.GetInt(gc, "maxOutputTokens"); ok {
			genCfg.MaxTokens = &v
		}
		if stop, ok := protocol.GetSlice(gc, "stopSequences"); ok {
			for _, s := range stop {
				if str, ok := s.(string); ok {
					genCfg.StopSequences = append(genCfg.StopSequences, str)
				}
			}
		}
	}

	if tools, ok := protocol.GetSlice(payload, "tools"); ok {
		for _, t := range tools {
			tm, ok := t.(map[string]any)
			if !ok {
				continue
			}
			decls, ok := protocol.GetSlice(tm, "functionDeclarations")
			if !ok {
				continue
			}
			for _, d := range decls {
				dm, ok := d.(map[string]any)
				if !ok {
					continue
				}
				name, _ := protocol.GetString(dm, "name")
				if name == "" {
					continue
				}
				decl := ir.ToolDeclaration{Name: name}
				decl.Description, _ = protocol.GetString(dm, "description")
				decl.Parameters, _ = protocol.GetMap(dm, "parameters")
				req.Tools = append(req.Tools, decl)
			}
		}
	}

	return req, nil
}

func decodeRole(s string) ir.Role {
	if s == "model" {
		return ir.RoleAssistant
	}
	return ir.RoleUser
}

func decodeParts(parts any) []ir.ContentBlock {
	list, ok := parts.([]any)
	if !ok {
		return nil
	}
	var blocks []ir.ContentBlock
	for _, raw := range list {
		pm, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		switch {
		case pm["text"] != nil:
			text, _ := protocol.GetString(pm, "text")
			blocks = append(blocks, ir.NewTextBlock(text))
		case pm["inlineData"] != nil:
			inline, _ := protocol.GetMap(pm, "inlineData")
			block := ir.ContentBlock{Kind: ir.BlockImage, Source: ir.ImageSourceBase64}
			block.MediaType, _ = protocol.GetString(inline, "mimeType")
			block.Base64Data, _ = protocol.GetString(inline, "data")
			blocks = append(blocks, block)
		case pm["functionCall"] != nil:
			fc, _ := protocol.GetMap(pm, "functionCall")
			name, _ := protocol.GetString(fc, "name")
			args, _ := protocol.GetMap(fc, "args")
			if args == nil {
				args = map[string]any{}
			}
			blocks = append(blocks, ir.NewToolUseBlock(name, name, args))
		case pm["functionResponse"] != nil:
			fr, _ := protocol.GetMap(pm, "functionResponse")
			name, _ := protocol.GetString(fr, "name")
			resp, _ := protocol.GetMap(fr, "response")
			var text string
			if resp != nil {
				if c, ok := protocol.GetString(resp, "content"); ok {
					text = c
				}
			}
			blocks = append(blocks, ir.ContentBlock{Kind: ir.BlockToolResult, ToolUseID: name, ResultText: text})
		}
	}
	return blocks
}

// ---------------------------------------------------------------------------
// Response decoding / encoding
// ---------------------------------------------------------------------------

// DecodeResponse implements protocol.Decoder. Only the first candidate is
// decoded; Gemini's multi-candidate responses have no IR equivalent.
func (Codec) DecodeResponse(payload map[string]any) (*ir.Response, error) {
	resp := &ir.Response{}

	candidates, _ := protocol.GetSlice(payload, "candidates")
	if len(candidates) > 0 {
		cm, ok := candidates[0].(map[string]any)
		if ok {
			content, _ := protocol.GetMap(cm, "content")
			resp.Content = decodeParts(content["parts"])
			finishReason, _ := protocol.GetString(cm, "finishReason")
			resp.StopReason = decodeFinishReason(finishReason)
		}
	}

	if usage, ok := protocol.GetMap(payload, "usageMetadata"); ok {
		resp.HasUsage = true
		resp.Usage.InputTokens, _ = protocol.GetInt(usage, "promptTokenCount")
		resp.Usage.OutputTokens, _ = protocol.GetInt(usage, "candidatesTokenCount")
		if total, ok := protocol.GetInt(usage, "totalTokenCount"); ok {
			resp.Usage.TotalTokens = total
			resp.Usage.HasTotalTokens = true
		}
	}

	return resp, nil
}

func decodeFinishReason(s string) ir.StopReason {
	switch s {
	case "MAX_TOKENS":
		return ir.StopMaxTokens
	case "STOP", "":
		return ir.StopEndTurn
	default:
		return ir.StopEndTurn
	}
}

func encodeFinishReason(r ir.StopReason, hasToolUse bool) string {
	if hasToolUse {
		return "STOP"
	}
	if r == ir.StopMaxTokens {
		return "MAX_TOKENS"
	}
	return "STOP"
}

// EncodeResponse implements protocol.Encoder.
func (Codec) EncodeResponse(resp *ir.Response, _ protocol.EncodeOptions) (map[string]any, error) {
	candidate := map[string]any{
		"content":      map[string]any{"role": "model", "parts": encodeParts(resp.Content)},
		"finishReason": encodeFinishReason(resp.StopReason, resp.HasToolUse()),
	}
	out := map[string]any{"candidates": []any{candidate}}
	if resp.HasUsage {
		out["usageMetadata"] = map[string]any{
			"promptTokenCount":     resp.Usage.InputTokens,
			"candidatesTokenCount": resp.Usage.OutputTokens,
			"totalTokenCount":      resp.Usage.Total(),
		}
	}
	return out, nil
}
