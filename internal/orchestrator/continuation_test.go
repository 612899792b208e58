package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfare-ai/llmgateway/internal/executor"
	"github.com/wayfare-ai/llmgateway/internal/ir"
	"github.com/wayfare-ai/llmgateway/internal/protocol"
	"github.com/wayfare-ai/llmgateway/internal/protocol/gemini"
	"github.com/wayfare-ai/llmgateway/internal/routing"
	"github.com/wayfare-ai/llmgateway/internal/supplier"
)

// mapStore is an in-memory kvstore.Store for tests.
type mapStore struct {
	data map[string][]byte
}

func (s *mapStore) Put(_ context.Context, key string, blob []byte) error {
	if s.data == nil {
		s.data = map[string][]byte{}
	}
	s.data[key] = blob
	return nil
}

func (s *mapStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	blob, ok := s.data[key]
	return blob, ok, nil
}

func TestContinuation_StoreAndLoadRoundTrip(t *testing.T) {
	o, _ := newTestOrchestrator(&stubClient{})
	store := &mapStore{}
	o.UseContinuationStore(store)

	headers := map[string]string{"x-api-key": "sk-caller"}
	candidate := routing.CandidateProvider{ProviderID: 9, Protocol: "gemini", TargetModel: "gemini-2.0-flash"}

	o.storeContinuation(context.Background(), headers, executor.Result{
		Success:       true,
		FinalProvider: candidate,
		Response: supplier.Response{ParsedBody: map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{"parts": []any{
					map[string]any{"functionCall": map[string]any{"name": "lookup"}, "thoughtSignature": "sig123"},
				}},
			}},
		}},
	})

	blob := o.loadContinuation(context.Background(), headers, candidate)
	assert.Equal(t, "sig123", string(blob))

	// Scoped by caller: a different API key sees nothing.
	other := o.loadContinuation(context.Background(), map[string]string{"x-api-key": "sk-other"}, candidate)
	assert.Nil(t, other)

	// Non-gemini candidates never consult the store.
	anthropicCand := candidate
	anthropicCand.Protocol = "anthropic"
	assert.Nil(t, o.loadContinuation(context.Background(), headers, anthropicCand))
}

func TestContinuation_GeminiEncoderAttachesSignature(t *testing.T) {
	req := &ir.Request{
		Messages: []ir.Message{
			{Role: ir.RoleUser, Content: []ir.ContentBlock{{Kind: ir.BlockText, Text: "look it up"}}},
			{Role: ir.RoleAssistant, Content: []ir.ContentBlock{{
				Kind: ir.BlockToolUse, ToolID: "call_1", ToolName: "lookup", ToolInput: map[string]any{"q": "x"},
			}}},
			{Role: ir.RoleTool, Content: []ir.ContentBlock{{
				Kind: ir.BlockToolResult, ToolUseID: "lookup", ResultText: "found",
			}}},
		},
	}
	out, err := gemini.New().EncodeRequest(req, protocol.EncodeOptions{ContinuationBlob: []byte("sig123")})
	require.NoError(t, err)

	contents := out["contents"].([]any)
	var attached string
	for _, c := range contents {
		parts := c.(map[string]any)["parts"].([]any)
		for _, p := range parts {
			pm := p.(map[string]any)
			if _, ok := pm["functionCall"]; ok {
				attached, _ = pm["thoughtSignature"].(string)
			}
		}
	}
	assert.Equal(t, "sig123", attached)
}
