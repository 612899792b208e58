package orchestrator

import (
	"context"

	"github.com/wayfare-ai/llmgateway/internal/executor"
	"github.com/wayfare-ai/llmgateway/internal/kvstore"
	"github.com/wayfare-ai/llmgateway/internal/routing"
)

// UseContinuationStore attaches the optional continuation-blob store.
// Without one, provider continuation tokens are simply not carried across
// requests — every other behavior is unchanged, which is why this is a
// setter rather than a New parameter.
func (o *Orchestrator) UseContinuationStore(s kvstore.Store) {
	o.continuations = s
}

// continuationKey scopes a stored blob to one (protocol, caller, target
// model) tuple so two tenants' tool-use loops never cross-pollinate.
func continuationKey(headers map[string]string, candidate routing.CandidateProvider) string {
	return candidate.Protocol + ":" + apiKeyID(headers) + ":" + candidate.TargetModel
}

// loadContinuation fetches the blob to attach to an outgoing request, if
// the store is configured and has one. Best-effort on both counts: the
// store tolerates approximate reads, so a read failure degrades to
// "no blob" rather than failing the attempt.
func (o *Orchestrator) loadContinuation(ctx context.Context, headers map[string]string, candidate routing.CandidateProvider) []byte {
	if o.continuations == nil || candidate.Protocol != "gemini" {
		return nil
	}
	blob, ok, err := o.continuations.Get(ctx, continuationKey(headers, candidate))
	if err != nil || !ok {
		return nil
	}
	return blob
}

// storeContinuation captures a provider continuation token from a
// successful unary response — today that means Gemini thought signatures,
// which ride on response parts and must be replayed on the next turn of
// the same tool-use loop. Last write wins.
func (o *Orchestrator) storeContinuation(ctx context.Context, headers map[string]string, result executor.Result) {
	if o.continuations == nil || result.FinalProvider.Protocol != "gemini" {
		return
	}
	sig := extractThoughtSignature(result.Response.ParsedBody)
	if sig == "" {
		return
	}
	_ = o.continuations.Put(ctx, continuationKey(headers, result.FinalProvider), []byte(sig))
}

// extractThoughtSignature walks a parsed Gemini generateContent response
// looking for the last thoughtSignature carried on any candidate part.
func extractThoughtSignature(parsed map[string]any) string {
	if parsed == nil {
		return ""
	}
	candidates, ok := parsed["candidates"].([]any)
	if !ok {
		return ""
	}
	var sig string
	for _, c := range candidates {
		cm, ok := c.(map[string]any)
		if !ok {
			continue
		}
		content, ok := cm["content"].(map[string]any)
		if !ok {
			continue
		}
		parts, ok := content["parts"].([]any)
		if !ok {
			continue
		}
		for _, p := range parts {
			pm, ok := p.(map[string]any)
			if !ok {
				continue
			}
			if s, ok := pm["thoughtSignature"].(string); ok && s != "" {
				sig = s
			}
		}
	}
	return sig
}
