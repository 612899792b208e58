package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/wayfare-ai/llmgateway/internal/executor"
	"github.com/wayfare-ai/llmgateway/internal/ir"
	"github.com/wayfare-ai/llmgateway/internal/protocol"
	"github.com/wayfare-ai/llmgateway/internal/routing"
	"github.com/wayfare-ai/llmgateway/internal/supplier"
)

// codecNameForProviderProtocol maps a routing.Provider/CandidateProvider's
// Protocol string ("openai", "anthropic", "gemini", …) to the
// protocol.Name the codec Registry is keyed by. This is the only place the
// two parallel protocol vocabularies (the supplier registry's free-form
// provider protocol strings, and the codec registry's closed Name enum)
// meet.
func codecNameForProviderProtocol(p string) (protocol.Name, error) {
	switch p {
	case "openai":
		return protocol.OpenAIChat, nil
	case "openai_responses":
		return protocol.OpenAIResponses, nil
	case "anthropic":
		return protocol.AnthropicMessages, nil
	case "gemini":
		return protocol.Gemini, nil
	default:
		return "", fmt.Errorf("unknown provider protocol %q", p)
	}
}

// buildEncodeOpts derives the EncodeOptions for one direction of
// translation (decoded from source, about to be encoded to target).
func buildEncodeOpts(target, source protocol.Name) protocol.EncodeOptions {
	return protocol.EncodeOptions{
		SourceWasAnthropic:    source == protocol.AnthropicMessages,
		AllowMaxTokensDefault: target == protocol.AnthropicMessages && source != protocol.AnthropicMessages,
	}
}

// cloneRequestForCandidate returns a shallow copy of req with Model set to
// the candidate's resolved target model name. Encoding this clone through
// the candidate's own protocol reproduces an identity pass-through (model
// substituted, body otherwise equivalent) for same-protocol candidates and
// a real translation for the rest, with no special case either way.
func cloneRequestForCandidate(req *ir.Request, targetModel string) *ir.Request {
	clone := *req
	clone.Model = targetModel
	return &clone
}

// approxInputTokens estimates the request's input token count for rule
// contexts and cost-first pricing, using the same ~4-chars-per-token
// heuristic internal/stream applies to accumulated output text.
func approxInputTokens(req *ir.Request) int {
	var sb strings.Builder
	if req.HasSystem {
		sb.WriteString(req.System)
	}
	for _, m := range req.Messages {
		sb.WriteString(m.TextContent())
	}
	n := len(strings.TrimSpace(sb.String()))
	if n == 0 {
		return 0
	}
	if count := n / 4; count > 0 {
		return count
	}
	return 1
}

// forwardHeaders carries through the handful of client headers a supplier
// client's setAuth closure may consult (currently just anthropic-version,
// which is forwarded upstream verbatim). Everything else
// about auth is resolved from the candidate's own stored APIKey, not the
// client's inbound headers.
func forwardHeaders(headers map[string]string) map[string]string {
	out := map[string]string{}
	if v, ok := headers["anthropic-version"]; ok && v != "" {
		out["anthropic-version"] = v
	}
	return out
}

// translationFailureResponse builds a synthetic 4xx supplier.Response for
// an encode-time failure. Deliberately never 5xx: executor.ExecuteUnary's
// retry branch is `IsServerError() || err != nil`, so a 5xx-coded
// translation failure would be retried against the very same candidate —
// and a translation that failed once will fail identically every time.
// A 4xx fails over immediately instead.
func translationFailureResponse(err error) supplier.Response {
	return supplier.Response{StatusCode: http.StatusBadRequest, Error: err.Error()}
}

// forwardFunc builds the executor.ForwardFunc for one unary request: encode
// the IR into the candidate's protocol, then delegate to its supplier
// client. The response is translated back only once the executor has
// settled on a final result (see buildUnaryOutcome), not per attempt.
func (o *Orchestrator) forwardFunc(req *ir.Request, source protocol.Name, headers map[string]string) executor.ForwardFunc {
	return func(ctx context.Context, candidate routing.CandidateProvider) (supplier.Response, error) {
		return o.forwardOnce(ctx, req, source, headers, candidate)
	}
}

// forwardOnce encodes req for candidate's protocol and delegates to its
// supplier client. A nil error with a 4xx supplier.Response is how
// translation failures surface to the executor (see
// translationFailureResponse); a non-nil error is a transport-level
// failure the executor treats like an upstream 5xx.
func (o *Orchestrator) forwardOnce(ctx context.Context, req *ir.Request, source protocol.Name, headers map[string]string, candidate routing.CandidateProvider) (supplier.Response, error) {
	targetName, err := codecNameForProviderProtocol(candidate.Protocol)
	if err != nil {
		return translationFailureResponse(err), nil
	}
	targetCodec, err := o.registry.Codec(targetName)
	if err != nil {
		return translationFailureResponse(err), nil
	}
	client, err := o.suppliers.Client(candidate.Protocol)
	if err != nil {
		return translationFailureResponse(err), nil
	}

	candReq := cloneRequestForCandidate(req, candidate.TargetModel)
	opts := buildEncodeOpts(targetName, source)
	opts.ContinuationBlob = o.loadContinuation(ctx, headers, candidate)
	payload, err := targetCodec.Encoder.EncodeRequest(candReq, opts)
	if err != nil {
		return translationFailureResponse(err), nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return translationFailureResponse(err), nil
	}

	supReq := supplier.Request{
		BaseURL:      candidate.BaseURL,
		APIKey:       candidate.APIKey,
		Path:         targetName.Path(),
		Method:       http.MethodPost,
		Headers:      forwardHeaders(headers),
		Body:         body,
		TargetModel:  candidate.TargetModel,
		ResponseMode: supplier.ResponseModeParsed,
		ExtraHeaders: candidate.ExtraHeaders,
		ProxyURL:     candidate.ProxyURL,
	}
	return client.Forward(ctx, supReq)
}

// forwardStreamFunc builds the executor.ForwardStreamFunc for one streaming
// request, mirroring forwardOnce but requesting raw (unparsed) response
// bytes — the per-attempt internal/stream.Translator in pumpStream consumes
// the supplier.Chunk.Event internal/supplier's Accumulator already parsed,
// never the raw bytes directly.
func (o *Orchestrator) forwardStreamFunc(req *ir.Request, source protocol.Name, headers map[string]string) executor.ForwardStreamFunc {
	return func(ctx context.Context, candidate routing.CandidateProvider) (<-chan supplier.Chunk, error) {
		// Translation failures surface as a one-chunk stream carrying the
		// 4xx translationFailureResponse, so the executor fails over.
		fail := func(err error) (<-chan supplier.Chunk, error) {
			ch := make(chan supplier.Chunk, 1)
			ch <- supplier.Chunk{Response: translationFailureResponse(err)}
			close(ch)
			return ch, nil
		}
		targetName, err := codecNameForProviderProtocol(candidate.Protocol)
		if err != nil {
			return fail(err)
		}
		targetCodec, err := o.registry.Codec(targetName)
		if err != nil {
			return fail(err)
		}
		client, err := o.suppliers.Client(candidate.Protocol)
		if err != nil {
			return fail(err)
		}

		candReq := cloneRequestForCandidate(req, candidate.TargetModel)
		candReq.Stream = true
		opts := buildEncodeOpts(targetName, source)
		opts.ContinuationBlob = o.loadContinuation(ctx, headers, candidate)
		payload, err := targetCodec.Encoder.EncodeRequest(candReq, opts)
		if err != nil {
			return fail(err)
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return fail(err)
		}

		supReq := supplier.Request{
			BaseURL:      candidate.BaseURL,
			APIKey:       candidate.APIKey,
			Path:         targetName.Path(),
			Method:       http.MethodPost,
			Headers:      forwardHeaders(headers),
			Body:         body,
			TargetModel:  candidate.TargetModel,
			ResponseMode: supplier.ResponseModeRaw,
			ExtraHeaders: candidate.ExtraHeaders,
			ProxyURL:     candidate.ProxyURL,
		}
		return client.ForwardStream(ctx, supReq)
	}
}

// statusOrDefault returns status, or fallback when status is 0 (no HTTP
// round trip ever completed, e.g. every candidate was unreachable).
func statusOrDefault(status, fallback int) int {
	if status == 0 {
		return fallback
	}
	return status
}

// parseJSONBody best-effort unmarshals raw upstream bytes into a JSON
// object, used for the identity-passthrough and all-providers-failed
// paths, where the last upstream body passes through verbatim rather than
// routing through the IR.
func parseJSONBody(body []byte) (map[string]any, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("empty body")
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// decodeErrorOutcome maps a request-decode failure (step 1) to its HTTP
// status, preserving the codec's stable error code when it returned a
// *protocol.Error.
func decodeErrorOutcome(err error) *Outcome {
	if perr, ok := err.(*protocol.Error); ok {
		return errorOutcome(http.StatusBadRequest, perr.Code, perr.Message, nil)
	}
	return errorOutcome(http.StatusBadRequest, "invalid_request", err.Error(), nil)
}

// buildUnaryOutcome implements step 7c: on success, the response is
// translated back to the client's source protocol unless the candidate
// already spoke it (identity passthrough, verbatim upstream body). On
// exhaustion (AllProvidersFailed), the last upstream body is passed through
// verbatim when one exists; otherwise a synthesized
// 503 "no_available_provider" is returned. The second return value is the
// upstream-reported usage when the response decoded, for the request log.
func (o *Orchestrator) buildUnaryOutcome(source protocol.Name, result executor.Result) (*Outcome, *ir.Usage) {
	resp := result.Response
	headers := map[string]string{}
	if result.Success {
		headers["X-LLMGateway-Provider"] = result.FinalProvider.ProviderName
		headers["X-LLMGateway-Model"] = result.FinalProvider.TargetModel
	}

	if result.Success {
		targetName, err := codecNameForProviderProtocol(result.FinalProvider.Protocol)
		if err != nil {
			return errorOutcome(http.StatusBadGateway, "conversion_error", err.Error(), headers), nil
		}
		targetCodec, cerr := o.registry.Codec(targetName)
		if cerr != nil {
			return errorOutcome(http.StatusBadGateway, "conversion_error", cerr.Error(), headers), nil
		}
		irResp, derr := targetCodec.Decoder.DecodeResponse(resp.ParsedBody)
		var usage *ir.Usage
		if derr == nil && irResp.HasUsage {
			u := irResp.Usage
			usage = &u
		}
		if targetName == source {
			if body, perr := parseJSONBody(resp.Body); perr == nil {
				return &Outcome{StatusCode: resp.StatusCode, Headers: headers, Body: body}, usage
			}
		}
		sourceCodec, cerr := o.registry.Codec(source)
		if cerr != nil {
			return errorOutcome(http.StatusBadGateway, "conversion_error", cerr.Error(), headers), usage
		}
		if derr != nil {
			return errorOutcome(http.StatusBadGateway, "conversion_error", derr.Error(), headers), nil
		}
		outBody, eerr := sourceCodec.Encoder.EncodeResponse(irResp, buildEncodeOpts(source, targetName))
		if eerr != nil {
			return errorOutcome(http.StatusBadGateway, "conversion_error", eerr.Error(), headers), usage
		}
		return &Outcome{StatusCode: resp.StatusCode, Headers: headers, Body: outBody}, usage
	}

	if len(resp.Body) > 0 {
		if body, perr := parseJSONBody(resp.Body); perr == nil {
			return &Outcome{StatusCode: statusOrDefault(resp.StatusCode, http.StatusServiceUnavailable), Headers: headers, Body: body}, nil
		}
	}
	message := resp.Error
	if message == "" {
		message = "all providers failed"
	}
	return errorOutcome(http.StatusServiceUnavailable, "no_available_provider", message, headers), nil
}
