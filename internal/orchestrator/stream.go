package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/wayfare-ai/llmgateway/internal/executor"
	"github.com/wayfare-ai/llmgateway/internal/ir"
	"github.com/wayfare-ai/llmgateway/internal/protocol"
	"github.com/wayfare-ai/llmgateway/internal/repo"
	"github.com/wayfare-ai/llmgateway/internal/routing"
	"github.com/wayfare-ai/llmgateway/internal/strategy"
	"github.com/wayfare-ai/llmgateway/internal/stream"
)

// streamPreviewLimit bounds the output preview recorded in the request log
// for a streamed response.
const streamPreviewLimit = 2000

// handleStream is the streaming tail of Handle's pipeline. Handle returns
// immediately with Outcome.Stream open; pumpStream runs in
// its own goroutine and owns the eventual, cancellation-shielded log write
// — the stream must still write its log when the client disconnects.
func (o *Orchestrator) handleStream(ctx context.Context, source protocol.Name, sourceCodec protocol.Codec, req *ir.Request, headers map[string]string, candidates []routing.CandidateProvider, extras strategy.Extras, exec *executor.Executor, entry repo.RequestLog, start time.Time) *Outcome {
	events := exec.ExecuteStream(ctx, candidates, req.Model, extras, o.forwardStreamFunc(req, source, headers))
	out := make(chan StreamItem)
	go o.pumpStream(ctx, events, source, sourceCodec, req.Model, entry, start, out)
	return &Outcome{IsStream: true, Headers: map[string]string{}, Stream: out}
}

// pumpStream drains one executor.StreamEvent channel, translating the
// successful attempt's events through a single per-attempt
// stream.Translator (a fresh Translator per call, per its own doc comment —
// its state is scoped to one directed conversion over one upstream
// connection) and forwarding the rendered wire events to out. It owns the
// request log write for the entire streaming lifetime of the request.
func (o *Orchestrator) pumpStream(ctx context.Context, events <-chan executor.StreamEvent, source protocol.Name, sourceCodec protocol.Codec, requestedModel string, entry repo.RequestLog, start time.Time, out chan<- StreamItem) {
	defer close(out)

	var translator *stream.Translator
	var output strings.Builder
	started := false
	succeeded := false
	disconnected := false
	var errInfo string
	var finalProvider routing.CandidateProvider
	var retryCount int

loop:
	for ev := range events {
		retryCount = ev.RetryCount
		finalProvider = ev.Provider

		if !started {
			started = true
			if !ev.Response.IsSuccess() {
				errInfo = ev.Response.Error
				if errInfo == "" {
					errInfo = "all providers failed"
				}
				if rendered := renderStreamError(sourceCodec.Encoder, errInfo); rendered != nil {
					select {
					case out <- StreamItem{Event: *rendered}:
					case <-ctx.Done():
					}
				}
				break loop
			}

			targetName, err := codecNameForProviderProtocol(ev.Provider.Protocol)
			if err != nil {
				errInfo = err.Error()
				break loop
			}
			targetCodec, err := o.registry.Codec(targetName)
			if err != nil {
				errInfo = err.Error()
				break loop
			}
			translator = stream.New(targetCodec.Decoder, sourceCodec.Encoder, buildEncodeOpts(source, targetName), requestedModel)
			succeeded = true
		}

		rendered, err := translator.Feed(ev.Event)
		if err != nil {
			errInfo = err.Error()
			break loop
		}
		for _, r := range rendered {
			accumulate(&output, r)
			select {
			case out <- StreamItem{Event: r}:
			case <-ctx.Done():
				disconnected = true
				break loop
			}
		}
	}

	if succeeded && errInfo == "" && !disconnected {
		if rendered, err := translator.Feed(protocol.RawEvent{Done: true}); err == nil {
			for _, r := range rendered {
				select {
				case out <- StreamItem{Event: r}:
				case <-ctx.Done():
				}
			}
		}
	}
	if disconnected && errInfo == "" {
		errInfo = "client_disconnected"
	}

	entry.TotalTimeMs = time.Since(start).Milliseconds()
	entry.RetryCount = retryCount
	entry.ErrorInfo = errInfo
	if succeeded {
		entry.ProviderID = finalProvider.ProviderID
		entry.ProviderName = finalProvider.ProviderName
		entry.TargetModel = finalProvider.TargetModel
	}
	if translator != nil {
		entry.OutputTokens = translator.OutputTokens()
	}
	if errInfo == "" {
		entry.ResponseStatus = 200
	} else if !succeeded {
		entry.ResponseStatus = 503
	}
	preview := output.String()
	truncated := len(preview) > streamPreviewLimit
	if truncated {
		preview = preview[:streamPreviewLimit]
	}
	entry.StreamSummary = &repo.StreamSummary{OutputPreview: preview, Truncated: truncated}

	// The log write runs on a background context so the client disconnect
	// that triggered ctx.Done() can't also cancel the write recording that
	// very disconnect.
	_ = o.logs.Create(context.Background(), entry)
}

// renderStreamError encodes a best-effort mid-stream error event in the
// client's own protocol. Some protocols have no wire representation for a
// stream-level error (OpenAI Chat's SSE framing has no "error" event; a
// real OpenAI error just ends the connection) — EncodeStreamEvent returning
// an error or no events means "terminate silently", which is itself
// protocol-appropriate for a mid-flight failure.
func renderStreamError(encoder protocol.Encoder, message string) *protocol.RawEvent {
	events, err := encoder.EncodeStreamEvent(ir.StreamEvent{Type: ir.EventError, ErrorType: "upstream_error", ErrorMessage: message}, protocol.EncodeOptions{})
	if err != nil || len(events) == 0 {
		return nil
	}
	return &events[0]
}

// accumulate appends any text delta carried by a rendered wire event to sb,
// best-effort, for the log's output preview. It inspects the already-
// target-encoded JSON rather than the IR event, since that is all pumpStream
// has in hand at this point; unrecognized shapes are silently skipped.
func accumulate(sb *strings.Builder, ev protocol.RawEvent) {
	if ev.Data == nil {
		return
	}
	if ev.EventName == "response.output_text.delta" {
		if text, ok := protocol.GetString(ev.Data, "delta"); ok {
			sb.WriteString(text)
		}
		return
	}
	delta, ok := protocol.GetMap(ev.Data, "delta")
	if !ok {
		// OpenAI Chat nests its delta under choices[0].
		if choices, _ := protocol.GetSlice(ev.Data, "choices"); len(choices) > 0 {
			if choice, isMap := choices[0].(map[string]any); isMap {
				delta, ok = protocol.GetMap(choice, "delta")
			}
		}
	}
	if ok {
		if text, ok := protocol.GetString(delta, "text"); ok {
			sb.WriteString(text)
		}
		if content, ok := protocol.GetString(delta, "content"); ok {
			sb.WriteString(content)
		}
	}
}
