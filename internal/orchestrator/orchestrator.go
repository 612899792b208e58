// Package orchestrator implements the end-to-end request pipeline: decode
// the client's protocol, resolve routing entities, evaluate rules, select
// a candidate via a strategy, drive the retry/failover executor, translate
// the response back, and record exactly one request log per request.
package orchestrator

import (
	"context"
	"net/http"
	"time"

	"github.com/wayfare-ai/llmgateway/internal/executor"
	"github.com/wayfare-ai/llmgateway/internal/ir"
	"github.com/wayfare-ai/llmgateway/internal/kvstore"
	"github.com/wayfare-ai/llmgateway/internal/protocol"
	"github.com/wayfare-ai/llmgateway/internal/repo"
	"github.com/wayfare-ai/llmgateway/internal/routing"
	"github.com/wayfare-ai/llmgateway/internal/rules"
	"github.com/wayfare-ai/llmgateway/internal/strategy"
	"github.com/wayfare-ai/llmgateway/internal/supplier"
)

// RetryConfig is an alias of executor.Config, exported here so callers
// building an Orchestrator don't need to import internal/executor just to
// name the retry knobs.
type RetryConfig = executor.Config

// Orchestrator wires every collaborator the request pipeline touches.
type Orchestrator struct {
	registry  *protocol.Registry
	suppliers *supplier.Registry
	models    repo.ModelRepo
	providers repo.ProviderRepo
	logs      repo.LogRepo
	retry     RetryConfig
	engine    routing.Engine

	// continuations is the optional provider-continuation store; nil means
	// continuation blobs are not carried across requests. See
	// UseContinuationStore.
	continuations kvstore.Store

	roundRobin strategy.Strategy
	priority   strategy.Strategy
	costFirst  strategy.Strategy
}

// New constructs an Orchestrator. The three strategy instances are built
// once and shared across every request, so their per-model counters
// survive between dispatches.
func New(registry *protocol.Registry, suppliers *supplier.Registry, models repo.ModelRepo, providers repo.ProviderRepo, logs repo.LogRepo, retry RetryConfig) *Orchestrator {
	return &Orchestrator{
		registry:   registry,
		suppliers:  suppliers,
		models:     models,
		providers:  providers,
		logs:       logs,
		retry:      retry,
		engine:     routing.NewEngine(),
		roundRobin: strategy.NewRoundRobin(),
		priority:   strategy.NewPriority(),
		costFirst:  strategy.NewCostFirst(),
	}
}

// StreamItem is one item the streaming path hands back to the HTTP layer:
// either a wire-ready event to write, or a terminal error to log and stop
// on. Err is set at most once, on the final item.
type StreamItem struct {
	Event protocol.RawEvent
	Err   error
}

// Outcome is the protocol-neutral result of Handle, ready for the HTTP
// layer to render: either a JSON body (unary) or a channel of wire events
// (streaming). The caller decides transport framing; Outcome never touches
// an http.ResponseWriter directly so it stays testable without one.
type Outcome struct {
	StatusCode int
	Headers    map[string]string
	Body       map[string]any
	IsStream   bool
	Stream     <-chan StreamItem
}

func errorOutcome(status int, code, message string, headers map[string]string) *Outcome {
	return &Outcome{
		StatusCode: status,
		Headers:    headers,
		Body: map[string]any{
			"error": map[string]any{"code": code, "message": message},
		},
	}
}

// Handle runs the full pipeline for one client request. It never returns
// a non-nil error for a client-facing failure (validation, routing,
// upstream exhaustion, …) — those all come back as a non-nil *Outcome with
// an appropriate status code. A returned error means one of the
// orchestrator's own repositories failed; KV store failures never
// surface here (a missing continuation blob is simply not attached).
func (o *Orchestrator) Handle(ctx context.Context, source protocol.Name, headers map[string]string, body map[string]any) (*Outcome, error) {
	entry := repo.RequestLog{
		RequestTime:    time.Now(),
		APIKeyID:       apiKeyID(headers),
		RequestHeaders: redactHeaders(headers),
		RequestBody:    body,
		TraceID:        traceID(headers),
	}
	start := time.Now()

	codec, err := o.registry.Codec(source)
	if err != nil {
		return o.finishUnary(entry, start, errorOutcome(http.StatusBadRequest, "unsupported_protocol_conversion", err.Error(), nil)), nil
	}

	// Step 1: decode the client's protocol tag and body; reject if no model.
	req, err := codec.Decoder.DecodeRequest(body)
	if err != nil {
		return o.finishUnary(entry, start, decodeErrorOutcome(err)), nil
	}
	entry.RequestedModel = req.Model
	entry.IsStream = req.Stream

	if req.Model == "" {
		return o.finishUnary(entry, start, errorOutcome(http.StatusBadRequest, "missing_model", "request must specify a model", nil)), nil
	}

	// Step 2: load the model mapping; reject if missing or inactive.
	mapping, err := o.models.GetMapping(ctx, req.Model)
	if err != nil {
		return nil, err
	}
	if mapping == nil || !mapping.IsActive {
		return o.finishUnary(entry, start, errorOutcome(http.StatusNotFound, "model_not_found", "no active model mapping for "+req.Model, nil)), nil
	}

	// Step 3: load the mapping's active provider mappings; join with providers.
	providerMappings, err := o.models.GetProviderMappings(ctx, req.Model, true)
	if err != nil {
		return nil, err
	}
	providers, err := o.loadProviders(ctx, providerMappings)
	if err != nil {
		return nil, err
	}

	// Step 4: count input tokens; build a rule context.
	inputTokens := approxInputTokens(req)
	entry.InputTokens = inputTokens
	ruleCtx := rules.Context{
		CurrentModel: req.Model,
		Headers:      headers,
		RequestBody:  body,
		TokenUsage:   rules.TokenUsage{InputTokens: inputTokens},
	}

	// Step 5: evaluate rules to get candidates.
	candidates := o.engine.Evaluate(ruleCtx, *mapping, providerMappings, providers)
	entry.MatchedProviderCount = len(candidates)
	if len(candidates) == 0 {
		return o.finishUnary(entry, start, errorOutcome(http.StatusServiceUnavailable, "no_available_provider", "no candidate provider matched the current rules", nil)), nil
	}

	// Step 6: select strategy.
	strat := o.strategyFor(mapping.Strategy)
	extras := strategy.Extras{InputTokens: inputTokens}
	exec := executor.New(strat, o.retry)

	if req.Stream {
		return o.handleStream(ctx, source, codec, req, headers, candidates, extras, exec, entry, start), nil
	}
	return o.handleUnary(ctx, source, req, headers, candidates, extras, exec, entry, start), nil
}

func (o *Orchestrator) loadProviders(ctx context.Context, mappings []routing.ProviderMapping) (map[int64]routing.Provider, error) {
	out := make(map[int64]routing.Provider, len(mappings))
	for _, pm := range mappings {
		if _, ok := out[pm.ProviderID]; ok {
			continue
		}
		p, err := o.providers.GetByID(ctx, pm.ProviderID)
		if err != nil {
			return nil, err
		}
		if p != nil {
			out[pm.ProviderID] = *p
		}
	}
	return out, nil
}

func (o *Orchestrator) strategyFor(s routing.Strategy) strategy.Strategy {
	switch s {
	case routing.RoundRobin:
		return o.roundRobin
	case routing.CostFirst:
		return o.costFirst
	default:
		return o.priority
	}
}

// handleUnary is the non-streaming tail of Handle's pipeline: the forward
// closure only translates the request and delegates to the supplier; the
// response is translated back exactly once, after the executor has settled
// on success or exhaustion, since retries/failover never need to see a
// decoded response.
func (o *Orchestrator) handleUnary(ctx context.Context, source protocol.Name, req *ir.Request, headers map[string]string, candidates []routing.CandidateProvider, extras strategy.Extras, exec *executor.Executor, entry repo.RequestLog, start time.Time) *Outcome {
	result := exec.ExecuteUnary(ctx, candidates, req.Model, extras, o.forwardFunc(req, source, headers))

	entry.RetryCount = result.RetryCount
	entry.ResponseStatus = result.Response.StatusCode
	entry.FirstByteDelayMs = result.Response.FirstByteDelayMs
	entry.TotalTimeMs = result.Response.TotalTimeMs
	if result.Success {
		entry.ProviderID = result.FinalProvider.ProviderID
		entry.ProviderName = result.FinalProvider.ProviderName
		entry.TargetModel = result.FinalProvider.TargetModel
	}
	if !result.Success {
		entry.ErrorInfo = result.Response.Error
	}

	if result.Success {
		o.storeContinuation(ctx, headers, result)
	}
	outcome, usage := o.buildUnaryOutcome(source, result)
	if usage != nil {
		entry.OutputTokens = usage.OutputTokens
		if usage.InputTokens > 0 {
			entry.InputTokens = usage.InputTokens
		}
	}
	return o.finishUnary(entry, start, outcome)
}

func (o *Orchestrator) finishUnary(entry repo.RequestLog, start time.Time, outcome *Outcome) *Outcome {
	entry.TotalTimeMs = time.Since(start).Milliseconds()
	if outcome != nil {
		entry.ResponseStatus = outcome.StatusCode
		entry.ResponseBody = previewJSON(outcome.Body)
	}
	// The log write runs on a background context so a client disconnect
	// racing the final write can't drop it.
	_ = o.logs.Create(context.Background(), entry)
	return outcome
}
