// Package executor implements the retry/failover executor: same-candidate
// retry on 5xx up to MaxRetries with RetryDelayMs between attempts,
// immediate failover on 4xx, exhaustion returns the last response or a
// synthesized 503.
package executor

import (
	"context"
	"time"

	"github.com/wayfare-ai/llmgateway/internal/protocol"
	"github.com/wayfare-ai/llmgateway/internal/routing"
	"github.com/wayfare-ai/llmgateway/internal/strategy"
	"github.com/wayfare-ai/llmgateway/internal/supplier"
)

// Config holds the retry policy.
type Config struct {
	MaxRetries   int
	RetryDelayMs int
}

// Result is the outcome of one ExecuteUnary call.
type Result struct {
	Response     supplier.Response
	RetryCount   int
	FinalProvider routing.CandidateProvider
	Success      bool
}

// ForwardFunc performs one unary attempt against a candidate.
type ForwardFunc func(ctx context.Context, candidate routing.CandidateProvider) (supplier.Response, error)

// ForwardStreamFunc performs one streaming attempt against a candidate,
// returning a channel whose first value establishes success/failure.
type ForwardStreamFunc func(ctx context.Context, candidate routing.CandidateProvider) (<-chan supplier.Chunk, error)

// StreamEvent is one item yielded by ExecuteStream: the chunk bytes, the
// Response describing the call so far, which candidate produced it, and
// the cumulative retry count.
type StreamEvent struct {
	Data       []byte
	Event      protocol.RawEvent
	Response   supplier.Response
	Provider   routing.CandidateProvider
	RetryCount int
}

// Executor drives one request through a candidate sequence using a
// selection Strategy.
type Executor struct {
	strategy strategy.Strategy
	config   Config
}

func New(s strategy.Strategy, cfg Config) *Executor {
	return &Executor{strategy: s, config: cfg}
}

func noProvidersResponse() supplier.Response {
	return supplier.Response{StatusCode: 503, Error: "No available providers"}
}

func allFailedResponse() supplier.Response {
	return supplier.Response{StatusCode: 503, Error: "All providers failed"}
}

// ExecuteUnary drives one unary request through the candidate sequence.
func (e *Executor) ExecuteUnary(
	ctx context.Context,
	candidates []routing.CandidateProvider,
	model string,
	extras strategy.Extras,
	forward ForwardFunc,
) Result {
	if len(candidates) == 0 {
		return Result{Response: noProvidersResponse()}
	}

	tried := strategy.Tried{}
	totalRetries := 0
	var lastResponse supplier.Response
	var lastProvider routing.CandidateProvider
	haveLastResponse := false

	current, ok := e.strategy.Select(candidates, model, extras)
	if !ok {
		return Result{Response: noProvidersResponse()}
	}

	for ok {
		tried[current.Identity()] = struct{}{}
		lastProvider = current

		sameProviderRetries := 0
		for sameProviderRetries < e.config.MaxRetries {
			resp, err := forward(ctx, current)
			if err != nil {
				resp = supplier.Response{StatusCode: 0, Error: err.Error()}
			}
			lastResponse = resp
			haveLastResponse = true

			if resp.IsSuccess() {
				return Result{Response: resp, RetryCount: totalRetries, FinalProvider: current, Success: true}
			}

			if resp.IsServerError() || err != nil {
				sameProviderRetries++
				totalRetries++
				if sameProviderRetries < e.config.MaxRetries {
					sleep(ctx, e.config.RetryDelayMs)
					continue
				}
				break
			}

			// 4xx: immediate failover, no same-candidate retry.
			totalRetries++
			break
		}

		current, ok = e.strategy.GetNext(candidates, model, tried, extras)
	}

	if !haveLastResponse {
		lastResponse = allFailedResponse()
	}
	return Result{Response: lastResponse, RetryCount: totalRetries, FinalProvider: lastProvider, Success: false}
}

// ExecuteStream drives one streaming request through the candidate
// sequence. The success/failure decision is made on the first chunk of
// each attempt; once a successful first chunk has been forwarded, no
// further failover happens even if the stream later errors.
func (e *Executor) ExecuteStream(
	ctx context.Context,
	candidates []routing.CandidateProvider,
	model string,
	extras strategy.Extras,
	forwardStream ForwardStreamFunc,
) <-chan StreamEvent {
	out := make(chan StreamEvent)

	go func() {
		defer close(out)

		if len(candidates) == 0 {
			out <- StreamEvent{Response: noProvidersResponse()}
			return
		}

		tried := strategy.Tried{}
		totalRetries := 0
		var lastChunk []byte
		var lastEvent protocol.RawEvent
		var lastResponse supplier.Response
		var lastProvider routing.CandidateProvider
		haveLastResponse := false

		current, ok := e.strategy.Select(candidates, model, extras)
		if !ok {
			out <- StreamEvent{Response: noProvidersResponse()}
			return
		}

		for ok {
			tried[current.Identity()] = struct{}{}
			lastProvider = current

			sameProviderRetries := 0
			succeeded := false

		retryLoop:
			for sameProviderRetries < e.config.MaxRetries {
				ch, err := forwardStream(ctx, current)
				if err != nil {
					sameProviderRetries++
					totalRetries++
					if sameProviderRetries < e.config.MaxRetries {
						sleep(ctx, e.config.RetryDelayMs)
						continue
					}
					break
				}

				first, chOk := <-ch
				if !chOk {
					sameProviderRetries++
					totalRetries++
					if sameProviderRetries < e.config.MaxRetries {
						sleep(ctx, e.config.RetryDelayMs)
						continue
					}
					break
				}

				lastChunk = first.Data
				lastEvent = first.Event
				lastResponse = first.Response
				haveLastResponse = true

				if first.Response.IsSuccess() {
					out <- StreamEvent{Data: first.Data, Event: first.Event, Response: first.Response, Provider: current, RetryCount: totalRetries}
					for chunk := range ch {
						out <- StreamEvent{Data: chunk.Data, Event: chunk.Event, Response: chunk.Response, Provider: current, RetryCount: totalRetries}
					}
					succeeded = true
					break retryLoop
				}

				// Drain the rest of this failed attempt's channel so the
				// producer goroutine (if any) doesn't leak.
				for range ch {
				}

				if first.Response.IsServerError() {
					sameProviderRetries++
					totalRetries++
					if sameProviderRetries < e.config.MaxRetries {
						sleep(ctx, e.config.RetryDelayMs)
						continue
					}
					break
				}

				totalRetries++
				break
			}

			if succeeded {
				return
			}

			current, ok = e.strategy.GetNext(candidates, model, tried, extras)
		}

		if !haveLastResponse {
			lastResponse = allFailedResponse()
		}
		out <- StreamEvent{Data: lastChunk, Event: lastEvent, Response: lastResponse, Provider: lastProvider, RetryCount: totalRetries}
	}()

	return out
}

func sleep(ctx context.Context, ms int) {
	if ms <= 0 {
		return
	}
	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
