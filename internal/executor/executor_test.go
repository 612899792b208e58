package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfare-ai/llmgateway/internal/routing"
	"github.com/wayfare-ai/llmgateway/internal/strategy"
	"github.com/wayfare-ai/llmgateway/internal/supplier"
)

func candidate(mappingID, providerID int64, target string, priority int) routing.CandidateProvider {
	return routing.CandidateProvider{
		MappingID:    mappingID,
		ProviderID:   providerID,
		ProviderName: target,
		TargetModel:  target,
		Protocol:     "openai",
		Priority:     priority,
	}
}

func TestExecuteUnary_RetryExhaustion(t *testing.T) {
	// Three candidates, all 500, max_retries=3: nine forward invocations
	// total and the client gets the last upstream body back.
	candidates := []routing.CandidateProvider{
		candidate(1, 1, "m1", 0),
		candidate(2, 2, "m2", 1),
		candidate(3, 3, "m3", 2),
	}
	e := New(strategy.NewPriority(), Config{MaxRetries: 3})

	calls := 0
	result := e.ExecuteUnary(context.Background(), candidates, "m", strategy.Extras{}, func(_ context.Context, c routing.CandidateProvider) (supplier.Response, error) {
		calls++
		return supplier.Response{StatusCode: 500, Body: []byte(`{"error":"` + c.TargetModel + `"}`)}, nil
	})

	assert.Equal(t, 9, calls)
	assert.False(t, result.Success)
	assert.Equal(t, 500, result.Response.StatusCode)
	assert.Equal(t, `{"error":"m3"}`, string(result.Response.Body))
}

func TestExecuteUnary_FailoverOn4xx(t *testing.T) {
	// First candidate 401, second 200: two invocations, retry_count 1.
	candidates := []routing.CandidateProvider{
		candidate(1, 1, "m1", 0),
		candidate(2, 2, "m2", 1),
	}
	e := New(strategy.NewPriority(), Config{MaxRetries: 3})

	calls := 0
	result := e.ExecuteUnary(context.Background(), candidates, "m", strategy.Extras{}, func(_ context.Context, c routing.CandidateProvider) (supplier.Response, error) {
		calls++
		if c.ProviderID == 1 {
			return supplier.Response{StatusCode: 401}, nil
		}
		return supplier.Response{StatusCode: 200, Body: []byte(`{}`)}, nil
	})

	assert.Equal(t, 2, calls)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.RetryCount)
	assert.Equal(t, int64(2), result.FinalProvider.ProviderID)
}

func TestExecuteUnary_TransportErrorCountsAsServerError(t *testing.T) {
	candidates := []routing.CandidateProvider{candidate(1, 1, "m1", 0)}
	e := New(strategy.NewPriority(), Config{MaxRetries: 2})

	calls := 0
	result := e.ExecuteUnary(context.Background(), candidates, "m", strategy.Extras{}, func(context.Context, routing.CandidateProvider) (supplier.Response, error) {
		calls++
		return supplier.Response{}, assert.AnError
	})

	assert.Equal(t, 2, calls)
	assert.False(t, result.Success)
}

func TestExecuteUnary_RetryBound(t *testing.T) {
	// Total forward invocations never exceed N x R, whatever the mix of
	// failures.
	for _, n := range []int{1, 2, 5} {
		for _, r := range []int{1, 3} {
			var candidates []routing.CandidateProvider
			for i := 1; i <= n; i++ {
				candidates = append(candidates, candidate(int64(i), int64(i), "m", i))
			}
			e := New(strategy.NewPriority(), Config{MaxRetries: r})
			calls := 0
			e.ExecuteUnary(context.Background(), candidates, "m", strategy.Extras{}, func(context.Context, routing.CandidateProvider) (supplier.Response, error) {
				calls++
				return supplier.Response{StatusCode: 503}, nil
			})
			assert.LessOrEqual(t, calls, n*r)
		}
	}
}

func TestExecuteUnary_NoCandidates(t *testing.T) {
	e := New(strategy.NewPriority(), Config{MaxRetries: 1})
	result := e.ExecuteUnary(context.Background(), nil, "m", strategy.Extras{}, func(context.Context, routing.CandidateProvider) (supplier.Response, error) {
		t.Fatal("forward must not be called with no candidates")
		return supplier.Response{}, nil
	})
	assert.False(t, result.Success)
	assert.Equal(t, 503, result.Response.StatusCode)
}

func TestExecuteUnary_SameProviderTwoMappingsBothTried(t *testing.T) {
	// Two mappings sharing provider_id but with distinct target models are
	// independently exhausted (tried-set keys on full candidate identity).
	candidates := []routing.CandidateProvider{
		candidate(1, 7, "m-fast", 0),
		candidate(2, 7, "m-slow", 1),
	}
	e := New(strategy.NewPriority(), Config{MaxRetries: 1})

	var tried []string
	e.ExecuteUnary(context.Background(), candidates, "m", strategy.Extras{}, func(_ context.Context, c routing.CandidateProvider) (supplier.Response, error) {
		tried = append(tried, c.TargetModel)
		return supplier.Response{StatusCode: 500}, nil
	})

	assert.Equal(t, []string{"m-fast", "m-slow"}, tried)
}

func streamAttempt(chunks ...supplier.Chunk) <-chan supplier.Chunk {
	ch := make(chan supplier.Chunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

func TestExecuteStream_CommitsOnFirstSuccessfulChunk(t *testing.T) {
	// Once a successful first chunk is forwarded, mid-stream trouble never
	// triggers failover: one attempt, every chunk delivered.
	candidates := []routing.CandidateProvider{
		candidate(1, 1, "m1", 0),
		candidate(2, 2, "m2", 1),
	}
	e := New(strategy.NewPriority(), Config{MaxRetries: 3})

	attempts := 0
	events := e.ExecuteStream(context.Background(), candidates, "m", strategy.Extras{}, func(context.Context, routing.CandidateProvider) (<-chan supplier.Chunk, error) {
		attempts++
		return streamAttempt(
			supplier.Chunk{Data: []byte("a"), Response: supplier.Response{StatusCode: 200}},
			supplier.Chunk{Data: []byte("b"), Response: supplier.Response{StatusCode: 200}},
		), nil
	})

	var got []string
	for ev := range events {
		got = append(got, string(ev.Data))
	}
	assert.Equal(t, 1, attempts)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestExecuteStream_FailsOverOnBadFirstChunk(t *testing.T) {
	candidates := []routing.CandidateProvider{
		candidate(1, 1, "m1", 0),
		candidate(2, 2, "m2", 1),
	}
	e := New(strategy.NewPriority(), Config{MaxRetries: 1})

	events := e.ExecuteStream(context.Background(), candidates, "m", strategy.Extras{}, func(_ context.Context, c routing.CandidateProvider) (<-chan supplier.Chunk, error) {
		if c.ProviderID == 1 {
			return streamAttempt(supplier.Chunk{Response: supplier.Response{StatusCode: 429}}), nil
		}
		return streamAttempt(supplier.Chunk{Data: []byte("ok"), Response: supplier.Response{StatusCode: 200}}), nil
	})

	var last StreamEvent
	count := 0
	for ev := range events {
		last = ev
		count++
	}
	require.Equal(t, 1, count)
	assert.True(t, last.Response.IsSuccess())
	assert.Equal(t, int64(2), last.Provider.ProviderID)
	assert.Equal(t, 1, last.RetryCount)
}

func TestExecuteStream_AllFailedYieldsTerminalEvent(t *testing.T) {
	candidates := []routing.CandidateProvider{candidate(1, 1, "m1", 0)}
	e := New(strategy.NewPriority(), Config{MaxRetries: 2})

	events := e.ExecuteStream(context.Background(), candidates, "m", strategy.Extras{}, func(context.Context, routing.CandidateProvider) (<-chan supplier.Chunk, error) {
		return streamAttempt(supplier.Chunk{Data: []byte(`{"error":"down"}`), Response: supplier.Response{StatusCode: 502}}), nil
	})

	var got []StreamEvent
	for ev := range events {
		got = append(got, ev)
	}
	require.Len(t, got, 1)
	assert.False(t, got[0].Response.IsSuccess())
	assert.Equal(t, 502, got[0].Response.StatusCode)
}
