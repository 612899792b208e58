// Package repo defines the repository interfaces the orchestrator depends
// on abstractly — which persistent store backs them is someone else's
// concern. internal/repo/memory provides in-memory reference
// implementations sufficient to run the gateway and test
// internal/orchestrator without a database.
package repo

import (
	"context"
	"time"

	"github.com/wayfare-ai/llmgateway/internal/routing"
)

// ModelRepo resolves a requested model name to its ModelMapping record.
type ModelRepo interface {
	GetMapping(ctx context.Context, requestedModel string) (*routing.ModelMapping, error)
	GetProviderMappings(ctx context.Context, requestedModel string, activeOnly bool) ([]routing.ProviderMapping, error)
}

// ProviderRepo resolves a Provider by id.
type ProviderRepo interface {
	GetByID(ctx context.Context, id int64) (*routing.Provider, error)
}

// RequestLog is the record written exactly once per request on
// termination (success, failure, or client disconnect).
type RequestLog struct {
	RequestTime         time.Time
	APIKeyID            string
	RequestedModel      string
	TargetModel         string
	ProviderID           int64
	ProviderName         string
	RetryCount           int
	MatchedProviderCount int
	FirstByteDelayMs     int64
	TotalTimeMs          int64
	InputTokens          int
	OutputTokens         int
	RequestHeaders       map[string]string
	RequestBody          map[string]any
	ResponseStatus       int
	ResponseBody         string
	StreamSummary        *StreamSummary
	ErrorInfo            string
	TraceID              string
	IsStream             bool
}

// StreamSummary is the response_body shape recorded for streamed
// requests: a preview of the assembled output plus whether it was
// truncated before being recorded.
type StreamSummary struct {
	OutputPreview string
	Truncated     bool
}

// LogRepo persists one RequestLog per completed request.
type LogRepo interface {
	Create(ctx context.Context, entry RequestLog) error
}
