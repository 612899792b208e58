// Package supplier defines the wire-level contract between the retry/
// failover executor and a concrete upstream HTTP client. Concrete clients
// (OpenAI, Anthropic, Gemini) live alongside this file; this file holds
// only the shared contract every client and the executor agree on.
package supplier

import (
	"context"

	"github.com/wayfare-ai/llmgateway/internal/protocol"
)

// ResponseMode selects whether Forward returns a parsed JSON body or the
// raw upstream bytes untouched. Non-identity protocol conversions need the
// parsed form to translate; identity passthrough only needs raw bytes.
type ResponseMode string

const (
	ResponseModeParsed ResponseMode = "parsed"
	ResponseModeRaw    ResponseMode = "raw"
)

// Request is everything a Client needs to forward one attempt upstream.
type Request struct {
	BaseURL      string
	APIKey       string
	Path         string
	Method       string
	Headers      map[string]string
	Body         []byte
	TargetModel  string
	ResponseMode ResponseMode
	ExtraHeaders map[string]string
	ProxyURL     string
}

// Response is the normalized result of one upstream call.
type Response struct {
	StatusCode       int
	Headers          map[string]string
	Body             []byte
	ParsedBody       map[string]any
	Error            string
	FirstByteDelayMs int64
	TotalTimeMs      int64
}

// IsSuccess reports 200 <= StatusCode < 300.
func (r Response) IsSuccess() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// IsServerError reports StatusCode >= 500.
func (r Response) IsServerError() bool { return r.StatusCode >= 500 }

// Chunk is one piece of a streaming upstream response: the raw SSE bytes
// received, the same bytes already parsed into a protocol.RawEvent (so
// internal/stream's Translator can consume it without re-parsing), plus the
// Response describing the call so far (status/headers are known from the
// first chunk onward; later chunks carry the same Response unless the
// upstream framing changes it).
type Chunk struct {
	Data     []byte
	Event    protocol.RawEvent
	Response Response
}

// Client is the contract every concrete supplier adapter implements.
// Forward is the unary path; ForwardStream returns a channel of Chunks
// whose first value establishes the terminal status code and headers.
type Client interface {
	Forward(ctx context.Context, req Request) (Response, error)
	ForwardStream(ctx context.Context, req Request) (<-chan Chunk, error)
}
