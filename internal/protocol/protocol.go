// Package protocol defines the closed set of wire protocols the gateway
// understands, the Decoder/Encoder contracts each one must implement, and a
// Registry gluing them together. Protocol dispatch
// is a table lookup against a closed enum — never a string-keyed map with
// an "unknown protocol" runtime surprise.
package protocol

import (
	"fmt"

	"github.com/wayfare-ai/llmgateway/internal/ir"
)

// Name is the closed set of protocols the gateway can speak.
type Name string

const (
	OpenAIChat        Name = "openai_chat"
	OpenAIResponses   Name = "openai_responses"
	AnthropicMessages Name = "anthropic_messages"

	// Gemini is never a client-facing protocol (no /v1/gemini endpoint
	// exists) — it is registered here purely as a
	// fourth *provider-side* wire format so a Gemini-backed
	// routing.CandidateProvider can be driven through the same
	// decode/translate/encode pipeline as the three client protocols,
	// instead of special-casing it outside the Registry.
	Gemini Name = "gemini"
)

// Valid reports whether n is one of the recognized protocols.
func (n Name) Valid() bool {
	switch n {
	case OpenAIChat, OpenAIResponses, AnthropicMessages, Gemini:
		return true
	default:
		return false
	}
}

// Path returns the canonical client-facing HTTP path for the protocol.
// Gemini has none; it is only ever an upstream wire format.
func (n Name) Path() string {
	switch n {
	case OpenAIChat:
		return "/v1/chat/completions"
	case OpenAIResponses:
		return "/v1/responses"
	case AnthropicMessages:
		return "/v1/messages"
	default:
		return ""
	}
}

// EncodeOptions carries target-protocol-specific knobs an encoder needs
// beyond what the IR itself holds — e.g. whether to inject a default
// max_tokens, or the opaque continuation blob for round-tripping
// provider-specific blobs (thought signatures, etc.) across requests.
type EncodeOptions struct {
	// SourceWasAnthropic is true when the IR was decoded from an Anthropic
	// request. None of the encoders in this repository read it; the
	// Anthropic max_tokens default is driven by AllowMaxTokensDefault.
	SourceWasAnthropic bool

	// AllowMaxTokensDefault permits the Anthropic encoder to inject
	// DefaultMaxTokens when the IR carries no max_tokens: the default is
	// injected only when the request originated from a non-Anthropic
	// source; an Anthropic-native request missing max_tokens fails.
	AllowMaxTokensDefault bool

	// ContinuationBlob is an opaque, provider-specific value retrieved from
	// the continuation store (see internal/kvstore) to attach to an
	// outgoing request — e.g. a Gemini "thought signature" captured from an
	// earlier response in the same tool-use loop.
	ContinuationBlob []byte
}

// DefaultMaxTokens is injected by the Anthropic encoder when the caller
// didn't specify one and the request didn't originate from Anthropic.
const DefaultMaxTokens = 4096

// Decoder turns one protocol's wire payloads into the IR.
type Decoder interface {
	// DecodeRequest parses a client request body into the IR. It returns
	// InvalidRequest (via *Error) when a required structural invariant is
	// violated.
	DecodeRequest(payload map[string]any) (*ir.Request, error)

	// DecodeResponse parses a complete upstream response body into the IR.
	DecodeResponse(payload map[string]any) (*ir.Response, error)

	// DecodeStreamEvent parses one raw upstream SSE event into zero or more
	// IR stream events. A single upstream event may expand into several IR
	// events (or none, for events carrying no IR-relevant data).
	DecodeStreamEvent(raw RawEvent) ([]ir.StreamEvent, error)
}

// Encoder turns the IR into one protocol's wire payloads.
type Encoder interface {
	// EncodeRequest renders the IR as a request body for this protocol. It
	// returns a ValidationError (via *Error) when the target protocol
	// requires a field the IR cannot supply.
	EncodeRequest(req *ir.Request, opts EncodeOptions) (map[string]any, error)

	// EncodeResponse renders the IR as a complete response body.
	EncodeResponse(resp *ir.Response, opts EncodeOptions) (map[string]any, error)

	// EncodeStreamEvent renders one IR stream event as zero or more raw
	// outgoing SSE events for this protocol.
	EncodeStreamEvent(event ir.StreamEvent, opts EncodeOptions) ([]RawEvent, error)
}

// RawEvent is one SSE event in transport-neutral form: an optional named
// "event:" line (Anthropic uses these; OpenAI does not) and the "data:"
// payload, already parsed from or ready to be serialized to JSON. A nil
// Data with Done set represents the terminal sentinel (OpenAI's literal
// "data: [DONE]").
type RawEvent struct {
	EventName string
	Data      map[string]any
	Done      bool // true only for the OpenAI "[DONE]" sentinel
}

// Codec bundles one protocol's Decoder and Encoder.
type Codec struct {
	Decoder Decoder
	Encoder Encoder
}

// Registry is an explicit, dependency-injected table of codecs — never a
// package-level singleton. Construct one with NewRegistry and register
// each codec;
// "reset for tests" is simply "build a fresh Registry".
type Registry struct {
	codecs map[Name]Codec
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[Name]Codec)}
}

// Register installs the codec for protocol n, overwriting any previous
// registration.
func (r *Registry) Register(n Name, c Codec) {
	r.codecs[n] = c
}

// Codec looks up the codec for protocol n.
func (r *Registry) Codec(n Name) (Codec, error) {
	c, ok := r.codecs[n]
	if !ok {
		return Codec{}, &Error{Code: "unsupported_protocol", Message: fmt.Sprintf("no codec registered for protocol %q", n)}
	}
	return c, nil
}

// Kind classifies an Error for HTTP-status and retry-policy mapping in the
// executor/orchestrator.
type Kind string

const (
	KindInvalidRequest       Kind = "invalid_request"
	KindValidation           Kind = "validation_error"
	KindUnsupportedProtocol  Kind = "unsupported_protocol_conversion"
	KindConversion           Kind = "conversion_error"
)

// Error is the stable, typed error every codec returns instead of relying
// on exception-for-control-flow. Code is a stable machine-readable string
// surfaced to clients.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

// NewInvalidRequest builds an invalid-request error with the given code.
func NewInvalidRequest(code, message string) *Error {
	return &Error{Kind: KindInvalidRequest, Code: code, Message: message}
}

// NewValidationError builds a target-side validation error.
func NewValidationError(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}
