// Package stream implements the per-direction stateful stream translator
// that sits between one protocol's Decoder and another's Encoder: one
// source protocol's raw events decode into the IR, and the IR re-encodes
// as the target protocol's raw events, with framing synthesized where the
// two protocols disagree.
package stream

import (
	"strings"

	"github.com/wayfare-ai/llmgateway/internal/ir"
	"github.com/wayfare-ai/llmgateway/internal/protocol"
)

// Translator holds a stream translation's one-shot latches and index
// bookkeeping: message_start/content_block_stop/message_stop are
// synthesized exactly once regardless of how the source
// protocol frames its own events, and tool-call ids are reassigned to a
// monotonically increasing index for target protocols (like OpenAI) that
// address tool calls by position rather than id.
type Translator struct {
	source protocol.Decoder
	target protocol.Encoder
	opts   protocol.EncodeOptions

	// fallback identity used to synthesize a message_start when the source
	// protocol's framing never supplies one.
	fallbackModel string

	sentMessageStart      bool
	sentContentBlockStart bool
	contentBlockStopped   bool
	sentMessageStop       bool
	sentDone              bool

	nextToolIndex int
	indexRemap    map[int]int // decode-reported index -> translator-assigned index

	accumulated    strings.Builder
	sawUsage       bool
	reportedOutput int
}

// New constructs a Translator for one directed conversion. fallbackModel is
// used only when the source protocol's stream never itself reports a model
// name (a defensive fallback; all three supported protocols do report one).
func New(source protocol.Decoder, target protocol.Encoder, opts protocol.EncodeOptions, fallbackModel string) *Translator {
	return &Translator{
		source:        source,
		target:        target,
		opts:          opts,
		fallbackModel: fallbackModel,
		indexRemap:    make(map[int]int),
	}
}

// Feed decodes one raw upstream event, applies the framing-synthesis and
// tool-index-reassignment rules, and encodes the result into zero or more
// raw outgoing events for the target protocol.
func (t *Translator) Feed(raw protocol.RawEvent) ([]protocol.RawEvent, error) {
	events, err := t.source.DecodeStreamEvent(raw)
	if err != nil {
		return nil, err
	}

	var out []protocol.RawEvent
	for _, ev := range events {
		for _, synthesized := range t.normalize(ev, raw) {
			rendered, err := t.target.EncodeStreamEvent(synthesized, t.opts)
			if err != nil {
				return out, err
			}
			out = append(out, rendered...)
		}
	}
	return out, nil
}

// normalize applies the one-shot latches and index remapping to a single
// decoded IR event, returning the (possibly preceded-by-synthesized-events)
// sequence that should actually be forwarded.
func (t *Translator) normalize(ev ir.StreamEvent, raw protocol.RawEvent) []ir.StreamEvent {
	var out []ir.StreamEvent

	needsStart := ev.Type != ir.EventMessageStart && ev.Type != ir.EventPing && !t.sentMessageStart
	if needsStart {
		out = append(out, ir.StreamEvent{Type: ir.EventMessageStart, Response: t.syntheticResponse(raw)})
		t.sentMessageStart = true
	}

	switch ev.Type {
	case ir.EventMessageStart:
		if t.sentMessageStart {
			return out // already latched (possibly by the synthesis above)
		}
		t.sentMessageStart = true
		out = append(out, ev)

	case ir.EventContentBlockStart:
		idx := t.assignIndex(ev.Index, ev.ContentBlock)
		ev.Index = idx
		if idx == 0 {
			t.sentContentBlockStart = true
		}
		out = append(out, ev)

	case ir.EventContentBlockDelta:
		// Synthesize a text content_block_start only when the raw index was
		// never announced by the source at all. The index may already be
		// registered under a remapped tool slot (a stream that opens
		// straight into a tool_use block at native index 0); fabricating a
		// text block there would invent a content item the source never had.
		if _, seen := t.indexRemap[ev.Index]; !seen && ev.Index == 0 {
			out = append(out, ir.StreamEvent{Type: ir.EventContentBlockStart, Index: 0, ContentBlock: &ir.ContentBlock{Kind: ir.BlockText}})
			t.sentContentBlockStart = true
			t.indexRemap[0] = 0
		}
		ev.Index = t.remapIndex(ev.Index)
		if ev.DeltaType == ir.DeltaText || ev.DeltaType == ir.DeltaThinking {
			t.accumulated.WriteString(ev.DeltaText)
		}
		out = append(out, ev)

	case ir.EventContentBlockStop:
		ev.Index = t.remapIndex(ev.Index)
		if ev.Index == 0 {
			t.contentBlockStopped = true
		}
		out = append(out, ev)

	case ir.EventMessageDelta:
		// Hold pattern: a source that never itself emits content_block_stop
		// (OpenAI's single finish_reason chunk) needs one synthesized before
		// the terminal message_delta, matching Anthropic's three-event
		// terminator sequence.
		if t.sentContentBlockStart && !t.contentBlockStopped {
			out = append(out, ir.StreamEvent{Type: ir.EventContentBlockStop, Index: 0})
			t.contentBlockStopped = true
		}
		if ev.Usage != nil {
			t.sawUsage = true
			if ev.Usage.OutputTokens > t.reportedOutput {
				t.reportedOutput = ev.Usage.OutputTokens
			}
		}
		if ev.HasStopReason && !t.sawUsage && t.accumulated.Len() > 0 {
			approx := approxTokenCount(t.accumulated.String())
			ev.Usage = &ir.Usage{OutputTokens: approx}
		}
		out = append(out, ev)

	case ir.EventMessageStop:
		if t.sentMessageStop {
			return out
		}
		t.sentMessageStop = true
		out = append(out, ev)

	case ir.EventDone:
		// The source's own terminator and the orchestrator's end-of-channel
		// nudge both arrive here; the target terminator goes out once.
		if t.sentDone {
			return out
		}
		t.sentDone = true
		out = append(out, ev)

	default:
		out = append(out, ev)
	}

	return out
}

// OutputTokens reports the stream's output token count: the upstream's own
// figure when one was seen, otherwise the accumulated-text estimate.
func (t *Translator) OutputTokens() int {
	if t.sawUsage {
		return t.reportedOutput
	}
	return approxTokenCount(t.accumulated.String())
}

// assignIndex records a fresh translator-assigned index for a tool_use
// content block's decode-reported index (which may be id-addressed in the
// source protocol), and passes text blocks through as index 0.
func (t *Translator) assignIndex(decodeIndex int, block *ir.ContentBlock) int {
	if block != nil && block.Kind == ir.BlockToolUse {
		t.nextToolIndex++
		assigned := t.nextToolIndex
		t.indexRemap[decodeIndex] = assigned
		return assigned
	}
	t.indexRemap[decodeIndex] = 0
	return 0
}

func (t *Translator) remapIndex(decodeIndex int) int {
	if assigned, ok := t.indexRemap[decodeIndex]; ok {
		return assigned
	}
	return decodeIndex
}

// syntheticResponse builds a best-effort Response for a message_start the
// translator must inject because the source protocol's own framing never
// supplies one (OpenAI Chat has no dedicated start event). It looks for
// top-level "id"/"model" fields, present on every OpenAI Chat/Responses
// event, before falling back to the translator's configured model.
func (t *Translator) syntheticResponse(raw protocol.RawEvent) *ir.Response {
	resp := &ir.Response{Model: t.fallbackModel}
	if raw.Data == nil {
		return resp
	}
	if id, ok := protocol.GetString(raw.Data, "id"); ok {
		resp.ID = id
	}
	if model, ok := protocol.GetString(raw.Data, "model"); ok && model != "" {
		resp.Model = model
	}
	return resp
}

// approxTokenCount is the fallback output-token estimator used when the
// upstream stream terminates without reporting usage: roughly 4 characters
// per token, the usual order-of-magnitude heuristic when no real tokenizer
// is available.
func approxTokenCount(text string) int {
	n := len(strings.TrimSpace(text))
	if n == 0 {
		return 0
	}
	count := n / 4
	if count == 0 {
		count = 1
	}
	return count
}
