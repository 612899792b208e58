// Package ir defines the protocol-neutral intermediate representation that
// every protocol codec decodes into and encodes out of. Nothing in this
// package knows about OpenAI or Anthropic wire shapes — it is the single
// meeting point all three protocols translate through.
package ir

// Role is the unified message role across all supported protocols.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// StopReason is the unified completion/finish reason.
type StopReason string

const (
	StopEndTurn       StopReason = "end_turn"
	StopMaxTokens     StopReason = "max_tokens"
	StopSequence      StopReason = "stop_sequence"
	StopToolUse       StopReason = "tool_use"
	StopContentFilter StopReason = "content_filter"
	StopError         StopReason = "error"
)

// ImageSource identifies how an image block's bytes are carried.
type ImageSource string

const (
	ImageSourceURL    ImageSource = "url"
	ImageSourceBase64 ImageSource = "base64"
)

// ToolChoiceType mirrors the tool-choice vocabulary shared by the protocols.
type ToolChoiceType string

const (
	ToolChoiceAuto     ToolChoiceType = "auto"
	ToolChoiceNone     ToolChoiceType = "none"
	ToolChoiceAny      ToolChoiceType = "any"
	ToolChoiceSpecific ToolChoiceType = "specific"
)

// ContentBlockKind tags which concrete type a ContentBlock holds. Downstream
// code must switch on Kind and skip unrecognized values rather than fail —
// new block types must never break old encoders.
type ContentBlockKind string

const (
	BlockText       ContentBlockKind = "text"
	BlockImage      ContentBlockKind = "image"
	BlockAudio      ContentBlockKind = "audio"
	BlockDocument   ContentBlockKind = "document"
	BlockToolUse    ContentBlockKind = "tool_use"
	BlockToolResult ContentBlockKind = "tool_result"
	BlockThinking   ContentBlockKind = "thinking"
)

// ContentBlock is a tagged sum of every content-block shape the IR
// carries. Only the fields relevant to Kind are populated; the rest are
// zero values. Go has no native sum type, so callers must switch on Kind
// and never assume a field is set.
type ContentBlock struct {
	Kind ContentBlockKind

	// Text (Kind == BlockText)
	Text      string
	Citations []Citation

	// Image / Audio / Document shared source fields
	Source     ImageSource // url or base64
	URL        string
	Base64Data string
	MediaType  string
	Detail     string // OpenAI-specific: auto, low, high (image only)
	Title      string // document only
	Context    string // document only

	// ToolUse (Kind == BlockToolUse)
	ToolID            string
	ToolName          string
	ToolInput         map[string]any
	PartialArguments  string // accumulated JSON fragment while streaming
	hasPartialArgs    bool

	// ToolResult (Kind == BlockToolResult)
	ToolUseID       string
	ResultText      string         // used when the result content is a plain string
	ResultBlocks    []ContentBlock // used when the result content is a nested block sequence
	ResultIsBlocks  bool
	IsError         bool

	// Thinking (Kind == BlockThinking)
	Thinking       string
	Signature      string
	IsRedacted     bool
	RedactedData   string
}

// Citation is a source citation attached to a text block.
type Citation struct {
	Raw map[string]any
}

// HasPartialArguments reports whether PartialArguments was explicitly set,
// distinguishing "no arguments yet" from "empty-string arguments".
func (c ContentBlock) HasPartialArguments() bool { return c.hasPartialArgs }

// NewToolUseBlock builds a ToolUse content block with input already parsed.
func NewToolUseBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Kind: BlockToolUse, ToolID: id, ToolName: name, ToolInput: input}
}

// NewPartialToolUseBlock builds a ToolUse block mid-stream, carrying the raw
// JSON fragment accumulated so far instead of a parsed input map.
func NewPartialToolUseBlock(id, name, partialJSON string) ContentBlock {
	return ContentBlock{Kind: BlockToolUse, ToolID: id, ToolName: name, PartialArguments: partialJSON, hasPartialArgs: true}
}

// NewTextBlock builds a Text content block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Kind: BlockText, Text: text}
}

// NewToolResultBlock builds a ToolResult block whose content is plain text.
func NewToolResultBlock(toolUseID, text string, isError bool) ContentBlock {
	return ContentBlock{Kind: BlockToolResult, ToolUseID: toolUseID, ResultText: text, IsError: isError}
}

// Message is one turn in the conversation.
type Message struct {
	Role    Role
	Content []ContentBlock
	Name    string
}

// TextContent concatenates every Text block in the message, in order.
func (m Message) TextContent() string {
	var sb []byte
	for _, b := range m.Content {
		if b.Kind == BlockText {
			sb = append(sb, b.Text...)
		}
	}
	return string(sb)
}

// ToolCalls returns every ToolUse block in the message.
func (m Message) ToolCalls() []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Content {
		if b.Kind == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// ToolDeclaration is a unified tool/function declaration (JSON-Schema
// parameters, protocol-neutral).
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  map[string]any
	Strict      bool
}

// ToolChoice is the unified tool-choice configuration.
type ToolChoice struct {
	Type             ToolChoiceType
	Name             string // for ToolChoiceSpecific
	DisableParallel  bool
}

// GenerationConfig holds sampling/limits parameters shared across protocols.
// Pointer fields distinguish "not set" from "set to the zero value".
type GenerationConfig struct {
	Temperature      *float64
	TopP             *float64
	TopK             *int
	MaxTokens        *int
	StopSequences    []string
	Seed             *int
	PresencePenalty  *float64
	FrequencyPenalty *float64
	LogProbs         *bool
	TopLogProbs      *int
	N                *int
}

// ResponseFormat is the unified structured-output configuration.
type ResponseFormat struct {
	Type       string // text, json_object, json_schema
	JSONSchema map[string]any
	SchemaName string
	Strict     bool
}

// ThinkingConfig is Anthropic's extended-thinking configuration, carried
// through the IR so other protocols can ignore or approximate it.
type ThinkingConfig struct {
	Enabled      bool
	BudgetTokens *int
}

// Request is the unified, protocol-neutral chat request.
type Request struct {
	Model            string
	Messages         []Message
	System           string
	HasSystem        bool
	GenerationConfig GenerationConfig
	Tools            []ToolDeclaration
	ToolChoice       *ToolChoice
	ResponseFormat   *ResponseFormat
	ThinkingConfig   *ThinkingConfig
	Stream           bool
	User             string

	// UnsupportedParams preserves source-only fields the IR has no typed
	// slot for, keyed by their original JSON path, so an identity-ish
	// round trip through the same protocol doesn't silently drop them.
	UnsupportedParams map[string]any
}

// Usage is the unified token-accounting record.
type Usage struct {
	InputTokens         int
	OutputTokens        int
	TotalTokens         int
	HasTotalTokens      bool
	CacheCreationTokens int
	CacheReadTokens     int
	ReasoningTokens     int
	AudioTokens         int
	Details             map[string]any
}

// Total returns TotalTokens if explicitly set, else InputTokens+OutputTokens.
func (u Usage) Total() int {
	if u.HasTotalTokens {
		return u.TotalTokens
	}
	return u.InputTokens + u.OutputTokens
}

// Response is the unified, protocol-neutral unary response.
type Response struct {
	ID           string
	Model        string
	Content      []ContentBlock
	StopReason   StopReason
	StopSequence string
	HasUsage     bool
	Usage        Usage
	Created      int64
	HasCreated   bool
}

// TextContent concatenates every Text block in the response, in order.
func (r Response) TextContent() string {
	var sb []byte
	for _, b := range r.Content {
		if b.Kind == BlockText {
			sb = append(sb, b.Text...)
		}
	}
	return string(sb)
}

// ToolCalls returns every ToolUse block in the response.
func (r Response) ToolCalls() []ContentBlock {
	var out []ContentBlock
	for _, b := range r.Content {
		if b.Kind == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// HasToolUse reports whether any content block is a tool call — encoders
// use this to force stop_reason to tool_use/tool_calls.
func (r Response) HasToolUse() bool {
	for _, b := range r.Content {
		if b.Kind == BlockToolUse {
			return true
		}
	}
	return false
}

// StreamEventType enumerates the canonical cross-protocol streaming
// vocabulary, mirroring Anthropic's event shape.
type StreamEventType string

const (
	EventMessageStart      StreamEventType = "message_start"
	EventMessageDelta      StreamEventType = "message_delta"
	EventMessageStop       StreamEventType = "message_stop"
	EventContentBlockStart StreamEventType = "content_block_start"
	EventContentBlockDelta StreamEventType = "content_block_delta"
	EventContentBlockStop  StreamEventType = "content_block_stop"
	EventPing              StreamEventType = "ping"
	EventError             StreamEventType = "error"
	EventDone              StreamEventType = "done"
)

// DeltaType discriminates what a content_block_delta event is carrying.
type DeltaType string

const (
	DeltaText      DeltaType = "text"
	DeltaInputJSON DeltaType = "input_json"
	DeltaThinking  DeltaType = "thinking"
)

// StreamEvent is the unified streaming event. Like ContentBlock, only the
// fields relevant to Type (and, for deltas, DeltaType) are populated.
type StreamEvent struct {
	Type  StreamEventType
	Index int

	// MESSAGE_START
	Response *Response

	// CONTENT_BLOCK_START
	ContentBlock *ContentBlock

	// CONTENT_BLOCK_DELTA
	DeltaType DeltaType
	DeltaText string
	DeltaJSON string

	// MESSAGE_DELTA
	HasStopReason bool
	StopReason    StopReason
	StopSequence  string
	Usage         *Usage

	// ERROR
	ErrorType    string
	ErrorMessage string
}
