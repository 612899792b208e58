package ir

import "testing"

func TestMessageTextContent(t *testing.T) {
	m := Message{
		Role: RoleAssistant,
		Content: []ContentBlock{
			NewTextBlock("Hello, "),
			NewToolUseBlock("toolu_1", "lookup", map[string]any{"q": "x"}),
			NewTextBlock("world"),
		},
	}

	if got := m.TextContent(); got != "Hello, world" {
		t.Fatalf("TextContent() = %q, want %q", got, "Hello, world")
	}

	calls := m.ToolCalls()
	if len(calls) != 1 || calls[0].ToolID != "toolu_1" {
		t.Fatalf("ToolCalls() = %+v, want one call with id toolu_1", calls)
	}
}

func TestResponseHasToolUse(t *testing.T) {
	withTool := Response{Content: []ContentBlock{NewTextBlock("hi"), NewToolUseBlock("t1", "f", nil)}}
	if !withTool.HasToolUse() {
		t.Fatal("expected HasToolUse() true when a ToolUse block is present")
	}

	withoutTool := Response{Content: []ContentBlock{NewTextBlock("hi")}}
	if withoutTool.HasToolUse() {
		t.Fatal("expected HasToolUse() false when no ToolUse block is present")
	}
}

func TestUsageTotal(t *testing.T) {
	u := Usage{InputTokens: 10, OutputTokens: 5}
	if got := u.Total(); got != 15 {
		t.Fatalf("Total() = %d, want 15 (derived)", got)
	}

	u2 := Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 999, HasTotalTokens: true}
	if got := u2.Total(); got != 999 {
		t.Fatalf("Total() = %d, want 999 (explicit)", got)
	}
}

func TestPartialToolUseBlock(t *testing.T) {
	b := NewPartialToolUseBlock("toolu_A", "lookup", "{\"x\":1")
	if !b.HasPartialArguments() {
		t.Fatal("expected HasPartialArguments() true")
	}
	if b.PartialArguments != "{\"x\":1" {
		t.Fatalf("PartialArguments = %q", b.PartialArguments)
	}

	zero := ContentBlock{Kind: BlockToolUse, ToolID: "t"}
	if zero.HasPartialArguments() {
		t.Fatal("expected HasPartialArguments() false for a block built without it")
	}
}

func TestUnknownContentBlockKindIsSkippedNotFailed(t *testing.T) {
	// Downstream code must treat unrecognized Kind values as "skip", never
	// panic or error — simulate an IR value holding a future block type.
	msg := Message{Role: RoleUser, Content: []ContentBlock{{Kind: "future_kind"}, NewTextBlock("ok")}}
	if got := msg.TextContent(); got != "ok" {
		t.Fatalf("TextContent() = %q, want %q (unknown kind skipped)", got, "ok")
	}
}
