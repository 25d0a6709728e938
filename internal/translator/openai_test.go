package translator

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"claudekimi/internal/models"
)

func intPtr(v int) *int {
	return &v
}

func textMessage(role, text string) models.Message {
	return models.Message{Role: role, Content: models.Content{Text: text}}
}

func blockMessage(role string, blocks ...models.Block) models.Message {
	return models.Message{Role: role, Content: models.Content{Blocks: blocks, Structured: true}}
}

func TestConvertMessagesPlainStringIdentity(t *testing.T) {
	msgs := []models.Message{
		textMessage(models.RoleUser, "hello"),
		textMessage(models.RoleAssistant, "hi there"),
	}

	out, err := ConvertMessages(msgs)
	if err != nil {
		t.Fatalf("ConvertMessages returned error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 native messages, got %d", len(out))
	}
	for i, want := range []struct{ role, content string }{
		{models.RoleUser, "hello"},
		{models.RoleAssistant, "hi there"},
	} {
		if out[i].Role != want.role {
			t.Fatalf("message %d: expected role %q, got %q", i, want.role, out[i].Role)
		}
		if out[i].Content == nil || *out[i].Content != want.content {
			t.Fatalf("message %d: expected content %q, got %v", i, want.content, out[i].Content)
		}
		if len(out[i].ToolCalls) != 0 || out[i].ToolCallID != "" {
			t.Fatalf("message %d: plain text message must not carry tool fields", i)
		}
	}
}

func TestConvertMessagesAssistantToolUse(t *testing.T) {
	msgs := []models.Message{
		blockMessage(models.RoleAssistant,
			models.Block{Type: models.BlockText, Text: "hi"},
			models.Block{Type: models.BlockToolUse, ID: "t1", Name: "f", Input: map[string]any{"x": 1}},
		),
	}

	out, err := ConvertMessages(msgs)
	if err != nil {
		t.Fatalf("ConvertMessages returned error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected exactly one native message, got %d", len(out))
	}

	msg := out[0]
	if msg.Role != models.RoleAssistant {
		t.Fatalf("expected assistant role, got %q", msg.Role)
	}
	if msg.Content == nil || *msg.Content != "hi" {
		t.Fatalf("expected content %q, got %v", "hi", msg.Content)
	}
	if len(msg.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(msg.ToolCalls))
	}
	call := msg.ToolCalls[0]
	if call.ID != "t1" || call.Name != "f" {
		t.Fatalf("unexpected tool call identity: %+v", call)
	}
	if call.Arguments != `{"x":1}` {
		t.Fatalf("expected arguments %q, got %q", `{"x":1}`, call.Arguments)
	}
}

func TestConvertMessagesAssistantToolUseWithoutText(t *testing.T) {
	msgs := []models.Message{
		blockMessage(models.RoleAssistant,
			models.Block{Type: models.BlockToolUse, ID: "t1", Name: "f", Input: map[string]any{}},
		),
	}

	out, err := ConvertMessages(msgs)
	if err != nil {
		t.Fatalf("ConvertMessages returned error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 native message, got %d", len(out))
	}
	if out[0].Content != nil {
		t.Fatalf("expected nil content for text-less tool call message, got %q", *out[0].Content)
	}
}

func TestConvertMessagesToolResult(t *testing.T) {
	msgs := []models.Message{
		blockMessage(models.RoleUser,
			models.Block{Type: models.BlockToolResult, ToolUseID: "t1", Result: map[string]any{"ok": true}},
		),
	}

	out, err := ConvertMessages(msgs)
	if err != nil {
		t.Fatalf("ConvertMessages returned error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected exactly one native message, got %d", len(out))
	}

	msg := out[0]
	if msg.Role != models.RoleTool {
		t.Fatalf("expected tool role, got %q", msg.Role)
	}
	if msg.ToolCallID != "t1" {
		t.Fatalf("expected tool_call_id %q, got %q", "t1", msg.ToolCallID)
	}
	if msg.Content == nil || *msg.Content != `{"ok":true}` {
		t.Fatalf("expected content %q, got %v", `{"ok":true}`, msg.Content)
	}
}

func TestConvertMessagesToolResultStringify(t *testing.T) {
	cases := []struct {
		name   string
		result any
		want   string
	}{
		{"string passthrough", "already text", "already text"},
		{"mapping", map[string]any{"a": "b"}, `{"a":"b"}`},
		{"sequence", []any{float64(1), float64(2)}, "[1,2]"},
		{"number", float64(42), "42"},
		{"boolean", true, "true"},
		{"null", nil, "null"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgs := []models.Message{
				blockMessage(models.RoleUser,
					models.Block{Type: models.BlockToolResult, ToolUseID: "t1", Result: tc.result},
				),
			}
			out, err := ConvertMessages(msgs)
			if err != nil {
				t.Fatalf("ConvertMessages returned error: %v", err)
			}
			if len(out) != 1 || out[0].Content == nil {
				t.Fatalf("expected one tool message with content, got %+v", out)
			}
			if *out[0].Content != tc.want {
				t.Fatalf("expected content %q, got %q", tc.want, *out[0].Content)
			}
		})
	}
}

func TestConvertMessagesMultipleToolResultsPreserveOrder(t *testing.T) {
	msgs := []models.Message{
		blockMessage(models.RoleUser,
			models.Block{Type: models.BlockToolResult, ToolUseID: "t1", Result: "first"},
			models.Block{Type: models.BlockToolResult, ToolUseID: "t2", Result: "second"},
		),
	}

	out, err := ConvertMessages(msgs)
	if err != nil {
		t.Fatalf("ConvertMessages returned error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected one native message per tool result, got %d", len(out))
	}
	if out[0].ToolCallID != "t1" || out[1].ToolCallID != "t2" {
		t.Fatalf("tool results emitted out of order: %q, %q", out[0].ToolCallID, out[1].ToolCallID)
	}
}

// The tool-call branch wins when tool_use and tool_result blocks share a
// message, so the results are dropped from the native output. This pins
// the observed behaviour; changing it is a product decision.
func TestConvertMessagesToolUsePriorityDropsResults(t *testing.T) {
	msgs := []models.Message{
		blockMessage(models.RoleAssistant,
			models.Block{Type: models.BlockToolUse, ID: "t1", Name: "f", Input: map[string]any{}},
			models.Block{Type: models.BlockToolResult, ToolUseID: "t0", Result: "late"},
		),
	}

	out, err := ConvertMessages(msgs)
	if err != nil {
		t.Fatalf("ConvertMessages returned error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected the tool-call branch to emit one message, got %d", len(out))
	}
	if out[0].Role != models.RoleAssistant || len(out[0].ToolCalls) != 1 {
		t.Fatalf("expected a single assistant tool-call message, got %+v", out[0])
	}
}

func TestConvertMessagesEmptyBlockList(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleUser, Content: models.Content{Structured: true}},
	}

	out, err := ConvertMessages(msgs)
	if err != nil {
		t.Fatalf("ConvertMessages returned error: %v", err)
	}
	if len(out) != 1 || out[0].Content == nil || *out[0].Content != "" {
		t.Fatalf("expected one message with empty content, got %+v", out)
	}
}

func TestConvertMessagesRejectsUnknownBlockType(t *testing.T) {
	msgs := []models.Message{
		blockMessage(models.RoleUser, models.Block{Type: "image"}),
	}

	if _, err := ConvertMessages(msgs); err == nil {
		t.Fatal("expected error for unknown block type")
	}
}

func TestConvertMessagesJoinsTextWithNewlines(t *testing.T) {
	msgs := []models.Message{
		blockMessage(models.RoleUser,
			models.Block{Type: models.BlockText, Text: "line one"},
			models.Block{Type: models.BlockText, Text: "line two"},
		),
	}

	out, err := ConvertMessages(msgs)
	if err != nil {
		t.Fatalf("ConvertMessages returned error: %v", err)
	}
	if *out[0].Content != "line one\nline two" {
		t.Fatalf("expected joined text, got %q", *out[0].Content)
	}
}

func TestToolArgumentsRoundTrip(t *testing.T) {
	var input map[string]any
	raw := `{"query":"weather","units":{"temp":"celsius"},"days":3,"verbose":false}`
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		t.Fatalf("setup: %v", err)
	}

	msgs := []models.Message{
		blockMessage(models.RoleAssistant,
			models.Block{Type: models.BlockToolUse, ID: "t1", Name: "f", Input: input},
		),
	}

	out, err := ConvertMessages(msgs)
	if err != nil {
		t.Fatalf("ConvertMessages returned error: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(out[0].ToolCalls[0].Arguments), &decoded); err != nil {
		t.Fatalf("arguments did not round-trip: %v", err)
	}
	if !reflect.DeepEqual(decoded, input) {
		t.Fatalf("round-trip mismatch:\n got %#v\nwant %#v", decoded, input)
	}
}

func TestCapMaxTokens(t *testing.T) {
	cases := []struct {
		name       string
		requested  *int
		ceiling    int
		want       int
		wantCapped bool
	}{
		{"below ceiling", intPtr(5000), 16384, 5000, false},
		{"above ceiling", intPtr(20000), 16384, 16384, true},
		{"at ceiling", intPtr(16384), 16384, 16384, false},
		{"absent", nil, 16384, 16384, false},
		{"zero", intPtr(0), 16384, 16384, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, capped := CapMaxTokens(tc.requested, tc.ceiling)
			if got != tc.want || capped != tc.wantCapped {
				t.Fatalf("CapMaxTokens = (%d, %v), want (%d, %v)", got, capped, tc.want, tc.wantCapped)
			}
		})
	}
}

func TestConvertTools(t *testing.T) {
	if out := ConvertTools(nil); out != nil {
		t.Fatalf("expected nil for absent tools, got %v", out)
	}

	schema := map[string]any{"type": "object"}
	out := ConvertTools([]models.Tool{{Name: "search", InputSchema: schema}})
	if len(out) != 1 {
		t.Fatalf("expected 1 native tool, got %d", len(out))
	}
	if out[0].Name != "search" || out[0].Description != "" {
		t.Fatalf("unexpected native tool: %+v", out[0])
	}
	if !reflect.DeepEqual(out[0].Parameters, schema) {
		t.Fatalf("input schema not carried over: %+v", out[0].Parameters)
	}
}

func TestBuildChatRequestToolChoiceOnlyWithTools(t *testing.T) {
	base := MessagesRequest{
		Model:       "claude-3-sonnet",
		Messages:    []models.Message{textMessage(models.RoleUser, "hi")},
		MaxTokens:   intPtr(256),
		Temperature: 0.7,
		ToolChoice:  json.RawMessage(`"auto"`),
	}

	out, capped, err := BuildChatRequest(base, 16384)
	if err != nil {
		t.Fatalf("BuildChatRequest returned error: %v", err)
	}
	if capped {
		t.Fatal("did not expect capping")
	}
	if out.Tools != nil || out.ToolChoice != nil {
		t.Fatalf("expected tool fields to be omitted without tools, got %+v", out)
	}

	withTools := base
	withTools.Tools = []models.Tool{{Name: "f", InputSchema: map[string]any{}}}

	out, _, err = BuildChatRequest(withTools, 16384)
	if err != nil {
		t.Fatalf("BuildChatRequest returned error: %v", err)
	}
	if len(out.Tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(out.Tools))
	}
	if string(out.ToolChoice) != `"auto"` {
		t.Fatalf("expected tool choice forwarded, got %q", out.ToolChoice)
	}
}

func TestBuildChatRequestCaps(t *testing.T) {
	req := MessagesRequest{
		Model:       "claude-3-sonnet",
		Messages:    []models.Message{textMessage(models.RoleUser, "hi")},
		MaxTokens:   intPtr(20000),
		Temperature: 0.5,
	}

	out, capped, err := BuildChatRequest(req, 16384)
	if err != nil {
		t.Fatalf("BuildChatRequest returned error: %v", err)
	}
	if !capped {
		t.Fatal("expected capping to be reported")
	}
	if out.MaxTokens != 16384 {
		t.Fatalf("expected max tokens clamped to 16384, got %d", out.MaxTokens)
	}
	if out.Temperature != 0.5 {
		t.Fatalf("expected temperature forwarded, got %v", out.Temperature)
	}
}

func TestBuildChatRequestPropagatesBlockErrors(t *testing.T) {
	req := MessagesRequest{
		Model:    "claude-3-sonnet",
		Messages: []models.Message{blockMessage(models.RoleUser, models.Block{Type: "bogus"})},
	}

	_, _, err := BuildChatRequest(req, 16384)
	if !errors.Is(err, errInvalidBlock) {
		t.Fatalf("expected invalid block error, got %v", err)
	}
}
