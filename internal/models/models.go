package models

import "encoding/json"

// Roles accepted on inbound messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Content block kinds. The union is closed: every conversion site switches
// exhaustively over these three values.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// Backend finish reasons after normalisation.
const (
	FinishStop      = "stop"
	FinishLength    = "length"
	FinishToolCalls = "tool_calls"
	FinishOther     = "other"
)

// Stop reasons reported on the structured response.
const (
	StopEndTurn   = "end_turn"
	StopMaxTokens = "max_tokens"
	StopToolUse   = "tool_use"
)

// Message represents a single structured conversational message.
type Message struct {
	Role    string
	Content Content
}

// Content holds either a plain string or an ordered block sequence.
// Structured reports which representation is authoritative.
type Content struct {
	Text       string
	Blocks     []Block
	Structured bool
}

// Block is one unit of structured message content. Exactly one variant's
// fields are populated, selected by Type.
type Block struct {
	Type string

	// text
	Text string

	// tool_use
	ID    string
	Name  string
	Input map[string]any

	// tool_result
	ToolUseID string
	Result    any
}

// Tool describes a callable tool offered to the model.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// NativeMessage is one flattened provider-native chat message. A nil
// Content marshals as JSON null, which the provider wire format requires
// for assistant tool-call messages without accompanying text.
type NativeMessage struct {
	Role       string
	Content    *string
	ToolCalls  []NativeToolCall
	ToolCallID string
}

// NativeToolCall is a provider-native function invocation. Arguments is a
// JSON document, not a decoded mapping.
type NativeToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// NativeTool is a provider-native function-tool descriptor.
type NativeTool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ChatRequest is the complete outbound request tuple handed to the backend
// collaborator. Tools is nil when the caller declared none; ToolChoice is
// forwarded only alongside a non-nil tool list.
type ChatRequest struct {
	Messages    []NativeMessage
	Tools       []NativeTool
	ToolChoice  json.RawMessage
	MaxTokens   int
	Temperature float64
}

// CompletionResult captures the single choice of a provider completion.
type CompletionResult struct {
	Text         string
	ToolCalls    []NativeToolCall
	FinishReason string
	Usage        Usage
}

// Usage records token accounting information.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}
