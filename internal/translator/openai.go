package translator

import (
	"encoding/json"
	"fmt"
	"strings"

	"claudekimi/internal/models"
)

// BuildChatRequest converts the inbound request into the backend-native
// shape, capping the token budget at the configured ceiling. The second
// return value reports whether capping occurred; it is a policy signal for
// logging, never surfaced to the client.
func BuildChatRequest(req MessagesRequest, maxOutputTokens int) (models.ChatRequest, bool, error) {
	messages, err := ConvertMessages(req.Messages)
	if err != nil {
		return models.ChatRequest{}, false, err
	}

	tools := ConvertTools(req.Tools)
	effective, capped := CapMaxTokens(req.MaxTokens, maxOutputTokens)

	out := models.ChatRequest{
		Messages:    messages,
		Tools:       tools,
		MaxTokens:   effective,
		Temperature: req.Temperature,
	}

	// Some backends reject a tool_choice hint with no tools declared.
	if tools != nil {
		out.ToolChoice = req.ToolChoice
	}

	return out, capped, nil
}

// ConvertMessages flattens structured messages into provider-native chat
// messages, preserving input order. A message with mixed block types may
// expand into multiple native messages.
func ConvertMessages(msgs []models.Message) ([]models.NativeMessage, error) {
	converted := make([]models.NativeMessage, 0, len(msgs))

	for i, m := range msgs {
		if !m.Content.Structured {
			content := m.Content.Text
			converted = append(converted, models.NativeMessage{Role: m.Role, Content: &content})
			continue
		}

		part, err := partitionBlocks(m.Content.Blocks)
		if err != nil {
			return nil, fmt.Errorf("messages[%d]: %w", i, err)
		}
		converted = append(converted, part.emit(m.Role)...)
	}

	return converted, nil
}

// partition accumulates one message's blocks in encounter order. The
// emission rule depends on the complete partition, so nothing is emitted
// mid-scan.
type partition struct {
	textParts   []string
	toolCalls   []models.NativeToolCall
	toolResults []toolResultEntry
}

type toolResultEntry struct {
	callID  string
	content string
}

func partitionBlocks(blocks []models.Block) (partition, error) {
	var p partition

	for _, block := range blocks {
		switch block.Type {
		case models.BlockText:
			p.textParts = append(p.textParts, block.Text)

		case models.BlockToolUse:
			input := block.Input
			if input == nil {
				input = map[string]any{}
			}
			args, err := json.Marshal(input)
			if err != nil {
				return partition{}, fmt.Errorf("encode tool_use %q input: %w", block.ID, err)
			}
			p.toolCalls = append(p.toolCalls, models.NativeToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(args),
			})

		case models.BlockToolResult:
			content, err := stringifyResult(block.Result)
			if err != nil {
				return partition{}, fmt.Errorf("encode tool_result %q content: %w", block.ToolUseID, err)
			}
			p.toolResults = append(p.toolResults, toolResultEntry{
				callID:  block.ToolUseID,
				content: content,
			})

		default:
			return partition{}, fmt.Errorf("%w: unsupported type %q", errInvalidBlock, block.Type)
		}
	}

	return p, nil
}

// emit applies the single per-message emission rule. The tool-call branch
// takes priority, so tool results sharing a message with tool calls are
// dropped.
func (p partition) emit(role string) []models.NativeMessage {
	switch {
	case len(p.toolCalls) > 0 && role == models.RoleAssistant:
		msg := models.NativeMessage{
			Role:      models.RoleAssistant,
			ToolCalls: p.toolCalls,
		}
		if len(p.textParts) > 0 {
			joined := strings.Join(p.textParts, "\n")
			msg.Content = &joined
		}
		return []models.NativeMessage{msg}

	case len(p.toolResults) > 0:
		out := make([]models.NativeMessage, 0, len(p.toolResults))
		for _, result := range p.toolResults {
			content := result.content
			out = append(out, models.NativeMessage{
				Role:       models.RoleTool,
				Content:    &content,
				ToolCallID: result.callID,
			})
		}
		return out

	default:
		joined := strings.Join(p.textParts, "\n")
		return []models.NativeMessage{{Role: role, Content: &joined}}
	}
}

// stringifyResult renders a tool result for the provider wire format:
// strings pass through, mappings and sequences are JSON-encoded, anything
// else becomes its display string.
func stringifyResult(result any) (string, error) {
	switch v := result.(type) {
	case string:
		return v, nil
	case map[string]any, []any, nil:
		data, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		return fmt.Sprint(v), nil
	}
}

// ConvertTools maps tool definitions 1:1 to native function-tool
// descriptors. An absent input list yields nil, not an empty slice, so the
// backend request omits the field entirely.
func ConvertTools(tools []models.Tool) []models.NativeTool {
	if len(tools) == 0 {
		return nil
	}

	out := make([]models.NativeTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, models.NativeTool{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}
	return out
}

// CapMaxTokens clamps the requested token budget to the configured
// ceiling. The backend is never asked for more tokens than the deployment
// allows, regardless of what the caller requests.
func CapMaxTokens(requested *int, ceiling int) (int, bool) {
	if requested == nil || *requested <= 0 {
		return ceiling, false
	}
	if *requested > ceiling {
		return ceiling, true
	}
	return *requested, false
}
