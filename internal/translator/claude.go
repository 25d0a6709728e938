package translator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"claudekimi/internal/models"
)

var (
	errEmptyModel     = errors.New("model must be provided")
	errEmptyMessages  = errors.New("at least one message is required")
	errInvalidRole    = errors.New("invalid role")
	errInvalidContent = errors.New("invalid message content")
	errInvalidBlock   = errors.New("invalid content block")
	errInvalidTool    = errors.New("invalid tool definition")
)

const (
	defaultMaxTokens   = 1024
	defaultTemperature = 0.7
)

// MessagesRequest models the inbound Anthropic /v1/messages payload.
type MessagesRequest struct {
	Model       string
	Messages    []models.Message
	MaxTokens   *int
	Temperature float64
	Stream      bool
	Tools       []models.Tool
	ToolChoice  json.RawMessage
}

// UnmarshalJSON enforces validation and applies request defaults.
func (r *MessagesRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		Model       string          `json:"model"`
		Messages    []messageJSON   `json:"messages"`
		MaxTokens   *int            `json:"max_tokens"`
		Temperature *float64        `json:"temperature"`
		Stream      bool            `json:"stream"`
		Tools       []toolJSON      `json:"tools"`
		ToolChoice  json.RawMessage `json:"tool_choice"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode messages request: %w", err)
	}

	r.Model = strings.TrimSpace(raw.Model)
	r.Stream = raw.Stream

	r.Messages = make([]models.Message, 0, len(raw.Messages))
	for _, m := range raw.Messages {
		r.Messages = append(r.Messages, models.Message(m))
	}

	if raw.Tools != nil {
		r.Tools = make([]models.Tool, 0, len(raw.Tools))
		for _, t := range raw.Tools {
			r.Tools = append(r.Tools, models.Tool(t))
		}
	} else {
		r.Tools = nil
	}

	maxTokens := defaultMaxTokens
	if raw.MaxTokens != nil {
		maxTokens = *raw.MaxTokens
	}
	r.MaxTokens = &maxTokens

	r.Temperature = defaultTemperature
	if raw.Temperature != nil {
		r.Temperature = *raw.Temperature
	}

	r.ToolChoice = raw.ToolChoice
	if len(raw.ToolChoice) == 0 || string(raw.ToolChoice) == "null" {
		r.ToolChoice = json.RawMessage(`"auto"`)
	}

	return r.validate()
}

func (r *MessagesRequest) validate() error {
	if r.Model == "" {
		return errEmptyModel
	}
	if len(r.Messages) == 0 {
		return errEmptyMessages
	}
	return nil
}

// messageJSON decodes one inbound message into the neutral model.
type messageJSON models.Message

// UnmarshalJSON accepts string content or an ordered block array.
func (m *messageJSON) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}

	role := strings.TrimSpace(raw.Role)
	switch role {
	case models.RoleUser, models.RoleAssistant:
	default:
		return fmt.Errorf("%w: %q", errInvalidRole, raw.Role)
	}

	content, err := extractContent(raw.Content)
	if err != nil {
		return err
	}

	m.Role = role
	m.Content = content
	return nil
}

func extractContent(raw json.RawMessage) (models.Content, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return models.Content{}, fmt.Errorf("%w: content is required", errInvalidContent)
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return models.Content{Text: text}, nil
	}

	var blocks []blockJSON
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return models.Content{}, fmt.Errorf("%w: content must be a string or block array", errInvalidContent)
	}

	out := make([]models.Block, 0, len(blocks))
	for _, block := range blocks {
		out = append(out, models.Block(block))
	}
	return models.Content{Blocks: out, Structured: true}, nil
}

// blockJSON decodes one tagged content block into the neutral model.
type blockJSON models.Block

// UnmarshalJSON dispatches on the block type tag. Unknown types are
// rejected so the union stays closed.
func (b *blockJSON) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("decode content block: %w", err)
	}

	switch head.Type {
	case models.BlockText:
		var raw struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("decode text block: %w", err)
		}
		b.Type = models.BlockText
		b.Text = raw.Text
		return nil

	case models.BlockToolUse:
		var raw struct {
			ID    string         `json:"id"`
			Name  string         `json:"name"`
			Input map[string]any `json:"input"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("decode tool_use block: %w", err)
		}
		if strings.TrimSpace(raw.ID) == "" {
			return fmt.Errorf("%w: tool_use requires an id", errInvalidBlock)
		}
		if strings.TrimSpace(raw.Name) == "" {
			return fmt.Errorf("%w: tool_use requires a name", errInvalidBlock)
		}
		if raw.Input == nil {
			raw.Input = map[string]any{}
		}
		b.Type = models.BlockToolUse
		b.ID = raw.ID
		b.Name = raw.Name
		b.Input = raw.Input
		return nil

	case models.BlockToolResult:
		var raw struct {
			ToolUseID string          `json:"tool_use_id"`
			Content   json.RawMessage `json:"content"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("decode tool_result block: %w", err)
		}
		if strings.TrimSpace(raw.ToolUseID) == "" {
			return fmt.Errorf("%w: tool_result requires a tool_use_id", errInvalidBlock)
		}
		var result any
		if len(raw.Content) > 0 {
			if err := json.Unmarshal(raw.Content, &result); err != nil {
				return fmt.Errorf("decode tool_result content: %w", err)
			}
		}
		b.Type = models.BlockToolResult
		b.ToolUseID = raw.ToolUseID
		b.Result = result
		return nil

	default:
		return fmt.Errorf("%w: unsupported type %q", errInvalidBlock, head.Type)
	}
}

// toolJSON decodes one tool definition into the neutral model.
type toolJSON models.Tool

func (t *toolJSON) UnmarshalJSON(data []byte) error {
	type alias struct {
		Name        string         `json:"name"`
		Description *string        `json:"description"`
		InputSchema map[string]any `json:"input_schema"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode tool definition: %w", err)
	}

	if strings.TrimSpace(raw.Name) == "" {
		return fmt.Errorf("%w: name must be provided", errInvalidTool)
	}

	t.Name = raw.Name
	if raw.Description != nil {
		t.Description = *raw.Description
	}
	t.InputSchema = raw.InputSchema
	return nil
}

// MessagesResponse models the Anthropic response envelope.
type MessagesResponse struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Role         string          `json:"role"`
	Model        string          `json:"model"`
	Content      []ResponseBlock `json:"content"`
	StopReason   string          `json:"stop_reason"`
	StopSequence *string         `json:"stop_sequence"`
	Usage        ResponseUsage   `json:"usage"`
}

// ResponseUsage mirrors the Anthropic usage block.
type ResponseUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ResponseBlock is one content block of the response envelope.
type ResponseBlock struct {
	Type  string
	Text  string
	ID    string
	Name  string
	Input map[string]any
}

// MarshalJSON serialises the variant selected by Type. An empty text block
// still carries an explicit "text" field.
func (b ResponseBlock) MarshalJSON() ([]byte, error) {
	switch b.Type {
	case models.BlockText:
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{b.Type, b.Text})

	case models.BlockToolUse:
		input := b.Input
		if input == nil {
			input = map[string]any{}
		}
		return json.Marshal(struct {
			Type  string         `json:"type"`
			ID    string         `json:"id"`
			Name  string         `json:"name"`
			Input map[string]any `json:"input"`
		}{b.Type, b.ID, b.Name, input})

	default:
		return nil, fmt.Errorf("%w: unsupported response block type %q", errInvalidBlock, b.Type)
	}
}
