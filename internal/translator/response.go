package translator

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"claudekimi/internal/models"
)

// ErrMalformedToolArguments marks a backend tool call whose argument
// payload is not a valid JSON object. The failure is fatal for the whole
// response: substituting an empty mapping would corrupt the tool's
// effective call signature.
var ErrMalformedToolArguments = errors.New("tool call arguments are not valid JSON")

// FromCompletion re-assembles a provider completion into the structured
// response envelope.
func FromCompletion(modelID string, res models.CompletionResult) (MessagesResponse, error) {
	blocks := make([]ResponseBlock, 0, 1+len(res.ToolCalls))

	if res.Text != "" {
		blocks = append(blocks, ResponseBlock{Type: models.BlockText, Text: res.Text})
	}

	for _, call := range res.ToolCalls {
		var input map[string]any
		if err := json.Unmarshal([]byte(call.Arguments), &input); err != nil {
			return MessagesResponse{}, fmt.Errorf("%w: call %s (%s): %v",
				ErrMalformedToolArguments, call.ID, call.Name, err)
		}
		blocks = append(blocks, ResponseBlock{
			Type:  models.BlockToolUse,
			ID:    call.ID,
			Name:  call.Name,
			Input: input,
		})
	}

	// The response always carries at least one block.
	if len(blocks) == 0 {
		blocks = append(blocks, ResponseBlock{Type: models.BlockText})
	}

	// Tool presence wins over the native finish reason: "the model wants
	// to act" outranks "the model ran out of budget".
	stopReason := models.StopEndTurn
	switch {
	case len(res.ToolCalls) > 0:
		stopReason = models.StopToolUse
	case res.FinishReason == models.FinishLength:
		stopReason = models.StopMaxTokens
	}

	return MessagesResponse{
		ID:         newMessageID(),
		Type:       "message",
		Role:       models.RoleAssistant,
		Model:      modelID,
		Content:    blocks,
		StopReason: stopReason,
		Usage: ResponseUsage{
			InputTokens:  res.Usage.PromptTokens,
			OutputTokens: res.Usage.CompletionTokens,
		},
	}, nil
}

// newMessageID mints an opaque response identifier. Uniqueness only needs
// to avoid client-side collisions within a session.
func newMessageID() string {
	id := uuid.New()
	return fmt.Sprintf("msg_%x", id[0:6])
}
