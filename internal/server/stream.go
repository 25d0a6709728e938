package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"claudekimi/internal/models"
	"claudekimi/internal/translator"
)

type sseEvent struct {
	name    string
	payload any
}

// writeMessagesStream replays a completed response as Anthropic SSE
// events. The upstream call has already finished; no partial tokens are
// involved.
func writeMessagesStream(c echo.Context, resp translator.MessagesResponse) error {
	writer := c.Response().Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		slog.Error("http writer does not support flushing")
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "server does not support streaming responses",
			Type:    "api_error",
		}
	}

	header := c.Response().Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")

	c.Response().WriteHeader(http.StatusOK)

	usage := map[string]int{
		"input_tokens":  resp.Usage.InputTokens,
		"output_tokens": resp.Usage.OutputTokens,
	}

	events := []sseEvent{
		{
			name: "message_start",
			payload: map[string]any{
				"type": "message_start",
				"message": map[string]any{
					"id":            resp.ID,
					"type":          "message",
					"role":          resp.Role,
					"model":         resp.Model,
					"content":       []any{},
					"stop_reason":   nil,
					"stop_sequence": nil,
					"usage":         usage,
				},
			},
		},
	}

	for index, block := range resp.Content {
		blockEvents, err := buildBlockEvents(index, block)
		if err != nil {
			slog.Error("failed to encode stream block", "index", index, "err", err)
			return err
		}
		events = append(events, blockEvents...)
	}

	events = append(events,
		sseEvent{
			name: "message_delta",
			payload: map[string]any{
				"type": "message_delta",
				"delta": map[string]any{
					"stop_reason":   resp.StopReason,
					"stop_sequence": nil,
				},
				"usage": usage,
			},
		},
		sseEvent{
			name: "message_stop",
			payload: map[string]any{
				"type": "message_stop",
			},
		},
	)

	for _, event := range events {
		if err := writeSSEEvent(writer, event.name, event.payload); err != nil {
			slog.Error("failed to write SSE event", "event", event.name, "err", err)
			return err
		}
		flusher.Flush()
	}

	return nil
}

// buildBlockEvents renders one content block as the start/delta/stop event
// triple. Text blocks stream a single text_delta; tool_use blocks stream
// their full argument object as one input_json_delta.
func buildBlockEvents(index int, block translator.ResponseBlock) ([]sseEvent, error) {
	var start map[string]any
	var delta map[string]any

	switch block.Type {
	case models.BlockText:
		start = map[string]any{
			"type": "text",
			"text": "",
		}
		delta = map[string]any{
			"type": "text_delta",
			"text": block.Text,
		}

	case models.BlockToolUse:
		input := block.Input
		if input == nil {
			input = map[string]any{}
		}
		partial, err := json.Marshal(input)
		if err != nil {
			return nil, fmt.Errorf("encode tool_use input for stream: %w", err)
		}
		start = map[string]any{
			"type":  "tool_use",
			"id":    block.ID,
			"name":  block.Name,
			"input": map[string]any{},
		}
		delta = map[string]any{
			"type":         "input_json_delta",
			"partial_json": string(partial),
		}

	default:
		return nil, fmt.Errorf("unsupported stream block type %q", block.Type)
	}

	return []sseEvent{
		{
			name: "content_block_start",
			payload: map[string]any{
				"type":          "content_block_start",
				"index":         index,
				"content_block": start,
			},
		},
		{
			name: "content_block_delta",
			payload: map[string]any{
				"type":  "content_block_delta",
				"index": index,
				"delta": delta,
			},
		},
		{
			name: "content_block_stop",
			payload: map[string]any{
				"type":  "content_block_stop",
				"index": index,
			},
		},
	}, nil
}

func writeSSEEvent(w io.Writer, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal SSE payload: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return fmt.Errorf("write SSE event name: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write SSE data: %w", err)
	}
	return nil
}
