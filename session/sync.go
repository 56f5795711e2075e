package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// ToolInvocation is one tool call as reported by the client on stream
// completion.
type ToolInvocation struct {
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
	State      string `json:"state,omitempty"`
	Result     any    `json:"result,omitempty"`
}

// SyncRequest is the client's final assistant message, posted after the
// stream finishes so the stored history matches what the UI rendered.
type SyncRequest struct {
	MessageID       string           `json:"messageId,omitempty"`
	Content         string           `json:"content"`
	ToolInvocations []ToolInvocation `json:"toolInvocations,omitempty"`
}

// SyncResult reports what the sync changed.
type SyncResult struct {
	MessageID       string `json:"message_id"`
	ToolRowsCreated int    `json:"tool_rows_created"`
	ContentReplaced bool   `json:"content_replaced"`
}

// SyncOnFinish persists the client's final assistant message and a tool
// row per new tool invocation. Repeating the same sync is a no-op for
// already-recorded tool_call_ids.
func (s *Store) SyncOnFinish(ctx context.Context, sessionID string, req SyncRequest, logger *slog.Logger) (*SyncResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := s.Get(ctx, sessionID); err != nil {
		return nil, err
	}

	result := &SyncResult{MessageID: req.MessageID}

	if req.MessageID != "" {
		if err := s.UpdateMessageContent(ctx, req.MessageID, req.Content); err != nil {
			return nil, err
		}
		result.ContentReplaced = true
	} else {
		msg := &Message{
			SessionID:   sessionID,
			MessageType: TypeAI,
			Content:     req.Content,
		}
		if err := s.AddMessage(ctx, msg); err != nil {
			return nil, err
		}
		result.MessageID = msg.ID
	}

	for _, inv := range req.ToolInvocations {
		if inv.ToolCallID == "" {
			continue
		}
		exists, err := s.HasToolMessage(ctx, sessionID, inv.ToolCallID)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}

		meta, err := json.Marshal(map[string]any{
			"tool_call_id": inv.ToolCallID,
			"tool_name":    inv.ToolName,
		})
		if err != nil {
			return nil, fmt.Errorf("session: marshal tool metadata: %w", err)
		}
		content := ""
		if inv.Result != nil {
			data, err := json.Marshal(inv.Result)
			if err != nil {
				return nil, fmt.Errorf("session: marshal tool result: %w", err)
			}
			content = string(data)
		}
		if err := s.AddMessage(ctx, &Message{
			SessionID:   sessionID,
			MessageType: TypeTool,
			Content:     content,
			Metadata:    meta,
		}); err != nil {
			return nil, err
		}
		result.ToolRowsCreated++
	}

	logger.Debug("Sync applied",
		"session_id", sessionID,
		"tool_rows", result.ToolRowsCreated)
	return result, nil
}
