package llm

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// StreamEvent is one delta from a streaming completion.
type StreamEvent struct {
	// TextDelta is an incremental content fragment, possibly empty.
	TextDelta string

	// ToolCallDelta is an incremental tool-call fragment, nil otherwise.
	ToolCallDelta *ToolCallDelta
}

// ToolCallDelta is a fragment of a streamed tool call. The ID and Name
// arrive on the first fragment for an index; ArgumentsDelta accumulates.
type ToolCallDelta struct {
	Index          int
	ID             string
	Name           string
	ArgumentsDelta string
}

// chatChunk is one streamed chat.completion.chunk.
type chatChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *TokenUsage `json:"usage"`
}

// readStream consumes an SSE chat-completions body, forwarding deltas to
// fn and assembling the final response. fn may be nil.
func readStream(body io.Reader, fn func(StreamEvent) error) (*Response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	resp := &Response{}
	var content strings.Builder
	// Tool calls arrive fragmented across chunks, keyed by index.
	calls := map[int]*ToolCall{}
	maxIndex := -1

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil, NewFatalKind(KindBadOutput, fmt.Errorf("parse stream chunk: %w", err))
		}
		if chunk.Model != "" {
			resp.Model = chunk.Model
		}
		if chunk.Usage != nil {
			resp.Usage = *chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			resp.FinishReason = choice.FinishReason
		}

		if choice.Delta.Content != "" {
			content.WriteString(choice.Delta.Content)
			if fn != nil {
				if err := fn(StreamEvent{TextDelta: choice.Delta.Content}); err != nil {
					return nil, err
				}
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			call, ok := calls[tc.Index]
			if !ok {
				call = &ToolCall{}
				calls[tc.Index] = call
				if tc.Index > maxIndex {
					maxIndex = tc.Index
				}
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			call.Arguments += tc.Function.Arguments

			if fn != nil {
				err := fn(StreamEvent{ToolCallDelta: &ToolCallDelta{
					Index:          tc.Index,
					ID:             tc.ID,
					Name:           tc.Function.Name,
					ArgumentsDelta: tc.Function.Arguments,
				}})
				if err != nil {
					return nil, err
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, NewTransientError(fmt.Errorf("read stream: %w", err))
	}

	resp.Content = content.String()
	for i := 0; i <= maxIndex; i++ {
		if call, ok := calls[i]; ok {
			resp.ToolCalls = append(resp.ToolCalls, *call)
		}
	}
	return resp, nil
}
