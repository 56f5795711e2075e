// Package agent wires the graph nodes (intent routing, clarification,
// reasoning, artifact update) and the service facade that drives one
// streamed turn per request.
package agent

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/c360studio/lisa/llm"
)

// UpdateArtifactTool is the single tool the artifact node binds.
const UpdateArtifactTool = "update_artifact"

var validate = validator.New(validator.WithRequiredStructEnabled())

// UpdateArtifactArgs are the arguments of an update_artifact call.
// Exactly one of MarkdownBody and ContentPatch must be set.
type UpdateArtifactArgs struct {
	Key          string         `json:"key" validate:"required"`
	MarkdownBody string         `json:"markdown_body,omitempty"`
	ContentPatch map[string]any `json:"content_patch,omitempty"`
}

// ParseUpdateArtifactArgs decodes and validates raw tool-call arguments.
func ParseUpdateArtifactArgs(raw string) (*UpdateArtifactArgs, error) {
	var args UpdateArtifactArgs
	if err := json.Unmarshal([]byte(llm.ExtractJSON(raw)), &args); err != nil {
		return nil, fmt.Errorf("update_artifact arguments are not valid JSON: %w", err)
	}
	if err := validate.Struct(&args); err != nil {
		return nil, fmt.Errorf("update_artifact arguments invalid: %w", err)
	}
	if args.MarkdownBody == "" && args.ContentPatch == nil {
		return nil, fmt.Errorf("update_artifact requires markdown_body or content_patch")
	}
	if args.MarkdownBody != "" && args.ContentPatch != nil {
		return nil, fmt.Errorf("update_artifact accepts markdown_body or content_patch, not both")
	}
	return &args, nil
}

// updateArtifactDefinition is the tool schema offered to the model.
func updateArtifactDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name: UpdateArtifactTool,
		Description: "提交文档更新。结构化文档用 content_patch 提交增量补丁，" +
			"纯文本文档用 markdown_body 提交完整正文。",
		Parameters: json.RawMessage(`{
	"type": "object",
	"properties": {
		"key": {
			"type": "string",
			"description": "文档 key"
		},
		"markdown_body": {
			"type": "string",
			"description": "完整的 markdown 正文"
		},
		"content_patch": {
			"type": "object",
			"description": "结构化增量补丁，带 id 的列表按 id 对齐"
		}
	},
	"required": ["key"]
}`),
	}
}
