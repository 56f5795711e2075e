package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/c360studio/lisa/artifact"
	"github.com/c360studio/lisa/graph"
	"github.com/c360studio/lisa/llm"
	"github.com/c360studio/lisa/stream"
	"github.com/c360studio/lisa/workflow"
	"github.com/c360studio/lisa/workflow/prompts"
)

// Artifact produces or updates artifacts for this turn. A requested
// update is merged first; it may land on an earlier stage's artifact
// when the turn also advanced the stage, so a confirmation patch and
// the new stage's outline arrive together. Entering a stage whose
// artifact does not exist yet injects the template outline
// deterministically, without an LLM call.
func (n *Nodes) Artifact(ctx context.Context, state *State) (graph.Command[State], error) {
	w := stream.FromContext(ctx)

	tpl, ok := state.TemplateForStage(state.CurrentStageID)
	if !ok {
		return graph.Command[State]{}, fmt.Errorf("stage %q has no artifact template", state.CurrentStageID)
	}

	var updates []func(*State)

	if state.ShouldUpdateArtifact || state.ArtifactUpdateHint != "" {
		if target, found := updateTarget(state, tpl); found {
			up, err := n.updateArtifact(ctx, w, state, target)
			if err != nil {
				return graph.Command[State]{}, err
			}
			if up != nil {
				updates = append(updates, up)
			}
		}
	}

	if _, exists := state.Artifacts[tpl.Key]; !exists {
		updates = append(updates, n.initArtifact(w, tpl))
	}

	if len(updates) == 0 {
		w.Progress(progressSnapshot(state, "", false))
		return graph.Command[State]{Goto: graph.END}, nil
	}

	return graph.Command[State]{
		Goto: graph.END,
		Update: func(s *State) {
			for _, up := range updates {
				up(s)
			}
			w.Progress(progressSnapshot(s, "", false))
		},
	}, nil
}

// updateTarget picks the artifact a requested update applies to: the
// current stage's artifact when it exists, otherwise the closest
// earlier artifact that does.
func updateTarget(state *State, tpl workflow.ArtifactTemplate) (workflow.ArtifactTemplate, bool) {
	if _, ok := state.Artifacts[tpl.Key]; ok {
		return tpl, true
	}
	var target workflow.ArtifactTemplate
	found := false
	for _, t := range state.ArtifactTemplates {
		if t.Key == tpl.Key {
			break
		}
		if _, ok := state.Artifacts[t.Key]; ok {
			target = t
			found = true
		}
	}
	return target, found
}

// initArtifact synthesizes the tool call carrying the stage outline.
func (n *Nodes) initArtifact(w *stream.Writer, tpl workflow.ArtifactTemplate) func(*State) {
	callID := uuid.NewString()
	args := UpdateArtifactArgs{Key: tpl.Key, MarkdownBody: tpl.Outline}

	w.ToolInput(callID, UpdateArtifactTool, args)
	w.ToolOutput(callID, "ok")

	n.logger.Info("Artifact initialized from template",
		"key", tpl.Key,
		"stage", tpl.Stage)

	return func(s *State) {
		if s.Artifacts == nil {
			s.Artifacts = make(map[string]any)
		}
		s.Artifacts[tpl.Key] = tpl.Outline
	}
}

// updateArtifact drives the forced update_artifact call and returns the
// mutation carrying the merged result. A malformed call leaves the
// artifact untouched and surfaces a safe error through the tool-output
// event, returning no mutation.
func (n *Nodes) updateArtifact(ctx context.Context, w *stream.Writer, state *State, target workflow.ArtifactTemplate) (func(*State), error) {
	current := state.Artifacts[target.Key]

	req := llm.Request{
		Messages: []llm.Message{
			{Role: workflow.RoleSystem, Content: prompts.Identity(n.assistantType)},
			{Role: workflow.RoleUser, Content: prompts.ArtifactUpdatePrompt(target, current, state.ArtifactUpdateHint)},
		},
		Tools:     []llm.ToolDefinition{updateArtifactDefinition()},
		ForceTool: UpdateArtifactTool,
	}

	resp, err := n.client.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("artifact update: %w", err)
	}

	args, callID, err := n.extractUpdate(resp, target, current)
	if err != nil {
		n.logger.Warn("Artifact update refused",
			"key", target.Key,
			"error", err)
		refusedID := callID
		if refusedID == "" {
			refusedID = uuid.NewString()
		}
		w.ToolInput(refusedID, UpdateArtifactTool, map[string]any{"key": target.Key})
		w.ToolOutput(refusedID, "更新未被接受：参数无效，文档保持不变")
		return nil, nil
	}

	key, next, err := n.applyUpdate(state, target, args)
	if err != nil {
		n.logger.Warn("Artifact update refused",
			"key", args.Key,
			"error", err)
		w.ToolInput(callID, UpdateArtifactTool, args)
		w.ToolOutput(callID, "更新未被接受："+err.Error())
		return nil, nil
	}

	w.ToolInput(callID, UpdateArtifactTool, args)
	w.ToolOutput(callID, "ok")

	return func(s *State) {
		s.Artifacts[key] = next
	}, nil
}

// extractUpdate pulls the update arguments out of the response. When the
// model ignored the forced tool and answered with a fenced markdown
// block, that is accepted only for markdown-bodied artifacts.
func (n *Nodes) extractUpdate(resp *llm.Response, tpl workflow.ArtifactTemplate, current any) (*UpdateArtifactArgs, string, error) {
	for _, call := range resp.ToolCalls {
		if call.Name != UpdateArtifactTool {
			continue
		}
		args, err := ParseUpdateArtifactArgs(call.Arguments)
		if err != nil {
			return nil, call.ID, err
		}
		return args, call.ID, nil
	}

	if _, isMarkdown := current.(string); isMarkdown && resp.Content != "" {
		if body := fencedBlock(resp.Content); body != "" {
			return &UpdateArtifactArgs{Key: tpl.Key, MarkdownBody: body}, uuid.NewString(), nil
		}
	}
	return nil, "", fmt.Errorf("model returned no %s call", UpdateArtifactTool)
}

// applyUpdate merges a patch or replaces a markdown body, depending on
// the artifact's shape. A call targeting a different key is honored
// when that key belongs to a known template and its artifact already
// exists; unknown or uninitialized keys are refused.
func (n *Nodes) applyUpdate(state *State, target workflow.ArtifactTemplate, args *UpdateArtifactArgs) (string, any, error) {
	key := target.Key
	if args.Key != key {
		t, ok := state.TemplateForKey(args.Key)
		if !ok {
			return "", nil, fmt.Errorf("no artifact template produces key %q", args.Key)
		}
		if _, exists := state.Artifacts[t.Key]; !exists {
			return "", nil, fmt.Errorf("artifact %q has not been initialized", args.Key)
		}
		key = t.Key
	}
	current := state.Artifacts[key]

	if args.ContentPatch != nil {
		base, ok := current.(map[string]any)
		if !ok {
			if _, isMarkdown := current.(string); isMarkdown {
				// First structured patch replaces the outline skeleton.
				base = map[string]any{}
			} else {
				return "", nil, fmt.Errorf("artifact %q is not structured", key)
			}
		}
		merged := artifact.Merge(base, args.ContentPatch, n.logger)
		if key == artifact.KeyTestDesignCases {
			attachCaseStats(merged)
		}
		return key, merged, nil
	}

	if _, isStructured := current.(map[string]any); isStructured {
		return "", nil, fmt.Errorf("artifact %q is structured, markdown body refused", key)
	}
	return key, args.MarkdownBody, nil
}

// fencedBlock returns the body of the first fenced code block, or "".
func fencedBlock(content string) string {
	start := strings.Index(content, "```")
	if start < 0 {
		return ""
	}
	rest := content[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// Drop the info string on the opening fence.
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}

// attachCaseStats recomputes the stats block after a cases merge.
func attachCaseStats(content map[string]any) {
	doc, err := artifact.DecodeCases(content)
	if err != nil {
		return
	}
	if stats := artifact.ComputeCaseStats(doc); stats != nil {
		encoded, err := artifact.Encode(stats)
		if err == nil {
			content["stats"] = encoded
		}
	}
}
