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

// historyWindow bounds how many prior messages travel in the reasoning
// prompt.
const historyWindow = 20

// Reasoning runs the per-turn thinking: seeds the workflow shape when
// missing, gates the clarify stage on open P0 questions, streams the
// structured response and applies or vetoes proposed stage transitions.
func (n *Nodes) Reasoning(ctx context.Context, state *State) (graph.Command[State], error) {
	w := stream.FromContext(ctx)

	if state.CurrentWorkflow == "" {
		return graph.Command[State]{Goto: NodeClarifyIntent}, nil
	}

	seeded, err := workflow.Initialize(state, state.CurrentWorkflow)
	if err != nil {
		return graph.Command[State]{}, err
	}
	if seeded {
		n.logger.Info("Workflow initialized", "workflow", state.CurrentWorkflow)
		w.Progress(progressSnapshot(state, "初始化工作流", false))
	}

	def, err := workflow.Default(state.CurrentWorkflow)
	if err != nil {
		return graph.Command[State]{}, err
	}

	// Clarify-stage gate: a confirm-to-proceed with open P0 questions
	// ends the turn with a warning instead of advancing.
	blocked := false
	if state.CurrentStageID == "clarify" {
		intent, blocking, err := n.classifyClarifyIntent(ctx, state)
		if err != nil {
			return graph.Command[State]{}, err
		}
		blocked = len(blocking) > 0
		if intent.Intent == workflow.ClarifyConfirmProceed && blocked {
			return n.gateBlockedReply(w, blocking), nil
		}
	}

	req := llm.Request{
		Messages: reasoningMessages(n.assistantType, def, state),
	}

	msgID := uuid.NewString()
	lastStep := ""
	result, _, err := llm.StreamStructured(ctx, n.client, req, func(partial workflow.ReasoningResponse) {
		if partial.Thought != "" {
			w.Text(msgID, partial.Thought)
		}
		if partial.ProgressStep != "" && partial.ProgressStep != lastStep {
			lastStep = partial.ProgressStep
			w.Progress(progressSnapshot(state, partial.ProgressStep, true))
		}
	})
	if err != nil {
		return graph.Command[State]{}, fmt.Errorf("reasoning: %w", err)
	}
	w.Text(msgID, result.Thought)
	w.EndText(msgID)

	transition := ""
	vetoed := false
	if result.RequestTransitionTo != "" {
		if blocked {
			vetoed = true
			n.logger.Warn("Stage transition vetoed",
				"target", result.RequestTransitionTo,
				"stage", state.CurrentStageID)
		} else {
			transition = result.RequestTransitionTo
		}
	}

	return graph.Command[State]{
		Goto: NodeArtifact,
		Update: func(s *State) {
			content := result.Thought
			if vetoed {
				content += "\n\n（存在未解决的 P0 待确认问题，本轮未进入下一阶段。）"
			}
			s.AppendMessages(workflow.Message{
				ID:      msgID,
				Role:    workflow.RoleAssistant,
				Content: content,
			})
			s.ArtifactUpdateHint = result.ArtifactUpdateHint
			s.ShouldUpdateArtifact = result.ShouldUpdateArtifact
			s.TransitionVetoed = vetoed

			if transition != "" {
				next, err := workflow.AdvancePlan(s.Plan, transition)
				if err != nil {
					n.logger.Warn("Proposed transition rejected",
						"target", transition,
						"error", err)
					return
				}
				s.Plan = next
				s.CurrentStageID = transition
			}
		},
	}, nil
}

// classifyClarifyIntent parses the latest user message into a clarify
// intent and returns the currently blocking questions.
func (n *Nodes) classifyClarifyIntent(ctx context.Context, state *State) (workflow.UserIntentInClarify, []artifact.Assumption, error) {
	blocking := workflow.BlockingQuestions(state.Artifacts)

	last, ok := state.LastUserMessage()
	if !ok {
		return workflow.UserIntentInClarify{}, blocking, nil
	}

	req := llm.Request{
		Messages: []llm.Message{
			{Role: workflow.RoleSystem, Content: prompts.ClarifyIntentSystemPrompt()},
			{Role: workflow.RoleUser, Content: prompts.ClarifyIntentUserPrompt(last.Content, blocking)},
		},
	}
	if err := llm.BindSchema(&req, workflow.UserIntentInClarify{}); err != nil {
		return workflow.UserIntentInClarify{}, nil, err
	}

	resp, err := n.client.Complete(ctx, req)
	if err != nil {
		return workflow.UserIntentInClarify{}, nil, fmt.Errorf("clarify intent classification: %w", err)
	}

	var intent workflow.UserIntentInClarify
	if err := llm.ParseStructured(resp.Content, &intent); err != nil {
		return workflow.UserIntentInClarify{}, nil, err
	}
	return intent, blocking, nil
}

// gateBlockedReply emits the warning listing the open blockers and ends
// the turn. No artifact or plan mutation happens on this path.
func (n *Nodes) gateBlockedReply(w *stream.Writer, blocking []artifact.Assumption) graph.Command[State] {
	var b strings.Builder
	b.WriteString("还有以下 P0 级问题未确认，暂时不能进入下一阶段：\n\n")
	for _, q := range blocking {
		b.WriteString(fmt.Sprintf("- [%s] %s\n", q.ID, q.Question))
	}
	b.WriteString("\n请先回答这些问题，或明确说明接受对应风险。")
	content := b.String()

	msgID := uuid.NewString()
	w.Text(msgID, content)
	w.EndText(msgID)

	n.logger.Info("Clarify gate blocked turn", "blockers", len(blocking))

	return graph.Command[State]{
		Goto: graph.END,
		Update: func(s *State) {
			s.AppendMessages(workflow.Message{
				ID:      msgID,
				Role:    workflow.RoleAssistant,
				Content: content,
			})
		},
	}
}

// reasoningMessages assembles the stage prompt plus trailing history.
func reasoningMessages(assistantType string, def workflow.Definition, state *State) []llm.Message {
	msgs := []llm.Message{
		{Role: workflow.RoleSystem, Content: prompts.StageSystemPrompt(assistantType, def, state)},
	}
	for _, m := range state.RecentHistory(historyWindow) {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	return msgs
}
