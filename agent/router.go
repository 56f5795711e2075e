package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/c360studio/lisa/graph"
	"github.com/c360studio/lisa/llm"
	"github.com/c360studio/lisa/stream"
	"github.com/c360studio/lisa/workflow"
	"github.com/c360studio/lisa/workflow/prompts"
)

// routerConfidenceFloor is the minimum confidence to act on a
// classified workflow intent.
const routerConfidenceFloor = 0.5

// IntentRouter classifies the latest user message to a workflow. An
// active workflow is sticky: ambiguous messages continue it instead of
// re-asking.
func (n *Nodes) IntentRouter(ctx context.Context, state *State) (graph.Command[State], error) {
	last, ok := state.LastUserMessage()
	if !ok {
		return graph.Command[State]{Goto: NodeClarifyIntent}, nil
	}

	req := llm.Request{
		Messages: []llm.Message{
			{Role: workflow.RoleSystem, Content: prompts.IntentRouterSystemPrompt()},
			{Role: workflow.RoleUser, Content: prompts.IntentRouterUserPrompt(last.Content, state.CurrentWorkflow)},
		},
	}
	if err := llm.BindSchema(&req, workflow.IntentResult{}); err != nil {
		return graph.Command[State]{}, err
	}

	resp, err := n.client.Complete(ctx, req)
	if err != nil {
		return graph.Command[State]{}, fmt.Errorf("intent classification: %w", err)
	}

	// An empty object from the model degrades to intent=null with zero
	// confidence instead of failing the turn on noise.
	var result workflow.IntentResult
	if err := llm.ParseStructured(resp.Content, &result); err != nil {
		return graph.Command[State]{}, err
	}

	if wt := result.WorkflowType(); wt != "" && result.Confidence >= routerConfidenceFloor {
		n.logger.Info("Workflow classified",
			"workflow", wt,
			"confidence", result.Confidence)
		target := NodeTestDesign
		if wt == workflow.RequirementReview {
			target = NodeRequirementReview
		}
		return graph.Command[State]{Goto: target}, nil
	}

	if state.CurrentWorkflow != "" {
		return graph.Command[State]{Goto: NodeReasoning}, nil
	}
	return graph.Command[State]{Goto: NodeClarifyIntent}, nil
}

// ClarifyIntent emits the fixed capability menu when no workflow can be
// inferred. The turn ends here; no workflow or artifact is touched.
func (n *Nodes) ClarifyIntent(ctx context.Context, state *State) (graph.Command[State], error) {
	w := stream.FromContext(ctx)
	msgID := uuid.NewString()
	w.Text(msgID, prompts.ClarifyMenu)
	w.EndText(msgID)

	return graph.Command[State]{
		Goto: graph.END,
		Update: func(s *State) {
			s.AppendMessages(workflow.Message{
				ID:      msgID,
				Role:    workflow.RoleAssistant,
				Content: prompts.ClarifyMenu,
			})
		},
	}, nil
}
