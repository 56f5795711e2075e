package agent

import (
	"context"
	"log/slog"

	"github.com/c360studio/lisa/graph"
	"github.com/c360studio/lisa/llm"
	"github.com/c360studio/lisa/stream"
	"github.com/c360studio/lisa/workflow"
)

// Graph node names.
const (
	NodeIntentRouter      = "intent_router"
	NodeClarifyIntent     = "clarify_intent"
	NodeTestDesign        = "workflow_test_design"
	NodeRequirementReview = "workflow_requirement_review"
	NodeReasoning         = "reasoning"
	NodeArtifact          = "artifact_node"
)

// State is the graph state type for the agent graph.
type State = workflow.AgentState

// Nodes holds the dependencies shared by all graph nodes.
type Nodes struct {
	client        *llm.Client
	assistantType string
	logger        *slog.Logger
}

// NewNodes builds the node set for one assistant type.
func NewNodes(client *llm.Client, assistantType string, logger *slog.Logger) *Nodes {
	if logger == nil {
		logger = slog.Default()
	}
	return &Nodes{
		client:        client,
		assistantType: assistantType,
		logger:        logger,
	}
}

// workflowNode returns the entry node for a workflow type. It records
// the chosen workflow and hands off to reasoning, which owns the actual
// plan seeding.
func (n *Nodes) workflowNode(workflowType string) graph.NodeFunc[State] {
	return func(_ context.Context, _ *State) (graph.Command[State], error) {
		return graph.Command[State]{
			Goto: NodeReasoning,
			Update: func(s *State) {
				s.CurrentWorkflow = workflowType
			},
		}, nil
	}
}

// progressSnapshot builds the idempotent progress event payload from the
// current state.
func progressSnapshot(state *State, currentTask string, generating bool) stream.Progress {
	stages := make([]stream.StageView, len(state.Plan))
	for i, s := range state.Plan {
		stages[i] = stream.StageView{ID: s.ID, Name: s.Name, Status: s.Status}
	}
	idx := workflow.ActiveStageIndex(state.Plan)
	if idx < 0 {
		idx = 0
	}

	var ap stream.ArtifactProgress
	if tpl, ok := state.TemplateForStage(state.CurrentStageID); ok {
		ap.Template = tpl.Key
		_, exists := state.Artifacts[tpl.Key]
		ap.Completed = exists && !generating
		ap.Generating = generating
	}

	return stream.Progress{
		Stages:            stages,
		CurrentStageIndex: idx,
		CurrentTask:       currentTask,
		ArtifactProgress:  ap,
		Artifacts:         state.Artifacts,
	}
}
