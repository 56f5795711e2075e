package agent

import (
	"github.com/c360studio/lisa/graph"
	"github.com/c360studio/lisa/workflow"
)

// Assemble wires the node set into the runnable agent graph.
//
//	START -> intent_router -> (workflow_* | reasoning | clarify_intent)
//	workflow_* -> reasoning -> (artifact_node | END)
//	artifact_node -> END
//
// Transient-failure retry for the LLM calls lives inside the llm
// client so that a stream is never restarted after its first delivered
// delta; stacking the graph-level retry policy on top would multiply
// attempts.
func Assemble(n *Nodes, opts ...graph.Option) (*graph.Compiled[State], error) {
	g := graph.New[State]().
		AddNode(NodeIntentRouter, n.IntentRouter).
		AddNode(NodeClarifyIntent, n.ClarifyIntent).
		AddNode(NodeTestDesign, n.workflowNode(workflow.TestDesign)).
		AddNode(NodeRequirementReview, n.workflowNode(workflow.RequirementReview)).
		AddNode(NodeReasoning, n.Reasoning).
		AddNode(NodeArtifact, n.Artifact).
		AddEdge(NodeTestDesign, NodeReasoning).
		AddEdge(NodeRequirementReview, NodeReasoning).
		AddEdge(NodeArtifact, graph.END).
		SetEntry(NodeIntentRouter)

	return g.Compile(opts...)
}
