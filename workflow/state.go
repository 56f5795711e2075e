// Package workflow defines the shared agent state, the stage plans for
// the supported workflows and the schemas the agents bind for structured
// LLM output.
package workflow

import (
	"strings"
	"time"
)

// Workflow type identifiers.
const (
	TestDesign        = "test_design"
	RequirementReview = "requirement_review"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Message is one chat turn entry in the agent state.
type Message struct {
	ID        string         `json:"id,omitempty"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
}

// AgentState is the per-thread state record. It is checkpointed after
// every super-step and must stay JSON-serializable.
type AgentState struct {
	Messages              []Message          `json:"messages"`
	CurrentWorkflow       string             `json:"current_workflow,omitempty"`
	CurrentStageID        string             `json:"current_stage_id,omitempty"`
	Plan                  []Stage            `json:"plan,omitempty"`
	ArtifactTemplates     []ArtifactTemplate `json:"artifact_templates,omitempty"`
	Artifacts             map[string]any     `json:"artifacts,omitempty"`
	PendingClarifications []string           `json:"pending_clarifications,omitempty"`
	ConsensusItems        []string           `json:"consensus_items,omitempty"`

	// Turn-scoped values handed from the reasoning node to the artifact
	// node. Never checkpointed.
	ArtifactUpdateHint   string `json:"-"`
	ShouldUpdateArtifact bool   `json:"-"`
	TransitionVetoed     bool   `json:"-"`
}

// AppendMessages is the reducer for the message list. Existing entries
// are never replaced; ids already present are skipped so replayed turns
// stay idempotent.
func (s *AgentState) AppendMessages(msgs ...Message) {
	seen := make(map[string]bool, len(s.Messages))
	for _, m := range s.Messages {
		if m.ID != "" {
			seen[m.ID] = true
		}
	}
	for _, m := range msgs {
		if m.ID != "" && seen[m.ID] {
			continue
		}
		s.Messages = append(s.Messages, m)
		if m.ID != "" {
			seen[m.ID] = true
		}
	}
}

// LastUserMessage returns the most recent user message, or false when
// the conversation has none.
func (s *AgentState) LastUserMessage() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}

// RecentHistory returns up to n trailing messages, excluding system and
// tool rows, for prompt context.
func (s *AgentState) RecentHistory(n int) []Message {
	var out []Message
	for _, m := range s.Messages {
		if m.Role == RoleSystem || m.Role == RoleTool {
			continue
		}
		out = append(out, m)
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// TemplateForStage returns the artifact template bound to a stage.
func (s *AgentState) TemplateForStage(stageID string) (ArtifactTemplate, bool) {
	for _, t := range s.ArtifactTemplates {
		if t.Stage == stageID {
			return t, true
		}
	}
	return ArtifactTemplate{}, false
}

// TemplateForKey returns the artifact template producing a key.
func (s *AgentState) TemplateForKey(key string) (ArtifactTemplate, bool) {
	for _, t := range s.ArtifactTemplates {
		if t.Key == key {
			return t, true
		}
	}
	return ArtifactTemplate{}, false
}

// IsActivationMessage reports whether content is an assistant activation
// bundle rather than a normal chat message. Activation messages are
// stored with the system role and permit a larger length limit.
func IsActivationMessage(content string) bool {
	if !strings.Contains(content, "Bundle") {
		return false
	}
	return strings.Contains(content, "activation-instructions") ||
		strings.Contains(content, "persona:")
}
