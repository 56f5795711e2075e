package workflow

import (
	"github.com/c360studio/lisa/artifact"
)

// Workflow intents the router classifies messages into.
const (
	IntentStartTestDesign        = "START_TEST_DESIGN"
	IntentStartRequirementReview = "START_REQUIREMENT_REVIEW"
)

// User intents inside the clarify stage.
const (
	ClarifyProvideMaterial = "provide_material"
	ClarifyAnswerQuestion  = "answer_question"
	ClarifyConfirmProceed  = "confirm_proceed"
	ClarifyNeedMoreClarify = "need_more_clarify"
	ClarifyAcceptRisk      = "accept_risk"
	ClarifyChangeScope     = "change_scope"
	ClarifyOffTopic        = "off_topic"
)

// IntentResult is the structured output of the workflow router.
type IntentResult struct {
	Intent        string   `json:"intent"`
	Confidence    float64  `json:"confidence"`
	Entities      []string `json:"entities,omitempty"`
	Reason        string   `json:"reason,omitempty"`
	Clarification string   `json:"clarification,omitempty"`
}

// WorkflowType maps the classified intent to a workflow type, or ""
// when the intent does not name one.
func (r IntentResult) WorkflowType() string {
	switch r.Intent {
	case IntentStartTestDesign:
		return TestDesign
	case IntentStartRequirementReview:
		return RequirementReview
	}
	return ""
}

// UserIntentInClarify is the structured output of the clarify-stage
// message classifier.
type UserIntentInClarify struct {
	Intent              string   `json:"intent"`
	Confidence          float64  `json:"confidence"`
	AnsweredQuestionIDs []string `json:"answered_question_ids,omitempty"`
	ExtractedInfo       string   `json:"extracted_info,omitempty"`
}

// ReasoningResponse is the structured output streamed by the reasoning
// node. Thought is forwarded as text deltas while it grows.
type ReasoningResponse struct {
	Thought              string `json:"thought"`
	ProgressStep         string `json:"progress_step,omitempty"`
	ShouldUpdateArtifact bool   `json:"should_update_artifact"`
	RequestTransitionTo  string `json:"request_transition_to,omitempty"`
	ArtifactUpdateHint   string `json:"artifact_update_hint,omitempty"`
}

// BlockingQuestions extracts the unresolved P0 assumptions from the
// requirements artifact. Their presence keeps the conversation in the
// clarify stage.
func BlockingQuestions(artifacts map[string]any) []artifact.Assumption {
	content, ok := artifacts[artifact.KeyTestDesignRequirements].(map[string]any)
	if !ok {
		return nil
	}
	doc, err := artifact.DecodeRequirement(content)
	if err != nil {
		return nil
	}
	var blocking []artifact.Assumption
	for _, a := range doc.Assumptions {
		if a.Priority == artifact.PriorityP0 && a.Status == artifact.AssumptionPending {
			blocking = append(blocking, a)
		}
	}
	return blocking
}
