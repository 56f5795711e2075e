package artifact

import (
	"encoding/json"
	"fmt"
)

// Artifact keys produced by the built-in workflows.
const (
	KeyTestDesignRequirements = "test_design_requirements"
	KeyTestDesignStrategy     = "test_design_strategy"
	KeyTestDesignCases        = "test_design_cases"
	KeyTestDesignDelivery     = "test_design_delivery"

	KeyReviewIntake   = "requirement_review_intake"
	KeyReviewAnalysis = "requirement_review_analysis"
	KeyReviewReport   = "requirement_review_report"
)

// Assumption statuses.
const (
	AssumptionPending   = "pending"
	AssumptionAssumed   = "assumed"
	AssumptionConfirmed = "confirmed"
)

// Assumption priorities. P0 assumptions block leaving the clarify stage
// while pending.
const (
	PriorityP0 = "P0"
	PriorityP1 = "P1"
	PriorityP2 = "P2"
)

// Rule is a business rule captured during clarification.
type Rule struct {
	ID     string `json:"id"`
	Desc   string `json:"desc"`
	Source string `json:"source"` // "user" or "default"
}

// Assumption is an open question about the subject under test.
type Assumption struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
	Note     string `json:"note,omitempty"`
}

// Feature is a testable feature with acceptance criteria.
type Feature struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Desc       string   `json:"desc"`
	Acceptance []string `json:"acceptance,omitempty"`
	Priority   string   `json:"priority,omitempty"`
}

// RequirementDoc is the structured artifact of the clarify/intake stage.
type RequirementDoc struct {
	Scope        []string     `json:"scope,omitempty"`
	ScopeMermaid string       `json:"scope_mermaid,omitempty"`
	FlowMermaid  string       `json:"flow_mermaid,omitempty"`
	Rules        []Rule       `json:"rules,omitempty"`
	Assumptions  []Assumption `json:"assumptions,omitempty"`
	NFRMarkdown  string       `json:"nfr_markdown,omitempty"`
	Features     []Feature    `json:"features,omitempty"`
	OutOfScope   []string     `json:"out_of_scope,omitempty"`
}

// TestPointNode is a node in the recursive test-point tree.
type TestPointNode struct {
	ID       string          `json:"id"`
	Label    string          `json:"label"`
	Type     string          `json:"type"` // "group" or "point"
	Method   string          `json:"method,omitempty"`
	Priority string          `json:"priority,omitempty"`
	IsNew    bool            `json:"is_new,omitempty"`
	Children []TestPointNode `json:"children,omitempty"`
}

// DesignDoc is the structured artifact of the strategy stage.
type DesignDoc struct {
	StrategyMarkdown string          `json:"strategy_markdown,omitempty"`
	TestPoints       []TestPointNode `json:"test_points,omitempty"`
}

// CaseStep is one action/expectation pair of a test case.
type CaseStep struct {
	Action string `json:"action"`
	Expect string `json:"expect"`
}

// Case is a single executable test case.
type Case struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Precondition string     `json:"precondition,omitempty"`
	Steps        []CaseStep `json:"steps,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	Script       string     `json:"script,omitempty"`
}

// CaseStats summarizes a cases document.
type CaseStats struct {
	Total int            `json:"total"`
	ByTag map[string]int `json:"by_tag,omitempty"`
}

// CasesDoc is the structured artifact of the cases stage.
type CasesDoc struct {
	Cases []Case     `json:"cases,omitempty"`
	Stats *CaseStats `json:"stats,omitempty"`
}

// DeliveryDoc references the preceding artifacts plus a summary.
type DeliveryDoc struct {
	Summary      string   `json:"summary,omitempty"`
	ArtifactKeys []string `json:"artifact_keys,omitempty"`
}

// ComputeCaseStats derives the stats block from the case list.
func ComputeCaseStats(doc *CasesDoc) *CaseStats {
	stats := &CaseStats{Total: len(doc.Cases)}
	for _, c := range doc.Cases {
		for _, tag := range c.Tags {
			if stats.ByTag == nil {
				stats.ByTag = map[string]int{}
			}
			stats.ByTag[tag]++
		}
	}
	return stats
}

// DecodeRequirement converts a generic artifact mapping into the typed
// requirement document, ignoring transient diff markers.
func DecodeRequirement(content map[string]any) (*RequirementDoc, error) {
	var doc RequirementDoc
	if err := decodeInto(content, &doc); err != nil {
		return nil, fmt.Errorf("decode requirement document: %w", err)
	}
	return &doc, nil
}

// DecodeCases converts a generic artifact mapping into the typed cases
// document.
func DecodeCases(content map[string]any) (*CasesDoc, error) {
	var doc CasesDoc
	if err := decodeInto(content, &doc); err != nil {
		return nil, fmt.Errorf("decode cases document: %w", err)
	}
	return &doc, nil
}

// Encode converts a typed document back into the generic mapping form
// artifacts are stored in.
func Encode(doc any) (map[string]any, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return m, nil
}

func decodeInto(content map[string]any, target any) error {
	clean := StripTransient(deepCopy(content))
	data, err := json.Marshal(clean)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}
