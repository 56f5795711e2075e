package workflow

import (
	"fmt"

	"github.com/c360studio/lisa/artifact"
)

// Definition is one workflow's static shape: the ordered stages, the
// artifact each stage produces and the per-stage readiness criteria.
type Definition struct {
	Type      string
	Stages    []Stage
	Templates []ArtifactTemplate
	DoR       map[string][]string
}

// KnownWorkflow reports whether a workflow type has a definition.
func KnownWorkflow(workflowType string) bool {
	switch workflowType {
	case TestDesign, RequirementReview:
		return true
	}
	return false
}

// Default returns the definition for a workflow type. The plan comes
// back with the first stage active.
func Default(workflowType string) (Definition, error) {
	switch workflowType {
	case TestDesign:
		return testDesignDefinition(), nil
	case RequirementReview:
		return requirementReviewDefinition(), nil
	}
	return Definition{}, fmt.Errorf("unknown workflow type %q", workflowType)
}

// Initialize seeds the plan, templates and stage id on a state that has
// no workflow shape yet. Returns false when the state was already
// initialized.
func Initialize(s *AgentState, workflowType string) (bool, error) {
	if len(s.Plan) > 0 && len(s.ArtifactTemplates) > 0 {
		return false, nil
	}
	def, err := Default(workflowType)
	if err != nil {
		return false, err
	}
	s.CurrentWorkflow = workflowType
	s.Plan = def.Stages
	s.ArtifactTemplates = def.Templates
	s.CurrentStageID = def.Stages[0].ID
	if s.Artifacts == nil {
		s.Artifacts = make(map[string]any)
	}
	return true, nil
}

func testDesignDefinition() Definition {
	return Definition{
		Type: TestDesign,
		Stages: []Stage{
			{ID: "clarify", Name: "需求澄清", Status: StageActive},
			{ID: "strategy", Name: "测试策略", Status: StagePending},
			{ID: "cases", Name: "用例设计", Status: StagePending},
			{ID: "delivery", Name: "交付评审", Status: StagePending},
		},
		Templates: []ArtifactTemplate{
			{
				Stage:   "clarify",
				Key:     artifact.KeyTestDesignRequirements,
				Name:    "需求理解文档",
				Outline: requirementsOutline,
			},
			{
				Stage:   "strategy",
				Key:     artifact.KeyTestDesignStrategy,
				Name:    "测试策略文档",
				Outline: strategyOutline,
			},
			{
				Stage:   "cases",
				Key:     artifact.KeyTestDesignCases,
				Name:    "测试用例集",
				Outline: casesOutline,
			},
			{
				Stage:   "delivery",
				Key:     artifact.KeyTestDesignDelivery,
				Name:    "交付清单",
				Outline: deliveryOutline,
			},
		},
		DoR: map[string][]string{
			"clarify": {
				"被测对象及其边界已识别",
				"主流程可以画出完整的流程图",
				"没有未解决的 P0 级待确认问题",
			},
			"strategy": {
				"测试范围与分层策略已确认",
				"测试点树覆盖全部已确认功能点",
			},
			"cases": {
				"每个测试点至少对应一条用例",
				"P0 用例包含完整的步骤与预期",
			},
			"delivery": {
				"前序产物齐备且已评审",
			},
		},
	}
}

func requirementReviewDefinition() Definition {
	return Definition{
		Type: RequirementReview,
		Stages: []Stage{
			{ID: "intake", Name: "需求接收", Status: StageActive},
			{ID: "analysis", Name: "需求分析", Status: StagePending},
			{ID: "report", Name: "评审报告", Status: StagePending},
		},
		Templates: []ArtifactTemplate{
			{
				Stage:   "intake",
				Key:     artifact.KeyReviewIntake,
				Name:    "需求接收记录",
				Outline: intakeOutline,
			},
			{
				Stage:   "analysis",
				Key:     artifact.KeyReviewAnalysis,
				Name:    "需求分析文档",
				Outline: analysisOutline,
			},
			{
				Stage:   "report",
				Key:     artifact.KeyReviewReport,
				Name:    "需求评审报告",
				Outline: reportOutline,
			},
		},
		DoR: map[string][]string{
			"intake": {
				"需求材料已收集齐全",
				"需求背景与目标已明确",
			},
			"analysis": {
				"功能点拆解完成",
				"没有未解决的 P0 级待确认问题",
			},
			"report": {
				"分析结论已与用户确认",
			},
		},
	}
}

// Stage outline skeletons injected on deterministic artifact init.
const (
	requirementsOutline = `# 需求理解文档

## 测试范围
待补充

## 主流程
待补充

## 业务规则
待补充

## 待确认问题
待补充
`

	strategyOutline = `# 测试策略文档

## 总体策略
待补充

## 测试点
待补充
`

	casesOutline = `# 测试用例集

## 用例列表
待补充
`

	deliveryOutline = `# 交付清单

## 产物汇总
待补充

## 结论
待补充
`

	intakeOutline = `# 需求接收记录

## 需求背景
待补充

## 材料清单
待补充
`

	analysisOutline = `# 需求分析文档

## 功能点拆解
待补充

## 待确认问题
待补充
`

	reportOutline = `# 需求评审报告

## 评审结论
待补充

## 问题与建议
待补充
`
)
