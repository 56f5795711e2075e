package prompts

import (
	"fmt"
	"strings"

	"github.com/c360studio/lisa/artifact"
	"github.com/c360studio/lisa/workflow"
)

// StageSystemPrompt composes the full system prompt for the reasoning
// node: persona, shared fragments, the stage body with its readiness
// criteria, and the current conversation context.
func StageSystemPrompt(assistantType string, def workflow.Definition, state *workflow.AgentState) string {
	var b strings.Builder
	b.WriteString(Identity(assistantType))
	b.WriteString("\n\n")
	b.WriteString(styleFragment)
	b.WriteString("\n\n")
	b.WriteString(principlesFragment)
	b.WriteString("\n\n")
	b.WriteString(stageBody(def, state.CurrentStageID))
	b.WriteString("\n\n")
	b.WriteString(stateContext(state))
	b.WriteString("\n\n")
	b.WriteString(artifactRulesFragment)
	b.WriteString("\n\n")
	b.WriteString(transitionRulesFragment)
	b.WriteString("\n\n")
	b.WriteString(responseTemplateFragment)
	return b.String()
}

func stageBody(def workflow.Definition, stageID string) string {
	var b strings.Builder
	b.WriteString("## 当前阶段\n\n")

	idx := workflow.StageIndex(def.Stages, stageID)
	if idx >= 0 {
		b.WriteString(fmt.Sprintf("阶段 %d/%d：%s（%s）\n", idx+1, len(def.Stages), def.Stages[idx].Name, stageID))
	} else {
		b.WriteString(fmt.Sprintf("阶段：%s\n", stageID))
	}

	b.WriteString("\n阶段目标：\n")
	b.WriteString(stageGoal(def.Type, stageID))

	if criteria := def.DoR[stageID]; len(criteria) > 0 {
		b.WriteString("\n\n进入下一阶段的就绪条件：\n")
		for _, c := range criteria {
			b.WriteString("- " + c + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func stageGoal(workflowType, stageID string) string {
	switch workflowType + "/" + stageID {
	case workflow.TestDesign + "/clarify":
		return "澄清被测对象与边界，梳理主流程和业务规则，把不确定的点沉淀为带优先级的待确认问题。"
	case workflow.TestDesign + "/strategy":
		return "基于已确认的需求制定测试策略，按功能点拆解测试点树，标注测试方法与优先级。"
	case workflow.TestDesign + "/cases":
		return "把测试点落为可执行的测试用例：前置条件、步骤、预期结果、标签齐备。"
	case workflow.TestDesign + "/delivery":
		return "汇总前序产物，给出覆盖情况与风险结论，形成交付清单。"
	case workflow.RequirementReview + "/intake":
		return "收集需求材料，确认需求背景与目标，补齐材料清单。"
	case workflow.RequirementReview + "/analysis":
		return "拆解功能点，识别需求缺口、矛盾与风险，形成待确认问题列表。"
	case workflow.RequirementReview + "/report":
		return "汇总分析结论，输出带问题与建议的评审报告。"
	}
	return "围绕当前阶段的产物推进对话。"
}

func stateContext(state *workflow.AgentState) string {
	var b strings.Builder
	b.WriteString("## 当前上下文\n")

	if len(state.Plan) > 0 {
		b.WriteString("\n阶段计划：\n")
		for _, s := range state.Plan {
			b.WriteString(fmt.Sprintf("- %s（%s）: %s\n", s.Name, s.ID, s.Status))
		}
	}

	if len(state.Artifacts) > 0 {
		b.WriteString("\n已有产物：\n")
		for _, t := range state.ArtifactTemplates {
			if _, ok := state.Artifacts[t.Key]; ok {
				b.WriteString(fmt.Sprintf("- %s（%s）\n", t.Name, t.Key))
			}
		}
	}

	if blocking := workflow.BlockingQuestions(state.Artifacts); len(blocking) > 0 {
		b.WriteString("\n未解决的 P0 待确认问题：\n")
		for _, q := range blocking {
			b.WriteString(fmt.Sprintf("- [%s] %s\n", q.ID, q.Question))
		}
	}

	if len(state.PendingClarifications) > 0 {
		b.WriteString("\n待澄清事项：\n")
		for _, p := range state.PendingClarifications {
			b.WriteString("- " + p + "\n")
		}
	}
	if n := len(state.ConsensusItems); n > 0 {
		b.WriteString(fmt.Sprintf("\n已达成共识 %d 条。\n", n))
	}
	return strings.TrimRight(b.String(), "\n")
}

// ArtifactUpdatePrompt builds the prompt for the LLM-driven artifact
// update. The current artifact travels as rendered context and the
// update must come back as a single update_artifact tool call.
func ArtifactUpdatePrompt(tpl workflow.ArtifactTemplate, current any, hint string) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("更新文档「%s」（key=%s）。\n\n", tpl.Name, tpl.Key))
	b.WriteString("当前文档内容：\n\n")
	b.WriteString(artifact.RenderMarkdown(tpl.Key, current))
	b.WriteString("\n\n")
	if hint != "" {
		b.WriteString("本轮更新要点：\n" + hint + "\n\n")
	}
	b.WriteString(`要求：
- 必须调用 update_artifact 工具提交更新，不要输出正文
- 增量更新：只提交有变化的条目，带 id 的列表按 id 对齐
- 未提及的字段保持原样
- 用户已确认的问题把 status 改为 confirmed 并填写 note`)
	return b.String()
}
