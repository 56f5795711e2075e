package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/lisa/artifact"
	"github.com/c360studio/lisa/workflow"
)

func TestStageSystemPromptComposition(t *testing.T) {
	def, err := workflow.Default(workflow.TestDesign)
	require.NoError(t, err)

	state := &workflow.AgentState{
		CurrentWorkflow:   workflow.TestDesign,
		CurrentStageID:    "clarify",
		Plan:              def.Stages,
		ArtifactTemplates: def.Templates,
		Artifacts: map[string]any{
			artifact.KeyTestDesignRequirements: map[string]any{
				"assumptions": []any{
					map[string]any{"id": "Q1", "question": "锁定时长?", "status": "pending", "priority": "P0"},
				},
			},
		},
	}

	prompt := StageSystemPrompt("lisa", def, state)

	assert.Contains(t, prompt, "Lisa")
	assert.Contains(t, prompt, "需求澄清")
	assert.Contains(t, prompt, "就绪条件")
	assert.Contains(t, prompt, "P0")
	assert.Contains(t, prompt, "Q1")
	assert.Contains(t, prompt, "update_artifact")
	assert.Contains(t, prompt, "request_transition_to")
	// One heading per fragment, no duplication.
	assert.Equal(t, 1, strings.Count(prompt, "## 角色"))
	assert.Equal(t, 1, strings.Count(prompt, "## 产物管理规则"))
}

func TestStageSystemPromptAlexIdentity(t *testing.T) {
	def, err := workflow.Default(workflow.RequirementReview)
	require.NoError(t, err)

	state := &workflow.AgentState{
		CurrentWorkflow: workflow.RequirementReview,
		CurrentStageID:  "intake",
		Plan:            def.Stages,
	}

	prompt := StageSystemPrompt("alex", def, state)
	assert.Contains(t, prompt, "Alex")
	assert.Contains(t, prompt, "需求接收")
	assert.NotContains(t, prompt, "Lisa")
}

func TestArtifactUpdatePrompt(t *testing.T) {
	tpl := workflow.ArtifactTemplate{
		Stage: "clarify",
		Key:   artifact.KeyTestDesignRequirements,
		Name:  "需求理解文档",
	}
	current := map[string]any{
		"scope": []any{"登录接口"},
	}

	prompt := ArtifactUpdatePrompt(tpl, current, "补充锁定规则")
	assert.Contains(t, prompt, artifact.KeyTestDesignRequirements)
	assert.Contains(t, prompt, "登录接口")
	assert.Contains(t, prompt, "补充锁定规则")
	assert.Contains(t, prompt, "update_artifact")

	// Hint block omitted when empty.
	noHint := ArtifactUpdatePrompt(tpl, current, "")
	assert.NotContains(t, noHint, "本轮更新要点")
}

func TestIntentRouterPrompts(t *testing.T) {
	sys := IntentRouterSystemPrompt()
	assert.Contains(t, sys, "START_TEST_DESIGN")
	assert.Contains(t, sys, "START_REQUIREMENT_REVIEW")

	plain := IntentRouterUserPrompt("帮我设计登录接口的测试", "")
	assert.NotContains(t, plain, "工作流")

	sticky := IntentRouterUserPrompt("继续", workflow.TestDesign)
	assert.Contains(t, sticky, workflow.TestDesign)
}

func TestClarifyIntentUserPromptListsOpenQuestions(t *testing.T) {
	open := []artifact.Assumption{
		{ID: "Q1", Question: "锁定多久?", Priority: artifact.PriorityP0},
		{ID: "Q2", Question: "是否需要验证码?", Priority: artifact.PriorityP1},
	}
	prompt := ClarifyIntentUserPrompt("30 分钟, 不需要验证码", open)
	assert.Contains(t, prompt, "Q1")
	assert.Contains(t, prompt, "Q2")
	assert.Contains(t, prompt, "30 分钟")
}

func TestClarifyMenuListsSixOptions(t *testing.T) {
	for _, n := range []string{"1.", "2.", "3.", "4.", "5.", "6."} {
		assert.Contains(t, ClarifyMenu, n)
	}
}
