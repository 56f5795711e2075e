package prompts

import (
	"fmt"
	"strings"

	"github.com/c360studio/lisa/artifact"
)

// IntentRouterSystemPrompt returns the system prompt for classifying a
// user message to a workflow.
func IntentRouterSystemPrompt() string {
	return `你是一个意图分类器。判断用户消息想启动哪类工作流：

- START_TEST_DESIGN：用户想做测试设计（设计测试用例、制定测试策略、
  针对某个功能/接口/系统的测试）
- START_REQUIREMENT_REVIEW：用户想做需求评审（分析需求文档、评审需求、
  找需求里的问题）
- null：无法判断

输出 JSON：
- intent: 上述三者之一
- confidence: 0 到 1 的置信度
- entities: 消息中提到的被测对象或需求对象
- reason: 一句话判断依据
- clarification: intent 为 null 时，给用户的一句澄清提问（可选）

只做分类，不要回答用户的问题。`
}

// IntentRouterUserPrompt formats the message to classify, with the
// active workflow as context for sticky continuation.
func IntentRouterUserPrompt(message, currentWorkflow string) string {
	if currentWorkflow == "" {
		return fmt.Sprintf("用户消息：\n%s", message)
	}
	return fmt.Sprintf("当前已在工作流 %s 中。\n\n用户消息：\n%s", currentWorkflow, message)
}

// ClarifyIntentSystemPrompt returns the system prompt for classifying a
// user message inside the clarify stage.
func ClarifyIntentSystemPrompt() string {
	return `你是需求澄清阶段的意图分类器。判断用户这条消息属于哪种情况：

- provide_material：提供了新的需求材料或补充信息
- answer_question：回答了此前提出的待确认问题
- confirm_proceed：确认当前内容、要求进入下一阶段
- need_more_clarify：希望继续澄清、提出新的疑问
- accept_risk：明确表示接受某个风险、跳过某个问题
- change_scope：调整了范围（新增或移除内容）
- off_topic：与当前工作无关

输出 JSON：
- intent: 上述之一
- confidence: 0 到 1
- answered_question_ids: 被这条消息回答的问题 id 列表
- extracted_info: 从消息中提取出的关键信息摘要

只做分类，不要回答用户的问题。`
}

// ClarifyIntentUserPrompt formats the message plus the open questions so
// the classifier can match answers to question ids.
func ClarifyIntentUserPrompt(message string, open []artifact.Assumption) string {
	var b strings.Builder
	if len(open) > 0 {
		b.WriteString("当前待确认问题：\n")
		for _, q := range open {
			b.WriteString(fmt.Sprintf("- [%s] (%s) %s\n", q.ID, q.Priority, q.Question))
		}
		b.WriteString("\n")
	}
	b.WriteString("用户消息：\n" + message)
	return b.String()
}

// ClarifyMenu is the fixed reply emitted when no workflow can be
// inferred from the conversation.
const ClarifyMenu = `我可以帮你完成以下工作，请告诉我你想做哪一种：

1. 测试设计：针对某个功能或接口设计完整的测试用例
2. 测试策略：为一个系统或版本制定测试策略
3. 需求评审：分析需求文档，找出缺口和风险
4. 需求澄清：梳理一段需求描述中的模糊点
5. 用例补充：在已有用例集上补充遗漏场景
6. 其他：直接描述你的诉求

直接把需求材料发给我也可以，我会自动判断该怎么处理。`
