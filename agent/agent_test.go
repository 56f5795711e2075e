package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/lisa/artifact"
	"github.com/c360studio/lisa/checkpoint"
	"github.com/c360studio/lisa/llm"
	"github.com/c360studio/lisa/stream"
	"github.com/c360studio/lisa/workflow"
)

// scriptedLLM serves one canned response per request, in order.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []func(w http.ResponseWriter)
	calls     int
}

func (s *scriptedLLM) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.calls >= len(s.responses) {
			t.Errorf("unexpected LLM call %d", s.calls+1)
			http.Error(w, "no scripted response", http.StatusBadRequest)
			return
		}
		s.responses[s.calls](w)
		s.calls++
	}
}

func (s *scriptedLLM) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// completion returns a non-streaming response with plain content.
func completion(content string) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		body := map[string]any{
			"choices": []any{
				map[string]any{
					"message":       map[string]any{"content": content},
					"finish_reason": "stop",
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}
}

// toolCompletion returns a non-streaming response with one tool call.
func toolCompletion(callID, name, arguments string) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		body := map[string]any{
			"choices": []any{
				map[string]any{
					"message": map[string]any{
						"content": "",
						"tool_calls": []any{
							map[string]any{
								"id": callID,
								"function": map[string]any{
									"name":      name,
									"arguments": arguments,
								},
							},
						},
					},
					"finish_reason": "tool_calls",
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}
}

// streamed returns an SSE response delivering content in two deltas.
func streamed(content string) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "text/event-stream")
		half := len(content) / 2
		for half > 0 && !utf8.RuneStart(content[half]) {
			half--
		}
		for _, part := range []string{content[:half], content[half:]} {
			chunk := map[string]any{
				"choices": []any{
					map[string]any{"delta": map[string]any{"content": part}},
				},
			}
			data, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", data)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}
}

func newTestService(t *testing.T, script *scriptedLLM) (*Service, checkpoint.Saver) {
	t.Helper()
	srv := httptest.NewServer(script.handler(t))
	t.Cleanup(srv.Close)

	client, err := llm.NewClient(llm.Endpoint{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "test-model",
	})
	require.NoError(t, err)

	saver := checkpoint.NewMemory()
	return NewService(client, saver), saver
}

func collectSink() (*[]stream.Event, stream.Sink) {
	events := &[]stream.Event{}
	var mu sync.Mutex
	return events, func(ev stream.Event) {
		mu.Lock()
		defer mu.Unlock()
		*events = append(*events, ev)
	}
}

func eventsOfType(events []stream.Event, typ string) []stream.Event {
	var out []stream.Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func textFor(events []stream.Event, id string) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Type == stream.TypeTextDelta && ev.ID == id {
			b.WriteString(ev.Delta)
		}
	}
	return b.String()
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func TestStreamTurn_UnclearInputEmitsMenu(t *testing.T) {
	script := &scriptedLLM{responses: []func(http.ResponseWriter){
		// Router classifies nothing; empty object degrades to null intent.
		completion(`{}`),
	}}
	svc, _ := newTestService(t, script)

	events, sink := collectSink()
	state, err := svc.StreamTurn(context.Background(), "s1", "lisa",
		workflow.Message{ID: "u1", Role: workflow.RoleUser, Content: "你好"}, sink)
	require.NoError(t, err)

	starts := eventsOfType(*events, stream.TypeTextStart)
	require.Len(t, starts, 1)
	menu := textFor(*events, starts[0].ID)
	assert.Contains(t, menu, "测试设计")
	assert.Contains(t, menu, "需求评审")

	assert.Empty(t, state.CurrentWorkflow)
	assert.Empty(t, state.Artifacts)
	assert.Empty(t, eventsOfType(*events, stream.TypeToolInputAvailable))
	require.Len(t, eventsOfType(*events, stream.TypeFinish), 1)
}

func TestStreamTurn_GateBlocksPrematureProceed(t *testing.T) {
	script := &scriptedLLM{responses: []func(http.ResponseWriter){
		// Router: ambiguous, sticky-continue into reasoning.
		completion(mustJSON(t, workflow.IntentResult{Intent: "null", Confidence: 0.2})),
		// Clarify classifier: user wants to proceed.
		completion(mustJSON(t, workflow.UserIntentInClarify{
			Intent:     workflow.ClarifyConfirmProceed,
			Confidence: 0.9,
		})),
	}}
	svc, saver := newTestService(t, script)

	def, err := workflow.Default(workflow.TestDesign)
	require.NoError(t, err)
	seed := &State{
		CurrentWorkflow:   workflow.TestDesign,
		CurrentStageID:    "clarify",
		Plan:              def.Stages,
		ArtifactTemplates: def.Templates,
		Artifacts: map[string]any{
			artifact.KeyTestDesignRequirements: map[string]any{
				"assumptions": []any{
					map[string]any{"id": "Q1", "question": "锁定时长是多少?", "status": "pending", "priority": "P0"},
					map[string]any{"id": "Q2", "question": "是否需要验证码?", "status": "pending", "priority": "P0"},
				},
			},
		},
	}
	require.NoError(t, checkpoint.Save(context.Background(), saver, "s1", seed))

	events, sink := collectSink()
	state, err := svc.StreamTurn(context.Background(), "s1", "lisa",
		workflow.Message{ID: "u1", Role: workflow.RoleUser, Content: "好的，继续"}, sink)
	require.NoError(t, err)

	starts := eventsOfType(*events, stream.TypeTextStart)
	require.Len(t, starts, 1)
	warning := textFor(*events, starts[0].ID)
	assert.Contains(t, warning, "Q1")
	assert.Contains(t, warning, "Q2")
	assert.Contains(t, warning, "P0")

	// Nothing advanced, nothing mutated.
	assert.Equal(t, "clarify", state.CurrentStageID)
	assert.Equal(t, seed.Artifacts, state.Artifacts)
	assert.Empty(t, eventsOfType(*events, stream.TypeToolInputAvailable))
	assert.Equal(t, 2, script.callCount())
}

func TestStreamTurn_DeterministicArtifactInit(t *testing.T) {
	reasoning := mustJSON(t, workflow.ReasoningResponse{
		Thought:              "先搭建测试策略的骨架。",
		ShouldUpdateArtifact: true,
	})
	script := &scriptedLLM{responses: []func(http.ResponseWriter){
		completion(mustJSON(t, workflow.IntentResult{Intent: "null", Confidence: 0.1})),
		streamed(reasoning),
	}}
	svc, saver := newTestService(t, script)

	def, err := workflow.Default(workflow.TestDesign)
	require.NoError(t, err)
	plan, err := workflow.AdvancePlan(def.Stages, "strategy")
	require.NoError(t, err)
	seed := &State{
		CurrentWorkflow:   workflow.TestDesign,
		CurrentStageID:    "strategy",
		Plan:              plan,
		ArtifactTemplates: def.Templates,
		Artifacts:         map[string]any{},
	}
	require.NoError(t, checkpoint.Save(context.Background(), saver, "s1", seed))

	events, sink := collectSink()
	state, err := svc.StreamTurn(context.Background(), "s1", "lisa",
		workflow.Message{ID: "u1", Role: workflow.RoleUser, Content: "开始吧"}, sink)
	require.NoError(t, err)

	inputs := eventsOfType(*events, stream.TypeToolInputAvailable)
	require.Len(t, inputs, 1)
	assert.Equal(t, UpdateArtifactTool, inputs[0].ToolName)
	args, ok := inputs[0].Input.(UpdateArtifactArgs)
	require.True(t, ok)
	assert.Equal(t, artifact.KeyTestDesignStrategy, args.Key)
	assert.Contains(t, args.MarkdownBody, "测试策略")

	outputs := eventsOfType(*events, stream.TypeToolOutputAvailable)
	require.Len(t, outputs, 1)
	assert.Equal(t, inputs[0].ToolCallID, outputs[0].ToolCallID)

	assert.Equal(t, state.Artifacts[artifact.KeyTestDesignStrategy], args.MarkdownBody)
	// Only router + reasoning hit the model; init is deterministic.
	assert.Equal(t, 2, script.callCount())
}

func TestStreamTurn_ArtifactPatchMerged(t *testing.T) {
	reasoning := mustJSON(t, workflow.ReasoningResponse{
		Thought:              "补充锁定规则。",
		ShouldUpdateArtifact: true,
		ArtifactUpdateHint:   "增加锁定规则",
	})
	patch := map[string]any{
		"key": artifact.KeyTestDesignStrategy,
		"content_patch": map[string]any{
			"strategy_markdown": "分层测试",
		},
	}
	script := &scriptedLLM{responses: []func(http.ResponseWriter){
		completion(mustJSON(t, workflow.IntentResult{Intent: "null", Confidence: 0.1})),
		streamed(reasoning),
		toolCompletion("c1", UpdateArtifactTool, mustJSON(t, patch)),
	}}
	svc, saver := newTestService(t, script)

	def, err := workflow.Default(workflow.TestDesign)
	require.NoError(t, err)
	plan, err := workflow.AdvancePlan(def.Stages, "strategy")
	require.NoError(t, err)
	seed := &State{
		CurrentWorkflow:   workflow.TestDesign,
		CurrentStageID:    "strategy",
		Plan:              plan,
		ArtifactTemplates: def.Templates,
		Artifacts: map[string]any{
			artifact.KeyTestDesignStrategy: "# 测试策略文档\n待补充",
		},
	}
	require.NoError(t, checkpoint.Save(context.Background(), saver, "s1", seed))

	events, sink := collectSink()
	state, err := svc.StreamTurn(context.Background(), "s1", "lisa",
		workflow.Message{ID: "u1", Role: workflow.RoleUser, Content: "用分层测试"}, sink)
	require.NoError(t, err)

	content, ok := state.Artifacts[artifact.KeyTestDesignStrategy].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "分层测试", content["strategy_markdown"])

	outputs := eventsOfType(*events, stream.TypeToolOutputAvailable)
	require.Len(t, outputs, 1)
	assert.Equal(t, "c1", outputs[0].ToolCallID)
	assert.Equal(t, "ok", outputs[0].Output)

	// Final progress snapshot carries the merged artifact.
	progress := eventsOfType(*events, stream.TypeProgress)
	require.NotEmpty(t, progress)
	last := progress[len(progress)-1]
	assert.Contains(t, last.Data.Artifacts, artifact.KeyTestDesignStrategy)
}

func TestStreamTurn_MalformedToolArgsRefused(t *testing.T) {
	reasoning := mustJSON(t, workflow.ReasoningResponse{
		Thought:              "更新一下。",
		ShouldUpdateArtifact: true,
	})
	script := &scriptedLLM{responses: []func(http.ResponseWriter){
		completion(mustJSON(t, workflow.IntentResult{Intent: "null", Confidence: 0.1})),
		streamed(reasoning),
		toolCompletion("c1", UpdateArtifactTool, `{"markdown_body": "missing key"}`),
	}}
	svc, saver := newTestService(t, script)

	def, err := workflow.Default(workflow.TestDesign)
	require.NoError(t, err)
	plan, err := workflow.AdvancePlan(def.Stages, "strategy")
	require.NoError(t, err)
	original := "# 原始内容"
	seed := &State{
		CurrentWorkflow:   workflow.TestDesign,
		CurrentStageID:    "strategy",
		Plan:              plan,
		ArtifactTemplates: def.Templates,
		Artifacts: map[string]any{
			artifact.KeyTestDesignStrategy: original,
		},
	}
	require.NoError(t, checkpoint.Save(context.Background(), saver, "s1", seed))

	events, sink := collectSink()
	state, err := svc.StreamTurn(context.Background(), "s1", "lisa",
		workflow.Message{ID: "u1", Role: workflow.RoleUser, Content: "改一下"}, sink)
	require.NoError(t, err)

	// Artifact untouched, safe error surfaced through the tool output.
	assert.Equal(t, original, state.Artifacts[artifact.KeyTestDesignStrategy])
	outputs := eventsOfType(*events, stream.TypeToolOutputAvailable)
	require.Len(t, outputs, 1)
	out, ok := outputs[0].Output.(string)
	require.True(t, ok)
	assert.Contains(t, out, "未被接受")
}

func TestStreamTurn_WorkflowStartInitializesPlan(t *testing.T) {
	reasoning := mustJSON(t, workflow.ReasoningResponse{
		Thought: "我们先澄清需求。",
	})
	script := &scriptedLLM{responses: []func(http.ResponseWriter){
		completion(mustJSON(t, workflow.IntentResult{
			Intent:     workflow.IntentStartTestDesign,
			Confidence: 0.95,
		})),
		// Clarify classifier runs because the seeded stage is clarify.
		completion(mustJSON(t, workflow.UserIntentInClarify{
			Intent:     workflow.ClarifyProvideMaterial,
			Confidence: 0.9,
		})),
		streamed(reasoning),
	}}
	svc, _ := newTestService(t, script)

	events, sink := collectSink()
	state, err := svc.StreamTurn(context.Background(), "s1", "lisa",
		workflow.Message{ID: "u1", Role: workflow.RoleUser, Content: "帮我设计登录接口的测试"}, sink)
	require.NoError(t, err)

	assert.Equal(t, workflow.TestDesign, state.CurrentWorkflow)
	assert.Equal(t, "clarify", state.CurrentStageID)
	require.Len(t, state.Plan, 4)
	assert.Equal(t, workflow.StageActive, state.Plan[0].Status)
	require.NoError(t, workflow.ValidatePlan(state.Plan))

	// Deterministic init produced the requirements skeleton.
	inputs := eventsOfType(*events, stream.TypeToolInputAvailable)
	require.Len(t, inputs, 1)
	args, ok := inputs[0].Input.(UpdateArtifactArgs)
	require.True(t, ok)
	assert.Equal(t, artifact.KeyTestDesignRequirements, args.Key)

	// Progress events include the four-stage strip.
	progress := eventsOfType(*events, stream.TypeProgress)
	require.NotEmpty(t, progress)
	require.Len(t, progress[0].Data.Stages, 4)
	assert.Equal(t, "clarify", progress[0].Data.Stages[0].ID)
	assert.Equal(t, workflow.StageActive, progress[0].Data.Stages[0].Status)
}

func TestStreamTurn_TransitionAdvancesStage(t *testing.T) {
	reasoning := mustJSON(t, workflow.ReasoningResponse{
		Thought:             "需求已确认，进入测试策略阶段。",
		RequestTransitionTo: "strategy",
	})
	script := &scriptedLLM{responses: []func(http.ResponseWriter){
		completion(mustJSON(t, workflow.IntentResult{Intent: "null", Confidence: 0.1})),
		// No open P0 questions: proceed is allowed.
		completion(mustJSON(t, workflow.UserIntentInClarify{
			Intent:     workflow.ClarifyConfirmProceed,
			Confidence: 0.95,
		})),
		streamed(reasoning),
	}}
	svc, saver := newTestService(t, script)

	def, err := workflow.Default(workflow.TestDesign)
	require.NoError(t, err)
	seed := &State{
		CurrentWorkflow:   workflow.TestDesign,
		CurrentStageID:    "clarify",
		Plan:              def.Stages,
		ArtifactTemplates: def.Templates,
		Artifacts: map[string]any{
			artifact.KeyTestDesignRequirements: map[string]any{
				"assumptions": []any{
					map[string]any{"id": "Q1", "question": "锁定时长?", "status": "confirmed", "priority": "P0"},
				},
			},
		},
	}
	require.NoError(t, checkpoint.Save(context.Background(), saver, "s1", seed))

	events, sink := collectSink()
	state, err := svc.StreamTurn(context.Background(), "s1", "lisa",
		workflow.Message{ID: "u1", Role: workflow.RoleUser, Content: "全部确认，进入策略阶段"}, sink)
	require.NoError(t, err)

	assert.Equal(t, "strategy", state.CurrentStageID)
	require.NoError(t, workflow.ValidatePlan(state.Plan))
	assert.Equal(t, workflow.StageCompleted, state.Plan[0].Status)
	assert.Equal(t, workflow.StageActive, state.Plan[1].Status)

	// Entering strategy initializes its outline deterministically.
	inputs := eventsOfType(*events, stream.TypeToolInputAvailable)
	require.Len(t, inputs, 1)
	args, ok := inputs[0].Input.(UpdateArtifactArgs)
	require.True(t, ok)
	assert.Equal(t, artifact.KeyTestDesignStrategy, args.Key)
	assert.Equal(t, 3, script.callCount())
}

func TestStreamTurn_TransitionPatchesEarlierArtifact(t *testing.T) {
	reasoning := mustJSON(t, workflow.ReasoningResponse{
		Thought:              "确认假设，进入测试策略阶段。",
		RequestTransitionTo:  "strategy",
		ShouldUpdateArtifact: true,
		ArtifactUpdateHint:   "将 Q1 标记为已确认",
	})
	patch := map[string]any{
		"key": artifact.KeyTestDesignRequirements,
		"content_patch": map[string]any{
			"assumptions": []any{
				map[string]any{"id": "Q1", "status": "confirmed"},
			},
		},
	}
	script := &scriptedLLM{responses: []func(http.ResponseWriter){
		completion(mustJSON(t, workflow.IntentResult{Intent: "null", Confidence: 0.1})),
		completion(mustJSON(t, workflow.UserIntentInClarify{
			Intent:     workflow.ClarifyConfirmProceed,
			Confidence: 0.95,
		})),
		streamed(reasoning),
		toolCompletion("c1", UpdateArtifactTool, mustJSON(t, patch)),
	}}
	svc, saver := newTestService(t, script)

	def, err := workflow.Default(workflow.TestDesign)
	require.NoError(t, err)
	seed := &State{
		CurrentWorkflow:   workflow.TestDesign,
		CurrentStageID:    "clarify",
		Plan:              def.Stages,
		ArtifactTemplates: def.Templates,
		Artifacts: map[string]any{
			artifact.KeyTestDesignRequirements: map[string]any{
				"assumptions": []any{
					map[string]any{"id": "Q1", "question": "锁定时长?", "status": "pending", "priority": "P1"},
				},
			},
		},
	}
	require.NoError(t, checkpoint.Save(context.Background(), saver, "s1", seed))

	events, sink := collectSink()
	state, err := svc.StreamTurn(context.Background(), "s1", "lisa",
		workflow.Message{ID: "u1", Role: workflow.RoleUser, Content: "确认，进入下一阶段"}, sink)
	require.NoError(t, err)
	assert.Equal(t, "strategy", state.CurrentStageID)

	// The confirmation patch lands on the clarify artifact even though
	// the stage already advanced.
	reqs, ok := state.Artifacts[artifact.KeyTestDesignRequirements].(map[string]any)
	require.True(t, ok)
	assumptions, ok := reqs["assumptions"].([]any)
	require.True(t, ok)
	require.Len(t, assumptions, 1)
	q1, ok := assumptions[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "confirmed", q1["status"])
	prev, ok := q1[artifact.PrevKey].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "pending", prev["status"])

	// The new stage's outline initializes in the same turn.
	outline, ok := state.Artifacts[artifact.KeyTestDesignStrategy].(string)
	require.True(t, ok)
	assert.Contains(t, outline, "测试策略")

	inputs := eventsOfType(*events, stream.TypeToolInputAvailable)
	require.Len(t, inputs, 2)
	assert.Equal(t, 4, script.callCount())
}

func TestApplyUpdateHonorsCrossKeyTarget(t *testing.T) {
	n := NewNodes(nil, "lisa", nil)
	def, err := workflow.Default(workflow.TestDesign)
	require.NoError(t, err)

	state := &State{
		ArtifactTemplates: def.Templates,
		Artifacts: map[string]any{
			artifact.KeyTestDesignRequirements: map[string]any{"summary": "旧摘要"},
			artifact.KeyTestDesignStrategy:     "# 测试策略文档",
		},
	}
	target, ok := state.TemplateForStage("strategy")
	require.True(t, ok)

	// The call names the requirements key while strategy is current.
	key, next, err := n.applyUpdate(state, target, &UpdateArtifactArgs{
		Key:          artifact.KeyTestDesignRequirements,
		ContentPatch: map[string]any{"summary": "新摘要"},
	})
	require.NoError(t, err)
	assert.Equal(t, artifact.KeyTestDesignRequirements, key)
	merged, ok := next.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "新摘要", merged["summary"])

	// Unknown keys and uninitialized artifacts are refused.
	_, _, err = n.applyUpdate(state, target, &UpdateArtifactArgs{
		Key:          "no_such_doc",
		MarkdownBody: "x",
	})
	assert.Error(t, err)

	delete(state.Artifacts, artifact.KeyTestDesignRequirements)
	_, _, err = n.applyUpdate(state, target, &UpdateArtifactArgs{
		Key:          artifact.KeyTestDesignRequirements,
		ContentPatch: map[string]any{"summary": "新摘要"},
	})
	assert.Error(t, err)
}

func TestStreamTurn_UpdateUnknownKeyRefused(t *testing.T) {
	reasoning := mustJSON(t, workflow.ReasoningResponse{
		Thought:              "更新一下。",
		ShouldUpdateArtifact: true,
	})
	script := &scriptedLLM{responses: []func(http.ResponseWriter){
		completion(mustJSON(t, workflow.IntentResult{Intent: "null", Confidence: 0.1})),
		streamed(reasoning),
		toolCompletion("c1", UpdateArtifactTool, `{"key": "no_such_doc", "markdown_body": "x"}`),
	}}
	svc, saver := newTestService(t, script)

	def, err := workflow.Default(workflow.TestDesign)
	require.NoError(t, err)
	plan, err := workflow.AdvancePlan(def.Stages, "strategy")
	require.NoError(t, err)
	original := "# 原始内容"
	seed := &State{
		CurrentWorkflow:   workflow.TestDesign,
		CurrentStageID:    "strategy",
		Plan:              plan,
		ArtifactTemplates: def.Templates,
		Artifacts: map[string]any{
			artifact.KeyTestDesignStrategy: original,
		},
	}
	require.NoError(t, checkpoint.Save(context.Background(), saver, "s1", seed))

	events, sink := collectSink()
	state, err := svc.StreamTurn(context.Background(), "s1", "lisa",
		workflow.Message{ID: "u1", Role: workflow.RoleUser, Content: "改一下"}, sink)
	require.NoError(t, err)

	assert.Equal(t, original, state.Artifacts[artifact.KeyTestDesignStrategy])
	outputs := eventsOfType(*events, stream.TypeToolOutputAvailable)
	require.Len(t, outputs, 1)
	out, ok := outputs[0].Output.(string)
	require.True(t, ok)
	assert.Contains(t, out, "未被接受")
}

func TestStreamTurn_ResumesFromCheckpoint(t *testing.T) {
	script := &scriptedLLM{responses: []func(http.ResponseWriter){
		completion(`{}`),
	}}
	svc, saver := newTestService(t, script)

	seed := &State{}
	seed.AppendMessages(
		workflow.Message{ID: "u0", Role: workflow.RoleUser, Content: "earlier"},
		workflow.Message{ID: "a0", Role: workflow.RoleAssistant, Content: "reply"},
	)
	require.NoError(t, checkpoint.Save(context.Background(), saver, "s1", seed))

	_, sink := collectSink()
	state, err := svc.StreamTurn(context.Background(), "s1", "lisa",
		workflow.Message{ID: "u1", Role: workflow.RoleUser, Content: "你好"}, sink)
	require.NoError(t, err)

	// Prior history loaded, new user message appended.
	require.GreaterOrEqual(t, len(state.Messages), 3)
	assert.Equal(t, "u0", state.Messages[0].ID)
	assert.Equal(t, "u1", state.Messages[2].ID)
}

func TestParseUpdateArtifactArgs(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{
			name: "markdown body",
			raw:  `{"key": "test_design_strategy", "markdown_body": "# 文档"}`,
		},
		{
			name: "content patch",
			raw:  `{"key": "test_design_requirements", "content_patch": {"scope": ["登录"]}}`,
		},
		{
			name:    "missing key",
			raw:     `{"markdown_body": "# 文档"}`,
			wantErr: true,
		},
		{
			name:    "neither body nor patch",
			raw:     `{"key": "test_design_strategy"}`,
			wantErr: true,
		},
		{
			name:    "both body and patch",
			raw:     `{"key": "k", "markdown_body": "x", "content_patch": {}}`,
			wantErr: true,
		},
		{
			name:    "not json",
			raw:     `not json at all`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := ParseUpdateArtifactArgs(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, args.Key)
		})
	}
}

func TestFencedBlock(t *testing.T) {
	body := fencedBlock("说明\n```markdown\n# 标题\n内容\n```\n尾部")
	assert.Equal(t, "# 标题\n内容", body)

	assert.Empty(t, fencedBlock("no fence here"))
	assert.Empty(t, fencedBlock("```unterminated"))
}
