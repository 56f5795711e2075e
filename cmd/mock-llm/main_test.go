package main

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestLoadFixtures_BaseOnly(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "mock-lisa.json", `{"intent":"START_TEST_DESIGN","confidence":0.95}`)
	writeFixture(t, dir, "mock-alex.json", `{"intent":"START_REQUIREMENT_REVIEW","confidence":0.9}`)

	fixtures, err := loadFixtures(dir)
	if err != nil {
		t.Fatalf("loadFixtures: %v", err)
	}

	if len(fixtures) != 2 {
		t.Fatalf("expected 2 models, got %d", len(fixtures))
	}

	for model, seq := range fixtures {
		if len(seq) != 1 {
			t.Errorf("model %q: expected 1 fixture, got %d", model, len(seq))
		}
	}
}

func TestLoadFixtures_Sequential(t *testing.T) {
	dir := t.TempDir()

	// One scripted turn: router, clarify classifier, reasoning
	writeFixture(t, dir, "mock-lisa.1.json", `{"intent":"START_TEST_DESIGN","confidence":0.95}`)
	writeFixture(t, dir, "mock-lisa.2.json", `{"intent":"provide_material","confidence":0.9}`)
	// Base fallback
	writeFixture(t, dir, "mock-lisa.json", `{"thought":"fallback"}`)

	writeFixture(t, dir, "mock-alex.json", `{"intent":"START_REQUIREMENT_REVIEW"}`)

	fixtures, err := loadFixtures(dir)
	if err != nil {
		t.Fatalf("loadFixtures: %v", err)
	}

	lisaSeq := fixtures["mock-lisa"]
	if len(lisaSeq) != 3 {
		t.Fatalf("mock-lisa: expected 3 fixtures, got %d", len(lisaSeq))
	}

	// Numbered first in order, base last
	if !strings.Contains(lisaSeq[0], "START_TEST_DESIGN") {
		t.Errorf("fixture[0] should be the router fixture, got: %s", lisaSeq[0])
	}
	if !strings.Contains(lisaSeq[1], "provide_material") {
		t.Errorf("fixture[1] should be the clarify fixture, got: %s", lisaSeq[1])
	}
	if !strings.Contains(lisaSeq[2], "fallback") {
		t.Errorf("fixture[2] should be the base fallback, got: %s", lisaSeq[2])
	}

	alexSeq := fixtures["mock-alex"]
	if len(alexSeq) != 1 {
		t.Fatalf("mock-alex: expected 1 fixture, got %d", len(alexSeq))
	}
}

func TestLoadFixtures_EmptyDir(t *testing.T) {
	dir := t.TempDir()

	_, err := loadFixtures(dir)
	if err == nil {
		t.Fatal("expected error for empty directory")
	}
}

func TestSequentialFixtureSelection(t *testing.T) {
	fixtures := map[string][]string{
		"mock-lisa": {
			`{"intent":"START_TEST_DESIGN"}`,
			`{"thought":"先梳理需求"}`,
		},
		"mock-alex": {
			`{"intent":"START_REQUIREMENT_REVIEW"}`,
		},
	}

	s := newServer(fixtures)

	resp1 := doCompletion(t, s, "mock-lisa")
	if !strings.Contains(resp1, "START_TEST_DESIGN") {
		t.Errorf("call 1: expected router fixture, got: %s", resp1)
	}

	resp2 := doCompletion(t, s, "mock-lisa")
	if !strings.Contains(resp2, "先梳理需求") {
		t.Errorf("call 2: expected reasoning fixture, got: %s", resp2)
	}

	// Beyond the sequence the last fixture repeats
	resp3 := doCompletion(t, s, "mock-lisa")
	if !strings.Contains(resp3, "先梳理需求") {
		t.Errorf("call 3: expected repeat of last fixture, got: %s", resp3)
	}

	// Counters are per model
	alexResp := doCompletion(t, s, "mock-alex")
	if !strings.Contains(alexResp, "START_REQUIREMENT_REVIEW") {
		t.Errorf("alex: expected first fixture, got: %s", alexResp)
	}
}

func TestStatsEndpoint(t *testing.T) {
	fixtures := map[string][]string{
		"mock-lisa": {`{"thought":"ok"}`},
		"mock-alex": {`{"thought":"ok"}`},
	}

	s := newServer(fixtures)

	doCompletion(t, s, "mock-lisa")
	doCompletion(t, s, "mock-lisa")
	doCompletion(t, s, "mock-alex")

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	s.handleStats(w, req)

	var stats struct {
		TotalCalls   int64            `json:"total_calls"`
		CallsByModel map[string]int64 `json:"calls_by_model"`
	}
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}

	if stats.TotalCalls != 3 {
		t.Errorf("total_calls: expected 3, got %d", stats.TotalCalls)
	}
	if stats.CallsByModel["mock-lisa"] != 2 {
		t.Errorf("mock-lisa calls: expected 2, got %d", stats.CallsByModel["mock-lisa"])
	}
	if stats.CallsByModel["mock-alex"] != 1 {
		t.Errorf("mock-alex calls: expected 1, got %d", stats.CallsByModel["mock-alex"])
	}
}

func TestStripMockPrefix(t *testing.T) {
	fixtures := map[string][]string{
		"lisa": {`{"thought":"resolved"}`},
	}

	s := newServer(fixtures)

	resp := doCompletion(t, s, "mock-lisa")
	if !strings.Contains(resp, "resolved") {
		t.Errorf("expected mock-prefix stripping to resolve, got: %s", resp)
	}
}

func TestNumberedFileRegex(t *testing.T) {
	tests := []struct {
		filename string
		wantBase string
		wantNum  string
		match    bool
	}{
		{"mock-lisa.1.json", "mock-lisa", "1", true},
		{"mock-lisa.2.json", "mock-lisa", "2", true},
		{"mock-lisa.10.json", "mock-lisa", "10", true},
		{"mock-lisa.json", "", "", false},
		{"mock-alex.json", "", "", false},
	}

	for _, tt := range tests {
		matches := numberedFileRe.FindStringSubmatch(tt.filename)
		if tt.match {
			if matches == nil {
				t.Errorf("%s: expected match, got nil", tt.filename)
				continue
			}
			if matches[1] != tt.wantBase {
				t.Errorf("%s: base=%q, want %q", tt.filename, matches[1], tt.wantBase)
			}
			if matches[2] != tt.wantNum {
				t.Errorf("%s: num=%q, want %q", tt.filename, matches[2], tt.wantNum)
			}
		} else {
			if matches != nil {
				t.Errorf("%s: expected no match, got %v", tt.filename, matches)
			}
		}
	}
}

func TestToolCallFixture(t *testing.T) {
	toolFixture := `{
		"content": "",
		"tool_calls": [
			{
				"id": "call_123",
				"type": "function",
				"function": {
					"name": "update_artifact",
					"arguments": "{\"artifact_key\":\"test_design_requirements\",\"markdown_body\":\"# 需求梳理\"}"
				}
			}
		],
		"finish_reason": "tool_calls"
	}`

	fixtures := map[string][]string{
		"mock-lisa": {toolFixture},
	}

	s := newServer(fixtures)

	body := strings.NewReader(`{
		"model": "mock-lisa",
		"messages": [{"role": "user", "content": "更新需求文档"}],
		"tools": [{"type": "function", "function": {"name": "update_artifact", "parameters": {}}}]
	}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	w := httptest.NewRecorder()
	s.handleChatCompletions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d, body: %s", w.Code, w.Body.String())
	}

	var resp chatResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if len(resp.Choices) == 0 {
		t.Fatal("no choices in response")
	}

	choice := resp.Choices[0]
	if choice.FinishReason != "tool_calls" {
		t.Errorf("finish_reason: expected 'tool_calls', got %q", choice.FinishReason)
	}
	if len(choice.Message.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool_call, got %d", len(choice.Message.ToolCalls))
	}

	tc := choice.Message.ToolCalls[0]
	if tc.ID != "call_123" {
		t.Errorf("tool_call.id: expected 'call_123', got %q", tc.ID)
	}
	if tc.Function.Name != "update_artifact" {
		t.Errorf("tool_call.function.name: expected 'update_artifact', got %q", tc.Function.Name)
	}
	if !strings.Contains(tc.Function.Arguments, "test_design_requirements") {
		t.Errorf("tool_call.function.arguments: expected artifact key, got %q", tc.Function.Arguments)
	}
}

func TestPlainFixtureUnchanged(t *testing.T) {
	// A fixture without content/tool_calls keys is returned verbatim,
	// which is how router and reasoning fixtures are written.
	fixtures := map[string][]string{
		"mock-lisa": {`{"thought":"先确认范围","progress_step":"需求梳理"}`},
	}

	s := newServer(fixtures)
	resp := doCompletionFull(t, s, "mock-lisa", `[{"role":"user","content":"开始"}]`)

	if resp.Choices[0].FinishReason != "stop" {
		t.Errorf("expected finish_reason=stop, got %q", resp.Choices[0].FinishReason)
	}
	if len(resp.Choices[0].Message.ToolCalls) != 0 {
		t.Errorf("expected no tool_calls for plain fixture")
	}
	if !strings.Contains(resp.Choices[0].Message.Content, "progress_step") {
		t.Errorf("expected verbatim fixture content, got %q", resp.Choices[0].Message.Content)
	}
}

func TestStreamingResponse(t *testing.T) {
	content := `{"thought":"我先梳理登录模块的需求，再给出测试范围。"}`
	fixtures := map[string][]string{
		"mock-lisa": {content},
	}

	s := newServer(fixtures)

	body := strings.NewReader(`{"model":"mock-lisa","messages":[{"role":"user","content":"开始"}],"stream":true}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	w := httptest.NewRecorder()
	s.handleChatCompletions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d, body: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Fatalf("expected SSE content type, got %q", ct)
	}

	var assembled strings.Builder
	sawDone := false
	scanner := bufio.NewScanner(w.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			sawDone = true
			break
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			t.Fatalf("invalid chunk %q: %v", data, err)
		}
		for _, c := range chunk.Choices {
			assembled.WriteString(c.Delta.Content)
		}
	}

	if !sawDone {
		t.Error("stream did not terminate with [DONE]")
	}
	if assembled.String() != content {
		t.Errorf("assembled content mismatch:\n got: %s\nwant: %s", assembled.String(), content)
	}
}

func TestSplitRuneChunks(t *testing.T) {
	content := strings.Repeat("测", 40) // 120 bytes of 3-byte runes
	parts := splitRuneChunks(content, streamChunkSize)

	if strings.Join(parts, "") != content {
		t.Fatal("chunks do not reassemble to the original content")
	}
	for i, part := range parts {
		if len(part) > streamChunkSize {
			t.Errorf("chunk %d exceeds %d bytes: %d", i, streamChunkSize, len(part))
		}
		if !utf8.ValidString(part) {
			t.Errorf("chunk %d splits a rune", i)
		}
	}
}

func TestCapturedRequestsIncludeTools(t *testing.T) {
	fixtures := map[string][]string{
		"mock-lisa": {`{"content":"ok"}`},
	}

	s := newServer(fixtures)

	body := strings.NewReader(`{
		"model": "mock-lisa",
		"messages": [{"role": "user", "content": "更新文档"}],
		"tools": [
			{"type": "function", "function": {"name": "update_artifact", "description": "Patch an artifact"}}
		]
	}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	w := httptest.NewRecorder()
	s.handleChatCompletions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}

	reqReq := httptest.NewRequest(http.MethodGet, "/requests?model=mock-lisa", nil)
	reqW := httptest.NewRecorder()
	s.handleRequests(reqW, reqReq)

	var captured struct {
		RequestsByModel map[string][]capturedRequest `json:"requests_by_model"`
	}
	if err := json.NewDecoder(reqW.Body).Decode(&captured); err != nil {
		t.Fatalf("decode requests: %v", err)
	}

	reqs := captured.RequestsByModel["mock-lisa"]
	if len(reqs) != 1 {
		t.Fatalf("expected 1 captured request, got %d", len(reqs))
	}
	if !strings.Contains(string(reqs[0].Tools), "update_artifact") {
		t.Errorf("expected tools in captured request, got %s", reqs[0].Tools)
	}
}

// --- helpers ---

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func doCompletion(t *testing.T, s *server, model string) string {
	t.Helper()
	body := strings.NewReader(`{"model":"` + model + `","messages":[{"role":"user","content":"test"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	w := httptest.NewRecorder()
	s.handleChatCompletions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("model %s: status %d, body: %s", model, w.Code, w.Body.String())
	}

	var resp chatResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if len(resp.Choices) == 0 {
		t.Fatalf("no choices in response")
	}

	return resp.Choices[0].Message.Content
}

func doCompletionFull(t *testing.T, s *server, model, messagesJSON string) chatResponse {
	t.Helper()
	body := strings.NewReader(`{"model":"` + model + `","messages":` + messagesJSON + `}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	w := httptest.NewRecorder()
	s.handleChatCompletions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("model %s: status %d, body: %s", model, w.Code, w.Body.String())
	}

	var resp chatResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if len(resp.Choices) == 0 {
		t.Fatalf("no choices in response")
	}

	return resp
}
