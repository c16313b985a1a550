package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAnthropicChat_WireFormat(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Error("missing anthropic-version header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"content": [{"type":"text","text":"hello"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 3}
		}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("test-key", WithAnthropicBaseURL(srv.URL), WithAnthropicModel("claude-test"))
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "", ToolCalls: []ToolCall{{ID: "tc1", Name: "read_file", Arguments: map[string]any{"path": "a.txt"}}}},
			{Role: "tool", Content: "file contents", ToolCallID: "tc1"},
		},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if resp.Content != "hello" {
		t.Errorf("Content = %q, want hello", resp.Content)
	}
	if resp.FinishReason != "end_turn" {
		t.Errorf("FinishReason = %q", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 13 {
		t.Errorf("TotalTokens = %d, want 13", resp.Usage.TotalTokens)
	}

	// System turns become top-level system blocks, not messages.
	sys, ok := got["system"].([]any)
	if !ok || len(sys) != 1 {
		t.Fatalf("system blocks = %v", got["system"])
	}
	msgs := got["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3 (system excluded)", len(msgs))
	}

	// Assistant tool call becomes a tool_use block.
	asst := msgs[1].(map[string]any)
	if asst["role"] != "assistant" {
		t.Errorf("messages[1].role = %v", asst["role"])
	}
	blocks := asst["content"].([]any)
	tu := blocks[len(blocks)-1].(map[string]any)
	if tu["type"] != "tool_use" || tu["id"] != "tc1" || tu["name"] != "read_file" {
		t.Errorf("tool_use block = %v", tu)
	}

	// Tool result rides in a user-role message with tool_result content.
	toolMsg := msgs[2].(map[string]any)
	if toolMsg["role"] != "user" {
		t.Errorf("tool result role = %v, want user", toolMsg["role"])
	}
	tr := toolMsg["content"].([]any)[0].(map[string]any)
	if tr["type"] != "tool_result" || tr["tool_use_id"] != "tc1" {
		t.Errorf("tool_result block = %v", tr)
	}

	if got["model"] != "claude-test" {
		t.Errorf("model = %v", got["model"])
	}
}

func TestAnthropicChat_ToolUseResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"content": [
				{"type":"text","text":"let me check"},
				{"type":"tool_use","id":"tu_1","name":"web_fetch","input":{"url":"https://example.com"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 5, "output_tokens": 7}
		}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("k", WithAnthropicBaseURL(srv.URL))
	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "fetch"}}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("FinishReason = %q, want tool_calls", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %d, want 1", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "tu_1" || tc.Name != "web_fetch" {
		t.Errorf("tool call = %+v", tc)
	}
	if tc.Arguments["url"] != "https://example.com" {
		t.Errorf("arguments = %v", tc.Arguments)
	}
	if resp.Content != "let me check" {
		t.Errorf("Content = %q", resp.Content)
	}
}

func TestAnthropicChat_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("k", WithAnthropicBaseURL(srv.URL))
	_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	if err == nil {
		t.Fatal("want error on 429")
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("error type = %T, want *HTTPError", err)
	}
	if !httpErr.IsRateLimit() {
		t.Errorf("IsRateLimit() = false, status %d", httpErr.Status)
	}
	if httpErr.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", httpErr.RetryAfter)
	}
}

func TestAnthropicDefaultModel(t *testing.T) {
	p := NewAnthropicProvider("k")
	if p.DefaultModel() != defaultClaudeModel {
		t.Errorf("DefaultModel = %q", p.DefaultModel())
	}
	if p.Name() != "anthropic" {
		t.Errorf("Name = %q", p.Name())
	}
}
