package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func writeCompletion(t *testing.T, w http.ResponseWriter, payload map[string]any) {
	t.Helper()
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func textCompletion(content string) map[string]any {
	return map[string]any{
		"choices": []any{
			map[string]any{
				"finish_reason": "stop",
				"message":       map[string]any{"content": content},
			},
		},
		"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 4},
	}
}

func newTestModel(t *testing.T, url string, opts ...Option) ChatModel {
	t.Helper()
	provider := NewOpenAICompatible(ProviderOpenAI, Config{APIKey: "test", BaseURL: url}, opts...)
	model, err := provider.CreateModel("demo-model")
	if err != nil {
		t.Fatalf("CreateModel returned error: %v", err)
	}
	return model
}

func TestOpenAIGenerateText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test" {
			t.Errorf("unexpected authorization header %q", got)
		}
		var req chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "demo-model" {
			t.Errorf("expected model demo-model, got %q", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "hello" {
			t.Errorf("unexpected messages %+v", req.Messages)
		}
		if req.MaxTokens != 256 {
			t.Errorf("expected max_tokens 256, got %d", req.MaxTokens)
		}
		writeCompletion(t, w, textCompletion("  Hi there  "))
	}))
	defer server.Close()

	model := newTestModel(t, server.URL)
	result, err := model.Generate(context.Background(), GenerateRequest{
		System:    "be brief",
		Messages:  []Message{{Role: RoleUser, Content: "hello"}},
		MaxSteps:  1,
		MaxTokens: 256,
	})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if result.Text != "Hi there" {
		t.Fatalf("expected trimmed text, got %q", result.Text)
	}
	if result.FinishReason != FinishStop {
		t.Fatalf("expected stop, got %q", result.FinishReason)
	}
	if result.Usage.InputTokens != 12 || result.Usage.OutputTokens != 4 {
		t.Fatalf("unexpected usage %+v", result.Usage)
	}
}

func TestOpenAIGenerateToolCallsStopsAtMaxSteps(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Tools) != 1 || req.Tools[0].Function.Name != "lookup" {
			t.Errorf("expected lookup tool, got %+v", req.Tools)
		}
		writeCompletion(t, w, map[string]any{
			"choices": []any{
				map[string]any{
					"finish_reason": "tool_calls",
					"message": map[string]any{
						"content": "",
						"tool_calls": []any{
							map[string]any{
								"id":   "call_1",
								"type": "function",
								"function": map[string]any{
									"name":      "lookup",
									"arguments": `{"term":"go"}`,
								},
							},
						},
					},
				},
			},
		})
	}))
	defer server.Close()

	var gotArgs string
	lookup := Tool{
		Name: "lookup",
		Execute: func(_ context.Context, args json.RawMessage) (string, error) {
			gotArgs = string(args)
			return "a language", nil
		},
	}
	model := newTestModel(t, server.URL)
	result, err := model.Generate(context.Background(), GenerateRequest{
		Messages: []Message{{Role: RoleUser, Content: "what is go"}},
		Tools:    []Tool{lookup},
		MaxSteps: 1,
	})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single request, got %d", calls.Load())
	}
	if result.FinishReason != FinishToolCalls {
		t.Fatalf("expected tool-calls finish, got %q", result.FinishReason)
	}
	if gotArgs != `{"term":"go"}` {
		t.Fatalf("unexpected tool arguments %q", gotArgs)
	}
	if len(result.ToolResults) != 1 || result.ToolResults[0].Content != "a language" {
		t.Fatalf("unexpected tool results %+v", result.ToolResults)
	}
	if len(result.ResponseMessages) != 2 {
		t.Fatalf("expected assistant and tool messages, got %+v", result.ResponseMessages)
	}
	if result.ResponseMessages[0].Role != RoleAssistant || result.ResponseMessages[1].Role != RoleTool {
		t.Fatalf("unexpected response message roles %+v", result.ResponseMessages)
	}
	if result.ResponseMessages[1].ToolCallID != "call_1" {
		t.Fatalf("expected tool message to reference call_1, got %q", result.ResponseMessages[1].ToolCallID)
	}
}

func TestOpenAIFollowUpCarriesToolMessages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 3 {
			t.Errorf("expected 3 messages, got %d", len(req.Messages))
			return
		}
		assistant := req.Messages[1]
		if assistant.Role != "assistant" || len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].ID != "call_1" {
			t.Errorf("unexpected assistant message %+v", assistant)
		}
		tool := req.Messages[2]
		if tool.Role != "tool" || tool.ToolCallID != "call_1" || tool.Content != "42" {
			t.Errorf("unexpected tool message %+v", tool)
		}
		writeCompletion(t, w, textCompletion("The answer is 42."))
	}))
	defer server.Close()

	model := newTestModel(t, server.URL)
	result, err := model.Generate(context.Background(), GenerateRequest{
		Messages: []Message{
			{Role: RoleUser, Content: "question"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_1", Name: "answer", Arguments: json.RawMessage(`{}`)}}},
			{Role: RoleTool, ToolCallID: "call_1", ToolName: "answer", Content: "42"},
		},
		MaxSteps: 1,
	})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if result.Text != "The answer is 42." {
		t.Fatalf("unexpected text %q", result.Text)
	}
}

func TestOpenAIRetriesOnHTTP429(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limited"})
			return
		}
		writeCompletion(t, w, textCompletion("ok"))
	}))
	defer server.Close()

	var slept []time.Duration
	model := newTestModel(t, server.URL,
		WithSleeper(func(d time.Duration) { slept = append(slept, d) }),
		WithRetryBackoff(0, 10*time.Second),
		WithRetryMaxAttempts(5),
	)
	result, err := model.Generate(context.Background(), GenerateRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if result.Text != "ok" {
		t.Fatalf("unexpected text %q", result.Text)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
	if len(slept) != 1 || slept[0] != time.Second {
		t.Fatalf("expected single sleep of 1s, got %v", slept)
	}
}

func TestOpenAIDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
	}))
	defer server.Close()

	model := newTestModel(t, server.URL, WithSleeper(func(time.Duration) {}))
	_, err := model.Generate(context.Background(), GenerateRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected generate to fail")
	}
	if StatusCode(err) != http.StatusUnauthorized {
		t.Fatalf("expected status 401 in error chain, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}

func TestOpenAIRetriesServerErrorsUntilExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	model := newTestModel(t, server.URL,
		WithSleeper(func(time.Duration) {}),
		WithRetryMaxAttempts(3),
	)
	_, err := model.Generate(context.Background(), GenerateRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if err == nil || !strings.Contains(err.Error(), "failed after 3 attempts") {
		t.Fatalf("expected exhaustion error, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestOpenAILegacyTextField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeCompletion(t, w, map[string]any{
			"choices": []any{
				map[string]any{"finish_reason": "stop", "text": "legacy"},
			},
		})
	}))
	defer server.Close()

	result, err := newTestModel(t, server.URL).Generate(context.Background(), GenerateRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if result.Text != "legacy" {
		t.Fatalf("unexpected text %q", result.Text)
	}
}

func TestCreateModelRequiresAPIKey(t *testing.T) {
	if _, err := NewOpenAICompatible(ProviderGroq, Config{}).CreateModel("llama"); err == nil {
		t.Fatal("expected missing api key to fail")
	}
	if _, err := NewOpenAICompatible(ProviderOllama, Config{}).CreateModel("llama3"); err != nil {
		t.Fatalf("ollama should not require an api key: %v", err)
	}
}

func TestChatCompletionsURL(t *testing.T) {
	cases := []struct{ base, want string }{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/chat/completions"},
		{"https://openrouter.ai/api/v1/chat/completions", "https://openrouter.ai/api/v1/chat/completions"},
	}
	for _, tc := range cases {
		base, want := tc.base, tc.want
		got, err := chatCompletionsURL(base)
		if err != nil {
			t.Fatalf("chatCompletionsURL(%q) returned error: %v", base, err)
		}
		if got != want {
			t.Fatalf("chatCompletionsURL(%q) = %q, want %q", base, got, want)
		}
	}
}

func TestParseProvider(t *testing.T) {
	got, err := ParseProvider(" OpenRouter ")
	if err != nil || got != ProviderOpenRouter {
		t.Fatalf("ParseProvider returned %q, %v", got, err)
	}
	if _, err := ParseProvider("nope"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}
