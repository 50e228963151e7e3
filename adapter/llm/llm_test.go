package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/patienthub/patienthub-go/agent"
)

// TestCallOptions tests the functional options pattern.
func TestCallOptions(t *testing.T) {
	tests := []struct {
		name     string
		opts     []CallOption
		validate func(*testing.T, *CallOptions)
	}{
		{
			name: "WithTemperature",
			opts: []CallOption{WithTemperature(0.7)},
			validate: func(t *testing.T, opts *CallOptions) {
				if opts.Temperature == nil || *opts.Temperature != 0.7 {
					t.Errorf("Expected temperature 0.7, got %v", opts.Temperature)
				}
			},
		},
		{
			name: "WithMaxTokens",
			opts: []CallOption{WithMaxTokens(1024)},
			validate: func(t *testing.T, opts *CallOptions) {
				if opts.MaxTokens == nil || *opts.MaxTokens != 1024 {
					t.Errorf("Expected max_tokens 1024, got %v", opts.MaxTokens)
				}
			},
		},
		{
			name: "WithJSONMode",
			opts: []CallOption{WithJSONMode()},
			validate: func(t *testing.T, opts *CallOptions) {
				if !opts.JSONMode {
					t.Error("JSONMode should be set")
				}
			},
		},
		{
			name: "Defaults are overridden by caller",
			opts: Defaults([]CallOption{WithTemperature(0.2), WithMaxTokens(10)}, WithTemperature(0.9)),
			validate: func(t *testing.T, opts *CallOptions) {
				if *opts.Temperature != 0.9 {
					t.Errorf("Expected caller temperature 0.9, got %f", *opts.Temperature)
				}
				if *opts.MaxTokens != 10 {
					t.Errorf("Expected default max tokens 10, got %d", *opts.MaxTokens)
				}
			},
		},
		{
			name: "WithExtra",
			opts: []CallOption{WithExtra("stop", []string{"END"})},
			validate: func(t *testing.T, opts *CallOptions) {
				if opts.Extra["stop"] == nil {
					t.Error("Extra 'stop' not set")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.validate(t, BuildCallOptions(tt.opts...))
		})
	}
}

func TestParseJSON(t *testing.T) {
	type payload struct {
		Questions []string `json:"questions"`
	}

	tests := []struct {
		name    string
		raw     string
		want    int
		wantErr bool
	}{
		{name: "plain object", raw: `{"questions": ["a", "b"]}`, want: 2},
		{name: "fenced", raw: "```json\n{\"questions\": [\"a\"]}\n```", want: 1},
		{name: "surrounded by prose", raw: "Sure! Here you go:\n{\"questions\": [\"a\", \"b\", \"c\"]}\nHope this helps.", want: 3},
		{name: "no object", raw: "I cannot answer that.", wantErr: true},
		{name: "broken object", raw: `{"questions": [}`, wantErr: true},
		{name: "empty", raw: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p payload
			err := ParseJSON(tt.raw, &p)
			if tt.wantErr {
				if !errors.Is(err, ErrNoJSON) {
					t.Fatalf("expected ErrNoJSON, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(p.Questions) != tt.want {
				t.Errorf("expected %d questions, got %d", tt.want, len(p.Questions))
			}
		})
	}
}

func TestCompleteJSON(t *testing.T) {
	ctx := context.Background()
	mock := NewMockLLM(`{"content": "hello"}`, "not json")

	var out struct {
		Content string `json:"content"`
	}
	if _, err := CompleteJSON(ctx, mock, []*agent.Message{agent.NewMessage("user", "hi")}, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Content != "hello" {
		t.Errorf("expected hello, got %q", out.Content)
	}
	if !mock.CallOptions()[0].JSONMode {
		t.Error("CompleteJSON should request JSON mode")
	}

	resp, err := CompleteJSON(ctx, mock, nil, &out)
	if !errors.Is(err, ErrNoJSON) {
		t.Fatalf("expected ErrNoJSON, got %v", err)
	}
	if resp == nil || resp.Content != "not json" {
		t.Error("raw response should be returned on parse failure")
	}
}

func TestMockLLM(t *testing.T) {
	ctx := context.Background()
	mock := NewMockLLM("one", "two")

	for _, want := range []string{"one", "two"} {
		resp, err := mock.Complete(ctx, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.Content != want {
			t.Errorf("expected %q, got %q", want, resp.Content)
		}
	}
	if _, err := mock.Complete(ctx, nil); !errors.Is(err, ErrMockExhausted) {
		t.Errorf("expected ErrMockExhausted, got %v", err)
	}

	mock.WithFallback("again")
	resp, err := mock.Complete(ctx, nil)
	if err != nil || resp.Content != "again" {
		t.Errorf("expected fallback reply, got %v / %v", resp, err)
	}
	if len(mock.Calls()) != 4 {
		t.Errorf("expected 4 recorded calls, got %d", len(mock.Calls()))
	}
}

func TestUsageFrom(t *testing.T) {
	resp, _ := NewMockLLM("x").Complete(context.Background(), []*agent.Message{agent.NewMessage("user", "hi")})
	u, ok := UsageFrom(resp)
	if !ok {
		t.Fatal("mock responses should carry usage")
	}
	if u.TotalTokens != 2 {
		t.Errorf("expected 2 total tokens, got %d", u.TotalTokens)
	}
	if _, ok := UsageFrom(agent.NewMessage("user", "no usage")); ok {
		t.Error("message without usage should report false")
	}
}

func TestAnthropicComplete(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "key" {
			t.Error("api key header not set")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"id":"m1","model":"claude","stop_reason":"end_turn",
			"content":[{"type":"text","text":"I feel tired."}],
			"usage":{"input_tokens":12,"output_tokens":4}}`))
	}))
	defer srv.Close()

	model := NewAnthropicLLM("key", "claude", srv.URL)
	resp, err := model.Complete(context.Background(), []*agent.Message{
		agent.NewMessage("system", "You are a client."),
		agent.NewMessage("user", "How are you?"),
	}, WithJSONMode())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "I feel tired." {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if got.System == "" || len(got.Messages) != 1 || got.Messages[0].Role != "user" {
		t.Errorf("system prompt should be split out, got %+v", got)
	}
	u, _ := UsageFrom(resp)
	if u.TotalTokens != 16 {
		t.Errorf("expected 16 tokens, got %d", u.TotalTokens)
	}
}

func TestAnthropicSystemOnlyPrompt(t *testing.T) {
	a := NewAnthropicLLM("k", "", "")
	msgs, system := a.convertMessages([]*agent.Message{agent.NewMessage("system", "Rate this.")})
	if system != "" || len(msgs) != 1 || msgs[0].Role != "user" {
		t.Errorf("system-only prompt should become a user turn, got %+v / %q", msgs, system)
	}
}

func TestOllamaComplete(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"model":"llama3.1","message":{"role":"assistant","content":"{\"a\":1}"},
			"done":true,"prompt_eval_count":5,"eval_count":3}`))
	}))
	defer srv.Close()

	model := NewOllamaLLM("llama3.1", srv.URL)
	resp, err := model.Complete(context.Background(), []*agent.Message{agent.NewMessage("therapist", "hi")},
		WithJSONMode(), WithTemperature(0.1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Format != "json" {
		t.Error("json mode should set format")
	}
	if got.Messages[0].Role != "assistant" {
		t.Errorf("therapist role should map to assistant, got %s", got.Messages[0].Role)
	}
	if resp.Content != `{"a":1}` {
		t.Errorf("unexpected content %q", resp.Content)
	}
}

func TestOllamaErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaLLM("missing", srv.URL).Complete(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestOpenAICompatibleEndpoint(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","model":"lab-model","choices":[{"index":0,
			"message":{"role":"assistant","content":"Okay."},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":7,"completion_tokens":2,"total_tokens":9}}`))
	}))
	defer srv.Close()

	model := NewOpenAILLM(OpenAIConfig{APIKey: "k", Model: "lab-model", BaseURL: srv.URL + "/v1"})
	resp, err := model.Complete(context.Background(), []*agent.Message{agent.NewMessage("user", "hi")}, WithJSONMode())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "Okay." {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if _, ok := body["response_format"]; !ok {
		t.Error("json mode should set response_format")
	}
	if u, _ := UsageFrom(resp); u.TotalTokens != 9 {
		t.Errorf("expected 9 tokens, got %d", u.TotalTokens)
	}
}

func TestNewProviders(t *testing.T) {
	ctx := context.Background()
	temp := 0.3

	m, err := New(ctx, Config{Provider: ProviderMock, Temperature: &temp})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Model() != "mock" {
		t.Errorf("expected mock model, got %s", m.Model())
	}

	if _, err := New(ctx, Config{Provider: "carrier-pigeon"}); err == nil {
		t.Error("expected error for unknown provider")
	}
	if _, err := New(ctx, Config{Provider: ProviderGemini}); err == nil {
		t.Error("gemini without api key should fail")
	}
}

// TestLLMInterface verifies that concrete implementations satisfy the interface.
func TestLLMInterface(t *testing.T) {
	var _ LLM = &MockLLM{}
	var _ LLM = &OpenAILLM{}
	var _ LLM = &AnthropicLLM{}
	var _ LLM = &GeminiLLM{}
	var _ LLM = &BedrockLLM{}
	var _ LLM = &OllamaLLM{}
}
