package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lazypower/linkboard/internal/config"
	"github.com/lazypower/linkboard/internal/graph"
)

func TestNewClientClaudeCLI(t *testing.T) {
	cfg := config.LLMConfig{Provider: "claude-cli", Model: "haiku"}
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, ok := client.(*ClaudeCLI); !ok {
		t.Errorf("expected *ClaudeCLI, got %T", client)
	}
}

func TestNewClientAnthropic(t *testing.T) {
	cfg := config.LLMConfig{Provider: "anthropic", AnthropicKey: "test-key", Model: "claude-haiku-4-5-20251001"}
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, ok := client.(*Anthropic); !ok {
		t.Errorf("expected *Anthropic, got %T", client)
	}
}

func TestNewClientAnthropicMissingKey(t *testing.T) {
	cfg := config.LLMConfig{Provider: "anthropic"}
	_, err := NewClient(cfg)
	if err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestNewClientOpenAI(t *testing.T) {
	client, err := NewClient(config.LLMConfig{Provider: "openai", OpenAIKey: "sk-test"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	oa, ok := client.(*OpenAI)
	if !ok {
		t.Fatalf("expected *OpenAI, got %T", client)
	}
	if oa.model != "gpt-4o-mini" {
		t.Errorf("model = %q, want gpt-4o-mini", oa.model)
	}

	if _, err := NewClient(config.LLMConfig{Provider: "openai"}); err == nil {
		t.Error("expected error without key or url")
	}
}

func TestNewClientOllama(t *testing.T) {
	cfg := config.LLMConfig{Provider: "ollama", OllamaModel: "llama3.2"}
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, ok := client.(*Ollama); !ok {
		t.Errorf("expected *Ollama, got %T", client)
	}
}

func TestNewClientUnknown(t *testing.T) {
	cfg := config.LLMConfig{Provider: "gpt"}
	_, err := NewClient(cfg)
	if err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestFilterEnv(t *testing.T) {
	env := []string{
		"HOME=/home/user",
		"CLAUDE_SESSION_ID=abc123",
		"CLAUDE_TRANSCRIPT=/tmp/t.jsonl",
		"PATH=/usr/bin",
	}
	filtered := filterEnv(env)
	if len(filtered) != 2 {
		t.Errorf("expected 2 vars, got %d: %v", len(filtered), filtered)
	}
	for _, e := range filtered {
		if strings.HasPrefix(e, "CLAUDE_") {
			t.Errorf("CLAUDE_ var not filtered: %s", e)
		}
	}
}

func TestOpenAIComplete(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model string `json:"model"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"connections\":[]}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}}`))
	}))
	defer srv.Close()

	client := NewOpenAI("", srv.URL, "local-model")
	resp, err := client.Complete(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"connections":[]}` {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.TokensUsed != 8 || resp.Provider != "openai" {
		t.Errorf("resp = %+v", resp)
	}
	if gotModel != "local-model" {
		t.Errorf("model sent = %q", gotModel)
	}
}

func TestOpenAICompleteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAI("k", srv.URL, "m").Complete(context.Background(), "hi")
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("err = %v, want status 401", err)
	}
}

func TestOllamaComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"response":"{\"connections\":[]}"}`))
	}))
	defer srv.Close()

	resp, err := NewOllama(srv.URL, "llama3.2").Complete(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"connections":[]}` {
		t.Errorf("content = %q", resp.Content)
	}
}

func TestAnalysisPromptIncludesItemsAndLayer(t *testing.T) {
	items := []AnalysisItem{
		{ID: "item-1", Kind: "text", Payload: map[string]string{"text": "rivers erode rock"}},
		{ID: "item-2", Kind: "link", Payload: map[string]string{"url": "https://example.com/canyons"}},
	}
	p := AnalysisPrompt(items, graph.LayerStandard, nil)
	for _, want := range []string{"LAYER: standard", `"id": "item-1"`, "rivers erode rock", `{"connections": []}`} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(p, "ALREADY FOUND") {
		t.Error("standard layer should not carry prior connections")
	}
}

func TestAnalysisPromptPriorOnlyForDeeper(t *testing.T) {
	items := []AnalysisItem{{ID: "item-1", Kind: "text"}, {ID: "item-2", Kind: "text"}}
	prior := []graph.Connection{{From: "item-1", To: "item-2", Label: "erodes", Layer: graph.LayerStandard}}

	deeper := AnalysisPrompt(items, graph.LayerDeeper, prior)
	if !strings.Contains(deeper, "CONNECTIONS ALREADY FOUND") || !strings.Contains(deeper, "erodes") {
		t.Error("deeper prompt should list prior connections")
	}

	tensions := AnalysisPrompt(items, graph.LayerTensions, prior)
	if strings.Contains(tensions, "erodes") {
		t.Error("tensions prompt should not list prior connections")
	}
}

func TestMockClient(t *testing.T) {
	mock := &MockClient{
		Response: &Response{Content: "test response", Provider: "mock"},
	}

	resp, err := mock.Complete(context.Background(), "test prompt")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "test response" {
		t.Errorf("content = %q, want %q", resp.Content, "test response")
	}
	calls := mock.Calls()
	if len(calls) != 1 || calls[0] != "test prompt" {
		t.Errorf("calls = %v", calls)
	}

	mock.Err = errors.New("down")
	if _, err := mock.Complete(context.Background(), "again"); err == nil {
		t.Error("expected error")
	}
}

func TestAnthropicComplete(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "k" {
			t.Errorf("api key header = %q", r.Header.Get("x-api-key"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"content":[{"type":"text","text":"{\"connections\":"},{"type":"text","text":"[]}"}],"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":4}}`))
	}))
	defer srv.Close()

	a := NewAnthropic("k", "claude-haiku-4-5-20251001")
	a.endpoint = srv.URL
	resp, err := a.Complete(context.Background(), "find links")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"connections":[]}` {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.TokensUsed != 14 {
		t.Errorf("tokens = %d, want 14", resp.TokensUsed)
	}
	if got.System != systemPrompt || len(got.Messages) != 1 || got.Messages[0].Content != "find links" {
		t.Errorf("request = %+v", got)
	}
}

func TestAnthropicErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"api error", http.StatusTooManyRequests, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`, "rate_limit_error: slow down"},
		{"plain body", http.StatusBadGateway, `upstream`, "status 502: upstream"},
		{"truncated", http.StatusOK, `{"content":[{"type":"text","text":"{\"conn"}],"stop_reason":"max_tokens"}`, "truncated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			a := NewAnthropic("k", "m")
			a.endpoint = srv.URL
			_, err := a.Complete(context.Background(), "hi")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestOllamaJSONModeAndErrors(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		if got.Model == "missing" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"model 'missing' not found"}`))
			return
		}
		w.Write([]byte(`{"response":"{}","prompt_eval_count":7,"eval_count":2}`))
	}))
	defer srv.Close()

	resp, err := NewOllama(srv.URL+"/", "llama3.2").Complete(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got.Format != "json" || got.Stream || got.System == "" {
		t.Errorf("request = %+v", got)
	}
	if resp.TokensUsed != 9 {
		t.Errorf("tokens = %d, want 9", resp.TokensUsed)
	}

	_, err = NewOllama(srv.URL, "missing").Complete(context.Background(), "hi")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v, want model not found", err)
	}
}

func TestClaudeCLIComplete(t *testing.T) {
	script := filepath.Join(t.TempDir(), "claude")
	// echo the prompt back, and fail when asked to
	body := "#!/bin/sh\nread line\nif [ \"$line\" = fail ]; then echo boom >&2; exit 3; fi\necho \"$line\"\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}

	c := NewClaudeCLI("haiku")
	c.bin = script
	resp, err := c.Complete(context.Background(), "{\"connections\":[]}\n")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"connections":[]}` || resp.Provider != "claude-cli" {
		t.Errorf("resp = %+v", resp)
	}

	_, err = c.Complete(context.Background(), "fail\n")
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("err = %v, want stderr in error", err)
	}
}
