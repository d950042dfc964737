package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
)

func TestOllamaGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if body["model"] != "qwen2.5:7b" {
			t.Errorf("unexpected model %v", body["model"])
		}
		w.Write([]byte(`{"message": {"content": "QUALITY SCORE: 8"}}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider("qwen2.5:7b", srv.URL+"/")
	out, err := p.Generate(context.Background(), "analyze", 100)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "QUALITY SCORE: 8" {
		t.Errorf("unexpected output %q", out)
	}
	if p.Name() != "ollama" {
		t.Errorf("unexpected name %q", p.Name())
	}
}

func TestOllamaIsConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models": [{"name": "qwen2.5:7b"}]}`))
	}))
	defer srv.Close()

	if !NewOllamaProvider("qwen2.5:7b", srv.URL).IsConfigured() {
		t.Error("expected model to be found")
	}
	if NewOllamaProvider("llama3", srv.URL).IsConfigured() {
		t.Error("expected missing model to be reported")
	}
}

func TestOllamaErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewOllamaProvider("m", srv.URL).Generate(context.Background(), "x", 10)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Status != http.StatusInternalServerError || apiErr.Body != "model not loaded" {
		t.Errorf("unexpected error %+v", apiErr)
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("expected status in message, got %q", err.Error())
	}
}

func TestOllamaHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewOllamaProvider("m", srv.URL).Generate(ctx, "x", 10)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestOpenAIGenerate(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-test")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Write([]byte(`{"choices": [{"message": {"content": "ok"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("gpt-4o-mini", "TEST_OPENAI_KEY", srv.URL)
	if !p.IsConfigured() {
		t.Fatal("expected provider to be configured")
	}
	out, err := p.Generate(context.Background(), "prompt", 50)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "ok" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestOpenAIWithoutKey(t *testing.T) {
	p := NewOpenAIProvider("gpt-4o-mini", "REQLENS_TEST_UNSET_KEY", "")
	if p.IsConfigured() {
		t.Error("expected unconfigured provider")
	}
	if _, err := p.Generate(context.Background(), "x", 10); err == nil {
		t.Error("expected error without key")
	}
}

func TestAnthropicGenerate(t *testing.T) {
	t.Setenv("TEST_ANTHROPIC_KEY", "sk-ant-test")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg_test",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [{"type": "text", "text": "QUALITY SCORE: 6"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("claude-test", "TEST_ANTHROPIC_KEY",
		option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	out, err := p.Generate(context.Background(), "prompt", 50)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "QUALITY SCORE: 6" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestCreateProviderNone(t *testing.T) {
	if p := CreateProvider(Options{Provider: "none"}); p != nil {
		t.Errorf("expected nil provider, got %s", p.Name())
	}
}

func TestCreateProviderAnthropic(t *testing.T) {
	t.Setenv("TEST_ANTHROPIC_KEY", "sk-ant-test")
	p := CreateProvider(Options{Provider: "anthropic", AnthropicKeyEnv: "TEST_ANTHROPIC_KEY"})
	if p == nil || p.Name() != "anthropic" {
		t.Fatalf("expected anthropic provider, got %v", p)
	}
}
