package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		provider string
		baseURL  string
		wantType string
	}{
		{"ollama", "", "*llm.ollamaProvider"},
		{"openai", "", "*llm.openAICompatProvider"},
		{"custom", "http://localhost:8080", "*llm.openAICompatProvider"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := NewProvider(Config{Provider: tt.provider, Model: "test-model", BaseURL: tt.baseURL})
			if err != nil {
				t.Fatalf("NewProvider(%q) returned error: %v", tt.provider, err)
			}
			if got := fmt.Sprintf("%T", p); got != tt.wantType {
				t.Errorf("NewProvider(%q) type = %s, want %s", tt.provider, got, tt.wantType)
			}
		})
	}
}

func TestNewProviderErrors(t *testing.T) {
	tests := []struct {
		cfg  Config
		want string
	}{
		{Config{Provider: "doesnotexist"}, "unknown llm provider: doesnotexist"},
		{Config{Provider: ""}, "llm provider not specified"},
		{Config{Provider: "custom"}, "custom llm provider requires base_url"},
	}
	for _, tt := range tests {
		_, err := NewProvider(tt.cfg)
		if err == nil {
			t.Fatalf("expected error for %+v", tt.cfg)
		}
		if err.Error() != tt.want {
			t.Errorf("error = %q, want %q", err.Error(), tt.want)
		}
	}
}

func TestDefaults(t *testing.T) {
	o := NewOllama(Config{}).(*ollamaProvider)
	if o.base.cfg.BaseURL != "http://localhost:11434" {
		t.Errorf("ollama base URL = %q", o.base.cfg.BaseURL)
	}
	oa := NewOpenAI(Config{}).(*openAICompatProvider)
	if oa.base.cfg.BaseURL != "https://api.openai.com" || oa.base.cfg.Model != "text-embedding-3-small" {
		t.Errorf("openai defaults = %+v", oa.base.cfg)
	}
	if oa.base.client.Timeout != 120*time.Second {
		t.Errorf("timeout = %v", oa.base.client.Timeout)
	}
	if oa.base.limiter != nil {
		t.Error("limiter should be disabled without requests_per_second")
	}
	limited := NewOpenAI(Config{RequestsPerSecond: 0.5}).(*openAICompatProvider)
	if limited.base.limiter == nil || limited.base.limiter.Burst() != 1 {
		t.Error("expected limiter with burst 1")
	}
}

// fastClient returns a client against url whose retries do not sleep long.
func fastClient(url string) *openAICompatClient {
	c := newOpenAICompatClient(Config{BaseURL: url, Model: "m", APIKey: "secret"})
	c.retry = retryPolicy{maxRetries: 3, baseDelay: time.Millisecond, minRateLimitDelay: time.Millisecond}
	return c
}

func TestChatJSONMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("authorization = %q", got)
		}
		var body chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if body.ResponseFormat == nil || body.ResponseFormat.Type != "json_object" {
			t.Errorf("response_format = %+v", body.ResponseFormat)
		}
		if body.Model != "m" || len(body.Messages) != 2 {
			t.Errorf("body = %+v", body)
		}
		fmt.Fprint(w, `{"model":"m","choices":[{"message":{"content":"{\"selected_index\":1}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`)
	}))
	defer srv.Close()

	resp, err := fastClient(srv.URL).chat(context.Background(), ChatRequest{
		Messages:       []Message{System("s"), User("u")},
		ResponseFormat: "json_object",
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != `{"selected_index":1}` || resp.TotalTokens != 5 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestEmbedOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`)
	}))
	defer srv.Close()

	got, err := fastClient(srv.URL).embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if got[0][0] != 1 || got[1][1] != 1 {
		t.Errorf("embeddings out of order: %v", got)
	}

	short := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"index":0,"embedding":[1,0]}]}`)
	}))
	defer short.Close()
	if _, err := fastClient(short.URL).embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Error("expected error for missing embedding")
	}
}

func TestOllamaEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"embeddings":[[0.5,0.25]]}`)
	}))
	defer srv.Close()

	p := NewOllama(Config{BaseURL: srv.URL, Model: "nomic-embed-text"})
	got, err := p.Embed(context.Background(), []string{"x"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(got) != 1 || got[0][0] != 0.5 || got[0][1] != 0.25 {
		t.Errorf("got %v", got)
	}
}

func TestRetryOnUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	resp, err := fastClient(srv.URL).chat(context.Background(), ChatRequest{Messages: []Message{User("hi")}})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "ok" || calls.Load() != 3 {
		t.Errorf("content=%q calls=%d", resp.Content, calls.Load())
	}
}

func TestNoRetryOnBadRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "1")
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := fastClient(srv.URL).chat(context.Background(), ChatRequest{Messages: []Message{User("hi")}})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected APIError 400, got %v", err)
	}
	if apiErr.RetryAfter != time.Second {
		t.Errorf("retry-after = %v", apiErr.RetryAfter)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestRetryGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := fastClient(srv.URL).chat(context.Background(), ChatRequest{Messages: []Message{User("hi")}})
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected wrapped 429, got %v", err)
	}
}
